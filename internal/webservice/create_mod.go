package webservice

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"strings"

	"github.com/pavelanni/suppcompanion/internal/filestore"
	"github.com/pavelanni/suppcompanion/internal/model"
	"github.com/pavelanni/suppcompanion/internal/store"
	"github.com/pavelanni/suppcompanion/internal/wserr"
)

var (
	standardModTypes = []string{"quiz", "label", "book"}
	fileModTypes     = []string{"resource"}
	questionTypes    = []string{"multichoice"}
)

// Placeholder access password given to every new quiz.
const quizPassword = "oer"

// Canned combined feedback for multiple choice questions.
const (
	feedbackCorrect          = "Well done!"
	feedbackPartiallyCorrect = "Only parts of your response are correct."
	feedbackIncorrect        = "That is not right at all."
)

const (
	statusSuccess = "success"
	statusError   = "error"
)

type sectionInput struct {
	Number  string  `mapstructure:"number"`
	Name    *string `mapstructure:"name"`
	Summary *string `mapstructure:"summary"`
}

type moduleInput struct {
	Mod     string       `mapstructure:"mod"`
	Title   string       `mapstructure:"title"`
	URL     *string      `mapstructure:"url"`
	Text    string       `mapstructure:"text"`
	Section sectionInput `mapstructure:"section"`

	sectionNum int
}

type answerInput struct {
	Text     string  `mapstructure:"text"`
	Fraction float64 `mapstructure:"fraction"`
	Feedback string  `mapstructure:"feedback"`
}

type questionInput struct {
	QuizID          int64         `mapstructure:"quizid"`
	Category        *string       `mapstructure:"category"`
	Type            string        `mapstructure:"type"`
	Name            string        `mapstructure:"name"`
	QuestionText    string        `mapstructure:"questiontext"`
	GeneralFeedback *string       `mapstructure:"generalfeedback"`
	DefaultMark     *float64      `mapstructure:"defaultmark"`
	Penalty         *float64      `mapstructure:"penalty"`
	Single          bool          `mapstructure:"single"`
	ShuffleAnswers  bool          `mapstructure:"shuffleanswers"`
	AnswerNumbering string        `mapstructure:"answernumbering"`
	Answers         []answerInput `mapstructure:"answers"`
}

type createModInput struct {
	UserID    int64           `mapstructure:"userid"`
	CourseID  int64           `mapstructure:"courseid"`
	Modules   []moduleInput   `mapstructure:"moduleinfo"`
	Questions []questionInput `mapstructure:"questioninfos"`
}

// createMod adds every module and question of the request inside one
// transaction. Types and capabilities are checked for all items before
// anything is created, so a rejected item leaves the course untouched.
func (s *Service) createMod(ctx context.Context, params map[string]any) (any, error) {
	var in createModInput
	if err := decode(params, &in); err != nil {
		return nil, err
	}
	ref := model.CourseContext(in.CourseID)

	if err := s.RequireContext(ctx, ref); err != nil {
		if wserr.IsKind(err, wserr.KindContext) {
			return map[string]any{"status": statusError, "message": wserr.CodeCourseContextNotValid}, nil
		}
		return nil, err
	}

	if msg, err := s.vetItems(in.Modules, in.Questions); err != nil {
		return nil, err
	} else if msg != "" {
		return map[string]any{"status": statusError, "message": msg}, nil
	}

	for _, m := range in.Modules {
		if err := s.RequireCapability(ctx, in.UserID, model.AddInstanceCapability(m.Mod), ref); err != nil {
			return nil, err
		}
	}
	if len(in.Questions) > 0 {
		if err := s.RequireCapability(ctx, in.UserID, model.CapCourseManageActivities, ref); err != nil {
			return nil, err
		}
	}

	course, err := s.store.GetCourse(ctx, in.CourseID)
	if err != nil {
		return nil, dbError(err)
	}
	if course == nil {
		return map[string]any{"status": statusError, "message": wserr.CodeCourseContextNotValid}, nil
	}

	addedMods := []any{}
	addedQuestions := []any{}
	err = s.store.InTx(ctx, func(ctx context.Context) error {
		for _, m := range in.Modules {
			var added map[string]any
			err := s.store.InTx(ctx, func(ctx context.Context) error {
				var err error
				if slices.Contains(fileModTypes, m.Mod) {
					added, err = s.addResource(ctx, course, in.UserID, m)
				} else {
					added, err = s.addStandardModule(ctx, course, m)
				}
				return err
			})
			if err != nil {
				return err
			}
			addedMods = append(addedMods, added)
		}

		// Keyed by requested category name; "" is the course default.
		cats := map[string]*model.QuestionCategory{}
		for _, q := range in.Questions {
			var added map[string]any
			err := s.store.InTx(ctx, func(ctx context.Context) error {
				var key string
				if q.Category != nil {
					key = *q.Category
				}
				var err error
				cat, ok := cats[key]
				if !ok {
					if cat, err = s.questionCategory(ctx, course, q.Category); err != nil {
						return err
					}
					cats[key] = cat
				}
				added, err = s.addQuestion(ctx, course, cat, in.UserID, q)
				return err
			})
			if err != nil {
				return err
			}
			addedQuestions = append(addedQuestions, added)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return map[string]any{
		"status":         statusSuccess,
		"addedMods":      addedMods,
		"addedQuestions": addedQuestions,
	}, nil
}

// vetItems checks item types and shapes before any mutation. A disallowed
// type yields a non-empty status message; malformed values yield an error.
func (s *Service) vetItems(modules []moduleInput, questions []questionInput) (string, error) {
	for i := range modules {
		m := &modules[i]
		if !slices.Contains(standardModTypes, m.Mod) && !slices.Contains(fileModTypes, m.Mod) {
			slog.Info("rejecting module type", "mod", m.Mod)
			return wserr.CodeContentNotAllowed, nil
		}
		n, err := strconv.Atoi(m.Section.Number)
		if err != nil || n < 0 {
			return "", wserr.InvalidParam(fmt.Sprintf("moduleinfo[%d].section.number", i))
		}
		m.sectionNum = n
		if slices.Contains(fileModTypes, m.Mod) && (m.URL == nil || *m.URL == "") {
			return "", wserr.InvalidParam(fmt.Sprintf("moduleinfo[%d].url", i))
		}
	}
	for i, q := range questions {
		if !slices.Contains(questionTypes, q.Type) {
			slog.Info("rejecting question type", "type", q.Type)
			return wserr.CodeContentNotAllowed, nil
		}
		for j, a := range q.Answers {
			if a.Fraction < 0 || a.Fraction > 1 {
				return "", wserr.InvalidParam(fmt.Sprintf("questioninfos[%d].answers[%d].fraction", i, j))
			}
		}
	}
	return "", nil
}

func (s *Service) ensureSection(ctx context.Context, courseID int64, num int) (*model.Section, error) {
	sec, err := s.store.GetSection(ctx, courseID, num)
	if err != nil {
		return nil, dbError(err)
	}
	if sec != nil {
		return sec, nil
	}
	if err := s.store.CreateSectionsIfMissing(ctx, courseID, num); err != nil {
		return nil, dbError(err)
	}
	sec, err = s.store.GetSection(ctx, courseID, num)
	if err != nil {
		return nil, dbError(err)
	}
	if sec == nil {
		return nil, wserr.Host(wserr.CodeDatabaseError, fmt.Errorf("section %d of course %d was not created", num, courseID))
	}
	return sec, nil
}

func (s *Service) addStandardModule(ctx context.Context, course *model.Course, in moduleInput) (map[string]any, error) {
	sec, err := s.ensureSection(ctx, course.ID, in.sectionNum)
	if err != nil {
		return nil, err
	}

	m := &model.Module{
		CourseID:    course.ID,
		SectionNum:  in.sectionNum,
		ModName:     in.Mod,
		Intro:       in.Text,
		IntroFormat: model.FormatHTML,
		Visible:     true,
	}
	if in.Mod == "quiz" {
		m.Password = quizPassword
	}
	if _, err := s.store.CreateModule(ctx, m); err != nil {
		return nil, dbError(err)
	}

	sec.SummaryFormat = model.FormatHTML
	sec.Visible = true
	if in.Section.Name != nil {
		sec.Name = *in.Section.Name
	}
	if in.Section.Summary != nil {
		sec.Summary = *in.Section.Summary
	}
	if err := s.store.UpdateSection(ctx, *sec); err != nil {
		return nil, dbError(err)
	}

	return map[string]any{"moduleid": m.ID, "modulename": m.Name}, nil
}

func (s *Service) addResource(ctx context.Context, course *model.Course, userID int64, in moduleInput) (map[string]any, error) {
	if _, err := s.ensureSection(ctx, course.ID, in.sectionNum); err != nil {
		return nil, err
	}

	draft, err := s.files.StageFromURL(ctx, userID, *in.URL, s.maxBytes(course))
	if err != nil {
		return nil, err
	}
	m := &model.Module{
		CourseID:    course.ID,
		SectionNum:  in.sectionNum,
		ModName:     in.Mod,
		Intro:       in.Text,
		IntroFormat: model.FormatHTML,
		Visible:     true,
	}
	if _, err := s.store.CreateModule(ctx, m); err != nil {
		s.discard(ctx, draft)
		return nil, dbError(err)
	}
	if err := s.files.AttachToModule(ctx, draft, m.ID, in.Title); err != nil {
		s.discard(ctx, draft)
		return nil, err
	}
	name := m.Name
	if in.Title != "" {
		name = in.Title
	}
	return map[string]any{"moduleid": m.ID, "modulename": name}, nil
}

// discard drops a draft that never reached its module.
func (s *Service) discard(ctx context.Context, d *filestore.Draft) {
	if err := s.files.Discard(ctx, d); err != nil {
		slog.Warn("failed to discard draft", "item", d.ItemID, "error", err)
	}
}

// maxBytes is the smaller positive limit of the course and the site.
func (s *Service) maxBytes(course *model.Course) int64 {
	limit := course.MaxBytes
	if site := s.site.MaxBytes; site > 0 && (limit <= 0 || site < limit) {
		limit = site
	}
	return limit
}

// questionCategory resolves the named category of the course, or its
// default category, creating either when missing.
func (s *Service) questionCategory(ctx context.Context, course *model.Course, name *string) (*model.QuestionCategory, error) {
	ref := model.CourseContext(course.ID)
	if name != nil && *name != "" {
		qc, err := s.store.QuestionCategoryByName(ctx, ref, *name)
		if err != nil {
			return nil, dbError(err)
		}
		if qc != nil {
			return qc, nil
		}
		qc = &model.QuestionCategory{Name: *name, Context: ref}
		if qc.ID, err = s.store.CreateQuestionCategory(ctx, *qc); err != nil {
			return nil, dbError(err)
		}
		return qc, nil
	}

	qc, err := s.store.DefaultQuestionCategory(ctx, ref)
	if err != nil {
		return nil, dbError(err)
	}
	if qc != nil {
		return qc, nil
	}
	prefix, err := s.store.GetConfig(ctx, store.ConfigDefaultQuestionPrefix)
	if err != nil {
		return nil, dbError(err)
	}
	if prefix == "" {
		prefix = "Default for"
	}
	qc = &model.QuestionCategory{
		Name:      strings.TrimSpace(prefix + " " + course.ShortName),
		Context:   ref,
		IsDefault: true,
	}
	if qc.ID, err = s.store.CreateQuestionCategory(ctx, *qc); err != nil {
		return nil, dbError(err)
	}
	return qc, nil
}

func (s *Service) addQuestion(ctx context.Context, course *model.Course, cat *model.QuestionCategory, userID int64, in questionInput) (map[string]any, error) {
	q := &model.Question{
		CategoryID:               cat.ID,
		QType:                    in.Type,
		Name:                     in.Name,
		QuestionText:             in.QuestionText,
		QuestionTextFormat:       model.FormatHTML,
		DefaultMark:              1,
		Penalty:                  0.3333333,
		Single:                   in.Single,
		ShuffleAnswers:           in.ShuffleAnswers,
		AnswerNumbering:          in.AnswerNumbering,
		CorrectFeedback:          feedbackCorrect,
		PartiallyCorrectFeedback: feedbackPartiallyCorrect,
		IncorrectFeedback:        feedbackIncorrect,
		ShowNumCorrect:           true,
		CreatedBy:                userID,
	}
	if in.GeneralFeedback != nil {
		q.GeneralFeedback = *in.GeneralFeedback
	}
	if in.DefaultMark != nil {
		q.DefaultMark = *in.DefaultMark
	}
	if in.Penalty != nil {
		q.Penalty = *in.Penalty
	}
	if q.AnswerNumbering == "" {
		q.AnswerNumbering = "abc"
	}
	for _, a := range in.Answers {
		q.Answers = append(q.Answers, model.Answer{Text: a.Text, Fraction: a.Fraction, Feedback: a.Feedback})
	}
	if _, err := s.store.CreateQuestion(ctx, q); err != nil {
		return nil, dbError(err)
	}

	if in.QuizID != 0 {
		quiz, err := s.store.GetModule(ctx, in.QuizID)
		if err != nil {
			return nil, dbError(err)
		}
		if quiz != nil && quiz.CourseID == course.ID && quiz.ModName == "quiz" {
			if _, err := s.store.AddQuizSlot(ctx, quiz.ID, q.ID, q.DefaultMark); err != nil {
				return nil, dbError(err)
			}
		} else {
			slog.Debug("question not added to quiz", "quizid", in.QuizID, "course", course.ID)
		}
	}

	return map[string]any{"questionid": q.ID, "questionname": q.Name}, nil
}
