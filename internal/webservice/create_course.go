package webservice

import (
	"context"
	"log/slog"
	"strconv"
	"strings"

	"github.com/pavelanni/suppcompanion/internal/model"
	"github.com/pavelanni/suppcompanion/internal/wserr"
)

type nameValue struct {
	Name  string `mapstructure:"name"`
	Value string `mapstructure:"value"`
}

type customFieldValue struct {
	ShortName string `mapstructure:"shortname"`
	Value     string `mapstructure:"value"`
}

type courseInput struct {
	FullName          string             `mapstructure:"fullname"`
	ShortName         string             `mapstructure:"shortname"`
	CategoryID        int64              `mapstructure:"categoryid"`
	IDNumber          *string            `mapstructure:"idnumber"`
	Summary           *string            `mapstructure:"summary"`
	SummaryFormat     int64              `mapstructure:"summaryformat"`
	Format            string             `mapstructure:"format"`
	ShowGrades        int64              `mapstructure:"showgrades"`
	NewsItems         int64              `mapstructure:"newsitems"`
	StartDate         *int64             `mapstructure:"startdate"`
	EndDate           *int64             `mapstructure:"enddate"`
	NumSections       *int64             `mapstructure:"numsections"`
	MaxBytes          int64              `mapstructure:"maxbytes"`
	ShowReports       int64              `mapstructure:"showreports"`
	Visible           *int64             `mapstructure:"visible"`
	HiddenSections    *int64             `mapstructure:"hiddensections"`
	GroupMode         int64              `mapstructure:"groupmode"`
	GroupModeForce    int64              `mapstructure:"groupmodeforce"`
	DefaultGroupingID int64              `mapstructure:"defaultgroupingid"`
	EnableCompletion  *int64             `mapstructure:"enablecompletion"`
	CompletionNotify  *int64             `mapstructure:"completionnotify"`
	Lang              *string            `mapstructure:"lang"`
	ForceTheme        *string            `mapstructure:"forcetheme"`
	FormatOptions     []nameValue        `mapstructure:"courseformatoptions"`
	CustomFields      []customFieldValue `mapstructure:"customfields"`
}

type createCourseInput struct {
	UserID int64       `mapstructure:"userid"`
	Course courseInput `mapstructure:"course"`
}

func (s *Service) createCourse(ctx context.Context, params map[string]any) (any, error) {
	var in createCourseInput
	if err := decode(params, &in); err != nil {
		return nil, err
	}

	var courseID int64
	err := s.store.InTx(ctx, func(ctx context.Context) error {
		var err error
		courseID, err = s.buildCourse(ctx, in.UserID, in.Course)
		return err
	})
	if err != nil {
		return nil, err
	}
	return map[string]any{"courseid": courseID}, nil
}

func (s *Service) buildCourse(ctx context.Context, userID int64, in courseInput) (int64, error) {
	catctx := model.CategoryContext(in.CategoryID)
	if err := s.RequireContext(ctx, catctx); err != nil {
		return 0, err
	}
	if err := s.RequireCapability(ctx, userID, model.CapCourseCreate, catctx); err != nil {
		return 0, err
	}

	if strings.TrimSpace(in.FullName) == "" {
		return 0, wserr.InvalidParam("fullname")
	}
	if strings.TrimSpace(in.ShortName) == "" {
		return 0, wserr.InvalidParam("shortname")
	}

	shortname := in.ShortName
	taken, err := s.store.ShortNameExists(ctx, shortname)
	if err != nil {
		return 0, dbError(err)
	}
	if taken {
		shortname += strconv.FormatInt(s.now().Unix(), 10)
		slog.Info("course shortname taken, adding timestamp", "requested", in.ShortName, "shortname", shortname)
	}

	c := &model.Course{
		CategoryID:        in.CategoryID,
		FullName:          in.FullName,
		ShortName:         shortname,
		SummaryFormat:     int(in.SummaryFormat),
		Format:            in.Format,
		ShowGrades:        int(in.ShowGrades),
		NewsItems:         int(in.NewsItems),
		MaxBytes:          in.MaxBytes,
		ShowReports:       int(in.ShowReports),
		Visible:           s.site.Course.Visible,
		GroupMode:         int(in.GroupMode),
		GroupModeForce:    int(in.GroupModeForce),
		DefaultGroupingID: in.DefaultGroupingID,
	}
	if in.IDNumber != nil && *in.IDNumber != "" {
		taken, err := s.store.IDNumberExists(ctx, *in.IDNumber)
		if err != nil {
			return 0, dbError(err)
		}
		if taken {
			return 0, wserr.Policy(wserr.CodeCourseIDNumberTaken, *in.IDNumber)
		}
		c.IDNumber = *in.IDNumber
	}
	if in.Summary != nil {
		c.Summary = *in.Summary
	}
	if !model.ValidFormat(c.SummaryFormat) {
		return 0, wserr.InvalidParam("summaryformat")
	}
	if in.StartDate != nil {
		c.StartDate = *in.StartDate
	}
	if in.EndDate != nil {
		c.EndDate = *in.EndDate
	}
	if in.Visible != nil {
		c.Visible = int(*in.Visible)
	}
	if in.CompletionNotify != nil {
		c.CompletionNotify = int(*in.CompletionNotify)
	}

	if in.Lang != nil {
		lang, err := s.forcedLanguage(ctx, userID, *in.Lang, catctx)
		if err != nil {
			return 0, err
		}
		c.Lang = lang
	}
	if in.ForceTheme != nil {
		if !s.site.AllowCourseThemes || !s.site.ThemeInstalled(*in.ForceTheme) {
			return 0, wserr.InvalidParam("forcetheme")
		}
		c.Theme = *in.ForceTheme
	}

	switch {
	case !s.site.EnableCompletion:
		c.EnableCompletion = 0
	case in.EnableCompletion != nil:
		c.EnableCompletion = int(*in.EnableCompletion)
	default:
		c.EnableCompletion = s.site.Course.EnableCompletion
	}

	c.FormatOptions = map[string]string{
		"numsections":    strconv.Itoa(s.site.Course.NumSections),
		"hiddensections": strconv.Itoa(s.site.Course.HiddenSections),
	}
	if in.NumSections != nil {
		c.FormatOptions["numsections"] = strconv.FormatInt(*in.NumSections, 10)
	}
	if in.HiddenSections != nil {
		c.FormatOptions["hiddensections"] = strconv.FormatInt(*in.HiddenSections, 10)
	}
	for _, opt := range in.FormatOptions {
		c.FormatOptions[opt.Name] = opt.Value
	}
	if n, err := strconv.Atoi(c.FormatOptions["numsections"]); err != nil || n < 0 || n > s.site.Course.MaxSections {
		return 0, wserr.InvalidParam("numsections")
	}

	if len(in.CustomFields) > 0 {
		editable, err := s.store.EditableCustomFields(ctx)
		if err != nil {
			return 0, dbError(err)
		}
		c.CustomFields = map[int64]string{}
		for _, f := range in.CustomFields {
			def, ok := editable[f.ShortName]
			if !ok {
				slog.Debug("skipping unknown custom field", "shortname", f.ShortName)
				continue
			}
			c.CustomFields[def.ID] = f.Value
		}
	}

	id, err := s.store.CreateCourse(ctx, c)
	if err != nil {
		return 0, dbError(err)
	}
	if err := s.store.Enrol(ctx, id, userID, s.site.CreatorNewRole); err != nil {
		return 0, dbError(err)
	}
	return id, nil
}

// forcedLanguage returns lang if it may be forced on the course, or "".
// Uninstalled languages and callers without the capability are ignored.
func (s *Service) forcedLanguage(ctx context.Context, userID int64, lang string, ref model.ContextRef) (string, error) {
	if !s.site.LanguageInstalled(lang) {
		slog.Debug("dropping forced language that is not installed", "lang", lang)
		return "", nil
	}
	ok, err := s.store.HasCapability(ctx, userID, model.CapCourseSetForcedLanguage, ref)
	if err != nil {
		return "", dbError(err)
	}
	if !ok {
		return "", nil
	}
	return lang, nil
}
