package webservice

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/pavelanni/suppcompanion/internal/filestore"
	"github.com/pavelanni/suppcompanion/internal/model"
	"github.com/pavelanni/suppcompanion/internal/store"
	"github.com/pavelanni/suppcompanion/internal/wserr"
)

var fixedNow = time.Unix(1700000000, 0)

func newTestService(t *testing.T) (*Service, *store.Store) {
	t.Helper()
	s, err := store.New(":memory:")
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	blobs, err := filestore.NewLocal(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocal: %v", err)
	}
	files := filestore.NewManager(s, blobs, filestore.Options{})
	svc := New(s, files, model.DefaultSiteConfig(), WithClock(func() time.Time { return fixedNow }))
	return svc, s
}

// insertTestUser creates a user holding role at system level, or no role
// at all when role is empty.
func insertTestUser(t *testing.T, s *store.Store, username, role string) int64 {
	t.Helper()
	ctx := context.Background()
	id, err := s.CreateUser(ctx, model.User{Username: username, Confirmed: true})
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	if role == "" {
		return id
	}
	r, err := s.GetRoleByShortName(ctx, role)
	if err != nil || r == nil {
		t.Fatalf("role %s: %v", role, err)
	}
	if err := s.AssignRole(ctx, r.ID, id, model.SystemContext()); err != nil {
		t.Fatalf("AssignRole: %v", err)
	}
	return id
}

func courseParams(userID int64, fullname, shortname string) map[string]any {
	return map[string]any{
		"userid": userID,
		"course": map[string]any{
			"fullname":   fullname,
			"shortname":  shortname,
			"categoryid": 1,
		},
	}
}

func createTestCourse(t *testing.T, svc *Service, userID int64, shortname string) int64 {
	t.Helper()
	out, err := svc.Call(context.Background(), FuncCreateCourse, courseParams(userID, "Course "+shortname, shortname))
	if err != nil {
		t.Fatalf("create course: %v", err)
	}
	return out.(map[string]any)["courseid"].(int64)
}

func wantCode(t *testing.T, err error, code string) {
	t.Helper()
	var e *wserr.Error
	if !errors.As(err, &e) {
		t.Fatalf("error = %v, want *wserr.Error with code %s", err, code)
	}
	if e.Code != code {
		t.Errorf("code = %s (%v), want %s", e.Code, e, code)
	}
}

func TestCreateCourse(t *testing.T) {
	svc, s := newTestService(t)
	ctx := context.Background()
	userID := insertTestUser(t, s, "manager", "manager")
	fieldID, err := s.CreateCustomField(ctx, model.CustomField{ShortName: "level", Name: "Level"})
	if err != nil {
		t.Fatalf("CreateCustomField: %v", err)
	}

	params := courseParams(userID, "Introduction to Go", "cs101")
	course := params["course"].(map[string]any)
	course["lang"] = "en"
	course["courseformatoptions"] = []any{map[string]any{"name": "numsections", "value": "2"}}
	course["customfields"] = []any{
		map[string]any{"shortname": "level", "value": "beginner"},
		map[string]any{"shortname": "unknown", "value": "x"},
	}
	out, err := svc.Call(ctx, FuncCreateCourse, params)
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	id := out.(map[string]any)["courseid"].(int64)

	c, err := s.GetCourse(ctx, id)
	if err != nil || c == nil {
		t.Fatalf("GetCourse: %v", err)
	}
	if c.ShortName != "cs101" || c.Format != "topics" || c.Lang != "en" {
		t.Errorf("course = %+v", c)
	}
	if c.CustomFields[fieldID] != "beginner" || len(c.CustomFields) != 1 {
		t.Errorf("custom fields = %v", c.CustomFields)
	}
	n, err := s.SectionCount(ctx, id)
	if err != nil {
		t.Fatalf("SectionCount: %v", err)
	}
	if n != 3 {
		t.Errorf("sections = %d, want 3", n)
	}
	enrolled, err := s.IsEnrolled(ctx, id, userID)
	if err != nil || !enrolled {
		t.Errorf("creator not enrolled: %v", err)
	}

	// A taken short name gets the current time appended.
	out, err = svc.Call(ctx, FuncCreateCourse, courseParams(userID, "Introduction to Go", "cs101"))
	if err != nil {
		t.Fatalf("second Call: %v", err)
	}
	c, err = s.GetCourse(ctx, out.(map[string]any)["courseid"].(int64))
	if err != nil || c == nil {
		t.Fatalf("GetCourse: %v", err)
	}
	if c.ShortName != "cs1011700000000" {
		t.Errorf("shortname = %q, want cs1011700000000", c.ShortName)
	}
}

func TestCreateCourseDropsUninstalledLanguage(t *testing.T) {
	svc, s := newTestService(t)
	ctx := context.Background()
	userID := insertTestUser(t, s, "manager", "manager")

	params := courseParams(userID, "Deutsch", "de101")
	params["course"].(map[string]any)["lang"] = "de"
	out, err := svc.Call(ctx, FuncCreateCourse, params)
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	c, err := s.GetCourse(ctx, out.(map[string]any)["courseid"].(int64))
	if err != nil || c == nil {
		t.Fatalf("GetCourse: %v", err)
	}
	if c.Lang != "" {
		t.Errorf("lang = %q, want empty", c.Lang)
	}
}

func TestCreateCourseFailures(t *testing.T) {
	svc, s := newTestService(t)
	ctx := context.Background()
	managerID := insertTestUser(t, s, "manager", "manager")
	nobodyID := insertTestUser(t, s, "nobody", "")

	tests := []struct {
		name      string
		shortname string
		params    func() map[string]any
		code      string
	}{
		{
			name:      "blank full name",
			shortname: "blank1",
			params:    func() map[string]any { return courseParams(managerID, "   ", "blank1") },
			code:      wserr.CodeInvalidParam,
		},
		{
			name:      "blank short name colliding",
			shortname: " ",
			params: func() map[string]any {
				if _, err := s.CreateCourse(ctx, &model.Course{CategoryID: 1, FullName: "Space", ShortName: " ", Format: "topics"}); err != nil {
					t.Fatalf("CreateCourse: %v", err)
				}
				return courseParams(managerID, "Full", " ")
			},
			code: wserr.CodeInvalidParam,
		},
		{
			name:      "missing category",
			shortname: "nocat",
			params: func() map[string]any {
				p := courseParams(managerID, "No category", "nocat")
				p["course"].(map[string]any)["categoryid"] = 99
				return p
			},
			code: wserr.CodeCategoryContextNotValid,
		},
		{
			name:      "no capability",
			shortname: "noperm",
			params:    func() map[string]any { return courseParams(nobodyID, "No permission", "noperm") },
			code:      wserr.CodeNoPermissions,
		},
		{
			name:      "theme not allowed",
			shortname: "themed",
			params: func() map[string]any {
				p := courseParams(managerID, "Themed", "themed")
				p["course"].(map[string]any)["forcetheme"] = "boost"
				return p
			},
			code: wserr.CodeInvalidParam,
		},
		{
			name:      "id number taken",
			shortname: "dupid",
			params: func() map[string]any {
				first := courseParams(managerID, "First", "firstid")
				first["course"].(map[string]any)["idnumber"] = "ID-1"
				if _, err := svc.Call(ctx, FuncCreateCourse, first); err != nil {
					t.Fatalf("Call: %v", err)
				}
				p := courseParams(managerID, "Second", "dupid")
				p["course"].(map[string]any)["idnumber"] = "ID-1"
				return p
			},
			code: wserr.CodeCourseIDNumberTaken,
		},
		{
			name:      "unexpected key",
			shortname: "extra",
			params: func() map[string]any {
				p := courseParams(managerID, "Extra", "extra")
				p["course"].(map[string]any)["colour"] = "red"
				return p
			},
			code: wserr.CodeInvalidParameter,
		},
		{
			name:      "negative numsections",
			shortname: "negsec",
			params: func() map[string]any {
				p := courseParams(managerID, "Negative sections", "negsec")
				p["course"].(map[string]any)["numsections"] = -2
				return p
			},
			code: wserr.CodeInvalidParam,
		},
		{
			name:      "numsections above limit",
			shortname: "bigsec",
			params: func() map[string]any {
				p := courseParams(managerID, "Big", "bigsec")
				p["course"].(map[string]any)["numsections"] = 2000000000
				return p
			},
			code: wserr.CodeInvalidParam,
		},
		{
			name:      "format option numsections above limit",
			shortname: "optsec",
			params: func() map[string]any {
				p := courseParams(managerID, "Options", "optsec")
				p["course"].(map[string]any)["courseformatoptions"] = []any{map[string]any{"name": "numsections", "value": "53"}}
				return p
			},
			code: wserr.CodeInvalidParam,
		},
		{
			name:      "missing short name",
			shortname: "",
			params: func() map[string]any {
				p := courseParams(managerID, "Missing", "")
				delete(p["course"].(map[string]any), "shortname")
				return p
			},
			code: wserr.CodeInvalidParameter,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Call(ctx, FuncCreateCourse, tt.params())
			wantCode(t, err, tt.code)
			if tt.shortname == "" || tt.shortname == " " {
				return
			}
			exists, err := s.ShortNameExists(ctx, tt.shortname)
			if err != nil {
				t.Fatalf("ShortNameExists: %v", err)
			}
			if exists {
				t.Errorf("course %s was created", tt.shortname)
			}
		})
	}
}

func multichoice(quizID int64, qtype string) map[string]any {
	return map[string]any{
		"quizid":          quizID,
		"type":            qtype,
		"name":            "Capital",
		"questiontext":    "<p>Capital of France?</p>",
		"single":          true,
		"shuffleanswers":  true,
		"answernumbering": "",
		"answers": []any{
			map[string]any{"text": "Paris", "fraction": 1.0, "feedback": "Yes"},
			map[string]any{"text": "Lyon", "fraction": 0.0, "feedback": "No"},
		},
	}
}

func module(mod, section string) map[string]any {
	return map[string]any{
		"mod":     mod,
		"title":   "Title",
		"text":    "Intro",
		"section": map[string]any{"number": section, "name": "Week " + section, "summary": "Summary"},
	}
}

func TestCreateMod(t *testing.T) {
	svc, s := newTestService(t)
	ctx := context.Background()
	userID := insertTestUser(t, s, "manager", "manager")
	courseID := createTestCourse(t, svc, userID, "cs101")

	out, err := svc.Call(ctx, FuncCreateMod, map[string]any{
		"userid":     userID,
		"courseid":   courseID,
		"moduleinfo": []any{module("quiz", "1"), module("label", "1"), module("book", "6")},
	})
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	res := out.(map[string]any)
	if res["status"] != statusSuccess {
		t.Fatalf("status = %v", res)
	}
	mods := res["addedMods"].([]any)
	if len(mods) != 3 {
		t.Fatalf("addedMods = %v", mods)
	}
	for i, want := range []string{"quiz1", "label1", "book1"} {
		if got := mods[i].(map[string]any)["modulename"]; got != want {
			t.Errorf("addedMods[%d] = %v, want %s", i, got, want)
		}
	}
	quizID := mods[0].(map[string]any)["moduleid"].(int64)
	quiz, err := s.GetModule(ctx, quizID)
	if err != nil || quiz == nil {
		t.Fatalf("GetModule: %v", err)
	}
	if quiz.Password != quizPassword || quiz.Intro != "Intro" {
		t.Errorf("quiz = %+v", quiz)
	}

	sec, err := s.GetSection(ctx, courseID, 1)
	if err != nil || sec == nil {
		t.Fatalf("GetSection: %v", err)
	}
	if sec.Name != "Week 1" || sec.Summary != "Summary" || !sec.Visible {
		t.Errorf("section = %+v", sec)
	}
	if sec, _ := s.GetSection(ctx, courseID, 6); sec == nil {
		t.Error("section 6 was not created")
	}

	out, err = svc.Call(ctx, FuncCreateMod, map[string]any{
		"userid":        userID,
		"courseid":      courseID,
		"questioninfos": []any{multichoice(quizID, "multichoice"), multichoice(0, "multichoice")},
	})
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	added := out.(map[string]any)["addedQuestions"].([]any)
	if len(added) != 2 {
		t.Fatalf("addedQuestions = %v", added)
	}
	qid := added[0].(map[string]any)["questionid"].(int64)
	q, err := s.GetQuestion(ctx, qid)
	if err != nil || q == nil {
		t.Fatalf("GetQuestion: %v", err)
	}
	if q.DefaultMark != 1 || q.AnswerNumbering != "abc" || q.CorrectFeedback != feedbackCorrect || !q.ShowNumCorrect {
		t.Errorf("question = %+v", q)
	}
	if len(q.Answers) != 2 || q.Answers[0].Fraction != 1 {
		t.Errorf("answers = %+v", q.Answers)
	}
	cat, err := s.DefaultQuestionCategory(ctx, model.CourseContext(courseID))
	if err != nil || cat == nil {
		t.Fatalf("DefaultQuestionCategory: %v", err)
	}
	if cat.Name != "Default for cs101" || q.CategoryID != cat.ID {
		t.Errorf("category = %+v, question category %d", cat, q.CategoryID)
	}
	slots, err := s.QuizQuestions(ctx, quizID)
	if err != nil {
		t.Fatalf("QuizQuestions: %v", err)
	}
	if len(slots) != 1 || slots[0] != qid {
		t.Errorf("quiz slots = %v, want [%d]", slots, qid)
	}
}

func TestCreateModNamedCategory(t *testing.T) {
	svc, s := newTestService(t)
	ctx := context.Background()
	userID := insertTestUser(t, s, "manager", "manager")
	courseID := createTestCourse(t, svc, userID, "cs101")

	q := multichoice(0, "multichoice")
	q["category"] = "Geography"
	out, err := svc.Call(ctx, FuncCreateMod, map[string]any{
		"userid":        userID,
		"courseid":      courseID,
		"questioninfos": []any{q},
	})
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	qid := out.(map[string]any)["addedQuestions"].([]any)[0].(map[string]any)["questionid"].(int64)
	cat, err := s.QuestionCategoryByName(ctx, model.CourseContext(courseID), "Geography")
	if err != nil || cat == nil {
		t.Fatalf("QuestionCategoryByName: %v", err)
	}
	got, err := s.GetQuestion(ctx, qid)
	if err != nil || got == nil {
		t.Fatalf("GetQuestion: %v", err)
	}
	if got.CategoryID != cat.ID {
		t.Errorf("question category = %d, want %d", got.CategoryID, cat.ID)
	}
}

func TestCreateModMixedCategories(t *testing.T) {
	svc, s := newTestService(t)
	ctx := context.Background()
	userID := insertTestUser(t, s, "manager", "manager")
	courseID := createTestCourse(t, svc, userID, "cs101")

	geo1 := multichoice(0, "multichoice")
	geo1["category"] = "Geography"
	plain := multichoice(0, "multichoice")
	geo2 := multichoice(0, "multichoice")
	geo2["category"] = "Geography"
	out, err := svc.Call(ctx, FuncCreateMod, map[string]any{
		"userid":        userID,
		"courseid":      courseID,
		"questioninfos": []any{geo1, plain, geo2},
	})
	if err != nil {
		t.Fatalf("Call: %v", err)
	}

	ref := model.CourseContext(courseID)
	geo, err := s.QuestionCategoryByName(ctx, ref, "Geography")
	if err != nil || geo == nil {
		t.Fatalf("QuestionCategoryByName: %v", err)
	}
	def, err := s.DefaultQuestionCategory(ctx, ref)
	if err != nil || def == nil {
		t.Fatalf("DefaultQuestionCategory: %v", err)
	}
	if def.Name != "Default for cs101" {
		t.Errorf("default category name = %q", def.Name)
	}

	want := []int64{geo.ID, def.ID, geo.ID}
	added := out.(map[string]any)["addedQuestions"].([]any)
	if len(added) != len(want) {
		t.Fatalf("addedQuestions = %v", added)
	}
	for i, a := range added {
		q, err := s.GetQuestion(ctx, a.(map[string]any)["questionid"].(int64))
		if err != nil || q == nil {
			t.Fatalf("GetQuestion: %v", err)
		}
		if q.CategoryID != want[i] {
			t.Errorf("question %d category = %d, want %d", i, q.CategoryID, want[i])
		}
	}
}

func TestCreateModSectionCreatedOnce(t *testing.T) {
	svc, s := newTestService(t)
	ctx := context.Background()
	userID := insertTestUser(t, s, "manager", "manager")
	courseID := createTestCourse(t, svc, userID, "cs101")

	before, err := s.SectionCount(ctx, courseID)
	if err != nil {
		t.Fatalf("SectionCount: %v", err)
	}
	for i := range 2 {
		if _, err := svc.Call(ctx, FuncCreateMod, map[string]any{
			"userid":     userID,
			"courseid":   courseID,
			"moduleinfo": []any{module("label", "9")},
		}); err != nil {
			t.Fatalf("call %d: %v", i, err)
		}
		got, err := s.SectionCount(ctx, courseID)
		if err != nil {
			t.Fatalf("SectionCount: %v", err)
		}
		if got != before+1 {
			t.Errorf("after call %d sections = %d, want %d", i, got, before+1)
		}
	}
	mods, err := s.ListModules(ctx, courseID)
	if err != nil {
		t.Fatalf("ListModules: %v", err)
	}
	if len(mods) != 2 || mods[0].SectionNum != 9 || mods[1].SectionNum != 9 {
		t.Errorf("modules = %+v, want two in section 9", mods)
	}
}

func TestCreateModRejectsContent(t *testing.T) {
	svc, s := newTestService(t)
	ctx := context.Background()
	userID := insertTestUser(t, s, "manager", "manager")
	courseID := createTestCourse(t, svc, userID, "cs101")

	tests := []struct {
		name      string
		modules   []any
		questions []any
	}{
		{"essay question", []any{module("quiz", "1")}, []any{multichoice(0, "essay")}},
		{"forum module", []any{module("label", "1"), module("forum", "2")}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			params := map[string]any{"userid": userID, "courseid": courseID, "moduleinfo": tt.modules}
			if tt.questions != nil {
				params["questioninfos"] = tt.questions
			}
			out, err := svc.Call(ctx, FuncCreateMod, params)
			if err != nil {
				t.Fatalf("Call: %v", err)
			}
			res := out.(map[string]any)
			if res["status"] != statusError || res["message"] != wserr.CodeContentNotAllowed {
				t.Errorf("result = %v", res)
			}
		})
	}

	mods, err := s.ListModules(ctx, courseID)
	if err != nil {
		t.Fatalf("ListModules: %v", err)
	}
	if len(mods) != 0 {
		t.Errorf("modules = %v, want none", mods)
	}
	n, err := s.QuestionCount(ctx)
	if err != nil {
		t.Fatalf("QuestionCount: %v", err)
	}
	if n != 0 {
		t.Errorf("questions = %d, want 0", n)
	}
}

func TestCreateModUnknownCourse(t *testing.T) {
	svc, s := newTestService(t)
	userID := insertTestUser(t, s, "manager", "manager")

	out, err := svc.Call(context.Background(), FuncCreateMod, map[string]any{
		"userid":     userID,
		"courseid":   42,
		"moduleinfo": []any{module("quiz", "1")},
	})
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	res := out.(map[string]any)
	if res["status"] != statusError || res["message"] != wserr.CodeCourseContextNotValid {
		t.Errorf("result = %v", res)
	}
}

func TestCreateModFailures(t *testing.T) {
	svc, s := newTestService(t)
	ctx := context.Background()
	managerID := insertTestUser(t, s, "manager", "manager")
	studentID := insertTestUser(t, s, "student", "")
	courseID := createTestCourse(t, svc, managerID, "cs101")
	if err := s.Enrol(ctx, courseID, studentID, "student"); err != nil {
		t.Fatalf("Enrol: %v", err)
	}
	srv := httptest.NewServer(http.NotFoundHandler())
	t.Cleanup(srv.Close)

	resource := module("resource", "7")
	resource["url"] = srv.URL + "/missing.pdf"
	badFraction := multichoice(0, "multichoice")
	badFraction["answers"] = []any{map[string]any{"text": "x", "fraction": 1.5, "feedback": ""}}

	tests := []struct {
		name   string
		params map[string]any
		code   string
	}{
		{
			name:   "student cannot add a quiz",
			params: map[string]any{"userid": studentID, "courseid": courseID, "moduleinfo": []any{module("quiz", "1")}},
			code:   wserr.CodeNoPermissions,
		},
		{
			name:   "bad section number",
			params: map[string]any{"userid": managerID, "courseid": courseID, "moduleinfo": []any{module("quiz", "one")}},
			code:   wserr.CodeInvalidParam,
		},
		{
			name:   "negative section number",
			params: map[string]any{"userid": managerID, "courseid": courseID, "moduleinfo": []any{module("quiz", "-1")}},
			code:   wserr.CodeInvalidParameter,
		},
		{
			name:   "resource without url",
			params: map[string]any{"userid": managerID, "courseid": courseID, "moduleinfo": []any{module("resource", "1")}},
			code:   wserr.CodeInvalidParam,
		},
		{
			name:   "fraction out of range",
			params: map[string]any{"userid": managerID, "courseid": courseID, "questioninfos": []any{badFraction}},
			code:   wserr.CodeInvalidParam,
		},
		{
			name:   "download fails after quiz",
			params: map[string]any{"userid": managerID, "courseid": courseID, "moduleinfo": []any{module("quiz", "1"), resource}},
			code:   wserr.CodeFileDownloadFailed,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Call(ctx, FuncCreateMod, tt.params)
			wantCode(t, err, tt.code)
		})
	}

	mods, err := s.ListModules(ctx, courseID)
	if err != nil {
		t.Fatalf("ListModules: %v", err)
	}
	if len(mods) != 0 {
		t.Errorf("modules = %v, want none", mods)
	}
	if sec, _ := s.GetSection(ctx, courseID, 7); sec != nil {
		t.Error("section 7 survived the rollback")
	}
}

func TestCreateModResource(t *testing.T) {
	svc, s := newTestService(t)
	ctx := context.Background()
	userID := insertTestUser(t, s, "manager", "manager")
	courseID := createTestCourse(t, svc, userID, "cs101")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/pdf")
		io.WriteString(w, "%PDF-1.4 notes")
	}))
	t.Cleanup(srv.Close)

	m := module("resource", "2")
	m["title"] = "Lecture notes"
	m["url"] = srv.URL + "/notes.pdf"
	out, err := svc.Call(ctx, FuncCreateMod, map[string]any{
		"userid":     userID,
		"courseid":   courseID,
		"moduleinfo": []any{m},
	})
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	added := out.(map[string]any)["addedMods"].([]any)[0].(map[string]any)
	if added["modulename"] != "Lecture notes" {
		t.Errorf("modulename = %v", added["modulename"])
	}
	moduleID := added["moduleid"].(int64)
	files, err := s.AreaFiles(ctx, model.ModuleContext(moduleID), filestore.ComponentResource, filestore.AreaContent, 0)
	if err != nil {
		t.Fatalf("AreaFiles: %v", err)
	}
	if len(files) != 1 || files[0].MimeType != "application/pdf" {
		t.Errorf("files = %+v", files)
	}
}

// failingAttach wraps a file manager whose attach step always fails.
type failingAttach struct {
	*filestore.Manager
	discarded int
}

func (f *failingAttach) AttachToModule(context.Context, *filestore.Draft, int64, string) error {
	return wserr.Host(wserr.CodeDatabaseError, errors.New("attach failed"))
}

func (f *failingAttach) Discard(ctx context.Context, d *filestore.Draft) error {
	f.discarded++
	return f.Manager.Discard(ctx, d)
}

func TestCreateModResourceDiscardsDraft(t *testing.T) {
	s, err := store.New(":memory:")
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	blobs, err := filestore.NewLocal(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocal: %v", err)
	}
	files := &failingAttach{Manager: filestore.NewManager(s, blobs, filestore.Options{})}
	svc := New(s, files, model.DefaultSiteConfig(), WithClock(func() time.Time { return fixedNow }))
	ctx := context.Background()
	userID := insertTestUser(t, s, "manager", "manager")
	courseID := createTestCourse(t, svc, userID, "cs101")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "%PDF-1.4 notes")
	}))
	t.Cleanup(srv.Close)

	m := module("resource", "2")
	m["url"] = srv.URL + "/notes.pdf"
	_, err = svc.Call(ctx, FuncCreateMod, map[string]any{
		"userid":     userID,
		"courseid":   courseID,
		"moduleinfo": []any{m},
	})
	wantCode(t, err, wserr.CodeDatabaseError)
	if files.discarded != 1 {
		t.Errorf("drafts discarded = %d, want 1", files.discarded)
	}
	mods, err := s.ListModules(ctx, courseID)
	if err != nil {
		t.Fatalf("ListModules: %v", err)
	}
	if len(mods) != 0 {
		t.Errorf("modules = %+v, want none", mods)
	}
}

func TestGetCourse(t *testing.T) {
	svc, s := newTestService(t)
	ctx := context.Background()
	userID := insertTestUser(t, s, "manager", "manager")
	courseID := createTestCourse(t, svc, userID, "cs101")
	if _, err := svc.Call(ctx, FuncCreateMod, map[string]any{
		"userid":     userID,
		"courseid":   courseID,
		"moduleinfo": []any{module("label", "2")},
	}); err != nil {
		t.Fatalf("create mod: %v", err)
	}

	for _, params := range []map[string]any{
		{"userid": userID, "courseid": courseID},
		{"userid": userID, "shortname": "cs101"},
	} {
		out, err := svc.Call(ctx, FuncGetCourse, params)
		if err != nil {
			t.Fatalf("Call(%v): %v", params, err)
		}
		course := out.(map[string]any)["course"].(map[string]any)
		if course["id"] != courseID || course["shortname"] != "cs101" || course["numsections"] != int64(4) {
			t.Errorf("course = %v", course)
		}
		sections := course["sections"].([]any)
		if len(sections) != 5 {
			t.Fatalf("sections = %d, want 5", len(sections))
		}
		sec := sections[2].(map[string]any)
		modules := sec["modules"].([]any)
		if sec["name"] != "Week 2" || len(modules) != 1 || modules[0].(map[string]any)["name"] != "label1" {
			t.Errorf("section 2 = %v", sec)
		}
	}

	_, err := svc.Call(ctx, FuncGetCourse, map[string]any{"userid": userID})
	wantCode(t, err, wserr.CodeMissingField)
	for _, tt := range []struct {
		params    map[string]any
		wantParam string
	}{
		{map[string]any{"userid": userID, "courseid": 999}, "999"},
		{map[string]any{"userid": userID, "shortname": "nosuch"}, "nosuch"},
	} {
		_, err = svc.Call(ctx, FuncGetCourse, tt.params)
		wantCode(t, err, wserr.CodeCourseContextNotValid)
		var e *wserr.Error
		if errors.As(err, &e) && e.Param != tt.wantParam {
			t.Errorf("context error param = %q, want %q", e.Param, tt.wantParam)
		}
	}
	nobody := insertTestUser(t, s, "nobody", "")
	_, err = svc.Call(ctx, FuncGetCourse, map[string]any{"userid": nobody, "courseid": courseID})
	wantCode(t, err, wserr.CodeNoPermissions)
}

func TestCallUnknownFunction(t *testing.T) {
	svc, _ := newTestService(t)
	_, err := svc.Call(context.Background(), "core_course_delete_courses", map[string]any{})
	wantCode(t, err, wserr.CodeFunctionNotFound)

	names := []string{}
	for _, fn := range svc.Functions() {
		names = append(names, fn.Name)
	}
	if len(names) != 3 || names[0] != FuncCreateCourse || names[2] != FuncGetCourse {
		t.Errorf("functions = %v", names)
	}
}
