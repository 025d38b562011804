// Package webservice implements the support companion web service
// functions: course creation, module and question creation, and course
// lookup. Each function validates its parameters against a declared
// schema, checks capabilities and then drives the store.
package webservice

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/pavelanni/suppcompanion/internal/filestore"
	"github.com/pavelanni/suppcompanion/internal/model"
	"github.com/pavelanni/suppcompanion/internal/schema"
	"github.com/pavelanni/suppcompanion/internal/wserr"
)

// Function names.
const (
	FuncCreateCourse = "local_suppcompanion_create_course"
	FuncCreateMod    = "local_suppcompanion_create_mod"
	FuncGetCourse    = "local_suppcompanion_get_course"
)

// Store is the persistence the functions need.
type Store interface {
	InTx(ctx context.Context, fn func(ctx context.Context) error) error
	GetConfig(ctx context.Context, name string) (string, error)

	ContextExists(ctx context.Context, ref model.ContextRef) (bool, error)
	HasCapability(ctx context.Context, userID int64, capability string, ref model.ContextRef) (bool, error)

	ShortNameExists(ctx context.Context, shortname string) (bool, error)
	IDNumberExists(ctx context.Context, idnumber string) (bool, error)
	CustomFields(ctx context.Context) ([]model.CustomField, error)
	EditableCustomFields(ctx context.Context) (map[string]model.CustomField, error)
	CreateCourse(ctx context.Context, c *model.Course) (int64, error)
	GetCourse(ctx context.Context, id int64) (*model.Course, error)
	GetCourseByShortName(ctx context.Context, shortname string) (*model.Course, error)
	CourseInfo(ctx context.Context, courseID int64) (*model.CourseInfo, error)
	Enrol(ctx context.Context, courseID, userID int64, roleShortName string) error

	CreateSectionsIfMissing(ctx context.Context, courseID int64, nums ...int) error
	GetSection(ctx context.Context, courseID int64, num int) (*model.Section, error)
	UpdateSection(ctx context.Context, sec model.Section) error
	CreateModule(ctx context.Context, m *model.Module) (int64, error)
	GetModule(ctx context.Context, id int64) (*model.Module, error)
	AddQuizSlot(ctx context.Context, quizID, questionID int64, maxMark float64) (int, error)

	DefaultQuestionCategory(ctx context.Context, ref model.ContextRef) (*model.QuestionCategory, error)
	QuestionCategoryByName(ctx context.Context, ref model.ContextRef, name string) (*model.QuestionCategory, error)
	CreateQuestionCategory(ctx context.Context, qc model.QuestionCategory) (int64, error)
	CreateQuestion(ctx context.Context, q *model.Question) (int64, error)
}

// Files stages downloads and attaches them to resource modules.
type Files interface {
	StageFromURL(ctx context.Context, userID int64, rawURL string, maxBytes int64) (*filestore.Draft, error)
	AttachToModule(ctx context.Context, d *filestore.Draft, moduleID int64, displayName string) error
	Discard(ctx context.Context, d *filestore.Draft) error
}

// Function is one callable web service function.
type Function struct {
	Name        string
	Description string
	// Type is "read" or "write".
	Type    string
	Params  schema.Single
	Returns schema.Node

	call func(ctx context.Context, params map[string]any) (any, error)
}

// Service holds the functions and their collaborators.
type Service struct {
	store     Store
	files     Files
	site      model.SiteConfig
	now       func() time.Time
	functions map[string]*Function
}

// Option configures a Service.
type Option func(*Service)

// WithClock replaces the time source used for short name suffixes.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// New creates a Service. The schemas are built once from site.
func New(store Store, files Files, site model.SiteConfig, opts ...Option) *Service {
	s := &Service{store: store, files: files, site: site, now: time.Now}
	for _, o := range opts {
		o(s)
	}
	s.functions = map[string]*Function{}
	for _, fn := range []*Function{
		{
			Name:        FuncCreateCourse,
			Description: "Create a new course for a user in a course category",
			Type:        "write",
			Params:      createCourseParams(site.Course),
			Returns:     createCourseReturns,
			call:        s.createCourse,
		},
		{
			Name:        FuncCreateMod,
			Description: "Add activity modules and quiz questions to a course",
			Type:        "write",
			Params:      createModParams,
			Returns:     createModReturns,
			call:        s.createMod,
		},
		{
			Name:        FuncGetCourse,
			Description: "Get a course with its sections and modules",
			Type:        "read",
			Params:      getCourseParams,
			Returns:     getCourseReturns(site.Course),
			call:        s.getCourse,
		},
	} {
		s.functions[fn.Name] = fn
	}
	return s
}

// Function returns a registered function by name.
func (s *Service) Function(name string) (*Function, bool) {
	fn, ok := s.functions[name]
	return fn, ok
}

// Functions lists the registered functions by name.
func (s *Service) Functions() []*Function {
	out := make([]*Function, 0, len(s.functions))
	for _, fn := range s.functions {
		out = append(out, fn)
	}
	slices.SortFunc(out, func(a, b *Function) int { return strings.Compare(a.Name, b.Name) })
	return out
}

// Call validates raw against the named function's parameters, runs it and
// shapes the result to the declared return structure. Failures are *wserr.Error.
func (s *Service) Call(ctx context.Context, name string, raw map[string]any) (any, error) {
	fn, ok := s.functions[name]
	if !ok {
		return nil, &wserr.Error{Kind: wserr.KindValidation, Code: wserr.CodeFunctionNotFound, Param: name}
	}
	params, err := schema.ValidateParams(fn.Params, raw)
	if err != nil {
		return nil, validationError(err)
	}

	start := time.Now()
	out, err := fn.call(ctx, params)
	if err != nil {
		e := wserr.From(err)
		slog.Warn("web service call failed", "function", name, "kind", e.Kind, "code", e.Code, "param", e.Param, "error", e.Err)
		return nil, e
	}
	slog.Debug("web service call", "function", name, "duration", time.Since(start))

	cleaned, err := schema.Clean(fn.Returns, out)
	if err != nil {
		return nil, wserr.Host(wserr.CodeInvalidResponse, err)
	}
	return cleaned, nil
}

func validationError(err error) error {
	var se *schema.Error
	if errors.As(err, &se) {
		return wserr.Validation(wserr.CodeInvalidParameter, se.Path, se.Reason)
	}
	return wserr.Validation(wserr.CodeInvalidParameter, "", err.Error())
}

func decode(params map[string]any, out any) error {
	if err := schema.Decode(params, out); err != nil {
		return wserr.Validation(wserr.CodeInvalidParameter, "", err.Error())
	}
	return nil
}

func dbError(err error) error {
	if err == nil {
		return nil
	}
	var e *wserr.Error
	if errors.As(err, &e) {
		return e
	}
	return wserr.Host(wserr.CodeDatabaseError, err)
}
