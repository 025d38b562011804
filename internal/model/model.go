package model

import (
	"context"
	"fmt"
	"time"
)

// ContextLevel identifies the kind of scope a capability is evaluated against.
type ContextLevel int

const (
	// ContextSystem is the site-wide scope.
	ContextSystem ContextLevel = 10
	// ContextUser is a user's private scope (draft files live here).
	ContextUser ContextLevel = 30
	// ContextCategory is a course category scope.
	ContextCategory ContextLevel = 40
	// ContextCourse is a single course scope.
	ContextCourse ContextLevel = 50
	// ContextModule is a single activity module scope.
	ContextModule ContextLevel = 70
)

func (l ContextLevel) String() string {
	switch l {
	case ContextSystem:
		return "system"
	case ContextUser:
		return "user"
	case ContextCategory:
		return "category"
	case ContextCourse:
		return "course"
	case ContextModule:
		return "module"
	}
	return fmt.Sprintf("level(%d)", int(l))
}

// ContextRef names a scope by level and the id of the owning instance.
// The system context always has InstanceID 0.
type ContextRef struct {
	Level      ContextLevel
	InstanceID int64
}

// SystemContext returns the site-wide context.
func SystemContext() ContextRef { return ContextRef{Level: ContextSystem} }

// CategoryContext returns the context of a course category.
func CategoryContext(id int64) ContextRef { return ContextRef{Level: ContextCategory, InstanceID: id} }

// CourseContext returns the context of a course.
func CourseContext(id int64) ContextRef { return ContextRef{Level: ContextCourse, InstanceID: id} }

// UserContext returns the private context of a user.
func UserContext(id int64) ContextRef { return ContextRef{Level: ContextUser, InstanceID: id} }

// ModuleContext returns the context of a course module.
func ModuleContext(id int64) ContextRef { return ContextRef{Level: ContextModule, InstanceID: id} }

func (c ContextRef) String() string {
	return fmt.Sprintf("%s:%d", c.Level, c.InstanceID)
}

// Capability names checked by the endpoints.
const (
	CapCourseCreate            = "moodle/course:create"
	CapCourseSetForcedLanguage = "moodle/course:setforcedlanguage"
	CapCourseManageActivities  = "moodle/course:manageactivities"
	CapWebserviceRestfulUse    = "webservice/restful:use"
)

// AddInstanceCapability returns the capability needed to add a module of the given type.
func AddInstanceCapability(modName string) string {
	return "mod/" + modName + ":addinstance"
}

// Text formats.
const (
	FormatMoodle   = 0
	FormatHTML     = 1
	FormatPlain    = 2
	FormatMarkdown = 4
)

// ValidFormat reports whether f is a known text format.
func ValidFormat(f int) bool {
	switch f {
	case FormatMoodle, FormatHTML, FormatPlain, FormatMarkdown:
		return true
	}
	return false
}

// Category is a course category.
type Category struct {
	ID       int64
	Name     string
	ParentID int64
}

// Course is a persisted course record.
type Course struct {
	ID                int64
	CategoryID        int64
	FullName          string
	ShortName         string
	IDNumber          string
	Summary           string
	SummaryFormat     int
	Format            string
	ShowGrades        int
	NewsItems         int
	StartDate         int64
	EndDate           int64
	MaxBytes          int64
	ShowReports       int
	Visible           int
	GroupMode         int
	GroupModeForce    int
	DefaultGroupingID int64
	EnableCompletion  int
	CompletionNotify  int
	Lang              string
	Theme             string
	TimeCreated       time.Time
	TimeModified      time.Time

	// FormatOptions are course format settings such as numsections or hiddensections.
	FormatOptions map[string]string
	// CustomFields maps an editable custom field id to its value.
	CustomFields map[int64]string
}

// Section is a numbered section of a course.
type Section struct {
	ID            int64
	CourseID      int64
	Number        int
	Name          string
	Summary       string
	SummaryFormat int
	Visible       bool
}

// Module is a course module: one activity instance placed in a section.
type Module struct {
	ID          int64
	CourseID    int64
	SectionID   int64
	SectionNum  int
	ModName     string
	Name        string
	Intro       string
	IntroFormat int
	Visible     bool
	Password    string
	TimeCreated time.Time
}

// CustomField is a course custom field definition.
type CustomField struct {
	ID        int64
	ShortName string
	Name      string
	Locked    bool
}

// QuestionCategory groups questions inside a context's question bank.
type QuestionCategory struct {
	ID        int64
	Name      string
	Context   ContextRef
	IsDefault bool
}

// Answer is one option of a multiple choice question.
type Answer struct {
	ID       int64
	Text     string
	Fraction float64
	Feedback string
}

// Question is a question bank entry.
type Question struct {
	ID                       int64
	CategoryID               int64
	QType                    string
	Name                     string
	QuestionText             string
	QuestionTextFormat       int
	GeneralFeedback          string
	DefaultMark              float64
	Penalty                  float64
	Single                   bool
	ShuffleAnswers           bool
	AnswerNumbering          string
	CorrectFeedback          string
	PartiallyCorrectFeedback string
	IncorrectFeedback        string
	ShowNumCorrect           bool
	CreatedBy                int64
	Answers                  []Answer
	TimeCreated              time.Time
}

// User is an account known to the site.
type User struct {
	ID           int64
	Username     string
	FirstName    string
	LastName     string
	Email        string
	Auth         string
	PasswordHash string
	Confirmed    bool
	Suspended    bool
	CreatedAt    time.Time
}

// Role is a named set of capabilities.
type Role struct {
	ID          int64
	ShortName   string
	Name        string
	Description string
	Archetype   string
}

// ExternalService groups web service functions that tokens can call.
type ExternalService struct {
	ID              int64
	Name            string
	ShortName       string
	Component       string
	Enabled         bool
	RestrictedUsers bool
}

// Token is a web service access token.
type Token struct {
	Token      string
	UserID     int64
	ServiceID  int64
	Permanent  bool
	CreatedAt  time.Time
	ValidUntil time.Time // zero means no expiry
}

// Expired reports whether the token is past its validity window.
func (t Token) Expired(now time.Time) bool {
	return !t.ValidUntil.IsZero() && now.After(t.ValidUntil)
}

// StoredFile is a file record in a file area.
type StoredFile struct {
	ID          int64
	Context     ContextRef
	Component   string
	FileArea    string
	ItemID      int64
	FilePath    string
	FileName    string
	BlobKey     string
	MimeType    string
	Size        int64
	UserID      int64
	TimeCreated time.Time
}

type userCtxKey struct{}

// ContextWithUser stores the token owner in the request context.
func ContextWithUser(ctx context.Context, u *User) context.Context {
	return context.WithValue(ctx, userCtxKey{}, u)
}

// UserFromContext retrieves the token owner from context, or nil.
func UserFromContext(ctx context.Context) *User {
	u, _ := ctx.Value(userCtxKey{}).(*User)
	return u
}

type serviceCtxKey struct{}

// ContextWithService stores the external service the request was authorised for.
func ContextWithService(ctx context.Context, s *ExternalService) context.Context {
	return context.WithValue(ctx, serviceCtxKey{}, s)
}

// ServiceFromContext retrieves the external service from context, or nil.
func ServiceFromContext(ctx context.Context) *ExternalService {
	s, _ := ctx.Value(serviceCtxKey{}).(*ExternalService)
	return s
}
