package wserr

import (
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestErrorMapping(t *testing.T) {
	tests := []struct {
		name          string
		err           *Error
		wantException string
		wantStatus    int
	}{
		{"validation", InvalidParam("course.fullname"), "invalid_parameter_exception", http.StatusBadRequest},
		{"context", Context(CodeCourseContextNotValid, 42, nil), "moodle_exception", http.StatusNotFound},
		{"permission", Permission("moodle/course:create"), "required_capability_exception", http.StatusForbidden},
		{"policy", Policy(CodeContentNotAllowed, "forum"), "moodle_exception", http.StatusBadRequest},
		{"auth", Auth(CodeInvalidToken, "no token"), "webservice_access_exception", http.StatusUnauthorized},
		{"database", Host(CodeDatabaseError, sql.ErrConnDone), "dml_write_exception", http.StatusInternalServerError},
		{"download", Host(CodeFileDownloadFailed, errors.New("404")), "moodle_exception", http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Exception(); got != tt.wantException {
				t.Errorf("Exception() = %q, want %q", got, tt.wantException)
			}
			if got := tt.err.HTTPStatus(); got != tt.wantStatus {
				t.Errorf("HTTPStatus() = %d, want %d", got, tt.wantStatus)
			}
		})
	}
}

func TestErrorString(t *testing.T) {
	tests := []struct {
		err  *Error
		want string
	}{
		{InvalidParam("forcetheme"), "errorinvalidparam (forcetheme)"},
		{Context(CodeCategoryContextNotValid, 7, nil), "errorcatcontextnotvalid (7)"},
		{Auth(CodeAccessException, "user suspended"), "accessexception: user suspended"},
		{Host(CodeDatabaseError, errors.New("disk full")), "dmlwriteexception: disk full"},
	}
	for _, tt := range tests {
		if got := tt.err.Error(); got != tt.want {
			t.Errorf("Error() = %q, want %q", got, tt.want)
		}
	}
}

func TestFromAndIsKind(t *testing.T) {
	if From(nil) != nil {
		t.Error("From(nil) should be nil")
	}

	perm := Permission("mod/quiz:addinstance")
	wrapped := fmt.Errorf("create mod: %w", perm)
	if got := From(wrapped); got != perm {
		t.Errorf("From(wrapped) = %v, want the original error", got)
	}
	if !IsKind(wrapped, KindPermission) {
		t.Error("IsKind(wrapped, KindPermission) = false")
	}
	if IsKind(wrapped, KindValidation) {
		t.Error("IsKind(wrapped, KindValidation) = true")
	}

	plain := errors.New("boom")
	got := From(plain)
	if got.Kind != KindHost || got.Code != CodeDatabaseError {
		t.Errorf("From(plain) = %+v", got)
	}
	if !errors.Is(got, plain) {
		t.Error("From(plain) should unwrap to the original error")
	}
}
