// Package wserr defines the typed failures returned by web service functions.
//
// Every failure carries a Kind so callers can branch on validation, context,
// permission, policy, auth or host failures without string matching. The
// Code is the language string identifier that the transport localizes and
// reports as "errorcode".
package wserr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies a failure.
type Kind int

const (
	// KindHost is an unexpected failure in a collaborator (storage, files).
	KindHost Kind = iota
	// KindValidation is a malformed or missing parameter.
	KindValidation
	// KindContext is an unresolvable category or course reference.
	KindContext
	// KindPermission is a missing capability.
	KindPermission
	// KindPolicy is a well-formed request that the site refuses, such as a disallowed module type.
	KindPolicy
	// KindAuth is a missing, invalid or unauthorised token.
	KindAuth
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindContext:
		return "context"
	case KindPermission:
		return "permission"
	case KindPolicy:
		return "policy"
	case KindAuth:
		return "auth"
	}
	return "host"
}

// Error codes used across the service.
const (
	CodeInvalidParameter        = "invalidparameter"
	CodeInvalidParam            = "errorinvalidparam"
	CodeMissingField            = "missingfield"
	CodeCategoryContextNotValid = "errorcatcontextnotvalid"
	CodeCourseContextNotValid   = "errorcoursecontextnotvalid"
	CodeNoPermissions           = "nopermissions"
	CodeContentNotAllowed       = "contentnotallowed"
	CodeCourseIDNumberTaken     = "courseidnumbertaken"
	CodeInvalidToken            = "invalidtoken"
	CodeServiceNotAvailable     = "servicenotavailable"
	CodeAccessException         = "accessexception"
	CodeFunctionNotFound        = "invalidfunction"
	CodeFileDownloadFailed      = "cannotdownloadfile"
	CodeFileTooLarge            = "maxbytesfile"
	CodeDatabaseError           = "dmlwriteexception"
	CodeInvalidResponse         = "invalidresponse"
)

// Error is a web service failure.
type Error struct {
	Kind Kind
	// Code is the language string identifier.
	Code string
	// Param is substituted into the localized message (a field path, an id, a capability).
	Param string
	// Debug is extra detail reported as debuginfo.
	Debug string
	Err   error
}

func (e *Error) Error() string {
	msg := e.Code
	if e.Param != "" {
		msg += " (" + e.Param + ")"
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	if e.Debug != "" {
		return msg + ": " + e.Debug
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Exception returns the exception class name reported to clients.
func (e *Error) Exception() string {
	switch e.Kind {
	case KindValidation:
		return "invalid_parameter_exception"
	case KindPermission:
		return "required_capability_exception"
	case KindAuth:
		return "webservice_access_exception"
	case KindHost:
		if e.Code == CodeDatabaseError {
			return "dml_write_exception"
		}
	}
	return "moodle_exception"
}

// HTTPStatus maps the failure kind to a response status.
func (e *Error) HTTPStatus() int {
	switch e.Kind {
	case KindValidation, KindPolicy:
		return http.StatusBadRequest
	case KindContext:
		return http.StatusNotFound
	case KindPermission:
		return http.StatusForbidden
	case KindAuth:
		return http.StatusUnauthorized
	}
	return http.StatusInternalServerError
}

// Validation returns a parameter validation failure for the given field.
func Validation(code, field, debug string) *Error {
	return &Error{Kind: KindValidation, Code: code, Param: field, Debug: debug}
}

// InvalidParam returns an errorinvalidparam failure naming field.
func InvalidParam(field string) *Error {
	return &Error{Kind: KindValidation, Code: CodeInvalidParam, Param: field}
}

// Context returns a context resolution failure for the given id.
func Context(code string, id int64, err error) *Error {
	return &Error{Kind: KindContext, Code: code, Param: fmt.Sprint(id), Err: err}
}

// ContextName returns a context resolution failure for a reference given by name.
func ContextName(code, name string) *Error {
	return &Error{Kind: KindContext, Code: code, Param: name}
}

// Permission returns a missing capability failure.
func Permission(capability string) *Error {
	return &Error{Kind: KindPermission, Code: CodeNoPermissions, Param: capability}
}

// Policy returns a refused-content failure naming the offending value.
func Policy(code, param string) *Error {
	return &Error{Kind: KindPolicy, Code: code, Param: param}
}

// Auth returns an access failure.
func Auth(code, debug string) *Error {
	return &Error{Kind: KindAuth, Code: code, Debug: debug}
}

// Host wraps a collaborator failure.
func Host(code string, err error) *Error {
	return &Error{Kind: KindHost, Code: code, Err: err}
}

// From extracts an *Error from err, wrapping anything else as a host failure.
func From(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return Host(CodeDatabaseError, err)
}

// IsKind reports whether err carries a failure of kind k.
func IsKind(err error, k Kind) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == k
}
