package webservice

import (
	"context"

	"github.com/pavelanni/suppcompanion/internal/model"
	"github.com/pavelanni/suppcompanion/internal/wserr"
)

// RequireContext fails with a context error when the category or course
// behind ref does not exist.
func (s *Service) RequireContext(ctx context.Context, ref model.ContextRef) error {
	ok, err := s.store.ContextExists(ctx, ref)
	if err != nil {
		return wserr.Host(wserr.CodeDatabaseError, err)
	}
	if ok {
		return nil
	}
	code := wserr.CodeCourseContextNotValid
	if ref.Level == model.ContextCategory {
		code = wserr.CodeCategoryContextNotValid
	}
	return wserr.Context(code, ref.InstanceID, nil)
}

// RequireCapability fails with a permission error unless userID holds
// capability in ref.
func (s *Service) RequireCapability(ctx context.Context, userID int64, capability string, ref model.ContextRef) error {
	ok, err := s.store.HasCapability(ctx, userID, capability, ref)
	if err != nil {
		return wserr.Host(wserr.CodeDatabaseError, err)
	}
	if !ok {
		return wserr.Permission(capability)
	}
	return nil
}
