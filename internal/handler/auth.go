package handler

import (
	"context"
	"log/slog"
	"net/http"
	"slices"
	"strings"

	"github.com/pavelanni/suppcompanion/internal/model"
	"github.com/pavelanni/suppcompanion/internal/store"
	"github.com/pavelanni/suppcompanion/internal/wserr"
)

// tokenFromRequest reads the token from the Authorization header, raw or
// as a Bearer credential, falling back to the wstoken parameter.
func tokenFromRequest(r *http.Request) string {
	if h := strings.TrimSpace(r.Header.Get("Authorization")); h != "" {
		if scheme, rest, ok := strings.Cut(h, " "); ok && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(rest)
		}
		return h
	}
	if t := r.URL.Query().Get("wstoken"); t != "" {
		return t
	}
	return r.PostFormValue("wstoken")
}

// requireToken is middleware that resolves the token owner and service for
// a protocol and stores them in the request context.
func (h *Handler) requireToken(protocol string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, svc, err := h.authenticate(r.Context(), protocol, tokenFromRequest(r))
			if err != nil {
				slog.Warn("web service access denied", "protocol", protocol, "remote", r.RemoteAddr, "error", err)
				h.writeError(w, r, err)
				return
			}
			ctx := model.ContextWithUser(r.Context(), user)
			ctx = model.ContextWithService(ctx, svc)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func (h *Handler) authenticate(ctx context.Context, protocol, token string) (*model.User, *model.ExternalService, error) {
	enabled, err := h.store.ConfigFlag(ctx, store.ConfigEnableWebServices)
	if err != nil {
		return nil, nil, wserr.Host(wserr.CodeDatabaseError, err)
	}
	if !enabled {
		return nil, nil, wserr.Auth(wserr.CodeServiceNotAvailable, "web services are disabled")
	}
	protocols, err := h.store.Protocols(ctx)
	if err != nil {
		return nil, nil, wserr.Host(wserr.CodeDatabaseError, err)
	}
	if !slices.Contains(protocols, protocol) {
		return nil, nil, wserr.Auth(wserr.CodeServiceNotAvailable, "protocol "+protocol+" is disabled")
	}

	if token == "" {
		return nil, nil, wserr.Auth(wserr.CodeInvalidToken, "no token")
	}
	t, err := h.store.GetToken(ctx, token)
	if err != nil {
		return nil, nil, wserr.Host(wserr.CodeDatabaseError, err)
	}
	if t == nil {
		return nil, nil, wserr.Auth(wserr.CodeInvalidToken, "token not found or expired")
	}

	svc, err := h.store.GetService(ctx, t.ServiceID)
	if err != nil {
		return nil, nil, wserr.Host(wserr.CodeDatabaseError, err)
	}
	if svc == nil || !svc.Enabled {
		return nil, nil, wserr.Auth(wserr.CodeServiceNotAvailable, "service disabled")
	}

	user, err := h.store.GetUserByID(ctx, t.UserID)
	if err != nil {
		return nil, nil, wserr.Host(wserr.CodeDatabaseError, err)
	}
	if user == nil || user.Suspended {
		return nil, nil, wserr.Auth(wserr.CodeAccessException, "user missing or suspended")
	}
	if svc.RestrictedUsers {
		ok, err := h.store.IsServiceUser(ctx, svc.ID, user.ID)
		if err != nil {
			return nil, nil, wserr.Host(wserr.CodeDatabaseError, err)
		}
		if !ok {
			return nil, nil, wserr.Auth(wserr.CodeAccessException, "user is not authorised for the service")
		}
	}
	return user, svc, nil
}

// authoriseFunction checks that the request's service offers function.
func (h *Handler) authoriseFunction(ctx context.Context, function string) error {
	svc := model.ServiceFromContext(ctx)
	if svc == nil {
		return wserr.Auth(wserr.CodeAccessException, "no service in request")
	}
	if function == "" {
		return wserr.Validation(wserr.CodeMissingField, "wsfunction", "")
	}
	ok, err := h.store.ServiceHasFunction(ctx, svc.ID, function)
	if err != nil {
		return wserr.Host(wserr.CodeDatabaseError, err)
	}
	if !ok {
		return wserr.Auth(wserr.CodeAccessException, "function "+function+" is not part of service "+svc.ShortName)
	}
	return nil
}
