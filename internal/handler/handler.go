// Package handler exposes the web service functions over HTTP using the
// restful and rest protocols.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	appI18n "github.com/pavelanni/suppcompanion/internal/i18n"
	"github.com/pavelanni/suppcompanion/internal/model"
	"github.com/pavelanni/suppcompanion/internal/schema"
	"github.com/pavelanni/suppcompanion/internal/wserr"
)

// Web service protocol names as listed in the webserviceprotocols setting.
const (
	ProtocolRestful = "restful"
	ProtocolRest    = "rest"
)

// Caller runs a named web service function.
type Caller interface {
	Call(ctx context.Context, name string, raw map[string]any) (any, error)
}

// Store is the token and service data needed to authorise a request.
type Store interface {
	ConfigFlag(ctx context.Context, name string) (bool, error)
	Protocols(ctx context.Context) ([]string, error)
	GetToken(ctx context.Context, token string) (*model.Token, error)
	GetService(ctx context.Context, id int64) (*model.ExternalService, error)
	GetUserByID(ctx context.Context, id int64) (*model.User, error)
	IsServiceUser(ctx context.Context, serviceID, userID int64) (bool, error)
	ServiceHasFunction(ctx context.Context, serviceID int64, function string) (bool, error)
}

// Config controls the HTTP surface.
type Config struct {
	// Debug adds debuginfo to error responses.
	Debug bool
	// Registry collects the call metrics. A nil registry disables /metrics.
	Registry *prometheus.Registry
}

// Handler holds shared dependencies for HTTP handlers.
type Handler struct {
	store   Store
	service Caller
	config  Config
	metrics *metrics
}

// New creates a new Handler.
func New(s Store, svc Caller, cfg Config) (*Handler, error) {
	h := &Handler{store: s, service: svc, config: cfg}
	if cfg.Registry != nil {
		m, err := newMetrics(cfg.Registry)
		if err != nil {
			return nil, err
		}
		h.metrics = m
	}
	return h, nil
}

// Routes registers all HTTP routes.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/healthz", h.handleHealth)
	if h.config.Registry != nil {
		r.Handle("/metrics", promhttp.HandlerFor(h.config.Registry, promhttp.HandlerOpts{}))
	}
	r.Group(func(r chi.Router) {
		r.Use(appI18n.Middleware)
		r.With(h.requireToken(ProtocolRestful)).Post("/webservice/restful/server.php/{wsfunction}", h.handleRestful)
		r.With(h.requireToken(ProtocolRest)).Get("/webservice/rest/server.php", h.handleRest)
		r.With(h.requireToken(ProtocolRest)).Post("/webservice/rest/server.php", h.handleRest)
	})
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleRestful reads the parameters from a JSON body and the function
// name from the path.
func (h *Handler) handleRestful(w http.ResponseWriter, r *http.Request) {
	function := chi.URLParam(r, "wsfunction")

	params := map[string]any{}
	if r.ContentLength != 0 {
		var err error
		switch mediaType(r.Header.Get("Content-Type")) {
		case "", "application/json":
			params, err = schema.ReadJSON(r.Body)
		case "application/x-www-form-urlencoded":
			if err = r.ParseForm(); err == nil {
				params = schema.FromForm(r.PostForm)
			}
		default:
			err = errors.New("unsupported content type")
		}
		if err != nil {
			h.writeError(w, r, wserr.Validation(wserr.CodeInvalidParameter, "", err.Error()))
			return
		}
	}
	h.call(w, r, function, params)
}

// handleRest reads the function name and parameters from the query string
// or a form body.
func (h *Handler) handleRest(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		h.writeError(w, r, wserr.Validation(wserr.CodeInvalidParameter, "", err.Error()))
		return
	}
	if f := r.Form.Get("moodlewsrestformat"); f != "" && f != "json" {
		h.writeError(w, r, wserr.Validation(wserr.CodeInvalidParameter, "moodlewsrestformat", "only json is supported"))
		return
	}
	function := r.Form.Get("wsfunction")

	params := schema.FromForm(r.Form)
	for _, k := range []string{"wstoken", "wsfunction", "moodlewsrestformat", "lang"} {
		delete(params, k)
	}
	h.call(w, r, function, params)
}

func (h *Handler) call(w http.ResponseWriter, r *http.Request, function string, params map[string]any) {
	ctx := r.Context()
	if err := h.authoriseFunction(ctx, function); err != nil {
		h.writeError(w, r, err)
		return
	}

	start := time.Now()
	out, err := h.service.Call(ctx, function, params)
	h.metrics.observe(function, err, time.Since(start))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

type errorResponse struct {
	Exception string `json:"exception"`
	ErrorCode string `json:"errorcode"`
	Message   string `json:"message"`
	DebugInfo string `json:"debuginfo,omitempty"`
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	e := wserr.From(err)
	resp := errorResponse{
		Exception: e.Exception(),
		ErrorCode: e.Code,
		Message:   appI18n.ErrorMessage(r.Context(), e.Code, e.Param),
	}
	if h.config.Debug {
		switch {
		case e.Debug != "":
			resp.DebugInfo = e.Debug
		case e.Err != nil:
			resp.DebugInfo = e.Err.Error()
		}
	}
	if e.Kind == wserr.KindHost {
		slog.Error("web service failure", "path", r.URL.Path, "code", e.Code, "error", e.Err)
	}
	writeJSON(w, e.HTTPStatus(), resp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encode response", "error", err)
	}
}

func mediaType(contentType string) string {
	if contentType == "" {
		return ""
	}
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return strings.ToLower(contentType)
	}
	return mt
}
