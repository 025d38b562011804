package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/pavelanni/suppcompanion/internal/filestore"
	appI18n "github.com/pavelanni/suppcompanion/internal/i18n"
	"github.com/pavelanni/suppcompanion/internal/model"
	"github.com/pavelanni/suppcompanion/internal/provision"
	"github.com/pavelanni/suppcompanion/internal/store"
	"github.com/pavelanni/suppcompanion/internal/webservice"
)

type testEnv struct {
	srv    *httptest.Server
	store  *store.Store
	token  string
	userID int64
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	if err := appI18n.Init("en"); err != nil {
		t.Fatalf("i18n.Init: %v", err)
	}
	s, err := store.New(":memory:")
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	res, err := provision.Ensure(context.Background(), s, provision.Options{})
	if err != nil {
		t.Fatalf("provision.Ensure: %v", err)
	}

	blobs, err := filestore.NewLocal(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocal: %v", err)
	}
	svc := webservice.New(s, filestore.NewManager(s, blobs, filestore.Options{}), model.DefaultSiteConfig())
	h, err := New(s, svc, Config{Debug: true, Registry: prometheus.NewRegistry()})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	r := chi.NewRouter()
	h.Routes(r)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return &testEnv{srv: srv, store: s, token: res.Token, userID: res.UserID}
}

func (e *testEnv) restful(t *testing.T, function, auth string, body any, header http.Header) (int, map[string]any) {
	t.Helper()
	data, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	req, err := http.NewRequest(http.MethodPost, e.srv.URL+"/webservice/restful/server.php/"+function, strings.NewReader(string(data)))
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if auth != "" {
		req.Header.Set("Authorization", auth)
	}
	for k, v := range header {
		req.Header[k] = v
	}
	return do(t, req)
}

func do(t *testing.T, req *http.Request) (int, map[string]any) {
	t.Helper()
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	defer resp.Body.Close()
	var out map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return resp.StatusCode, out
}

func createCourseBody(userID int64, shortname string) map[string]any {
	return map[string]any{
		"userid": userID,
		"course": map[string]any{"fullname": "Course " + shortname, "shortname": shortname, "categoryid": 1},
	}
}

func TestRestfulCreateCourse(t *testing.T) {
	e := newTestEnv(t)

	for i, auth := range []string{e.token, "Bearer " + e.token} {
		shortname := fmt.Sprintf("rest%d", i)
		status, out := e.restful(t, webservice.FuncCreateCourse, auth, createCourseBody(e.userID, shortname), nil)
		if status != http.StatusOK {
			t.Fatalf("status = %d, body = %v", status, out)
		}
		if id, ok := out["courseid"].(float64); !ok || id <= 0 {
			t.Errorf("courseid = %v", out["courseid"])
		}
		if exists, _ := e.store.ShortNameExists(context.Background(), shortname); !exists {
			t.Errorf("course %s not created", shortname)
		}
	}
}

func TestRestfulErrors(t *testing.T) {
	e := newTestEnv(t)

	tests := []struct {
		name      string
		function  string
		auth      string
		body      any
		header    http.Header
		status    int
		code      string
		exception string
		message   string
	}{
		{
			name:      "no token",
			function:  webservice.FuncCreateCourse,
			body:      createCourseBody(e.userID, "x"),
			status:    http.StatusUnauthorized,
			code:      "invalidtoken",
			exception: "webservice_access_exception",
		},
		{
			name:      "unknown token",
			function:  webservice.FuncCreateCourse,
			auth:      strings.Repeat("0", 32),
			body:      createCourseBody(e.userID, "x"),
			status:    http.StatusUnauthorized,
			code:      "invalidtoken",
			exception: "webservice_access_exception",
		},
		{
			name:      "function outside the service",
			function:  "core_course_delete_courses",
			auth:      e.token,
			body:      map[string]any{},
			status:    http.StatusUnauthorized,
			code:      "accessexception",
			exception: "webservice_access_exception",
		},
		{
			name:      "missing course",
			function:  webservice.FuncCreateCourse,
			auth:      e.token,
			body:      map[string]any{"userid": e.userID},
			status:    http.StatusBadRequest,
			code:      "invalidparameter",
			exception: "invalid_parameter_exception",
			message:   "Invalid parameter value detected",
		},
		{
			name:     "missing category in german",
			function: webservice.FuncCreateCourse,
			auth:     e.token,
			body: map[string]any{
				"userid": e.userID,
				"course": map[string]any{"fullname": "F", "shortname": "s", "categoryid": 77},
			},
			header:    http.Header{"Accept-Language": {"de"}},
			status:    http.StatusNotFound,
			code:      "errorcatcontextnotvalid",
			exception: "moodle_exception",
			message:   "Funktionen können im Kontext dieses Kursbereichs nicht ausgeführt werden (Kursbereich-ID: 77).",
		},
		{
			name:      "get course without id",
			function:  webservice.FuncGetCourse,
			auth:      e.token,
			body:      map[string]any{"userid": e.userID},
			status:    http.StatusBadRequest,
			code:      "missingfield",
			exception: "invalid_parameter_exception",
			message:   "Required field \"courseid\" is missing",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, out := e.restful(t, tt.function, tt.auth, tt.body, tt.header)
			if status != tt.status {
				t.Errorf("status = %d, want %d (%v)", status, tt.status, out)
			}
			if out["errorcode"] != tt.code || out["exception"] != tt.exception {
				t.Errorf("body = %v", out)
			}
			if tt.message != "" && out["message"] != tt.message {
				t.Errorf("message = %q, want %q", out["message"], tt.message)
			}
		})
	}
}

func TestWebServicesDisabled(t *testing.T) {
	e := newTestEnv(t)
	if err := e.store.SetConfig(context.Background(), store.ConfigEnableWebServices, "0"); err != nil {
		t.Fatalf("SetConfig: %v", err)
	}
	status, out := e.restful(t, webservice.FuncCreateCourse, e.token, createCourseBody(e.userID, "x"), nil)
	if status != http.StatusUnauthorized || out["errorcode"] != "servicenotavailable" {
		t.Errorf("status = %d, body = %v", status, out)
	}
}

func TestUnauthorisedServiceUser(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	other, err := e.store.CreateUser(ctx, model.User{Username: "other", Confirmed: true})
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	svc, err := e.store.GetServiceByShortName(ctx, provision.ServiceShortName)
	if err != nil || svc == nil {
		t.Fatalf("service: %v", err)
	}
	token, err := e.store.CreateToken(ctx, other, svc.ID, time.Time{})
	if err != nil {
		t.Fatalf("CreateToken: %v", err)
	}
	status, out := e.restful(t, webservice.FuncGetCourse, token, map[string]any{"userid": other, "courseid": 1}, nil)
	if status != http.StatusUnauthorized || out["errorcode"] != "accessexception" {
		t.Errorf("status = %d, body = %v", status, out)
	}
}

func TestRestProtocol(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()

	form := url.Values{
		"wstoken":            {e.token},
		"wsfunction":         {webservice.FuncCreateCourse},
		"moodlewsrestformat": {"json"},
		"userid":             {fmt.Sprint(e.userID)},
		"course[fullname]":   {"Form course"},
		"course[shortname]":  {"form101"},
		"course[categoryid]": {"1"},
	}
	post := func() (int, map[string]any) {
		req, err := http.NewRequest(http.MethodPost, e.srv.URL+"/webservice/rest/server.php", strings.NewReader(form.Encode()))
		if err != nil {
			t.Fatalf("NewRequest: %v", err)
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		return do(t, req)
	}

	// Only restful is enabled by provisioning.
	status, out := post()
	if status != http.StatusUnauthorized || out["errorcode"] != "servicenotavailable" {
		t.Fatalf("status = %d, body = %v", status, out)
	}
	if err := e.store.EnableProtocol(ctx, ProtocolRest); err != nil {
		t.Fatalf("EnableProtocol: %v", err)
	}
	status, out = post()
	if status != http.StatusOK {
		t.Fatalf("status = %d, body = %v", status, out)
	}
	courseID := int64(out["courseid"].(float64))

	q := url.Values{
		"wstoken":    {e.token},
		"wsfunction": {webservice.FuncGetCourse},
		"userid":     {fmt.Sprint(e.userID)},
		"courseid":   {fmt.Sprint(courseID)},
	}
	req, _ := http.NewRequest(http.MethodGet, e.srv.URL+"/webservice/rest/server.php?"+q.Encode(), nil)
	status, out = do(t, req)
	if status != http.StatusOK {
		t.Fatalf("status = %d, body = %v", status, out)
	}
	course := out["course"].(map[string]any)
	if course["shortname"] != "form101" {
		t.Errorf("course = %v", course)
	}
}

func TestMetricsAndHealth(t *testing.T) {
	e := newTestEnv(t)
	e.restful(t, webservice.FuncCreateCourse, e.token, createCourseBody(e.userID, "m1"), nil)

	resp, err := http.Get(e.srv.URL + "/healthz")
	if err != nil {
		t.Fatalf("healthz: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("healthz status = %d", resp.StatusCode)
	}

	resp, err = http.Get(e.srv.URL + "/metrics")
	if err != nil {
		t.Fatalf("metrics: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	want := `suppcompanion_ws_calls_total{code="ok",function="local_suppcompanion_create_course"} 1`
	if !strings.Contains(string(body), want) {
		t.Errorf("metrics missing %q", want)
	}
}

func TestTokenFromRequest(t *testing.T) {
	tests := []struct {
		name   string
		header string
		target string
		want   string
	}{
		{"raw header", "abc", "/", "abc"},
		{"bearer header", "Bearer abc", "/", "abc"},
		{"query", "", "/?wstoken=xyz", "xyz"},
		{"header wins", "abc", "/?wstoken=xyz", "abc"},
		{"none", "", "/", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.target, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			if got := tokenFromRequest(req); got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}
