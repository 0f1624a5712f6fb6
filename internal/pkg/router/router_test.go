package router

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/shandysiswandi/pulsarbite/internal/pkg/config"
	"github.com/shandysiswandi/pulsarbite/internal/pkg/goerror"
	"github.com/shandysiswandi/pulsarbite/internal/pkg/instrument"
	"github.com/shandysiswandi/pulsarbite/internal/pkg/jsoncodec"
)

type fixedID string

func (f fixedID) Generate() string { return string(f) }

type accepted struct {
	ID string `json:"id"`
}

func (accepted) StatusCode() int { return http.StatusAccepted }
func (accepted) Message() string { return "accepted" }

func newTestRouter(t *testing.T, yaml string) *Router {
	t.Helper()
	cfg, err := config.NewViperFromBytes("yaml", []byte(yaml))
	if err != nil {
		t.Fatalf("NewViperFromBytes() error = %v", err)
	}
	return NewRouter(Config{Config: cfg, UUID: fixedID("generated-cid"), Instrument: instrument.NewNoop()})
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := jsoncodec.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("response is not json: %v (%q)", err, rec.Body.String())
	}
	return body
}

func TestRouter_Endpoint(t *testing.T) {
	r := newTestRouter(t, "app: {}")
	r.POST("/api/v1/things", func(req *Request) (any, error) {
		var in struct {
			Name string `json:"name"`
		}
		if err := req.DecodeBody(&in); err != nil {
			return nil, err
		}
		switch in.Name {
		case "conflict":
			return nil, goerror.NewBusiness("Request in progress", goerror.CodeConflict)
		case "boom":
			return nil, errors.New("boom")
		case "empty":
			return nil, nil
		}
		return accepted{ID: in.Name}, nil
	})

	tests := []struct {
		name       string
		body       string
		wantStatus int
		wantMsg    string
	}{
		{name: "Accepted", body: `{"name":"abc"}`, wantStatus: http.StatusAccepted, wantMsg: "accepted"},
		{name: "UnknownField", body: `{"name":"abc","x":1}`, wantStatus: http.StatusBadRequest, wantMsg: "Invalid request body"},
		{name: "NotJSON", body: `{`, wantStatus: http.StatusBadRequest, wantMsg: "Invalid JSON body"},
		{name: "BusinessError", body: `{"name":"conflict"}`, wantStatus: http.StatusConflict, wantMsg: "Request in progress"},
		{name: "PlainError", body: `{"name":"boom"}`, wantStatus: http.StatusInternalServerError, wantMsg: "Internal server error"},
		{name: "NoContent", body: `{"name":"empty"}`, wantStatus: http.StatusNoContent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Arrange
			req := httptest.NewRequest(http.MethodPost, "/api/v1/things", strings.NewReader(tt.body))
			rec := httptest.NewRecorder()

			// Act
			r.ServeHTTP(rec, req)

			// Assert
			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d (%s)", rec.Code, tt.wantStatus, rec.Body.String())
			}
			if tt.wantMsg == "" {
				return
			}
			if got := decode(t, rec)["message"]; got != tt.wantMsg {
				t.Fatalf("message = %v, want %q", got, tt.wantMsg)
			}
		})
	}
}

func TestRouter_CorrelationID(t *testing.T) {
	r := newTestRouter(t, "app: {}")
	var seen string
	r.GET("/cid", func(req *Request) (any, error) {
		seen = instrument.GetCorrelationID(req.Context())
		return map[string]string{}, nil
	})

	tests := []struct {
		name   string
		header map[string]string
		want   string
	}{
		{name: "Generated", want: "generated-cid"},
		{name: "FromCorrelationHeader", header: map[string]string{HeaderCorrelationID: "abc"}, want: "abc"},
		{name: "FromRequestID", header: map[string]string{HeaderRequestID: " req-1 "}, want: "req-1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/cid", nil)
			for k, v := range tt.header {
				req.Header.Set(k, v)
			}
			rec := httptest.NewRecorder()

			r.ServeHTTP(rec, req)

			if seen != tt.want {
				t.Fatalf("context cid = %q, want %q", seen, tt.want)
			}
			if got := rec.Header().Get(HeaderCorrelationID); got != tt.want {
				t.Fatalf("response cid = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestRouter_Maintenance(t *testing.T) {
	r := newTestRouter(t, `
app:
  maintenance:
    endpoints: "POST /api/v1/things"
`)
	ok := func(*Request) (any, error) { return map[string]string{}, nil }
	r.POST("/api/v1/things", ok)
	r.GET("/api/v1/things", ok)

	post := httptest.NewRecorder()
	r.ServeHTTP(post, httptest.NewRequest(http.MethodPost, "/api/v1/things", strings.NewReader(`{}`)))
	if post.Code != http.StatusServiceUnavailable {
		t.Fatalf("POST status = %d, want 503", post.Code)
	}

	get := httptest.NewRecorder()
	r.ServeHTTP(get, httptest.NewRequest(http.MethodGet, "/api/v1/things", nil))
	if get.Code != http.StatusOK {
		t.Fatalf("GET status = %d, want 200", get.Code)
	}
}

func TestUnderMaintenance(t *testing.T) {
	tests := []struct {
		name    string
		entries []string
		method  string
		route   string
		want    bool
	}{
		{name: "RouteOnly", entries: []string{"/a"}, method: http.MethodGet, route: "/a", want: true},
		{name: "MethodMismatch", entries: []string{"POST /a"}, method: http.MethodGet, route: "/a"},
		{name: "MethodCaseInsensitive", entries: []string{"post /a"}, method: http.MethodPost, route: "/a", want: true},
		{name: "WildcardSparesHealth", entries: []string{"*"}, method: http.MethodGet, route: "/health"},
		{name: "Wildcard", entries: []string{"*"}, method: http.MethodGet, route: "/a", want: true},
		{name: "Empty", method: http.MethodGet, route: "/a"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := underMaintenance(tt.entries, tt.method, tt.route); got != tt.want {
				t.Fatalf("underMaintenance() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRouter_RecoversPanic(t *testing.T) {
	r := newTestRouter(t, "app: {}")
	r.GET("/panic", func(*Request) (any, error) { panic("kaboom") })

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/panic", nil))

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
	if got := decode(t, rec)["message"]; got != "Internal server error" {
		t.Fatalf("message = %v", got)
	}
}

func TestRouter_NotFoundAndRaw(t *testing.T) {
	r := newTestRouter(t, "app: {}")
	r.GETRaw("/metrics", http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("# metrics\n"))
	}))

	raw := httptest.NewRecorder()
	r.ServeHTTP(raw, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if raw.Code != http.StatusOK || raw.Body.String() != "# metrics\n" {
		t.Fatalf("raw = %d %q", raw.Code, raw.Body.String())
	}

	missing := httptest.NewRecorder()
	r.ServeHTTP(missing, httptest.NewRequest(http.MethodGet, "/nope", nil))
	if missing.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", missing.Code)
	}
}

func TestClientIP(t *testing.T) {
	tests := []struct {
		name   string
		header map[string]string
		remote string
		want   string
	}{
		{name: "TrueClientIP", header: map[string]string{"True-Client-IP": "10.0.0.1"}, remote: "1.1.1.1:80", want: "10.0.0.1"},
		{name: "ForwardedFirstHop", header: map[string]string{"X-Forwarded-For": " 10.0.0.2 , 10.0.0.3"}, remote: "1.1.1.1:80", want: "10.0.0.2"},
		{name: "InvalidHeaderFallsBack", header: map[string]string{"X-Real-IP": "nope"}, remote: "1.1.1.1:80", want: "1.1.1.1"},
		{name: "Nothing", remote: "garbage", want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remote
			for k, v := range tt.header {
				req.Header.Set(k, v)
			}
			if got := clientIP(req); got != tt.want {
				t.Fatalf("clientIP() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestMasker_Body(t *testing.T) {
	m := masker{"token": {}}

	got := m.body([]byte(`{"token":"secret","nested":[{"Token":"x","id":1}]}`), false)

	b, err := jsoncodec.Marshal(got)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	if strings.Contains(string(b), "secret") || strings.Contains(string(b), `"x"`) {
		t.Fatalf("masked body leaked secret: %s", b)
	}
}
