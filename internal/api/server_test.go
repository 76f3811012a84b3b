package api

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/nerrad567/gray-logic-hub/internal/auth"
	"github.com/nerrad567/gray-logic-hub/internal/hub"
	"github.com/nerrad567/gray-logic-hub/internal/infrastructure/config"
)

const (
	testSecret = "test-secret-key-at-least-32-characters-long"
	testToken  = "long-lived-test-token"
)

// testServer builds an API server over an ephemeral hub and serves it with
// httptest. mutate adjusts the configuration before anything is built.
func testServer(t *testing.T, mutate ...func(*config.Config)) (*Server, *hub.Hub, *httptest.Server) {
	t.Helper()
	ctx := context.Background()

	cfg := config.Default()
	cfg.Database.Path = filepath.Join(t.TempDir(), "hub.db")
	cfg.Auth = config.AuthConfig{
		JWTSecret:      testSecret,
		AccessTokenTTL: 30,
		LongLivedToken: []string{testToken},
		TokenCacheTTL:  60,
	}
	for _, m := range mutate {
		m(cfg)
	}

	h, err := hub.New(ctx, cfg, hub.Options{Version: "test", Ephemeral: true})
	if err != nil {
		t.Fatalf("hub.New() error: %v", err)
	}
	t.Cleanup(func() { h.Close(ctx) }) //nolint:errcheck // test teardown

	srv, err := New(Deps{Config: cfg, Hub: h, Auth: auth.NewValidator(cfg.Auth), Version: "test"})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		srv.Close() //nolint:errcheck // test teardown
		ts.Close()
	})
	return srv, h, ts
}

func TestNew_RequiresDeps(t *testing.T) {
	if _, err := New(Deps{}); err == nil {
		t.Error("New() with no config should fail")
	}
	if _, err := New(Deps{Config: config.Default()}); err == nil {
		t.Error("New() with no hub should fail")
	}
}

func TestHealth(t *testing.T) {
	srv, _, _ := testServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("health status = %d, want %d", w.Code, http.StatusOK)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q", ct)
	}

	var resp struct {
		Status  string            `json:"status"`
		Version string            `json:"version"`
		Checks  map[string]string `json:"checks"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.Status != "ok" || resp.Version != "test" {
		t.Errorf("health = %+v", resp)
	}
	if resp.Checks["database"] != "ok" {
		t.Errorf("database check = %q", resp.Checks["database"])
	}
}

func TestRoot(t *testing.T) {
	srv, _, _ := testServer(t)

	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if got := strings.TrimSpace(w.Body.String()); got != `{"message":"API running."}` {
		t.Errorf("body = %s", got)
	}
}

func TestRequestID(t *testing.T) {
	srv, _, _ := testServer(t)

	tests := []struct {
		name   string
		header string
	}{
		{"generated", ""},
		{"preserved", "client-req-123"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/", nil)
			if tt.header != "" {
				req.Header.Set("X-Request-ID", tt.header)
			}
			w := httptest.NewRecorder()
			srv.Handler().ServeHTTP(w, req)

			got := w.Header().Get("X-Request-ID")
			switch {
			case tt.header != "" && got != tt.header:
				t.Errorf("X-Request-ID = %q, want %q", got, tt.header)
			case tt.header == "" && len(got) != 36:
				t.Errorf("generated X-Request-ID = %q, want a UUID", got)
			}
		})
	}
}

func TestCORS(t *testing.T) {
	srv, _, _ := testServer(t, func(cfg *config.Config) {
		cfg.API.CORS.AllowedOrigins = []string{"http://panel.local"}
	})

	tests := []struct {
		origin string
		want   string
	}{
		{"http://panel.local", "http://panel.local"},
		{"http://evil.example", ""},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodOptions, "/api/", nil)
		req.Header.Set("Origin", tt.origin)
		w := httptest.NewRecorder()
		srv.Handler().ServeHTTP(w, req)

		if w.Code != http.StatusNoContent {
			t.Errorf("%s: preflight status = %d", tt.origin, w.Code)
		}
		if got := w.Header().Get("Access-Control-Allow-Origin"); got != tt.want {
			t.Errorf("%s: Allow-Origin = %q, want %q", tt.origin, got, tt.want)
		}
	}
}

func TestNotFound(t *testing.T) {
	srv, _, _ := testServer(t)

	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/nope", nil))
	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}

func TestStart_BindFailure(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()
	port := ln.Addr().(*net.TCPAddr).Port

	srv, _, _ := testServer(t, func(cfg *config.Config) {
		cfg.API.Host = "127.0.0.1"
		cfg.API.Port = port
	})
	if err := srv.Start(); err == nil {
		t.Fatal("Start() on a busy port should fail")
	}
}

func TestStartAndClose(t *testing.T) {
	srv, _, _ := testServer(t, func(cfg *config.Config) {
		cfg.API.Host = "127.0.0.1"
		cfg.API.Port = 0
	})
	if err := srv.Start(); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	if srv.Addr() == "" {
		t.Fatal("Addr() empty after Start")
	}

	resp, err := http.Get("http://" + srv.Addr() + "/api/")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d", resp.StatusCode)
	}

	if err := srv.Close(); err != nil {
		t.Errorf("Close() error: %v", err)
	}
}
