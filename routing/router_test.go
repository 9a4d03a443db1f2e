package routing_test

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/km-arc/modgraph/routing"
)

// ── helpers ──────────────────────────────────────────────────────────────────

func okHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func do(t *testing.T, router *routing.Router, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	return rr
}

// ── Verbs ─────────────────────────────────────────────────────────────────────

func TestRouter_Verbs(t *testing.T) {
	r := routing.New(zerolog.Nop())
	r.Get("/modules", okHandler)
	r.Post("/reinit", okHandler)
	r.Delete("/modules/{id}/imports/{target}", okHandler)

	tests := []struct {
		method, path string
		want         int
	}{
		{http.MethodGet, "/modules", http.StatusOK},
		{http.MethodPost, "/reinit", http.StatusOK},
		{http.MethodPut, "/modules", http.StatusMethodNotAllowed},
		{http.MethodDelete, "/modules/users/imports/db", http.StatusOK},
		{http.MethodGet, "/reinit", http.StatusMethodNotAllowed},
		{http.MethodGet, "/nope", http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			if rr := do(t, r, tt.method, tt.path); rr.Code != tt.want {
				t.Errorf("got %d want %d", rr.Code, tt.want)
			}
		})
	}
}

func TestRouter_Param(t *testing.T) {
	r := routing.New(zerolog.Nop())
	r.Get("/modules/{id}", func(w http.ResponseWriter, req *http.Request) {
		_, _ = w.Write([]byte(routing.Param(req, "id")))
	})

	rr := do(t, r, http.MethodGet, "/modules/users")
	if rr.Body.String() != "users" {
		t.Errorf("got body %q want %q", rr.Body.String(), "users")
	}
}

// ── Prefix / Group ───────────────────────────────────────────────────────────

func TestRouter_Prefix(t *testing.T) {
	r := routing.New(zerolog.Nop())
	r.Prefix("/admin", func(api *routing.Router) {
		api.Get("/modules", okHandler)
	})

	if rr := do(t, r, http.MethodGet, "/admin/modules"); rr.Code != http.StatusOK {
		t.Errorf("GET /admin/modules: got %d want 200", rr.Code)
	}
	if rr := do(t, r, http.MethodGet, "/modules"); rr.Code != http.StatusNotFound {
		t.Errorf("GET /modules: expected 404, got %d", rr.Code)
	}
}

func TestRouter_Group_Middleware(t *testing.T) {
	called := false
	mw := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			called = true
			next.ServeHTTP(w, r)
		})
	}

	r := routing.New(zerolog.Nop())
	r.Get("/open", okHandler)
	r.Group(func(g *routing.Router) {
		g.Middleware(mw)
		g.Get("/protected", okHandler)
	})

	do(t, r, http.MethodGet, "/open")
	if called {
		t.Error("group middleware ran outside its group")
	}
	do(t, r, http.MethodGet, "/protected")
	if !called {
		t.Error("expected middleware to be called")
	}
}

func TestRouter_Handle(t *testing.T) {
	r := routing.New(zerolog.Nop())
	r.Handle("/metrics", http.HandlerFunc(okHandler))

	if rr := do(t, r, http.MethodGet, "/metrics"); rr.Code != http.StatusOK {
		t.Errorf("got %d want 200", rr.Code)
	}
}

func TestRouter_RecoversPanics(t *testing.T) {
	r := routing.New(zerolog.Nop())
	r.Get("/boom", func(http.ResponseWriter, *http.Request) { panic("boom") })

	if rr := do(t, r, http.MethodGet, "/boom"); rr.Code != http.StatusInternalServerError {
		t.Errorf("got %d want 500", rr.Code)
	}
}

func TestRequestLogger(t *testing.T) {
	var out bytes.Buffer
	r := routing.New(zerolog.New(&out))
	r.Get("/modules", okHandler)

	do(t, r, http.MethodGet, "/modules")
	line := out.String()
	for _, want := range []string{`"method":"GET"`, `"path":"/modules"`, `"status":200`, `"request_id":`} {
		if !strings.Contains(line, want) {
			t.Errorf("log line %s missing %s", line, want)
		}
	}
}

func TestRouter_HandlerInterface(t *testing.T) {
	var _ http.Handler = routing.New(zerolog.Nop())
	var _ http.Handler = routing.New(zerolog.Nop()).Handler()
}
