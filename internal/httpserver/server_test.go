package httpserver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/keithlinneman/dentalacademy/internal/health"
	"github.com/keithlinneman/dentalacademy/internal/httpmw"
	"github.com/keithlinneman/dentalacademy/internal/log"
	"github.com/keithlinneman/dentalacademy/internal/policy"
)

func testPolicy(t *testing.T) *policy.Policy {
	t.Helper()
	p, err := policy.ForEnvironment(policy.EnvProduction, []string{"https://academy.example"})
	if err != nil {
		t.Fatal(err)
	}
	return &p
}

func doRequest(t *testing.T, h http.Handler, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, path, http.NoBody))
	return rec
}

func getFreePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp4", ":0")
	if err != nil {
		t.Fatalf("find free port: %v", err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()
	return port
}

func TestNewHandler_NilOptions(t *testing.T) {
	rec := doRequest(t, NewHandler(nil), http.MethodGet, "/anything")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestNewHandler_PolicyHeadersOnEveryResponse(t *testing.T) {
	h := NewHandler(&Options{
		Logger: log.Nop(),
		Policy: testPolicy(t),
		Health: health.Fixed(true, ""),
	})
	for _, path := range []string{"/-/healthy", "/missing"} {
		rec := doRequest(t, h, http.MethodGet, path)
		for _, name := range []string{"Content-Security-Policy", "X-Content-Type-Options", "Strict-Transport-Security"} {
			if rec.Header().Get(name) == "" {
				t.Errorf("%s: %s missing", path, name)
			}
		}
	}
}

func TestNewHandler_RequestIDEchoed(t *testing.T) {
	h := NewHandler(&Options{Logger: log.Nop()})

	rec := doRequest(t, h, http.MethodGet, "/")
	if rec.Header().Get("X-Request-Id") == "" {
		t.Fatal("X-Request-Id missing")
	}

	req := httptest.NewRequest(http.MethodGet, "/", http.NoBody)
	req.Header.Set("X-Request-Id", "edge-42")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if got := rec.Header().Get("X-Request-Id"); got != "edge-42" {
		t.Fatalf("X-Request-Id = %q, want edge-42", got)
	}
}

func TestNewHandler_Probes(t *testing.T) {
	var gate health.ShutdownGate
	h := NewHandler(&Options{
		Logger:    log.Nop(),
		Health:    health.Fixed(true, ""),
		Readiness: gate.Probe(),
	})

	if rec := doRequest(t, h, http.MethodGet, "/-/healthy"); rec.Code != http.StatusOK {
		t.Fatalf("healthy = %d", rec.Code)
	}
	if rec := doRequest(t, h, http.MethodGet, "/-/ready"); rec.Code != http.StatusOK {
		t.Fatalf("ready = %d", rec.Code)
	}
	gate.Set("draining")
	rec := doRequest(t, h, http.MethodGet, "/-/ready")
	if rec.Code != http.StatusServiceUnavailable || !strings.Contains(rec.Body.String(), "draining") {
		t.Fatalf("ready while draining = %d %q", rec.Code, rec.Body.String())
	}
}

func TestNewHandler_APIRoutesSeeClientIP(t *testing.T) {
	var got string
	h := NewHandler(&Options{
		Logger:       log.Nop(),
		ClientIPOpts: httpmw.ClientIPOptions{TrustProxyHeaders: true},
		APIRoutes: func(r chi.Router) {
			r.Get("/api/whoami", func(_ http.ResponseWriter, r *http.Request) {
				got = httpmw.ClientIPFromContext(r.Context())
			})
		},
	})

	req := httptest.NewRequest(http.MethodGet, "/api/whoami", http.NoBody)
	req.RemoteAddr = "10.1.2.3:5555"
	req.Header.Set("X-Real-IP", "198.51.100.30")
	h.ServeHTTP(httptest.NewRecorder(), req)

	if got != "198.51.100.30" {
		t.Fatalf("client ip = %q", got)
	}
}

func TestNewHandler_RateLimitRunsBeforeRouting(t *testing.T) {
	routed := false
	h := NewHandler(&Options{
		Logger: log.Nop(),
		Policy: testPolicy(t),
		RateLimitMW: func(http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(http.StatusTooManyRequests)
			})
		},
		APIRoutes: func(r chi.Router) {
			r.Get("/api/courses", func(http.ResponseWriter, *http.Request) { routed = true })
		},
	})

	rec := doRequest(t, h, http.MethodGet, "/api/courses")
	if rec.Code != http.StatusTooManyRequests || routed {
		t.Fatalf("status = %d routed = %v", rec.Code, routed)
	}
	if rec.Header().Get("Content-Security-Policy") == "" {
		t.Fatal("429 lacks policy headers")
	}
}

func TestNewHandler_RecoverAndOnPanic(t *testing.T) {
	panics := 0
	routes := func(r chi.Router) {
		r.Get("/api/boom", func(http.ResponseWriter, *http.Request) { panic(errors.New("boom")) })
	}

	h := NewHandler(&Options{Logger: log.Nop(), UseRecoverMW: true, OnPanic: func() { panics++ }, APIRoutes: routes})
	rec := doRequest(t, h, http.MethodGet, "/api/boom")
	if rec.Code != http.StatusInternalServerError || panics != 1 {
		t.Fatalf("status = %d panics = %d", rec.Code, panics)
	}
	if strings.Contains(rec.Body.String(), "boom") {
		t.Fatalf("panic detail leaked: %s", rec.Body.String())
	}
}

func TestNewHandler_MaxBody(t *testing.T) {
	h := NewHandler(&Options{
		Logger:       log.Nop(),
		MaxBodyBytes: 16,
		APIRoutes: func(r chi.Router) {
			r.Post("/api/echo", func(w http.ResponseWriter, r *http.Request) {
				_, _ = io.Copy(w, r.Body)
			})
		},
	})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/echo", strings.NewReader(strings.Repeat("x", 64))))
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("status = %d, want 413", rec.Code)
	}
}

func TestNewHandler_MetricsWrapsRouter(t *testing.T) {
	var sawRoute string
	h := NewHandler(&Options{
		Logger: log.Nop(),
		MetricsMW: func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				rctx := chi.NewRouteContext()
				r = r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
				next.ServeHTTP(w, r)
				sawRoute = rctx.RoutePattern()
			})
		},
		APIRoutes: func(r chi.Router) {
			r.Get("/api/courses/{id}", func(http.ResponseWriter, *http.Request) {})
		},
	})

	doRequest(t, h, http.MethodGet, "/api/courses/abc")
	if sawRoute != "/api/courses/{id}" {
		t.Fatalf("route seen by metrics = %q", sawRoute)
	}
}

func TestNewHandler_CompressesJSON(t *testing.T) {
	payload := `{"data":"` + strings.Repeat("a", 2048) + `"}`
	h := NewHandler(&Options{
		Logger: log.Nop(),
		APIRoutes: func(r chi.Router) {
			r.Get("/api/big", func(w http.ResponseWriter, _ *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				_, _ = w.Write([]byte(payload))
			})
		},
	})

	req := httptest.NewRequest(http.MethodGet, "/api/big", http.NoBody)
	req.Header.Set("Accept-Encoding", "gzip")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Header().Get("Content-Encoding") != "gzip" {
		t.Fatalf("Content-Encoding = %q, want gzip", rec.Header().Get("Content-Encoding"))
	}

	rec = doRequest(t, h, http.MethodGet, "/api/big")
	if rec.Header().Get("Content-Encoding") != "" || rec.Body.String() != payload {
		t.Fatal("response compressed without Accept-Encoding")
	}
}

func TestNewServer_Timeouts(t *testing.T) {
	srv := NewServer(":0", http.NotFoundHandler())
	if srv.ReadHeaderTimeout != DefaultReadHeaderTimeout || srv.WriteTimeout != DefaultWriteTimeout {
		t.Fatalf("timeouts = %v/%v", srv.ReadHeaderTimeout, srv.WriteTimeout)
	}
	if srv.MaxHeaderBytes != DefaultMaxHeaderBytes {
		t.Fatalf("MaxHeaderBytes = %d", srv.MaxHeaderBytes)
	}
}

func TestStart_ServeAndShutdown(t *testing.T) {
	port := getFreePort(t)
	opts := &Options{
		Logger: log.Nop(),
		Port:   port,
		Health: health.Fixed(true, ""),
	}

	ctx := context.Background()
	stop, err := Start(ctx, opts)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	if _, err := Start(ctx, opts); err == nil {
		t.Fatal("expected error for port conflict")
	}

	addr := fmt.Sprintf("http://127.0.0.1:%d/-/healthy", port)
	resp, err := http.Get(addr)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}

	sctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := stop(sctx); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if err := stop(sctx); err != nil {
		t.Fatalf("second stop: %v", err)
	}

	time.Sleep(50 * time.Millisecond)
	if _, err := http.Get(addr); err == nil {
		t.Fatal("server still accepting connections after shutdown")
	}
}
