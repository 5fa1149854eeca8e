package httpmw

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/keithlinneman/dentalacademy/internal/apierr"
)

func TestRecover(t *testing.T) {
	sentinel := errors.New("store exploded")
	tests := []struct {
		name    string
		panicV  any
		wantMsg string
		wantIs  error
	}{
		{"error value", sentinel, "panic: store exploded", sentinel},
		{"string value", "nil course", "panic: nil course", nil},
		{"int value", 42, "panic: 42", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fl := &flatLogger{}
			panics := 0
			h := Recover(fl, func() { panics++ })(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
				panic(tt.panicV)
			}))
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/orders", http.NoBody))

			if rec.Code != http.StatusInternalServerError {
				t.Fatalf("status = %d, want 500", rec.Code)
			}
			var env apierr.Envelope
			if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
				t.Fatalf("body %q: %v", rec.Body.String(), err)
			}
			if env.Success || env.Error != "Internal server error" {
				t.Fatalf("envelope = %+v", env)
			}
			// panic detail must not reach the client
			if strings.Contains(rec.Body.String(), "panic") {
				t.Fatalf("body leaks panic: %s", rec.Body.String())
			}
			if panics != 1 {
				t.Fatalf("onPanic calls = %d", panics)
			}

			entry, ok := fl.last()
			if !ok || entry.level != "error" || entry.msg != "httpserver panic recovered" {
				t.Fatalf("log = %+v", entry)
			}
			if entry.err == nil || entry.err.Error() != tt.wantMsg {
				t.Fatalf("logged err = %v, want %q", entry.err, tt.wantMsg)
			}
			if tt.wantIs != nil && !errors.Is(entry.err, tt.wantIs) {
				t.Fatalf("logged err does not wrap the panic value")
			}
		})
	}
}

func TestRecover_PassThrough(t *testing.T) {
	fl := &flatLogger{}
	h := Recover(fl, nil)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusCreated)
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", http.NoBody))
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d", rec.Code)
	}
	if _, ok := fl.last(); ok {
		t.Fatal("logged without a panic")
	}
}

func TestRecover_ReraisesAbortHandler(t *testing.T) {
	h := Recover(nil, func() { t.Error("onPanic called for ErrAbortHandler") })(
		http.HandlerFunc(func(http.ResponseWriter, *http.Request) { panic(http.ErrAbortHandler) }),
	)
	defer func() {
		if rec := recover(); rec != http.ErrAbortHandler {
			t.Fatalf("recovered %v, want http.ErrAbortHandler", rec)
		}
	}()
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", http.NoBody))
}
