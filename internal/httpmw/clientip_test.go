package httpmw

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestExtractRealClientAddr(t *testing.T) {
	tests := []struct {
		name    string
		opts    ClientIPOptions
		remote  string
		headers map[string]string
		want    string
	}{
		{"no trust ignores xff", ClientIPOptions{}, "10.0.0.1:1234", map[string]string{"X-Forwarded-For": "203.0.113.50"}, "10.0.0.1"},
		{"no trust ignores x-real-ip", ClientIPOptions{}, "10.0.0.1:1234", map[string]string{"X-Real-IP": "203.0.113.50"}, "10.0.0.1"},
		{"public peer never trusted", ClientIPOptions{TrustProxyHeaders: true}, "203.0.113.1:1234", map[string]string{"X-Forwarded-For": "10.9.9.9"}, "203.0.113.1"},
		{"trusted single hop takes rightmost", ClientIPOptions{TrustProxyHeaders: true}, "10.0.0.1:1234", map[string]string{"X-Forwarded-For": "1.1.1.1, 198.51.100.7"}, "198.51.100.7"},
		{"two hops", ClientIPOptions{TrustedHops: 2}, "10.0.0.1:1234", map[string]string{"X-Forwarded-For": "1.1.1.1, 198.51.100.7, 10.0.0.9"}, "198.51.100.7"},
		{"too few entries fails closed", ClientIPOptions{TrustedHops: 3}, "10.0.0.1:1234", map[string]string{"X-Forwarded-For": "198.51.100.7"}, "10.0.0.1"},
		{"garbage xff falls through to x-real-ip", ClientIPOptions{TrustProxyHeaders: true}, "10.0.0.1:1234", map[string]string{"X-Forwarded-For": "not-an-ip", "X-Real-IP": "198.51.100.8"}, "198.51.100.8"},
		{"x-real-ip before x-client-ip", ClientIPOptions{TrustProxyHeaders: true}, "127.0.0.1:1234", map[string]string{"X-Real-IP": "198.51.100.8", "X-Client-IP": "198.51.100.9"}, "198.51.100.8"},
		{"x-client-ip last resort", ClientIPOptions{TrustProxyHeaders: true}, "192.168.1.1:1234", map[string]string{"X-Client-IP": "198.51.100.9"}, "198.51.100.9"},
		{"ipv6 peer", ClientIPOptions{}, "[2001:db8::1]:443", nil, "2001:db8::1"},
		{"malformed remote addr", ClientIPOptions{}, "garbage", nil, "garbage"},
		{"unparsable host", ClientIPOptions{}, "nothost:80", nil, "0.0.0.0"},
		{"empty remote addr", ClientIPOptions{}, "", nil, "0.0.0.0"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/", http.NoBody)
			r.RemoteAddr = tt.remote
			for k, v := range tt.headers {
				r.Header.Set(k, v)
			}
			if got := extractRealClientAddr(r, tt.opts); got != tt.want {
				t.Fatalf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestExtractRealClientAddr_StripsUntrustedHeaders(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", http.NoBody)
	r.RemoteAddr = "203.0.113.1:1234"
	for _, h := range forwardedHeaders {
		r.Header.Set(h, "198.51.100.1")
	}
	extractRealClientAddr(r, ClientIPOptions{TrustProxyHeaders: true})
	for _, h := range forwardedHeaders {
		if r.Header.Get(h) != "" {
			t.Errorf("%s not stripped", h)
		}
	}
}

func TestClientIPWithOptions_Middleware(t *testing.T) {
	var got string
	h := ClientIPWithOptions(ClientIPOptions{TrustProxyHeaders: true})(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		got = ClientIPFromContext(r.Context())
	}))
	r := httptest.NewRequest(http.MethodGet, "/", http.NoBody)
	r.RemoteAddr = "10.0.0.2:5555"
	r.Header.Set("X-Forwarded-For", "198.51.100.20")
	h.ServeHTTP(httptest.NewRecorder(), r)
	if got != "198.51.100.20" {
		t.Fatalf("client ip = %q", got)
	}

	ClientIP(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		got = ClientIPFromContext(r.Context())
	})).ServeHTTP(httptest.NewRecorder(), r)
	if got != "10.0.0.2" {
		t.Fatalf("default middleware client ip = %q", got)
	}
}

func TestWithClientIP(t *testing.T) {
	ctx := WithClientIP(context.Background(), "192.0.2.1")
	if got := ClientIPFromContext(ctx); got != "192.0.2.1" {
		t.Fatalf("round trip = %q", got)
	}
	if got := ClientIPFromContext(WithClientIP(context.Background(), "")); got != "" {
		t.Fatalf("empty = %q", got)
	}
}
