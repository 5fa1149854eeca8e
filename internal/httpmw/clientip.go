package httpmw

import (
	"context"
	"net"
	"net/http"
	"strings"
)

type clientIPKey struct{}

// ClientIPOptions configures how far forwarded headers are trusted.
type ClientIPOptions struct {
	// TrustProxyHeaders enables X-Forwarded-For, X-Real-IP and X-Client-IP,
	// and only for requests whose peer is on a private network.
	TrustProxyHeaders bool

	// TrustedHops is the number of proxies in front of us. 1 takes the
	// rightmost X-Forwarded-For entry, 2 the one before it. A positive value
	// implies TrustProxyHeaders; with trust on and no hops set, 1 is used.
	TrustedHops int
}

func (o ClientIPOptions) hops() int {
	switch {
	case o.TrustedHops > 0:
		return o.TrustedHops
	case o.TrustProxyHeaders:
		return 1
	}
	return 0
}

// forwardedHeaders are stripped from any request we do not trust, so nothing
// downstream reads a client supplied value by accident.
var forwardedHeaders = []string{"X-Forwarded-For", "X-Forwarded-Proto", "X-Real-IP", "X-Client-IP"}

// ClientIP resolves the client address from the peer only.
func ClientIP(next http.Handler) http.Handler {
	return ClientIPWithOptions(ClientIPOptions{})(next)
}

// ClientIPWithOptions stores the resolved client address in the request
// context for the rate limiters and the access log.
func ClientIPWithOptions(opts ClientIPOptions) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := extractRealClientAddr(r, opts)
			next.ServeHTTP(w, r.WithContext(WithClientIP(r.Context(), ip)))
		})
	}
}

func stripForwarded(r *http.Request) {
	for _, h := range forwardedHeaders {
		r.Header.Del(h)
	}
}

// extractRealClientAddr prefers, in order: the trusted X-Forwarded-For
// entry, X-Real-IP, X-Client-IP, then the peer address. Headers count only
// when trust is configured and the peer is private or loopback.
func extractRealClientAddr(r *http.Request, opts ClientIPOptions) string {
	if r.RemoteAddr == "" {
		return "0.0.0.0"
	}
	peer, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	ip := net.ParseIP(peer)
	if ip == nil {
		return "0.0.0.0"
	}

	hops := opts.hops()
	if hops == 0 || !(ip.IsPrivate() || ip.IsLoopback()) {
		stripForwarded(r)
		return peer
	}

	if xf := r.Header.Get("X-Forwarded-For"); xf != "" {
		parts := strings.Split(xf, ",")
		idx := len(parts) - hops
		if idx < 0 {
			// fewer entries than proxies: misconfigured or forged, fail closed
			stripForwarded(r)
			return peer
		}
		if candidate := strings.TrimSpace(parts[idx]); net.ParseIP(candidate) != nil {
			return candidate
		}
	}
	for _, h := range []string{"X-Real-IP", "X-Client-IP"} {
		if candidate := strings.TrimSpace(r.Header.Get(h)); net.ParseIP(candidate) != nil {
			return candidate
		}
	}
	return peer
}

func ClientIPFromContext(ctx context.Context) string {
	ip, _ := ctx.Value(clientIPKey{}).(string)
	return ip
}

func WithClientIP(ctx context.Context, ip string) context.Context {
	if ip == "" {
		return ctx
	}
	return context.WithValue(ctx, clientIPKey{}, ip)
}
