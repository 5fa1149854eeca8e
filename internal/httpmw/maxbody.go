package httpmw

import (
	"net/http"

	"github.com/keithlinneman/dentalacademy/internal/apierr"
)

// MaxBody caps request bodies at limit bytes. A declared Content-Length over
// the cap is refused with 413 up front; an undeclared body fails on read.
func MaxBody(limit int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.ContentLength > limit {
				apierr.WriteJSON(w, http.StatusRequestEntityTooLarge, apierr.Envelope{Error: "Request body too large"})
				return
			}
			r.Body = http.MaxBytesReader(w, r.Body, limit)
			next.ServeHTTP(w, r)
		})
	}
}
