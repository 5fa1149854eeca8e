package httpmw

import (
	"net/http"

	"github.com/keithlinneman/dentalacademy/internal/apierr"
	"github.com/keithlinneman/dentalacademy/internal/log"
	"github.com/keithlinneman/dentalacademy/internal/xerrors"
)

// Recover turns a handler panic into a logged error and a generic 500
// envelope. onPanic, when set, runs after logging (the panic counter).
// http.ErrAbortHandler is re-raised so net/http can drop the connection.
func Recover(L log.Logger, onPanic func()) func(http.Handler) http.Handler {
	if L == nil {
		L = log.Nop()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if rec == http.ErrAbortHandler {
					panic(rec)
				}

				var err error
				switch v := rec.(type) {
				case error:
					err = xerrors.Wrap(v, "panic")
				default:
					err = xerrors.Newf("panic: %v", v)
				}

				L.With("http.request.method", r.Method, "url.path", r.URL.Path).
					Error(r.Context(), err, "httpserver panic recovered")
				if onPanic != nil {
					onPanic()
				}
				apierr.Write(w, apierr.Internal(err))
			}()
			next.ServeHTTP(w, r)
		})
	}
}
