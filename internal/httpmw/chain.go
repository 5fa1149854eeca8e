package httpmw

import (
	"net/http"
)

// Chain wraps h so mws[0] is outermost. Nil middlewares are skipped, which
// lets callers list optional layers inline.
func Chain(h http.Handler, mws ...func(http.Handler) http.Handler) http.Handler {
	wrapped := h
	for i := len(mws) - 1; i >= 0; i-- {
		if mws[i] == nil {
			continue
		}
		wrapped = mws[i](wrapped)
	}

	return wrapped
}
