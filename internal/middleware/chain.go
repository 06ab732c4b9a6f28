package middleware

import "net/http"

// Chain composes middleware around a handler. The first argument becomes
// the outermost wrapper: Chain(A, B)(h) serves requests as A(B(h)).
func Chain(middlewares ...func(http.Handler) http.Handler) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		wrapped := next
		for i := len(middlewares) - 1; i >= 0; i-- {
			wrapped = middlewares[i](wrapped)
		}
		return wrapped
	}
}
