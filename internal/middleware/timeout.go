package middleware

import (
	"context"
	"net/http"
	"sync"
	"time"
)

// deadlineWriter guards a ResponseWriter shared between the handler
// goroutine and the timeout path. After seal() the handler's late writes
// are silently discarded so they cannot corrupt the 504 already sent.
type deadlineWriter struct {
	mu     sync.Mutex
	dst    http.ResponseWriter
	sealed bool
	wrote  bool
}

func (dw *deadlineWriter) Header() http.Header {
	dw.mu.Lock()
	defer dw.mu.Unlock()
	if dw.sealed {
		return make(http.Header)
	}
	return dw.dst.Header()
}

func (dw *deadlineWriter) WriteHeader(code int) {
	dw.mu.Lock()
	defer dw.mu.Unlock()
	if dw.sealed || dw.wrote {
		return
	}
	dw.wrote = true
	dw.dst.WriteHeader(code)
}

func (dw *deadlineWriter) Write(b []byte) (int, error) {
	dw.mu.Lock()
	defer dw.mu.Unlock()
	if dw.sealed {
		return len(b), nil
	}
	if !dw.wrote {
		dw.wrote = true
		dw.dst.WriteHeader(http.StatusOK)
	}
	return dw.dst.Write(b)
}

func (dw *deadlineWriter) Flush() {
	dw.mu.Lock()
	defer dw.mu.Unlock()
	if dw.sealed {
		return
	}
	if f, ok := dw.dst.(http.Flusher); ok {
		f.Flush()
	}
}

func (dw *deadlineWriter) seal() {
	dw.mu.Lock()
	dw.sealed = true
	dw.mu.Unlock()
}

func (dw *deadlineWriter) responded() bool {
	dw.mu.Lock()
	defer dw.mu.Unlock()
	return dw.wrote
}

// Timeout bounds request handling. If the deadline passes before the handler
// writes anything, the client gets a 504 and later handler writes are
// discarded. The handler goroutine is not killed; it observes the deadline
// through its context and stops on its own. Player commands navigate a real
// browser, so the deadline must leave room for a slow embed to load.
func Timeout(timeout time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ctx, cancel := context.WithTimeout(r.Context(), timeout)
			defer cancel()

			dw := &deadlineWriter{dst: w}

			done := make(chan struct{})
			go func() {
				defer close(done)
				next.ServeHTTP(dw, r.WithContext(ctx))
			}()

			select {
			case <-done:
				// The handler may have bailed out on the deadline without
				// writing; the client still needs a response.
				if ctx.Err() != context.DeadlineExceeded {
					return
				}
			case <-ctx.Done():
			}

			if ctx.Err() == context.DeadlineExceeded && !dw.responded() {
				writeErrorResponse(dw, http.StatusGatewayTimeout, "Request timeout", start)
			}
			dw.seal()
		})
	}
}
