package httpserver

import (
	"net/http"
	"runtime/debug"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/and161185/caregate/internal/errs"
	"github.com/and161185/caregate/internal/gate"
	"github.com/and161185/caregate/internal/metrics"
)

// requestLogger writes one structured line per request.
func requestLogger(log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()

			next.ServeHTTP(ww, r)

			fields := []zap.Field{
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("dur", time.Since(start)),
				zap.String("ip", clientIP(r)),
			}
			if reqID := middleware.GetReqID(r.Context()); reqID != "" {
				fields = append(fields, zap.String("request_id", reqID))
			}
			if ww.Status() >= http.StatusInternalServerError {
				log.Warn("http", fields...)
			} else {
				log.Info("http", fields...)
			}
		})
	}
}

// recoverer turns a handler panic into a 500 response.
func recoverer(log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					if rec == http.ErrAbortHandler {
						panic(rec)
					}
					log.Error("panic",
						zap.Any("reason", rec),
						zap.ByteString("stack", debug.Stack()),
						zap.String("path", r.URL.Path),
					)
					writeError(w, http.StatusInternalServerError, "internal", "internal")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// instrument records request count and latency by route pattern.
func instrument(rec metrics.Recorder) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()

			next.ServeHTTP(ww, r)

			route := "unmatched"
			if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
				route = rc.RoutePattern()
			}
			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			rec.RecordRequest("http", r.Method+" "+route, strconv.Itoa(status), time.Since(start))
		})
	}
}

// authenticate resolves the bearer token into a principal stored in the context.
func authenticate(a Authenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw, ok := gate.Bearer(r.Header.Get("Authorization"))
			if !ok {
				w.Header().Set("WWW-Authenticate", `Bearer realm="caregate"`)
				handleServiceError(w, errs.ErrUnauthenticated)
				return
			}
			p, err := a.Authenticate(r.Context(), raw)
			if err != nil {
				if errs.Kind(err) == errs.ErrUnauthenticated {
					w.Header().Set("WWW-Authenticate", `Bearer realm="caregate", error="invalid_token"`)
				}
				handleServiceError(w, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(gate.WithPrincipal(r.Context(), p)))
		})
	}
}
