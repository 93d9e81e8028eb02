package httpmw

import (
	"net/http"
	"time"

	"dbdoctor/internal/platform/logging"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"
)

// Trace opens a server span per request, except for the quiet paths
// (probes and scrapes would drown every other span).
func Trace(operation string, quiet ...string) Middleware {
	skip := quietSet(quiet)
	return func(next http.Handler) http.Handler {
		return otelhttp.NewHandler(next, operation,
			otelhttp.WithFilter(func(r *http.Request) bool { return !skip[r.URL.Path] }),
		)
	}
}

// AccessLog writes one line per request with the trace ids of its span.
// It must sit inside Trace.
func AccessLog(log *zap.Logger, quiet ...string) Middleware {
	if log == nil {
		log = zap.NewNop()
	}
	skip := quietSet(quiet)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if skip[r.URL.Path] {
				next.ServeHTTP(w, r)
				return
			}
			start := time.Now()
			sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(sw, r)

			lg := logging.WithTrace(r.Context(), log).With(
				zap.String("http.method", r.Method),
				zap.String("http.path", r.URL.Path),
				zap.Int("http.status", sw.status),
				zap.Duration("duration", time.Since(start)),
			)
			if rid := r.Header.Get(RequestIDHeader); rid != "" {
				lg = lg.With(zap.String("request_id", rid))
			}
			if r.RemoteAddr != "" {
				lg = lg.With(zap.String("client.addr", r.RemoteAddr))
			}
			lg.Debug("admin request")
		})
	}
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
