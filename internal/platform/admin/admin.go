package admin

import (
	"context"
	"net"
	"net/http"
	"time"

	"dbdoctor/internal/platform/health"
	"dbdoctor/internal/platform/httpmw"

	"go.uber.org/zap"
)

// Server is a small admin HTTP server exposing /metrics, /livez, /readyz
// and any extra routes (watch mode adds /report).
type Server struct {
	http *http.Server
	ln   net.Listener
}

type Options struct {
	Log          *zap.Logger // optional
	Addr         string
	ServiceName  string
	Metrics      http.Handler            // optional
	ReadyRoot    *health.Node            // optional
	ServingFn    func() bool             // optional (NOT_SERVING gate)
	Routes       map[string]http.Handler // optional
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// maxInFlight caps concurrent admin requests; scrapers and probes need few.
const maxInFlight = 16

// Handler builds the admin mux behind the tracing, logging and guard
// middleware.
func Handler(opts Options) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/livez", health.Livez())
	if opts.ReadyRoot != nil {
		mux.Handle("/readyz", health.Handler(opts.ReadyRoot, opts.ServingFn))
	}
	if opts.Metrics != nil {
		mux.Handle("/metrics", opts.Metrics)
	}
	for path, h := range opts.Routes {
		mux.Handle(path, h)
	}
	quiet := []string{"/livez", "/metrics"}
	return httpmw.Chain{
		httpmw.Trace(opts.ServiceName+".admin", quiet...),
		httpmw.AccessLog(opts.Log, quiet...),
		httpmw.Recover(opts.Log),
		httpmw.RequestID,
		httpmw.NoSniff,
		httpmw.InFlight(maxInFlight),
		httpmw.Timeout(orDur(opts.WriteTimeout, 10*time.Second) / 2),
	}.Then(mux)
}

func Start(log *zap.Logger, opts Options) (*Server, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if opts.Log == nil {
		opts.Log = log
	}
	srv := &http.Server{
		Addr:         opts.Addr,
		Handler:      Handler(opts),
		ReadTimeout:  orDur(opts.ReadTimeout, 5*time.Second),
		WriteTimeout: orDur(opts.WriteTimeout, 10*time.Second),
		IdleTimeout:  orDur(opts.IdleTimeout, 60*time.Second),
	}

	ln, err := net.Listen("tcp", opts.Addr)
	if err != nil {
		return nil, err
	}

	as := &Server{http: srv, ln: ln}
	go func() {
		log.Info("admin server listening", zap.String("addr", ln.Addr().String()))
		if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			log.Error("admin server error", zap.Error(err))
		}
	}()
	return as, nil
}

// Addr is the bound listen address (useful with ":0").
func (s *Server) Addr() string {
	if s == nil || s.ln == nil {
		return ""
	}
	return s.ln.Addr().String()
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s == nil || s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}

func orDur(v, d time.Duration) time.Duration {
	if v <= 0 {
		return d
	}
	return v
}
