package boot

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"dbdoctor/internal/platform/admin"
	"dbdoctor/internal/platform/health"
	"dbdoctor/internal/platform/logging"
	"dbdoctor/internal/platform/metrics"
	"dbdoctor/internal/platform/otel"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// Deps are the shared platform dependencies handed to a command.
type Deps struct {
	Log     *zap.Logger
	Metrics *otel.Metrics
	Probes  *metrics.Probes
	Phases  *metrics.Phases
	Serving *atomic.Bool
}

// Options configures the platform boot.
type Options struct {
	ServiceName string
	LogLevel    string
	LogFormat   string

	// AdminAddr enables the admin server when non-empty.
	AdminAddr   string
	ReadyRoot   *health.Node
	AdminRoutes map[string]http.Handler

	// RuntimeMetrics adds Go runtime instruments; worth it only for long runs.
	RuntimeMetrics bool
	// MetricsFile, when set, receives a Prometheus textfile after main returns.
	MetricsFile string

	// OTELExtraAttrs are added to both tracing + metrics resources.
	OTELExtraAttrs []attribute.KeyValue

	// ShutdownTimeout bounds graceful shutdown.
	ShutdownTimeout time.Duration
}

// Run boots the platform pieces (logger, OTEL, metrics, optional admin
// server), runs main with a context cancelled on SIGINT/SIGTERM, then tears
// everything down in reverse order. main's error is returned first, joined
// with any shutdown errors.
func Run(ctx context.Context, opts Options, main func(ctx context.Context, deps Deps) error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if opts.ServiceName == "" {
		return errors.New("boot: ServiceName is required")
	}
	if main == nil {
		return errors.New("boot: main is required")
	}
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = 10 * time.Second
	}

	log, err := logging.NewWith(opts.ServiceName, opts.LogLevel, opts.LogFormat)
	if err != nil {
		return fmt.Errorf("boot: logger: %w", err)
	}
	defer func() { _ = log.Sync() }()

	runCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTrace, err := otel.Init(runCtx, opts.ServiceName, opts.OTELExtraAttrs...)
	if err != nil {
		return fmt.Errorf("boot: tracing: %w", err)
	}
	m, err := otel.InitMetricsPrometheus(runCtx, opts.ServiceName, otel.MetricsOptions{Runtime: opts.RuntimeMetrics}, opts.OTELExtraAttrs...)
	if err != nil {
		_ = shutdownTrace(context.Background())
		return fmt.Errorf("boot: metrics: %w", err)
	}
	probes, err := metrics.NewProbes()
	if err != nil {
		_ = m.Shutdown(context.Background())
		_ = shutdownTrace(context.Background())
		return fmt.Errorf("boot: probe instruments: %w", err)
	}
	phases, err := metrics.NewPhases()
	if err != nil {
		_ = m.Shutdown(context.Background())
		_ = shutdownTrace(context.Background())
		return fmt.Errorf("boot: phase instruments: %w", err)
	}

	var serving atomic.Bool
	serving.Store(true)

	var adminSrv *admin.Server
	if opts.AdminAddr != "" {
		adminSrv, err = admin.Start(log, admin.Options{
			Addr:        opts.AdminAddr,
			ServiceName: opts.ServiceName,
			Metrics:     m.Handler(),
			ReadyRoot:   opts.ReadyRoot,
			ServingFn:   serving.Load,
			Routes:      opts.AdminRoutes,
		})
		if err != nil {
			_ = m.Shutdown(context.Background())
			_ = shutdownTrace(context.Background())
			return fmt.Errorf("boot: admin server: %w", err)
		}
	}

	mainErr := main(runCtx, Deps{
		Log:     log,
		Metrics: m,
		Probes:  probes,
		Phases:  phases,
		Serving: &serving,
	})
	if runCtx.Err() != nil && ctx.Err() == nil {
		log.Info("shutdown signal received")
	}

	// Stop advertising readiness before shutdown.
	serving.Store(false)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), opts.ShutdownTimeout)
	defer cancel()

	errs := []error{mainErr}
	if err := adminSrv.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("boot: admin shutdown: %w", err))
	}
	if opts.MetricsFile != "" {
		if err := m.WriteTextfile(opts.MetricsFile); err != nil {
			errs = append(errs, fmt.Errorf("boot: metrics file: %w", err))
		}
	}
	if err := m.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, err)
	}
	if err := shutdownTrace(shutdownCtx); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
