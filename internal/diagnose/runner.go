// Package diagnose runs one complete diagnosis: resolve a working connection,
// build a pool on it, health-check the pool, tear it down and report.
package diagnose

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"dbdoctor/internal/db"
	"dbdoctor/internal/descriptor"
	"dbdoctor/internal/diag"
	"dbdoctor/internal/healthcheck"
	"dbdoctor/internal/platform/logging"
	"dbdoctor/internal/platform/metrics"
	"dbdoctor/internal/probe"
	"dbdoctor/internal/resolver"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Pool is a health-checkable pool the runner owns and closes.
type Pool interface {
	healthcheck.Pool
	Close()
}

// PoolFactory builds the run's pool. It must not touch the network when
// opts are invalid.
type PoolFactory func(ctx context.Context, d descriptor.Descriptor, opts db.Options) (Pool, error)

// PgxPools is the production PoolFactory.
func PgxPools(ctx context.Context, d descriptor.Descriptor, opts db.Options) (Pool, error) {
	p, err := db.NewPool(ctx, d, opts)
	if err != nil {
		return nil, err
	}
	return p, nil
}

// Options is the input of one run.
type Options struct {
	Base     descriptor.Descriptor
	Override descriptor.Descriptor
	Policy   resolver.Policy
	Pool     db.Options
	Health   healthcheck.Config
	// Timeout bounds the whole run; zero means no bound beyond ctx.
	Timeout time.Duration
	Mode    Mode
}

// Validate fails with db.ErrConfigurationInvalid before anything is dialled.
func (o Options) Validate() error {
	if o.Base.IsZero() && o.Override.IsZero() {
		return fmt.Errorf("%w: no connection URL", db.ErrConfigurationInvalid)
	}
	if o.Timeout < 0 || o.Policy.ProbeTimeout < 0 || o.Policy.Spacing < 0 {
		return fmt.Errorf("%w: timeouts must not be negative", db.ErrConfigurationInvalid)
	}
	if o.Mode == ModeResolve {
		return nil
	}
	return o.Pool.Validate()
}

type Runner struct {
	prober resolver.Prober
	pools  PoolFactory
	log    *zap.Logger
	phases *metrics.Phases
	tracer trace.Tracer
}

type Option func(*Runner)

func WithProber(p resolver.Prober) Option { return func(r *Runner) { r.prober = p } }

func WithPoolFactory(f PoolFactory) Option { return func(r *Runner) { r.pools = f } }

func WithLogger(l *zap.Logger) Option { return func(r *Runner) { r.log = l } }

func WithPhaseMetrics(m *metrics.Phases) Option { return func(r *Runner) { r.phases = m } }

func NewRunner(opts ...Option) *Runner {
	r := &Runner{
		log:    zap.NewNop(),
		tracer: otel.Tracer("dbdoctor/diagnose"),
	}
	for _, o := range opts {
		o(r)
	}
	if r.log == nil {
		r.log = zap.NewNop()
	}
	if r.prober == nil {
		r.prober = probe.New(nil, probe.WithLogger(r.log))
	}
	if r.pools == nil {
		r.pools = PgxPools
	}
	return r
}

// Run performs one diagnosis. The only error it returns is a configuration
// error (wrapping db.ErrConfigurationInvalid); every connectivity problem is
// described by the report instead.
func (r *Runner) Run(ctx context.Context, o Options) (Report, error) {
	if o.Mode == "" {
		o.Mode = ModeCheck
	}
	rep := Report{
		RunID:     uuid.NewString(),
		Mode:      o.Mode,
		StartedAt: time.Now().UTC(),
		Attempts:  []probe.Result{},
	}
	target := o.Base
	if !o.Override.IsZero() {
		target = o.Override
	}
	rep.Target = target.Redacted()
	rep.TargetKind = string(target.Kind())

	if err := o.Validate(); err != nil {
		return rep, err
	}

	ctx, log := logging.WithRun(ctx, r.log, rep.RunID)
	ctx, span := r.tracer.Start(ctx, "diagnose.run", trace.WithAttributes(
		attribute.String("run.id", rep.RunID),
		attribute.String("run.mode", string(o.Mode)),
		attribute.String("db.target", rep.Target),
	))
	defer span.End()
	if o.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.Timeout)
		defer cancel()
	}

	start := time.Now()
	res, err := resolver.New(r.prober, log).Resolve(ctx, o.Base, o.Override, o.Policy)
	rep.Attempts = res.Attempts
	if err != nil {
		var fe *resolver.FailedError
		if errors.As(err, &fe) {
			rep.Attempts = fe.Attempts
			rep.Dominant = fe.Dominant()
		}
		rep.Remediation = diag.Remediation(rep.Dominant)
		r.phases.Observe(ctx, "resolve", string(diag.Failure), time.Since(start))
		log.Warn("no connection variant worked", zap.Stringer("dominant", rep.Dominant), zap.Int("attempts", len(rep.Attempts)))
		return r.finish(rep), nil
	}
	r.phases.Observe(ctx, "resolve", string(diag.Success), time.Since(start))
	resolved := res.Descriptor
	rep.Resolved = &resolved

	if o.Mode == ModeResolve {
		rep.Connected = true
		return r.finish(rep), nil
	}

	pool, err := r.pools(ctx, resolved, o.Pool)
	if err != nil {
		if errors.Is(err, db.ErrConfigurationInvalid) {
			return rep, err
		}
		rep.Dominant = diag.ClassifyError(err)
		rep.Remediation = diag.Remediation(rep.Dominant)
		log.Error("pool construction failed", zap.String("error", descriptor.RedactString(err.Error())))
		return r.finish(rep), nil
	}
	closePool := sync.OnceFunc(pool.Close)
	defer closePool()

	hc := healthcheck.New(pool, o.Health, healthcheck.WithLogger(log), healthcheck.WithMetrics(r.phases))
	health := hc.Run(ctx)
	closePool()
	rep.Health = &health
	rep.Connected = health.Connected()
	if !rep.Connected {
		conn, _ := health.Phase(healthcheck.PhaseConnectivity)
		rep.Dominant = conn.Kind
		rep.Remediation = diag.Remediation(conn.Kind)
	}
	return r.finish(rep), nil
}

func (r *Runner) finish(rep Report) Report {
	rep.Duration = time.Since(rep.StartedAt)
	return rep
}
