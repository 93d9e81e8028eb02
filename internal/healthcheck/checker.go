// Package healthcheck exercises a resolved pool in phases: connectivity,
// concurrent query handling, schema presence and per-table row counts.
package healthcheck

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"dbdoctor/internal/db"
	"dbdoctor/internal/descriptor"
	"dbdoctor/internal/diag"
	"dbdoctor/internal/platform/logging"
	"dbdoctor/internal/platform/metrics"
	"dbdoctor/internal/schema"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// MinConcurrency is the smallest fan-out that says anything about a pool.
const MinConcurrency = 3

// Pool is what the checker needs from a pool. *pgxpool.Pool satisfies it.
type Pool interface {
	db.Querier
	db.TxBeginner
}

type Config struct {
	// Concurrency is the number of simultaneous echo queries; raised to MinConcurrency.
	Concurrency    int
	ExpectedTables []string
	// Each phase query is bounded by AcquireTimeout + QueryTimeout.
	AcquireTimeout time.Duration
	QueryTimeout   time.Duration
}

func DefaultConfig() Config {
	return Config{
		Concurrency:    MinConcurrency,
		AcquireTimeout: 10 * time.Second,
		QueryTimeout:   5 * time.Second,
	}
}

func (c Config) budget() time.Duration {
	b := c.AcquireTimeout + c.QueryTimeout
	if b <= 0 {
		b = 15 * time.Second
	}
	return b
}

type Checker struct {
	pool    Pool
	catalog schema.Catalog
	cfg     Config
	log     *zap.Logger
	metrics *metrics.Phases
	tracer  trace.Tracer
}

type Option func(*Checker)

func WithLogger(l *zap.Logger) Option { return func(c *Checker) { c.log = l } }

func WithMetrics(m *metrics.Phases) Option { return func(c *Checker) { c.metrics = m } }

// WithCatalog replaces the information_schema catalog read through the pool.
func WithCatalog(cat schema.Catalog) Option { return func(c *Checker) { c.catalog = cat } }

func New(pool Pool, cfg Config, opts ...Option) *Checker {
	if cfg.Concurrency < MinConcurrency {
		cfg.Concurrency = MinConcurrency
	}
	cfg.ExpectedTables = schema.Manifest(cfg.ExpectedTables)
	c := &Checker{
		pool:   pool,
		cfg:    cfg,
		log:    zap.NewNop(),
		tracer: otel.Tracer("dbdoctor/healthcheck"),
	}
	for _, o := range opts {
		o(c)
	}
	if c.catalog == nil {
		c.catalog = schema.NewPgCatalog(pool)
	}
	if c.log == nil {
		c.log = zap.NewNop()
	}
	return c
}

// Run executes every phase in order and never returns an error: failures
// become phase results. A failed connectivity phase skips the rest.
func (c *Checker) Run(ctx context.Context) Report {
	log := logging.From(ctx, c.log)
	var rep Report

	conn := c.phase(ctx, PhaseConnectivity, func(ctx context.Context, pr *PhaseResult) error {
		ctx, cancel := context.WithTimeout(ctx, c.cfg.budget())
		defer cancel()
		info, err := db.QueryServerInfo(ctx, c.pool)
		if err != nil {
			return err
		}
		rep.ServerInfo = &info
		pr.Message = fmt.Sprintf("%s as %s on %s", info.DatabaseName, info.UserName, info.ShortVersion())
		return nil
	})
	rep.Phases = append(rep.Phases, conn)
	if conn.Outcome != diag.Success {
		log.Warn("connectivity failed; skipping remaining phases", zap.Stringer("kind", conn.Kind))
		for _, p := range []Phase{PhaseConcurrency, PhaseSchema, PhaseRowCount} {
			rep.Phases = append(rep.Phases, skipped(p, "connectivity failed"))
		}
		return rep
	}

	rep.Phases = append(rep.Phases, c.phase(ctx, PhaseConcurrency, func(ctx context.Context, pr *PhaseResult) error {
		return c.echo(ctx, pr)
	}))

	if len(c.cfg.ExpectedTables) == 0 {
		rep.Phases = append(rep.Phases,
			skipped(PhaseSchema, "no expected tables"),
			skipped(PhaseRowCount, "no expected tables"))
		return rep
	}

	rep.Phases = append(rep.Phases, c.phase(ctx, PhaseSchema, func(ctx context.Context, pr *PhaseResult) error {
		ctx, cancel := context.WithTimeout(ctx, c.cfg.budget())
		defer cancel()
		sr, err := schema.Audit(ctx, c.catalog, c.cfg.ExpectedTables)
		if err != nil {
			return err
		}
		rep.Schema = &sr
		c.metrics.MissingTables(ctx, len(sr.Missing))
		pr.Message = fmt.Sprintf("%d/%d expected tables present", len(sr.Expected)-len(sr.Missing), len(sr.Expected))
		if !sr.Complete() {
			return &missingTablesError{tables: sr.Missing}
		}
		return nil
	}))

	rep.Phases = append(rep.Phases, c.phase(ctx, PhaseRowCount, func(ctx context.Context, pr *PhaseResult) error {
		rep.Counts = c.countRows(ctx)
		var failed []string
		var kinds []diag.Kind
		for _, tc := range rep.Counts {
			if !tc.OK() {
				failed = append(failed, tc.Table)
				kinds = append(kinds, tc.Kind)
			}
		}
		pr.Message = fmt.Sprintf("%d/%d tables counted", len(rep.Counts)-len(failed), len(rep.Counts))
		if len(failed) > 0 {
			return &rowCountError{tables: failed, kind: diag.Majority(kinds)}
		}
		return nil
	}))
	return rep
}

// phase runs fn under a span and records the outcome.
func (c *Checker) phase(ctx context.Context, p Phase, fn func(context.Context, *PhaseResult) error) PhaseResult {
	start := time.Now()
	ctx, span := c.tracer.Start(ctx, "healthcheck."+string(p))
	defer span.End()
	log := logging.WithTrace(ctx, logging.From(ctx, c.log)).With(zap.String("phase", string(p)))

	pr := PhaseResult{Phase: p}
	err := fn(ctx, &pr)
	pr.Duration = time.Since(start)
	if err == nil {
		pr.Outcome = diag.Success
		log.Info("phase passed", zap.Duration("duration", pr.Duration), zap.String("detail", pr.Message))
	} else {
		pr.Outcome = diag.Failure
		pr.Kind = kindOf(err)
		pr.Message = descriptor.RedactString(err.Error())
		span.RecordError(err)
		span.SetStatus(codes.Error, pr.Kind.String())
		log.Warn("phase failed", zap.Stringer("kind", pr.Kind), zap.String("error", pr.Message))
	}
	span.SetAttributes(attribute.String("phase.outcome", string(pr.Outcome)))
	c.metrics.Observe(ctx, string(p), string(pr.Outcome), pr.Duration)
	return pr
}

// echo fans out Concurrency queries; each must come back with its own value.
func (c *Checker) echo(ctx context.Context, pr *PhaseResult) error {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.budget())
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	for i := 1; i <= c.cfg.Concurrency; i++ {
		g.Go(func() error {
			var got int
			if err := c.pool.QueryRow(gctx, "SELECT $1::int", i).Scan(&got); err != nil {
				return fmt.Errorf("echo %d: %w", i, err)
			}
			if got != i {
				return &crossTalkError{sent: i, got: got}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	pr.Message = fmt.Sprintf("%d concurrent queries echoed", c.cfg.Concurrency)
	return nil
}

// countRows counts each manifest table independently; one failure does not
// stop the others.
func (c *Checker) countRows(ctx context.Context) []TableCount {
	out := make([]TableCount, 0, len(c.cfg.ExpectedTables))
	for _, t := range c.cfg.ExpectedTables {
		tc := TableCount{Table: t}
		qctx, cancel := context.WithTimeout(ctx, c.cfg.budget())
		sql := "SELECT count(*) FROM " + pgx.Identifier{schema.DefaultSchema, t}.Sanitize()
		err := c.pool.QueryRow(qctx, sql).Scan(&tc.Rows)
		cancel()
		if err != nil {
			tc.Kind = diag.ClassifyError(err)
			tc.Error = descriptor.RedactString(err.Error())
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && diag.Code(pgErr.Code) == diag.CodeUndefinedTable {
				tc.Missing = true
			}
		}
		out = append(out, tc)
	}
	return out
}

func skipped(p Phase, why string) PhaseResult {
	return PhaseResult{Phase: p, Outcome: diag.Skipped, Message: why}
}

type kinded interface{ Kind() diag.Kind }

func kindOf(err error) diag.Kind {
	var k kinded
	if errors.As(err, &k) {
		return k.Kind()
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return diag.TimedOut
	}
	return diag.ClassifyError(err)
}

type crossTalkError struct{ sent, got int }

func (e *crossTalkError) Error() string {
	return fmt.Sprintf("echo mismatch: sent %d, received %d", e.sent, e.got)
}

func (e *crossTalkError) Kind() diag.Kind { return diag.Unknown }

type missingTablesError struct{ tables []string }

func (e *missingTablesError) Error() string {
	return "missing tables: " + strings.Join(e.tables, ", ")
}

func (e *missingTablesError) Kind() diag.Kind { return diag.Unknown }

type rowCountError struct {
	tables []string
	kind   diag.Kind
}

func (e *rowCountError) Error() string {
	return "count failed for: " + strings.Join(e.tables, ", ")
}

func (e *rowCountError) Kind() diag.Kind { return e.kind }
