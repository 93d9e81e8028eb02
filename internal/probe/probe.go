// Package probe performs one connection-and-query attempt against one
// descriptor and turns whatever happens into a Result.
package probe

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"dbdoctor/internal/db"
	"dbdoctor/internal/descriptor"
	"dbdoctor/internal/diag"
	"dbdoctor/internal/platform/logging"
	"dbdoctor/internal/platform/metrics"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const (
	DefaultTimeout = 10 * time.Second

	// closeTimeout bounds the graceful Terminate sent when releasing a connection.
	closeTimeout = 2 * time.Second
)

// Conn is the part of a live connection a probe needs. *pgx.Conn satisfies it.
type Conn interface {
	db.Querier
	Close(ctx context.Context) error
}

// Connector opens one connection for a descriptor.
type Connector interface {
	Connect(ctx context.Context, d descriptor.Descriptor) (Conn, error)
}

// ConnectorFunc adapts a function to Connector.
type ConnectorFunc func(ctx context.Context, d descriptor.Descriptor) (Conn, error)

func (f ConnectorFunc) Connect(ctx context.Context, d descriptor.Descriptor) (Conn, error) {
	return f(ctx, d)
}

// Result is the immutable record of one attempt. Kind and RawMessage are
// only meaningful when Outcome is diag.Failure; ServerInfo only on success.
type Result struct {
	Descriptor descriptor.Descriptor `json:"descriptor"`
	Outcome    diag.Outcome          `json:"outcome"`
	Kind       diag.Kind             `json:"kind,omitempty"`
	RawMessage string                `json:"message,omitempty"`
	ServerInfo *db.ServerInfo        `json:"server_info,omitempty"`
	Duration   time.Duration         `json:"duration"`
}

func (r Result) OK() bool { return r.Outcome == diag.Success }

func (r Result) MarshalJSON() ([]byte, error) {
	type plain Result
	return json.Marshal(struct {
		plain
		Kind *diag.Kind `json:"kind,omitempty"`
	}{plain(r), diag.KindIf(r.Outcome == diag.Failure, r.Kind)})
}

// Prober runs probes. The zero value is not usable; use New.
type Prober struct {
	connector Connector
	log       *zap.Logger
	metrics   *metrics.Probes
	tracer    trace.Tracer
}

type Option func(*Prober)

func WithLogger(l *zap.Logger) Option { return func(p *Prober) { p.log = l } }

func WithMetrics(m *metrics.Probes) Option { return func(p *Prober) { p.metrics = m } }

func New(c Connector, opts ...Option) *Prober {
	if c == nil {
		c = PgxConnector{}
	}
	p := &Prober{
		connector: c,
		log:       zap.NewNop(),
		tracer:    otel.Tracer("dbdoctor/probe"),
	}
	for _, o := range opts {
		o(p)
	}
	if p.log == nil {
		p.log = zap.NewNop()
	}
	return p
}

type attempt struct {
	info db.ServerInfo
	err  error
}

// Probe opens one connection with d, runs the server-info round trip and
// releases the connection. It always returns within timeout (plus
// scheduling noise): if the connector ignores cancellation the attempt is
// abandoned, and the goroutine that owns it still closes the connection
// whenever it finally arrives.
func (p *Prober) Probe(ctx context.Context, d descriptor.Descriptor, timeout time.Duration) Result {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	start := time.Now()

	ctx, span := p.tracer.Start(ctx, "probe",
		trace.WithAttributes(
			attribute.String("db.target", d.Redacted()),
			attribute.String("db.tls", d.TLS().String()),
			attribute.String("db.scheme", string(d.Scheme())),
		))
	defer span.End()
	log := logging.WithTrace(ctx, logging.From(ctx, p.log)).With(
		zap.String("target", d.Redacted()),
		zap.Stringer("tls", d.TLS()),
	)

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan attempt, 1)
	go func() {
		conn, err := p.connector.Connect(ctx, d)
		if err != nil {
			done <- attempt{err: err}
			return
		}
		info, err := db.QueryServerInfo(ctx, conn)
		closeCtx, closeCancel := context.WithTimeout(context.Background(), closeTimeout)
		if cerr := conn.Close(closeCtx); cerr != nil {
			log.Debug("probe connection close failed", zap.Error(cerr))
		}
		closeCancel()
		done <- attempt{info: info, err: err}
	}()

	var a attempt
	select {
	case a = <-done:
	case <-ctx.Done():
		// a finished attempt beats a simultaneous deadline
		select {
		case a = <-done:
		default:
			a = attempt{err: ctx.Err()}
		}
	}

	res := Result{Descriptor: d, Duration: time.Since(start)}
	if a.err == nil {
		info := a.info
		res.Outcome = diag.Success
		res.ServerInfo = &info
		log.Debug("probe succeeded", zap.Duration("duration", res.Duration), zap.String("server", info.ShortVersion()))
	} else {
		res.Outcome = diag.Failure
		res.Kind = diag.ClassifyError(a.err)
		if errors.Is(a.err, context.DeadlineExceeded) {
			res.Kind = diag.TimedOut
		}
		res.RawMessage = descriptor.RedactString(a.err.Error())
		span.RecordError(a.err)
		span.SetStatus(codes.Error, res.Kind.String())
		log.Debug("probe failed", zap.Stringer("kind", res.Kind), zap.String("error", res.RawMessage))
	}
	span.SetAttributes(attribute.String("probe.outcome", string(res.Outcome)))
	p.metrics.Observe(ctx, d.TLS().String(), string(d.Scheme()), string(res.Outcome), kindLabel(res), res.Duration)
	return res
}

func kindLabel(r Result) string {
	if r.OK() {
		return "none"
	}
	return r.Kind.String()
}
