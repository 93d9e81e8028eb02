// Package resolver enumerates connection variants derived from one base
// descriptor and probes them in priority order until one connects.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"time"

	"dbdoctor/internal/descriptor"
	"dbdoctor/internal/diag"
	"dbdoctor/internal/platform/logging"
	"dbdoctor/internal/probe"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

var ErrResolutionFailed = errors.New("resolver: no candidate connected")

// Prober is the probe surface the resolver depends on. *probe.Prober satisfies it.
type Prober interface {
	Probe(ctx context.Context, d descriptor.Descriptor, timeout time.Duration) probe.Result
}

// Resolution is the first working descriptor plus every attempt made to find it.
type Resolution struct {
	Descriptor descriptor.Descriptor
	Attempts   []probe.Result
}

// FailedError is returned when every candidate failed.
type FailedError struct {
	Attempts []probe.Result
}

func (e *FailedError) Error() string {
	return fmt.Sprintf("resolver: all %d candidates failed (dominant: %s)", len(e.Attempts), e.Dominant())
}

func (e *FailedError) Unwrap() error { return ErrResolutionFailed }

// Dominant is the most common failure kind across the attempts.
func (e *FailedError) Dominant() diag.Kind {
	kinds := make([]diag.Kind, 0, len(e.Attempts))
	for _, a := range e.Attempts {
		if !a.OK() {
			kinds = append(kinds, a.Kind)
		}
	}
	return diag.Majority(kinds)
}

type Resolver struct {
	prober Prober
	log    *zap.Logger
}

func New(p Prober, log *zap.Logger) *Resolver {
	if log == nil {
		log = zap.NewNop()
	}
	return &Resolver{prober: p, log: log}
}

// Resolve probes the candidates of base (or of override, when non-zero)
// one at a time and stops at the first success. A cancelled ctx stops the
// walk and yields FailedError with the attempts made so far.
func (r *Resolver) Resolve(ctx context.Context, base, override descriptor.Descriptor, p Policy) (Resolution, error) {
	if !override.IsZero() {
		base = override
	}
	cands := Candidates(base, p)
	log := logging.From(ctx, r.log)
	log.Info("resolving connection", zap.String("base", base.Redacted()), zap.Int("candidates", len(cands)))

	limit := rate.Inf
	if p.Spacing > 0 {
		limit = rate.Every(p.Spacing)
	}
	limiter := rate.NewLimiter(limit, 1)

	attempts := make([]probe.Result, 0, len(cands))
	for i, c := range cands {
		if err := limiter.Wait(ctx); err != nil {
			log.Warn("resolution interrupted", zap.Error(err), zap.Int("attempted", i))
			break
		}
		res := r.prober.Probe(ctx, c, p.ProbeTimeout)
		attempts = append(attempts, res)
		if res.OK() {
			log.Info("resolved connection",
				zap.String("target", c.Redacted()),
				zap.Stringer("tls", c.TLS()),
				zap.Int("attempt", i+1))
			return Resolution{Descriptor: c, Attempts: attempts}, nil
		}
		log.Info("candidate failed",
			zap.String("target", c.Redacted()),
			zap.Stringer("tls", c.TLS()),
			zap.Stringer("kind", res.Kind))
		if ctx.Err() != nil {
			break
		}
	}
	return Resolution{Attempts: attempts}, &FailedError{Attempts: attempts}
}
