package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"dbdoctor/internal/descriptor"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrConfigurationInvalid is returned before any network activity when pool
// options cannot describe a usable pool.
var ErrConfigurationInvalid = errors.New("db: invalid pool configuration")

type Options struct {
	// Pool sizing. Both must be > 0 and MinConns <= MaxConns.
	MinConns int32
	MaxConns int32

	// IdleTimeout closes connections idle for longer than this.
	IdleTimeout time.Duration

	// AcquireTimeout bounds every wait for a pooled connection. pgxpool has no
	// knob for it, so callers apply it per operation (see Options.AcquireContext).
	AcquireTimeout time.Duration

	// Lifetime tuning; zero keeps pgx defaults.
	MaxConnLifetime   time.Duration
	HealthCheckPeriod time.Duration
}

// DefaultOptions is a small diagnostic pool: 2..10 connections, 30s idle,
// 10s acquire.
func DefaultOptions() Options {
	return Options{
		MinConns:       2,
		MaxConns:       10,
		IdleTimeout:    30 * time.Second,
		AcquireTimeout: 10 * time.Second,
	}
}

// Validate reports ErrConfigurationInvalid for unusable sizing or negative timeouts.
func (o Options) Validate() error {
	switch {
	case o.MinConns <= 0 || o.MaxConns <= 0:
		return fmt.Errorf("%w: MinConns(%d) and MaxConns(%d) must be > 0", ErrConfigurationInvalid, o.MinConns, o.MaxConns)
	case o.MinConns > o.MaxConns:
		return fmt.Errorf("%w: MinConns(%d) > MaxConns(%d)", ErrConfigurationInvalid, o.MinConns, o.MaxConns)
	case o.IdleTimeout < 0 || o.AcquireTimeout < 0 || o.MaxConnLifetime < 0 || o.HealthCheckPeriod < 0:
		return fmt.Errorf("%w: timeouts must not be negative", ErrConfigurationInvalid)
	}
	return nil
}

// AcquireContext derives a context bounded by AcquireTimeout (when set).
func (o Options) AcquireContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if o.AcquireTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, o.AcquireTimeout)
}

// ConnConfig turns a descriptor into a pgx connection config. The TLS
// policy travels as sslmode; pooler hosts get the simple query protocol
// because transaction-mode poolers cannot keep prepared statements.
func ConnConfig(d descriptor.Descriptor) (*pgx.ConnConfig, error) {
	cfg, err := pgx.ParseConfig(d.URL())
	if err != nil {
		return nil, fmt.Errorf("db: parse config for %s: %w", d.Redacted(), err)
	}
	if d.Kind() == descriptor.HostPooler {
		cfg.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol
	}
	return cfg, nil
}

// NewPool builds a pool bound to d. It validates opts first, so a bad
// configuration never touches the network. Unlike a service pool it does not
// ping: the caller's first query is the connectivity check.
func NewPool(ctx context.Context, d descriptor.Descriptor, opts Options) (*pgxpool.Pool, error) {
	if ctx == nil {
		return nil, errors.New("db: nil context")
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if d.IsZero() {
		return nil, errors.New("db: empty descriptor")
	}

	cfg, err := pgxpool.ParseConfig(d.URL())
	if err != nil {
		return nil, fmt.Errorf("db: parse pool config for %s: %w", d.Redacted(), err)
	}
	if d.Kind() == descriptor.HostPooler {
		cfg.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol
	}

	cfg.MinConns = opts.MinConns
	cfg.MaxConns = opts.MaxConns
	if opts.IdleTimeout > 0 {
		cfg.MaxConnIdleTime = opts.IdleTimeout
	}
	if opts.MaxConnLifetime > 0 {
		cfg.MaxConnLifetime = opts.MaxConnLifetime
	}
	if opts.HealthCheckPeriod > 0 {
		cfg.HealthCheckPeriod = opts.HealthCheckPeriod
	}
	if opts.AcquireTimeout > 0 {
		// bound the dial of each new pooled connection as well
		cfg.ConnConfig.ConnectTimeout = opts.AcquireTimeout
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("db: create pool: %w", err)
	}
	return pool, nil
}
