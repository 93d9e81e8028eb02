package config

import (
	"fmt"

	"dbdoctor/internal/db"
	"dbdoctor/internal/descriptor"
	"dbdoctor/internal/diagnose"
	"dbdoctor/internal/healthcheck"
	"dbdoctor/internal/resolver"
)

// RunOptions turns the settings into the input of one diagnosis run. Every
// error wraps db.ErrConfigurationInvalid.
func (c Config) RunOptions(mode diagnose.Mode) (diagnose.Options, error) {
	var o diagnose.Options
	o.Mode = mode
	o.Timeout = c.Timeout

	if c.DatabaseURL == "" && c.OverrideURL == "" {
		return o, fmt.Errorf("%w: set DATABASE_URL or --url", db.ErrConfigurationInvalid)
	}
	if c.DatabaseURL != "" {
		d, err := descriptor.Parse(c.DatabaseURL)
		if err != nil {
			return o, fmt.Errorf("%w: %w", db.ErrConfigurationInvalid, err)
		}
		o.Base = d
	}
	if c.OverrideURL != "" {
		d, err := descriptor.Parse(c.OverrideURL)
		if err != nil {
			return o, fmt.Errorf("%w: override: %w", db.ErrConfigurationInvalid, err)
		}
		o.Override = d
	}

	pol, err := c.Policy()
	if err != nil {
		return o, err
	}
	o.Policy = pol

	o.Pool = db.Options{
		MinConns:       c.PoolMin,
		MaxConns:       c.PoolMax,
		IdleTimeout:    c.IdleTimeout,
		AcquireTimeout: c.AcquireTimeout,
	}
	o.Health = healthcheck.Config{
		Concurrency:    c.Concurrency,
		ExpectedTables: c.Tables,
		AcquireTimeout: c.AcquireTimeout,
		QueryTimeout:   c.QueryTimeout,
	}
	return o, nil
}

// Policy builds the resolver policy from the ordering and pooler settings.
func (c Config) Policy() (resolver.Policy, error) {
	pol := resolver.DefaultPolicy()
	pol.ProbeTimeout = c.ProbeTimeout
	pol.Spacing = c.ProbeSpacing

	order, err := resolver.ParseOrder(c.Order)
	if err != nil {
		return pol, fmt.Errorf("%w: %w", db.ErrConfigurationInvalid, err)
	}
	pol.Order = order

	if len(c.TLSOrder) > 0 {
		pol.TLS = pol.TLS[:0]
		for _, s := range c.TLSOrder {
			p, err := descriptor.ParseTLSPolicy(s)
			if err != nil {
				return pol, fmt.Errorf("%w: %w", db.ErrConfigurationInvalid, err)
			}
			pol.TLS = append(pol.TLS, p)
		}
	}
	for _, s := range c.Schemes {
		sc, err := descriptor.ParseScheme(s)
		if err != nil {
			return pol, fmt.Errorf("%w: %w", db.ErrConfigurationInvalid, err)
		}
		pol.Schemes = append(pol.Schemes, sc)
	}

	if c.PoolerHost != "" {
		pol.Pooler = &resolver.PoolerTemplate{
			HostPattern:  c.PoolerHost,
			Regions:      c.PoolerRegions,
			ProjectRef:   c.PoolerProject,
			Port:         c.PoolerPort,
			UserPatterns: c.PoolerUsers,
		}
		pol.SkipBaseHost = c.PoolerOnly
	}
	return pol, nil
}
