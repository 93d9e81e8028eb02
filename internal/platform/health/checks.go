package health

import (
	"context"
	"errors"
	"fmt"
	"time"

	"dbdoctor/internal/diag"
	"dbdoctor/internal/diagnose"
)

var ErrNoRunYet = errors.New("no diagnosis has finished yet")

// LastRunFresh fails until a run has finished, and again whenever the last
// finished run started more than maxAge ago.
func LastRunFresh(latest *diagnose.Latest, maxAge time.Duration) Check {
	return func(context.Context) error {
		rep, ok := latest.Load()
		if !ok {
			return ErrNoRunYet
		}
		if maxAge > 0 {
			if age := time.Since(rep.StartedAt); age > maxAge {
				return fmt.Errorf("last run %s is %s old (max %s)", rep.RunID, age.Round(time.Second), maxAge)
			}
		}
		return nil
	}
}

// LastRunConnected fails when the last finished run could not connect.
func LastRunConnected(latest *diagnose.Latest) Check {
	return func(context.Context) error {
		rep, ok := latest.Load()
		if !ok {
			return ErrNoRunYet
		}
		if !rep.Connected {
			return fmt.Errorf("target unreachable: %s", rep.Dominant)
		}
		return nil
	}
}

// LastRunHealthy fails when any health phase of the last run failed.
func LastRunHealthy(latest *diagnose.Latest) Check {
	return func(context.Context) error {
		rep, ok := latest.Load()
		if !ok {
			return ErrNoRunYet
		}
		if rep.Health == nil {
			return nil
		}
		for _, p := range rep.Health.Phases {
			if p.Outcome == diag.Failure {
				return fmt.Errorf("%s: %s", p.Phase, p.Message)
			}
		}
		return nil
	}
}
