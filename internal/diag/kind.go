// Package diag holds the failure taxonomy shared by every diagnostic stage
// and the single place where raw driver errors are mapped onto it.
package diag

import (
	"fmt"
	"strings"
)

// Kind is the closed set of failure causes.
type Kind int

const (
	Unknown Kind = iota
	HostUnresolvable
	AuthenticationFailed
	DatabaseMissing
	TimedOut
	TLSNegotiationFailed
)

var kindNames = [...]string{
	Unknown:              "unknown",
	HostUnresolvable:     "host_unresolvable",
	AuthenticationFailed: "authentication_failed",
	DatabaseMissing:      "database_missing",
	TimedOut:             "timed_out",
	TLSNegotiationFailed: "tls_negotiation_failed",
}

// Kinds lists every kind in rule-priority order (Unknown last).
func Kinds() []Kind {
	return []Kind{HostUnresolvable, AuthenticationFailed, DatabaseMissing, TimedOut, TLSNegotiationFailed, Unknown}
}

func (k Kind) String() string {
	if k >= 0 && int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

func (k Kind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

// KindIf returns &k when failed and nil otherwise. Report fields use it so a
// failure always names its kind, Unknown included, while successes omit it.
func KindIf(failed bool, k Kind) *Kind {
	if !failed {
		return nil
	}
	return &k
}

func (k *Kind) UnmarshalText(b []byte) error {
	s := strings.TrimSpace(string(b))
	for i, n := range kindNames {
		if n == s {
			*k = Kind(i)
			return nil
		}
	}
	return fmt.Errorf("diag: unknown kind %q", s)
}

// Outcome is the result state of a probe or a health-check phase.
type Outcome string

const (
	Success Outcome = "success"
	Failure Outcome = "failure"
	Skipped Outcome = "skipped"
)
