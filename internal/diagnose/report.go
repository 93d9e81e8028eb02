package diagnose

import (
	"encoding/json"
	"sync"
	"time"

	"dbdoctor/internal/descriptor"
	"dbdoctor/internal/diag"
	"dbdoctor/internal/healthcheck"
	"dbdoctor/internal/probe"
)

// Exit codes of a finished run.
const (
	ExitOK          = 0
	ExitUnreachable = 1
	ExitConfig      = 2
)

type Mode string

const (
	ModeCheck   Mode = "check"
	ModeResolve Mode = "resolve"
)

// Report is everything one run found out. It contains no secrets: every
// descriptor renders redacted.
type Report struct {
	RunID      string        `json:"run_id"`
	Mode       Mode          `json:"mode"`
	StartedAt  time.Time     `json:"started_at"`
	Duration   time.Duration `json:"duration"`
	Target     string        `json:"target"`
	TargetKind string        `json:"target_kind"`

	Attempts []probe.Result         `json:"attempts"`
	Resolved *descriptor.Descriptor `json:"resolved,omitempty"`
	Health   *healthcheck.Report    `json:"health,omitempty"`

	Connected   bool      `json:"connected"`
	Dominant    diag.Kind `json:"dominant_kind,omitempty"`
	Remediation []string  `json:"remediation,omitempty"`
}

// ExitCode is ExitOK when the target was reached, ExitUnreachable otherwise.
func (r Report) ExitCode() int {
	if r.Connected {
		return ExitOK
	}
	return ExitUnreachable
}

// MarshalJSON names the dominant kind on every unreachable report, even when
// it is Unknown.
func (r Report) MarshalJSON() ([]byte, error) {
	type plain Report
	return json.Marshal(struct {
		plain
		Dominant *diag.Kind `json:"dominant_kind,omitempty"`
	}{plain(r), diag.KindIf(!r.Connected, r.Dominant)})
}

// Latest holds the most recent finished report for concurrent readers.
type Latest struct {
	mu  sync.RWMutex
	rep Report
	ok  bool
}

func (l *Latest) Store(r Report) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rep, l.ok = r, true
}

// Load returns the last stored report, if any.
func (l *Latest) Load() (Report, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.rep, l.ok
}
