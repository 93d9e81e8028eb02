package healthcheck

import (
	"encoding/json"
	"time"

	"dbdoctor/internal/db"
	"dbdoctor/internal/diag"
	"dbdoctor/internal/schema"
)

type Phase string

const (
	PhaseConnectivity Phase = "connectivity"
	PhaseConcurrency  Phase = "concurrency"
	PhaseSchema       Phase = "schema"
	PhaseRowCount     Phase = "row_count"
)

// PhaseResult is one phase's verdict. Kind is only set on failure.
type PhaseResult struct {
	Phase    Phase         `json:"phase"`
	Outcome  diag.Outcome  `json:"outcome"`
	Kind     diag.Kind     `json:"kind,omitempty"`
	Message  string        `json:"message,omitempty"`
	Duration time.Duration `json:"duration"`
}

// TableCount is the row count of one manifest table, or why it has none.
type TableCount struct {
	Table   string    `json:"table"`
	Rows    int64     `json:"rows"`
	Missing bool      `json:"missing,omitempty"`
	Kind    diag.Kind `json:"kind,omitempty"`
	Error   string    `json:"error,omitempty"`
}

func (t TableCount) OK() bool { return t.Error == "" }

func (p PhaseResult) MarshalJSON() ([]byte, error) {
	type plain PhaseResult
	return json.Marshal(struct {
		plain
		Kind *diag.Kind `json:"kind,omitempty"`
	}{plain(p), diag.KindIf(p.Outcome == diag.Failure, p.Kind)})
}

func (t TableCount) MarshalJSON() ([]byte, error) {
	type plain TableCount
	return json.Marshal(struct {
		plain
		Kind *diag.Kind `json:"kind,omitempty"`
	}{plain(t), diag.KindIf(!t.OK(), t.Kind)})
}

type Report struct {
	Phases     []PhaseResult  `json:"phases"`
	ServerInfo *db.ServerInfo `json:"server_info,omitempty"`
	Schema     *schema.Report `json:"schema,omitempty"`
	Counts     []TableCount   `json:"row_counts,omitempty"`
}

// Phase returns the result for p, if it ran or was skipped.
func (r Report) Phase(p Phase) (PhaseResult, bool) {
	for _, pr := range r.Phases {
		if pr.Phase == p {
			return pr, true
		}
	}
	return PhaseResult{}, false
}

// Connected reports whether the connectivity phase passed.
func (r Report) Connected() bool {
	pr, ok := r.Phase(PhaseConnectivity)
	return ok && pr.Outcome == diag.Success
}

// Healthy reports whether no phase failed.
func (r Report) Healthy() bool {
	for _, pr := range r.Phases {
		if pr.Outcome == diag.Failure {
			return false
		}
	}
	return len(r.Phases) > 0
}
