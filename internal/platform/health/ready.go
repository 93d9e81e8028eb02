package health

import (
	"time"

	"dbdoctor/internal/diagnose"
)

// NewReadyGraph returns the readiness root for watch mode: ready once a run
// has finished recently and reached the target. With strict, any failed
// health phase also makes it unready.
func NewReadyGraph(latest *diagnose.Latest, maxAge time.Duration, strict bool) *Node {
	root := &Node{Name: "ready"}
	run := root.Add("last_run", LastRunFresh(latest, maxAge))
	run.Add("connectivity", LastRunConnected(latest))
	if strict {
		run.Add("health", LastRunHealthy(latest))
	}
	return root
}
