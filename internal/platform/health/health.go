// Package health evaluates readiness as a tree of checks over the most recent
// diagnosis.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"time"
)

// readyBudget bounds one /readyz evaluation.
const readyBudget = 2 * time.Second

type Check func(ctx context.Context) error

// Node is one readiness dependency. It is healthy when its own check passes
// and every dependency is healthy; dependencies of a failing node are not run.
type Node struct {
	Name  string
	Check Check
	Deps  []*Node
}

type Result struct {
	Name     string            `json:"name"`
	Healthy  bool              `json:"healthy"`
	Error    string            `json:"error,omitempty"`
	Duration time.Duration     `json:"duration"`
	Deps     map[string]Result `json:"deps,omitempty"`
}

// Add appends a dependency to n and returns it, so chains read top-down.
func (n *Node) Add(name string, check Check) *Node {
	child := &Node{Name: name, Check: check}
	n.Deps = append(n.Deps, child)
	return child
}

func Evaluate(ctx context.Context, n *Node) Result {
	start := time.Now()
	res := Result{Name: n.Name}

	if n.Check != nil {
		if err := n.Check(ctx); err != nil {
			res.Error = err.Error()
			res.Duration = time.Since(start)
			return res
		}
	}

	res.Healthy = true
	for _, dep := range n.Deps {
		if res.Deps == nil {
			res.Deps = make(map[string]Result, len(n.Deps))
		}
		dr := Evaluate(ctx, dep)
		res.Deps[dep.Name] = dr
		if !dr.Healthy {
			res.Healthy = false
		}
	}
	res.Duration = time.Since(start)
	return res
}

// Handler serves the evaluated tree as JSON, 503 when unhealthy. serving is
// an optional gate checked first; ?brief answers with a bare status word.
func Handler(root *Node, serving func() bool) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if serving != nil && !serving() {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("NOT_SERVING"))
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), readyBudget)
		defer cancel()
		res := Evaluate(ctx, root)

		status := http.StatusOK
		if !res.Healthy {
			status = http.StatusServiceUnavailable
		}
		if r.URL.Query().Has("brief") {
			w.WriteHeader(status)
			if res.Healthy {
				_, _ = w.Write([]byte("ready"))
			} else {
				_, _ = w.Write([]byte("unready"))
			}
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		_ = enc.Encode(res)
	})
}

// Livez answers 200 while the process is up.
func Livez() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})
}
