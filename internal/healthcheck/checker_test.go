package healthcheck

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"dbdoctor/internal/diag"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

type rowFunc func(dest ...any) error

func (f rowFunc) Scan(dest ...any) error { return f(dest...) }

// fakePool routes QueryRow by SQL prefix. Echo queries can be held at a
// barrier until a number of them are in flight at once.
type fakePool struct {
	connectErr error
	counts     map[string]int64
	countErrs  map[string]error
	echoShift  map[int]int

	barrier  int
	mu       sync.Mutex
	arrived  int
	release  chan struct{}
	inflight atomic.Int32
	peak     atomic.Int32
}

func newFakePool() *fakePool {
	return &fakePool{counts: map[string]int64{}, countErrs: map[string]error{}, echoShift: map[int]int{}, release: make(chan struct{})}
}

func (p *fakePool) BeginTx(context.Context, pgx.TxOptions) (pgx.Tx, error) {
	return nil, errors.New("fake pool has no transactions")
}

func (p *fakePool) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	switch {
	case strings.Contains(sql, "version()"):
		return rowFunc(func(dest ...any) error {
			if p.connectErr != nil {
				return p.connectErr
			}
			vals := []string{"PostgreSQL 16.2 on aarch64", "app", "postgres", ""}
			for i := range dest {
				*(dest[i].(*string)) = vals[i]
			}
			return nil
		})
	case strings.HasPrefix(sql, "SELECT $1::int"):
		v := args[0].(int)
		return rowFunc(func(dest ...any) error {
			n := p.inflight.Add(1)
			defer p.inflight.Add(-1)
			for {
				m := p.peak.Load()
				if n <= m || p.peak.CompareAndSwap(m, n) {
					break
				}
			}
			if p.barrier > 0 {
				p.mu.Lock()
				p.arrived++
				if p.arrived == p.barrier {
					close(p.release)
				}
				p.mu.Unlock()
				select {
				case <-p.release:
				case <-ctx.Done():
					return ctx.Err()
				}
			}
			*(dest[0].(*int)) = v + p.echoShift[v]
			return nil
		})
	case strings.HasPrefix(sql, "SELECT count(*) FROM "):
		table := strings.Trim(strings.TrimPrefix(sql, `SELECT count(*) FROM "public".`), `"`)
		return rowFunc(func(dest ...any) error {
			if err := p.countErrs[table]; err != nil {
				return err
			}
			*(dest[0].(*int64)) = p.counts[table]
			return nil
		})
	}
	return rowFunc(func(...any) error { return errors.New("unexpected query: " + sql) })
}

type catalog []string

func (c catalog) BaseTables(context.Context, string) ([]string, error) { return c, nil }

func shortConfig() Config {
	return Config{AcquireTimeout: time.Second, QueryTimeout: time.Second}
}

func TestRun_EchoFiveConcurrentRepeatedly(t *testing.T) {
	for round := 0; round < 20; round++ {
		pool := newFakePool()
		pool.barrier = 5
		cfg := shortConfig()
		cfg.Concurrency = 5

		rep := New(pool, cfg).Run(context.Background())
		pr, _ := rep.Phase(PhaseConcurrency)
		if pr.Outcome != diag.Success {
			t.Fatalf("round %d: concurrency phase %v: %s", round, pr.Outcome, pr.Message)
		}
		if pool.peak.Load() != 5 {
			t.Fatalf("round %d: peak in-flight=%d, want 5", round, pool.peak.Load())
		}
	}
}

func TestRun_EchoDetectsCrossTalk(t *testing.T) {
	pool := newFakePool()
	pool.echoShift[2] = 1

	rep := New(pool, shortConfig()).Run(context.Background())
	pr, _ := rep.Phase(PhaseConcurrency)
	if pr.Outcome != diag.Failure {
		t.Fatalf("expected failure, got %v", pr.Outcome)
	}
	if !strings.Contains(pr.Message, "echo mismatch") {
		t.Fatalf("message=%q", pr.Message)
	}
}

func TestRun_ConcurrencyFloor(t *testing.T) {
	pool := newFakePool()
	pool.barrier = MinConcurrency
	cfg := shortConfig()
	cfg.Concurrency = 1

	rep := New(pool, cfg).Run(context.Background())
	pr, _ := rep.Phase(PhaseConcurrency)
	if pr.Outcome != diag.Success || pool.peak.Load() != MinConcurrency {
		t.Fatalf("outcome=%v peak=%d", pr.Outcome, pool.peak.Load())
	}
}

func TestRun_ConnectivityFailureSkipsRest(t *testing.T) {
	pool := newFakePool()
	pool.connectErr = &pgconn.PgError{Code: "28P01", Message: "password authentication failed"}
	cfg := shortConfig()
	cfg.ExpectedTables = []string{"users"}

	rep := New(pool, cfg, WithCatalog(catalog{"users"})).Run(context.Background())
	if rep.Connected() {
		t.Fatalf("should not be connected")
	}
	conn, _ := rep.Phase(PhaseConnectivity)
	if conn.Kind != diag.AuthenticationFailed {
		t.Fatalf("kind=%v", conn.Kind)
	}
	if len(rep.Phases) != 4 {
		t.Fatalf("phases=%d", len(rep.Phases))
	}
	for _, pr := range rep.Phases[1:] {
		if pr.Outcome != diag.Skipped {
			t.Fatalf("%s outcome=%v, want skipped", pr.Phase, pr.Outcome)
		}
	}
	if pool.peak.Load() != 0 {
		t.Fatalf("echo queries ran after a failed connectivity phase")
	}
}

func TestRun_RowCountIsolatedPerTable(t *testing.T) {
	pool := newFakePool()
	pool.counts["users"] = 3
	pool.counts["messages"] = 12
	pool.countErrs["documents"] = &pgconn.PgError{Code: "42P01", Message: `relation "public.documents" does not exist`}
	cfg := shortConfig()
	cfg.ExpectedTables = []string{"users", "documents", "messages"}

	rep := New(pool, cfg, WithCatalog(catalog{"messages", "users"})).Run(context.Background())

	if !rep.Connected() {
		t.Fatalf("expected connectivity")
	}
	if len(rep.Counts) != 3 {
		t.Fatalf("counts=%d", len(rep.Counts))
	}
	byTable := map[string]TableCount{}
	for _, tc := range rep.Counts {
		byTable[tc.Table] = tc
	}
	if byTable["users"].Rows != 3 || byTable["messages"].Rows != 12 {
		t.Fatalf("counts=%+v", rep.Counts)
	}
	if !byTable["documents"].Missing || byTable["documents"].OK() {
		t.Fatalf("documents should be flagged missing: %+v", byTable["documents"])
	}

	sch, _ := rep.Phase(PhaseSchema)
	if sch.Outcome != diag.Failure || rep.Schema == nil || rep.Schema.Missing[0] != "documents" {
		t.Fatalf("schema phase=%+v report=%+v", sch, rep.Schema)
	}
	rc, _ := rep.Phase(PhaseRowCount)
	if rc.Outcome != diag.Failure || !strings.Contains(rc.Message, "documents") {
		t.Fatalf("row count phase=%+v", rc)
	}
}

func TestRun_NoManifestSkipsSchemaPhases(t *testing.T) {
	rep := New(newFakePool(), shortConfig()).Run(context.Background())
	if !rep.Healthy() {
		t.Fatalf("report should be healthy: %+v", rep.Phases)
	}
	for _, p := range []Phase{PhaseSchema, PhaseRowCount} {
		pr, ok := rep.Phase(p)
		if !ok || pr.Outcome != diag.Skipped {
			t.Fatalf("%s: %+v", p, pr)
		}
	}
	if rep.ServerInfo == nil || rep.ServerInfo.DatabaseName != "app" {
		t.Fatalf("server info=%+v", rep.ServerInfo)
	}
}
