// Package schema compares the tables present in a live database against an
// expected manifest.
package schema

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"dbdoctor/internal/db"

	"github.com/jackc/pgx/v5"
)

// DefaultSchema is the namespace audited when none is given.
const DefaultSchema = "public"

// Catalog lists base tables of one schema.
type Catalog interface {
	BaseTables(ctx context.Context, schema string) ([]string, error)
}

// Report is the outcome of one audit. Existing is sorted; Missing keeps the
// manifest order.
type Report struct {
	Schema   string   `json:"schema"`
	Expected []string `json:"expected"`
	Existing []string `json:"existing"`
	Missing  []string `json:"missing"`
}

// Complete reports whether every expected table exists.
func (r Report) Complete() bool { return len(r.Missing) == 0 }

// Has reports whether table is among the existing tables.
func (r Report) Has(table string) bool {
	i := sort.SearchStrings(r.Existing, table)
	return i < len(r.Existing) && r.Existing[i] == table
}

// Audit reads the base tables of DefaultSchema and diffs them against
// expected. Duplicate and blank manifest entries are dropped.
func Audit(ctx context.Context, c Catalog, expected []string) (Report, error) {
	if c == nil {
		return Report{}, errors.New("schema: nil catalog")
	}
	tables, err := c.BaseTables(ctx, DefaultSchema)
	if err != nil {
		return Report{}, fmt.Errorf("schema: list tables: %w", err)
	}
	return Diff(DefaultSchema, expected, tables), nil
}

// Diff is the pure part of Audit.
func Diff(schemaName string, expected, existing []string) Report {
	r := Report{
		Schema:   schemaName,
		Expected: Manifest(expected),
		Existing: append([]string(nil), existing...),
		Missing:  []string{},
	}
	sort.Strings(r.Existing)
	for _, t := range r.Expected {
		if !r.Has(t) {
			r.Missing = append(r.Missing, t)
		}
	}
	return r
}

// Manifest normalizes a table list: trims, drops blanks and duplicates,
// keeps first-seen order.
func Manifest(tables []string) []string {
	out := make([]string, 0, len(tables))
	seen := make(map[string]struct{}, len(tables))
	for _, t := range tables {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		if _, dup := seen[t]; dup {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}

const baseTablesQuery = `
	SELECT table_name
	FROM information_schema.tables
	WHERE table_schema = $1
	  AND table_type = 'BASE TABLE'
	ORDER BY table_name`

// PgCatalog reads information_schema through a read-only transaction.
type PgCatalog struct {
	db db.TxBeginner
}

func NewPgCatalog(b db.TxBeginner) *PgCatalog { return &PgCatalog{db: b} }

func (c *PgCatalog) BaseTables(ctx context.Context, schemaName string) ([]string, error) {
	var tables []string
	err := db.WithReadOnlyTx(ctx, c.db, func(ctx context.Context, tx pgx.Tx) error {
		rows, err := tx.Query(ctx, baseTablesQuery, schemaName)
		if err != nil {
			return err
		}
		tables, err = pgx.CollectRows(rows, pgx.RowTo[string])
		return err
	})
	if err != nil {
		return nil, err
	}
	return tables, nil
}
