package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// TxBeginner is satisfied by *pgxpool.Pool and *pgx.Conn.
type TxBeginner interface {
	BeginTx(ctx context.Context, txOptions pgx.TxOptions) (pgx.Tx, error)
}

// WithTx runs fn inside a database transaction.
//
// Rules:
//   - fn must not call Commit/Rollback.
//   - if fn returns an error, the tx is rolled back.
//   - commit errors are returned.
func WithTx(ctx context.Context, b TxBeginner, opts pgx.TxOptions, fn func(ctx context.Context, tx pgx.Tx) error) (err error) {
	if ctx == nil {
		return errors.New("db: nil context")
	}
	if b == nil {
		return errors.New("db: nil pool")
	}
	if fn == nil {
		return errors.New("db: nil fn")
	}

	tx, err := b.BeginTx(ctx, opts)
	if err != nil {
		return fmt.Errorf("db: begin tx: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback(context.WithoutCancel(ctx))
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback(context.WithoutCancel(ctx))
		}
	}()

	if err = fn(ctx, tx); err != nil {
		return err
	}
	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("db: commit tx: %w", err)
	}
	return nil
}

// WithReadOnlyTx runs fn in a READ ONLY transaction; any write inside fn
// fails on the server.
func WithReadOnlyTx(ctx context.Context, b TxBeginner, fn func(ctx context.Context, tx pgx.Tx) error) error {
	return WithTx(ctx, b, pgx.TxOptions{AccessMode: pgx.ReadOnly}, fn)
}
