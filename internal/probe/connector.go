package probe

import (
	"context"

	"dbdoctor/internal/db"
	"dbdoctor/internal/descriptor"

	"github.com/jackc/pgx/v5"
)

// PgxConnector dials with pgx, applying the descriptor's TLS policy verbatim.
type PgxConnector struct{}

func (PgxConnector) Connect(ctx context.Context, d descriptor.Descriptor) (Conn, error) {
	cfg, err := db.ConnConfig(d)
	if err != nil {
		return nil, err
	}
	conn, err := pgx.ConnectConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return conn, nil
}
