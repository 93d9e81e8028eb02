package db

import (
	"context"
	"errors"
	"strings"

	"github.com/jackc/pgx/v5"
)

// Querier is satisfied by *pgx.Conn, *pgxpool.Pool and pgx.Tx.
type Querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// ServerInfo is what the round-trip query reports about the server.
type ServerInfo struct {
	DatabaseName  string `json:"database"`
	UserName      string `json:"user"`
	ServerVersion string `json:"version"`
	ServerAddr    string `json:"server_addr,omitempty"`
}

// ShortVersion trims version() output to "PostgreSQL 16.2".
func (s ServerInfo) ShortVersion() string {
	f := strings.Fields(s.ServerVersion)
	if len(f) >= 2 {
		return f[0] + " " + f[1]
	}
	return s.ServerVersion
}

// ServerInfoQuery is the lightweight round trip used by probes and the
// pooled connectivity check alike.
const ServerInfoQuery = `
	SELECT
		version(),
		current_database(),
		current_user,
		coalesce(host(inet_server_addr()), '')`

// QueryServerInfo runs ServerInfoQuery. It hits the wire, so success proves
// routing, TLS and authentication all worked.
func QueryServerInfo(ctx context.Context, q Querier) (ServerInfo, error) {
	if ctx == nil {
		return ServerInfo{}, errors.New("db: nil context")
	}
	if q == nil {
		return ServerInfo{}, errors.New("db: nil querier")
	}
	var info ServerInfo
	err := q.QueryRow(ctx, ServerInfoQuery).Scan(
		&info.ServerVersion,
		&info.DatabaseName,
		&info.UserName,
		&info.ServerAddr,
	)
	if err != nil {
		return ServerInfo{}, err
	}
	return info, nil
}
