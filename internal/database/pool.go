package database

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DatabasePool is the subset of *pgxpool.Pool the repositories use. TracedDB
// and pgxmock pools satisfy it too.
type DatabasePool interface {
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
}

var (
	_ DatabasePool = (*pgxpool.Pool)(nil)
	_ DatabasePool = (*TracedDB)(nil)
)
