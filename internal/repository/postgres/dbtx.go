package postgres

import (
	"context"
	"database/sql"
)

// DBTX is the common surface of *sqlx.DB and *sqlx.Tx, so repositories run
// inside a rolled-back transaction in integration tests.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	GetContext(ctx context.Context, dest any, query string, args ...any) error
	SelectContext(ctx context.Context, dest any, query string, args ...any) error
}
