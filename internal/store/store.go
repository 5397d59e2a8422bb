package store

import (
	"context"
	"database/sql"
	"errors"
)

// ErrNotFound is returned by mutations whose target row does not exist.
var ErrNotFound = errors.New("not found")

// DBTX is satisfied by both *sql.DB and *sql.Tx, so the same queries run
// standalone or inside a transaction.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// requireAffected turns a zero-row update into ErrNotFound.
func requireAffected(result sql.Result) error {
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
