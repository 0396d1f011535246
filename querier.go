package rowmap

import (
	"context"
	"database/sql"
)

// Querier runs a query that returns rows. *sql.DB, *sql.Tx and *sql.Conn
// satisfy it, as does any wrapper with the same method.
type Querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// Execer runs a statement that returns no rows. *sql.DB, *sql.Tx and
// *sql.Conn satisfy it.
type Execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}
