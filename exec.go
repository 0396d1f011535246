package rowmap

import (
	"context"
	"database/sql"
)

// Exec runs a statement that returns no rows (INSERT, UPDATE, DELETE, DDL)
// and hands back the driver's [sql.Result] untouched.
//
// It exists so code that reads with Get and Query can write through the same
// small surface; nothing is rewritten on the way to the driver.
//
//	res, err := rowmap.Exec(ctx, db, `UPDATE users SET email = $1 WHERE id = $2`, email, id)
//	if err != nil {
//	    return err
//	}
//	n, _ := res.RowsAffected()
func Exec(ctx context.Context, e Execer, query string, args ...any) (sql.Result, error) {
	return e.ExecContext(ctx, query, args...)
}
