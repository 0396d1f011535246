package rowmap

import (
	"context"
	"database/sql"
)

// Get runs the query and maps its first row into a T using the default
// mapper.
//
// It returns [sql.ErrNoRows] when the query yields no rows. Further rows are
// ignored; add LIMIT 1 (or an equivalent WHERE clause) when at most one row
// is expected.
//
// T may be a struct (bound by `db` tags or case-insensitive field names), a
// map[string]V, or a single-column scalar such as int64, string, time.Time
// or any [sql.Scanner]. Conversion failures come back as a *ColumnError
// naming the column and member involved.
//
//	type User struct {
//	    ID    int64  `db:"id"`
//	    Email string `db:"email"`
//	}
//
//	u, err := rowmap.Get[User](ctx, db, `SELECT id, email FROM users WHERE id = $1`, 42)
//	if errors.Is(err, sql.ErrNoRows) {
//	    // not found
//	}
func Get[T any](ctx context.Context, q Querier, query string, args ...any) (out T, err error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return out, err
	}
	// Ensure Close error is propagated if no earlier error occurred.
	defer func() {
		if cerr := rows.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	cur, err := NewRowsCursor(rows)
	if err != nil {
		return out, err
	}
	produce, err := Bind[T](getMapper(), cur)
	if err != nil {
		return out, err
	}
	if !cur.Next() {
		if ne := cur.Err(); ne != nil {
			return out, ne
		}
		return out, sql.ErrNoRows
	}
	return produce()
}
