package rowmap

import (
	"context"
)

// Query runs the query and maps every row into a T using the default mapper.
// The routine for the result shape is compiled once and reused for each row
// (and for later queries with the same shape).
//
// See [Get] for the supported destinations.
//
//	users, err := rowmap.Query[User](ctx, db, `SELECT id, email FROM users ORDER BY id`)
func Query[T any](ctx context.Context, q Querier, query string, args ...any) (out []T, err error) {
	err = Each(ctx, q, query, func(v T) error {
		out = append(out, v)
		return nil
	}, args...)
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Each streams the result of query, calling fn with one T per row. It stops
// at the first error returned by fn, by the mapping or by the driver.
func Each[T any](ctx context.Context, q Querier, query string, fn func(T) error, args ...any) (err error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return err
	}
	// Propagate rows.Close() error if nothing else failed.
	defer func() {
		if cerr := rows.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	cur, err := NewRowsCursor(rows)
	if err != nil {
		return err
	}
	produce, err := Bind[T](getMapper(), cur)
	if err != nil {
		return err
	}
	for cur.Next() {
		v, err := produce()
		if err != nil {
			return err
		}
		if err := fn(v); err != nil {
			return err
		}
	}
	return cur.Err()
}
