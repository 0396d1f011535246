package rowmap

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"io"
	"reflect"
	"testing"
	"time"
)

/* -------------------------------------------------------
   In-memory database/sql driver
--------------------------------------------------------*/

type queryFunc func(query string, args []driver.NamedValue) (cols []string, rows [][]driver.Value, err error)

type execFunc func(query string, args []driver.NamedValue) (driver.Result, error)

type memConnector struct {
	query queryFunc
	exec  execFunc
}

func (c *memConnector) Connect(context.Context) (driver.Conn, error) { return &memConn{c: c}, nil }
func (c *memConnector) Driver() driver.Driver                        { return memDriver{} }

type memDriver struct{}

func (memDriver) Open(string) (driver.Conn, error) {
	return nil, errors.New("memDriver.Open should not be called; use sql.OpenDB with connector")
}

type memConn struct{ c *memConnector }

func (c *memConn) Prepare(string) (driver.Stmt, error) { return nil, driver.ErrSkip }
func (c *memConn) Close() error                        { return nil }
func (c *memConn) Begin() (driver.Tx, error)           { return nil, driver.ErrSkip }

func (c *memConn) QueryContext(_ context.Context, query string, args []driver.NamedValue) (driver.Rows, error) {
	if c.c.query == nil {
		return nil, driver.ErrSkip
	}
	cols, data, err := c.c.query(query, args)
	if err != nil {
		return nil, err
	}
	return &memRows{cols: cols, data: data}, nil
}

func (c *memConn) ExecContext(_ context.Context, query string, args []driver.NamedValue) (driver.Result, error) {
	if c.c.exec == nil {
		return nil, driver.ErrSkip
	}
	return c.c.exec(query, args)
}

type memRows struct {
	cols    []string
	data    [][]driver.Value
	i       int
	nextErr error
}

func (r *memRows) Columns() []string { return append([]string(nil), r.cols...) }
func (r *memRows) Close() error      { return nil }
func (r *memRows) Next(dest []driver.Value) error {
	if r.nextErr != nil {
		return r.nextErr
	}
	if r.i >= len(r.data) {
		return io.EOF
	}
	row := r.data[r.i]
	for i := range dest {
		if i < len(row) {
			dest[i] = row[i]
		} else {
			dest[i] = nil
		}
	}
	r.i++
	return nil
}

func newTestDB(t *testing.T, q queryFunc) *sql.DB {
	t.Helper()
	db := sql.OpenDB(&memConnector{query: q})
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func newExecDB(t *testing.T, e execFunc) *sql.DB {
	t.Helper()
	db := sql.OpenDB(&memConnector{exec: e})
	t.Cleanup(func() { _ = db.Close() })
	return db
}

// staticRows answers every query with the same result.
func staticRows(cols []string, rows ...[]driver.Value) queryFunc {
	return func(string, []driver.NamedValue) ([]string, [][]driver.Value, error) {
		return cols, rows, nil
	}
}

/* -------------------------------------------------------
   In-memory Cursor
--------------------------------------------------------*/

// memCursor serves typed columns from a slice of rows. A value of type
// panicValue makes every getter panic; an error value is returned as the
// getter's error.
type memCursor struct {
	cols []Column
	rows [][]any
	i    int
}

type panicValue string

func newMemCursor(cols []Column, rows ...[]any) *memCursor {
	return &memCursor{cols: cols, rows: rows, i: -1}
}

// col declares a typed column; a nil sample declares a dynamic one.
func colOf(name string, sample any) Column {
	if sample == nil {
		return Column{Name: name}
	}
	return Column{Name: name, Type: reflect.TypeOf(sample)}
}

func (c *memCursor) Next() bool {
	if c.i+1 >= len(c.rows) {
		return false
	}
	c.i++
	return true
}

func (c *memCursor) ColumnCount() int                   { return len(c.cols) }
func (c *memCursor) ColumnName(ordinal int) string       { return c.cols[ordinal].Name }
func (c *memCursor) ColumnType(ordinal int) reflect.Type { return c.cols[ordinal].Type }
func (c *memCursor) IsNull(ordinal int) bool             { return c.rows[c.i][ordinal] == nil }

func (c *memCursor) raw(ordinal int) (any, error) {
	v := c.rows[c.i][ordinal]
	switch x := v.(type) {
	case panicValue:
		panic(string(x))
	case error:
		return nil, x
	}
	return v, nil
}

func (c *memCursor) Value(ordinal int) (any, error) { return c.raw(ordinal) }

func (c *memCursor) Bool(ordinal int) (bool, error) {
	v, err := c.raw(ordinal)
	if err != nil {
		return false, err
	}
	return valueBool(v)
}

func (c *memCursor) Int64(ordinal int) (int64, error) {
	v, err := c.raw(ordinal)
	if err != nil {
		return 0, err
	}
	return valueInt64(v)
}

func (c *memCursor) Float64(ordinal int) (float64, error) {
	v, err := c.raw(ordinal)
	if err != nil {
		return 0, err
	}
	return valueFloat64(v)
}

func (c *memCursor) String(ordinal int) (string, error) {
	v, err := c.raw(ordinal)
	if err != nil {
		return "", err
	}
	return valueString(v)
}

func (c *memCursor) Bytes(ordinal int) ([]byte, error) {
	v, err := c.raw(ordinal)
	if err != nil {
		return nil, err
	}
	return valueBytes(v)
}

func (c *memCursor) Time(ordinal int) (time.Time, error) {
	v, err := c.raw(ordinal)
	if err != nil {
		return time.Time{}, err
	}
	return valueTime(v)
}

// otherCursor has memCursor's behavior under a distinct runtime type.
type otherCursor struct{ *memCursor }

// mapAll binds T on c and drains every row.
func mapAll[T any](m *Mapper, c *memCursor) ([]T, error) {
	next, err := Bind[T](m, c)
	if err != nil {
		return nil, err
	}
	var out []T
	for c.Next() {
		v, err := next()
		if err != nil {
			return out, err
		}
		out = append(out, v)
	}
	return out, nil
}

// mapOne binds T on c and maps its first row.
func mapOne[T any](m *Mapper, c *memCursor) (T, error) {
	var zero T
	next, err := Bind[T](m, c)
	if err != nil {
		return zero, err
	}
	if !c.Next() {
		return zero, fmt.Errorf("no row")
	}
	return next()
}
