package rowmap

import (
	"database/sql"
	"fmt"
	"reflect"
	"time"
)

// RowsCursor adapts *sql.Rows to [Cursor]. Each call to Next scans the whole
// row once into a buffer of driver values; the typed getters convert from
// that buffer, so a column is never fetched from the driver twice.
//
// A RowsCursor is not safe for concurrent use, just like *sql.Rows.
type RowsCursor struct {
	rows   *sql.Rows
	schema *RowSchema
	vals   []any
	ptrs   []any
	// *sql.Rows only reports iteration errors, not Scan errors.
	scanErr error
}

// NewRowsCursor reads the column metadata of rows. It does not advance rows.
func NewRowsCursor(rows *sql.Rows) (*RowsCursor, error) {
	cts, err := rows.ColumnTypes()
	if err != nil {
		return nil, err
	}
	cols := make([]Column, len(cts))
	for i, ct := range cts {
		cols[i] = Column{Ordinal: i, Name: ct.Name(), Type: scanType(ct)}
	}
	c := &RowsCursor{
		rows:   rows,
		schema: NewRowSchema(cols),
		vals:   make([]any, len(cols)),
		ptrs:   make([]any, len(cols)),
	}
	for i := range c.vals {
		c.ptrs[i] = &c.vals[i]
	}
	return c, nil
}

// scanType treats the driver's "I don't know" answer (interface{}) as a
// dynamic column.
func scanType(ct *sql.ColumnType) reflect.Type {
	t := ct.ScanType()
	if t == nil || t == anyType {
		return nil
	}
	return t
}

// Next advances to the next row and buffers its values. It returns false at
// the end of the result or on error; check Err afterwards.
func (c *RowsCursor) Next() bool {
	if !c.rows.Next() {
		return false
	}
	if err := c.rows.Scan(c.ptrs...); err != nil {
		c.scanErr = err
		return false
	}
	return true
}

// Err returns the first scan or iteration error.
func (c *RowsCursor) Err() error {
	if c.scanErr != nil {
		return c.scanErr
	}
	return c.rows.Err()
}

func (c *RowsCursor) Close() error { return c.rows.Close() }

// Schema returns the memoized row schema.
func (c *RowsCursor) Schema() *RowSchema { return c.schema }

func (c *RowsCursor) ColumnCount() int                   { return c.schema.Len() }
func (c *RowsCursor) ColumnName(ordinal int) string       { return c.schema.cols[ordinal].Name }
func (c *RowsCursor) ColumnType(ordinal int) reflect.Type { return c.schema.cols[ordinal].Type }

func (c *RowsCursor) IsNull(ordinal int) bool { return c.vals[ordinal] == nil }

func (c *RowsCursor) Bool(ordinal int) (bool, error)       { return valueBool(c.vals[ordinal]) }
func (c *RowsCursor) Int64(ordinal int) (int64, error)     { return valueInt64(c.vals[ordinal]) }
func (c *RowsCursor) Float64(ordinal int) (float64, error) { return valueFloat64(c.vals[ordinal]) }
func (c *RowsCursor) String(ordinal int) (string, error)   { return valueString(c.vals[ordinal]) }
func (c *RowsCursor) Bytes(ordinal int) ([]byte, error)    { return valueBytes(c.vals[ordinal]) }
func (c *RowsCursor) Time(ordinal int) (time.Time, error)  { return valueTime(c.vals[ordinal]) }

func (c *RowsCursor) Value(ordinal int) (any, error) {
	if ordinal < 0 || ordinal >= len(c.vals) {
		return nil, fmt.Errorf("rowmap: column ordinal %d out of range [0,%d)", ordinal, len(c.vals))
	}
	return c.vals[ordinal], nil
}
