package rowmap

import (
	"reflect"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Cursor is a forward-only, column-indexed accessor over the current row of
// a tabular result. Ordinals are zero-based.
//
// Typed getters are only called for non-NULL values (IsNull is consulted
// first). Implementations may convert between representations (e.g. a
// driver []byte into a string) but should report failures instead of
// guessing.
type Cursor interface {
	ColumnCount() int
	ColumnName(ordinal int) string
	// ColumnType reports the declared Go type of the column, or nil when the
	// cursor cannot tell (dynamic).
	ColumnType(ordinal int) reflect.Type

	IsNull(ordinal int) bool
	Bool(ordinal int) (bool, error)
	Int64(ordinal int) (int64, error)
	Float64(ordinal int) (float64, error)
	String(ordinal int) (string, error)
	Bytes(ordinal int) ([]byte, error)
	Time(ordinal int) (time.Time, error)
	// Value returns the raw, dynamically typed value.
	Value(ordinal int) (any, error)
}

// Column describes one column of a cursor shape.
type Column struct {
	Ordinal int
	Name    string
	Type    reflect.Type // nil when unknown
}

func (c Column) String() string {
	return c.Name + " " + typeName(c.Type)
}

// RowSchema is the ordered column signature of a cursor shape. It is
// immutable; two schemas are equal when their columns are equal element-wise.
type RowSchema struct {
	cols []Column
	sig  string
}

// NewRowSchema builds a schema from cols. Ordinals are taken from the
// position in cols.
func NewRowSchema(cols []Column) *RowSchema {
	s := &RowSchema{cols: make([]Column, len(cols))}
	var b strings.Builder
	for i, c := range cols {
		c.Ordinal = i
		s.cols[i] = c
		b.WriteString(c.Name)
		b.WriteByte(0)
		b.WriteString(strconv.FormatUint(typeID(c.Type), 36))
		b.WriteByte(0)
	}
	s.sig = b.String()
	return s
}

// SchemaOf returns the row schema of c. Cursors that memoize their schema
// expose it with a Schema() *RowSchema method, which is preferred.
func SchemaOf(c Cursor) *RowSchema {
	if sc, ok := c.(interface{ Schema() *RowSchema }); ok {
		if s := sc.Schema(); s != nil {
			return s
		}
	}
	n := c.ColumnCount()
	cols := make([]Column, n)
	for i := 0; i < n; i++ {
		cols[i] = Column{Ordinal: i, Name: c.ColumnName(i), Type: c.ColumnType(i)}
	}
	return NewRowSchema(cols)
}

func (s *RowSchema) Len() int { return len(s.cols) }

// Column returns the descriptor at ordinal i.
func (s *RowSchema) Column(i int) Column { return s.cols[i] }

// Columns returns a copy of the descriptors.
func (s *RowSchema) Columns() []Column { return append([]Column(nil), s.cols...) }

// Equal reports element-wise equality of the column descriptors.
func (s *RowSchema) Equal(o *RowSchema) bool {
	if s == o {
		return true
	}
	if s == nil || o == nil {
		return false
	}
	return s.sig == o.sig
}

func (s *RowSchema) String() string {
	parts := make([]string, len(s.cols))
	for i, c := range s.cols {
		parts[i] = c.String()
	}
	return "(" + strings.Join(parts, ", ") + ")"
}

// ---------------- Type identity for signatures ----------------

var (
	typeIDs    sync.Map // reflect.Type -> uint64
	nextTypeID atomic.Uint64
)

// typeID interns t so that signatures compare types by identity rather than
// by their (possibly ambiguous) printed names. nil maps to 0.
func typeID(t reflect.Type) uint64 {
	if t == nil {
		return 0
	}
	if v, ok := typeIDs.Load(t); ok {
		return v.(uint64)
	}
	v, _ := typeIDs.LoadOrStore(t, nextTypeID.Add(1))
	return v.(uint64)
}

func typeName(t reflect.Type) string {
	if t == nil {
		return "any"
	}
	return t.String()
}
