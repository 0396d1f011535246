package rowmap

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
)

var (
	// ErrNullValue is returned when a NULL column feeds a member that cannot
	// hold it and has no default.
	ErrNullValue = errors.New("rowmap: NULL value for non-nullable member")

	// ErrOverflow is returned when a numeric value does not fit its member.
	ErrOverflow = errors.New("rowmap: value out of range")

	// ErrConvert is returned when a value cannot be coerced to the member type.
	ErrConvert = errors.New("rowmap: cannot convert value")

	// ErrUnsupported is wrapped by a *ResolutionError when the destination
	// shape or a member type cannot be mapped at all.
	ErrUnsupported = errors.New("rowmap: unsupported destination")

	// ErrCompile signals an internal inconsistency while building a routine.
	// It indicates a bug, not bad data.
	ErrCompile = errors.New("rowmap: compile")

	// ErrNoColumns is returned for cursors without columns.
	ErrNoColumns = errors.New("rowmap: query returned zero columns")

	// ErrTooManyColumns is returned when a scalar destination receives more
	// than one column.
	ErrTooManyColumns = errors.New("rowmap: scalar destination requires exactly 1 column")
)

// ResolutionError reports why no mapping could be built for a destination
// type and row schema. It is raised before any row is read.
type ResolutionError struct {
	Dest    reflect.Type
	Columns []string // columns involved, if any
	Reason  string
	Err     error // ErrUnsupported, ErrTooManyColumns, ErrNoColumns or nil
}

func (e *ResolutionError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "rowmap: cannot map into %s: %s", typeName(e.Dest), e.Reason)
	if len(e.Columns) > 0 {
		fmt.Fprintf(&b, " (columns: %s)", strings.Join(e.Columns, ", "))
	}
	return b.String()
}

func (e *ResolutionError) Unwrap() error { return e.Err }

// ColumnError attributes a row conversion failure to one column and the
// destination member it was being assigned to.
type ColumnError struct {
	Ordinal    int
	Column     string
	ColumnType reflect.Type // declared type; nil when dynamic
	Member     string       // destination member description
	Dest       reflect.Type
	Err        error
}

func (e *ColumnError) Error() string {
	return fmt.Sprintf("rowmap: column %d %q (%s) -> %s: %v",
		e.Ordinal, e.Column, typeName(e.ColumnType), e.Member, e.Err)
}

func (e *ColumnError) Unwrap() error { return e.Err }

// MappingError is a row failure that could not be tied to a column, e.g. one
// raised while constructing the destination.
type MappingError struct {
	Dest reflect.Type
	Err  error
}

func (e *MappingError) Error() string {
	return fmt.Sprintf("rowmap: mapping into type %s: %v", typeName(e.Dest), e.Err)
}

func (e *MappingError) Unwrap() error { return e.Err }

// ---------------- Attribution ----------------

// attributor translates a failure at a column ordinal into a diagnostic. It
// is immutable and shared by all producers of one cache entry.
type attributor struct {
	byOrdinal []*Binding // indexed by column ordinal; nil when unbound
	dest      reflect.Type
}

func newAttributor(bindings []Binding, width int, dest reflect.Type) *attributor {
	a := &attributor{byOrdinal: make([]*Binding, width), dest: dest}
	for i := range bindings {
		b := &bindings[i]
		if o := b.Column.Ordinal; o >= 0 && o < width {
			a.byOrdinal[o] = b
		}
	}
	return a
}

func (a *attributor) attribute(err error, col int) error {
	if col < 0 || col >= len(a.byOrdinal) || a.byOrdinal[col] == nil {
		return &MappingError{Dest: a.dest, Err: err}
	}
	b := a.byOrdinal[col]
	return &ColumnError{
		Ordinal:    col,
		Column:     b.Column.Name,
		ColumnType: b.Column.Type,
		Member:     b.Target.String(),
		Dest:       a.dest,
		Err:        err,
	}
}

// wrap guards r: every error, and any panic raised by the cursor or a
// conversion, is re-raised as an attributed error. Nothing is retried.
func wrap[C Cursor, T any](r Routine[C, T], a *attributor) func(C) (T, error) {
	return func(c C) (out T, err error) {
		col := -1
		defer func() {
			if p := recover(); p != nil {
				var zero T
				out, err = zero, a.attribute(panicError(p), col)
			}
		}()
		out, err = r(c, &col)
		if err != nil {
			return out, a.attribute(err, col)
		}
		return out, nil
	}
}

func panicError(p any) error {
	if err, ok := p.(error); ok {
		return fmt.Errorf("panic: %w", err)
	}
	return fmt.Errorf("panic: %v", p)
}
