package rowmap

import (
	"fmt"
	"reflect"
	"sync/atomic"
	"testing"

	"github.com/davecgh/go-spew/spew"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	"golang.org/x/sync/errgroup"
)

type account struct {
	ID      int64  `db:"id"`
	Owner   string `db:"owner"`
	Balance int64  `db:"balance"`
}

func accountCols() []Column {
	return []Column{colOf("id", int64(0)), colOf("owner", ""), colOf("balance", int64(0))}
}

func TestNewMapper_Defaults(t *testing.T) {
	m := NewMapper()
	assert.Equal(t, Options{TagName: "db", Capacity: 10000}, m.Options())

	m = NewMapper(WithTagName("col"), WithCapacity(5), WithCaseSensitive(true), WithNullAsZero(true), WithMissingMembers(MissingFail))
	assert.Equal(t, Options{TagName: "col", CaseSensitive: true, Capacity: 5, MissingMembers: MissingFail, NullAsZero: true}, m.Options())
}

func TestMapper_TagName(t *testing.T) {
	type row struct {
		ID int64 `col:"ident" db:"id"`
	}
	c := newMemCursor([]Column{colOf("ident", int64(0))}, []any{int64(4)})
	got, err := mapOne[row](NewMapper(WithTagName("col")), c)
	require.NoError(t, err)
	assert.EqualValues(t, 4, got.ID)
}

func TestBind_CompilesOncePerShape(t *testing.T) {
	m := NewMapper()

	for i := 0; i < 5; i++ {
		c := newMemCursor(accountCols(), []any{int64(i), "o", int64(10 * i)})
		got, err := mapOne[account](m, c)
		require.NoError(t, err)
		assert.Equal(t, account{ID: int64(i), Owner: "o", Balance: int64(10 * i)}, got)
	}
	st := m.Stats()
	assert.Equal(t, 1, st.Entries, spew.Sdump(st))
	assert.EqualValues(t, 1, st.Misses)
	assert.EqualValues(t, 4, st.Hits)
}

func TestBind_EqualSchemasShareOneRoutine(t *testing.T) {
	m := NewMapper()
	first, err := lookup[account](m, newMemCursor(accountCols()))
	require.NoError(t, err)

	// A different cursor instance with a structurally equal schema.
	second, err := lookup[account](m, newMemCursor(accountCols()))
	require.NoError(t, err)
	assert.Same(t, first, second)

	var g errgroup.Group
	entries := make([]*compiled[*memCursor, account], 16)
	for i := range entries {
		g.Go(func() error {
			e, err := lookup[account](m, newMemCursor(accountCols()))
			entries[i] = e
			return err
		})
	}
	require.NoError(t, g.Wait())
	for _, e := range entries {
		assert.Same(t, first, e)
	}
}

func TestBind_KeyIncludesCursorTypeSchemaAndDest(t *testing.T) {
	m := NewMapper()
	row := []any{int64(1), "o", int64(2)}

	_, err := mapOne[account](m, newMemCursor(accountCols(), row))
	require.NoError(t, err)

	// Another runtime cursor type.
	oc := otherCursor{newMemCursor(accountCols(), row)}
	next, err := Bind[account](m, oc)
	require.NoError(t, err)
	require.True(t, oc.Next())
	_, err = next()
	require.NoError(t, err)

	// Same runtime type behind the Cursor interface.
	ic := newMemCursor(accountCols(), row)
	_, err = BindCursor[account](m, ic)
	require.NoError(t, err)

	// Another column order.
	swapped := []Column{colOf("owner", ""), colOf("id", int64(0)), colOf("balance", int64(0))}
	got, err := mapOne[account](m, newMemCursor(swapped, []any{"o", int64(1), int64(2)}))
	require.NoError(t, err)
	assert.Equal(t, account{ID: 1, Owner: "o", Balance: 2}, got)

	// Another destination.
	_, err = mapOne[*account](m, newMemCursor(accountCols(), row))
	require.NoError(t, err)

	st := m.Stats()
	assert.Equal(t, 5, st.Entries, spew.Sdump(st))
	assert.EqualValues(t, 5, st.Misses)
}

func TestBind_ResolutionErrorsAreNotCached(t *testing.T) {
	m := NewMapper()
	cols := []Column{colOf("a", ""), colOf("b", "")}
	for i := 0; i < 2; i++ {
		_, err := Bind[int64](m, newMemCursor(cols))
		require.ErrorIs(t, err, ErrTooManyColumns)
	}
	st := m.Stats()
	assert.Zero(t, st.Entries)
	assert.EqualValues(t, 2, st.Misses)
}

func TestBind_NilCursorAndDefaultMapper(t *testing.T) {
	_, err := BindCursor[account](nil, nil)
	require.Error(t, err)

	c := newMemCursor(accountCols(), []any{int64(1), "o", int64(2)})
	got, err := mapOne[account](nil, c)
	require.NoError(t, err)
	assert.EqualValues(t, 1, got.ID)
}

func TestMapper_EvictionKeepsProducersUsable(t *testing.T) {
	m := NewMapper(WithCapacity(2))

	type a struct{ ID int64 }
	type b struct{ ID int64 }
	type c struct{ ID int64 }
	cols := []Column{colOf("id", int64(0))}

	ca := newMemCursor(cols, []any{int64(1)}, []any{int64(2)})
	nextA, err := Bind[a](m, ca)
	require.NoError(t, err)
	_, err = Bind[b](m, newMemCursor(cols))
	require.NoError(t, err)
	_, err = Bind[c](m, newMemCursor(cols))
	require.NoError(t, err)

	st := m.Stats()
	assert.Equal(t, 2, st.Entries)
	assert.EqualValues(t, 1, st.Evictions)

	for want := int64(1); ca.Next(); want++ {
		got, err := nextA()
		require.NoError(t, err)
		assert.Equal(t, want, got.ID)
	}

	// a was evicted and is compiled again.
	_, err = Bind[a](m, newMemCursor(cols))
	require.NoError(t, err)
	assert.EqualValues(t, 4, m.Stats().Misses)
}

func TestMapper_Purge(t *testing.T) {
	m := NewMapper()
	c := newMemCursor(accountCols(), []any{int64(1), "o", int64(2)})
	next, err := Bind[account](m, c)
	require.NoError(t, err)

	m.Purge()
	assert.Zero(t, m.Stats().Entries)

	require.True(t, c.Next())
	got, err := next()
	require.NoError(t, err)
	assert.EqualValues(t, 2, got.Balance)
}

func TestMapper_ConcurrentBindAndMap(t *testing.T) {
	m := NewMapper()
	const workers = 32
	const rows = 50

	var mapped atomic.Int64
	var g errgroup.Group
	for w := 0; w < workers; w++ {
		g.Go(func() error {
			data := make([][]any, rows)
			for i := range data {
				data[i] = []any{int64(i), fmt.Sprintf("owner-%d", w), int64(w)}
			}
			c := newMemCursor(accountCols(), data...)
			next, err := Bind[account](m, c)
			if err != nil {
				return err
			}
			for i := 0; c.Next(); i++ {
				got, err := next()
				if err != nil {
					return err
				}
				want := account{ID: int64(i), Owner: fmt.Sprintf("owner-%d", w), Balance: int64(w)}
				if got != want {
					return fmt.Errorf("worker %d row %d: got %+v want %+v", w, i, got, want)
				}
				mapped.Add(1)
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())
	assert.EqualValues(t, workers*rows, mapped.Load())

	st := m.Stats()
	assert.Equal(t, 1, st.Entries, spew.Sdump(st))
	assert.Equal(t, st.Misses-1, st.Discarded, spew.Sdump(st))
	assert.EqualValues(t, workers, st.Hits+st.Misses)
}

func TestMapper_LogsCompileAndEvict(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	m := NewMapper(WithLogger(zap.New(core)), WithCapacity(1))

	type one struct{ ID int64 }
	type two struct{ ID int64 }
	cols := []Column{colOf("id", int64(0))}
	_, err := Bind[one](m, newMemCursor(cols))
	require.NoError(t, err)
	_, err = Bind[two](m, newMemCursor(cols))
	require.NoError(t, err)
	_, err = Bind[string](m, newMemCursor(append(cols, colOf("x", ""))))
	require.Error(t, err)

	compiled := logs.FilterMessage("mapping compiled").All()
	require.Len(t, compiled, 2)
	fields := compiled[0].ContextMap()
	assert.Equal(t, "composite", fields["strategy"])
	assert.EqualValues(t, 1, fields["columns"])
	assert.Equal(t, reflect.TypeOf(one{}).String(), fields["dest"])

	assert.Equal(t, 1, logs.FilterMessage("mapping evicted").Len())
	assert.Equal(t, 1, logs.FilterMessage("mapping resolution failed").Len())
}

func TestWithConfig(t *testing.T) {
	cfg, err := ParseConfig([]byte("tag: col\ncapacity: 3\nmissing_members: fail\n"))
	require.NoError(t, err)

	m := NewMapper(WithConfig(cfg), WithNullAsZero(true))
	assert.Equal(t, Options{TagName: "col", Capacity: 3, MissingMembers: MissingFail, NullAsZero: true}, m.Options())
}
