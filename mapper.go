package rowmap

import (
	"fmt"
	"reflect"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/go-mizu/rowmap/internal/plancache"
)

// Options tune how columns bind to members.
type Options struct {
	// TagName is the struct tag consulted for column names. Default "db".
	TagName string
	// CaseSensitive disables case-insensitive column ←→ member matching.
	CaseSensitive bool
	// Capacity bounds the number of cached routines. Default 10,000.
	Capacity int
	// MissingMembers decides what happens to members no column feeds.
	MissingMembers MissingPolicy
	// NullAsZero leaves non-nullable members at their zero value on NULL
	// instead of failing.
	NullAsZero bool
}

// MissingPolicy applies to destination members without a matching column
// and without a default.
type MissingPolicy uint8

const (
	// MissingZero leaves them at their zero value.
	MissingZero MissingPolicy = iota
	// MissingFail rejects the mapping with a *ResolutionError.
	MissingFail
)

func (p MissingPolicy) String() string {
	if p == MissingFail {
		return "fail"
	}
	return "zero"
}

func (p *MissingPolicy) UnmarshalText(b []byte) error {
	switch string(b) {
	case "", "zero":
		*p = MissingZero
	case "fail":
		*p = MissingFail
	default:
		return fmt.Errorf("rowmap: unknown missing member policy %q (want zero or fail)", b)
	}
	return nil
}

func (p MissingPolicy) MarshalText() ([]byte, error) { return []byte(p.String()), nil }

// Mapper owns the routine cache. The zero value is not usable; call
// NewMapper. A Mapper is safe for concurrent use.
type Mapper struct {
	opts             Options
	log              *zap.Logger
	plans            *plancache.Cache[planKey, any]
	structIndexCache sync.Map // indexKey -> *memberIndex
}

type Option func(*Mapper)

func WithLogger(l *zap.Logger) Option {
	return func(m *Mapper) {
		if l != nil {
			m.log = l
		}
	}
}

func WithCaseSensitive(on bool) Option { return func(m *Mapper) { m.opts.CaseSensitive = on } }
func WithCapacity(n int) Option        { return func(m *Mapper) { m.opts.Capacity = n } }
func WithNullAsZero(on bool) Option    { return func(m *Mapper) { m.opts.NullAsZero = on } }
func WithTagName(tag string) Option    { return func(m *Mapper) { m.opts.TagName = tag } }

func WithMissingMembers(p MissingPolicy) Option {
	return func(m *Mapper) { m.opts.MissingMembers = p }
}

// WithConfig applies a loaded configuration; later options override it.
func WithConfig(c Config) Option {
	return func(m *Mapper) { m.opts = c.Options() }
}

func NewMapper(opts ...Option) *Mapper {
	m := &Mapper{log: zap.NewNop()}
	for _, o := range opts {
		o(m)
	}
	if m.opts.TagName == "" {
		m.opts.TagName = "db"
	}
	m.plans = plancache.New(m.opts.Capacity, plancache.WithOnEvict(func(k planKey, _ any) {
		m.log.Debug("mapping evicted",
			zap.Stringer("dest", k.dest),
			zap.Stringer("cursor", k.cursor),
		)
	}))
	m.opts.Capacity = m.plans.Cap()
	return m
}

// Options returns the effective options.
func (m *Mapper) Options() Options { return m.opts }

// --- package-level lazy default mapper (used by Get/Query/Each) ---

var (
	mapper     *Mapper
	mapperOnce sync.Once
)

func getMapper() *Mapper {
	mapperOnce.Do(func() { mapper = NewMapper() })
	return mapper
}

// Stats is a snapshot of the routine cache counters.
type Stats = plancache.Stats

func (m *Mapper) Stats() Stats { return m.plans.Stats() }

// Purge drops every cached routine. Producers already handed out keep
// working.
func (m *Mapper) Purge() { m.plans.Clear() }

// ---------------- Per-cursor adapter ----------------

// Producer yields one destination value from the cursor's current row per
// call.
type Producer[T any] func() (T, error)

// planKey identifies one compiled routine. cursor is the runtime type of the
// cursor, via the static type the routine was compiled against.
type planKey struct {
	cursor reflect.Type
	via    reflect.Type
	dest   reflect.Type
	schema string
}

// compiled is a cache entry: the wrapped routine plus what produced it.
type compiled[C Cursor, T any] struct {
	res *Resolution
	run func(C) (T, error)
}

// Bind returns a producer that maps c's current row into a T. The routine is
// compiled for the static cursor type C, so passing a concrete cursor such as
// *RowsCursor lets the calls into it be specialized; it is fetched from m's
// cache by (cursor type, row schema, T) and compiled on first use.
//
// A nil m uses the package default mapper.
func Bind[T any, C Cursor](m *Mapper, c C) (Producer[T], error) {
	e, err := lookup[T](m, c)
	if err != nil {
		return nil, err
	}
	run := e.run
	return func() (T, error) { return run(c) }, nil
}

// BindCursor is Bind for callers that only hold a Cursor interface value.
func BindCursor[T any](m *Mapper, c Cursor) (Producer[T], error) {
	return Bind[T, Cursor](m, c)
}

func lookup[T any, C Cursor](m *Mapper, c C) (*compiled[C, T], error) {
	if m == nil {
		m = getMapper()
	}
	rt := reflect.TypeOf(c)
	if rt == nil {
		return nil, fmt.Errorf("rowmap: nil cursor")
	}
	schema := SchemaOf(c)
	dest := reflect.TypeFor[T]()
	key := planKey{cursor: rt, via: reflect.TypeFor[C](), dest: dest, schema: schema.sig}

	v, err := m.plans.GetOrCreate(key, func() (any, error) {
		return compileEntry[C, T](m, rt, schema, dest)
	})
	if err != nil {
		return nil, err
	}
	e, ok := v.(*compiled[C, T])
	if !ok {
		return nil, fmt.Errorf("%w: cache entry %T for %s", ErrCompile, v, dest)
	}
	return e, nil
}

func compileEntry[C Cursor, T any](m *Mapper, rt reflect.Type, schema *RowSchema, dest reflect.Type) (*compiled[C, T], error) {
	start := time.Now()
	res, err := m.Resolve(dest, schema)
	if err != nil {
		m.log.Debug("mapping resolution failed",
			zap.Stringer("dest", dest),
			zap.Stringer("schema", schema),
			zap.Error(err),
		)
		return nil, err
	}
	r, err := Compile[C, T](res)
	if err != nil {
		return nil, err
	}
	e := &compiled[C, T]{
		res: res,
		run: wrap(r, newAttributor(res.Bindings, schema.Len(), dest)),
	}
	m.log.Debug("mapping compiled",
		zap.Stringer("dest", dest),
		zap.Stringer("cursor", rt),
		zap.Stringer("strategy", res.Strategy),
		zap.Int("columns", schema.Len()),
		zap.Int("bindings", len(res.Bindings)),
		zap.Duration("took", time.Since(start)),
	)
	return e, nil
}
