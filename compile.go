package rowmap

import (
	"database/sql"
	"fmt"
	"reflect"
	"time"
	"unsafe"
)

// Routine converts the cursor's current row into one T. It records the
// ordinal of the column being processed in *col (-1 while constructing the
// destination) so a failure can be attributed. Routines hold no mutable
// state and may run concurrently on different cursors.
type Routine[C Cursor, T any] func(c C, col *int) (T, error)

// Compile turns a resolution into a routine specialized for cursor type C
// and destination T. The routine is a tree of closures over per-type
// primitives chosen here, once; the hot path does no type inspection.
func Compile[C Cursor, T any](res *Resolution) (Routine[C, T], error) {
	if rt := reflect.TypeFor[T](); rt != res.Dest {
		return nil, fmt.Errorf("%w: resolution for %s used for %s", ErrCompile, res.Dest, rt)
	}
	switch res.Strategy {
	case StrategyComposite:
		return compileComposite[C, T](res)
	case StrategyMap:
		return compileMap[C, T](res)
	case StrategyScalar:
		return compileScalar[C, T](res)
	}
	return nil, fmt.Errorf("%w: unknown strategy %s", ErrCompile, res.Strategy)
}

// ---------------- Member steps ----------------

// hop dereferences an inline pointer-to-struct, allocating it when nil.
type hop struct {
	offset uintptr
	elem   reflect.Type
}

// step is one compiled binding: locate the member, then read into it.
type step[C Cursor] struct {
	ordinal int
	hops    []hop
	offset  uintptr // from the last hop (or the root)
	run     func(c C, ord int, p unsafe.Pointer) error
}

func (s *step[C]) locate(base unsafe.Pointer) unsafe.Pointer {
	p := base
	for _, h := range s.hops {
		pp := (*unsafe.Pointer)(unsafe.Add(p, h.offset))
		if *pp == nil {
			*pp = reflect.New(h.elem).UnsafePointer()
		}
		p = *pp
	}
	return unsafe.Add(p, s.offset)
}

// layout converts a reflect index path into pointer hops and a final offset.
func layout(root reflect.Type, path []int) ([]hop, uintptr) {
	var hops []hop
	var off uintptr
	t := root
	for i, fi := range path {
		sf := t.Field(fi)
		off += sf.Offset
		t = sf.Type
		if i == len(path)-1 {
			break
		}
		if t.Kind() == reflect.Ptr {
			hops = append(hops, hop{offset: off, elem: t.Elem()})
			t, off = t.Elem(), 0
		}
	}
	return hops, off
}

// memberFn returns the read+store primitive for b, including NULL handling
// and pointer members.
func memberFn[C Cursor](b *Binding) (func(c C, ord int, p unsafe.Pointer) error, error) {
	store, err := makeStore[C](b.get, b.sink, b.elem)
	if err != nil {
		return nil, err
	}
	if b.ptr {
		alloc := allocator(b.elem)
		inner := store
		store = func(c C, ord int, p unsafe.Pointer) error {
			ep := alloc()
			if err := inner(c, ord, ep); err != nil {
				return err
			}
			*(*unsafe.Pointer)(p) = ep
			return nil
		}
	}
	onNull, err := nullFn(b)
	if err != nil {
		return nil, err
	}
	return func(c C, ord int, p unsafe.Pointer) error {
		if c.IsNull(ord) {
			return onNull(p)
		}
		return store(c, ord, p)
	}, nil
}

func nullFn(b *Binding) (func(p unsafe.Pointer) error, error) {
	switch b.Null {
	case NullSkip:
		return func(unsafe.Pointer) error { return nil }, nil
	case NullScan:
		t := b.elem
		return func(p unsafe.Pointer) error {
			return reflect.NewAt(t, p).Interface().(sql.Scanner).Scan(nil)
		}, nil
	case NullDefault:
		set, err := makeDefault(b.sink, b.elem, b.defv)
		if err != nil {
			return nil, err
		}
		return func(p unsafe.Pointer) error {
			set(p)
			return nil
		}, nil
	default:
		return func(unsafe.Pointer) error { return ErrNullValue }, nil
	}
}

// allocator returns a typed allocation for the member element. Basic kinds
// share an allocation of the same size and pointer shape.
func allocator(t reflect.Type) func() unsafe.Pointer {
	if t == timeType {
		return func() unsafe.Pointer { return unsafe.Pointer(new(time.Time)) }
	}
	switch t.Kind() {
	case reflect.Bool, reflect.Int8, reflect.Uint8:
		return func() unsafe.Pointer { return unsafe.Pointer(new(uint8)) }
	case reflect.Int16, reflect.Uint16:
		return func() unsafe.Pointer { return unsafe.Pointer(new(uint16)) }
	case reflect.Int32, reflect.Uint32, reflect.Float32:
		return func() unsafe.Pointer { return unsafe.Pointer(new(uint32)) }
	case reflect.Int64, reflect.Uint64, reflect.Float64:
		return func() unsafe.Pointer { return unsafe.Pointer(new(uint64)) }
	case reflect.Int, reflect.Uint:
		return func() unsafe.Pointer { return unsafe.Pointer(new(uint)) }
	case reflect.String:
		return func() unsafe.Pointer { return unsafe.Pointer(new(string)) }
	}
	return func() unsafe.Pointer { return reflect.New(t).UnsafePointer() }
}

// ---------------- Strategies ----------------

func compileComposite[C Cursor, T any](res *Resolution) (Routine[C, T], error) {
	root := derefPtr(res.Dest)
	indirect := res.Dest.Kind() == reflect.Ptr

	steps := make([]step[C], 0, len(res.defaults)+len(res.Bindings))
	for i := range res.defaults {
		b := &res.defaults[i]
		set, err := makeDefault(b.sink, b.elem, b.defv)
		if err != nil {
			return nil, err
		}
		hops, off := layout(root, b.path)
		steps = append(steps, step[C]{ordinal: -1, hops: hops, offset: off, run: func(_ C, _ int, p unsafe.Pointer) error {
			set(p)
			return nil
		}})
	}
	for i := range res.Bindings {
		b := &res.Bindings[i]
		var run func(C, int, unsafe.Pointer) error
		var err error
		if b.Target.Kind == TargetExtra {
			run, err = collectFn[C](b, b.extra)
		} else {
			run, err = memberFn[C](b)
		}
		if err != nil {
			return nil, err
		}
		hops, off := layout(root, b.path)
		steps = append(steps, step[C]{ordinal: b.Column.Ordinal, hops: hops, offset: off, run: run})
	}

	return func(c C, col *int) (T, error) {
		var out T
		*col = -1
		var base unsafe.Pointer
		if indirect {
			base = reflect.New(root).UnsafePointer()
			*(*unsafe.Pointer)(unsafe.Pointer(&out)) = base
		} else {
			base = unsafe.Pointer(&out)
		}
		for i := range steps {
			s := &steps[i]
			if len(s.hops) > 0 {
				*col = -1
			}
			p := s.locate(base)
			*col = s.ordinal
			if err := s.run(c, s.ordinal, p); err != nil {
				var zero T
				return zero, err
			}
		}
		*col = -1
		return out, nil
	}, nil
}

func compileMap[C Cursor, T any](res *Resolution) (Routine[C, T], error) {
	mt := res.Dest
	n := len(res.Bindings)
	type collect struct {
		ordinal int
		run     func(C, int, unsafe.Pointer) error
	}
	steps := make([]collect, n)
	for i := range res.Bindings {
		b := &res.Bindings[i]
		run, err := collectFn[C](b, mt)
		if err != nil {
			return nil, err
		}
		steps[i] = collect{ordinal: b.Column.Ordinal, run: run}
	}

	var makeMap func(mp unsafe.Pointer)
	if isAnyMap(mt) {
		makeMap = func(mp unsafe.Pointer) { *(*map[string]any)(mp) = make(map[string]any, n) }
	} else {
		makeMap = func(mp unsafe.Pointer) { reflect.NewAt(mt, mp).Elem().Set(reflect.MakeMapWithSize(mt, n)) }
	}

	return func(c C, col *int) (T, error) {
		var out T
		*col = -1
		mp := unsafe.Pointer(&out)
		makeMap(mp)
		for i := range steps {
			s := &steps[i]
			*col = s.ordinal
			if err := s.run(c, s.ordinal, mp); err != nil {
				var zero T
				return zero, err
			}
		}
		*col = -1
		return out, nil
	}, nil
}

func compileScalar[C Cursor, T any](res *Resolution) (Routine[C, T], error) {
	if len(res.Bindings) != 1 {
		return nil, fmt.Errorf("%w: scalar with %d bindings", ErrCompile, len(res.Bindings))
	}
	b := &res.Bindings[0]
	run, err := memberFn[C](b)
	if err != nil {
		return nil, err
	}
	ord := b.Column.Ordinal
	return func(c C, col *int) (T, error) {
		var out T
		*col = ord
		if err := run(c, ord, unsafe.Pointer(&out)); err != nil {
			var zero T
			return zero, err
		}
		*col = -1
		return out, nil
	}, nil
}

var stringType = reflect.TypeOf("")

// isAnyMap reports whether mt has the memory layout of map[string]any.
func isAnyMap(mt reflect.Type) bool {
	return mt.Key() == stringType && mt.Elem() == anyType
}

// collectFn returns a primitive that reads the binding's column and inserts
// it under the binding's key into the map of type mt at mp, creating the map
// when nil. NULLs insert the zero value unless the policy fails.
func collectFn[C Cursor](b *Binding, mt reflect.Type) (func(c C, ord int, mp unsafe.Pointer) error, error) {
	fn, err := memberFn[C](b)
	if err != nil {
		return nil, err
	}
	key := b.Target.Name
	if isAnyMap(mt) {
		return func(c C, ord int, mp unsafe.Pointer) error {
			m := *(*map[string]any)(mp)
			if m == nil {
				m = make(map[string]any)
				*(*map[string]any)(mp) = m
			}
			var v any
			if err := fn(c, ord, unsafe.Pointer(&v)); err != nil {
				return err
			}
			m[key] = v
			return nil
		}, nil
	}
	kv := reflect.ValueOf(key).Convert(mt.Key())
	vt := mt.Elem()
	return func(c C, ord int, mp unsafe.Pointer) error {
		mv := reflect.NewAt(mt, mp).Elem()
		if mv.IsNil() {
			mv.Set(reflect.MakeMap(mt))
		}
		ev := reflect.New(vt)
		if err := fn(c, ord, ev.UnsafePointer()); err != nil {
			return err
		}
		mv.SetMapIndex(kv, ev.Elem())
		return nil
	}, nil
}
