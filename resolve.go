package rowmap

import (
	"fmt"
	"reflect"
	"strconv"
)

// Strategy selects how a set of bindings assembles one destination value.
type Strategy uint8

const (
	// StrategyComposite assigns columns to struct members by name.
	StrategyComposite Strategy = iota + 1
	// StrategyMap collects every column into a string-keyed map.
	StrategyMap
	// StrategyScalar converts a single column into the destination itself.
	StrategyScalar
)

func (s Strategy) String() string {
	switch s {
	case StrategyComposite:
		return "composite"
	case StrategyMap:
		return "map"
	case StrategyScalar:
		return "scalar"
	default:
		return "Strategy(" + strconv.Itoa(int(s)) + ")"
	}
}

// TargetKind tells what a binding's target refers to.
type TargetKind uint8

const (
	TargetField  TargetKind = iota + 1 // struct member
	TargetMapKey                       // key of a map destination
	TargetValue                        // the destination itself (scalar)
	TargetExtra                        // key of a struct's db:",extra" map
)

// Target describes the destination member a column feeds.
type Target struct {
	Kind TargetKind
	Name string       // member path ("Org.OrgID") or map key
	Type reflect.Type // Go type stored
}

func (t Target) String() string {
	switch t.Kind {
	case TargetField:
		return fmt.Sprintf("field %s (%s)", t.Name, t.Type)
	case TargetMapKey:
		return fmt.Sprintf("map key %q (%s)", t.Name, t.Type)
	case TargetExtra:
		return fmt.Sprintf("extra key %q (%s)", t.Name, t.Type)
	default:
		return fmt.Sprintf("value (%s)", t.Type)
	}
}

// Retrieval describes how a column is fetched and converted.
type Retrieval struct {
	Getter string       // Cursor method, e.g. "Int64"
	Into   reflect.Type // member type the value is converted to
}

func (r Retrieval) String() string { return r.Getter + " -> " + r.Into.String() }

// NullPolicy decides what a NULL column does to its member.
type NullPolicy uint8

const (
	NullFail    NullPolicy = iota // ErrNullValue
	NullSkip                      // leave the zero value (nil for nullable members)
	NullDefault                   // store the member's default= value
	NullScan                      // hand nil to the member's Scan method
)

func (p NullPolicy) String() string {
	switch p {
	case NullSkip:
		return "skip"
	case NullDefault:
		return "default"
	case NullScan:
		return "scan"
	default:
		return "fail"
	}
}

// Binding ties one column to one destination member.
type Binding struct {
	Column    Column
	Target    Target
	Retrieval Retrieval
	Null      NullPolicy

	path  []int        // reflect index path (fields and extra)
	elem  reflect.Type // non-pointer member type
	ptr   bool         // member is *elem
	get   getter
	sink  sink
	defv  any // parsed default= value
	extra reflect.Type
}

// Resolution is the outcome of binding a row schema to a destination type.
// It is immutable and safe to share.
type Resolution struct {
	Dest     reflect.Type
	Schema   *RowSchema
	Strategy Strategy
	Bindings []Binding // in column ordinal order
	// Unbound lists members that no column feeds; those with a default are
	// set to it for every row.
	Unbound []Target

	defaults []Binding // unbound members with default=
}

// Resolve decides which columns bind to which members of dest. It is pure;
// callers memoize it through the plan cache.
func (m *Mapper) Resolve(dest reflect.Type, schema *RowSchema) (*Resolution, error) {
	if schema.Len() == 0 {
		return nil, &ResolutionError{Dest: dest, Reason: "query returned zero columns", Err: ErrNoColumns}
	}
	strategy, err := strategyFor(dest)
	if err != nil {
		return nil, err
	}
	res := &Resolution{Dest: dest, Schema: schema, Strategy: strategy}
	switch strategy {
	case StrategyComposite:
		err = m.resolveComposite(res)
	case StrategyMap:
		err = m.resolveMap(res)
	case StrategyScalar:
		err = m.resolveScalar(res)
	}
	if err != nil {
		return nil, err
	}
	return res, nil
}

// strategyFor is total over reflect kinds: every type either gets a strategy
// or an ErrUnsupported resolution error.
func strategyFor(t reflect.Type) (Strategy, error) {
	if isComposite(t) || (t.Kind() == reflect.Ptr && isComposite(t.Elem())) {
		return StrategyComposite, nil
	}
	if t.Kind() == reflect.Map {
		if t.Key().Kind() != reflect.String {
			return 0, unsupported(t, "map key must be a string, got "+t.Key().String())
		}
		return StrategyMap, nil
	}
	elem := t
	if elem.Kind() == reflect.Ptr {
		elem = elem.Elem()
	}
	if elem.Kind() != reflect.Ptr && sinkFor(elem, false) != sinkNone {
		return StrategyScalar, nil
	}
	return 0, unsupported(t, "unsupported destination shape "+t.Kind().String())
}

func unsupported(t reflect.Type, reason string, cols ...string) error {
	return &ResolutionError{Dest: t, Columns: cols, Reason: reason, Err: ErrUnsupported}
}

func (m *Mapper) resolveComposite(res *Resolution) error {
	base := derefPtr(res.Dest)
	idx := m.structIndex(base)
	bound := make([]bool, len(idx.members))

	for _, col := range res.Schema.cols {
		key := normalizeName(col.Name, m.opts.CaseSensitive)
		if mi, ok := idx.byName[key]; ok {
			if bound[mi] {
				continue // first column with a name wins
			}
			bound[mi] = true
			mem := &idx.members[mi]
			b, err := m.bindMember(res.Dest, col, Target{Kind: TargetField, Name: mem.desc, Type: mem.typ}, mem.typ, mem.opts)
			if err != nil {
				return err
			}
			b.path = mem.path
			res.Bindings = append(res.Bindings, b)
			continue
		}
		if idx.extra < 0 {
			continue // ignored
		}
		mem := &idx.members[idx.extra]
		if mem.typ.Kind() != reflect.Map || mem.typ.Key().Kind() != reflect.String {
			return unsupported(res.Dest, fmt.Sprintf("extra member %s must be a map[string]T, got %s", mem.desc, mem.typ))
		}
		vt := mem.typ.Elem()
		b, err := m.bindMember(res.Dest, col, Target{Kind: TargetExtra, Name: unquoteCol(col.Name), Type: vt}, vt, tagOptions{})
		if err != nil {
			return err
		}
		b.path = mem.path
		b.extra = mem.typ
		res.Bindings = append(res.Bindings, b)
	}

	var missing []string
	for mi := range idx.members {
		if bound[mi] || mi == idx.extra {
			continue
		}
		mem := &idx.members[mi]
		t := Target{Kind: TargetField, Name: mem.desc, Type: mem.typ}
		res.Unbound = append(res.Unbound, t)
		switch {
		case mem.opts.required:
			missing = append(missing, mem.name)
		case mem.opts.hasDef:
			b, err := m.bindMember(res.Dest, Column{Ordinal: -1, Name: mem.name}, t, mem.typ, mem.opts)
			if err != nil {
				return err
			}
			b.path = mem.path
			res.defaults = append(res.defaults, b)
		case m.opts.MissingMembers == MissingFail:
			missing = append(missing, mem.name)
		}
	}
	if len(missing) > 0 {
		return &ResolutionError{Dest: res.Dest, Columns: missing, Reason: "no column for required member(s)"}
	}
	return nil
}

func (m *Mapper) resolveMap(res *Resolution) error {
	vt := res.Dest.Elem()
	seen := make(map[string]struct{}, res.Schema.Len())
	for _, col := range res.Schema.cols {
		name := unquoteCol(col.Name)
		if _, dup := seen[name]; dup {
			return &ResolutionError{Dest: res.Dest, Columns: []string{name}, Reason: "duplicate column name"}
		}
		seen[name] = struct{}{}
		b, err := m.bindMember(res.Dest, col, Target{Kind: TargetMapKey, Name: name, Type: vt}, vt, tagOptions{})
		if err != nil {
			return err
		}
		res.Bindings = append(res.Bindings, b)
	}
	return nil
}

func (m *Mapper) resolveScalar(res *Resolution) error {
	if n := res.Schema.Len(); n != 1 {
		return &ResolutionError{
			Dest:   res.Dest,
			Reason: fmt.Sprintf("cannot map %d columns into a scalar; use a struct or map", n),
			Err:    ErrTooManyColumns,
		}
	}
	col := res.Schema.cols[0]
	b, err := m.bindMember(res.Dest, col, Target{Kind: TargetValue, Type: res.Dest}, res.Dest, tagOptions{})
	if err != nil {
		return err
	}
	res.Bindings = append(res.Bindings, b)
	return nil
}

// bindMember plans the retrieval of col into a member of type t.
func (m *Mapper) bindMember(dest reflect.Type, col Column, target Target, t reflect.Type, opts tagOptions) (Binding, error) {
	b := Binding{Column: col, Target: target, elem: t}
	if t.Kind() == reflect.Ptr && !opts.json {
		b.elem, b.ptr = t.Elem(), true
		if b.elem.Kind() == reflect.Ptr {
			return b, unsupported(dest, fmt.Sprintf("%s: pointer to pointer", target), col.Name)
		}
	}
	b.sink = sinkFor(b.elem, opts.json)
	if b.sink == sinkNone {
		return b, unsupported(dest, fmt.Sprintf("%s: unsupported member type", target), col.Name)
	}
	g, ok := getterFor(categoryOf(col.Type), b.sink)
	if !ok {
		return b, unsupported(dest, fmt.Sprintf("%s: no conversion from column type %s", target, typeName(col.Type)), col.Name)
	}
	b.get = g
	b.Retrieval = Retrieval{Getter: g.String(), Into: t}

	if opts.hasDef {
		if b.ptr || b.sink == sinkBytes || b.sink == sinkAny || b.sink == sinkScanner || b.sink == sinkJSON {
			return b, unsupported(dest, fmt.Sprintf("%s: default not supported", target), col.Name)
		}
		v, err := parseDefault(b.sink, b.elem, opts.def)
		if err != nil {
			return b, &ResolutionError{Dest: dest, Columns: []string{col.Name}, Reason: fmt.Sprintf("%s: bad default %q: %v", target, opts.def, err)}
		}
		b.defv = v
	}
	b.Null = m.nullPolicy(b, opts)
	return b, nil
}

func (m *Mapper) nullPolicy(b Binding, opts tagOptions) NullPolicy {
	switch {
	case b.ptr:
		return NullSkip
	case b.sink == sinkScanner:
		return NullScan
	case b.sink == sinkAny || b.sink == sinkBytes || b.sink == sinkJSON:
		return NullSkip
	case opts.hasDef:
		return NullDefault
	case m.opts.NullAsZero:
		return NullSkip
	}
	return NullFail
}
