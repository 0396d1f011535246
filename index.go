package rowmap

import (
	"reflect"
	"strings"
)

// ---------------- Struct indexing & tags ----------------

// member is one addressable destination field of a composite type.
type member struct {
	name string       // column name it answers to (tag or field name)
	path []int        // reflect index path from the root struct
	desc string       // dotted Go field path, e.g. "Org.OrgID"
	typ  reflect.Type // field type
	opts tagOptions
}

type memberIndex struct {
	members []member
	byName  map[string]int // normalized name -> members index
	extra   int            // index of the db:",extra" member, or -1
}

type indexKey struct {
	rt            reflect.Type
	tag           string
	caseSensitive bool
}

func (m *Mapper) structIndex(rt reflect.Type) *memberIndex {
	key := indexKey{rt: rt, tag: m.opts.TagName, caseSensitive: m.opts.CaseSensitive}
	if v, ok := m.structIndexCache.Load(key); ok {
		return v.(*memberIndex)
	}
	fi := buildStructIndex(rt, m.opts.TagName, m.opts.CaseSensitive)
	v, _ := m.structIndexCache.LoadOrStore(key, fi)
	return v.(*memberIndex)
}

func buildStructIndex(rt reflect.Type, tagName string, caseSensitive bool) *memberIndex {
	idx := &memberIndex{byName: make(map[string]int), extra: -1}

	// Struct types on the current walk path; a type reaching itself through
	// an inline pointer is not expanded again.
	onPath := make(map[reflect.Type]bool)

	var walk func(t reflect.Type, base []int, prefix string, forceInline bool)
	walk = func(t reflect.Type, base []int, prefix string, forceInline bool) {
		t = derefPtr(t)
		if t.Kind() != reflect.Struct {
			return
		}
		onPath[t] = true
		defer delete(onPath, t)
		n := t.NumField()
		for i := 0; i < n; i++ {
			sf := t.Field(i)
			if sf.PkgPath != "" && !sf.Anonymous { // unexported, non-anonymous
				continue
			}
			tag := sf.Tag.Get(tagName)
			opts := parseTag(tag)
			if opts.omit {
				continue
			}
			ft := sf.Type
			path := append(append([]int(nil), base...), i)
			desc := prefix + sf.Name

			if opts.extra {
				if idx.extra < 0 {
					idx.extra = len(idx.members)
					idx.members = append(idx.members, member{name: sf.Name, path: path, desc: desc, typ: ft, opts: opts})
				}
				continue
			}
			if opts.inline || (sf.Anonymous && (forceInline || tag == "")) {
				if isComposite(ft) || (ft.Kind() == reflect.Ptr && isComposite(ft.Elem())) {
					if onPath[derefPtr(ft)] {
						continue
					}
					walk(ft, path, desc+".", opts.inline)
					continue
				}
			}
			if sf.PkgPath != "" { // unexported anonymous non-struct
				continue
			}
			name := opts.name
			if name == "" {
				name = sf.Name
			}
			key := normalizeName(name, caseSensitive)
			if _, ok := idx.byName[key]; ok {
				continue // shallower or earlier field wins
			}
			idx.byName[key] = len(idx.members)
			idx.members = append(idx.members, member{name: name, path: path, desc: desc, typ: ft, opts: opts})
		}
	}
	walk(rt, nil, "", false)
	return idx
}

// tagOptions is the parsed form of a `db:"..."` tag.
type tagOptions struct {
	name     string
	omit     bool
	inline   bool
	required bool
	json     bool
	extra    bool
	def      string
	hasDef   bool
}

// parseTag supports: "-", "col", ",inline", "col,inline", "inline,col" and
// the flags required, json, extra and default=<literal>.
func parseTag(tag string) tagOptions {
	var o tagOptions
	if tag == "-" {
		o.omit = true
		return o
	}
	if tag == "" {
		return o
	}
	start := 0
	for i := 0; i <= len(tag); i++ {
		if i == len(tag) || tag[i] == ',' {
			part := tag[start:i]
			switch {
			case part == "inline":
				o.inline = true
			case part == "required":
				o.required = true
			case part == "json":
				o.json = true
			case part == "extra":
				o.extra = true
			case strings.HasPrefix(part, "default="):
				o.def, o.hasDef = part[len("default="):], true
			case part != "" && o.name == "":
				o.name = part
			}
			start = i + 1
		}
	}
	return o
}

// ---------------- Column normalization (ASCII fast-path) ----------------

func normalizeName(s string, caseSensitive bool) string {
	s = unquoteCol(s)
	if caseSensitive {
		return s
	}
	return toLowerAscii(s)
}

func unquoteCol(s string) string {
	if l := len(s); l >= 2 {
		switch s[0] {
		case '"':
			if s[l-1] == '"' {
				s = s[1 : l-1]
			}
		case '`':
			if s[l-1] == '`' {
				s = s[1 : l-1]
			}
		case '[':
			if s[l-1] == ']' {
				s = s[1 : l-1]
			}
		}
	}
	return s
}

func toLowerAscii(s string) string {
	var need bool
	for i := 0; i < len(s); i++ {
		c := s[i]
		if 'A' <= c && c <= 'Z' {
			need = true
			break
		}
	}
	if !need {
		return s
	}
	b := make([]byte, len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if 'A' <= c && c <= 'Z' {
			c = c + ('a' - 'A')
		}
		b[i] = c
	}
	return string(b)
}
