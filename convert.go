package rowmap

import (
	"bytes"
	"database/sql"
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"
	"time"
	"unsafe"

	gojson "github.com/goccy/go-json"
)

var (
	anyType     = reflect.TypeOf((*any)(nil)).Elem()
	timeType    = reflect.TypeOf(time.Time{})
	scannerType = reflect.TypeOf((*sql.Scanner)(nil)).Elem()
)

// category is the family of a column's declared type.
type category uint8

const (
	catDynamic category = iota
	catBool
	catInt
	catUint
	catFloat
	catString
	catBytes
	catTime
)

var nullCategories = map[reflect.Type]category{
	reflect.TypeOf(sql.NullBool{}):    catBool,
	reflect.TypeOf(sql.NullByte{}):    catInt,
	reflect.TypeOf(sql.NullInt16{}):   catInt,
	reflect.TypeOf(sql.NullInt32{}):   catInt,
	reflect.TypeOf(sql.NullInt64{}):   catInt,
	reflect.TypeOf(sql.NullFloat64{}): catFloat,
	reflect.TypeOf(sql.NullString{}):  catString,
	reflect.TypeOf(sql.NullTime{}):    catTime,
}

func categoryOf(t reflect.Type) category {
	if t == nil {
		return catDynamic
	}
	t = derefPtr(t)
	if c, ok := nullCategories[t]; ok {
		return c
	}
	if t == timeType {
		return catTime
	}
	switch t.Kind() {
	case reflect.Bool:
		return catBool
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return catInt
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return catUint
	case reflect.Float32, reflect.Float64:
		return catFloat
	case reflect.String:
		return catString
	case reflect.Slice:
		if t.Elem().Kind() == reflect.Uint8 {
			return catBytes
		}
	}
	return catDynamic
}

// getter names the Cursor method a binding reads through.
type getter uint8

const (
	getValue getter = iota
	getBool
	getInt64
	getFloat64
	getString
	getBytes
	getTime
)

func (g getter) String() string {
	switch g {
	case getBool:
		return "Bool"
	case getInt64:
		return "Int64"
	case getFloat64:
		return "Float64"
	case getString:
		return "String"
	case getBytes:
		return "Bytes"
	case getTime:
		return "Time"
	default:
		return "Value"
	}
}

// sink is the storage shape of a destination member.
type sink uint8

const (
	sinkNone sink = iota
	sinkBool
	sinkInt
	sinkUint
	sinkFloat
	sinkString
	sinkBytes
	sinkTime
	sinkAny
	sinkScanner
	sinkJSON
)

// sinkFor classifies a non-pointer member type.
func sinkFor(t reflect.Type, asJSON bool) sink {
	if asJSON {
		return sinkJSON
	}
	if implementsScanner(t) {
		return sinkScanner
	}
	if t == timeType {
		return sinkTime
	}
	switch t.Kind() {
	case reflect.Bool:
		return sinkBool
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return sinkInt
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return sinkUint
	case reflect.Float32, reflect.Float64:
		return sinkFloat
	case reflect.String:
		return sinkString
	case reflect.Slice:
		if t.Elem().Kind() == reflect.Uint8 {
			return sinkBytes
		}
	case reflect.Interface:
		if t.NumMethod() == 0 {
			return sinkAny
		}
	}
	return sinkNone
}

// getterFor picks the cheapest getter that can feed sink s from a column of
// category src. ok is false when no conversion exists.
func getterFor(src category, s sink) (getter, bool) {
	switch s {
	case sinkAny, sinkScanner:
		return getValue, true
	case sinkJSON:
		switch src {
		case catBytes, catDynamic:
			return getBytes, true
		case catString:
			return getString, true
		}
	case sinkBool:
		switch src {
		case catBool, catDynamic:
			return getBool, true
		case catInt, catUint:
			return getInt64, true
		case catString, catBytes:
			return getString, true
		}
	case sinkInt, sinkUint:
		switch src {
		case catInt, catUint, catDynamic:
			return getInt64, true
		case catFloat:
			return getFloat64, true
		case catBool:
			return getBool, true
		case catString, catBytes:
			return getString, true
		}
	case sinkFloat:
		switch src {
		case catFloat, catDynamic:
			return getFloat64, true
		case catInt, catUint:
			return getInt64, true
		case catString, catBytes:
			return getString, true
		}
	case sinkString:
		switch src {
		case catString, catDynamic:
			return getString, true
		case catBytes:
			return getBytes, true
		case catInt, catUint:
			return getInt64, true
		case catFloat:
			return getFloat64, true
		case catBool:
			return getBool, true
		case catTime:
			return getTime, true
		}
	case sinkBytes:
		switch src {
		case catBytes, catDynamic:
			return getBytes, true
		case catString:
			return getString, true
		}
	case sinkTime:
		switch src {
		case catTime, catDynamic:
			return getTime, true
		case catString, catBytes:
			return getString, true
		}
	}
	return getValue, false
}

// ---------------- Readers: getter + coercion to one Go type ----------------

type readFn[C Cursor, V any] func(c C, ord int) (V, error)

func readInt[C Cursor](g getter) readFn[C, int64] {
	switch g {
	case getFloat64:
		return func(c C, ord int) (int64, error) {
			f, err := c.Float64(ord)
			if err != nil {
				return 0, err
			}
			return floatToInt(f)
		}
	case getBool:
		return func(c C, ord int) (int64, error) {
			b, err := c.Bool(ord)
			if b {
				return 1, err
			}
			return 0, err
		}
	case getString:
		return func(c C, ord int) (int64, error) {
			s, err := c.String(ord)
			if err != nil {
				return 0, err
			}
			return parseInt(s)
		}
	default:
		return func(c C, ord int) (int64, error) { return c.Int64(ord) }
	}
}

func readFloat[C Cursor](g getter) readFn[C, float64] {
	switch g {
	case getInt64:
		return func(c C, ord int) (float64, error) {
			i, err := c.Int64(ord)
			return float64(i), err
		}
	case getString:
		return func(c C, ord int) (float64, error) {
			s, err := c.String(ord)
			if err != nil {
				return 0, err
			}
			return parseFloat(s)
		}
	default:
		return func(c C, ord int) (float64, error) { return c.Float64(ord) }
	}
}

func readBool[C Cursor](g getter) readFn[C, bool] {
	switch g {
	case getInt64:
		return func(c C, ord int) (bool, error) {
			i, err := c.Int64(ord)
			return i != 0, err
		}
	case getString:
		return func(c C, ord int) (bool, error) {
			s, err := c.String(ord)
			if err != nil {
				return false, err
			}
			return parseBool(s)
		}
	default:
		return func(c C, ord int) (bool, error) { return c.Bool(ord) }
	}
}

func readString[C Cursor](g getter) readFn[C, string] {
	switch g {
	case getBytes:
		return func(c C, ord int) (string, error) {
			b, err := c.Bytes(ord)
			return string(b), err
		}
	case getInt64:
		return func(c C, ord int) (string, error) {
			i, err := c.Int64(ord)
			return strconv.FormatInt(i, 10), err
		}
	case getFloat64:
		return func(c C, ord int) (string, error) {
			f, err := c.Float64(ord)
			return strconv.FormatFloat(f, 'g', -1, 64), err
		}
	case getBool:
		return func(c C, ord int) (string, error) {
			b, err := c.Bool(ord)
			return strconv.FormatBool(b), err
		}
	case getTime:
		return func(c C, ord int) (string, error) {
			t, err := c.Time(ord)
			return t.Format(time.RFC3339Nano), err
		}
	default:
		return func(c C, ord int) (string, error) { return c.String(ord) }
	}
}

func readBytes[C Cursor](g getter) readFn[C, []byte] {
	if g == getString {
		return func(c C, ord int) ([]byte, error) {
			s, err := c.String(ord)
			return []byte(s), err
		}
	}
	return func(c C, ord int) ([]byte, error) { return c.Bytes(ord) }
}

func readTime[C Cursor](g getter) readFn[C, time.Time] {
	if g == getString {
		return func(c C, ord int) (time.Time, error) {
			s, err := c.String(ord)
			if err != nil {
				return time.Time{}, err
			}
			return parseTime(s)
		}
	}
	return func(c C, ord int) (time.Time, error) { return c.Time(ord) }
}

// ---------------- Setters: typed stores through an unsafe.Pointer ----------------

type intSetter func(p unsafe.Pointer, v int64) error

func setInt(k reflect.Kind) intSetter {
	switch k {
	case reflect.Int8:
		return func(p unsafe.Pointer, v int64) error {
			if v < math.MinInt8 || v > math.MaxInt8 {
				return overflow(v, "int8")
			}
			*(*int8)(p) = int8(v)
			return nil
		}
	case reflect.Int16:
		return func(p unsafe.Pointer, v int64) error {
			if v < math.MinInt16 || v > math.MaxInt16 {
				return overflow(v, "int16")
			}
			*(*int16)(p) = int16(v)
			return nil
		}
	case reflect.Int32:
		return func(p unsafe.Pointer, v int64) error {
			if v < math.MinInt32 || v > math.MaxInt32 {
				return overflow(v, "int32")
			}
			*(*int32)(p) = int32(v)
			return nil
		}
	case reflect.Int:
		return func(p unsafe.Pointer, v int64) error {
			if int64(int(v)) != v {
				return overflow(v, "int")
			}
			*(*int)(p) = int(v)
			return nil
		}
	default:
		return func(p unsafe.Pointer, v int64) error {
			*(*int64)(p) = v
			return nil
		}
	}
}

// setUint stores non-negative int64 values; cursors deliver integers as
// int64, so values above math.MaxInt64 are not representable.
func setUint(k reflect.Kind) intSetter {
	var limit uint64
	var store func(p unsafe.Pointer, v uint64)
	switch k {
	case reflect.Uint8:
		limit, store = math.MaxUint8, func(p unsafe.Pointer, v uint64) { *(*uint8)(p) = uint8(v) }
	case reflect.Uint16:
		limit, store = math.MaxUint16, func(p unsafe.Pointer, v uint64) { *(*uint16)(p) = uint16(v) }
	case reflect.Uint32:
		limit, store = math.MaxUint32, func(p unsafe.Pointer, v uint64) { *(*uint32)(p) = uint32(v) }
	case reflect.Uint:
		limit, store = uint64(^uint(0)), func(p unsafe.Pointer, v uint64) { *(*uint)(p) = uint(v) }
	default:
		limit, store = math.MaxUint64, func(p unsafe.Pointer, v uint64) { *(*uint64)(p) = v }
	}
	name := k.String()
	return func(p unsafe.Pointer, v int64) error {
		if v < 0 || uint64(v) > limit {
			return overflow(v, name)
		}
		store(p, uint64(v))
		return nil
	}
}

type floatSetter func(p unsafe.Pointer, v float64) error

func setFloat(k reflect.Kind) floatSetter {
	if k == reflect.Float32 {
		return func(p unsafe.Pointer, v float64) error {
			if a := math.Abs(v); a > math.MaxFloat32 && !math.IsInf(v, 0) {
				return overflow(v, "float32")
			}
			*(*float32)(p) = float32(v)
			return nil
		}
	}
	return func(p unsafe.Pointer, v float64) error {
		*(*float64)(p) = v
		return nil
	}
}

// storeFn reads column ord from c and stores the converted value at p.
type storeFn[C Cursor] func(c C, ord int, p unsafe.Pointer) error

// makeStore builds the read+convert+store primitive for a member of
// non-pointer type t.
func makeStore[C Cursor](g getter, s sink, t reflect.Type) (storeFn[C], error) {
	switch s {
	case sinkBool:
		read := readBool[C](g)
		return func(c C, ord int, p unsafe.Pointer) error {
			v, err := read(c, ord)
			if err != nil {
				return err
			}
			*(*bool)(p) = v
			return nil
		}, nil
	case sinkInt, sinkUint:
		read := readInt[C](g)
		set := setInt(t.Kind())
		if s == sinkUint {
			set = setUint(t.Kind())
		}
		return func(c C, ord int, p unsafe.Pointer) error {
			v, err := read(c, ord)
			if err != nil {
				return err
			}
			return set(p, v)
		}, nil
	case sinkFloat:
		read := readFloat[C](g)
		set := setFloat(t.Kind())
		return func(c C, ord int, p unsafe.Pointer) error {
			v, err := read(c, ord)
			if err != nil {
				return err
			}
			return set(p, v)
		}, nil
	case sinkString:
		read := readString[C](g)
		return func(c C, ord int, p unsafe.Pointer) error {
			v, err := read(c, ord)
			if err != nil {
				return err
			}
			*(*string)(p) = v
			return nil
		}, nil
	case sinkBytes:
		read := readBytes[C](g)
		return func(c C, ord int, p unsafe.Pointer) error {
			v, err := read(c, ord)
			if err != nil {
				return err
			}
			*(*[]byte)(p) = v
			return nil
		}, nil
	case sinkTime:
		read := readTime[C](g)
		return func(c C, ord int, p unsafe.Pointer) error {
			v, err := read(c, ord)
			if err != nil {
				return err
			}
			*(*time.Time)(p) = v
			return nil
		}, nil
	case sinkAny:
		return func(c C, ord int, p unsafe.Pointer) error {
			v, err := c.Value(ord)
			if err != nil {
				return err
			}
			*(*any)(p) = v
			return nil
		}, nil
	case sinkScanner:
		return func(c C, ord int, p unsafe.Pointer) error {
			v, err := c.Value(ord)
			if err != nil {
				return err
			}
			return reflect.NewAt(t, p).Interface().(sql.Scanner).Scan(v)
		}, nil
	case sinkJSON:
		read := readBytes[C](g)
		return func(c C, ord int, p unsafe.Pointer) error {
			b, err := read(c, ord)
			if err != nil {
				return err
			}
			if len(bytes.TrimSpace(b)) == 0 {
				return nil
			}
			if err := gojson.Unmarshal(b, reflect.NewAt(t, p).Interface()); err != nil {
				return fmt.Errorf("%w: json: %w", ErrConvert, err)
			}
			return nil
		}, nil
	}
	return nil, fmt.Errorf("%w: no store for %s", ErrCompile, t)
}

// makeDefault returns a store of the pre-parsed default value v (see
// parseDefault) for a member of non-pointer type t.
func makeDefault(s sink, t reflect.Type, v any) (func(p unsafe.Pointer), error) {
	switch s {
	case sinkBool:
		b := v.(bool)
		return func(p unsafe.Pointer) { *(*bool)(p) = b }, nil
	case sinkInt, sinkUint:
		i := v.(int64)
		set := setInt(t.Kind())
		if s == sinkUint {
			set = setUint(t.Kind())
		}
		return func(p unsafe.Pointer) { _ = set(p, i) }, nil
	case sinkFloat:
		f := v.(float64)
		set := setFloat(t.Kind())
		return func(p unsafe.Pointer) { _ = set(p, f) }, nil
	case sinkString:
		str := v.(string)
		return func(p unsafe.Pointer) { *(*string)(p) = str }, nil
	case sinkTime:
		tm := v.(time.Time)
		return func(p unsafe.Pointer) { *(*time.Time)(p) = tm }, nil
	}
	return nil, fmt.Errorf("%w: no default store for %s", ErrCompile, t)
}

// parseDefault validates a default= literal against the member type and
// returns it in the representation makeDefault expects.
func parseDefault(s sink, t reflect.Type, lit string) (any, error) {
	switch s {
	case sinkBool:
		return parseBool(lit)
	case sinkInt, sinkUint:
		i, err := parseInt(lit)
		if err != nil {
			return nil, err
		}
		set := setInt(t.Kind())
		if s == sinkUint {
			set = setUint(t.Kind())
		}
		var probe uint64
		if err := set(unsafe.Pointer(&probe), i); err != nil {
			return nil, err
		}
		return i, nil
	case sinkFloat:
		return parseFloat(lit)
	case sinkString:
		return lit, nil
	case sinkTime:
		return parseTime(lit)
	}
	return nil, fmt.Errorf("default not supported for %s", t)
}

// ---------------- Scalar parsing ----------------

func parseInt(s string) (int64, error) {
	i, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q to integer", ErrConvert, s)
	}
	return i, nil
}

func parseFloat(s string) (float64, error) {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q to float", ErrConvert, s)
	}
	return f, nil
}

func parseBool(s string) (bool, error) {
	b, err := strconv.ParseBool(strings.TrimSpace(s))
	if err != nil {
		return false, fmt.Errorf("%w: %q to bool", ErrConvert, s)
	}
	return b, nil
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02",
}

func parseTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: %q to time", ErrConvert, s)
}

func floatToInt(f float64) (int64, error) {
	if f < math.MinInt64 || f >= math.MaxInt64 || math.IsNaN(f) {
		return 0, overflow(f, "int64")
	}
	i := int64(f)
	if float64(i) != f {
		return 0, fmt.Errorf("%w: %v is not an integer", ErrConvert, f)
	}
	return i, nil
}

func overflow(v any, into string) error {
	return fmt.Errorf("%w: %v overflows %s", ErrOverflow, v, into)
}

// ---------------- Driver value coercions (used by RowsCursor) ----------------

func valueBool(v any) (bool, error) {
	switch x := v.(type) {
	case bool:
		return x, nil
	case int64:
		return x != 0, nil
	case []byte:
		return parseBool(string(x))
	case string:
		return parseBool(x)
	}
	return false, badValue(v, "bool")
}

func valueInt64(v any) (int64, error) {
	switch x := v.(type) {
	case int64:
		return x, nil
	case int:
		return int64(x), nil
	case int32:
		return int64(x), nil
	case int16:
		return int64(x), nil
	case int8:
		return int64(x), nil
	case uint64:
		if x > math.MaxInt64 {
			return 0, overflow(x, "int64")
		}
		return int64(x), nil
	case uint:
		if uint64(x) > math.MaxInt64 {
			return 0, overflow(x, "int64")
		}
		return int64(x), nil
	case uint32:
		return int64(x), nil
	case uint16:
		return int64(x), nil
	case uint8:
		return int64(x), nil
	case float64:
		return floatToInt(x)
	case float32:
		return floatToInt(float64(x))
	case bool:
		if x {
			return 1, nil
		}
		return 0, nil
	case []byte:
		return parseInt(string(x))
	case string:
		return parseInt(x)
	}
	return 0, badValue(v, "int64")
}

func valueFloat64(v any) (float64, error) {
	switch x := v.(type) {
	case float64:
		return x, nil
	case float32:
		return float64(x), nil
	case int64:
		return float64(x), nil
	case int:
		return float64(x), nil
	case int32:
		return float64(x), nil
	case uint64:
		return float64(x), nil
	case uint32:
		return float64(x), nil
	case []byte:
		return parseFloat(string(x))
	case string:
		return parseFloat(x)
	}
	return 0, badValue(v, "float64")
}

func valueString(v any) (string, error) {
	switch x := v.(type) {
	case string:
		return x, nil
	case []byte:
		return string(x), nil
	case int64:
		return strconv.FormatInt(x, 10), nil
	case float64:
		return strconv.FormatFloat(x, 'g', -1, 64), nil
	case bool:
		return strconv.FormatBool(x), nil
	case time.Time:
		return x.Format(time.RFC3339Nano), nil
	}
	return "", badValue(v, "string")
}

func valueBytes(v any) ([]byte, error) {
	switch x := v.(type) {
	case []byte:
		return x, nil
	case string:
		return []byte(x), nil
	}
	return nil, badValue(v, "[]byte")
}

func valueTime(v any) (time.Time, error) {
	switch x := v.(type) {
	case time.Time:
		return x, nil
	case []byte:
		return parseTime(string(x))
	case string:
		return parseTime(x)
	}
	return time.Time{}, badValue(v, "time.Time")
}

func badValue(v any, into string) error {
	return fmt.Errorf("%w: %T to %s", ErrConvert, v, into)
}

// ---------------- Type helpers ----------------

func derefPtr(t reflect.Type) reflect.Type {
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return t
}

func implementsScanner(t reflect.Type) bool {
	return reflect.PointerTo(t).Implements(scannerType)
}

// isComposite reports whether t maps member-wise: a struct that is neither
// time.Time nor its own sql.Scanner.
func isComposite(t reflect.Type) bool {
	return t.Kind() == reflect.Struct && t != timeType && !implementsScanner(t)
}
