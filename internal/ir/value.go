package ir

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"slices"
	"strings"
	"unicode/utf16"
)

// Normalize converts v into a deep copy built only from JSON-compatible
// values: nil, bool, string, int64, float64, []any and map[string]any.
//
// Integers of every width become int64, floats become float64. NaN and
// infinities are rejected, as are values JSON cannot represent (channels,
// functions, structs). Slices and maps of other element types are converted
// through reflection, so []string and map[string]int are accepted.
func Normalize(v any) (any, error) {
	switch val := v.(type) {
	case nil:
		return nil, nil
	case bool:
		return val, nil
	case string:
		return val, nil
	case int:
		return int64(val), nil
	case int8:
		return int64(val), nil
	case int16:
		return int64(val), nil
	case int32:
		return int64(val), nil
	case int64:
		return val, nil
	case uint:
		return uintToInt64(uint64(val))
	case uint8:
		return int64(val), nil
	case uint16:
		return int64(val), nil
	case uint32:
		return int64(val), nil
	case uint64:
		return uintToInt64(val)
	case float32:
		return normalizeFloat(float64(val))
	case float64:
		return normalizeFloat(val)
	case json.Number:
		if i, err := val.Int64(); err == nil {
			return i, nil
		}
		f, err := val.Float64()
		if err != nil {
			return nil, fmt.Errorf("invalid number %q: %w", string(val), err)
		}
		return normalizeFloat(f)
	case []any:
		out := make([]any, len(val))
		for i, elem := range val {
			n, err := Normalize(elem)
			if err != nil {
				return nil, fmt.Errorf("[%d]: %w", i, err)
			}
			out[i] = n
		}
		return out, nil
	case map[string]any:
		return normalizeMap(val)
	case Record:
		return normalizeMap(val)
	case Payload:
		return normalizeMap(val)
	}
	return normalizeReflect(reflect.ValueOf(v))
}

func normalizeMap(m map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(m))
	for k, elem := range m {
		n, err := Normalize(elem)
		if err != nil {
			return nil, fmt.Errorf("[%q]: %w", k, err)
		}
		out[k] = n
	}
	return out, nil
}

func normalizeReflect(rv reflect.Value) (any, error) {
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		if rv.Kind() == reflect.Slice && rv.IsNil() {
			return []any{}, nil
		}
		out := make([]any, rv.Len())
		for i := range rv.Len() {
			n, err := Normalize(rv.Index(i).Interface())
			if err != nil {
				return nil, fmt.Errorf("[%d]: %w", i, err)
			}
			out[i] = n
		}
		return out, nil
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return nil, fmt.Errorf("unsupported map key type: %s", rv.Type().Key())
		}
		out := make(map[string]any, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			k := iter.Key().String()
			n, err := Normalize(iter.Value().Interface())
			if err != nil {
				return nil, fmt.Errorf("[%q]: %w", k, err)
			}
			out[k] = n
		}
		return out, nil
	case reflect.Pointer, reflect.Interface:
		if rv.IsNil() {
			return nil, nil
		}
		return Normalize(rv.Elem().Interface())
	case reflect.String:
		return rv.String(), nil
	case reflect.Bool:
		return rv.Bool(), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int(), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return uintToInt64(rv.Uint())
	case reflect.Float32, reflect.Float64:
		return normalizeFloat(rv.Float())
	case reflect.Invalid:
		return nil, nil
	}
	return nil, fmt.Errorf("unsupported type for JSON value: %s", rv.Type())
}

func uintToInt64(u uint64) (any, error) {
	if u > math.MaxInt64 {
		return nil, fmt.Errorf("integer %d overflows int64", u)
	}
	return int64(u), nil
}

func normalizeFloat(f float64) (any, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil, fmt.Errorf("non-finite number %v is not JSON-compatible", f)
	}
	return f, nil
}

// Clone returns a deep copy of a normalized value. Maps and slices are copied
// recursively; scalars are returned as-is.
func Clone(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return cloneMap(val)
	case Record:
		return map[string]any(cloneMap(val))
	case Payload:
		return map[string]any(cloneMap(val))
	case []any:
		out := make([]any, len(val))
		for i, elem := range val {
			out[i] = Clone(elem)
		}
		return out
	default:
		return v
	}
}

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = Clone(v)
	}
	return out
}

// Equal reports whether two normalized values are structurally equal.
// Numbers compare by value, so int64(3) equals float64(3).
func Equal(a, b any) bool {
	if an, ok := asNumber(a); ok {
		bn, ok := asNumber(b)
		return ok && an.equal(bn)
	}
	if am, ok := asMap(a); ok {
		bm, ok := asMap(b)
		if !ok || len(am) != len(bm) {
			return false
		}
		for k, av := range am {
			bv, present := bm[k]
			if !present || !Equal(av, bv) {
				return false
			}
		}
		return true
	}
	if as, ok := a.([]any); ok {
		bs, ok := b.([]any)
		if !ok || len(as) != len(bs) {
			return false
		}
		for i := range as {
			if !Equal(as[i], bs[i]) {
				return false
			}
		}
		return true
	}
	switch av := a.(type) {
	case nil:
		return b == nil
	case string:
		bv, ok := b.(string)
		return ok && av == bv
	case bool:
		bv, ok := b.(bool)
		return ok && av == bv
	}
	return false
}

// Lookup resolves a dotted field path ("metadata.owner.name") against a
// record. A missing or non-object intermediate segment yields (nil, false).
func Lookup(m map[string]any, path string) (any, bool) {
	if path == "" {
		return nil, false
	}
	var cur any = m
	for _, seg := range strings.Split(path, ".") {
		obj, ok := asMap(cur)
		if !ok {
			return nil, false
		}
		cur, ok = obj[seg]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// Compare orders two normalized values. Values of different kinds order by
// kind: null < bool < number < string < array < object. Arrays compare
// element-wise; objects compare by canonical encoding.
func Compare(a, b any) int {
	ra, rb := rank(a), rank(b)
	if ra != rb {
		if ra < rb {
			return -1
		}
		return 1
	}
	switch ra {
	case rankNull:
		return 0
	case rankBool:
		av, bv := a.(bool), b.(bool)
		switch {
		case av == bv:
			return 0
		case !av:
			return -1
		default:
			return 1
		}
	case rankNumber:
		an, _ := asNumber(a)
		bn, _ := asNumber(b)
		return an.compare(bn)
	case rankString:
		return strings.Compare(a.(string), b.(string))
	case rankArray:
		as, bs := a.([]any), b.([]any)
		for i := 0; i < len(as) && i < len(bs); i++ {
			if c := Compare(as[i], bs[i]); c != 0 {
				return c
			}
		}
		switch {
		case len(as) < len(bs):
			return -1
		case len(as) > len(bs):
			return 1
		}
		return 0
	default:
		ab, errA := MarshalCanonical(a)
		bb, errB := MarshalCanonical(b)
		if errA != nil || errB != nil {
			return 0
		}
		return bytes.Compare(ab, bb)
	}
}

const (
	rankNull = iota
	rankBool
	rankNumber
	rankString
	rankArray
	rankObject
)

func rank(v any) int {
	if _, ok := asNumber(v); ok {
		return rankNumber
	}
	if _, ok := asMap(v); ok {
		return rankObject
	}
	switch v.(type) {
	case nil:
		return rankNull
	case bool:
		return rankBool
	case string:
		return rankString
	case []any:
		return rankArray
	}
	return rankObject
}

// number keeps integers exact and falls back to float64 for mixed compares.
type number struct {
	isInt bool
	i     int64
	f     float64
}

func asNumber(v any) (number, bool) {
	switch val := v.(type) {
	case int64:
		return number{isInt: true, i: val, f: float64(val)}, true
	case int:
		return number{isInt: true, i: int64(val), f: float64(val)}, true
	case float64:
		return number{f: val}, true
	}
	return number{}, false
}

func (n number) equal(o number) bool {
	if n.isInt && o.isInt {
		return n.i == o.i
	}
	return n.f == o.f
}

func (n number) compare(o number) int {
	if n.isInt && o.isInt {
		switch {
		case n.i < o.i:
			return -1
		case n.i > o.i:
			return 1
		}
		return 0
	}
	switch {
	case n.f < o.f:
		return -1
	case n.f > o.f:
		return 1
	}
	return 0
}

// AsFloat returns the numeric value of v, if v is a number.
func AsFloat(v any) (float64, bool) {
	n, ok := asNumber(v)
	return n.f, ok
}

func asMap(v any) (map[string]any, bool) {
	switch val := v.(type) {
	case map[string]any:
		return val, true
	case Record:
		return val, true
	case Payload:
		return val, true
	}
	return nil, false
}

// SortedKeys returns the keys of m in RFC 8785 canonical order (UTF-16 code
// units). Go's string ordering uses UTF-8 bytes, which differs for
// supplementary-plane characters.
func SortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.SortFunc(keys, compareKeysRFC8785)
	return keys
}

func compareKeysRFC8785(a, b string) int {
	a16 := utf16.Encode([]rune(a))
	b16 := utf16.Encode([]rune(b))
	for i := 0; i < len(a16) && i < len(b16); i++ {
		if a16[i] != b16[i] {
			if a16[i] < b16[i] {
				return -1
			}
			return 1
		}
	}
	switch {
	case len(a16) < len(b16):
		return -1
	case len(a16) > len(b16):
		return 1
	}
	return 0
}

// decodeJSON parses data keeping integers exact, then normalizes the result.
func decodeJSON(data []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw any
	if err := dec.Decode(&raw); err != nil {
		return nil, err
	}
	return Normalize(raw)
}

// DecodeJSON parses a JSON document into normalized values.
func DecodeJSON(data []byte) (any, error) {
	return decodeJSON(data)
}
