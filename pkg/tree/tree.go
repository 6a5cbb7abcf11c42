// Package tree is the in-memory form of a save document.
//
// A tree value is one of:
//
//	*Object   ordered string-keyed mapping
//	[]any     array
//	string
//	Number    integer or floating literal, kept verbatim
//	bool
//	nil       JSON null
//
// Objects keep insertion order and numbers keep their literal text, so a
// document that is parsed and re-encoded compactly is byte-identical to a
// compact input.
package tree

import (
	"strconv"
	"strings"
)

// Number is a JSON number literal.
type Number string

// IsInt reports whether the literal has no fraction or exponent part.
func (n Number) IsInt() bool {
	return !strings.ContainsAny(string(n), ".eE")
}

func (n Number) Int64() (int64, error) {
	return strconv.ParseInt(string(n), 10, 64)
}

func (n Number) Float64() (float64, error) {
	return strconv.ParseFloat(string(n), 64)
}

func (n Number) String() string {
	return string(n)
}

// Int returns a Number for an integer.
func Int(v int64) Number {
	return Number(strconv.FormatInt(v, 10))
}

// Float returns a Number for a float, always carrying a fraction or exponent
// so it stays a float after a round trip.
func Float(v float64) Number {
	s := strconv.FormatFloat(v, 'g', -1, 64)
	if !strings.ContainsAny(s, ".eEn") {
		s += ".0"
	}
	return Number(s)
}

// Object is an ordered mapping from string keys to tree values.
type Object struct {
	keys []string
	vals map[string]any
}

func NewObject() *Object {
	return &Object{vals: make(map[string]any)}
}

// NewObjectCap returns an empty object with room for n keys.
func NewObjectCap(n int) *Object {
	return &Object{keys: make([]string, 0, n), vals: make(map[string]any, n)}
}

func (o *Object) Len() int {
	return len(o.keys)
}

// Keys returns the keys in insertion order. The slice must not be modified.
func (o *Object) Keys() []string {
	return o.keys
}

func (o *Object) Get(key string) (any, bool) {
	v, ok := o.vals[key]
	return v, ok
}

func (o *Object) Has(key string) bool {
	_, ok := o.vals[key]
	return ok
}

// Set stores value under key. An existing key keeps its position.
func (o *Object) Set(key string, value any) {
	if _, ok := o.vals[key]; !ok {
		o.keys = append(o.keys, key)
	}
	o.vals[key] = value
}

func (o *Object) Delete(key string) {
	if _, ok := o.vals[key]; !ok {
		return
	}
	delete(o.vals, key)
	for i, k := range o.keys {
		if k == key {
			o.keys = append(o.keys[:i], o.keys[i+1:]...)
			break
		}
	}
}

// Range calls fn for every entry in order until fn returns false.
func (o *Object) Range(fn func(key string, value any) bool) {
	for _, k := range o.keys {
		if !fn(k, o.vals[k]) {
			return
		}
	}
}

// Lookup walks nested objects by key, returning false when any step is
// missing or not an object.
func Lookup(v any, keys ...string) (any, bool) {
	cur := v
	for _, k := range keys {
		obj, ok := cur.(*Object)
		if !ok {
			return nil, false
		}
		cur, ok = obj.Get(k)
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// LookupString is Lookup for string leaves; it returns "" when absent.
func LookupString(v any, keys ...string) string {
	found, ok := Lookup(v, keys...)
	if !ok {
		return ""
	}
	s, _ := found.(string)
	return s
}

// Clone returns a deep copy of v.
func Clone(v any) any {
	switch x := v.(type) {
	case *Object:
		out := NewObjectCap(x.Len())
		for _, k := range x.keys {
			out.Set(k, Clone(x.vals[k]))
		}
		return out
	case []any:
		out := make([]any, len(x))
		for i := range x {
			out[i] = Clone(x[i])
		}
		return out
	default:
		return v
	}
}

// Equal reports deep equality, including key order and number literals.
func Equal(a, b any) bool {
	switch x := a.(type) {
	case *Object:
		y, ok := b.(*Object)
		if !ok || x.Len() != y.Len() {
			return false
		}
		for i, k := range x.keys {
			if y.keys[i] != k || !Equal(x.vals[k], y.vals[k]) {
				return false
			}
		}
		return true
	case []any:
		y, ok := b.([]any)
		if !ok || len(x) != len(y) {
			return false
		}
		for i := range x {
			if !Equal(x[i], y[i]) {
				return false
			}
		}
		return true
	case Number:
		y, ok := b.(Number)
		return ok && x == y
	case string:
		y, ok := b.(string)
		return ok && x == y
	case bool:
		y, ok := b.(bool)
		return ok && x == y
	case nil:
		return b == nil
	default:
		return false
	}
}
