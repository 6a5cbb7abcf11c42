package tree

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var ErrPathNotFound = errors.New("path not found")

// Segment is one step of a KeyPath: an object key or an array index.
type Segment struct {
	Key   string
	Index int
	IsKey bool
}

func KeySeg(k string) Segment { return Segment{Key: k, IsKey: true} }
func IndexSeg(i int) Segment  { return Segment{Index: i} }

func (s Segment) String() string {
	if s.IsKey {
		return strconv.Quote(s.Key)
	}
	return strconv.Itoa(s.Index)
}

// KeyPath addresses a location in a tree from its root.
type KeyPath []Segment

func (p KeyPath) String() string {
	parts := make([]string, len(p))
	for i, s := range p {
		parts[i] = s.String()
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

func (p KeyPath) Equal(o KeyPath) bool {
	if len(p) != len(o) {
		return false
	}
	for i := range p {
		if p[i] != o[i] {
			return false
		}
	}
	return true
}

// FindKey returns the path to the first occurrence of key in a depth-first,
// pre-order walk. Object entries are visited in order; an entry whose key
// matches wins before its value is descended into. The returned path ends
// with the key itself.
func FindKey(root any, key string) (KeyPath, bool) {
	return findKey(root, key, nil)
}

func findKey(v any, key string, prefix KeyPath) (KeyPath, bool) {
	switch x := v.(type) {
	case *Object:
		for _, k := range x.keys {
			here := appendSeg(prefix, KeySeg(k))
			if k == key {
				return here, true
			}
			if p, ok := findKey(x.vals[k], key, here); ok {
				return p, true
			}
		}
	case []any:
		for i, e := range x {
			if p, ok := findKey(e, key, appendSeg(prefix, IndexSeg(i))); ok {
				return p, true
			}
		}
	}
	return nil, false
}

func appendSeg(p KeyPath, s Segment) KeyPath {
	out := make(KeyPath, len(p), len(p)+1)
	copy(out, p)
	return append(out, s)
}

// Resolve follows path from root.
func Resolve(root any, path KeyPath) (any, error) {
	cur := root
	for i, s := range path {
		if s.IsKey {
			obj, ok := cur.(*Object)
			if !ok {
				return nil, fmt.Errorf("%w: %s is not an object at step %d", ErrPathNotFound, path[:i], i)
			}
			next, ok := obj.Get(s.Key)
			if !ok {
				return nil, fmt.Errorf("%w: missing key %s", ErrPathNotFound, path[:i+1])
			}
			cur = next
			continue
		}
		arr, ok := cur.([]any)
		if !ok {
			return nil, fmt.Errorf("%w: %s is not an array at step %d", ErrPathNotFound, path[:i], i)
		}
		if s.Index < 0 || s.Index >= len(arr) {
			return nil, fmt.Errorf("%w: index %d out of range (len %d)", ErrPathNotFound, s.Index, len(arr))
		}
		cur = arr[s.Index]
	}
	return cur, nil
}

// Assign replaces the value at path. The parent container must exist; for
// arrays the index must be in range.
func Assign(root any, path KeyPath, value any) error {
	if len(path) == 0 {
		return fmt.Errorf("%w: empty path", ErrPathNotFound)
	}
	parent, err := Resolve(root, path[:len(path)-1])
	if err != nil {
		return err
	}
	last := path[len(path)-1]
	if last.IsKey {
		obj, ok := parent.(*Object)
		if !ok {
			return fmt.Errorf("%w: parent of %s is not an object", ErrPathNotFound, path)
		}
		obj.Set(last.Key, value)
		return nil
	}
	arr, ok := parent.([]any)
	if !ok {
		return fmt.Errorf("%w: parent of %s is not an array", ErrPathNotFound, path)
	}
	if last.Index < 0 || last.Index >= len(arr) {
		return fmt.Errorf("%w: index %d out of range (len %d)", ErrPathNotFound, last.Index, len(arr))
	}
	arr[last.Index] = value
	return nil
}
