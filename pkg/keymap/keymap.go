// Package keymap renames object keys in a save tree between their
// obfuscated (short) and documented (long) forms.
package keymap

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/nmstools/nmssave/pkg/tree"
)

// Entry pairs an obfuscated key with its documented name.
type Entry struct {
	Key   string `json:"Key"`
	Value string `json:"Value"`
}

// Mapping is the ordered list of entries from the mapping resource.
type Mapping []Entry

// Direction selects which way keys are renamed.
type Direction int

const (
	// Deobfuscate renames short keys to documented names.
	Deobfuscate Direction = iota
	// Obfuscate renames documented names back to short keys.
	Obfuscate
)

func (d Direction) String() string {
	switch d {
	case Deobfuscate:
		return "deobfuscate"
	case Obfuscate:
		return "obfuscate"
	default:
		return fmt.Sprintf("Direction(%d)", int(d))
	}
}

// Reverse returns the opposite direction.
func (d Direction) Reverse() Direction {
	if d == Deobfuscate {
		return Obfuscate
	}
	return Deobfuscate
}

// Lookup builds the rename table for a direction. When several entries share
// a source name the first one wins; entries with an empty source or target
// are skipped.
func (m Mapping) Lookup(dir Direction) map[string]string {
	table := make(map[string]string, len(m))
	for _, e := range m {
		from, to := e.Key, e.Value
		if dir == Obfuscate {
			from, to = e.Value, e.Key
		}
		if from == "" || to == "" {
			continue
		}
		if _, ok := table[from]; ok {
			continue
		}
		table[from] = to
	}
	return table
}

// MapKeys returns a copy of v with every object key renamed through the
// mapping. Unknown keys are kept as they are, array order is preserved and
// leaf values pass through. If two keys in one object rename to the same
// target, the later one wins.
func MapKeys(v any, m Mapping, dir Direction) any {
	return mapValue(v, m.Lookup(dir))
}

// MapKeysWith is MapKeys with a prebuilt lookup table.
func MapKeysWith(v any, table map[string]string) any {
	return mapValue(v, table)
}

func mapValue(v any, table map[string]string) any {
	switch x := v.(type) {
	case *tree.Object:
		out := tree.NewObjectCap(x.Len())
		x.Range(func(k string, val any) bool {
			if renamed, ok := table[k]; ok {
				k = renamed
			}
			out.Set(k, mapValue(val, table))
			return true
		})
		return out
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = mapValue(e, table)
		}
		return out
	default:
		return v
	}
}

// IsMapped reports whether a tree already carries documented key names,
// judged by a top-level "Version" key.
func IsMapped(v any) bool {
	obj, ok := v.(*tree.Object)
	return ok && obj.Has("Version")
}

// Detect returns the direction that would convert v to the other form.
func Detect(v any) Direction {
	if IsMapped(v) {
		return Obfuscate
	}
	return Deobfuscate
}

var ErrEmptyMapping = errors.New("mapping has no entries")

// ParseMapping decodes a mapping resource that is either a bare array of
// entries or an object holding them under "Mapping".
func ParseMapping(data []byte) (Mapping, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, fmt.Errorf("parse mapping: empty document")
	}

	var m Mapping
	switch data[0] {
	case '[':
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("parse mapping array: %w", err)
		}
	case '{':
		var wrapped struct {
			Mapping Mapping `json:"Mapping"`
		}
		if err := json.Unmarshal(data, &wrapped); err != nil {
			return nil, fmt.Errorf("parse mapping object: %w", err)
		}
		if wrapped.Mapping == nil {
			return nil, fmt.Errorf("parse mapping object: no \"Mapping\" field")
		}
		m = wrapped.Mapping
	default:
		return nil, fmt.Errorf("parse mapping: expected array or object, got %q", data[0])
	}
	return m, nil
}

// Identity returns a mapping that renames every given key to itself.
func Identity(keys ...string) Mapping {
	m := make(Mapping, len(keys))
	for i, k := range keys {
		m[i] = Entry{Key: k, Value: k}
	}
	return m
}
