// Package bases locates and edits the player base records of an extracted save.
package bases

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/nmstools/nmssave/pkg/tree"
)

// Key is the object key holding the base records.
const Key = "PersistentPlayerBases"

const (
	objectsKey = "Objects"
	uidKey     = "UID"
	ownersKey  = "UsedDiscoveryOwnersV2"
)

var (
	ErrIndexOutOfRange = errors.New("base index out of range")
	ErrNotArray        = errors.New("bases value is not an array")
	ErrOwnerNotFound   = errors.New("save owner not found")
)

// FindBasesPath returns the path to the first PersistentPlayerBases key in a
// pre-order walk of root. The path ends with the key itself.
func FindBasesPath(root any) (tree.KeyPath, error) {
	path, ok := tree.FindKey(root, Key)
	if !ok {
		return nil, fmt.Errorf("%w: no %s key", tree.ErrPathNotFound, Key)
	}
	return path, nil
}

// Get returns the live bases array at path.
func Get(root any, path tree.KeyPath) ([]any, error) {
	v, err := tree.Resolve(root, path)
	if err != nil {
		return nil, err
	}
	arr, ok := v.([]any)
	if !ok {
		return nil, fmt.Errorf("%w: %s holds %T", ErrNotArray, path, v)
	}
	return arr, nil
}

func checkIndex(index, n int) error {
	if index < 0 || index >= n {
		return fmt.Errorf("%w: %d (have %d)", ErrIndexOutOfRange, index, n)
	}
	return nil
}

// Replace overwrites the base at index in place. The array is left untouched
// on error.
func Replace(root any, path tree.KeyPath, index int, base any) error {
	arr, err := Get(root, path)
	if err != nil {
		return err
	}
	if err := checkIndex(index, len(arr)); err != nil {
		return err
	}
	arr[index] = base
	return nil
}

// Append adds base to the end of the array and returns its index.
func Append(root any, path tree.KeyPath, base any) (int, error) {
	arr, err := Get(root, path)
	if err != nil {
		return 0, err
	}
	if err := tree.Assign(root, path, append(arr, base)); err != nil {
		return 0, err
	}
	return len(arr), nil
}

// Remove deletes the base at index and returns it.
func Remove(root any, path tree.KeyPath, index int) (any, error) {
	arr, err := Get(root, path)
	if err != nil {
		return nil, err
	}
	if err := checkIndex(index, len(arr)); err != nil {
		return nil, err
	}
	removed := arr[index]
	out := make([]any, 0, len(arr)-1)
	out = append(out, arr[:index]...)
	out = append(out, arr[index+1:]...)
	if err := tree.Assign(root, path, out); err != nil {
		return nil, err
	}
	return removed, nil
}

// Name returns the base's Name field.
func Name(base any) string {
	return tree.LookupString(base, "Name")
}

// Type returns BaseType.PersistentBaseTypes, e.g. "HomePlanetBase" or
// "PlayerShipBase".
func Type(base any) string {
	return tree.LookupString(base, "BaseType", "PersistentBaseTypes")
}

// FilterByType returns the bases of the given type in their original order.
func FilterByType(bases []any, baseType string) []any {
	var out []any
	for _, b := range bases {
		if Type(b) == baseType {
			out = append(out, b)
		}
	}
	return out
}

// CountByType returns how many bases have the given type.
func CountByType(bases []any, baseType string) int {
	n := 0
	for _, b := range bases {
		if Type(b) == baseType {
			n++
		}
	}
	return n
}

// Types returns the distinct non-empty base types, sorted.
func Types(bases []any) []string {
	var out []string
	for _, b := range bases {
		if t := Type(b); t != "" && !slices.Contains(out, t) {
			out = append(out, t)
		}
	}
	slices.Sort(out)
	return out
}

// FindIndex returns the index of the first base with the given name and,
// when baseType is not empty, type. It returns -1 if none matches.
func FindIndex(bases []any, name, baseType string) int {
	for i, b := range bases {
		if Name(b) == name && (baseType == "" || Type(b) == baseType) {
			return i
		}
	}
	return -1
}

// ComponentCount is the length of the base's Objects array. A base without a
// top-level Objects key falls back to the first Objects key found beneath it.
func ComponentCount(base any) int {
	if v, ok := tree.Lookup(base, objectsKey); ok {
		if arr, ok := v.([]any); ok {
			return len(arr)
		}
	}
	path, ok := tree.FindKey(base, objectsKey)
	if !ok {
		return 0
	}
	v, err := tree.Resolve(base, path)
	if err != nil {
		return 0
	}
	arr, _ := v.([]any)
	return len(arr)
}

// TotalComponents sums ComponentCount over bases.
func TotalComponents(bases []any) int {
	total := 0
	for _, b := range bases {
		total += ComponentCount(b)
	}
	return total
}

func scalarString(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case tree.Number:
		return x.String()
	}
	return ""
}

// BaseUID returns the first UID value found in the base, or "".
func BaseUID(base any) string {
	path, ok := tree.FindKey(base, uidKey)
	if !ok {
		return ""
	}
	v, err := tree.Resolve(base, path)
	if err != nil {
		return ""
	}
	return scalarString(v)
}

// OwnerUID returns the save owner's UID: the UID of the first entry of the
// first UsedDiscoveryOwnersV2 array.
func OwnerUID(root any) (string, error) {
	path, ok := tree.FindKey(root, ownersKey)
	if !ok {
		return "", fmt.Errorf("%w: no %s key", ErrOwnerNotFound, ownersKey)
	}
	v, err := tree.Resolve(root, path)
	if err != nil {
		return "", err
	}
	owners, ok := v.([]any)
	if !ok || len(owners) == 0 {
		return "", fmt.Errorf("%w: %s is empty", ErrOwnerNotFound, ownersKey)
	}
	uid, ok := tree.Lookup(owners[0], uidKey)
	if !ok {
		return "", fmt.Errorf("%w: first owner has no %s", ErrOwnerNotFound, uidKey)
	}
	return scalarString(uid), nil
}

// OwnerComponents sums the components of the bases owned by the save owner.
func OwnerComponents(root any, bases []any) (int, error) {
	owner, err := OwnerUID(root)
	if err != nil {
		return 0, err
	}
	total := 0
	for _, b := range bases {
		if BaseUID(b) == owner {
			total += ComponentCount(b)
		}
	}
	return total, nil
}

// FileName suggests a file name for an exported base.
func FileName(base any, now time.Time) string {
	name := Name(base)
	if name == "" {
		name = "Unknown"
	}
	baseType := Type(base)
	if baseType == "" {
		baseType = "Unknown"
	}
	raw := fmt.Sprintf("base_%s_%s_%s.json", name, baseType, now.Format("20060102_150405"))
	return strings.Map(func(r rune) rune {
		switch r {
		case ' ', '/', '\\', ':', '*', '?', '"', '<', '>', '|':
			return '_'
		}
		return r
	}, raw)
}
