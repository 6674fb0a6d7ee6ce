// Package canon implements the canonical-JSON stringifier used to derive
// stable hashes across the adapter: opsHash for batch dedupe, content
// hashes for the schema validator, and the checkpoint digest forwarded to
// the host store after a successful applyBatch.
//
// Canonicalisation sorts object keys, preserves array order, and elides
// any self-referential branch it encounters while walking a value's
// ancestor chain rather than recursing forever.
package canon

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"reflect"
	"sort"
)

// elidedCycle marks a branch that referenced one of its own ancestors.
const elidedCycle = "[circular]"

// Marshal returns the canonical JSON encoding of v: object keys sorted,
// array order preserved, cyclic references replaced with a sentinel
// string rather than recursing forever.
func Marshal(v any) ([]byte, error) {
	norm := normalize(v, nil)
	return json.Marshal(norm)
}

// MustMarshal is Marshal but panics on error. Canonicalisation of values
// already decoded from JSON (the common case in this adapter) cannot fail.
func MustMarshal(v any) []byte {
	b, err := Marshal(v)
	if err != nil {
		panic("canon: marshal: " + err.Error())
	}
	return b
}

// Hash returns the lowercase hex SHA-256 digest of v's canonical JSON.
func Hash(v any) (string, error) {
	b, err := Marshal(v)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:]), nil
}

// MustHash is Hash but panics on error.
func MustHash(v any) string {
	h, err := Hash(v)
	if err != nil {
		panic("canon: hash: " + err.Error())
	}
	return h
}

// Equal reports whether a and b canonicalise to byte-identical JSON — a
// "structurally equal" check. state.patch's no-op rule uses
// reflect.DeepEqual rather than this.
func Equal(a, b any) bool {
	ab, err := Marshal(a)
	if err != nil {
		return false
	}
	bb, err := Marshal(b)
	if err != nil {
		return false
	}
	return string(ab) == string(bb)
}

// normalize walks v, converting it into a tree of map[string]any,
// []any, and scalars suitable for json.Marshal's built-in key sorting.
// ancestors tracks the pointer identities on the current path only — a
// DAG where the same map/slice is reachable via two branches is not a
// cycle and is encoded twice; only a branch that loops back onto one of
// its own ancestors is elided.
func normalize(v any, ancestors []uintptr) any {
	if v == nil {
		return nil
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Map:
		return normalizeMap(rv, ancestors)
	case reflect.Slice, reflect.Array:
		return normalizeSlice(rv, ancestors)
	case reflect.Ptr, reflect.Interface:
		if rv.IsNil() {
			return nil
		}
		return normalize(rv.Elem().Interface(), ancestors)
	case reflect.Struct:
		return normalizeStruct(v, ancestors)
	default:
		return v
	}
}

func ptrID(rv reflect.Value) (uintptr, bool) {
	switch rv.Kind() {
	case reflect.Map, reflect.Slice:
		if rv.IsNil() {
			return 0, false
		}
		return rv.Pointer(), true
	}
	return 0, false
}

func seen(id uintptr, ancestors []uintptr) bool {
	for _, a := range ancestors {
		if a == id {
			return true
		}
	}
	return false
}

func normalizeMap(rv reflect.Value, ancestors []uintptr) any {
	if id, ok := ptrID(rv); ok {
		if seen(id, ancestors) {
			return elidedCycle
		}
		ancestors = append(ancestors, id)
	}

	out := make(map[string]any, rv.Len())
	for _, key := range rv.MapKeys() {
		out[toMapKey(key)] = normalize(rv.MapIndex(key).Interface(), ancestors)
	}
	return out
}

func normalizeSlice(rv reflect.Value, ancestors []uintptr) any {
	if id, ok := ptrID(rv); ok {
		if seen(id, ancestors) {
			return elidedCycle
		}
		ancestors = append(ancestors, id)
	}

	n := rv.Len()
	out := make([]any, n)
	for i := 0; i < n; i++ {
		out[i] = normalize(rv.Index(i).Interface(), ancestors)
	}
	return out
}

func normalizeStruct(v any, ancestors []uintptr) any {
	// Round-trip through encoding/json so struct tags (omitempty, renames)
	// are honoured, then normalize the resulting generic tree.
	b, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	var generic any
	if err := json.Unmarshal(b, &generic); err != nil {
		return nil
	}
	return normalize(generic, ancestors)
}

func toMapKey(rv reflect.Value) string {
	if rv.Kind() == reflect.String {
		return rv.String()
	}
	b, _ := json.Marshal(rv.Interface())
	return string(b)
}

// SortedKeys returns the keys of a map[string]any in sorted order. Useful
// for deterministic iteration when the caller also needs non-JSON output.
func SortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
