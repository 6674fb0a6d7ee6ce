package state

import (
	"reflect"
	"strconv"
	"strings"
)

// cloneValue deep-clones a JSON-shaped value (map[string]any, []any,
// string, float64, bool, nil). Scalars are immutable in Go so they're
// returned as-is; only containers need copying.
func cloneValue(v any) any {
	switch vv := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(vv))
		for k, val := range vv {
			out[k] = cloneValue(val)
		}
		return out
	case []any:
		out := make([]any, len(vv))
		for i, val := range vv {
			out[i] = cloneValue(val)
		}
		return out
	default:
		return vv
	}
}

func deepEqual(a, b any) bool {
	return reflect.DeepEqual(a, b)
}

// splitPath accepts either a dotted string ("a.b.2") or a pre-split segment
// slice and returns the segment list. Numeric segments address array
// indices (§4.8).
func splitPath(path any) []string {
	switch p := path.(type) {
	case []string:
		return p
	case string:
		if p == "" {
			return nil
		}
		return strings.Split(p, ".")
	default:
		return nil
	}
}

func parseIndex(seg string) (int, bool) {
	n, err := strconv.Atoi(seg)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}

// mutateFn transforms the current value at a path's leaf, returning the new
// value and whether it actually changed.
type mutateFn func(current any) (any, bool)

// applyAtPath walks root along segments, calling mutate at the leaf, and
// rebuilds only the ancestor containers on the path — copy-on-write per
// §4.8 and §9 ("every ancestor container on the mutation path is cloned so
// external readers observe consistent snapshots"). When mutate reports no
// change, the original root reference is returned untouched, satisfying
// invariant 6 (unreferenced branches stay referentially equal).
func applyAtPath(root any, segments []string, mutate mutateFn) (any, bool) {
	if len(segments) == 0 {
		return mutate(root)
	}

	seg := segments[0]
	rest := segments[1:]

	if idx, isIndex := parseIndex(seg); isIndex {
		arr, _ := root.([]any)
		var child any
		if idx < len(arr) {
			child = arr[idx]
		}
		newChild, changed := applyAtPath(child, rest, mutate)
		if !changed {
			return root, false
		}
		newArr := make([]any, len(arr))
		copy(newArr, arr)
		for len(newArr) <= idx {
			newArr = append(newArr, nil)
		}
		newArr[idx] = newChild
		return newArr, true
	}

	m, _ := root.(map[string]any)
	child := m[seg]
	newChild, changed := applyAtPath(child, rest, mutate)
	if !changed {
		return root, false
	}
	newMap := make(map[string]any, len(m)+1)
	for k, v := range m {
		newMap[k] = v
	}
	newMap[seg] = newChild
	return newMap, true
}

// mutateSet replaces the leaf with a deep clone of value, a no-op if the
// leaf is already structurally equal.
func mutateSet(value any) mutateFn {
	return func(current any) (any, bool) {
		cloned := cloneValue(value)
		if deepEqual(current, cloned) {
			return current, false
		}
		return cloned, true
	}
}

// mutateToggle flips a boolean leaf; null/missing becomes true.
func mutateToggle() mutateFn {
	return func(current any) (any, bool) {
		if current == nil {
			return true, true
		}
		b, ok := current.(bool)
		if !ok {
			return current, false
		}
		return !b, true
	}
}

// mutateSetIfNull writes only when the current leaf is nil/absent.
func mutateSetIfNull(value any) mutateFn {
	return func(current any) (any, bool) {
		if current != nil {
			return current, false
		}
		return cloneValue(value), true
	}
}

// mutateMerge shallow-merges an object at the leaf; only keys whose value
// actually differs trigger a change, so unrelated sibling keys remain
// referentially untouched (§4.8: "only touched keys trigger notification").
func mutateMerge(patch map[string]any) mutateFn {
	return func(current any) (any, bool) {
		base, _ := current.(map[string]any)
		changed := false
		merged := make(map[string]any, len(base)+len(patch))
		for k, v := range base {
			merged[k] = v
		}
		for k, v := range patch {
			cloned := cloneValue(v)
			if existing, ok := base[k]; !ok || !deepEqual(existing, cloned) {
				changed = true
			}
			merged[k] = cloned
		}
		if !changed {
			return current, false
		}
		return merged, true
	}
}
