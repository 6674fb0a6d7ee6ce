package state

import "context"

// PatchOp is one state.patch operation (§4.8): set, merge, toggle, or
// setIfNull, applied at Path within the value stored at (scope,key). An
// empty Path addresses the entry's value itself.
type PatchOp struct {
	Op    string // "set" | "merge" | "toggle" | "setIfNull"
	Path  string
	Value any
}

// Patch applies op to (scope,key,windowID)'s value at op.Path, cloning only
// the ancestor containers on the mutation path (§9). It returns applied=false
// without writing or notifying when the mutation would be a no-op — e.g. a
// "set" whose value already matches, or a "setIfNull" against a non-null
// leaf — which is what keeps scenario S5 (no-op patch preserves referential
// identity of untouched branches) true.
func (s *Store) Patch(ctx context.Context, scope Scope, key, windowID string, op PatchOp) (bool, error) {
	ek, err := storeKey(scope, key, windowID)
	if err != nil {
		return false, err
	}

	var mutate mutateFn
	switch op.Op {
	case "set":
		mutate = mutateSet(op.Value)
	case "merge":
		m, ok := op.Value.(map[string]any)
		if !ok {
			return false, errPatchValueType(op.Op)
		}
		mutate = mutateMerge(m)
	case "toggle":
		mutate = mutateToggle()
	case "setIfNull":
		mutate = mutateSetIfNull(op.Value)
	default:
		return false, errUnknownPatchOp(op.Op)
	}

	segments := splitPath(op.Path)

	s.mu.Lock()
	root := s.entries[ek]
	newRoot, changed := applyAtPath(root, segments, mutate)
	if !changed {
		s.mu.Unlock()
		return false, nil
	}
	s.entries[ek] = newRoot
	s.mu.Unlock()

	s.notify(ctx, ek)
	return true, nil
}
