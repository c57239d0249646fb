// Package diff compares JSON-shaped configuration trees.
//
// Compare returns the explicit list of changes between two trees and Apply
// produces a new tree with those changes applied. Neither mutates its input.
// Arrays are compared and replaced as a whole.
package diff

import (
	"fmt"
	"reflect"
	"sort"

	"github.com/cuemby/onboard/pkg/types"
)

// Op is the kind of a change
type Op string

const (
	OpAdd    Op = "add"
	OpDelete Op = "delete"
	OpEdit   Op = "edit"
)

// Change is one difference between two trees
type Change struct {
	Path  []string
	Op    Op
	Value any
	Old   any
}

func (c Change) String() string {
	return fmt.Sprintf("%s %v", c.Op, c.Path)
}

// Compare returns the changes that turn previous into desired, in key order
func Compare(previous, desired any) []Change {
	var changes []Change
	compare(nil, previous, desired, &changes)
	return changes
}

func compare(path []string, previous, desired any, changes *[]Change) {
	prevMap, prevIsMap := previous.(map[string]any)
	desMap, desIsMap := desired.(map[string]any)

	if !prevIsMap || !desIsMap {
		if !Equal(previous, desired) {
			*changes = append(*changes, Change{
				Path:  clonePath(path),
				Op:    OpEdit,
				Value: types.DeepCopyValue(desired),
				Old:   types.DeepCopyValue(previous),
			})
		}
		return
	}

	keys := make(map[string]struct{}, len(prevMap)+len(desMap))
	for k := range prevMap {
		keys[k] = struct{}{}
	}
	for k := range desMap {
		keys[k] = struct{}{}
	}
	sorted := make([]string, 0, len(keys))
	for k := range keys {
		sorted = append(sorted, k)
	}
	sort.Strings(sorted)

	for _, k := range sorted {
		prevVal, inPrev := prevMap[k]
		desVal, inDes := desMap[k]
		childPath := append(clonePath(path), k)

		switch {
		case !inDes:
			*changes = append(*changes, Change{Path: childPath, Op: OpDelete, Old: types.DeepCopyValue(prevVal)})
		case !inPrev:
			*changes = append(*changes, Change{Path: childPath, Op: OpAdd, Value: types.DeepCopyValue(desVal)})
		default:
			compare(childPath, prevVal, desVal, changes)
		}
	}
}

func clonePath(path []string) []string {
	return append([]string(nil), path...)
}

// Apply returns a copy of target with changes applied in order
func Apply(target any, changes []Change) (any, error) {
	root := types.DeepCopyValue(target)

	for _, change := range changes {
		if len(change.Path) == 0 {
			if change.Op == OpDelete {
				root = nil
			} else {
				root = types.DeepCopyValue(change.Value)
			}
			continue
		}

		if root == nil {
			root = map[string]any{}
		}
		parent, ok := root.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("cannot apply %s: root is not an object", change)
		}

		for _, key := range change.Path[:len(change.Path)-1] {
			next, exists := parent[key]
			if !exists || next == nil {
				if change.Op == OpDelete {
					parent = nil
					break
				}
				child := map[string]any{}
				parent[key] = child
				parent = child
				continue
			}
			child, ok := next.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("cannot apply %s: %s is not an object", change, key)
			}
			parent = child
		}
		if parent == nil {
			continue
		}

		leaf := change.Path[len(change.Path)-1]
		if change.Op == OpDelete {
			delete(parent, leaf)
		} else {
			parent[leaf] = types.DeepCopyValue(change.Value)
		}
	}

	return root, nil
}

// Equal compares JSON-shaped values, treating all numeric types by value
func Equal(a, b any) bool {
	if af, ok := toFloat(a); ok {
		bf, ok := toFloat(b)
		return ok && af == bf
	}

	switch av := a.(type) {
	case map[string]any:
		bv, ok := b.(map[string]any)
		if !ok || len(av) != len(bv) {
			return false
		}
		for k, v := range av {
			other, exists := bv[k]
			if !exists || !Equal(v, other) {
				return false
			}
		}
		return true
	case []any:
		bv, ok := toSlice(b)
		if !ok || len(av) != len(bv) {
			return false
		}
		for i := range av {
			if !Equal(av[i], bv[i]) {
				return false
			}
		}
		return true
	case []string:
		return Equal(types.DeepCopyValue(av), b)
	}
	return reflect.DeepEqual(a, b)
}

func toSlice(v any) ([]any, bool) {
	switch s := v.(type) {
	case []any:
		return s, true
	case []string:
		out, _ := types.DeepCopyValue(s).([]any)
		return out, true
	}
	return nil, false
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	}
	return 0, false
}
