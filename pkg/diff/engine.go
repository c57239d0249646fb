package diff

import (
	"fmt"

	"github.com/cuemby/onboard/pkg/types"
)

// Result is the outcome of a declaration diff. Both sides are shaped like
// a Config's Common tenant.
type Result struct {
	ToUpdate map[string]any
	ToDelete map[string]any
}

// Process computes what must be sent to the handlers to move the device from
// previous to desired. Keys outside the classes of truth pass through from
// desired untouched. Classes of truth appear in ToUpdate only when they
// changed, with their converged value. A class of truth that desired removes
// entirely is left out of ToUpdate; removals are reported by Deletions.
func Process(desired, previous types.Config) (*Result, error) {
	desiredCommon := desired[types.CommonTenant]
	toUpdate := map[string]any{}
	for key, value := range desiredCommon {
		if !types.IsClassOfTruth(key) {
			toUpdate[key] = types.DeepCopyValue(value)
		}
	}

	working := previous.DeepCopy()
	if working == nil {
		working = types.Config{}
	}
	workingCommon := working.Common()

	var owned []Change
	changed := map[string]bool{}
	for _, change := range Compare(workingCommon, mapOrEmpty(desiredCommon)) {
		if len(change.Path) == 0 || !types.IsClassOfTruth(change.Path[0]) {
			continue
		}
		owned = append(owned, change)
		changed[change.Path[0]] = true
	}

	applied, err := Apply(workingCommon, owned)
	if err != nil {
		return nil, fmt.Errorf("failed to converge previous config: %w", err)
	}
	converged, _ := applied.(map[string]any)

	for key := range changed {
		if value, ok := converged[key]; ok {
			toUpdate[key] = types.DeepCopyValue(value)
		}
	}

	return &Result{ToUpdate: toUpdate, ToDelete: map[string]any{}}, nil
}

func mapOrEmpty(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}

// Deletions returns, for each named class, the instances previous has and
// desired no longer declares. For each of subKeys (class -> properties) it
// returns the properties previous has and desired dropped. A desired class
// missing entirely removes nothing: silence means leave unchanged.
func Deletions(desired, previous map[string]any, namedClasses []string, subKeys map[string][]string) map[string]any {
	toDelete := map[string]any{}

	for _, class := range namedClasses {
		prevInstances, _ := previous[class].(map[string]any)
		desInstances, declared := desired[class].(map[string]any)
		if !declared {
			continue
		}
		removed := map[string]any{}
		for name, value := range prevInstances {
			if _, kept := desInstances[name]; !kept {
				removed[name] = types.DeepCopyValue(value)
			}
		}
		if len(removed) > 0 {
			toDelete[class] = removed
		}
	}

	for class, props := range subKeys {
		prevObj, _ := previous[class].(map[string]any)
		desObj, declared := desired[class].(map[string]any)
		if !declared {
			continue
		}
		removed := map[string]any{}
		for _, prop := range props {
			if value, had := prevObj[prop]; had {
				if _, kept := desObj[prop]; !kept {
					removed[prop] = types.DeepCopyValue(value)
				}
			}
		}
		if len(removed) > 0 {
			toDelete[class] = removed
		}
	}

	return toDelete
}
