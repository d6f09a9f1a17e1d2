// Package diff decides whether a persisted row differs from an incoming
// record, so the persistence layer can skip no-op writes.
package diff

import "reflect"

// DefaultIgnored are the fields excluded from comparison unless the caller
// supplies its own list: the store-assigned id and the volatile timestamps.
var DefaultIgnored = []string{"id", "created_at", "updated_at"}

// HasChanged reports whether any non-ignored field differs between existing
// and incoming. It compares the union of keys from both maps; a field that
// is nil or absent on both sides is not a difference. Nested maps and
// slices are compared structurally. Neither input is mutated.
func HasChanged(existing, incoming map[string]any, ignored []string) bool {
	if ignored == nil {
		ignored = DefaultIgnored
	}
	skip := make(map[string]bool, len(ignored))
	for _, f := range ignored {
		skip[f] = true
	}

	for key := range existing {
		if skip[key] {
			continue
		}
		if fieldDiffers(existing[key], incoming[key]) {
			return true
		}
	}
	for key := range incoming {
		if skip[key] {
			continue
		}
		if _, seen := existing[key]; seen {
			continue
		}
		if fieldDiffers(nil, incoming[key]) {
			return true
		}
	}
	return false
}

func fieldDiffers(a, b any) bool {
	if a == nil && b == nil {
		return false
	}
	if a == nil || b == nil {
		return true
	}
	return !reflect.DeepEqual(a, b)
}
