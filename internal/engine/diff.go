package engine

// Diff describes one property's before/after state detected between a
// prior and a newly-built record snapshot (spec §4.4 "change detection").
type Diff struct {
	Key      string
	Before   any
	After    any
	Changed  bool
}

// Changes compares before and after flat field maps, returning one Diff per
// key present in either map. Equality uses a shallow deep-equal suitable for
// JSON-shaped values (string/float64/bool/map/slice).
func Changes(before, after map[string]any) []Diff {
	seen := make(map[string]bool, len(before)+len(after))
	var out []Diff
	for k := range before {
		seen[k] = true
	}
	for k := range after {
		seen[k] = true
	}
	for k := range seen {
		b, a := before[k], after[k]
		out = append(out, Diff{Key: k, Before: b, After: a, Changed: !deepEqual(b, a)})
	}
	return out
}

// Changed reports whether any diff entry actually changed.
func Changed(diffs []Diff) bool {
	for _, d := range diffs {
		if d.Changed {
			return true
		}
	}
	return false
}

func deepEqual(a, b any) bool {
	switch av := a.(type) {
	case map[string]any:
		bv, ok := b.(map[string]any)
		if !ok || len(av) != len(bv) {
			return false
		}
		for k, v := range av {
			if !deepEqual(v, bv[k]) {
				return false
			}
		}
		return true
	case []any:
		bv, ok := b.([]any)
		if !ok || len(av) != len(bv) {
			return false
		}
		for i := range av {
			if !deepEqual(av[i], bv[i]) {
				return false
			}
		}
		return true
	default:
		return a == b
	}
}
