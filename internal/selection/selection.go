// Package selection normalizes requested satellite subsets against a bundle's
// catalog. Like the slug package, its output feeds the identity computation
// and must agree exactly with any client-side mirror.
package selection

import "github.com/skypass/skypass/internal/slug"

// Catalog describes the selectable entity set for one bundle, as known to the
// canonicalizer. Truncated means the available list is a capped prefix of the
// true source set, in which case full-set equivalence cannot be determined.
type Catalog struct {
	Available []int
	Truncated bool
}

// Canonicalize returns the canonical form of a requested selection:
//
//   - deduplicated and sorted ascending
//   - filtered to IDs present in the catalog (when the catalog is known)
//   - collapsed to empty when it equals the entire non-truncated catalog,
//     so "all satellites" and "default" share one identity
//
// A truncated catalog skips the full-set check: the client cannot know the
// true full set, so the selection passes through sorted and deduplicated only.
func Canonicalize(selected []int, cat Catalog) []int {
	normalized := slug.NormalizeSelection(selected)
	if len(normalized) == 0 {
		return nil
	}

	available := slug.NormalizeSelection(cat.Available)
	if len(available) > 0 {
		availableSet := make(map[int]struct{}, len(available))
		for _, id := range available {
			availableSet[id] = struct{}{}
		}
		filtered := normalized[:0]
		for _, id := range normalized {
			if _, ok := availableSet[id]; ok {
				filtered = append(filtered, id)
			}
		}
		normalized = filtered
	}
	if len(normalized) == 0 {
		return nil
	}

	if cat.Truncated || len(available) == 0 {
		return normalized
	}
	if equalInts(normalized, available) {
		return nil
	}
	return normalized
}

// Default returns the automatic subset used when a request carries no
// selection: the first max entries of the available set in ascending order.
func Default(available []int, max int) []int {
	normalized := slug.NormalizeSelection(available)
	if len(normalized) == 0 || max <= 0 {
		return nil
	}
	if len(normalized) > max {
		normalized = normalized[:max]
	}
	return normalized
}

func equalInts(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
