// Package slug computes the deterministic identifiers shared between the
// build pipeline and any client that mirrors the algorithm. The output is a
// protocol: the same coordinates, bundle, and satellite selection must produce
// byte-identical slugs on every implementation, so nothing here may depend on
// locale, map order, or library-specific formatting.
package slug

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
)

// fnvOffsetBasis and fnvPrime are the 32-bit FNV-1a parameters. The digest is
// not a security boundary; it only needs to be fast, stable, and collision
// resistant at the tens-of-selections-per-bundle scale.
const (
	fnvOffsetBasis uint32 = 2166136261
	fnvPrime       uint32 = 16777619
)

// NormalizeSelection returns the canonical ordering of a satellite selection:
// ascending sorted with duplicates removed. A nil or empty input returns nil.
func NormalizeSelection(noradIDs []int) []int {
	if len(noradIDs) == 0 {
		return nil
	}
	seen := make(map[int]struct{}, len(noradIDs))
	out := make([]int, 0, len(noradIDs))
	for _, id := range noradIDs {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Ints(out)
	return out
}

// SelectionHash returns the fixed-width hex digest of a satellite selection.
// The hash is 32-bit FNV-1a over the comma-joined ascending NORAD IDs.
func SelectionHash(noradIDs []int) string {
	normalized := NormalizeSelection(noradIDs)
	parts := make([]string, len(normalized))
	for i, id := range normalized {
		parts[i] = strconv.Itoa(id)
	}
	payload := strings.Join(parts, ",")

	hash := fnvOffsetBasis
	for _, b := range []byte(payload) {
		hash ^= uint32(b)
		hash *= fnvPrime
	}
	return fmt.Sprintf("%08x", hash)
}

// FormatCoordinate renders one coordinate for use in slugs: rounded to
// precision decimals (half away from zero), decimal point replaced with "p",
// and an "m" prefix for negative values. A value that rounds to zero carries
// no sign marker.
//
//	40.7128  -> "40p7128"
//	-74.0060 -> "m74p0060"
//	-0.1234  -> "m0p1234"
func FormatCoordinate(value float64, precision int) string {
	neg := value < 0
	abs := math.Abs(value)
	scale := math.Pow(10, float64(precision))
	abs = math.Floor(abs*scale+0.5) / scale
	if abs == 0 {
		neg = false
	}

	sign := ""
	if neg {
		sign = "m"
	}
	if precision == 0 {
		return sign + strconv.Itoa(int(abs))
	}
	formatted := strconv.FormatFloat(abs, 'f', precision, 64)
	return sign + strings.Replace(formatted, ".", "p", 1)
}

// Location returns the deterministic location slug for a coordinate pair:
// lat<LAT>_lon<LON> with FormatCoordinate applied to each part.
//
//	(40.7128, -74.0060) -> "lat40p7128_lonm74p0060"
func Location(lat, lon float64, precision int) string {
	return "lat" + FormatCoordinate(lat, precision) + "_lon" + FormatCoordinate(lon, precision)
}

// Feed returns the slug for a featured feed: <locationSlug>--<bundleSlug>.
func Feed(locationSlug, bundleSlug string) string {
	return locationSlug + "--" + bundleSlug
}

// RequestFeed returns the slug for a requested feed. An empty canonical
// selection yields the plain feed slug; a non-empty one appends
// "--sel-<digest>" so that distinct subsets of the same bundle resolve to
// distinct artifact paths.
func RequestFeed(locationSlug, bundleSlug string, noradIDs []int) string {
	if len(noradIDs) == 0 {
		return Feed(locationSlug, bundleSlug)
	}
	return Feed(locationSlug, bundleSlug) + "--sel-" + SelectionHash(noradIDs)
}

// ParseLocation inverts a location slug back into a coordinate pair. It
// reports ok=false when the slug does not match the lat<LAT>_lon<LON> grammar.
func ParseLocation(s string) (lat, lon float64, ok bool) {
	rest, found := strings.CutPrefix(s, "lat")
	if !found {
		return 0, 0, false
	}
	latStr, lonStr, found := strings.Cut(rest, "_lon")
	if !found {
		return 0, 0, false
	}
	lat, ok = parseCoordinate(latStr)
	if !ok {
		return 0, 0, false
	}
	lon, ok = parseCoordinate(lonStr)
	if !ok {
		return 0, 0, false
	}
	return lat, lon, true
}

// ParseFeed inverts a plain feed slug into its coordinates and bundle slug.
// The bundle part is everything after the last "--" separator. Request slugs
// carrying a "--sel-" suffix do not parse: their location part would contain
// a separator, and reconstructing them requires the selection anyway.
func ParseFeed(s string) (lat, lon float64, bundleSlug string, ok bool) {
	idx := strings.LastIndex(s, "--")
	if idx < 0 {
		return 0, 0, "", false
	}
	lat, lon, ok = ParseLocation(s[:idx])
	if !ok {
		return 0, 0, "", false
	}
	return lat, lon, s[idx+2:], true
}

func parseCoordinate(s string) (float64, bool) {
	sign := 1.0
	if rest, found := strings.CutPrefix(s, "m"); found {
		sign = -1
		s = rest
	}
	v, err := strconv.ParseFloat(strings.Replace(s, "p", ".", 1), 64)
	if err != nil {
		return 0, false
	}
	return sign * v, true
}
