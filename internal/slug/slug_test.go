package slug

import (
	"math"
	"testing"
)

func TestFormatCoordinate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		value     float64
		precision int
		want      string
	}{
		{"positive", 40.7128, 4, "40p7128"},
		{"negative", -74.0060, 4, "m74p0060"},
		{"negative fraction", -0.1234, 4, "m0p1234"},
		{"pads to precision", 12.5, 4, "12p5000"},
		{"rounds half away from zero", 1.00005, 4, "1p0001"},
		{"negative rounds half away from zero", -1.00005, 4, "m1p0001"},
		{"rounds to zero drops sign", -0.00004, 4, "0p0000"},
		{"zero", 0, 4, "0p0000"},
		{"precision zero", -74.6, 0, "m75"},
		{"two decimals", 47.6062, 2, "47p61"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := FormatCoordinate(tt.value, tt.precision); got != tt.want {
				t.Errorf("FormatCoordinate(%v, %d) = %q, want %q", tt.value, tt.precision, got, tt.want)
			}
		})
	}
}

func TestLocation(t *testing.T) {
	t.Parallel()

	if got, want := Location(40.7128, -74.0060, 4), "lat40p7128_lonm74p0060"; got != want {
		t.Errorf("Location = %q, want %q", got, want)
	}
	if got, want := Location(47.6062, -122.3321, 4), "lat47p6062_lonm122p3321"; got != want {
		t.Errorf("Location = %q, want %q", got, want)
	}
}

func TestFeed(t *testing.T) {
	t.Parallel()

	if got, want := Feed("lat40p7128_lonm74p0060", "iss"), "lat40p7128_lonm74p0060--iss"; got != want {
		t.Errorf("Feed = %q, want %q", got, want)
	}
}

func TestNormalizeSelection(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   []int
		want []int
	}{
		{"nil", nil, nil},
		{"empty", []int{}, nil},
		{"sorts", []int{25544, 20580}, []int{20580, 25544}},
		{"dedupes", []int{25544, 25544, 20580}, []int{20580, 25544}},
		{"already canonical", []int{7, 15, 101}, []int{7, 15, 101}},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := NormalizeSelection(tt.in)
			if len(got) != len(tt.want) {
				t.Fatalf("NormalizeSelection(%v) = %v, want %v", tt.in, got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("NormalizeSelection(%v)[%d] = %d, want %d", tt.in, i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestSelectionHash(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   []int
		want string
	}{
		{"empty is offset basis", nil, "811c9dc5"},
		{"single id", []int{25544}, "1926cccf"},
		{"two ids", []int{20580, 25544}, "34dbd882"},
		{"order does not matter", []int{25544, 20580}, "34dbd882"},
		{"duplicates do not matter", []int{25544, 20580, 25544}, "34dbd882"},
		{"three ids", []int{39084, 25544, 27607}, "358d73c9"},
		{"small ids", []int{101, 7, 15}, "551f032c"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := SelectionHash(tt.in); got != tt.want {
				t.Errorf("SelectionHash(%v) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestRequestFeed(t *testing.T) {
	t.Parallel()

	loc := "lat40p7128_lonm74p0060"
	if got, want := RequestFeed(loc, "iss", nil), "lat40p7128_lonm74p0060--iss"; got != want {
		t.Errorf("RequestFeed with empty selection = %q, want %q", got, want)
	}
	got := RequestFeed(loc, "stations", []int{25544, 20580})
	want := "lat40p7128_lonm74p0060--stations--sel-34dbd882"
	if got != want {
		t.Errorf("RequestFeed = %q, want %q", got, want)
	}
}

func TestParseLocation(t *testing.T) {
	t.Parallel()

	lat, lon, ok := ParseLocation("lat47p6062_lonm122p3321")
	if !ok {
		t.Fatal("ParseLocation returned ok=false for a valid slug")
	}
	if math.Abs(lat-47.6062) > 1e-9 || math.Abs(lon-(-122.3321)) > 1e-9 {
		t.Errorf("ParseLocation = (%v, %v), want (47.6062, -122.3321)", lat, lon)
	}

	for _, bad := range []string{"47p6062_lonm122p3321", "lat47p6062", "lat_lon", "latx_lony"} {
		if _, _, ok := ParseLocation(bad); ok {
			t.Errorf("ParseLocation(%q) = ok, want failure", bad)
		}
	}
}

func TestParseLocationRoundtrip(t *testing.T) {
	t.Parallel()

	s := Location(40.7128, -74.0060, 4)
	lat, lon, ok := ParseLocation(s)
	if !ok {
		t.Fatalf("ParseLocation(%q) failed", s)
	}
	if math.Abs(lat-40.7128) > 1e-9 || math.Abs(lon-(-74.0060)) > 1e-9 {
		t.Errorf("roundtrip = (%v, %v), want (40.7128, -74.0060)", lat, lon)
	}
}

func TestParseFeed(t *testing.T) {
	t.Parallel()

	lat, lon, bundle, ok := ParseFeed("lat47p6062_lonm122p3321--stations")
	if !ok {
		t.Fatal("ParseFeed returned ok=false for a valid slug")
	}
	if math.Abs(lat-47.6062) > 1e-9 || math.Abs(lon-(-122.3321)) > 1e-9 {
		t.Errorf("ParseFeed coords = (%v, %v), want (47.6062, -122.3321)", lat, lon)
	}
	if bundle != "stations" {
		t.Errorf("ParseFeed bundle = %q, want %q", bundle, "stations")
	}

	if _, _, _, ok := ParseFeed("lat47p6062_lonm122p3321"); ok {
		t.Error("ParseFeed without separator = ok, want failure")
	}
	if _, _, _, ok := ParseFeed("lat47p6062_lonm122p3321--iss--sel-34dbd882"); ok {
		t.Error("ParseFeed on a selection-suffixed slug = ok, want failure")
	}
}
