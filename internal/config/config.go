// Package config loads and validates the skypass project configuration.
// The project file (skypass.toml) declares the site, bundles, and featured
// locations; runtime knobs come from viper (flags, SKYPASS_* env) in
// settings.go.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	toml "github.com/pelletier/go-toml/v2"

	"github.com/skypass/skypass/internal/slug"
)

// Bundle kinds. Satellite bundles draw their entity set from a source group
// or explicit NORAD IDs; planetary bundles carry a fixed target list and
// never a satellite selection.
const (
	KindSatellite = "satellite"
	KindPlanetary = "planetary"
)

// repoURLPlaceholder is the scaffold value shipped in the example config.
// When present, the effective repo URL falls back to GITHUB_REPOSITORY.
const repoURLPlaceholder = "https://github.com/your-user/your-repo"

const slugChars = "abcdefghijklmnopqrstuvwxyz0123456789-_"

// ErrNoConfig is returned when the project file does not exist.
var ErrNoConfig = errors.New("project config not found")

// ConfigError wraps a validation failure in the project file.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Field, e.Reason)
}

// Site holds the published site metadata embedded into the manifest.
type Site struct {
	Title       string `toml:"title"`
	Description string `toml:"description"`
}

// Defaults holds the global build parameters that bundles may override.
type Defaults struct {
	HorizonDays                     int     `toml:"horizon_days"`
	CatalogCacheHours               int     `toml:"catalog_cache_hours"`
	RefreshIntervalHours            int     `toml:"refresh_interval_hours"`
	IncludeIfPeakElevationDeg       float64 `toml:"include_if_peak_elevation_deg"`
	LabelOverheadIfPeakElevationDeg float64 `toml:"label_overhead_if_peak_elevation_deg"`
}

// RequestDefaults holds the parameters governing externally submitted
// requests. These are republished in the manifest so client forms can
// mirror the same limits.
type RequestDefaults struct {
	SlugPrecisionDecimals   int `toml:"slug_precision_decimals"`
	MaxSatellitesPerRequest int `toml:"max_satellites_per_request"`
}

// Location is a curated observation site.
type Location struct {
	Slug       string  `toml:"slug"`
	Name       string  `toml:"name"`
	Lat        float64 `toml:"lat"`
	Lon        float64 `toml:"lon"`
	ElevationM float64 `toml:"elevation_m"`
}

// Bundle is a named group of trackable entities that feeds are computed for.
type Bundle struct {
	Slug                            string   `toml:"slug"`
	Name                            string   `toml:"name"`
	Kind                            string   `toml:"kind"`
	SourceGroup                     string   `toml:"source_group"`
	NoradIDs                        []int    `toml:"norad_ids"`
	PlanetTargets                   []string `toml:"planet_targets"`
	IncludeIfPeakElevationDeg       *float64 `toml:"include_if_peak_elevation_deg"`
	LabelOverheadIfPeakElevationDeg *float64 `toml:"label_overhead_if_peak_elevation_deg"`
	SatelliteListingLimit           int      `toml:"satellite_listing_limit"`
}

// Config is the full parsed and validated project configuration.
type Config struct {
	Version           int             `toml:"version"`
	RepoURL           string          `toml:"repo_url"`
	Site              Site            `toml:"site"`
	Defaults          Defaults        `toml:"defaults"`
	RequestDefaults   RequestDefaults `toml:"request_defaults"`
	FeaturedLocations []Location      `toml:"featured_locations"`
	Bundles           []Bundle        `toml:"bundles"`
	FeaturedBundles   []string        `toml:"featured_bundles"`
	AllowedRequesters []string        `toml:"allowed_requesters"`
}

// Load reads and validates the project config at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNoConfig, path)
		}
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	var cfg Config
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyDefaults fills zero-valued knobs with their built-in defaults.
func (c *Config) applyDefaults() {
	if c.Defaults.HorizonDays == 0 {
		c.Defaults.HorizonDays = 7
	}
	if c.Defaults.CatalogCacheHours == 0 {
		c.Defaults.CatalogCacheHours = 12
	}
	if c.Defaults.RefreshIntervalHours == 0 {
		c.Defaults.RefreshIntervalHours = 6
	}
	if c.RequestDefaults.SlugPrecisionDecimals == 0 {
		c.RequestDefaults.SlugPrecisionDecimals = 4
	}
	if c.RequestDefaults.MaxSatellitesPerRequest == 0 {
		c.RequestDefaults.MaxSatellitesPerRequest = 12
	}
	for i := range c.Bundles {
		if c.Bundles[i].Kind == "" {
			c.Bundles[i].Kind = KindSatellite
		}
	}
}

// Validate checks structural invariants: slug grammar, coordinate ranges,
// bundle kind consistency, and slug uniqueness across locations and bundles.
func (c *Config) Validate() error {
	if c.RequestDefaults.SlugPrecisionDecimals < 1 || c.RequestDefaults.SlugPrecisionDecimals > 8 {
		return &ConfigError{Field: "request_defaults.slug_precision_decimals", Reason: "must be between 1 and 8"}
	}
	if c.RequestDefaults.MaxSatellitesPerRequest < 1 || c.RequestDefaults.MaxSatellitesPerRequest > 200 {
		return &ConfigError{Field: "request_defaults.max_satellites_per_request", Reason: "must be between 1 and 200"}
	}
	if c.Defaults.LabelOverheadIfPeakElevationDeg < c.Defaults.IncludeIfPeakElevationDeg {
		return &ConfigError{
			Field:  "defaults.label_overhead_if_peak_elevation_deg",
			Reason: "must be >= include_if_peak_elevation_deg",
		}
	}

	seenLoc := make(map[string]struct{})
	for _, loc := range c.FeaturedLocations {
		if err := validateLocation(loc); err != nil {
			return err
		}
		if _, dup := seenLoc[loc.Slug]; dup {
			return &ConfigError{Field: "featured_locations", Reason: "duplicate slug " + loc.Slug}
		}
		seenLoc[loc.Slug] = struct{}{}
	}

	seenBundle := make(map[string]struct{})
	for _, b := range c.Bundles {
		if err := validateBundle(b); err != nil {
			return err
		}
		if _, dup := seenBundle[b.Slug]; dup {
			return &ConfigError{Field: "bundles", Reason: "duplicate slug " + b.Slug}
		}
		seenBundle[b.Slug] = struct{}{}
	}

	for _, fs := range c.FeaturedBundles {
		if _, ok := seenBundle[fs]; !ok {
			return &ConfigError{Field: "featured_bundles", Reason: "unknown bundle slug " + fs}
		}
	}
	return nil
}

func validateLocation(loc Location) error {
	if !IsSlug(loc.Slug) {
		return &ConfigError{Field: "featured_locations.slug", Reason: "invalid slug " + loc.Slug}
	}
	if loc.Lat < -90 || loc.Lat > 90 {
		return &ConfigError{Field: "featured_locations.lat", Reason: fmt.Sprintf("%v out of range [-90, 90]", loc.Lat)}
	}
	if loc.Lon < -180 || loc.Lon > 180 {
		return &ConfigError{Field: "featured_locations.lon", Reason: fmt.Sprintf("%v out of range [-180, 180]", loc.Lon)}
	}
	return nil
}

func validateBundle(b Bundle) error {
	if !IsSlug(b.Slug) {
		return &ConfigError{Field: "bundles.slug", Reason: "invalid slug " + b.Slug}
	}
	switch b.Kind {
	case KindSatellite:
		if len(b.PlanetTargets) > 0 {
			return &ConfigError{Field: "bundles." + b.Slug, Reason: "satellite bundles cannot define planet_targets"}
		}
		if b.SourceGroup == "" && len(b.NoradIDs) == 0 {
			return &ConfigError{Field: "bundles." + b.Slug, Reason: "requires source_group and/or norad_ids"}
		}
		for _, id := range b.NoradIDs {
			if id <= 0 {
				return &ConfigError{Field: "bundles." + b.Slug, Reason: "norad_ids must be positive"}
			}
		}
	case KindPlanetary:
		if b.SourceGroup != "" || len(b.NoradIDs) > 0 {
			return &ConfigError{Field: "bundles." + b.Slug, Reason: "planetary bundles cannot define source_group or norad_ids"}
		}
		if len(b.PlanetTargets) == 0 {
			return &ConfigError{Field: "bundles." + b.Slug, Reason: "planetary bundles require planet_targets"}
		}
	default:
		return &ConfigError{Field: "bundles." + b.Slug, Reason: "kind must be satellite or planetary"}
	}
	if b.IncludeIfPeakElevationDeg != nil && b.LabelOverheadIfPeakElevationDeg != nil &&
		*b.LabelOverheadIfPeakElevationDeg < *b.IncludeIfPeakElevationDeg {
		return &ConfigError{Field: "bundles." + b.Slug, Reason: "label threshold must be >= include threshold"}
	}
	return nil
}

// IsSlug reports whether s is a valid slug: non-empty, lowercase letters,
// digits, dashes, or underscores only.
func IsSlug(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if !strings.ContainsRune(slugChars, r) {
			return false
		}
	}
	return true
}

// FindBundle returns the bundle with the given slug, or nil.
func (c *Config) FindBundle(bundleSlug string) *Bundle {
	for i := range c.Bundles {
		if c.Bundles[i].Slug == bundleSlug {
			return &c.Bundles[i]
		}
	}
	return nil
}

// ResolveFeaturedBundles returns the bundles participating in the featured
// cross product: the featured_bundles subset when configured, otherwise all.
func (c *Config) ResolveFeaturedBundles() []Bundle {
	if len(c.FeaturedBundles) == 0 {
		return c.Bundles
	}
	bySlug := make(map[string]Bundle, len(c.Bundles))
	for _, b := range c.Bundles {
		bySlug[b.Slug] = b
	}
	out := make([]Bundle, 0, len(c.FeaturedBundles))
	for _, s := range c.FeaturedBundles {
		if b, ok := bySlug[s]; ok {
			out = append(out, b)
		}
	}
	return out
}

// Thresholds returns the effective elevation thresholds for a bundle,
// falling back to the global defaults.
func (c *Config) Thresholds(b Bundle) (include, overhead float64) {
	include = c.Defaults.IncludeIfPeakElevationDeg
	if b.IncludeIfPeakElevationDeg != nil {
		include = *b.IncludeIfPeakElevationDeg
	}
	overhead = c.Defaults.LabelOverheadIfPeakElevationDeg
	if b.LabelOverheadIfPeakElevationDeg != nil {
		overhead = *b.LabelOverheadIfPeakElevationDeg
	}
	return include, overhead
}

// ResolveRepoURL returns the effective repository URL: the configured value
// unless it is the scaffold placeholder, in which case GITHUB_REPOSITORY is
// consulted.
func (c *Config) ResolveRepoURL() string {
	if c.RepoURL != "" && c.RepoURL != repoURLPlaceholder {
		return c.RepoURL
	}
	if repo := os.Getenv("GITHUB_REPOSITORY"); repo != "" {
		return "https://github.com/" + repo
	}
	return c.RepoURL
}

// RequesterAllowed reports whether a requester passes the allowlist. An empty
// allowlist admits everyone.
func (c *Config) RequesterAllowed(requestedBy string) bool {
	if len(c.AllowedRequesters) == 0 {
		return true
	}
	for _, allowed := range c.AllowedRequesters {
		if strings.EqualFold(allowed, requestedBy) {
			return true
		}
	}
	return false
}

// ResolveLocationSlug returns the location slug for a request: a supplied
// override when present (reduced to its location part if composite),
// otherwise the slug derived from the coordinates.
func ResolveLocationSlug(override string, lat, lon float64, precision int) string {
	if override == "" {
		return slug.Location(lat, lon, precision)
	}
	if loc, _, found := strings.Cut(override, "--"); found {
		return loc
	}
	return override
}
