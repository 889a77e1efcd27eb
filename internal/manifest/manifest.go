// Package manifest builds and publishes the authoritative index of all
// calendar feed artifacts. One build aggregates the featured cross product
// with every stored request, computes events for each pair, writes all feed
// artifacts, and atomically replaces the manifest last, so a client reading
// the manifest never sees a path that is not already durably in place.
package manifest

import (
	"fmt"
	"os"

	json "github.com/goccy/go-json"
)

// Name is the manifest's filename inside the feeds directory.
const Name = "index.json"

// Feed is one published calendar feed entry.
type Feed struct {
	Path             string  `json:"path"`
	LocationSlug     string  `json:"location_slug"`
	LocationName     string  `json:"location_name"`
	LocationKey      string  `json:"location_key"`
	BundleSlug       string  `json:"bundle_slug"`
	BundleName       string  `json:"bundle_name"`
	BundleKind       string  `json:"bundle_kind"`
	Requested        bool    `json:"requested,omitempty"`
	SelectedNoradIDs []int   `json:"selected_norad_ids,omitempty"`
	FulfilledAt      string  `json:"fulfilled_at,omitempty"`
	LocationLat      float64 `json:"location_lat,omitempty"`
	LocationLon      float64 `json:"location_lon,omitempty"`
}

// LocationEntry is one location in the published index.
type LocationEntry struct {
	Slug            string  `json:"slug"`
	Name            string  `json:"name"`
	Lat             float64 `json:"lat"`
	Lon             float64 `json:"lon"`
	LocationKey     string  `json:"location_key"`
	Featured        bool    `json:"featured"`
	Requested       bool    `json:"requested"`
	LastFulfilledAt string  `json:"last_fulfilled_at,omitempty"`
}

// BundleEntry is one bundle in the published index, including catalog
// availability so client forms know what can be selected.
type BundleEntry struct {
	Slug                string   `json:"slug"`
	Name                string   `json:"name"`
	Kind                string   `json:"kind"`
	PlanetTargets       []string `json:"planet_targets,omitempty"`
	CatalogPath         string   `json:"catalog_path,omitempty"`
	CatalogAvailable    bool     `json:"catalog_available"`
	SatellitesTotal     int      `json:"satellites_total,omitempty"`
	SatellitesTruncated bool     `json:"satellites_truncated,omitempty"`
	SatellitesLimit     int      `json:"satellites_limit,omitempty"`
}

// RequestDefaults republishes the request parameters so clients mirror the
// same slug precision and selection limits the server applies.
type RequestDefaults struct {
	SlugPrecisionDecimals   int  `json:"slug_precision_decimals"`
	MaxSatellitesPerRequest int  `json:"max_satellites_per_request"`
	AllowlistEnabled        bool `json:"allowlist_enabled"`
}

// Stats summarizes the published set.
type Stats struct {
	Feeds struct {
		Total     int `json:"total"`
		Satellite int `json:"satellite"`
		Planetary int `json:"planetary"`
		Requested int `json:"requested"`
	} `json:"feeds"`
	Locations struct {
		Featured  int `json:"featured"`
		Requested int `json:"requested"`
		Total     int `json:"total"`
	} `json:"locations"`
	Bundles struct {
		Satellite int `json:"satellite"`
		Planetary int `json:"planetary"`
		Total     int `json:"total"`
	} `json:"bundles"`
	LastRequestFulfilledAt string `json:"last_request_fulfilled_at,omitempty"`
}

// BuildInfo records what produced the manifest.
type BuildInfo struct {
	Version string `json:"version"`
	GitSHA  string `json:"git_sha,omitempty"`
}

// DefaultsInfo republishes the build window parameters.
type DefaultsInfo struct {
	HorizonDays          int `json:"horizon_days"`
	RefreshIntervalHours int `json:"refresh_interval_hours"`
}

// SiteInfo is the published site metadata.
type SiteInfo struct {
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
}

// Manifest is the published aggregate: the single source of truth for which
// artifacts exist. Any artifact path not listed here is not a guaranteed
// stable address.
type Manifest struct {
	GeneratedAt       string          `json:"generated_at"`
	Build             BuildInfo       `json:"build"`
	RepoURL           string          `json:"repo_url"`
	Site              SiteInfo        `json:"site"`
	Defaults          DefaultsInfo    `json:"defaults"`
	RequestDefaults   RequestDefaults `json:"request_defaults"`
	FeaturedLocations []LocationEntry `json:"featured_locations"`
	Locations         []LocationEntry `json:"locations"`
	Bundles           []BundleEntry   `json:"bundles"`
	Feeds             []Feed          `json:"feeds"`
	Stats             Stats           `json:"stats"`
}

// FindByPath returns the feed published at the given artifact path, if any.
func (m *Manifest) FindByPath(path string) (Feed, bool) {
	for _, f := range m.Feeds {
		if f.Path == path {
			return f, true
		}
	}
	return Feed{}, false
}

// Read loads a previously published manifest. A missing file returns
// os.ErrNotExist wrapped, which callers treat as "nothing published yet".
func Read(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("manifest: read %s: %w", path, err)
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("manifest: parse %s: %w", path, err)
	}
	return &m, nil
}
