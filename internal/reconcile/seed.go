package reconcile

import (
	"context"
	"fmt"
	"os"

	toml "github.com/pelletier/go-toml/v2"

	"github.com/skypass/skypass/internal/config"
	"github.com/skypass/skypass/internal/selection"
	"github.com/skypass/skypass/internal/slug"
	"github.com/skypass/skypass/internal/store"
)

// SeedEntry is one request from a bulk seed file. Seeding is the operator
// path: entries ship with the repository rather than arriving from untrusted
// submitters, so a bad entry is a hard error instead of a per-payload
// rejection.
type SeedEntry struct {
	Slug             string  `toml:"slug"`
	Name             string  `toml:"name"`
	Lat              float64 `toml:"lat"`
	Lon              float64 `toml:"lon"`
	ElevationM       float64 `toml:"elevation_m"`
	BundleSlug       string  `toml:"bundle_slug"`
	SelectedNoradIDs []int   `toml:"selected_norad_ids"`
	RequestedBy      string  `toml:"requested_by"`
}

type seedFile struct {
	Requests []SeedEntry `toml:"requests"`
}

// LoadSeedFile reads seed entries from a TOML file of [[requests]] tables.
func LoadSeedFile(path string) ([]SeedEntry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("seed: read %s: %w", path, err)
	}
	var f seedFile
	if err := toml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("seed: parse %s: %w", path, err)
	}
	return f.Requests, nil
}

// SeedResult summarizes one seeding run.
type SeedResult struct {
	Created int
	Total   int
}

// SeedAll upserts every seed entry into the store. An entry without a
// selection gets the default subset: the first max_satellites_per_request of
// the bundle's configured NORAD IDs. Selections canonicalize against those
// configured IDs, so seeding needs no catalog fetch.
func SeedAll(ctx context.Context, cfg *config.Config, st store.Store, entries []SeedEntry) (SeedResult, error) {
	res := SeedResult{Total: len(entries)}
	precision := cfg.RequestDefaults.SlugPrecisionDecimals
	maxSats := cfg.RequestDefaults.MaxSatellitesPerRequest

	for i, e := range entries {
		bundle := cfg.FindBundle(e.BundleSlug)
		if bundle == nil {
			return res, fmt.Errorf("seed: entry %d references unknown bundle %q", i, e.BundleSlug)
		}
		if e.Lat < -90 || e.Lat > 90 || e.Lon < -180 || e.Lon > 180 {
			return res, fmt.Errorf("seed: entry %d: coordinates (%v, %v) out of range", i, e.Lat, e.Lon)
		}
		if e.Slug != "" && !config.IsSlug(e.Slug) {
			return res, fmt.Errorf("seed: entry %d: invalid slug %q", i, e.Slug)
		}

		locSlug := e.Slug
		if locSlug == "" {
			locSlug = slug.Location(e.Lat, e.Lon, precision)
		}

		var canonical []int
		if bundle.Kind == config.KindPlanetary {
			if len(e.SelectedNoradIDs) > 0 {
				return res, fmt.Errorf("seed: entry %d: planetary bundles cannot carry a selection", i)
			}
		} else {
			for _, id := range e.SelectedNoradIDs {
				if id <= 0 {
					return res, fmt.Errorf("seed: entry %d: norad ids must be positive", i)
				}
			}
			sel := slug.NormalizeSelection(e.SelectedNoradIDs)
			if len(sel) == 0 {
				sel = selection.Default(bundle.NoradIDs, maxSats)
			}
			if len(sel) > maxSats {
				sel = sel[:maxSats]
			}
			canonical = selection.Canonicalize(sel, selection.Catalog{Available: bundle.NoradIDs})
		}

		requestedBy := e.RequestedBy
		if requestedBy == "" {
			requestedBy = "seed"
		}

		rec := store.Record{
			RequestKey:       slug.RequestFeed(locSlug, bundle.Slug, canonical),
			LocationSlug:     locSlug,
			LocationKey:      slug.Location(e.Lat, e.Lon, precision),
			BundleSlug:       bundle.Slug,
			Lat:              e.Lat,
			Lon:              e.Lon,
			ElevationM:       e.ElevationM,
			Name:             e.Name,
			SelectedNoradIDs: canonical,
			RequestedBy:      requestedBy,
		}
		_, created, err := st.Upsert(ctx, rec)
		if err != nil {
			return res, fmt.Errorf("seed: entry %d: %w", i, err)
		}
		if created {
			res.Created++
		}
	}
	return res, nil
}
