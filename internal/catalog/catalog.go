// Package catalog maintains the per-bundle listing of selectable satellites.
// Listings come from a slow, rate-limited external source; the cache persists
// each bundle's listing as a JSON artifact with a freshness timestamp and
// rebuilds it on demand.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	json "github.com/goccy/go-json"

	"github.com/skypass/skypass/internal/config"
	"github.com/skypass/skypass/internal/publish"
)

// DefaultLimit caps catalog size when a bundle does not configure its own
// listing limit. Source sets larger than the cap are truncated, keeping the
// first entries in source order.
const DefaultLimit = 1000

// Mode selects the refresh policy.
type Mode int

const (
	// StaleOnly rebuilds a bundle's catalog only when the cached artifact is
	// older than the TTL or missing.
	StaleOnly Mode = iota

	// ForceAll always rebuilds.
	ForceAll
)

// FetchError wraps an upstream source failure for one bundle. It is
// recoverable per bundle: one source being down must not block unrelated
// bundles from refreshing.
type FetchError struct {
	BundleSlug string
	Err        error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("catalog: fetch %s: %v", e.BundleSlug, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// Entry is one selectable satellite in a bundle's catalog.
type Entry struct {
	NoradID int    `json:"norad_id"`
	Name    string `json:"name"`
}

// Catalog is the derived listing for one bundle. Entries hold at most Limit
// items; Total is the size of the underlying source set.
type Catalog struct {
	BundleSlug  string    `json:"bundle_slug"`
	BundleName  string    `json:"bundle_name"`
	GeneratedAt time.Time `json:"generated_at"`
	Satellites  []Entry   `json:"satellites"`
	Total       int       `json:"satellites_total"`
	Limit       int       `json:"satellites_limit"`
	Truncated   bool      `json:"satellites_truncated"`
}

// AvailableIDs returns the NORAD IDs present in the cached listing.
func (c Catalog) AvailableIDs() []int {
	ids := make([]int, len(c.Satellites))
	for i, s := range c.Satellites {
		ids[i] = s.NoradID
	}
	return ids
}

// Source lists the entities of a satellite bundle from its upstream listing.
// Implementations own their rate limiting; the cache only decides when to ask.
type Source interface {
	ListEntities(ctx context.Context, bundle config.Bundle) ([]Entry, error)
}

// SourceFunc adapts a function to the Source interface.
type SourceFunc func(ctx context.Context, bundle config.Bundle) ([]Entry, error)

// ListEntities implements Source.
func (f SourceFunc) ListEntities(ctx context.Context, bundle config.Bundle) ([]Entry, error) {
	return f(ctx, bundle)
}

// Cache rebuilds and serves per-bundle catalogs from a directory of JSON
// artifacts.
type Cache struct {
	Dir    string
	TTL    time.Duration
	Source Source
}

// Path returns the artifact path for a bundle's catalog.
func (c *Cache) Path(bundleSlug string) string {
	return filepath.Join(c.Dir, bundleSlug+".json")
}

// Get returns the catalog for a satellite bundle, rebuilding it from the
// source according to mode. In StaleOnly mode a cached artifact younger than
// the TTL is served as-is.
func (c *Cache) Get(ctx context.Context, bundle config.Bundle, mode Mode) (Catalog, error) {
	path := c.Path(bundle.Slug)
	if mode == StaleOnly && !c.isStale(path) {
		cached, err := readCatalog(path)
		if err == nil {
			return cached, nil
		}
		// Unreadable cache falls through to a rebuild.
	}
	return c.rebuild(ctx, bundle)
}

// isStale reports whether the artifact at path is missing or older than the TTL.
func (c *Cache) isStale(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return true
	}
	return time.Since(info.ModTime()) >= c.TTL
}

func (c *Cache) rebuild(ctx context.Context, bundle config.Bundle) (Catalog, error) {
	entries, err := c.Source.ListEntities(ctx, bundle)
	if err != nil {
		return Catalog{}, &FetchError{BundleSlug: bundle.Slug, Err: err}
	}

	limit := bundle.SatelliteListingLimit
	if limit <= 0 {
		limit = DefaultLimit
	}
	total := len(entries)
	truncated := total > limit
	if truncated {
		// Keep the first entries in stable source order; the client sees the
		// truncation flag and total so it knows the list is a prefix.
		entries = entries[:limit]
	}

	cat := Catalog{
		BundleSlug:  bundle.Slug,
		BundleName:  bundle.Name,
		GeneratedAt: time.Now().UTC(),
		Satellites:  entries,
		Total:       total,
		Limit:       limit,
		Truncated:   truncated,
	}

	data, err := json.MarshalIndent(cat, "", "  ")
	if err != nil {
		return Catalog{}, fmt.Errorf("catalog: encode %s: %w", bundle.Slug, err)
	}
	if err := publish.WriteFileAtomic(c.Path(bundle.Slug), data); err != nil {
		return Catalog{}, err
	}
	return cat, nil
}

// RefreshAll refreshes the catalogs of all satellite bundles, fetching
// independent sources concurrently. It returns the catalogs that succeeded
// keyed by bundle slug, plus any per-bundle fetch errors; a single failing
// source never blocks the others.
func (c *Cache) RefreshAll(ctx context.Context, bundles []config.Bundle, mode Mode) (map[string]Catalog, []error) {
	catalogs := make(map[string]Catalog)
	var errs []error
	var mu sync.Mutex
	var wg sync.WaitGroup

	for _, bundle := range bundles {
		if bundle.Kind != config.KindSatellite {
			continue
		}
		wg.Add(1)
		go func(bundle config.Bundle) {
			defer wg.Done()
			cat, err := c.Get(ctx, bundle, mode)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, err)
				return
			}
			catalogs[bundle.Slug] = cat
		}(bundle)
	}
	wg.Wait()
	return catalogs, errs
}

// ReadCached returns the cached catalog for a bundle without consulting the
// source, or ErrNoCatalog when no readable artifact exists.
func (c *Cache) ReadCached(bundleSlug string) (Catalog, error) {
	return readCatalog(c.Path(bundleSlug))
}

// ErrNoCatalog is returned when a bundle has no cached catalog artifact.
var ErrNoCatalog = errors.New("no cached catalog")

func readCatalog(path string) (Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Catalog{}, fmt.Errorf("%w: %s", ErrNoCatalog, path)
		}
		return Catalog{}, fmt.Errorf("catalog: read %s: %w", path, err)
	}
	var cat Catalog
	if err := json.Unmarshal(data, &cat); err != nil {
		return Catalog{}, fmt.Errorf("catalog: parse %s: %w", path, err)
	}
	return cat, nil
}
