package manifest

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"time"

	json "github.com/goccy/go-json"

	"github.com/skypass/skypass/internal/catalog"
	"github.com/skypass/skypass/internal/config"
	"github.com/skypass/skypass/internal/passes"
	"github.com/skypass/skypass/internal/publish"
	"github.com/skypass/skypass/internal/selection"
	"github.com/skypass/skypass/internal/slug"
	"github.com/skypass/skypass/internal/store"
	"github.com/skypass/skypass/internal/telemetry"
)

// Triple identifies the logical feed behind an artifact path.
type Triple struct {
	LocationSlug    string
	BundleSlug      string
	SelectionDigest string
}

func (t Triple) String() string {
	if t.SelectionDigest == "" {
		return t.LocationSlug + "/" + t.BundleSlug
	}
	return t.LocationSlug + "/" + t.BundleSlug + "/sel-" + t.SelectionDigest
}

// CollisionError reports two distinct logical feeds mapping to one artifact
// path. This is a latent bug in the identity scheme, not a recoverable
// runtime condition: the build must abort rather than publish an ambiguous
// mapping.
type CollisionError struct {
	Path string
	A, B Triple
}

func (e *CollisionError) Error() string {
	return fmt.Sprintf("manifest: artifact path collision at %s: %s vs %s", e.Path, e.A, e.B)
}

// Encoder turns computed events into the bytes of one calendar artifact.
// The actual calendar text format is external to this package.
type Encoder interface {
	EncodeFeed(name string, refreshHours int, events []passes.Event) ([]byte, error)
}

// EncoderFunc adapts a function to the Encoder interface.
type EncoderFunc func(name string, refreshHours int, events []passes.Event) ([]byte, error)

// EncodeFeed implements Encoder.
func (f EncoderFunc) EncodeFeed(name string, refreshHours int, events []passes.Event) ([]byte, error) {
	return f(name, refreshHours, events)
}

// JSONEncoder is a fallback Encoder that serializes the feed as JSON. It is
// used by tests and by deployments that render calendars downstream.
func JSONEncoder() Encoder {
	return EncoderFunc(func(name string, refreshHours int, events []passes.Event) ([]byte, error) {
		doc := struct {
			Name         string         `json:"name"`
			RefreshHours int            `json:"refresh_hours"`
			Events       []passes.Event `json:"events"`
		}{name, refreshHours, events}
		return json.MarshalIndent(doc, "", "  ")
	})
}

// Builder runs one full publish cycle. All collaborators are injected; the
// builder owns only the aggregation, collision, ordering, and atomic-publish
// rules.
type Builder struct {
	Config   *config.Config
	Store    store.Store
	Catalogs *catalog.Cache
	Computer passes.Computer
	Encoder  Encoder
	OutDir   string

	Telemetry *telemetry.Emitter
	Version   string
	GitSHA    string

	// Workers bounds the parallel pass computation. Zero uses a default.
	Workers int

	// Now is replaceable for tests. Nil means time.Now.
	Now func() time.Time
}

// feedPlan is one artifact scheduled for this build.
type feedPlan struct {
	loc       passes.Location
	bundle    config.Bundle
	selected  []int // canonical selection, nil for default
	feedSlug  string
	path      string // manifest-relative, forward slashes
	featured  bool
	requested bool

	requestKeys []string // store keys fulfilled by this artifact
	skipped     bool
	events      []passes.Event
}

func (p *feedPlan) triple() Triple {
	t := Triple{LocationSlug: p.loc.Slug, BundleSlug: p.bundle.Slug}
	if len(p.selected) > 0 {
		t.SelectionDigest = slug.SelectionHash(p.selected)
	}
	return t
}

func (b *Builder) now() time.Time {
	if b.Now != nil {
		return b.Now()
	}
	return time.Now()
}

// Build executes the publish cycle and returns the manifest it wrote.
// Featured-feed failures abort before anything replaces the previous publish;
// requested-feed failures degrade by omitting the affected feed.
func (b *Builder) Build(ctx context.Context) (*Manifest, error) {
	buildTime := b.now().UTC()
	_ = b.Telemetry.Emit(telemetry.Event{Kind: telemetry.KindBuildStart})

	records, err := b.Store.ListAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("manifest: load requests: %w", err)
	}

	featuredBundles := b.Config.ResolveFeaturedBundles()
	catalogs, failedBundles, err := b.refreshCatalogs(ctx, featuredBundles, records)
	if err != nil {
		_ = b.Telemetry.Emit(telemetry.Event{Kind: telemetry.KindBuildAborted, Data: err.Error()})
		return nil, err
	}

	plans, err := b.plan(records, featuredBundles, catalogs, failedBundles)
	if err != nil {
		_ = b.Telemetry.Emit(telemetry.Event{Kind: telemetry.KindBuildAborted, Data: err.Error()})
		return nil, err
	}

	if err := b.compute(ctx, plans, buildTime); err != nil {
		_ = b.Telemetry.Emit(telemetry.Event{Kind: telemetry.KindBuildAborted, Data: err.Error()})
		return nil, err
	}

	// Artifacts first, manifest last: the manifest is read first by clients
	// and must never reference a file that is not already in place.
	if err := b.writeArtifacts(plans); err != nil {
		_ = b.Telemetry.Emit(telemetry.Event{Kind: telemetry.KindBuildAborted, Data: err.Error()})
		return nil, err
	}

	m := b.assemble(plans, catalogs, records, buildTime)
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("manifest: encode: %w", err)
	}
	manifestPath := filepath.Join(b.OutDir, "feeds", Name)
	if err := publish.WriteFileAtomic(manifestPath, data); err != nil {
		return nil, err
	}
	_ = b.Telemetry.Emit(telemetry.Event{Kind: telemetry.KindManifestWritten, Data: manifestPath})

	// The publish is externally visible now; stamp fulfillment for every
	// request whose artifact made it in. Records stamped by an earlier build
	// keep their time, and skipping them leaves a steady-state rebuild with no
	// database writes at all, which matters when a watcher observes the file.
	fulfilled := make(map[string]bool, len(records))
	for _, rec := range records {
		if rec.Fulfilled() {
			fulfilled[rec.RequestKey] = true
		}
	}
	for _, p := range plans {
		if p.skipped {
			continue
		}
		for _, key := range p.requestKeys {
			if fulfilled[key] {
				continue
			}
			if err := b.Store.MarkFulfilled(ctx, key, buildTime); err != nil {
				return nil, err
			}
		}
	}

	_ = b.Telemetry.Emit(telemetry.Event{Kind: telemetry.KindBuildDone, Data: len(m.Feeds)})
	return m, nil
}

// refreshCatalogs brings the catalogs of every needed satellite bundle up to
// date. A fetch failure for a featured bundle aborts; a failure for a bundle
// only requested externally is recorded so its feeds degrade.
func (b *Builder) refreshCatalogs(ctx context.Context, featuredBundles []config.Bundle, records []store.Record) (map[string]catalog.Catalog, map[string]bool, error) {
	featured := make(map[string]bool, len(featuredBundles))
	for _, bundle := range featuredBundles {
		featured[bundle.Slug] = true
	}

	needed := make(map[string]config.Bundle)
	for _, bundle := range featuredBundles {
		if bundle.Kind == config.KindSatellite {
			needed[bundle.Slug] = bundle
		}
	}
	for _, rec := range records {
		if bundle := b.Config.FindBundle(rec.BundleSlug); bundle != nil && bundle.Kind == config.KindSatellite {
			needed[bundle.Slug] = *bundle
		}
	}

	catalogs := make(map[string]catalog.Catalog, len(needed))
	failed := make(map[string]bool)
	bundles := make([]config.Bundle, 0, len(needed))
	for _, bundle := range needed {
		bundles = append(bundles, bundle)
	}
	got, errs := b.Catalogs.RefreshAll(ctx, bundles, catalog.StaleOnly)
	for bundleSlug, cat := range got {
		catalogs[bundleSlug] = cat
		_ = b.Telemetry.Emit(telemetry.Event{Kind: telemetry.KindCatalogRefresh, Bundle: bundleSlug})
	}
	for _, err := range errs {
		var fe *catalog.FetchError
		if !errors.As(err, &fe) {
			return nil, nil, err
		}
		if featured[fe.BundleSlug] {
			return nil, nil, fmt.Errorf("manifest: featured bundle %s: %w", fe.BundleSlug, fe)
		}
		failed[fe.BundleSlug] = true
		_ = b.Telemetry.Emit(telemetry.Event{Kind: telemetry.KindFeedSkipped, Bundle: fe.BundleSlug, Data: fe.Error()})
	}
	return catalogs, failed, nil
}

// plan expands the featured cross product and the stored requests into feed
// plans, merging duplicates and aborting on artifact path collisions.
func (b *Builder) plan(records []store.Record, featuredBundles []config.Bundle, catalogs map[string]catalog.Catalog, failedBundles map[string]bool) ([]*feedPlan, error) {
	byPath := make(map[string]*feedPlan)
	var order []*feedPlan

	add := func(p *feedPlan) error {
		existing, ok := byPath[p.path]
		if !ok {
			byPath[p.path] = p
			order = append(order, p)
			return nil
		}
		if existing.triple() != p.triple() {
			return &CollisionError{Path: p.path, A: existing.triple(), B: p.triple()}
		}
		// Same logical feed seen twice (a requested location duplicating a
		// featured one). Merge, preferring the featured display metadata.
		existing.requested = existing.requested || p.requested
		existing.featured = existing.featured || p.featured
		if p.featured {
			existing.loc = p.loc
		}
		existing.requestKeys = append(existing.requestKeys, p.requestKeys...)
		return nil
	}

	featuredLocs := make(map[string]config.Location, len(b.Config.FeaturedLocations))
	for _, loc := range b.Config.FeaturedLocations {
		featuredLocs[loc.Slug] = loc
	}

	for _, bundle := range featuredBundles {
		for _, loc := range b.Config.FeaturedLocations {
			p := &feedPlan{
				loc:      locationFromConfig(loc),
				bundle:   bundle,
				feedSlug: slug.Feed(loc.Slug, bundle.Slug),
				featured: true,
			}
			p.path = "feeds/" + p.feedSlug + ".ics"
			if err := add(p); err != nil {
				return nil, err
			}
		}
	}

	precision := b.Config.RequestDefaults.SlugPrecisionDecimals
	for _, rec := range records {
		bundle := b.Config.FindBundle(rec.BundleSlug)
		if bundle == nil {
			// The bundle left the configuration after the request was stored.
			_ = b.Telemetry.Emit(telemetry.Event{Kind: telemetry.KindFeedSkipped, Bundle: rec.BundleSlug, Feed: rec.RequestKey, Data: "unknown bundle"})
			continue
		}
		if failedBundles[bundle.Slug] {
			_ = b.Telemetry.Emit(telemetry.Event{Kind: telemetry.KindFeedSkipped, Bundle: bundle.Slug, Feed: rec.RequestKey, Data: "catalog unavailable"})
			continue
		}

		sel := rec.SelectedNoradIDs
		if bundle.Kind == config.KindPlanetary {
			sel = nil
		} else {
			cat := catalogs[bundle.Slug]
			sel = selection.Canonicalize(sel, selection.Catalog{Available: cat.AvailableIDs(), Truncated: cat.Truncated})
			if len(sel) > b.Config.RequestDefaults.MaxSatellitesPerRequest {
				_ = b.Telemetry.Emit(telemetry.Event{Kind: telemetry.KindFeedSkipped, Bundle: bundle.Slug, Feed: rec.RequestKey, Data: "selection exceeds limit"})
				continue
			}
		}

		locSlug := rec.LocationSlug
		if locSlug == "" {
			locSlug = slug.Location(rec.Lat, rec.Lon, precision)
		}
		loc := passes.Location{
			Slug:       locSlug,
			Name:       rec.Name,
			Lat:        rec.Lat,
			Lon:        rec.Lon,
			ElevationM: rec.ElevationM,
		}
		if loc.Name == "" {
			loc.Name = fmt.Sprintf("Custom (%v, %v)", rec.Lat, rec.Lon)
		}
		// A requested slug colliding with a featured one refers to the
		// featured location.
		if fl, ok := featuredLocs[locSlug]; ok {
			loc = locationFromConfig(fl)
		}

		p := &feedPlan{
			loc:         loc,
			bundle:      *bundle,
			selected:    sel,
			feedSlug:    slug.RequestFeed(locSlug, bundle.Slug, sel),
			requested:   true,
			requestKeys: []string{rec.RequestKey},
		}
		p.path = "feeds/" + p.feedSlug + ".ics"
		if err := add(p); err != nil {
			return nil, err
		}
	}

	return order, nil
}

// compute fans the pass computer out over every plan. A featured plan's
// failure aborts the build; a requested plan degrades to skipped.
func (b *Builder) compute(ctx context.Context, plans []*feedPlan, buildTime time.Time) error {
	jobs := make([]passes.Job, len(plans))
	for i, p := range plans {
		include, overhead := b.Config.Thresholds(p.bundle)
		jobs[i] = passes.Job{
			Location: p.loc,
			Spec: passes.BundleSpec{
				Slug:                            p.bundle.Slug,
				Name:                            p.bundle.Name,
				Kind:                            p.bundle.Kind,
				NoradIDs:                        p.selected,
				PlanetTargets:                   p.bundle.PlanetTargets,
				IncludeIfPeakElevationDeg:       include,
				LabelOverheadIfPeakElevationDeg: overhead,
			},
		}
	}

	results := passes.ComputeAll(ctx, b.Computer, jobs, b.Workers, buildTime, b.Config.Defaults.HorizonDays)
	for i, res := range results {
		p := plans[i]
		if res.Err != nil {
			if p.featured {
				return fmt.Errorf("manifest: featured feed %s: %w", p.feedSlug, res.Err)
			}
			p.skipped = true
			_ = b.Telemetry.Emit(telemetry.Event{Kind: telemetry.KindFeedSkipped, Feed: p.feedSlug, Bundle: p.bundle.Slug, Data: res.Err.Error()})
			continue
		}
		p.events = res.Events
	}
	return nil
}

// writeArtifacts encodes and atomically places every non-skipped feed file.
func (b *Builder) writeArtifacts(plans []*feedPlan) error {
	refreshHours := b.Config.Defaults.RefreshIntervalHours
	for _, p := range plans {
		if p.skipped {
			continue
		}
		name := p.loc.Name + " - " + p.bundle.Name
		data, err := b.Encoder.EncodeFeed(name, refreshHours, p.events)
		if err != nil {
			return fmt.Errorf("manifest: encode feed %s: %w", p.feedSlug, err)
		}
		if err := publish.WriteFileAtomic(filepath.Join(b.OutDir, filepath.FromSlash(p.path)), data); err != nil {
			return err
		}
		_ = b.Telemetry.Emit(telemetry.Event{Kind: telemetry.KindFeedBuilt, Feed: p.feedSlug, Bundle: p.bundle.Slug})
	}
	return nil
}

// assemble produces the manifest document from the built plans.
func (b *Builder) assemble(plans []*feedPlan, catalogs map[string]catalog.Catalog, records []store.Record, buildTime time.Time) *Manifest {
	precision := b.Config.RequestDefaults.SlugPrecisionDecimals
	generatedAt := buildTime.Format(time.RFC3339)

	m := &Manifest{
		GeneratedAt: generatedAt,
		Build:       BuildInfo{Version: b.Version, GitSHA: b.GitSHA},
		RepoURL:     b.Config.ResolveRepoURL(),
		Site:        SiteInfo{Title: b.Config.Site.Title, Description: b.Config.Site.Description},
		Defaults: DefaultsInfo{
			HorizonDays:          b.Config.Defaults.HorizonDays,
			RefreshIntervalHours: b.Config.Defaults.RefreshIntervalHours,
		},
		RequestDefaults: RequestDefaults{
			SlugPrecisionDecimals:   precision,
			MaxSatellitesPerRequest: b.Config.RequestDefaults.MaxSatellitesPerRequest,
			AllowlistEnabled:        len(b.Config.AllowedRequesters) > 0,
		},
	}

	// Bundles: every configured bundle appears, with catalog metadata when a
	// cached artifact exists.
	for _, bundle := range b.Config.Bundles {
		entry := BundleEntry{
			Slug:          bundle.Slug,
			Name:          bundle.Name,
			Kind:          bundle.Kind,
			PlanetTargets: bundle.PlanetTargets,
		}
		if bundle.Kind == config.KindSatellite {
			cat, ok := catalogs[bundle.Slug]
			if !ok {
				if cached, err := b.Catalogs.ReadCached(bundle.Slug); err == nil {
					cat, ok = cached, true
				}
			}
			if ok {
				entry.CatalogAvailable = true
				entry.CatalogPath = "catalog/" + bundle.Slug + ".json"
				entry.SatellitesTotal = cat.Total
				entry.SatellitesTruncated = cat.Truncated
				entry.SatellitesLimit = cat.Limit
			}
		}
		m.Bundles = append(m.Bundles, entry)
		if bundle.Kind == config.KindPlanetary {
			m.Stats.Bundles.Planetary++
		} else {
			m.Stats.Bundles.Satellite++
		}
	}
	m.Stats.Bundles.Total = len(m.Bundles)

	// Deterministic feed order: location slug, then bundle slug, then
	// selection digest. Keeps publishes diff-stable across identical inputs.
	sort.SliceStable(plans, func(i, j int) bool {
		ti, tj := plans[i].triple(), plans[j].triple()
		if ti.LocationSlug != tj.LocationSlug {
			return ti.LocationSlug < tj.LocationSlug
		}
		if ti.BundleSlug != tj.BundleSlug {
			return ti.BundleSlug < tj.BundleSlug
		}
		return ti.SelectionDigest < tj.SelectionDigest
	})

	lastFulfilled := ""
	recByKey := make(map[string]store.Record, len(records))
	for _, rec := range records {
		recByKey[rec.RequestKey] = rec
		if rec.Fulfilled() {
			if ts := rec.FulfilledAt.UTC().Format(time.RFC3339); ts > lastFulfilled {
				lastFulfilled = ts
			}
		}
	}

	requestedLocs := make(map[string]*LocationEntry)
	var requestedOrder []string
	featuredLocSlugs := make(map[string]bool, len(b.Config.FeaturedLocations))
	for _, loc := range b.Config.FeaturedLocations {
		featuredLocSlugs[loc.Slug] = true
	}

	for _, p := range plans {
		if p.skipped {
			continue
		}
		feed := Feed{
			Path:         p.path,
			LocationSlug: p.loc.Slug,
			LocationName: p.loc.Name,
			LocationKey:  slug.Location(p.loc.Lat, p.loc.Lon, precision),
			BundleSlug:   p.bundle.Slug,
			BundleName:   p.bundle.Name,
			BundleKind:   p.bundle.Kind,
			Requested:    p.requested,
		}
		if p.requested {
			// The record's stamp survives across builds; only a request being
			// fulfilled for the first time takes this build's time.
			fulfilledAt := ""
			for _, key := range p.requestKeys {
				rec, ok := recByKey[key]
				if !ok || !rec.Fulfilled() {
					fulfilledAt = generatedAt
					break
				}
				if ts := rec.FulfilledAt.UTC().Format(time.RFC3339); ts > fulfilledAt {
					fulfilledAt = ts
				}
			}
			if fulfilledAt == "" {
				fulfilledAt = generatedAt
			}

			feed.SelectedNoradIDs = p.selected
			feed.FulfilledAt = fulfilledAt
			feed.LocationLat = p.loc.Lat
			feed.LocationLon = p.loc.Lon
			if fulfilledAt > lastFulfilled {
				lastFulfilled = fulfilledAt
			}
			m.Stats.Feeds.Requested++

			if !featuredLocSlugs[p.loc.Slug] {
				if _, seen := requestedLocs[p.loc.Slug]; !seen {
					requestedLocs[p.loc.Slug] = &LocationEntry{
						Slug:            p.loc.Slug,
						Name:            p.loc.Name,
						Lat:             p.loc.Lat,
						Lon:             p.loc.Lon,
						LocationKey:     feed.LocationKey,
						Requested:       true,
						LastFulfilledAt: fulfilledAt,
					}
					requestedOrder = append(requestedOrder, p.loc.Slug)
				}
			}
		}
		m.Feeds = append(m.Feeds, feed)
		if p.bundle.Kind == config.KindPlanetary {
			m.Stats.Feeds.Planetary++
		} else {
			m.Stats.Feeds.Satellite++
		}
	}
	m.Stats.Feeds.Total = len(m.Feeds)

	for _, loc := range b.Config.FeaturedLocations {
		entry := LocationEntry{
			Slug:        loc.Slug,
			Name:        loc.Name,
			Lat:         loc.Lat,
			Lon:         loc.Lon,
			LocationKey: slug.Location(loc.Lat, loc.Lon, precision),
			Featured:    true,
		}
		m.FeaturedLocations = append(m.FeaturedLocations, entry)
		m.Locations = append(m.Locations, entry)
	}
	sort.Slice(requestedOrder, func(i, j int) bool {
		return strings.ToLower(requestedLocs[requestedOrder[i]].Name) < strings.ToLower(requestedLocs[requestedOrder[j]].Name)
	})
	for _, s := range requestedOrder {
		m.Locations = append(m.Locations, *requestedLocs[s])
	}

	m.Stats.Locations.Featured = len(m.FeaturedLocations)
	m.Stats.Locations.Requested = len(requestedOrder)
	m.Stats.Locations.Total = m.Stats.Locations.Featured + m.Stats.Locations.Requested
	m.Stats.LastRequestFulfilledAt = lastFulfilled

	return m
}

func locationFromConfig(loc config.Location) passes.Location {
	return passes.Location{
		Slug:       loc.Slug,
		Name:       loc.Name,
		Lat:        loc.Lat,
		Lon:        loc.Lon,
		ElevationM: loc.ElevationM,
	}
}
