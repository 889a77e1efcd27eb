// Package reconcile validates externally submitted feed requests and applies
// them to the request store with idempotent outcomes. Payloads are untrusted:
// everything is checked and converted into a typed record at this boundary
// before it touches the canonicalization and identity pipeline.
package reconcile

import (
	"context"
	"errors"
	"fmt"

	json "github.com/goccy/go-json"

	"github.com/skypass/skypass/internal/catalog"
	"github.com/skypass/skypass/internal/config"
	"github.com/skypass/skypass/internal/manifest"
	"github.com/skypass/skypass/internal/selection"
	"github.com/skypass/skypass/internal/slug"
	"github.com/skypass/skypass/internal/store"
	"github.com/skypass/skypass/internal/telemetry"
)

// payloadVersion is the only accepted payload schema version.
const payloadVersion = "1"

// OutcomeKind discriminates the result of one reconciliation.
type OutcomeKind string

const (
	// OutcomeCreated means a new record was persisted.
	OutcomeCreated OutcomeKind = "created"

	// OutcomeDuplicate means an identical record already existed; the store
	// was refreshed but nothing new was created.
	OutcomeDuplicate OutcomeKind = "duplicate"

	// OutcomeAlreadyFulfilled means the published manifest already contains
	// this exact artifact; no store write was needed.
	OutcomeAlreadyFulfilled OutcomeKind = "already-fulfilled"

	// OutcomeRejected means the payload failed validation and was not
	// persisted.
	OutcomeRejected OutcomeKind = "rejected"

	// OutcomeFailed means persistence exhausted its retries. Unlike a
	// rejection this is an operational failure, not a bad payload.
	OutcomeFailed OutcomeKind = "failed"
)

// Outcome is the full result of one reconciliation. It, not the raw payload,
// drives any external status reporting.
type Outcome struct {
	Kind       OutcomeKind
	Detail     string
	RequestKey string

	// ArtifactPath is set for already-fulfilled outcomes: the manifest path
	// of the existing artifact.
	ArtifactPath string

	// BundleMismatch is set when a declared bundle accompanied the payload
	// and disagreed with it. Non-fatal; the payload's bundle wins, but the
	// disagreement must stay visible downstream.
	BundleMismatch bool
}

// OK reports whether the request is satisfied (persisted, already stored, or
// already published).
func (o Outcome) OK() bool {
	switch o.Kind {
	case OutcomeCreated, OutcomeDuplicate, OutcomeAlreadyFulfilled:
		return true
	}
	return false
}

// Payload is the external request document. Lat/Lon are pointers so that a
// missing field is distinguishable from zero (a valid coordinate).
type Payload struct {
	Version          string   `json:"version"`
	Name             string   `json:"name"`
	Lat              *float64 `json:"lat"`
	Lon              *float64 `json:"lon"`
	ElevationM       float64  `json:"elevation_m"`
	Slug             string   `json:"slug"`
	BundleSlug       string   `json:"bundle_slug"`
	SelectedNoradIDs []int    `json:"selected_norad_ids"`
	RequestedBy      string   `json:"requested_by"`
}

// Reconciler applies external payloads against the request store.
type Reconciler struct {
	Config   *config.Config
	Store    store.Store
	Catalogs *catalog.Cache

	// ManifestPath locates the previously published manifest, consulted for
	// already-fulfilled detection. Empty or missing skips the check.
	ManifestPath string

	Retry     store.RetryPolicy
	Telemetry *telemetry.Emitter
}

// Apply validates raw as a request payload, canonicalizes it, computes its
// identity, and upserts it into the store. declaredBundle is an optional,
// separately supplied bundle slug (from a structured form field); when it
// disagrees with the JSON payload, the payload is authoritative and the
// mismatch is flagged on the outcome.
func (r *Reconciler) Apply(ctx context.Context, raw []byte, declaredBundle string) Outcome {
	out := r.apply(ctx, raw, declaredBundle)
	_ = r.Telemetry.Emit(telemetry.Event{
		Kind:   telemetry.KindRequestOutcome,
		Feed:   out.RequestKey,
		Bundle: declaredBundle,
		Data:   map[string]any{"outcome": string(out.Kind), "detail": out.Detail, "bundle_mismatch": out.BundleMismatch},
	})
	return out
}

func (r *Reconciler) apply(ctx context.Context, raw []byte, declaredBundle string) Outcome {
	var p Payload
	if err := json.Unmarshal(raw, &p); err != nil {
		return rejected("malformed payload: " + err.Error())
	}
	if p.Version != "" && p.Version != payloadVersion {
		return rejected("unsupported payload version " + p.Version)
	}

	mismatch := declaredBundle != "" && declaredBundle != p.BundleSlug

	bundle := r.Config.FindBundle(p.BundleSlug)
	if bundle == nil {
		return rejectedMismatch("unknown bundle slug "+p.BundleSlug, mismatch)
	}
	if !r.Config.RequesterAllowed(p.RequestedBy) {
		return rejectedMismatch("requester not in allowlist", mismatch)
	}

	lat, lon, detail, ok := r.resolveCoordinates(p)
	if !ok {
		return rejectedMismatch(detail, mismatch)
	}
	if p.Slug != "" && !config.IsSlug(p.Slug) {
		return rejectedMismatch("invalid slug "+p.Slug, mismatch)
	}
	for _, id := range p.SelectedNoradIDs {
		if id <= 0 {
			return rejectedMismatch("selected_norad_ids must be positive", mismatch)
		}
	}

	normalized := slug.NormalizeSelection(p.SelectedNoradIDs)
	if len(normalized) > r.Config.RequestDefaults.MaxSatellitesPerRequest {
		return rejectedMismatch(
			fmt.Sprintf("selection of %d satellites exceeds maximum %d",
				len(normalized), r.Config.RequestDefaults.MaxSatellitesPerRequest),
			mismatch)
	}

	canonical := r.canonicalize(ctx, *bundle, normalized)
	precision := r.Config.RequestDefaults.SlugPrecisionDecimals
	locSlug := config.ResolveLocationSlug(p.Slug, lat, lon, precision)
	requestKey := slug.RequestFeed(locSlug, bundle.Slug, canonical)

	if path, published := r.alreadyPublished(requestKey); published {
		return Outcome{
			Kind:           OutcomeAlreadyFulfilled,
			Detail:         "artifact already published at " + path,
			RequestKey:     requestKey,
			ArtifactPath:   path,
			BundleMismatch: mismatch,
		}
	}

	rec := store.Record{
		RequestKey:       requestKey,
		LocationSlug:     locSlug,
		LocationKey:      slug.Location(lat, lon, precision),
		BundleSlug:       bundle.Slug,
		Lat:              lat,
		Lon:              lon,
		ElevationM:       p.ElevationM,
		Name:             p.Name,
		SelectedNoradIDs: canonical,
		RequestedBy:      p.RequestedBy,
	}

	_, created, err := store.UpsertWithRetry(ctx, r.Store, rec, r.Retry)
	switch {
	case errors.Is(err, store.ErrSelectionMismatch):
		// The key encodes the selection, so a mismatch under the same key is
		// an upstream computation bug, reported as a validation failure.
		return Outcome{Kind: OutcomeRejected, Detail: err.Error(), RequestKey: requestKey, BundleMismatch: mismatch}
	case err != nil:
		return Outcome{Kind: OutcomeFailed, Detail: err.Error(), RequestKey: requestKey, BundleMismatch: mismatch}
	case created:
		return Outcome{Kind: OutcomeCreated, Detail: "request persisted", RequestKey: requestKey, BundleMismatch: mismatch}
	default:
		return Outcome{Kind: OutcomeDuplicate, Detail: "identical request already stored", RequestKey: requestKey, BundleMismatch: mismatch}
	}
}

// resolveCoordinates returns the request coordinates: explicit lat/lon when
// present, otherwise recovered from a pre-supplied location slug.
func (r *Reconciler) resolveCoordinates(p Payload) (lat, lon float64, detail string, ok bool) {
	switch {
	case p.Lat != nil && p.Lon != nil:
		lat, lon = *p.Lat, *p.Lon
	case p.Slug != "":
		var parsed bool
		lat, lon, parsed = slug.ParseLocation(p.Slug)
		if !parsed {
			return 0, 0, "lat/lon missing and slug " + p.Slug + " is not coordinate-derived", false
		}
	default:
		return 0, 0, "lat and lon are required", false
	}
	if lat < -90 || lat > 90 {
		return 0, 0, fmt.Sprintf("lat %v out of range [-90, 90]", lat), false
	}
	if lon < -180 || lon > 180 {
		return 0, 0, fmt.Sprintf("lon %v out of range [-180, 180]", lon), false
	}
	return lat, lon, "", true
}

// canonicalize applies the selection rules for the bundle. Planetary bundles
// never carry a selection; satellite bundles canonicalize against the cached
// catalog when one is available.
func (r *Reconciler) canonicalize(ctx context.Context, bundle config.Bundle, normalized []int) []int {
	if bundle.Kind == config.KindPlanetary || len(normalized) == 0 {
		return nil
	}
	cat, err := r.Catalogs.Get(ctx, bundle, catalog.StaleOnly)
	if err != nil {
		// Catalog source down: pass the selection through sorted and
		// deduplicated, same as the truncated case.
		return normalized
	}
	return selection.Canonicalize(normalized, selection.Catalog{
		Available: cat.AvailableIDs(),
		Truncated: cat.Truncated,
	})
}

// alreadyPublished reports whether the current manifest lists the artifact
// for a request key, returning its path when it does.
func (r *Reconciler) alreadyPublished(requestKey string) (string, bool) {
	if r.ManifestPath == "" {
		return "", false
	}
	m, err := manifest.Read(r.ManifestPath)
	if err != nil {
		return "", false
	}
	path := "feeds/" + requestKey + ".ics"
	if _, ok := m.FindByPath(path); ok {
		return path, true
	}
	return "", false
}

func rejected(detail string) Outcome {
	return Outcome{Kind: OutcomeRejected, Detail: detail}
}

func rejectedMismatch(detail string, mismatch bool) Outcome {
	return Outcome{Kind: OutcomeRejected, Detail: detail, BundleMismatch: mismatch}
}
