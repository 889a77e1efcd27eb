package reconcile

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/skypass/skypass/internal/catalog"
	"github.com/skypass/skypass/internal/config"
	"github.com/skypass/skypass/internal/store"
)

// memStore is an in-memory Store capturing reconciler writes.
type memStore struct {
	mu      sync.Mutex
	recs    map[string]store.Record
	upserts int
	fail    error
}

func newMemStore() *memStore {
	return &memStore{recs: make(map[string]store.Record)}
}

func (m *memStore) Upsert(ctx context.Context, rec store.Record) (store.Record, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.upserts++
	if m.fail != nil {
		return store.Record{}, false, m.fail
	}
	existing, ok := m.recs[rec.RequestKey]
	if ok {
		if len(existing.SelectedNoradIDs) != len(rec.SelectedNoradIDs) {
			return store.Record{}, false, store.ErrSelectionMismatch
		}
		return existing, false, nil
	}
	rec.CreatedAt = time.Now().UTC()
	m.recs[rec.RequestKey] = rec
	return rec, true, nil
}

func (m *memStore) FindByKey(ctx context.Context, key string) (store.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.recs[key]
	if !ok {
		return store.Record{}, store.ErrNotFound
	}
	return rec, nil
}

func (m *memStore) ListAll(ctx context.Context) ([]store.Record, error) { return nil, nil }
func (m *memStore) MarkFulfilled(ctx context.Context, key string, at time.Time) error {
	return nil
}
func (m *memStore) Reset(ctx context.Context) error { return nil }
func (m *memStore) Close() error                    { return nil }

func testConfig() *config.Config {
	cfg := &config.Config{
		Bundles: []config.Bundle{
			{Slug: "iss", Name: "ISS", Kind: config.KindSatellite, NoradIDs: []int{25544}},
			{Slug: "stations", Name: "Space Stations", Kind: config.KindSatellite, SourceGroup: "stations"},
			{Slug: "planets", Name: "Planets", Kind: config.KindPlanetary, PlanetTargets: []string{"venus"}},
		},
	}
	cfg.RequestDefaults.SlugPrecisionDecimals = 4
	cfg.RequestDefaults.MaxSatellitesPerRequest = 3
	return cfg
}

func newReconciler(t *testing.T, st store.Store) *Reconciler {
	t.Helper()
	return &Reconciler{
		Config: testConfig(),
		Store:  st,
		Catalogs: &catalog.Cache{
			Dir: filepath.Join(t.TempDir(), "catalogs"),
			TTL: time.Hour,
			Source: catalog.SourceFunc(func(ctx context.Context, bundle config.Bundle) ([]catalog.Entry, error) {
				return []catalog.Entry{
					{NoradID: 20580, Name: "HST"},
					{NoradID: 25544, Name: "ISS (ZARYA)"},
					{NoradID: 48274, Name: "CSS (TIANHE)"},
				}, nil
			}),
		},
		Retry: store.RetryPolicy{MaxAttempts: 2},
	}
}

func TestApplyCreates(t *testing.T) {
	t.Parallel()

	st := newMemStore()
	r := newReconciler(t, st)

	payload := []byte(`{"version": "1", "lat": 40.7128, "lon": -74.0060, "elevation_m": 10, "bundle_slug": "iss", "name": "New York City", "requested_by": "octocat"}`)
	out := r.Apply(context.Background(), payload, "")

	if out.Kind != OutcomeCreated {
		t.Fatalf("kind = %q (%s), want created", out.Kind, out.Detail)
	}
	if out.RequestKey != "lat40p7128_lonm74p0060--iss" {
		t.Errorf("request key = %q", out.RequestKey)
	}
	if !out.OK() {
		t.Error("created outcome should be OK")
	}

	rec, err := st.FindByKey(context.Background(), out.RequestKey)
	if err != nil {
		t.Fatal(err)
	}
	if rec.Lat != 40.7128 || rec.Lon != -74.0060 || rec.ElevationM != 10 {
		t.Errorf("stored coords = (%v, %v, %vm)", rec.Lat, rec.Lon, rec.ElevationM)
	}
	if rec.BundleSlug != "iss" || rec.Name != "New York City" || rec.RequestedBy != "octocat" {
		t.Errorf("stored record = %+v", rec)
	}
}

func TestApplyDuplicate(t *testing.T) {
	t.Parallel()

	r := newReconciler(t, newMemStore())
	payload := []byte(`{"lat": 40.7128, "lon": -74.0060, "bundle_slug": "iss"}`)

	if out := r.Apply(context.Background(), payload, ""); out.Kind != OutcomeCreated {
		t.Fatalf("first apply = %q (%s)", out.Kind, out.Detail)
	}
	out := r.Apply(context.Background(), payload, "")
	if out.Kind != OutcomeDuplicate {
		t.Fatalf("second apply = %q, want duplicate", out.Kind)
	}
	if !out.OK() {
		t.Error("duplicate outcome should be OK")
	}
}

func TestApplyCoordinatesFromSlug(t *testing.T) {
	t.Parallel()

	st := newMemStore()
	r := newReconciler(t, st)

	payload := []byte(`{"slug": "lat40p7128_lonm74p0060", "bundle_slug": "iss"}`)
	out := r.Apply(context.Background(), payload, "")
	if out.Kind != OutcomeCreated {
		t.Fatalf("kind = %q (%s)", out.Kind, out.Detail)
	}

	rec, err := st.FindByKey(context.Background(), out.RequestKey)
	if err != nil {
		t.Fatal(err)
	}
	if rec.Lat != 40.7128 || rec.Lon != -74.0060 {
		t.Errorf("coords recovered from slug = (%v, %v)", rec.Lat, rec.Lon)
	}
}

func TestApplySelectionCanonicalization(t *testing.T) {
	t.Parallel()

	st := newMemStore()
	r := newReconciler(t, st)

	// A proper subset keeps its digest in the key.
	payload := []byte(`{"lat": 1, "lon": 1, "bundle_slug": "stations", "selected_norad_ids": [25544, 20580, 25544]}`)
	out := r.Apply(context.Background(), payload, "")
	if out.Kind != OutcomeCreated {
		t.Fatalf("kind = %q (%s)", out.Kind, out.Detail)
	}
	if out.RequestKey != "lat1p0000_lon1p0000--stations--sel-34dbd882" {
		t.Errorf("request key = %q", out.RequestKey)
	}

	// Selecting the whole catalog collapses to the default identity.
	payload = []byte(`{"lat": 2, "lon": 2, "bundle_slug": "stations", "selected_norad_ids": [48274, 25544, 20580]}`)
	out = r.Apply(context.Background(), payload, "")
	if out.Kind != OutcomeCreated {
		t.Fatalf("kind = %q (%s)", out.Kind, out.Detail)
	}
	if out.RequestKey != "lat2p0000_lon2p0000--stations" {
		t.Errorf("full-catalog key = %q, want no selection suffix", out.RequestKey)
	}
}

func TestApplyPlanetaryDropsSelection(t *testing.T) {
	t.Parallel()

	st := newMemStore()
	r := newReconciler(t, st)

	payload := []byte(`{"lat": 1, "lon": 1, "bundle_slug": "planets", "selected_norad_ids": [25544]}`)
	out := r.Apply(context.Background(), payload, "")
	if out.Kind != OutcomeCreated {
		t.Fatalf("kind = %q (%s)", out.Kind, out.Detail)
	}
	if out.RequestKey != "lat1p0000_lon1p0000--planets" {
		t.Errorf("request key = %q, planetary selections never carry a digest", out.RequestKey)
	}
	rec, _ := st.FindByKey(context.Background(), out.RequestKey)
	if rec.SelectedNoradIDs != nil {
		t.Errorf("stored selection = %v, want none", rec.SelectedNoradIDs)
	}
}

func TestApplyRejections(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		payload string
	}{
		{"malformed json", `{`},
		{"unsupported version", `{"version": "2", "lat": 1, "lon": 1, "bundle_slug": "iss"}`},
		{"unknown bundle", `{"lat": 1, "lon": 1, "bundle_slug": "ghost"}`},
		{"missing coordinates", `{"bundle_slug": "iss"}`},
		{"lat only", `{"lat": 1, "bundle_slug": "iss"}`},
		{"lat out of range", `{"lat": 95, "lon": 1, "bundle_slug": "iss"}`},
		{"lon out of range", `{"lat": 1, "lon": 200, "bundle_slug": "iss"}`},
		{"invalid slug", `{"lat": 1, "lon": 1, "slug": "Not A Slug", "bundle_slug": "iss"}`},
		{"non-coordinate slug without coords", `{"slug": "myplace", "bundle_slug": "iss"}`},
		{"negative norad id", `{"lat": 1, "lon": 1, "bundle_slug": "stations", "selected_norad_ids": [-5]}`},
		{"selection over limit", `{"lat": 1, "lon": 1, "bundle_slug": "stations", "selected_norad_ids": [1, 2, 3, 4]}`},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			st := newMemStore()
			r := newReconciler(t, st)
			out := r.Apply(context.Background(), []byte(tt.payload), "")
			if out.Kind != OutcomeRejected {
				t.Errorf("kind = %q (%s), want rejected", out.Kind, out.Detail)
			}
			if out.OK() {
				t.Error("rejected outcome must not be OK")
			}
			if st.upserts != 0 {
				t.Errorf("rejected payload must not touch the store, upserts = %d", st.upserts)
			}
		})
	}
}

func TestApplyAllowlist(t *testing.T) {
	t.Parallel()

	r := newReconciler(t, newMemStore())
	r.Config.AllowedRequesters = []string{"octocat"}

	denied := r.Apply(context.Background(), []byte(`{"lat": 1, "lon": 1, "bundle_slug": "iss", "requested_by": "stranger"}`), "")
	if denied.Kind != OutcomeRejected {
		t.Errorf("stranger = %q, want rejected", denied.Kind)
	}

	allowed := r.Apply(context.Background(), []byte(`{"lat": 1, "lon": 1, "bundle_slug": "iss", "requested_by": "OctoCat"}`), "")
	if allowed.Kind != OutcomeCreated {
		t.Errorf("listed requester = %q (%s), want created", allowed.Kind, allowed.Detail)
	}
}

func TestApplyBundleMismatchFlag(t *testing.T) {
	t.Parallel()

	r := newReconciler(t, newMemStore())

	// The JSON payload is authoritative; the declared bundle only flags drift.
	out := r.Apply(context.Background(), []byte(`{"lat": 1, "lon": 1, "bundle_slug": "iss"}`), "stations")
	if out.Kind != OutcomeCreated {
		t.Fatalf("kind = %q (%s)", out.Kind, out.Detail)
	}
	if !out.BundleMismatch {
		t.Error("mismatch flag should be set")
	}
	if out.RequestKey != "lat1p0000_lon1p0000--iss" {
		t.Errorf("request key = %q, payload bundle must win", out.RequestKey)
	}

	agreeing := r.Apply(context.Background(), []byte(`{"lat": 2, "lon": 2, "bundle_slug": "iss"}`), "iss")
	if agreeing.BundleMismatch {
		t.Error("agreeing declared bundle must not flag a mismatch")
	}
}

func TestApplySelectionMismatchRejected(t *testing.T) {
	t.Parallel()

	st := newMemStore()
	// Seed a record under the key the payload will compute, with a different
	// stored selection, simulating a digest collision.
	st.recs["lat1p0000_lon1p0000--iss"] = store.Record{
		RequestKey:       "lat1p0000_lon1p0000--iss",
		SelectedNoradIDs: []int{25544},
	}
	r := newReconciler(t, st)

	out := r.Apply(context.Background(), []byte(`{"lat": 1, "lon": 1, "bundle_slug": "iss"}`), "")
	if out.Kind != OutcomeRejected {
		t.Errorf("kind = %q, selection mismatch should reject", out.Kind)
	}
	if st.upserts != 1 {
		t.Errorf("upserts = %d, mismatches must not be retried", st.upserts)
	}
}

func TestApplyPersistenceFailure(t *testing.T) {
	t.Parallel()

	st := newMemStore()
	st.fail = errors.New("database is locked")
	r := newReconciler(t, st)

	out := r.Apply(context.Background(), []byte(`{"lat": 1, "lon": 1, "bundle_slug": "iss"}`), "")
	if out.Kind != OutcomeFailed {
		t.Fatalf("kind = %q, want failed", out.Kind)
	}
	if out.OK() {
		t.Error("failed outcome must not be OK")
	}
	if st.upserts != 2 {
		t.Errorf("upserts = %d, want the configured 2 attempts", st.upserts)
	}
}

func TestApplyAlreadyFulfilled(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	manifestPath := filepath.Join(dir, "index.json")
	doc := `{"feeds": [{"path": "feeds/lat1p0000_lon1p0000--iss.ics", "location_slug": "lat1p0000_lon1p0000", "bundle_slug": "iss"}]}`
	if err := os.WriteFile(manifestPath, []byte(doc), 0o644); err != nil {
		t.Fatal(err)
	}

	st := newMemStore()
	r := newReconciler(t, st)
	r.ManifestPath = manifestPath

	out := r.Apply(context.Background(), []byte(`{"lat": 1, "lon": 1, "bundle_slug": "iss"}`), "")
	if out.Kind != OutcomeAlreadyFulfilled {
		t.Fatalf("kind = %q (%s), want already-fulfilled", out.Kind, out.Detail)
	}
	if out.ArtifactPath != "feeds/lat1p0000_lon1p0000--iss.ics" {
		t.Errorf("artifact path = %q", out.ArtifactPath)
	}
	if !out.OK() {
		t.Error("already-fulfilled outcome should be OK")
	}
	if st.upserts != 0 {
		t.Errorf("upserts = %d, published requests need no store write", st.upserts)
	}
}

func TestApplyMissingManifestIsNotFulfilled(t *testing.T) {
	t.Parallel()

	r := newReconciler(t, newMemStore())
	r.ManifestPath = filepath.Join(t.TempDir(), "absent.json")

	out := r.Apply(context.Background(), []byte(`{"lat": 1, "lon": 1, "bundle_slug": "iss"}`), "")
	if out.Kind != OutcomeCreated {
		t.Errorf("kind = %q (%s), missing manifest should fall through to creation", out.Kind, out.Detail)
	}
}
