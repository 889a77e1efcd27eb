package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"
)

func openTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := Open(context.Background(), filepath.Join(t.TempDir(), "requests.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func testRecord() Record {
	return Record{
		RequestKey:       "lat40p7128_lonm74p0060--stations--sel-34dbd882",
		LocationSlug:     "lat40p7128_lonm74p0060",
		LocationKey:      "lat40p7128_lonm74p0060",
		BundleSlug:       "stations",
		Lat:              40.7128,
		Lon:              -74.0060,
		Name:             "New York City",
		SelectedNoradIDs: []int{20580, 25544},
		RequestedBy:      "octocat",
	}
}

func TestUpsertCreates(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	stored, created, err := s.Upsert(ctx, testRecord())
	if err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if !created {
		t.Error("first upsert should report created=true")
	}
	if stored.CreatedAt.IsZero() || stored.LastSeen.IsZero() {
		t.Error("timestamps should be stamped on insert")
	}
	if stored.Fulfilled() {
		t.Error("new record should not be fulfilled")
	}
}

func TestUpsertIsIdempotent(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	first, _, err := s.Upsert(ctx, testRecord())
	if err != nil {
		t.Fatalf("first Upsert: %v", err)
	}

	second, created, err := s.Upsert(ctx, testRecord())
	if err != nil {
		t.Fatalf("second Upsert: %v", err)
	}
	if created {
		t.Error("resubmission should report created=false")
	}
	if second.RequestKey != first.RequestKey {
		t.Errorf("request key changed across upserts: %q vs %q", second.RequestKey, first.RequestKey)
	}
	if second.LastSeen.Before(first.LastSeen) {
		t.Error("last_seen should not move backwards")
	}

	all, err := s.ListAll(ctx)
	if err != nil {
		t.Fatalf("ListAll: %v", err)
	}
	if len(all) != 1 {
		t.Fatalf("got %d records, want 1", len(all))
	}
}

func TestUpsertSelectionMismatch(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	if _, _, err := s.Upsert(ctx, testRecord()); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	conflicting := testRecord()
	conflicting.SelectedNoradIDs = []int{25544}
	_, _, err := s.Upsert(ctx, conflicting)
	if !errors.Is(err, ErrSelectionMismatch) {
		t.Errorf("err = %v, want ErrSelectionMismatch", err)
	}

	// The stored record is untouched.
	stored, err := s.FindByKey(ctx, testRecord().RequestKey)
	if err != nil {
		t.Fatalf("FindByKey: %v", err)
	}
	if len(stored.SelectedNoradIDs) != 2 {
		t.Errorf("stored selection = %v, want original pair", stored.SelectedNoradIDs)
	}
}

func TestUpsertMergeFillsEmptyFields(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	anonymous := testRecord()
	anonymous.Name = ""
	anonymous.RequestedBy = ""
	if _, _, err := s.Upsert(ctx, anonymous); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	stored, _, err := s.Upsert(ctx, testRecord())
	if err != nil {
		t.Fatalf("merge Upsert: %v", err)
	}
	if stored.Name != "New York City" {
		t.Errorf("name = %q, want filled from resubmission", stored.Name)
	}
	if stored.RequestedBy != "octocat" {
		t.Errorf("requested_by = %q, want filled from resubmission", stored.RequestedBy)
	}

	// Existing non-empty values win over later submissions.
	renamed := testRecord()
	renamed.Name = "NYC"
	stored, _, err = s.Upsert(ctx, renamed)
	if err != nil {
		t.Fatalf("renamed Upsert: %v", err)
	}
	if stored.Name != "New York City" {
		t.Errorf("name = %q, existing value should win", stored.Name)
	}
}

func TestFindByKeyNotFound(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)

	_, err := s.FindByKey(context.Background(), "nope")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestListAllOrder(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	keys := []string{"b--iss", "a--stations", "a--iss"}
	for _, key := range keys {
		rec := testRecord()
		rec.RequestKey = key
		rec.LocationSlug = key[:1]
		rec.BundleSlug = key[3:]
		if _, _, err := s.Upsert(ctx, rec); err != nil {
			t.Fatalf("Upsert %q: %v", key, err)
		}
	}

	all, err := s.ListAll(ctx)
	if err != nil {
		t.Fatalf("ListAll: %v", err)
	}
	want := []string{"a--iss", "a--stations", "b--iss"}
	if len(all) != len(want) {
		t.Fatalf("got %d records, want %d", len(all), len(want))
	}
	for i, rec := range all {
		if rec.RequestKey != want[i] {
			t.Errorf("all[%d].RequestKey = %q, want %q", i, rec.RequestKey, want[i])
		}
	}
}

func TestMarkFulfilled(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	rec := testRecord()
	if _, _, err := s.Upsert(ctx, rec); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	if err := s.MarkFulfilled(ctx, rec.RequestKey, at); err != nil {
		t.Fatalf("MarkFulfilled: %v", err)
	}

	stored, err := s.FindByKey(ctx, rec.RequestKey)
	if err != nil {
		t.Fatalf("FindByKey: %v", err)
	}
	if !stored.Fulfilled() {
		t.Fatal("record should be fulfilled")
	}
	if !stored.FulfilledAt.Equal(at) {
		t.Errorf("fulfilled_at = %v, want %v", stored.FulfilledAt, at)
	}

	// Unknown keys are a no-op, not an error.
	if err := s.MarkFulfilled(ctx, "ghost", at); err != nil {
		t.Errorf("MarkFulfilled unknown key: %v", err)
	}
}

func TestMarkFulfilledStampsOnce(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	rec := testRecord()
	if _, _, err := s.Upsert(ctx, rec); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	first := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	if err := s.MarkFulfilled(ctx, rec.RequestKey, first); err != nil {
		t.Fatalf("MarkFulfilled: %v", err)
	}
	if err := s.MarkFulfilled(ctx, rec.RequestKey, first.Add(24*time.Hour)); err != nil {
		t.Fatalf("MarkFulfilled second: %v", err)
	}

	stored, err := s.FindByKey(ctx, rec.RequestKey)
	if err != nil {
		t.Fatalf("FindByKey: %v", err)
	}
	if !stored.FulfilledAt.Equal(first) {
		t.Errorf("fulfilled_at = %v, want the first stamp %v", stored.FulfilledAt, first)
	}
}

func TestReset(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	if _, _, err := s.Upsert(ctx, testRecord()); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if err := s.Reset(ctx); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	all, err := s.ListAll(ctx)
	if err != nil {
		t.Fatalf("ListAll: %v", err)
	}
	if len(all) != 0 {
		t.Errorf("got %d records after reset, want 0", len(all))
	}
	// Reset of an empty store succeeds too.
	if err := s.Reset(ctx); err != nil {
		t.Errorf("second Reset: %v", err)
	}
}

func TestOpenCreatesParentDirs(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "nested", "state", "requests.db")
	s, err := Open(context.Background(), path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	if _, _, err := s.Upsert(context.Background(), testRecord()); err != nil {
		t.Errorf("Upsert into nested path: %v", err)
	}
}
