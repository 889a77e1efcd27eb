// Package store persists externally requested feed locations. Records are
// keyed by their canonical request key (location slug + bundle + selection
// digest), which makes every write idempotent: resubmitting the same logical
// request merges into the existing row instead of creating a duplicate.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrSelectionMismatch is returned when an upsert carries the same request
// key as an existing record but a different satellite selection. The key
// already encodes the selection, so this indicates a computation mismatch
// upstream (or a digest collision) and is never silently overwritten.
var ErrSelectionMismatch = errors.New("request key exists with a different selection")

// ErrNotFound is returned by lookups for keys with no stored record.
var ErrNotFound = errors.New("request not found")

// Record is one persisted location request.
type Record struct {
	RequestKey       string
	LocationSlug     string
	LocationKey      string
	BundleSlug       string
	Lat              float64
	Lon              float64
	ElevationM       float64
	Name             string
	SelectedNoradIDs []int
	RequestedBy      string
	CreatedAt        time.Time
	LastSeen         time.Time
	FulfilledAt      time.Time // zero until a build places the artifact
}

// Fulfilled reports whether a build has produced this record's artifact.
func (r Record) Fulfilled() bool {
	return !r.FulfilledAt.IsZero()
}

// Store is the persistence contract for location requests. Implementations
// must make Upsert safe for concurrent writers and must not expose partially
// written rows to readers.
type Store interface {
	// Upsert inserts the record or merges it into the existing row with the
	// same request key. It returns the stored record and whether a new row
	// was created. An existing key with a different selection fails with
	// ErrSelectionMismatch.
	Upsert(ctx context.Context, rec Record) (Record, bool, error)

	// FindByKey returns the record for a request key, or ErrNotFound.
	FindByKey(ctx context.Context, key string) (Record, error)

	// ListAll returns every stored record in deterministic order
	// (location slug, bundle slug, request key).
	ListAll(ctx context.Context) ([]Record, error)

	// MarkFulfilled stamps the record's fulfillment time after its artifact
	// has been durably placed. The stamp is write-once: already-fulfilled
	// records keep their original time. Unknown keys are a no-op.
	MarkFulfilled(ctx context.Context, key string, at time.Time) error

	// Reset deletes every stored record. Featured locations live in
	// configuration and are unaffected.
	Reset(ctx context.Context) error

	Close() error
}

// RetryPolicy bounds the retry loop around contended store writes.
type RetryPolicy struct {
	// MaxAttempts is the total number of tries. Zero value defaults to 3.
	MaxAttempts int

	// Backoff is the base delay between attempts; attempt n waits n times
	// this duration. Zero means immediate retry.
	Backoff time.Duration
}

func (p RetryPolicy) maxAttempts() int {
	if p.MaxAttempts <= 0 {
		return 3
	}
	return p.MaxAttempts
}

// RetryExhaustedError is the terminal failure of a retried write. It is
// distinct from both success and an idempotent no-op so that callers can
// surface "failed after retries" separately from a normal rejection.
type RetryExhaustedError struct {
	Attempts int
	Err      error
}

func (e *RetryExhaustedError) Error() string {
	return fmt.Sprintf("store: write failed after %d attempts: %v", e.Attempts, e.Err)
}

func (e *RetryExhaustedError) Unwrap() error { return e.Err }

// UpsertWithRetry wraps Store.Upsert in a bounded retry loop for transient
// persistence contention. Selection mismatches are validation failures and
// are never retried. Context cancellation stops the loop immediately.
func UpsertWithRetry(ctx context.Context, s Store, rec Record, policy RetryPolicy) (Record, bool, error) {
	max := policy.maxAttempts()
	var lastErr error
	for attempt := 1; attempt <= max; attempt++ {
		stored, created, err := s.Upsert(ctx, rec)
		if err == nil {
			return stored, created, nil
		}
		if errors.Is(err, ErrSelectionMismatch) || ctx.Err() != nil {
			return Record{}, false, err
		}
		lastErr = err
		if attempt == max {
			break
		}
		select {
		case <-ctx.Done():
			return Record{}, false, ctx.Err()
		case <-time.After(time.Duration(attempt) * policy.Backoff):
		}
	}
	return Record{}, false, &RetryExhaustedError{Attempts: max, Err: lastErr}
}
