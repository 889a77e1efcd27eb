// Package passes defines the boundary to the astronomical event computation.
// The computation itself is external: the pipeline only needs something that
// turns a location, a bundle spec, and a rolling time window into events, and
// a bounded-parallel way to run it over many independent pairs.
package passes

import (
	"context"
	"sync"
	"time"
)

// Location is an observation site as seen by the pass computer.
type Location struct {
	Slug       string
	Name       string
	Lat        float64
	Lon        float64
	ElevationM float64
}

// BundleSpec describes what to compute for one feed: the bundle identity,
// the resolved entity subset, and the effective elevation thresholds.
type BundleSpec struct {
	Slug          string
	Name          string
	Kind          string
	NoradIDs      []int
	PlanetTargets []string

	IncludeIfPeakElevationDeg       float64
	LabelOverheadIfPeakElevationDeg float64
}

// Event is one computed visibility event.
type Event struct {
	Target           string    `json:"target"`
	Summary          string    `json:"summary"`
	Start            time.Time `json:"start"`
	End              time.Time `json:"end"`
	PeakElevationDeg float64   `json:"peak_elevation_deg,omitempty"`
}

// Computer computes visibility events for one location and bundle over a
// rolling window. Implementations must be deterministic for identical inputs
// and safe for concurrent use: the pipeline fans out across pairs.
type Computer interface {
	ComputePasses(ctx context.Context, loc Location, spec BundleSpec, windowStart time.Time, windowDays int) ([]Event, error)
}

// ComputerFunc adapts a function to the Computer interface.
type ComputerFunc func(ctx context.Context, loc Location, spec BundleSpec, windowStart time.Time, windowDays int) ([]Event, error)

// ComputePasses implements Computer.
func (f ComputerFunc) ComputePasses(ctx context.Context, loc Location, spec BundleSpec, windowStart time.Time, windowDays int) ([]Event, error) {
	return f(ctx, loc, spec, windowStart, windowDays)
}

// Job is one location×bundle pair to compute.
type Job struct {
	Location Location
	Spec     BundleSpec
}

// Result pairs a job with its computed events or failure.
type Result struct {
	Job    Job
	Events []Event
	Err    error
}

// ComputeAll runs the computer over all jobs with at most workers running
// concurrently, returning results in job order. Each pair is independent and
// read-only over shared inputs, so parallelism is safe; failures are captured
// per result rather than aborting the batch.
func ComputeAll(ctx context.Context, c Computer, jobs []Job, workers int, windowStart time.Time, windowDays int) []Result {
	results := make([]Result, len(jobs))
	if len(jobs) == 0 {
		return results
	}
	if workers <= 0 {
		workers = 4
	}
	if workers > len(jobs) {
		workers = len(jobs)
	}

	indexes := make(chan int)
	var wg sync.WaitGroup
	wg.Add(workers)
	for w := 0; w < workers; w++ {
		go func() {
			defer wg.Done()
			for i := range indexes {
				job := jobs[i]
				events, err := c.ComputePasses(ctx, job.Location, job.Spec, windowStart, windowDays)
				results[i] = Result{Job: job, Events: events, Err: err}
			}
		}()
	}

	for i := range jobs {
		select {
		case <-ctx.Done():
			// Mark the remaining jobs cancelled and stop feeding workers.
			for j := i; j < len(jobs); j++ {
				results[j] = Result{Job: jobs[j], Err: ctx.Err()}
			}
			close(indexes)
			wg.Wait()
			return results
		case indexes <- i:
		}
	}
	close(indexes)
	wg.Wait()
	return results
}
