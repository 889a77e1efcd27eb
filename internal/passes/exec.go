package passes

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"time"

	json "github.com/goccy/go-json"
)

// ExecComputer runs an external ephemeris binary to compute events. The
// request is written to the child's stdin as JSON and the events are read
// back from stdout as a JSON array, so any propagator that speaks this
// shape can be swapped in without touching the pipeline.
type ExecComputer struct {
	// BinPath is the computation binary. Defaults to "skypass-ephem" on PATH.
	BinPath string
	// ExtraArgs are appended after the built-in arguments.
	ExtraArgs []string
}

// execRequest is the JSON document handed to the child process.
type execRequest struct {
	Location struct {
		Slug       string  `json:"slug"`
		Name       string  `json:"name"`
		Lat        float64 `json:"lat"`
		Lon        float64 `json:"lon"`
		ElevationM float64 `json:"elevation_m"`
	} `json:"location"`
	Bundle struct {
		Slug          string   `json:"slug"`
		Name          string   `json:"name"`
		Kind          string   `json:"kind"`
		NoradIDs      []int    `json:"norad_ids,omitempty"`
		PlanetTargets []string `json:"planet_targets,omitempty"`

		IncludeIfPeakElevationDeg       float64 `json:"include_if_peak_elevation_deg"`
		LabelOverheadIfPeakElevationDeg float64 `json:"label_overhead_if_peak_elevation_deg"`
	} `json:"bundle"`
	WindowStart time.Time `json:"window_start"`
	WindowDays  int       `json:"window_days"`
}

func (e *ExecComputer) ComputePasses(ctx context.Context, loc Location, spec BundleSpec, windowStart time.Time, windowDays int) ([]Event, error) {
	bin := e.BinPath
	if bin == "" {
		bin = "skypass-ephem"
	}

	var req execRequest
	req.Location.Slug = loc.Slug
	req.Location.Name = loc.Name
	req.Location.Lat = loc.Lat
	req.Location.Lon = loc.Lon
	req.Location.ElevationM = loc.ElevationM
	req.Bundle.Slug = spec.Slug
	req.Bundle.Name = spec.Name
	req.Bundle.Kind = spec.Kind
	req.Bundle.NoradIDs = spec.NoradIDs
	req.Bundle.PlanetTargets = spec.PlanetTargets
	req.Bundle.IncludeIfPeakElevationDeg = spec.IncludeIfPeakElevationDeg
	req.Bundle.LabelOverheadIfPeakElevationDeg = spec.LabelOverheadIfPeakElevationDeg
	req.WindowStart = windowStart.UTC()
	req.WindowDays = windowDays

	input, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("passes: encode request: %w", err)
	}

	args := append([]string{"compute"}, e.ExtraArgs...)
	cmd := exec.CommandContext(ctx, bin, args...)
	cmd.Stdin = bytes.NewReader(input)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("passes: %s failed: %w\nstderr: %s", bin, err, stderr.String())
	}

	var events []Event
	if err := json.Unmarshal(stdout.Bytes(), &events); err != nil {
		return nil, fmt.Errorf("passes: parse %s output: %w", bin, err)
	}
	return events, nil
}

// Validate checks that the configured binary is runnable.
func (e *ExecComputer) Validate() error {
	bin := e.BinPath
	if bin == "" {
		bin = "skypass-ephem"
	}
	if _, err := exec.LookPath(bin); err != nil {
		return fmt.Errorf("passes: ephemeris binary %q not found: %w", bin, err)
	}
	return nil
}
