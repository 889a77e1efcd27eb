package passes

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"
)

// fakeEphem writes a shell script standing in for the ephemeris binary.
func fakeEphem(t *testing.T, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell script fixture")
	}
	path := filepath.Join(t.TempDir(), "skypass-ephem")
	script := "#!/bin/sh\n" + body + "\n"
	if err := os.WriteFile(path, []byte(script), 0o755); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestExecComputerParsesEvents(t *testing.T) {
	t.Parallel()

	bin := fakeEphem(t, `cat > /dev/null
echo '[{"target": "ISS (ZARYA)", "summary": "ISS PASS (max 45 deg)", "start": "2026-03-01T18:00:00Z", "end": "2026-03-01T18:10:00Z", "peak_elevation_deg": 45.2}]'`)

	c := &ExecComputer{BinPath: bin}
	events, err := c.ComputePasses(context.Background(),
		Location{Slug: "nyc", Lat: 40.7128, Lon: -74.0060},
		BundleSpec{Slug: "iss", Kind: "satellite", NoradIDs: []int{25544}},
		time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC), 7)
	if err != nil {
		t.Fatalf("ComputePasses: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("got %d events, want 1", len(events))
	}
	if events[0].Target != "ISS (ZARYA)" {
		t.Errorf("target = %q", events[0].Target)
	}
	if events[0].PeakElevationDeg != 45.2 {
		t.Errorf("peak elevation = %v", events[0].PeakElevationDeg)
	}
}

func TestExecComputerReceivesRequestOnStdin(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	capture := filepath.Join(dir, "request.json")
	bin := fakeEphem(t, `cat > `+capture+`
echo '[]'`)

	c := &ExecComputer{BinPath: bin}
	_, err := c.ComputePasses(context.Background(),
		Location{Slug: "nyc", Name: "New York City", Lat: 40.7128, Lon: -74.0060},
		BundleSpec{Slug: "stations", Kind: "satellite"},
		time.Now(), 7)
	if err != nil {
		t.Fatalf("ComputePasses: %v", err)
	}

	raw, err := os.ReadFile(capture)
	if err != nil {
		t.Fatalf("request was not written to stdin: %v", err)
	}
	for _, want := range []string{`"slug":"nyc"`, `"slug":"stations"`, `"window_days":7`} {
		if !strings.Contains(string(raw), want) {
			t.Errorf("request %s missing %s", raw, want)
		}
	}
}

func TestExecComputerFailure(t *testing.T) {
	t.Parallel()

	bin := fakeEphem(t, `echo "propagation failed" >&2
exit 1`)

	c := &ExecComputer{BinPath: bin}
	_, err := c.ComputePasses(context.Background(), Location{}, BundleSpec{}, time.Now(), 1)
	if err == nil {
		t.Fatal("expected error from failing binary")
	}
}

func TestExecComputerBadOutput(t *testing.T) {
	t.Parallel()

	bin := fakeEphem(t, `cat > /dev/null
echo 'not json'`)

	c := &ExecComputer{BinPath: bin}
	_, err := c.ComputePasses(context.Background(), Location{}, BundleSpec{}, time.Now(), 1)
	if err == nil {
		t.Fatal("expected error for unparseable output")
	}
}
