package cmd

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/skypass/skypass/internal/catalog"
	"github.com/skypass/skypass/internal/config"
	"github.com/skypass/skypass/internal/store"
	"github.com/skypass/skypass/internal/telemetry"
)

// loadConfig reads and validates the project config named by the settings.
func loadConfig(s config.Settings) (*config.Config, error) {
	cfg, err := config.Load(s.ConfigPath)
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

// requestDBPath resolves the request database location, defaulting to a file
// inside the state directory.
func requestDBPath(s config.Settings) string {
	if s.RequestDBPath != "" {
		return s.RequestDBPath
	}
	return filepath.Join(s.StateDir, "requests.db")
}

func openStore(ctx context.Context, s config.Settings) (*store.SQLiteStore, error) {
	return store.Open(ctx, requestDBPath(s))
}

// newCache builds the catalog cache, backed by CelesTrak. Catalog artifacts
// live inside the output directory so the manifest's catalog paths resolve
// for feed clients.
func newCache(cfg *config.Config, s config.Settings) *catalog.Cache {
	return &catalog.Cache{
		Dir:    filepath.Join(s.OutDir, "catalog"),
		TTL:    time.Duration(cfg.Defaults.CatalogCacheHours) * time.Hour,
		Source: catalog.NewCelesTrakSource(),
	}
}

// newEmitter opens the telemetry sink, or returns a nil no-op emitter when
// no path is configured.
func newEmitter(s config.Settings) (*telemetry.Emitter, error) {
	if s.TelemetryPath == "" {
		return nil, nil
	}
	return telemetry.NewEmitter(s.TelemetryPath)
}

// resolveGitSHA stamps builds with the publishing commit. CI environments
// provide it; local runs fall back to asking git, and an empty value is fine.
func resolveGitSHA() string {
	if sha := os.Getenv("SKYPASS_GIT_SHA"); sha != "" {
		return sha
	}
	if sha := os.Getenv("GITHUB_SHA"); sha != "" {
		return sha
	}
	out, err := exec.Command("git", "rev-parse", "HEAD").Output()
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(out))
}

// signalContext returns a context cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func verbosef(s config.Settings, format string, args ...any) {
	if s.Verbose {
		fmt.Fprintf(os.Stderr, format+"\n", args...)
	}
}
