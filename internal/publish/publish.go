// Package publish implements the atomic write discipline for the output
// directory: every file is written to a temporary sibling and renamed into
// place, so a concurrent reader observes either the previous complete file or
// the next one, never a partial write.
package publish

import (
	"fmt"
	"os"
	"path/filepath"
)

// WriteFileAtomic writes data to path via a temp file in the same directory
// followed by an atomic rename. Parent directories are created as needed.
// The temp file is fsynced before the rename so a crash cannot leave the
// final path pointing at truncated content.
func WriteFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("publish: create dir %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("publish: create temp for %s: %w", path, err)
	}
	tmpName := tmp.Name()

	// Ensure cleanup on failure; after a successful rename the name is gone
	// and the remove is a no-op.
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("publish: write temp for %s: %w", path, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("publish: sync temp for %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("publish: close temp for %s: %w", path, err)
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		return fmt.Errorf("publish: chmod temp for %s: %w", path, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("publish: replace %s: %w", path, err)
	}
	return nil
}
