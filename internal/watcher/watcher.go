// Package watcher turns filesystem activity on the project config and the
// request database into coalesced rebuild triggers. Bursts of writes collapse
// into one trigger, and a trigger arriving while a build is running queues
// behind it rather than racing it.
package watcher

import (
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Trigger is one coalesced rebuild signal.
type Trigger struct {
	// Files lists the paths whose changes were folded into this trigger.
	Files []string
}

// Watcher monitors a set of files for changes using fsnotify.
type Watcher struct {
	Triggers <-chan Trigger // Read-only external channel

	paths    map[string]bool // watched files, by absolute path
	triggers chan Trigger    // Internal write channel
	done     chan struct{}
	watcher  *fsnotify.Watcher
	debounce time.Duration
}

// New creates a watcher for the given files. Directories containing the files
// are watched (fsnotify reports renames into a directory, which is how atomic
// replaces and SQLite WAL checkpoints appear), and events are filtered back
// down to the requested paths.
func New(files []string, debounce time.Duration) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if debounce <= 0 {
		debounce = 250 * time.Millisecond
	}

	paths := make(map[string]bool, len(files))
	for _, f := range files {
		abs, err := filepath.Abs(f)
		if err != nil {
			fw.Close()
			return nil, err
		}
		paths[abs] = true
	}

	ch := make(chan Trigger, 4)
	w := &Watcher{
		Triggers: ch,
		paths:    paths,
		triggers: ch,
		done:     make(chan struct{}),
		watcher:  fw,
		debounce: debounce,
	}
	return w, nil
}

// Start begins watching. Each watched file's parent directory is registered
// once.
func (w *Watcher) Start() error {
	dirs := make(map[string]bool)
	for p := range w.paths {
		dirs[filepath.Dir(p)] = true
	}
	for dir := range dirs {
		if err := w.watcher.Add(dir); err != nil {
			return err
		}
	}
	go w.loop()
	return nil
}

// Stop closes the watcher and channels.
func (w *Watcher) Stop() {
	w.watcher.Close()
	<-w.done // Wait for loop to exit
	close(w.triggers)
}

func (w *Watcher) loop() {
	defer close(w.done)

	// Debounce: collect changed files and emit one trigger per quiet period.
	pending := make(map[string]time.Time)
	ticker := time.NewTicker(w.debounce)
	defer ticker.Stop()

	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				if len(pending) > 0 {
					w.emit(pending)
				}
				return
			}
			if !w.isWatched(event.Name) {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename) || event.Has(fsnotify.Remove) {
				pending[event.Name] = time.Now()
			}

		case <-ticker.C:
			if len(pending) == 0 {
				continue
			}
			now := time.Now()
			quiet := true
			for _, t := range pending {
				if now.Sub(t) < w.debounce {
					quiet = false
					break
				}
			}
			if quiet {
				w.emit(pending)
				pending = make(map[string]time.Time)
			}

		case _, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			// Watch errors are non-fatal; the next poll cycle catches up.
		}
	}
}

// isWatched matches an event path against the requested files. SQLite writes
// surface as activity on the -wal and -journal siblings, so those count as
// changes to the database file itself.
func (w *Watcher) isWatched(name string) bool {
	abs, err := filepath.Abs(name)
	if err != nil {
		return false
	}
	if w.paths[abs] {
		return true
	}
	for _, suffix := range []string{"-wal", "-journal"} {
		if base, found := strings.CutSuffix(abs, suffix); found && w.paths[base] {
			return true
		}
	}
	return false
}

func (w *Watcher) emit(pending map[string]time.Time) {
	trigger := Trigger{Files: make([]string, 0, len(pending))}
	for f := range pending {
		trigger.Files = append(trigger.Files, f)
	}
	sort.Strings(trigger.Files)
	// Drop the trigger if the consumer is saturated; a queued trigger
	// already guarantees a follow-up build.
	select {
	case w.triggers <- trigger:
	default:
	}
}
