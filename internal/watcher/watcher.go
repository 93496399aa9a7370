// Package watcher implements the debounced filesystem event stream of
// §4.D over the schema and configuration directories. fsnotify appears
// only transitively in the pack's go.mod files (no example repo wires
// it directly), so the debounce-timer-per-path loop here follows
// fsnotify's own documented usage pattern rather than a specific
// teacher file; see DESIGN.md.
package watcher

import (
	"context"
	"log/slog"
	"time"

	"github.com/fsnotify/fsnotify"
)

// EventKind classifies a forwarded change, §4.D.
type EventKind string

const (
	Created  EventKind = "created"
	Modified EventKind = "modified"
	Deleted  EventKind = "deleted"
)

// Event is one debounced, naming-predicate-filtered change.
type Event struct {
	Kind EventKind
	Path string
}

// DebounceWindow is the quiescent interval collapsing rapid rewrites
// into a single event per path, §4.D.
const DebounceWindow = 350 * time.Millisecond

// PollInterval is the degraded-mode polling cadence used when the
// underlying fsnotify watcher fails to start or cannot watch a root.
// Errors fsnotify reports after startup are logged as warnings and do
// not switch the watcher to polling.
const PollInterval = 5 * time.Second

// Predicate reports whether path should be forwarded, e.g. the
// loader's isEntityFile/isConfigFile/isGroupFile checks.
type Predicate func(path string) bool

// Watcher emits a debounced, filtered event stream for a set of
// watched root directories.
type Watcher struct {
	roots     []string
	predicate Predicate
	logger    *slog.Logger
	events    chan Event
}

// New builds a Watcher over roots, forwarding only paths predicate
// accepts.
func New(roots []string, predicate Predicate, logger *slog.Logger) *Watcher {
	return &Watcher{roots: roots, predicate: predicate, logger: logger, events: make(chan Event, 64)}
}

// Events returns the channel of debounced, filtered events. Closed
// when ctx is cancelled.
func (w *Watcher) Events() <-chan Event { return w.events }

// Run drives the watcher until ctx is cancelled, falling back to
// periodic polling with a Warning log if fsnotify itself cannot start.
func (w *Watcher) Run(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		w.logger.Warn("fsnotify unavailable, degrading to poll", "error", err)
		go w.pollLoop(ctx)
		return nil
	}

	for _, root := range w.roots {
		if err := fsw.Add(root); err != nil {
			w.logger.Warn("failed to watch root, degrading to poll", "root", root, "error", err)
			fsw.Close()
			go w.pollLoop(ctx)
			return nil
		}
	}

	go w.debounceLoop(ctx, fsw)
	return nil
}

func (w *Watcher) debounceLoop(ctx context.Context, fsw *fsnotify.Watcher) {
	defer close(w.events)
	defer fsw.Close()

	pending := map[string]*time.Timer{}
	fire := make(chan Event, 64)

	for {
		select {
		case <-ctx.Done():
			for _, t := range pending {
				t.Stop()
			}
			return

		case ev, ok := <-fsw.Events:
			if !ok {
				return
			}
			if !w.predicate(ev.Name) {
				continue
			}
			kind := kindOf(ev.Op)
			path := ev.Name
			if t, exists := pending[path]; exists {
				t.Stop()
			}
			pending[path] = time.AfterFunc(DebounceWindow, func() {
				fire <- Event{Kind: kind, Path: path}
			})

		case fired := <-fire:
			delete(pending, fired.Path)
			select {
			case w.events <- fired:
			case <-ctx.Done():
				return
			}

		case err, ok := <-fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("watcher error", "error", err)
		}
	}
}

func kindOf(op fsnotify.Op) EventKind {
	switch {
	case op&fsnotify.Remove != 0 || op&fsnotify.Rename != 0:
		return Deleted
	case op&fsnotify.Create != 0:
		return Created
	default:
		return Modified
	}
}

// pollLoop is the degraded mode used when fsnotify cannot be set up:
// it simply ticks, leaving actual change detection to the coordinator
// re-running load_all and diffing against the registry's known
// versions.
func (w *Watcher) pollLoop(ctx context.Context) {
	defer close(w.events)
	ticker := time.NewTicker(PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, root := range w.roots {
				select {
				case w.events <- Event{Kind: Modified, Path: root}:
				case <-ctx.Done():
					return
				}
			}
		}
	}
}
