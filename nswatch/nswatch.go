// Package nswatch is the filesystem namespace watcher:
// it watches /var/run/netns for the bind-mount files `ip netns add`
// creates and removes, reporting Created/Deleted events. Unlike the
// multicast events package, no kernel notification exists for namespace
// lifecycle, so this package watches the filesystem via fsnotify instead.
//
// When the netns directory does not exist yet, the watcher falls back to
// watching its parent directory and re-targets onto the netns directory
// the moment it appears; if the netns directory is later removed, the
// watch falls back to the parent again.
package nswatch

import (
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/m-lab/netlinkctl/netns"
)

// EventKind distinguishes a namespace's appearance from its removal.
type EventKind int

const (
	Created EventKind = iota
	Deleted
)

// Event reports that a named namespace appeared or disappeared under
// netns.RunDir.
type Event struct {
	Kind EventKind
	Name string
}

// Watcher streams namespace lifecycle events from netns.RunDir.
type Watcher struct {
	fsw    *fsnotify.Watcher
	dir    string // the netns directory being watched
	parent string
	events chan Event
	errs   chan error
	done   chan struct{}

	// watchingDir is true while the watch targets the netns directory
	// itself, false while it targets the parent waiting for the
	// directory to appear.
	watchingDir atomic.Bool
}

// ListAndWatch registers the watch before taking the initial directory
// listing, so a namespace created between the two operations is never
// missed. It returns the initial listing plus a Watcher for subsequent
// changes. Callers that want a deduplicated view must reconcile Watcher
// events against their own last-known set themselves: this package
// reports raw filesystem changes, not a diff against the caller's state.
//
// If netns.RunDir does not exist, the initial listing is empty and the
// watch targets the parent directory until the run directory appears.
func ListAndWatch() ([]string, *Watcher, error) {
	return listAndWatchDir(netns.RunDir)
}

func listAndWatchDir(dir string) ([]string, *Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, nil, fmt.Errorf("nswatch: creating watcher: %w", err)
	}

	w := &Watcher{
		fsw:    fsw,
		dir:    dir,
		parent: filepath.Dir(dir),
		events: make(chan Event, 16),
		errs:   make(chan error, 1),
		done:   make(chan struct{}),
	}

	if _, err := os.Stat(dir); err == nil {
		if err := fsw.Add(dir); err != nil {
			fsw.Close()
			return nil, nil, fmt.Errorf("nswatch: watching %s: %w", dir, err)
		}
		w.watchingDir.Store(true)
	} else {
		if err := fsw.Add(w.parent); err != nil {
			fsw.Close()
			return nil, nil, fmt.Errorf("nswatch: watching %s: %w", w.parent, err)
		}
	}

	var names []string
	if w.watchingDir.Load() {
		entries, err := os.ReadDir(dir)
		if err != nil {
			fsw.Close()
			return nil, nil, fmt.Errorf("nswatch: listing %s: %w", dir, err)
		}
		for _, e := range entries {
			names = append(names, e.Name())
		}
	}

	go w.run()
	return names, w, nil
}

// IsWatchingRunDir reports whether the watch currently targets the netns
// directory itself, as opposed to waiting on the parent for it to appear.
func (w *Watcher) IsWatchingRunDir() bool { return w.watchingDir.Load() }

// Events returns the channel of namespace lifecycle events.
func (w *Watcher) Events() <-chan Event { return w.events }

// Errors returns the channel of watcher-level errors (e.g. the run
// directory's parent was removed out from under the watch).
func (w *Watcher) Errors() <-chan error { return w.errs }

// Close stops the watcher.
func (w *Watcher) Close() error {
	close(w.done)
	return w.fsw.Close()
}

func (w *Watcher) run() {
	defer close(w.events)
	for {
		select {
		case <-w.done:
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if w.watchingDir.Load() {
				w.handleDirEvent(ev)
			} else {
				w.handleParentEvent(ev)
			}
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			select {
			case w.errs <- err:
			default:
			}
		}
	}
}

// handleDirEvent processes one event while watching the netns directory.
func (w *Watcher) handleDirEvent(ev fsnotify.Event) {
	// Deletion of the watched directory itself: fall back to the parent
	// and wait for it to reappear. inotify already dropped the watch.
	if ev.Name == w.dir && ev.Op&(fsnotify.Remove|fsnotify.Rename) != 0 {
		w.watchingDir.Store(false)
		if err := w.fsw.Add(w.parent); err != nil {
			select {
			case w.errs <- fmt.Errorf("nswatch: re-watching %s: %w", w.parent, err):
			default:
			}
		}
		return
	}

	name := filepath.Base(ev.Name)
	switch {
	case ev.Op&fsnotify.Create != 0:
		w.send(Event{Kind: Created, Name: name})
	case ev.Op&(fsnotify.Remove|fsnotify.Rename) != 0:
		w.send(Event{Kind: Deleted, Name: name})
	}
}

// handleParentEvent processes one event while waiting on the parent for
// the netns directory to appear. fsnotify reports both IN_CREATE and
// IN_MOVED_TO as Create, covering mkdir and rename-into-place.
func (w *Watcher) handleParentEvent(ev fsnotify.Event) {
	if ev.Name != w.dir || ev.Op&fsnotify.Create == 0 {
		return
	}
	if err := w.fsw.Add(w.dir); err != nil {
		select {
		case w.errs <- fmt.Errorf("nswatch: watching %s: %w", w.dir, err):
		default:
		}
		return
	}
	// Namespaces created between the directory's appearance and the
	// watch registration are the caller's dedupe window, same as the
	// list-then-watch window at startup.
	_ = w.fsw.Remove(w.parent)
	w.watchingDir.Store(true)
}

func (w *Watcher) send(ev Event) {
	select {
	case w.events <- ev:
	case <-w.done:
	}
}
