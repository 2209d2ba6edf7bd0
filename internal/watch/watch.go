// Package watch implements the filesystem-watch feature backing sync.watch:
// a recursive fsnotify watcher debounced so a burst of edits collapses into
// one incremental sync trigger instead of one per file event.
package watch

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/Aman-CERP/memsearch/internal/errs"
)

// DefaultDebounceWindow is the quiet period after the last event before a
// batch of coalesced changes is emitted.
const DefaultDebounceWindow = 200 * time.Millisecond

// Op is the filesystem operation that triggered a change.
type Op int

const (
	OpCreate Op = iota
	OpModify
	OpDelete
	OpRename
)

// Event is one coalesced filesystem change, relative to the watched root.
type Event struct {
	Path string
	Op   Op
}

// Watcher recursively watches a root directory and emits debounced batches
// of changed relative paths on Events().
type Watcher struct {
	root  string
	fsw   *fsnotify.Watcher
	debounceWindow time.Duration

	mu      sync.Mutex
	pending map[string]Event
	timer   *time.Timer

	events chan []Event
	errors chan error
	stopCh chan struct{}
	closed bool
}

// New creates a Watcher rooted at root. Call Start to begin watching.
func New(root string, debounceWindow time.Duration) (*Watcher, error) {
	if debounceWindow <= 0 {
		debounceWindow = DefaultDebounceWindow
	}
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, errs.Wrap(errs.IOError, "watch.New", err)
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errs.Wrap(errs.IOError, "watch.New", err)
	}

	return &Watcher{
		root:           absRoot,
		fsw:            fsw,
		debounceWindow: debounceWindow,
		pending:        make(map[string]Event),
		events:         make(chan []Event, 64),
		errors:         make(chan error, 8),
		stopCh:         make(chan struct{}),
	}, nil
}

// Events returns the channel of debounced change batches. Closed on Stop.
func (w *Watcher) Events() <-chan []Event { return w.events }

// Errors returns the channel of non-fatal watcher errors. Closed on Stop.
func (w *Watcher) Errors() <-chan error { return w.errors }

// Start begins watching recursively and blocks until ctx is cancelled or
// Stop is called.
func (w *Watcher) Start(ctx context.Context) error {
	if err := w.addRecursive(w.root); err != nil {
		return errs.Wrap(errs.IOError, "watch.Start", err)
	}

	for {
		select {
		case <-ctx.Done():
			_ = w.Stop()
			return nil
		case <-w.stopCh:
			return nil
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			w.handle(ev)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			select {
			case w.errors <- err:
			default:
			}
		}
	}
}

// Stop releases the fsnotify watcher and closes Events/Errors. Idempotent.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true
	if w.timer != nil {
		w.timer.Stop()
	}
	close(w.stopCh)
	close(w.events)
	close(w.errors)
	return w.fsw.Close()
}

func (w *Watcher) addRecursive(root string) error {
	return filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil // best-effort: an unreadable subtree just isn't watched
		}
		if d.IsDir() {
			_ = w.fsw.Add(path)
		}
		return nil
	})
}

func (w *Watcher) handle(ev fsnotify.Event) {
	relPath, err := filepath.Rel(w.root, ev.Name)
	if err != nil {
		relPath = ev.Name
	}

	var op Op
	switch {
	case ev.Op&fsnotify.Create != 0:
		op = OpCreate
		if info, statErr := os.Stat(ev.Name); statErr == nil && info.IsDir() {
			_ = w.fsw.Add(ev.Name)
		}
	case ev.Op&fsnotify.Write != 0:
		op = OpModify
	case ev.Op&fsnotify.Remove != 0:
		op = OpDelete
	case ev.Op&fsnotify.Rename != 0:
		op = OpRename
	default:
		return // Chmod and unrecognized ops don't trigger a sync
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	w.pending[relPath] = coalesce(w.pending[relPath], Event{Path: relPath, Op: op}, relPath)
	w.scheduleFlush()
}

// coalesce applies the same merge rules as the teacher's Debouncer:
// create+modify=create, create+delete=cancelled (represented by returning
// the delete as a no-op downstream consumers should still sync on, since a
// created-then-deleted path is itself a meaningful absence), modify+delete
// =delete, delete+create=modify.
func coalesce(existing, incoming Event, path string) Event {
	if existing.Path == "" {
		return incoming
	}
	switch existing.Op {
	case OpCreate:
		if incoming.Op == OpModify {
			return existing
		}
		return incoming
	case OpModify:
		return incoming
	case OpDelete:
		if incoming.Op == OpCreate {
			return Event{Path: path, Op: OpModify}
		}
		return incoming
	default:
		return incoming
	}
}

func (w *Watcher) scheduleFlush() {
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounceWindow, w.flush)
}

func (w *Watcher) flush() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed || len(w.pending) == 0 {
		return
	}

	batch := make([]Event, 0, len(w.pending))
	for _, ev := range w.pending {
		batch = append(batch, ev)
	}
	w.pending = make(map[string]Event)

	select {
	case w.events <- batch:
	default:
	}
}
