// Ward - Process Supervisor and Hot-Reload Controller
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/ward

// Package changedetector fronts fsnotify with a recursive directory watcher
// keyed on explicitly observed files rather than a global module registry
// walk (SPEC_FULL.md §4.7, §9).
package changedetector

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// DefaultGathererInterval is the fallback periodic re-scan period, a
// package constant rather than a user-facing config key (SPEC_FULL.md §9).
const DefaultGathererInterval = 500 * time.Millisecond

// Callback is invoked whenever an observed file or a new file under a
// watched directory changes. modules is the set of module IDs associated
// with path via Observe, or empty if none were registered.
type Callback func(path string, modules []string)

// Subscription identifies a registered Callback for later removal.
type Subscription uint64

type callbackEntry struct {
	id Subscription
	fn Callback
}

// Detector is a recursive, fsnotify-backed file watcher. The zero value is
// not usable; construct with New.
type Detector struct {
	mu sync.Mutex
	// cond guards WaitForChange: broadcast whenever any event fires.
	cond *sync.Cond

	watcher          *fsnotify.Watcher
	logger           zerolog.Logger
	gathererInterval time.Duration

	// observedFiles maps an absolute, symlink-resolved file path to the set
	// of module IDs interested in it.
	observedFiles map[string]map[string]struct{}
	// observedDirs is the set of directory roots currently watched
	// recursively, coalesced so no root is an ancestor or descendant of
	// another.
	observedDirs map[string]struct{}
	// noticed records files the periodic re-scan must not report: files
	// already present when their root was first watched, and files it has
	// surfaced once, so a stale, never-registered file isn't reported on
	// every tick.
	noticed map[string]struct{}

	callbackSeq uint64
	callbacks   []callbackEntry

	changed bool

	// stopServe lets a caller halt Serve independently of ctx cancellation,
	// used by the controller to retire the sweep loop once a reload has been
	// triggered without tearing down the whole supervisor tree (SPEC_FULL.md
	// §4.3).
	stopServe     chan struct{}
	stopServeOnce sync.Once
}

// New constructs a Detector. gathererInterval of zero uses
// DefaultGathererInterval.
func New(logger zerolog.Logger, gathererInterval time.Duration) (*Detector, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if gathererInterval <= 0 {
		gathererInterval = DefaultGathererInterval
	}
	d := &Detector{
		watcher:          w,
		logger:           logger.With().Str("component", "changedetector").Logger(),
		gathererInterval: gathererInterval,
		observedFiles:    make(map[string]map[string]struct{}),
		observedDirs:     make(map[string]struct{}),
		noticed:          make(map[string]struct{}),
		stopServe:        make(chan struct{}),
	}
	d.cond = sync.NewCond(&d.mu)
	return d, nil
}

// Observe records path (or, if path does not yet exist, its nearest existing
// ancestor) as a file of interest, associating it with moduleID. Observing
// the same path from multiple modules accumulates the module set.
func (d *Detector) Observe(path, moduleID string) error {
	existing, err := nearestExistingAncestor(path)
	if err != nil {
		return err
	}
	abs, err := filepath.Abs(existing)
	if err != nil {
		return err
	}
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		abs = resolved
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	set, ok := d.observedFiles[abs]
	if !ok {
		set = make(map[string]struct{})
		d.observedFiles[abs] = set
		dir := abs
		if info, err := os.Stat(abs); err == nil && !info.IsDir() {
			dir = filepath.Dir(abs)
		}
		d.scheduleDirLocked(dir)
	}
	if moduleID != "" {
		set[moduleID] = struct{}{}
	}
	return nil
}

// nearestExistingAncestor walks up from path until it finds a path segment
// that currently exists on disk.
func nearestExistingAncestor(path string) (string, error) {
	p := path
	for {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		} else if !errors.Is(err, fs.ErrNotExist) {
			return "", err
		}
		parent := filepath.Dir(p)
		if parent == p {
			return "", &fs.PathError{Op: "observe", Path: path, Err: fs.ErrNotExist}
		}
		p = parent
	}
}

// scheduleDirLocked adds dir to the watched set, coalescing against
// existing roots: an already-watched ancestor makes this a no-op; an
// already-watched descendant is unscheduled in favor of the new, broader
// root. Caller must hold d.mu.
func (d *Detector) scheduleDirLocked(dir string) {
	dir = filepath.Clean(dir)
	for existing := range d.observedDirs {
		if isAncestorDir(existing, dir) {
			return
		}
	}
	var superseded []string
	for existing := range d.observedDirs {
		if isAncestorDir(dir, existing) {
			superseded = append(superseded, existing)
		}
	}
	for _, s := range superseded {
		d.unwatchRecursiveLocked(s)
		delete(d.observedDirs, s)
	}
	d.watchRecursiveLocked(dir)
	d.observedDirs[dir] = struct{}{}
	// Files already present under a newly watched root were not created
	// after the watch began; mark them so rescan does not report them.
	_ = filepath.WalkDir(dir, func(p string, entry fs.DirEntry, err error) error {
		if err == nil && !entry.IsDir() {
			d.noticed[p] = struct{}{}
		}
		return nil
	})
}

// isAncestorDir reports whether ancestor is dir itself or a path prefix of
// it at a directory boundary.
func isAncestorDir(ancestor, dir string) bool {
	ancestor = filepath.Clean(ancestor)
	dir = filepath.Clean(dir)
	if ancestor == dir {
		return true
	}
	rel, err := filepath.Rel(ancestor, dir)
	if err != nil {
		return false
	}
	return rel != ".." && !hasDotDotPrefix(rel)
}

func hasDotDotPrefix(rel string) bool {
	return len(rel) >= 2 && rel[:2] == ".." && (len(rel) == 2 || os.IsPathSeparator(rel[2]))
}

func (d *Detector) watchRecursiveLocked(root string) {
	_ = filepath.WalkDir(root, func(p string, entry fs.DirEntry, err error) error {
		if err != nil {
			return nil //nolint:nilerr // best-effort walk; unreadable subtrees are skipped, not fatal
		}
		if entry.IsDir() {
			if addErr := d.watcher.Add(p); addErr != nil {
				d.logger.Warn().Err(addErr).Str("path", p).Msg("failed to watch directory")
			}
		}
		return nil
	})
}

func (d *Detector) unwatchRecursiveLocked(root string) {
	_ = filepath.WalkDir(root, func(p string, entry fs.DirEntry, err error) error {
		if err != nil {
			return nil //nolint:nilerr // best-effort cleanup
		}
		if entry.IsDir() {
			_ = d.watcher.Remove(p)
		}
		return nil
	})
}

func (d *Detector) isWatchedDirLocked(dir string) bool {
	for root := range d.observedDirs {
		if isAncestorDir(root, dir) {
			return true
		}
	}
	return false
}

// AddCallback subscribes cb to future change notifications.
func (d *Detector) AddCallback(cb Callback) Subscription {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.callbackSeq++
	id := Subscription(d.callbackSeq)
	d.callbacks = append(d.callbacks, callbackEntry{id: id, fn: cb})
	return id
}

// RemoveCallback removes a previously registered callback.
func (d *Detector) RemoveCallback(id Subscription) {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]callbackEntry, 0, len(d.callbacks))
	for _, c := range d.callbacks {
		if c.id != id {
			out = append(out, c)
		}
	}
	d.callbacks = out
}

// ClearCallbacks removes every registered callback.
func (d *Detector) ClearCallbacks() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.callbacks = nil
}

// WaitForChange blocks until any watched event fires, or ctx is canceled.
// Used by the controller's initial-load error recovery path (SPEC_FULL.md
// §4.8).
func (d *Detector) WaitForChange(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		d.mu.Lock()
		for !d.changed {
			d.cond.Wait()
		}
		d.mu.Unlock()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Serve implements suture.Service: it drives the fsnotify event loop and the
// periodic gatherer sweep until ctx is canceled.
func (d *Detector) Serve(ctx context.Context) error {
	ticker := time.NewTicker(d.gathererInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-d.stopServe:
			return nil
		case ev, ok := <-d.watcher.Events:
			if !ok {
				return nil
			}
			d.handleEvent(ev)
		case err, ok := <-d.watcher.Errors:
			if !ok {
				return nil
			}
			d.logger.Warn().Err(err).Msg("fsnotify watcher error")
		case <-ticker.C:
			d.rescan()
		}
	}
}

// StopServing halts a running Serve loop without canceling ctx, leaving the
// underlying watcher open for inspection (e.g. in tests). Idempotent.
func (d *Detector) StopServing() {
	d.stopServeOnce.Do(func() { close(d.stopServe) })
}

// String implements fmt.Stringer for suture's service naming.
func (d *Detector) String() string { return "changedetector" }

// handleEvent routes a single fsnotify event per SPEC_FULL.md §4.7: a pure
// directory-create event only extends the watch tree, while any event
// touching an observed file, or a file creation under an already-watched
// directory, is dispatched to callbacks. Rename pairing is intentionally
// not attempted: every op is handled as an independent file-identity event.
func (d *Detector) handleEvent(ev fsnotify.Event) {
	abs := ev.Name
	if a, err := filepath.Abs(abs); err == nil {
		abs = a
	}

	if ev.Op&fsnotify.Create != 0 {
		if info, err := os.Stat(abs); err == nil && info.IsDir() {
			// Create events only arrive for directories inside a watched
			// root, so the new subtree is added to that root's watch.
			d.mu.Lock()
			d.watchRecursiveLocked(abs)
			d.mu.Unlock()
			return
		}
	}

	d.mu.Lock()
	set, tracked := d.observedFiles[abs]
	newUnderWatchedDir := !tracked && ev.Op&fsnotify.Create != 0 && d.isWatchedDirLocked(filepath.Dir(abs))
	if !tracked && !newUnderWatchedDir {
		d.mu.Unlock()
		return
	}
	modules := moduleList(set)
	d.changed = true
	d.cond.Broadcast()
	d.mu.Unlock()

	d.dispatch(abs, modules)
}

// rescan notices files created under watched directories that fsnotify
// missed (or raced past during directory coalescing), reporting each at
// most once until it is either explicitly Observe'd or disappears.
func (d *Detector) rescan() {
	d.mu.Lock()
	roots := make([]string, 0, len(d.observedDirs))
	for r := range d.observedDirs {
		roots = append(roots, r)
	}
	d.mu.Unlock()

	for _, root := range roots {
		_ = filepath.WalkDir(root, func(p string, entry fs.DirEntry, err error) error {
			if err != nil || entry.IsDir() {
				return nil //nolint:nilerr // best-effort sweep
			}
			d.mu.Lock()
			_, tracked := d.observedFiles[p]
			_, alreadyNoticed := d.noticed[p]
			if tracked || alreadyNoticed {
				d.mu.Unlock()
				return nil
			}
			d.noticed[p] = struct{}{}
			d.changed = true
			d.cond.Broadcast()
			d.mu.Unlock()
			d.dispatch(p, nil)
			return nil
		})
	}
}

func (d *Detector) dispatch(path string, modules []string) {
	d.mu.Lock()
	cbs := make([]callbackEntry, len(d.callbacks))
	copy(cbs, d.callbacks)
	d.mu.Unlock()
	for _, c := range cbs {
		c.fn(path, modules)
	}
}

func moduleList(set map[string]struct{}) []string {
	if len(set) == 0 {
		return nil
	}
	out := make([]string, 0, len(set))
	for m := range set {
		out = append(out, m)
	}
	return out
}

// Close releases the underlying fsnotify watcher.
func (d *Detector) Close() error {
	return d.watcher.Close()
}
