package config

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"fincore/internal/logging"
)

// PolicySource yields the rulebook currently in force. The engine reads the
// policy through this interface so callers can choose between a pinned
// policy and a hot-reloading one.
type PolicySource interface {
	Policy() *Policy
}

type staticSource struct {
	policy *Policy
}

// NewStaticSource pins a PolicySource to a single rulebook.
func NewStaticSource(policy *Policy) PolicySource {
	return staticSource{policy: policy}
}

func (s staticSource) Policy() *Policy {
	return s.policy
}

// debounceDelay is how long the watcher waits after the last filesystem
// event before reloading. Editors save via rename+create and emit bursts.
const debounceDelay = 500 * time.Millisecond

// WatcherStats reports policy watcher activity.
type WatcherStats struct {
	EventsSeen    int
	Reloads       int
	RejectedLoads int
	LastReload    time.Time
}

// PolicyWatcher hot-reloads the policy file. A reload that fails to parse or
// validate is rejected and the last good policy stays in force.
type PolicyWatcher struct {
	path string // absolute path to the policy file
	name string // base name, for event filtering

	mu      sync.RWMutex
	current *Policy

	watcher     *fsnotify.Watcher
	debounceMu  sync.Mutex
	debounceMap map[string]time.Time

	lifeMu  sync.Mutex
	started bool
	stopped bool
	stopCh  chan struct{}
	doneCh  chan struct{}

	statsMu sync.Mutex
	stats   WatcherStats
}

// NewPolicyWatcher loads the policy at path and prepares to watch it. The
// directory containing the file is watched rather than the file itself so
// that atomic saves (rename over the old file) are observed.
func NewPolicyWatcher(path string) (*PolicyWatcher, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve policy path: %w", err)
	}

	policy, err := LoadPolicy(absPath)
	if err != nil {
		return nil, err
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create policy watcher: %w", err)
	}

	dir := filepath.Dir(absPath)
	if err := fsw.Add(dir); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", dir, err)
	}

	logging.Audit().PolicyEvent(logging.AuditPolicyLoaded, absPath, true, "")

	return &PolicyWatcher{
		path:        absPath,
		name:        filepath.Base(absPath),
		current:     policy,
		watcher:     fsw,
		debounceMap: make(map[string]time.Time),
		stopCh:      make(chan struct{}),
		doneCh:      make(chan struct{}),
	}, nil
}

// Policy returns the rulebook currently in force.
func (w *PolicyWatcher) Policy() *Policy {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.current
}

// Start begins watching for policy file changes. It returns immediately;
// reloads happen on a background goroutine until Stop or ctx cancellation.
func (w *PolicyWatcher) Start(ctx context.Context) error {
	w.lifeMu.Lock()
	defer w.lifeMu.Unlock()

	if w.started {
		return fmt.Errorf("policy watcher already started")
	}
	if w.stopped {
		return fmt.Errorf("policy watcher already stopped")
	}
	w.started = true

	logging.Config("Policy watcher started: %s", w.path)
	go w.loop(ctx)
	return nil
}

// Stop halts the watcher and waits for the background goroutine to exit.
// It is safe to call Stop on a watcher that was never started.
func (w *PolicyWatcher) Stop() {
	w.lifeMu.Lock()
	if w.stopped {
		w.lifeMu.Unlock()
		return
	}
	w.stopped = true
	started := w.started
	w.lifeMu.Unlock()

	close(w.stopCh)
	if started {
		<-w.doneCh
	}
	w.watcher.Close()
	logging.Config("Policy watcher stopped: %s", w.path)
}

// Stats returns a snapshot of watcher activity.
func (w *PolicyWatcher) Stats() WatcherStats {
	w.statsMu.Lock()
	defer w.statsMu.Unlock()
	return w.stats
}

func (w *PolicyWatcher) loop(ctx context.Context) {
	defer close(w.doneCh)

	// The ticker sweeps the debounce map so a quiet file gets its reload
	// shortly after the burst of editor events ends.
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			logging.ConfigError("Policy watcher error: %v", err)
		case <-ticker.C:
			w.sweepDebounce()
		}
	}
}

func (w *PolicyWatcher) handleEvent(event fsnotify.Event) {
	if filepath.Base(event.Name) != w.name {
		return
	}
	if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) == 0 {
		return
	}

	w.statsMu.Lock()
	w.stats.EventsSeen++
	w.statsMu.Unlock()

	w.debounceMu.Lock()
	w.debounceMap[event.Name] = time.Now()
	w.debounceMu.Unlock()

	logging.ConfigDebug("Policy file event: %s %s", event.Op, event.Name)
}

func (w *PolicyWatcher) sweepDebounce() {
	now := time.Now()
	due := false

	w.debounceMu.Lock()
	for name, last := range w.debounceMap {
		if now.Sub(last) >= debounceDelay {
			delete(w.debounceMap, name)
			due = true
		}
	}
	w.debounceMu.Unlock()

	if due {
		w.reload()
	}
}

func (w *PolicyWatcher) reload() {
	policy, err := LoadPolicy(w.path)
	if err != nil {
		w.statsMu.Lock()
		w.stats.RejectedLoads++
		w.statsMu.Unlock()

		logging.ConfigWarn("Policy reload rejected, keeping last good policy: %v", err)
		logging.Audit().PolicyEvent(logging.AuditPolicyInvalid, w.path, false, err.Error())
		return
	}

	w.mu.Lock()
	w.current = policy
	w.mu.Unlock()

	w.statsMu.Lock()
	w.stats.Reloads++
	w.stats.LastReload = time.Now()
	w.statsMu.Unlock()

	logging.Config("Policy reloaded: %s", w.path)
	logging.Audit().PolicyEvent(logging.AuditPolicyReloaded, w.path, true, "")
}
