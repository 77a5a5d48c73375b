package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func writePolicyFile(t *testing.T, path string, policy *Policy) {
	t.Helper()
	if err := policy.Save(path); err != nil {
		t.Fatalf("save policy: %v", err)
	}
}

func waitFor(t *testing.T, timeout time.Duration, desc string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(25 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", desc)
}

func TestStaticSource(t *testing.T) {
	policy := DefaultPolicy()
	source := NewStaticSource(policy)

	if source.Policy() != policy {
		t.Error("static source should return the pinned policy")
	}
}

func TestWatcherInitialLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "policy.yaml")

	policy := DefaultPolicy()
	policy.Rebalance.DriftThreshold = 0.04
	writePolicyFile(t, path, policy)

	w, err := NewPolicyWatcher(path)
	if err != nil {
		t.Fatalf("NewPolicyWatcher() error = %v", err)
	}
	defer w.Stop()

	if got := w.Policy().Rebalance.DriftThreshold; got != 0.04 {
		t.Errorf("initial DriftThreshold = %.2f, want 0.04", got)
	}
}

func TestWatcherMissingFileUsesDefaults(t *testing.T) {
	dir := t.TempDir()

	w, err := NewPolicyWatcher(filepath.Join(dir, "policy.yaml"))
	if err != nil {
		t.Fatalf("NewPolicyWatcher() error = %v", err)
	}
	defer w.Stop()

	if got := w.Policy().Contribution.Limit401K; got != DefaultLimit401K {
		t.Errorf("Limit401K = %.0f, want default %.0f", got, DefaultLimit401K)
	}
}

func TestWatcherMissingDirectoryErrors(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nope", "policy.yaml")

	if _, err := NewPolicyWatcher(path); err == nil {
		t.Fatal("NewPolicyWatcher() = nil error for missing directory")
	}
}

func TestWatcherInvalidInitialPolicyErrors(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "policy.yaml")
	if err := os.WriteFile(path, []byte("rebalance:\n  drift_threshold: 2.0\n"), 0644); err != nil {
		t.Fatalf("write policy: %v", err)
	}

	if _, err := NewPolicyWatcher(path); err == nil {
		t.Fatal("NewPolicyWatcher() = nil error for invalid initial policy")
	}
}

func TestWatcherReloadsOnChange(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "policy.yaml")

	policy := DefaultPolicy()
	policy.Rebalance.DriftThreshold = 0.04
	writePolicyFile(t, path, policy)

	w, err := NewPolicyWatcher(path)
	if err != nil {
		t.Fatalf("NewPolicyWatcher() error = %v", err)
	}
	defer w.Stop()

	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	policy.Rebalance.DriftThreshold = 0.08
	writePolicyFile(t, path, policy)

	waitFor(t, 5*time.Second, "policy reload", func() bool {
		return w.Policy().Rebalance.DriftThreshold == 0.08
	})

	stats := w.Stats()
	if stats.Reloads < 1 {
		t.Errorf("Reloads = %d, want at least 1", stats.Reloads)
	}
	if stats.EventsSeen < 1 {
		t.Errorf("EventsSeen = %d, want at least 1", stats.EventsSeen)
	}
}

func TestWatcherKeepsLastGoodOnInvalidReload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "policy.yaml")

	policy := DefaultPolicy()
	policy.Rebalance.DriftThreshold = 0.04
	writePolicyFile(t, path, policy)

	w, err := NewPolicyWatcher(path)
	if err != nil {
		t.Fatalf("NewPolicyWatcher() error = %v", err)
	}
	defer w.Stop()

	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	if err := os.WriteFile(path, []byte("rebalance:\n  drift_threshold: 2.0\n"), 0644); err != nil {
		t.Fatalf("write policy: %v", err)
	}

	waitFor(t, 5*time.Second, "rejected reload", func() bool {
		return w.Stats().RejectedLoads >= 1
	})

	if got := w.Policy().Rebalance.DriftThreshold; got != 0.04 {
		t.Errorf("DriftThreshold = %.2f, want last good 0.04", got)
	}
}

func TestWatcherStopIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "policy.yaml")
	writePolicyFile(t, path, DefaultPolicy())

	w, err := NewPolicyWatcher(path)
	if err != nil {
		t.Fatalf("NewPolicyWatcher() error = %v", err)
	}

	// Stop before Start, then again after.
	w.Stop()
	w.Stop()

	if err := w.Start(context.Background()); err == nil {
		t.Error("Start() after Stop() should fail")
	}
}

func TestWatcherStopsOnContextCancel(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "policy.yaml")
	writePolicyFile(t, path, DefaultPolicy())

	w, err := NewPolicyWatcher(path)
	if err != nil {
		t.Fatalf("NewPolicyWatcher() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	if err := w.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	cancel()
	// Stop still returns promptly after the loop exits via ctx.
	w.Stop()
}
