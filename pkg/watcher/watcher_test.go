package watcher

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/mountsync/mountsync/pkg/config"
	"github.com/mountsync/mountsync/pkg/engine"
)

type recordedCall struct {
	mode engine.Mode
	msg  string
}

type fakeRunner struct {
	mu      sync.Mutex
	calls   []recordedCall
	succeed bool
	ran     chan struct{}
}

func newFakeRunner(succeed bool) *fakeRunner {
	return &fakeRunner{succeed: succeed, ran: make(chan struct{}, 16)}
}

func (f *fakeRunner) RunSync(_ context.Context, mode engine.Mode, contextMsg string) engine.Outcome {
	f.mu.Lock()
	f.calls = append(f.calls, recordedCall{mode: mode, msg: contextMsg})
	f.mu.Unlock()
	f.ran <- struct{}{}
	if f.succeed {
		return engine.Outcome{Success: true}
	}
	return engine.Outcome{ErrorDetail: "rsync exploded"}
}

func (f *fakeRunner) recorded() []recordedCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]recordedCall(nil), f.calls...)
}

func testWatcherConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.NewDefault()
	cfg.MountPoint = filepath.Join(t.TempDir(), "mnt")
	cfg.Watch.PollIntervalSeconds = 5
	cfg.Watch.ResyncIntervalSeconds = 600
	cfg.Watch.StartupGraceSeconds = 0
	return &cfg
}

func mountDrive(t *testing.T, mountPoint string) {
	t.Helper()
	if err := os.MkdirAll(mountPoint, 0755); err != nil {
		t.Fatalf("Failed to create mount dir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(mountPoint, "marker"), []byte("x"), 0644); err != nil {
		t.Fatalf("Failed to create marker file: %v", err)
	}
}

func unmountDrive(t *testing.T, mountPoint string) {
	t.Helper()
	if err := os.RemoveAll(mountPoint); err != nil {
		t.Fatalf("Failed to remove mount dir: %v", err)
	}
}

func TestObserveMountCycle(t *testing.T) {
	cfg := testWatcherConfig(t)
	runner := newFakeRunner(true)
	clock := clockwork.NewFakeClock()
	w := New(cfg, runner, clock)
	ctx := context.Background()

	w.observe(ctx)
	if w.state != StateIdle {
		t.Fatalf("Expected idle with no drive, got %s", w.state)
	}
	if len(runner.recorded()) != 0 {
		t.Fatal("Expected no sync while idle")
	}

	mountDrive(t, cfg.MountPoint)
	w.observe(ctx)
	calls := runner.recorded()
	if len(calls) != 1 || calls[0].mode != engine.Initial {
		t.Fatalf("Expected exactly one initial sync after mount, got %+v", calls)
	}
	if calls[0].msg != "Sync triggered by drive mount" {
		t.Errorf("Unexpected trigger message: %q", calls[0].msg)
	}
	if w.state != StateMonitoring {
		t.Fatalf("Expected monitoring after initial sync, got %s", w.state)
	}

	// Further ticks inside the resync interval stay quiet.
	clock.Advance(5 * time.Second)
	w.observe(ctx)
	if len(runner.recorded()) != 1 {
		t.Fatalf("Expected no extra sync before the resync interval, got %+v", runner.recorded())
	}

	unmountDrive(t, cfg.MountPoint)
	w.observe(ctx)
	if w.state != StateIdle {
		t.Fatalf("Expected idle after disconnect, got %s", w.state)
	}

	// A remount is a fresh mount event and gets a fresh initial sync.
	mountDrive(t, cfg.MountPoint)
	w.observe(ctx)
	calls = runner.recorded()
	if len(calls) != 2 || calls[1].mode != engine.Initial {
		t.Fatalf("Expected a second initial sync after remount, got %+v", calls)
	}
}

func TestObserveResyncAfterInterval(t *testing.T) {
	cfg := testWatcherConfig(t)
	runner := newFakeRunner(true)
	clock := clockwork.NewFakeClock()
	w := New(cfg, runner, clock)
	ctx := context.Background()

	mountDrive(t, cfg.MountPoint)
	w.observe(ctx)

	clock.Advance(599 * time.Second)
	w.observe(ctx)
	if len(runner.recorded()) != 1 {
		t.Fatalf("Expected no resync before the interval elapsed, got %+v", runner.recorded())
	}

	clock.Advance(2 * time.Second)
	w.observe(ctx)
	calls := runner.recorded()
	if len(calls) != 2 || calls[1].mode != engine.Resync {
		t.Fatalf("Expected a resync after the interval, got %+v", calls)
	}
	if calls[1].msg != "" {
		t.Errorf("Expected no trigger message for a resync, got %q", calls[1].msg)
	}
}

func TestObserveStartupGraceDelaysInitialSync(t *testing.T) {
	cfg := testWatcherConfig(t)
	runner := newFakeRunner(true)
	clock := clockwork.NewFakeClock()
	w := New(cfg, runner, clock)
	w.graceUntil = clock.Now().Add(120 * time.Second)
	ctx := context.Background()

	mountDrive(t, cfg.MountPoint)
	w.observe(ctx)
	if len(runner.recorded()) != 0 {
		t.Fatalf("Expected the grace window to hold the initial sync, got %+v", runner.recorded())
	}
	if w.state != StateInitialSyncPending {
		t.Fatalf("Expected initial-sync-pending during grace, got %s", w.state)
	}

	clock.Advance(121 * time.Second)
	w.observe(ctx)
	calls := runner.recorded()
	if len(calls) != 1 || calls[0].mode != engine.Initial {
		t.Fatalf("Expected the initial sync once grace expired, got %+v", calls)
	}
}

func TestObserveSyncFailureKeepsWatching(t *testing.T) {
	cfg := testWatcherConfig(t)
	runner := newFakeRunner(false)
	clock := clockwork.NewFakeClock()
	w := New(cfg, runner, clock)
	ctx := context.Background()

	mountDrive(t, cfg.MountPoint)
	w.observe(ctx)
	if w.state != StateMonitoring {
		t.Fatalf("Expected monitoring even after a failed sync, got %s", w.state)
	}

	// The failure still resets the timer; no tight retry loop.
	clock.Advance(10 * time.Second)
	w.observe(ctx)
	if len(runner.recorded()) != 1 {
		t.Fatalf("Expected no immediate retry after failure, got %+v", runner.recorded())
	}

	clock.Advance(600 * time.Second)
	w.observe(ctx)
	if len(runner.recorded()) != 2 {
		t.Fatalf("Expected a resync attempt after the interval, got %+v", runner.recorded())
	}
}

func TestRunRequiresMountPoint(t *testing.T) {
	cfg := testWatcherConfig(t)
	cfg.MountPoint = ""
	w := New(cfg, newFakeRunner(true), nil)

	if err := w.Run(context.Background()); err == nil {
		t.Fatal("Expected an error for a missing mount point")
	}
}

func TestRunRejectsUnknownStrategy(t *testing.T) {
	cfg := testWatcherConfig(t)
	cfg.Watch.Strategy = "dowsing-rod"
	w := New(cfg, newFakeRunner(true), nil)

	if err := w.Run(context.Background()); err == nil {
		t.Fatal("Expected an error for an unknown strategy")
	}
}

func TestRunPollStopsOnCancel(t *testing.T) {
	cfg := testWatcherConfig(t)
	cfg.Watch.PollIntervalSeconds = 1
	w := New(cfg, newFakeRunner(true), nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Expected a clean stop on cancel, got: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Watcher did not stop after cancellation")
	}
}

func TestRunFsnotifyDetectsMount(t *testing.T) {
	cfg := testWatcherConfig(t)
	cfg.Watch.Strategy = config.StrategyFsnotify
	cfg.Watch.PollIntervalSeconds = 1
	runner := newFakeRunner(true)
	w := New(cfg, runner, nil)

	// Stage the drive contents elsewhere and rename into place so the
	// creation event already sees a non-empty directory.
	staging := filepath.Join(filepath.Dir(cfg.MountPoint), "staging")
	mountDrive(t, staging)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	// Give the watcher a moment to register before the event fires.
	time.Sleep(200 * time.Millisecond)
	if err := os.Rename(staging, cfg.MountPoint); err != nil {
		t.Fatalf("Failed to move drive into place: %v", err)
	}

	select {
	case <-runner.ran:
	case <-time.After(5 * time.Second):
		t.Fatal("Initial sync never fired after the mount appeared")
	}
	calls := runner.recorded()
	if calls[0].mode != engine.Initial {
		t.Fatalf("Expected an initial sync, got %+v", calls)
	}

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Watcher did not stop after cancellation")
	}
}
