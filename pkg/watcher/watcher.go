// Package watcher is the long-running daemon loop. It observes whether the
// configured mount point is present, fires an initial sync when a drive
// appears, schedules periodic resyncs while it stays connected, and drops
// back to idle when it disappears. A failing sync never stops the loop;
// the watcher re-checks the actual mount state on every tick instead of
// trusting its own prior belief.
package watcher

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/jonboulle/clockwork"

	"github.com/mountsync/mountsync/pkg/config"
	"github.com/mountsync/mountsync/pkg/engine"
	"github.com/mountsync/mountsync/pkg/plog"
	"github.com/mountsync/mountsync/pkg/preflight"
)

// State tracks where the watcher is in its mount lifecycle.
type State int

const (
	// StateIdle means the drive is absent.
	StateIdle State = iota
	// StateInitialSyncPending means the drive appeared but the initial
	// sync has not run yet, either because the tick that will run it has
	// not fired or because the startup grace window is still open.
	StateInitialSyncPending
	// StateMonitoring means the drive is present and synced; resyncs
	// fire on a timer until it disappears.
	StateMonitoring
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateInitialSyncPending:
		return "initial-sync-pending"
	case StateMonitoring:
		return "monitoring"
	}
	return "unknown"
}

// syncRunner is the slice of pkg/engine the watcher drives.
type syncRunner interface {
	RunSync(ctx context.Context, mode engine.Mode, contextMsg string) engine.Outcome
}

// Watcher owns the daemon state machine. It is not safe for concurrent
// use; Run is the only entry point and everything else happens on its
// goroutine.
type Watcher struct {
	cfg    *config.Config
	runner syncRunner
	clock  clockwork.Clock

	state      State
	graceUntil time.Time
	// lastSyncAt is the completion time of the most recent sync attempt,
	// successful or not. Resetting it on failure too keeps a broken
	// destination from turning the resync timer into a tight retry loop.
	lastSyncAt time.Time
}

// New creates a Watcher. A nil clock selects the real clock.
func New(cfg *config.Config, runner syncRunner, clock clockwork.Clock) *Watcher {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Watcher{cfg: cfg, runner: runner, clock: clock}
}

// Run blocks until ctx is cancelled, driving the configured detection
// strategy. It returns an error only for fatal startup conditions; once
// the loop is running, nothing short of cancellation stops it.
func (w *Watcher) Run(ctx context.Context) error {
	if w.cfg.MountPoint == "" {
		return errors.New("mount point is not configured; the watcher cannot run without one")
	}

	grace := time.Duration(w.cfg.Watch.StartupGraceSeconds) * time.Second
	w.graceUntil = w.clock.Now().Add(grace)
	w.state = StateIdle

	plog.Info("Watcher started.",
		"mountPoint", w.cfg.MountPoint,
		"strategy", w.cfg.Watch.Strategy,
		"pollInterval", fmt.Sprintf("%ds", w.cfg.Watch.PollIntervalSeconds),
		"resyncInterval", fmt.Sprintf("%ds", w.cfg.Watch.ResyncIntervalSeconds),
		"startupGrace", grace.String())

	switch w.cfg.Watch.Strategy {
	case config.StrategyPoll:
		return w.runPoll(ctx)
	case config.StrategyFsnotify:
		return w.runFsnotify(ctx)
	default:
		return fmt.Errorf("unknown watch strategy: %q", w.cfg.Watch.Strategy)
	}
}

// runPoll checks the mount point on a fixed interval.
func (w *Watcher) runPoll(ctx context.Context) error {
	interval := time.Duration(w.cfg.Watch.PollIntervalSeconds) * time.Second
	ticker := w.clock.NewTicker(interval)
	defer ticker.Stop()

	w.observe(ctx)
	for {
		select {
		case <-ctx.Done():
			plog.Info("Watcher stopping.", "reason", ctx.Err().Error())
			return nil
		case <-ticker.Chan():
			w.observe(ctx)
		}
	}
}

// runFsnotify reacts to the mount path appearing or disappearing. The
// kernel event gives immediate mount detection; a poll-interval ticker
// still runs underneath it because resyncs and the grace window are
// time-driven and no filesystem event will fire for them.
func (w *Watcher) runFsnotify(ctx context.Context) error {
	parent := filepath.Dir(w.cfg.MountPoint)
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create filesystem watcher: %w", err)
	}
	defer fsw.Close()
	if err := fsw.Add(parent); err != nil {
		return fmt.Errorf("failed to watch '%s': %w", parent, err)
	}

	interval := time.Duration(w.cfg.Watch.PollIntervalSeconds) * time.Second
	ticker := w.clock.NewTicker(interval)
	defer ticker.Stop()

	w.observe(ctx)
	for {
		select {
		case <-ctx.Done():
			plog.Info("Watcher stopping.", "reason", ctx.Err().Error())
			return nil
		case event, ok := <-fsw.Events:
			if !ok {
				return errors.New("filesystem watcher closed unexpectedly")
			}
			if event.Name == w.cfg.MountPoint &&
				event.Op&(fsnotify.Create|fsnotify.Remove|fsnotify.Rename) != 0 {
				w.observe(ctx)
			}
		case watchErr, ok := <-fsw.Errors:
			if !ok {
				return errors.New("filesystem watcher closed unexpectedly")
			}
			plog.Warn("Filesystem watcher error.", "error", watchErr.Error())
		case <-ticker.Chan():
			w.observe(ctx)
		}
	}
}

// observe is one tick of the state machine. It derives the mount state
// fresh every time and advances states accordingly.
func (w *Watcher) observe(ctx context.Context) {
	mounted := w.mountPresent()

	if w.state == StateIdle && mounted {
		plog.Info("Drive detected.", "mountPoint", w.cfg.MountPoint)
		w.state = StateInitialSyncPending
	}

	switch w.state {
	case StateInitialSyncPending:
		if !mounted {
			w.toIdle()
			return
		}
		if w.clock.Now().Before(w.graceUntil) {
			plog.Info("Startup grace window still open, holding initial sync.",
				"until", w.graceUntil.Format(time.RFC3339))
			return
		}
		w.runAndRecord(ctx, engine.Initial, "Sync triggered by drive mount")
		w.state = StateMonitoring

	case StateMonitoring:
		if !mounted {
			w.toIdle()
			return
		}
		resyncInterval := time.Duration(w.cfg.Watch.ResyncIntervalSeconds) * time.Second
		if w.clock.Since(w.lastSyncAt) >= resyncInterval {
			w.runAndRecord(ctx, engine.Resync, "")
		}
	}
}

func (w *Watcher) runAndRecord(ctx context.Context, mode engine.Mode, contextMsg string) {
	outcome := w.runner.RunSync(ctx, mode, contextMsg)
	w.lastSyncAt = w.clock.Now()
	if !outcome.Success {
		plog.Warn("Sync run failed, watcher continues.",
			"mode", mode.String(), "error", outcome.ErrorDetail)
	}
}

func (w *Watcher) toIdle() {
	plog.Info("Drive disconnected, returning to idle.", "mountPoint", w.cfg.MountPoint)
	w.state = StateIdle
	w.lastSyncAt = time.Time{}
}

// mountPresent reports whether the mount point currently holds a mounted
// drive. A device-boundary check handles real mounts; the non-empty
// fallback covers filesystems where the mounted volume shares a device
// with its parent.
func (w *Watcher) mountPresent() bool {
	if ok, err := preflight.IsMountPoint(w.cfg.MountPoint); err == nil && ok {
		return true
	}
	entries, err := os.ReadDir(w.cfg.MountPoint)
	return err == nil && len(entries) > 0
}
