// Package engine runs a complete sync: preflight checks, destination
// locking, the mirror subprocess with retries, change counting, report
// archival and notification. Only one run can be in flight per process;
// a second caller blocks briefly and then receives a busy outcome.
package engine

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/semaphore"

	"github.com/mountsync/mountsync/pkg/config"
	"github.com/mountsync/mountsync/pkg/hints"
	"github.com/mountsync/mountsync/pkg/lockfile"
	"github.com/mountsync/mountsync/pkg/plog"
	"github.com/mountsync/mountsync/pkg/preflight"
	"github.com/mountsync/mountsync/pkg/report"
)

// mirrorInvoker abstracts the mirror tool subprocess so tests can swap
// in a scripted implementation.
type mirrorInvoker interface {
	Mirror(ctx context.Context, sourceDir, destDir string, excludePatterns []string) (*report.ChangeReport, error)
}

// changeNotifier is the slice of pkg/notify the engine needs.
type changeNotifier interface {
	ShouldNotify(initialSync, changed, success bool) bool
	Notify(ctx context.Context, summary *report.CategorySummary, contextMsg string) bool
}

// reportStore persists the itemized output of a completed run.
type reportStore interface {
	Store(timestamp time.Time, modeTag string, lines []string) (string, error)
}

// Outcome describes how a sync run ended. A run that mirrored cleanly
// but failed to notify still counts as a success; transport trouble
// must never fail the sync itself.
type Outcome struct {
	Success     bool
	Changed     bool
	Summary     *report.CategorySummary
	Notified    bool
	ErrorDetail string
}

// Runner owns the single-flight guard and the collaborators shared by
// every sync run. Construct it once and reuse it for the lifetime of
// the process; the watcher calls RunSync from its event loop.
type Runner struct {
	cfg      *config.Config
	invoker  mirrorInvoker
	notifier changeNotifier
	store    reportStore
	clock    clockwork.Clock

	// inFlight admits exactly one run at a time. Callers that cannot
	// acquire it within the configured wait get a busy outcome instead
	// of queueing up behind a stuck run forever.
	inFlight *semaphore.Weighted
}

// New creates a Runner. A nil clock selects the real clock.
func New(cfg *config.Config, invoker mirrorInvoker, notifier changeNotifier, store reportStore, clock clockwork.Clock) *Runner {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Runner{
		cfg:      cfg,
		invoker:  invoker,
		notifier: notifier,
		store:    store,
		clock:    clock,
		inFlight: semaphore.NewWeighted(1),
	}
}

// RunSync executes one full sync in the given mode. contextMsg, when
// non-empty, becomes the first line of any notification sent for this
// run. The returned Outcome is always populated; RunSync never panics
// outward and never returns a Go error, because the watcher loop must
// survive every possible failure of a single run.
func (r *Runner) RunSync(ctx context.Context, mode Mode, contextMsg string) (outcome Outcome) {
	defer func() {
		if rec := recover(); rec != nil {
			plog.Error("Panic during sync run.", "panic", rec, "stack", string(debug.Stack()))
			outcome = Outcome{ErrorDetail: fmt.Sprintf("panic: %v", rec)}
		}
	}()

	if !r.admit(ctx) {
		plog.Warn("Another sync is already in flight, rejecting run.", "mode", mode.String())
		return Outcome{ErrorDetail: "another sync is already in flight"}
	}
	defer r.inFlight.Release(1)

	plog.Info("Starting sync run.", "mode", mode.String(),
		"source", r.cfg.SourceDir, "destination", r.cfg.DestDir)

	// release is filled in once the destination lock is taken. Deferring
	// through the pointer keeps the lock covered even when a mirror
	// attempt panics.
	var release func()
	defer func() {
		if release != nil {
			release()
		}
	}()

	rep, err := r.mirrorWithRetries(ctx, mode, &release)
	if err != nil {
		return r.finishFailure(ctx, mode, contextMsg, err)
	}

	summary := report.Count(rep)
	outcome = Outcome{
		Success: true,
		Changed: rep.Changed(),
		Summary: summary,
	}

	r.recordRun(mode, rep, summary)

	if r.notifier.ShouldNotify(mode == Initial, outcome.Changed, true) {
		outcome.Notified = r.notifier.Notify(ctx, summary, r.successMessage(mode, contextMsg))
	}

	plog.Info("Sync run finished.", "mode", mode.String(),
		"changed", outcome.Changed, "changes", summary.Total())
	return outcome
}

// admit takes the single-flight slot, waiting at most the configured
// grace before giving up.
func (r *Runner) admit(ctx context.Context) bool {
	wait := time.Duration(r.cfg.Sync.SingleFlightWaitSeconds) * time.Second
	admitCtx, cancel := context.WithTimeout(ctx, wait)
	defer cancel()
	return r.inFlight.Acquire(admitCtx, 1) == nil
}

// mirrorWithRetries runs preflight and the mirror tool, retrying
// transient failures. The destination lock is taken after the first
// successful preflight, once the destination is known to be real, and
// published through release so the caller's defer owns it from that
// moment on.
func (r *Runner) mirrorWithRetries(ctx context.Context, mode Mode, release *func()) (*report.ChangeReport, error) {
	attempts := r.cfg.Sync.RetryCount + 1
	if attempts < 1 {
		attempts = 1
	}
	retryWait := time.Duration(r.cfg.Sync.RetryWaitSeconds) * time.Second

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		lastErr = r.attemptOnce(ctx, mode, release)
		if lastErr == nil {
			rep, err := r.invoker.Mirror(ctx, r.cfg.SourceDir, r.cfg.DestDir, r.cfg.Sync.ExcludePatterns)
			if err == nil {
				return rep, nil
			}
			lastErr = err
		}

		var lockErr *lockfile.ErrLockActive
		if errors.As(lastErr, &lockErr) {
			// Someone else holds the destination. Retrying within this
			// run would just race their heartbeat; surface it as a hint
			// so the caller reports a skipped run, not a failure.
			return nil, hints.Wrap(lastErr)
		}

		if attempt < attempts {
			plog.Warn("Sync attempt failed, retrying.",
				"attempt", attempt, "of", attempts, "wait", retryWait.String(), "error", lastErr.Error())
			r.clock.Sleep(retryWait)
		}
	}
	return nil, fmt.Errorf("sync failed after %d attempts: %w", attempts, lastErr)
}

// attemptOnce runs preflight and, on the first clean pass, acquires the
// destination lock.
func (r *Runner) attemptOnce(ctx context.Context, mode Mode, release *func()) error {
	if _, err := preflight.Run(r.cfg.SourceDir, r.cfg.DestDir, r.cfg.MountPoint); err != nil {
		return fmt.Errorf("preflight: %w", err)
	}
	if *release == nil {
		lock, err := lockfile.Acquire(ctx, r.cfg.DestDir, mode.String())
		if err != nil {
			return fmt.Errorf("destination lock: %w", err)
		}
		*release = lock.Release
	}
	return nil
}

// recordRun archives the itemized report and mirrors it into the main
// log file. Neither step may fail the run.
func (r *Runner) recordRun(mode Mode, rep *report.ChangeReport, summary *report.CategorySummary) {
	for _, line := range rep.RawLines {
		plog.AppendRawLine(line)
	}
	for _, line := range summary.Lines() {
		plog.AppendRawLine(line)
	}

	if r.store == nil {
		return
	}
	path, err := r.store.Store(r.clock.Now().UTC(), mode.String(), rep.RawLines)
	if err != nil {
		plog.Warn("Failed to archive sync report.", "error", err.Error())
		return
	}
	plog.Info("Archived sync report.", "path", path)
}

func (r *Runner) successMessage(mode Mode, contextMsg string) string {
	if contextMsg != "" {
		return contextMsg
	}
	if mode == Initial {
		return "Sync triggered by drive mount"
	}
	return "Periodic resync completed"
}

// finishFailure logs the failure, optionally notifies, and builds the
// failed outcome. Hints mark skipped runs; they are logged softly and
// never trigger a failure notification.
func (r *Runner) finishFailure(ctx context.Context, mode Mode, contextMsg string, err error) Outcome {
	if hints.IsHint(err) {
		plog.Warn("Sync run skipped.", "mode", mode.String(), "details", err.Error())
		return Outcome{ErrorDetail: err.Error()}
	}
	plog.Error("Sync run failed.", "mode", mode.String(), "error", err.Error())

	if r.notifier.ShouldNotify(mode == Initial, false, false) {
		msg := "Sync failed"
		if contextMsg != "" {
			msg = contextMsg + ": sync failed"
		}
		r.notifier.Notify(ctx, nil, fmt.Sprintf("%s: %s", msg, err.Error()))
	}
	return Outcome{ErrorDetail: err.Error()}
}
