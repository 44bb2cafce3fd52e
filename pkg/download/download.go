// Package download wraps the external music-download tool. The tool's own
// log format is opaque; new content is detected by snapshotting the source
// tree before and after the run and diffing the two file sets. When the
// download produced files, a resync pushes them to the drive.
package download

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"time"

	"github.com/mountsync/mountsync/pkg/config"
	"github.com/mountsync/mountsync/pkg/engine"
	"github.com/mountsync/mountsync/pkg/mirror"
	"github.com/mountsync/mountsync/pkg/plog"
	"github.com/mountsync/mountsync/pkg/report"
)

const (
	startMarker = "--- DOWNLOAD START ---"
	endMarker   = "--- DOWNLOAD END ---"

	// tailLines bounds how much tool output is carried into an error.
	tailLines = 10
)

// syncRunner is the slice of pkg/engine the downloader triggers after a
// successful download.
type syncRunner interface {
	RunSync(ctx context.Context, mode engine.Mode, contextMsg string) engine.Outcome
}

// changeNotifier announces downloaded content.
type changeNotifier interface {
	Notify(ctx context.Context, summary *report.CategorySummary, contextMsg string) bool
}

// Result describes what a download run produced and whether the follow-up
// sync ran.
type Result struct {
	Summary       *report.CategorySummary
	NewFiles      []string
	SyncTriggered bool
	SyncSucceeded bool
}

// Downloader runs the external tool and reconciles the source tree
// afterwards. runner may be nil to skip the follow-up sync.
type Downloader struct {
	cfg      *config.Config
	runner   syncRunner
	notifier changeNotifier

	// commandContext allows mocking os/exec for testing.
	commandContext func(ctx context.Context, name string, arg ...string) *exec.Cmd
}

// New creates a Downloader. commandContext may be nil, in which case
// exec.CommandContext is used.
func New(cfg *config.Config, runner syncRunner, notifier changeNotifier, commandContext func(ctx context.Context, name string, arg ...string) *exec.Cmd) *Downloader {
	if commandContext == nil {
		commandContext = exec.CommandContext
	}
	return &Downloader{cfg: cfg, runner: runner, notifier: notifier, commandContext: commandContext}
}

// Run downloads the given URL into the source tree, reports what appeared
// and, when something did, notifies and triggers a resync to the drive.
func (d *Downloader) Run(ctx context.Context, url, message string) (*Result, error) {
	if strings.TrimSpace(url) == "" {
		return nil, errors.New("download URL must not be empty")
	}

	before, err := report.Snapshot(d.cfg.SourceDir)
	if err != nil {
		return nil, fmt.Errorf("failed to snapshot '%s': %w", d.cfg.SourceDir, err)
	}

	if err := d.invokeTool(ctx, url); err != nil {
		return nil, err
	}

	after, err := report.Snapshot(d.cfg.SourceDir)
	if err != nil {
		return nil, fmt.Errorf("failed to snapshot '%s': %w", d.cfg.SourceDir, err)
	}

	rep := report.Diff(before, after)
	summary := report.Count(rep)
	for _, line := range rep.RawLines {
		plog.AppendRawLine(line)
	}
	for _, line := range summary.Lines() {
		plog.AppendRawLine(line)
	}

	result := &Result{Summary: summary, NewFiles: rep.FilesCreated}
	if !rep.Changed() {
		plog.Info("Download finished without new files.", "url", url)
		return result, nil
	}
	plog.Info("Download finished.", "url", url, "newFiles", len(rep.FilesCreated))

	contextMsg := message
	if contextMsg == "" {
		contextMsg = "Download finished"
	}
	if d.notifier != nil {
		d.notifier.Notify(ctx, summary, contextMsg)
	}

	if d.runner != nil {
		result.SyncTriggered = true
		outcome := d.runner.RunSync(ctx, engine.Resync, "Sync triggered by download")
		result.SyncSucceeded = outcome.Success
		if !outcome.Success {
			plog.Warn("Post-download sync failed.", "error", outcome.ErrorDetail)
		}
	}
	return result, nil
}

// invokeTool runs the downloader subprocess, streaming its combined output
// into the log between start/end markers.
func (d *Downloader) invokeTool(ctx context.Context, url string) error {
	if d.cfg.Download.TimeoutSeconds > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(d.cfg.Download.TimeoutSeconds)*time.Second)
		defer cancel()
	}

	args := append(append([]string{}, d.cfg.Download.Args...), url)
	cmd := d.createCommand(ctx, d.cfg.Download.Command, args...)

	pr, pw := io.Pipe()
	cmd.Stdout = pw
	cmd.Stderr = pw

	tail := make([]string, 0, tailLines)
	drained := make(chan struct{})
	go func() {
		defer close(drained)
		scanner := bufio.NewScanner(pr)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := strings.TrimRight(scanner.Text(), "\r")
			if strings.TrimSpace(line) == "" {
				continue
			}
			plog.AppendRawLine(line)
			if len(tail) == tailLines {
				copy(tail, tail[1:])
				tail = tail[:tailLines-1]
			}
			tail = append(tail, line)
		}
	}()

	plog.AppendRawLine(startMarker)
	plog.Info("Starting download.", "tool", d.cfg.Download.Command, "url", url)

	runErr := cmd.Run()
	pw.Close()
	<-drained
	plog.AppendRawLine(endMarker)

	if runErr == nil {
		return nil
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return &mirror.ToolError{
			Tool:       d.cfg.Download.Command,
			ExitCode:   -1,
			StderrTail: fmt.Sprintf("killed after %ds timeout", d.cfg.Download.TimeoutSeconds),
		}
	}
	toolErr := &mirror.ToolError{
		Tool:       d.cfg.Download.Command,
		ExitCode:   -1,
		StderrTail: strings.Join(tail, "; "),
	}
	var exitErr *exec.ExitError
	if errors.As(runErr, &exitErr) {
		toolErr.ExitCode = exitErr.ExitCode()
	}
	if toolErr.StderrTail == "" {
		toolErr.StderrTail = runErr.Error()
	}
	return toolErr
}
