// Package mirror wraps the external mirroring tool. It runs the tool as a
// subprocess, bounds it with a timeout, and parses its itemized output into a
// structured change report. All text parsing of tool output lives here so the
// orchestration layer never depends on the tool's exact format.
package mirror

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/mountsync/mountsync/pkg/plog"
	"github.com/mountsync/mountsync/pkg/report"
)

// stderrTailLines is how many trailing stderr lines are preserved in a ToolError.
const stderrTailLines = 10

// ToolError reports a failed tool invocation. ExitCode is -1 when the tool
// could not be started at all (not installed, not executable).
type ToolError struct {
	Tool       string
	ExitCode   int
	StderrTail string
}

func (e *ToolError) Error() string {
	if e.ExitCode == -1 {
		return fmt.Sprintf("%s could not be started: %s", e.Tool, e.StderrTail)
	}
	if e.StderrTail == "" {
		return fmt.Sprintf("%s exited with code %d", e.Tool, e.ExitCode)
	}
	return fmt.Sprintf("%s exited with code %d: %s", e.Tool, e.ExitCode, e.StderrTail)
}

// Invoker runs the configured mirroring engine.
type Invoker struct {
	engine  Engine
	timeout time.Duration

	// commandContext allows mocking os/exec for testing.
	commandContext func(ctx context.Context, name string, arg ...string) *exec.Cmd
}

// NewInvoker creates an Invoker for the given engine. A zero timeout disables
// the bound. commandContext may be nil, in which case exec.CommandContext is
// used.
func NewInvoker(engine Engine, timeout time.Duration, commandContext func(ctx context.Context, name string, arg ...string) *exec.Cmd) *Invoker {
	if commandContext == nil {
		commandContext = exec.CommandContext
	}
	return &Invoker{
		engine:         engine,
		timeout:        timeout,
		commandContext: commandContext,
	}
}

// Mirror runs one mirror operation from sourceDir onto destDir and returns the
// parsed change report. On any tool failure it returns a *ToolError and no
// report; partial output from a failed run is never surfaced.
func (i *Invoker) Mirror(ctx context.Context, sourceDir, destDir string, excludePatterns []string) (*report.ChangeReport, error) {
	if i.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, i.timeout)
		defer cancel()
	}

	var name string
	var args []string
	switch i.engine {
	case Rsync:
		name = "rsync"
		args = rsyncArgs(sourceDir, destDir, excludePatterns)
	default:
		return nil, fmt.Errorf("unknown mirror engine configured: %v", i.engine)
	}

	plog.Info("Starting mirror", "tool", name, "source", sourceDir, "dest", destDir)

	var stdout, stderr bytes.Buffer
	cmd := i.createCommand(ctx, name, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return nil, &ToolError{
				Tool:       name,
				ExitCode:   exitCode(err),
				StderrTail: fmt.Sprintf("killed after %s timeout", i.timeout),
			}
		}
		detail := tail(stderr.String(), stderrTailLines)
		if detail == "" {
			// Start failures (tool not installed) produce no stderr.
			detail = err.Error()
		}
		return nil, &ToolError{
			Tool:       name,
			ExitCode:   exitCode(err),
			StderrTail: detail,
		}
	}

	switch i.engine {
	case Rsync:
		return parseRsyncOutput(stdout.String()), nil
	default:
		return nil, fmt.Errorf("unknown mirror engine configured: %v", i.engine)
	}
}

// exitCode extracts the process exit code from a cmd.Run error, -1 if the
// process never started.
func exitCode(err error) int {
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}

// tail returns the last n non-empty lines of s, joined with "; ".
func tail(s string, n int) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	kept := make([]string, 0, n)
	for _, line := range lines {
		if strings.TrimSpace(line) != "" {
			kept = append(kept, strings.TrimSpace(line))
		}
	}
	if len(kept) > n {
		kept = kept[len(kept)-n:]
	}
	return strings.Join(kept, "; ")
}
