//go:build !windows

package mirror

import (
	"context"
	"os/exec"

	"golang.org/x/sys/unix"
)

// createCommand creates an exec.Cmd for the mirror tool on Unix-like systems.
func (i *Invoker) createCommand(ctx context.Context, name string, arg ...string) *exec.Cmd {
	cmd := i.commandContext(ctx, name, arg...)
	// Create a new process group so that cancellation can terminate the tool
	// together with any child processes it spawned.
	cmd.SysProcAttr = &unix.SysProcAttr{Setpgid: true}
	return cmd
}
