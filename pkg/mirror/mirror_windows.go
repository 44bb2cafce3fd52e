//go:build windows

package mirror

import (
	"context"
	"os/exec"

	"golang.org/x/sys/windows"
)

// createCommand creates an exec.Cmd for the mirror tool on Windows.
func (i *Invoker) createCommand(ctx context.Context, name string, arg ...string) *exec.Cmd {
	cmd := i.commandContext(ctx, name, arg...)
	// A new process group ensures that on cancellation the entire process
	// tree is terminated, not just the tool itself.
	cmd.SysProcAttr = &windows.SysProcAttr{CreationFlags: windows.CREATE_NEW_PROCESS_GROUP}
	return cmd
}
