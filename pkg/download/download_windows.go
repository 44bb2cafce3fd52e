//go:build windows

package download

import (
	"context"
	"os/exec"

	"golang.org/x/sys/windows"
)

// createCommand creates an exec.Cmd for the download tool on Windows.
func (d *Downloader) createCommand(ctx context.Context, name string, arg ...string) *exec.Cmd {
	cmd := d.commandContext(ctx, name, arg...)
	cmd.SysProcAttr = &windows.SysProcAttr{CreationFlags: windows.CREATE_NEW_PROCESS_GROUP}
	return cmd
}
