//go:build !windows

package download

import (
	"context"
	"os/exec"

	"golang.org/x/sys/unix"
)

// createCommand creates an exec.Cmd for the download tool on Unix-like
// systems.
func (d *Downloader) createCommand(ctx context.Context, name string, arg ...string) *exec.Cmd {
	cmd := d.commandContext(ctx, name, arg...)
	// A new process group lets cancellation take down the tool together
	// with any helpers it spawned.
	cmd.SysProcAttr = &unix.SysProcAttr{Setpgid: true}
	return cmd
}
