package cmd

import (
	"context"

	"github.com/mountsync/mountsync/pkg/flagparse"
	"github.com/mountsync/mountsync/pkg/watcher"
)

// RunWatch starts the mount-watcher daemon and blocks until the context
// is cancelled. A missing mount point is fatal here: the daemon is
// meaningless without one.
func RunWatch(ctx context.Context, flagMap map[string]any) error {
	runConfig, err := loadRunConfig(flagparse.Watch, flagMap, true)
	if err != nil {
		return err
	}

	runner, _, err := newRunner(&runConfig)
	if err != nil {
		return err
	}

	return watcher.New(&runConfig, runner, nil).Run(ctx)
}
