package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/mountsync/mountsync/pkg/buildinfo"
	"github.com/mountsync/mountsync/pkg/engine"
	"github.com/mountsync/mountsync/pkg/flagparse"
	"github.com/mountsync/mountsync/pkg/plog"
)

// RunSync executes one manual sync. Exit code semantics live in the
// returned error: nil for success, including "nothing changed".
func RunSync(ctx context.Context, flagMap map[string]any) error {
	runConfig, err := loadRunConfig(flagparse.Sync, flagMap, false)
	if err != nil {
		return err
	}

	mode := engine.Initial
	if resync, ok := flagMap["resync"].(bool); ok && resync {
		mode = engine.Resync
	}
	message, _ := flagMap["message"].(string)

	runner, _, err := newRunner(&runConfig)
	if err != nil {
		return err
	}

	startTime := time.Now()
	outcome := runner.RunSync(ctx, mode, message)
	duration := time.Since(startTime).Round(time.Millisecond)

	if !outcome.Success {
		return fmt.Errorf("sync failed: %s", outcome.ErrorDetail)
	}

	plog.Info(buildinfo.Name+" sync finished successfully.",
		"mode", mode.String(), "changed", outcome.Changed, "duration", duration)
	return nil
}
