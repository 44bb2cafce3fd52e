package cmd

import (
	"context"
	"fmt"

	"github.com/mountsync/mountsync/pkg/download"
	"github.com/mountsync/mountsync/pkg/flagparse"
	"github.com/mountsync/mountsync/pkg/plog"
)

// RunDownload runs the external download tool against the given URL and,
// when it produced new files, pushes them to the drive with a resync.
func RunDownload(ctx context.Context, flagMap map[string]any) error {
	url, ok := flagMap["url"].(string)
	if !ok || url == "" {
		return fmt.Errorf("the download command requires a URL argument")
	}
	message, _ := flagMap["message"].(string)

	runConfig, err := loadRunConfig(flagparse.Download, flagMap, false)
	if err != nil {
		return err
	}

	runner, notifier, err := newRunner(&runConfig)
	if err != nil {
		return err
	}

	downloader := download.New(&runConfig, runner, notifier, nil)
	result, err := downloader.Run(ctx, url, message)
	if err != nil {
		return fmt.Errorf("download failed: %w", err)
	}

	plog.Info("Download finished.",
		"newFiles", len(result.NewFiles), "syncTriggered", result.SyncTriggered)
	if result.SyncTriggered && !result.SyncSucceeded {
		return fmt.Errorf("download succeeded but the follow-up sync failed")
	}
	return nil
}
