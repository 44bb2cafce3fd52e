// Package cmd implements the subcommands of the mountsync binary. Each
// Run* function owns one subcommand end to end: configuration loading,
// flag merging, validation, logging setup and execution.
package cmd

import (
	"fmt"
	"time"

	"github.com/mountsync/mountsync/pkg/config"
	"github.com/mountsync/mountsync/pkg/engine"
	"github.com/mountsync/mountsync/pkg/flagparse"
	"github.com/mountsync/mountsync/pkg/mirror"
	"github.com/mountsync/mountsync/pkg/notify"
	"github.com/mountsync/mountsync/pkg/plog"
	"github.com/mountsync/mountsync/pkg/reportarchive"
)

// loadRunConfig builds the effective configuration for one invocation:
// config file, environment overrides, then explicitly set flags on top.
// It also configures the global logger from the result.
func loadRunConfig(command flagparse.Command, flagMap map[string]any, checkMount bool) (config.Config, error) {
	loadedConfig, err := config.Load()
	if err != nil {
		return config.Config{}, fmt.Errorf("failed to load configuration: %w", err)
	}

	runConfig := config.MergeConfigWithFlags(command, loadedConfig, flagMap)

	if err := runConfig.Validate(checkMount); err != nil {
		return config.Config{}, err
	}

	plog.SetLevel(plog.LevelFromString(runConfig.LogLevel))
	plog.SetupFile(runConfig.Log.File, runConfig.Log.MaxSizeMB, runConfig.Log.MaxBackups)
	runConfig.LogSummary()

	return runConfig, nil
}

// newRunner wires the sync collaborators for the given configuration and
// returns the runner together with the notifier, which the download
// command also uses on its own.
func newRunner(runConfig *config.Config) (*engine.Runner, *notify.Notifier, error) {
	mirrorEngine, err := mirror.ParseEngine(runConfig.Sync.Engine)
	if err != nil {
		return nil, nil, err
	}
	invoker := mirror.NewInvoker(mirrorEngine,
		time.Duration(runConfig.Sync.TimeoutSeconds)*time.Second, nil)

	transport, err := notify.NewTransport(runConfig.Notify)
	if err != nil {
		return nil, nil, err
	}
	notifier := notify.New(transport, runConfig.Notify.OnFailure)

	archive := reportarchive.New(runConfig.Reports.Dir, runConfig.Reports.Keep)

	return engine.New(runConfig, invoker, notifier, archive, nil), notifier, nil
}
