package flagparse

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/mountsync/mountsync/pkg/buildinfo"
)

// cliFlags holds pointers to all possible command-line flags.
// Fields are pointers so we can distinguish between "not registered for this command" (nil)
// and "registered but not set by user" (non-nil pointer to zero value).
type cliFlags struct {
	// Global
	LogLevel *string

	// Sync
	Initial *bool
	Resync  *bool
	Message *string

	SyncRetryCount *int
	SyncRetryWait  *int
	SyncTimeout    *int
	Excludes       *string
	NotifyMethod   *string
	NotifyFailure  *bool

	// Watch
	Strategy       *string
	PollInterval   *int
	ResyncInterval *int
	Grace          *int
}

func registerGlobalFlags(fs *flag.FlagSet, f *cliFlags) {
	f.LogLevel = fs.String("log-level", "info", "Set the logging level: 'debug', 'info', 'warn', 'error'.")
	f.NotifyMethod = fs.String("notify", "", "Notification method: 'none', 'telegram', 'sms-legacy'.")
	f.NotifyFailure = fs.Bool("notify-on-failure", false, "Also send a notification when a sync fails.")
}

func registerSyncFlags(fs *flag.FlagSet, f *cliFlags) {
	f.Initial = fs.Bool("initial", false, "Run an initial sync (the kind triggered when the drive is first mounted). Default when neither mode flag is set.")
	f.Resync = fs.Bool("resync", false, "Run a resync (the kind triggered periodically while the drive stays mounted).")
	f.Message = fs.String("message", "", "Optional message to log before the sync starts.")
	f.SyncRetryCount = fs.Int("sync-retry-count", 0, "Number of retries when the mirror tool fails transiently.")
	f.SyncRetryWait = fs.Int("sync-retry-wait", 0, "Seconds to wait between mirror retries.")
	f.SyncTimeout = fs.Int("sync-timeout", 0, "Maximum seconds a single mirror tool invocation may run.")
	f.Excludes = fs.String("exclude", "", "Comma-separated list of patterns to exclude from the mirror.")
}

func registerWatchFlags(fs *flag.FlagSet, f *cliFlags) {
	f.Strategy = fs.String("strategy", "", "Mount detection strategy: 'poll' or 'fsnotify'.")
	f.PollInterval = fs.Int("poll-interval", 0, "Seconds between mount-point checks in poll mode.")
	f.ResyncInterval = fs.Int("resync-interval", 0, "Seconds between periodic resyncs while the drive stays mounted.")
	f.Grace = fs.Int("grace", -1, "Seconds after daemon start during which the first automatic sync is suppressed (0 disables).")
	// Watch shares the sync tuning flags since it drives syncs itself.
	f.SyncRetryCount = fs.Int("sync-retry-count", 0, "Number of retries when the mirror tool fails transiently.")
	f.SyncRetryWait = fs.Int("sync-retry-wait", 0, "Seconds to wait between mirror retries.")
	f.SyncTimeout = fs.Int("sync-timeout", 0, "Maximum seconds a single mirror tool invocation may run.")
	f.Excludes = fs.String("exclude", "", "Comma-separated list of patterns to exclude from the mirror.")
}

func registerDownloadFlags(fs *flag.FlagSet, f *cliFlags) {
	f.Message = fs.String("message", "", "Optional message to log before the download starts.")
}

// Parse parses the provided arguments (usually os.Args[1:]) and returns the
// command and a map of the flags the user explicitly set. Positional
// arguments (the download URL) are stored under the "url" key.
func Parse(args []string) (Command, map[string]any, error) {
	// If no arguments provided, print help and exit.
	if len(args) == 0 {
		fs := flag.NewFlagSet("main", flag.ContinueOnError)
		printTopLevelUsage(fs)
		return None, nil, nil
	}

	cmdStr := strings.ToLower(args[0])

	if cmdStr == "help" || cmdStr == "-h" || cmdStr == "-help" || cmdStr == "--help" {
		fs := flag.NewFlagSet("main", flag.ContinueOnError)
		printTopLevelUsage(fs)
		return None, nil, nil
	}

	f := &cliFlags{}

	command, err := ParseCommand(cmdStr)
	if err != nil {
		return None, nil, err
	}

	switch command {
	case Sync:
		fs := flag.NewFlagSet(command.String(), flag.ContinueOnError)
		registerGlobalFlags(fs, f)
		registerSyncFlags(fs, f)

		fs.Usage = func() {
			printSubcommandUsage(command, "Mirror the source directory onto the destination once.", fs)
		}

		if err := fs.Parse(args[1:]); err != nil {
			return command, nil, err
		}
		if *f.Initial && *f.Resync {
			return command, nil, fmt.Errorf("-initial and -resync are mutually exclusive")
		}
		flagMap := flagsToMap(fs, f)
		return command, flagMap, nil

	case Watch:
		fs := flag.NewFlagSet(command.String(), flag.ContinueOnError)
		registerGlobalFlags(fs, f)
		registerWatchFlags(fs, f)

		fs.Usage = func() {
			printSubcommandUsage(command, "Run the mount-watcher daemon.", fs)
		}

		if err := fs.Parse(args[1:]); err != nil {
			return command, nil, err
		}
		flagMap := flagsToMap(fs, f)
		return command, flagMap, nil

	case Download:
		fs := flag.NewFlagSet(command.String(), flag.ContinueOnError)
		registerGlobalFlags(fs, f)
		registerDownloadFlags(fs, f)

		fs.Usage = func() {
			printSubcommandUsage(command, "Run the external download tool and sync the result.", fs)
		}

		if err := fs.Parse(args[1:]); err != nil {
			return command, nil, err
		}
		if fs.NArg() < 1 {
			return command, nil, fmt.Errorf("the download command requires a URL argument")
		}
		flagMap := flagsToMap(fs, f)
		flagMap["url"] = fs.Arg(0)
		return command, flagMap, nil

	case Version:
		return command, nil, nil

	default:
		return None, nil, fmt.Errorf("unknown command: %s", args[0])
	}
}

func flagsToMap(fs *flag.FlagSet, f *cliFlags) map[string]any {
	// Create a map of the flags that were explicitly set by the user, along with their values.
	// This map is used to selectively override the base configuration.
	usedFlags := make(map[string]bool)
	fs.Visit(func(fl *flag.Flag) { usedFlags[fl.Name] = true })

	flagMap := make(map[string]any)

	addIfUsed(flagMap, usedFlags, "log-level", f.LogLevel)
	addIfUsed(flagMap, usedFlags, "notify", f.NotifyMethod)
	addIfUsed(flagMap, usedFlags, "notify-on-failure", f.NotifyFailure)

	addIfUsed(flagMap, usedFlags, "initial", f.Initial)
	addIfUsed(flagMap, usedFlags, "resync", f.Resync)
	addIfUsed(flagMap, usedFlags, "message", f.Message)
	addIfUsed(flagMap, usedFlags, "sync-retry-count", f.SyncRetryCount)
	addIfUsed(flagMap, usedFlags, "sync-retry-wait", f.SyncRetryWait)
	addIfUsed(flagMap, usedFlags, "sync-timeout", f.SyncTimeout)

	addIfUsed(flagMap, usedFlags, "strategy", f.Strategy)
	addIfUsed(flagMap, usedFlags, "poll-interval", f.PollInterval)
	addIfUsed(flagMap, usedFlags, "resync-interval", f.ResyncInterval)
	addIfUsed(flagMap, usedFlags, "grace", f.Grace)

	addParsedIfUsed(flagMap, usedFlags, "exclude", f.Excludes, ParseExcludeList)

	return flagMap
}

// addIfUsed adds the value of ptr to flagMap if ptr is not nil and the flag was set.
func addIfUsed[T any](flagMap map[string]any, usedFlags map[string]bool, name string, ptr *T) {
	if ptr != nil && usedFlags[name] {
		flagMap[name] = *ptr
	}
}

// addParsedIfUsed adds the parsed value of ptr to flagMap if ptr is not nil and the flag was set.
func addParsedIfUsed(flagMap map[string]any, usedFlags map[string]bool, name string, ptr *string, parser func(string) []string) {
	if ptr != nil && usedFlags[name] {
		flagMap[name] = parser(*ptr)
	}
}

// printTopLevelUsage prints the main help message.
func printTopLevelUsage(fs *flag.FlagSet) {
	execName := filepath.Base(os.Args[0])
	fmt.Fprintf(fs.Output(), "%s(%s) ", buildinfo.Name, buildinfo.Version)
	fmt.Fprintf(fs.Output(), "Watches for a drive mount and mirrors a music library onto it.\n\n")
	fmt.Fprintf(fs.Output(), "Usage: %s <command> [flags]\n\n", execName)
	fmt.Fprintf(fs.Output(), "Commands:\n")
	fmt.Fprintf(fs.Output(), "  sync        Mirror the source directory onto the destination once\n")
	fmt.Fprintf(fs.Output(), "  watch       Run the mount-watcher daemon\n")
	fmt.Fprintf(fs.Output(), "  download    Run the external download tool and sync the result\n")
	fmt.Fprintf(fs.Output(), "  version     Print the application version\n")
	fmt.Fprintf(fs.Output(), "\nRun '%s <command> -help' for more information on a command.\n", execName)
}

// printSubcommandUsage prints the help message for a specific subcommand.
func printSubcommandUsage(command Command, desc string, fs *flag.FlagSet) {
	execName := filepath.Base(os.Args[0])
	fmt.Fprintf(fs.Output(), "%s(%s) ", buildinfo.Name, buildinfo.Version)
	fmt.Fprintf(fs.Output(), "Watches for a drive mount and mirrors a music library onto it.\n\n")
	fmt.Fprintf(fs.Output(), "Usage of the %s command: %s %s [flags]\n\n", command, execName, command)
	fmt.Fprintf(fs.Output(), "%s\n\n", desc)
	fmt.Fprintf(fs.Output(), "Flags:\n")
	fs.PrintDefaults()
}

// ParseExcludeList parses a comma-separated list of file or directory patterns.
// Quotes may be used to group items containing commas or spaces and are removed
// from the output. Backslashes are kept literal for Windows path compatibility.
func ParseExcludeList(s string) []string {
	var list []string
	var current strings.Builder
	var quoteChar rune

	appendItem := func() {
		trimmed := strings.TrimSpace(current.String())
		if trimmed != "" {
			list = append(list, trimmed)
		}
		current.Reset()
	}

	for _, r := range s {
		switch {
		case quoteChar != 0:
			if r == quoteChar {
				quoteChar = 0
			} else {
				current.WriteRune(r)
			}
		case r == '\'' || r == '"':
			quoteChar = r
		case r == ',':
			appendItem()
		default:
			current.WriteRune(r)
		}
	}
	appendItem()

	return list
}
