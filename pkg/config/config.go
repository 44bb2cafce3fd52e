// Package config builds the single configuration struct handed to every
// component at startup. Values are layered: compiled defaults, then the JSON
// config file, then environment variables, then explicitly set command-line
// flags. Nothing reads the environment after Load returns.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/mountsync/mountsync/pkg/buildinfo"
	"github.com/mountsync/mountsync/pkg/flagparse"
	"github.com/mountsync/mountsync/pkg/plog"
	"github.com/mountsync/mountsync/pkg/util"
)

// ConfigFileName is the name of the configuration file.
const ConfigFileName = "mountsync.config.json"

// Mount detection strategies.
const (
	StrategyPoll     = "poll"
	StrategyFsnotify = "fsnotify"
)

// Notification methods.
const (
	NotifyNone      = "none"
	NotifyTelegram  = "telegram"
	NotifySMSLegacy = "sms-legacy"
)

// Sync engines.
const (
	RsyncEngine = "rsync"
)

type SyncConfig struct {
	// Engine selects the external mirroring tool. Only 'rsync' is currently implemented.
	Engine string `json:"engine"`
	// RetryCount is the number of whole-mirror retries after a transient failure
	// (e.g. the destination directory briefly missing right after mount).
	RetryCount       int `json:"retryCount"`
	RetryWaitSeconds int `json:"retryWaitSeconds"`
	// TimeoutSeconds bounds a single mirror tool invocation so a wedged tool
	// cannot hang the daemon.
	TimeoutSeconds int `json:"timeoutSeconds"`
	// SingleFlightWaitSeconds bounds how long a second sync request waits for
	// an in-flight sync before giving up with a busy outcome.
	SingleFlightWaitSeconds int `json:"singleFlightWaitSeconds"`
	// Note: omitempty is intentionally not used so the field appears in a
	// generated config file for better discoverability.
	ExcludePatterns []string `json:"excludePatterns"`
}

type WatchConfig struct {
	// Strategy is 'poll' (periodic mount checks) or 'fsnotify' (path-creation events).
	Strategy              string `json:"strategy"`
	PollIntervalSeconds   int    `json:"pollIntervalSeconds"`
	ResyncIntervalSeconds int    `json:"resyncIntervalSeconds"`
	// StartupGraceSeconds suppresses the first automatic sync right after the
	// daemon starts, so a fresh install does not race its own installer.
	// 0 disables the grace window. Manual syncs are never suppressed.
	StartupGraceSeconds int `json:"startupGraceSeconds"`
}

type TelegramConfig struct {
	BotToken string `json:"botToken"`
	ChatID   string `json:"chatID"`
}

type SMSConfig struct {
	AccountSID         string `json:"accountSID"`
	AuthToken          string `json:"authToken"`
	ToNumber           string `json:"toNumber"`
	MessagingServiceID string `json:"messagingServiceID"`
}

type NotifyConfig struct {
	// Method is 'none', 'telegram' or 'sms-legacy'.
	Method string `json:"method"`
	// OnFailure controls whether a failed sync also sends a notification.
	// The default is false: failures are logged but not pushed.
	OnFailure bool           `json:"onFailure"`
	Telegram  TelegramConfig `json:"telegram"`
	SMS       SMSConfig      `json:"sms"`
}

type ReportsConfig struct {
	// Dir is where compressed raw mirror reports are stored. Empty means
	// a 'reports' directory next to the log file.
	Dir string `json:"dir"`
	// Keep is how many report files are retained (newest first).
	Keep int `json:"keep"`
}

type LogConfig struct {
	// File is the append-only log file shared by all components. Required.
	File       string `json:"file"`
	MaxSizeMB  int    `json:"maxSizeMB"`
	MaxBackups int    `json:"maxBackups"`
}

type DownloadConfig struct {
	// Command is the external download tool executable.
	Command string `json:"command"`
	// Args are passed before the URL (e.g. ["dl"] for 'tidal-dl-ng dl URL').
	Args           []string `json:"args"`
	TimeoutSeconds int      `json:"timeoutSeconds"`
}

type Config struct {
	Version    string         `json:"version"`
	SourceDir  string         `json:"sourceDir"`
	DestDir    string         `json:"destDir"`
	MountPoint string         `json:"mountPoint"`
	LogLevel   string         `json:"logLevel"`
	Log        LogConfig      `json:"log"`
	Sync       SyncConfig     `json:"sync"`
	Watch      WatchConfig    `json:"watch"`
	Notify     NotifyConfig   `json:"notify"`
	Reports    ReportsConfig  `json:"reports"`
	Download   DownloadConfig `json:"download"`
}

// NewDefault returns the compiled-in defaults. Paths are intentionally empty;
// they must come from the config file, the environment or flags.
func NewDefault() Config {
	return Config{
		Version:  buildinfo.Version,
		LogLevel: "info",
		Log: LogConfig{
			MaxSizeMB:  10,
			MaxBackups: 5,
		},
		Sync: SyncConfig{
			Engine:                  RsyncEngine,
			RetryCount:              3,
			RetryWaitSeconds:        2,
			TimeoutSeconds:          1800,
			SingleFlightWaitSeconds: 900,
			ExcludePatterns:         []string{},
		},
		Watch: WatchConfig{
			Strategy:              StrategyPoll,
			PollIntervalSeconds:   5,
			ResyncIntervalSeconds: 600,
			StartupGraceSeconds:   120,
		},
		Notify: NotifyConfig{
			Method:    NotifyNone,
			OnFailure: false,
		},
		Reports: ReportsConfig{
			Keep: 30,
		},
		Download: DownloadConfig{
			Command:        "tidal-dl-ng",
			Args:           []string{"dl"},
			TimeoutSeconds: 3600,
		},
	}
}

// getConfigPath resolves the config file location. It is a var so tests can
// point it somewhere controlled.
var getConfigPath = func() (string, error) {
	configDir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("could not determine user config directory: %w", err)
	}
	return filepath.Join(configDir, "mountsync", ConfigFileName), nil
}

// Load builds the effective configuration from defaults, the config file (if
// present) and environment variables. A missing config file is not an error;
// a malformed one is.
func Load() (Config, error) {
	cfg := NewDefault()

	path, err := getConfigPath()
	if err != nil {
		return Config{}, err
	}

	data, err := os.ReadFile(path)
	if err == nil {
		if err := json.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("could not parse config file %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return Config{}, fmt.Errorf("could not read config file %s: %w", path, err)
	}

	applyEnvOverrides(&cfg)

	// Expand ~ in every path the user may have configured.
	for _, p := range []*string{&cfg.SourceDir, &cfg.DestDir, &cfg.MountPoint, &cfg.Log.File, &cfg.Reports.Dir} {
		expanded, err := util.ExpandPath(*p)
		if err != nil {
			return Config{}, err
		}
		*p = expanded
	}

	if cfg.Reports.Dir == "" && cfg.Log.File != "" {
		cfg.Reports.Dir = filepath.Join(filepath.Dir(cfg.Log.File), "reports")
	}

	return cfg, nil
}

// applyEnvOverrides layers the environment variables documented in the README
// over cfg. These match the variable names the original shell deployment used,
// so an existing .env keeps working when exported.
func applyEnvOverrides(cfg *Config) {
	setString := func(key string, dst *string) {
		if v, ok := os.LookupEnv(key); ok && v != "" {
			*dst = v
		}
	}
	setInt := func(key string, dst *int) {
		if v, ok := os.LookupEnv(key); ok && v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			} else {
				plog.Warn("Ignoring non-numeric environment variable", "key", key, "value", v)
			}
		}
	}
	setBool := func(key string, dst *bool) {
		if v, ok := os.LookupEnv(key); ok && v != "" {
			if b, err := strconv.ParseBool(v); err == nil {
				*dst = b
			} else {
				plog.Warn("Ignoring non-boolean environment variable", "key", key, "value", v)
			}
		}
	}

	setString("SOURCE_DIR", &cfg.SourceDir)
	setString("DEST_DIR", &cfg.DestDir)
	setString("MOUNT_POINT", &cfg.MountPoint)
	setString("LOG_FILE", &cfg.Log.File)
	setInt("RESYNC_INTERVAL_SECONDS", &cfg.Watch.ResyncIntervalSeconds)
	setInt("POLL_INTERVAL_SECONDS", &cfg.Watch.PollIntervalSeconds)
	setString("NOTIFICATION_METHOD", &cfg.Notify.Method)
	setBool("NOTIFY_ON_FAILURE", &cfg.Notify.OnFailure)
	setString("BOT_TOKEN", &cfg.Notify.Telegram.BotToken)
	setString("CHAT_ID", &cfg.Notify.Telegram.ChatID)
	setString("TWILIO_ACCOUNT_SID", &cfg.Notify.SMS.AccountSID)
	setString("TWILIO_AUTH_TOKEN", &cfg.Notify.SMS.AuthToken)
	setString("TO_PHONE_NUMBER", &cfg.Notify.SMS.ToNumber)
	setString("MGS", &cfg.Notify.SMS.MessagingServiceID)
}

// MergeConfigWithFlags applies the explicitly set command-line flags over the
// base configuration and returns the final run config.
func MergeConfigWithFlags(command flagparse.Command, base Config, setFlags map[string]any) Config {
	merged := base

	applyString := func(key string, dst *string) {
		if v, ok := setFlags[key].(string); ok {
			*dst = v
		}
	}
	applyInt := func(key string, dst *int) {
		if v, ok := setFlags[key].(int); ok {
			*dst = v
		}
	}
	applyBool := func(key string, dst *bool) {
		if v, ok := setFlags[key].(bool); ok {
			*dst = v
		}
	}

	applyString("log-level", &merged.LogLevel)
	applyString("notify", &merged.Notify.Method)
	applyBool("notify-on-failure", &merged.Notify.OnFailure)

	switch command {
	case flagparse.Sync, flagparse.Watch:
		applyInt("sync-retry-count", &merged.Sync.RetryCount)
		applyInt("sync-retry-wait", &merged.Sync.RetryWaitSeconds)
		applyInt("sync-timeout", &merged.Sync.TimeoutSeconds)
		if v, ok := setFlags["exclude"].([]string); ok {
			merged.Sync.ExcludePatterns = util.MergeAndDeduplicate(merged.Sync.ExcludePatterns, v)
		}
	}

	if command == flagparse.Watch {
		applyString("strategy", &merged.Watch.Strategy)
		applyInt("poll-interval", &merged.Watch.PollIntervalSeconds)
		applyInt("resync-interval", &merged.Watch.ResyncIntervalSeconds)
		if v, ok := setFlags["grace"].(int); ok && v >= 0 {
			merged.Watch.StartupGraceSeconds = v
		}
	}

	return merged
}

// Validate checks the configuration for a run. The four path keys are fatal
// when missing because every command needs them; checkMount additionally
// requires the mount point (the watcher is meaningless without it).
func (c *Config) Validate(checkMount bool) error {
	if c.SourceDir == "" {
		return fmt.Errorf("SOURCE_DIR is not configured")
	}
	if c.DestDir == "" {
		return fmt.Errorf("DEST_DIR is not configured")
	}
	if c.Log.File == "" {
		return fmt.Errorf("LOG_FILE is not configured")
	}
	if checkMount && c.MountPoint == "" {
		return fmt.Errorf("MOUNT_POINT is not configured")
	}

	if c.Sync.Engine != RsyncEngine {
		return fmt.Errorf("unknown sync engine: %q", c.Sync.Engine)
	}
	if c.Sync.RetryCount < 0 {
		return fmt.Errorf("sync retryCount must not be negative")
	}
	if c.Sync.RetryWaitSeconds < 0 {
		return fmt.Errorf("sync retryWaitSeconds must not be negative")
	}
	if c.Sync.TimeoutSeconds <= 0 {
		return fmt.Errorf("sync timeoutSeconds must be positive")
	}
	if c.Sync.SingleFlightWaitSeconds <= 0 {
		return fmt.Errorf("sync singleFlightWaitSeconds must be positive")
	}

	switch c.Watch.Strategy {
	case StrategyPoll, StrategyFsnotify:
	default:
		return fmt.Errorf("unknown watch strategy: %q", c.Watch.Strategy)
	}
	if c.Watch.PollIntervalSeconds <= 0 {
		return fmt.Errorf("watch pollIntervalSeconds must be positive")
	}
	if c.Watch.ResyncIntervalSeconds <= 0 {
		return fmt.Errorf("watch resyncIntervalSeconds must be positive")
	}
	if c.Watch.StartupGraceSeconds < 0 {
		return fmt.Errorf("watch startupGraceSeconds must not be negative")
	}

	switch c.Notify.Method {
	case NotifyNone:
	case NotifyTelegram:
		if c.Notify.Telegram.BotToken == "" || c.Notify.Telegram.ChatID == "" {
			return fmt.Errorf("telegram notifications require BOT_TOKEN and CHAT_ID")
		}
	case NotifySMSLegacy:
		if c.Notify.SMS.AccountSID == "" || c.Notify.SMS.AuthToken == "" {
			return fmt.Errorf("sms-legacy notifications require TWILIO_ACCOUNT_SID and TWILIO_AUTH_TOKEN")
		}
		if c.Notify.SMS.ToNumber == "" || c.Notify.SMS.MessagingServiceID == "" {
			return fmt.Errorf("sms-legacy notifications require TO_PHONE_NUMBER and MGS")
		}
	default:
		return fmt.Errorf("unknown notification method: %q", c.Notify.Method)
	}

	if c.Reports.Keep < 0 {
		return fmt.Errorf("reports keep must not be negative")
	}
	if c.Download.Command == "" {
		return fmt.Errorf("download command is not configured")
	}

	return nil
}

// LogSummary logs the effective configuration at startup. Credentials are
// reported only as present/absent.
func (c *Config) LogSummary() {
	plog.Info("Configuration",
		"source", c.SourceDir,
		"dest", c.DestDir,
		"mountPoint", c.MountPoint,
		"logFile", c.Log.File,
	)
	plog.Info("Sync settings",
		"engine", c.Sync.Engine,
		"retryCount", c.Sync.RetryCount,
		"retryWait", fmt.Sprintf("%ds", c.Sync.RetryWaitSeconds),
		"timeout", fmt.Sprintf("%ds", c.Sync.TimeoutSeconds),
		"excludes", strings.Join(c.Sync.ExcludePatterns, ","),
	)
	plog.Info("Watch settings",
		"strategy", c.Watch.Strategy,
		"pollInterval", fmt.Sprintf("%ds", c.Watch.PollIntervalSeconds),
		"resyncInterval", fmt.Sprintf("%ds", c.Watch.ResyncIntervalSeconds),
		"startupGrace", fmt.Sprintf("%ds", c.Watch.StartupGraceSeconds),
	)
	plog.Info("Notification settings",
		"method", c.Notify.Method,
		"onFailure", c.Notify.OnFailure,
		"credentials", credentialState(c.Notify),
	)
}

func credentialState(n NotifyConfig) string {
	switch n.Method {
	case NotifyTelegram:
		if n.Telegram.BotToken != "" && n.Telegram.ChatID != "" {
			return "present"
		}
		return "missing"
	case NotifySMSLegacy:
		if n.SMS.AccountSID != "" && n.SMS.AuthToken != "" && n.SMS.ToNumber != "" && n.SMS.MessagingServiceID != "" {
			return "present"
		}
		return "missing"
	default:
		return "n/a"
	}
}
