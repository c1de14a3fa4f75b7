package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/adrg/xdg"
	"github.com/spf13/viper"
)

// appName names the XDG subdirectories and the environment prefix.
const appName = "imgsweep"

// RotationConfig configures log file rotation.
type RotationConfig struct {
	MaxSize    string `mapstructure:"max_size"`
	MaxAge     int    `mapstructure:"max_age"`
	MaxBackups int    `mapstructure:"max_backups"`
	Daily      bool   `mapstructure:"daily"`
}

// LoggingConfig configures application logging.
type LoggingConfig struct {
	Level      string            `mapstructure:"level"`
	Path       string            `mapstructure:"path"`
	Rotation   RotationConfig    `mapstructure:"rotation"`
	Components map[string]string `mapstructure:"components"`
}

// RemoteConfig configures the remote optimization API.
type RemoteConfig struct {
	Endpoint string `mapstructure:"endpoint"`
	Quality  int    `mapstructure:"quality"`
	Exif     bool   `mapstructure:"exif"`
	MaxSize  string `mapstructure:"max_size"`
	Timeout  int    `mapstructure:"timeout"` // seconds
}

// Config represents the application configuration.
type Config struct {
	TmpDir              string       `mapstructure:"tmp_dir"`
	Exclude             []string     `mapstructure:"exclude"`
	Backup              bool         `mapstructure:"backup"`
	RestoreOnRegression bool         `mapstructure:"restore_on_regression"`
	TimeMarker          string       `mapstructure:"time_marker"`
	Output              string       `mapstructure:"output"`
	Remote              RemoteConfig `mapstructure:"remote"`
	Cache               struct {
		Enabled bool   `mapstructure:"enabled"`
		Path    string `mapstructure:"path"`
	} `mapstructure:"cache"`
	History struct {
		Enabled       bool   `mapstructure:"enabled"`
		Path          string `mapstructure:"path"`
		RetentionDays int    `mapstructure:"retention_days"`
	} `mapstructure:"history"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// Load loads configuration from file and environment variables.
// Config file locations (in order of precedence):
//   - $XDG_CONFIG_HOME/imgsweep/config.yaml
//   - $HOME/.config/imgsweep/config.yaml
//
// Environment variables are prefixed with IMGSWEEP_ (e.g., IMGSWEEP_TMP_DIR).
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")

	if xdgConfigHome := os.Getenv("XDG_CONFIG_HOME"); xdgConfigHome != "" {
		v.AddConfigPath(filepath.Join(xdgConfigHome, appName))
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("failed to get user home directory: %w", err)
	}
	v.AddConfigPath(filepath.Join(homeDir, ".config", appName))

	v.SetEnvPrefix("IMGSWEEP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	SetDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	return FromViper(v)
}

// FromViper decodes a typed Config from an already populated viper instance.
// The CLI uses this with the global instance so bound flags take effect.
func FromViper(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	for _, p := range []*string{&cfg.TmpDir, &cfg.TimeMarker, &cfg.Cache.Path, &cfg.History.Path, &cfg.Logging.Path} {
		expanded, err := ExpandPath(*p)
		if err != nil {
			return nil, err
		}
		*p = expanded
	}

	if cfg.TmpDir == "" {
		cfg.TmpDir = DefaultTmpDir()
	}
	if cfg.TimeMarker == "" {
		cfg.TimeMarker = filepath.Join(cfg.TmpDir, MarkerFileName)
	}

	return &cfg, nil
}

// SetDefaults registers every default value on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("tmp_dir", DefaultTmpDir())
	v.SetDefault("exclude", DefaultExclusions)
	v.SetDefault("backup", true)
	v.SetDefault("restore_on_regression", true)
	v.SetDefault("time_marker", "")
	v.SetDefault("output", DefaultOutput)

	v.SetDefault("remote.endpoint", "http://api.resmush.it/ws.php")
	v.SetDefault("remote.quality", DefaultRemoteQuality)
	v.SetDefault("remote.exif", false)
	v.SetDefault("remote.max_size", DefaultRemoteMaxSize)
	v.SetDefault("remote.timeout", 120)

	v.SetDefault("cache.enabled", false)
	v.SetDefault("cache.path", DefaultCachePath())

	v.SetDefault("history.enabled", true)
	v.SetDefault("history.path", DefaultHistoryDir())
	v.SetDefault("history.retention_days", DefaultRetentionDays)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.path", "")
	v.SetDefault("logging.rotation.max_size", "10MB")
	v.SetDefault("logging.rotation.max_age", 30)
	v.SetDefault("logging.rotation.max_backups", 5)
	v.SetDefault("logging.rotation.daily", true)
	v.SetDefault("logging.components", map[string]string{
		"runner":  "info",
		"tools":   "info",
		"lock":    "info",
		"remote":  "info",
		"watcher": "warn",
	})
}

// ConfigDir returns the configuration directory path.
func ConfigDir() (string, error) {
	if xdgConfigHome := os.Getenv("XDG_CONFIG_HOME"); xdgConfigHome != "" {
		return filepath.Join(xdgConfigHome, appName), nil
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user home directory: %w", err)
	}

	return filepath.Join(homeDir, ".config", appName), nil
}

// ConfigPath returns the full path of the YAML config file.
func ConfigPath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.yaml"), nil
}

// EnsureConfigDir creates the config directory if it doesn't exist.
func EnsureConfigDir() error {
	dir, err := ConfigDir()
	if err != nil {
		return err
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	return nil
}

// WriteDefault writes a default config file if none exists.
// Returns nil if a config file already exists.
func WriteDefault() error {
	if err := EnsureConfigDir(); err != nil {
		return err
	}

	configPath, err := ConfigPath()
	if err != nil {
		return err
	}

	if _, err := os.Stat(configPath); err == nil {
		return nil
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("failed to check config file: %w", err)
	}

	defaultConfig := fmt.Sprintf(`# imgsweep configuration

# Scratch directory for backups, the shared lock file and status files
tmp_dir: %s

# Path substrings excluded from discovery
exclude: []

# Keep a backup of every file while it is being optimized
backup: true

# Restore the original when the optimized file is not smaller
restore_on_regression: true

# Time marker used by --new-only (empty means <tmp_dir>/%s)
time_marker: ""

# Summary format: pretty, plain, json
output: %s

# Remote optimization (--remote)
remote:
  endpoint: http://api.resmush.it/ws.php
  quality: %d
  exif: false
  max_size: %s
  timeout: 120      # seconds

# Skip files recorded as optimized by a previous run (--use-cache)
cache:
  enabled: false
  path: %s

# Run history
history:
  enabled: true
  path: %s
  retention_days: %d

# Logging configuration
logging:
  # Log level: debug, info, warn, error
  level: info
  # Log file path (empty means use default: $XDG_STATE_HOME/imgsweep/imgsweep.log)
  path: ""
  rotation:
    max_size: 10MB
    max_age: 30       # days
    max_backups: 5
    daily: true
  components:
    runner: info
    tools: info
    lock: info
    remote: info
    watcher: warn
`, DefaultTmpDir(), MarkerFileName, DefaultOutput, DefaultRemoteQuality, DefaultRemoteMaxSize,
		DefaultCachePath(), DefaultHistoryDir(), DefaultRetentionDays)

	if err := os.WriteFile(configPath, []byte(defaultConfig), 0o644); err != nil {
		return fmt.Errorf("failed to write default config: %w", err)
	}

	return nil
}

// ExpandPath expands ~ in a path to the user's home directory.
func ExpandPath(path string) (string, error) {
	if !strings.HasPrefix(path, "~") {
		return path, nil
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user home directory: %w", err)
	}

	return filepath.Join(homeDir, path[1:]), nil
}

// DefaultTmpDir returns the shared scratch directory. It lives under the
// system temp dir so concurrent invocations against different targets see
// the same lock file.
func DefaultTmpDir() string {
	return filepath.Join(os.TempDir(), appName)
}

// StateDir returns $XDG_STATE_HOME/imgsweep/ for log files.
func StateDir() string {
	return filepath.Join(xdg.StateHome, appName)
}

// DataDir returns $XDG_DATA_HOME/imgsweep/ for run history.
func DataDir() string {
	return filepath.Join(xdg.DataHome, appName)
}

// CacheDir returns $XDG_CACHE_HOME/imgsweep/.
func CacheDir() string {
	return filepath.Join(xdg.CacheHome, appName)
}

// DefaultLogPath returns the default log file path.
func DefaultLogPath() string {
	return filepath.Join(StateDir(), "imgsweep.log")
}

// DefaultCachePath returns the default optimized-file cache location.
func DefaultCachePath() string {
	return filepath.Join(CacheDir(), "optimized")
}

// DefaultHistoryDir returns the default run history directory.
func DefaultHistoryDir() string {
	return filepath.Join(DataDir(), "history")
}

// EnsureTmpDir creates the tmp directory if it doesn't exist.
func EnsureTmpDir(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating tmp directory: %w", err)
	}
	return nil
}
