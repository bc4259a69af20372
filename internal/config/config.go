package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/Iron-Ham/xflow/internal/logging"
	"github.com/Iron-Ham/xflow/internal/remote"
)

// FileName is the name of the config file looked up in the project
// directory and the user config directory.
const FileName = "config.yaml"

// EnvPrefix prefixes environment variable overrides, e.g. XFLOW_EXEC_TERM.
const EnvPrefix = "XFLOW"

// Config represents the complete xflow configuration
type Config struct {
	Connect  ConnectConfig  `mapstructure:"connect"`
	Exec     ExecConfig     `mapstructure:"exec"`
	Transfer TransferConfig `mapstructure:"transfer"`
	Pipeline PipelineConfig `mapstructure:"pipeline"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Console  ConsoleConfig  `mapstructure:"console"`
}

// ConnectConfig controls how node connections are opened
type ConnectConfig struct {
	// Timeout bounds opening a connection (default: 10s)
	Timeout time.Duration `mapstructure:"timeout"`
	// KnownHosts is an OpenSSH known_hosts file used to verify SSH host keys.
	// Empty accepts any host key.
	KnownHosts string `mapstructure:"known_hosts"`
}

// ExecConfig controls the command execution protocol
type ExecConfig struct {
	// PollInterval is how long a read waits for output before the loop
	// checks for cancellation (default: 100ms)
	PollInterval time.Duration `mapstructure:"poll_interval"`
	// ReadSize is the size of each read from the command channel in bytes
	ReadSize int `mapstructure:"read_size"`
	// PtyWidth and PtyHeight size the pseudo-terminal commands run under
	PtyWidth  int `mapstructure:"pty_width"`
	PtyHeight int `mapstructure:"pty_height"`
	// Term is the TERM value requested with the pty (default: "xterm")
	Term string `mapstructure:"term"`
}

// TransferConfig controls file transfers
type TransferConfig struct {
	// ProgressInterval is the minimum time between two progress lines for a
	// file. The final 100% line is always emitted. (default: 3s)
	ProgressInterval time.Duration `mapstructure:"progress_interval"`
}

// PipelineConfig controls pipeline runs
type PipelineConfig struct {
	// MaxParallel bounds how many nodes a stage runs on at once (0 = unlimited)
	MaxParallel int `mapstructure:"max_parallel"`
	// KeepOnSuccess skips removing working directories and ephemeral
	// containers after a successful run. Failed runs are never cleaned up.
	KeepOnSuccess bool `mapstructure:"keep_on_success"`
}

// LoggingConfig controls the structured run log
type LoggingConfig struct {
	// Enabled writes xflow.log into each run's local directory (default: true)
	Enabled bool `mapstructure:"enabled"`
	// Level is the minimum level written: debug, info, warn or error
	Level string `mapstructure:"level"`
	// MaxSizeMB is the size at which the log file is rotated
	MaxSizeMB int `mapstructure:"max_size_mb"`
	// MaxBackups is the number of rotated files kept
	MaxBackups int `mapstructure:"max_backups"`
	// Compress gzips rotated files
	Compress bool `mapstructure:"compress"`
}

// ConsoleConfig controls the live console output
type ConsoleConfig struct {
	// Color styles console output when stdout is a terminal (default: true)
	Color bool `mapstructure:"color"`
}

// Default returns a Config with sensible default values
func Default() *Config {
	settings := remote.DefaultSettings()
	return &Config{
		Connect: ConnectConfig{
			Timeout:    settings.ConnectTimeout,
			KnownHosts: "",
		},
		Exec: ExecConfig{
			PollInterval: settings.PollInterval,
			ReadSize:     settings.ReadSize,
			PtyWidth:     settings.PtyWidth,
			PtyHeight:    settings.PtyHeight,
			Term:         settings.Term,
		},
		Transfer: TransferConfig{
			ProgressInterval: settings.ProgressInterval,
		},
		Pipeline: PipelineConfig{
			MaxParallel:   0,
			KeepOnSuccess: false,
		},
		Logging: LoggingConfig{
			Enabled:    true,
			Level:      "info",
			MaxSizeMB:  10,
			MaxBackups: 3,
			Compress:   false,
		},
		Console: ConsoleConfig{
			Color: true,
		},
	}
}

// RemoteSettings converts the connect, exec and transfer sections into
// connection settings.
func (c *Config) RemoteSettings() remote.Settings {
	return remote.Settings{
		ConnectTimeout:   c.Connect.Timeout,
		KnownHostsFile:   expandHome(c.Connect.KnownHosts),
		PollInterval:     c.Exec.PollInterval,
		ReadSize:         c.Exec.ReadSize,
		PtyWidth:         c.Exec.PtyWidth,
		PtyHeight:        c.Exec.PtyHeight,
		Term:             c.Exec.Term,
		ProgressInterval: c.Transfer.ProgressInterval,
	}
}

// Rotation returns the log rotation settings.
func (c *LoggingConfig) Rotation() logging.RotationConfig {
	return logging.RotationConfig{
		MaxSizeMB:  c.MaxSizeMB,
		MaxBackups: c.MaxBackups,
		Compress:   c.Compress,
	}
}

// SetDefaults registers default values with viper
func SetDefaults() {
	defaults := Default()

	// Connect defaults
	viper.SetDefault("connect.timeout", defaults.Connect.Timeout)
	viper.SetDefault("connect.known_hosts", defaults.Connect.KnownHosts)

	// Exec defaults
	viper.SetDefault("exec.poll_interval", defaults.Exec.PollInterval)
	viper.SetDefault("exec.read_size", defaults.Exec.ReadSize)
	viper.SetDefault("exec.pty_width", defaults.Exec.PtyWidth)
	viper.SetDefault("exec.pty_height", defaults.Exec.PtyHeight)
	viper.SetDefault("exec.term", defaults.Exec.Term)

	// Transfer defaults
	viper.SetDefault("transfer.progress_interval", defaults.Transfer.ProgressInterval)

	// Pipeline defaults
	viper.SetDefault("pipeline.max_parallel", defaults.Pipeline.MaxParallel)
	viper.SetDefault("pipeline.keep_on_success", defaults.Pipeline.KeepOnSuccess)

	// Logging defaults
	viper.SetDefault("logging.enabled", defaults.Logging.Enabled)
	viper.SetDefault("logging.level", defaults.Logging.Level)
	viper.SetDefault("logging.max_size_mb", defaults.Logging.MaxSizeMB)
	viper.SetDefault("logging.max_backups", defaults.Logging.MaxBackups)
	viper.SetDefault("logging.compress", defaults.Logging.Compress)

	// Console defaults
	viper.SetDefault("console.color", defaults.Console.Color)
}

// Load reads the configuration from viper into a Config struct and validates it
func Load() (*Config, error) {
	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	// Validate the configuration
	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, ValidationErrors(errs)
	}

	return &cfg, nil
}

// Get returns the current configuration (convenience function)
func Get() *Config {
	cfg, err := Load()
	if err != nil {
		// Fall back to defaults if unmarshaling fails
		return Default()
	}
	return cfg
}

// ConfigDir returns the path to the user's config directory
func ConfigDir() string {
	// Check XDG_CONFIG_HOME first
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "xflow")
	}
	// Fall back to ~/.config/xflow
	home, err := os.UserHomeDir()
	if err != nil {
		return ".xflow"
	}
	return filepath.Join(home, ".config", "xflow")
}

// ConfigFile returns the path to the user config file
func ConfigFile() string {
	return filepath.Join(ConfigDir(), FileName)
}

// expandHome expands a leading ~ to the user's home directory.
func expandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path[1:], "/"))
}

// Template is the starter config.yaml written by xflow init.
const Template = `# xflow configuration. Every key is optional; the values below are the
# defaults. Environment variables override keys, e.g. XFLOW_EXEC_TERM=vt100.

connect:
  timeout: 10s
  # OpenSSH known_hosts file used to verify host keys; empty accepts any key
  known_hosts: ""

exec:
  poll_interval: 100ms
  read_size: 1024
  pty_width: 200
  pty_height: 50
  term: xterm

transfer:
  progress_interval: 3s

pipeline:
  # 0 runs every selected node of a stage at once
  max_parallel: 0
  # failed runs always keep their working directories
  keep_on_success: false

logging:
  enabled: true
  level: info
  max_size_mb: 10
  max_backups: 3
  compress: false

console:
  color: true
`
