package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Iron-Ham/xflow/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "View xflow configuration",
	Long: `View xflow configuration.

Without arguments, displays the current configuration.
Use subcommands to create a config file or locate the active one.`,
	RunE: runConfigShow,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE:  runConfigShow,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create a default config file",
	Long:  `Create a default config file at ~/.config/xflow/config.yaml with all available options.`,
	RunE:  runConfigInit,
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Show the config file path",
	RunE:  runConfigPath,
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configPathCmd)
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()

	// Show where config is being read from
	if viper.ConfigFileUsed() != "" {
		fmt.Fprintf(out, "Config file: %s\n", viper.ConfigFileUsed())
	} else {
		fmt.Fprintln(out, "Config file: (none - using defaults)")
	}
	fmt.Fprintln(out)

	fmt.Fprintln(out, "connect:")
	fmt.Fprintf(out, "  timeout: %s\n", cfg.Connect.Timeout)
	fmt.Fprintf(out, "  known_hosts: %q\n", cfg.Connect.KnownHosts)

	fmt.Fprintln(out, "exec:")
	fmt.Fprintf(out, "  poll_interval: %s\n", cfg.Exec.PollInterval)
	fmt.Fprintf(out, "  read_size: %d\n", cfg.Exec.ReadSize)
	fmt.Fprintf(out, "  pty_width: %d\n", cfg.Exec.PtyWidth)
	fmt.Fprintf(out, "  pty_height: %d\n", cfg.Exec.PtyHeight)
	fmt.Fprintf(out, "  term: %s\n", cfg.Exec.Term)

	fmt.Fprintln(out, "transfer:")
	fmt.Fprintf(out, "  progress_interval: %s\n", cfg.Transfer.ProgressInterval)

	fmt.Fprintln(out, "pipeline:")
	fmt.Fprintf(out, "  max_parallel: %d\n", cfg.Pipeline.MaxParallel)
	fmt.Fprintf(out, "  keep_on_success: %v\n", cfg.Pipeline.KeepOnSuccess)

	fmt.Fprintln(out, "logging:")
	fmt.Fprintf(out, "  enabled: %v\n", cfg.Logging.Enabled)
	fmt.Fprintf(out, "  level: %s\n", cfg.Logging.Level)
	fmt.Fprintf(out, "  max_size_mb: %d\n", cfg.Logging.MaxSizeMB)
	fmt.Fprintf(out, "  max_backups: %d\n", cfg.Logging.MaxBackups)
	fmt.Fprintf(out, "  compress: %v\n", cfg.Logging.Compress)

	fmt.Fprintln(out, "console:")
	fmt.Fprintf(out, "  color: %v\n", cfg.Console.Color)

	return nil
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	configDir := config.ConfigDir()
	configFile := config.ConfigFile()

	// Check if config file already exists
	if _, err := os.Stat(configFile); err == nil {
		return fmt.Errorf("config file already exists at %s", configFile)
	}

	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(configFile, []byte(config.Template), 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Created config file at %s\n", configFile)
	return nil
}

func runConfigPath(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()

	if viper.ConfigFileUsed() != "" {
		fmt.Fprintf(out, "Active config: %s\n", viper.ConfigFileUsed())
	} else {
		fmt.Fprintf(out, "Default path: %s (not created)\n", config.ConfigFile())
	}

	// Also show config search paths
	fmt.Fprintln(out, "\nSearch paths:")
	fmt.Fprintf(out, "  1. %s\n", filepath.Join(viper.GetString("projdir"), config.FileName))
	fmt.Fprintf(out, "  2. %s\n", config.ConfigFile())
	fmt.Fprintf(out, "  3. ./%s (current directory)\n", config.FileName)
	fmt.Fprintf(out, "\nEnvironment variables: %s_* (e.g., %s_EXEC_TERM)\n", config.EnvPrefix, config.EnvPrefix)

	return nil
}
