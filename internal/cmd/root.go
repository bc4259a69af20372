package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Iron-Ham/xflow/internal/config"
	"github.com/Iron-Ham/xflow/internal/errors"
	"github.com/Iron-Ham/xflow/internal/node"

	// Built-in pipeline definitions register themselves at init.
	_ "github.com/Iron-Ham/xflow/internal/pipelines/example"
)

var rootCmd = &cobra.Command{
	Use:   "xflow",
	Short: "Run multi-stage pipelines on remote nodes",
	Long: `xflow runs pipelines of ordered stages against nodes reachable over SSH,
through a Docker daemon or on the local machine. Each stage runs on all of its
nodes at once; the next stage starts when every node has finished.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command. Errors are printed to stderr, except a
// failed pipeline run whose result the console has already shown.
func Execute() error {
	err := rootCmd.Execute()
	if err != nil && !errors.Is(err, errRunFailed) {
		fmt.Fprintln(os.Stderr, "Error:", err)
	}
	return err
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringP("config", "c", "", "config file (default is <projdir>/config.yaml, then $HOME/.config/xflow/config.yaml)")
	rootCmd.PersistentFlags().StringP("projdir", "p", ".", "project directory holding env.yml")
	rootCmd.PersistentFlags().Bool("no-color", false, "disable styled console output")
	_ = viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))
	_ = viper.BindPFlag("projdir", rootCmd.PersistentFlags().Lookup("projdir"))
	_ = viper.BindPFlag("no_color", rootCmd.PersistentFlags().Lookup("no-color"))
}

func initConfig() {
	// Set defaults first so they're available even without a config file
	config.SetDefaults()

	viper.SetEnvPrefix(config.EnvPrefix)
	// Replace dots with underscores for nested keys in env vars
	// e.g., XFLOW_EXEC_TERM for exec.term
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if cfgFile := viper.GetString("config"); cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName(strings.TrimSuffix(config.FileName, filepath.Ext(config.FileName)))
		viper.SetConfigType("yaml")
		viper.AddConfigPath(viper.GetString("projdir"))
		viper.AddConfigPath(config.ConfigDir())
		viper.AddConfigPath(".")
	}

	// Read config file if it exists (ignore error if not found)
	_ = viper.ReadInConfig()
}

// projectDir returns the absolute project directory.
func projectDir() (string, error) {
	dir := viper.GetString("projdir")
	if dir == "" {
		dir = "."
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", fmt.Errorf("failed to resolve project directory: %w", err)
	}
	return abs, nil
}

// envFile returns the environment file of the project directory.
func envFile() (string, error) {
	dir, err := projectDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, node.FileName), nil
}

// loadConfig returns the validated configuration.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}
