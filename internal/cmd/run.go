package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Iron-Ham/xflow/internal/config"
	"github.com/Iron-Ham/xflow/internal/console"
	"github.com/Iron-Ham/xflow/internal/errors"
	"github.com/Iron-Ham/xflow/internal/event"
	"github.com/Iron-Ham/xflow/internal/logging"
	"github.com/Iron-Ham/xflow/internal/node"
	"github.com/Iron-Ham/xflow/internal/pipeline"
	"github.com/Iron-Ham/xflow/internal/remote"
)

// errRunFailed is returned when a pipeline finishes with FAILED.
var errRunFailed = errors.New("pipeline run failed")

var runCmd = &cobra.Command{
	Use:   "run <pipeline>",
	Short: "Run a pipeline",
	Long: `Run a registered pipeline against the nodes of env.yml.

Every pipeline is a subcommand with its own flags. Use -n and -l to pick the
nodes for pipelines that do not select their own.`,
}

func init() {
	rootCmd.AddCommand(runCmd)
	for _, def := range pipeline.Definitions() {
		runCmd.AddCommand(newPipelineCommand(def))
	}
}

// newPipelineCommand builds the run subcommand of def. The definition's
// options bind their own flags next to the node selection flags.
func newPipelineCommand(def *pipeline.Definition) *cobra.Command {
	var names, labels []string
	opts := def.Options()

	c := &cobra.Command{
		Use:   def.Name,
		Short: def.Description,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPipeline(cmd, def, opts, pipeline.Selector{Names: names, Labels: labels})
		},
	}
	if opts != nil {
		opts.BindFlags(c.Flags())
	}
	c.Flags().StringSliceVarP(&names, "nodes", "n", nil, "run on these nodes (names or glob patterns)")
	c.Flags().StringSliceVarP(&labels, "labels", "l", nil, "run on nodes carrying any of these labels")
	return c
}

func runPipeline(cmd *cobra.Command, def *pipeline.Definition, opts pipeline.Options, sel pipeline.Selector) error {
	if opts != nil {
		if err := opts.Validate(); err != nil {
			return fmt.Errorf("invalid options: %w", err)
		}
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	projDir, err := projectDir()
	if err != nil {
		return err
	}

	bus := event.NewBus()
	printer := console.New(cmd.OutOrStdout(), console.WithColor(cfg.Console.Color && !viper.GetBool("no_color")))
	printer.Attach(bus)
	defer printer.Detach()

	env, err := loadEnvironment(projDir, cfg, remote.WithBus(bus))
	if err != nil {
		return err
	}
	defer func() { _ = env.Close() }()

	pipeOpts := []pipeline.Option{
		pipeline.WithBus(bus),
		pipeline.WithOptions(opts),
		pipeline.WithNodes(sel.Names, sel.Labels),
		pipeline.WithProjectDir(projDir),
		pipeline.WithMaxParallel(cfg.Pipeline.MaxParallel),
		pipeline.WithKeepOnSuccess(cfg.Pipeline.KeepOnSuccess),
	}
	if cfg.Logging.Enabled {
		pipeOpts = append(pipeOpts, pipeline.WithRunLogger(func(dir string) (*logging.Logger, error) {
			return logging.NewLoggerWithRotation(dir, cfg.Logging.Level, cfg.Logging.Rotation())
		}))
	}
	p, err := pipeline.New(def, env, pipeOpts...)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(contextOf(cmd), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if p.Run(ctx) != pipeline.ResultSuccessful {
		return fmt.Errorf("%s #%d: %w", def.Name, p.TaskID(), errRunFailed)
	}
	return nil
}

// loadEnvironment reads env.yml from projDir with connections configured
// from cfg.
func loadEnvironment(projDir string, cfg *config.Config, opts ...remote.Option) (*node.Environment, error) {
	path, err := envFile()
	if err != nil {
		return nil, err
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, fmt.Errorf("no %s in %s (run 'xflow init' to create one)", node.FileName, projDir)
	}
	connOpts := append([]remote.Option{remote.WithSettings(cfg.RemoteSettings())}, opts...)
	env, err := node.Load(path, node.WithConnectionOptions(connOpts...))
	if err != nil {
		return nil, fmt.Errorf("failed to load environment: %w", err)
	}
	return env, nil
}

func contextOf(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
