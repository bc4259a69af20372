package pipeline

import (
	"github.com/Iron-Ham/xflow/internal/event"
	"github.com/Iron-Ham/xflow/internal/logging"
)

// Option configures a Pipeline.
type Option func(*pipelineConfig)

type pipelineConfig struct {
	logger        *logging.Logger
	runLogger     func(dir string) (*logging.Logger, error)
	bus           *event.Bus
	options       Options
	override      Selector
	projectDir    string
	maxParallel   int
	keepOnSuccess bool
}

// WithLogger sets the logger used when no per-run logger is configured.
func WithLogger(l *logging.Logger) Option {
	return func(c *pipelineConfig) { c.logger = l }
}

// WithRunLogger sets a factory that opens a logger inside the run's local
// directory once the task id is known. The logger is closed when Run
// returns.
func WithRunLogger(open func(dir string) (*logging.Logger, error)) Option {
	return func(c *pipelineConfig) { c.runLogger = open }
}

// WithBus sets the bus that receives lifecycle events.
func WithBus(bus *event.Bus) Option {
	return func(c *pipelineConfig) { c.bus = bus }
}

// WithOptions sets the parsed options value stages read through
// Context.Options.
func WithOptions(opts Options) Option {
	return func(c *pipelineConfig) { c.options = opts }
}

// WithNodes replaces the definition's default node selection. Stages that
// declare their own selector keep it.
func WithNodes(names, labels []string) Option {
	return func(c *pipelineConfig) { c.override = Selector{Names: names, Labels: labels} }
}

// WithProjectDir sets the directory relative local paths are resolved
// against.
func WithProjectDir(dir string) Option {
	return func(c *pipelineConfig) { c.projectDir = dir }
}

// WithMaxParallel bounds the number of nodes a stage runs on at once. Zero or
// less runs every selected node concurrently.
func WithMaxParallel(n int) Option {
	return func(c *pipelineConfig) { c.maxParallel = n }
}

// WithKeepOnSuccess skips the cleanup that normally follows a successful run.
func WithKeepOnSuccess(keep bool) Option {
	return func(c *pipelineConfig) { c.keepOnSuccess = keep }
}
