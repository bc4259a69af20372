package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime/debug"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/sourcegraph/conc/pool"

	"github.com/Iron-Ham/xflow/internal/errors"
	"github.com/Iron-Ham/xflow/internal/event"
	"github.com/Iron-Ham/xflow/internal/logging"
	"github.com/Iron-Ham/xflow/internal/node"
	"github.com/Iron-Ham/xflow/internal/remote"
	"github.com/Iron-Ham/xflow/internal/taskid"
)

// Cleanup actions reported in CleanupEvent.Action.
const (
	CleanupRemoveContainer = "remove-container"
	CleanupRemoveDir       = "remove-dir"
)

// Pipeline is one run of a Definition against a set of nodes.
//
// Run drives it through created → setup → running → success|failure →
// teardown → done. Stages run one after another; within a stage every
// selected node runs concurrently and the next stage starts only after all
// of them have returned.
type Pipeline struct {
	def *Definition
	env *node.Environment
	cfg pipelineConfig

	// resolved at construction
	stageNodes [][]*node.Node
	nodes      []*node.Node

	mu       sync.RWMutex
	phase    Phase
	result   Result
	err      error
	taskID   int
	localDir string
	logger   *logging.Logger
	closeLog func() error
}

// New resolves the node selection of every stage and returns a pipeline
// ready to Run. A stage whose selector matches no node is an error.
func New(def *Definition, env *node.Environment, opts ...Option) (*Pipeline, error) {
	if def == nil {
		return nil, errors.NewValidationError("definition is required")
	}
	if env == nil {
		return nil, errors.NewValidationError("environment is required")
	}
	if err := def.Validate(); err != nil {
		return nil, err
	}

	cfg := pipelineConfig{}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.logger == nil {
		cfg.logger = logging.NopLogger()
	}
	if cfg.options == nil {
		cfg.options = def.Options()
	}

	p := &Pipeline{
		def:    def,
		env:    env,
		cfg:    cfg,
		phase:  PhaseCreated,
		logger: cfg.logger.WithPipeline(def.Name, 0),
	}

	base := def.Nodes
	if !cfg.override.IsZero() {
		base = cfg.override
	}
	seen := make(map[string]bool)
	for _, st := range def.Stages {
		sel := base
		if !st.Nodes.IsZero() {
			sel = st.Nodes
		}
		if sel.IsZero() {
			return nil, errors.NewValidationError(fmt.Sprintf("stage %s selects no nodes; pass node names or labels", st.Name)).
				WithField("nodes")
		}
		nodes, err := env.Select(sel.Names, sel.Labels)
		if err != nil {
			return nil, err
		}
		if len(nodes) == 0 {
			return nil, fmt.Errorf("stage %s: %w", st.Name, errors.NewNoSuchNodeError(sel.String()))
		}
		p.stageNodes = append(p.stageNodes, nodes)
		for _, n := range nodes {
			seen[n.Name()] = true
		}
	}
	for _, n := range env.Nodes() {
		if seen[n.Name()] {
			p.nodes = append(p.nodes, n)
		}
	}
	return p, nil
}

// Name returns the definition name.
func (p *Pipeline) Name() string { return p.def.Name }

// Definition returns the definition being run.
func (p *Pipeline) Definition() *Definition { return p.def }

// Options returns the options value, or nil when the definition takes none.
func (p *Pipeline) Options() Options { return p.cfg.options }

// Nodes returns every node used by at least one stage, in definition order.
func (p *Pipeline) Nodes() []*node.Node { return slices.Clone(p.nodes) }

// StageNodes returns the nodes stage i runs on.
func (p *Pipeline) StageNodes(i int) []*node.Node { return slices.Clone(p.stageNodes[i]) }

// ProjectDir returns the directory relative local paths resolve against.
func (p *Pipeline) ProjectDir() string { return p.cfg.projectDir }

// TaskID returns the allocated task id, or 0 before setup.
func (p *Pipeline) TaskID() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.taskID
}

// LocalDir returns <env workdir>/<name>/<task id> once setup has run.
func (p *Pipeline) LocalDir() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.localDir
}

// Phase returns the current phase.
func (p *Pipeline) Phase() Phase {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.phase
}

// Result returns the terminal result, or ResultNone while running.
func (p *Pipeline) Result() Result {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.result
}

// Err returns the failure that made the run fail, if any.
func (p *Pipeline) Err() error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.err
}

// Logger returns the run logger, tagged with the pipeline name and task id.
func (p *Pipeline) Logger() *logging.Logger {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.logger
}

// Run executes the pipeline and returns its result. Errors never escape Run;
// they are logged, published and available through Err. Teardown runs even
// when ctx is cancelled.
func (p *Pipeline) Run(ctx context.Context) Result {
	started := time.Now()

	err := p.setup(ctx)
	if err == nil {
		err = p.runStages(ctx)
	}
	p.finish(err)
	p.teardown(context.WithoutCancel(ctx))
	p.setPhase(PhaseDone)

	res, runErr := p.Result(), p.Err()
	errMsg := ""
	if runErr != nil {
		errMsg = runErr.Error()
	}
	p.Logger().Info("pipeline finished", "result", res.String(), "duration", time.Since(started).String())
	p.cfg.bus.Publish(event.NewPipelineFinishedEvent(p.Name(), p.TaskID(), res.String(), errMsg, time.Since(started)))

	if p.closeLog != nil {
		if err := p.closeLog(); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to close run log: %v\n", err)
		}
	}
	return res
}

// setup allocates the task id under the counter lock, creates the local run
// directory and the pipeline directory on every node, then runs the
// definition's Setup hook.
func (p *Pipeline) setup(ctx context.Context) error {
	p.setPhase(PhaseSetup)

	counter := taskid.New(filepath.Join(p.env.Workdir(), p.def.Name))
	id, err := counter.Next(ctx)
	if err != nil {
		return fmt.Errorf("allocate task id: %w", err)
	}
	localDir := filepath.Join(counter.Dir(), strconv.Itoa(id))
	if err := os.MkdirAll(localDir, 0755); err != nil {
		return fmt.Errorf("create local directory: %w", err)
	}

	logger := p.cfg.logger
	if p.cfg.runLogger != nil {
		l, err := p.cfg.runLogger(localDir)
		if err != nil {
			return fmt.Errorf("open run log: %w", err)
		}
		logger = l
		p.closeLog = l.Close
	}

	p.mu.Lock()
	p.taskID = id
	p.localDir = localDir
	p.logger = logger.WithPipeline(p.def.Name, id)
	p.mu.Unlock()

	p.Logger().Info("pipeline setup", "local_dir", localDir, "nodes", nodeNames(p.nodes))

	if err := p.fanOut(ctx, p.nodes, func(n *node.Node) error {
		dir := n.PipelineDir(p.def.Name, id)
		if _, err := n.Conn().Exec(ctx, "mkdir -p "+remote.Quote(dir)); err != nil {
			return fmt.Errorf("create working directory on %s: %w", n.Name(), err)
		}
		return nil
	}); err != nil {
		return err
	}

	if p.def.Setup != nil {
		if err := safeHook(ctx, p, p.def.Setup); err != nil {
			return fmt.Errorf("setup: %w", err)
		}
	}
	return nil
}

func (p *Pipeline) runStages(ctx context.Context) error {
	p.setPhase(PhaseRunning)
	for i, st := range p.def.Stages {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := p.runStage(ctx, i, st); err != nil {
			return err
		}
	}
	return nil
}

// runStage runs st on each of its nodes and waits for all of them. A failing
// node does not stop its siblings.
func (p *Pipeline) runStage(ctx context.Context, i int, st Stage) error {
	nodes := p.stageNodes[i]
	names := nodeNames(nodes)
	logger := p.Logger().WithStage(st.Name)

	logger.Info("stage started", "index", i+1, "total", len(p.def.Stages), "nodes", names)
	p.cfg.bus.Publish(event.NewStageStartedEvent(st.Name, st.Description, i+1, len(p.def.Stages), names))
	started := time.Now()

	var (
		mu     sync.Mutex
		failed []string
	)
	err := p.fanOut(ctx, nodes, func(n *node.Node) error {
		err := p.runNode(ctx, st, n)
		if err != nil {
			mu.Lock()
			failed = append(failed, n.Name())
			mu.Unlock()
		}
		return err
	})
	slices.SortFunc(failed, func(a, b string) int {
		return slices.Index(names, a) - slices.Index(names, b)
	})

	if err != nil {
		logger.Error("stage failed", "failed_nodes", failed, "error", err, "duration", time.Since(started).String())
	} else {
		logger.Info("stage finished", "duration", time.Since(started).String())
	}
	p.cfg.bus.Publish(event.NewStageFinishedEvent(st.Name, failed, time.Since(started)))
	return err
}

// runNode runs one stage on one node. Errors and panics from the stage body
// are returned as *errors.StageError.
func (p *Pipeline) runNode(ctx context.Context, st Stage, n *node.Node) (err error) {
	c := newContext(ctx, p, n, st.Name)
	p.cfg.bus.Publish(event.NewNodeStartedEvent(st.Name, n.Name()))
	started := time.Now()

	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("stage panicked", "panic", fmt.Sprint(r), "stack", string(debug.Stack()))
			err = errors.NewStageError(st.Name, fmt.Errorf("panic: %v", r)).WithNode(n.Name())
		}
		errMsg := ""
		if err != nil {
			errMsg = err.Error()
		}
		p.cfg.bus.Publish(event.NewNodeFinishedEvent(st.Name, n.Name(), errMsg, time.Since(started)))
	}()

	if runErr := st.Run(c); runErr != nil {
		c.logger.Error("stage failed on node", "error", runErr)
		return errors.NewStageError(st.Name, runErr).WithNode(n.Name())
	}
	c.logger.Debug("stage finished on node", "duration", time.Since(started).String())
	return nil
}

// fanOut calls fn for every node concurrently, bounded by the configured
// parallelism, and returns the joined errors once all calls have returned.
func (p *Pipeline) fanOut(_ context.Context, nodes []*node.Node, fn func(*node.Node) error) error {
	if len(nodes) == 0 {
		return nil
	}
	workers := pool.New().WithErrors()
	if p.cfg.maxParallel > 0 {
		workers = workers.WithMaxGoroutines(p.cfg.maxParallel)
	}
	for _, n := range nodes {
		workers.Go(func() error { return fn(n) })
	}
	return workers.Wait()
}

// finish records the result exactly once.
func (p *Pipeline) finish(err error) {
	p.mu.Lock()
	if p.result != ResultNone {
		p.mu.Unlock()
		return
	}
	phase := PhaseSuccess
	p.result = ResultSuccessful
	if err != nil {
		phase = PhaseFailure
		p.result = ResultFailed
		p.err = err
	}
	p.mu.Unlock()

	if err != nil {
		p.Logger().Error("pipeline failed", "error", err)
	}
	p.setPhase(phase)
}

// teardown runs the Teardown hook and, after a successful run, removes
// ephemeral containers and the pipeline directory on every other node. A
// failed run leaves everything in place for inspection.
func (p *Pipeline) teardown(ctx context.Context) {
	p.setPhase(PhaseTeardown)

	if p.def.Teardown != nil {
		if err := safeHook(ctx, p, p.def.Teardown); err != nil {
			p.Logger().Warn("teardown failed", "error", err)
		}
	}

	switch {
	case p.Result() != ResultSuccessful:
		if dir := p.LocalDir(); dir != "" {
			p.Logger().Info("leaving working directories for inspection", "local_dir", dir)
		}
	case p.cfg.keepOnSuccess:
		p.Logger().Info("keeping working directories", "reason", "keep_on_success")
	default:
		p.cleanup(ctx)
	}
}

func (p *Pipeline) cleanup(ctx context.Context) {
	id := p.TaskID()
	_ = p.fanOut(ctx, p.nodes, func(n *node.Node) error {
		var (
			action string
			target string
			err    error
		)
		if r, ok := n.Conn().(remote.Removable); ok && r.Ephemeral() {
			action, target = CleanupRemoveContainer, n.String()
			err = removeContainer(ctx, r, target)
		} else {
			action, target = CleanupRemoveDir, n.PipelineDir(p.def.Name, id)
			_, err = n.Conn().Exec(ctx, "rm -rf "+remote.Quote(target))
		}

		errMsg := ""
		if err != nil {
			errMsg = err.Error()
			p.Logger().Warn("cleanup failed", "node", n.Name(), "action", action, "target", target, "error", err)
		} else {
			p.Logger().Info("cleaned up", "node", n.Name(), "action", action, "target", target)
		}
		p.cfg.bus.Publish(event.NewCleanupEvent(n.Name(), action, target, errMsg))
		return err
	})
}

// removeContainer removes r and checks that the runtime no longer lists it.
func removeContainer(ctx context.Context, r remote.Removable, target string) error {
	if err := r.Remove(ctx, true); err != nil {
		return err
	}
	alive, err := r.Alive(ctx)
	if err != nil {
		return fmt.Errorf("check removal of %s: %w", target, err)
	}
	if alive {
		return fmt.Errorf("container %s still present after removal", target)
	}
	return nil
}

// setPhase sets the pipeline's current phase, publishes the transition and
// returns the previous phase.
func (p *Pipeline) setPhase(phase Phase) Phase {
	p.mu.Lock()
	prev := p.phase
	p.phase = phase
	id := p.taskID
	p.mu.Unlock()

	if prev != phase {
		p.cfg.bus.Publish(event.NewPipelinePhaseEvent(p.def.Name, id, prev.String(), phase.String()))
	}
	return prev
}

// Each runs fn on every node of the pipeline concurrently, outside of any
// stage, and waits for all of them. It is meant for Setup and Teardown hooks.
func (p *Pipeline) Each(ctx context.Context, fn StageFunc) error {
	return p.fanOut(ctx, p.nodes, func(n *node.Node) (err error) {
		c := newContext(ctx, p, n, "")
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("panic on %s: %v", n.Name(), r)
			}
		}()
		if err := fn(c); err != nil {
			return fmt.Errorf("%s: %w", n.Name(), err)
		}
		return nil
	})
}

func safeHook(ctx context.Context, p *Pipeline, hook HookFunc) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return hook(ctx, p)
}

func nodeNames(nodes []*node.Node) []string {
	out := make([]string, len(nodes))
	for i, n := range nodes {
		out[i] = n.Name()
	}
	return out
}
