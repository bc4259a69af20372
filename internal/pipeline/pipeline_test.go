package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Iron-Ham/xflow/internal/errors"
	"github.com/Iron-Ham/xflow/internal/event"
	"github.com/Iron-Ham/xflow/internal/node"
	"github.com/Iron-Ham/xflow/internal/remote"
)

// fakeConn records commands and fails those containing a configured
// substring.
type fakeConn struct {
	name string

	mu       sync.Mutex
	commands []string
	failOn   map[string]int
}

func newFakeConn(name string) *fakeConn {
	return &fakeConn{name: name, failOn: map[string]int{}}
}

func (f *fakeConn) Open(context.Context) error { return nil }
func (f *fakeConn) Close() error               { return nil }
func (f *fakeConn) String() string             { return "fake://" + f.name }

func (f *fakeConn) Exec(_ context.Context, cmd string, _ ...remote.ExecOption) (*remote.CommandResult, error) {
	f.mu.Lock()
	f.commands = append(f.commands, cmd)
	fail := f.failOn
	f.mu.Unlock()
	for substr, code := range fail {
		if strings.Contains(cmd, substr) {
			return nil, errors.NewCommandError(cmd, code).WithNode(f.name)
		}
	}
	return remote.NewCommandResult("ok\n", 0, cmd), nil
}

func (f *fakeConn) PutFile(context.Context, string, string, ...remote.TransferOption) error { return nil }
func (f *fakeConn) GetFile(context.Context, string, string, ...remote.TransferOption) error { return nil }
func (f *fakeConn) PutDir(context.Context, string, string, ...remote.TransferOption) error  { return nil }
func (f *fakeConn) GetDir(context.Context, string, string, ...remote.TransferOption) error  { return nil }
func (f *fakeConn) Exists(context.Context, string) (bool, error)                           { return true, nil }

func (f *fakeConn) Commands() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.commands)
}

func (f *fakeConn) ran(substr string) bool {
	return slices.ContainsFunc(f.Commands(), func(c string) bool { return strings.Contains(c, substr) })
}

// fakeContainer is a removable fakeConn. A lingering container survives
// Remove.
type fakeContainer struct {
	*fakeConn
	ephemeral bool
	lingering bool
	removed   atomic.Bool
}

func (f *fakeContainer) Ephemeral() bool { return f.ephemeral }

func (f *fakeContainer) Remove(context.Context, bool) error {
	f.removed.Store(true)
	return nil
}

func (f *fakeContainer) Alive(context.Context) (bool, error) {
	return f.lingering || !f.removed.Load(), nil
}

type testEnv struct {
	env   *node.Environment
	conns map[string]*fakeConn
}

func newTestEnv(t *testing.T, names ...string) *testEnv {
	t.Helper()
	te := &testEnv{conns: map[string]*fakeConn{}}
	var nodes []*node.Node
	for _, name := range names {
		conn := newFakeConn(name)
		te.conns[name] = conn
		nodes = append(nodes, node.New(name, node.KindSSH, "root", "/srv/xflow", []string{"all"}, nil, conn))
	}
	env, err := node.NewEnvironment(t.TempDir(), nodes...)
	if err != nil {
		t.Fatalf("NewEnvironment: %v", err)
	}
	te.env = env
	return te
}

func execStage(name, cmd string) Stage {
	return Stage{Name: name, Run: func(c *Context) error {
		_, err := c.Exec(cmd)
		return err
	}}
}

func newTestPipeline(t *testing.T, def *Definition, env *node.Environment, opts ...Option) *Pipeline {
	t.Helper()
	p, err := New(def, env, opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return p
}

func TestPipeline_RunSuccess(t *testing.T) {
	te := newTestEnv(t, "n1", "n2")
	bus := event.NewBus()

	var (
		mu     sync.Mutex
		phases []string
	)
	bus.Subscribe(event.TypePipelinePhase, func(e event.Event) {
		mu.Lock()
		defer mu.Unlock()
		phases = append(phases, e.(event.PipelinePhaseEvent).To)
	})
	var finished event.PipelineFinishedEvent
	bus.Subscribe(event.TypePipelineFinished, func(e event.Event) {
		finished = e.(event.PipelineFinishedEvent)
	})

	def := &Definition{
		Name:   "build",
		Nodes:  Selector{Labels: []string{"all"}},
		Stages: []Stage{execStage("stage1", "make deps"), execStage("stage2", "make all")},
	}
	p := newTestPipeline(t, def, te.env, WithBus(bus))

	if got := p.Run(context.Background()); got != ResultSuccessful {
		t.Fatalf("Run() = %v, want SUCCESSFUL (err: %v)", got, p.Err())
	}
	if p.TaskID() != 1 {
		t.Errorf("TaskID() = %d, want 1", p.TaskID())
	}
	if p.Phase() != PhaseDone {
		t.Errorf("Phase() = %v, want done", p.Phase())
	}
	wantLocal := filepath.Join(te.env.Workdir(), "build", "1")
	if p.LocalDir() != wantLocal {
		t.Errorf("LocalDir() = %q, want %q", p.LocalDir(), wantLocal)
	}
	if _, err := os.Stat(wantLocal); err != nil {
		t.Errorf("local directory missing: %v", err)
	}

	for name, conn := range te.conns {
		want := []string{
			"mkdir -p /srv/xflow/build/1",
			"make deps",
			"make all",
			"rm -rf /srv/xflow/build/1",
		}
		if got := conn.Commands(); !slices.Equal(got, want) {
			t.Errorf("%s commands = %q, want %q", name, got, want)
		}
	}

	wantPhases := []string{"setup", "running", "success", "teardown", "done"}
	if !slices.Equal(phases, wantPhases) {
		t.Errorf("phases = %v, want %v", phases, wantPhases)
	}
	if finished.Result != "SUCCESSFUL" || finished.TaskID != 1 {
		t.Errorf("finished event = %+v", finished)
	}
}

func TestPipeline_NodeFailureDoesNotStopSiblings(t *testing.T) {
	te := newTestEnv(t, "n1", "n2", "n3")
	te.conns["n2"].failOn["ls /errpath"] = 2

	var completed sync.Map
	def := &Definition{
		Name:  "deploy",
		Nodes: Selector{Names: []string{"n*"}},
		Stages: []Stage{
			{Name: "stage1", Run: func(c *Context) error {
				if _, err := c.Exec("ls /errpath"); err != nil {
					return err
				}
				// siblings keep working after n2 has failed
				time.Sleep(20 * time.Millisecond)
				if _, err := c.Exec("touch done"); err != nil {
					return err
				}
				completed.Store(c.Node().Name(), true)
				return nil
			}},
			execStage("stage2", "never"),
		},
	}
	p := newTestPipeline(t, def, te.env)

	if got := p.Run(context.Background()); got != ResultFailed {
		t.Fatalf("Run() = %v, want FAILED", got)
	}
	for _, name := range []string{"n1", "n3"} {
		if _, ok := completed.Load(name); !ok {
			t.Errorf("%s did not complete stage1", name)
		}
	}
	if _, ok := completed.Load("n2"); ok {
		t.Error("n2 should not have completed stage1")
	}

	var stageErr *errors.StageError
	if !errors.As(p.Err(), &stageErr) {
		t.Fatalf("Err() = %v, want StageError", p.Err())
	}
	if stageErr.Stage != "stage1" || stageErr.Node != "n2" {
		t.Errorf("StageError = stage %q node %q, want stage1 n2", stageErr.Stage, stageErr.Node)
	}
	code, ok := errors.ExitCode(p.Err())
	if !ok || code != 2 {
		t.Errorf("ExitCode() = %d, %v; want 2, true", code, ok)
	}

	for name, conn := range te.conns {
		if conn.ran("never") {
			t.Errorf("%s ran stage2 after stage1 failed", name)
		}
		if conn.ran("rm -rf") {
			t.Errorf("%s was cleaned up after a failed run", name)
		}
	}
}

func TestPipeline_StageBarrier(t *testing.T) {
	te := newTestEnv(t, "fast", "slow")

	var (
		mu  sync.Mutex
		log []string
	)
	record := func(s string) {
		mu.Lock()
		defer mu.Unlock()
		log = append(log, s)
	}
	def := &Definition{
		Name:  "barrier",
		Nodes: Selector{Labels: []string{"all"}},
		Stages: []Stage{
			{Name: "one", Run: func(c *Context) error {
				if c.Node().Name() == "slow" {
					time.Sleep(50 * time.Millisecond)
				}
				record("one:" + c.Node().Name())
				return nil
			}},
			{Name: "two", Run: func(c *Context) error {
				record("two:" + c.Node().Name())
				return nil
			}},
		},
	}
	p := newTestPipeline(t, def, te.env)
	if got := p.Run(context.Background()); got != ResultSuccessful {
		t.Fatalf("Run() = %v (err: %v)", got, p.Err())
	}

	if len(log) != 4 {
		t.Fatalf("log = %v", log)
	}
	for _, entry := range log[:2] {
		if !strings.HasPrefix(entry, "one:") {
			t.Errorf("stage two started before stage one finished on every node: %v", log)
		}
	}
}

func TestPipeline_NodesRunConcurrently(t *testing.T) {
	te := newTestEnv(t, "a", "b", "c")

	var arrived sync.WaitGroup
	arrived.Add(3)
	def := &Definition{
		Name:  "fanout",
		Nodes: Selector{Labels: []string{"all"}},
		Stages: []Stage{{Name: "meet", Run: func(c *Context) error {
			arrived.Done()
			done := make(chan struct{})
			go func() {
				arrived.Wait()
				close(done)
			}()
			select {
			case <-done:
				return nil
			case <-time.After(5 * time.Second):
				return fmt.Errorf("nodes did not run concurrently")
			}
		}}},
	}
	p := newTestPipeline(t, def, te.env)
	if got := p.Run(context.Background()); got != ResultSuccessful {
		t.Fatalf("Run() = %v (err: %v)", got, p.Err())
	}
}

func TestPipeline_MaxParallel(t *testing.T) {
	te := newTestEnv(t, "a", "b", "c", "d")

	var running, peak atomic.Int32
	def := &Definition{
		Name:  "bounded",
		Nodes: Selector{Labels: []string{"all"}},
		Stages: []Stage{{Name: "work", Run: func(c *Context) error {
			n := running.Add(1)
			for {
				old := peak.Load()
				if n <= old || peak.CompareAndSwap(old, n) {
					break
				}
			}
			time.Sleep(10 * time.Millisecond)
			running.Add(-1)
			return nil
		}}},
	}
	p := newTestPipeline(t, def, te.env, WithMaxParallel(2))
	if got := p.Run(context.Background()); got != ResultSuccessful {
		t.Fatalf("Run() = %v (err: %v)", got, p.Err())
	}
	if peak.Load() > 2 {
		t.Errorf("peak concurrency = %d, want <= 2", peak.Load())
	}
}

func TestPipeline_Cleanup(t *testing.T) {
	tests := []struct {
		name        string
		fail        bool
		keep        bool
		ephemeral   bool
		lingering   bool
		wantRemoved bool
		wantRmDir   bool
		wantErr     bool
	}{
		{name: "success removes ephemeral container", ephemeral: true, wantRemoved: true},
		{name: "container surviving removal is reported", ephemeral: true, lingering: true, wantRemoved: true, wantErr: true},
		{name: "success removes dir of bound container", wantRmDir: true},
		{name: "failure keeps ephemeral container", fail: true, ephemeral: true},
		{name: "failure keeps dir", fail: true},
		{name: "keep on success", keep: true, ephemeral: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctr := &fakeContainer{fakeConn: newFakeConn("c1"), ephemeral: tt.ephemeral, lingering: tt.lingering}
			if tt.fail {
				ctr.failOn["build"] = 1
			}
			n := node.New("c1", node.KindContainer, "", "/work", nil, nil, ctr)
			env, err := node.NewEnvironment(t.TempDir(), n)
			if err != nil {
				t.Fatal(err)
			}
			bus := event.NewBus()
			var cleanups []event.CleanupEvent
			bus.Subscribe(event.TypeCleanup, func(e event.Event) {
				cleanups = append(cleanups, e.(event.CleanupEvent))
			})

			def := &Definition{
				Name:   "pkg",
				Nodes:  Selector{Names: []string{"c1"}},
				Stages: []Stage{execStage("stage1", "build")},
			}
			p := newTestPipeline(t, def, env, WithBus(bus), WithKeepOnSuccess(tt.keep))
			res := p.Run(context.Background())
			if (res == ResultFailed) != tt.fail {
				t.Fatalf("Run() = %v, fail = %v", res, tt.fail)
			}

			if got := ctr.removed.Load(); got != tt.wantRemoved {
				t.Errorf("container removed = %v, want %v", got, tt.wantRemoved)
			}
			if got := ctr.ran("rm -rf /work/pkg/1"); got != tt.wantRmDir {
				t.Errorf("rm -rf issued = %v, want %v", got, tt.wantRmDir)
			}
			wantEvents := 0
			if tt.wantRemoved || tt.wantRmDir {
				wantEvents = 1
			}
			if len(cleanups) != wantEvents {
				t.Fatalf("cleanup events = %d, want %d", len(cleanups), wantEvents)
			}
			if tt.wantRemoved && cleanups[0].Action != CleanupRemoveContainer {
				t.Errorf("cleanup action = %q", cleanups[0].Action)
			}
			if wantEvents == 1 && (cleanups[0].Error != "") != tt.wantErr {
				t.Errorf("cleanup error = %q, wantErr %v", cleanups[0].Error, tt.wantErr)
			}
		})
	}
}

func TestPipeline_TeardownAlwaysRuns(t *testing.T) {
	te := newTestEnv(t, "n1")

	var teardowns atomic.Int32
	def := &Definition{
		Name:   "hooks",
		Nodes:  Selector{Names: []string{"n1"}},
		Stages: []Stage{execStage("stage1", "echo hi")},
		Setup: func(context.Context, *Pipeline) error {
			return fmt.Errorf("no credentials")
		},
		Teardown: func(context.Context, *Pipeline) error {
			teardowns.Add(1)
			return nil
		},
	}
	p := newTestPipeline(t, def, te.env)

	if got := p.Run(context.Background()); got != ResultFailed {
		t.Fatalf("Run() = %v, want FAILED", got)
	}
	if teardowns.Load() != 1 {
		t.Errorf("teardown ran %d times, want 1", teardowns.Load())
	}
	if te.conns["n1"].ran("echo hi") {
		t.Error("stage ran after setup failed")
	}
	if !strings.Contains(p.Err().Error(), "no credentials") {
		t.Errorf("Err() = %v", p.Err())
	}
}

func TestPipeline_TeardownErrorKeepsResult(t *testing.T) {
	te := newTestEnv(t, "n1")
	def := &Definition{
		Name:   "hooks",
		Nodes:  Selector{Names: []string{"n1"}},
		Stages: []Stage{execStage("stage1", "true")},
		Teardown: func(context.Context, *Pipeline) error {
			panic("teardown exploded")
		},
	}
	p := newTestPipeline(t, def, te.env)
	if got := p.Run(context.Background()); got != ResultSuccessful {
		t.Errorf("Run() = %v, want SUCCESSFUL", got)
	}
	if p.Err() != nil {
		t.Errorf("Err() = %v, want nil", p.Err())
	}
}

func TestPipeline_PanicBecomesStageError(t *testing.T) {
	te := newTestEnv(t, "n1")
	def := &Definition{
		Name:  "panics",
		Nodes: Selector{Names: []string{"n1"}},
		Stages: []Stage{{Name: "boom", Run: func(*Context) error {
			var m map[string]int
			m["x"] = 1
			return nil
		}}},
	}
	p := newTestPipeline(t, def, te.env)
	if got := p.Run(context.Background()); got != ResultFailed {
		t.Fatalf("Run() = %v, want FAILED", got)
	}
	if !errors.Is(p.Err(), errors.ErrStageFailed) {
		t.Errorf("Err() = %v, want ErrStageFailed", p.Err())
	}
	if !strings.Contains(p.Err().Error(), "panic") {
		t.Errorf("Err() = %v, want panic detail", p.Err())
	}
}

func TestPipeline_TaskIDsIncrement(t *testing.T) {
	te := newTestEnv(t, "n1")
	def := &Definition{
		Name:   "again",
		Nodes:  Selector{Names: []string{"n1"}},
		Stages: []Stage{execStage("stage1", "true")},
	}

	for want := 1; want <= 3; want++ {
		p := newTestPipeline(t, def, te.env)
		p.Run(context.Background())
		if p.TaskID() != want {
			t.Errorf("run %d: TaskID() = %d", want, p.TaskID())
		}
	}
	if !te.conns["n1"].ran("mkdir -p /srv/xflow/again/3") {
		t.Error("third run did not create its own working directory")
	}
}

func TestPipeline_CancelledSkipsStages(t *testing.T) {
	te := newTestEnv(t, "n1")
	ctx, cancel := context.WithCancel(context.Background())
	def := &Definition{
		Name:  "cancel",
		Nodes: Selector{Names: []string{"n1"}},
		Stages: []Stage{
			{Name: "first", Run: func(*Context) error {
				cancel()
				return nil
			}},
			execStage("second", "never"),
		},
	}
	p := newTestPipeline(t, def, te.env)
	if got := p.Run(ctx); got != ResultFailed {
		t.Fatalf("Run() = %v, want FAILED", got)
	}
	if te.conns["n1"].ran("never") {
		t.Error("stage ran after cancellation")
	}
	if !errors.Is(p.Err(), context.Canceled) {
		t.Errorf("Err() = %v, want context.Canceled", p.Err())
	}
}

func TestPipeline_Each(t *testing.T) {
	te := newTestEnv(t, "n1", "n2")
	def := &Definition{
		Name:   "each",
		Nodes:  Selector{Labels: []string{"all"}},
		Stages: []Stage{execStage("stage1", "true")},
		Setup: func(ctx context.Context, p *Pipeline) error {
			return p.Each(ctx, func(c *Context) error {
				_, err := c.Exec("prepare " + c.Node().Name())
				return err
			})
		},
	}
	p := newTestPipeline(t, def, te.env)
	if got := p.Run(context.Background()); got != ResultSuccessful {
		t.Fatalf("Run() = %v (err: %v)", got, p.Err())
	}
	for name, conn := range te.conns {
		if !conn.ran("prepare " + name) {
			t.Errorf("%s did not run the setup hook", name)
		}
	}
}

func TestNew_Selection(t *testing.T) {
	te := newTestEnv(t, "web1", "web2", "db1")

	t.Run("stage selector overrides pipeline default", func(t *testing.T) {
		def := &Definition{
			Name:  "sel",
			Nodes: Selector{Names: []string{"web*"}},
			Stages: []Stage{
				execStage("one", "true"),
				{Name: "two", Nodes: Selector{Names: []string{"db1"}}, Run: func(*Context) error { return nil }},
			},
		}
		p := newTestPipeline(t, def, te.env)
		if got := nodeNames(p.StageNodes(0)); !slices.Equal(got, []string{"web1", "web2"}) {
			t.Errorf("stage one nodes = %v", got)
		}
		if got := nodeNames(p.StageNodes(1)); !slices.Equal(got, []string{"db1"}) {
			t.Errorf("stage two nodes = %v", got)
		}
		if got := nodeNames(p.Nodes()); !slices.Equal(got, []string{"web1", "web2", "db1"}) {
			t.Errorf("Nodes() = %v", got)
		}
	})

	t.Run("WithNodes replaces the default", func(t *testing.T) {
		def := &Definition{
			Name:   "sel",
			Nodes:  Selector{Names: []string{"web*"}},
			Stages: []Stage{execStage("one", "true")},
		}
		p := newTestPipeline(t, def, te.env, WithNodes([]string{"db1"}, nil))
		if got := nodeNames(p.Nodes()); !slices.Equal(got, []string{"db1"}) {
			t.Errorf("Nodes() = %v", got)
		}
	})

	t.Run("no match", func(t *testing.T) {
		def := &Definition{
			Name:   "sel",
			Nodes:  Selector{Names: []string{"cache*"}},
			Stages: []Stage{execStage("one", "true")},
		}
		_, err := New(def, te.env)
		if !errors.Is(err, errors.ErrNodeNotFound) {
			t.Errorf("New() error = %v, want ErrNodeNotFound", err)
		}
	})

	t.Run("no selector", func(t *testing.T) {
		def := &Definition{Name: "sel", Stages: []Stage{execStage("one", "true")}}
		_, err := New(def, te.env)
		if !errors.Is(err, errors.ErrInvalidInput) {
			t.Errorf("New() error = %v, want ErrInvalidInput", err)
		}
	})
}

func TestDefinition_Validate(t *testing.T) {
	run := func(*Context) error { return nil }
	tests := []struct {
		name    string
		def     Definition
		wantErr bool
	}{
		{"valid", Definition{Name: "build", Stages: []Stage{{Name: "s1", Run: run}}}, false},
		{"bad name", Definition{Name: "1build", Stages: []Stage{{Name: "s1", Run: run}}}, true},
		{"path in name", Definition{Name: "a/b", Stages: []Stage{{Name: "s1", Run: run}}}, true},
		{"no stages", Definition{Name: "build"}, true},
		{"unnamed stage", Definition{Name: "build", Stages: []Stage{{Run: run}}}, true},
		{"duplicate stage", Definition{Name: "build", Stages: []Stage{{Name: "s", Run: run}, {Name: "s", Run: run}}}, true},
		{"missing run", Definition{Name: "build", Stages: []Stage{{Name: "s1"}}}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.def.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestPhase(t *testing.T) {
	for _, p := range []Phase{PhaseCreated, PhaseSetup, PhaseRunning, PhaseSuccess, PhaseFailure, PhaseTeardown} {
		if p.IsTerminal() {
			t.Errorf("%s.IsTerminal() = true", p)
		}
	}
	if !PhaseDone.IsTerminal() {
		t.Error("done should be terminal")
	}
}

func TestSelector_String(t *testing.T) {
	tests := []struct {
		sel  Selector
		want string
	}{
		{Selector{}, "<none>"},
		{Selector{Names: []string{"a", "b"}}, "names=a,b"},
		{Selector{Names: []string{"a"}, Labels: []string{"web"}}, "names=a labels=web"},
	}
	for _, tt := range tests {
		if got := tt.sel.String(); got != tt.want {
			t.Errorf("String() = %q, want %q", got, tt.want)
		}
	}
}
