// Package internal contains integration tests that run pipelines end to end
// against real connections: an in-process SSH server and the local host.
package internal

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Iron-Ham/xflow/internal/console"
	"github.com/Iron-Ham/xflow/internal/event"
	"github.com/Iron-Ham/xflow/internal/node"
	"github.com/Iron-Ham/xflow/internal/pipeline"
	"github.com/Iron-Ham/xflow/internal/remote"
	"github.com/Iron-Ham/xflow/internal/testutil"
)

// loadMixedEnvironment writes an env.yml with one SSH node served by srv and
// one local node, and loads it.
func loadMixedEnvironment(t *testing.T, srv *testutil.SSHServer, bus *event.Bus) (env *node.Environment, projDir, sshDir, localDir string) {
	t.Helper()
	projDir = t.TempDir()
	sshDir = t.TempDir()
	localDir = t.TempDir()

	yml := fmt.Sprintf(`workdir: .xflow
nodes:
  - name: ssh1
    ip: %s
    sshport: %d
    user: %s
    password: %s
    workdir: %s
    labels: [build]
    envs:
      BUILD_ID: 42
  - name: local1
    type: local
    workdir: %s
    labels: [build]
`, srv.Host, srv.Port, srv.User, srv.Password, sshDir, localDir)
	path := filepath.Join(projDir, node.FileName)
	if err := os.WriteFile(path, []byte(yml), 0644); err != nil {
		t.Fatal(err)
	}

	settings := remote.DefaultSettings()
	settings.PollInterval = 5 * time.Millisecond
	settings.ConnectTimeout = 5 * time.Second
	env, err := node.Load(path, node.WithConnectionOptions(remote.WithSettings(settings), remote.WithBus(bus)))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	t.Cleanup(func() { _ = env.Close() })
	return env, projDir, sshDir, localDir
}

// TestPipelineIntegration runs a two stage pipeline on an SSH node and a
// local node at once, with the console printer attached to the bus.
func TestPipelineIntegration(t *testing.T) {
	srv := testutil.NewSSHServer(t)
	bus := event.NewBus()

	var mu sync.Mutex
	var received []event.Event
	bus.SubscribeAll(func(e event.Event) {
		mu.Lock()
		received = append(received, e)
		mu.Unlock()
	})

	var out bytes.Buffer
	printer := console.New(&out, console.WithColor(false))
	printer.Attach(bus)

	env, projDir, sshDir, localDir := loadMixedEnvironment(t, srv, bus)
	if err := os.WriteFile(filepath.Join(projDir, "manifest.txt"), []byte("v1\n"), 0644); err != nil {
		t.Fatal(err)
	}

	def := &pipeline.Definition{
		Name:  "integration",
		Nodes: pipeline.Selector{Labels: []string{"build"}},
		Stages: []pipeline.Stage{
			{Name: "prepare", Run: func(c *pipeline.Context) error {
				if _, err := c.Exec("mkdir -p out"); err != nil {
					return err
				}
				return c.PutFile("manifest.txt", "out")
			}},
			{Name: "report", Run: func(c *pipeline.Context) error {
				return c.Dir("out", func() error {
					res, err := c.Exec("cat manifest.txt && echo node=" + c.Node().Name())
					if err != nil {
						return err
					}
					if res.Text() != "v1\nnode="+c.Node().Name() {
						return fmt.Errorf("unexpected output %q", res.Text())
					}
					return nil
				})
			}},
		},
	}
	p, err := pipeline.New(def, env, pipeline.WithBus(bus), pipeline.WithProjectDir(projDir))
	if err != nil {
		t.Fatal(err)
	}
	res := p.Run(context.Background())
	printer.Detach()
	if res != pipeline.ResultSuccessful {
		t.Fatalf("Run() = %v (err: %v)\n%s", res, p.Err(), out.String())
	}

	// Success removes the working directories on both nodes.
	for _, dir := range []string{sshDir, localDir} {
		if _, err := os.Stat(filepath.Join(dir, "integration", "1")); !os.IsNotExist(err) {
			t.Errorf("%s/integration/1 should be removed, stat err = %v", dir, err)
		}
	}

	mu.Lock()
	defer mu.Unlock()
	var nodeDone, stagesOK int
	for _, e := range received {
		switch ev := e.(type) {
		case event.NodeFinishedEvent:
			if ev.Error != "" {
				t.Errorf("node %s failed in %s: %s", ev.Node, ev.Stage, ev.Error)
			}
			nodeDone++
		case event.StageFinishedEvent:
			if ev.Success() {
				stagesOK++
			}
		}
	}
	if nodeDone != 4 {
		t.Errorf("NodeFinished events = %d, want 4", nodeDone)
	}
	if stagesOK != 2 {
		t.Errorf("successful stages = %d, want 2", stagesOK)
	}

	text := out.String()
	for _, want := range []string{"ssh1 | ", "local1 | ", "node=ssh1", "node=local1", "[SUCCESSFUL] integration #1"} {
		if !strings.Contains(text, want) {
			t.Errorf("console output missing %q:\n%s", want, text)
		}
	}
}

// TestPipelineIntegration_FailureKeepsState checks that a failing SSH node
// fails the run, leaves its sibling's work in place and skips later stages.
func TestPipelineIntegration_FailureKeepsState(t *testing.T) {
	srv := testutil.NewSSHServer(t)
	env, _, sshDir, localDir := loadMixedEnvironment(t, srv, nil)

	var reported sync.Map
	def := &pipeline.Definition{
		Name:  "broken",
		Nodes: pipeline.Selector{Names: []string{"ssh1", "local1"}},
		Stages: []pipeline.Stage{
			{Name: "work", Run: func(c *pipeline.Context) error {
				cmd := "touch done"
				if c.Node().Name() == "ssh1" {
					cmd = "ls /nonexistent-xflow-path"
				}
				_, err := c.Exec(cmd)
				return err
			}},
			{Name: "never", Run: func(c *pipeline.Context) error {
				reported.Store(c.Node().Name(), true)
				return nil
			}},
		},
	}
	p, err := pipeline.New(def, env)
	if err != nil {
		t.Fatal(err)
	}
	if res := p.Run(context.Background()); res != pipeline.ResultFailed {
		t.Fatalf("Run() = %v, want FAILED", res)
	}

	if _, err := os.Stat(filepath.Join(localDir, "broken", "1", "done")); err != nil {
		t.Errorf("local1 work should be kept after a failed run: %v", err)
	}
	if _, err := os.Stat(filepath.Join(sshDir, "broken", "1")); err != nil {
		t.Errorf("ssh1 working directory should be kept after a failed run: %v", err)
	}
	reported.Range(func(key, _ any) bool {
		t.Errorf("stage after the failure ran on %v", key)
		return true
	})
}
