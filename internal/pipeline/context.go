package pipeline

import (
	"context"
	"fmt"
	"io"
	"path"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/Iron-Ham/xflow/internal/logging"
	"github.com/Iron-Ham/xflow/internal/node"
	"github.com/Iron-Ham/xflow/internal/remote"
)

// Context is handed to a stage body for one node. It carries the node, the
// pipeline and the directory overlay stack, and resolves relative paths:
// remote paths against Cwd, local paths against the project directory.
//
// A Context belongs to the goroutine running the stage body and must not be
// shared.
type Context struct {
	ctx    context.Context
	id     string
	p      *Pipeline
	node   *node.Node
	stage  string
	logger *logging.Logger
	dirs   []string
}

func newContext(ctx context.Context, p *Pipeline, n *node.Node, stage string) *Context {
	logger := p.Logger()
	if stage != "" {
		logger = logger.WithStage(stage)
	}
	return &Context{
		ctx:    ctx,
		id:     uuid.NewString(),
		p:      p,
		node:   n,
		stage:  stage,
		logger: logger.WithNode(n.Name()),
	}
}

// Context returns the run's context.Context.
func (c *Context) Context() context.Context { return c.ctx }

// Node returns the node this context runs on.
func (c *Context) Node() *node.Node { return c.node }

// Pipeline returns the running pipeline.
func (c *Context) Pipeline() *Pipeline { return c.p }

// Options returns the pipeline's options value.
func (c *Context) Options() Options { return c.p.Options() }

// Stage returns the stage name, empty inside Pipeline.Each.
func (c *Context) Stage() string { return c.stage }

// Logger returns the context logger, tagged with stage and node.
func (c *Context) Logger() *logging.Logger { return c.logger }

// Cwd returns the remote directory commands run in: the innermost Dir
// overlay resolved against <node workdir>/<pipeline>/<task id>.
func (c *Context) Cwd() string {
	overlay := ""
	if len(c.dirs) > 0 {
		overlay = c.dirs[len(c.dirs)-1]
	}
	return c.node.ResolveCwd(c.p.Name(), c.p.TaskID(), overlay)
}

// LocalDir returns the run's local directory.
func (c *Context) LocalDir() string { return c.p.LocalDir() }

// Dir runs fn with dir as the current directory. A relative dir is joined to
// the enclosing overlay. While fn runs, other contexts entering a Dir scope on
// the same node wait; nested scopes in this context do not.
func (c *Context) Dir(dir string, fn func() error) error {
	if err := c.node.LockDir(c.ctx, c.id); err != nil {
		return fmt.Errorf("enter %s: %w", dir, err)
	}
	defer func() {
		if err := c.node.UnlockDir(c.id); err != nil {
			c.logger.Warn("failed to release directory lock", "dir", dir, "error", err)
		}
	}()

	overlay := dir
	if !path.IsAbs(dir) && len(c.dirs) > 0 {
		overlay = path.Join(c.dirs[len(c.dirs)-1], dir)
	}
	c.dirs = append(c.dirs, overlay)
	defer func() { c.dirs = c.dirs[:len(c.dirs)-1] }()

	c.logger.Debug("entering directory", "dir", c.Cwd())
	return fn()
}

// Exec runs cmd on the node in Cwd.
func (c *Context) Exec(cmd string, opts ...remote.ExecOption) (*remote.CommandResult, error) {
	return c.node.Conn().Exec(c.ctx, cmd, c.execOptions(opts)...)
}

// Sudo runs cmd through sudo in Cwd, answering the password prompt with the
// login password. Only SSH nodes support it.
func (c *Context) Sudo(cmd string, opts ...remote.ExecOption) (*remote.CommandResult, error) {
	s, ok := c.node.Conn().(remote.Sudoer)
	if !ok {
		return nil, fmt.Errorf("sudo is not supported on %s nodes", c.node.Kind())
	}
	return s.Sudo(c.ctx, cmd, c.execOptions(opts)...)
}

func (c *Context) execOptions(opts []remote.ExecOption) []remote.ExecOption {
	return append([]remote.ExecOption{remote.WithDir(c.Cwd())}, opts...)
}

// PutFile copies a local file into remoteDir.
func (c *Context) PutFile(local, remoteDir string, opts ...remote.TransferOption) error {
	return c.node.Conn().PutFile(c.ctx, c.localPath(local), c.remotePath(remoteDir), opts...)
}

// GetFile copies a remote file into localDir.
func (c *Context) GetFile(remotePath, localDir string, opts ...remote.TransferOption) error {
	return c.node.Conn().GetFile(c.ctx, c.remotePath(remotePath), c.localPath(localDir), opts...)
}

// PutDir mirrors localDir to remoteDir/<basename of localDir>.
func (c *Context) PutDir(localDir, remoteDir string, opts ...remote.TransferOption) error {
	return c.node.Conn().PutDir(c.ctx, c.localPath(localDir), c.remotePath(remoteDir), opts...)
}

// GetDir mirrors remoteDir to localDir/<basename of remoteDir>.
func (c *Context) GetDir(remoteDir, localDir string, opts ...remote.TransferOption) error {
	return c.node.Conn().GetDir(c.ctx, c.remotePath(remoteDir), c.localPath(localDir), opts...)
}

// Exists reports whether p exists on the node.
func (c *Context) Exists(p string) (bool, error) {
	return c.node.Conn().Exists(c.ctx, c.remotePath(p))
}

// OpenFile opens a remote file with os.O_* flags on nodes that support it.
func (c *Context) OpenFile(p string, flag int) (io.ReadWriteCloser, error) {
	o, ok := c.node.Conn().(remote.FileOpener)
	if !ok {
		return nil, fmt.Errorf("open file is not supported on %s nodes", c.node.Kind())
	}
	return o.OpenFile(c.ctx, c.remotePath(p), flag)
}

func (c *Context) remotePath(p string) string {
	if path.IsAbs(p) {
		return p
	}
	return path.Join(c.Cwd(), p)
}

func (c *Context) localPath(p string) string {
	if filepath.IsAbs(p) || c.p.ProjectDir() == "" {
		return p
	}
	return filepath.Join(c.p.ProjectDir(), p)
}

// Debug logs msg at DEBUG level with the stage and node attached.
func (c *Context) Debug(msg string, args ...any) { c.logger.Debug(msg, args...) }

// Info logs msg at INFO level with the stage and node attached.
func (c *Context) Info(msg string, args ...any) { c.logger.Info(msg, args...) }

// Warn logs msg at WARN level with the stage and node attached.
func (c *Context) Warn(msg string, args ...any) { c.logger.Warn(msg, args...) }

// Error logs msg at ERROR level with the stage and node attached.
func (c *Context) Error(msg string, args ...any) { c.logger.Error(msg, args...) }
