package remote

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"syscall"

	"github.com/creack/pty"

	"github.com/Iron-Ham/xflow/internal/errors"
	"github.com/Iron-Ham/xflow/internal/event"
)

// LocalConnection runs commands on this host under a pseudo-terminal. It
// shares the streaming, prompt and transfer behaviour of the remote variants,
// which makes it useful for build steps that need no remote host and for
// tests.
type LocalConnection struct {
	base
	shell string
}

// NewLocalConnection returns a connection to the local host.
func NewLocalConnection(opts ...Option) *LocalConnection {
	return &LocalConnection{base: newBase(opts), shell: "/bin/sh"}
}

// String returns local://<hostname>.
func (c *LocalConnection) String() string {
	host, err := os.Hostname()
	if err != nil {
		host = "localhost"
	}
	return "local://" + host
}

// Open is a no-op; the local host is always reachable.
func (c *LocalConnection) Open(context.Context) error {
	c.publish(event.NewConnectionEvent(event.TypeConnectionOpened, c.node, c.String()))
	return nil
}

// Close is a no-op.
func (c *LocalConnection) Close() error { return nil }

// Exec runs cmd with /bin/sh -c under a pty.
func (c *LocalConnection) Exec(ctx context.Context, cmd string, opts ...ExecOption) (*CommandResult, error) {
	cfg := newExecConfig(opts)
	env := c.mergeEnv(cfg.env)

	command := exec.CommandContext(ctx, c.shell, "-c", cmd)
	command.Dir = cfg.dir
	command.Env = append(os.Environ(), "TERM="+c.settings.Term)
	command.Env = append(command.Env, envList(env)...)

	started := c.commandStarted(c.String(), cfg.dir, cmd, cfg)
	ptmx, err := pty.StartWithSize(command, &pty.Winsize{
		Rows: uint16(c.settings.PtyHeight),
		Cols: uint16(c.settings.PtyWidth),
	})
	if err != nil {
		return nil, fmt.Errorf("start %q: %w", cmd, err)
	}
	defer ptmx.Close()

	out, streamErr := c.stream(ctx, ptmx, ptmx, env["LANG"], cfg)
	waitErr := command.Wait()
	if streamErr != nil {
		return nil, interrupted(out, cmd, c.node, streamErr)
	}
	code := 0
	if waitErr != nil {
		var exitErr *exec.ExitError
		if !errors.As(waitErr, &exitErr) {
			return nil, fmt.Errorf("wait %q: %w", cmd, waitErr)
		}
		code = exitErr.ExitCode()
	}
	c.commandFinished(cmd, code, started, cfg)
	return finish(out, code, cmd, c.node)
}

// isClosedPty reports the error Linux returns when reading the master side of
// a pty whose slave has been closed.
func isClosedPty(err error) bool {
	return errors.Is(err, syscall.EIO)
}

func (c *LocalConnection) engine() *transferEngine {
	fs := aferoFS{c.localFS}
	return &transferEngine{b: &c.base, local: fs, remote: fs}
}

// PutFile copies local into remoteDir on this host.
func (c *LocalConnection) PutFile(ctx context.Context, local, remoteDir string, opts ...TransferOption) error {
	return c.engine().putFile(ctx, local, remoteDir, newTransferConfig(opts))
}

// GetFile copies remote into localDir on this host.
func (c *LocalConnection) GetFile(ctx context.Context, remote, localDir string, opts ...TransferOption) error {
	return c.engine().getFile(ctx, remote, localDir, newTransferConfig(opts))
}

// PutDir mirrors localDir into remoteDir on this host.
func (c *LocalConnection) PutDir(ctx context.Context, localDir, remoteDir string, opts ...TransferOption) error {
	return c.engine().putDir(ctx, localDir, remoteDir, newTransferConfig(opts))
}

// GetDir mirrors remoteDir into localDir on this host.
func (c *LocalConnection) GetDir(ctx context.Context, remoteDir, localDir string, opts ...TransferOption) error {
	return c.engine().getDir(ctx, remoteDir, localDir, newTransferConfig(opts))
}

// Exists reports whether path exists.
func (c *LocalConnection) Exists(_ context.Context, path string) (bool, error) {
	return c.engine().exists(path)
}

// OpenFile opens path with os.O_* flags.
func (c *LocalConnection) OpenFile(_ context.Context, path string, flag int) (io.ReadWriteCloser, error) {
	return c.localFS.OpenFile(path, flag, 0644)
}
