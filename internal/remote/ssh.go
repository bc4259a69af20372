package remote

import (
	"context"
	"fmt"
	"io"
	"maps"
	"net"
	"slices"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/pkg/sftp"
	"github.com/spf13/afero"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/Iron-Ham/xflow/internal/errors"
	"github.com/Iron-Ham/xflow/internal/event"
)

// SudoPrompt is the prompt sudo prints before reading the password.
const SudoPrompt = "[sudo] password"

// SSHConfig identifies an SSH target.
type SSHConfig struct {
	Host     string
	Port     int // defaults to 22
	User     string
	Password string
	KeyFile  string // optional private key, tried before the password
}

// SSHConnection executes commands over SSH and transfers files over SFTP on
// the same client.
type SSHConnection struct {
	base
	cfg SSHConfig

	mu     sync.Mutex
	client *ssh.Client
	sftp   *sftp.Client
	gone   chan struct{} // closed when the client's transport ends
}

// NewSSHConnection returns an unopened connection.
func NewSSHConnection(cfg SSHConfig, opts ...Option) *SSHConnection {
	if cfg.Port == 0 {
		cfg.Port = 22
	}
	return &SSHConnection{base: newBase(opts), cfg: cfg}
}

// String returns ssh://user@host:port.
func (c *SSHConnection) String() string {
	return fmt.Sprintf("ssh://%s@%s:%d", c.cfg.User, c.cfg.Host, c.cfg.Port)
}

// Open connects if the connection is not already alive.
func (c *SSHConnection) Open(ctx context.Context) error {
	_, err := c.connect(ctx)
	return err
}

// Close closes the SFTP session and the SSH client.
func (c *SSHConnection) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.client == nil {
		return nil
	}
	if c.sftp != nil {
		_ = c.sftp.Close()
		c.sftp = nil
	}
	err := c.client.Close()
	c.client = nil
	c.logger.Info("disconnected", "target", c.String())
	c.publish(event.NewConnectionEvent(event.TypeConnectionClosed, c.node, c.String()))
	return err
}

func (c *SSHConnection) connect(ctx context.Context) (*ssh.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connectLocked(ctx)
}

func (c *SSHConnection) connectLocked(ctx context.Context) (*ssh.Client, error) {
	if c.client != nil {
		select {
		case <-c.gone:
			c.logger.Warn("connection lost, reconnecting", "target", c.String())
			if c.sftp != nil {
				_ = c.sftp.Close()
				c.sftp = nil
			}
			_ = c.client.Close()
			c.client = nil
		default:
			return c.client, nil
		}
	}

	c.logger.Info("connecting", "target", c.String())
	client, err := c.dial(ctx)
	if err != nil {
		c.logger.Error("connect failed", "target", c.String(), "error", err)
		return nil, err
	}
	gone := make(chan struct{})
	go func() {
		_ = client.Wait()
		close(gone)
	}()
	c.client, c.gone = client, gone
	c.publish(event.NewConnectionEvent(event.TypeConnectionOpened, c.node, c.String()))
	return client, nil
}

func (c *SSHConnection) dial(ctx context.Context) (*ssh.Client, error) {
	timeout := c.settings.ConnectTimeout
	addr := net.JoinHostPort(c.cfg.Host, strconv.Itoa(c.cfg.Port))

	config, err := c.clientConfig()
	if err != nil {
		return nil, err
	}

	dctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	conn, err := (&net.Dialer{}).DialContext(dctx, "tcp", addr)
	if err != nil {
		return nil, c.classify(ctx, err)
	}
	_ = conn.SetDeadline(time.Now().Add(timeout))
	cc, chans, reqs, err := ssh.NewClientConn(conn, addr, config)
	if err != nil {
		_ = conn.Close()
		return nil, c.classify(ctx, err)
	}
	_ = conn.SetDeadline(time.Time{})
	return ssh.NewClient(cc, chans, reqs), nil
}

func (c *SSHConnection) clientConfig() (*ssh.ClientConfig, error) {
	var auth []ssh.AuthMethod
	if c.cfg.KeyFile != "" {
		pem, err := afero.ReadFile(c.localFS, c.cfg.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("read key file: %w", err)
		}
		signer, err := ssh.ParsePrivateKey(pem)
		if _, missing := err.(*ssh.PassphraseMissingError); missing && c.cfg.Password != "" {
			signer, err = ssh.ParsePrivateKeyWithPassphrase(pem, []byte(c.cfg.Password))
		}
		if err != nil {
			return nil, fmt.Errorf("parse key file %s: %w", c.cfg.KeyFile, err)
		}
		auth = append(auth, ssh.PublicKeys(signer))
	}
	if c.cfg.Password != "" {
		password := c.cfg.Password
		auth = append(auth,
			ssh.Password(password),
			ssh.KeyboardInteractive(func(_, _ string, questions []string, _ []bool) ([]string, error) {
				answers := make([]string, len(questions))
				for i := range answers {
					answers[i] = password
				}
				return answers, nil
			}),
		)
	}

	hostKey := ssh.InsecureIgnoreHostKey()
	if c.settings.KnownHostsFile != "" {
		cb, err := knownhosts.New(c.settings.KnownHostsFile)
		if err != nil {
			return nil, fmt.Errorf("load known hosts: %w", err)
		}
		hostKey = cb
	}

	return &ssh.ClientConfig{
		User:            c.cfg.User,
		Auth:            auth,
		HostKeyCallback: hostKey,
		Timeout:         c.settings.ConnectTimeout,
	}, nil
}

// classify maps dial and handshake failures to ConnectError kinds. Errors that
// fit no kind are returned unchanged.
func (c *SSHConnection) classify(ctx context.Context, err error) error {
	if ctx.Err() == context.Canceled {
		return ctx.Err()
	}
	target := c.String()
	msg := err.Error()
	var netErr net.Error
	switch {
	case strings.Contains(msg, "unable to authenticate") || strings.Contains(msg, "no supported methods remain"):
		return errors.NewConnectError(errors.ConnectAuth, target, err).
			WithHint(fmt.Sprintf("authentication failed for user %q, please check whether the username and password are correct", c.cfg.User))
	case errors.Is(err, context.DeadlineExceeded) || errors.As(err, &netErr) && netErr.Timeout():
		return errors.NewConnectError(errors.ConnectTimeout, target, err).
			WithHint(fmt.Sprintf("timed out after %s, please check whether the network is normal", c.settings.ConnectTimeout))
	case errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.EHOSTUNREACH) || errors.Is(err, syscall.ENETUNREACH):
		return errors.NewConnectError(errors.ConnectRefused, target, err).
			WithHint(fmt.Sprintf("could not connect to port %d, please check whether the port is opened", c.cfg.Port))
	case strings.Contains(msg, "version string") || strings.Contains(msg, "protocol banner") ||
		errors.Is(err, io.EOF) || errors.Is(err, syscall.ECONNRESET):
		return errors.NewConnectError(errors.ConnectHandshake, target, err).
			WithHint(fmt.Sprintf("reading the SSH protocol banner on port %d failed, please check whether the port is correct", c.cfg.Port))
	default:
		return err
	}
}

// Exec runs cmd in a pty-backed session. On a non-zero exit status the
// result is returned together with a *errors.CommandError.
func (c *SSHConnection) Exec(ctx context.Context, cmd string, opts ...ExecOption) (*CommandResult, error) {
	cfg := newExecConfig(opts)
	client, err := c.connect(ctx)
	if err != nil {
		return nil, err
	}
	sess, err := client.NewSession()
	if err != nil {
		return nil, fmt.Errorf("open session: %w", err)
	}
	defer sess.Close()

	env := c.mergeEnv(cfg.env)
	var rejected []string
	for _, k := range slices.Sorted(maps.Keys(env)) {
		if err := sess.Setenv(k, env[k]); err != nil {
			rejected = append(rejected, k)
		}
	}
	line := inDir(cfg.dir, cmd)
	if len(rejected) > 0 {
		c.logger.Debug("server rejected env, exporting inline", "keys", rejected)
		line = exportPrefix(rejected, env) + line
	}

	modes := ssh.TerminalModes{
		ssh.ECHO:          0,
		ssh.TTY_OP_ISPEED: 14400,
		ssh.TTY_OP_OSPEED: 14400,
	}
	if err := sess.RequestPty(c.settings.Term, c.settings.PtyHeight, c.settings.PtyWidth, modes); err != nil {
		return nil, fmt.Errorf("request pty: %w", err)
	}
	stdout, err := sess.StdoutPipe()
	if err != nil {
		return nil, err
	}
	stdin, err := sess.StdinPipe()
	if err != nil {
		return nil, err
	}

	started := c.commandStarted(c.String(), cfg.dir, cmd, cfg)
	if err := sess.Start(line); err != nil {
		return nil, fmt.Errorf("start %q: %w", cmd, err)
	}
	out, err := c.stream(ctx, stdout, stdin, env["LANG"], cfg)
	if err != nil {
		_ = sess.Signal(ssh.SIGKILL)
		return nil, interrupted(out, cmd, c.node, err)
	}
	code, err := sshExitCode(sess.Wait())
	if err != nil {
		return nil, fmt.Errorf("wait %q: %w", cmd, err)
	}
	c.commandFinished(cmd, code, started, cfg)
	return finish(out, code, cmd, c.node)
}

func sshExitCode(err error) (int, error) {
	if err == nil {
		return 0, nil
	}
	var exitErr *ssh.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitStatus(), nil
	}
	return -1, err
}

// interrupted reports a command whose output stream stopped early. The
// returned *errors.CommandError carries the output read so far and unwraps
// to cause.
func interrupted(out, cmd, node string, cause error) error {
	return errors.NewCommandError(cmd, -1).WithOutput(Normalize(out)).WithNode(node).WithCause(cause)
}

// finish builds the result and, for a non-zero code, the matching error.
func finish(out string, code int, cmd, node string) (*CommandResult, error) {
	res := NewCommandResult(out, code, cmd)
	if code != 0 {
		return res, errors.NewCommandError(cmd, code).WithOutput(res.Text()).WithNode(node)
	}
	return res, nil
}

// Sudo runs cmd through sudo, answering the password prompt with the login
// password.
func (c *SSHConnection) Sudo(ctx context.Context, cmd string, opts ...ExecOption) (*CommandResult, error) {
	opts = append(opts, WithPrompt(SudoPrompt, c.cfg.Password))
	return c.Exec(ctx, "sudo "+cmd, opts...)
}

func (c *SSHConnection) sftpClient(ctx context.Context) (*sftp.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	client, err := c.connectLocked(ctx)
	if err != nil {
		return nil, err
	}
	if c.sftp == nil {
		sc, err := sftp.NewClient(client)
		if err != nil {
			return nil, fmt.Errorf("start sftp subsystem: %w", err)
		}
		c.sftp = sc
	}
	return c.sftp, nil
}

func (c *SSHConnection) engine(ctx context.Context) (*transferEngine, error) {
	sc, err := c.sftpClient(ctx)
	if err != nil {
		return nil, err
	}
	return &transferEngine{b: &c.base, local: aferoFS{c.localFS}, remote: sftpFS{sc}}, nil
}

// PutFile uploads local into remoteDir.
func (c *SSHConnection) PutFile(ctx context.Context, local, remoteDir string, opts ...TransferOption) error {
	e, err := c.engine(ctx)
	if err != nil {
		return err
	}
	return e.putFile(ctx, local, remoteDir, newTransferConfig(opts))
}

// GetFile downloads remote into localDir.
func (c *SSHConnection) GetFile(ctx context.Context, remote, localDir string, opts ...TransferOption) error {
	e, err := c.engine(ctx)
	if err != nil {
		return err
	}
	return e.getFile(ctx, remote, localDir, newTransferConfig(opts))
}

// PutDir uploads the tree at localDir into remoteDir.
func (c *SSHConnection) PutDir(ctx context.Context, localDir, remoteDir string, opts ...TransferOption) error {
	e, err := c.engine(ctx)
	if err != nil {
		return err
	}
	return e.putDir(ctx, localDir, remoteDir, newTransferConfig(opts))
}

// GetDir downloads the tree at remoteDir into localDir.
func (c *SSHConnection) GetDir(ctx context.Context, remoteDir, localDir string, opts ...TransferOption) error {
	e, err := c.engine(ctx)
	if err != nil {
		return err
	}
	return e.getDir(ctx, remoteDir, localDir, newTransferConfig(opts))
}

// Exists reports whether path exists on the remote host.
func (c *SSHConnection) Exists(ctx context.Context, path string) (bool, error) {
	e, err := c.engine(ctx)
	if err != nil {
		return false, err
	}
	return e.exists(path)
}

// OpenFile opens a remote file with os.O_* flags.
func (c *SSHConnection) OpenFile(ctx context.Context, path string, flag int) (io.ReadWriteCloser, error) {
	sc, err := c.sftpClient(ctx)
	if err != nil {
		return nil, err
	}
	c.logger.Info("open remote file", "path", path, "flag", flag)
	return sc.OpenFile(path, flag)
}
