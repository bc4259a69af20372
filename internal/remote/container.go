package remote

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	cerrdefs "github.com/containerd/errdefs"
	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
	"github.com/spf13/afero"

	"github.com/Iron-Ham/xflow/internal/errors"
	"github.com/Iron-Ham/xflow/internal/event"
)

// DefaultDockerPort is the runtime API port used when none is configured.
const DefaultDockerPort = 2375

// ContainerConfig identifies a container target. Exactly one of Name and
// Image must be set: Name binds to an existing container, Image creates a
// fresh (ephemeral) container on first use.
type ContainerConfig struct {
	Host       string
	Port       int
	User       string
	Name       string
	Image      string
	Run        RunConfig
	CACert     string
	ClientCert string
	ClientKey  string
}

// RunConfig holds the arguments used when creating a container from an image.
type RunConfig struct {
	Name        string
	Command     []string
	Entrypoint  []string
	Env         []string
	WorkingDir  string
	User        string
	Binds       []string
	NetworkMode string
	Privileged  bool
}

// Validate checks the mutually exclusive and paired fields.
func (c ContainerConfig) Validate() error {
	if (c.Name == "") == (c.Image == "") {
		return errors.NewValidationError("must specify exactly one of container name and image").WithField("name/image")
	}
	if (c.ClientCert == "") != (c.ClientKey == "") {
		return errors.NewValidationError("client cert and client key must be specified together").WithField("client_cert/client_key")
	}
	if c.Host == "" {
		return errors.NewValidationError("host is required").WithField("host")
	}
	return nil
}

// dockerAPI is the subset of the runtime client used by ContainerConnection.
type dockerAPI interface {
	ContainerInspect(ctx context.Context, containerID string) (container.InspectResponse, error)
	ContainerCreate(ctx context.Context, config *container.Config, hostConfig *container.HostConfig, networkingConfig *network.NetworkingConfig, platform *ocispec.Platform, containerName string) (container.CreateResponse, error)
	ContainerStart(ctx context.Context, containerID string, options container.StartOptions) error
	ContainerRemove(ctx context.Context, containerID string, options container.RemoveOptions) error
	ContainerExecCreate(ctx context.Context, containerID string, options container.ExecOptions) (container.ExecCreateResponse, error)
	ContainerExecAttach(ctx context.Context, execID string, config container.ExecAttachOptions) (types.HijackedResponse, error)
	ContainerExecInspect(ctx context.Context, execID string) (container.ExecInspect, error)
	CopyToContainer(ctx context.Context, containerID, dstPath string, content io.Reader, options container.CopyToContainerOptions) error
	CopyFromContainer(ctx context.Context, containerID, srcPath string) (io.ReadCloser, container.PathStat, error)
	ContainerStatPath(ctx context.Context, containerID, path string) (container.PathStat, error)
	ImagePull(ctx context.Context, refStr string, options image.PullOptions) (io.ReadCloser, error)
	Close() error
}

func newDockerClient(cfg ContainerConfig) (dockerAPI, error) {
	opts := []client.Opt{
		client.WithHost(fmt.Sprintf("tcp://%s:%d", cfg.Host, cfg.Port)),
		client.WithAPIVersionNegotiation(),
	}
	if cfg.CACert != "" || cfg.ClientCert != "" {
		opts = append(opts, client.WithTLSClientConfig(cfg.CACert, cfg.ClientCert, cfg.ClientKey))
	}
	return client.NewClientWithOpts(opts...)
}

// ContainerConnection executes commands through the container runtime's exec
// API and transfers files as tar archives.
type ContainerConnection struct {
	base
	cfg       ContainerConfig
	newClient func(ContainerConfig) (dockerAPI, error)

	mu   sync.Mutex
	api  dockerAPI
	id   string
	name string // resolved container name
}

// NewContainerConnection validates cfg and returns an unopened connection.
func NewContainerConnection(cfg ContainerConfig, opts ...Option) (*ContainerConnection, error) {
	if cfg.Port == 0 {
		cfg.Port = DefaultDockerPort
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &ContainerConnection{
		base:      newBase(opts),
		cfg:       cfg,
		newClient: newDockerClient,
	}, nil
}

// String returns docker://[user@]host:port:<name>, or
// docker://[user@]host:port:<image>-><created name> for ephemeral containers.
func (c *ContainerConnection) String() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connString(c.name)
}

// Ephemeral reports whether the container is created from an image.
func (c *ContainerConnection) Ephemeral() bool {
	return c.cfg.Image != ""
}

// Open connects to the runtime and binds to, or creates, the container.
func (c *ContainerConnection) Open(ctx context.Context) error {
	_, _, err := c.ensure(ctx)
	return err
}

func (c *ContainerConnection) ensure(ctx context.Context) (dockerAPI, string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.api == nil {
		api, err := c.newClient(c.cfg)
		if err != nil {
			return nil, "", fmt.Errorf("create runtime client: %w", err)
		}
		c.api = api
	}
	if c.id != "" {
		return c.api, c.id, nil
	}

	octx, cancel := context.WithTimeout(ctx, c.settings.ConnectTimeout)
	defer cancel()
	c.logger.Info("connecting", "target", c.connString(""))

	var err error
	if c.cfg.Name != "" {
		err = c.bind(octx)
	} else {
		err = c.create(octx)
	}
	if err != nil {
		c.logger.Error("connect failed", "target", c.connString(""), "error", err)
		return nil, "", err
	}
	c.logger.Info("connected", "target", c.connString(c.name), "container_id", c.id)
	c.publish(event.NewConnectionEvent(event.TypeConnectionOpened, c.node, c.connString(c.name)))
	return c.api, c.id, nil
}

// connString is String without taking the lock.
func (c *ContainerConnection) connString(name string) string {
	prefix := fmt.Sprintf("docker://%s:%d", c.cfg.Host, c.cfg.Port)
	if c.cfg.User != "" {
		prefix = fmt.Sprintf("docker://%s@%s:%d", c.cfg.User, c.cfg.Host, c.cfg.Port)
	}
	if c.cfg.Name != "" {
		return prefix + ":" + c.cfg.Name
	}
	if name == "" {
		name = "..."
	}
	return fmt.Sprintf("%s:%s->%s", prefix, c.cfg.Image, name)
}

func (c *ContainerConnection) bind(ctx context.Context) error {
	info, err := c.api.ContainerInspect(ctx, c.cfg.Name)
	if err != nil {
		return c.classify(err)
	}
	return c.adopt(info)
}

func (c *ContainerConnection) adopt(info container.InspectResponse) error {
	if info.ContainerJSONBase == nil {
		return fmt.Errorf("inspect %s: empty response", c.cfg.Name)
	}
	c.id = info.ID
	c.name = strings.TrimPrefix(info.Name, "/")
	return nil
}

func (c *ContainerConnection) create(ctx context.Context) error {
	run := c.cfg.Run
	config := &container.Config{
		Image:      c.cfg.Image,
		Cmd:        run.Command,
		Entrypoint: run.Entrypoint,
		Env:        run.Env,
		WorkingDir: run.WorkingDir,
		User:       run.User,
		Tty:        true,
		OpenStdin:  true,
	}
	hostConfig := &container.HostConfig{
		Binds:       run.Binds,
		NetworkMode: container.NetworkMode(run.NetworkMode),
		Privileged:  run.Privileged,
	}

	resp, err := c.api.ContainerCreate(ctx, config, hostConfig, nil, nil, run.Name)
	if cerrdefs.IsNotFound(err) {
		c.logger.Info("pulling image", "image", c.cfg.Image)
		if perr := c.pull(ctx); perr != nil {
			return c.classify(perr)
		}
		resp, err = c.api.ContainerCreate(ctx, config, hostConfig, nil, nil, run.Name)
	}
	if err != nil {
		return c.classify(err)
	}
	for _, w := range resp.Warnings {
		c.logger.Warn("container create warning", "warning", w)
	}
	if err := c.api.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		_ = c.api.ContainerRemove(context.WithoutCancel(ctx), resp.ID, container.RemoveOptions{Force: true})
		return fmt.Errorf("start container from %s: %w", c.cfg.Image, err)
	}
	info, err := c.api.ContainerInspect(ctx, resp.ID)
	if err != nil {
		c.id = resp.ID
		c.name = resp.ID[:min(12, len(resp.ID))]
		return nil
	}
	return c.adopt(info)
}

func (c *ContainerConnection) pull(ctx context.Context) error {
	rc, err := c.api.ImagePull(ctx, c.cfg.Image, image.PullOptions{})
	if err != nil {
		return err
	}
	defer rc.Close()
	_, err = io.Copy(io.Discard, rc)
	return err
}

// classify maps runtime errors to the connection error taxonomy.
func (c *ContainerConnection) classify(err error) error {
	target := c.connString("")
	var netErr interface{ Timeout() bool }
	switch {
	case cerrdefs.IsNotFound(err):
		return errors.NewNoSuchConnectionTargetError(target, err)
	case errors.Is(err, context.DeadlineExceeded) || errors.As(err, &netErr) && netErr.Timeout():
		return errors.NewConnectError(errors.ConnectTimeout, target, err).
			WithHint(fmt.Sprintf("timed out after %s, please check whether the network is normal", c.settings.ConnectTimeout))
	case errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.EHOSTUNREACH) || client.IsErrConnectionFailed(err):
		return errors.NewConnectError(errors.ConnectRefused, target, err).
			WithHint(fmt.Sprintf("could not connect to port %d, please check whether the runtime API is exposed", c.cfg.Port))
	case cerrdefs.IsUnauthorized(err) || cerrdefs.IsPermissionDenied(err):
		return errors.NewConnectError(errors.ConnectAuth, target, err).
			WithHint("please check the TLS client certificate and key")
	default:
		return err
	}
}

// Close releases the runtime client. The container itself is left running;
// the next use reattaches to it.
func (c *ContainerConnection) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.api == nil {
		return nil
	}
	err := c.api.Close()
	c.api = nil
	c.publish(event.NewConnectionEvent(event.TypeConnectionClosed, c.node, c.connString(c.name)))
	return err
}

// Remove destroys the container.
func (c *ContainerConnection) Remove(ctx context.Context, force bool) error {
	api, id, err := c.ensure(ctx)
	if err != nil {
		return err
	}
	target := c.String()
	if err := api.ContainerRemove(ctx, id, container.RemoveOptions{Force: force}); err != nil {
		return fmt.Errorf("remove container %s: %w", target, err)
	}
	c.logger.Info("removed container", "target", target, "container_id", id)
	c.publish(event.NewConnectionEvent(event.TypeContainerRemoved, c.node, target))

	c.mu.Lock()
	c.id = ""
	c.mu.Unlock()
	return nil
}

// Alive reports whether the container still exists on the runtime.
func (c *ContainerConnection) Alive(ctx context.Context) (bool, error) {
	c.mu.Lock()
	api, ref := c.api, c.id
	if ref == "" {
		ref = c.name
	}
	c.mu.Unlock()
	if api == nil {
		var err error
		if api, err = c.newClient(c.cfg); err != nil {
			return false, err
		}
		defer api.Close()
	}
	if ref == "" {
		ref = c.cfg.Name
	}
	if ref == "" {
		return false, nil
	}
	if _, err := api.ContainerInspect(ctx, ref); err != nil {
		if cerrdefs.IsNotFound(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// Exec runs cmd with /bin/sh -c through an exec instance with a tty.
func (c *ContainerConnection) Exec(ctx context.Context, cmd string, opts ...ExecOption) (*CommandResult, error) {
	cfg := newExecConfig(opts)
	api, id, err := c.ensure(ctx)
	if err != nil {
		return nil, err
	}
	env := c.mergeEnv(cfg.env)
	size := &[2]uint{uint(c.settings.PtyHeight), uint(c.settings.PtyWidth)}

	started := c.commandStarted(c.String(), cfg.dir, cmd, cfg)
	created, err := api.ContainerExecCreate(ctx, id, container.ExecOptions{
		User:         c.cfg.User,
		Tty:          true,
		ConsoleSize:  size,
		AttachStdin:  true,
		AttachStdout: true,
		AttachStderr: true,
		Env:          envList(env),
		WorkingDir:   cfg.dir,
		Cmd:          []string{"/bin/sh", "-c", cmd},
	})
	if err != nil {
		return nil, fmt.Errorf("create exec %q: %w", cmd, err)
	}
	resp, err := api.ContainerExecAttach(ctx, created.ID, container.ExecAttachOptions{Tty: true, ConsoleSize: size})
	if err != nil {
		return nil, fmt.Errorf("attach exec %q: %w", cmd, err)
	}
	defer resp.Close()

	out, err := c.stream(ctx, resp.Reader, resp.Conn, env["LANG"], cfg)
	if err != nil {
		return nil, interrupted(out, cmd, c.node, err)
	}
	code, err := c.waitExec(ctx, api, created.ID)
	if err != nil {
		return nil, fmt.Errorf("inspect exec %q: %w", cmd, err)
	}
	c.commandFinished(cmd, code, started, cfg)
	return finish(out, code, cmd, c.node)
}

// waitExec polls the exec instance until it stops running.
func (c *ContainerConnection) waitExec(ctx context.Context, api dockerAPI, execID string) (int, error) {
	for {
		info, err := api.ContainerExecInspect(ctx, execID)
		if err != nil {
			return -1, err
		}
		if !info.Running {
			return info.ExitCode, nil
		}
		select {
		case <-ctx.Done():
			return -1, ctx.Err()
		case <-time.After(c.settings.PollInterval):
		}
	}
}

func (c *ContainerConnection) mkdirAll(ctx context.Context, dir string) error {
	_, err := c.Exec(ctx, "mkdir -p "+Quote(dir), withQuiet())
	return err
}

// PutFile uploads local into remoteDir as a single-entry archive.
func (c *ContainerConnection) PutFile(ctx context.Context, local, remoteDir string, opts ...TransferOption) error {
	cfg := newTransferConfig(opts)
	name := cfg.name
	if name == "" {
		name = path.Base(filepath.ToSlash(local))
	}
	remote := path.Join(remoteDir, name)
	if err := c.putArchive(ctx, local, name, remoteDir, c.progress(OpPut, local, remote, cfg)); err != nil {
		return errors.NewTransferError(errors.TransferPut, local, remote, err)
	}
	return nil
}

// PutDir uploads the tree at localDir into remoteDir.
func (c *ContainerConnection) PutDir(ctx context.Context, localDir, remoteDir string, opts ...TransferOption) error {
	cfg := newTransferConfig(opts)
	name := path.Base(filepath.ToSlash(localDir))
	remote := path.Join(remoteDir, name)
	if err := c.putArchive(ctx, localDir, name, remoteDir, c.progress(OpPut, localDir, remote, cfg)); err != nil {
		return errors.NewTransferError(errors.TransferPut, localDir, remote, err)
	}
	return nil
}

// putArchive packs src under root into a temporary archive and sends it to
// remoteDir. The temporary archive is always removed.
func (c *ContainerConnection) putArchive(ctx context.Context, src, root, remoteDir string, p *Progress) error {
	api, id, err := c.ensure(ctx)
	if err != nil {
		return err
	}
	tmp, err := afero.TempFile(c.localFS, "", "xflow-put-*.tar")
	if err != nil {
		return err
	}
	defer func() {
		_ = tmp.Close()
		_ = c.localFS.Remove(tmp.Name())
	}()

	if err := writeTar(c.localFS, tmp, src, root); err != nil {
		return err
	}
	size, err := tmp.Seek(0, io.SeekCurrent)
	if err != nil {
		return err
	}
	if _, err := tmp.Seek(0, io.SeekStart); err != nil {
		return err
	}
	if err := c.mkdirAll(ctx, remoteDir); err != nil {
		return err
	}
	p.Update(0, size)
	if err := api.CopyToContainer(ctx, id, remoteDir, &progressReader{r: tmp, p: p, total: size}, container.CopyToContainerOptions{}); err != nil {
		return err
	}
	p.Update(size, size)
	return nil
}

// GetFile downloads remote into localDir.
func (c *ContainerConnection) GetFile(ctx context.Context, remote, localDir string, opts ...TransferOption) error {
	cfg := newTransferConfig(opts)
	name := cfg.name
	if name == "" {
		name = path.Base(remote)
	}
	if err := c.getArchive(ctx, remote, localDir, cfg.name, cfg); err != nil {
		return errors.NewTransferError(errors.TransferGet, filepath.Join(localDir, name), remote, err)
	}
	return nil
}

// GetDir downloads the tree at remoteDir into localDir.
func (c *ContainerConnection) GetDir(ctx context.Context, remoteDir, localDir string, opts ...TransferOption) error {
	cfg := newTransferConfig(opts)
	if err := c.getArchive(ctx, remoteDir, localDir, "", cfg); err != nil {
		return errors.NewTransferError(errors.TransferGet, filepath.Join(localDir, path.Base(remoteDir)), remoteDir, err)
	}
	return nil
}

// getArchive fetches src as an archive into a temporary file and unpacks it
// into localDir, renaming the top-level entry to rename when given.
func (c *ContainerConnection) getArchive(ctx context.Context, src, localDir, rename string, cfg *transferConfig) error {
	api, id, err := c.ensure(ctx)
	if err != nil {
		return err
	}
	rc, _, err := api.CopyFromContainer(ctx, id, src)
	if err != nil {
		if cerrdefs.IsNotFound(err) {
			return fmt.Errorf("%s: %w", src, fs.ErrNotExist)
		}
		return err
	}
	defer rc.Close()

	tmp, err := afero.TempFile(c.localFS, "", "xflow-get-*.tar")
	if err != nil {
		return err
	}
	defer func() {
		_ = tmp.Close()
		_ = c.localFS.Remove(tmp.Name())
	}()
	if _, err := io.Copy(tmp, rc); err != nil {
		return err
	}
	if _, err := tmp.Seek(0, io.SeekStart); err != nil {
		return err
	}
	return extractTar(ctx, c.localFS, tmp, path.Dir(src), localDir, rename, func(local, remote string) *Progress {
		return c.progress(OpGet, local, remote, cfg)
	})
}

// Exists reports whether path exists inside the container.
func (c *ContainerConnection) Exists(ctx context.Context, p string) (bool, error) {
	api, id, err := c.ensure(ctx)
	if err != nil {
		return false, err
	}
	if _, err := api.ContainerStatPath(ctx, id, p); err != nil {
		if cerrdefs.IsNotFound(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}
