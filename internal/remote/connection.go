package remote

import (
	"context"
	"io"
	"maps"
	"time"

	"github.com/spf13/afero"

	"github.com/Iron-Ham/xflow/internal/event"
	"github.com/Iron-Ham/xflow/internal/logging"
)

// DefaultLang is applied to LANG and LANGUAGE when neither the caller nor the
// connection sets them.
const DefaultLang = "en_US.UTF-8"

// Connection is a session to one execution target. Implementations open
// themselves on first use and are safe for concurrent use; concurrent first
// use results in a single connect.
type Connection interface {
	// Open connects if not already connected.
	Open(ctx context.Context) error
	// Close releases the session. A closed connection reopens on next use.
	Close() error
	// Exec runs cmd and returns its normalized output. A non-zero exit
	// status is returned as *errors.CommandError. So is a cancelled ctx,
	// with exit code -1 and the output read before cancellation.
	Exec(ctx context.Context, cmd string, opts ...ExecOption) (*CommandResult, error)
	// PutFile copies the local file into remoteDir.
	PutFile(ctx context.Context, local, remoteDir string, opts ...TransferOption) error
	// GetFile copies the remote file into localDir.
	GetFile(ctx context.Context, remote, localDir string, opts ...TransferOption) error
	// PutDir mirrors localDir to remoteDir/<basename of localDir>.
	PutDir(ctx context.Context, localDir, remoteDir string, opts ...TransferOption) error
	// GetDir mirrors remoteDir to localDir/<basename of remoteDir>.
	GetDir(ctx context.Context, remoteDir, localDir string, opts ...TransferOption) error
	// Exists reports whether path exists on the target.
	Exists(ctx context.Context, path string) (bool, error)
	// String returns the connection string, e.g. ssh://root@10.0.0.1:22.
	String() string
}

// Removable is implemented by connections whose target can be destroyed,
// namely containers.
type Removable interface {
	// Ephemeral reports whether the target was created for this run rather
	// than bound to a pre-existing one.
	Ephemeral() bool
	// Remove destroys the target. force removes it even while running.
	Remove(ctx context.Context, force bool) error
	// Alive reports whether the target still exists.
	Alive(ctx context.Context) (bool, error)
}

// FileOpener is implemented by connections that can open remote files for
// direct reading and writing.
type FileOpener interface {
	OpenFile(ctx context.Context, path string, flag int) (io.ReadWriteCloser, error)
}

// Sudoer is implemented by connections that can run commands through sudo
// with the login password answered automatically.
type Sudoer interface {
	Sudo(ctx context.Context, cmd string, opts ...ExecOption) (*CommandResult, error)
}

// -----------------------------------------------------------------------------
// Settings
// -----------------------------------------------------------------------------

// Settings tunes the connect, exec and transfer protocol.
type Settings struct {
	ConnectTimeout   time.Duration
	KnownHostsFile   string // empty accepts any host key
	PollInterval     time.Duration
	ReadSize         int
	PtyWidth         int
	PtyHeight        int
	Term             string
	ProgressInterval time.Duration
}

// DefaultSettings returns the settings used when none are configured.
func DefaultSettings() Settings {
	return Settings{
		ConnectTimeout:   10 * time.Second,
		PollInterval:     100 * time.Millisecond,
		ReadSize:         1024,
		PtyWidth:         200,
		PtyHeight:        50,
		Term:             "xterm",
		ProgressInterval: 3 * time.Second,
	}
}

func (s Settings) withDefaults() Settings {
	d := DefaultSettings()
	if s.ConnectTimeout <= 0 {
		s.ConnectTimeout = d.ConnectTimeout
	}
	if s.PollInterval <= 0 {
		s.PollInterval = d.PollInterval
	}
	if s.ReadSize <= 0 {
		s.ReadSize = d.ReadSize
	}
	if s.PtyWidth <= 0 {
		s.PtyWidth = d.PtyWidth
	}
	if s.PtyHeight <= 0 {
		s.PtyHeight = d.PtyHeight
	}
	if s.Term == "" {
		s.Term = d.Term
	}
	if s.ProgressInterval <= 0 {
		s.ProgressInterval = d.ProgressInterval
	}
	return s
}

// -----------------------------------------------------------------------------
// Connection options
// -----------------------------------------------------------------------------

// Option configures a connection at construction.
type Option func(*base)

// WithLogger sets the structured logger.
func WithLogger(l *logging.Logger) Option {
	return func(b *base) { b.logger = l }
}

// WithBus sets the bus that receives command, output and progress events.
func WithBus(bus *event.Bus) Option {
	return func(b *base) { b.bus = bus }
}

// WithSettings overrides the protocol settings. Zero fields keep defaults.
func WithSettings(s Settings) Option {
	return func(b *base) { b.settings = s.withDefaults() }
}

// WithNodeName tags events and log lines with the owning node.
func WithNodeName(name string) Option {
	return func(b *base) { b.node = name }
}

// WithLocalFS replaces the local filesystem used by transfers.
func WithLocalFS(fs afero.Fs) Option {
	return func(b *base) { b.localFS = fs }
}

// WithDefaultEnv sets connection-level environment defaults that every
// command inherits.
func WithDefaultEnv(env map[string]string) Option {
	return func(b *base) { maps.Copy(b.env, env) }
}

// -----------------------------------------------------------------------------
// Exec options
// -----------------------------------------------------------------------------

// Prompt is an interactive prompt and the line written back when it appears.
type Prompt struct {
	Match  string
	Answer string
}

// ExecOption configures a single Exec call.
type ExecOption func(*execConfig)

type execConfig struct {
	env     map[string]string
	prompts []Prompt
	output  io.Writer
	dir     string
	quiet   bool
}

func newExecConfig(opts []ExecOption) *execConfig {
	cfg := &execConfig{env: map[string]string{}}
	for _, opt := range opts {
		opt(cfg)
	}
	return cfg
}

// WithEnv merges env over the connection defaults for this command.
func WithEnv(env map[string]string) ExecOption {
	return func(c *execConfig) { maps.Copy(c.env, env) }
}

// WithPrompt answers match with answer followed by a newline, once, when
// match appears on the last output line. Prompts are checked in the order
// given.
func WithPrompt(match, answer string) ExecOption {
	return func(c *execConfig) { c.prompts = append(c.prompts, Prompt{Match: match, Answer: answer}) }
}

// WithOutput copies decoded output to w as it arrives.
func WithOutput(w io.Writer) ExecOption {
	return func(c *execConfig) { c.output = w }
}

// WithDir runs the command in dir.
func WithDir(dir string) ExecOption {
	return func(c *execConfig) { c.dir = dir }
}

// withQuiet suppresses command events; used for internal housekeeping.
func withQuiet() ExecOption {
	return func(c *execConfig) { c.quiet = true }
}

// -----------------------------------------------------------------------------
// Transfer options
// -----------------------------------------------------------------------------

// ProgressFunc receives the bytes transferred so far and the total.
type ProgressFunc func(transferred, total int64)

// TransferOption configures a single transfer.
type TransferOption func(*transferConfig)

type transferConfig struct {
	name     string
	progress ProgressFunc
}

func newTransferConfig(opts []TransferOption) *transferConfig {
	cfg := &transferConfig{}
	for _, opt := range opts {
		opt(cfg)
	}
	return cfg
}

// WithName stores the file under name instead of the source basename.
// Ignored by directory transfers.
func WithName(name string) TransferOption {
	return func(c *transferConfig) { c.name = name }
}

// WithProgress additionally reports every progress update to fn, unthrottled.
func WithProgress(fn ProgressFunc) TransferOption {
	return func(c *transferConfig) { c.progress = fn }
}
