package node

import (
	"fmt"
	"maps"
	"path/filepath"
	"slices"
	"strings"

	"github.com/gobwas/glob"
	"github.com/spf13/afero"
	"github.com/spf13/cast"
	"github.com/subosito/gotenv"
	"gopkg.in/yaml.v3"

	"github.com/Iron-Ham/xflow/internal/errors"
	"github.com/Iron-Ham/xflow/internal/remote"
)

// FileName is the default environment file name inside a project directory.
const FileName = "env.yml"

// Environment is the set of nodes a project can run pipelines on, in the
// order they are defined.
type Environment struct {
	workdir string
	nodes   []*Node
	byName  map[string]*Node
}

type envFile struct {
	Workdir string     `yaml:"workdir"`
	Nodes   []nodeSpec `yaml:"nodes"`
}

type nodeSpec struct {
	Name     string         `yaml:"name"`
	Type     string         `yaml:"type"`
	IP       string         `yaml:"ip"`
	SSHPort  int            `yaml:"sshport"`
	User     string         `yaml:"user"`
	Password string         `yaml:"password"`
	KeyFile  string         `yaml:"keyfile"`
	Workdir  string         `yaml:"workdir"`
	Labels   []string       `yaml:"labels"`
	Envs     map[string]any `yaml:"envs"`
	EnvFile  string         `yaml:"env_file"`

	DockerPort int     `yaml:"dockerport"`
	Container  string  `yaml:"container"`
	Image      string  `yaml:"image"`
	Run        runSpec `yaml:"run"`
	CACert     string  `yaml:"cacert"`
	ClientCert string  `yaml:"clientcert"`
	ClientKey  string  `yaml:"clientkey"`
}

type runSpec struct {
	Name        string         `yaml:"name"`
	Command     []string       `yaml:"command"`
	Entrypoint  []string       `yaml:"entrypoint"`
	Env         map[string]any `yaml:"env"`
	WorkingDir  string         `yaml:"workdir"`
	User        string         `yaml:"user"`
	Binds       []string       `yaml:"binds"`
	NetworkMode string         `yaml:"network"`
	Privileged  bool           `yaml:"privileged"`
}

type loader struct {
	fs       afero.Fs
	connOpts []remote.Option
}

// LoadOption configures Load.
type LoadOption func(*loader)

// WithFS reads the environment file and the files it references from fs.
func WithFS(fs afero.Fs) LoadOption {
	return func(l *loader) { l.fs = fs }
}

// WithConnectionOptions passes opts to every connection created by Load.
func WithConnectionOptions(opts ...remote.Option) LoadOption {
	return func(l *loader) { l.connOpts = append(l.connOpts, opts...) }
}

// Load parses the environment file at path and builds an unopened
// connection for every node. Relative paths in the file are resolved
// against the file's directory.
func Load(path string, opts ...LoadOption) (*Environment, error) {
	l := &loader{fs: afero.NewOsFs()}
	for _, opt := range opts {
		opt(l)
	}

	data, err := afero.ReadFile(l.fs, path)
	if err != nil {
		return nil, fmt.Errorf("read environment file: %w", err)
	}
	var f envFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse environment file %s: %w", path, err)
	}

	if f.Workdir == "" {
		return nil, errors.NewValidationError("workdir is required").WithField("workdir")
	}
	base := filepath.Dir(path)
	nodes := make([]*Node, 0, len(f.Nodes))
	for i, spec := range f.Nodes {
		n, err := l.build(base, spec)
		if err != nil {
			return nil, fmt.Errorf("node %d (%s): %w", i+1, spec.Name, err)
		}
		nodes = append(nodes, n)
	}
	return NewEnvironment(resolvePath(base, f.Workdir), nodes...)
}

// NewEnvironment assembles an environment from already constructed nodes.
// Node names must be unique.
func NewEnvironment(workdir string, nodes ...*Node) (*Environment, error) {
	if workdir == "" {
		return nil, errors.NewValidationError("workdir is required").WithField("workdir")
	}
	env := &Environment{
		workdir: workdir,
		byName:  make(map[string]*Node, len(nodes)),
	}
	for _, n := range nodes {
		if _, dup := env.byName[n.name]; dup {
			return nil, errors.NewValidationError("duplicate node name").WithField("nodes.name").WithValue(n.name)
		}
		env.nodes = append(env.nodes, n)
		env.byName[n.name] = n
	}
	return env, nil
}

func (l *loader) build(base string, spec nodeSpec) (*Node, error) {
	if spec.Name == "" {
		return nil, errors.NewValidationError("name is required").WithField("name")
	}
	if spec.Workdir == "" {
		return nil, errors.NewValidationError("workdir is required").WithField("workdir")
	}
	kind, err := kindOf(spec)
	if err != nil {
		return nil, err
	}
	env, err := l.environ(base, spec)
	if err != nil {
		return nil, err
	}

	opts := append(slices.Clone(l.connOpts), remote.WithNodeName(spec.Name), remote.WithDefaultEnv(env))
	var conn remote.Connection
	switch kind {
	case KindSSH:
		if spec.IP == "" {
			return nil, errors.NewValidationError("ip is required").WithField("ip")
		}
		if spec.User == "" {
			return nil, errors.NewValidationError("user is required").WithField("user")
		}
		conn = remote.NewSSHConnection(remote.SSHConfig{
			Host:     spec.IP,
			Port:     spec.SSHPort,
			User:     spec.User,
			Password: spec.Password,
			KeyFile:  resolvePath(base, spec.KeyFile),
		}, opts...)
	case KindContainer:
		runEnv, err := stringMap(spec.Run.Env)
		if err != nil {
			return nil, err
		}
		conn, err = remote.NewContainerConnection(remote.ContainerConfig{
			Host:  spec.IP,
			Port:  spec.DockerPort,
			User:  spec.User,
			Name:  spec.Container,
			Image: spec.Image,
			Run: remote.RunConfig{
				Name:        spec.Run.Name,
				Command:     spec.Run.Command,
				Entrypoint:  spec.Run.Entrypoint,
				Env:         envPairs(runEnv),
				WorkingDir:  spec.Run.WorkingDir,
				User:        spec.Run.User,
				Binds:       spec.Run.Binds,
				NetworkMode: spec.Run.NetworkMode,
				Privileged:  spec.Run.Privileged,
			},
			CACert:     resolvePath(base, spec.CACert),
			ClientCert: resolvePath(base, spec.ClientCert),
			ClientKey:  resolvePath(base, spec.ClientKey),
		}, opts...)
		if err != nil {
			return nil, err
		}
	case KindLocal:
		conn = remote.NewLocalConnection(opts...)
	}
	return New(spec.Name, kind, spec.User, spec.Workdir, spec.Labels, env, conn), nil
}

// kindOf returns the explicit type, or infers container when a container
// name or image is given and ssh otherwise.
func kindOf(spec nodeSpec) (Kind, error) {
	switch Kind(strings.ToLower(spec.Type)) {
	case "":
		if spec.Container != "" || spec.Image != "" {
			return KindContainer, nil
		}
		return KindSSH, nil
	case KindSSH:
		return KindSSH, nil
	case KindContainer, "docker":
		return KindContainer, nil
	case KindLocal:
		return KindLocal, nil
	default:
		return "", errors.NewValidationError("unknown node type").WithField("type").WithValue(spec.Type)
	}
}

// environ merges env_file under envs.
func (l *loader) environ(base string, spec nodeSpec) (map[string]string, error) {
	env := map[string]string{}
	if spec.EnvFile != "" {
		f, err := l.fs.Open(resolvePath(base, spec.EnvFile))
		if err != nil {
			return nil, fmt.Errorf("open env_file: %w", err)
		}
		defer f.Close()
		parsed, err := gotenv.StrictParse(f)
		if err != nil {
			return nil, fmt.Errorf("parse env_file %s: %w", spec.EnvFile, err)
		}
		maps.Copy(env, parsed)
	}
	envs, err := stringMap(spec.Envs)
	if err != nil {
		return nil, err
	}
	maps.Copy(env, envs)
	return env, nil
}

// stringMap coerces YAML scalars (numbers, booleans) to strings.
func stringMap(in map[string]any) (map[string]string, error) {
	out := make(map[string]string, len(in))
	for k, v := range in {
		s, err := cast.ToStringE(v)
		if err != nil {
			return nil, errors.NewValidationError("environment values must be scalars").WithField("envs." + k).WithValue(v)
		}
		out[k] = s
	}
	return out, nil
}

func envPairs(env map[string]string) []string {
	keys := slices.Sorted(maps.Keys(env))
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, k+"="+env[k])
	}
	return out
}

func resolvePath(base, p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(base, p)
}

// Workdir returns the local working directory.
func (e *Environment) Workdir() string { return e.workdir }

// Nodes returns every node in definition order.
func (e *Environment) Nodes() []*Node { return slices.Clone(e.nodes) }

// Get returns the node called name.
func (e *Environment) Get(name string) (*Node, error) {
	n, ok := e.byName[name]
	if !ok {
		return nil, errors.NewNoSuchNodeError(name)
	}
	return n, nil
}

// Select returns every node whose name matches one of names, together with
// every node carrying a label that matches one of labels. Names and labels
// may be glob patterns. The result is in definition order without
// duplicates.
func (e *Environment) Select(names, labels []string) ([]*Node, error) {
	namePats, err := compileAll(names)
	if err != nil {
		return nil, err
	}
	labelPats, err := compileAll(labels)
	if err != nil {
		return nil, err
	}

	var out []*Node
	for _, n := range e.nodes {
		if matchAny(namePats, n.name) || slices.ContainsFunc(n.labels, func(l string) bool { return matchAny(labelPats, l) }) {
			out = append(out, n)
		}
	}
	return out, nil
}

func compileAll(patterns []string) ([]glob.Glob, error) {
	out := make([]glob.Glob, 0, len(patterns))
	for _, p := range patterns {
		g, err := glob.Compile(p)
		if err != nil {
			return nil, errors.NewValidationError("invalid pattern").WithField("selector").WithValue(p)
		}
		out = append(out, g)
	}
	return out, nil
}

func matchAny(patterns []glob.Glob, s string) bool {
	for _, g := range patterns {
		if g.Match(s) {
			return true
		}
	}
	return false
}

// Close closes every node's connection.
func (e *Environment) Close() error {
	var errs []error
	for _, n := range e.nodes {
		if err := n.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", n.name, err))
		}
	}
	return errors.Join(errs...)
}
