package node

import (
	"context"
	"maps"
	"path"
	"slices"
	"strconv"

	"github.com/Iron-Ham/xflow/internal/remote"
)

// Kind identifies the connection backend of a node.
type Kind string

// Node kinds.
const (
	KindSSH       Kind = "ssh"
	KindContainer Kind = "container"
	KindLocal     Kind = "local"
)

// Node is an addressable execution target. Its identity is fixed at load
// time; the only mutable state is the directory lock that serializes
// directory scopes entered on its connection.
type Node struct {
	name    string
	kind    Kind
	user    string
	workdir string
	labels  []string
	env     map[string]string
	conn    remote.Connection

	dir dirLock
}

// New returns a node backed by conn. workdir is the base directory below
// which pipeline working directories are created.
func New(name string, kind Kind, user, workdir string, labels []string, env map[string]string, conn remote.Connection) *Node {
	return &Node{
		name:    name,
		kind:    kind,
		user:    user,
		workdir: workdir,
		labels:  slices.Clone(labels),
		env:     maps.Clone(env),
		conn:    conn,
	}
}

// Name returns the node name, unique within its environment.
func (n *Node) Name() string { return n.name }

// Kind returns the connection backend.
func (n *Node) Kind() Kind { return n.kind }

// User returns the login user, which may be empty for local nodes.
func (n *Node) User() string { return n.user }

// Workdir returns the node's base working directory.
func (n *Node) Workdir() string { return n.workdir }

// Labels returns a copy of the node's labels.
func (n *Node) Labels() []string { return slices.Clone(n.labels) }

// Env returns a copy of the node's default environment.
func (n *Node) Env() map[string]string { return maps.Clone(n.env) }

// Conn returns the node's connection.
func (n *Node) Conn() remote.Connection { return n.conn }

// String returns the connection string.
func (n *Node) String() string { return n.conn.String() }

// HasLabel reports whether the node carries label.
func (n *Node) HasLabel(label string) bool {
	return slices.Contains(n.labels, label)
}

// Ephemeral reports whether the node's connection is a container created
// for this process.
func (n *Node) Ephemeral() bool {
	r, ok := n.conn.(remote.Removable)
	return ok && r.Ephemeral()
}

// ResolveCwd returns the directory commands run in. An absolute overlay is
// returned as is; otherwise the overlay is joined below
// <workdir>/<pipeline>/<taskID>.
func (n *Node) ResolveCwd(pipeline string, taskID int, overlay string) string {
	if path.IsAbs(overlay) {
		return path.Clean(overlay)
	}
	return path.Join(n.PipelineDir(pipeline, taskID), overlay)
}

// PipelineDir returns <workdir>/<pipeline>/<taskID>.
func (n *Node) PipelineDir(pipeline string, taskID int) string {
	return path.Join(n.workdir, pipeline, strconv.Itoa(taskID))
}

// LockDir acquires the node's directory lock for owner, blocking while a
// different owner holds it. The lock is reentrant for the same owner.
func (n *Node) LockDir(ctx context.Context, owner string) error {
	return n.dir.acquire(ctx, owner)
}

// UnlockDir releases one acquisition made by owner.
func (n *Node) UnlockDir(owner string) error {
	return n.dir.release(owner)
}

// Close closes the node's connection.
func (n *Node) Close() error {
	return n.conn.Close()
}
