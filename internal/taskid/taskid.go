// Package taskid allocates monotonically increasing task ids for pipeline
// runs. The counter for a pipeline lives in a small text file next to a
// lock file inside the pipeline's local directory, and every increment is
// performed under an exclusive flock so concurrent xflow processes never
// observe the same id.
package taskid

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/Iron-Ham/xflow/internal/filelock"
)

const (
	// CounterFile holds the last allocated id as decimal text.
	CounterFile = "taskid"
	// LockFile guards CounterFile.
	LockFile = "taskid.lock"
)

// Counter allocates ids for one pipeline.
type Counter struct {
	dir string
}

// New returns a Counter rooted at dir, typically <workdir>/<pipeline>.
func New(dir string) *Counter {
	return &Counter{dir: dir}
}

// Dir returns the directory holding the counter and lock files.
func (c *Counter) Dir() string {
	return c.dir
}

// Next locks the counter, reads the last id, increments it, persists the new
// value and unlocks. The first id is 1. Waiting for the lock stops when ctx
// is done.
func (c *Counter) Next(ctx context.Context) (int, error) {
	lock := filelock.New(filepath.Join(c.dir, LockFile))
	if err := lock.Lock(ctx); err != nil {
		return 0, fmt.Errorf("lock task id counter: %w", err)
	}
	defer func() { _ = lock.Unlock() }()

	last, err := c.read()
	if err != nil {
		return 0, err
	}
	next := last + 1
	if err := c.write(next); err != nil {
		return 0, err
	}
	return next, nil
}

func (c *Counter) read() (int, error) {
	data, err := os.ReadFile(filepath.Join(c.dir, CounterFile))
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read task id counter: %w", err)
	}
	text := strings.TrimSpace(string(data))
	if text == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(text)
	if err != nil {
		return 0, fmt.Errorf("corrupt task id counter %q: %w", text, err)
	}
	return n, nil
}

// write replaces the counter file atomically so a crash mid-write never
// leaves a truncated value behind.
func (c *Counter) write(n int) error {
	tmp := filepath.Join(c.dir, CounterFile+".tmp")
	if err := os.WriteFile(tmp, []byte(strconv.Itoa(n)+"\n"), 0644); err != nil {
		return fmt.Errorf("write task id counter: %w", err)
	}
	if err := os.Rename(tmp, filepath.Join(c.dir, CounterFile)); err != nil {
		return fmt.Errorf("write task id counter: %w", err)
	}
	return nil
}
