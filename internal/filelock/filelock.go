package filelock

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sys/unix"
)

// PollInterval is how often Lock retries while another holder has the lock.
var PollInterval = 10 * time.Millisecond

// FileLock is an exclusive advisory lock on a file. The zero value is not
// usable; create one with New. A FileLock is not safe for concurrent use by
// multiple goroutines; give each goroutine its own.
type FileLock struct {
	path string
	file *os.File
}

// New returns a FileLock on path. The file and its parent directory are
// created on first Lock.
func New(path string) *FileLock {
	return &FileLock{path: path}
}

func (fl *FileLock) open() (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(fl.path), 0755); err != nil {
		return nil, fmt.Errorf("create lock dir: %w", err)
	}
	f, err := os.OpenFile(fl.path, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, fmt.Errorf("open lock file: %w", err)
	}
	return f, nil
}

// Lock acquires the lock, retrying every PollInterval until it is available
// or ctx is done.
func (fl *FileLock) Lock(ctx context.Context) error {
	if fl.file != nil {
		return errors.New("filelock: already held")
	}
	ticker := time.NewTicker(PollInterval)
	defer ticker.Stop()
	for {
		ok, err := fl.tryLock()
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// tryLock attempts a non-blocking flock and reports whether it was acquired.
func (fl *FileLock) tryLock() (bool, error) {
	f, err := fl.open()
	if err != nil {
		return false, err
	}
	for {
		err = unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB)
		if err != unix.EINTR {
			break
		}
	}
	if err != nil {
		_ = f.Close()
		if errors.Is(err, unix.EWOULDBLOCK) {
			return false, nil
		}
		return false, fmt.Errorf("flock: %w", err)
	}
	fl.file = f
	return true, nil
}

// Unlock releases the lock and closes the lock file. Unlocking a lock that
// is not held is a no-op.
func (fl *FileLock) Unlock() error {
	if fl.file == nil {
		return nil
	}
	f := fl.file
	fl.file = nil
	if err := unix.Flock(int(f.Fd()), unix.LOCK_UN); err != nil {
		_ = f.Close()
		return fmt.Errorf("funlock: %w", err)
	}
	return f.Close()
}
