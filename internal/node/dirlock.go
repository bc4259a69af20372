package node

import (
	"context"
	"fmt"
	"sync"
)

// dirLock is a reentrant mutex keyed by owner. An owner that already holds
// the lock may acquire it again; other owners wait until every acquisition
// has been released.
type dirLock struct {
	mu    sync.Mutex
	owner string
	depth int
	free  chan struct{} // closed when the lock becomes free
}

func (l *dirLock) acquire(ctx context.Context, owner string) error {
	for {
		l.mu.Lock()
		if l.owner == "" || l.owner == owner {
			l.owner = owner
			l.depth++
			l.mu.Unlock()
			return nil
		}
		if l.free == nil {
			l.free = make(chan struct{})
		}
		wait := l.free
		l.mu.Unlock()

		select {
		case <-wait:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (l *dirLock) release(owner string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.owner != owner || l.depth == 0 {
		return fmt.Errorf("directory lock not held by %s", owner)
	}
	l.depth--
	if l.depth == 0 {
		l.owner = ""
		if l.free != nil {
			close(l.free)
			l.free = nil
		}
	}
	return nil
}
