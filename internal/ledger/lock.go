package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/gofrs/flock"

	"github.com/steveyegge/backport/internal/debug"
)

const (
	// DefaultLockTimeout bounds how long a writer waits for another bp
	// process to release a ledger file.
	DefaultLockTimeout = 30 * time.Second

	lockPollInterval = 50 * time.Millisecond
)

// LockTimeout is the wait applied by the functions of this package.
// Zero means fail immediately when the file is locked.
var LockTimeout = DefaultLockTimeout

// fileLock is an exclusive advisory lock on a sibling "<path>.lock" file.
type fileLock struct {
	flock *flock.Flock
}

func newFileLock(path string) *fileLock {
	return &fileLock{flock: flock.New(path + ".lock")}
}

func (l *fileLock) acquire(ctx context.Context, timeout time.Duration) error {
	start := time.Now()
	locked, err := l.flock.TryLock()
	if err != nil {
		return fmt.Errorf("lock %s: %w", l.flock.Path(), err)
	}
	if locked {
		debug.Logf("acquired ledger lock immediately: %s\n", l.flock.Path())
		return nil
	}
	if timeout == 0 {
		return fmt.Errorf("timeout waiting for lock %s after 0s (another bp process may be running)", l.flock.Path())
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	ticker := time.NewTicker(lockPollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-timeoutCtx.Done():
			return fmt.Errorf("timeout waiting for lock %s after %v (another bp process may be running)",
				l.flock.Path(), time.Since(start).Round(time.Millisecond))
		case <-ticker.C:
		}
		locked, err := l.flock.TryLock()
		if err != nil {
			return fmt.Errorf("lock %s: %w", l.flock.Path(), err)
		}
		if locked {
			debug.Logf("acquired ledger lock after %v: %s\n", time.Since(start), l.flock.Path())
			return nil
		}
	}
}

func (l *fileLock) release() error {
	debug.Logf("releasing ledger lock: %s\n", l.flock.Path())
	return l.flock.Unlock()
}

// withLock runs fn while holding the exclusive lock of path.
func withLock(ctx context.Context, path string, fn func() error) error {
	lock := newFileLock(path)
	if err := lock.acquire(ctx, LockTimeout); err != nil {
		return err
	}
	defer func() { _ = lock.release() }()
	return fn()
}
