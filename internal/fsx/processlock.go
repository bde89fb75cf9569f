package fsx

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"
)

// ErrLockTimeout is returned by AcquireProcessLock when the lock cannot be
// taken within maxWait. It is distinguishable from context cancellation.
var ErrLockTimeout = errors.New("fsx: process lock: timed out")

// retryInterval is how often AcquireProcessLock retries a failed
// flock attempt while waiting for the holder to release it.
const retryInterval = 50 * time.Millisecond

// ProcessLock holds the OS-level exclusive lock on the repository's
// `.lock` file, giving a single-writer guarantee across processes. It
// always operates on the real OS filesystem: flock(2)/LockFileEx have
// no meaning on an in-memory afero.Fs, so this is the one place in the
// module that intentionally bypasses the injected afero.Fs.
type ProcessLock struct {
	file *os.File
	path string
}

// AcquireProcessLock opens (creating if needed) and exclusively locks
// path, retrying until maxWait elapses or ctx is cancelled. A timeout
// surfaces as ErrLockTimeout; cancellation surfaces as ctx.Err().
func AcquireProcessLock(ctx context.Context, path string, maxWait time.Duration) (*ProcessLock, error) {
	deadline := time.Now().Add(maxWait)
	for {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
		if err == nil {
			if lockErr := flockTryExclusive(f); lockErr == nil {
				return &ProcessLock{file: f, path: path}, nil
			}
			f.Close()
		}

		if time.Now().After(deadline) {
			return nil, ErrLockTimeout
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(retryInterval):
		}
	}
}

// Probe performs a cheap I/O operation against the held lock file to
// detect volume disappearance: it toggles the file's length within a
// bounded range, forcing a real syscall.
func (p *ProcessLock) Probe() error {
	info, err := p.file.Stat()
	if err != nil {
		return fmt.Errorf("process lock probe: stat: %w", err)
	}
	next := info.Size() + 1
	if next > 8 {
		next = 0
	}
	if err := p.file.Truncate(next); err != nil {
		return fmt.Errorf("process lock probe: truncate: %w", err)
	}
	if err := p.file.Sync(); err != nil {
		return fmt.Errorf("process lock probe: sync: %w", err)
	}
	return nil
}

// Close releases the flock and removes the lock file (emulating
// delete-on-close semantics; POSIX has no native delete-on-close, so this
// is a best-effort unlink performed while still holding the lock to avoid
// a window where a racing Acquire could see a stale, unlocked file).
func (p *ProcessLock) Close() error {
	_ = os.Remove(p.path)
	if err := flockUnlock(p.file); err != nil {
		p.file.Close()
		return fmt.Errorf("process lock close: unlock: %w", err)
	}
	return p.file.Close()
}
