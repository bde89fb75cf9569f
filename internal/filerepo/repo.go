package filerepo

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/spf13/afero"

	"github.com/vaultfs/filerepo/internal/fileid"
	"github.com/vaultfs/filerepo/internal/fsx"
	"github.com/vaultfs/filerepo/internal/keylock"
	"github.com/vaultfs/filerepo/internal/pathlayout"
)

// Repo is the repository core: initialization, health-checking, and the
// add/get/delete operations driving the marker-file commit protocol. The
// zero value is not usable; construct one with Open.
type Repo struct {
	opts   Options
	fsys   afero.Fs
	layout pathlayout.Layout
	gen    *fileid.Generator

	locks    *keylock.Table
	inflight *keylock.InFlightSet

	stateMu      sync.Mutex // process-wide init/health-check lock
	lock         *fsx.ProcessLock
	lastHealthAt time.Time

	cleanMu sync.Mutex // clean sync lock; Clean takes it with TryLock

	disposed bool
}

// Open validates opts and returns a Repo ready for use. It does not touch
// disk; initialization happens lazily on first operation (and again after
// any failed health check).
func Open(opts Options) (*Repo, error) {
	if opts.BaseDirectory == "" {
		return nil, newErr("open", KindInvalidFileID, fmt.Errorf("base directory is required"))
	}
	return &Repo{
		opts:     opts.withDefaults(),
		fsys:     afero.NewOsFs(),
		layout:   pathlayout.New(opts.BaseDirectory),
		gen:      fileid.NewGenerator(),
		locks:    keylock.New(),
		inflight: keylock.NewInFlightSet(),
	}, nil
}

// ensureInitialized performs (or skips, if recently healthy) the
// initialization/health-check sequence. It must be called at the top of
// every public operation.
func (r *Repo) ensureInitialized(ctx context.Context) error {
	if r.disposed {
		return newErr("ensureInitialized", KindDisposed, nil)
	}

	r.stateMu.Lock()
	defer r.stateMu.Unlock()

	if r.lock != nil && time.Since(r.lastHealthAt) < r.opts.HealthCheckInterval {
		return nil
	}

	if r.lock != nil {
		if err := r.lock.Probe(); err == nil {
			r.lastHealthAt = time.Now()
			return nil
		}
		r.lock.Close()
		r.lock = nil
	}

	lockCtx, cancel := context.WithTimeout(ctx, r.opts.MaxAccessWaitOrRetry)
	defer cancel()

	lock, err := fsx.AcquireProcessLock(lockCtx, r.layout.LockFile(), r.opts.MaxAccessWaitOrRetry)
	if err != nil {
		if err == fsx.ErrLockTimeout || err == context.DeadlineExceeded {
			return newErr("ensureInitialized", KindTimeout, err)
		}
		if err == context.Canceled {
			return newErr("ensureInitialized", KindCancelled, err)
		}
		return newErr("ensureInitialized", KindIOUnavailable, err)
	}

	if err := r.fsys.RemoveAll(r.layout.TempDir()); err != nil && !os.IsNotExist(err) {
		lock.Close()
		return newErr("ensureInitialized", KindIOUnavailable, err)
	}
	for _, dir := range r.layout.ControlDirs() {
		if err := r.fsys.MkdirAll(dir, 0o755); err != nil {
			lock.Close()
			return newErr("ensureInitialized", KindIOUnavailable, err)
		}
	}

	r.lock = lock
	r.lastHealthAt = time.Now()
	return nil
}

// Close releases the held process lock. It does not affect any in-flight
// operations; callers are expected to quiesce those first.
func (r *Repo) Close() error {
	r.stateMu.Lock()
	defer r.stateMu.Unlock()
	if r.lock == nil {
		return nil
	}
	err := r.lock.Close()
	r.lock = nil
	return err
}

// checkControlDirs reports IOUnavailable if the repository's control
// directories are missing (e.g. the volume was removed out from under an
// already-initialized Repo).
func (r *Repo) checkControlDirs(op string) error {
	for _, dir := range r.layout.ControlDirs() {
		ok, err := fsx.Exists(r.fsys, dir)
		if err != nil {
			return newErr(op, KindIOUnavailable, err)
		}
		if !ok {
			return newErr(op, KindIOUnavailable, fmt.Errorf("control directory missing: %s", dir))
		}
	}
	return nil
}
