package filerepo

import (
	"context"
	"sync"

	"github.com/vaultfs/filerepo/internal/fileid"
	"github.com/vaultfs/filerepo/internal/pipeline"
)

// Transaction groups a set of file adds and deletes and drives them
// through commit/rollback as a unit. Adds are always
// processed before deletes on both commit and rollback: the transaction's
// externally visible sequence is "first the adds land, then the deletes
// take effect". The zero value is not usable; create one with
// Repo.BeginTransaction.
type Transaction struct {
	repo *Repo

	mu       sync.Mutex
	added    []fileid.FileID
	deleted  []fileid.FileID
	disposed bool
}

// BeginTransaction starts a new Transaction against r.
func (r *Repo) BeginTransaction() *Transaction {
	return &Transaction{repo: r}
}

// Add runs pipe over stream and registers the resulting file as part of
// this transaction. leaveOpen controls whether stream is closed once
// consumed.
func (t *Transaction) Add(ctx context.Context, stream pipeline.Source, extension string, leaveOpen bool, pipe *pipeline.Pipeline) (fileid.FileID, string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.disposed {
		return fileid.FileID{}, "", newErr("add", KindDisposed, nil)
	}

	id, path, err := t.repo.addFile(ctx, stream, extension, leaveOpen, pipe)
	if err != nil {
		return fileid.FileID{}, "", err
	}
	t.added = append(t.added, id)
	return id, path, nil
}

// Delete records id for deletion when this transaction commits. If id was
// added earlier in the same transaction, the add is simply undone
// (immediate physical delete) instead of going through the marker
// protocol at all.
func (t *Transaction) Delete(ctx context.Context, id fileid.FileID) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.disposed {
		return newErr("delete", KindDisposed, nil)
	}

	for i, added := range t.added {
		if added == id {
			if err := t.repo.rollbackAddFile(ctx, id); err != nil {
				return err
			}
			t.added = append(t.added[:i], t.added[i+1:]...)
			return nil
		}
	}

	if err := t.repo.txnDeleteFile(ctx, id); err != nil {
		return err
	}
	t.deleted = append(t.deleted, id)
	return nil
}

// Commit finalizes every add and delete recorded in this transaction.
// Per-id failures never abort the others and are never returned directly;
// they are aggregated and, if a CommitFailed handler was configured,
// delivered to it as a single error. The files affected by a failed
// finalization remain accessible in an indeterminate state, resolvable by
// a later cleanup sweep.
func (t *Transaction) Commit(ctx context.Context) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.disposed {
		return
	}

	var errs []error
	for _, id := range t.added {
		if err := t.repo.commitAddFile(ctx, id); err != nil {
			errs = append(errs, err)
		}
	}
	for _, id := range t.deleted {
		if err := t.repo.commitDeleteFile(ctx, id); err != nil {
			errs = append(errs, err)
		}
	}
	t.added = nil
	t.deleted = nil
	t.disposed = true

	if agg := newAggregate("commit", errs); agg != nil && t.repo.opts.CommitFailed != nil {
		t.repo.opts.CommitFailed(agg)
	}
}

// Rollback undoes every add and delete recorded in this transaction, in
// the same adds-then-deletes order as Commit. Like Commit, failures are
// aggregated and delivered to RollbackFailed rather than returned.
func (t *Transaction) Rollback(ctx context.Context) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.disposed {
		return
	}

	var errs []error
	for _, id := range t.added {
		if err := t.repo.rollbackAddFile(ctx, id); err != nil {
			errs = append(errs, err)
		}
	}
	for _, id := range t.deleted {
		if err := t.repo.rollbackDeleteFile(ctx, id); err != nil {
			errs = append(errs, err)
		}
	}
	t.added = nil
	t.deleted = nil
	t.disposed = true

	if agg := newAggregate("rollback", errs); agg != nil && t.repo.opts.RollbackFailed != nil {
		t.repo.opts.RollbackFailed(agg)
	}
}

// Dispose rolls back the transaction if it has not already been committed
// or rolled back. Safe to call multiple times; errors from the implicit
// rollback are swallowed since they were already delivered to
// RollbackFailed if configured.
func (t *Transaction) Dispose(ctx context.Context) {
	t.mu.Lock()
	if t.disposed {
		t.mu.Unlock()
		return
	}
	t.mu.Unlock()
	t.Rollback(ctx)
}
