package filerepo

import (
	"context"
	"fmt"

	"github.com/vaultfs/filerepo/internal/fileid"
	"github.com/vaultfs/filerepo/internal/fsx"
	"github.com/vaultfs/filerepo/internal/keylock"
)

// commitAddFile finalizes a file this transaction added: the data is
// already in place from addFile's rename, so committing just means
// dropping the indeterminate marker.
func (r *Repo) commitAddFile(ctx context.Context, id fileid.FileID) error {
	guard, err := r.locks.Lock(ctx, keylock.Key{FileID: id.String()})
	if err != nil {
		return wrapLockErr("commit", err)
	}
	defer guard.Release()
	removeMarkerBestEffort(r.fsys, r.layout.IndMarker(id))
	return nil
}

// rollbackAddFile undoes a file this transaction added but never
// committed: an immediate physical delete of the data and its marker.
func (r *Repo) rollbackAddFile(ctx context.Context, id fileid.FileID) error {
	guard, err := r.locks.Lock(ctx, keylock.Key{FileID: id.String()})
	if err != nil {
		return wrapLockErr("rollback", err)
	}
	defer guard.Release()

	if err := r.fsys.RemoveAll(r.layout.FileDir(id)); err != nil {
		logToMarker(r.fsys, r.opts.MarkerFileLogging, r.layout.IndMarker(id), "ROLLBACK FAILED", fmt.Sprintf("remove file dir: %v", err), false)
		fsx.GetLogger().Error("rollback %s: remove file dir: %v", id, err)
		return newErr("rollback", KindIOUnavailable, err)
	}
	removeMarkerBestEffort(r.fsys, r.layout.IndMarker(id))
	removeMarkerBestEffort(r.fsys, r.layout.DelMarker(id))
	return nil
}

// txnDeleteFile implements the repository side of a transactional delete
// for an id not added within the same transaction: it marks the id
// indeterminate (pending delete) so a crash before commit/rollback leaves
// it resolvable by the cleanup sweep's resolver.
func (r *Repo) txnDeleteFile(ctx context.Context, id fileid.FileID) error {
	if err := r.ensureInitialized(ctx); err != nil {
		return err
	}
	if err := r.checkControlDirs("delete"); err != nil {
		return err
	}
	if r.inflight.Contains(id.String()) {
		return newErr("delete", KindInProgress, nil)
	}

	guard, err := r.locks.Lock(ctx, keylock.Key{FileID: id.String()})
	if err != nil {
		return wrapLockErr("delete", err)
	}
	defer guard.Release()

	if delExists, err := fsx.Exists(r.fsys, r.layout.DelMarker(id)); err != nil {
		return newErr("delete", KindIOUnavailable, err)
	} else if delExists {
		return newErr("delete", KindNotFound, nil)
	}
	if _, err := r.resolveGlob(r.layout.MainFileGlob(id), "delete"); err != nil {
		return err
	}

	if err := ensureMarker(r.fsys, r.opts.MarkerFileLogging, r.layout.IndMarker(id), "PENDING DELETE", fmt.Sprintf("file_id=%s", id)); err != nil {
		return newErr("delete", KindIOUnavailable, err)
	}
	return nil
}

// commitDeleteFile finalizes a transactional delete: write the .del
// marker (the durable record that this id is committed-deleted) and drop
// the .ind marker. Physical removal happens later, via the cleanup sweep,
// once delete_delay has elapsed.
func (r *Repo) commitDeleteFile(ctx context.Context, id fileid.FileID) error {
	guard, err := r.locks.Lock(ctx, keylock.Key{FileID: id.String()})
	if err != nil {
		return wrapLockErr("commit", err)
	}
	defer guard.Release()

	if err := ensureMarker(r.fsys, r.opts.MarkerFileLogging, r.layout.DelMarker(id), "COMMITTED DELETE", fmt.Sprintf("file_id=%s", id)); err != nil {
		return newErr("commit", KindIOUnavailable, err)
	}
	removeMarkerBestEffort(r.fsys, r.layout.IndMarker(id))
	return nil
}

// rollbackDeleteFile undoes a transactional delete that was never
// committed: drop the .ind marker, restoring visibility.
func (r *Repo) rollbackDeleteFile(ctx context.Context, id fileid.FileID) error {
	guard, err := r.locks.Lock(ctx, keylock.Key{FileID: id.String()})
	if err != nil {
		return wrapLockErr("rollback", err)
	}
	defer guard.Release()
	removeMarkerBestEffort(r.fsys, r.layout.IndMarker(id))
	return nil
}
