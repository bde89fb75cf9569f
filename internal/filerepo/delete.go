package filerepo

import (
	"context"
	"fmt"

	"github.com/vaultfs/filerepo/internal/fileid"
	"github.com/vaultfs/filerepo/internal/keylock"
	"github.com/vaultfs/filerepo/internal/pathlayout"
)

// DeleteVariant marks a variant for delayed delete: a variant-scoped .del
// marker is written immediately and the cleanup sweep removes the file
// once delete_delay has elapsed. Variant deletes never touch .ind.
func (r *Repo) DeleteVariant(ctx context.Context, id fileid.FileID, variant pathlayout.VariantID) error {
	if err := r.ensureInitialized(ctx); err != nil {
		return err
	}
	if err := r.checkControlDirs("delete_variant"); err != nil {
		return err
	}
	v, err := variant.Normalize()
	if err != nil {
		return newErr("delete_variant", KindInvalidVariantID, err)
	}

	guard, err := r.locks.Lock(ctx, keylock.Key{FileID: id.String(), Variant: string(v)})
	if err != nil {
		return wrapLockErr("delete_variant", err)
	}
	defer guard.Release()

	if _, err := r.resolveGlob(r.layout.VariantFileGlob(id, v), "delete_variant"); err != nil {
		return err
	}
	marker := r.layout.VariantDelMarker(id, v)
	if err := ensureMarker(r.fsys, r.opts.MarkerFileLogging, marker, "COMMITTED VARIANT DELETE", fmt.Sprintf("file_id=%s variant=%s", id, v)); err != nil {
		return newErr("delete_variant", KindIOUnavailable, err)
	}
	return nil
}
