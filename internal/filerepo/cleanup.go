package filerepo

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/afero"

	"github.com/vaultfs/filerepo/internal/fileid"
	"github.com/vaultfs/filerepo/internal/fsx"
	"github.com/vaultfs/filerepo/internal/keylock"
	"github.com/vaultfs/filerepo/internal/pathlayout"
)

// Resolution is the resolver's verdict for an indeterminate (.ind) marker
// the cleanup sweep found no other explanation for.
type Resolution int

const (
	// ResolutionUnresolved leaves the marker untouched — the default for
	// a nil resolver, or when the resolver returns anything but Keep or
	// Delete.
	ResolutionUnresolved Resolution = iota
	// ResolutionKeep deletes the .ind marker, making the file visible.
	ResolutionKeep
	// ResolutionDelete physically removes the file directory and its
	// markers.
	ResolutionDelete
)

// Resolver adjudicates an indeterminate FileId against an external source
// of truth (e.g. "does a database row reference this id").
type Resolver func(fileid.FileID) Resolution

// Clean runs the crash-recovery sweep: committed
// deletes past their grace period are physically applied, and
// indeterminate markers older than indeterminate_delay are handed to
// resolver. Only one sweep runs at a time; a concurrent call fails with
// InProgress immediately. Per-entry failures are aggregated rather than
// aborting the sweep; the aggregate, if non-empty, is returned at the end.
func (r *Repo) Clean(ctx context.Context, resolver Resolver) error {
	if !r.cleanMu.TryLock() {
		return newErr("clean", KindInProgress, nil)
	}
	defer r.cleanMu.Unlock()

	r.forceHealthCheck()
	if err := r.ensureInitialized(ctx); err != nil {
		return err
	}

	entries, err := afero.ReadDir(r.fsys, r.layout.CleanupDir())
	if err != nil {
		return newErr("clean", KindIOUnavailable, err)
	}

	var errs []error
	deletedFiles := make(map[string]struct{})

	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".del") {
			continue
		}
		if time.Since(e.ModTime()) < r.opts.DeleteDelay {
			continue
		}
		stem := strings.TrimSuffix(e.Name(), ".del")
		if idPart, variantPart, ok := splitVariantDelStem(stem); ok {
			if err := r.applyVariantDelete(idPart, variantPart); err != nil {
				errs = append(errs, err)
			}
			continue
		}
		id, err := fileid.Parse(stem)
		if err != nil {
			continue // not a marker this sweep understands; leave it alone
		}
		if err := r.applyFileDelete(id); err != nil {
			errs = append(errs, err)
		} else {
			deletedFiles[id.String()] = struct{}{}
		}
	}

	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".ind") {
			continue
		}
		stem := strings.TrimSuffix(e.Name(), ".ind")
		id, err := fileid.Parse(stem)
		if err != nil {
			continue
		}
		if r.inflight.Contains(id.String()) {
			continue
		}
		if time.Since(e.ModTime()) < r.opts.IndeterminateDelay {
			continue
		}

		if _, gone := deletedFiles[id.String()]; gone {
			removeMarkerBestEffort(r.fsys, r.layout.IndMarker(id))
			continue
		}
		if exists, statErr := fsx.Exists(r.fsys, r.layout.FileDir(id)); statErr == nil && !exists {
			removeMarkerBestEffort(r.fsys, r.layout.IndMarker(id))
			continue
		}

		verdict := ResolutionUnresolved
		if resolver != nil {
			verdict = resolver(id)
		}
		switch verdict {
		case ResolutionKeep:
			removeMarkerBestEffort(r.fsys, r.layout.IndMarker(id))
		case ResolutionDelete:
			if err := r.applyFileDelete(id); err != nil {
				errs = append(errs, err)
			}
		default:
			// Leave as-is: no resolver, or an unrecognized verdict.
		}
	}

	return newAggregate("clean", errs)
}

// applyFileDelete physically removes id's file directory and its .ind and
// .del markers, under the per-key lock. Failures append a diagnostic to
// the .del marker so the next sweep can see what went wrong.
func (r *Repo) applyFileDelete(id fileid.FileID) error {
	guard, err := r.locks.Lock(context.Background(), keylock.Key{FileID: id.String()})
	if err != nil {
		return newErr("clean", KindIOUnavailable, err)
	}
	defer guard.Release()

	if err := r.fsys.RemoveAll(r.layout.FileDir(id)); err != nil {
		logToMarker(r.fsys, r.opts.MarkerFileLogging, r.layout.DelMarker(id), "CLEANUP DELETE FAILED", fmt.Sprintf("remove file dir: %v", err), false)
		fsx.GetLogger().Error("clean %s: remove file dir: %v", id, err)
		return newErr("clean", KindIOUnavailable, err)
	}
	removeMarkerBestEffort(r.fsys, r.layout.IndMarker(id))
	removeMarkerBestEffort(r.fsys, r.layout.DelMarker(id))
	return nil
}

// applyVariantDelete physically removes a single variant file and its
// marker, under the per-key (id, variant) lock.
func (r *Repo) applyVariantDelete(idStr, variantStr string) error {
	id, err := fileid.Parse(idStr)
	if err != nil {
		return nil
	}
	variant := pathlayout.VariantID(variantStr)

	guard, err := r.locks.Lock(context.Background(), keylock.Key{FileID: id.String(), Variant: string(variant)})
	if err != nil {
		return newErr("clean", KindIOUnavailable, err)
	}
	defer guard.Release()

	marker := r.layout.VariantDelMarker(id, variant)
	matches, err := afero.Glob(r.fsys, r.layout.VariantFileGlob(id, variant))
	if err != nil {
		return newErr("clean", KindIOUnavailable, err)
	}
	for _, m := range matches {
		if err := r.fsys.Remove(m); err != nil {
			logToMarker(r.fsys, r.opts.MarkerFileLogging, marker, "CLEANUP VARIANT DELETE FAILED", fmt.Sprintf("remove %s: %v", m, err), false)
			fsx.GetLogger().Error("clean %s variant %s: remove %s: %v", id, variant, m, err)
			return newErr("clean", KindIOUnavailable, err)
		}
	}
	removeMarkerBestEffort(r.fsys, marker)
	return nil
}

// splitVariantDelStem splits "<id> <variant>" into its two parts. ok is
// false for a bare "<id>" stem (a file-level delete, not a variant one).
func splitVariantDelStem(stem string) (id, variant string, ok bool) {
	idx := strings.IndexByte(stem, ' ')
	if idx < 0 {
		return "", "", false
	}
	return stem[:idx], stem[idx+1:], true
}

// forceHealthCheck clears the cached health-check timestamp so the next
// ensureInitialized call re-probes the lock regardless of
// health_check_interval, forcing a health check before the sweep begins.
func (r *Repo) forceHealthCheck() {
	r.stateMu.Lock()
	r.lastHealthAt = time.Time{}
	r.stateMu.Unlock()
}
