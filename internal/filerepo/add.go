package filerepo

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"

	"github.com/vaultfs/filerepo/internal/fileid"
	"github.com/vaultfs/filerepo/internal/fsx"
	"github.com/vaultfs/filerepo/internal/keylock"
	"github.com/vaultfs/filerepo/internal/pathlayout"
	"github.com/vaultfs/filerepo/internal/pipeline"
)

const maxAddCollisionRetries = 8

// addFile generates an id, reserves it under the per-key lock, runs the
// pipeline unlocked, then reacquires the lock only for the marker write,
// directory creation, and final rename.
func (r *Repo) addFile(ctx context.Context, source pipeline.Source, extension string, leaveOpen bool, pipe *pipeline.Pipeline) (fileid.FileID, string, error) {
	if err := r.ensureInitialized(ctx); err != nil {
		return fileid.FileID{}, "", err
	}
	if err := r.checkControlDirs("add"); err != nil {
		return fileid.FileID{}, "", err
	}

	var closeSource func()
	if rc, ok := source.Stream.(io.Closer); ok && !leaveOpen {
		closeSource = func() { rc.Close() }
	}
	defer func() {
		if closeSource != nil {
			closeSource()
		}
	}()

	ext := pathlayout.NormalizeExtension(extension)

	id, err := r.reserveNewID(ctx)
	if err != nil {
		return fileid.FileID{}, "", err
	}

	workDir := r.layout.WorkDir(id, "")
	if err := r.fsys.MkdirAll(workDir, 0o755); err != nil {
		r.inflight.Remove(id.String())
		return fileid.FileID{}, "", newErr("add", KindIOUnavailable, err)
	}
	defer r.fsys.RemoveAll(workDir)
	defer r.inflight.Remove(id.String())

	if pipe == nil {
		pipe = &pipeline.Pipeline{}
	}
	outcome, err := pipe.Run(ctx, r.fsys, workDir, id, nil, ext, source)
	if err != nil {
		return fileid.FileID{}, "", wrapPipelineErr("add", err)
	}

	resultPath := outcome.Path
	if !pathWithin(workDir, resultPath) {
		copied, err := copyIntoWorkDir(r.fsys, workDir, resultPath, outcome.Extension)
		if err != nil {
			return fileid.FileID{}, "", newErr("add", KindIOUnavailable, err)
		}
		resultPath = copied
	}

	guard, err := r.locks.Lock(ctx, keylock.Key{FileID: id.String()})
	if err != nil {
		return fileid.FileID{}, "", wrapLockErr("add", err)
	}
	defer guard.Release()

	fileDir := r.layout.FileDir(id)
	indMarker := r.layout.IndMarker(id)
	if err := ensureMarker(r.fsys, r.opts.MarkerFileLogging, indMarker, "PENDING ADD", fmt.Sprintf("file_id=%s", id)); err != nil {
		return fileid.FileID{}, "", newErr("add", KindIOUnavailable, err)
	}
	if err := r.fsys.MkdirAll(fileDir, 0o755); err != nil {
		removeMarkerBestEffort(r.fsys, indMarker)
		return fileid.FileID{}, "", newErr("add", KindIOUnavailable, err)
	}

	finalPath := r.layout.MainFilePath(id, outcome.Extension)
	if err := fsx.AtomicRename(r.fsys, resultPath, finalPath); err != nil {
		if cleanupErr := r.fsys.RemoveAll(fileDir); cleanupErr != nil {
			logToMarker(r.fsys, r.opts.MarkerFileLogging, indMarker, "ADD CLEANUP FAILED", fmt.Sprintf("rename error: %v; cleanup error: %v", err, cleanupErr), false)
			fsx.GetLogger().Error("add %s: cleanup after failed rename also failed: rename error: %v; cleanup error: %v", id, err, cleanupErr)
			return fileid.FileID{}, "", newErr("add", KindIOUnavailable, err)
		}
		removeMarkerBestEffort(r.fsys, indMarker)
		return fileid.FileID{}, "", newErr("add", KindIOUnavailable, err)
	}

	return id, finalPath, nil
}

// reserveNewID runs the id-collision-retry loop: generate a FileId, take
// its lock, verify it is free, add it to the in-flight set, release the
// lock.
func (r *Repo) reserveNewID(ctx context.Context) (fileid.FileID, error) {
	for attempt := 0; attempt < maxAddCollisionRetries; attempt++ {
		id, err := r.gen.Next()
		if err != nil {
			return fileid.FileID{}, newErr("add", KindIOUnavailable, err)
		}

		guard, err := r.locks.Lock(ctx, keylock.Key{FileID: id.String()})
		if err != nil {
			return fileid.FileID{}, wrapLockErr("add", err)
		}

		dirExists, err := fsx.Exists(r.fsys, r.layout.FileDir(id))
		if err != nil {
			guard.Release()
			return fileid.FileID{}, newErr("add", KindIOUnavailable, err)
		}
		delExists, err := fsx.Exists(r.fsys, r.layout.DelMarker(id))
		if err != nil {
			guard.Release()
			return fileid.FileID{}, newErr("add", KindIOUnavailable, err)
		}
		if dirExists || delExists {
			guard.Release()
			continue
		}

		r.inflight.Add(id.String())
		guard.Release()
		return id, nil
	}
	return fileid.FileID{}, newErr("add", KindIOUnavailable, fmt.Errorf("exhausted %d id-collision retries", maxAddCollisionRetries))
}

// VariantAddMode selects the conflict behavior when a variant already
// exists.
type VariantAddMode int

const (
	// VariantAddOnly fails with AlreadyExists if the variant is present.
	VariantAddOnly VariantAddMode = iota
	// VariantTryAdd returns the existing path (justAdded=false) instead of
	// failing when the variant is already present.
	VariantTryAdd
	// VariantGetOrAdd is an alias of VariantTryAdd kept distinct for call-site
	// clarity; behavior is identical.
	VariantGetOrAdd
)

// addVariant adds a named variant of an existing file.
func (r *Repo) addVariant(ctx context.Context, id fileid.FileID, variant pathlayout.VariantID, sourceVariant *pathlayout.VariantID, pipe *pipeline.Pipeline, mode VariantAddMode) (string, bool, error) {
	if err := r.ensureInitialized(ctx); err != nil {
		return "", false, err
	}
	if err := r.checkControlDirs("add_variant"); err != nil {
		return "", false, err
	}

	v, err := variant.Normalize()
	if err != nil {
		return "", false, newErr("add_variant", KindInvalidVariantID, err)
	}

	// Brief read access at (id, "") to resolve the source path; released
	// before the (possibly slow) pipeline runs.
	parentGuard, err := r.locks.Lock(ctx, keylock.Key{FileID: id.String()})
	if err != nil {
		return "", false, wrapLockErr("add_variant", err)
	}
	var sourcePath string
	if sourceVariant != nil {
		sourcePath, err = r.resolveGlob(r.layout.VariantFileGlob(id, *sourceVariant), "add_variant")
	} else {
		sourcePath, err = r.resolveGlob(r.layout.MainFileGlob(id), "add_variant")
	}
	parentGuard.Release()
	if err != nil {
		return "", false, err
	}

	guard, err := r.locks.Lock(ctx, keylock.Key{FileID: id.String(), Variant: string(v)})
	if err != nil {
		return "", false, wrapLockErr("add_variant", err)
	}

	existing, existsErr := r.resolveGlob(r.layout.VariantFileGlob(id, v), "add_variant")
	if existsErr == nil {
		guard.Release()
		if mode == VariantAddOnly {
			return "", false, newErr("add_variant", KindAlreadyExists, nil)
		}
		return existing, false, nil
	}

	fileDir := r.layout.FileDir(id)
	workDir := r.layout.WorkDir(id, v)
	if err := r.fsys.MkdirAll(workDir, 0o755); err != nil {
		guard.Release()
		return "", false, newErr("add_variant", KindIOUnavailable, err)
	}

	// The pipeline runs with the per-variant lock released, matching the
	// hold-time discipline: only state transitions are locked, not
	// processing.
	guard.Release()
	defer r.fsys.RemoveAll(workDir)

	if pipe == nil {
		pipe = &pipeline.Pipeline{}
	}
	ext := pathlayout.NormalizeExtension(filepath.Ext(sourcePath))
	outcome, err := pipe.Run(ctx, r.fsys, workDir, id, &v, ext, pipeline.Source{Path: sourcePath})
	if err != nil {
		return "", false, wrapPipelineErr("add_variant", err)
	}

	resultPath := outcome.Path
	if !pathWithin(workDir, resultPath) {
		copied, err := copyIntoWorkDir(r.fsys, workDir, resultPath, outcome.Extension)
		if err != nil {
			return "", false, newErr("add_variant", KindIOUnavailable, err)
		}
		resultPath = copied
	}

	guard, err = r.locks.Lock(ctx, keylock.Key{FileID: id.String(), Variant: string(v)})
	if err != nil {
		return "", false, wrapLockErr("add_variant", err)
	}
	defer guard.Release()

	// Re-check existence: another add (or a get-or-add race) may have
	// landed the variant while we ran the pipeline unlocked.
	if existing, err := r.resolveGlob(r.layout.VariantFileGlob(id, v), "add_variant"); err == nil {
		if mode == VariantAddOnly {
			return "", false, newErr("add_variant", KindAlreadyExists, nil)
		}
		return existing, false, nil
	}

	finalPath := r.layout.VariantFilePath(id, v, outcome.Extension)
	if err := fsx.AtomicRename(r.fsys, resultPath, finalPath); err != nil {
		if dirOk, statErr := fsx.Exists(r.fsys, fileDir); statErr == nil && !dirOk {
			// The file directory vanished under us: a concurrent delete
			// raced this add. Treat it as success, modeling the delete as
			// having happened after the add.
			return finalPath, true, nil
		}
		return "", false, newErr("add_variant", KindIOUnavailable, err)
	}

	return finalPath, true, nil
}

// AddVariant adds a variant, failing with AlreadyExists if one is already
// present.
func (r *Repo) AddVariant(ctx context.Context, id fileid.FileID, variant pathlayout.VariantID, sourceVariant *pathlayout.VariantID, pipe *pipeline.Pipeline) (string, error) {
	path, _, err := r.addVariant(ctx, id, variant, sourceVariant, pipe, VariantAddOnly)
	return path, err
}

// TryAddVariant adds a variant, or returns the existing one without error
// if it is already present. justAdded reports which happened.
func (r *Repo) TryAddVariant(ctx context.Context, id fileid.FileID, variant pathlayout.VariantID, sourceVariant *pathlayout.VariantID, pipe *pipeline.Pipeline) (path string, justAdded bool, err error) {
	return r.addVariant(ctx, id, variant, sourceVariant, pipe, VariantTryAdd)
}

// GetOrAddVariant returns the existing variant path, or adds it if absent.
func (r *Repo) GetOrAddVariant(ctx context.Context, id fileid.FileID, variant pathlayout.VariantID, sourceVariant *pathlayout.VariantID, pipe *pipeline.Pipeline) (string, error) {
	path, _, err := r.addVariant(ctx, id, variant, sourceVariant, pipe, VariantGetOrAdd)
	return path, err
}

func pathWithin(dir, path string) bool {
	rel, err := filepath.Rel(dir, path)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

func copyIntoWorkDir(fsys afero.Fs, workDir, srcPath string, ext pathlayout.Extension) (string, error) {
	dst := filepath.Join(workDir, "external"+ext.String())
	data, err := afero.ReadFile(fsys, srcPath)
	if err != nil {
		return "", fmt.Errorf("copy external result into work dir: %w", err)
	}
	if err := fsx.WriteFileSync(fsys, dst, data, 0o644); err != nil {
		return "", fmt.Errorf("copy external result into work dir: %w", err)
	}
	return dst, nil
}

func wrapLockErr(op string, err error) error {
	if err == context.Canceled {
		return newErr(op, KindCancelled, err)
	}
	if err == context.DeadlineExceeded || err == keylock.ErrTimeout {
		return newErr(op, KindTimeout, err)
	}
	return newErr(op, KindIOUnavailable, err)
}

func wrapPipelineErr(op string, err error) error {
	switch {
	case err == context.Canceled:
		return newErr(op, KindCancelled, err)
	case err == context.DeadlineExceeded:
		return newErr(op, KindTimeout, err)
	case isPipelineExtensionErr(err):
		return newErr(op, KindExtensionNotAllowed, err)
	case isPipelineSourceUnchangedErr(err):
		return newErr(op, KindSourceUnchanged, err)
	default:
		return newErr(op, KindProcessingFailed, err)
	}
}
