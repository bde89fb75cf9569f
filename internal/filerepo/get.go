package filerepo

import (
	"context"
	"io"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"

	"github.com/vaultfs/filerepo/internal/fileid"
	"github.com/vaultfs/filerepo/internal/fsx"
	"github.com/vaultfs/filerepo/internal/pathlayout"
)

// Get returns the absolute path to id's main file. NotFound if the
// directory or its main file is missing, or if an .ind marker is still
// present (the add is renamed into place but not yet committed, so it
// must not be externally visible).
func (r *Repo) Get(ctx context.Context, id fileid.FileID) (string, error) {
	if err := r.ensureInitialized(ctx); err != nil {
		return "", err
	}
	if err := r.checkNotIndeterminate(id, "get"); err != nil {
		return "", err
	}
	return r.resolveGlob(r.layout.MainFileGlob(id), "get")
}

// checkNotIndeterminate reports NotFound if id's main file has a pending
// .ind marker. A variant is only visible while its main file is visible,
// so every lookup that resolves a path under id's directory — the main
// file or any of its variants — must gate on the same marker.
func (r *Repo) checkNotIndeterminate(id fileid.FileID, op string) error {
	pending, err := fsx.Exists(r.fsys, r.layout.IndMarker(id))
	if err != nil {
		return newErr(op, KindIOUnavailable, err)
	}
	if pending {
		return newErr(op, KindNotFound, nil)
	}
	return nil
}

// Open returns a read stream for id's main file, opened with shared read
// and shared delete so readers never block a concurrent delete.
func (r *Repo) Open(ctx context.Context, id fileid.FileID) (io.ReadCloser, error) {
	path, err := r.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	f, err := r.fsys.Open(path)
	if err != nil {
		return nil, newErr("open", KindNotFound, err)
	}
	return f, nil
}

// GetVariant returns the absolute path to id's variant file. NotFound if
// the directory or variant file is missing, or if the main file is not
// itself visible (an .ind marker is still pending).
func (r *Repo) GetVariant(ctx context.Context, id fileid.FileID, variant pathlayout.VariantID) (string, error) {
	if err := r.ensureInitialized(ctx); err != nil {
		return "", err
	}
	if err := r.checkNotIndeterminate(id, "get_variant"); err != nil {
		return "", err
	}
	v, err := variant.Normalize()
	if err != nil {
		return "", newErr("get_variant", KindInvalidVariantID, err)
	}
	return r.resolveGlob(r.layout.VariantFileGlob(id, v), "get_variant")
}

// OpenVariant returns a read stream for id's variant file.
func (r *Repo) OpenVariant(ctx context.Context, id fileid.FileID, variant pathlayout.VariantID) (io.ReadCloser, error) {
	path, err := r.GetVariant(ctx, id, variant)
	if err != nil {
		return nil, err
	}
	f, err := r.fsys.Open(path)
	if err != nil {
		return nil, newErr("open_variant", KindNotFound, err)
	}
	return f, nil
}

// GetVariantIDs lists the variant ids currently present for id (the main
// file itself is excluded). NotFound if id's main file is not itself
// visible (an .ind marker is still pending) — matching the invariant that
// a variant id is listed iff the variant is visible, and no variant is
// visible when its main file is not.
func (r *Repo) GetVariantIDs(ctx context.Context, id fileid.FileID) ([]pathlayout.VariantID, error) {
	if err := r.ensureInitialized(ctx); err != nil {
		return nil, err
	}
	if err := r.checkNotIndeterminate(id, "get_variant_ids"); err != nil {
		return nil, err
	}
	dir := r.layout.FileDir(id)
	entries, err := afero.ReadDir(r.fsys, dir)
	if err != nil {
		return nil, newErr("get_variant_ids", KindNotFound, err)
	}
	var ids []pathlayout.VariantID
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		stem := strings.TrimSuffix(e.Name(), filepath.Ext(e.Name()))
		if stem == pathlayout.MainFileStem {
			continue
		}
		ids = append(ids, pathlayout.VariantID(stem))
	}
	return ids, nil
}

// resolveGlob expects exactly one match for pattern; zero or multiple
// matches are both reported as NotFound.
func (r *Repo) resolveGlob(pattern, op string) (string, error) {
	matches, err := afero.Glob(r.fsys, pattern)
	if err != nil {
		return "", newErr(op, KindIOUnavailable, err)
	}
	if len(matches) != 1 {
		return "", newErr(op, KindNotFound, nil)
	}
	return matches[0], nil
}
