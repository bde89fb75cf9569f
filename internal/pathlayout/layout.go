package pathlayout

import (
	"fmt"
	"path/filepath"

	"github.com/vaultfs/filerepo/internal/fileid"
)

// MainFileStem is the fixed basename (sans extension) for a file's main
// payload.
const MainFileStem = "$main$"

// Layout resolves all on-disk paths for a repository rooted at Base:
//
//	base/.lock
//	base/files/<h1>/<h2>/<fileid>/{$main$<ext>, <variant><ext>}
//	base/.temp/<fileid>[ <variant>]/step-<nn><ext>
//	base/.cleanup/{<fileid>.ind, <fileid>.del, <fileid> <variant>.del}
type Layout struct {
	Base string
}

// New returns a Layout rooted at base.
func New(base string) Layout {
	return Layout{Base: base}
}

// LockFile is the process-wide exclusive lock file path.
func (l Layout) LockFile() string {
	return filepath.Join(l.Base, ".lock")
}

// FilesDir is the durable data root.
func (l Layout) FilesDir() string {
	return filepath.Join(l.Base, "files")
}

// TempDir is the volatile working area, purged on init.
func (l Layout) TempDir() string {
	return filepath.Join(l.Base, ".temp")
}

// CleanupDir holds crash-recovery markers.
func (l Layout) CleanupDir() string {
	return filepath.Join(l.Base, ".cleanup")
}

// ControlDirs returns the three directories that must all exist for the
// repository to be considered initialized.
func (l Layout) ControlDirs() []string {
	return []string{l.FilesDir(), l.TempDir(), l.CleanupDir()}
}

// FileDir returns the sharded directory for id: files/<h1>/<h2>/<fileid>/.
func (l Layout) FileDir(id fileid.FileID) string {
	h1, h2 := id.ShardPath()
	return filepath.Join(l.FilesDir(), h1, h2, id.String())
}

// MainFileName returns the basename for the main file with the given
// (already-normalized) extension.
func MainFileName(ext Extension) string {
	return MainFileStem + ext.String()
}

// MainFilePath returns the full path to the main file of id.
func (l Layout) MainFilePath(id fileid.FileID, ext Extension) string {
	return filepath.Join(l.FileDir(id), MainFileName(ext))
}

// MainFileGlob is the glob pattern matching the main file regardless of
// extension.
func (l Layout) MainFileGlob(id fileid.FileID) string {
	return filepath.Join(l.FileDir(id), MainFileStem+".*")
}

// VariantFileName returns the basename for a variant file.
func VariantFileName(variant VariantID, ext Extension) string {
	return variant.String() + ext.String()
}

// VariantFilePath returns the full path to a variant file of id.
func (l Layout) VariantFilePath(id fileid.FileID, variant VariantID, ext Extension) string {
	return filepath.Join(l.FileDir(id), VariantFileName(variant, ext))
}

// VariantFileGlob is the glob pattern matching a variant file regardless
// of extension.
func (l Layout) VariantFileGlob(id fileid.FileID, variant VariantID) string {
	return filepath.Join(l.FileDir(id), variant.String()+".*")
}

// WorkDir returns the pipeline's scratch directory for a file (or
// file+variant) add, under .temp/. The FileID/VariantID separator on disk
// is a space.
func (l Layout) WorkDir(id fileid.FileID, variant VariantID) string {
	name := id.String()
	if variant != "" {
		name = fmt.Sprintf("%s %s", name, variant)
	}
	return filepath.Join(l.TempDir(), name)
}

// IndMarker is the indeterminate marker path for id.
func (l Layout) IndMarker(id fileid.FileID) string {
	return filepath.Join(l.CleanupDir(), id.String()+".ind")
}

// DelMarker is the committed-delete marker path for the main file of id.
func (l Layout) DelMarker(id fileid.FileID) string {
	return filepath.Join(l.CleanupDir(), id.String()+".del")
}

// VariantDelMarker is the committed-delete marker path for a variant.
func (l Layout) VariantDelMarker(id fileid.FileID, variant VariantID) string {
	return filepath.Join(l.CleanupDir(), fmt.Sprintf("%s %s.del", id.String(), variant.String()))
}
