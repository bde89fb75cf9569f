// Package fsx carries the atomic-file-operation and process-lock
// primitives treated as externally available durability guarantees.
// Operations are expressed over afero.Fs so that layout-only tests can run against an in-memory
// filesystem, while production use (and anything exercising fsync/flock)
// runs against afero.NewOsFs().
package fsx

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/afero"
)

// FsyncFile syncs an open file's contents to disk. Files backed by
// non-OS filesystems (e.g. afero.MemMapFs) silently no-op, since Sync has
// no meaning there.
func FsyncFile(f afero.File) error {
	if f == nil {
		return fmt.Errorf("fsync file: file is nil")
	}
	if err := f.Sync(); err != nil {
		if isNotSupported(err) {
			return nil
		}
		return fmt.Errorf("fsync file %s: %w", f.Name(), err)
	}
	return nil
}

// FsyncDir syncs a directory's metadata, which is required after a rename
// or file creation to persist the new directory entry across a crash.
func FsyncDir(fsys afero.Fs, dir string) error {
	if dir == "" {
		return fmt.Errorf("fsync dir: empty path")
	}
	f, err := fsys.Open(dir)
	if err != nil {
		return fmt.Errorf("fsync dir %s: open: %w", dir, err)
	}
	defer f.Close()
	if err := f.Sync(); err != nil && !isNotSupported(err) {
		return fmt.Errorf("fsync dir %s: %w", dir, err)
	}
	return nil
}

func isNotSupported(err error) bool {
	return os.IsPermission(err) || os.IsNotExist(err)
}

// AtomicRename performs src -> dst within the same directory tree and
// fsyncs the destination's parent directory. The parent directory must
// already exist; a missing parent makes the rename fail. The only atomic
// primitive assumed is rename-no-replace within the same directory
// subtree: Go's Rename (and afero's) replaces an existing dst on POSIX, so
// callers that need no-replace semantics must verify dst's absence while
// still holding the per-key lock, before ever calling this function.
func AtomicRename(fsys afero.Fs, src, dst string) error {
	if src == "" || dst == "" {
		return fmt.Errorf("atomic rename: empty path")
	}
	parent := filepath.Dir(dst)
	if err := fsys.Rename(src, dst); err != nil {
		return fmt.Errorf("atomic rename %s -> %s: %w", src, dst, err)
	}
	if err := FsyncDir(fsys, parent); err != nil {
		return fmt.Errorf("atomic rename %s -> %s: fsync parent: %w", src, dst, err)
	}
	return nil
}

// WriteFileSync writes data to path via a same-directory temp file,
// fsyncs it, atomically renames it into place, and fsyncs the parent
// directory: the standard file+fsync(file)+rename+fsync(dir) sequence for
// crash-safe file replacement.
func WriteFileSync(fsys afero.Fs, path string, data []byte, perm os.FileMode) error {
	if path == "" {
		return fmt.Errorf("write file sync: empty path")
	}
	dir := filepath.Dir(path)
	if err := fsys.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("write file sync %s: create parent dir: %w", path, err)
	}
	if perm == 0 {
		perm = 0o644
	}

	tmp, err := afero.TempFile(fsys, dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("write file sync %s: create temp file: %w", path, err)
	}
	tmpPath := tmp.Name()
	defer fsys.Remove(tmpPath)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write file sync %s: write temp file: %w", path, err)
	}
	if err := FsyncFile(tmp); err != nil {
		tmp.Close()
		return fmt.Errorf("write file sync %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("write file sync %s: close temp file: %w", path, err)
	}
	if err := fsys.Chmod(tmpPath, perm); err != nil && !isNotSupported(err) {
		return fmt.Errorf("write file sync %s: chmod temp file: %w", path, err)
	}
	if err := AtomicRename(fsys, tmpPath, path); err != nil {
		return fmt.Errorf("write file sync %s: %w", path, err)
	}
	return nil
}

// WriteStreamSync drains r into path using the same temp-file-then-rename
// sequence as WriteFileSync, without requiring the whole content in memory
// up front.
func WriteStreamSync(fsys afero.Fs, path string, r io.Reader, perm os.FileMode) error {
	if path == "" {
		return fmt.Errorf("write stream sync: empty path")
	}
	dir := filepath.Dir(path)
	if err := fsys.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("write stream sync %s: create parent dir: %w", path, err)
	}
	if perm == 0 {
		perm = 0o644
	}

	tmp, err := afero.TempFile(fsys, dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("write stream sync %s: create temp file: %w", path, err)
	}
	tmpPath := tmp.Name()
	defer fsys.Remove(tmpPath)

	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		return fmt.Errorf("write stream sync %s: copy: %w", path, err)
	}
	if err := FsyncFile(tmp); err != nil {
		tmp.Close()
		return fmt.Errorf("write stream sync %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("write stream sync %s: close temp file: %w", path, err)
	}
	if err := fsys.Chmod(tmpPath, perm); err != nil && !isNotSupported(err) {
		return fmt.Errorf("write stream sync %s: chmod temp file: %w", path, err)
	}
	if err := AtomicRename(fsys, tmpPath, path); err != nil {
		return fmt.Errorf("write stream sync %s: %w", path, err)
	}
	return nil
}

// CreateExclusive opens path for writing, failing if it already exists.
// This is the "open-exclusive-create" primitive used as an alternative to
// a true no-replace rename.
func CreateExclusive(fsys afero.Fs, path string, perm os.FileMode) (afero.File, error) {
	dir := filepath.Dir(path)
	if err := fsys.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create exclusive %s: create parent dir: %w", path, err)
	}
	f, err := fsys.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, perm)
	if err != nil {
		return nil, err
	}
	return f, nil
}

// Exists reports whether path exists in fsys.
func Exists(fsys afero.Fs, path string) (bool, error) {
	_, err := fsys.Stat(path)
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, err
}
