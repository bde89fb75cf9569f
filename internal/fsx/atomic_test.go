package fsx

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/afero"
)

func TestWriteFileSyncAndAtomicRename(t *testing.T) {
	dir := t.TempDir()
	fsys := afero.NewOsFs()

	path := filepath.Join(dir, "a", "b.txt")
	if err := WriteFileSync(fsys, path, []byte("hello"), 0o644); err != nil {
		t.Fatalf("WriteFileSync: %v", err)
	}
	data, err := afero.ReadFile(fsys, path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(data) != "hello" {
		t.Fatalf("got %q", data)
	}

	// No leftover temp files.
	entries, err := afero.ReadDir(fsys, filepath.Dir(path))
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected exactly 1 entry, got %d", len(entries))
	}

	dst := filepath.Join(dir, "c.txt")
	if err := AtomicRename(fsys, path, dst); err != nil {
		t.Fatalf("AtomicRename: %v", err)
	}
	if ok, _ := Exists(fsys, path); ok {
		t.Fatal("source should no longer exist after rename")
	}
	if ok, _ := Exists(fsys, dst); !ok {
		t.Fatal("destination should exist after rename")
	}
}

func TestCreateExclusiveFailsOnDuplicate(t *testing.T) {
	dir := t.TempDir()
	fsys := afero.NewOsFs()
	path := filepath.Join(dir, "marker")

	f, err := CreateExclusive(fsys, path, 0o644)
	if err != nil {
		t.Fatalf("CreateExclusive: %v", err)
	}
	f.Close()

	if _, err := CreateExclusive(fsys, path, 0o644); err == nil {
		t.Fatal("expected second CreateExclusive to fail")
	}
}

func TestProcessLockExclusiveAndDeleteOnClose(t *testing.T) {
	dir := t.TempDir()
	lockPath := filepath.Join(dir, ".lock")

	lock, err := AcquireProcessLock(context.Background(), lockPath, time.Second)
	if err != nil {
		t.Fatalf("AcquireProcessLock: %v", err)
	}

	// A second acquire attempt must time out quickly while the first is held.
	_, err = AcquireProcessLock(context.Background(), lockPath, 150*time.Millisecond)
	if err != ErrLockTimeout {
		t.Fatalf("expected ErrLockTimeout, got %v", err)
	}

	if err := lock.Probe(); err != nil {
		t.Fatalf("Probe: %v", err)
	}

	if err := lock.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, err := os.Stat(lockPath); !os.IsNotExist(err) {
		t.Fatalf("expected lock file to be removed on Close, stat err = %v", err)
	}

	// Now a fresh acquire should succeed immediately.
	lock2, err := AcquireProcessLock(context.Background(), lockPath, time.Second)
	if err != nil {
		t.Fatalf("second AcquireProcessLock: %v", err)
	}
	lock2.Close()
}
