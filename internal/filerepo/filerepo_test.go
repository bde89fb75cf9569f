package filerepo

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vaultfs/filerepo/internal/fileid"
	"github.com/vaultfs/filerepo/internal/pathlayout"
	"github.com/vaultfs/filerepo/internal/pipeline"
)

func newTestRepo(t *testing.T, opts Options) *Repo {
	t.Helper()
	opts.BaseDirectory = t.TempDir()
	r, err := Open(opts)
	require.NoError(t, err)
	t.Cleanup(func() { r.Close() })
	return r
}

func addStream(t *testing.T, r *Repo, body, ext string) (fileid.FileID, string) {
	t.Helper()
	ctx := context.Background()
	txn := r.BeginTransaction()
	id, path, err := txn.Add(ctx, pipeline.Source{Stream: strings.NewReader(body)}, ext, false, nil)
	require.NoError(t, err)
	txn.Commit(ctx)
	return id, path
}

// S1 — basic lifecycle.
func TestBasicLifecycle(t *testing.T) {
	r := newTestRepo(t, Options{})
	ctx := context.Background()

	txn := r.BeginTransaction()
	id, path, err := txn.Add(ctx, pipeline.Source{Stream: strings.NewReader("hello")}, ".jpg", false, nil)
	require.NoError(t, err)
	txn.Commit(ctx)

	assert.Equal(t, "$main$.jpg", filepath.Base(path))

	got, err := r.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, path, got)

	_, statErr := os.Stat(r.layout.IndMarker(id))
	assert.True(t, os.IsNotExist(statErr), "expected no .ind marker, stat err = %v", statErr)
	_, statErr = os.Stat(r.layout.DelMarker(id))
	assert.True(t, os.IsNotExist(statErr), "expected no .del marker, stat err = %v", statErr)
}

// S2 — rollback.
func TestAddRollbackLeavesNoTrace(t *testing.T) {
	r := newTestRepo(t, Options{})
	ctx := context.Background()

	txn := r.BeginTransaction()
	id, _, err := txn.Add(ctx, pipeline.Source{Stream: strings.NewReader("hello")}, ".jpg", false, nil)
	require.NoError(t, err)
	txn.Rollback(ctx)

	_, err = r.Get(ctx, id)
	assert.Equal(t, KindNotFound, KindOf(err))

	_, statErr := os.Stat(r.layout.FileDir(id))
	assert.True(t, os.IsNotExist(statErr), "expected file dir removed, stat err = %v", statErr)
}

// S3 — crash between rename and commit.
func TestUncommittedAddIsIndeterminate(t *testing.T) {
	base := t.TempDir()
	r1, err := Open(Options{BaseDirectory: base, IndeterminateDelay: time.Millisecond})
	require.NoError(t, err)
	ctx := context.Background()

	txn := r1.BeginTransaction()
	id, _, err := txn.Add(ctx, pipeline.Source{Stream: strings.NewReader("hello")}, ".jpg", false, nil)
	require.NoError(t, err)
	// Simulate a crash: never commit or rollback, just stop using r1.
	r1.Close()

	r2, err := Open(Options{BaseDirectory: base, IndeterminateDelay: time.Millisecond})
	require.NoError(t, err)
	defer r2.Close()

	_, err = r2.Get(ctx, id)
	assert.Equal(t, KindNotFound, KindOf(err), "expected NotFound while .ind present")

	time.Sleep(5 * time.Millisecond)
	err = r2.Clean(ctx, func(fileid.FileID) Resolution { return ResolutionKeep })
	require.NoError(t, err)

	_, err = r2.Get(ctx, id)
	assert.NoError(t, err, "expected file visible after Keep resolution")
}

// S3 variant — Delete resolution physically removes the file.
func TestUncommittedAddCanBeResolvedAsDelete(t *testing.T) {
	base := t.TempDir()
	r1, err := Open(Options{BaseDirectory: base, IndeterminateDelay: time.Millisecond})
	require.NoError(t, err)
	ctx := context.Background()

	txn := r1.BeginTransaction()
	id, _, err := txn.Add(ctx, pipeline.Source{Stream: strings.NewReader("hello")}, ".jpg", false, nil)
	require.NoError(t, err)
	r1.Close()

	r2, err := Open(Options{BaseDirectory: base, IndeterminateDelay: time.Millisecond})
	require.NoError(t, err)
	defer r2.Close()

	time.Sleep(5 * time.Millisecond)
	err = r2.Clean(ctx, func(fileid.FileID) Resolution { return ResolutionDelete })
	require.NoError(t, err)

	_, statErr := os.Stat(r2.layout.FileDir(id))
	assert.True(t, os.IsNotExist(statErr), "expected file dir removed after Delete resolution")

	_, err = r2.Get(ctx, id)
	assert.Equal(t, KindNotFound, KindOf(err))
}

// S4 — variant add + delayed delete.
func TestVariantAddAndDelayedDelete(t *testing.T) {
	r := newTestRepo(t, Options{DeleteDelay: 0})
	ctx := context.Background()

	id, _ := addStream(t, r, "main-bytes", ".jpg")

	thumbPath, err := r.AddVariant(ctx, id, pathlayout.VariantID("thumb"), nil, &pipeline.Pipeline{})
	require.NoError(t, err)
	assert.Equal(t, "thumb.jpg", filepath.Base(thumbPath))

	ids, err := r.GetVariantIDs(ctx, id)
	require.NoError(t, err)
	require.Len(t, ids, 1)
	assert.Equal(t, pathlayout.VariantID("thumb"), ids[0])

	txn := r.BeginTransaction()
	require.NoError(t, txn.Delete(ctx, id))
	txn.Commit(ctx)

	require.NoError(t, r.Clean(ctx, nil))

	_, statErr := os.Stat(r.layout.FileDir(id))
	assert.True(t, os.IsNotExist(statErr), "expected file dir gone after clean")
}

// S5 — concurrent add + delete. The in-flight-add set is what a real
// concurrent producer would still hold while its pipeline runs; here it
// is driven directly to pin down the instant "a delete races a
// not-yet-finished add" without depending on scheduler timing.
func TestConcurrentAddThenDeleteIsInProgress(t *testing.T) {
	r := newTestRepo(t, Options{})
	ctx := context.Background()

	id, _ := addStream(t, r, "data", ".bin")

	r.inflight.Add(id.String())
	txnB := r.BeginTransaction()
	err := txnB.Delete(ctx, id)
	assert.Equal(t, KindInProgress, KindOf(err), "expected InProgress while add is in flight")
	r.inflight.Remove(id.String())

	require.NoError(t, txnB.Delete(ctx, id), "delete once add settled")
	txnB.Rollback(ctx)

	_, err = r.Get(ctx, id)
	assert.NoError(t, err, "expected file visible after rollback of delete")
}

// S6 — collision-free ids under concurrent adds.
func TestConcurrentAddsProduceDistinctIDs(t *testing.T) {
	r := newTestRepo(t, Options{})
	ctx := context.Background()

	const n = 200
	ids := make(chan string, n)
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		go func() {
			txn := r.BeginTransaction()
			id, _, err := txn.Add(ctx, pipeline.Source{Stream: strings.NewReader("x")}, ".bin", false, nil)
			if err != nil {
				errs <- err
				ids <- ""
				return
			}
			txn.Commit(ctx)
			errs <- nil
			ids <- id.String()
		}()
	}

	seen := make(map[string]bool, n)
	for i := 0; i < n; i++ {
		err := <-errs
		require.NoError(t, err)
		id := <-ids
		require.False(t, seen[id], "duplicate id: %s", id)
		seen[id] = true
	}
}

func TestAlreadyExistingVariantFails(t *testing.T) {
	r := newTestRepo(t, Options{})
	ctx := context.Background()

	id, _ := addStream(t, r, "main-bytes", ".jpg")
	_, err := r.AddVariant(ctx, id, pathlayout.VariantID("thumb"), nil, &pipeline.Pipeline{})
	require.NoError(t, err)

	_, err = r.AddVariant(ctx, id, pathlayout.VariantID("thumb"), nil, &pipeline.Pipeline{})
	assert.Equal(t, KindAlreadyExists, KindOf(err))

	path, justAdded, err := r.TryAddVariant(ctx, id, pathlayout.VariantID("thumb"), nil, &pipeline.Pipeline{})
	require.NoError(t, err)
	assert.False(t, justAdded, "expected justAdded=false for an existing variant")
	assert.Equal(t, "thumb.jpg", filepath.Base(path))
}
