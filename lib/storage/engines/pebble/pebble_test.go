package pebble

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"syscall"
	"testing"

	"github.com/ValentinKolb/geoKV/lib/common"
	"github.com/ValentinKolb/geoKV/lib/storage"
	storagetesting "github.com/ValentinKolb/geoKV/lib/storage/testing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openDir(dir string) (storage.Backend, error) {
	return Open(dir, nil)
}

func openDirReadOnly(dir string) (storage.Backend, error) {
	return Open(dir, &Options{ReadOnly: true})
}

func factory(t testing.TB) storage.Backend {
	db, err := openDir(t.TempDir())
	require.NoError(t, err)
	return db
}

func Test(t *testing.T) {
	storagetesting.RunBackendTests(t, "PebbleDB", factory)
	storagetesting.RunPersistenceTests(t, "PebbleDBPersistence", openDir)
	storagetesting.RunReadOnlyTests(t, "PebbleDBReadOnly", openDir, openDirReadOnly)
}

func Benchmark(b *testing.B) {
	storagetesting.RunBackendBenchmarks(b, "PebbleDB", factory)
}

func TestFeatures(t *testing.T) {
	db := factory(t)
	defer db.Close()

	assert.True(t, db.SupportsFeature(storage.FeatureNativeWriteLock|storage.FeatureAtomicBatch))
	assert.False(t, db.SupportsFeature(storage.FeatureReadOnlyOpen))
	assert.Equal(t, storage.ImplPebble, db.GetInfo().DbType)
}

func TestSecondOpenIsRejected(t *testing.T) {
	dir := t.TempDir()

	writer, err := openDir(dir)
	require.NoError(t, err)
	defer writer.Close()

	_, err = openDir(dir)
	assert.ErrorIs(t, err, common.ErrLock)

	// read-only handles need the lock as well
	_, err = openDirReadOnly(dir)
	assert.ErrorIs(t, err, common.ErrLock)
}

func TestCloseTwice(t *testing.T) {
	db := factory(t)
	require.NoError(t, db.Close())
	require.NoError(t, db.Close())
}

func TestSnapshotWhileWriterHoldsLock(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "store")

	writer, err := openDir(dir)
	require.NoError(t, err)
	defer writer.Close()

	require.NoError(t, writer.Update([]storage.Item{
		{Key: "m", Values: storage.Bucket{int64(1)}},
		{Key: "q", Values: storage.Bucket{int64(2)}},
	}))

	snap, err := OpenSnapshot(dir, nil)
	require.NoError(t, err)
	snapDir := snap.Dir()

	got, err := snap.Get("m")
	require.NoError(t, err)
	assert.Equal(t, storage.Bucket{int64(1)}, got)

	// the view is not live
	require.NoError(t, writer.Extend([]storage.Item{{Key: "m", Values: storage.Bucket{int64(5)}}}))
	require.NoError(t, writer.Set("new", storage.Bucket{"x"}))

	got, err = snap.Get("m")
	require.NoError(t, err)
	assert.Equal(t, storage.Bucket{int64(1)}, got)

	ok, err := snap.Contains("new")
	require.NoError(t, err)
	assert.False(t, ok)

	storagetesting.AssertMutationsRejected(t, snap)

	require.NoError(t, snap.Close())
	assert.NoDirExists(t, snapDir)

	// the writer is unaffected
	got, err = writer.Get("m")
	require.NoError(t, err)
	assert.Equal(t, storage.Bucket{int64(1), int64(5)}, got)

	// a new snapshot sees the new state
	snap, err = OpenSnapshot(dir, nil)
	require.NoError(t, err)
	defer snap.Close()

	got, err = snap.Get("m")
	require.NoError(t, err)
	assert.Equal(t, storage.Bucket{int64(1), int64(5)}, got)
}

func TestLockErrors(t *testing.T) {
	testCases := []struct {
		name string
		err  error
		lock bool
	}{
		{name: "same process", err: errors.New("lock held by current process"), lock: true},
		{name: "fcntl EAGAIN", err: syscall.EAGAIN, lock: true},
		{name: "fcntl EACCES", err: syscall.EACCES, lock: true},
		{name: "unreadable directory", err: &os.PathError{Op: "open", Path: "db/LOCK", Err: syscall.EACCES}},
		{name: "wrapped path error", err: fmt.Errorf("open: %w", &os.PathError{Op: "open", Path: "db", Err: syscall.EACCES})},
		{name: "other errno", err: syscall.ENOSPC},
		{name: "plain error", err: errors.New("boom")},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.lock, isLockErr(tc.err))
			if tc.lock {
				assert.ErrorIs(t, convertErr(tc.err, "open"), common.ErrLock)
			} else {
				assert.Equal(t, common.RetCInternalError, common.Code(convertErr(tc.err, "open")))
			}
		})
	}
}

func TestOpenFileSystemError(t *testing.T) {
	// the parent of the store is a regular file
	parent := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(parent, nil, 0o644))

	_, err := Open(filepath.Join(parent, "db"), nil)
	require.Error(t, err)
	assert.NotErrorIs(t, err, common.ErrLock)
	assert.Equal(t, common.RetCInternalError, common.Code(err))
}
