package snapshot

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/ValentinKolb/geoKV/lib/codec"
	"github.com/ValentinKolb/geoKV/lib/common"
	"github.com/ValentinKolb/geoKV/lib/storage"
	"github.com/ValentinKolb/geoKV/lib/storage/engines/sqlite"
	storagetesting "github.com/ValentinKolb/geoKV/lib/storage/testing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const dbFile = "index.db"

// source creates a directory with a sqlite database and a lock file
func source(t *testing.T) string {
	dir := filepath.Join(t.TempDir(), "store")
	require.NoError(t, os.Mkdir(dir, 0o755))

	db, err := sqlite.Open(filepath.Join(dir, dbFile), nil)
	require.NoError(t, err)
	require.NoError(t, db.Update([]storage.Item{
		{Key: "a", Values: storage.Bucket{int64(1)}},
		{Key: "b", Values: storage.Bucket{"two"}},
	}))
	require.NoError(t, db.Close())

	require.NoError(t, os.WriteFile(filepath.Join(dir, "LOCK"), nil, 0o644))
	return dir
}

func openReadOnly(dir string) (storage.Backend, error) {
	return sqlite.Open(filepath.Join(dir, dbFile), &sqlite.Options{ReadOnly: true})
}

func TestSnapshot(t *testing.T) {
	src := source(t)

	snap, err := New(src, "LOCK", openReadOnly)
	require.NoError(t, err)

	assert.Equal(t, filepath.Dir(src), filepath.Dir(snap.Dir()))
	assert.FileExists(t, filepath.Join(snap.Dir(), dbFile))
	assert.NoFileExists(t, filepath.Join(snap.Dir(), "LOCK"))

	target, err := os.Readlink(filepath.Join(snap.Dir(), dbFile))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(src, dbFile), target)

	got, err := snap.Get("a")
	require.NoError(t, err)
	assert.Equal(t, storage.Bucket{int64(1)}, got)

	n, err := snap.Len()
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	dir := snap.Dir()
	require.NoError(t, snap.Close())
	assert.NoDirExists(t, dir)
	assert.FileExists(t, filepath.Join(src, dbFile), "the source must survive")

	// closing twice is harmless
	require.NoError(t, snap.Close())
}

func TestSnapshotRejectsMutations(t *testing.T) {
	snap, err := New(source(t), "LOCK", openReadOnly)
	require.NoError(t, err)
	defer snap.Close()

	assert.False(t, snap.SupportsFeature(storage.FeatureWrite))
	assert.NotContains(t, snap.GetInfo().SupportedFeatures, storage.FeatureWrite)
	storagetesting.AssertMutationsRejected(t, snap)

	zstd, err := codec.NewZstd(3)
	require.NoError(t, err)
	view := snap.WithCodec(codec.New(zstd))
	storagetesting.AssertMutationsRejected(t, view)

	// views share the directory
	require.NoError(t, view.Close())
	assert.NoDirExists(t, snap.Dir())
}

func TestSnapshotOpenFailureCleansUp(t *testing.T) {
	src := source(t)

	_, err := New(src, "LOCK", func(string) (storage.Backend, error) {
		return nil, common.NewError(common.RetCInternalError, "boom")
	})
	require.Error(t, err)

	matches, err := filepath.Glob(src + ".snapshot-*")
	require.NoError(t, err)
	assert.Empty(t, matches)
}

func TestSnapshotMissingSource(t *testing.T) {
	_, err := New(filepath.Join(t.TempDir(), "missing"), "LOCK", openReadOnly)
	assert.ErrorIs(t, err, common.ErrInvalidArgument)
}

// snapshotAndDrop creates a snapshot and loses it without closing
func snapshotAndDrop(t *testing.T, src string) string {
	snap, err := New(src, "LOCK", openReadOnly)
	require.NoError(t, err)
	require.DirExists(t, snap.Dir())
	return snap.Dir()
}

func TestFinalizerRemovesLeakedSnapshot(t *testing.T) {
	src := source(t)
	dir := snapshotAndDrop(t, src)

	assert.Eventually(t, func() bool {
		runtime.GC()
		_, err := os.Stat(dir)
		return os.IsNotExist(err)
	}, 2*time.Second, 10*time.Millisecond)

	// the source is untouched
	assert.FileExists(t, filepath.Join(src, dbFile))
	assert.FileExists(t, filepath.Join(src, "LOCK"))
}
