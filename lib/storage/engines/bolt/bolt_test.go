package bolt

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/ValentinKolb/geoKV/lib/common"
	"github.com/ValentinKolb/geoKV/lib/storage"
	storagetesting "github.com/ValentinKolb/geoKV/lib/storage/testing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openFile(dir string) (storage.Backend, error) {
	return Open(filepath.Join(dir, "index.bolt"), nil)
}

func openFileReadOnly(dir string) (storage.Backend, error) {
	return Open(filepath.Join(dir, "index.bolt"), &Options{ReadOnly: true})
}

func factory(t testing.TB) storage.Backend {
	db, err := openFile(t.TempDir())
	require.NoError(t, err)
	return db
}

func Test(t *testing.T) {
	storagetesting.RunBackendTests(t, "BoltDB", factory)
	storagetesting.RunPersistenceTests(t, "BoltDBPersistence", openFile)
	storagetesting.RunReadOnlyTests(t, "BoltDBReadOnly", openFile, openFileReadOnly)
}

func Benchmark(b *testing.B) {
	storagetesting.RunBackendBenchmarks(b, "BoltDB", factory)
}

func TestFeatures(t *testing.T) {
	db := factory(t)
	defer db.Close()

	assert.True(t, db.SupportsFeature(storage.FeatureNativeWriteLock|storage.FeatureReadOnlyOpen|storage.FeatureAtomicExtend))
	assert.Equal(t, storage.ImplBolt, db.GetInfo().DbType)
}

func TestSecondWriterIsRejected(t *testing.T) {
	dir := t.TempDir()

	writer, err := openFile(dir)
	require.NoError(t, err)
	defer writer.Close()

	start := time.Now()
	_, err = Open(filepath.Join(dir, "index.bolt"), &Options{LockTimeout: 20 * time.Millisecond})
	assert.ErrorIs(t, err, common.ErrLock)
	assert.Less(t, time.Since(start), time.Second, "lock contention must surface immediately")

	// readers need the shared lock, which the writer excludes
	_, err = openFileReadOnly(dir)
	assert.ErrorIs(t, err, common.ErrLock)
}

func TestReadersShareTheLock(t *testing.T) {
	dir := t.TempDir()

	writer, err := openFile(dir)
	require.NoError(t, err)
	require.NoError(t, writer.Set("k", storage.Bucket{"v"}))
	require.NoError(t, writer.Close())

	first, err := openFileReadOnly(dir)
	require.NoError(t, err)
	defer first.Close()

	second, err := openFileReadOnly(dir)
	require.NoError(t, err)
	defer second.Close()

	got, err := second.Get("k")
	require.NoError(t, err)
	assert.Equal(t, storage.Bucket{"v"}, got)
}

func TestReadOnlyEmpty(t *testing.T) {
	dir := t.TempDir()

	writer, err := openFile(dir)
	require.NoError(t, err)
	require.NoError(t, writer.Clear())
	require.NoError(t, writer.Close())

	reader, err := openFileReadOnly(dir)
	require.NoError(t, err)
	defer reader.Close()

	n, err := reader.Len()
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	buckets, err := reader.Values(nil)
	require.NoError(t, err)
	assert.Empty(t, buckets)
}
