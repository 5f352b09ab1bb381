package index

import (
	"bytes"
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/ValentinKolb/geoKV/lib/codec"
	"github.com/ValentinKolb/geoKV/lib/common"
	"github.com/ValentinKolb/geoKV/lib/geohash"
	"github.com/ValentinKolb/geoKV/lib/lockmgr"
	"github.com/ValentinKolb/geoKV/lib/storage"
	"github.com/ValentinKolb/geoKV/lib/storage/engines/bolt"
	"github.com/ValentinKolb/geoKV/lib/storage/engines/memory"
	"github.com/ValentinKolb/geoKV/lib/storage/engines/pebble"
	"github.com/ValentinKolb/geoKV/lib/storage/engines/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var ctx = context.Background()

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

type backendFactory func(t *testing.T) storage.Backend

func backends() map[string]backendFactory {
	return map[string]backendFactory{
		"memory": func(t *testing.T) storage.Backend {
			return memory.NewMemoryDB(nil)
		},
		"sqlite": func(t *testing.T) storage.Backend {
			db, err := sqlite.Open(filepath.Join(t.TempDir(), "index.db"), nil)
			require.NoError(t, err)
			return db
		},
		"bolt": func(t *testing.T) storage.Backend {
			db, err := bolt.Open(filepath.Join(t.TempDir(), "index.bolt"), nil)
			require.NoError(t, err)
			return db
		},
		"pebble": func(t *testing.T) storage.Backend {
			db, err := pebble.Open(t.TempDir(), nil)
			require.NoError(t, err)
			return db
		},
	}
}

// countingSync records how often the critical section was entered
type countingSync struct {
	lockmgr.Synchronizer
	acquired int
	released int
}

func newCountingSync() *countingSync {
	return &countingSync{Synchronizer: lockmgr.NewThreadSynchronizer()}
}

func (c *countingSync) Acquire(ctx context.Context) error {
	c.acquired++
	return c.Synchronizer.Acquire(ctx)
}

func (c *countingSync) Release() error {
	c.released++
	return c.Synchronizer.Release()
}

func set(values []any) map[any]bool {
	out := make(map[any]bool, len(values))
	for _, v := range values {
		out[v] = true
	}
	return out
}

// --------------------------------------------------------------------------
// Tests
// --------------------------------------------------------------------------

func TestScenario(t *testing.T) {
	for name, factory := range backends() {
		t.Run(name, func(t *testing.T) {
			backend := factory(t)
			defer backend.Close()

			idx, err := Initialize(ctx, backend, 1, nil, lockmgr.NewThreadSynchronizer())
			require.NoError(t, err)

			n, err := idx.Len()
			require.NoError(t, err)
			assert.Equal(t, 32, n)

			require.NoError(t, idx.Append(ctx, []Entry{
				{Key: "m", Value: 1},
				{Key: "q", Value: 2},
				{Key: "8", Value: 3},
			}))
			buckets, err := idx.Box(geohash.WholeEarth())
			require.NoError(t, err)
			assert.Equal(t, map[any]bool{int64(1): true, int64(2): true, int64(3): true}, set(Flatten(buckets)))

			require.NoError(t, idx.Update(ctx, []Entry{{Key: "m", Value: 5}}))
			buckets, err = idx.Box(geohash.WholeEarth())
			require.NoError(t, err)
			assert.Equal(t, map[any]bool{int64(2): true, int64(3): true, int64(5): true}, set(Flatten(buckets)))

			require.NoError(t, idx.Append(ctx, []Entry{{Key: "m", Value: 50}}))
			buckets, err = idx.Box(geohash.WholeEarth())
			require.NoError(t, err)
			assert.Equal(t, map[any]bool{int64(2): true, int64(3): true, int64(5): true, int64(50): true}, set(Flatten(buckets)))
		})
	}
}

func TestInitialize(t *testing.T) {
	for _, precision := range []int{1, 2} {
		backend := memory.NewMemoryDB(nil)
		idx, err := Initialize(ctx, backend, precision, nil, nil)
		require.NoError(t, err)

		cells, err := geohash.Engine{}.AllCells(precision)
		require.NoError(t, err)

		n, err := idx.Len()
		require.NoError(t, err)
		assert.Equal(t, len(cells), n)

		total, err := backend.Len()
		require.NoError(t, err)
		assert.Equal(t, len(cells)+1, total, "cells plus the properties record")

		buckets, err := backend.Values(cells)
		require.NoError(t, err)
		for i, b := range buckets {
			assert.Empty(t, b, "cell %s", cells[i])
		}

		keys, err := idx.Keys()
		require.NoError(t, err)
		assert.ElementsMatch(t, cells, keys)

		assert.Equal(t, precision, idx.Precision())
		assert.Nil(t, idx.Compressor())
		assert.Equal(t, fmt.Sprintf("Index(precision=%d)", precision), idx.String())
	}
}

func TestInitializeInvalid(t *testing.T) {
	backend := memory.NewMemoryDB(nil)

	_, err := Initialize(ctx, backend, 0, nil, nil)
	assert.ErrorIs(t, err, common.ErrInvalidArgument)
	_, err = Initialize(ctx, backend, geohash.MaxPrecision+1, nil, nil)
	assert.ErrorIs(t, err, common.ErrInvalidArgument)

	// nothing was written
	n, err := backend.Len()
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestInitializeTwice(t *testing.T) {
	backend := memory.NewMemoryDB(nil)
	idx, err := Initialize(ctx, backend, 1, nil, nil)
	require.NoError(t, err)
	require.NoError(t, idx.Append(ctx, []Entry{{Key: "u", Value: "x"}}))

	before, err := backend.Values(append([]string{PropertiesKey}, mustKeys(t, idx)...))
	require.NoError(t, err)

	_, err = Initialize(ctx, backend, 2, nil, nil)
	assert.ErrorIs(t, err, common.ErrAlreadyInitialized)

	after, err := backend.Values(append([]string{PropertiesKey}, mustKeys(t, idx)...))
	require.NoError(t, err)
	assert.Equal(t, before, after)

	n, err := idx.Len()
	require.NoError(t, err)
	assert.Equal(t, 32, n)
}

func mustKeys(t *testing.T, idx *Index) []string {
	keys, err := idx.Keys()
	require.NoError(t, err)
	return keys
}

func TestOpen(t *testing.T) {
	zstd, err := codec.NewZstd(5)
	require.NoError(t, err)

	dir := t.TempDir()
	backend, err := pebble.Open(dir, nil)
	require.NoError(t, err)

	idx, err := Initialize(ctx, backend, 2, zstd, nil)
	require.NoError(t, err)
	require.NoError(t, idx.Append(ctx, []Entry{{Key: "u3", Value: []any{"a", "b"}}}))
	require.NoError(t, idx.Close())

	backend, err = pebble.Open(dir, nil)
	require.NoError(t, err)
	defer backend.Close()

	reopened, err := Open(backend, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, reopened.Precision())
	require.NotNil(t, reopened.Compressor())
	assert.Equal(t, zstd.Config(), reopened.Compressor().Config())
	assert.Equal(t, codec.IDZstd, reopened.Properties().Compressor.ID())

	got, err := reopened.Get("u3")
	require.NoError(t, err)
	assert.Equal(t, storage.Bucket{"a", "b"}, got)
}

func TestOpenNotInitialized(t *testing.T) {
	_, err := Open(memory.NewMemoryDB(nil), nil)
	assert.ErrorIs(t, err, common.ErrNotInitialized)
}

func TestOpenCorruptProperties(t *testing.T) {
	backend := memory.NewMemoryDB(nil)
	require.NoError(t, backend.Set(PropertiesKey, storage.Bucket{"not a mapping"}))
	_, err := Open(backend, nil)
	assert.ErrorIs(t, err, common.ErrCorruption)

	require.NoError(t, backend.Set(PropertiesKey, storage.Bucket{map[string]any{
		"precision":  int64(1),
		"compressor": map[string]any{"id": "unknown"},
	}}))
	_, err = Open(backend, nil)
	assert.ErrorIs(t, err, common.ErrCorruption)
}

func TestAppend(t *testing.T) {
	idx, err := Initialize(ctx, memory.NewMemoryDB(nil), 1, nil, nil)
	require.NoError(t, err)

	require.NoError(t, idx.Append(ctx, []Entry{{Key: "u", Value: "v1"}}))
	require.NoError(t, idx.Append(ctx, []Entry{{Key: "u", Value: "v2"}}))

	got, err := idx.Get("u")
	require.NoError(t, err)
	assert.Equal(t, storage.Bucket{"v1", "v2"}, got)

	// repeated keys in one call keep arrival order, sequences are spread
	require.NoError(t, idx.Append(ctx, []Entry{
		{Key: "u", Value: "v3"},
		{Key: "s", Value: []any{int64(1), int64(2)}},
		{Key: "u", Value: "v3"},
	}))
	got, err = idx.Get("u")
	require.NoError(t, err)
	assert.Equal(t, storage.Bucket{"v1", "v2", "v3", "v3"}, got)

	got, err = idx.Get("s")
	require.NoError(t, err)
	assert.Equal(t, storage.Bucket{int64(1), int64(2)}, got)
}

func TestUpdate(t *testing.T) {
	idx, err := Initialize(ctx, memory.NewMemoryDB(nil), 1, nil, nil)
	require.NoError(t, err)

	require.NoError(t, idx.Append(ctx, []Entry{{Key: "u", Value: "old"}, {Key: "u", Value: "older"}}))
	require.NoError(t, idx.Update(ctx, []Entry{{Key: "u", Value: "new"}}))

	got, err := idx.Get("u")
	require.NoError(t, err)
	assert.Equal(t, storage.Bucket{"new"}, got)

	// a sequence replaces the bucket as a whole
	require.NoError(t, idx.Update(ctx, []Entry{{Key: "u", Value: []any{"a", "b"}}}))
	got, err = idx.Get("u")
	require.NoError(t, err)
	assert.Equal(t, storage.Bucket{"a", "b"}, got)
}

func TestInvalidKeys(t *testing.T) {
	idx, err := Initialize(ctx, memory.NewMemoryDB(nil), 2, nil, nil)
	require.NoError(t, err)

	for _, key := range []string{"u", "u12", "ua", PropertiesKey} {
		err := idx.Update(ctx, []Entry{{Key: key, Value: 1}})
		assert.ErrorIs(t, err, common.ErrInvalidArgument, "key %q", key)
		err = idx.Append(ctx, []Entry{{Key: key, Value: 1}})
		assert.ErrorIs(t, err, common.ErrInvalidArgument, "key %q", key)
	}

	_, err = idx.Get(PropertiesKey)
	assert.ErrorIs(t, err, common.ErrInvalidArgument)
}

func TestBoxOrder(t *testing.T) {
	idx, err := Initialize(ctx, memory.NewMemoryDB(nil), 1, nil, nil)
	require.NoError(t, err)

	cells, err := geohash.Engine{}.AllCells(1)
	require.NoError(t, err)

	entries := make([]Entry, len(cells))
	for i, cell := range cells {
		entries[i] = Entry{Key: cell, Value: cell}
	}
	require.NoError(t, idx.Update(ctx, entries))

	buckets, err := idx.Box(geohash.WholeEarth())
	require.NoError(t, err)
	require.Len(t, buckets, len(cells))
	for i, cell := range cells {
		assert.Equal(t, storage.Bucket{cell}, buckets[i])
	}

	// grouping is kept, Flatten merges
	box := geohash.Box{Min: geohash.Point{Lng: 1, Lat: -10}, Max: geohash.Point{Lng: 50, Lat: 10}}
	buckets, err = idx.Box(box)
	require.NoError(t, err)
	assert.Equal(t, []storage.Bucket{{"k"}, {"m"}, {"s"}, {"t"}}, buckets)
	assert.Equal(t, []any{"k", "m", "s", "t"}, Flatten(buckets))
}

func TestFlatten(t *testing.T) {
	assert.Equal(t, []any{}, Flatten(nil))
	assert.Equal(t, []any{1, 2, 2}, Flatten([]storage.Bucket{{1}, {}, {2, 2}}))
}

func TestSynchronizer(t *testing.T) {
	sync := newCountingSync()
	idx, err := Initialize(ctx, memory.NewMemoryDB(nil), 1, nil, sync)
	require.NoError(t, err)
	assert.Equal(t, 1, sync.acquired)

	require.NoError(t, idx.Update(ctx, []Entry{{Key: "u", Value: 1}, {Key: "v", Value: 2}}))
	require.NoError(t, idx.Append(ctx, []Entry{{Key: "u", Value: 1}, {Key: "v", Value: 2}}))
	assert.Equal(t, 3, sync.acquired, "one critical section per batch")
	assert.Equal(t, 3, sync.released)

	_, err = idx.Box(geohash.WholeEarth())
	require.NoError(t, err)
	assert.Equal(t, 3, sync.acquired, "reads do not lock")
}

func TestProcessSynchronizer(t *testing.T) {
	lockFile := filepath.Join(t.TempDir(), "index.lock")
	sync := lockmgr.NewProcessSynchronizer(lockFile, nil)

	idx, err := Initialize(ctx, memory.NewMemoryDB(nil), 1, nil, sync)
	require.NoError(t, err)
	require.NoError(t, idx.Append(ctx, []Entry{{Key: "u", Value: 1}}))
	assert.NoFileExists(t, lockFile)
}

func TestReadOnlyBackend(t *testing.T) {
	path := filepath.Join(t.TempDir(), "index.db")
	writer, err := sqlite.Open(path, nil)
	require.NoError(t, err)
	_, err = Initialize(ctx, writer, 1, nil, nil)
	require.NoError(t, err)
	require.NoError(t, writer.Close())

	reader, err := sqlite.Open(path, &sqlite.Options{ReadOnly: true})
	require.NoError(t, err)
	defer reader.Close()

	sync := newCountingSync()
	idx, err := Open(reader, sync)
	require.NoError(t, err)

	assert.ErrorIs(t, idx.Update(ctx, []Entry{{Key: "u", Value: 1}}), common.ErrUnsupportedOperation)
	assert.ErrorIs(t, idx.Append(ctx, []Entry{{Key: "u", Value: 1}}), common.ErrUnsupportedOperation)
	assert.Equal(t, 0, sync.acquired, "the synchronizer must not be touched")

	_, err = Initialize(ctx, reader, 1, nil, nil)
	assert.ErrorIs(t, err, common.ErrUnsupportedOperation)

	buckets, err := idx.Box(geohash.WholeEarth())
	require.NoError(t, err)
	assert.Len(t, buckets, 32)
}

func TestSnapshotReader(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "store")
	backend, err := pebble.Open(dir, nil)
	require.NoError(t, err)
	defer backend.Close()

	writer, err := Initialize(ctx, backend, 1, nil, nil)
	require.NoError(t, err)
	require.NoError(t, writer.Append(ctx, []Entry{{Key: "u", Value: "Berlin"}}))

	snap, err := pebble.OpenSnapshot(dir, nil)
	require.NoError(t, err)
	defer snap.Close()

	reader, err := Open(snap, nil)
	require.NoError(t, err)

	got, err := reader.Get("u")
	require.NoError(t, err)
	assert.Equal(t, storage.Bucket{"Berlin"}, got)

	assert.ErrorIs(t, reader.Append(ctx, []Entry{{Key: "u", Value: "Paris"}}), common.ErrUnsupportedOperation)
}

// fixedEngine returns the same two cells for every query
type fixedEngine struct{}

func (fixedEngine) AllCells(int) ([]string, error) { return []string{"a", "b"}, nil }
func (fixedEngine) CellsForBox(geohash.Box, int) ([]string, error) {
	return []string{"b", "a"}, nil
}

func TestCustomEngine(t *testing.T) {
	backend := memory.NewMemoryDB(nil)
	idx, err := Initialize(ctx, backend, 1, nil, nil, WithCellEngine(fixedEngine{}))
	require.NoError(t, err)

	n, err := idx.Len()
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	// no validator, any key is accepted
	require.NoError(t, idx.Update(ctx, []Entry{{Key: "a", Value: 1}, {Key: "b", Value: 2}}))

	buckets, err := idx.Box(geohash.WholeEarth())
	require.NoError(t, err)
	assert.Equal(t, []storage.Bucket{{int64(2)}, {int64(1)}}, buckets)

	reopened, err := Open(backend, nil, WithCellEngine(fixedEngine{}))
	require.NoError(t, err)
	assert.Equal(t, 1, reopened.Precision())
}

func TestMetrics(t *testing.T) {
	idx, err := Initialize(ctx, memory.NewMemoryDB(nil), 1, nil, nil)
	require.NoError(t, err)

	require.NoError(t, idx.Append(ctx, []Entry{{Key: "u", Value: 1}, {Key: "v", Value: 2}}))
	_, err = idx.Box(geohash.WholeEarth())
	require.NoError(t, err)
	_ = idx.Update(ctx, []Entry{{Key: "invalid", Value: 1}})

	var buf bytes.Buffer
	idx.WriteMetrics(&buf)
	out := buf.String()

	assert.Contains(t, out, `geokv_index_appends_total{backend="memory"} 1`)
	assert.Contains(t, out, `geokv_index_updates_total{backend="memory"} 1`)
	assert.Contains(t, out, `geokv_index_buckets_written_total{backend="memory"} 2`)
	assert.Contains(t, out, `geokv_index_box_queries_total{backend="memory"} 1`)
	assert.Contains(t, out, `geokv_index_box_cells_total{backend="memory"} 32`)
	assert.Contains(t, out, `geokv_index_errors_total{backend="memory"} 1`)
	assert.Contains(t, out, `geokv_index_box_duration_seconds_bucket`)
}
