package testing

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"

	"github.com/ValentinKolb/geoKV/lib/codec"
	"github.com/ValentinKolb/geoKV/lib/common"
	"github.com/ValentinKolb/geoKV/lib/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// BackendFactory creates a new, empty and writable backend. Implementations
// that need a directory should use t.TempDir().
type BackendFactory func(t testing.TB) storage.Backend

// OpenFunc opens a persistent backend stored at dir.
type OpenFunc func(dir string) (storage.Backend, error)

// RunBackendTests runs the conformance suite for a Backend implementation.
func RunBackendTests(t *testing.T, name string, factory BackendFactory) {
	t.Run(name, func(t *testing.T) {
		t.Run("Set&Get", func(t *testing.T) {
			testSetGet(t, factory(t))
		})

		t.Run("Values", func(t *testing.T) {
			testValueTypes(t, factory(t))
		})

		t.Run("Update", func(t *testing.T) {
			testUpdate(t, factory(t))
		})

		t.Run("Extend", func(t *testing.T) {
			testExtend(t, factory(t))
		})

		t.Run("Delete", func(t *testing.T) {
			testDelete(t, factory(t))
		})

		t.Run("Contains", func(t *testing.T) {
			testContains(t, factory(t))
		})

		t.Run("KeysValuesLen", func(t *testing.T) {
			testKeysValuesLen(t, factory(t))
		})

		t.Run("Clear", func(t *testing.T) {
			testClear(t, factory(t))
		})

		t.Run("WithCodec", func(t *testing.T) {
			testWithCodec(t, factory(t))
		})

		t.Run("Info", func(t *testing.T) {
			testInfo(t, factory(t))
		})

		t.Run("ConcurrentReads", func(t *testing.T) {
			testConcurrentReads(t, factory(t))
		})

		t.Run("RealisticUsage", func(t *testing.T) {
			testRealisticUsage(t, factory(t))
		})
	})
}

// RunPersistenceTests checks that buckets survive Close for persistent
// implementations.
func RunPersistenceTests(t *testing.T, name string, open OpenFunc) {
	t.Run(name, func(t *testing.T) {
		dir := t.TempDir()

		backend, err := open(dir)
		require.NoError(t, err)
		requireFeature(t, backend, storage.FeaturePersistent)

		require.NoError(t, backend.Update([]storage.Item{
			{Key: "a", Values: storage.Bucket{"x", int64(1)}},
			{Key: "b", Values: storage.Bucket{}},
		}))
		require.NoError(t, backend.Extend([]storage.Item{{Key: "b", Values: storage.Bucket{true}}}))
		require.NoError(t, backend.Close())

		backend, err = open(dir)
		require.NoError(t, err)
		defer backend.Close()

		n, err := backend.Len()
		require.NoError(t, err)
		assert.Equal(t, 2, n)

		got, err := backend.Get("a")
		require.NoError(t, err)
		assert.Equal(t, storage.Bucket{"x", int64(1)}, got)

		got, err = backend.Get("b")
		require.NoError(t, err)
		assert.Equal(t, storage.Bucket{true}, got)
	})
}

// RunReadOnlyTests checks that a read-only handle serves reads and rejects
// every mutation with common.ErrUnsupportedOperation. open must return a
// writable backend, openReadOnly a read-only one for the same directory.
func RunReadOnlyTests(t *testing.T, name string, open OpenFunc, openReadOnly OpenFunc) {
	t.Run(name, func(t *testing.T) {
		dir := t.TempDir()

		writer, err := open(dir)
		require.NoError(t, err)
		require.NoError(t, writer.Set("k", storage.Bucket{"v"}))
		require.NoError(t, writer.Close())

		reader, err := openReadOnly(dir)
		require.NoError(t, err)
		defer reader.Close()

		assert.False(t, reader.SupportsFeature(storage.FeatureWrite))

		got, err := reader.Get("k")
		require.NoError(t, err)
		assert.Equal(t, storage.Bucket{"v"}, got)

		AssertMutationsRejected(t, reader)

		// nothing changed
		got, err = reader.Get("k")
		require.NoError(t, err)
		assert.Equal(t, storage.Bucket{"v"}, got)
	})
}

// AssertMutationsRejected checks that every mutating operation of b fails
// with common.ErrUnsupportedOperation.
func AssertMutationsRejected(t testing.TB, b storage.Backend) {
	items := []storage.Item{{Key: "k", Values: storage.Bucket{"w"}}}

	assert.ErrorIs(t, b.Set("k", storage.Bucket{"w"}), common.ErrUnsupportedOperation, "Set")
	assert.ErrorIs(t, b.Update(items), common.ErrUnsupportedOperation, "Update")
	assert.ErrorIs(t, b.Extend(items), common.ErrUnsupportedOperation, "Extend")
	assert.ErrorIs(t, b.Delete("k"), common.ErrUnsupportedOperation, "Delete")
	assert.ErrorIs(t, b.Clear(), common.ErrUnsupportedOperation, "Clear")
}

// --------------------------------------------------------------------------
// Helper functions
// --------------------------------------------------------------------------

// Checks if the backend supports the specified feature
// Skip the test if it is not supported
func requireFeature(t testing.TB, backend storage.Backend, feature storage.Feature) {
	if !backend.SupportsFeature(feature) {
		t.Skip()
	}
}

func closeBackend(t testing.TB, backend storage.Backend) {
	if err := backend.Close(); err != nil {
		t.Errorf("Close failed: %v", err)
	}
}

// --------------------------------------------------------------------------
// Test functions
// --------------------------------------------------------------------------

func testSetGet(t *testing.T, backend storage.Backend) {
	defer closeBackend(t, backend)
	requireFeature(t, backend, storage.FeatureWrite)

	got, err := backend.Get("absent")
	require.NoError(t, err)
	assert.Empty(t, got, "absent key must read as an empty bucket")

	require.NoError(t, backend.Set("key", storage.Bucket{"v1"}))
	got, err = backend.Get("key")
	require.NoError(t, err)
	assert.Equal(t, storage.Bucket{"v1"}, got)

	require.NoError(t, backend.Set("key", storage.Bucket{"v2", "v3"}))
	got, err = backend.Get("key")
	require.NoError(t, err)
	assert.Equal(t, storage.Bucket{"v2", "v3"}, got)

	// an empty bucket is a written bucket
	require.NoError(t, backend.Set("empty", storage.Bucket{}))
	ok, err := backend.Contains("empty")
	require.NoError(t, err)
	assert.True(t, ok)

	// returned buckets are copies
	got[0] = "changed"
	again, err := backend.Get("key")
	require.NoError(t, err)
	assert.Equal(t, storage.Bucket{"v2", "v3"}, again)
}

func testValueTypes(t *testing.T, backend storage.Backend) {
	defer closeBackend(t, backend)
	requireFeature(t, backend, storage.FeatureWrite)

	values := storage.Bucket{
		nil,
		true,
		int64(-42),
		uint64(1 << 40),
		3.25,
		"text",
		[]byte{0x00, 0xff},
		[]any{int64(1), "nested"},
		map[string]any{"name": "Berlin", "pop": int64(3_700_000)},
	}

	require.NoError(t, backend.Set("mixed", values))
	got, err := backend.Get("mixed")
	require.NoError(t, err)
	assert.Equal(t, values, got)
}

func testUpdate(t *testing.T, backend storage.Backend) {
	defer closeBackend(t, backend)
	requireFeature(t, backend, storage.FeatureWrite)

	require.NoError(t, backend.Set("a", storage.Bucket{"old"}))
	require.NoError(t, backend.Update([]storage.Item{
		{Key: "a", Values: storage.Bucket{"new"}},
		{Key: "b", Values: storage.Bucket{int64(1), int64(2)}},
		{Key: "b", Values: storage.Bucket{int64(3)}}, // later items win
	}))

	got, err := backend.Get("a")
	require.NoError(t, err)
	assert.Equal(t, storage.Bucket{"new"}, got)

	got, err = backend.Get("b")
	require.NoError(t, err)
	assert.Equal(t, storage.Bucket{int64(3)}, got)

	require.NoError(t, backend.Update(nil))
}

func testExtend(t *testing.T, backend storage.Backend) {
	defer closeBackend(t, backend)
	requireFeature(t, backend, storage.FeatureWrite)

	require.NoError(t, backend.Set("a", storage.Bucket{int64(1)}))
	require.NoError(t, backend.Extend([]storage.Item{
		{Key: "a", Values: storage.Bucket{int64(2)}},
		{Key: "fresh", Values: storage.Bucket{"x"}},
		{Key: "a", Values: storage.Bucket{int64(3), int64(4)}},
	}))

	got, err := backend.Get("a")
	require.NoError(t, err)
	assert.Equal(t, storage.Bucket{int64(1), int64(2), int64(3), int64(4)}, got)

	got, err = backend.Get("fresh")
	require.NoError(t, err)
	assert.Equal(t, storage.Bucket{"x"}, got)

	// duplicates are kept
	require.NoError(t, backend.Extend([]storage.Item{{Key: "fresh", Values: storage.Bucket{"x"}}}))
	got, err = backend.Get("fresh")
	require.NoError(t, err)
	assert.Equal(t, storage.Bucket{"x", "x"}, got)
}

func testDelete(t *testing.T, backend storage.Backend) {
	defer closeBackend(t, backend)
	requireFeature(t, backend, storage.FeatureWrite)

	require.NoError(t, backend.Set("key", storage.Bucket{"v"}))
	require.NoError(t, backend.Delete("key"))

	ok, err := backend.Contains("key")
	require.NoError(t, err)
	assert.False(t, ok, "Expected key to not exist after Delete")

	err = backend.Delete("key")
	assert.ErrorIs(t, err, common.ErrKeyNotFound)
	assert.Equal(t, common.RetCKeyNotFound, common.Code(err))
}

func testContains(t *testing.T, backend storage.Backend) {
	defer closeBackend(t, backend)
	requireFeature(t, backend, storage.FeatureWrite)

	ok, err := backend.Contains("key")
	require.NoError(t, err)
	assert.False(t, ok)

	// Get does not create buckets
	_, err = backend.Get("key")
	require.NoError(t, err)
	ok, err = backend.Contains("key")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, backend.Extend([]storage.Item{{Key: "key", Values: storage.Bucket{}}}))
	ok, err = backend.Contains("key")
	require.NoError(t, err)
	assert.True(t, ok)
}

func testKeysValuesLen(t *testing.T, backend storage.Backend) {
	defer closeBackend(t, backend)
	requireFeature(t, backend, storage.FeatureWrite)

	n, err := backend.Len()
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	items := make([]storage.Item, 0, 50)
	for i := 0; i < 50; i++ {
		items = append(items, storage.Item{
			Key:    fmt.Sprintf("key-%02d", i),
			Values: storage.Bucket{int64(i)},
		})
	}
	require.NoError(t, backend.Update(items))

	n, err = backend.Len()
	require.NoError(t, err)
	assert.Equal(t, 50, n)

	keys, err := backend.Keys()
	require.NoError(t, err)
	require.Len(t, keys, 50)

	// Values(nil) follows the order of Keys
	all, err := backend.Values(nil)
	require.NoError(t, err)
	require.Len(t, all, 50)
	for i, key := range keys {
		var idx int64
		_, err := fmt.Sscanf(key, "key-%d", &idx)
		require.NoError(t, err)
		assert.Equal(t, storage.Bucket{idx}, all[i], "bucket of %s", key)
	}

	sorted := append([]string(nil), keys...)
	sort.Strings(sorted)
	assert.Equal(t, "key-00", sorted[0])
	assert.Equal(t, "key-49", sorted[49])

	// explicit keys keep the requested order, absent keys read empty
	some, err := backend.Values([]string{"key-07", "absent", "key-03"})
	require.NoError(t, err)
	require.Len(t, some, 3)
	assert.Equal(t, storage.Bucket{int64(7)}, some[0])
	assert.Empty(t, some[1])
	assert.Equal(t, storage.Bucket{int64(3)}, some[2])
}

func testClear(t *testing.T, backend storage.Backend) {
	defer closeBackend(t, backend)
	requireFeature(t, backend, storage.FeatureWrite)

	require.NoError(t, backend.Update([]storage.Item{
		{Key: "a", Values: storage.Bucket{"1"}},
		{Key: "b", Values: storage.Bucket{"2"}},
	}))
	require.NoError(t, backend.Clear())

	n, err := backend.Len()
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	keys, err := backend.Keys()
	require.NoError(t, err)
	assert.Empty(t, keys)

	// usable after Clear
	require.NoError(t, backend.Set("c", storage.Bucket{"3"}))
	n, err = backend.Len()
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func testWithCodec(t *testing.T, backend storage.Backend) {
	defer closeBackend(t, backend)
	requireFeature(t, backend, storage.FeatureWrite)

	zstd, err := codec.NewZstd(3)
	require.NoError(t, err)
	compressed := backend.WithCodec(codec.New(zstd))

	values := storage.Bucket{"compressed", int64(7)}
	require.NoError(t, compressed.Set("z", values))

	// frames are self-describing, so every view decodes every bucket
	got, err := backend.Get("z")
	require.NoError(t, err)
	assert.Equal(t, values, got)

	require.NoError(t, backend.Set("plain", storage.Bucket{"p"}))
	got, err = compressed.Get("plain")
	require.NoError(t, err)
	assert.Equal(t, storage.Bucket{"p"}, got)

	// views share the storage
	n, err := compressed.Len()
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func testInfo(t *testing.T, backend storage.Backend) {
	defer closeBackend(t, backend)

	info := backend.GetInfo()
	assert.NotEmpty(t, info.DbType)
	assert.Equal(t, storage.GetFeatures(backend), info.SupportedFeatures)
	assert.GreaterOrEqual(t, info.SizeBytes, 0)

	if backend.SupportsFeature(storage.FeatureWrite) {
		require.NoError(t, backend.Set("k", storage.Bucket{"some value"}))
		stats, ok := backend.GetInfo().Metadata.(storage.Stats)
		if ok {
			assert.Equal(t, int64(1), stats.Writes)
			assert.Greater(t, stats.BytesWritten, int64(0))
		}
	}
}

func testConcurrentReads(t *testing.T, backend storage.Backend) {
	defer closeBackend(t, backend)
	requireFeature(t, backend, storage.FeatureWrite)

	items := make([]storage.Item, 0, 32)
	for i := 0; i < 32; i++ {
		items = append(items, storage.Item{Key: fmt.Sprintf("c%d", i), Values: storage.Bucket{int64(i)}})
	}
	require.NoError(t, backend.Update(items))

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 32; i++ {
				got, err := backend.Get(fmt.Sprintf("c%d", i))
				if err != nil {
					errs <- err
					return
				}
				if len(got) != 1 || got[0] != int64(i) {
					errs <- fmt.Errorf("unexpected bucket for c%d: %v", i, got)
					return
				}
			}
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		t.Error(err)
	}
}

func testRealisticUsage(t *testing.T, backend storage.Backend) {
	defer closeBackend(t, backend)
	requireFeature(t, backend, storage.FeatureWrite)

	cells := []string{"u", "v", "y", "z"}
	empty := make([]storage.Item, len(cells))
	for i, cell := range cells {
		empty[i] = storage.Item{Key: cell, Values: storage.Bucket{}}
	}
	require.NoError(t, backend.Update(empty))

	for round := 0; round < 10; round++ {
		batch := make([]storage.Item, 0, len(cells))
		for _, cell := range cells {
			batch = append(batch, storage.Item{Key: cell, Values: storage.Bucket{int64(round)}})
		}
		require.NoError(t, backend.Extend(batch))
	}

	for _, cell := range cells {
		got, err := backend.Get(cell)
		require.NoError(t, err)
		require.Len(t, got, 10)
		for round, v := range got {
			assert.Equal(t, int64(round), v)
		}
	}

	require.NoError(t, backend.Delete("u"))
	err := backend.Delete("u")
	assert.True(t, errors.Is(err, common.ErrKeyNotFound))

	n, err := backend.Len()
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}
