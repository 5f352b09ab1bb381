package util

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/ValentinKolb/geoKV/lib/common"
	"github.com/ValentinKolb/geoKV/lib/geohash"
	"github.com/ValentinKolb/geoKV/lib/lockmgr"
	"github.com/ValentinKolb/geoKV/lib/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWrapString(t *testing.T) {
	text := strings.Repeat("word ", 30)
	for _, line := range strings.Split(WrapString(text), "\n") {
		assert.LessOrEqual(t, len(line), Wrap)
	}
	assert.Equal(t, "short text", WrapString("  short   text "))
}

func TestParseValue(t *testing.T) {
	assert.Equal(t, float64(1), ParseValue("1"))
	assert.Equal(t, "Berlin", ParseValue(`"Berlin"`))
	assert.Equal(t, "Berlin", ParseValue("Berlin"))
	assert.Equal(t, []any{"a", true}, ParseValue(`["a", true]`))
	assert.Equal(t, map[string]any{"name": "x"}, ParseValue(`{"name": "x"}`))
	assert.Nil(t, ParseValue("null"))
}

func TestParseBox(t *testing.T) {
	box, err := ParseBox("1, -10,50,10")
	require.NoError(t, err)
	assert.Equal(t, geohash.Box{
		Min: geohash.Point{Lng: 1, Lat: -10},
		Max: geohash.Point{Lng: 50, Lat: 10},
	}, box)

	_, err = ParseBox("1,2,3")
	assert.Error(t, err)
	_, err = ParseBox("1,2,3,north")
	assert.Error(t, err)
}

func TestOpenBackend(t *testing.T) {
	dir := t.TempDir()
	for _, impl := range []storage.Implementation{storage.ImplMemory, storage.ImplSQLite, storage.ImplBolt, storage.ImplPebble} {
		conf := &common.IndexConfig{
			Backend:            string(impl),
			Path:               filepath.Join(dir, string(impl)),
			PebbleCacheSizeMiB: 1,
		}
		backend, err := OpenBackend(conf)
		require.NoError(t, err, impl)
		assert.Equal(t, impl, backend.GetInfo().DbType)
		assert.True(t, backend.SupportsFeature(storage.FeatureWrite))
		require.NoError(t, backend.Close())
	}

	_, err := OpenBackend(&common.IndexConfig{Backend: "redis"})
	assert.Error(t, err)

	_, err = OpenBackend(&common.IndexConfig{Backend: "sqlite", Snapshot: true})
	assert.Error(t, err)
}

func TestOpenSnapshotBackend(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "store")
	writer, err := OpenBackend(&common.IndexConfig{Backend: "pebble", Path: dir})
	require.NoError(t, err)
	defer writer.Close()
	require.NoError(t, writer.Set("u", storage.Bucket{"x"}))

	reader, err := OpenBackend(&common.IndexConfig{Backend: "pebble", Path: dir, Snapshot: true})
	require.NoError(t, err)
	defer reader.Close()

	got, err := reader.Get("u")
	require.NoError(t, err)
	assert.Equal(t, storage.Bucket{"x"}, got)
	assert.False(t, reader.SupportsFeature(storage.FeatureWrite))
}

func TestGetSynchronizer(t *testing.T) {
	_, ok := GetSynchronizer(&common.IndexConfig{}).(*lockmgr.ThreadSynchronizer)
	assert.True(t, ok)

	path := filepath.Join(t.TempDir(), "lock")
	s, ok := GetSynchronizer(&common.IndexConfig{LockFile: path}).(*lockmgr.ProcessSynchronizer)
	require.True(t, ok)
	assert.Equal(t, path, s.Path())
}
