package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSizeStats(t *testing.T) {
	s := NewSizeStats()
	assert.Equal(t, Stats{}, s.Summary())

	s.Record(10)
	s.Record(30)

	sum := s.Summary()
	assert.Equal(t, int64(2), sum.Writes)
	assert.Equal(t, int64(40), sum.BytesWritten)
	assert.Equal(t, int64(10), sum.Min)
	assert.Equal(t, int64(30), sum.Max)
	assert.InDelta(t, 20.0, sum.Mean, 0.001)
}

func TestFeatures(t *testing.T) {
	set := FeaturePersistent | FeatureWrite
	assert.Equal(t, []Feature{FeaturePersistent, FeatureWrite}, set.Features())
	assert.Equal(t, "NativeWriteLock", FeatureNativeWriteLock.String())
	assert.Equal(t, "Unknown", Feature(0).String())
}

func TestNormalize(t *testing.T) {
	assert.Equal(t, Bucket{int64(1)}, Normalize(int64(1)))
	assert.Equal(t, Bucket{"a", "b"}, Normalize([]any{"a", "b"}))
	assert.Equal(t, Bucket{nil}, Normalize(nil))
}
