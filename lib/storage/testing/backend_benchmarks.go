package testing

import (
	"fmt"
	"math/rand"
	"testing"

	"github.com/ValentinKolb/geoKV/lib/storage"
)

// RunBackendBenchmarks runs all benchmarks for a Backend implementation
func RunBackendBenchmarks(b *testing.B, name string, factory BackendFactory) {
	b.Run(name, func(b *testing.B) {
		b.Run("Set", func(b *testing.B) {
			benchmarkSet(b, factory(b))
		})

		b.Run("Get", func(b *testing.B) {
			benchmarkGet(b, factory(b))
		})

		b.Run("Extend", func(b *testing.B) {
			benchmarkExtend(b, factory(b))
		})

		b.Run("UpdateBatch", func(b *testing.B) {
			benchmarkUpdateBatch(b, factory(b))
		})

		b.Run("Values", func(b *testing.B) {
			benchmarkValues(b, factory(b))
		})
	})
}

// --------------------------------------------------------------------------
// Benchmark functions
// --------------------------------------------------------------------------

const benchKeys = 1024

func benchKey(i int) string {
	return fmt.Sprintf("cell-%04d", i%benchKeys)
}

func fill(b *testing.B, backend storage.Backend) {
	items := make([]storage.Item, benchKeys)
	for i := range items {
		items[i] = storage.Item{Key: benchKey(i), Values: storage.Bucket{int64(i), "payload"}}
	}
	if err := backend.Update(items); err != nil {
		b.Fatalf("fill failed: %v", err)
	}
}

func benchmarkSet(b *testing.B, backend storage.Backend) {
	defer backend.Close()

	values := storage.Bucket{int64(1), "payload", 3.5}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if err := backend.Set(benchKey(i), values); err != nil {
			b.Fatal(err)
		}
	}
}

func benchmarkGet(b *testing.B, backend storage.Backend) {
	defer backend.Close()
	fill(b, backend)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := backend.Get(benchKey(rand.Intn(benchKeys))); err != nil {
			b.Fatal(err)
		}
	}
}

func benchmarkExtend(b *testing.B, backend storage.Backend) {
	defer backend.Close()
	fill(b, backend)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		// rotate keys so buckets stay small
		item := storage.Item{Key: benchKey(i), Values: storage.Bucket{int64(i)}}
		if i%benchKeys == 0 {
			if err := backend.Clear(); err != nil {
				b.Fatal(err)
			}
		}
		if err := backend.Extend([]storage.Item{item}); err != nil {
			b.Fatal(err)
		}
	}
}

func benchmarkUpdateBatch(b *testing.B, backend storage.Backend) {
	defer backend.Close()

	items := make([]storage.Item, 64)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		for j := range items {
			items[j] = storage.Item{Key: benchKey(i*64 + j), Values: storage.Bucket{int64(j)}}
		}
		if err := backend.Update(items); err != nil {
			b.Fatal(err)
		}
	}
}

func benchmarkValues(b *testing.B, backend storage.Backend) {
	defer backend.Close()
	fill(b, backend)

	keys := make([]string, 32)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		for j := range keys {
			keys[j] = benchKey(rand.Intn(benchKeys))
		}
		if _, err := backend.Values(keys); err != nil {
			b.Fatal(err)
		}
	}
}
