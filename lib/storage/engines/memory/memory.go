package memory

import (
	"github.com/ValentinKolb/geoKV/lib/codec"
	"github.com/ValentinKolb/geoKV/lib/storage"
	"github.com/puzpuzpuz/xsync/v3"
)

// --------------------------------------------------------------------------
// Core memory backend structure
// --------------------------------------------------------------------------

// state is shared by all codec views of one backend
type state struct {
	data  *xsync.MapOf[string, []byte] // key -> encoded bucket
	stats *storage.SizeStats
}

// memoryDB keeps encoded buckets in a concurrent hash map. Data is transient
// and lost on Close.
type memoryDB struct {
	*state
	codec *codec.Codec
}

const features = storage.FeatureWrite

// NewMemoryDB creates an empty in-memory backend encoding with c
// (nil = codec.Default()).
//
// Update and Extend apply item by item: each key is written atomically, but
// a reader may observe a batch half applied.
func NewMemoryDB(c *codec.Codec) storage.Backend {
	if c == nil {
		c = codec.Default()
	}
	return &memoryDB{
		state: &state{
			data:  xsync.NewMapOf[string, []byte](),
			stats: storage.NewSizeStats(),
		},
		codec: c,
	}
}

// --------------------------------------------------------------------------
// Write Operations
// --------------------------------------------------------------------------

func (m *memoryDB) Set(key string, values storage.Bucket) error {
	return m.Update([]storage.Item{{Key: key, Values: values}})
}

func (m *memoryDB) Update(items []storage.Item) error {
	frames, err := storage.EncodeItems(m.codec, m.stats, items)
	if err != nil {
		return err
	}
	for i, item := range items {
		m.data.Store(item.Key, frames[i])
	}
	return nil
}

func (m *memoryDB) Extend(items []storage.Item) error {
	for _, item := range items {
		var extendErr error
		m.data.Compute(item.Key, func(old []byte, loaded bool) ([]byte, bool) {
			frame, err := storage.ExtendFrame(m.codec, old, item.Values)
			if err != nil {
				extendErr = err
				// keep the old bucket, or insert nothing
				return old, !loaded
			}
			m.stats.Record(len(frame))
			return frame, false
		})
		if extendErr != nil {
			return extendErr
		}
	}
	return nil
}

func (m *memoryDB) Delete(key string) error {
	if _, ok := m.data.LoadAndDelete(key); !ok {
		return storage.KeyNotFoundError(key)
	}
	return nil
}

func (m *memoryDB) Clear() error {
	m.data.Clear()
	return nil
}

// --------------------------------------------------------------------------
// Query Operations
// --------------------------------------------------------------------------

func (m *memoryDB) Contains(key string) (bool, error) {
	_, ok := m.data.Load(key)
	return ok, nil
}

func (m *memoryDB) Get(key string) (storage.Bucket, error) {
	frame, _ := m.data.Load(key)
	return storage.DecodeFrame(m.codec, frame)
}

func (m *memoryDB) Keys() ([]string, error) {
	keys := make([]string, 0, m.data.Size())
	m.data.Range(func(key string, _ []byte) bool {
		keys = append(keys, key)
		return true
	})
	return keys, nil
}

func (m *memoryDB) Values(keys []string) ([]storage.Bucket, error) {
	if keys == nil {
		return m.all()
	}
	buckets := make([]storage.Bucket, len(keys))
	for i, key := range keys {
		bucket, err := m.Get(key)
		if err != nil {
			return nil, err
		}
		buckets[i] = bucket
	}
	return buckets, nil
}

// all decodes every bucket in a single pass, so keys and buckets stay aligned
func (m *memoryDB) all() ([]storage.Bucket, error) {
	var (
		buckets = make([]storage.Bucket, 0, m.data.Size())
		err     error
	)
	m.data.Range(func(_ string, frame []byte) bool {
		var bucket storage.Bucket
		bucket, err = storage.DecodeFrame(m.codec, frame)
		buckets = append(buckets, bucket)
		return err == nil
	})
	if err != nil {
		return nil, err
	}
	return buckets, nil
}

func (m *memoryDB) Len() (int, error) {
	return m.data.Size(), nil
}

// --------------------------------------------------------------------------
// Feature Support
// --------------------------------------------------------------------------

func (m *memoryDB) SupportsFeature(feature storage.Feature) bool {
	return features&feature == feature
}

func (m *memoryDB) GetInfo() storage.DatabaseInfo {
	size := 0
	m.data.Range(func(key string, frame []byte) bool {
		size += len(key) + len(frame)
		return true
	})
	return storage.DatabaseInfo{
		SizeBytes:         size,
		DbType:            storage.ImplMemory,
		SupportedFeatures: storage.GetFeatures(m),
		Metadata:          m.stats.Summary(),
	}
}

// --------------------------------------------------------------------------
// Lifecycle
// --------------------------------------------------------------------------

func (m *memoryDB) WithCodec(c *codec.Codec) storage.Backend {
	return &memoryDB{state: m.state, codec: c}
}

func (m *memoryDB) Close() error {
	m.data.Clear()
	return nil
}
