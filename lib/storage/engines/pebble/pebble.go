package pebble

import (
	"errors"
	"io"
	"os"
	"strings"
	"sync/atomic"
	"syscall"

	"github.com/ValentinKolb/geoKV/lib/codec"
	"github.com/ValentinKolb/geoKV/lib/common"
	"github.com/ValentinKolb/geoKV/lib/storage"
	"github.com/cockroachdb/pebble"
	"github.com/lni/dragonboat/v4/logger"
)

// --------------------------------------------------------------------------
// Constants
// --------------------------------------------------------------------------

const (
	// LockFile is the name of pebble's native lock file inside the directory
	LockFile = "LOCK"

	defaultCacheSize = 8 << 20
)

var log = logger.GetLogger(common.LoggerStorage)

// --------------------------------------------------------------------------
// Core pebble backend structure
// --------------------------------------------------------------------------

type state struct {
	db       *pebble.DB
	dir      string
	features storage.Feature
	stats    *storage.SizeStats
	closed   atomic.Bool
}

// pebbleDB stores buckets in a pebble LSM tree, one pebble key per bucket.
type pebbleDB struct {
	*state
	codec *codec.Codec
}

// Options configures the pebble backend
type Options struct {
	// ReadOnly opens the directory without accepting mutations. Pebble still
	// takes its directory lock, so this does not allow reading next to a
	// writer; use OpenSnapshot for that.
	ReadOnly  bool
	CacheSize int64        // Block cache size in bytes (0 = 8 MiB)
	Codec     *codec.Codec // nil = codec.Default()
}

// pebbleLogger forwards pebble's log output to the storage logger
type pebbleLogger struct {
	log logger.ILogger
}

func (l pebbleLogger) Infof(format string, args ...interface{})  { l.log.Debugf(format, args...) }
func (l pebbleLogger) Fatalf(format string, args ...interface{}) { l.log.Panicf(format, args...) }

// Open opens (or creates) the pebble store in dir.
//
// Pebble locks dir exclusively through its LOCK file. A second open of the
// same directory, from this or another process, fails with common.ErrLock.
// Update and Extend commit one synced batch each.
func Open(dir string, opts *Options) (storage.Backend, error) {
	if opts == nil {
		opts = &Options{}
	}
	if opts.CacheSize <= 0 {
		opts.CacheSize = defaultCacheSize
	}
	if opts.Codec == nil {
		opts.Codec = codec.Default()
	}

	cache := pebble.NewCache(opts.CacheSize)
	defer cache.Unref()

	db, err := pebble.Open(dir, &pebble.Options{
		Cache:    cache,
		ReadOnly: opts.ReadOnly,
		Logger:   pebbleLogger{log: log},
	})
	if err != nil {
		return nil, convertErr(err, "open %s", dir)
	}

	features := storage.FeaturePersistent | storage.FeatureNativeWriteLock |
		storage.FeatureAtomicBatch | storage.FeatureAtomicExtend
	if !opts.ReadOnly {
		features |= storage.FeatureWrite
	}

	log.Debugf("opened pebble backend %s (read-only: %t)", dir, opts.ReadOnly)

	return &pebbleDB{
		state: &state{
			db:       db,
			dir:      dir,
			features: features,
			stats:    storage.NewSizeStats(),
		},
		codec: opts.Codec,
	}, nil
}

// --------------------------------------------------------------------------
// Helper Functions
// --------------------------------------------------------------------------

// isLockErr detects contention on pebble's LOCK file. Within one process
// pebble reports it itself, across processes fcntl fails with a bare errno.
// File system errors, e.g. an unreadable directory, come as *os.PathError and
// are not lock errors.
func isLockErr(err error) bool {
	if strings.Contains(err.Error(), "lock held by current process") {
		return true
	}
	var pathErr *os.PathError
	if errors.As(err, &pathErr) {
		return false
	}
	var errno syscall.Errno
	if !errors.As(err, &errno) {
		return false
	}
	return errno == syscall.EAGAIN || errno == syscall.EACCES
}

func convertErr(err error, format string, args ...interface{}) error {
	switch {
	case isLockErr(err):
		return common.WrapError(common.RetCLockError, err, format, args...)
	case errors.Is(err, pebble.ErrReadOnly):
		return common.WrapError(common.RetCUnsupportedOperation, err, format, args...)
	}
	return common.WrapError(common.RetCInternalError, err, format, args...)
}

func (p *pebbleDB) checkWrite(op string) error {
	if !p.SupportsFeature(storage.FeatureWrite) {
		return storage.ReadOnlyError(storage.ImplPebble, op)
	}
	return nil
}

// reader is implemented by *pebble.DB and by indexed batches
type reader interface {
	Get(key []byte) ([]byte, io.Closer, error)
}

// getBucket decodes the bucket stored under key, an empty one if absent
func getBucket(r reader, c *codec.Codec, key string) (storage.Bucket, error) {
	value, closer, err := r.Get([]byte(key))
	if errors.Is(err, pebble.ErrNotFound) {
		return storage.DecodeFrame(c, nil)
	}
	if err != nil {
		return nil, convertErr(err, "get %q", key)
	}
	defer closer.Close()

	return c.Decode(value)
}

// scan calls fn for every stored key and frame in key order
func (p *pebbleDB) scan(fn func(key, frame []byte) error) (err error) {
	iter := p.db.NewIter(nil)
	defer func() {
		if closeErr := iter.Close(); closeErr != nil && err == nil {
			err = convertErr(closeErr, "close iterator")
		}
	}()

	for iter.First(); iter.Valid(); iter.Next() {
		if err := fn(iter.Key(), iter.Value()); err != nil {
			return err
		}
	}
	return nil
}

// --------------------------------------------------------------------------
// Write Operations
// --------------------------------------------------------------------------

func (p *pebbleDB) Set(key string, values storage.Bucket) error {
	return p.Update([]storage.Item{{Key: key, Values: values}})
}

func (p *pebbleDB) Update(items []storage.Item) error {
	if err := p.checkWrite("update"); err != nil {
		return err
	}
	frames, err := storage.EncodeItems(p.codec, p.stats, items)
	if err != nil {
		return err
	}

	batch := p.db.NewBatch()
	defer batch.Close()
	for i, item := range items {
		if err := batch.Set([]byte(item.Key), frames[i], nil); err != nil {
			return convertErr(err, "update %q", item.Key)
		}
	}
	if err := batch.Commit(pebble.Sync); err != nil {
		return convertErr(err, "update: commit")
	}
	return nil
}

func (p *pebbleDB) Extend(items []storage.Item) error {
	if err := p.checkWrite("extend"); err != nil {
		return err
	}

	// an indexed batch reads its own writes, so repeated keys accumulate
	batch := p.db.NewIndexedBatch()
	defer batch.Close()
	for _, item := range items {
		current, err := getBucket(batch, p.codec, item.Key)
		if err != nil {
			return err
		}
		frame, err := p.codec.Encode(append(current, item.Values...))
		if err != nil {
			return err
		}
		p.stats.Record(len(frame))
		if err := batch.Set([]byte(item.Key), frame, nil); err != nil {
			return convertErr(err, "extend %q", item.Key)
		}
	}
	if err := batch.Commit(pebble.Sync); err != nil {
		return convertErr(err, "extend: commit")
	}
	return nil
}

func (p *pebbleDB) Delete(key string) error {
	if err := p.checkWrite("delete"); err != nil {
		return err
	}
	ok, err := p.Contains(key)
	if err != nil {
		return err
	}
	if !ok {
		return storage.KeyNotFoundError(key)
	}
	if err := p.db.Delete([]byte(key), pebble.Sync); err != nil {
		return convertErr(err, "delete %q", key)
	}
	return nil
}

func (p *pebbleDB) Clear() error {
	if err := p.checkWrite("clear"); err != nil {
		return err
	}
	batch := p.db.NewBatch()
	defer batch.Close()

	err := p.scan(func(key, _ []byte) error {
		return batch.Delete(key, nil)
	})
	if err != nil {
		return convertErr(err, "clear")
	}
	if err := batch.Commit(pebble.Sync); err != nil {
		return convertErr(err, "clear: commit")
	}
	return nil
}

// --------------------------------------------------------------------------
// Query Operations
// --------------------------------------------------------------------------

func (p *pebbleDB) Contains(key string) (bool, error) {
	_, closer, err := p.db.Get([]byte(key))
	if errors.Is(err, pebble.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, convertErr(err, "contains %q", key)
	}
	return true, closer.Close()
}

func (p *pebbleDB) Get(key string) (storage.Bucket, error) {
	return getBucket(p.db, p.codec, key)
}

func (p *pebbleDB) Keys() ([]string, error) {
	keys := []string{}
	err := p.scan(func(key, _ []byte) error {
		keys = append(keys, string(key))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return keys, nil
}

func (p *pebbleDB) Values(keys []string) ([]storage.Bucket, error) {
	if keys == nil {
		buckets := []storage.Bucket{}
		err := p.scan(func(_, frame []byte) error {
			bucket, err := p.codec.Decode(frame)
			if err != nil {
				return err
			}
			buckets = append(buckets, bucket)
			return nil
		})
		if err != nil {
			return nil, err
		}
		return buckets, nil
	}

	buckets := make([]storage.Bucket, len(keys))
	for i, key := range keys {
		bucket, err := p.Get(key)
		if err != nil {
			return nil, err
		}
		buckets[i] = bucket
	}
	return buckets, nil
}

func (p *pebbleDB) Len() (int, error) {
	n := 0
	err := p.scan(func(_, _ []byte) error {
		n++
		return nil
	})
	return n, err
}

// --------------------------------------------------------------------------
// Feature Support
// --------------------------------------------------------------------------

func (p *pebbleDB) SupportsFeature(feature storage.Feature) bool {
	return p.features&feature == feature
}

func (p *pebbleDB) GetInfo() storage.DatabaseInfo {
	return storage.DatabaseInfo{
		SizeBytes:         int(p.db.Metrics().DiskSpaceUsage()),
		DbType:            storage.ImplPebble,
		SupportedFeatures: storage.GetFeatures(p),
		Metadata:          p.stats.Summary(),
	}
}

// --------------------------------------------------------------------------
// Lifecycle
// --------------------------------------------------------------------------

func (p *pebbleDB) WithCodec(c *codec.Codec) storage.Backend {
	return &pebbleDB{state: p.state, codec: c}
}

// Close flushes the memtable of a writable store and closes it. Closing a
// second time is a no-op.
func (p *pebbleDB) Close() error {
	if !p.closed.CompareAndSwap(false, true) {
		return nil
	}
	if p.SupportsFeature(storage.FeatureWrite) {
		if err := p.db.Flush(); err != nil {
			log.Errorf("flush of %s failed: %v", p.dir, err)
		}
	}
	if err := p.db.Close(); err != nil {
		return convertErr(err, "close %s", p.dir)
	}
	return nil
}
