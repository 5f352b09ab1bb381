package bolt

import (
	"errors"
	"time"

	"github.com/ValentinKolb/geoKV/lib/codec"
	"github.com/ValentinKolb/geoKV/lib/common"
	"github.com/ValentinKolb/geoKV/lib/storage"
	"github.com/lni/dragonboat/v4/logger"
	"go.etcd.io/bbolt"
)

// --------------------------------------------------------------------------
// Constants
// --------------------------------------------------------------------------

const defaultLockTimeout = 10 * time.Millisecond

var (
	bucketName = []byte("cells")
	log        = logger.GetLogger(common.LoggerStorage)
)

// --------------------------------------------------------------------------
// Core bolt backend structure
// --------------------------------------------------------------------------

type state struct {
	db       *bbolt.DB
	features storage.Feature
	stats    *storage.SizeStats
}

// boltDB stores buckets in a single bolt bucket of one database file.
type boltDB struct {
	*state
	codec *codec.Codec
}

// Options configures the bolt backend
type Options struct {
	ReadOnly    bool          // Open with a shared lock, mutations fail
	LockTimeout time.Duration // How long to wait for the file lock (0 = 10ms)
	Codec       *codec.Codec  // nil = codec.Default()
}

// Open opens (or creates) the bolt database file at path.
//
// Bolt holds an exclusive file lock for a writer and a shared one for
// readers. If the lock cannot be taken within LockTimeout, Open fails with
// common.ErrLock. Update, Extend and Clear each run in one transaction.
func Open(path string, opts *Options) (storage.Backend, error) {
	if opts == nil {
		opts = &Options{}
	}
	if opts.LockTimeout <= 0 {
		opts.LockTimeout = defaultLockTimeout
	}
	if opts.Codec == nil {
		opts.Codec = codec.Default()
	}

	db, err := bbolt.Open(path, 0o600, &bbolt.Options{
		Timeout:  opts.LockTimeout,
		ReadOnly: opts.ReadOnly,
	})
	if err != nil {
		return nil, convertErr(err, "open %s", path)
	}

	features := storage.FeaturePersistent | storage.FeatureReadOnlyOpen | storage.FeatureNativeWriteLock |
		storage.FeatureAtomicBatch | storage.FeatureAtomicExtend
	if !opts.ReadOnly {
		features |= storage.FeatureWrite
		err := db.Update(func(tx *bbolt.Tx) error {
			_, err := tx.CreateBucketIfNotExists(bucketName)
			return err
		})
		if err != nil {
			_ = db.Close()
			return nil, convertErr(err, "create bucket in %s", path)
		}
	}

	log.Debugf("opened bolt backend %s (read-only: %t)", path, opts.ReadOnly)

	return &boltDB{
		state: &state{
			db:       db,
			features: features,
			stats:    storage.NewSizeStats(),
		},
		codec: opts.Codec,
	}, nil
}

// --------------------------------------------------------------------------
// Helper Functions
// --------------------------------------------------------------------------

func convertErr(err error, format string, args ...interface{}) error {
	switch {
	case errors.Is(err, bbolt.ErrTimeout):
		return common.WrapError(common.RetCLockError, err, format, args...)
	case errors.Is(err, bbolt.ErrDatabaseReadOnly), errors.Is(err, bbolt.ErrTxNotWritable):
		return common.WrapError(common.RetCUnsupportedOperation, err, format, args...)
	case errors.Is(err, bbolt.ErrKeyRequired), errors.Is(err, bbolt.ErrKeyTooLarge), errors.Is(err, bbolt.ErrValueTooLarge):
		return common.WrapError(common.RetCInvalidArgument, err, format, args...)
	case errors.Is(err, bbolt.ErrInvalid), errors.Is(err, bbolt.ErrChecksum), errors.Is(err, bbolt.ErrVersionMismatch):
		return common.WrapError(common.RetCCorruption, err, format, args...)
	}
	return common.WrapError(common.RetCInternalError, err, format, args...)
}

func (b *boltDB) checkWrite(op string) error {
	if !b.SupportsFeature(storage.FeatureWrite) {
		return storage.ReadOnlyError(storage.ImplBolt, op)
	}
	return nil
}

// view runs fn with the cells bucket, which is nil for a read-only handle on
// a file that was never written.
func (b *boltDB) view(fn func(cells *bbolt.Bucket) error) error {
	return b.db.View(func(tx *bbolt.Tx) error {
		return fn(tx.Bucket(bucketName))
	})
}

func (b *boltDB) update(op string, fn func(cells *bbolt.Bucket) error) error {
	err := b.db.Update(func(tx *bbolt.Tx) error {
		return fn(tx.Bucket(bucketName))
	})
	var geoErr *common.Error
	if err != nil && !errors.As(err, &geoErr) {
		return convertErr(err, "%s", op)
	}
	return err
}

// --------------------------------------------------------------------------
// Write Operations
// --------------------------------------------------------------------------

func (b *boltDB) Set(key string, values storage.Bucket) error {
	return b.Update([]storage.Item{{Key: key, Values: values}})
}

func (b *boltDB) Update(items []storage.Item) error {
	if err := b.checkWrite("update"); err != nil {
		return err
	}
	frames, err := storage.EncodeItems(b.codec, b.stats, items)
	if err != nil {
		return err
	}
	return b.update("update", func(cells *bbolt.Bucket) error {
		for i, item := range items {
			if err := cells.Put([]byte(item.Key), frames[i]); err != nil {
				return err
			}
		}
		return nil
	})
}

func (b *boltDB) Extend(items []storage.Item) error {
	if err := b.checkWrite("extend"); err != nil {
		return err
	}
	return b.update("extend", func(cells *bbolt.Bucket) error {
		for _, item := range items {
			frame, err := storage.ExtendFrame(b.codec, cells.Get([]byte(item.Key)), item.Values)
			if err != nil {
				return err
			}
			b.stats.Record(len(frame))
			if err := cells.Put([]byte(item.Key), frame); err != nil {
				return err
			}
		}
		return nil
	})
}

func (b *boltDB) Delete(key string) error {
	if err := b.checkWrite("delete"); err != nil {
		return err
	}
	return b.update("delete", func(cells *bbolt.Bucket) error {
		if cells.Get([]byte(key)) == nil {
			return storage.KeyNotFoundError(key)
		}
		return cells.Delete([]byte(key))
	})
}

func (b *boltDB) Clear() error {
	if err := b.checkWrite("clear"); err != nil {
		return err
	}
	err := b.db.Update(func(tx *bbolt.Tx) error {
		if err := tx.DeleteBucket(bucketName); err != nil && !errors.Is(err, bbolt.ErrBucketNotFound) {
			return err
		}
		_, err := tx.CreateBucket(bucketName)
		return err
	})
	if err != nil {
		return convertErr(err, "clear")
	}
	return nil
}

// --------------------------------------------------------------------------
// Query Operations
// --------------------------------------------------------------------------

func (b *boltDB) Contains(key string) (ok bool, err error) {
	err = b.view(func(cells *bbolt.Bucket) error {
		ok = cells != nil && cells.Get([]byte(key)) != nil
		return nil
	})
	return ok, err
}

func (b *boltDB) Get(key string) (values storage.Bucket, err error) {
	err = b.view(func(cells *bbolt.Bucket) error {
		var frame []byte
		if cells != nil {
			frame = cells.Get([]byte(key))
		}
		// decode inside the transaction, frame is only valid until it ends
		values, err = storage.DecodeFrame(b.codec, frame)
		return err
	})
	return values, err
}

func (b *boltDB) Keys() (keys []string, err error) {
	err = b.view(func(cells *bbolt.Bucket) error {
		if cells == nil {
			return nil
		}
		keys = make([]string, 0, cells.Stats().KeyN)
		return cells.ForEach(func(k, _ []byte) error {
			keys = append(keys, string(k))
			return nil
		})
	})
	return keys, err
}

func (b *boltDB) Values(keys []string) (buckets []storage.Bucket, err error) {
	err = b.view(func(cells *bbolt.Bucket) error {
		if keys == nil {
			if cells == nil {
				return nil
			}
			return cells.ForEach(func(_, frame []byte) error {
				bucket, err := b.codec.Decode(frame)
				buckets = append(buckets, bucket)
				return err
			})
		}

		buckets = make([]storage.Bucket, len(keys))
		for i, key := range keys {
			var frame []byte
			if cells != nil {
				frame = cells.Get([]byte(key))
			}
			bucket, err := storage.DecodeFrame(b.codec, frame)
			if err != nil {
				return err
			}
			buckets[i] = bucket
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if buckets == nil {
		buckets = []storage.Bucket{}
	}
	return buckets, nil
}

func (b *boltDB) Len() (n int, err error) {
	err = b.view(func(cells *bbolt.Bucket) error {
		if cells != nil {
			n = cells.Stats().KeyN
		}
		return nil
	})
	return n, err
}

// --------------------------------------------------------------------------
// Feature Support
// --------------------------------------------------------------------------

func (b *boltDB) SupportsFeature(feature storage.Feature) bool {
	return b.features&feature == feature
}

func (b *boltDB) GetInfo() storage.DatabaseInfo {
	var size int
	if err := b.db.View(func(tx *bbolt.Tx) error {
		size = int(tx.Size())
		return nil
	}); err != nil {
		log.Warningf("size query on %s failed: %v", b.db.Path(), err)
	}
	return storage.DatabaseInfo{
		SizeBytes:         size,
		DbType:            storage.ImplBolt,
		SupportedFeatures: storage.GetFeatures(b),
		Metadata:          b.stats.Summary(),
	}
}

// --------------------------------------------------------------------------
// Lifecycle
// --------------------------------------------------------------------------

func (b *boltDB) WithCodec(c *codec.Codec) storage.Backend {
	return &boltDB{state: b.state, codec: c}
}

// Close releases the file lock. Committed transactions are already synced.
func (b *boltDB) Close() error {
	if err := b.db.Close(); err != nil {
		return convertErr(err, "close %s", b.db.Path())
	}
	return nil
}
