package storage

import (
	"github.com/ValentinKolb/geoKV/lib/codec"
)

// --------------------------------------------------------------------------
// Helper Types
// --------------------------------------------------------------------------

type Implementation string

const (
	ImplMemory Implementation = "memory"
	ImplSQLite Implementation = "sqlite"
	ImplBolt   Implementation = "bolt"
	ImplPebble Implementation = "pebble"
)

// Feature represents backend capabilities as bit flags
type Feature uint64

const (
	FeaturePersistent      Feature = 1 << iota // Data survives Close
	FeatureReadOnlyOpen                        // The engine can be opened in a native read-only mode
	FeatureNativeWriteLock                     // The engine rejects a second writer on its own
	FeatureAtomicBatch                         // Update is atomic across all items of one call
	FeatureAtomicExtend                        // Extend is atomic across all items of one call
	FeatureWrite                               // This handle accepts mutations
)

// AllFeatures lists every known feature in declaration order.
var AllFeatures = []Feature{
	FeaturePersistent,
	FeatureReadOnlyOpen,
	FeatureNativeWriteLock,
	FeatureAtomicBatch,
	FeatureAtomicExtend,
	FeatureWrite,
}

func (f Feature) String() string {
	switch f {
	case FeaturePersistent:
		return "Persistent"
	case FeatureReadOnlyOpen:
		return "ReadOnlyOpen"
	case FeatureNativeWriteLock:
		return "NativeWriteLock"
	case FeatureAtomicBatch:
		return "AtomicBatch"
	case FeatureAtomicExtend:
		return "AtomicExtend"
	case FeatureWrite:
		return "Write"
	default:
		return "Unknown"
	}
}

// Features expands a feature set into its single flags.
func (f Feature) Features() []Feature {
	var out []Feature
	for _, feature := range AllFeatures {
		if f&feature != 0 {
			out = append(out, feature)
		}
	}
	return out
}

type DatabaseInfo struct {
	SizeBytes         int            `json:"size_bytes"`
	DbType            Implementation `json:"db_type"`
	SupportedFeatures []Feature      `json:"supported_features"`
	Metadata          interface{}    `json:"metadata"`
}

// Bucket is the ordered sequence of values stored under one key.
type Bucket = []any

// Item pairs a key with the values to write (Update) or append (Extend).
type Item struct {
	Key    string
	Values Bucket
}

// --------------------------------------------------------------------------
// Backend Interface
// --------------------------------------------------------------------------

// Backend is an append-only multi-value map: every key names a bucket, an
// ordered list of values. Buckets are encoded with the backend's codec at the
// storage boundary.
//
// A key that was never written reads as an empty bucket. Implementations
// differ in persistence, locking and atomicity, which callers query with
// SupportsFeature instead of type checks.
//
// A Backend is not safe for concurrent mutation from several goroutines
// unless the caller serializes writers (see package lockmgr). Reads are safe
// while no goroutine of this process mutates the backend.
type Backend interface {

	// --------------------------------------------------------------------------
	// Write Operations
	// --------------------------------------------------------------------------

	// Set replaces the bucket stored under key.
	Set(key string, values Bucket) (err error)

	// Update replaces the buckets of all items, in the order given.
	// Atomicity across items depends on FeatureAtomicBatch.
	Update(items []Item) (err error)

	// Extend appends the values of every item to the existing bucket of its key.
	// Atomicity across items depends on FeatureAtomicExtend.
	Extend(items []Item) (err error)

	// Delete removes the bucket stored under key.
	// It returns common.ErrKeyNotFound if the key does not exist.
	Delete(key string) (err error)

	// Clear removes all buckets.
	Clear() (err error)

	// --------------------------------------------------------------------------
	// Query Operations
	// --------------------------------------------------------------------------

	// Contains checks whether a bucket was written for key.
	Contains(key string) (ok bool, err error)

	// Get returns the bucket for key, or an empty bucket if the key is absent.
	Get(key string) (values Bucket, err error)

	// Keys returns all keys.
	Keys() (keys []string, err error)

	// Values returns the buckets for the given keys in the same order.
	// If keys is nil, all buckets are returned in the order of Keys.
	Values(keys []string) (buckets []Bucket, err error)

	// Len returns the number of buckets.
	Len() (n int, err error)

	// --------------------------------------------------------------------------
	// Feature Support
	// --------------------------------------------------------------------------

	// SupportsFeature checks if this handle supports all given features.
	// Multiple features can be checked at once using bitwise OR (|) operator.
	SupportsFeature(feature Feature) (ok bool)

	// GetInfo returns information about the backend.
	GetInfo() (info DatabaseInfo)

	// --------------------------------------------------------------------------
	// Lifecycle
	// --------------------------------------------------------------------------

	// WithCodec returns a view of the same underlying storage that encodes
	// with c. Views share the handle: closing one closes all of them.
	WithCodec(c *codec.Codec) Backend

	// Close flushes pending writes and releases the storage.
	Close() (err error)
}

// GetFeatures returns the supported features of a backend as a list.
func GetFeatures(b Backend) []Feature {
	var out []Feature
	for _, f := range AllFeatures {
		if b.SupportsFeature(f) {
			out = append(out, f)
		}
	}
	return out
}

// Normalize converts a value to a bucket: a []any is used as is, anything
// else becomes a one-element bucket.
func Normalize(value any) Bucket {
	if values, ok := value.([]any); ok {
		return values
	}
	return Bucket{value}
}
