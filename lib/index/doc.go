// Package index implements the geoKV spatial index on top of a
// storage.Backend.
//
// Every cell code of the configured precision names a bucket, an ordered
// list of application values. Initialize writes the properties record
// (precision and compressor) and an empty bucket per cell. Open restores an
// index from its properties record.
//
// Update replaces buckets and Append adds to them. Both take a list of
// entries and write the batch inside one critical section of the
// lockmgr.Synchronizer the index was built with. Box returns the buckets of
// all cells that intersect a bounding box, grouped per cell in the order of
// the cell engine. Flatten merges them when the grouping is not needed.
//
// The cell engine is pluggable (WithCellEngine) and defaults to
// geohash.Engine.
//
// Example:
//
//	backend := memory.NewMemoryDB(nil)
//	idx, err := index.Initialize(ctx, backend, 1, nil, lockmgr.NewThreadSynchronizer())
//	...
//	err = idx.Append(ctx, []index.Entry{{Key: "u", Value: "Berlin"}})
//	buckets, err := idx.Box(geohash.WholeEarth())
//	values := index.Flatten(buckets)
package index
