package index

import (
	"context"
	"fmt"
	"time"

	"github.com/ValentinKolb/geoKV/lib/codec"
	"github.com/ValentinKolb/geoKV/lib/common"
	"github.com/ValentinKolb/geoKV/lib/geohash"
	"github.com/ValentinKolb/geoKV/lib/lockmgr"
	"github.com/ValentinKolb/geoKV/lib/storage"
	"github.com/lni/dragonboat/v4/logger"
)

// --------------------------------------------------------------------------
// Cell Engine
// --------------------------------------------------------------------------

// CellEngine maps the earth and bounding boxes to cell codes.
type CellEngine interface {
	// AllCells returns every code of the given precision.
	AllCells(precision int) ([]string, error)

	// CellsForBox returns the codes of all cells intersecting box, in the
	// order the buckets of a box query are returned.
	CellsForBox(box geohash.Box, precision int) ([]string, error)
}

// CodeValidator is implemented by engines that can check a single code.
// Update and Append reject keys the validator refuses.
type CodeValidator interface {
	Validate(code string, precision int) error
}

// --------------------------------------------------------------------------
// Options
// --------------------------------------------------------------------------

type options struct {
	engine CellEngine
	log    logger.ILogger
}

// Option configures Initialize and Open.
type Option func(*options)

// WithCellEngine replaces the default geohash engine.
func WithCellEngine(engine CellEngine) Option {
	return func(o *options) {
		o.engine = engine
	}
}

// WithLogger replaces the index logger.
func WithLogger(log logger.ILogger) Option {
	return func(o *options) {
		o.log = log
	}
}

func buildOptions(opts []Option) *options {
	o := &options{
		engine: geohash.Engine{},
		log:    logger.GetLogger(common.LoggerIndex),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// --------------------------------------------------------------------------
// Index
// --------------------------------------------------------------------------

// Entry assigns a value to the bucket of a cell. A Value that is not a []any
// stands for a one-element bucket.
type Entry struct {
	Key   string
	Value any
}

// Index is a spatial index over a backend: one bucket per cell code of a
// fixed precision, plus the properties record.
//
// Writes go through the Synchronizer the index was created with, if any.
// Reads never take it. An Index is safe for concurrent use as far as its
// backend is.
type Index struct {
	backend    storage.Backend // bound to the codec of the index
	sync       lockmgr.Synchronizer
	engine     CellEngine
	log        logger.ILogger
	props      Properties
	compressor codec.Compressor
	metrics    *indexMetrics
}

func newIndex(backend storage.Backend, sync lockmgr.Synchronizer, props Properties, compressor codec.Compressor, o *options) *Index {
	return &Index{
		backend:    backend.WithCodec(codec.New(compressor)),
		sync:       sync,
		engine:     o.engine,
		log:        o.log,
		props:      props,
		compressor: compressor,
		metrics:    newIndexMetrics(string(backend.GetInfo().DbType)),
	}
}

// Initialize creates a new index on an empty backend: it writes the
// properties record and one empty bucket for every cell of the precision.
// Values are compressed with compressor (nil = none).
//
// It fails with common.ErrAlreadyInitialized, leaving the backend
// untouched, if the backend already holds a properties record. The check is
// not atomic against a concurrent Initialize of the same backend.
func Initialize(ctx context.Context, backend storage.Backend, precision int, compressor codec.Compressor,
	sync lockmgr.Synchronizer, opts ...Option) (*Index, error) {

	o := buildOptions(opts)
	if precision < 1 {
		return nil, common.WrapError(common.RetCInvalidArgument, nil, "precision %d must be at least 1", precision)
	}
	if !backend.SupportsFeature(storage.FeatureWrite) {
		return nil, storage.ReadOnlyError(backend.GetInfo().DbType, "initialize")
	}

	// enumerate first, an invalid precision must not leave a record behind
	cells, err := o.engine.AllCells(precision)
	if err != nil {
		return nil, err
	}

	props := Properties{Precision: precision}
	if compressor != nil {
		props.Compressor = compressor.Config()
	}
	idx := newIndex(backend, sync, props, compressor, o)

	err = lockmgr.WithLock(ctx, sync, func() error {
		raw := backend.WithCodec(codec.Default())
		exists, err := raw.Contains(PropertiesKey)
		if err != nil {
			return err
		}
		if exists {
			return common.WrapError(common.RetCAlreadyInitialized, nil, "backend already holds an index")
		}
		if err := raw.Set(PropertiesKey, props.bucket()); err != nil {
			return err
		}

		items := make([]storage.Item, len(cells))
		for i, cell := range cells {
			items[i] = storage.Item{Key: cell, Values: storage.Bucket{}}
		}
		return idx.backend.Update(items)
	})
	if err != nil {
		return nil, err
	}

	o.log.Infof("initialized index with %d cells (%s)", len(cells), props)
	return idx, nil
}

// Open binds an index to a backend initialized before. It fails with
// common.ErrNotInitialized if the properties record is missing.
// Read-only backends can be opened, their index rejects writes.
func Open(backend storage.Backend, sync lockmgr.Synchronizer, opts ...Option) (*Index, error) {
	o := buildOptions(opts)

	raw := backend.WithCodec(codec.Default())
	exists, err := raw.Contains(PropertiesKey)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, common.WrapError(common.RetCNotInitialized, nil, "backend holds no index")
	}

	record, err := raw.Get(PropertiesKey)
	if err != nil {
		return nil, err
	}
	props, err := parseProperties(record)
	if err != nil {
		return nil, err
	}
	compressor, err := codec.GetCompressor(props.Compressor)
	if err != nil {
		return nil, common.WrapError(common.RetCCorruption, err, "properties record: compressor")
	}

	o.log.Debugf("opened index (%s)", props)
	return newIndex(backend, sync, props, compressor, o), nil
}

// --------------------------------------------------------------------------
// Write Operations
// --------------------------------------------------------------------------

// checkWrite fails fast for read-only backends, before the synchronizer is
// touched, and validates the keys.
func (idx *Index) checkWrite(op string, entries []Entry) error {
	if !idx.backend.SupportsFeature(storage.FeatureWrite) {
		return storage.ReadOnlyError(idx.backend.GetInfo().DbType, op)
	}
	validator, ok := idx.engine.(CodeValidator)
	for _, e := range entries {
		if e.Key == PropertiesKey {
			return common.WrapError(common.RetCInvalidArgument, nil, "%s: %q is reserved", op, e.Key)
		}
		if ok {
			if err := validator.Validate(e.Key, idx.props.Precision); err != nil {
				return err
			}
		}
	}
	return nil
}

// Update replaces the buckets of the given cells, in the given order. The
// whole batch runs in one critical section of the synchronizer.
func (idx *Index) Update(ctx context.Context, entries []Entry) (err error) {
	start := time.Now()
	defer func() { idx.metrics.observe(idx.metrics.writeDuration, start, err) }()
	idx.metrics.updates.Inc()

	if err := idx.checkWrite("update", entries); err != nil {
		return err
	}

	items := make([]storage.Item, len(entries))
	for i, e := range entries {
		items[i] = storage.Item{Key: e.Key, Values: storage.Normalize(e.Value)}
	}

	err = lockmgr.WithLock(ctx, idx.sync, func() error {
		return idx.backend.Update(items)
	})
	if err == nil {
		idx.metrics.bucketsWritten.Add(len(items))
	}
	return err
}

// Append adds values to the buckets of the given cells, keeping arrival
// order. Reading the current buckets and writing the merged ones happens
// in one critical section of the synchronizer.
func (idx *Index) Append(ctx context.Context, entries []Entry) (err error) {
	start := time.Now()
	defer func() { idx.metrics.observe(idx.metrics.writeDuration, start, err) }()
	idx.metrics.appends.Inc()

	if err := idx.checkWrite("append", entries); err != nil {
		return err
	}

	// one item per distinct key, in order of first appearance
	var (
		keys     []string
		position = make(map[string]int, len(entries))
	)
	for _, e := range entries {
		if _, ok := position[e.Key]; !ok {
			position[e.Key] = len(keys)
			keys = append(keys, e.Key)
		}
	}

	var items []storage.Item
	err = lockmgr.WithLock(ctx, idx.sync, func() error {
		current, err := idx.backend.Values(keys)
		if err != nil {
			return err
		}
		items = make([]storage.Item, len(keys))
		for i, key := range keys {
			items[i] = storage.Item{Key: key, Values: current[i]}
		}
		for _, e := range entries {
			item := &items[position[e.Key]]
			item.Values = append(item.Values, storage.Normalize(e.Value)...)
		}
		return idx.backend.Update(items)
	})
	if err == nil {
		idx.metrics.bucketsWritten.Add(len(items))
	}
	return err
}

// --------------------------------------------------------------------------
// Query Operations
// --------------------------------------------------------------------------

// Box returns the buckets of all cells intersecting box, one per cell in the
// order of the cell engine. Buckets are not merged, see Flatten.
func (idx *Index) Box(box geohash.Box) (buckets []storage.Bucket, err error) {
	start := time.Now()
	defer func() { idx.metrics.observe(idx.metrics.boxDuration, start, err) }()
	idx.metrics.boxQueries.Inc()

	cells, err := idx.engine.CellsForBox(box, idx.props.Precision)
	if err != nil {
		return nil, err
	}
	idx.metrics.boxCells.Add(len(cells))
	if len(cells) == 0 {
		return []storage.Bucket{}, nil
	}
	return idx.backend.Values(cells)
}

// Get returns the bucket of one cell.
func (idx *Index) Get(key string) (storage.Bucket, error) {
	if key == PropertiesKey {
		return nil, common.WrapError(common.RetCInvalidArgument, nil, "%q is reserved", key)
	}
	return idx.backend.Get(key)
}

// Keys returns the cell codes stored in the backend.
func (idx *Index) Keys() ([]string, error) {
	keys, err := idx.backend.Keys()
	if err != nil {
		return nil, err
	}
	cells := keys[:0]
	for _, key := range keys {
		if key != PropertiesKey {
			cells = append(cells, key)
		}
	}
	return cells, nil
}

// Len returns the number of buckets, not counting the properties record.
func (idx *Index) Len() (int, error) {
	n, err := idx.backend.Len()
	if err != nil {
		return 0, err
	}
	return n - 1, nil
}

// Flatten concatenates buckets in order. Duplicates are kept.
func Flatten(buckets []storage.Bucket) []any {
	n := 0
	for _, b := range buckets {
		n += len(b)
	}
	out := make([]any, 0, n)
	for _, b := range buckets {
		out = append(out, b...)
	}
	return out
}

// --------------------------------------------------------------------------
// Accessors
// --------------------------------------------------------------------------

// Precision returns the code length of the index.
func (idx *Index) Precision() int {
	return idx.props.Precision
}

// Compressor returns the compressor of the index, nil if values are stored
// uncompressed.
func (idx *Index) Compressor() codec.Compressor {
	return idx.compressor
}

// Properties returns the properties record.
func (idx *Index) Properties() Properties {
	return idx.props
}

// Backend returns the backend of the index, bound to the index codec.
func (idx *Index) Backend() storage.Backend {
	return idx.backend
}

func (idx *Index) String() string {
	return fmt.Sprintf("Index(precision=%d)", idx.props.Precision)
}

// Close closes the backend.
func (idx *Index) Close() error {
	return idx.backend.Close()
}
