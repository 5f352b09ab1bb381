package sqlite

import (
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/ValentinKolb/geoKV/lib/codec"
	"github.com/ValentinKolb/geoKV/lib/common"
	"github.com/ValentinKolb/geoKV/lib/storage"
	"github.com/jmoiron/sqlx"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/mattn/go-sqlite3"
)

// --------------------------------------------------------------------------
// Constants
// --------------------------------------------------------------------------

const (
	// InMemory opens a private in-memory database
	InMemory = ":memory:"

	table      = "buckets"
	colName    = "name"
	colData    = "data"
	schemaStmt = `CREATE TABLE IF NOT EXISTS buckets (name BLOB PRIMARY KEY, data BLOB NOT NULL)`

	// maxParams keeps IN lists below SQLite's host parameter limit
	maxParams = 500

	defaultBusyTimeout = 5 * time.Second
)

var log = logger.GetLogger(common.LoggerStorage)

// --------------------------------------------------------------------------
// Core sqlite backend structure
// --------------------------------------------------------------------------

type state struct {
	db       *sqlx.DB
	path     string
	features storage.Feature
	stats    *storage.SizeStats
}

// sqliteDB stores buckets in a single table of an SQLite database.
type sqliteDB struct {
	*state
	codec *codec.Codec
}

// Options configures the sqlite backend
type Options struct {
	ReadOnly    bool          // Open the database with mode=ro
	BusyTimeout time.Duration // How long a writer waits for another connection's lock (0 = 5s)
	Codec       *codec.Codec  // nil = codec.Default()
}

// row is one bucket as stored in the table
type row struct {
	Name []byte `db:"name"`
	Data []byte `db:"data"`
}

// Open opens (or creates) the database at path. Use InMemory for a transient
// database.
//
// SQLite serializes writers itself: the handle uses a single connection and
// a second process waits up to BusyTimeout for the database lock, after
// which the write fails with common.ErrLock. Update, Extend and Clear each
// run in one transaction.
func Open(path string, opts *Options) (storage.Backend, error) {
	if opts == nil {
		opts = &Options{}
	}
	if opts.BusyTimeout <= 0 {
		opts.BusyTimeout = defaultBusyTimeout
	}
	if opts.Codec == nil {
		opts.Codec = codec.Default()
	}
	if opts.ReadOnly && path == InMemory {
		return nil, common.NewError(common.RetCInvalidArgument, "an in-memory database cannot be opened read-only")
	}

	// escape the path, sqlite would take '?' or '#' in a file name as the
	// start of the query or fragment
	dsn := fmt.Sprintf("file:%s?_busy_timeout=%d", (&url.URL{Path: path}).EscapedPath(), opts.BusyTimeout.Milliseconds())
	if opts.ReadOnly {
		dsn += "&mode=ro"
	}

	db, err := sqlx.Open("sqlite3", dsn)
	if err != nil {
		return nil, convertErr(err, "open %s", path)
	}
	// one connection: SQLite serializes writers anyway and :memory: is per connection
	db.SetMaxOpenConns(1)

	features := storage.FeaturePersistent | storage.FeatureReadOnlyOpen |
		storage.FeatureAtomicBatch | storage.FeatureAtomicExtend
	if path == InMemory {
		features &^= storage.FeaturePersistent
	}

	if opts.ReadOnly {
		if err := db.Ping(); err != nil {
			_ = db.Close()
			return nil, convertErr(err, "open %s", path)
		}
	} else {
		features |= storage.FeatureWrite
		if _, err := db.Exec(schemaStmt); err != nil {
			_ = db.Close()
			return nil, convertErr(err, "create schema in %s", path)
		}
	}

	log.Debugf("opened sqlite backend %s (read-only: %t)", path, opts.ReadOnly)

	return &sqliteDB{
		state: &state{
			db:       db,
			path:     path,
			features: features,
			stats:    storage.NewSizeStats(),
		},
		codec: opts.Codec,
	}, nil
}

// --------------------------------------------------------------------------
// Error Helper Functions
// --------------------------------------------------------------------------

// convertErr maps driver errors to the geoKV taxonomy
func convertErr(err error, format string, args ...interface{}) error {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code {
		case sqlite3.ErrBusy, sqlite3.ErrLocked:
			return common.WrapError(common.RetCLockError, err, format, args...)
		case sqlite3.ErrReadonly:
			return common.WrapError(common.RetCUnsupportedOperation, err, format, args...)
		case sqlite3.ErrCorrupt, sqlite3.ErrNotADB:
			return common.WrapError(common.RetCCorruption, err, format, args...)
		}
	}
	return common.WrapError(common.RetCInternalError, err, format, args...)
}

func (s *sqliteDB) checkWrite(op string) error {
	if !s.SupportsFeature(storage.FeatureWrite) {
		return storage.ReadOnlyError(storage.ImplSQLite, op)
	}
	return nil
}

// inTx runs fn in a transaction, committing on success and rolling back on
// every other path.
func (s *sqliteDB) inTx(op string, fn func(tx *sqlx.Tx) error) (err error) {
	tx, err := s.db.Beginx()
	if err != nil {
		return convertErr(err, "%s: begin", op)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if err = fn(tx); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return convertErr(err, "%s: commit", op)
	}
	return nil
}

// --------------------------------------------------------------------------
// Statement Helper Functions
// --------------------------------------------------------------------------

func replaceStmt(key string, frame []byte) (string, []interface{}, error) {
	return sq.Replace(table).Columns(colName, colData).Values([]byte(key), frame).ToSql()
}

func selectFrame(q sqlx.Queryer, key string) ([]byte, error) {
	query, args, err := sq.Select(colData).From(table).Where(sq.Eq{colName: []byte(key)}).ToSql()
	if err != nil {
		return nil, err
	}
	var frame []byte
	err = sqlx.Get(q, &frame, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, convertErr(err, "get %q", key)
	}
	return frame, nil
}

// --------------------------------------------------------------------------
// Write Operations
// --------------------------------------------------------------------------

func (s *sqliteDB) Set(key string, values storage.Bucket) error {
	return s.Update([]storage.Item{{Key: key, Values: values}})
}

func (s *sqliteDB) Update(items []storage.Item) error {
	if err := s.checkWrite("update"); err != nil {
		return err
	}
	frames, err := storage.EncodeItems(s.codec, s.stats, items)
	if err != nil {
		return err
	}
	return s.inTx("update", func(tx *sqlx.Tx) error {
		for i, item := range items {
			query, args, err := replaceStmt(item.Key, frames[i])
			if err != nil {
				return err
			}
			if _, err := tx.Exec(query, args...); err != nil {
				return convertErr(err, "update %q", item.Key)
			}
		}
		return nil
	})
}

func (s *sqliteDB) Extend(items []storage.Item) error {
	if err := s.checkWrite("extend"); err != nil {
		return err
	}
	return s.inTx("extend", func(tx *sqlx.Tx) error {
		for _, item := range items {
			old, err := selectFrame(tx, item.Key)
			if err != nil {
				return err
			}
			frame, err := storage.ExtendFrame(s.codec, old, item.Values)
			if err != nil {
				return err
			}
			s.stats.Record(len(frame))

			query, args, err := replaceStmt(item.Key, frame)
			if err != nil {
				return err
			}
			if _, err := tx.Exec(query, args...); err != nil {
				return convertErr(err, "extend %q", item.Key)
			}
		}
		return nil
	})
}

func (s *sqliteDB) Delete(key string) error {
	if err := s.checkWrite("delete"); err != nil {
		return err
	}
	query, args, err := sq.Delete(table).Where(sq.Eq{colName: []byte(key)}).ToSql()
	if err != nil {
		return err
	}
	res, err := s.db.Exec(query, args...)
	if err != nil {
		return convertErr(err, "delete %q", key)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return convertErr(err, "delete %q", key)
	}
	if n == 0 {
		return storage.KeyNotFoundError(key)
	}
	return nil
}

func (s *sqliteDB) Clear() error {
	if err := s.checkWrite("clear"); err != nil {
		return err
	}
	query, args, err := sq.Delete(table).ToSql()
	if err != nil {
		return err
	}
	return s.inTx("clear", func(tx *sqlx.Tx) error {
		if _, err := tx.Exec(query, args...); err != nil {
			return convertErr(err, "clear")
		}
		return nil
	})
}

// --------------------------------------------------------------------------
// Query Operations
// --------------------------------------------------------------------------

func (s *sqliteDB) Contains(key string) (bool, error) {
	query, args, err := sq.Select("COUNT(*)").From(table).Where(sq.Eq{colName: []byte(key)}).ToSql()
	if err != nil {
		return false, err
	}
	var n int
	if err := s.db.Get(&n, query, args...); err != nil {
		return false, convertErr(err, "contains %q", key)
	}
	return n > 0, nil
}

func (s *sqliteDB) Get(key string) (storage.Bucket, error) {
	frame, err := selectFrame(s.db, key)
	if err != nil {
		return nil, err
	}
	return storage.DecodeFrame(s.codec, frame)
}

func (s *sqliteDB) Keys() ([]string, error) {
	query, args, err := sq.Select(colName).From(table).OrderBy(colName).ToSql()
	if err != nil {
		return nil, err
	}
	var names [][]byte
	if err := s.db.Select(&names, query, args...); err != nil {
		return nil, convertErr(err, "keys")
	}
	keys := make([]string, len(names))
	for i, name := range names {
		keys[i] = string(name)
	}
	return keys, nil
}

func (s *sqliteDB) Values(keys []string) ([]storage.Bucket, error) {
	if keys == nil {
		return s.all()
	}

	frames := make(map[string][]byte, len(keys))
	for start := 0; start < len(keys); start += maxParams {
		end := min(start+maxParams, len(keys))
		names := make([][]byte, 0, end-start)
		for _, key := range keys[start:end] {
			names = append(names, []byte(key))
		}

		query, args, err := sq.Select(colName, colData).From(table).Where(sq.Eq{colName: names}).ToSql()
		if err != nil {
			return nil, err
		}
		var rows []row
		if err := s.db.Select(&rows, query, args...); err != nil {
			return nil, convertErr(err, "values")
		}
		for _, r := range rows {
			frames[string(r.Name)] = r.Data
		}
	}

	buckets := make([]storage.Bucket, len(keys))
	for i, key := range keys {
		bucket, err := storage.DecodeFrame(s.codec, frames[key])
		if err != nil {
			return nil, err
		}
		buckets[i] = bucket
	}
	return buckets, nil
}

func (s *sqliteDB) all() ([]storage.Bucket, error) {
	query, args, err := sq.Select(colName, colData).From(table).OrderBy(colName).ToSql()
	if err != nil {
		return nil, err
	}
	var rows []row
	if err := s.db.Select(&rows, query, args...); err != nil {
		return nil, convertErr(err, "values")
	}
	buckets := make([]storage.Bucket, len(rows))
	for i, r := range rows {
		bucket, err := s.codec.Decode(r.Data)
		if err != nil {
			return nil, err
		}
		buckets[i] = bucket
	}
	return buckets, nil
}

func (s *sqliteDB) Len() (int, error) {
	query, args, err := sq.Select("COUNT(*)").From(table).ToSql()
	if err != nil {
		return 0, err
	}
	var n int
	if err := s.db.Get(&n, query, args...); err != nil {
		return 0, convertErr(err, "len")
	}
	return n, nil
}

// --------------------------------------------------------------------------
// Feature Support
// --------------------------------------------------------------------------

func (s *sqliteDB) SupportsFeature(feature storage.Feature) bool {
	return s.features&feature == feature
}

func (s *sqliteDB) GetInfo() storage.DatabaseInfo {
	var size int
	query, args, err := sq.Select("COALESCE(SUM(LENGTH(name) + LENGTH(data)), 0)").From(table).ToSql()
	if err == nil {
		if err := s.db.Get(&size, query, args...); err != nil {
			log.Warningf("size query on %s failed: %v", s.path, err)
		}
	}
	return storage.DatabaseInfo{
		SizeBytes:         size,
		DbType:            storage.ImplSQLite,
		SupportedFeatures: storage.GetFeatures(s),
		Metadata:          s.stats.Summary(),
	}
}

// --------------------------------------------------------------------------
// Lifecycle
// --------------------------------------------------------------------------

func (s *sqliteDB) WithCodec(c *codec.Codec) storage.Backend {
	return &sqliteDB{state: s.state, codec: c}
}

func (s *sqliteDB) Close() error {
	if err := s.db.Close(); err != nil {
		return convertErr(err, "close %s", s.path)
	}
	return nil
}
