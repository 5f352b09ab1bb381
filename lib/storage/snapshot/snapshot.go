package snapshot

import (
	"os"
	"path/filepath"
	"runtime"
	"sync"

	"github.com/ValentinKolb/geoKV/lib/codec"
	"github.com/ValentinKolb/geoKV/lib/common"
	"github.com/ValentinKolb/geoKV/lib/storage"
	"github.com/lni/dragonboat/v4/logger"
	"go.uber.org/multierr"
)

var log = logger.GetLogger(common.LoggerSnapshot)

// OpenFunc opens a backend read-only in the snapshot directory dir.
type OpenFunc func(dir string) (storage.Backend, error)

// resources is owned by all views of one snapshot
type resources struct {
	dir     string
	impl    storage.Implementation
	backend storage.Backend
	once    sync.Once
	err     error
}

func (r *resources) release() error {
	r.once.Do(func() {
		runtime.SetFinalizer(r, nil)
		r.err = multierr.Append(r.backend.Close(), os.RemoveAll(r.dir))
		log.Debugf("removed snapshot %s", r.dir)
	})
	return r.err
}

// Snapshot is a read-only view of a backend directory that another handle
// may hold locked. It implements storage.Backend; every mutation fails with
// common.ErrUnsupportedOperation.
type Snapshot struct {
	*resources
	view storage.Backend
}

// New builds a snapshot of the backend directory source: a fresh sibling
// directory is filled with symbolic links to every entry of source except
// lockFile, and open is called on it.
//
// This works for engines whose files are immutable once written and that
// need no lock file held by someone else to read, such as pebble. The view
// reflects the files at link time and is not live: writes to source after
// open are not visible. It is not snapshot isolation, a writer that removes
// obsolete files while the links are built can make New fail.
//
// The directory is removed by Close. A snapshot that is garbage collected
// without Close is cleaned up as well, with a warning.
func New(source, lockFile string, open OpenFunc) (*Snapshot, error) {
	source, err := filepath.Abs(source)
	if err != nil {
		return nil, common.WrapError(common.RetCInvalidArgument, err, "snapshot source %s", source)
	}
	entries, err := os.ReadDir(source)
	if err != nil {
		return nil, common.WrapError(common.RetCInvalidArgument, err, "read snapshot source %s", source)
	}

	dir, err := os.MkdirTemp(filepath.Dir(source), filepath.Base(source)+".snapshot-*")
	if err != nil {
		return nil, common.WrapError(common.RetCInternalError, err, "create snapshot directory")
	}

	for _, entry := range entries {
		if entry.Name() == lockFile {
			continue
		}
		if err := os.Symlink(filepath.Join(source, entry.Name()), filepath.Join(dir, entry.Name())); err != nil {
			return nil, multierr.Append(
				common.WrapError(common.RetCInternalError, err, "link %s", entry.Name()),
				os.RemoveAll(dir),
			)
		}
	}

	backend, err := open(dir)
	if err != nil {
		return nil, multierr.Append(err, os.RemoveAll(dir))
	}

	res := &resources{dir: dir, impl: backend.GetInfo().DbType, backend: backend}
	runtime.SetFinalizer(res, func(r *resources) {
		log.Warningf("snapshot %s was not closed, removing it", r.dir)
		if err := r.release(); err != nil {
			log.Errorf("cleanup of snapshot %s failed: %v", r.dir, err)
		}
	})

	log.Debugf("created snapshot %s of %s with %d links", dir, source, len(entries))
	return &Snapshot{resources: res, view: backend}, nil
}

// Dir returns the snapshot directory.
func (s *Snapshot) Dir() string {
	return s.dir
}

// --------------------------------------------------------------------------
// Write Operations (rejected)
// --------------------------------------------------------------------------

func (s *Snapshot) Set(string, storage.Bucket) error {
	return storage.ReadOnlyError(s.impl, "set on snapshot")
}

func (s *Snapshot) Update([]storage.Item) error {
	return storage.ReadOnlyError(s.impl, "update on snapshot")
}

func (s *Snapshot) Extend([]storage.Item) error {
	return storage.ReadOnlyError(s.impl, "extend on snapshot")
}

func (s *Snapshot) Delete(string) error {
	return storage.ReadOnlyError(s.impl, "delete on snapshot")
}

func (s *Snapshot) Clear() error {
	return storage.ReadOnlyError(s.impl, "clear on snapshot")
}

// --------------------------------------------------------------------------
// Query Operations
// --------------------------------------------------------------------------

func (s *Snapshot) Contains(key string) (bool, error)             { return s.view.Contains(key) }
func (s *Snapshot) Get(key string) (storage.Bucket, error)         { return s.view.Get(key) }
func (s *Snapshot) Keys() ([]string, error)                        { return s.view.Keys() }
func (s *Snapshot) Values(keys []string) ([]storage.Bucket, error) { return s.view.Values(keys) }
func (s *Snapshot) Len() (int, error)                              { return s.view.Len() }

// --------------------------------------------------------------------------
// Feature Support
// --------------------------------------------------------------------------

func (s *Snapshot) SupportsFeature(feature storage.Feature) bool {
	return feature&storage.FeatureWrite == 0 && s.view.SupportsFeature(feature)
}

func (s *Snapshot) GetInfo() storage.DatabaseInfo {
	info := s.view.GetInfo()
	info.SupportedFeatures = storage.GetFeatures(s)
	return info
}

// --------------------------------------------------------------------------
// Lifecycle
// --------------------------------------------------------------------------

func (s *Snapshot) WithCodec(c *codec.Codec) storage.Backend {
	return &Snapshot{resources: s.resources, view: s.view.WithCodec(c)}
}

// Close closes the backend and removes the snapshot directory. Further calls
// return the result of the first.
func (s *Snapshot) Close() error {
	runtime.SetFinalizer(s.resources, nil)
	return s.release()
}
