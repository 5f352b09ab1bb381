package pebble

import (
	"github.com/ValentinKolb/geoKV/lib/storage"
	"github.com/ValentinKolb/geoKV/lib/storage/snapshot"
)

// OpenSnapshot opens a read-only view of the store in dir that works while
// another handle (of any process) holds the directory's lock. The view is
// frozen at the time of the call. Close the snapshot to remove its links.
func OpenSnapshot(dir string, opts *Options) (*snapshot.Snapshot, error) {
	var o Options
	if opts != nil {
		o = *opts
	}
	o.ReadOnly = true

	return snapshot.New(dir, LockFile, func(snapDir string) (storage.Backend, error) {
		return Open(snapDir, &o)
	})
}
