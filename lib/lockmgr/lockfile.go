package lockmgr

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"runtime"
	"sync"

	"github.com/ValentinKolb/geoKV/lib/common"
	"go.uber.org/multierr"
)

// Lock is an exclusive lock file. The file exists exactly while the lock is
// held: TryAcquire creates it, Release removes it.
//
// The file contains a random owner ID, Release only removes a file that
// still carries this handle's ID.
type Lock struct {
	path string

	mu      sync.Mutex
	file    *os.File
	ownerID []byte
}

// NewLock creates a handle for the lock file at path. Nothing is created on
// disk until TryAcquire succeeds.
//
// If a held Lock is garbage collected, its file is removed and a warning is
// logged, since this means Release was never called.
func NewLock(path string) *Lock {
	l := &Lock{path: path}
	runtime.SetFinalizer(l, func(l *Lock) {
		if l.Held() {
			log.Warningf("lock file %s was not released, removing it", l.path)
			if err := l.Release(); err != nil {
				log.Errorf("cleanup of lock file %s failed: %v", l.path, err)
			}
		}
	})
	return l
}

// Path returns the path of the lock file.
func (l *Lock) Path() string {
	return l.path
}

// TryAcquire creates the lock file. It returns false if the file already
// exists, i.e. the lock is held by someone else.
func (l *Lock) TryAcquire() (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file != nil {
		return false, nil
	}

	file, err := os.OpenFile(l.path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if errors.Is(err, os.ErrExist) {
		return false, nil
	}
	if err != nil {
		return false, common.WrapError(common.RetCLockError, err, "create lock file %s", l.path)
	}

	ownerID, err := generateOwnerID()
	if err == nil {
		_, err = fmt.Fprintf(file, "%x\n", ownerID)
	}
	if err != nil {
		err = multierr.Combine(err, file.Close(), os.Remove(l.path))
		return false, common.WrapError(common.RetCLockError, err, "write lock file %s", l.path)
	}

	l.file = file
	l.ownerID = ownerID
	return true, nil
}

// Held reports whether this handle holds the lock.
func (l *Lock) Held() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.file != nil
}

// Release closes and removes the lock file.
func (l *Lock) Release() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file == nil {
		return common.WrapError(common.RetCInvalidArgument, nil, "release of lock file %s that is not held", l.path)
	}
	file, ownerID := l.file, l.ownerID
	l.file, l.ownerID = nil, nil

	if err := file.Close(); err != nil {
		log.Warningf("close of lock file %s failed: %v", l.path, err)
	}

	// check the owner to never remove a lock file somebody else created
	content, err := os.ReadFile(l.path)
	if err != nil {
		return common.WrapError(common.RetCLockError, err, "lock file %s vanished while held", l.path)
	}
	if !bytes.Equal(bytes.TrimSpace(content), []byte(fmt.Sprintf("%x", ownerID))) {
		return common.WrapError(common.RetCLockError, nil, "lock file %s was replaced while held", l.path)
	}

	if err := os.Remove(l.path); err != nil {
		return common.WrapError(common.RetCLockError, err, "remove lock file %s", l.path)
	}
	return nil
}
