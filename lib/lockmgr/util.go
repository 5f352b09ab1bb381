package lockmgr

import (
	"context"
	"crypto/rand"

	"github.com/ValentinKolb/geoKV/lib/common"
	"github.com/lni/dragonboat/v4/logger"
	"go.uber.org/multierr"
)

const (
	ownerIDLength = 16
)

var log = logger.GetLogger(common.LoggerLockMgr)

// generateOwnerID creates a new unique owner ID
func generateOwnerID() ([]byte, error) {
	randomBytes := make([]byte, ownerIDLength)
	_, err := rand.Read(randomBytes)
	return randomBytes, err
}

// WithLock runs fn inside the critical section of s. The lock is released on
// every path, a release error is combined with the error of fn. A nil
// Synchronizer runs fn unguarded.
func WithLock(ctx context.Context, s Synchronizer, fn func() error) (err error) {
	if s == nil {
		return fn()
	}
	if err := s.Acquire(ctx); err != nil {
		return err
	}
	defer func() {
		err = multierr.Append(err, s.Release())
	}()
	return fn()
}
