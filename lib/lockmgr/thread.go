package lockmgr

import (
	"context"
	"sync/atomic"

	"github.com/ValentinKolb/geoKV/lib/common"
	"golang.org/x/sync/semaphore"
)

// ThreadSynchronizer is an in-process mutex with a context aware Acquire.
// It is not reentrant.
type ThreadSynchronizer struct {
	sem  *semaphore.Weighted
	held atomic.Bool
}

// NewThreadSynchronizer creates an unlocked ThreadSynchronizer.
func NewThreadSynchronizer() *ThreadSynchronizer {
	return &ThreadSynchronizer{sem: semaphore.NewWeighted(1)}
}

func (s *ThreadSynchronizer) Acquire(ctx context.Context) error {
	if err := s.sem.Acquire(ctx, 1); err != nil {
		return common.WrapError(common.RetCLockError, err, "acquire thread lock")
	}
	s.held.Store(true)
	return nil
}

func (s *ThreadSynchronizer) Release() error {
	if !s.held.CompareAndSwap(true, false) {
		return common.NewError(common.RetCInvalidArgument, "release of a thread lock that is not held")
	}
	s.sem.Release(1)
	return nil
}

func (s *ThreadSynchronizer) Locked() bool {
	return s.held.Load()
}
