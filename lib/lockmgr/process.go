package lockmgr

import (
	"context"
	"time"

	"github.com/ValentinKolb/geoKV/lib/common"
)

const defaultDelay = 100 * time.Millisecond

// ProcessOptions configures a ProcessSynchronizer
type ProcessOptions struct {
	Delay   time.Duration // Poll interval while the lock file exists (0 = 100ms)
	Timeout time.Duration // Give up after this long with common.ErrLock (0 = wait forever)
}

// ProcessSynchronizer serializes writers across processes through a lock
// file at a shared path. The lock file exists only inside the critical
// section. Goroutines of one process may share an instance.
type ProcessSynchronizer struct {
	lock  *Lock
	delay time.Duration
	limit time.Duration
}

// NewProcessSynchronizer creates a synchronizer for the lock file at path.
func NewProcessSynchronizer(path string, opts *ProcessOptions) *ProcessSynchronizer {
	if opts == nil {
		opts = &ProcessOptions{}
	}
	delay := opts.Delay
	if delay <= 0 {
		delay = defaultDelay
	}
	return &ProcessSynchronizer{
		lock:  NewLock(path),
		delay: delay,
		limit: opts.Timeout,
	}
}

// Path returns the path of the lock file.
func (s *ProcessSynchronizer) Path() string {
	return s.lock.Path()
}

// Acquire polls until the lock file can be created.
func (s *ProcessSynchronizer) Acquire(ctx context.Context) error {
	if s.limit > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.limit)
		defer cancel()
	}

	ticker := time.NewTicker(s.delay)
	defer ticker.Stop()

	start := time.Now()
	for {
		ok, err := s.lock.TryAcquire()
		if err != nil {
			return err
		}
		if ok {
			log.Debugf("acquired %s after %s", s.lock.Path(), time.Since(start))
			return nil
		}

		select {
		case <-ctx.Done():
			return common.WrapError(common.RetCLockError, ctx.Err(), "acquire %s", s.lock.Path())
		case <-ticker.C:
		}
	}
}

func (s *ProcessSynchronizer) Release() error {
	if err := s.lock.Release(); err != nil {
		return err
	}
	log.Debugf("released %s", s.lock.Path())
	return nil
}

func (s *ProcessSynchronizer) Locked() bool {
	return s.lock.Held()
}
