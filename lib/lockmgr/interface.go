package lockmgr

import "context"

// Synchronizer serializes writers to a shared resource.
type Synchronizer interface {
	// Acquire blocks until the lock is held by the caller or ctx ends.
	// A context error is returned wrapped in common.ErrLock.
	Acquire(ctx context.Context) error

	// Release releases a held lock. Releasing a lock that is not held
	// returns common.ErrInvalidArgument.
	Release() error

	// Locked reports whether the lock is currently held.
	Locked() bool
}
