// Package lockmgr provides the synchronizers that serialize writers of a
// geoKV index.
//
// Two implementations share the Synchronizer interface:
//
//   - ThreadSynchronizer: a weighted semaphore of size one. It guards a
//     backend against goroutines of the same process.
//
//   - ProcessSynchronizer: a lock file at a path all processes agree on.
//     Acquire creates the file with O_EXCL and polls while it exists,
//     Release removes it again. The file never exists outside a critical
//     section, a file found at rest means a writer crashed or forgot to
//     release.
//
// Lock files carry a random owner ID. Release checks it before removing the
// file, so a handle never deletes a lock it does not own.
//
// Acquire takes a context. Without a deadline it blocks until the lock is
// free. ProcessOptions.Timeout bounds the wait in addition.
//
// WithLock wraps a function in a critical section and releases the lock on
// every exit path:
//
//	err := lockmgr.WithLock(ctx, sync, func() error {
//		return backend.Update(items)
//	})
//
// A held Lock that is garbage collected removes its file and logs a warning.
// This is a safety net, callers must still release explicitly.
package lockmgr
