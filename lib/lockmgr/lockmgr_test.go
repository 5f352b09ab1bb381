package lockmgr

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ValentinKolb/geoKV/lib/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --------------------------------------------------------------------------
// Shared behaviour
// --------------------------------------------------------------------------

func synchronizers(t *testing.T) map[string]Synchronizer {
	return map[string]Synchronizer{
		"Thread":  NewThreadSynchronizer(),
		"Process": NewProcessSynchronizer(filepath.Join(t.TempDir(), "index.lock"), &ProcessOptions{Delay: time.Millisecond}),
	}
}

func TestMutualExclusion(t *testing.T) {
	for name, s := range synchronizers(t) {
		t.Run(name, func(t *testing.T) {
			var (
				inside  atomic.Int32
				counter int
				wg      sync.WaitGroup
			)
			for g := 0; g < 8; g++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					for i := 0; i < 20; i++ {
						err := WithLock(context.Background(), s, func() error {
							if inside.Add(1) != 1 {
								return errors.New("two holders inside the critical section")
							}
							counter++
							inside.Add(-1)
							return nil
						})
						if err != nil {
							t.Error(err)
							return
						}
					}
				}()
			}
			wg.Wait()
			assert.Equal(t, 160, counter)
			assert.False(t, s.Locked())
		})
	}
}

func TestCancellation(t *testing.T) {
	for name, s := range synchronizers(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, s.Acquire(context.Background()))
			defer s.Release()

			ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
			defer cancel()

			err := s.Acquire(ctx)
			assert.ErrorIs(t, err, common.ErrLock)
			assert.ErrorIs(t, err, context.DeadlineExceeded)
		})
	}
}

func TestReleaseNotHeld(t *testing.T) {
	for name, s := range synchronizers(t) {
		t.Run(name, func(t *testing.T) {
			assert.ErrorIs(t, s.Release(), common.ErrInvalidArgument)
		})
	}
}

func TestWithLockReleasesOnError(t *testing.T) {
	for name, s := range synchronizers(t) {
		t.Run(name, func(t *testing.T) {
			boom := errors.New("boom")
			err := WithLock(context.Background(), s, func() error {
				assert.True(t, s.Locked())
				return boom
			})
			assert.ErrorIs(t, err, boom)
			assert.False(t, s.Locked())
		})
	}
}

func TestWithLockNil(t *testing.T) {
	called := false
	require.NoError(t, WithLock(context.Background(), nil, func() error {
		called = true
		return nil
	}))
	assert.True(t, called)
}

// --------------------------------------------------------------------------
// Lock file
// --------------------------------------------------------------------------

func TestLockFileExistsOnlyInCriticalSection(t *testing.T) {
	path := filepath.Join(t.TempDir(), "index.lock")
	s := NewProcessSynchronizer(path, nil)

	assert.NoFileExists(t, path)
	err := WithLock(context.Background(), s, func() error {
		assert.FileExists(t, path)
		return nil
	})
	require.NoError(t, err)
	assert.NoFileExists(t, path)
}

func TestProcessTimeout(t *testing.T) {
	path := filepath.Join(t.TempDir(), "index.lock")

	// another process holds the lock
	require.NoError(t, os.WriteFile(path, []byte("other\n"), 0o644))

	s := NewProcessSynchronizer(path, &ProcessOptions{Delay: 5 * time.Millisecond, Timeout: 30 * time.Millisecond})
	start := time.Now()
	err := s.Acquire(context.Background())
	assert.ErrorIs(t, err, common.ErrLock)
	assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)

	// the foreign lock file is untouched
	content, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "other\n", string(content))

	// once it is gone, the lock can be taken
	require.NoError(t, os.Remove(path))
	require.NoError(t, s.Acquire(context.Background()))
	require.NoError(t, s.Release())
}

func TestTwoSynchronizersSamePath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "index.lock")
	first := NewProcessSynchronizer(path, &ProcessOptions{Delay: time.Millisecond})
	second := NewProcessSynchronizer(path, &ProcessOptions{Delay: time.Millisecond})

	require.NoError(t, first.Acquire(context.Background()))

	acquired := make(chan error, 1)
	go func() {
		acquired <- second.Acquire(context.Background())
	}()

	select {
	case <-acquired:
		t.Fatal("second synchronizer acquired a held lock")
	case <-time.After(20 * time.Millisecond):
	}

	require.NoError(t, first.Release())
	require.NoError(t, <-acquired)
	assert.True(t, second.Locked())
	require.NoError(t, second.Release())
	assert.NoFileExists(t, path)
}

func TestReleaseKeepsForeignFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "index.lock")
	l := NewLock(path)

	ok, err := l.TryAcquire()
	require.NoError(t, err)
	require.True(t, ok)

	// somebody broke the lock and took it over
	require.NoError(t, os.Remove(path))
	require.NoError(t, os.WriteFile(path, []byte("intruder\n"), 0o644))

	assert.ErrorIs(t, l.Release(), common.ErrLock)
	assert.FileExists(t, path)
	assert.False(t, l.Held())
}

// acquireAndDrop takes a lock and loses the handle without releasing it
func acquireAndDrop(t *testing.T, path string) {
	ok, err := NewLock(path).TryAcquire()
	require.NoError(t, err)
	require.True(t, ok)
}

func TestFinalizerRemovesLeakedLockFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "index.lock")
	acquireAndDrop(t, path)
	require.FileExists(t, path)

	assert.Eventually(t, func() bool {
		runtime.GC()
		_, err := os.Stat(path)
		return os.IsNotExist(err)
	}, 2*time.Second, 10*time.Millisecond)
}
