package autoexec

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crewline/crewline/pkg/panicerr"
)

func TestGuardCapacity(t *testing.T) {
	g := NewGuard(2)
	require.True(t, g.TryAcquire())
	require.True(t, g.TryAcquire())
	assert.False(t, g.TryAcquire(), "third acquire must fail at capacity 2")
	g.Release()
	assert.True(t, g.TryAcquire())
}

func TestGuardDefaultCapacity(t *testing.T) {
	g := NewGuard(0)
	assert.Equal(t, DefaultConcurrency, g.Capacity())
}

func TestGuardNeverExceedsCapacityUnderContention(t *testing.T) {
	const capacity = 3
	g := NewGuard(capacity)

	var inFlight, maxSeen int64
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for attempt := 0; attempt < 20; attempt++ {
				if !g.TryAcquire() {
					continue
				}
				n := atomic.AddInt64(&inFlight, 1)
				for {
					seen := atomic.LoadInt64(&maxSeen)
					if n <= seen || atomic.CompareAndSwapInt64(&maxSeen, seen, n) {
						break
					}
				}
				atomic.AddInt64(&inFlight, -1)
				g.Release()
			}
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, maxSeen, int64(capacity))
	assert.Equal(t, 0, g.InUse(), "every acquire must be matched by one release")
}

func TestGuardReleasedWhenGuardedWorkPanics(t *testing.T) {
	g := NewGuard(1)
	require.True(t, g.TryAcquire())

	err := panicerr.Safe(func() error {
		defer g.Release()
		panic("executor blew up")
	})()
	require.Error(t, err)
	assert.Equal(t, 0, g.InUse())
	assert.True(t, g.TryAcquire(), "slot must be free again after the panic")
}

func TestGuardReleaseWithoutAcquirePanics(t *testing.T) {
	g := NewGuard(1)
	assert.Panics(t, func() { g.Release() })
}
