package lock_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gridlink-project/gridlink/internal/lock"
)

func TestKeyed_SameKeyIsExclusive(t *testing.T) {
	k := lock.NewKeyed[string]()

	var inside, maxInside int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := k.Lock("a")
			defer unlock()
			n := atomic.AddInt32(&inside, 1)
			for {
				m := atomic.LoadInt32(&maxInside)
				if n <= m || atomic.CompareAndSwapInt32(&maxInside, m, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			atomic.AddInt32(&inside, -1)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), maxInside)
	assert.Equal(t, 0, k.Len(), "idle keys are released")
}

func TestKeyed_DistinctKeysAreIndependent(t *testing.T) {
	k := lock.NewKeyed[string]()
	unlockA := k.Lock("a")
	defer unlockA()

	done := make(chan struct{})
	go func() {
		unlock := k.Lock("b")
		unlock()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("lock on b blocked behind a")
	}
	assert.Equal(t, 1, k.Len())
}

func TestKeyed_LockContextCancelled(t *testing.T) {
	k := lock.NewKeyed[int]()
	unlock := k.Lock(1)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := k.LockContext(ctx, 1)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	unlock()
	assert.Equal(t, 0, k.Len())
}

func TestKeyed_UnlockIsIdempotent(t *testing.T) {
	k := lock.NewKeyed[int]()
	unlock := k.Lock(1)
	unlock()
	unlock()

	again := k.Lock(1)
	again()
	assert.Equal(t, 0, k.Len())
}

func TestKeyed_ZeroValueUsable(t *testing.T) {
	var k lock.Keyed[string]
	unlock := k.Lock("x")
	unlock()
	assert.Equal(t, 0, k.Len())
}
