package engine

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/jskelly/gomend/pkg/domain/types"
)

func TestRecordLocksSerializePerRecord(t *testing.T) {
	locks := newRecordLocks()

	counter := 0
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := locks.Lock("rec-1")
			defer unlock()
			counter++
		}()
	}
	wg.Wait()
	assert.Equal(t, 50, counter)

	// Released locks leave no entry behind.
	locks.mu.Lock()
	assert.Empty(t, locks.locks)
	locks.mu.Unlock()
}

func TestRecordLocksIndependentAcrossRecords(t *testing.T) {
	locks := newRecordLocks()

	unlockA := locks.Lock("rec-a")
	defer unlockA()

	// A held lock on one record never blocks another record.
	done := make(chan struct{})
	go func() {
		unlockB := locks.Lock("rec-b")
		unlockB()
		close(done)
	}()
	<-done
}

func TestTenantLimiterBoundsOneTenant(t *testing.T) {
	limiter := newTenantLimiter(func(types.TenantID) int { return 2 })

	assert.True(t, limiter.TryAcquire("acme"))
	assert.True(t, limiter.TryAcquire("acme"))
	assert.False(t, limiter.TryAcquire("acme"), "third slot exceeds the limit")

	limiter.Release("acme")
	assert.True(t, limiter.TryAcquire("acme"))
}

func TestTenantLimiterDoesNotStarveOtherTenants(t *testing.T) {
	limiter := newTenantLimiter(func(types.TenantID) int { return 1 })

	// Tenant A saturates its own slot; tenant B still acquires immediately.
	assert.True(t, limiter.TryAcquire("acme"))
	assert.False(t, limiter.TryAcquire("acme"))
	assert.True(t, limiter.TryAcquire("globex"))
}

func TestTenantLimiterAcquireHonorsDone(t *testing.T) {
	limiter := newTenantLimiter(func(types.TenantID) int { return 1 })
	assert.True(t, limiter.TryAcquire("acme"))

	done := make(chan struct{})
	close(done)
	assert.False(t, limiter.Acquire("acme", done))
}

func TestTenantLimiterZeroLimitStillAdmitsOne(t *testing.T) {
	limiter := newTenantLimiter(func(types.TenantID) int { return 0 })
	assert.True(t, limiter.TryAcquire("acme"))
	assert.False(t, limiter.TryAcquire("acme"))
}
