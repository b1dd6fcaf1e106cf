package engine

import (
	"sync"

	"github.com/jskelly/gomend/pkg/domain/types"
)

// recordLocks serializes transitions per healing record. Transitions for a
// single record are strictly sequential; across records there is no global
// ordering, so a single global lock is deliberately avoided.
type recordLocks struct {
	mu    sync.Mutex
	locks map[types.RecordID]*recordLock
}

type recordLock struct {
	mu   sync.Mutex
	refs int
}

func newRecordLocks() *recordLocks {
	return &recordLocks{locks: make(map[types.RecordID]*recordLock)}
}

// Lock acquires the per-record lock and returns its release function.
// Lock entries are reference counted so the map does not grow without
// bound across record lifetimes.
func (r *recordLocks) Lock(id types.RecordID) func() {
	r.mu.Lock()
	l, ok := r.locks[id]
	if !ok {
		l = &recordLock{}
		r.locks[id] = l
	}
	l.refs++
	r.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		r.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(r.locks, id)
		}
		r.mu.Unlock()
	}
}

// tenantLimiter bounds in-flight records per tenant so one tenant's
// failure burst cannot starve another tenant's records.
type tenantLimiter struct {
	mu    sync.Mutex
	sems  map[types.TenantID]chan struct{}
	limit func(types.TenantID) int
}

func newTenantLimiter(limit func(types.TenantID) int) *tenantLimiter {
	return &tenantLimiter{
		sems:  make(map[types.TenantID]chan struct{}),
		limit: limit,
	}
}

func (t *tenantLimiter) sem(tenant types.TenantID) chan struct{} {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.sems[tenant]
	if !ok {
		n := t.limit(tenant)
		if n <= 0 {
			n = 1
		}
		s = make(chan struct{}, n)
		t.sems[tenant] = s
	}
	return s
}

// Acquire blocks until the tenant has a free slot or done closes.
// Returns false when done closed first.
func (t *tenantLimiter) Acquire(tenant types.TenantID, done <-chan struct{}) bool {
	select {
	case t.sem(tenant) <- struct{}{}:
		return true
	case <-done:
		return false
	}
}

// TryAcquire takes a tenant slot without blocking. Returns false when the
// tenant is already at its concurrency limit.
func (t *tenantLimiter) TryAcquire(tenant types.TenantID) bool {
	select {
	case t.sem(tenant) <- struct{}{}:
		return true
	default:
		return false
	}
}

// Release frees one tenant slot.
func (t *tenantLimiter) Release(tenant types.TenantID) {
	select {
	case <-t.sem(tenant):
	default:
	}
}
