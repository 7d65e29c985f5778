package memory

import (
	"context"
	"sync"
	"time"

	"github.com/ambjn/ostium-whop/internal/domain"
)

// LockManager provides process-local named locks with the same fail-fast
// semantics as the Redis implementation. The TTL guards against leaked
// unlocks: an expired lock can be re-acquired.
type LockManager struct {
	mu    sync.Mutex
	locks map[string]time.Time // key -> expiry
}

// NewLockManager creates an empty LockManager.
func NewLockManager() *LockManager {
	return &LockManager{locks: make(map[string]time.Time)}
}

// Acquire obtains the named lock, returning domain.ErrLockHeld if it is
// currently held and not expired. The unlock function is safe to call more
// than once.
func (lm *LockManager) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	now := time.Now()
	if expiry, ok := lm.locks[key]; ok && now.Before(expiry) {
		return nil, domain.ErrLockHeld
	}
	expiry := now.Add(ttl)
	lm.locks[key] = expiry

	released := false
	unlock := func() {
		lm.mu.Lock()
		defer lm.mu.Unlock()
		if released {
			return
		}
		released = true
		// Only delete if nobody re-acquired after our expiry.
		if cur, ok := lm.locks[key]; ok && cur.Equal(expiry) {
			delete(lm.locks, key)
		}
	}
	return unlock, nil
}

// Compile-time interface check.
var _ domain.LockManager = (*LockManager)(nil)
