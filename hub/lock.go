package hub

import (
	"time"

	"github.com/samskara-labs/chitragupta"
)

// Lock is the record held by the current owner of a named resource.
type Lock struct {
	Resource   string `json:"resource"`
	Holder     string `json:"holder"`
	AcquiredAt int64  `json:"acquiredAt"` // unix milliseconds
}

type lockResult struct {
	lock *Lock
	err  error
}

type lockWaiter struct {
	agent string
	ch    chan lockResult
}

type lockState struct {
	held  *Lock
	queue []*lockWaiter
}

// AcquireLock takes the named resource. Re-entry by the current holder
// returns the existing record immediately. Contenders park in a FIFO queue
// until promoted by a release, the timeout elapses, or the hub is
// destroyed.
func (h *Hub) AcquireLock(resource, agent string, timeout time.Duration) (*Lock, error) {
	h.mu.Lock()
	if h.destroyed {
		h.mu.Unlock()
		return nil, ErrHubDestroyed
	}
	l, ok := h.locks[resource]
	if !ok || l.held == nil {
		lock := &Lock{Resource: resource, Holder: agent, AcquiredAt: chitragupta.NowUnixMilli()}
		h.locks[resource] = &lockState{held: lock}
		h.mu.Unlock()
		return lock, nil
	}
	if l.held.Holder == agent {
		lock := l.held
		h.mu.Unlock()
		return lock, nil
	}
	w := &lockWaiter{agent: agent, ch: make(chan lockResult, 1)}
	l.queue = append(l.queue, w)
	h.mu.Unlock()

	if timeout <= 0 {
		res := <-w.ch
		return res.lock, res.err
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case res := <-w.ch:
		return res.lock, res.err
	case <-timer.C:
		h.mu.Lock()
		h.removeLockWaiter(resource, w)
		h.mu.Unlock()
		// Promotion may have raced the timer.
		select {
		case res := <-w.ch:
			return res.lock, res.err
		default:
		}
		return nil, ErrLockTimeout
	}
}

// ReleaseLock gives up a held resource and promotes the queue head, if
// any. Releasing a lock one does not hold fails.
func (h *Hub) ReleaseLock(resource, holder string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.destroyed {
		return ErrHubDestroyed
	}
	l, ok := h.locks[resource]
	if !ok || l.held == nil || l.held.Holder != holder {
		return ErrLockNotHeld
	}
	h.promoteOrDelete(resource, l)
	return nil
}

// ForceReleaseLock releases the resource regardless of holder, promoting
// the next waiter or deleting the lock. Reports whether a lock existed.
func (h *Hub) ForceReleaseLock(resource string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.destroyed {
		return false
	}
	l, ok := h.locks[resource]
	if !ok || l.held == nil {
		return false
	}
	h.promoteOrDelete(resource, l)
	return true
}

// CleanupLocks force-releases every lock held longer than maxHold and
// returns the affected resource names. Intended to run periodically.
func (h *Hub) CleanupLocks(maxHold time.Duration) []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.destroyed {
		return nil
	}
	cutoff := chitragupta.NowUnixMilli() - maxHold.Milliseconds()
	var released []string
	for resource, l := range h.locks {
		if l.held != nil && l.held.AcquiredAt <= cutoff {
			released = append(released, resource)
			h.promoteOrDelete(resource, l)
		}
	}
	for _, r := range released {
		h.logger.Warn("lock expired, force released", "resource", r)
	}
	return released
}

// LockHolder reports the current holder of a resource, if locked.
func (h *Hub) LockHolder(resource string) (string, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	l, ok := h.locks[resource]
	if !ok || l.held == nil {
		return "", false
	}
	return l.held.Holder, true
}

// promoteOrDelete hands the lock to the FIFO head or removes the state
// when no one is waiting. Caller holds h.mu.
func (h *Hub) promoteOrDelete(resource string, l *lockState) {
	if len(l.queue) == 0 {
		delete(h.locks, resource)
		return
	}
	next := l.queue[0]
	l.queue = l.queue[1:]
	l.held = &Lock{Resource: resource, Holder: next.agent, AcquiredAt: chitragupta.NowUnixMilli()}
	next.ch <- lockResult{lock: l.held}
}

// removeLockWaiter drops a timed-out waiter from the queue. Caller holds
// h.mu.
func (h *Hub) removeLockWaiter(resource string, w *lockWaiter) {
	l, ok := h.locks[resource]
	if !ok {
		return
	}
	for i, q := range l.queue {
		if q == w {
			l.queue = append(l.queue[:i], l.queue[i+1:]...)
			return
		}
	}
}
