package hub

import (
	"time"
)

// barrier parks arrivals until the required count is met, then releases
// everyone at once.
type barrier struct {
	required int
	arrived  map[string]bool
	waiters  []chan error
	released bool
}

// CreateBarrier registers a barrier that opens once `required` distinct
// agents have arrived.
func (h *Hub) CreateBarrier(name string, required int) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.destroyed {
		return ErrHubDestroyed
	}
	if _, ok := h.barriers[name]; !ok {
		h.barriers[name] = &barrier{required: required, arrived: make(map[string]bool)}
	}
	return nil
}

// ArriveAtBarrier records the agent's arrival and blocks until the barrier
// opens. Duplicate arrivals from the same agent count once. A barrier with
// required 1 opens immediately.
func (h *Hub) ArriveAtBarrier(name, agent string, timeout time.Duration) error {
	h.mu.Lock()
	if h.destroyed {
		h.mu.Unlock()
		return ErrHubDestroyed
	}
	b, ok := h.barriers[name]
	if !ok {
		h.mu.Unlock()
		return ErrBarrierNotFound
	}
	if b.released {
		h.mu.Unlock()
		return nil
	}
	b.arrived[agent] = true
	if len(b.arrived) >= b.required {
		b.released = true
		waiters := b.waiters
		b.waiters = nil
		h.mu.Unlock()
		for _, w := range waiters {
			w <- nil
		}
		return nil
	}
	ch := make(chan error, 1)
	b.waiters = append(b.waiters, ch)
	h.mu.Unlock()

	if timeout <= 0 {
		return <-ch
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case err := <-ch:
		return err
	case <-timer.C:
		h.mu.Lock()
		for i, w := range b.waiters {
			if w == ch {
				b.waiters = append(b.waiters[:i], b.waiters[i+1:]...)
				break
			}
		}
		h.mu.Unlock()
		select {
		case err := <-ch:
			return err
		default:
		}
		return ErrBarrierTimeout
	}
}

type semWaiter struct {
	agent string
	ch    chan error
}

// semaphore hands permits to a FIFO queue; available never exceeds max.
type semaphore struct {
	max       int
	available int
	queue     []*semWaiter
}

// CreateSemaphore registers a counting semaphore with maxPermits permits.
func (h *Hub) CreateSemaphore(name string, maxPermits int) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.destroyed {
		return ErrHubDestroyed
	}
	if _, ok := h.semaphores[name]; !ok {
		h.semaphores[name] = &semaphore{max: maxPermits, available: maxPermits}
	}
	return nil
}

// AcquireSemaphore takes a permit or parks in FIFO order until one is
// released.
func (h *Hub) AcquireSemaphore(name, agent string, timeout time.Duration) error {
	h.mu.Lock()
	if h.destroyed {
		h.mu.Unlock()
		return ErrHubDestroyed
	}
	s, ok := h.semaphores[name]
	if !ok {
		h.mu.Unlock()
		return ErrSemNotFound
	}
	if s.available > 0 {
		s.available--
		h.mu.Unlock()
		return nil
	}
	w := &semWaiter{agent: agent, ch: make(chan error, 1)}
	s.queue = append(s.queue, w)
	h.mu.Unlock()

	if timeout <= 0 {
		return <-w.ch
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case err := <-w.ch:
		return err
	case <-timer.C:
		h.mu.Lock()
		for i, q := range s.queue {
			if q == w {
				s.queue = append(s.queue[:i], s.queue[i+1:]...)
				break
			}
		}
		h.mu.Unlock()
		select {
		case err := <-w.ch:
			return err
		default:
		}
		return ErrSemaphoreTimeout
	}
}

// ReleaseSemaphore hands the permit to the queue head or returns it to the
// pool. The pool is capped at maxPermits no matter how many times release
// is called.
func (h *Hub) ReleaseSemaphore(name string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.destroyed {
		return ErrHubDestroyed
	}
	s, ok := h.semaphores[name]
	if !ok {
		return ErrSemNotFound
	}
	if len(s.queue) > 0 {
		next := s.queue[0]
		s.queue = s.queue[1:]
		next.ch <- nil
		return nil
	}
	if s.available < s.max {
		s.available++
	}
	return nil
}

// SemaphoreAvailable reports the free permit count.
func (h *Hub) SemaphoreAvailable(name string) (int, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	s, ok := h.semaphores[name]
	if !ok {
		return 0, ErrSemNotFound
	}
	return s.available, nil
}

type collectResult struct {
	results map[string]any
	errs    map[string]error
	err     error
}

// collector gathers per-agent results until the expected count is reached.
type collector struct {
	expected int
	results  map[string]any
	errs     map[string]error
	waiters  []chan collectResult
	done     bool
}

// CreateCollector registers a result collector expecting `expected`
// submissions (results and errors both count).
func (h *Hub) CreateCollector(id string, expected int) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.destroyed {
		return ErrHubDestroyed
	}
	if _, ok := h.collectors[id]; ok {
		return ErrCollectorExists
	}
	h.collectors[id] = &collector{
		expected: expected,
		results:  make(map[string]any),
		errs:     make(map[string]error),
	}
	return nil
}

// SubmitResult records a successful result from an agent.
func (h *Hub) SubmitResult(id, agent string, value any) error {
	return h.submit(id, agent, value, nil)
}

// SubmitError records a failed contribution; it still counts toward
// completion.
func (h *Hub) SubmitError(id, agent string, err error) error {
	return h.submit(id, agent, nil, err)
}

func (h *Hub) submit(id, agent string, value any, submitErr error) error {
	h.mu.Lock()
	if h.destroyed {
		h.mu.Unlock()
		return ErrHubDestroyed
	}
	c, ok := h.collectors[id]
	if !ok {
		h.mu.Unlock()
		return ErrCollectorMissing
	}
	if submitErr != nil {
		c.errs[agent] = submitErr
	} else {
		c.results[agent] = value
	}
	if !c.done && len(c.results)+len(c.errs) >= c.expected {
		c.done = true
		res := collectResult{results: copyResults(c.results), errs: copyErrs(c.errs)}
		waiters := c.waiters
		c.waiters = nil
		h.mu.Unlock()
		for _, w := range waiters {
			w <- res
		}
		return nil
	}
	h.mu.Unlock()
	return nil
}

// WaitForAll blocks until the collector has received all expected
// submissions, then returns the successful results and the per-agent
// errors.
func (h *Hub) WaitForAll(id string, timeout time.Duration) (map[string]any, map[string]error, error) {
	h.mu.Lock()
	if h.destroyed {
		h.mu.Unlock()
		return nil, nil, ErrHubDestroyed
	}
	c, ok := h.collectors[id]
	if !ok {
		h.mu.Unlock()
		return nil, nil, ErrCollectorMissing
	}
	if c.done {
		res := collectResult{results: copyResults(c.results), errs: copyErrs(c.errs)}
		h.mu.Unlock()
		return res.results, res.errs, nil
	}
	ch := make(chan collectResult, 1)
	c.waiters = append(c.waiters, ch)
	h.mu.Unlock()

	if timeout <= 0 {
		res := <-ch
		return res.results, res.errs, res.err
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case res := <-ch:
		return res.results, res.errs, res.err
	case <-timer.C:
		h.mu.Lock()
		for i, w := range c.waiters {
			if w == ch {
				c.waiters = append(c.waiters[:i], c.waiters[i+1:]...)
				break
			}
		}
		h.mu.Unlock()
		select {
		case res := <-ch:
			return res.results, res.errs, res.err
		default:
		}
		return nil, nil, ErrCollectorTimeout
	}
}

func copyResults(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func copyErrs(m map[string]error) map[string]error {
	out := make(map[string]error, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
