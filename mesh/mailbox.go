package mesh

import "sync"

const defaultMailboxCapacity = 1024

// Mailbox is a bounded queue with four priority lanes. Push rejects new
// envelopes at capacity: back-pressure is the caller's problem (retry,
// drop, or reroute), never silent loss of older work.
type Mailbox struct {
	mu       sync.Mutex
	lanes    [4][]Envelope
	size     int
	capacity int
}

// NewMailbox creates a mailbox. capacity <= 0 selects the default.
func NewMailbox(capacity int) *Mailbox {
	if capacity <= 0 {
		capacity = defaultMailboxCapacity
	}
	return &Mailbox{capacity: capacity}
}

// Push enqueues on the envelope's priority lane. Returns false when the
// mailbox is full.
func (m *Mailbox) Push(env Envelope) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.size >= m.capacity {
		return false
	}
	lane := env.Priority
	if lane < PriorityLow || lane > PriorityCritical {
		lane = PriorityNormal
	}
	m.lanes[lane] = append(m.lanes[lane], env)
	m.size++
	return true
}

// Pop removes and returns the oldest envelope from the highest non-empty
// lane.
func (m *Mailbox) Pop() (Envelope, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for lane := PriorityCritical; lane >= PriorityLow; lane-- {
		if len(m.lanes[lane]) == 0 {
			continue
		}
		env := m.lanes[lane][0]
		m.lanes[lane] = m.lanes[lane][1:]
		m.size--
		return env, true
	}
	return Envelope{}, false
}

// Peek returns the envelope Pop would return, without removing it.
func (m *Mailbox) Peek() (Envelope, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for lane := PriorityCritical; lane >= PriorityLow; lane-- {
		if len(m.lanes[lane]) > 0 {
			return m.lanes[lane][0], true
		}
	}
	return Envelope{}, false
}

// Drain removes and returns everything in (lane-descending, FIFO) order.
func (m *Mailbox) Drain() []Envelope {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Envelope, 0, m.size)
	for lane := PriorityCritical; lane >= PriorityLow; lane-- {
		out = append(out, m.lanes[lane]...)
		m.lanes[lane] = nil
	}
	m.size = 0
	return out
}

// Len returns the number of queued envelopes.
func (m *Mailbox) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.size
}
