// Package hub is the process-wide coordination surface for agents: named
// channels with request/reply, shared memory regions, re-entrant locks,
// barriers, semaphores, and result collectors. All sub-managers share one
// disposal path: Destroy rejects every parked waiter and every later call
// with ErrHubDestroyed.
package hub

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/samskara-labs/chitragupta"
)

// Sentinel errors for hub operations.
var (
	ErrHubDestroyed     = errors.New("hub destroyed")
	ErrRequestTimeout   = errors.New("request timed out")
	ErrLockTimeout      = errors.New("lock acquisition timed out")
	ErrLockNotHeld      = errors.New("lock not held")
	ErrBarrierTimeout   = errors.New("barrier wait timed out")
	ErrSemaphoreTimeout = errors.New("semaphore acquisition timed out")
	ErrCollectorTimeout = errors.New("collector wait timed out")
	ErrRegionExists     = errors.New("region already exists")
	ErrRegionNotFound   = errors.New("region not found")
	ErrRegionDenied     = errors.New("region access denied")
	ErrBarrierNotFound  = errors.New("barrier not found")
	ErrSemNotFound      = errors.New("semaphore not found")
	ErrCollectorExists  = errors.New("collector already exists")
	ErrCollectorMissing = errors.New("collector not found")
)

const (
	defaultChannelCap     = 100
	defaultRequestTimeout = 30 * time.Second
)

// Message travels over hub channels.
type Message struct {
	ID            string `json:"id"`
	From          string `json:"from"`
	To            string `json:"to"`
	Topic         string `json:"topic"`
	Payload       any    `json:"payload"`
	CorrelationID string `json:"correlationId,omitempty"`
	Timestamp     int64  `json:"timestamp"`
}

// Subscriber receives channel messages synchronously.
type Subscriber func(msg Message)

// Options tunes a Hub.
type Options struct {
	// ChannelCap bounds the per-(agent,topic) message ring (default 100).
	ChannelCap int
	Logger     *slog.Logger
}

// Hub coordinates agents within one process.
type Hub struct {
	mu        sync.Mutex
	destroyed bool
	logger    *slog.Logger

	channelCap    int
	rings         map[ringKey][]Message
	subs          map[string]map[string]Subscriber // topic → subID → cb
	subAgents     map[string]string                // subID → agent
	pending       map[string]chan reqResult        // correlationID → waiter
	totalMessages int64

	regions    map[string]*region
	locks      map[string]*lockState
	barriers   map[string]*barrier
	semaphores map[string]*semaphore
	collectors map[string]*collector
}

type ringKey struct {
	agent string
	topic string
}

type reqResult struct {
	payload any
	err     error
}

// New creates an empty hub.
func New(opts Options) *Hub {
	if opts.ChannelCap <= 0 {
		opts.ChannelCap = defaultChannelCap
	}
	if opts.Logger == nil {
		opts.Logger = chitragupta.NopLogger()
	}
	return &Hub{
		logger:     opts.Logger,
		channelCap: opts.ChannelCap,
		rings:      make(map[ringKey][]Message),
		subs:       make(map[string]map[string]Subscriber),
		subAgents:  make(map[string]string),
		pending:    make(map[string]chan reqResult),
		regions:    make(map[string]*region),
		locks:      make(map[string]*lockState),
		barriers:   make(map[string]*barrier),
		semaphores: make(map[string]*semaphore),
		collectors: make(map[string]*collector),
	}
}

// Stats is a point-in-time census of hub state.
type Stats struct {
	Channels      int   `json:"channels"`
	Subscriptions int   `json:"subscriptions"`
	Regions       int   `json:"regions"`
	Locks         int   `json:"locks"`
	Barriers      int   `json:"barriers"`
	Semaphores    int   `json:"semaphores"`
	Collectors    int   `json:"collectors"`
	TotalMessages int64 `json:"totalMessages"`
}

// GetStats reports current counts.
func (h *Hub) GetStats() Stats {
	h.mu.Lock()
	defer h.mu.Unlock()
	subs := 0
	for _, m := range h.subs {
		subs += len(m)
	}
	return Stats{
		Channels:      len(h.rings),
		Subscriptions: subs,
		Regions:       len(h.regions),
		Locks:         len(h.locks),
		Barriers:      len(h.barriers),
		Semaphores:    len(h.semaphores),
		Collectors:    len(h.collectors),
		TotalMessages: h.totalMessages,
	}
}

// Destroy tears the hub down: every parked waiter across all sub-managers
// is rejected with ErrHubDestroyed and all later operations fail the same
// way. Idempotent.
func (h *Hub) Destroy() {
	h.mu.Lock()
	if h.destroyed {
		h.mu.Unlock()
		return
	}
	h.destroyed = true

	for id, ch := range h.pending {
		ch <- reqResult{err: ErrHubDestroyed}
		delete(h.pending, id)
	}
	for _, l := range h.locks {
		for _, w := range l.queue {
			w.ch <- lockResult{err: ErrHubDestroyed}
		}
		l.queue = nil
	}
	for _, b := range h.barriers {
		for _, w := range b.waiters {
			w <- ErrHubDestroyed
		}
		b.waiters = nil
	}
	for _, s := range h.semaphores {
		for _, w := range s.queue {
			w.ch <- ErrHubDestroyed
		}
		s.queue = nil
	}
	for _, c := range h.collectors {
		for _, w := range c.waiters {
			w <- collectResult{err: ErrHubDestroyed}
		}
		c.waiters = nil
	}

	h.rings = map[ringKey][]Message{}
	h.subs = map[string]map[string]Subscriber{}
	h.subAgents = map[string]string{}
	h.mu.Unlock()

	h.logger.Info("hub destroyed")
}
