package mesh

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/samskara-labs/chitragupta"
)

var (
	// ErrAskTimeout is returned when no reply arrives in time.
	ErrAskTimeout = errors.New("ask timed out")
	// ErrMeshDestroyed is returned by operations on a destroyed router and
	// delivered to every ask pending at destruction.
	ErrMeshDestroyed = errors.New("mesh destroyed")
	// ErrActorExists is returned when spawning a duplicate actor id.
	ErrActorExists = errors.New("actor id already registered")
)

// Router event kinds.
const (
	EventDelivered     = "delivered"
	EventBroadcast     = "broadcast"
	EventUndeliverable = "undeliverable"
)

// RouterEvent is one observable routing outcome.
type RouterEvent struct {
	Kind           string
	Envelope       Envelope
	Reason         string
	RecipientCount int
}

// PeerChannel is a transport to a remote mesh.
type PeerChannel interface {
	ID() string
	Send(env Envelope) error
	Close() error
}

// Router delivers envelopes between local actors, topic subscribers, and
// peer channels. Every routed envelope produces exactly one delivered,
// broadcast, or undeliverable event.
type Router struct {
	id     string
	logger *slog.Logger

	mu        sync.Mutex
	actors    map[string]*Actor
	peers     map[string]PeerChannel
	remote    map[string]string // actor id -> peer id
	topics    map[string]map[string]bool
	pending   map[string]chan askResult
	destroyed bool

	events struct {
		mu   sync.RWMutex
		next int
		subs map[int]func(RouterEvent)
	}
}

type askResult struct {
	payload any
	err     error
}

// RouterOption configures a Router.
type RouterOption func(*Router)

// WithRouterLogger sets the router's structured logger.
func WithRouterLogger(l *slog.Logger) RouterOption {
	return func(r *Router) { r.logger = l }
}

// NewRouter creates an empty router. id names this mesh node in hop lists.
func NewRouter(id string, opts ...RouterOption) *Router {
	if id == "" {
		id = chitragupta.NewID()
	}
	r := &Router{
		id:      id,
		logger:  chitragupta.NopLogger(),
		actors:  make(map[string]*Actor),
		peers:   make(map[string]PeerChannel),
		remote:  make(map[string]string),
		topics:  make(map[string]map[string]bool),
		pending: make(map[string]chan askResult),
	}
	r.events.subs = make(map[int]func(RouterEvent))
	for _, o := range opts {
		o(r)
	}
	return r
}

// ID returns the router's node id.
func (r *Router) ID() string { return r.id }

// On subscribes to routing events; returns an unsubscribe function.
func (r *Router) On(cb func(RouterEvent)) func() {
	r.events.mu.Lock()
	id := r.events.next
	r.events.next++
	r.events.subs[id] = cb
	r.events.mu.Unlock()
	return func() {
		r.events.mu.Lock()
		delete(r.events.subs, id)
		r.events.mu.Unlock()
	}
}

func (r *Router) emit(ev RouterEvent) {
	r.events.mu.RLock()
	cbs := make([]func(RouterEvent), 0, len(r.events.subs))
	for _, cb := range r.events.subs {
		cbs = append(cbs, cb)
	}
	r.events.mu.RUnlock()
	for _, cb := range cbs {
		cb(ev)
	}
}

// Spawn registers a new actor with the given behavior.
func (r *Router) Spawn(id string, behavior Behavior, opts ...ActorOption) (*Actor, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.destroyed {
		return nil, ErrMeshDestroyed
	}
	if _, exists := r.actors[id]; exists {
		return nil, ErrActorExists
	}
	a := newActor(id, behavior, r, opts...)
	r.actors[id] = a
	return a, nil
}

// Remove stops and deregisters a local actor, dropping its topic
// subscriptions.
func (r *Router) Remove(id string) {
	r.mu.Lock()
	a, ok := r.actors[id]
	if ok {
		delete(r.actors, id)
		for _, subs := range r.topics {
			delete(subs, id)
		}
	}
	r.mu.Unlock()
	if ok {
		a.stop()
	}
}

// Actor returns the local actor with the given id.
func (r *Router) Actor(id string) (*Actor, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.actors[id]
	return a, ok
}

// AddPeer registers a peer channel, optionally with the remote actor ids
// it serves for P2P routing.
func (r *Router) AddPeer(peer PeerChannel, actorIDs ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.peers[peer.ID()] = peer
	for _, id := range actorIDs {
		r.remote[id] = peer.ID()
	}
}

// RemovePeer drops a peer channel and its remote routes.
func (r *Router) RemovePeer(peerID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.peers, peerID)
	for actorID, pid := range r.remote {
		if pid == peerID {
			delete(r.remote, actorID)
		}
	}
}

// Subscribe adds a local actor to a topic.
func (r *Router) Subscribe(actorID, topic string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.topics[topic] == nil {
		r.topics[topic] = make(map[string]bool)
	}
	r.topics[topic][actorID] = true
}

// Unsubscribe removes a local actor from a topic.
func (r *Router) Unsubscribe(actorID, topic string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.topics[topic], actorID)
}

// Route delivers one envelope. Rules in order: TTL expiry, loop detection,
// broadcast, topic, P2P local-then-peer. The router's id is appended to
// the hop list before dispatch.
func (r *Router) Route(env Envelope) {
	r.mu.Lock()
	if r.destroyed {
		r.mu.Unlock()
		r.emit(RouterEvent{Kind: EventUndeliverable, Envelope: env, Reason: "mesh destroyed"})
		return
	}

	now := chitragupta.NowUnixMilli()
	if env.Expired(now) {
		r.mu.Unlock()
		r.emit(RouterEvent{Kind: EventUndeliverable, Envelope: env, Reason: "TTL expired"})
		return
	}
	if env.hopped(env.To) {
		r.mu.Unlock()
		r.emit(RouterEvent{Kind: EventUndeliverable, Envelope: env, Reason: "loop detected"})
		return
	}
	env.Hops = append(env.Hops, r.id)

	switch {
	case env.To == Broadcast:
		actors, peers := r.broadcastTargets(env.From)
		r.mu.Unlock()
		count := r.fanOut(env, actors, peers)
		r.emit(RouterEvent{Kind: EventBroadcast, Envelope: env, RecipientCount: count})
		return

	case env.To == TopicTarget && env.Topic != "":
		var subs []*Actor
		for actorID := range r.topics[env.Topic] {
			if actorID == env.From {
				continue
			}
			if a, ok := r.actors[actorID]; ok {
				subs = append(subs, a)
			}
		}
		r.mu.Unlock()
		if len(subs) == 0 {
			r.emit(RouterEvent{Kind: EventUndeliverable, Envelope: env, Reason: "no subscribers"})
			return
		}
		count := r.fanOut(env, subs, nil)
		r.emit(RouterEvent{Kind: EventBroadcast, Envelope: env, RecipientCount: count})
		return
	}

	// A reply may be answering a pending ask on this node.
	if env.Type == Reply && env.CorrelationID != "" {
		if ch, ok := r.pending[env.CorrelationID]; ok {
			delete(r.pending, env.CorrelationID)
			r.mu.Unlock()
			ch <- askResult{payload: env.Payload}
			r.emit(RouterEvent{Kind: EventDelivered, Envelope: env})
			return
		}
	}

	if a, ok := r.actors[env.To]; ok {
		r.mu.Unlock()
		if !a.Receive(env) {
			reason := "mailbox full"
			if !a.Alive() {
				reason = "actor stopped"
			}
			r.emit(RouterEvent{Kind: EventUndeliverable, Envelope: env, Reason: reason})
			return
		}
		r.emit(RouterEvent{Kind: EventDelivered, Envelope: env})
		return
	}
	if peerID, ok := r.remote[env.To]; ok {
		peer := r.peers[peerID]
		r.mu.Unlock()
		if peer != nil {
			if err := peer.Send(env); err != nil {
				r.emit(RouterEvent{Kind: EventUndeliverable, Envelope: env, Reason: "peer send failed: " + err.Error()})
				return
			}
			r.emit(RouterEvent{Kind: EventDelivered, Envelope: env})
			return
		}
		r.emit(RouterEvent{Kind: EventUndeliverable, Envelope: env, Reason: "peer gone"})
		return
	}
	r.mu.Unlock()
	r.emit(RouterEvent{Kind: EventUndeliverable, Envelope: env, Reason: "unknown recipient"})
}

// broadcastTargets snapshots every local actor and peer except the sender.
// Caller holds r.mu.
func (r *Router) broadcastTargets(from string) ([]*Actor, []PeerChannel) {
	actors := make([]*Actor, 0, len(r.actors))
	for id, a := range r.actors {
		if id != from {
			actors = append(actors, a)
		}
	}
	peers := make([]PeerChannel, 0, len(r.peers))
	for id, p := range r.peers {
		if id != from {
			peers = append(peers, p)
		}
	}
	return actors, peers
}

func (r *Router) fanOut(env Envelope, actors []*Actor, peers []PeerChannel) int {
	count := 0
	for _, a := range actors {
		if a.Receive(env) {
			count++
		}
	}
	for _, p := range peers {
		if err := p.Send(env); err != nil {
			r.logger.Warn("peer broadcast failed", "peer", p.ID(), "error", err)
			continue
		}
		count++
	}
	return count
}

// Ask sends a correlated request and blocks for the reply. Exactly one of
// reply, timeout, or destroy resolves the call.
func (r *Router) Ask(from, to string, payload any, timeout time.Duration) (any, error) {
	r.mu.Lock()
	if r.destroyed {
		r.mu.Unlock()
		return nil, ErrMeshDestroyed
	}
	correlationID := chitragupta.NewID()
	ch := make(chan askResult, 1)
	r.pending[correlationID] = ch
	r.mu.Unlock()

	env := NewEnvelope(from, to, payload)
	env.Type = Ask
	env.CorrelationID = correlationID
	r.Route(env)

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case res := <-ch:
		return res.payload, res.err
	case <-timer.C:
		r.mu.Lock()
		delete(r.pending, correlationID)
		r.mu.Unlock()
		return nil, ErrAskTimeout
	}
}

// Destroy stops all actors, closes peers, and rejects pending asks.
// Idempotent.
func (r *Router) Destroy() {
	r.mu.Lock()
	if r.destroyed {
		r.mu.Unlock()
		return
	}
	r.destroyed = true
	actors := make([]*Actor, 0, len(r.actors))
	for _, a := range r.actors {
		actors = append(actors, a)
	}
	peers := make([]PeerChannel, 0, len(r.peers))
	for _, p := range r.peers {
		peers = append(peers, p)
	}
	pending := r.pending
	r.pending = make(map[string]chan askResult)
	r.actors = make(map[string]*Actor)
	r.peers = make(map[string]PeerChannel)
	r.mu.Unlock()

	for _, ch := range pending {
		ch <- askResult{err: ErrMeshDestroyed}
	}
	for _, a := range actors {
		a.stop()
	}
	for _, p := range peers {
		if err := p.Close(); err != nil {
			r.logger.Warn("peer close failed", "peer", p.ID(), "error", err)
		}
	}
}
