package mesh

import (
	"log/slog"
	"sync"
	"time"
)

// Behavior handles one envelope. A panic in a behavior is caught and
// logged; the actor stays alive (supervision is a layer above).
type Behavior func(ctx *ActorContext, env Envelope)

// Actor is a single-consumer drain loop over a mailbox. Envelopes are
// processed one at a time; behaviors must not assume concurrency on the
// same actor.
type Actor struct {
	id     string
	router *Router
	logger *slog.Logger

	mu       sync.Mutex
	behavior Behavior
	mailbox  *Mailbox
	alive    bool
	draining bool
}

// ActorOption configures an actor.
type ActorOption func(*Actor)

// WithMailboxCapacity bounds the actor's mailbox.
func WithMailboxCapacity(n int) ActorOption {
	return func(a *Actor) { a.mailbox = NewMailbox(n) }
}

// WithActorLogger sets the behavior-panic logger.
func WithActorLogger(l *slog.Logger) ActorOption {
	return func(a *Actor) { a.logger = l }
}

func newActor(id string, behavior Behavior, router *Router, opts ...ActorOption) *Actor {
	a := &Actor{
		id:       id,
		router:   router,
		logger:   router.logger,
		behavior: behavior,
		mailbox:  NewMailbox(0),
		alive:    true,
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

// ID returns the actor's identifier.
func (a *Actor) ID() string { return a.id }

// Alive reports whether the actor accepts envelopes.
func (a *Actor) Alive() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.alive
}

// MailboxLen returns the number of queued envelopes.
func (a *Actor) MailboxLen() int { return a.mailbox.Len() }

// Receive enqueues an envelope and schedules a drain. Returns false when
// the actor is stopped or the mailbox is full; the envelope is not queued.
func (a *Actor) Receive(env Envelope) bool {
	a.mu.Lock()
	if !a.alive {
		a.mu.Unlock()
		return false
	}
	if !a.mailbox.Push(env) {
		a.mu.Unlock()
		return false
	}
	if a.draining {
		a.mu.Unlock()
		return true
	}
	a.draining = true
	a.mu.Unlock()

	go a.drain()
	return true
}

// drain pops until the mailbox is empty. Exactly one drain runs at a time.
func (a *Actor) drain() {
	for {
		a.mu.Lock()
		if !a.alive {
			a.draining = false
			a.mu.Unlock()
			return
		}
		env, ok := a.mailbox.Pop()
		if !ok {
			a.draining = false
			a.mu.Unlock()
			return
		}
		behavior := a.behavior
		a.mu.Unlock()

		a.invoke(behavior, env)
	}
}

func (a *Actor) invoke(behavior Behavior, env Envelope) {
	defer func() {
		if p := recover(); p != nil {
			a.logger.Error("actor behavior panicked",
				"actor", a.id, "envelope", env.ID, "panic", p)
		}
	}()
	ctx := &ActorContext{actor: a, envelope: env}
	behavior(ctx, env)
}

// stop marks the actor dead. Queued envelopes are discarded.
func (a *Actor) stop() {
	a.mu.Lock()
	a.alive = false
	a.mu.Unlock()
	a.mailbox.Drain()
}

// ActorContext is the behavior's handle on the fabric for the envelope
// being processed.
type ActorContext struct {
	actor    *Actor
	envelope Envelope
}

// Self returns the actor's id.
func (c *ActorContext) Self() string { return c.actor.id }

// Reply answers the current envelope's sender, carrying the correlation id
// so pending asks resolve.
func (c *ActorContext) Reply(payload any) {
	env := NewEnvelope(c.actor.id, c.envelope.From, payload)
	env.Type = Reply
	env.CorrelationID = c.envelope.CorrelationID
	c.actor.router.Route(env)
}

// Send routes a tell to another actor.
func (c *ActorContext) Send(to string, payload any) {
	c.actor.router.Route(NewEnvelope(c.actor.id, to, payload))
}

// Ask sends and awaits a correlated reply.
func (c *ActorContext) Ask(to string, payload any, timeout time.Duration) (any, error) {
	return c.actor.router.Ask(c.actor.id, to, payload, timeout)
}

// Become swaps the actor's behavior for subsequent envelopes.
func (c *ActorContext) Become(b Behavior) {
	c.actor.mu.Lock()
	c.actor.behavior = b
	c.actor.mu.Unlock()
}

// Stop kills the actor after the current envelope.
func (c *ActorContext) Stop() {
	c.actor.stop()
}
