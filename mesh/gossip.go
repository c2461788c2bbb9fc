package mesh

import (
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/samskara-labs/chitragupta"
)

// Peer statuses.
const (
	PeerAlive   = "alive"
	PeerSuspect = "suspect"
	PeerDead    = "dead"
)

// Gossip event kinds.
const (
	EventPeerSuspect = "peer:suspect"
	EventPeerDead    = "peer:dead"
)

// PeerState is one membership entry. Generation is a monotone counter
// bumped by the owning node; higher generation wins every merge.
type PeerState struct {
	ActorID      string   `json:"actorId"`
	Status       string   `json:"status"`
	Generation   uint64   `json:"generation"`
	LastSeen     int64    `json:"lastSeen"` // unix milliseconds
	Expertise    []string `json:"expertise,omitempty"`
	Capabilities []string `json:"capabilities,omitempty"`
}

// GossipConfig tunes the membership protocol.
type GossipConfig struct {
	// SuspectTimeout moves a silent peer to suspect (default 5s).
	SuspectTimeout time.Duration
	// DeadTimeout moves a silent peer to dead (default 30s).
	DeadTimeout time.Duration
	// Fanout is how many alive peers each round pushes to (default 3).
	Fanout int
	// Interval is the period of the Start loop (default 1s).
	Interval time.Duration
	// Push transmits the local view to one peer. Nil disables pushing.
	Push func(target string, view []PeerState)
	// OnEvent receives peer:suspect and peer:dead notifications.
	OnEvent func(kind string, peer PeerState)
	// Logger for sweep transitions.
	Logger *slog.Logger
}

func (c *GossipConfig) defaults() {
	if c.SuspectTimeout <= 0 {
		c.SuspectTimeout = 5 * time.Second
	}
	if c.DeadTimeout <= 0 {
		c.DeadTimeout = 30 * time.Second
	}
	if c.Fanout <= 0 {
		c.Fanout = 3
	}
	if c.Interval <= 0 {
		c.Interval = time.Second
	}
	if c.Logger == nil {
		c.Logger = chitragupta.NopLogger()
	}
}

// Gossip maintains peer membership with alive/suspect/dead transitions and
// generation-wins view merging.
type Gossip struct {
	self string
	cfg  GossipConfig

	mu    sync.Mutex
	view  map[string]PeerState
	stop  chan struct{}
	runMu sync.Mutex
}

// NewGossip creates a protocol instance for the given local actor id.
func NewGossip(self string, cfg GossipConfig) *Gossip {
	cfg.defaults()
	return &Gossip{self: self, cfg: cfg, view: make(map[string]PeerState)}
}

// Touch records activity from a peer, refreshing lastSeen and reviving it
// to alive. Unknown peers are admitted with generation 1.
func (g *Gossip) Touch(actorID string, expertise, capabilities []string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	p, ok := g.view[actorID]
	if !ok {
		p = PeerState{ActorID: actorID, Generation: 0}
	}
	p.Status = PeerAlive
	p.Generation++
	p.LastSeen = chitragupta.NowUnixMilli()
	if expertise != nil {
		p.Expertise = expertise
	}
	if capabilities != nil {
		p.Capabilities = capabilities
	}
	g.view[actorID] = p
}

// View returns a snapshot of the full local view.
func (g *Gossip) View() []PeerState {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]PeerState, 0, len(g.view))
	for _, p := range g.view {
		out = append(out, p)
	}
	return out
}

// Merge folds a remote view into the local one. An entry is accepted only
// when its generation is strictly newer. Returns the changed actor ids.
func (g *Gossip) Merge(remote []PeerState) []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	var changed []string
	for _, rp := range remote {
		if rp.ActorID == g.self {
			continue
		}
		local, ok := g.view[rp.ActorID]
		if ok && rp.Generation <= local.Generation {
			continue
		}
		g.view[rp.ActorID] = rp
		changed = append(changed, rp.ActorID)
	}
	return changed
}

// Sweep runs the alive→suspect→dead transitions against the clock and
// emits an event per transition.
func (g *Gossip) Sweep() {
	now := chitragupta.NowUnixMilli()
	suspectMs := g.cfg.SuspectTimeout.Milliseconds()
	deadMs := g.cfg.DeadTimeout.Milliseconds()

	var transitions []struct {
		kind string
		peer PeerState
	}
	g.mu.Lock()
	for id, p := range g.view {
		silent := now - p.LastSeen
		switch {
		case p.Status != PeerDead && silent >= deadMs:
			p.Status = PeerDead
			g.view[id] = p
			transitions = append(transitions, struct {
				kind string
				peer PeerState
			}{EventPeerDead, p})
		case p.Status == PeerAlive && silent >= suspectMs:
			p.Status = PeerSuspect
			g.view[id] = p
			transitions = append(transitions, struct {
				kind string
				peer PeerState
			}{EventPeerSuspect, p})
		}
	}
	g.mu.Unlock()

	for _, tr := range transitions {
		g.cfg.Logger.Info("peer transition", "peer", tr.peer.ActorID, "status", tr.peer.Status)
		if g.cfg.OnEvent != nil {
			g.cfg.OnEvent(tr.kind, tr.peer)
		}
	}
}

// Round pushes the full local view to up to Fanout alive peers.
func (g *Gossip) Round() {
	if g.cfg.Push == nil {
		return
	}
	alive := g.FindAlive()
	rand.Shuffle(len(alive), func(i, j int) { alive[i], alive[j] = alive[j], alive[i] })
	if len(alive) > g.cfg.Fanout {
		alive = alive[:g.cfg.Fanout]
	}
	view := g.View()
	for _, p := range alive {
		g.cfg.Push(p.ActorID, view)
	}
}

// FindAlive returns all peers currently alive.
func (g *Gossip) FindAlive() []PeerState {
	g.mu.Lock()
	defer g.mu.Unlock()
	var out []PeerState
	for _, p := range g.view {
		if p.Status == PeerAlive {
			out = append(out, p)
		}
	}
	return out
}

// FindByExpertise returns all peers advertising the given tag, regardless
// of status.
func (g *Gossip) FindByExpertise(tag string) []PeerState {
	g.mu.Lock()
	defer g.mu.Unlock()
	var out []PeerState
	for _, p := range g.view {
		for _, e := range p.Expertise {
			if e == tag {
				out = append(out, p)
				break
			}
		}
	}
	return out
}

// Start runs sweep and gossip rounds on the configured interval until
// Stop.
func (g *Gossip) Start() {
	g.runMu.Lock()
	defer g.runMu.Unlock()
	if g.stop != nil {
		return
	}
	g.stop = make(chan struct{})
	go g.run(g.stop)
}

// Stop halts the periodic loop. Idempotent.
func (g *Gossip) Stop() {
	g.runMu.Lock()
	defer g.runMu.Unlock()
	if g.stop == nil {
		return
	}
	close(g.stop)
	g.stop = nil
}

func (g *Gossip) run(stop chan struct{}) {
	ticker := time.NewTicker(g.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			g.Sweep()
			g.Round()
		}
	}
}
