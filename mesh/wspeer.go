package mesh

import (
	"log/slog"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/samskara-labs/chitragupta"
)

// wsFrame is the wire format between meshes: one envelope or one gossip
// view per frame.
type wsFrame struct {
	Kind     string      `json:"kind"` // "envelope" or "gossip"
	Envelope *Envelope   `json:"envelope,omitempty"`
	View     []PeerState `json:"view,omitempty"`
}

// WSPeer is a PeerChannel over a websocket connection. Inbound envelopes
// are routed locally; inbound gossip views merge into the local protocol.
type WSPeer struct {
	id     string
	router *Router
	gossip *Gossip
	logger *slog.Logger

	writeMu sync.Mutex
	conn    *websocket.Conn

	closeOnce sync.Once
}

// DialPeer connects to a remote mesh's websocket endpoint and registers
// the resulting peer with the router.
func DialPeer(url string, router *Router, gossip *Gossip) (*WSPeer, error) {
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		return nil, err
	}
	p := newWSPeer(conn, router, gossip)
	router.AddPeer(p)
	return p, nil
}

// AcceptPeer upgrades an HTTP request to a websocket peer and registers it
// with the router. Intended as the body of the mesh's HTTP handler.
func AcceptPeer(w http.ResponseWriter, r *http.Request, router *Router, gossip *Gossip) (*WSPeer, error) {
	upgrader := websocket.Upgrader{
		CheckOrigin: func(*http.Request) bool { return true },
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, err
	}
	p := newWSPeer(conn, router, gossip)
	router.AddPeer(p)
	return p, nil
}

func newWSPeer(conn *websocket.Conn, router *Router, gossip *Gossip) *WSPeer {
	p := &WSPeer{
		id:     chitragupta.NewID(),
		router: router,
		gossip: gossip,
		logger: router.logger,
		conn:   conn,
	}
	go p.readLoop()
	return p
}

// ID returns the peer channel id.
func (p *WSPeer) ID() string { return p.id }

// Send transmits one envelope to the remote mesh.
func (p *WSPeer) Send(env Envelope) error {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	return p.conn.WriteJSON(wsFrame{Kind: "envelope", Envelope: &env})
}

// SendView pushes a gossip view to the remote mesh.
func (p *WSPeer) SendView(view []PeerState) error {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	return p.conn.WriteJSON(wsFrame{Kind: "gossip", View: view})
}

// Close shuts the connection and deregisters the peer. Idempotent.
func (p *WSPeer) Close() error {
	var err error
	p.closeOnce.Do(func() {
		err = p.conn.Close()
		p.router.RemovePeer(p.id)
	})
	return err
}

func (p *WSPeer) readLoop() {
	defer p.Close()
	for {
		var f wsFrame
		if err := p.conn.ReadJSON(&f); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				p.logger.Warn("peer read failed", "peer", p.id, "error", err)
			}
			return
		}
		switch f.Kind {
		case "envelope":
			if f.Envelope != nil {
				p.router.Route(*f.Envelope)
			}
		case "gossip":
			if p.gossip != nil && len(f.View) > 0 {
				p.gossip.Merge(f.View)
			}
		default:
			p.logger.Warn("unknown peer frame", "peer", p.id, "kind", f.Kind)
		}
	}
}
