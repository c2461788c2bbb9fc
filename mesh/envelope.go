// Package mesh is the actor fabric: bounded priority mailboxes, single-
// consumer actors, an envelope router with ask/reply correlation, gossip
// membership, and websocket peer channels to remote meshes.
package mesh

import (
	"github.com/samskara-labs/chitragupta"
)

// Envelope targets.
const (
	// Broadcast addresses every local actor and peer channel.
	Broadcast = "*"
	// TopicTarget addresses the subscribers of Envelope.Topic.
	TopicTarget = "__topic__"
)

// MessageType discriminates envelope intent.
type MessageType string

const (
	Tell  MessageType = "tell"
	Ask   MessageType = "ask"
	Reply MessageType = "reply"
)

// Priority lanes, low to critical.
const (
	PriorityLow      = 0
	PriorityNormal   = 1
	PriorityHigh     = 2
	PriorityCritical = 3
)

// Envelope is one routed message. Payload is opaque to the fabric.
type Envelope struct {
	ID            string      `json:"id"`
	From          string      `json:"from"`
	To            string      `json:"to"`
	Type          MessageType `json:"type"`
	Payload       any         `json:"payload"`
	Priority      int         `json:"priority"`
	Timestamp     int64       `json:"timestamp"` // unix milliseconds
	TTL           int64       `json:"ttl"`       // milliseconds, 0 = no expiry
	Hops          []string    `json:"hops,omitempty"`
	Topic         string      `json:"topic,omitempty"`
	CorrelationID string      `json:"correlationId,omitempty"`
}

// NewEnvelope builds a tell envelope with a fresh id and current timestamp.
func NewEnvelope(from, to string, payload any) Envelope {
	return Envelope{
		ID:        chitragupta.NewID(),
		From:      from,
		To:        to,
		Type:      Tell,
		Payload:   payload,
		Priority:  PriorityNormal,
		Timestamp: chitragupta.NowUnixMilli(),
	}
}

// Expired reports whether the envelope's TTL has elapsed at now (unix ms).
func (e Envelope) Expired(now int64) bool {
	return e.TTL > 0 && now-e.Timestamp >= e.TTL
}

// hopped reports whether id already appears in the hop list.
func (e Envelope) hopped(id string) bool {
	for _, h := range e.Hops {
		if h == id {
			return true
		}
	}
	return false
}
