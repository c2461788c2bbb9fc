package hub

import (
	"time"

	"github.com/samskara-labs/chitragupta"
)

// Subscribe registers a callback for a topic on behalf of an agent and
// returns an unsubscribe function. Unsubscribing twice is harmless.
func (h *Hub) Subscribe(agent, topic string, cb Subscriber) (func(), error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.destroyed {
		return nil, ErrHubDestroyed
	}
	if h.subs[topic] == nil {
		h.subs[topic] = make(map[string]Subscriber)
	}
	subID := chitragupta.NewID()
	h.subs[topic][subID] = cb
	h.subAgents[subID] = agent

	unsub := func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if m := h.subs[topic]; m != nil {
			delete(m, subID)
			if len(m) == 0 {
				delete(h.subs, topic)
			}
		}
		delete(h.subAgents, subID)
	}
	return unsub, nil
}

// Send persists the message to the recipient's ring and dispatches it to
// every subscriber of its topic. A message carrying a correlation id for a
// pending request resolves that request instead.
func (h *Hub) Send(msg Message) error {
	if msg.ID == "" {
		msg.ID = chitragupta.NewID()
	}
	if msg.Timestamp == 0 {
		msg.Timestamp = chitragupta.NowUnixMilli()
	}

	h.mu.Lock()
	if h.destroyed {
		h.mu.Unlock()
		return ErrHubDestroyed
	}

	if msg.CorrelationID != "" {
		if ch, ok := h.pending[msg.CorrelationID]; ok {
			delete(h.pending, msg.CorrelationID)
			h.totalMessages++
			h.mu.Unlock()
			ch <- reqResult{payload: msg.Payload}
			return nil
		}
	}

	h.appendToRing(msg)
	h.totalMessages++
	cbs := h.topicSubscribers(msg.Topic, "")
	h.mu.Unlock()

	for _, cb := range cbs {
		cb(msg)
	}
	return nil
}

// Broadcast delivers the payload to every subscriber of the topic except
// the sender and returns the recipient count.
func (h *Hub) Broadcast(sender, topic string, payload any) (int, error) {
	msg := Message{
		ID:        chitragupta.NewID(),
		From:      sender,
		Topic:     topic,
		Payload:   payload,
		Timestamp: chitragupta.NowUnixMilli(),
	}

	h.mu.Lock()
	if h.destroyed {
		h.mu.Unlock()
		return 0, ErrHubDestroyed
	}
	h.totalMessages++
	cbs := h.topicSubscribers(topic, sender)
	h.mu.Unlock()

	for _, cb := range cbs {
		cb(msg)
	}
	return len(cbs), nil
}

// Request sends to the target's topic and parks until a reply arrives with
// the matching correlation id, the timeout elapses, or the hub is
// destroyed.
func (h *Hub) Request(target, topic string, payload any, sender string, timeout time.Duration) (any, error) {
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}
	corr := chitragupta.NewID()
	msg := Message{
		ID:            chitragupta.NewID(),
		From:          sender,
		To:            target,
		Topic:         topic,
		Payload:       payload,
		CorrelationID: corr,
		Timestamp:     chitragupta.NowUnixMilli(),
	}

	h.mu.Lock()
	if h.destroyed {
		h.mu.Unlock()
		return nil, ErrHubDestroyed
	}
	ch := make(chan reqResult, 1)
	h.pending[corr] = ch
	h.appendToRing(msg)
	h.totalMessages++
	cbs := h.topicSubscribers(topic, "")
	h.mu.Unlock()

	for _, cb := range cbs {
		cb(msg)
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case res := <-ch:
		if res.err != nil {
			return nil, res.err
		}
		return res.payload, nil
	case <-timer.C:
		h.mu.Lock()
		delete(h.pending, corr)
		h.mu.Unlock()
		// A reply may have raced the timer.
		select {
		case res := <-ch:
			if res.err == nil {
				return res.payload, nil
			}
		default:
		}
		return nil, ErrRequestTimeout
	}
}

// Reply resolves the request identified by the correlation id. Convenience
// over Send for responder callbacks.
func (h *Hub) Reply(correlationID string, from string, payload any) error {
	return h.Send(Message{
		From:          from,
		CorrelationID: correlationID,
		Payload:       payload,
	})
}

// GetMessages returns the retained ring for an (agent, topic) channel in
// arrival order.
func (h *Hub) GetMessages(agent, topic string) ([]Message, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.destroyed {
		return nil, ErrHubDestroyed
	}
	ring := h.rings[ringKey{agent: agent, topic: topic}]
	out := make([]Message, len(ring))
	copy(out, ring)
	return out, nil
}

// appendToRing retains the message under (to, topic), evicting the oldest
// entry past the channel cap. Caller holds h.mu.
func (h *Hub) appendToRing(msg Message) {
	key := ringKey{agent: msg.To, topic: msg.Topic}
	ring := append(h.rings[key], msg)
	if len(ring) > h.channelCap {
		ring = ring[len(ring)-h.channelCap:]
	}
	h.rings[key] = ring
}

// topicSubscribers snapshots callbacks for a topic, skipping the excluded
// agent. Caller holds h.mu; callbacks run after unlock.
func (h *Hub) topicSubscribers(topic, exclude string) []Subscriber {
	var out []Subscriber
	for subID, cb := range h.subs[topic] {
		if exclude != "" && h.subAgents[subID] == exclude {
			continue
		}
		out = append(out, cb)
	}
	return out
}
