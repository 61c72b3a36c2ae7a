// Package events fans lifecycle notifications out to observers.
package events

import (
	"sync"

	"github.com/dkeye/Stream/internal/core"
	"github.com/dkeye/Stream/internal/domain"
	"github.com/rs/zerolog/log"
)

// Hub is a core.EventSink. It never blocks the publisher: each observer is
// offered the event through TrySend and the policy handles the ones that
// refuse it.
type Hub struct {
	mu        sync.RWMutex
	observers map[core.ObserverID]core.ObserverConnection
	policy    Policy

	// last phase and metrics, replayed to new observers
	stateMu     sync.Mutex
	lastPhase   *domain.Event
	lastMetrics *domain.Event
}

func NewHub(policy Policy) *Hub {
	if policy == nil {
		policy = DropPolicy{}
	}
	return &Hub{
		observers: make(map[core.ObserverID]core.ObserverConnection),
		policy:    policy,
	}
}

// Subscribe registers conn under id, replacing (and closing) any previous
// connection with the same id. The current phase and metrics are replayed.
func (h *Hub) Subscribe(id core.ObserverID, conn core.ObserverConnection) {
	h.mu.Lock()
	prev, had := h.observers[id]
	h.observers[id] = conn
	h.mu.Unlock()

	if had && prev != conn {
		prev.Close()
	}
	log.Info().Str("module", "events").Str("observer", string(id)).Msg("observer subscribed")

	h.stateMu.Lock()
	replay := make([]domain.Event, 0, 2)
	if h.lastPhase != nil {
		replay = append(replay, *h.lastPhase)
	}
	if h.lastMetrics != nil {
		replay = append(replay, *h.lastMetrics)
	}
	h.stateMu.Unlock()
	for _, ev := range replay {
		_ = conn.TrySend(ev)
	}
}

// Unsubscribe removes id only if it is still bound to conn.
func (h *Hub) Unsubscribe(id core.ObserverID, conn core.ObserverConnection) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	cur, ok := h.observers[id]
	if !ok || cur != conn {
		return false
	}
	delete(h.observers, id)
	log.Info().Str("module", "events").Str("observer", string(id)).Msg("observer unsubscribed")
	return true
}

func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.observers)
}

func (h *Hub) Publish(ev domain.Event) {
	h.remember(ev)
	res := h.Broadcast(ev)
	for _, id := range res.Dropped {
		switch h.policy.OnBackPressure(id) {
		case Disconnect:
			h.kick(id)
		case DropEvent:
			log.Debug().Str("module", "events").Str("observer", string(id)).Str("type", string(ev.Type)).Msg("event dropped")
		}
	}
}

func (h *Hub) Broadcast(ev domain.Event) core.PublishResult {
	h.mu.RLock()
	defer h.mu.RUnlock()
	res := core.PublishResult{}
	for id, conn := range h.observers {
		if err := conn.TrySend(ev); err != nil {
			res.Dropped = append(res.Dropped, id)
			continue
		}
		res.SendTo++
	}
	log.Debug().Str("module", "events").Str("type", string(ev.Type)).Int("sent_to", res.SendTo).Int("dropped", len(res.Dropped)).Msg("broadcast result")
	return res
}

// Close disconnects every observer.
func (h *Hub) Close() {
	h.mu.Lock()
	conns := make([]core.ObserverConnection, 0, len(h.observers))
	for id, conn := range h.observers {
		conns = append(conns, conn)
		delete(h.observers, id)
	}
	h.mu.Unlock()
	for _, conn := range conns {
		conn.Close()
	}
}

func (h *Hub) kick(id core.ObserverID) {
	h.mu.Lock()
	conn, ok := h.observers[id]
	if ok {
		delete(h.observers, id)
	}
	h.mu.Unlock()
	if ok {
		conn.Close()
		log.Warn().Str("module", "events").Str("observer", string(id)).Msg("slow observer disconnected")
	}
}

func (h *Hub) remember(ev domain.Event) {
	h.stateMu.Lock()
	defer h.stateMu.Unlock()
	switch ev.Type {
	case domain.EventPhase:
		h.lastPhase = &ev
	case domain.EventMetrics:
		h.lastMetrics = &ev
	}
}
