package core

import "github.com/dkeye/Stream/internal/domain"

type ObserverID string

// EventSink receives lifecycle notifications. Publish must not block.
type EventSink interface {
	Publish(ev domain.Event)
}

// ObserverConnection abstracts an observer transport.
// Owned by the adapter; the adapter must Close() it.
type ObserverConnection interface {
	TrySend(domain.Event) error
	Close()
}

// PublishResult reports delivery stats/backpressure to the hub.
type PublishResult struct {
	SendTo  int
	Dropped []ObserverID
}
