package events

import (
	"fmt"
	"strings"

	"github.com/dkeye/Stream/internal/core"
)

type BackpressureAction int

const (
	NoAction BackpressureAction = iota
	DropEvent
	Disconnect
)

// Policy decides what happens to an observer whose buffer is full.
type Policy interface {
	OnBackPressure(id core.ObserverID) BackpressureAction
}

// DropPolicy loses the event for the slow observer and keeps it subscribed.
type DropPolicy struct{}

func (DropPolicy) OnBackPressure(core.ObserverID) BackpressureAction { return DropEvent }

// DisconnectPolicy kicks the slow observer.
type DisconnectPolicy struct{}

func (DisconnectPolicy) OnBackPressure(core.ObserverID) BackpressureAction { return Disconnect }

func ParsePolicy(name string) (Policy, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "drop":
		return DropPolicy{}, nil
	case "disconnect", "kick":
		return DisconnectPolicy{}, nil
	}
	return nil, fmt.Errorf("unknown backpressure policy %q", name)
}
