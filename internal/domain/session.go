// Package domain contains entity without logic, just meta-data
package domain

import (
	"fmt"
	"strings"
	"time"
)

type SessionID string

type Role int

const (
	RolePublisher Role = iota
	RoleSubscriber
)

func (r Role) String() string {
	switch r {
	case RolePublisher:
		return "publisher"
	case RoleSubscriber:
		return "subscriber"
	}
	return "unknown"
}

// ParseRole accepts the protocol names as aliases.
func ParseRole(s string) (Role, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "publisher", "whip", "broadcaster":
		return RolePublisher, true
	case "subscriber", "whep", "viewer":
		return RoleSubscriber, true
	}
	return 0, false
}

type Phase int

const (
	PhaseIdle Phase = iota
	PhaseConnecting
	PhaseLive
	PhaseFailed
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseConnecting:
		return "connecting"
	case PhaseLive:
		return "live"
	case PhaseFailed:
		return "failed"
	}
	return "unknown"
}

// Label is the status text shown next to the player.
func (p Phase) Label() string {
	switch p {
	case PhaseConnecting:
		return "connecting"
	case PhaseLive:
		return "online"
	}
	return "offline"
}

func (p Phase) MarshalText() ([]byte, error) { return []byte(p.String()), nil }

func (p *Phase) UnmarshalText(b []byte) error {
	for _, candidate := range []Phase{PhaseIdle, PhaseConnecting, PhaseLive, PhaseFailed} {
		if candidate.String() == string(b) {
			*p = candidate
			return nil
		}
	}
	return fmt.Errorf("unknown phase %q", b)
}

func (r Role) MarshalText() ([]byte, error) { return []byte(r.String()), nil }

func (r *Role) UnmarshalText(b []byte) error {
	role, ok := ParseRole(string(b))
	if !ok {
		return fmt.Errorf("unknown role %q", b)
	}
	*r = role
	return nil
}

// SessionSnapshot is a read-only view of the controller's session.
type SessionSnapshot struct {
	ID        SessionID   `json:"id,omitempty"`
	Role      Role        `json:"role"`
	Phase     Phase       `json:"phase"`
	Status    string      `json:"status"`
	Endpoint  string      `json:"endpoint,omitempty"`
	Resource  string      `json:"resource,omitempty"`
	HasHandle bool        `json:"hasHandle"`
	StartedAt *time.Time  `json:"startedAt,omitempty"`
	Metrics   MetricsView `json:"metrics"`
}
