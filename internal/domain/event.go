package domain

import "time"

type EventKind string

const (
	EventPhase   EventKind = "phase"
	EventMetrics EventKind = "metrics"
	EventError   EventKind = "error"
)

type ErrorKind string

const (
	ErrorConnectFailed  ErrorKind = "ConnectFailed"
	ErrorConnectionLost ErrorKind = "ConnectionLost"
	ErrorTerminate      ErrorKind = "TerminateError"
)

type PhaseChange struct {
	Phase     Phase     `json:"phase"`
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

type Notification struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
}

// Event is what observers receive. Exactly one payload is set, matching Kind.
type Event struct {
	Type    EventKind     `json:"type"`
	Session SessionID     `json:"session,omitempty"`
	Role    Role          `json:"role"`
	Phase   *PhaseChange  `json:"phase,omitempty"`
	Metrics *MetricsView  `json:"metrics,omitempty"`
	Error   *Notification `json:"error,omitempty"`

	// Raw carries the unformatted sample for in-process consumers.
	Raw *Metrics `json:"-"`
}
