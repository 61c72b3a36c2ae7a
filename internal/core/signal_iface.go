package core

import (
	"context"

	"github.com/dkeye/Stream/internal/domain"
	"github.com/pion/webrtc/v4"
)

//go:generate mockgen -destination=mocks/mock_signal.go -package=mocks github.com/dkeye/Stream/internal/core Signaling,Handle

// Signaling establishes and terminates WHIP/WHEP sessions.
type Signaling interface {
	// Establish negotiates a session against endpoint and returns a handle bound to media.
	Establish(ctx context.Context, endpoint string, media MediaResource) (Handle, error)
	// Terminate is best-effort and must honour ctx.
	Terminate(ctx context.Context, h Handle) error
}

// Handle is an established signaling/transport session.
type Handle interface {
	// ID is the session resource URL returned by the server.
	ID() string
	ConnectionState() webrtc.PeerConnectionState
	Statistics(ctx context.Context) (domain.TransportStats, error)
}
