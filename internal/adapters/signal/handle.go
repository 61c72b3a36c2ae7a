package signal

import (
	"context"

	"github.com/dkeye/Stream/internal/adapters/rtc"
	"github.com/dkeye/Stream/internal/core"
	"github.com/dkeye/Stream/internal/domain"
	"github.com/pion/webrtc/v4"
)

// Handle is a negotiated session: the peer connection plus the resource URL
// the server handed back in Location.
type Handle struct {
	conn     *rtc.Connection
	resource string
}

var _ core.Handle = (*Handle)(nil)

func (h *Handle) ID() string { return h.resource }

func (h *Handle) ConnectionState() webrtc.PeerConnectionState {
	return h.conn.ConnectionState()
}

func (h *Handle) Statistics(ctx context.Context) (domain.TransportStats, error) {
	return h.conn.Statistics(ctx)
}
