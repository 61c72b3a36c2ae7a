package core

import (
	"context"

	"github.com/dkeye/Stream/internal/domain"
	"github.com/pion/webrtc/v4"
)

// MediaResource is the local end of a session: a capture source for the
// publisher, a render target for the subscriber. Owned by the session; the
// controller must Stop() it on teardown.
type MediaResource interface {
	// Start binds the resource lifetime to ctx.
	Start(ctx context.Context) error
	// Available reports whether media is flowing through the resource.
	Available() bool
	// Dimensions returns the negotiated frame size once known.
	Dimensions() (domain.Resolution, bool)
	// Stop releases all underlying tracks. Safe to call more than once.
	Stop()
}

// CaptureSource provides local tracks to publish.
type CaptureSource interface {
	MediaResource
	Tracks() []webrtc.TrackLocal
	// Ready is closed once the first media sample has been produced.
	Ready() <-chan struct{}
}

// RenderTarget receives remote tracks of a subscription.
type RenderTarget interface {
	MediaResource
	Attach(ctx context.Context, track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver)
}

// MediaFactory acquires a fresh resource for every session.
type MediaFactory func() (MediaResource, error)
