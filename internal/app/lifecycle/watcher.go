package lifecycle

import (
	"context"
	"time"

	"github.com/dkeye/Stream/internal/core"
	"github.com/pion/webrtc/v4"
)

type watchEvent int

const (
	watchNone watchEvent = iota
	watchReachedLive
	watchLost
)

// watcher translates polled transport states into controller events. It only
// remembers what it already fired for its session.
type watcher struct {
	firedLive bool
	firedLost bool
}

func (w *watcher) observe(state webrtc.PeerConnectionState) watchEvent {
	if w.firedLost {
		return watchNone
	}
	switch state {
	case webrtc.PeerConnectionStateConnected:
		if w.firedLive {
			return watchNone
		}
		w.firedLive = true
		return watchReachedLive
	case webrtc.PeerConnectionStateDisconnected,
		webrtc.PeerConnectionStateFailed,
		webrtc.PeerConnectionStateClosed:
		w.firedLost = true
		return watchLost
	}
	return watchNone
}

// watch polls h until the session context ends or the transport is lost.
func (c *Controller) watch(ctx context.Context, epoch uint64, h core.Handle) {
	var w watcher
	ticker := time.NewTicker(c.opts.WatchInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		state := h.ConnectionState()
		c.logger.Debug().Stringer("state", state).Msg("transport state")
		switch w.observe(state) {
		case watchReachedLive:
			c.onReachedLive(epoch)
		case watchLost:
			c.onTransportLost(epoch, state.String())
			return
		}
	}
}
