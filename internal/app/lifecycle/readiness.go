package lifecycle

import (
	"context"
	"time"

	"github.com/dkeye/Stream/internal/core"
)

// awaitReadiness waits for the publisher's capture resource to produce media.
// The capture's Ready channel is preferred; Available is polled as a fallback.
// The deadline fires once.
func (c *Controller) awaitReadiness(ctx context.Context, epoch uint64, media core.MediaResource) {
	if media.Available() {
		c.onLocalReady(epoch)
		return
	}

	var ready <-chan struct{}
	if src, ok := media.(core.CaptureSource); ok {
		ready = src.Ready()
	}

	deadline := time.NewTimer(c.opts.ReadyTimeout)
	defer deadline.Stop()
	poll := time.NewTicker(c.opts.ReadyPoll)
	defer poll.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ready:
			c.onLocalReady(epoch)
			return
		case <-poll.C:
			if media.Available() {
				c.onLocalReady(epoch)
				return
			}
		case <-deadline.C:
			if media.Available() {
				c.onLocalReady(epoch)
				return
			}
			c.onReadyTimeout(epoch)
			return
		}
	}
}
