package lifecycle

import (
	"context"
	"fmt"
	"time"

	"github.com/dkeye/Stream/internal/core"
	"github.com/dkeye/Stream/internal/domain"
)

const (
	unstableLossRatio = 0.05
	fairLossRatio     = 0.02
)

// ClassifyQuality rates inbound loss over lifetime counters. ok is false when
// there is nothing to rate yet.
func ClassifyQuality(lost int64, received uint64) (q domain.Quality, ok bool) {
	if lost < 0 {
		lost = 0
	}
	total := uint64(lost) + received
	if total == 0 {
		return domain.QualityUnknown, false
	}
	ratio := float64(lost) / float64(total)
	switch {
	case ratio > unstableLossRatio:
		return domain.QualityUnstable, true
	case ratio > fairLossRatio:
		return domain.QualityFair, true
	}
	return domain.QualityGood, true
}

// rateEstimator turns a cumulative byte counter into bits per second using
// the delta between consecutive samples.
type rateEstimator struct {
	primed bool
	bytes  uint64
	at     time.Time
}

func (r *rateEstimator) sample(bytes uint64, at time.Time) (uint64, bool) {
	if !r.primed || bytes < r.bytes {
		r.primed, r.bytes, r.at = true, bytes, at
		return 0, false
	}
	dt := at.Sub(r.at)
	if dt <= 0 {
		return 0, false
	}
	delta := bytes - r.bytes
	r.bytes, r.at = bytes, at
	return uint64(float64(delta) * 8 / dt.Seconds()), true
}

func (c *Controller) startSamplerLocked(s *session) {
	epoch, h := s.epoch, s.handle
	s.tasks.Go(func() { c.tickElapsed(s.ctx, epoch) })
	s.tasks.Go(func() { c.tickStats(s.ctx, epoch, h) })
}

func (c *Controller) tickElapsed(ctx context.Context, epoch uint64) {
	ticker := time.NewTicker(c.opts.ElapsedInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.applyElapsed(epoch)
		}
	}
}

func (c *Controller) applyElapsed(epoch uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.current(epoch)
	if s == nil || c.phase != domain.PhaseLive {
		return
	}
	d := c.opts.Now().Sub(s.startedAt)
	s.metrics.Elapsed = &d
	c.publishMetricsLocked()
}

func (c *Controller) tickStats(ctx context.Context, epoch uint64, h core.Handle) {
	ticker := time.NewTicker(c.opts.StatsInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		sctx, cancel := context.WithTimeout(ctx, c.opts.StatsInterval)
		stats, err := h.Statistics(sctx)
		cancel()
		if ctx.Err() != nil {
			return
		}
		c.applyStats(epoch, stats, err)
	}
}

// applyStats folds one statistics sample into the session metrics. Fetch
// errors are logged and never change the phase.
func (c *Controller) applyStats(epoch uint64, stats domain.TransportStats, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.current(epoch)
	if s == nil || c.phase != domain.PhaseLive {
		return
	}
	if err != nil {
		c.logger.Warn().Err(fmt.Errorf("%w: %w", domain.ErrStatisticsFetch, err)).Str("sid", string(s.id)).Msg("stats")
		return
	}

	at := stats.Timestamp
	if at.IsZero() {
		at = c.opts.Now()
	}

	switch c.role {
	case domain.RolePublisher:
		if bps, ok := s.rate.sample(stats.BytesSent, at); ok {
			s.metrics.ThroughputBps = &bps
		}
		if s.media != nil {
			if res, ok := s.media.Dimensions(); ok && res.Valid() {
				s.metrics.Resolution = &res
			}
		}
	case domain.RoleSubscriber:
		res := domain.Resolution{Width: stats.FrameWidth, Height: stats.FrameHeight}
		if !res.Valid() && s.media != nil {
			res, _ = s.media.Dimensions()
		}
		if res.Valid() {
			s.metrics.Resolution = &res
		}
		if q, ok := ClassifyQuality(stats.PacketsLost, stats.PacketsReceived); ok {
			s.metrics.Quality = q
		}
	}
	c.publishMetricsLocked()
}
