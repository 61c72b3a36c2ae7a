// Package lifecycle drives a single WHIP or WHEP session from idle to live
// and back, owning every periodic task and media resource along the way.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/dkeye/Stream/internal/core"
	"github.com/dkeye/Stream/internal/domain"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/conc"
)

type Controller struct {
	role      domain.Role
	signaling core.Signaling
	media     core.MediaFactory
	events    core.EventSink
	opts      Options
	logger    zerolog.Logger

	mu       sync.Mutex
	phase    domain.Phase
	sess     *session
	epochSeq uint64

	background *conc.WaitGroup
}

func New(opts Options) (*Controller, error) {
	if opts.Signaling == nil {
		return nil, errors.New("lifecycle: signaling is required")
	}
	if opts.Media == nil {
		return nil, errors.New("lifecycle: media factory is required")
	}
	opts.setDefaults()
	return &Controller{
		role:       opts.Role,
		signaling:  opts.Signaling,
		media:      opts.Media,
		events:     opts.Events,
		opts:       opts,
		logger:     log.With().Str("module", "lifecycle").Str("role", opts.Role.String()).Logger(),
		background: conc.NewWaitGroup(),
	}, nil
}

func (c *Controller) Role() domain.Role { return c.role }

// Start opens a new session against endpoint. It returns once the session is
// Connecting with an established handle; going Live happens asynchronously.
// The controller lock is not held across media acquisition or Establish, so
// a concurrent Start is rejected and Stop can abort the attempt. An aborted
// attempt returns domain.ErrStartAborted without an error notification.
func (c *Controller) Start(ctx context.Context, endpoint string) error {
	endpoint = strings.TrimSpace(endpoint)

	c.mu.Lock()
	if c.phase != domain.PhaseIdle {
		c.mu.Unlock()
		return domain.ErrAlreadyActive
	}
	if err := ValidateEndpoint(endpoint); err != nil {
		c.mu.Unlock()
		return err
	}
	c.epochSeq++
	s := newSession(domain.SessionID(uuid.NewString()), c.epochSeq, endpoint)
	c.sess = s
	c.logger.Info().Str("sid", string(s.id)).Str("endpoint", endpoint).Msg("session start")
	c.setPhaseLocked(domain.PhaseConnecting)
	c.mu.Unlock()

	media, err := c.media()

	c.mu.Lock()
	if c.current(s.epoch) == nil {
		c.mu.Unlock()
		if media != nil {
			media.Stop()
		}
		return c.aborted(s.id)
	}
	if err != nil {
		defer c.mu.Unlock()
		return c.failConnectLocked(fmt.Errorf("acquire media: %w", err))
	}
	s.media = media
	c.mu.Unlock()

	// Teardown cancels s.ctx, which aborts the exchange.
	estCtx, estCancel := context.WithTimeout(ctx, c.opts.EstablishTimeout)
	stopAbort := context.AfterFunc(s.ctx, estCancel)
	h, err := c.signaling.Establish(estCtx, endpoint, media)
	stopAbort()
	estCancel()

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current(s.epoch) == nil {
		if h != nil {
			c.releaseAsync(s.id, h)
		}
		return c.aborted(s.id)
	}
	if err != nil {
		return c.failConnectLocked(err)
	}
	if h == nil {
		return c.failConnectLocked(errors.New("signaling returned no handle"))
	}
	s.handle = h
	c.logger.Info().Str("sid", string(s.id)).Str("resource", h.ID()).Msg("session established")

	if err := media.Start(s.ctx); err != nil {
		return c.failConnectLocked(fmt.Errorf("start media: %w", err))
	}

	epoch := s.epoch
	switch c.role {
	case domain.RolePublisher:
		s.tasks.Go(func() { c.awaitReadiness(s.ctx, epoch, media) })
	case domain.RoleSubscriber:
		s.tasks.Go(func() { c.watch(s.ctx, epoch, h) })
	}
	return nil
}

func (c *Controller) aborted(sid domain.SessionID) error {
	c.logger.Info().Str("sid", string(sid)).Msg("session start aborted by stop")
	return domain.ErrStartAborted
}

// Stop ends the active session. Local resources are always released; a
// failed remote terminate is reported as an error wrapping domain.ErrTerminate.
func (c *Controller) Stop(ctx context.Context) error {
	c.mu.Lock()
	if c.phase == domain.PhaseIdle || c.sess == nil {
		c.mu.Unlock()
		return nil
	}
	sid := c.sess.id
	c.logger.Info().Str("sid", string(sid)).Msg("session stop")

	var done chan error
	if h := c.sess.handle; h != nil {
		done = make(chan error, 1)
		tctx, cancel := context.WithTimeout(ctx, c.opts.TerminateTimeout)
		go func() {
			defer cancel()
			done <- c.signaling.Terminate(tctx, h)
		}()
	}
	_, tasks := c.teardownLocked()
	c.mu.Unlock()

	tasks.Wait()
	if done == nil {
		return nil
	}

	var err error
	select {
	case err = <-done:
	case <-time.After(c.opts.TerminateTimeout + time.Second):
		err = context.DeadlineExceeded
	}
	if err != nil {
		c.logger.Warn().Err(err).Str("sid", string(sid)).Msg("terminate failed, local teardown done")
		c.notify(sid, domain.ErrorTerminate, err.Error())
		return fmt.Errorf("%w: %w", domain.ErrTerminate, err)
	}
	return nil
}

// Shutdown is the process teardown path: the remote terminate is fired and
// forgotten, local teardown is synchronous.
func (c *Controller) Shutdown() {
	c.mu.Lock()
	var sid domain.SessionID
	if c.sess != nil {
		sid = c.sess.id
	}
	h, tasks := c.teardownLocked()
	c.mu.Unlock()

	if h != nil {
		c.releaseAsync(sid, h)
	}
	tasks.Wait()
}

// Wait blocks until every fire-and-forget terminate has returned.
func (c *Controller) Wait() {
	c.background.Wait()
}

func (c *Controller) Snapshot() domain.SessionSnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	snap := domain.SessionSnapshot{
		Role:    c.role,
		Phase:   c.phase,
		Status:  c.phase.Label(),
		Metrics: domain.Metrics{}.View(c.role),
	}
	if s := c.sess; s != nil {
		snap.ID = s.id
		snap.Endpoint = s.endpoint
		snap.Metrics = s.metrics.View(c.role)
		if s.handle != nil {
			snap.HasHandle = true
			snap.Resource = s.handle.ID()
		}
		if !s.startedAt.IsZero() {
			t := s.startedAt
			snap.StartedAt = &t
		}
	}
	return snap
}

// ValidateEndpoint accepts absolute http(s) URLs only.
func ValidateEndpoint(endpoint string) error {
	if endpoint == "" {
		return fmt.Errorf("%w: empty", domain.ErrInvalidEndpoint)
	}
	u, err := url.Parse(endpoint)
	if err != nil {
		return fmt.Errorf("%w: %w", domain.ErrInvalidEndpoint, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%w: scheme %q", domain.ErrInvalidEndpoint, u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("%w: missing host", domain.ErrInvalidEndpoint)
	}
	return nil
}

// current returns the session for epoch, or nil when it has been torn down.
func (c *Controller) current(epoch uint64) *session {
	if c.sess == nil || c.sess.epoch != epoch {
		return nil
	}
	return c.sess
}

func (c *Controller) onLocalReady(epoch uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current(epoch) == nil || c.phase != domain.PhaseConnecting {
		return
	}
	c.goLiveLocked()
}

func (c *Controller) onReachedLive(epoch uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current(epoch) == nil || c.phase != domain.PhaseConnecting {
		return
	}
	c.goLiveLocked()
}

func (c *Controller) onReadyTimeout(epoch uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current(epoch) == nil || c.phase != domain.PhaseConnecting {
		return
	}
	_ = c.failConnectLocked(fmt.Errorf("local media not available after %s", c.opts.ReadyTimeout))
}

func (c *Controller) onTransportLost(epoch uint64, reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.current(epoch)
	if s == nil {
		return
	}
	switch c.phase {
	case domain.PhaseConnecting:
		_ = c.failConnectLocked(fmt.Errorf("transport %s before going live", reason))
	case domain.PhaseLive:
		sid := s.id
		c.logger.Warn().Str("sid", string(sid)).Str("state", reason).Msg("transport lost")
		c.setPhaseLocked(domain.PhaseFailed)
		h, _ := c.teardownLocked()
		if h != nil {
			c.releaseAsync(sid, h)
		}
		c.notify(sid, domain.ErrorConnectionLost, fmt.Sprintf("%s: transport %s", domain.ErrConnectionLost, reason))
	}
}

func (c *Controller) goLiveLocked() {
	s := c.sess
	s.startedAt = c.opts.Now()
	zero := time.Duration(0)
	s.metrics.Elapsed = &zero
	c.setPhaseLocked(domain.PhaseLive)
	c.publishMetricsLocked()
	c.startSamplerLocked(s)
}

// failConnectLocked tears down a session that never went live.
func (c *Controller) failConnectLocked(cause error) error {
	var sid domain.SessionID
	if c.sess != nil {
		sid = c.sess.id
	}
	c.logger.Error().Err(cause).Str("sid", string(sid)).Msg("connect failed")
	h, _ := c.teardownLocked()
	if h != nil {
		c.releaseAsync(sid, h)
	}
	c.notify(sid, domain.ErrorConnectFailed, cause.Error())
	return fmt.Errorf("%w: %w", domain.ErrConnectFailed, cause)
}

// teardownLocked ends the current session and returns the released handle
// and the session's task group. It is a no-op once the controller is Idle.
// The caller must not wait on the task group while holding c.mu.
func (c *Controller) teardownLocked() (core.Handle, *conc.WaitGroup) {
	s := c.sess
	if s == nil {
		return nil, conc.NewWaitGroup()
	}
	s.cancel()

	h := s.handle
	s.handle = nil
	if s.media != nil {
		s.media.Stop()
		s.media = nil
	}
	s.startedAt = time.Time{}
	s.metrics = domain.Metrics{}
	c.publishMetricsLocked()

	// Idle is published while c.sess still names the session it ends.
	c.setPhaseLocked(domain.PhaseIdle)
	c.sess = nil
	c.logger.Info().Str("sid", string(s.id)).Msg("session torn down")
	return h, s.tasks
}

func (c *Controller) releaseAsync(sid domain.SessionID, h core.Handle) {
	c.background.Go(func() {
		ctx, cancel := context.WithTimeout(context.Background(), c.opts.TerminateTimeout)
		defer cancel()
		if err := c.signaling.Terminate(ctx, h); err != nil {
			c.logger.Warn().Err(err).Str("sid", string(sid)).Str("resource", h.ID()).Msg("background terminate failed")
			c.notify(sid, domain.ErrorTerminate, err.Error())
		}
	})
}

func (c *Controller) setPhaseLocked(p domain.Phase) {
	prev := c.phase
	c.phase = p
	var sid domain.SessionID
	if c.sess != nil {
		sid = c.sess.id
	}
	c.logger.Debug().Str("sid", string(sid)).Stringer("from", prev).Stringer("to", p).Msg("phase")
	c.events.Publish(domain.Event{
		Type:    domain.EventPhase,
		Session: sid,
		Role:    c.role,
		Phase: &domain.PhaseChange{
			Phase:     p,
			Status:    p.Label(),
			Timestamp: c.opts.Now(),
		},
	})
}

func (c *Controller) publishMetricsLocked() {
	var (
		sid domain.SessionID
		m   domain.Metrics
	)
	if c.sess != nil {
		sid = c.sess.id
		m = c.sess.metrics
	}
	view := m.View(c.role)
	c.events.Publish(domain.Event{
		Type:    domain.EventMetrics,
		Session: sid,
		Role:    c.role,
		Metrics: &view,
		Raw:     &m,
	})
}

func (c *Controller) notify(sid domain.SessionID, kind domain.ErrorKind, msg string) {
	c.events.Publish(domain.Event{
		Type:    domain.EventError,
		Session: sid,
		Role:    c.role,
		Error:   &domain.Notification{Kind: kind, Message: msg},
	})
}
