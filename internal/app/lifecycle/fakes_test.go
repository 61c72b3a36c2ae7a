package lifecycle

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dkeye/Stream/internal/core"
	"github.com/dkeye/Stream/internal/domain"
	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/require"
)

const testEndpoint = "https://whip.example.com/api/whip"

type fakeHandle struct {
	id    string
	state atomic.Int32

	mu       sync.Mutex
	stats    domain.TransportStats
	statsErr error
}

func newFakeHandle(state webrtc.PeerConnectionState) *fakeHandle {
	h := &fakeHandle{id: "https://whip.example.com/api/whip/session/1"}
	h.setState(state)
	return h
}

func (h *fakeHandle) ID() string { return h.id }

func (h *fakeHandle) setState(s webrtc.PeerConnectionState) { h.state.Store(int32(s)) }

func (h *fakeHandle) ConnectionState() webrtc.PeerConnectionState {
	return webrtc.PeerConnectionState(h.state.Load())
}

func (h *fakeHandle) setStats(stats domain.TransportStats, err error) {
	h.mu.Lock()
	h.stats, h.statsErr = stats, err
	h.mu.Unlock()
}

func (h *fakeHandle) Statistics(context.Context) (domain.TransportStats, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.stats, h.statsErr
}

type fakeSignaling struct {
	handle       *fakeHandle
	establishErr error
	terminateErr error

	// gate, when set, holds Establish until it is closed. Unless ignoreCtx is
	// set, cancelling ctx releases it early.
	gate      chan struct{}
	ignoreCtx bool
	entered   chan struct{}

	establishCalls atomic.Int32
	terminateCalls atomic.Int32
}

// slow makes Establish block until release is called.
func (s *fakeSignaling) slow() (release func()) {
	s.gate = make(chan struct{})
	s.entered = make(chan struct{}, 1)
	var once sync.Once
	return func() { once.Do(func() { close(s.gate) }) }
}

func (s *fakeSignaling) Establish(ctx context.Context, _ string, _ core.MediaResource) (core.Handle, error) {
	s.establishCalls.Add(1)
	if s.entered != nil {
		select {
		case s.entered <- struct{}{}:
		default:
		}
	}
	if s.gate != nil {
		if s.ignoreCtx {
			<-s.gate
		} else {
			select {
			case <-s.gate:
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
	}
	if s.establishErr != nil {
		return nil, s.establishErr
	}
	return s.handle, nil
}

func (s *fakeSignaling) Terminate(context.Context, core.Handle) error {
	s.terminateCalls.Add(1)
	return s.terminateErr
}

type fakeMedia struct {
	available atomic.Bool
	ready     chan struct{}
	readyOnce sync.Once
	starts    atomic.Int32
	stops     atomic.Int32
	res       domain.Resolution
}

func newFakeMedia() *fakeMedia {
	return &fakeMedia{ready: make(chan struct{})}
}

func (m *fakeMedia) markReady() {
	m.available.Store(true)
	m.readyOnce.Do(func() { close(m.ready) })
}

func (m *fakeMedia) Start(context.Context) error { m.starts.Add(1); return nil }
func (m *fakeMedia) Available() bool             { return m.available.Load() }
func (m *fakeMedia) Stop()                       { m.stops.Add(1) }
func (m *fakeMedia) Ready() <-chan struct{}      { return m.ready }
func (m *fakeMedia) Tracks() []webrtc.TrackLocal { return nil }

func (m *fakeMedia) Dimensions() (domain.Resolution, bool) {
	return m.res, m.res.Valid()
}

type recorder struct {
	mu     sync.Mutex
	events []domain.Event
}

func (r *recorder) Publish(ev domain.Event) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

func (r *recorder) phases() []domain.Phase {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Phase
	for _, ev := range r.events {
		if ev.Type == domain.EventPhase {
			out = append(out, ev.Phase.Phase)
		}
	}
	return out
}

func (r *recorder) phaseSessions() []domain.SessionID {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.SessionID
	for _, ev := range r.events {
		if ev.Type == domain.EventPhase {
			out = append(out, ev.Session)
		}
	}
	return out
}

func (r *recorder) errorKinds() []domain.ErrorKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.ErrorKind
	for _, ev := range r.events {
		if ev.Type == domain.EventError {
			out = append(out, ev.Error.Kind)
		}
	}
	return out
}

func (r *recorder) lastMetrics() (domain.MetricsView, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.events) - 1; i >= 0; i-- {
		if r.events[i].Type == domain.EventMetrics {
			return *r.events[i].Metrics, true
		}
	}
	return domain.MetricsView{}, false
}

type fixture struct {
	ctrl   *Controller
	sig    *fakeSignaling
	handle *fakeHandle
	media  *fakeMedia
	events *recorder
}

func newFixture(t *testing.T, role domain.Role, mutate ...func(*Options)) *fixture {
	t.Helper()
	f := &fixture{
		handle: newFakeHandle(webrtc.PeerConnectionStateNew),
		media:  newFakeMedia(),
		events: &recorder{},
	}
	f.sig = &fakeSignaling{handle: f.handle}
	opts := Options{
		Role:             role,
		Signaling:        f.sig,
		Media:            func() (core.MediaResource, error) { return f.media, nil },
		Events:           f.events,
		WatchInterval:    5 * time.Millisecond,
		ElapsedInterval:  5 * time.Millisecond,
		StatsInterval:    5 * time.Millisecond,
		ReadyTimeout:     60 * time.Millisecond,
		ReadyPoll:        10 * time.Millisecond,
		TerminateTimeout: 200 * time.Millisecond,
	}
	for _, m := range mutate {
		m(&opts)
	}
	ctrl, err := New(opts)
	require.NoError(t, err)
	f.ctrl = ctrl
	t.Cleanup(func() {
		ctrl.Shutdown()
		ctrl.Wait()
	})
	return f
}

func (f *fixture) phase() domain.Phase {
	return f.ctrl.Snapshot().Phase
}

func (f *fixture) requirePhase(t *testing.T, p domain.Phase) {
	t.Helper()
	require.Eventually(t, func() bool { return f.phase() == p }, time.Second, 2*time.Millisecond,
		"phase never became %s", p)
}

// goLive drives a fixture through Connecting into Live.
func (f *fixture) goLive(t *testing.T) {
	t.Helper()
	if f.ctrl.Role() == domain.RolePublisher {
		f.media.markReady()
	} else {
		f.handle.setState(webrtc.PeerConnectionStateConnected)
	}
	require.NoError(t, f.ctrl.Start(context.Background(), testEndpoint))
	f.requirePhase(t, domain.PhaseLive)
}
