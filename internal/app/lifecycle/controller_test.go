package lifecycle

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/dkeye/Stream/internal/core"
	"github.com/dkeye/Stream/internal/core/mocks"
	"github.com/dkeye/Stream/internal/domain"
	"github.com/pion/transport/v3/test"
	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

func TestNew_RequiresCollaborators(t *testing.T) {
	_, err := New(Options{})
	require.Error(t, err)

	_, err = New(Options{Signaling: &fakeSignaling{}})
	require.Error(t, err)
}

func TestController_StartRejectsInvalidEndpoint(t *testing.T) {
	f := newFixture(t, domain.RoleSubscriber)

	for _, endpoint := range []string{"", "   ", "not a url", "ftp://example.com/whep", "http://", "/relative/whep"} {
		err := f.ctrl.Start(context.Background(), endpoint)
		assert.ErrorIs(t, err, domain.ErrInvalidEndpoint, "endpoint %q", endpoint)
	}

	assert.Equal(t, domain.PhaseIdle, f.phase())
	assert.Zero(t, f.sig.establishCalls.Load())
	assert.Empty(t, f.events.phases())
}

func TestController_StartWhileActiveReturnsAlreadyActive(t *testing.T) {
	f := newFixture(t, domain.RoleSubscriber)

	require.NoError(t, f.ctrl.Start(context.Background(), testEndpoint))
	require.Equal(t, domain.PhaseConnecting, f.phase())

	err := f.ctrl.Start(context.Background(), testEndpoint)
	assert.ErrorIs(t, err, domain.ErrAlreadyActive)
	assert.Equal(t, domain.PhaseConnecting, f.phase())
	assert.Equal(t, int32(1), f.sig.establishCalls.Load())

	f.handle.setState(webrtc.PeerConnectionStateConnected)
	f.requirePhase(t, domain.PhaseLive)

	err = f.ctrl.Start(context.Background(), "")
	assert.ErrorIs(t, err, domain.ErrAlreadyActive)
	assert.Equal(t, domain.PhaseLive, f.phase())
}

func TestController_SubscriberConnectingThenConnectedGoesLive(t *testing.T) {
	report := test.CheckRoutines(t)
	defer report()

	f := newFixture(t, domain.RoleSubscriber, func(o *Options) {
		o.WatchInterval = 20 * time.Millisecond
	})
	f.handle.setState(webrtc.PeerConnectionStateConnecting)

	require.NoError(t, f.ctrl.Start(context.Background(), testEndpoint))
	snap := f.ctrl.Snapshot()
	assert.Equal(t, domain.PhaseConnecting, snap.Phase)
	assert.True(t, snap.HasHandle)
	assert.Nil(t, snap.StartedAt)

	f.handle.setState(webrtc.PeerConnectionStateConnected)
	f.requirePhase(t, domain.PhaseLive)

	// Further connected polls must not restart anything. The sampler only
	// starts on entry to Live, so a single Live event means a single start.
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, []domain.Phase{domain.PhaseConnecting, domain.PhaseLive}, f.events.phases())

	snap = f.ctrl.Snapshot()
	assert.True(t, snap.HasHandle)
	require.NotNil(t, snap.StartedAt)
	assert.Equal(t, "online", snap.Status)

	require.NoError(t, f.ctrl.Stop(context.Background()))
	f.ctrl.Wait()
}

func TestController_PublisherGoesLiveWhenCaptureIsReady(t *testing.T) {
	f := newFixture(t, domain.RolePublisher, func(o *Options) {
		o.ReadyTimeout = time.Second
	})

	require.NoError(t, f.ctrl.Start(context.Background(), testEndpoint))
	assert.Equal(t, domain.PhaseConnecting, f.phase())
	assert.Equal(t, int32(1), f.media.starts.Load())

	f.media.markReady()
	f.requirePhase(t, domain.PhaseLive)
	assert.Empty(t, f.events.errorKinds())
}

func TestController_PublisherCaptureNeverReadyFailsToConnect(t *testing.T) {
	report := test.CheckRoutines(t)
	defer report()

	f := newFixture(t, domain.RolePublisher)

	require.NoError(t, f.ctrl.Start(context.Background(), testEndpoint))
	f.requirePhase(t, domain.PhaseIdle)
	f.ctrl.Wait()

	snap := f.ctrl.Snapshot()
	assert.False(t, snap.HasHandle)
	assert.Nil(t, snap.StartedAt)
	assert.Equal(t, []domain.ErrorKind{domain.ErrorConnectFailed}, f.events.errorKinds())
	assert.Equal(t, []domain.Phase{domain.PhaseConnecting, domain.PhaseIdle}, f.events.phases())
	assert.Equal(t, int32(1), f.media.stops.Load())
	assert.Equal(t, int32(1), f.sig.terminateCalls.Load())

	// The deadline is one-shot.
	time.Sleep(100 * time.Millisecond)
	assert.Len(t, f.events.errorKinds(), 1)
}

func TestController_EstablishErrorReturnsConnectFailed(t *testing.T) {
	f := newFixture(t, domain.RoleSubscriber)
	f.sig.establishErr = errors.New("whep: 503 service unavailable")

	err := f.ctrl.Start(context.Background(), testEndpoint)
	require.ErrorIs(t, err, domain.ErrConnectFailed)
	assert.Contains(t, err.Error(), "503")

	assert.Equal(t, domain.PhaseIdle, f.phase())
	assert.False(t, f.ctrl.Snapshot().HasHandle)
	assert.Equal(t, int32(1), f.media.stops.Load())
	assert.Zero(t, f.sig.terminateCalls.Load())
	assert.Equal(t, []domain.ErrorKind{domain.ErrorConnectFailed}, f.events.errorKinds())

	// Recoverable by retrying.
	f.sig.establishErr = nil
	require.NoError(t, f.ctrl.Start(context.Background(), testEndpoint))
	assert.Equal(t, domain.PhaseConnecting, f.phase())
}

func TestController_MediaAcquireErrorReturnsConnectFailed(t *testing.T) {
	f := newFixture(t, domain.RolePublisher, func(o *Options) {
		o.Media = func() (core.MediaResource, error) { return nil, errors.New("no such file") }
	})

	err := f.ctrl.Start(context.Background(), testEndpoint)
	require.ErrorIs(t, err, domain.ErrConnectFailed)
	assert.Equal(t, domain.PhaseIdle, f.phase())
	assert.Zero(t, f.sig.establishCalls.Load())
}

func TestController_StopWhenIdleIsNoop(t *testing.T) {
	f := newFixture(t, domain.RolePublisher)

	require.NoError(t, f.ctrl.Stop(context.Background()))
	assert.Empty(t, f.events.phases())
	assert.Zero(t, f.sig.terminateCalls.Load())
}

func TestController_StopTwiceReleasesOnce(t *testing.T) {
	f := newFixture(t, domain.RolePublisher)
	f.goLive(t)

	require.NoError(t, f.ctrl.Stop(context.Background()))
	require.NoError(t, f.ctrl.Stop(context.Background()))

	assert.Equal(t, domain.PhaseIdle, f.phase())
	assert.Equal(t, int32(1), f.media.stops.Load())
	assert.Equal(t, int32(1), f.sig.terminateCalls.Load())

	view, ok := f.events.lastMetrics()
	require.True(t, ok)
	assert.Equal(t, domain.NoElapsedValue, view.Elapsed)
	assert.Equal(t, domain.NoValue, view.Throughput)
	assert.Equal(t, domain.NoValue, view.Resolution)
}

func TestController_StopReportsTerminateErrorButTearsDown(t *testing.T) {
	mc := gomock.NewController(t)
	sig := mocks.NewMockSignaling(mc)
	h := mocks.NewMockHandle(mc)
	media := newFakeMedia()
	media.markReady()
	events := &recorder{}

	h.EXPECT().ID().Return("https://whip.example.com/resource/9").AnyTimes()
	h.EXPECT().Statistics(gomock.Any()).Return(domain.TransportStats{}, nil).AnyTimes()
	sig.EXPECT().Establish(gomock.Any(), testEndpoint, media).Return(h, nil)
	sig.EXPECT().Terminate(gomock.Any(), h).Return(errors.New("DELETE 500"))

	ctrl, err := New(Options{
		Role:      domain.RolePublisher,
		Signaling: sig,
		Media:     func() (core.MediaResource, error) { return media, nil },
		Events:    events,
	})
	require.NoError(t, err)

	require.NoError(t, ctrl.Start(context.Background(), testEndpoint))
	require.Eventually(t, func() bool { return ctrl.Snapshot().Phase == domain.PhaseLive }, time.Second, 5*time.Millisecond)

	err = ctrl.Stop(context.Background())
	require.ErrorIs(t, err, domain.ErrTerminate)

	snap := ctrl.Snapshot()
	assert.Equal(t, domain.PhaseIdle, snap.Phase)
	assert.False(t, snap.HasHandle)
	assert.Equal(t, int32(1), media.stops.Load())
	assert.Equal(t, []domain.ErrorKind{domain.ErrorTerminate}, events.errorKinds())
}

func TestController_StopDoesNotWaitForHungTerminate(t *testing.T) {
	mc := gomock.NewController(t)
	sig := mocks.NewMockSignaling(mc)
	h := mocks.NewMockHandle(mc)
	media := newFakeMedia()

	h.EXPECT().ID().Return("res").AnyTimes()
	h.EXPECT().ConnectionState().Return(webrtc.PeerConnectionStateConnecting).AnyTimes()
	sig.EXPECT().Establish(gomock.Any(), gomock.Any(), gomock.Any()).Return(h, nil)
	sig.EXPECT().Terminate(gomock.Any(), h).DoAndReturn(func(ctx context.Context, _ core.Handle) error {
		<-ctx.Done()
		return ctx.Err()
	})

	ctrl, err := New(Options{
		Role:             domain.RoleSubscriber,
		Signaling:        sig,
		Media:            func() (core.MediaResource, error) { return media, nil },
		WatchInterval:    5 * time.Millisecond,
		TerminateTimeout: 50 * time.Millisecond,
	})
	require.NoError(t, err)
	require.NoError(t, ctrl.Start(context.Background(), testEndpoint))

	started := time.Now()
	err = ctrl.Stop(context.Background())
	require.ErrorIs(t, err, domain.ErrTerminate)
	assert.Less(t, time.Since(started), time.Second)
	assert.Equal(t, domain.PhaseIdle, ctrl.Snapshot().Phase)
	assert.Equal(t, int32(1), media.stops.Load())
}

func TestController_TransportLostTearsDownAndNotifies(t *testing.T) {
	report := test.CheckRoutines(t)
	defer report()

	f := newFixture(t, domain.RoleSubscriber)
	f.goLive(t)

	f.handle.setState(webrtc.PeerConnectionStateClosed)
	f.requirePhase(t, domain.PhaseIdle)
	f.ctrl.Wait()

	assert.Equal(t, []domain.Phase{
		domain.PhaseConnecting, domain.PhaseLive, domain.PhaseFailed, domain.PhaseIdle,
	}, f.events.phases())
	assert.Equal(t, []domain.ErrorKind{domain.ErrorConnectionLost}, f.events.errorKinds())
	assert.Equal(t, int32(1), f.media.stops.Load())
	assert.Equal(t, int32(1), f.sig.terminateCalls.Load())
	assert.False(t, f.ctrl.Snapshot().HasHandle)
}

func TestController_StaleLostEventIsNoop(t *testing.T) {
	f := newFixture(t, domain.RoleSubscriber)
	f.goLive(t)

	f.ctrl.mu.Lock()
	oldEpoch := f.ctrl.sess.epoch
	f.ctrl.mu.Unlock()

	require.NoError(t, f.ctrl.Stop(context.Background()))
	phasesBefore := f.events.phases()

	f.ctrl.onTransportLost(oldEpoch, "failed")
	f.ctrl.onReachedLive(oldEpoch)
	f.ctrl.applyElapsed(oldEpoch)

	assert.Equal(t, phasesBefore, f.events.phases())
	assert.Empty(t, f.events.errorKinds())
	assert.Equal(t, int32(1), f.media.stops.Load())

	// A stale event must not leak into the next session either.
	f.handle.setState(webrtc.PeerConnectionStateConnecting)
	require.NoError(t, f.ctrl.Start(context.Background(), testEndpoint))
	f.ctrl.onTransportLost(oldEpoch, "failed")
	assert.Equal(t, domain.PhaseConnecting, f.phase())
}

func TestController_LostRacingStopReleasesOnce(t *testing.T) {
	for range 20 {
		f := newFixture(t, domain.RoleSubscriber)
		f.goLive(t)

		f.ctrl.mu.Lock()
		epoch := f.ctrl.sess.epoch
		f.ctrl.mu.Unlock()

		var wg sync.WaitGroup
		wg.Add(2)
		go func() { defer wg.Done(); f.ctrl.onTransportLost(epoch, "disconnected") }()
		go func() { defer wg.Done(); _ = f.ctrl.Stop(context.Background()) }()
		wg.Wait()
		f.ctrl.Wait()

		assert.Equal(t, domain.PhaseIdle, f.phase())
		assert.Equal(t, int32(1), f.media.stops.Load())
		assert.Equal(t, int32(1), f.sig.terminateCalls.Load())
	}
}

func TestController_ConnectingLossFailsToConnect(t *testing.T) {
	f := newFixture(t, domain.RoleSubscriber)
	f.handle.setState(webrtc.PeerConnectionStateFailed)

	require.NoError(t, f.ctrl.Start(context.Background(), testEndpoint))
	f.requirePhase(t, domain.PhaseIdle)

	assert.Equal(t, []domain.ErrorKind{domain.ErrorConnectFailed}, f.events.errorKinds())
	assert.NotContains(t, f.events.phases(), domain.PhaseLive)
}

func TestController_ShutdownReleasesLocallyAndTerminatesInBackground(t *testing.T) {
	f := newFixture(t, domain.RolePublisher)
	f.goLive(t)

	f.ctrl.Shutdown()
	assert.Equal(t, domain.PhaseIdle, f.phase())
	assert.Equal(t, int32(1), f.media.stops.Load())

	f.ctrl.Wait()
	assert.Equal(t, int32(1), f.sig.terminateCalls.Load())

	f.ctrl.Shutdown()
	f.ctrl.Wait()
	assert.Equal(t, int32(1), f.sig.terminateCalls.Load())
}

func TestController_HandlePresenceMatchesPhase(t *testing.T) {
	f := newFixture(t, domain.RoleSubscriber)
	rng := rand.New(rand.NewSource(7))

	check := func() {
		snap := f.ctrl.Snapshot()
		active := snap.Phase == domain.PhaseConnecting || snap.Phase == domain.PhaseLive
		require.Equal(t, active, snap.HasHandle, "phase %s", snap.Phase)
		require.Equal(t, snap.Phase == domain.PhaseLive, snap.StartedAt != nil, "phase %s", snap.Phase)
	}

	for range 200 {
		switch rng.Intn(5) {
		case 0, 1:
			_ = f.ctrl.Start(context.Background(), testEndpoint)
		case 2:
			_ = f.ctrl.Stop(context.Background())
		case 3:
			f.handle.setState(webrtc.PeerConnectionStateConnected)
		case 4:
			f.handle.setState(webrtc.PeerConnectionStateDisconnected)
		}
		check()
		time.Sleep(time.Duration(rng.Intn(3)) * time.Millisecond)
		check()
	}
}
