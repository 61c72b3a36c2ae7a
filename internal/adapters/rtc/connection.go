package rtc

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/dkeye/Stream/internal/domain"
	"github.com/pion/interceptor/pkg/stats"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

var ErrClosed = errors.New("peer connection closed")

type Connection struct {
	pc    *webrtc.PeerConnection
	label string

	mu      sync.Mutex
	getter  stats.Getter
	onTrack func(ctx context.Context, track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver)
	ctx     context.Context
	cancel  context.CancelFunc

	closeOnce sync.Once
	closeErr  error
}

func NewConnection(cfg webrtc.Configuration, label string) (*Connection, error) {
	c := &Connection{label: label}
	api, err := newAPI(func(g stats.Getter) {
		c.mu.Lock()
		c.getter = g
		c.mu.Unlock()
	})
	if err != nil {
		return nil, err
	}
	pc, err := api.NewPeerConnection(cfg)
	if err != nil {
		return nil, err
	}
	c.pc = pc
	c.ctx, c.cancel = context.WithCancel(context.Background())
	c.start()
	return c, nil
}

func (c *Connection) start() {
	c.pc.OnICEConnectionStateChange(func(s webrtc.ICEConnectionState) {
		log.Debug().Str("module", "webrtc").Str("sid", c.label).Str("ice_state", s.String()).Msg("ICE state")
	})

	c.pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		log.Info().Str("module", "webrtc").Str("sid", c.label).Str("peer_connection_state", s.String()).Msg("Peer state")
		if s == webrtc.PeerConnectionStateClosed {
			c.cancel()
		}
	})

	c.pc.OnTrack(func(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
		log.Info().
			Str("module", "webrtc").
			Str("sid", c.label).
			Str("kind", track.Kind().String()).
			Str("codec", track.Codec().MimeType).
			Str("track_id", track.ID()).
			Msg("OnTrack received")
		c.mu.Lock()
		fn := c.onTrack
		c.mu.Unlock()
		if fn != nil {
			fn(c.ctx, track, receiver)
		}
	})
}

// OnTrack sets the callback for remote tracks. ctx ends when the connection closes.
func (c *Connection) OnTrack(fn func(ctx context.Context, track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver)) {
	c.mu.Lock()
	c.onTrack = fn
	c.mu.Unlock()
}

// AddSendTracks adds each track on a send-only transceiver and drains the
// sender's RTCP so interceptors keep running.
func (c *Connection) AddSendTracks(tracks []webrtc.TrackLocal) error {
	for _, track := range tracks {
		tr, err := c.pc.AddTransceiverFromTrack(track, webrtc.RTPTransceiverInit{
			Direction: webrtc.RTPTransceiverDirectionSendonly,
		})
		if err != nil {
			return fmt.Errorf("add %s track: %w", track.Kind(), err)
		}
		sender := tr.Sender()
		go func() {
			buf := make([]byte, 1500)
			for {
				if _, _, err := sender.Read(buf); err != nil {
					return
				}
			}
		}()
	}
	return nil
}

func (c *Connection) AddRecvOnly(kinds ...webrtc.RTPCodecType) error {
	for _, kind := range kinds {
		if _, err := c.pc.AddTransceiverFromKind(kind, webrtc.RTPTransceiverInit{
			Direction: webrtc.RTPTransceiverDirectionRecvonly,
		}); err != nil {
			return fmt.Errorf("add %s transceiver: %w", kind, err)
		}
	}
	return nil
}

// CreateOffer sets a local offer and waits for ICE gathering so the returned
// SDP carries every candidate.
func (c *Connection) CreateOffer(ctx context.Context) (*webrtc.SessionDescription, error) {
	offer, err := c.pc.CreateOffer(nil)
	if err != nil {
		return nil, err
	}
	gatherComplete := webrtc.GatheringCompletePromise(c.pc)
	if err := c.pc.SetLocalDescription(offer); err != nil {
		return nil, err
	}
	select {
	case <-gatherComplete:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return c.pc.LocalDescription(), nil
}

func (c *Connection) ApplyAnswer(sdp string) error {
	return c.pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: sdp})
}

func (c *Connection) ConnectionState() webrtc.PeerConnectionState {
	return c.pc.ConnectionState()
}

// Statistics summarises RTP counters from the stats interceptor.
func (c *Connection) Statistics(ctx context.Context) (domain.TransportStats, error) {
	if err := ctx.Err(); err != nil {
		return domain.TransportStats{}, err
	}
	if c.pc.ConnectionState() == webrtc.PeerConnectionStateClosed {
		return domain.TransportStats{}, ErrClosed
	}
	c.mu.Lock()
	g := c.getter
	c.mu.Unlock()
	if g == nil {
		return domain.TransportStats{}, errors.New("stats getter not ready")
	}

	var out, in []streamRef
	for _, sender := range c.pc.GetSenders() {
		track := sender.Track()
		if track == nil {
			continue
		}
		for _, enc := range sender.GetParameters().Encodings {
			out = append(out, streamRef{ssrc: uint32(enc.SSRC), kind: track.Kind()})
		}
	}
	for _, receiver := range c.pc.GetReceivers() {
		for _, track := range receiver.Tracks() {
			in = append(in, streamRef{ssrc: uint32(track.SSRC()), kind: track.Kind()})
		}
	}
	return summarize(g, out, in), nil
}

func (c *Connection) Close() error {
	c.closeOnce.Do(func() {
		c.cancel()
		c.closeErr = c.pc.Close()
		if c.closeErr != nil {
			log.Error().Err(c.closeErr).Str("module", "webrtc").Str("sid", c.label).Msg("close error")
		} else {
			log.Info().Str("module", "webrtc").Str("sid", c.label).Msg("closed")
		}
	})
	return c.closeErr
}
