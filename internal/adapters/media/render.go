package media

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dkeye/Stream/internal/core"
	"github.com/dkeye/Stream/internal/domain"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media/ivfwriter"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/conc"
)

// Sink drains subscribed tracks. Video keyframes update the decoded frame
// size; the first video track is optionally recorded to an IVF file.
type Sink struct {
	recordPath string
	logger     zerolog.Logger

	available atomic.Bool
	packets   atomic.Uint64

	mu       sync.Mutex
	res      domain.Resolution
	tracks   []*webrtc.TrackRemote
	recorder *ivfwriter.IVFWriter
	ctx      context.Context
	cancel   context.CancelFunc
	stopped  bool
	drains   conc.WaitGroup
}

var _ core.RenderTarget = (*Sink)(nil)

func NewSink(recordPath string) *Sink {
	return &Sink{
		recordPath: strings.TrimSpace(recordPath),
		logger:     log.With().Str("module", "media").Str("sink", "render").Logger(),
	}
}

func (s *Sink) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel == nil {
		s.ctx, s.cancel = context.WithCancel(ctx)
	}
	return nil
}

// Available reports whether any RTP packet has been received.
func (s *Sink) Available() bool { return s.available.Load() }

func (s *Sink) Packets() uint64 { return s.packets.Load() }

func (s *Sink) Dimensions() (domain.Resolution, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.res, s.res.Valid()
}

// Attach starts draining track. The drain is registered under the sink lock so
// it can never start after Stop has begun waiting.
func (s *Sink) Attach(ctx context.Context, track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	s.tracks = append(s.tracks, track)
	if s.ctx != nil {
		ctx = s.ctx
	}

	codec := track.Codec().MimeType
	video := track.Kind() == webrtc.RTPCodecTypeVideo
	record := false
	if video && s.recordPath != "" && s.recorder == nil {
		w, err := ivfwriter.New(s.recordPath, ivfwriter.WithCodec(codec))
		if err != nil {
			s.logger.Error().Err(err).Str("path", s.recordPath).Str("codec", codec).Msg("recorder")
		} else {
			s.recorder = w
			record = true
		}
	}

	logger := s.logger.With().Str("kind", track.Kind().String()).Str("codec", codec).Logger()
	logger.Info().Bool("record", record).Msg("track attached")
	vp8 := strings.EqualFold(codec, webrtc.MimeTypeVP8)
	s.drains.Go(func() { s.loop(ctx, track, video && vp8, record, &logger) })
}

// loop reads RTP packets from the track until it fails or ctx ends.
func (s *Sink) loop(ctx context.Context, track *webrtc.TrackRemote, parseVP8, record bool, logger *zerolog.Logger) {
	for {
		select {
		case <-ctx.Done():
			logger.Debug().Msg("sink ctx done")
			return
		default:
		}
		pkt, _, err := track.ReadRTP()
		if err != nil {
			logger.Debug().Err(err).Msg("sink read RTP stopped")
			return
		}
		s.packets.Add(1)
		s.available.Store(true)
		s.consume(pkt, parseVP8, record, logger)
	}
}

func (s *Sink) consume(pkt *rtp.Packet, parseVP8, record bool, logger *zerolog.Logger) {
	if parseVP8 {
		if res, ok := VP8KeyframeDimensions(pkt.Payload); ok {
			s.mu.Lock()
			changed := res != s.res
			s.res = res
			s.mu.Unlock()
			if changed {
				logger.Info().Stringer("resolution", res).Msg("keyframe resolution")
			}
		}
	}
	if record {
		s.mu.Lock()
		if s.recorder != nil {
			if err := s.recorder.WriteRTP(pkt); err != nil {
				logger.Warn().Err(err).Msg("record RTP")
			}
		}
		s.mu.Unlock()
	}
}

// Stop unblocks every drain loop, waits for them and finalises the recording.
func (s *Sink) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	if s.cancel != nil {
		s.cancel()
	}
	for _, t := range s.tracks {
		_ = t.SetReadDeadline(time.Now())
	}
	s.mu.Unlock()

	s.drains.Wait()

	s.mu.Lock()
	if s.recorder != nil {
		if err := s.recorder.Close(); err != nil {
			s.logger.Warn().Err(err).Msg("close recorder")
		}
		s.recorder = nil
	}
	s.res = domain.Resolution{}
	s.mu.Unlock()
	s.available.Store(false)
	s.logger.Info().Uint64("packets", s.packets.Load()).Msg("sink stopped")
}
