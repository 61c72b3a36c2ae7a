// Package media holds the local ends of a session: an IVF file capture that
// feeds the published track, and a render sink that consumes subscribed tracks.
package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dkeye/Stream/internal/core"
	"github.com/dkeye/Stream/internal/domain"
	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
	"github.com/pion/webrtc/v4/pkg/media/ivfreader"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var ErrUnsupportedCodec = errors.New("unsupported IVF codec")

const defaultFrameDuration = time.Second / 30

type FileCapture struct {
	open   func() (io.ReadCloser, error)
	loop   bool
	track  *webrtc.TrackLocalStaticSample
	res    domain.Resolution
	frame  time.Duration
	logger zerolog.Logger

	ready     chan struct{}
	readyOnce sync.Once
	available atomic.Bool

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	stopped bool
}

var _ core.CaptureSource = (*FileCapture)(nil)

// NewFileCapture reads the IVF header at path and prepares a sample track for
// its codec. Frames are only read once Start is called.
func NewFileCapture(path string, loop bool) (*FileCapture, error) {
	return newCapture(func() (io.ReadCloser, error) { return os.Open(path) }, loop, path)
}

func newCapture(open func() (io.ReadCloser, error), loop bool, name string) (*FileCapture, error) {
	f, err := open()
	if err != nil {
		return nil, fmt.Errorf("open capture: %w", err)
	}
	_, header, err := ivfreader.NewWith(f)
	_ = f.Close()
	if err != nil {
		return nil, fmt.Errorf("read IVF header: %w", err)
	}

	mime, err := mimeForFourCC(header.FourCC)
	if err != nil {
		return nil, err
	}
	track, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: mime}, "video", "capture-"+uuid.NewString(),
	)
	if err != nil {
		return nil, fmt.Errorf("create track: %w", err)
	}

	frame := defaultFrameDuration
	if header.TimebaseDenominator > 0 && header.TimebaseNumerator > 0 {
		frame = time.Duration(float64(time.Second) * float64(header.TimebaseNumerator) / float64(header.TimebaseDenominator))
	}

	return &FileCapture{
		open:   open,
		loop:   loop,
		track:  track,
		res:    domain.Resolution{Width: uint32(header.Width), Height: uint32(header.Height)},
		frame:  frame,
		logger: log.With().Str("module", "media").Str("source", name).Str("codec", mime).Logger(),
		ready:  make(chan struct{}),
	}, nil
}

func mimeForFourCC(fourcc string) (string, error) {
	switch fourcc {
	case "VP80":
		return webrtc.MimeTypeVP8, nil
	case "VP90":
		return webrtc.MimeTypeVP9, nil
	case "AV01":
		return webrtc.MimeTypeAV1, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnsupportedCodec, fourcc)
}

func (c *FileCapture) Tracks() []webrtc.TrackLocal { return []webrtc.TrackLocal{c.track} }

func (c *FileCapture) Ready() <-chan struct{} { return c.ready }

func (c *FileCapture) Available() bool { return c.available.Load() }

func (c *FileCapture) Dimensions() (domain.Resolution, bool) {
	return c.res, c.res.Valid()
}

func (c *FileCapture) FrameDuration() time.Duration { return c.frame }

// Start begins pacing frames onto the track until ctx ends or Stop is called.
func (c *FileCapture) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped {
		return errors.New("capture stopped")
	}
	if c.cancel != nil {
		return nil
	}
	rc, err := c.open()
	if err != nil {
		return fmt.Errorf("open capture: %w", err)
	}
	reader, _, err := ivfreader.NewWith(rc)
	if err != nil {
		_ = rc.Close()
		return fmt.Errorf("read IVF header: %w", err)
	}

	ctx, c.cancel = context.WithCancel(ctx)
	c.done = make(chan struct{})
	go c.pump(ctx, rc, reader)
	c.logger.Info().Stringer("resolution", c.res).Dur("frame", c.frame).Msg("capture started")
	return nil
}

func (c *FileCapture) pump(ctx context.Context, rc io.ReadCloser, reader *ivfreader.IVFReader) {
	defer close(c.done)
	defer func() {
		if rc != nil {
			_ = rc.Close()
		}
	}()

	ticker := time.NewTicker(c.frame)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		frame, _, err := reader.ParseNextFrame()
		if errors.Is(err, io.EOF) && c.loop {
			_ = rc.Close()
			rc = nil
			next, err := c.open()
			if err != nil {
				c.logger.Error().Err(err).Msg("reopen capture")
				c.available.Store(false)
				return
			}
			rc = next
			if reader, _, err = ivfreader.NewWith(rc); err != nil {
				c.logger.Error().Err(err).Msg("rewind capture")
				c.available.Store(false)
				return
			}
			continue
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				c.logger.Info().Msg("capture reached end of file")
			} else {
				c.logger.Error().Err(err).Msg("read frame")
			}
			c.available.Store(false)
			return
		}

		if err := c.track.WriteSample(media.Sample{Data: frame, Duration: c.frame}); err != nil {
			c.logger.Warn().Err(err).Msg("write sample")
			continue
		}
		c.available.Store(true)
		c.readyOnce.Do(func() { close(c.ready) })
	}
}

// Stop ends the pump and waits for it. The capture cannot be restarted.
func (c *FileCapture) Stop() {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return
	}
	c.stopped = true
	cancel, done := c.cancel, c.done
	c.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
	c.available.Store(false)
	c.logger.Info().Msg("capture stopped")
}
