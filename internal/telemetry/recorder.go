package telemetry

import (
	"context"
	"sync"
	"time"

	"github.com/dkeye/Stream/internal/domain"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Recorder turns observer events into metric instruments. It subscribes to
// the events hub like any other observer.
type Recorder struct {
	transitions metric.Int64Counter
	failures    metric.Int64Counter
	live        metric.Int64UpDownCounter
	duration    metric.Float64Histogram
	throughput  metric.Int64Histogram
	quality     metric.Int64Counter

	mu      sync.Mutex
	liveAt  time.Time
	isLive  bool
	lastBps *uint64
}

func NewRecorder(meter metric.Meter) (*Recorder, error) {
	r := &Recorder{}
	var err error
	if r.transitions, err = meter.Int64Counter("stream.session.transitions",
		metric.WithDescription("Session phase transitions")); err != nil {
		return nil, err
	}
	if r.failures, err = meter.Int64Counter("stream.session.errors",
		metric.WithDescription("Session error notifications by kind")); err != nil {
		return nil, err
	}
	if r.live, err = meter.Int64UpDownCounter("stream.session.live",
		metric.WithDescription("1 while the session is live")); err != nil {
		return nil, err
	}
	if r.duration, err = meter.Float64Histogram("stream.session.duration",
		metric.WithUnit("s"),
		metric.WithDescription("Time spent live per session")); err != nil {
		return nil, err
	}
	if r.throughput, err = meter.Int64Histogram("stream.session.throughput",
		metric.WithUnit("bit/s"),
		metric.WithDescription("Sampled outbound throughput")); err != nil {
		return nil, err
	}
	if r.quality, err = meter.Int64Counter("stream.session.quality",
		metric.WithDescription("Metrics updates by receive quality class")); err != nil {
		return nil, err
	}
	return r, nil
}

// TrySend never blocks and never fails.
func (r *Recorder) TrySend(ev domain.Event) error {
	ctx := context.Background()
	role := attribute.String("role", ev.Role.String())
	switch ev.Type {
	case domain.EventPhase:
		if ev.Phase != nil {
			r.recordPhase(ctx, role, *ev.Phase)
		}
	case domain.EventError:
		if ev.Error != nil {
			r.failures.Add(ctx, 1, metric.WithAttributes(role, attribute.String("kind", string(ev.Error.Kind))))
		}
	case domain.EventMetrics:
		if ev.Raw != nil {
			r.recordSample(ctx, role, *ev.Raw)
		}
	}
	return nil
}

func (r *Recorder) Close() {}

func (r *Recorder) recordPhase(ctx context.Context, role attribute.KeyValue, pc domain.PhaseChange) {
	r.transitions.Add(ctx, 1, metric.WithAttributes(role, attribute.String("phase", pc.Phase.String())))

	r.mu.Lock()
	defer r.mu.Unlock()
	switch {
	case pc.Phase == domain.PhaseLive && !r.isLive:
		r.isLive = true
		r.liveAt = pc.Timestamp
		r.lastBps = nil
		r.live.Add(ctx, 1, metric.WithAttributes(role))
	case pc.Phase != domain.PhaseLive && r.isLive:
		r.isLive = false
		r.live.Add(ctx, -1, metric.WithAttributes(role))
		if d := pc.Timestamp.Sub(r.liveAt); d >= 0 {
			r.duration.Record(ctx, d.Seconds(), metric.WithAttributes(role))
		}
	}
}

func (r *Recorder) recordSample(ctx context.Context, role attribute.KeyValue, m domain.Metrics) {
	r.mu.Lock()
	fresh := m.ThroughputBps != nil && (r.lastBps == nil || r.lastBps != m.ThroughputBps)
	if fresh {
		r.lastBps = m.ThroughputBps
	}
	r.mu.Unlock()

	if fresh {
		r.throughput.Record(ctx, int64(*m.ThroughputBps), metric.WithAttributes(role))
	}
	if m.Quality != domain.QualityUnknown {
		r.quality.Add(ctx, 1, metric.WithAttributes(role, attribute.String("quality", string(m.Quality))))
	}
}
