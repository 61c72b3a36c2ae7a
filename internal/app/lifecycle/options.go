package lifecycle

import (
	"time"

	"github.com/dkeye/Stream/internal/core"
	"github.com/dkeye/Stream/internal/domain"
)

const (
	DefaultWatchInterval         = time.Second
	DefaultElapsedInterval       = time.Second
	DefaultPublisherStatsPeriod  = 2 * time.Second
	DefaultSubscriberStatsPeriod = 5 * time.Second
	DefaultReadyTimeout          = 2 * time.Second
	DefaultReadyPoll             = 200 * time.Millisecond
	DefaultEstablishTimeout      = 10 * time.Second
	DefaultTerminateTimeout      = 3 * time.Second
)

type Options struct {
	Role      domain.Role
	Signaling core.Signaling
	Media     core.MediaFactory
	Events    core.EventSink

	WatchInterval    time.Duration
	ElapsedInterval  time.Duration
	StatsInterval    time.Duration
	ReadyTimeout     time.Duration
	ReadyPoll        time.Duration
	EstablishTimeout time.Duration
	TerminateTimeout time.Duration

	// Now is the clock used for startedAt and elapsed time.
	Now func() time.Time
}

func (o *Options) setDefaults() {
	if o.WatchInterval <= 0 {
		o.WatchInterval = DefaultWatchInterval
	}
	if o.ElapsedInterval <= 0 {
		o.ElapsedInterval = DefaultElapsedInterval
	}
	if o.StatsInterval <= 0 {
		o.StatsInterval = DefaultPublisherStatsPeriod
		if o.Role == domain.RoleSubscriber {
			o.StatsInterval = DefaultSubscriberStatsPeriod
		}
	}
	if o.ReadyTimeout <= 0 {
		o.ReadyTimeout = DefaultReadyTimeout
	}
	if o.ReadyPoll <= 0 || o.ReadyPoll > o.ReadyTimeout {
		o.ReadyPoll = min(DefaultReadyPoll, o.ReadyTimeout)
	}
	if o.EstablishTimeout <= 0 {
		o.EstablishTimeout = DefaultEstablishTimeout
	}
	if o.TerminateTimeout <= 0 {
		o.TerminateTimeout = DefaultTerminateTimeout
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.Events == nil {
		o.Events = discardSink{}
	}
}

type discardSink struct{}

func (discardSink) Publish(domain.Event) {}
