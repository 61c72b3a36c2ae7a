package domain

import (
	"fmt"
	"time"
)

type Quality string

const (
	QualityUnknown  Quality = ""
	QualityGood     Quality = "good"
	QualityFair     Quality = "fair"
	QualityUnstable Quality = "unstable"
)

type Resolution struct {
	Width  uint32 `json:"width"`
	Height uint32 `json:"height"`
}

func (r Resolution) String() string {
	return fmt.Sprintf("%dx%d", r.Width, r.Height)
}

func (r Resolution) Valid() bool {
	return r.Width > 0 && r.Height > 0
}

// Metrics is the last-known-good sample. Nil fields have not been sampled yet.
type Metrics struct {
	Elapsed       *time.Duration
	ThroughputBps *uint64
	Resolution    *Resolution
	Quality       Quality
}

const (
	NoValue        = "-"
	NoElapsedValue = "00:00:00"
)

// MetricsView is the display form published to observers.
type MetricsView struct {
	Elapsed    string `json:"elapsed"`
	Throughput string `json:"throughput"`
	Resolution string `json:"resolution"`
	Quality    string `json:"quality,omitempty"`
}

func (m Metrics) View(role Role) MetricsView {
	v := MetricsView{
		Elapsed:    NoElapsedValue,
		Throughput: NoValue,
		Resolution: NoValue,
	}
	if m.Elapsed != nil {
		v.Elapsed = FormatElapsed(*m.Elapsed)
	}
	if m.ThroughputBps != nil {
		v.Throughput = fmt.Sprintf("%d kbps", *m.ThroughputBps/1000)
	}
	if m.Resolution != nil {
		v.Resolution = m.Resolution.String()
	}
	if role == RoleSubscriber {
		v.Quality = NoValue
		if m.Quality != QualityUnknown {
			v.Quality = string(m.Quality)
		}
	}
	return v
}

// FormatElapsed renders d as HH:MM:SS. Hours grow past 99 instead of wrapping.
func FormatElapsed(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	total := int64(d / time.Second)
	h := total / 3600
	m := (total % 3600) / 60
	s := total % 60
	return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
}

// TransportStats is what the sampler needs out of a transport statistics report.
type TransportStats struct {
	Timestamp       time.Time
	BytesSent       uint64
	PacketsReceived uint64
	PacketsLost     int64
	FrameWidth      uint32
	FrameHeight     uint32
}
