package rtc

import (
	"time"

	"github.com/dkeye/Stream/internal/domain"
	"github.com/pion/interceptor/pkg/stats"
	"github.com/pion/webrtc/v4"
)

type streamRef struct {
	ssrc uint32
	kind webrtc.RTPCodecType
}

// summarize adds up video stream counters. Audio is ignored unless no video
// stream exists at all.
func summarize(g stats.Getter, outbound, inbound []streamRef) domain.TransportStats {
	res := domain.TransportStats{Timestamp: time.Now()}

	for _, ref := range preferVideo(outbound) {
		if s := g.Get(ref.ssrc); s != nil {
			res.BytesSent += s.OutboundRTPStreamStats.BytesSent
		}
	}
	for _, ref := range preferVideo(inbound) {
		if s := g.Get(ref.ssrc); s != nil {
			res.PacketsReceived += s.InboundRTPStreamStats.PacketsReceived
			res.PacketsLost += s.InboundRTPStreamStats.PacketsLost
		}
	}
	return res
}

func preferVideo(refs []streamRef) []streamRef {
	video := make([]streamRef, 0, len(refs))
	for _, r := range refs {
		if r.kind == webrtc.RTPCodecTypeVideo {
			video = append(video, r)
		}
	}
	if len(video) == 0 {
		return refs
	}
	return video
}
