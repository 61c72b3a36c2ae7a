package media

import (
	"encoding/binary"

	"github.com/dkeye/Stream/internal/domain"
	"github.com/pion/rtp/codecs"
)

// VP8 keyframe start code, RFC 6386 section 9.1.
var vp8StartCode = [3]byte{0x9d, 0x01, 0x2a}

// VP8KeyframeDimensions reads the frame size from the first RTP packet of a
// VP8 keyframe. ok is false for interframes and continuation packets.
func VP8KeyframeDimensions(rtpPayload []byte) (res domain.Resolution, ok bool) {
	var pkt codecs.VP8Packet
	frame, err := pkt.Unmarshal(rtpPayload)
	if err != nil || pkt.S != 1 || pkt.PID != 0 {
		return res, false
	}
	return vp8FrameDimensions(frame)
}

func vp8FrameDimensions(frame []byte) (domain.Resolution, bool) {
	if len(frame) < 10 {
		return domain.Resolution{}, false
	}
	// P bit clear means keyframe.
	if frame[0]&0x01 != 0 {
		return domain.Resolution{}, false
	}
	if frame[3] != vp8StartCode[0] || frame[4] != vp8StartCode[1] || frame[5] != vp8StartCode[2] {
		return domain.Resolution{}, false
	}
	res := domain.Resolution{
		Width:  uint32(binary.LittleEndian.Uint16(frame[6:8]) & 0x3fff),
		Height: uint32(binary.LittleEndian.Uint16(frame[8:10]) & 0x3fff),
	}
	return res, res.Valid()
}
