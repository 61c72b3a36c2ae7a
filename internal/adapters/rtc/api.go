package rtc

import (
	"fmt"
	"strings"

	"github.com/pion/interceptor"
	"github.com/pion/interceptor/pkg/stats"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

const defaultSTUN = "stun:stun.l.google.com:19302"

func DefaultWebRTCConfig() webrtc.Configuration {
	return WebRTCConfig(nil)
}

// WebRTCConfig builds a configuration from ICE server URLs. Entries may carry
// credentials as "turn:host:port?transport=udp|user|pass".
func WebRTCConfig(urls []string) webrtc.Configuration {
	if len(urls) == 0 {
		urls = []string{defaultSTUN}
	}
	cfg := webrtc.Configuration{}
	for _, raw := range urls {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		parts := strings.SplitN(raw, "|", 3)
		server := webrtc.ICEServer{URLs: []string{parts[0]}}
		if len(parts) == 3 {
			server.Username = parts[1]
			server.Credential = parts[2]
		}
		cfg.ICEServers = append(cfg.ICEServers, server)
	}
	return cfg
}

// newAPI builds a per-connection API. Interceptor registries cannot be
// shared between peer connections, and the stats interceptor hands its
// getter to onStats once the connection exists.
func newAPI(onStats func(stats.Getter)) (*webrtc.API, error) {
	m := &webrtc.MediaEngine{}
	if err := m.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("register codecs: %w", err)
	}

	ir := &interceptor.Registry{}
	statsFactory, err := stats.NewInterceptor()
	if err != nil {
		return nil, fmt.Errorf("stats interceptor: %w", err)
	}
	statsFactory.OnNewPeerConnection(func(_ string, g stats.Getter) {
		onStats(g)
	})
	ir.Add(statsFactory)

	if err := webrtc.RegisterDefaultInterceptors(m, ir); err != nil {
		return nil, fmt.Errorf("register interceptors: %w", err)
	}

	se := webrtc.SettingEngine{}
	se.LoggerFactory = NewLoggerFactory(log.Logger.With().Str("module", "pion").Logger())

	return webrtc.NewAPI(
		webrtc.WithMediaEngine(m),
		webrtc.WithInterceptorRegistry(ir),
		webrtc.WithSettingEngine(se),
	), nil
}
