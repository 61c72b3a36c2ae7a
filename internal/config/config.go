package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/dkeye/Stream/internal/domain"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

const EnvPrefix = "STREAM"

type Config struct {
	Mode       string `mapstructure:"mode"`
	Port       int    `mapstructure:"port"`
	StaticPath string `mapstructure:"static_path"`
	Secret     string `mapstructure:"secret"`
	LogLevel   string `mapstructure:"log_level"`

	Session   SessionConfig   `mapstructure:"session"`
	WebRTC    WebRTCConfig    `mapstructure:"webrtc"`
	Media     MediaConfig     `mapstructure:"media"`
	Events    EventsConfig    `mapstructure:"events"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
}

type SessionConfig struct {
	Role string `mapstructure:"role"`
	// Endpoint, when set, is started at boot.
	Endpoint         string        `mapstructure:"endpoint"`
	BearerToken      string        `mapstructure:"bearer_token"`
	WatchInterval    time.Duration `mapstructure:"watch_interval"`
	ElapsedInterval  time.Duration `mapstructure:"elapsed_interval"`
	StatsInterval    time.Duration `mapstructure:"stats_interval"`
	ReadyTimeout     time.Duration `mapstructure:"ready_timeout"`
	ReadyPoll        time.Duration `mapstructure:"ready_poll"`
	EstablishTimeout time.Duration `mapstructure:"establish_timeout"`
	TerminateTimeout time.Duration `mapstructure:"terminate_timeout"`
}

type WebRTCConfig struct {
	ICEServers []string `mapstructure:"ice_servers"`
}

type MediaConfig struct {
	Source string `mapstructure:"source"`
	Loop   bool   `mapstructure:"loop"`
	Record string `mapstructure:"record"`
}

type EventsConfig struct {
	Buffer int    `mapstructure:"buffer"`
	Policy string `mapstructure:"policy"`
}

type TelemetryConfig struct {
	OTLPEndpoint   string        `mapstructure:"otlp_endpoint"`
	ServiceName    string        `mapstructure:"service_name"`
	ExportInterval time.Duration `mapstructure:"export_interval"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("mode", "release")
	v.SetDefault("port", 8080)
	v.SetDefault("static_path", "./web")
	v.SetDefault("secret", "change-me")
	v.SetDefault("log_level", "info")

	v.SetDefault("session.role", "publisher")
	v.SetDefault("session.endpoint", "")
	v.SetDefault("session.bearer_token", "")
	v.SetDefault("session.watch_interval", "1s")
	v.SetDefault("session.elapsed_interval", "1s")
	// zero picks the role default
	v.SetDefault("session.stats_interval", "0s")
	v.SetDefault("session.ready_timeout", "2s")
	v.SetDefault("session.ready_poll", "200ms")
	v.SetDefault("session.establish_timeout", "10s")
	v.SetDefault("session.terminate_timeout", "3s")

	v.SetDefault("webrtc.ice_servers", []string{"stun:stun.l.google.com:19302"})

	v.SetDefault("media.source", "./media/capture.ivf")
	v.SetDefault("media.loop", true)
	v.SetDefault("media.record", "")

	v.SetDefault("events.buffer", 32)
	v.SetDefault("events.policy", "drop")

	v.SetDefault("telemetry.otlp_endpoint", "")
	v.SetDefault("telemetry.service_name", "stream")
	v.SetDefault("telemetry.export_interval", "15s")
}

// Load reads config/config.<CONFIG_ENV>.yaml (dev by default) and applies
// STREAM_* environment overrides, e.g. STREAM_SESSION_ENDPOINT.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	fileName := fmt.Sprintf("config/config.%s.yaml", env)
	v.SetConfigFile(fileName)

	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		log.Warn().Str("module", "config").Str("file", fileName).Msg("config file not found, using defaults")
	} else {
		log.Info().Str("module", "config").Str("file", fileName).Msg("loaded config")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	log.Info().Str("module", "config").
		Str("mode", cfg.Mode).
		Int("port", cfg.Port).
		Str("role", cfg.Session.Role).
		Msg("config ready")
	return &cfg, nil
}

func (c *Config) Validate() error {
	if _, err := c.Role(); err != nil {
		return err
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	if c.Events.Buffer <= 0 {
		return errors.New("events.buffer must be positive")
	}
	return nil
}

func (c *Config) Role() (domain.Role, error) {
	role, ok := domain.ParseRole(c.Session.Role)
	if !ok {
		return 0, fmt.Errorf("unknown session.role %q", c.Session.Role)
	}
	return role, nil
}
