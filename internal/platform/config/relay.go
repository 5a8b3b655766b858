package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Defaults for the upstream source. They match what the camera's encoder is
// started with, so changing them here without changing the sender breaks ingest.
const (
	DefaultPort              = "3000"
	DefaultUpstreamSSRC      = 22222222
	DefaultPayloadType       = 96
	DefaultClockRate         = 90000
	DefaultProfileLevelID    = "42e01f"
	DefaultLivenessInterval  = 5 * time.Second
	DefaultLivenessThreshold = 3
	DefaultEngineCallTimeout = 10 * time.Second
)

// Relay is the full runtime configuration of the relay process.
type Relay struct {
	Port      string `yaml:"port"`
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
	StaticDir string `yaml:"static_dir"`

	// ListenIP and AnnouncedIP bound viewer-facing transports.
	ListenIP    string `yaml:"listen_ip"`
	AnnouncedIP string `yaml:"announced_ip"`

	Upstream Upstream `yaml:"upstream"`
	Liveness Liveness `yaml:"liveness"`

	EngineCallTimeout time.Duration `yaml:"engine_call_timeout"`

	MDNSEnabled  bool   `yaml:"mdns_enabled"`
	MDNSInstance string `yaml:"mdns_instance"`
}

// Upstream describes the fixed, pre-agreed RTP source.
type Upstream struct {
	ListenIP       string `yaml:"listen_ip"`
	RTPPort        int    `yaml:"rtp_port"`
	RTCPPort       int    `yaml:"rtcp_port"`
	SSRC           uint32 `yaml:"ssrc"`
	PayloadType    uint8  `yaml:"payload_type"`
	ClockRate      uint32 `yaml:"clock_rate"`
	ProfileLevelID string `yaml:"profile_level_id"`
}

// Liveness is the stall-detection policy.
type Liveness struct {
	Interval  time.Duration `yaml:"interval"`
	Threshold int           `yaml:"threshold"`
}

// FromEnv builds a Relay from environment variables, falling back to defaults.
func FromEnv() Relay {
	c := Relay{
		Port:        GetEnv("PORT", DefaultPort),
		LogLevel:    GetEnv("LOG_LEVEL", "info"),
		LogFormat:   GetEnv("LOG_FORMAT", "json"),
		StaticDir:   GetEnv("STATIC_DIR", ""),
		ListenIP:    GetEnv("LISTEN_IP", "0.0.0.0"),
		AnnouncedIP: GetEnv("ANNOUNCED_IP", ""),
		Upstream: Upstream{
			ListenIP:       GetEnv("RTP_LISTEN_IP", "127.0.0.1"),
			RTPPort:        GetEnvInt("RTP_PORT", 0),
			RTCPPort:       GetEnvInt("RTCP_PORT", 0),
			SSRC:           GetEnvUint32("UPSTREAM_SSRC", DefaultUpstreamSSRC),
			PayloadType:    uint8(GetEnvInt("UPSTREAM_PAYLOAD_TYPE", DefaultPayloadType)),
			ClockRate:      DefaultClockRate,
			ProfileLevelID: GetEnv("UPSTREAM_PROFILE_LEVEL_ID", DefaultProfileLevelID),
		},
		Liveness: Liveness{
			Interval:  GetEnvDuration("LIVENESS_INTERVAL", DefaultLivenessInterval),
			Threshold: GetEnvInt("LIVENESS_THRESHOLD", DefaultLivenessThreshold),
		},
		EngineCallTimeout: GetEnvDuration("ENGINE_CALL_TIMEOUT", DefaultEngineCallTimeout),
		MDNSEnabled:       GetEnvBool("MDNS_ENABLED", false),
		MDNSInstance:      GetEnv("MDNS_INSTANCE", "camera-relay"),
	}
	c.normalize()
	return c
}

// LoadFile overlays the YAML file at path onto cfg. Keys absent from the file
// keep their current value.
func LoadFile(path string, cfg *Relay) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(b, cfg); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	cfg.normalize()
	return nil
}

func (c *Relay) normalize() {
	if c.Liveness.Interval <= 0 {
		c.Liveness.Interval = DefaultLivenessInterval
	}
	if c.Liveness.Threshold <= 0 {
		c.Liveness.Threshold = DefaultLivenessThreshold
	}
	if c.EngineCallTimeout <= 0 {
		c.EngineCallTimeout = DefaultEngineCallTimeout
	}
	if c.Upstream.ClockRate == 0 {
		c.Upstream.ClockRate = DefaultClockRate
	}
	if c.Upstream.ProfileLevelID == "" {
		c.Upstream.ProfileLevelID = DefaultProfileLevelID
	}
}
