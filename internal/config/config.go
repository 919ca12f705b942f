// Package config loads uplink settings from an optional YAML file with
// environment-variable overrides, environment winning.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full uplink configuration.
type Config struct {
	// Stream identity and capture geometry.
	StreamKey string `yaml:"stream_key"`
	Width     int    `yaml:"width"`
	Height    int    `yaml:"height"`
	FPS       int    `yaml:"fps"`

	// Compressor tuning.
	TargetBitrate    int  `yaml:"target_bitrate"`
	MaxBitrate       int  `yaml:"max_bitrate"`
	KeyframeInterval int  `yaml:"keyframe_interval"`
	KeyframeMaxGapMs int  `yaml:"keyframe_max_gap_ms"`
	PreferHEVC       bool `yaml:"prefer_hevc"`

	// Transport selects the sender: "quic" or "srt".
	Transport string `yaml:"transport"`

	// QUIC ingest endpoint.
	QUICAddr        string `yaml:"quic_addr"`
	CertFingerprint string `yaml:"cert_fingerprint"`
	Insecure        bool   `yaml:"insecure"`

	// SRT ingest endpoint.
	SRTAddr string `yaml:"srt_addr"`

	// MetricsAddr exposes Prometheus metrics when set, e.g. ":9091".
	MetricsAddr string `yaml:"metrics_addr"`

	// StatsIntervalMs is the period of the stats log line.
	StatsIntervalMs int `yaml:"stats_interval_ms"`
}

// KeyframeMaxGap returns the wall-time keyframe bound as a Duration.
func (c Config) KeyframeMaxGap() time.Duration {
	return time.Duration(c.KeyframeMaxGapMs) * time.Millisecond
}

// StatsInterval returns the stats reporting period as a Duration.
func (c Config) StatsInterval() time.Duration {
	return time.Duration(c.StatsIntervalMs) * time.Millisecond
}

// Default returns the nominal live profile.
func Default() Config {
	return Config{
		StreamKey:        "uplink",
		Width:            1280,
		Height:           720,
		FPS:              30,
		TargetBitrate:    4_000_000,
		KeyframeInterval: 60,
		KeyframeMaxGapMs: 2000,
		Transport:        "quic",
		QUICAddr:         "127.0.0.1:4443",
		SRTAddr:          "127.0.0.1:6000",
		StatsIntervalMs:  5000,
	}
}

// Load builds the configuration: defaults, then the YAML file at path (if
// path is non-empty), then environment overrides.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parsing config file: %w", err)
		}
	}

	cfg.applyEnv()

	if err := cfg.validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.StreamKey = envOr("UPLINK_STREAM_KEY", c.StreamKey)
	c.Width = envInt("UPLINK_WIDTH", c.Width)
	c.Height = envInt("UPLINK_HEIGHT", c.Height)
	c.FPS = envInt("UPLINK_FPS", c.FPS)
	c.TargetBitrate = envInt("UPLINK_TARGET_BITRATE", c.TargetBitrate)
	c.MaxBitrate = envInt("UPLINK_MAX_BITRATE", c.MaxBitrate)
	c.KeyframeInterval = envInt("UPLINK_KEYFRAME_INTERVAL", c.KeyframeInterval)
	c.KeyframeMaxGapMs = envInt("UPLINK_KEYFRAME_MAX_GAP_MS", c.KeyframeMaxGapMs)
	c.PreferHEVC = envBool("UPLINK_PREFER_HEVC", c.PreferHEVC)
	c.Transport = envOr("UPLINK_TRANSPORT", c.Transport)
	c.QUICAddr = envOr("UPLINK_QUIC_ADDR", c.QUICAddr)
	c.CertFingerprint = envOr("UPLINK_CERT_FINGERPRINT", c.CertFingerprint)
	c.Insecure = envBool("UPLINK_INSECURE", c.Insecure)
	c.SRTAddr = envOr("UPLINK_SRT_ADDR", c.SRTAddr)
	c.MetricsAddr = envOr("UPLINK_METRICS_ADDR", c.MetricsAddr)
}

func (c *Config) validate() error {
	switch c.Transport {
	case "quic", "srt":
	default:
		return fmt.Errorf("unknown transport %q", c.Transport)
	}
	if c.Width <= 0 || c.Height <= 0 {
		return fmt.Errorf("invalid geometry %dx%d", c.Width, c.Height)
	}
	if c.FPS <= 0 {
		return fmt.Errorf("invalid fps %d", c.FPS)
	}
	if c.MaxBitrate != 0 && c.MaxBitrate < c.TargetBitrate {
		return fmt.Errorf("max_bitrate %d below target_bitrate %d", c.MaxBitrate, c.TargetBitrate)
	}
	return nil
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}
