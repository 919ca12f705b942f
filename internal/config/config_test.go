package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Transport != "quic" {
		t.Errorf("transport = %q, want quic", cfg.Transport)
	}
	if cfg.Width != 1280 || cfg.Height != 720 || cfg.FPS != 30 {
		t.Errorf("geometry = %dx%d@%d, want 1280x720@30", cfg.Width, cfg.Height, cfg.FPS)
	}
	if cfg.KeyframeMaxGap() != 2*time.Second {
		t.Errorf("keyframe_max_gap = %s, want 2s", cfg.KeyframeMaxGap())
	}
}

func TestLoad_YAMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "uplink.yaml")
	body := `
stream_key: cam1
transport: srt
srt_addr: ingest.example.com:6000
target_bitrate: 6000000
fps: 60
`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.StreamKey != "cam1" {
		t.Errorf("stream_key = %q, want cam1", cfg.StreamKey)
	}
	if cfg.Transport != "srt" || cfg.SRTAddr != "ingest.example.com:6000" {
		t.Errorf("transport = %q %q", cfg.Transport, cfg.SRTAddr)
	}
	if cfg.TargetBitrate != 6_000_000 || cfg.FPS != 60 {
		t.Errorf("bitrate = %d fps = %d", cfg.TargetBitrate, cfg.FPS)
	}
	// Untouched fields keep their defaults.
	if cfg.Width != 1280 {
		t.Errorf("width = %d, want default 1280", cfg.Width)
	}
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "uplink.yaml")
	if err := os.WriteFile(path, []byte("transport: srt\nfps: 24\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("UPLINK_TRANSPORT", "quic")
	t.Setenv("UPLINK_FPS", "25")
	t.Setenv("UPLINK_PREFER_HEVC", "true")

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Transport != "quic" {
		t.Errorf("transport = %q, env must win", cfg.Transport)
	}
	if cfg.FPS != 25 {
		t.Errorf("fps = %d, env must win", cfg.FPS)
	}
	if !cfg.PreferHEVC {
		t.Error("prefer_hevc env override lost")
	}
}

func TestLoad_Validation(t *testing.T) {
	t.Setenv("UPLINK_TRANSPORT", "carrier-pigeon")
	if _, err := Load(""); err == nil {
		t.Error("expected error for unknown transport")
	}
	t.Setenv("UPLINK_TRANSPORT", "quic")

	t.Setenv("UPLINK_MAX_BITRATE", "1000")
	if _, err := Load(""); err == nil {
		t.Error("expected error for ceiling below target")
	}
	t.Setenv("UPLINK_MAX_BITRATE", "")

	t.Setenv("UPLINK_FPS", "-1")
	if _, err := Load(""); err == nil {
		t.Error("expected error for negative fps")
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}
