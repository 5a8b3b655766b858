package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestGetEnvDuration(t *testing.T) {
	t.Run("duration_string", func(t *testing.T) {
		t.Setenv("RELAY_TEST_DUR", "250ms")
		if got := GetEnvDuration("RELAY_TEST_DUR", time.Second); got != 250*time.Millisecond {
			t.Errorf("got %v, want 250ms", got)
		}
	})

	t.Run("bare_integer_is_seconds", func(t *testing.T) {
		t.Setenv("RELAY_TEST_DUR", "7")
		if got := GetEnvDuration("RELAY_TEST_DUR", time.Second); got != 7*time.Second {
			t.Errorf("got %v, want 7s", got)
		}
	})

	t.Run("invalid_uses_fallback", func(t *testing.T) {
		t.Setenv("RELAY_TEST_DUR", "soon")
		if got := GetEnvDuration("RELAY_TEST_DUR", time.Second); got != time.Second {
			t.Errorf("got %v, want fallback 1s", got)
		}
	})
}

func TestGetEnvBool(t *testing.T) {
	t.Setenv("RELAY_TEST_BOOL", "Yes")
	if !GetEnvBool("RELAY_TEST_BOOL", false) {
		t.Error("expected true for Yes")
	}
	t.Setenv("RELAY_TEST_BOOL", "maybe")
	if !GetEnvBool("RELAY_TEST_BOOL", true) {
		t.Error("expected fallback for unparseable value")
	}
}

func TestFromEnv_defaults(t *testing.T) {
	t.Setenv("LIVENESS_THRESHOLD", "0")
	cfg := FromEnv()

	if cfg.Upstream.SSRC != DefaultUpstreamSSRC {
		t.Errorf("SSRC: got %d", cfg.Upstream.SSRC)
	}
	if cfg.Upstream.PayloadType != DefaultPayloadType {
		t.Errorf("payload type: got %d", cfg.Upstream.PayloadType)
	}
	if cfg.Liveness.Threshold != DefaultLivenessThreshold {
		t.Errorf("threshold 0 should normalize to default, got %d", cfg.Liveness.Threshold)
	}
	if cfg.Upstream.ListenIP != "127.0.0.1" {
		t.Errorf("upstream listen ip: got %q", cfg.Upstream.ListenIP)
	}
}

func TestLoadFile_overlay(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "relay.yaml")
	body := []byte("port: \"8088\"\nliveness:\n  interval: 2s\n  threshold: 5\nupstream:\n  ssrc: 1234\n")
	if err := os.WriteFile(path, body, 0o600); err != nil {
		t.Fatal(err)
	}

	cfg := FromEnv()
	cfg.LogLevel = "debug"
	if err := LoadFile(path, &cfg); err != nil {
		t.Fatalf("LoadFile: %v", err)
	}

	if cfg.Port != "8088" {
		t.Errorf("port: got %q", cfg.Port)
	}
	if cfg.Liveness.Interval != 2*time.Second || cfg.Liveness.Threshold != 5 {
		t.Errorf("liveness: got %+v", cfg.Liveness)
	}
	if cfg.Upstream.SSRC != 1234 {
		t.Errorf("ssrc: got %d", cfg.Upstream.SSRC)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("keys absent from file must be kept, got log level %q", cfg.LogLevel)
	}
	if cfg.Upstream.ProfileLevelID != DefaultProfileLevelID {
		t.Errorf("profile-level-id: got %q", cfg.Upstream.ProfileLevelID)
	}
}

func TestLoadFile_missing(t *testing.T) {
	cfg := FromEnv()
	if err := LoadFile(filepath.Join(t.TempDir(), "nope.yaml"), &cfg); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "relay.env")
	if err := os.WriteFile(path, []byte("RELAY_TEST_FROM_FILE=file\nRELAY_TEST_PRESET=file\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("RELAY_TEST_FROM_FILE", "")
	os.Unsetenv("RELAY_TEST_FROM_FILE")
	t.Setenv("RELAY_TEST_PRESET", "env")

	if err := Load(path); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got := GetEnv("RELAY_TEST_FROM_FILE", ""); got != "file" {
		t.Errorf("RELAY_TEST_FROM_FILE = %q, want file", got)
	}
	if got := GetEnv("RELAY_TEST_PRESET", ""); got != "env" {
		t.Errorf("RELAY_TEST_PRESET = %q, existing env must win", got)
	}

	if err := Load(filepath.Join(t.TempDir(), "missing.env")); err == nil {
		t.Error("explicit missing file should fail")
	}
}
