package main

import (
	"testing"
	"time"
)

func TestLoadConfigFlagOverrides(t *testing.T) {
	t.Setenv("BACKEND_URL", "ws://env-host:9083")
	t.Setenv("SCREEN_SOURCE", "/tmp/env.png")
	t.Setenv("FLUSH_INTERVAL", "1500")

	if err := serveCmd.ParseFlags([]string{"--backend", "wss://flag-host/ws", "--port", "9999", "--no-mic"}); err != nil {
		t.Fatalf("ParseFlags: %v", err)
	}
	t.Cleanup(func() { noMic = false })

	cfg, err := loadConfig(serveCmd)
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if cfg.Backend.URL != "wss://flag-host/ws" {
		t.Errorf("Backend.URL = %q, want flag value", cfg.Backend.URL)
	}
	if cfg.Port != "9999" {
		t.Errorf("Port = %q, want 9999", cfg.Port)
	}
	if cfg.Media.ScreenSource != "/tmp/env.png" {
		t.Errorf("ScreenSource = %q, want env value", cfg.Media.ScreenSource)
	}
	if cfg.Media.MicEnabled {
		t.Error("MicEnabled = true, want false with --no-mic")
	}
	if cfg.Media.FlushInterval != 1500*time.Millisecond {
		t.Errorf("FlushInterval = %v", cfg.Media.FlushInterval)
	}
}

func TestLoadConfigFlagFixesInvalidEnv(t *testing.T) {
	t.Setenv("BACKEND_URL", "http://wrong-scheme")

	if err := serveCmd.ParseFlags([]string{"--backend", "ws://good-host:9083"}); err != nil {
		t.Fatalf("ParseFlags: %v", err)
	}

	cfg, err := loadConfig(serveCmd)
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if cfg.Backend.URL != "ws://good-host:9083" {
		t.Errorf("Backend.URL = %q, want flag value", cfg.Backend.URL)
	}
}

func TestLoadConfigRejectsInvalidEnv(t *testing.T) {
	t.Setenv("BACKEND_URL", "http://wrong-scheme")

	if _, err := loadConfig(versionCmd); err == nil {
		t.Fatal("expected an invalid BACKEND_URL without a flag override to fail")
	}
}

func TestDevicesFromConfig(t *testing.T) {
	t.Setenv("SCREEN_SOURCE", "")
	cfg, err := loadConfig(versionCmd)
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}

	if _, err := devicesFromConfig(cfg, nil); err == nil {
		t.Error("expected error without a screen source")
	}

	cfg.Media.ScreenSource = "/tmp/screen.png"
	cfg.Media.MicEnabled = true
	cfg.Media.MicSource = ""
	if _, err := devicesFromConfig(cfg, nil); err == nil {
		t.Error("expected error without a microphone source")
	}

	cfg.Media.MicEnabled = false
	devices, err := devicesFromConfig(cfg, nil)
	if err != nil {
		t.Fatalf("devicesFromConfig: %v", err)
	}
	if devices.Screen == nil || devices.Microphone == nil || devices.Speaker == nil {
		t.Errorf("devices = %+v", devices)
	}
}

func TestAllowedOrigins(t *testing.T) {
	if got := allowedOrigins(""); len(got) != 1 || got[0] != "*" {
		t.Errorf("allowedOrigins(\"\") = %v", got)
	}
	if got := allowedOrigins("https://app.example.com"); len(got) != 1 || got[0] != "https://app.example.com" {
		t.Errorf("allowedOrigins(url) = %v", got)
	}
}
