// Package config provides application configuration.
package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Port        string
	FrontendURL string
	DBPath      string
	LogLevel    string
	Backend     BackendConfig
	Media       MediaConfig
}

// BackendConfig describes the streaming backend connection.
type BackendConfig struct {
	URL         string
	DialTimeout time.Duration
}

// MediaConfig selects the capture and playback devices and their cadence.
type MediaConfig struct {
	// ScreenSource is a screenshot file re-read on every frame tick.
	ScreenSource string
	// MicSource is a raw s16le 16 kHz mono stream; "-" reads stdin.
	MicSource  string
	MicEnabled bool
	// SpeakerSink receives s16le 24 kHz mono; "-" writes stdout and ""
	// discards playback.
	SpeakerSink   string
	FrameInterval time.Duration
	FlushInterval time.Duration
	JPEGQuality   int
}

// Load reads configuration from environment variables and validates it.
func Load() (*Config, error) {
	cfg := Parse()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Parse reads configuration from environment variables without validating,
// so callers can apply overrides first.
func Parse() *Config {
	return &Config{
		Port:        getEnv("PORT", "8080"),
		FrontendURL: getEnv("FRONTEND_URL", ""),
		DBPath:      getEnv("DB_PATH", "./data/smartstream.db"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		Backend: BackendConfig{
			URL:         getEnv("BACKEND_URL", "ws://localhost:9083"),
			DialTimeout: getEnvDuration("DIAL_TIMEOUT", 10*time.Second),
		},
		Media: MediaConfig{
			ScreenSource:  getEnv("SCREEN_SOURCE", ""),
			MicSource:     getEnv("MIC_SOURCE", ""),
			MicEnabled:    getEnvBool("MIC_ENABLED", true),
			SpeakerSink:   getEnv("SPEAKER_SINK", ""),
			FrameInterval: getEnvDuration("FRAME_INTERVAL", 3*time.Second),
			FlushInterval: getEnvDuration("FLUSH_INTERVAL", 3*time.Second),
			JPEGQuality:   getEnvInt("JPEG_QUALITY", 92),
		},
	}
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if c.DBPath == "" {
		return fmt.Errorf("DB_PATH cannot be empty")
	}
	u, err := url.Parse(c.Backend.URL)
	if err != nil || (u.Scheme != "ws" && u.Scheme != "wss") || u.Host == "" {
		return fmt.Errorf("BACKEND_URL must be a ws:// or wss:// URL, got %q", c.Backend.URL)
	}
	if c.Backend.DialTimeout <= 0 {
		return fmt.Errorf("DIAL_TIMEOUT must be > 0")
	}
	if c.Media.FrameInterval <= 0 {
		return fmt.Errorf("FRAME_INTERVAL must be > 0")
	}
	if c.Media.FlushInterval <= 0 {
		return fmt.Errorf("FLUSH_INTERVAL must be > 0")
	}
	if c.Media.JPEGQuality < 1 || c.Media.JPEGQuality > 100 {
		return fmt.Errorf("JPEG_QUALITY must be between 1 and 100")
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

// getEnvDuration accepts Go duration strings ("3s") or bare milliseconds.
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	value = strings.TrimSpace(value)
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if ms, err := strconv.Atoi(value); err == nil {
		return time.Duration(ms) * time.Millisecond
	}
	return fallback
}
