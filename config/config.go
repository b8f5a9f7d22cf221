package config

import (
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-yaml"
)

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Browser   BrowserConfig   `yaml:"browser"`
	Capture   CaptureConfig   `yaml:"capture"`
	RateLimit RateLimitConfig `yaml:"rateLimit"`
	Log       LogConfig       `yaml:"log"`
}

// ServerConfig controls the HTTP server.
type ServerConfig struct {
	Host string `yaml:"host"` // default: "0.0.0.0"
	Port int    `yaml:"port"` // default: 8080
	Mode string `yaml:"mode"` // "debug", "release", "test"; default: "release"

	// RequestTimeout bounds one capture request end to end. It is the
	// platform-level ceiling the capture deadline margin is sized against.
	RequestTimeout time.Duration `yaml:"requestTimeout"` // default: 10s

	// ShutdownTimeout is how long in-flight captures get to drain.
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"` // default: 10s
}

// BrowserConfig controls how browser processes are provisioned and launched.
type BrowserConfig struct {
	// Headless controls whether the browser runs headless.
	Headless bool `yaml:"headless"` // default: true

	// NoSandbox disables Chrome's sandbox (needed in Docker).
	NoSandbox bool `yaml:"noSandbox"` // default: false

	// BrowserBin overrides the Chromium binary path.
	BrowserBin string `yaml:"browserBin"`

	// DownloadIfMissing lets rod fetch a managed Chromium when no system
	// browser is found.
	DownloadIfMissing bool `yaml:"downloadIfMissing"` // default: false

	// Leakless runs the browser under rod's leakless guard so it dies with us.
	Leakless bool `yaml:"leakless"` // default: true

	// Proxy is the upstream proxy for all page traffic.
	Proxy string `yaml:"proxy"`

	// ExtraFlags are additional Chrome switches, "name" or "name=value".
	ExtraFlags []string `yaml:"extraFlags"`
}

// CaptureConfig controls capture behavior.
type CaptureConfig struct {
	// MaxConcurrent caps simultaneous captures (one browser process each).
	// Zero derives the value from GOMAXPROCS.
	MaxConcurrent int `yaml:"maxConcurrent"`

	// JPEGQuality is the fixed JPEG encoder quality (1-100).
	JPEGQuality int `yaml:"jpegQuality"` // default: 85

	// ScreenshotTimeout bounds the screenshot/encode step.
	ScreenshotTimeout time.Duration `yaml:"screenshotTimeout"` // default: 5s
}

// RateLimitConfig controls per-client rate limiting.
type RateLimitConfig struct {
	// Enabled toggles the rate limiter.
	Enabled bool `yaml:"enabled"` // default: true

	// RequestsPerSecond is the sustained rate per client IP.
	RequestsPerSecond float64 `yaml:"requestsPerSecond"` // default: 2

	// Burst is the maximum burst size per client IP.
	Burst int `yaml:"burst"` // default: 5
}

// LogConfig controls structured logging.
type LogConfig struct {
	Level  string `yaml:"level"`  // default: "info"
	Format string `yaml:"format"` // "json" or "text"; default: "json"
}

// Pool sizing bounds for the derived MaxConcurrent.
const (
	minConcurrent = 1
	maxConcurrent = 8

	// cpuDivisor leaves headroom for Chrome child processes.
	cpuDivisor = 2
)

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			Mode:            "release",
			RequestTimeout:  10 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Browser: BrowserConfig{
			Headless: true,
			Leakless: true,
		},
		Capture: CaptureConfig{
			JPEGQuality:       85,
			ScreenshotTimeout: 5 * time.Second,
		},
		RateLimit: RateLimitConfig{
			Enabled:           true,
			RequestsPerSecond: 2,
			Burst:             5,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load builds the configuration: defaults, then the YAML file named by
// PAGESHOT_CONFIG (if any), then PAGESHOT_* environment variables.
func Load() (*Config, error) {
	cfg := Default()

	if path := os.Getenv("PAGESHOT_CONFIG"); path != "" {
		if err := cfg.mergeFile(path); err != nil {
			return nil, err
		}
	}

	cfg.applyEnv()
	cfg.Capture.MaxConcurrent = ResolveConcurrency(cfg.Capture.MaxConcurrent)
	if cfg.Capture.JPEGQuality < 1 || cfg.Capture.JPEGQuality > 100 {
		return nil, fmt.Errorf("config: jpeg quality %d out of range 1-100", cfg.Capture.JPEGQuality)
	}
	return cfg, nil
}

// mergeFile overlays the YAML file at path onto cfg. Keys absent from the
// file keep their current values.
func (cfg *Config) mergeFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.UnmarshalWithOptions(data, cfg, yaml.Strict()); err != nil {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}
	return nil
}

func (cfg *Config) applyEnv() {
	s := &cfg.Server
	s.Host = envOr("PAGESHOT_HOST", s.Host)
	s.Port = envIntOr("PAGESHOT_PORT", s.Port)
	s.Mode = envOr("PAGESHOT_MODE", s.Mode)
	s.RequestTimeout = envDurationOr("PAGESHOT_REQUEST_TIMEOUT", s.RequestTimeout)
	s.ShutdownTimeout = envDurationOr("PAGESHOT_SHUTDOWN_TIMEOUT", s.ShutdownTimeout)

	b := &cfg.Browser
	b.Headless = envBoolOr("PAGESHOT_HEADLESS", b.Headless)
	b.NoSandbox = envBoolOr("PAGESHOT_NO_SANDBOX", b.NoSandbox)
	b.BrowserBin = envOr("PAGESHOT_BROWSER_BIN", b.BrowserBin)
	b.DownloadIfMissing = envBoolOr("PAGESHOT_DOWNLOAD_BROWSER", b.DownloadIfMissing)
	b.Leakless = envBoolOr("PAGESHOT_LEAKLESS", b.Leakless)
	b.Proxy = envOr("PAGESHOT_PROXY", b.Proxy)
	b.ExtraFlags = envSliceOr("PAGESHOT_BROWSER_FLAGS", b.ExtraFlags)

	c := &cfg.Capture
	c.MaxConcurrent = envIntOr("PAGESHOT_MAX_CONCURRENT", c.MaxConcurrent)
	c.JPEGQuality = envIntOr("PAGESHOT_JPEG_QUALITY", c.JPEGQuality)
	c.ScreenshotTimeout = envDurationOr("PAGESHOT_SCREENSHOT_TIMEOUT", c.ScreenshotTimeout)

	r := &cfg.RateLimit
	r.Enabled = envBoolOr("PAGESHOT_RATE_ENABLED", r.Enabled)
	r.RequestsPerSecond = envFloatOr("PAGESHOT_RATE_RPS", r.RequestsPerSecond)
	r.Burst = envIntOr("PAGESHOT_RATE_BURST", r.Burst)

	l := &cfg.Log
	l.Level = envOr("PAGESHOT_LOG_LEVEL", l.Level)
	l.Format = envOr("PAGESHOT_LOG_FORMAT", l.Format)
}

// ResolveConcurrency determines the capture slot count.
// An explicit positive value wins; otherwise GOMAXPROCS/2 bounded to [1, 8].
func ResolveConcurrency(n int) int {
	if n > 0 {
		return n
	}
	return min(max(runtime.GOMAXPROCS(0)/cpuDivisor, minConcurrent), maxConcurrent)
}

// --- helper functions ---

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envIntOr(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func envBoolOr(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func envFloatOr(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envDurationOr(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func envSliceOr(key string, fallback []string) []string {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		result := make([]string, 0, len(parts))
		for _, p := range parts {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				result = append(result, trimmed)
			}
		}
		return result
	}
	return fallback
}
