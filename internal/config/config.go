package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Supported frame sources.
const (
	SourceSim    = "sim"
	SourceOpenCV = "opencv"
)

// CameraConfig describes the frame source and the frame buffer it fills.
type CameraConfig struct {
	Source          string `yaml:"source"`            // "sim" or "opencv"
	Index           int    `yaml:"index"`             // camera index passed to Init
	Width           int    `yaml:"width"`             // frame buffer width (px)
	Height          int    `yaml:"height"`            // frame buffer height (px)
	PixelFormat     string `yaml:"pixel_format"`      // rgba, bgra or gray
	FrameIntervalMs int    `yaml:"frame_interval_ms"` // acquisition tick period (ms)
	Exposure        int    `yaml:"exposure"`          // initial exposure shown in the UI (0-100)
	AutoConnect     bool   `yaml:"auto_connect"`      // connect at startup in web/tui modes
}

// SimConfig tunes the simulated camera.
type SimConfig struct {
	Devices           []int  `yaml:"devices"`              // indices that Init accepts
	Pattern           string `yaml:"pattern"`              // bars, gradient or noise
	LeakBytesPerFrame int    `yaml:"leak_bytes_per_frame"` // retained per frame while the bug is on; 0 = no leak
}

// StrobeConfig describes an optional trigger-out line.
type StrobeConfig struct {
	Pin     int `yaml:"pin"`      // GPIO pin (BCM). 0 = disabled.
	PulseMs int `yaml:"pulse_ms"` // pulse width (ms)
}

// WebConfig holds viewer settings.
type WebConfig struct {
	JPEGQuality    int      `yaml:"jpeg_quality"`    // 1-100
	AllowedOrigins []string `yaml:"allowed_origins"` // websocket origins; empty = same host only
}

// DiagConfig holds leak monitor settings.
type DiagConfig struct {
	MemSampleMs int `yaml:"mem_sample_ms"` // RSS sampling period (ms)
}

// DefaultsConfig contains generic parameters.
type DefaultsConfig struct {
	DebugLevel int  `yaml:"debug_level"` // debug level 0-4 (0=off, 1=info, 2=live, 3=verbose, 4=trace)
	MockGPIO   bool `yaml:"mock_gpio"`   // use mock GPIO (true=dev/test, false=real Raspberry Pi)
}

// Config aggregates all application configuration.
type Config struct {
	Camera   CameraConfig   `yaml:"camera"`
	Sim      SimConfig      `yaml:"sim"`
	Strobe   StrobeConfig   `yaml:"strobe"`
	Web      WebConfig      `yaml:"web"`
	Diag     DiagConfig     `yaml:"diag"`
	Defaults DefaultsConfig `yaml:"defaults"`
}

// Defaults for keys that may be set to 0 on purpose.
const (
	DefaultExposure          = 50
	DefaultLeakBytesPerFrame = 256 * 1024
)

// MaxConfigFileBytes bounds the size of a config file accepted by Load.
const MaxConfigFileBytes = 1 << 20

// Load reads a YAML file and returns the configuration.
func Load(path string) (*Config, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat config file: %w", err)
	}
	if info.Size() > MaxConfigFileBytes {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), MaxConfigFileBytes)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML, applies defaults and validates the result.
func Parse(data []byte) (*Config, error) {
	// Keys where 0 is a meaningful value are pre-set, so only an absent key
	// takes the default.
	cfg := Config{
		Camera: CameraConfig{Exposure: DefaultExposure},
		Sim:    SimConfig{LeakBytesPerFrame: DefaultLeakBytesPerFrame},
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal yaml: %w", err)
	}

	if cfg.Camera.Source == "" {
		cfg.Camera.Source = SourceSim
	}
	if cfg.Camera.Source != SourceSim && cfg.Camera.Source != SourceOpenCV {
		return nil, fmt.Errorf("camera.source must be %q or %q, got %q", SourceSim, SourceOpenCV, cfg.Camera.Source)
	}
	if cfg.Camera.Index < 0 {
		return nil, fmt.Errorf("camera.index must be >= 0, got %d", cfg.Camera.Index)
	}
	if cfg.Camera.Width == 0 {
		cfg.Camera.Width = 640
	}
	if cfg.Camera.Height == 0 {
		cfg.Camera.Height = 480
	}
	if cfg.Camera.Width < 0 || cfg.Camera.Width > 8192 || cfg.Camera.Height < 0 || cfg.Camera.Height > 8192 {
		return nil, fmt.Errorf("camera size must be between 1x1 and 8192x8192, got %dx%d", cfg.Camera.Width, cfg.Camera.Height)
	}
	if cfg.Camera.PixelFormat == "" {
		cfg.Camera.PixelFormat = "rgba"
	}
	switch cfg.Camera.PixelFormat {
	case "rgba", "bgra", "gray":
	default:
		return nil, fmt.Errorf("camera.pixel_format must be rgba, bgra or gray, got %q", cfg.Camera.PixelFormat)
	}
	if cfg.Camera.FrameIntervalMs <= 0 {
		cfg.Camera.FrameIntervalMs = 33 // ~30 Hz
	}
	if cfg.Camera.Exposure < 0 || cfg.Camera.Exposure > 100 {
		return nil, fmt.Errorf("camera.exposure must be between 0 and 100, got %d", cfg.Camera.Exposure)
	}

	if len(cfg.Sim.Devices) == 0 {
		cfg.Sim.Devices = []int{0}
	}
	if cfg.Sim.Pattern == "" {
		cfg.Sim.Pattern = "bars"
	}
	switch cfg.Sim.Pattern {
	case "bars", "gradient", "noise":
	default:
		return nil, fmt.Errorf("sim.pattern must be bars, gradient or noise, got %q", cfg.Sim.Pattern)
	}
	if cfg.Sim.LeakBytesPerFrame < 0 {
		return nil, fmt.Errorf("sim.leak_bytes_per_frame must be >= 0, got %d", cfg.Sim.LeakBytesPerFrame)
	}

	if cfg.Strobe.Pin < 0 || cfg.Strobe.Pin > 27 {
		return nil, fmt.Errorf("strobe.pin must be a BCM GPIO between 0 and 27, got %d", cfg.Strobe.Pin)
	}
	if cfg.Strobe.PulseMs <= 0 {
		cfg.Strobe.PulseMs = 5
	}

	if cfg.Web.JPEGQuality == 0 {
		cfg.Web.JPEGQuality = 75
	}
	if cfg.Web.JPEGQuality < 1 || cfg.Web.JPEGQuality > 100 {
		return nil, fmt.Errorf("web.jpeg_quality must be between 1 and 100, got %d", cfg.Web.JPEGQuality)
	}

	if cfg.Diag.MemSampleMs <= 0 {
		cfg.Diag.MemSampleMs = 1000
	}

	return &cfg, nil
}

// ValidateConfigPath accepts only .yaml files located directly in a "configs" directory.
func ValidateConfigPath(path string) error {
	if path == "" {
		return fmt.Errorf("config path is empty")
	}
	if strings.Contains(filepath.ToSlash(path), "..") {
		return fmt.Errorf("config path must not contain '..': %s", path)
	}
	clean := filepath.Clean(path)
	if filepath.Ext(clean) != ".yaml" {
		return fmt.Errorf("config file must have .yaml extension: %s", path)
	}
	if filepath.Base(filepath.Dir(clean)) != "configs" {
		return fmt.Errorf("config file must be in a configs/ directory: %s", path)
	}
	return nil
}

// FrameInterval returns the acquisition tick period.
func (c *Config) FrameInterval() time.Duration {
	return time.Duration(c.Camera.FrameIntervalMs) * time.Millisecond
}

// StrobePulse returns the strobe pulse width.
func (c *Config) StrobePulse() time.Duration {
	return time.Duration(c.Strobe.PulseMs) * time.Millisecond
}

// MemSampleInterval returns the leak monitor sampling period.
func (c *Config) MemSampleInterval() time.Duration {
	return time.Duration(c.Diag.MemSampleMs) * time.Millisecond
}

// StrobeEnabled reports whether a trigger-out pin is configured.
func (c *Config) StrobeEnabled() bool {
	return c.Strobe.Pin > 0
}
