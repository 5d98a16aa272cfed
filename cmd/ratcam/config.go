package main

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/warpcomdev/ratcam/internal/motion"
)

// ChatConfig is the "telegram" settings block (spec.md §6): the key name
// is kept verbatim from the original deployment even though the concrete
// Transport wired in cmd/ratcam/main.go is discordtransport, not a
// Telegram SDK (see DESIGN.md).
type ChatConfig struct {
	Token        string `yaml:"token"`
	AuthFile     string `yaml:"auth_file"`
	PhotoTimeout int    `yaml:"photo_timeout"`
	VideoTimeout int    `yaml:"video_timeout"`
}

// CameraConfig is the "camera" settings block.
type CameraConfig struct {
	Bitrate             int     `yaml:"bitrate"`
	Framerate           int     `yaml:"framerate"`
	JPEGQuality         int     `yaml:"jpeg_quality"`
	Buffer              int     `yaml:"buffer"`
	ClipLengthTolerance float64 `yaml:"clip_length_tolerance"`
}

// DetectorConfig is the "detector" settings block.
type DetectorConfig struct {
	TriggerThresholds    motion.Thresholds    `yaml:"trigger_thresholds"`
	TriggerAreaFractions motion.AreaFractions `yaml:"trigger_area_fractions"`
	TimeWindowSeconds    float64              `yaml:"time_window"`
}

// RatcamConfig is the "ratcam" settings block.
type RatcamConfig struct {
	VideoDurationSeconds float64 `yaml:"video_duration"`
}

// StatusLEDConfig is the "status_led" settings block. No GPIO/PWM
// library exists anywhere in the retrieved example pack (see
// internal/statusled's LoggingDriver), so these pins are accepted and
// validated but never bound to a real pin: the wired Driver is always
// LoggingDriver.
type StatusLEDConfig struct {
	BCMPinR int `yaml:"bcm_pin_r"`
	BCMPinG int `yaml:"bcm_pin_g"`
	BCMPinB int `yaml:"bcm_pin_b"`
}

// PWMLedConfig is the "pwmled" settings block. Same caveat as
// StatusLEDConfig: internal/pwmled's Driver is always LoggingDriver here.
type PWMLedConfig struct {
	BCMPin    int     `yaml:"bcm_pin"`
	Frequency float64 `yaml:"frequency"`
}

// Config is the full settings file (spec.md §6), loaded at start-up and
// validated by Check, in the style of the teacher's cmd/driver/config.go.
type Config struct {
	Telegram   ChatConfig      `yaml:"telegram"`
	Camera     CameraConfig    `yaml:"camera"`
	Detector   DetectorConfig  `yaml:"detector"`
	Ratcam     RatcamConfig    `yaml:"ratcam"`
	StatusLED  StatusLEDConfig `yaml:"status_led"`
	PWMLed     PWMLedConfig    `yaml:"pwmled"`
	TempFolder string          `yaml:"temp_folder"`

	// DebugAddr is where MAIN serves the Prometheus /metrics handler
	// (SPEC_FULL.md's ambient metrics section). Not one of spec.md §6's
	// settings keys; an empty value disables the debug server rather
	// than guessing a default port on a surveillance box with unknown
	// firewall rules.
	DebugAddr string `yaml:"debug_addr"`
}

// loadConfig reads and parses the YAML settings file at path.
func loadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("ratcam: reading config %s: %w", path, err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("ratcam: parsing config %s: %w", path, err)
	}
	return &cfg, nil
}

// Check defaults and validates cfg in place, following the teacher's
// cmd/driver/config.go Check(configPath) shape: fill in sane defaults for
// anything left zero, and fail loudly on what cannot be defaulted.
// tokenOverride is the --token/-t CLI flag, which wins over the settings
// file per spec.md §6.
func (c *Config) Check(tokenOverride string) error {
	if tokenOverride != "" {
		c.Telegram.Token = tokenOverride
	}
	if c.Telegram.Token == "" {
		return fmt.Errorf("ratcam: missing chat token (settings telegram.token or --token)")
	}
	if c.Telegram.AuthFile == "" {
		c.Telegram.AuthFile = "auth.json"
	}
	if c.Telegram.PhotoTimeout <= 0 {
		c.Telegram.PhotoTimeout = 30
	}
	if c.Telegram.VideoTimeout <= 0 {
		c.Telegram.VideoTimeout = 60
	}

	if c.Camera.Framerate <= 0 {
		c.Camera.Framerate = 25
	}
	if c.Camera.JPEGQuality <= 0 {
		c.Camera.JPEGQuality = 85
	}
	if c.Camera.Buffer <= 0 {
		c.Camera.Buffer = c.Camera.Framerate * 5
	}

	if c.Detector.TriggerThresholds == (motion.Thresholds{}) {
		c.Detector.TriggerThresholds = motion.Thresholds{High: 40, Low: 20}
	}
	if c.Detector.TriggerAreaFractions == (motion.AreaFractions{}) {
		c.Detector.TriggerAreaFractions = motion.AreaFractions{High: 0.05, Low: 0.01}
	}
	if c.Detector.TimeWindowSeconds <= 0 {
		c.Detector.TimeWindowSeconds = 2
	}

	if c.Ratcam.VideoDurationSeconds <= 0 {
		c.Ratcam.VideoDurationSeconds = 10
	}

	if c.TempFolder == "" {
		c.TempFolder = os.TempDir()
	}
	if err := os.MkdirAll(c.TempFolder, 0o700); err != nil {
		return fmt.Errorf("ratcam: creating temp folder %s: %w", c.TempFolder, err)
	}
	return nil
}

func (c *Config) videoDuration() time.Duration {
	return time.Duration(c.Ratcam.VideoDurationSeconds * float64(time.Second))
}

func (c *Config) timeWindow() time.Duration {
	return time.Duration(c.Detector.TimeWindowSeconds * float64(time.Second))
}
