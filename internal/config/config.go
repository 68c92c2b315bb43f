// Package config loads the service configuration and holds the live settings.
package config

import (
	"fmt"
	"net/url"
	"os"
	"regexp"

	"gopkg.in/yaml.v3"

	"github.com/2vyy/qt-camera-dashboard/internal/domain"
)

var instanceIDPattern = regexp.MustCompile(`^[a-z0-9\-]+$`)

// Config is the complete service configuration
type Config struct {
	InstanceID string          `yaml:"instance_id"`
	Server     ServerConfig    `yaml:"server"`
	Recording  RecordingConfig `yaml:"recording"`
	Settings   domain.Settings `yaml:"settings"` // Initial live settings
	Cameras    []CameraConfig  `yaml:"cameras"`  // Local cameras for the local deployment
	Node       NodeConfig      `yaml:"node"`
	MQTT       MQTTConfig      `yaml:"mqtt"`
	Database   DatabaseConfig  `yaml:"database"`
	Log        LogConfig       `yaml:"log"`
}

// ServerConfig contains the HTTP listener settings
type ServerConfig struct {
	Listen          string `yaml:"listen"`
	ShutdownTimeout int    `yaml:"shutdown_timeout_s"`
	EventBuffer     int    `yaml:"event_buffer"` // Per-subscriber event queue length
}

// RecordingConfig contains recording output settings
type RecordingConfig struct {
	Dir string `yaml:"dir"`
}

// CameraConfig describes one locally captured camera
type CameraConfig struct {
	ID       int    `yaml:"id"`
	DeviceID string `yaml:"device_id"`
	Width    int    `yaml:"width"`
	Height   int    `yaml:"height"`
	FPS      int    `yaml:"fps"`
}

// NodeConfig contains the camera node settings
type NodeConfig struct {
	Server   string `yaml:"server"` // Base URL of the server, e.g. http://host:8080
	CameraID int    `yaml:"camera_id"`
	DeviceID string `yaml:"device_id"`
	Width    int    `yaml:"width"`
	Height   int    `yaml:"height"`
	FPS      int    `yaml:"fps"`
	BitRate  int    `yaml:"bitrate"`
	Codec    string `yaml:"codec"`
}

// MQTTConfig contains MQTT broker settings. An empty broker disables MQTT.
type MQTTConfig struct {
	Broker      string `yaml:"broker"`
	ClientID    string `yaml:"client_id"`
	Username    string `yaml:"username"`
	Password    string `yaml:"password"`
	TopicPrefix string `yaml:"topic_prefix"`
	QoS         byte   `yaml:"qos"`
}

// DatabaseConfig contains the event store settings. An empty URL disables the store.
type DatabaseConfig struct {
	URL string `yaml:"url"`
}

// LogConfig contains logging settings
type LogConfig struct {
	Debug bool `yaml:"debug"`
	JSON  bool `yaml:"json"`
}

// Default returns the configuration used when no file is given
func Default() *Config {
	cfg := &Config{
		InstanceID: "camera-vision",
		Settings:   domain.DefaultSettings(),
	}
	applyDefaults(cfg)
	return cfg
}

// Load reads and parses a YAML configuration file. Keys missing from the
// file keep their defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks the configuration and fills zero values with defaults
func Validate(cfg *Config) error {
	if !instanceIDPattern.MatchString(cfg.InstanceID) {
		return fmt.Errorf("instance_id must match pattern [a-z0-9-]+")
	}

	applyDefaults(cfg)

	if cfg.Settings.BinaryThreshold < 0 || cfg.Settings.BinaryThreshold > 255 {
		return fmt.Errorf("settings.binary_threshold must be within 0..255")
	}
	if cfg.Settings.TargetWidth < 0 || cfg.Settings.TargetHeight < 0 {
		return fmt.Errorf("settings.target_width and target_height must not be negative")
	}

	seen := make(map[int]bool, len(cfg.Cameras))
	for i := range cfg.Cameras {
		cam := &cfg.Cameras[i]
		if seen[cam.ID] {
			return fmt.Errorf("cameras: duplicate id %d", cam.ID)
		}
		seen[cam.ID] = true
		if cam.FPS <= 0 {
			cam.FPS = 30
		}
	}

	if cfg.Node.Server != "" {
		u, err := url.Parse(cfg.Node.Server)
		if err != nil || u.Host == "" {
			return fmt.Errorf("node.server must be an absolute URL")
		}
	}
	if cfg.Node.Codec != "vp8" && cfg.Node.Codec != "h264" {
		return fmt.Errorf("node.codec must be vp8 or h264")
	}

	if cfg.MQTT.QoS > 2 {
		return fmt.Errorf("mqtt.qos must be 0, 1 or 2")
	}
	return nil
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Listen == "" {
		cfg.Server.Listen = ":8080"
	}
	if cfg.Server.ShutdownTimeout <= 0 {
		cfg.Server.ShutdownTimeout = 5
	}
	if cfg.Server.EventBuffer <= 0 {
		cfg.Server.EventBuffer = 64
	}
	if cfg.Recording.Dir == "" {
		cfg.Recording.Dir = "recordings"
	}

	// Missing or zero numeric settings resolve to defaults
	if cfg.Settings.BinaryThreshold == 0 {
		cfg.Settings.BinaryThreshold = domain.DefaultBinaryThreshold
	}
	if cfg.Settings.MinContourArea <= 0 {
		cfg.Settings.MinContourArea = domain.DefaultMinContourArea
	}
	if cfg.Settings.ThrottleStride < 1 {
		cfg.Settings.ThrottleStride = domain.DefaultThrottleStride
	}

	if cfg.Node.Width <= 0 {
		cfg.Node.Width = 640
	}
	if cfg.Node.Height <= 0 {
		cfg.Node.Height = 480
	}
	if cfg.Node.FPS <= 0 {
		cfg.Node.FPS = 30
	}
	if cfg.Node.BitRate <= 0 {
		cfg.Node.BitRate = 1_000_000
	}
	if cfg.Node.Codec == "" {
		cfg.Node.Codec = "vp8"
	}

	if cfg.MQTT.TopicPrefix == "" {
		cfg.MQTT.TopicPrefix = "camera-vision"
	}
	if cfg.MQTT.ClientID == "" {
		cfg.MQTT.ClientID = cfg.InstanceID
	}
}

// OfferURL returns the signaling endpoint of the configured server
func (n NodeConfig) OfferURL() string {
	if n.Server == "" {
		return ""
	}
	u, err := url.Parse(n.Server)
	if err != nil {
		return ""
	}
	return u.JoinPath("offer").String()
}
