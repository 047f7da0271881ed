// Package config loads the snapshot service configuration from YAML.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete snapshot service configuration
type Config struct {
	InstanceID       string        `yaml:"instance_id"`
	ShutdownTimeoutS int           `yaml:"shutdown_timeout_s"` // Graceful shutdown timeout in seconds (default: 3)
	Log              LogConfig     `yaml:"log"`
	Source           SourceConfig  `yaml:"source"`
	Display          DisplayConfig `yaml:"display"`
	Capture          CaptureConfig `yaml:"capture"`
	HTTP             HTTPConfig    `yaml:"http"`
	MQTT             MQTTConfig    `yaml:"mqtt"`
}

// LogConfig contains logging settings
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text, json
}

// SourceConfig describes the inbound RTP/H.264 stream
type SourceConfig struct {
	URI          string `yaml:"uri"`           // e.g. udp://localhost:30120
	Media        string `yaml:"media"`         // RTP media type (video)
	ClockRate    int    `yaml:"clock_rate"`    // RTP clock rate (90000)
	EncodingName string `yaml:"encoding_name"` // RTP encoding name (H264)
	Payload      int    `yaml:"payload"`       // RTP payload type (96)
	Depayloader  string `yaml:"depayloader"`   // GStreamer depayloader element
	Decoder      string `yaml:"decoder"`       // GStreamer decoder element
	SourceStream string `yaml:"source_stream"` // Stream identifier attached to frames
	BufferFrames int    `yaml:"buffer_frames"` // Decoded frames buffered before the router
}

// DisplayConfig contains display branch settings
type DisplayConfig struct {
	Sink      string `yaml:"sink"`       // GStreamer video sink element
	QueueSize int    `yaml:"queue_size"` // Frames buffered in front of the renderer
	Leaky     bool   `yaml:"leaky"`      // Drop instead of blocking when full
}

// CaptureConfig contains capture branch settings
type CaptureConfig struct {
	QueueSize    int    `yaml:"queue_size"`     // Frames buffered in front of the capture sink
	Leaky        bool   `yaml:"leaky"`          // Drop instead of blocking when full
	OnWriteError string `yaml:"on_write_error"` // fatal, continue
}

// HTTPConfig contains the HTTP control surface settings
type HTTPConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// MQTTConfig contains MQTT broker settings
type MQTTConfig struct {
	Enabled  bool       `yaml:"enabled"`
	Broker   string     `yaml:"broker"`
	ClientID string     `yaml:"client_id"`
	Topics   MQTTTopics `yaml:"topics"`
	QoS      byte       `yaml:"qos"`
}

// MQTTTopics contains topic names
type MQTTTopics struct {
	Control string `yaml:"control"`
	Events  string `yaml:"events"`
}

// Default returns the built-in configuration: H.264 over RTP on
// udp://localhost:30120, rendered with autovideosink.
func Default() *Config {
	return &Config{
		InstanceID:       "snapshot",
		ShutdownTimeoutS: 3,
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Source: SourceConfig{
			URI:          "udp://localhost:30120",
			Media:        "video",
			ClockRate:    90000,
			EncodingName: "H264",
			Payload:      96,
			Depayloader:  "rtph264depay",
			Decoder:      "avdec_h264",
			SourceStream: "udp-h264",
			BufferFrames: 4,
		},
		Display: DisplayConfig{
			Sink:      "autovideosink",
			QueueSize: 4,
			Leaky:     false,
		},
		Capture: CaptureConfig{
			QueueSize:    1,
			Leaky:        true,
			OnWriteError: "fatal",
		},
		HTTP: HTTPConfig{
			Enabled: false,
			Addr:    ":8080",
		},
		MQTT: MQTTConfig{
			Enabled: false,
			Broker:  "localhost:1883",
			QoS:     1,
		},
	}
}

// Load reads and parses a YAML configuration file on top of Default.
// An empty path returns the validated defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// ShutdownTimeout returns the graceful shutdown timeout
func (c *Config) ShutdownTimeout() time.Duration {
	return time.Duration(c.ShutdownTimeoutS) * time.Second
}
