package config

import (
	"fmt"
	"net/url"
	"regexp"
)

var instanceIDPattern = regexp.MustCompile(`^[a-z0-9\-]+$`)

// Validate checks the configuration and fills in derived defaults
func (c *Config) Validate() error {
	if c.InstanceID == "" {
		return fmt.Errorf("instance_id is required")
	}
	if !instanceIDPattern.MatchString(c.InstanceID) {
		return fmt.Errorf("instance_id must match pattern [a-z0-9-]+")
	}
	if c.ShutdownTimeoutS <= 0 {
		c.ShutdownTimeoutS = 3
	}

	if err := c.Log.validate(); err != nil {
		return fmt.Errorf("log: %w", err)
	}
	if err := c.Source.validate(); err != nil {
		return fmt.Errorf("source: %w", err)
	}

	if c.Display.Sink == "" {
		return fmt.Errorf("display.sink is required")
	}
	if c.Display.QueueSize < 1 {
		return fmt.Errorf("display.queue_size must be >= 1, got %d", c.Display.QueueSize)
	}
	if c.Capture.QueueSize < 1 {
		return fmt.Errorf("capture.queue_size must be >= 1, got %d", c.Capture.QueueSize)
	}
	switch c.Capture.OnWriteError {
	case "":
		c.Capture.OnWriteError = "fatal"
	case "fatal", "continue":
	default:
		return fmt.Errorf("capture.on_write_error must be fatal or continue, got %q", c.Capture.OnWriteError)
	}

	if c.HTTP.Enabled && c.HTTP.Addr == "" {
		return fmt.Errorf("http.addr is required when http is enabled")
	}

	if c.MQTT.Enabled {
		if c.MQTT.Broker == "" {
			return fmt.Errorf("mqtt.broker is required when mqtt is enabled")
		}
		if c.MQTT.QoS > 2 {
			return fmt.Errorf("mqtt.qos must be 0, 1 or 2, got %d", c.MQTT.QoS)
		}
		if c.MQTT.ClientID == "" {
			c.MQTT.ClientID = c.InstanceID
		}
		if c.MQTT.Topics.Control == "" {
			c.MQTT.Topics.Control = fmt.Sprintf("care/control/%s", c.InstanceID)
		}
		if c.MQTT.Topics.Events == "" {
			c.MQTT.Topics.Events = fmt.Sprintf("care/events/%s", c.InstanceID)
		}
	}

	return nil
}

func (l *LogConfig) validate() error {
	switch l.Level {
	case "":
		l.Level = "info"
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("level must be debug, info, warn or error, got %q", l.Level)
	}
	switch l.Format {
	case "":
		l.Format = "text"
	case "text", "json":
	default:
		return fmt.Errorf("format must be text or json, got %q", l.Format)
	}
	return nil
}

func (s *SourceConfig) validate() error {
	if s.URI == "" {
		return fmt.Errorf("uri is required")
	}
	u, err := url.Parse(s.URI)
	if err != nil {
		return fmt.Errorf("invalid uri %q: %w", s.URI, err)
	}
	if u.Scheme != "udp" {
		return fmt.Errorf("uri scheme must be udp, got %q", u.Scheme)
	}
	if u.Port() == "" {
		return fmt.Errorf("uri %q has no port", s.URI)
	}
	if s.ClockRate <= 0 {
		return fmt.Errorf("clock_rate must be > 0")
	}
	if s.Payload < 96 || s.Payload > 127 {
		return fmt.Errorf("payload must be a dynamic RTP payload type (96-127), got %d", s.Payload)
	}
	if s.Depayloader == "" || s.Decoder == "" {
		return fmt.Errorf("depayloader and decoder are required")
	}
	if s.BufferFrames < 1 {
		s.BufferFrames = 4
	}
	return nil
}
