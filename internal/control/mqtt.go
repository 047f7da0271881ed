package control

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// MQTTConfig configures the MQTT command source
type MQTTConfig struct {
	Broker       string // host:port
	ClientID     string
	ControlTopic string
	EventsTopic  string // acknowledgements (optional)
	QoS          byte
}

// Command is the JSON form of a control message. Plain-text payloads are
// accepted too and dispatched as-is.
type Command struct {
	Command string `json:"command"`
}

// Response acknowledges a control message on the events topic
type Response struct {
	CommandAck string `json:"command_ack"`
	Status     string `json:"status"`
	Timestamp  string `json:"timestamp"`
}

// MQTTSource subscribes to a control topic and dispatches every payload as
// one command line.
type MQTTSource struct {
	cfg    MQTTConfig
	cmds   Dispatcher
	log    *slog.Logger
	client mqtt.Client

	received atomic.Uint64
	accepted atomic.Uint64
}

// NewMQTTSource creates an MQTT command source. Call Run to connect.
func NewMQTTSource(cfg MQTTConfig, cmds Dispatcher, log *slog.Logger) *MQTTSource {
	if log == nil {
		log = slog.Default()
	}
	return &MQTTSource{cfg: cfg, cmds: cmds, log: log}
}

// Run connects, subscribes and blocks until ctx is cancelled.
func (s *MQTTSource) Run(ctx context.Context) error {
	if err := s.connect(); err != nil {
		return err
	}
	defer s.client.Disconnect(250)

	token := s.client.Subscribe(s.cfg.ControlTopic, s.cfg.QoS, s.messageHandler)
	if !token.WaitTimeout(5 * time.Second) {
		return fmt.Errorf("control: mqtt subscription timeout")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("control: mqtt subscription failed: %w", err)
	}
	s.log.Info("control: subscribed to control topic", "topic", s.cfg.ControlTopic, "qos", s.cfg.QoS)

	<-ctx.Done()

	if s.client.IsConnected() {
		s.client.Unsubscribe(s.cfg.ControlTopic).WaitTimeout(time.Second)
	}
	s.log.Info("control: mqtt source stopped",
		"received", s.received.Load(),
		"accepted", s.accepted.Load(),
	)
	return nil
}

func (s *MQTTSource) connect() error {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s", s.cfg.Broker))
	opts.SetClientID(s.cfg.ClientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)

	opts.OnConnect = func(c mqtt.Client) {
		s.log.Info("control: mqtt connection established",
			"broker", s.cfg.Broker,
			"client_id", s.cfg.ClientID,
		)
	}
	opts.OnConnectionLost = func(c mqtt.Client, err error) {
		s.log.Warn("control: mqtt connection lost, will auto-reconnect",
			"error", err,
			"broker", s.cfg.Broker,
		)
	}

	s.client = mqtt.NewClient(opts)

	s.log.Info("control: connecting to mqtt broker", "broker", s.cfg.Broker)
	token := s.client.Connect()
	if !token.WaitTimeout(5 * time.Second) {
		return fmt.Errorf("control: mqtt connection timeout")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("control: mqtt connection failed: %w", err)
	}
	return nil
}

// messageHandler is called by paho for every control message
func (s *MQTTSource) messageHandler(_ mqtt.Client, msg mqtt.Message) {
	s.received.Add(1)

	line := parsePayload(msg.Payload())
	accepted := s.cmds.Dispatch(line)

	status := "ignored"
	if accepted {
		s.accepted.Add(1)
		status = "armed"
	}
	s.log.Debug("control: mqtt command received",
		"topic", msg.Topic(),
		"command", line,
		"status", status,
	)

	s.ack(line, status)
}

func (s *MQTTSource) ack(command, status string) {
	if s.client == nil || s.cfg.EventsTopic == "" {
		return
	}
	payload, err := json.Marshal(Response{
		CommandAck: command,
		Status:     status,
		Timestamp:  time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return
	}
	// fire and forget; the paho callback goroutine must not wait on a publish
	s.client.Publish(s.cfg.EventsTopic, s.cfg.QoS, false, payload)
}

// parsePayload extracts the command line from a JSON or plain-text payload
func parsePayload(payload []byte) string {
	trimmed := strings.TrimSpace(string(payload))
	if strings.HasPrefix(trimmed, "{") {
		var cmd Command
		if err := json.Unmarshal([]byte(trimmed), &cmd); err == nil {
			return cmd.Command
		}
	}
	return trimmed
}

// Received returns the number of control messages seen
func (s *MQTTSource) Received() uint64 { return s.received.Load() }

// Accepted returns the number of control messages that requested a capture
func (s *MQTTSource) Accepted() uint64 { return s.accepted.Load() }
