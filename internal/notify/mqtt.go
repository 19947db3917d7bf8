package notify

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/eclipse/paho.golang/autopaho"
	"github.com/eclipse/paho.golang/paho"
)

// MQTTPublisher pushes execution events to an MQTT broker so home
// automation can react to commands as they complete. It maintains its
// connection with autopaho and reconnects in the background.
type MQTTPublisher struct {
	brokerURL string
	username  string
	password  string
	topic     string
	clientID  string
	logger    *slog.Logger
	cm        *autopaho.ConnectionManager
}

// ExecutionEvent is the JSON payload published per executed command.
type ExecutionEvent struct {
	CommandID  string    `json:"command_id"`
	ActionType string    `json:"action_type"`
	Status     string    `json:"status"`
	Message    string    `json:"message,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// NewMQTTPublisher creates a publisher but does not connect. Call
// [MQTTPublisher.Start] to begin the connection.
func NewMQTTPublisher(brokerURL, username, password, topic, clientID string, logger *slog.Logger) *MQTTPublisher {
	if logger == nil {
		logger = slog.Default()
	}
	if topic == "" {
		topic = "zeke/commands"
	}
	if clientID == "" {
		clientID = "zeke-agent"
	}
	return &MQTTPublisher{
		brokerURL: brokerURL,
		username:  username,
		password:  password,
		topic:     topic,
		clientID:  clientID,
		logger:    logger.With("component", "mqtt"),
	}
}

// Start connects to the broker. Returns once the connection manager
// is running; autopaho retries in the background on failure.
func (p *MQTTPublisher) Start(ctx context.Context) error {
	brokerURL, err := url.Parse(p.brokerURL)
	if err != nil {
		return fmt.Errorf("parse mqtt broker URL: %w", err)
	}

	pahoCfg := autopaho.ClientConfig{
		ServerUrls:      []*url.URL{brokerURL},
		KeepAlive:       30,
		ConnectUsername: p.username,
		ConnectPassword: []byte(p.password),
		WillMessage: &paho.WillMessage{
			Topic:   p.topic + "/availability",
			Payload: []byte("offline"),
			QoS:     1,
			Retain:  true,
		},
		OnConnectionUp: func(cm *autopaho.ConnectionManager, _ *paho.Connack) {
			p.logger.Info("mqtt connected", "broker", p.brokerURL)
			if _, err := cm.Publish(ctx, &paho.Publish{
				Topic:   p.topic + "/availability",
				Payload: []byte("online"),
				QoS:     1,
				Retain:  true,
			}); err != nil {
				p.logger.Warn("mqtt availability publish failed", "error", err)
			}
		},
		OnConnectError: func(err error) {
			p.logger.Warn("mqtt connection error", "error", err)
		},
		ClientConfig: paho.ClientConfig{
			ClientID: p.clientID,
		},
	}

	if brokerURL.Scheme == "mqtts" || brokerURL.Scheme == "ssl" {
		pahoCfg.TlsCfg = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	cm, err := autopaho.NewConnection(ctx, pahoCfg)
	if err != nil {
		return fmt.Errorf("mqtt connect: %w", err)
	}
	p.cm = cm

	connCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := cm.AwaitConnection(connCtx); err != nil {
		p.logger.Warn("mqtt initial connection timed out, retrying in background", "error", err)
	}
	return nil
}

// Stop publishes offline availability and disconnects.
func (p *MQTTPublisher) Stop(ctx context.Context) error {
	if p.cm == nil {
		return nil
	}
	if _, err := p.cm.Publish(ctx, &paho.Publish{
		Topic:   p.topic + "/availability",
		Payload: []byte("offline"),
		QoS:     1,
		Retain:  true,
	}); err != nil {
		p.logger.Warn("mqtt offline publish failed", "error", err)
	}
	return p.cm.Disconnect(ctx)
}

// PublishExecution pushes one execution event. Failures are logged,
// not returned: MQTT is advisory and must never fail a command.
func (p *MQTTPublisher) PublishExecution(ctx context.Context, ev ExecutionEvent) {
	if p.cm == nil {
		return
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}

	payload, err := json.Marshal(ev)
	if err != nil {
		p.logger.Error("mqtt marshal event", "error", err)
		return
	}

	if _, err := p.cm.Publish(ctx, &paho.Publish{
		Topic:   p.topic + "/executed",
		Payload: payload,
		QoS:     1,
	}); err != nil {
		p.logger.Warn("mqtt publish failed", "command_id", ev.CommandID, "error", err)
		return
	}
	p.logger.Debug("mqtt execution published", "command_id", ev.CommandID, "status", ev.Status)
}
