package events

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/2vyy/qt-camera-dashboard/internal/application"
	"github.com/2vyy/qt-camera-dashboard/internal/config"
	"github.com/2vyy/qt-camera-dashboard/internal/domain"
)

// ControlApplier applies a partial settings update
type ControlApplier interface {
	Apply(update config.ControlUpdate) (domain.Settings, error)
}

// MQTTEmitter publishes events to an MQTT broker and listens for control updates
type MQTTEmitter struct {
	cfg        config.MQTTConfig
	instanceID string
	logger     application.Logger
	client     mqtt.Client

	mu        sync.RWMutex
	published map[string]uint64
	errors    uint64
	connected bool
}

// NewMQTTEmitter creates an emitter; call Connect before use
func NewMQTTEmitter(cfg config.MQTTConfig, instanceID string, logger application.Logger) *MQTTEmitter {
	return &MQTTEmitter{
		cfg:        cfg,
		instanceID: instanceID,
		logger:     logger,
		published:  make(map[string]uint64),
	}
}

// EventTopic returns the topic for events of kind
func (e *MQTTEmitter) EventTopic(kind domain.EventKind) string {
	return fmt.Sprintf("%s/%s/events/%s", e.cfg.TopicPrefix, e.instanceID, kind)
}

// ControlTopic returns the topic control updates are read from
func (e *MQTTEmitter) ControlTopic() string {
	return fmt.Sprintf("%s/%s/control", e.cfg.TopicPrefix, e.instanceID)
}

// Connect establishes the broker connection. The client reconnects on its own afterwards.
func (e *MQTTEmitter) Connect() error {
	broker := e.cfg.Broker
	if !strings.Contains(broker, "://") {
		broker = "tcp://" + broker
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(broker)
	opts.SetClientID(e.cfg.ClientID)
	if e.cfg.Username != "" {
		opts.SetUsername(e.cfg.Username)
		opts.SetPassword(e.cfg.Password)
	}
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)

	opts.OnConnect = func(c mqtt.Client) {
		e.setConnected(true)
		e.logger.Info("MQTT connection established", "broker", broker, "client_id", e.cfg.ClientID)
	}
	opts.OnConnectionLost = func(c mqtt.Client, err error) {
		e.setConnected(false)
		e.logger.Warn("MQTT connection lost, waiting for reconnect", "broker", broker, "error", err)
	}

	e.client = mqtt.NewClient(opts)

	e.logger.Info("Connecting to MQTT broker", "broker", broker)
	token := e.client.Connect()
	if !token.WaitTimeout(5 * time.Second) {
		return fmt.Errorf("mqtt connection timeout")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt connection failed: %w", err)
	}
	e.setConnected(true)
	return nil
}

// Handler returns the bus handler publishing events as JSON
func (e *MQTTEmitter) Handler() Handler {
	return func(event domain.Event) {
		if err := e.Publish(event); err != nil {
			e.logger.Debug("MQTT event not published", "kind", event.Kind, "error", err)
		}
	}
}

// Publish sends one event
func (e *MQTTEmitter) Publish(event domain.Event) error {
	if !e.IsConnected() {
		e.countError()
		return fmt.Errorf("mqtt not connected")
	}

	payload, err := json.Marshal(event)
	if err != nil {
		e.countError()
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	topic := e.EventTopic(event.Kind)
	token := e.client.Publish(topic, e.cfg.QoS, false, payload)
	if !token.WaitTimeout(2 * time.Second) {
		e.countError()
		return fmt.Errorf("publish timeout")
	}
	if err := token.Error(); err != nil {
		e.countError()
		return fmt.Errorf("publish failed: %w", err)
	}

	e.mu.Lock()
	e.published[topic]++
	e.mu.Unlock()
	return nil
}

// SubscribeControl applies JSON control updates received on the control topic
func (e *MQTTEmitter) SubscribeControl(store ControlApplier) error {
	topic := e.ControlTopic()
	token := e.client.Subscribe(topic, e.cfg.QoS, func(_ mqtt.Client, msg mqtt.Message) {
		e.handleControl(store, msg.Payload())
	})
	if !token.WaitTimeout(5 * time.Second) {
		return fmt.Errorf("control subscription timeout")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("control subscription failed: %w", err)
	}
	e.logger.Info("Subscribed to control topic", "topic", topic)
	return nil
}

func (e *MQTTEmitter) handleControl(store ControlApplier, payload []byte) {
	var update config.ControlUpdate
	if err := json.Unmarshal(payload, &update); err != nil {
		e.logger.Warn("Invalid control message", "error", err)
		return
	}
	settings, err := store.Apply(update)
	if err != nil {
		e.logger.Warn("Control update rejected", "error", err)
		return
	}
	e.logger.Info("Settings updated via MQTT", "recording", settings.Recording, "raw_view", settings.RawView,
		"threshold", settings.BinaryThreshold, "min_area", settings.MinContourArea, "stride", settings.ThrottleStride)
}

// Disconnect closes the connection
func (e *MQTTEmitter) Disconnect() {
	if e.client != nil && e.client.IsConnected() {
		e.client.Unsubscribe(e.ControlTopic()).WaitTimeout(time.Second)
		e.client.Disconnect(250)
		e.logger.Info("MQTT disconnected")
	}
	e.setConnected(false)
}

// MQTTStats contains emitter statistics
type MQTTStats struct {
	Connected bool              `json:"connected"`
	Published map[string]uint64 `json:"published"`
	Errors    uint64            `json:"errors"`
}

// Stats returns emitter statistics
func (e *MQTTEmitter) Stats() MQTTStats {
	e.mu.RLock()
	defer e.mu.RUnlock()

	published := make(map[string]uint64, len(e.published))
	for k, v := range e.published {
		published[k] = v
	}
	return MQTTStats{Connected: e.connected, Published: published, Errors: e.errors}
}

// IsConnected returns the connection status
func (e *MQTTEmitter) IsConnected() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.connected
}

func (e *MQTTEmitter) setConnected(v bool) {
	e.mu.Lock()
	e.connected = v
	e.mu.Unlock()
}

func (e *MQTTEmitter) countError() {
	e.mu.Lock()
	e.errors++
	e.mu.Unlock()
}
