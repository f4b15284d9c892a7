// Package mqtt republishes provisioning events to an MQTT broker.
package mqtt

import (
	"context"
	"encoding/json"
	"sync"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"github.com/HerbHall/ztpserver/internal/event"
)

// Subscriber is the part of the event bus the publisher needs.
type Subscriber interface {
	Subscribe(topic string, handler event.Handler) (unsubscribe func())
}

// client is the subset of pahomqtt.Client used for publishing.
type client interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) pahomqtt.Token
	IsConnected() bool
}

// Publisher forwards node events to {prefix}/node/{id}/{event} and keeps a
// retained {prefix}/node/{id}/state topic with the latest event name.
type Publisher struct {
	logger *zap.Logger
	cfg    Config

	mu     sync.RWMutex
	conn   pahomqtt.Client
	client client
}

// New creates a publisher. Zero-valued fields fall back to DefaultConfig.
func New(cfg Config, logger *zap.Logger) *Publisher {
	def := DefaultConfig()
	if cfg.ClientID == "" {
		cfg.ClientID = def.ClientID
	}
	if cfg.TopicPrefix == "" {
		cfg.TopicPrefix = def.TopicPrefix
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	return &Publisher{logger: logger, cfg: cfg}
}

// Start connects to the broker. A failed first connect is logged and
// retried in the background by the client.
func (p *Publisher) Start(_ context.Context) error {
	if p.cfg.BrokerURL == "" {
		p.logger.Info("mqtt publisher disabled (no broker configured)")
		return nil
	}

	opts := pahomqtt.NewClientOptions().
		AddBroker(p.cfg.BrokerURL).
		SetClientID(p.cfg.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectTimeout(p.cfg.Timeout)
	if p.cfg.Username != "" {
		opts.SetUsername(p.cfg.Username)
		opts.SetPassword(p.cfg.Password) //nolint:gosec // G101: config field
	}

	conn := pahomqtt.NewClient(opts)
	token := conn.Connect()
	switch {
	case !token.WaitTimeout(p.cfg.Timeout):
		p.logger.Warn("mqtt connection timed out; will reconnect in background")
	case token.Error() != nil:
		p.logger.Warn("mqtt connection failed; will reconnect in background", zap.Error(token.Error()))
	default:
		p.logger.Info("mqtt connected to broker", zap.String("broker_url", p.cfg.BrokerURL))
	}

	p.mu.Lock()
	p.conn = conn
	p.client = conn
	p.mu.Unlock()
	return nil
}

// Stop disconnects from the broker.
func (p *Publisher) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.conn != nil && p.conn.IsConnected() {
		p.conn.Disconnect(250)
		p.logger.Info("mqtt disconnected")
	}
}

// Subscribe registers the publisher for every provisioning topic.
func (p *Publisher) Subscribe(bus Subscriber) (unsubscribe func()) {
	unsubs := make([]func(), 0, len(event.Topics))
	for _, topic := range event.Topics {
		unsubs = append(unsubs, bus.Subscribe(topic, p.publishEvent))
	}
	return func() {
		for _, u := range unsubs {
			u()
		}
	}
}

// eventName maps a bus topic to the trailing MQTT topic segment.
func eventName(topic string) string {
	switch topic {
	case event.TopicNodeRegistered:
		return "registered"
	case event.TopicNodeConflict:
		return "conflict"
	case event.TopicNodeResolved:
		return "resolved"
	case event.TopicNodeFailed:
		return "failed"
	case event.TopicStartupConfigSaved:
		return "startup-config"
	default:
		return "unknown"
	}
}

func (p *Publisher) nodeTopic(nodeID, suffix string) string {
	return p.cfg.TopicPrefix + "/node/" + nodeID + "/" + suffix
}

func (p *Publisher) publishEvent(_ context.Context, e event.Event) {
	ne, ok := e.Payload.(*event.NodeEvent)
	if !ok || ne.NodeID == "" {
		return
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.client == nil || !p.client.IsConnected() {
		return
	}

	payload, err := json.Marshal(ne)
	if err != nil {
		p.logger.Warn("failed to marshal MQTT payload", zap.String("topic", e.Topic), zap.Error(err))
		return
	}

	name := eventName(e.Topic)
	if p.publish(p.nodeTopic(ne.NodeID, name), p.cfg.Retain, payload) {
		p.publish(p.nodeTopic(ne.NodeID, "state"), true, []byte(name))
	}
}

func (p *Publisher) publish(topic string, retained bool, payload []byte) bool {
	token := p.client.Publish(topic, p.cfg.QoS, retained, payload)
	if !token.WaitTimeout(p.cfg.Timeout) {
		p.logger.Warn("mqtt publish timed out", zap.String("mqtt_topic", topic))
		return false
	}
	if err := token.Error(); err != nil {
		p.logger.Warn("mqtt publish failed", zap.String("mqtt_topic", topic), zap.Error(err))
		return false
	}
	p.logger.Debug("mqtt event published", zap.String("mqtt_topic", topic))
	return true
}
