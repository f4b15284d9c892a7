package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"github.com/HerbHall/ztpserver/internal/event"
)

type fakeToken struct{ err error }

func (t *fakeToken) Wait() bool                     { return true }
func (t *fakeToken) WaitTimeout(time.Duration) bool { return true }
func (t *fakeToken) Error() error                   { return t.err }

func (t *fakeToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

type published struct {
	topic    string
	retained bool
	payload  []byte
}

type fakeClient struct {
	mu        sync.Mutex
	connected bool
	err       error
	msgs      []published
}

func (c *fakeClient) Publish(topic string, _ byte, retained bool, payload interface{}) pahomqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.msgs = append(c.msgs, published{topic: topic, retained: retained, payload: payload.([]byte)})
	return &fakeToken{err: c.err}
}

func (c *fakeClient) IsConnected() bool { return c.connected }

func newTestPublisher(c client) *Publisher {
	p := New(Config{TopicPrefix: "ztp"}, zap.NewNop())
	p.client = c
	return p
}

func TestEventName(t *testing.T) {
	tests := []struct {
		topic string
		want  string
	}{
		{event.TopicNodeRegistered, "registered"},
		{event.TopicNodeConflict, "conflict"},
		{event.TopicNodeResolved, "resolved"},
		{event.TopicNodeFailed, "failed"},
		{event.TopicStartupConfigSaved, "startup-config"},
		{"other", "unknown"},
	}
	for _, tt := range tests {
		t.Run(tt.topic, func(t *testing.T) {
			if got := eventName(tt.topic); got != tt.want {
				t.Errorf("eventName(%q) = %q, want %q", tt.topic, got, tt.want)
			}
		})
	}
}

func TestPublishEvent_EventAndState(t *testing.T) {
	c := &fakeClient{connected: true}
	p := newTestPublisher(c)

	p.publishEvent(context.Background(), event.Event{
		Topic:   event.TopicNodeRegistered,
		Payload: &event.NodeEvent{NodeID: "leaf1", Pattern: "leaf", Status: 201},
	})

	if len(c.msgs) != 2 {
		t.Fatalf("published %d messages, want 2", len(c.msgs))
	}
	if c.msgs[0].topic != "ztp/node/leaf1/registered" || c.msgs[0].retained {
		t.Errorf("event message = %+v", c.msgs[0])
	}
	var ne event.NodeEvent
	if err := json.Unmarshal(c.msgs[0].payload, &ne); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if ne.Pattern != "leaf" || ne.Status != 201 {
		t.Errorf("payload = %+v", ne)
	}
	if c.msgs[1].topic != "ztp/node/leaf1/state" || !c.msgs[1].retained || string(c.msgs[1].payload) != "registered" {
		t.Errorf("state message = %+v", c.msgs[1])
	}
}

func TestPublishEvent_SkipsStateOnFailure(t *testing.T) {
	c := &fakeClient{connected: true, err: errors.New("broker gone")}
	p := newTestPublisher(c)

	p.publishEvent(context.Background(), event.Event{
		Topic:   event.TopicNodeFailed,
		Payload: &event.NodeEvent{NodeID: "leaf1"},
	})

	if len(c.msgs) != 1 {
		t.Errorf("published %d messages, want 1", len(c.msgs))
	}
}

func TestPublishEvent_NoOp(t *testing.T) {
	tests := []struct {
		name   string
		client client
		ev     event.Event
	}{
		{"nil client", nil, event.Event{Topic: event.TopicNodeResolved, Payload: &event.NodeEvent{NodeID: "n"}}},
		{"disconnected", &fakeClient{}, event.Event{Topic: event.TopicNodeResolved, Payload: &event.NodeEvent{NodeID: "n"}}},
		{"foreign payload", &fakeClient{connected: true}, event.Event{Topic: event.TopicNodeResolved, Payload: "x"}},
		{"no node id", &fakeClient{connected: true}, event.Event{Topic: event.TopicNodeResolved, Payload: &event.NodeEvent{}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newTestPublisher(tt.client)
			p.publishEvent(context.Background(), tt.ev)
			if fc, ok := tt.client.(*fakeClient); ok && len(fc.msgs) != 0 {
				t.Errorf("published %d messages, want 0", len(fc.msgs))
			}
		})
	}
}

func TestSubscribe_AllTopics(t *testing.T) {
	bus := event.NewBus(zap.NewNop())
	c := &fakeClient{connected: true}
	p := newTestPublisher(c)
	unsubscribe := p.Subscribe(bus)

	for _, topic := range event.Topics {
		_ = bus.Publish(context.Background(), event.Event{Topic: topic, Payload: &event.NodeEvent{NodeID: "n"}})
	}
	if len(c.msgs) != 2*len(event.Topics) {
		t.Errorf("published %d messages, want %d", len(c.msgs), 2*len(event.Topics))
	}

	unsubscribe()
	_ = bus.Publish(context.Background(), event.Event{Topic: event.TopicNodeFailed, Payload: &event.NodeEvent{NodeID: "n"}})
	if len(c.msgs) != 2*len(event.Topics) {
		t.Error("published after unsubscribe")
	}
}

func TestStart_NoOpWithEmptyBrokerURL(t *testing.T) {
	p := New(Config{}, zap.NewNop())
	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v, want nil", err)
	}
	if p.client != nil {
		t.Error("client should be nil when no broker URL is configured")
	}
	p.Stop()
}

func TestNew_Defaults(t *testing.T) {
	p := New(Config{BrokerURL: "tcp://localhost:1883"}, zap.NewNop())
	if p.cfg.ClientID != "ztpserver" || p.cfg.TopicPrefix != "ztpserver" || p.cfg.Timeout != 10*time.Second {
		t.Errorf("cfg = %+v", p.cfg)
	}
}
