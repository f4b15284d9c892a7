package webhook

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/HerbHall/ztpserver/internal/auth"
	"github.com/HerbHall/ztpserver/internal/event"
)

func TestSubscribe_AllProvisioningTopics(t *testing.T) {
	bus := event.NewBus(zap.NewNop())

	var mu sync.Mutex
	var got []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var p Payload
		if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
			t.Errorf("decode: %v", err)
		}
		mu.Lock()
		got = append(got, p.Event)
		mu.Unlock()
	}))
	defer srv.Close()

	n := New(Config{URL: srv.URL, Enabled: true}, zap.NewNop())
	unsubscribe := n.Subscribe(bus)

	for _, topic := range event.Topics {
		if err := bus.Publish(context.Background(), event.Event{Topic: topic, Payload: &event.NodeEvent{NodeID: "n1"}}); err != nil {
			t.Fatalf("Publish: %v", err)
		}
	}
	mu.Lock()
	if len(got) != len(event.Topics) {
		t.Errorf("delivered %d events, want %d", len(got), len(event.Topics))
	}
	mu.Unlock()

	unsubscribe()
	_ = bus.Publish(context.Background(), event.Event{Topic: event.TopicNodeFailed})
	mu.Lock()
	defer mu.Unlock()
	if len(got) != len(event.Topics) {
		t.Errorf("delivered after unsubscribe: %d events", len(got))
	}
}

func TestHandleEvent_DeliversPayload(t *testing.T) {
	var received Payload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("Content-Type = %q, want application/json", ct)
		}
		if ua := r.Header.Get("User-Agent"); !strings.HasPrefix(ua, "ztpserver-webhook/") {
			t.Errorf("User-Agent = %q", ua)
		}
		if err := json.NewDecoder(r.Body).Decode(&received); err != nil {
			t.Errorf("decode: %v", err)
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	n := New(Config{URL: srv.URL, Timeout: 5 * time.Second, Enabled: true}, zap.NewNop())
	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	n.handleEvent(context.Background(), event.Event{
		Topic:     event.TopicNodeRegistered,
		Source:    "provision",
		Timestamp: ts,
		Payload:   &event.NodeEvent{NodeID: "leaf1", Pattern: "leaf", Status: 201},
	})

	if received.Event != event.TopicNodeRegistered {
		t.Errorf("Event = %q", received.Event)
	}
	if received.Timestamp != "2026-03-01T12:00:00Z" {
		t.Errorf("Timestamp = %q", received.Timestamp)
	}
	data, ok := received.Data.(map[string]any)
	if !ok {
		t.Fatalf("Data = %T, want object", received.Data)
	}
	if data["node_id"] != "leaf1" || data["pattern"] != "leaf" {
		t.Errorf("Data = %v", data)
	}
}

func TestHandleEvent_DisabledOrNoURL(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
	}))
	defer srv.Close()

	ev := event.Event{Topic: event.TopicNodeResolved, Timestamp: time.Now()}
	New(Config{URL: srv.URL, Enabled: false}, zap.NewNop()).handleEvent(context.Background(), ev)
	New(Config{Enabled: true}, zap.NewNop()).handleEvent(context.Background(), ev)

	if calls != 0 {
		t.Errorf("server called %d times, want 0", calls)
	}
}

func TestSend_EndpointErrorsAreLoggedNotFatal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	n := New(Config{URL: srv.URL, Enabled: true}, zap.NewNop())
	n.handleEvent(context.Background(), event.Event{Topic: event.TopicNodeFailed, Timestamp: time.Now()})

	// Unreachable endpoint.
	n = New(Config{URL: "http://127.0.0.1:1", Timeout: time.Second, Enabled: true}, zap.NewNop())
	n.handleEvent(context.Background(), event.Event{Topic: event.TopicNodeFailed, Timestamp: time.Now()})
}

func TestSend_SignedDelivery(t *testing.T) {
	tokens, err := auth.NewTokenService([]byte("webhook-test-secret"))
	if err != nil {
		t.Fatalf("NewTokenService: %v", err)
	}

	var verifyErr error
	var subject string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		claims, err := tokens.VerifyBody(token, body)
		verifyErr = err
		if claims != nil {
			subject = claims.Subject
		}
	}))
	defer srv.Close()

	n := New(Config{URL: srv.URL, Enabled: true, Signer: tokens}, zap.NewNop())
	n.handleEvent(context.Background(), event.Event{
		Topic:   event.TopicNodeResolved,
		Payload: &event.NodeEvent{NodeID: "leaf1"},
	})

	if verifyErr != nil {
		t.Fatalf("receiver could not verify delivery: %v", verifyErr)
	}
	if subject != event.TopicNodeResolved {
		t.Errorf("token subject = %q, want %q", subject, event.TopicNodeResolved)
	}
}
