// Package webhook POSTs provisioning events to an external URL.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/HerbHall/ztpserver/internal/event"
	"github.com/HerbHall/ztpserver/internal/version"
)

var deliveriesTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "ztp_webhook_deliveries_total",
		Help: "Total webhook deliveries by result.",
	},
	[]string{"result"},
)

func init() {
	prometheus.MustRegister(deliveriesTotal)
}

// BodySigner produces a bearer token bound to a delivery body.
type BodySigner interface {
	SignBody(topic string, body []byte) (string, error)
}

// Config holds the notifier configuration.
type Config struct {
	URL     string
	Timeout time.Duration
	Enabled bool
	// Signer, when set, adds an Authorization header to every delivery.
	Signer BodySigner
}

// Subscriber is the part of the event bus the notifier needs.
type Subscriber interface {
	Subscribe(topic string, handler event.Handler) (unsubscribe func())
}

// Notifier forwards provisioning events as JSON POSTs.
type Notifier struct {
	logger *zap.Logger
	cfg    Config
	client *http.Client
}

// New creates a notifier. A zero timeout defaults to 10s.
func New(cfg Config, logger *zap.Logger) *Notifier {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.Enabled && cfg.URL == "" {
		logger.Warn("webhook URL not configured; notifications will be dropped")
	}
	return &Notifier{
		logger: logger,
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}
}

// Subscribe registers the notifier for every provisioning topic and returns
// a function that removes all subscriptions.
func (n *Notifier) Subscribe(bus Subscriber) (unsubscribe func()) {
	unsubs := make([]func(), 0, len(event.Topics))
	for _, topic := range event.Topics {
		unsubs = append(unsubs, bus.Subscribe(topic, n.handleEvent))
	}
	return func() {
		for _, u := range unsubs {
			u()
		}
	}
}

// Payload is the JSON body sent to the webhook URL.
type Payload struct {
	Event     string `json:"event"`
	Source    string `json:"source"`
	Timestamp string `json:"timestamp"`
	Data      any    `json:"data"`
}

func (n *Notifier) handleEvent(ctx context.Context, e event.Event) {
	if !n.cfg.Enabled || n.cfg.URL == "" {
		return
	}

	body, err := json.Marshal(Payload{
		Event:     e.Topic,
		Source:    e.Source,
		Timestamp: e.Timestamp.UTC().Format(time.RFC3339),
		Data:      e.Payload,
	})
	if err != nil {
		n.logger.Error("failed to marshal webhook payload",
			zap.String("topic", e.Topic),
			zap.Error(err),
		)
		return
	}

	n.send(ctx, body, e.Topic)
}

func (n *Notifier) send(ctx context.Context, body []byte, topic string) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.cfg.URL, bytes.NewReader(body))
	if err != nil {
		n.logger.Error("failed to create webhook request", zap.Error(err))
		deliveriesTotal.WithLabelValues("error").Inc()
		return
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "ztpserver-webhook/"+version.Short())
	if n.cfg.Signer != nil {
		token, err := n.cfg.Signer.SignBody(topic, body)
		if err != nil {
			n.logger.Error("failed to sign webhook payload", zap.String("topic", topic), zap.Error(err))
			deliveriesTotal.WithLabelValues("error").Inc()
			return
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		n.logger.Warn("webhook delivery failed",
			zap.String("url", n.cfg.URL),
			zap.String("topic", topic),
			zap.Error(err),
		)
		deliveriesTotal.WithLabelValues("error").Inc()
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		n.logger.Warn("webhook endpoint returned error",
			zap.String("url", n.cfg.URL),
			zap.String("topic", topic),
			zap.Int("status_code", resp.StatusCode),
		)
		deliveriesTotal.WithLabelValues("rejected").Inc()
		return
	}

	deliveriesTotal.WithLabelValues("ok").Inc()
	n.logger.Debug("webhook delivered",
		zap.String("topic", topic),
		zap.Int("status_code", resp.StatusCode),
	)
}
