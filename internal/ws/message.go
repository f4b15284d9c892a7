package ws

import (
	"time"

	"github.com/HerbHall/ztpserver/internal/event"
)

// Message is the envelope written to event stream clients.
type Message struct {
	Topic     string           `json:"topic"`
	Timestamp time.Time        `json:"timestamp"`
	Node      *event.NodeEvent `json:"node"`
}
