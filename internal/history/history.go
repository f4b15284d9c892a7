// Package history journals provisioning events per node in SQLite.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/HerbHall/ztpserver/internal/event"
	"github.com/HerbHall/ztpserver/internal/store"
)

// Entry is one journaled provisioning event.
type Entry struct {
	ID         string    `json:"id"`
	NodeID     string    `json:"node_id"`
	Topic      string    `json:"topic"`
	Workflow   string    `json:"workflow,omitempty"`
	Pattern    string    `json:"pattern,omitempty"`
	Definition string    `json:"definition,omitempty"`
	State      string    `json:"state,omitempty"`
	Status     int       `json:"status,omitempty"`
	Error      string    `json:"error,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// Store persists history entries.
type Store struct {
	db *sql.DB
}

// NewStore migrates the history schema on s.
func NewStore(ctx context.Context, s *store.SQLiteStore) (*Store, error) {
	if err := s.Migrate(ctx, "history", migrations()); err != nil {
		return nil, err
	}
	return &Store{db: s.DB()}, nil
}

// Record inserts e, assigning an ID and timestamp when unset.
func (s *Store) Record(ctx context.Context, e *Entry) error {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO provision_history
			(id, node_id, topic, workflow, pattern, definition, state, status, error_msg, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.NodeID, e.Topic, e.Workflow, e.Pattern, e.Definition, e.State, e.Status, e.Error,
		e.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("record history: %w", err)
	}
	return nil
}

// ListByNode returns a node's entries newest first.
func (s *Store) ListByNode(ctx context.Context, nodeID string, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, node_id, topic, workflow, pattern, definition, state, status, error_msg, created_at
		FROM provision_history WHERE node_id = ? ORDER BY seq DESC LIMIT ?`,
		nodeID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list history: %w", err)
	}
	defer rows.Close()

	entries := []Entry{}
	for rows.Next() {
		var (
			e       Entry
			created string
		)
		if err := rows.Scan(&e.ID, &e.NodeID, &e.Topic, &e.Workflow, &e.Pattern, &e.Definition,
			&e.State, &e.Status, &e.Error, &created); err != nil {
			return nil, fmt.Errorf("scan history row: %w", err)
		}
		if e.CreatedAt, err = time.Parse(time.RFC3339Nano, created); err != nil {
			return nil, fmt.Errorf("parse history timestamp: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Subscriber is the part of the event bus the recorder needs.
type Subscriber interface {
	Subscribe(topic string, handler event.Handler) (unsubscribe func())
}

// Recorder journals provisioning events from the bus.
type Recorder struct {
	store  *Store
	logger *zap.Logger
}

// NewRecorder returns a recorder writing to st.
func NewRecorder(st *Store, logger *zap.Logger) *Recorder {
	return &Recorder{store: st, logger: logger}
}

// Subscribe registers the recorder for every provisioning topic.
func (r *Recorder) Subscribe(bus Subscriber) (unsubscribe func()) {
	unsubs := make([]func(), 0, len(event.Topics))
	for _, topic := range event.Topics {
		unsubs = append(unsubs, bus.Subscribe(topic, r.handleEvent))
	}
	return func() {
		for _, u := range unsubs {
			u()
		}
	}
}

func (r *Recorder) handleEvent(ctx context.Context, e event.Event) {
	ne, ok := e.Payload.(*event.NodeEvent)
	if !ok || ne.NodeID == "" {
		return
	}
	entry := &Entry{
		NodeID:     ne.NodeID,
		Topic:      e.Topic,
		Workflow:   ne.Workflow,
		Pattern:    ne.Pattern,
		Definition: ne.Definition,
		State:      ne.State,
		Status:     ne.Status,
		Error:      ne.Error,
		CreatedAt:  e.Timestamp,
	}
	if err := r.store.Record(ctx, entry); err != nil {
		r.logger.Warn("failed to record provisioning event",
			zap.String("topic", e.Topic),
			zap.String("node_id", ne.NodeID),
			zap.Error(err),
		)
	}
}
