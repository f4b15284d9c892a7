// Package testutil holds fixtures shared by package tests.
package testutil

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/HerbHall/ztpserver/internal/repository"
	"github.com/HerbHall/ztpserver/pkg/models"
)

// NewNode returns a Node with a random serial number and no neighbors.
// Override individual fields with options.
func NewNode(opts ...func(*models.Node)) models.Node {
	serial := strings.ToUpper(strings.ReplaceAll(uuid.New().String(), "-", "")[:12])
	n := models.Node{
		Identifier:   serial,
		SerialNumber: serial,
		SystemMAC:    "00:1c:73:00:00:01",
		Model:        "DCS-7050TX-64",
		Version:      "4.30.1F",
		Neighbors:    map[string][]models.Neighbor{},
	}
	for _, opt := range opts {
		opt(&n)
	}
	return n
}

// WithID sets both the identifier and the serial number.
func WithID(id string) func(*models.Node) {
	return func(n *models.Node) {
		n.Identifier = id
		n.SerialNumber = id
	}
}

// WithNeighbor adds a device:port neighbor on intf.
func WithNeighbor(intf, device, port string) func(*models.Node) {
	return func(n *models.Node) {
		n.Neighbors[intf] = append(n.Neighbors[intf], models.Neighbor{Device: device, Port: port})
	}
}

// NodeBody encodes n as a registration body, with an optional config field.
func NodeBody(t testing.TB, n models.Node, config *string) []byte {
	t.Helper()
	payload := map[string]any{
		"serialnumber": n.SerialNumber,
		"systemmac":    n.SystemMAC,
		"model":        n.Model,
		"version":      n.Version,
		"neighbors":    n.Neighbors,
	}
	if n.Identifier != n.SerialNumber {
		payload["identifier"] = n.Identifier
	}
	if config != nil {
		payload["config"] = *config
	}
	data, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal node body: %v", err)
	}
	return data
}

// SeedRepository writes files (path -> raw content) into repo.
func SeedRepository(t testing.TB, repo *repository.Repository, files map[string]string) {
	t.Helper()
	ctx := context.Background()
	for p, content := range files {
		f, err := repo.OpenOrCreate(ctx, p)
		if err != nil {
			t.Fatalf("seed %s: %v", p, err)
		}
		if err := f.Write(ctx, content, repository.ContentTypeText); err != nil {
			t.Fatalf("seed %s: %v", p, err)
		}
	}
}
