package provision

import (
	"github.com/HerbHall/ztpserver/internal/neighbordb"
	"github.com/HerbHall/ztpserver/pkg/models"
)

// Response is what a workflow hands back to the HTTP layer.
type Response struct {
	Status      int
	Location    string
	ContentType string
	Body        []byte
}

// Context is threaded through every step of one workflow run. Steps read
// what earlier steps stored and fill in their own fields.
type Context struct {
	NodeID string
	Node   *models.Node

	// Config is the optional startup-config carried by a registration.
	Config *string

	// Pattern is the pattern matched at registration.
	Pattern *neighbordb.Pattern

	Definition       *models.Definition
	HasStartupConfig bool
	Attributes       map[string]any

	// Unresolved lists the $variables that had no value in any scope.
	Unresolved []string

	Response Response
}
