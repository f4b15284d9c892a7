package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
)

// IdentifierField selects which payload field identifies a node.
type IdentifierField string

const (
	IdentifierSerialNumber IdentifierField = "serialnumber"
	IdentifierSystemMAC    IdentifierField = "systemmac"
)

// Valid reports whether f is a supported identifier field.
func (f IdentifierField) Valid() bool {
	return f == IdentifierSerialNumber || f == IdentifierSystemMAC
}

// ErrMissingIdentifier is returned when a node payload carries no usable identifier.
var ErrMissingIdentifier = errors.New("node identifier is required")

// ErrInvalidNode wraps payload decoding failures.
var ErrInvalidNode = errors.New("invalid node payload")

// Neighbor is a single LLDP adjacency reported by a node.
type Neighbor struct {
	Device string `json:"device" yaml:"device"`
	Port   string `json:"port" yaml:"port"`
}

// String renders the neighbor as device:port.
func (n Neighbor) String() string {
	return n.Device + ":" + n.Port
}

// Node describes a device requesting provisioning. It is built once per
// request from the device's JSON payload and is not mutated afterwards.
type Node struct {
	Identifier   string                `json:"identifier"`
	SystemMAC    string                `json:"systemmac,omitempty"`
	SerialNumber string                `json:"serialnumber,omitempty"`
	Model        string                `json:"model,omitempty"`
	Version      string                `json:"version,omitempty"`
	Neighbors    map[string][]Neighbor `json:"neighbors"`
}

// ParseNode decodes a node payload and derives its identifier from field.
// An explicit "identifier" in the payload is used only when field is empty.
func ParseNode(data []byte, field IdentifierField) (*Node, error) {
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil, fmt.Errorf("%w: empty body", ErrInvalidNode)
	}

	var n Node
	if err := json.Unmarshal(data, &n); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidNode, err)
	}

	switch field {
	case IdentifierSystemMAC:
		if n.SystemMAC != "" {
			n.Identifier = normalizeMAC(n.SystemMAC)
		}
	case IdentifierSerialNumber:
		if n.SerialNumber != "" {
			n.Identifier = n.SerialNumber
		}
	}
	n.Identifier = strings.TrimSpace(n.Identifier)
	if n.Identifier == "" {
		return nil, ErrMissingIdentifier
	}
	if strings.ContainsAny(n.Identifier, `/\`) || n.Identifier == "." || n.Identifier == ".." {
		return nil, fmt.Errorf("%w: identifier %q is not a valid path element", ErrInvalidNode, n.Identifier)
	}

	if n.Neighbors == nil {
		n.Neighbors = map[string][]Neighbor{}
	}
	return &n, nil
}

// Interfaces returns the node's local interface names in sorted order.
func (n *Node) Interfaces() []string {
	out := make([]string, 0, len(n.Neighbors))
	for intf := range n.Neighbors {
		out = append(out, intf)
	}
	sort.Strings(out)
	return out
}

// HasNeighbors reports whether any neighbor is attached to intf.
func (n *Node) HasNeighbors(intf string) bool {
	return len(n.Neighbors[intf]) > 0
}

// normalizeMAC strips separators and lowercases a MAC address so the same
// device maps to one identifier regardless of how it formats its MAC.
func normalizeMAC(mac string) string {
	r := strings.NewReplacer(":", "", "-", "", ".", "")
	return strings.ToLower(r.Replace(mac))
}
