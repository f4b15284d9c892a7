package models

import (
	"errors"
	"reflect"
	"testing"
)

func TestParseNode_IdentifierField(t *testing.T) {
	body := []byte(`{
		"identifier": "explicit",
		"serialnumber": "SN123",
		"systemmac": "00:1C:73:AA:BB:CC",
		"neighbors": {"Ethernet1": [{"device": "spine1", "port": "Ethernet1"}]}
	}`)

	tests := []struct {
		name  string
		field IdentifierField
		want  string
	}{
		{"serial number", IdentifierSerialNumber, "SN123"},
		{"system mac normalized", IdentifierSystemMAC, "001c73aabbcc"},
		{"explicit identifier", "", "explicit"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n, err := ParseNode(body, tt.field)
			if err != nil {
				t.Fatalf("ParseNode: %v", err)
			}
			if n.Identifier != tt.want {
				t.Errorf("Identifier = %q, want %q", n.Identifier, tt.want)
			}
		})
	}
}

func TestParseNode_FallsBackToExplicitIdentifier(t *testing.T) {
	n, err := ParseNode([]byte(`{"identifier": "node1"}`), IdentifierSerialNumber)
	if err != nil {
		t.Fatalf("ParseNode: %v", err)
	}
	if n.Identifier != "node1" {
		t.Errorf("Identifier = %q, want node1", n.Identifier)
	}
	if n.Neighbors == nil {
		t.Error("Neighbors should default to an empty map")
	}
}

func TestParseNode_Errors(t *testing.T) {
	tests := []struct {
		name string
		body string
		want error
	}{
		{"empty", "", ErrInvalidNode},
		{"whitespace", "  \n", ErrInvalidNode},
		{"malformed", `{"serialnumber":`, ErrInvalidNode},
		{"no identifier", `{"model": "vEOS"}`, ErrMissingIdentifier},
		{"blank identifier", `{"serialnumber": "  "}`, ErrMissingIdentifier},
		{"path separator", `{"serialnumber": "a/b"}`, ErrInvalidNode},
		{"backslash", `{"serialnumber": "a\\b"}`, ErrInvalidNode},
		{"dot dot", `{"serialnumber": ".."}`, ErrInvalidNode},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseNode([]byte(tt.body), IdentifierSerialNumber)
			if !errors.Is(err, tt.want) {
				t.Errorf("err = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestNode_Interfaces(t *testing.T) {
	n := &Node{Neighbors: map[string][]Neighbor{
		"Management1": {{Device: "oob", Port: "Gi0/1"}},
		"Ethernet2":   {},
		"Ethernet1":   {{Device: "spine1", Port: "Ethernet1"}},
	}}

	want := []string{"Ethernet1", "Ethernet2", "Management1"}
	if got := n.Interfaces(); !reflect.DeepEqual(got, want) {
		t.Errorf("Interfaces() = %v, want %v", got, want)
	}
	if !n.HasNeighbors("Ethernet1") {
		t.Error("Ethernet1 should have neighbors")
	}
	if n.HasNeighbors("Ethernet2") || n.HasNeighbors("Ethernet9") {
		t.Error("empty and unknown interfaces should report no neighbors")
	}
}

func TestNeighbor_String(t *testing.T) {
	if got := (Neighbor{Device: "spine1", Port: "Ethernet3"}).String(); got != "spine1:Ethernet3" {
		t.Errorf("String() = %q", got)
	}
}

func TestNormalizeMAC(t *testing.T) {
	for _, in := range []string{"00:1C:73:AA:BB:CC", "00-1c-73-aa-bb-cc", "001c.73aa.bbcc"} {
		if got := normalizeMAC(in); got != "001c73aabbcc" {
			t.Errorf("normalizeMAC(%q) = %q", in, got)
		}
	}
}
