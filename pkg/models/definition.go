package models

// AutogeneratedDefinitionName names the definition synthesized for nodes
// that only have a startup-config.
const AutogeneratedDefinitionName = "Autogenerated definition"

// Action is a single provisioning step served to a node.
type Action struct {
	Name          string         `json:"name" yaml:"name"`
	Action        string         `json:"action,omitempty" yaml:"action,omitempty"`
	Attributes    map[string]any `json:"attributes,omitempty" yaml:"attributes,omitempty"`
	AlwaysExecute bool           `json:"always_execute,omitempty" yaml:"always_execute,omitempty"`
}

// Definition is an ordered list of actions plus default attribute values.
type Definition struct {
	Name       string         `json:"name" yaml:"name"`
	Actions    []Action       `json:"actions" yaml:"actions"`
	Attributes map[string]any `json:"attributes,omitempty" yaml:"attributes,omitempty"`
}

// NewAutogeneratedDefinition returns an empty definition for a node that
// has a startup-config but no definition file.
func NewAutogeneratedDefinition() *Definition {
	return &Definition{Name: AutogeneratedDefinitionName, Actions: []Action{}}
}

// ResolvedDefinition is the body served to a node on GET /nodes/{id}.
type ResolvedDefinition struct {
	Name    string   `json:"name"`
	Actions []Action `json:"actions"`
}
