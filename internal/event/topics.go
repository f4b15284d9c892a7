package event

// Provisioning topics.
const (
	TopicNodeRegistered     = "provision.node.registered"
	TopicNodeConflict       = "provision.node.conflict"
	TopicNodeResolved       = "provision.node.resolved"
	TopicNodeFailed         = "provision.node.failed"
	TopicStartupConfigSaved = "provision.startup_config.saved"
)

// Topics lists every provisioning topic.
var Topics = []string{
	TopicNodeRegistered,
	TopicNodeConflict,
	TopicNodeResolved,
	TopicNodeFailed,
	TopicStartupConfigSaved,
}

// NodeEvent is the payload of every provisioning topic.
type NodeEvent struct {
	NodeID     string `json:"node_id"`
	Workflow   string `json:"workflow,omitempty"`
	Pattern    string `json:"pattern,omitempty"`
	Definition string `json:"definition,omitempty"`
	State      string `json:"state,omitempty"`
	Status     int    `json:"status,omitempty"`
	Error      string `json:"error,omitempty"`
}
