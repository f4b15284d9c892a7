package provision

// State names one step of a provisioning workflow.
type State int

const (
	// StateNone terminates a workflow.
	StateNone State = iota

	// Registration.
	StateNodeExists
	StatePostConfig
	StatePostNode
	StateDumpNode
	StateSetLocation

	// Resolution.
	StateGetDefinition
	StateDoValidation
	StateGetStartupConfig
	StateDoActions
	StateGetAttributes
	StateDoSubstitution
	StateDoResources
	StateFinalizeResponse
)

var stateNames = map[State]string{
	StateNone:             "none",
	StateNodeExists:       "node_exists",
	StatePostConfig:       "post_config",
	StatePostNode:         "post_node",
	StateDumpNode:         "dump_node",
	StateSetLocation:      "set_location",
	StateGetDefinition:    "get_definition",
	StateDoValidation:     "do_validation",
	StateGetStartupConfig: "get_startup_config",
	StateDoActions:        "do_actions",
	StateGetAttributes:    "get_attributes",
	StateDoSubstitution:   "do_substitution",
	StateDoResources:      "do_resources",
	StateFinalizeResponse: "finalize_response",
}

func (s State) String() string {
	if n, ok := stateNames[s]; ok {
		return n
	}
	return "unknown"
}

// Workflow names, used as metric labels and in events.
const (
	WorkflowCreate = "create"
	WorkflowShow   = "show"
)
