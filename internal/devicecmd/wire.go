package devicecmd

import "github.com/rbx/ODC/types"

// commandKind distinguishes the three fan-out command shapes carried over
// the wire (spec §4.1).
type commandKind string

const (
	kindChangeState   commandKind = "change_state"
	kindGetProperties commandKind = "get_properties"
	kindSetProperties commandKind = "set_properties"
)

// commandMsg is the JSON payload published to a task's command subject.
type commandMsg struct {
	Kind       commandKind      `json:"kind"`
	Transition types.Transition `json:"transition,omitempty"`
	Keys       []string         `json:"keys,omitempty"`
	Properties []types.PropertyKV `json:"properties,omitempty"`
}

// replyMsg is the JSON payload a device publishes back to the partition's
// reply subject. Kind mirrors the command it answers; Properties is only
// populated for property replies.
type replyMsg struct {
	Kind       commandKind        `json:"kind"`
	TaskID     string             `json:"task_id"`
	OK         bool               `json:"ok"`
	Transition types.Transition   `json:"transition,omitempty"`
	State      types.DeviceState  `json:"state,omitempty"`
	Properties map[string]string  `json:"properties,omitempty"`
}
