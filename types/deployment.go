package types

import "context"

// ActivateMode selects between a fresh activation and a live update
// (spec §4.3 ActivateTopology).
type ActivateMode int

const (
	ActivateModeActivate ActivateMode = iota
	ActivateModeUpdate
)

// SubmitProgress is the {completed, errors, total} counter the deployment
// service reports while a worker batch submission is in flight
// (spec §4.3).
type SubmitProgress struct {
	Completed int
	Errors    int
	Total     int
}

// CommanderInfo is the deployment service's session introspection reply
// (spec §4.3 CommanderInfo).
type CommanderInfo struct {
	ActiveTopologyFile string // empty if the session has no active topology
}

// DeploymentService is the abstract substrate the session adapter wraps
// (spec §4.3, §1 "explicitly out of scope: the deployment service itself").
// Submission and activation are asynchronous with callbacks: onMessage
// receives informational/error lines, onProgress receives repeated
// SubmitProgress updates, and the call returns once a done event fires or
// ctx's deadline elapses.
type DeploymentService interface {
	CreateSession(ctx context.Context) (sessionID string, err error)
	AttachSession(ctx context.Context, sessionID string) error
	ShutdownSession(ctx context.Context, sessionID string) error

	SubmitWorkers(ctx context.Context, sessionID string, batch WorkerBatchDescriptor, onProgress func(SubmitProgress)) error
	WaitForWorkers(ctx context.Context, sessionID string, count int) error

	ActivateTopology(ctx context.Context, sessionID, topologyFile string, mode ActivateMode, onMessage func(string)) error
	CommanderInfo(ctx context.Context, sessionID string) (CommanderInfo, error)
	ListWorkers(ctx context.Context, sessionID string) ([]WorkerInfo, error)
	ShutdownWorker(ctx context.Context, sessionID, workerID string) error
}

// WorkerBatchDescriptor is one worker-host batch to submit, as produced by
// the resource-plugin invoker (spec §2 component #7) or supplied directly.
type WorkerBatchDescriptor struct {
	Host  string
	Slots int
	Attrs map[string]string
}

// DeviceReply is a decoded reply from a single task to a fan-out command
// (spec §4.1 "Fan-out"): a task id, a result code, the transition it
// answers, and the device's current state.
type DeviceReply struct {
	TaskID     string
	OK         bool
	Transition Transition
	State      DeviceState
}

// PropertyReply is a decoded reply to a GetProperties/SetProperties command.
type PropertyReply struct {
	TaskID     string
	OK         bool
	Properties map[string]string
}

// DeviceTransport issues typed commands to tasks and delivers decoded
// replies to the topology engine (spec §2 component #1, §1 "device-command
// transport" is out of scope but this interface's shape is not).
type DeviceTransport interface {
	// ChangeState broadcasts transition to every task id in taskIDs.
	// Replies are delivered asynchronously to the callbacks registered
	// through SubscribeReplies.
	ChangeState(ctx context.Context, taskIDs []string, transition Transition) error

	// GetProperties/SetProperties broadcast a property query/update.
	GetProperties(ctx context.Context, taskIDs []string, keys []string) error
	SetProperties(ctx context.Context, taskIDs []string, kv []PropertyKV) error

	// SubscribeReplies registers the topology engine's reply sink. It is
	// called once at engine construction time.
	SubscribeReplies(onDeviceReply func(DeviceReply), onPropertyReply func(PropertyReply))

	// SubscribeStateChanges/Unsubscribe implement the long-lived event
	// stream from all devices (spec §4.1).
	SubscribeStateChanges(onChange func(DeviceReply)) (unsubscribe func())

	Close() error
}

// PluginInvoker runs an external resource-plugin executable and returns the
// worker-batch descriptors it produced (spec §2 component #7).
type PluginInvoker interface {
	Invoke(ctx context.Context, plugin, resources string) ([]WorkerBatchDescriptor, error)
}
