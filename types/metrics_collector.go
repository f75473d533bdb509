package types

import "time"

// ControllerMetrics records partition-controller-level observations.
type ControllerMetrics interface {
	OperationStarted(partitionID, operation string)
	OperationCompleted(partitionID, operation string, duration time.Duration, status Status)
}

// TopologyMetrics records topology-engine-level observations.
type TopologyMetrics interface {
	FanOutStarted(partitionID string, transition Transition, taskCount int)
	FanOutCompleted(partitionID string, transition Transition, duration time.Duration, failed int)
}

// RegistryMetrics records controller-registry-level observations.
type RegistryMetrics interface {
	PartitionCreated(partitionID string)
	PartitionRemoved(partitionID string)
	RestoreCompleted(restored, failed int)
}

// MetricsCollector composes the per-concern metrics interfaces into the one
// value components accept. A caller may implement only the interfaces it
// cares about by embedding NopMetrics and overriding a subset of methods.
type MetricsCollector interface {
	ControllerMetrics
	TopologyMetrics
	RegistryMetrics
}
