package types

import "sync"

// DeviceStatus is the per-task record the topology handle maintains (spec §3).
type DeviceStatus struct {
	TaskID       string
	CollectionID string
	State        DeviceState
	LastState    DeviceState
	Subscribed   bool
	Ignored      bool // dropped from future aggregation after a failure
	Expendable   bool // failure must not fail the partition
}

// TopologyHandle is the live device set for one activated topology (spec §3):
// a task id -> device status map (each entry holding the device's current
// and previous state) plus each task's declared path. The
// outstanding-operations table lives in the
// topology engine (internal/topology), keyed by the same task ids.
type TopologyHandle struct {
	mu      sync.RWMutex
	Devices map[string]*DeviceStatus
	// TaskPaths maps a task id to its declared path in the topology tree,
	// used for path resolution (spec §4.1 "Path resolution").
	TaskPaths map[string]string
}

// NewTopologyHandle returns an empty, ready-to-populate TopologyHandle.
func NewTopologyHandle() *TopologyHandle {
	return &TopologyHandle{
		Devices:   make(map[string]*DeviceStatus),
		TaskPaths: make(map[string]string),
	}
}

// AddDevice registers a task under the topology handle.
func (h *TopologyHandle) AddDevice(taskID, collectionID, path string, expendable bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.Devices[taskID] = &DeviceStatus{
		TaskID:       taskID,
		CollectionID: collectionID,
		State:        DeviceUndefined,
		LastState:    DeviceUndefined,
		Expendable:   expendable,
	}
	h.TaskPaths[taskID] = path
}

// Get returns a copy of the device status for taskID.
func (h *TopologyHandle) Get(taskID string) (DeviceStatus, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	d, ok := h.Devices[taskID]
	if !ok {
		return DeviceStatus{}, false
	}
	return *d, true
}

// SetState records a new device state and shifts the previous one to LastState.
func (h *TopologyHandle) SetState(taskID string, state DeviceState) {
	h.mu.Lock()
	defer h.mu.Unlock()

	d, ok := h.Devices[taskID]
	if !ok {
		return
	}
	d.LastState = d.State
	d.State = state
}

// SetIgnored marks a device as ignored (spec invariant 4: persists until the
// next Update or Reset).
func (h *TopologyHandle) SetIgnored(taskID string, ignored bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if d, ok := h.Devices[taskID]; ok {
		d.Ignored = ignored
	}
}

// ClearIgnored resets every device's Ignored bit, performed on Update/Reset.
func (h *TopologyHandle) ClearIgnored() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, d := range h.Devices {
		d.Ignored = false
	}
}

// ResolvePath returns the task ids matching a path selection (spec §4.1
// "Path resolution"): empty path or "*" selects all; an exact task id
// selects one task; anything else is treated as a collection-path prefix.
func (h *TopologyHandle) ResolvePath(path string) []string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if path == "" || path == "*" {
		ids := make([]string, 0, len(h.Devices))
		for id := range h.Devices {
			ids = append(ids, id)
		}
		return ids
	}

	if _, ok := h.Devices[path]; ok {
		return []string{path}
	}

	var ids []string
	for id, p := range h.TaskPaths {
		if hasPrefix(p, path) {
			ids = append(ids, id)
		}
	}
	return ids
}

func hasPrefix(path, prefix string) bool {
	if len(path) < len(prefix) {
		return false
	}
	return path[:len(prefix)] == prefix
}

// AllTaskIDs returns every task id known to the topology handle.
func (h *TopologyHandle) AllTaskIDs() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	ids := make([]string, 0, len(h.Devices))
	for id := range h.Devices {
		ids = append(ids, id)
	}
	return ids
}
