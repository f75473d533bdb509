package registry

import (
	"context"
	"sync"

	"github.com/rbx/ODC/internal/logger"
	"github.com/rbx/ODC/internal/metrics"
	"github.com/rbx/ODC/internal/partitionctl"
	"github.com/rbx/ODC/types"
)

// Factory builds a fresh, un-Initialized partition controller for
// partitionID. The registry calls it whenever an id is referenced while it
// holds no controller for it: on first reference, and again after Remove.
type Factory func(partitionID string) *partitionctl.Controller

// Registry is the process-wide partition id -> controller map (spec §4.6).
// It is the only process-wide state in the system; partitions themselves
// serialize their own lifecycle requests independently (spec §5 "Global
// state").
type Registry struct {
	cfg     Config
	factory Factory
	hooks   types.Hooks
	metrics types.MetricsCollector
	logger  types.Logger

	mu         sync.Mutex
	partitions map[string]*partitionctl.Controller
}

// New builds a Registry. If cfg.RestoreOnStart is set, it runs Restore
// immediately using ctx for the restore-time deadline on each partition.
func New(ctx context.Context, cfg Config, factory Factory, opts ...Option) (*Registry, error) {
	SetDefaults(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	o := &registryOptions{
		hooks:   types.NewNopHooks(),
		metrics: metrics.NewNop(),
		logger:  logger.NewNop(),
	}
	for _, opt := range opts {
		opt(o)
	}

	r := &Registry{
		cfg:        cfg,
		factory:    factory,
		hooks:      o.hooks,
		metrics:    o.metrics,
		logger:     o.logger,
		partitions: make(map[string]*partitionctl.Controller),
	}

	if cfg.RestoreOnStart {
		restored, failed := r.Restore(ctx)
		r.metrics.RestoreCompleted(restored, failed)
	}

	return r, nil
}

// Get returns the controller for partitionID without creating it.
func (r *Registry) Get(partitionID string) (*partitionctl.Controller, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.partitions[partitionID]
	return c, ok
}

// GetOrCreate returns the controller for partitionID, creating it via the
// registry's Factory on first reference (spec §3 "Created on first
// reference").
func (r *Registry) GetOrCreate(partitionID string) *partitionctl.Controller {
	r.mu.Lock()
	defer r.mu.Unlock()

	if c, ok := r.partitions[partitionID]; ok {
		return c
	}
	c := r.factory(partitionID)
	r.partitions[partitionID] = c
	r.metrics.PartitionCreated(partitionID)
	return c
}

// Initialize creates partitionID's controller if needed and issues its
// Initialize call, persisting the restore file on success (spec.md:199
// "rewritten after every Initialize/Shutdown"). Callers that need
// Initialize's crash-recovery guarantee should call this instead of
// combining GetOrCreate with the controller's own Initialize.
func (r *Registry) Initialize(ctx context.Context, partitionID string, req types.InitializeRequest) types.GeneralReply {
	c := r.GetOrCreate(partitionID)
	if req.TimeoutS <= 0 {
		req.TimeoutS = r.cfg.DefaultTimeout.Seconds()
	}
	reply := c.Initialize(ctx, req)
	if reply.Status == types.StatusSuccess {
		r.persistBestEffort()
	}
	return reply
}

// Remove drops partitionID from the registry after it has been shut down,
// firing OnPartitionShutdown. It does not itself call Shutdown on the
// controller; callers do that first.
func (r *Registry) Remove(ctx context.Context, partitionID string) {
	r.mu.Lock()
	_, existed := r.partitions[partitionID]
	delete(r.partitions, partitionID)
	r.mu.Unlock()

	if !existed {
		return
	}
	r.metrics.PartitionRemoved(partitionID)
	if r.hooks.OnPartitionShutdown != nil {
		r.hooks.OnPartitionShutdown(ctx, partitionID)
	}
	r.persistBestEffort()
}

// Status enumerates partitions, optionally filtering to those whose session
// reports running (spec §4.6). The registry mutex is held only long enough
// to copy out the partition id list; each partition is then probed via its
// own SessionID/AggregatedState accessors, which take that partition's own
// mutex (not the registry's) and so wait for any lifecycle operation in
// progress on that partition.
func (r *Registry) Status(running bool) types.StatusReply {
	r.mu.Lock()
	ids := make([]string, 0, len(r.partitions))
	controllers := make([]*partitionctl.Controller, 0, len(r.partitions))
	for id, c := range r.partitions {
		ids = append(ids, id)
		controllers = append(controllers, c)
	}
	r.mu.Unlock()

	out := make([]types.PartitionStatus, 0, len(ids))
	for i, id := range ids {
		c := controllers[i]
		sessionID := c.SessionID()

		sessionStatus := types.SessionRunning
		if sessionID == "" {
			sessionStatus = types.SessionStopped
		}

		if running && sessionStatus != types.SessionRunning {
			continue
		}

		out = append(out, types.PartitionStatus{
			PartitionID:     id,
			SessionID:       sessionID,
			SessionStatus:   sessionStatus,
			AggregatedState: c.AggregatedState(),
		})
	}

	return types.StatusReply{Partitions: out}
}

// Restore reads the persisted (partition_id, session_id) list and issues a
// best-effort Initialize(session_id) for each (spec §4.6). Failures fire
// OnRestoreFailure but do not abort the rest of the restore pass. Returns
// the count of partitions successfully restored and the count that failed.
func (r *Registry) Restore(ctx context.Context) (restored, failed int) {
	if r.cfg.RestoreFilePath == "" {
		return 0, 0
	}

	entries, err := readRestoreFile(r.cfg.RestoreFilePath)
	if err != nil {
		r.logger.Error("failed to read restore file", "path", r.cfg.RestoreFilePath, "error", err)
		return 0, 0
	}

	for _, e := range entries {
		c := r.GetOrCreate(e.PartitionID)
		reply := c.Initialize(ctx, types.InitializeRequest{
			Header: types.Header{
				PartitionID: e.PartitionID,
				TimeoutS:    r.cfg.RestoreTimeout.Seconds(),
			},
			SessionID: e.SessionID,
		})

		if reply.Status == types.StatusError {
			failed++
			r.logger.Warn("restore: failed to reattach partition", "partition_id", e.PartitionID, "session_id", e.SessionID, "error", reply.Error)
			if r.hooks.OnRestoreFailure != nil {
				r.hooks.OnRestoreFailure(ctx, e.PartitionID, e.SessionID, reply.Error)
			}
			continue
		}
		restored++
	}

	return restored, failed
}

// Persist rewrites the restore file from the registry's current partition
// set (spec §4.6 "rewritten after every Initialize/Shutdown"). Called by
// partitionctl callers after a successful Initialize or Shutdown.
func (r *Registry) Persist() error {
	if r.cfg.RestoreFilePath == "" {
		return nil
	}

	r.mu.Lock()
	entries := make([]RestoreEntry, 0, len(r.partitions))
	for id, c := range r.partitions {
		if sid := c.SessionID(); sid != "" {
			entries = append(entries, RestoreEntry{PartitionID: id, SessionID: sid})
		}
	}
	r.mu.Unlock()

	return writeRestoreFile(r.cfg.RestoreFilePath, entries)
}

// PersistBestEffort rewrites the restore file, logging (rather than
// returning) any failure. Exported so callers driving a controller's
// lifecycle operations directly — bypassing Registry.Initialize, e.g. a
// successful Run that started its own session — can still honor spec.md:199
// ("rewritten after every Initialize/Shutdown").
func (r *Registry) PersistBestEffort() {
	r.persistBestEffort()
}

func (r *Registry) persistBestEffort() {
	if err := r.Persist(); err != nil {
		r.logger.Warn("failed to persist restore file", "error", err)
	}
}
