package partitionctl

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/rbx/ODC/internal/logger"
	"github.com/rbx/ODC/internal/metrics"
	"github.com/rbx/ODC/internal/requirements"
	"github.com/rbx/ODC/internal/session"
	"github.com/rbx/ODC/internal/topology"
	"github.com/rbx/ODC/types"
)

// Controller drives one partition's lifecycle (spec §4.2). All public
// operations acquire mu for their whole duration, so operations on the same
// partition never overlap while distinct partitions (distinct Controllers)
// run independently. mu is a plain sync.Mutex: callers waiting on the same
// partition are serialized, but are not guaranteed to be served in arrival
// order.
type Controller struct {
	partitionID string
	adapter     *session.Adapter
	transport   types.DeviceTransport
	invoker     types.PluginInvoker
	logger      types.Logger
	metrics     types.MetricsCollector
	workDir     string

	mu sync.Mutex

	sessionID          string
	runNr              int64
	engine             *topology.Engine
	handle             *types.TopologyHandle
	requirements       types.Requirements
	activeTopologyFile string
	rawTopology        []byte
	taskDoneUnsub      func()

	recoveryEnabled bool
}

// New builds a Controller for one partition. workDir is where materialized
// and recovery-synthesized topology files are written.
func New(partitionID string, adapter *session.Adapter, transport types.DeviceTransport, invoker types.PluginInvoker, workDir string, log types.Logger, mc types.MetricsCollector, opts ...Option) *Controller {
	if log == nil {
		log = logger.NewNop()
	}
	if mc == nil {
		mc = metrics.NewNop()
	}
	c := &Controller{
		partitionID: partitionID,
		adapter:     adapter,
		transport:   transport,
		invoker:     invoker,
		logger:      log,
		metrics:     mc,
		workDir:     workDir,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// PartitionID returns the id this controller was constructed for.
func (c *Controller) PartitionID() string { return c.partitionID }

func (c *Controller) track(operation string, fn func() error) error {
	c.metrics.OperationStarted(c.partitionID, operation)
	start := time.Now()
	err := fn()
	status := types.StatusSuccess
	if err != nil {
		status = types.StatusError
	}
	c.metrics.OperationCompleted(c.partitionID, operation, time.Since(start), status)
	return err
}

// SessionID returns the partition's current session id (empty if none).
func (c *Controller) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

// AggregatedState returns the partition's current aggregated device state.
// It holds the partition lock only to copy the engine and topology handle
// pointers and aggregates after releasing it; that copy still waits for any
// lifecycle operation in progress on this partition, since those hold the
// lock for their whole duration.
func (c *Controller) AggregatedState() types.AggregatedState {
	engine, handle := c.snapshotTopology()
	if engine == nil || handle == nil {
		return types.Undefined
	}
	agg, _ := engine.GetState(handle.AllTaskIDs())
	return agg
}

func (c *Controller) snapshotTopology() (*topology.Engine, *types.TopologyHandle) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.engine, c.handle
}

// Initialize implements spec §4.2 Initialize.
func (c *Controller) Initialize(ctx context.Context, req types.InitializeRequest) types.GeneralReply {
	c.mu.Lock()
	defer c.mu.Unlock()

	start := time.Now()
	budget := NewBudget(req.Header)
	c.runNr = req.RunNr

	err := c.track("Initialize", func() error {
		return c.initializeLocked(ctx, budget, req)
	})

	return c.generalReplyLocked(req.Header, start, err)
}

// initializeLocked runs Initialize's body against a budget the caller
// controls, so a multi-step operation like Run can thread one shared
// deadline through it instead of handing it a fresh one. Caller holds c.mu.
func (c *Controller) initializeLocked(ctx context.Context, budget *Budget, req types.InitializeRequest) error {
	remaining, err := budget.Remaining()
	if err != nil {
		return err
	}
	stepCtx, cancel := context.WithTimeout(ctx, remaining)
	defer cancel()

	if req.SessionID == "" {
		if c.sessionID != "" {
			_ = c.adapter.Shutdown(stepCtx, c.sessionID)
		}
		c.resetTopologyLocked()
	}

	sessionID, err := c.adapter.CreateOrAttach(stepCtx, req.SessionID)
	if err != nil {
		return err
	}
	c.sessionID = sessionID

	if req.SessionID != "" {
		info, err := c.adapter.CommanderInfo(stepCtx, sessionID)
		if err == nil && info.ActiveTopologyFile != "" {
			if err := c.loadTopologyLocked(info.ActiveTopologyFile); err != nil {
				c.logger.Warn("failed to rebuild topology handle on attach", "session_id", sessionID, "error", err)
			}
		}
	}

	return nil
}

// Submit implements spec §4.2 Submit.
func (c *Controller) Submit(ctx context.Context, req types.SubmitRequest) types.GeneralReply {
	c.mu.Lock()
	defer c.mu.Unlock()

	start := time.Now()
	budget := NewBudget(req.Header)

	err := c.track("Submit", func() error {
		return c.submitLocked(ctx, budget, req)
	})

	reply := c.generalReplyLocked(req.Header, start, err)
	if err == nil {
		if hosts, hostsErr := c.adapter.ListWorkers(ctx, c.sessionID); hostsErr == nil {
			reply.Hosts = hosts
		}
	}
	return reply
}

// submitLocked runs Submit's body against a budget the caller controls.
// Caller holds c.mu.
func (c *Controller) submitLocked(ctx context.Context, budget *Budget, req types.SubmitRequest) error {
	if c.sessionID == "" {
		return types.ErrNoSession
	}

	remaining, err := budget.Remaining()
	if err != nil {
		return err
	}
	stepCtx, cancel := context.WithTimeout(ctx, remaining)
	defer cancel()

	batches, err := c.invoker.Invoke(stepCtx, req.Plugin, req.Resources)
	if err != nil {
		return err
	}

	wantSlots := 0
	for _, b := range batches {
		wantSlots += b.Slots
		if err := c.adapter.SubmitWorkers(stepCtx, c.sessionID, b, nil); err != nil {
			return err
		}
	}

	remaining, err = budget.Remaining()
	if err != nil {
		return err
	}
	waitCtx, waitCancel := context.WithTimeout(ctx, remaining)
	defer waitCancel()
	return c.adapter.WaitForWorkers(waitCtx, c.sessionID, wantSlots)
}

// Activate implements spec §4.2 Activate.
func (c *Controller) Activate(ctx context.Context, req types.ActivateRequest) types.StateReply {
	c.mu.Lock()
	defer c.mu.Unlock()

	start := time.Now()
	budget := NewBudget(req.Header)

	err := c.track("Activate", func() error {
		return c.activateLocked(ctx, budget, req.TopologySource, types.ActivateModeActivate)
	})

	return c.stateReplyLocked(req.Header, start, err, req.TopologyFile != "" || req.Content != "" || req.Script != "")
}

// activateLocked materializes src, activates it, parses requirements, and
// (re)builds the topology handle and engine. Caller holds c.mu.
func (c *Controller) activateLocked(ctx context.Context, budget *Budget, src types.TopologySource, mode types.ActivateMode) error {
	if c.sessionID == "" {
		return types.ErrNoSession
	}
	if src.CountSet() != 1 {
		return types.NewError(types.CodeTopologyFailed, "exactly one of topology file/content/script must be set")
	}

	remaining, err := budget.Remaining()
	if err != nil {
		return err
	}
	stepCtx, cancel := context.WithTimeout(ctx, remaining)
	defer cancel()

	path, data, err := c.materializeTopology(stepCtx, src)
	if err != nil {
		return err
	}

	return c.activateAndLoadLocked(stepCtx, path, data, mode)
}

// activateAndLoadLocked issues the deployment-service activation call for
// an already-materialized topology file and rebuilds the topology handle
// from it. Shared by activateLocked and nMin recovery's update activation
// (spec §4.4 step 4). Caller holds c.mu.
func (c *Controller) activateAndLoadLocked(ctx context.Context, path string, data []byte, mode types.ActivateMode) error {
	if err := c.adapter.ActivateTopology(ctx, c.sessionID, path, mode, func(msg string) {
		c.logger.Debug("topology activation message", "partition_id", c.partitionID, "message", msg)
	}); err != nil {
		return err
	}
	return c.loadTopologyLocked2(path, data)
}

// loadTopologyLocked rebuilds requirements/handle/engine from a
// previously activated topology file's path alone (used when attaching to
// a session that already has one active). Caller holds c.mu.
func (c *Controller) loadTopologyLocked(path string) error {
	data, err := readFile(path)
	if err != nil {
		return err
	}
	return c.loadTopologyLocked2(path, data)
}

func (c *Controller) loadTopologyLocked2(path string, data []byte) error {
	req, handle, err := requirements.BuildTopology(data)
	if err != nil {
		return types.NewError(types.CodeTopologyFailed, fmt.Sprintf("parse activated topology: %v", err))
	}

	c.assignWorkersLocked(handle)

	if c.taskDoneUnsub != nil {
		c.taskDoneUnsub()
	}

	c.requirements = req
	c.handle = handle
	c.activeTopologyFile = path
	c.rawTopology = data
	c.engine = topology.New(c.partitionID, c.transport, handle, c.logger, c.metrics)
	engine := c.engine
	subID := engine.SubscribeStateChanges(func(r types.DeviceReply) {
		c.logger.Debug("task done", "partition_id", c.partitionID, "task_id", r.TaskID, "state", r.State.String())
	})
	c.taskDoneUnsub = func() { engine.Unsubscribe(subID) }
	return nil
}

// assignWorkersLocked round-robins each collection instance (and each
// standalone task) onto a currently known submitted worker, populating the
// session cache with TaskInfo/CollectionInstanceInfo (spec §3). The
// reference deployment service does not itself place tasks on workers, so
// this is where that placement originates.
func (c *Controller) assignWorkersLocked(handle *types.TopologyHandle) {
	cache := c.adapter.Cache()
	if cache == nil {
		return
	}

	workers, err := c.adapter.ListWorkers(context.Background(), c.sessionID)
	if err != nil || len(workers) == 0 {
		return
	}

	byCollection := make(map[string][]string) // collectionID -> task ids
	for _, id := range handle.AllTaskIDs() {
		dev, ok := handle.Get(id)
		if !ok {
			continue
		}
		key := dev.CollectionID
		if key == "" {
			key = id
		}
		byCollection[key] = append(byCollection[key], id)
	}

	i := 0
	for collectionID, taskIDs := range byCollection {
		w := workers[i%len(workers)]
		i++

		if collectionID != taskIDs[0] {
			cache.AddCollectionInstance(types.CollectionInstanceInfo{
				CollectionID: collectionID,
				Path:         handle.TaskPaths[taskIDs[0]],
				WorkerID:     w.ID,
				Host:         w.Host,
			})
		}
		for _, taskID := range taskIDs {
			cache.AddTask(types.TaskInfo{
				TaskID:       taskID,
				WorkerID:     w.ID,
				Slot:         w.Slot,
				Path:         handle.TaskPaths[taskID],
				Host:         w.Host,
				CollectionID: collectionID,
			})
		}
	}
}

func (c *Controller) resetTopologyLocked() {
	if c.taskDoneUnsub != nil {
		c.taskDoneUnsub()
		c.taskDoneUnsub = nil
	}
	c.engine = nil
	c.handle = nil
	c.requirements = types.Requirements{}
	c.activeTopologyFile = ""
	c.rawTopology = nil
}

// Run implements spec §4.2 Run: Initialize → Submit → Activate under one
// held lock and one shared deadline, the same pattern Update uses for its
// own multi-step chain. Rejects a non-empty SessionID (spec §8 scenario 6:
// "Rejected Run: Run(session_id=non-empty) ⇒ ERROR, RequestNotSupported")
// since Run always starts a fresh session via Initialize.
func (c *Controller) Run(ctx context.Context, req types.RunRequest) types.StateReply {
	if req.SessionID != "" {
		err := types.NewError(types.CodeRequestNotSupported, "Run does not accept a session id")
		return types.StateReply{GeneralReply: types.GeneralReply{
			PartitionID: req.Header.PartitionID,
			RunNr:       req.Header.RunNr,
			Status:      types.StatusError,
			Error:       err,
			Msg:         err.Error(),
		}}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	start := time.Now()
	budget := NewBudget(req.Header)
	c.runNr = req.RunNr

	err := c.track("Run", func() error {
		if err := c.initializeLocked(ctx, budget, types.InitializeRequest{Header: req.Header}); err != nil {
			return err
		}

		submitReq := req.SubmitRequest
		submitReq.Header = req.Header
		if err := c.submitLocked(ctx, budget, submitReq); err != nil {
			return err
		}

		activateReq := req.ActivateRequest
		return c.activateLocked(ctx, budget, activateReq.TopologySource, types.ActivateModeActivate)
	})

	detailed := req.ActivateRequest.TopologyFile != "" || req.ActivateRequest.Content != "" || req.ActivateRequest.Script != ""
	return c.stateReplyLocked(req.Header, start, err, detailed)
}

// Update implements spec §4.2 Update.
func (c *Controller) Update(ctx context.Context, req types.ActivateRequest) types.StateReply {
	c.mu.Lock()
	defer c.mu.Unlock()

	start := time.Now()
	budget := NewBudget(req.Header)

	err := c.track("Update", func() error {
		if c.handle == nil {
			return types.ErrNoTopology
		}

		if _, err := c.runTransitionChainLocked(ctx, budget, c.handle.AllTaskIDs(), types.ResetTask, types.ResetDevice); err != nil {
			return err
		}

		// activateLocked replaces c.handle/c.engine wholesale, which is
		// the "reset the topology handle" step: the old handle (and its
		// ignored-device bits) is dropped, not mutated.
		if err := c.activateLocked(ctx, budget, req.TopologySource, types.ActivateModeUpdate); err != nil {
			return err
		}

		_, err := c.runTransitionChainLocked(ctx, budget, c.handle.AllTaskIDs(), types.InitDevice, types.CompleteInit, types.Bind, types.Connect, types.InitTask)
		return err
	})

	return c.stateReplyLocked(req.Header, start, err, true)
}

// Configure implements spec §4.2 Configure, with nMin recovery on failure.
func (c *Controller) Configure(ctx context.Context, req types.PathRequest) types.StateReply {
	c.mu.Lock()
	defer c.mu.Unlock()

	start := time.Now()
	budget := NewBudget(req.Header)

	err := c.track("Configure", func() error {
		if c.handle == nil {
			return types.ErrNoTopology
		}
		taskIDs := c.handle.ResolvePath(req.Path)

		failed, chainErr := c.runTransitionChainLocked(ctx, budget, taskIDs, types.InitDevice, types.CompleteInit, types.Bind, types.Connect, types.InitTask)
		if chainErr == nil {
			return nil
		}

		if !c.recoveryEnabled {
			return chainErr
		}
		return c.attemptRecoveryLocked(ctx, budget, failed, chainErr)
	})

	return c.stateReplyLocked(req.Header, start, err, req.Detailed)
}

// Start implements spec §4.2 Start.
func (c *Controller) Start(ctx context.Context, req types.PathRequest) types.StateReply {
	return c.transitionOp(ctx, req, "Start", types.Run)
}

// Stop implements spec §4.2 Stop.
func (c *Controller) Stop(ctx context.Context, req types.PathRequest) types.StateReply {
	return c.transitionOp(ctx, req, "Stop", types.Stop)
}

// Reset implements spec §4.2 Reset. Clears every device's Ignored bit on
// success (spec invariant 4: an Ignored bit set by an expendable-failure
// during Configure persists until the next Update or Reset).
func (c *Controller) Reset(ctx context.Context, req types.PathRequest) types.StateReply {
	c.mu.Lock()
	defer c.mu.Unlock()

	start := time.Now()
	budget := NewBudget(req.Header)

	err := c.track("Reset", func() error {
		if c.handle == nil {
			return types.ErrNoTopology
		}
		_, err := c.runTransitionChainLocked(ctx, budget, c.handle.ResolvePath(req.Path), types.ResetTask, types.ResetDevice)
		if err != nil {
			return err
		}
		c.handle.ClearIgnored()
		return nil
	})

	return c.stateReplyLocked(req.Header, start, err, req.Detailed)
}

// Terminate implements spec §4.2 Terminate.
func (c *Controller) Terminate(ctx context.Context, req types.PathRequest) types.StateReply {
	return c.transitionOp(ctx, req, "Terminate", types.End)
}

func (c *Controller) transitionOp(ctx context.Context, req types.PathRequest, name string, t types.Transition) types.StateReply {
	c.mu.Lock()
	defer c.mu.Unlock()

	start := time.Now()
	budget := NewBudget(req.Header)

	err := c.track(name, func() error {
		if c.handle == nil {
			return types.ErrNoTopology
		}
		_, err := c.runTransitionChainLocked(ctx, budget, c.handle.ResolvePath(req.Path), t)
		return err
	})

	return c.stateReplyLocked(req.Header, start, err, req.Detailed)
}

// runTransitionChainLocked drives taskIDs through each transition in order,
// stopping at the first that fails. On failure it also returns the ids of
// the non-ignored devices that did not reach the failing transition's
// expected post-state, for nMin recovery attribution (spec §4.4 step 1).
// Caller holds c.mu.
func (c *Controller) runTransitionChainLocked(ctx context.Context, budget *Budget, taskIDs []string, ts ...types.Transition) ([]string, error) {
	for _, t := range ts {
		remaining, err := budget.Remaining()
		if err != nil {
			return nil, err
		}
		_, report, err := c.engine.ChangeState(ctx, taskIDs, t, remaining)
		if err != nil {
			return failedTaskIDs(t, report), err
		}
	}
	return nil, nil
}

func failedTaskIDs(t types.Transition, report []types.DeviceStatus) []string {
	expected, hasExpected := types.ExpectedPostState(t)
	var out []string
	for _, d := range report {
		if d.Ignored {
			continue
		}
		if hasExpected && d.State != expected {
			out = append(out, d.TaskID)
		}
	}
	return out
}

// SetProperties implements spec §4.2 SetProperties.
func (c *Controller) SetProperties(ctx context.Context, req types.SetPropertiesRequest) types.GeneralReply {
	c.mu.Lock()
	defer c.mu.Unlock()

	start := time.Now()
	budget := NewBudget(req.Header)

	err := c.track("SetProperties", func() error {
		if c.handle == nil {
			return types.ErrNoTopology
		}
		remaining, err := budget.Remaining()
		if err != nil {
			return err
		}
		taskIDs := c.handle.ResolvePath(req.Path)
		_, err = c.engine.SetProperties(ctx, taskIDs, req.Properties, remaining)
		return err
	})

	return c.generalReplyLocked(req.Header, start, err)
}

// GetState implements spec §4.2 GetState.
func (c *Controller) GetState(ctx context.Context, req types.PathRequest) types.StateReply {
	c.mu.Lock()
	defer c.mu.Unlock()

	start := time.Now()
	err := c.track("GetState", func() error {
		if c.handle == nil {
			return types.ErrNoTopology
		}
		return nil
	})

	return c.stateReplyLocked(req.Header, start, err, req.Detailed)
}

// Shutdown implements spec §4.2 Shutdown.
func (c *Controller) Shutdown(ctx context.Context, header types.Header) types.GeneralReply {
	c.mu.Lock()
	defer c.mu.Unlock()

	start := time.Now()
	budget := NewBudget(header)

	err := c.track("Shutdown", func() error {
		if c.sessionID == "" {
			return nil
		}
		remaining, err := budget.Remaining()
		if err != nil {
			return err
		}
		stepCtx, cancel := context.WithTimeout(ctx, remaining)
		defer cancel()

		c.resetTopologyLocked()
		err = c.adapter.Shutdown(stepCtx, c.sessionID)
		c.sessionID = ""
		return err
	})

	return c.generalReplyLocked(header, start, err)
}

func readFile(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, types.NewError(types.CodeTopologyFailed, fmt.Sprintf("read active topology file %q: %v", path, err))
	}
	return data, nil
}

func (c *Controller) generalReplyLocked(h types.Header, start time.Time, err error) types.GeneralReply {
	r := types.GeneralReply{
		PartitionID: h.PartitionID,
		RunNr:       h.RunNr,
		ExecTimeMS:  time.Since(start).Milliseconds(),
		SessionID:   c.sessionID,
	}
	if c.handle != nil && c.engine != nil {
		r.State, _ = c.engine.GetState(c.handle.AllTaskIDs())
	}
	if err != nil {
		r.Status = types.StatusError
		r.Error = types.AsError(err)
		r.Msg = r.Error.Error()
	} else {
		r.Status = types.StatusSuccess
	}
	return r
}

func (c *Controller) stateReplyLocked(h types.Header, start time.Time, err error, detailed bool) types.StateReply {
	reply := types.StateReply{GeneralReply: c.generalReplyLocked(h, start, err)}
	if detailed && c.handle != nil {
		reply.Devices = c.reportLocked(c.handle.AllTaskIDs())
		reply.Collections = c.collectionsReportLocked()
	}
	return reply
}

func (c *Controller) collectionsReportLocked() []types.CollectionInstanceInfo {
	cache := c.adapter.Cache()
	if cache == nil || c.handle == nil {
		return nil
	}

	wanted := make(map[string]struct{})
	for _, id := range c.handle.AllTaskIDs() {
		if dev, ok := c.handle.Get(id); ok && dev.CollectionID != "" {
			wanted[dev.CollectionID] = struct{}{}
		}
	}

	_, collections := cache.Snapshot()
	out := make([]types.CollectionInstanceInfo, 0, len(wanted))
	for id := range wanted {
		if ci, ok := collections[id]; ok {
			out = append(out, ci)
		}
	}
	return out
}

func (c *Controller) reportLocked(taskIDs []string) []types.DeviceStatus {
	if c.handle == nil {
		return nil
	}
	out := make([]types.DeviceStatus, 0, len(taskIDs))
	for _, id := range taskIDs {
		if d, ok := c.handle.Get(id); ok {
			out = append(out, d)
		}
	}
	return out
}
