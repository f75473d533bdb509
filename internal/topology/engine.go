package topology

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/puzpuzpuz/xsync/v4"

	"github.com/rbx/ODC/internal/logger"
	"github.com/rbx/ODC/internal/metrics"
	"github.com/rbx/ODC/types"
)

// Engine is the topology engine (spec §4.1): it fans a transition out to a
// set of tasks over a types.DeviceTransport, tracks in-flight operations,
// and aggregates device state.
//
// The operation table is a github.com/puzpuzpuz/xsync/v4.Map, which gives
// per-key atomicity without a single coarse mutex; each operation still
// serializes its own mutations under its own mutex (operation.go), matching
// spec §4.1's "single mutex guards the operation table" at the granularity
// that matters: no two goroutines ever race on the same operation's state.
type Engine struct {
	partitionID string
	transport   types.DeviceTransport
	handle      *types.TopologyHandle
	logger      types.Logger
	metrics     types.MetricsCollector

	ops    *xsync.Map[string, *operation]
	taskOp *xsync.Map[string, string]
	seq    atomic.Uint64

	subsMu sync.Mutex
	subs   map[int64]func(types.DeviceReply)
	subSeq atomic.Int64
}

// New builds an Engine bound to handle and wires itself as transport's
// reply sink.
func New(partitionID string, transport types.DeviceTransport, handle *types.TopologyHandle, log types.Logger, mc types.MetricsCollector) *Engine {
	if log == nil {
		log = logger.NewNop()
	}
	if mc == nil {
		mc = metrics.NewNop()
	}

	e := &Engine{
		partitionID: partitionID,
		transport:   transport,
		handle:      handle,
		logger:      log,
		metrics:     mc,
		ops:         xsync.NewMap[string, *operation](),
		taskOp:      xsync.NewMap[string, string](),
		subs:        make(map[int64]func(types.DeviceReply)),
	}

	transport.SubscribeReplies(e.onDeviceReply, e.onPropertyReply)

	return e
}

func (e *Engine) nextOpID() string {
	return fmt.Sprintf("%s-op-%d", e.partitionID, e.seq.Add(1))
}

// ChangeState drives every task in taskIDs through transition and waits for
// the collective result (spec §4.1 "ChangeState").
func (e *Engine) ChangeState(ctx context.Context, taskIDs []string, transition types.Transition, deadline time.Duration) (types.AggregatedState, []types.DeviceStatus, error) {
	if len(taskIDs) == 0 {
		return types.Undefined, nil, nil
	}

	e.metrics.FanOutStarted(e.partitionID, transition, len(taskIDs))
	start := time.Now()

	result, err := e.runOperation(ctx, taskIDs, deadline, types.CodeDeviceChangeStateFailed, func(ctx context.Context, id string) error {
		return e.transport.ChangeState(ctx, taskIDs, transition)
	})

	e.metrics.FanOutCompleted(e.partitionID, transition, time.Since(start), len(result.Failed))
	if err != nil {
		return types.Undefined, nil, err
	}

	report := e.report(taskIDs)
	agg := Aggregate(report)
	if !result.OK {
		return agg, report, types.NewError(result.Code, formatFailed(result.Failed))
	}
	return agg, report, nil
}

// WaitForState blocks until the aggregated state of path's selection equals
// state or deadline elapses (spec §4.1 "WaitForState").
func (e *Engine) WaitForState(ctx context.Context, taskIDs []string, state types.AggregatedState, deadline time.Duration) error {
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()

	timeout := time.NewTimer(deadline)
	defer timeout.Stop()

	if Aggregate(e.report(taskIDs)) == state {
		return nil
	}

	for {
		select {
		case <-ctx.Done():
			return types.NewError(types.CodeRequestTimeout, ctx.Err().Error())
		case <-timeout.C:
			return types.NewError(types.CodeRequestTimeout, "wait for state deadline exceeded")
		case <-ticker.C:
			if Aggregate(e.report(taskIDs)) == state {
				return nil
			}
		}
	}
}

// GetState returns a snapshot aggregation over taskIDs (spec §4.1 "GetState").
func (e *Engine) GetState(taskIDs []string) (types.AggregatedState, []types.DeviceStatus) {
	report := e.report(taskIDs)
	return Aggregate(report), report
}

// GetProperties fans a property query out to taskIDs and returns each
// device's answered properties plus the set of tasks that failed to answer.
func (e *Engine) GetProperties(ctx context.Context, taskIDs []string, keys []string, deadline time.Duration) (map[string]map[string]string, []string, error) {
	result, err := e.runOperation(ctx, taskIDs, deadline, types.CodeDeviceGetPropertiesFailed, func(ctx context.Context, id string) error {
		return e.transport.GetProperties(ctx, taskIDs, keys)
	})
	if err != nil {
		return nil, nil, err
	}

	if !result.OK {
		return result.Properties, result.Failed, types.NewError(result.Code, formatFailed(result.Failed))
	}
	return result.Properties, result.Failed, nil
}

// SetProperties fans a property update out to taskIDs, returning the tasks
// that failed to apply it.
func (e *Engine) SetProperties(ctx context.Context, taskIDs []string, kv []types.PropertyKV, deadline time.Duration) ([]string, error) {
	result, err := e.runOperation(ctx, taskIDs, deadline, types.CodeDeviceSetPropertiesFailed, func(ctx context.Context, id string) error {
		return e.transport.SetProperties(ctx, taskIDs, kv)
	})
	if err != nil {
		return nil, err
	}
	if !result.OK {
		return result.Failed, types.NewError(result.Code, formatFailed(result.Failed))
	}
	return nil, nil
}

// SubscribeStateChanges registers a long-lived device-state event stream
// (spec §4.1). The returned id is passed to Unsubscribe.
func (e *Engine) SubscribeStateChanges(onChange func(types.DeviceReply)) int64 {
	id := e.subSeq.Add(1)

	e.subsMu.Lock()
	e.subs[id] = onChange
	e.subsMu.Unlock()

	return id
}

// Unsubscribe removes a subscription registered via SubscribeStateChanges.
func (e *Engine) Unsubscribe(id int64) {
	e.subsMu.Lock()
	delete(e.subs, id)
	e.subsMu.Unlock()
}

// runOperation is the shared fan-out/wait/cleanup path for ChangeState,
// GetProperties and SetProperties.
func (e *Engine) runOperation(ctx context.Context, taskIDs []string, deadline time.Duration, failCode types.ErrorCode, broadcast func(ctx context.Context, opID string) error) (Result, error) {
	id := e.nextOpID()
	resultCh := make(chan Result, 1)

	op := newOperation(id, taskIDs, deadline, failCode, func(r Result) {
		e.ops.Delete(id)
		for _, t := range taskIDs {
			e.taskOp.Delete(t)
		}
		resultCh <- r
	})

	e.ops.Store(id, op)
	for _, t := range taskIDs {
		e.taskOp.Store(t, id)
	}

	if err := broadcast(ctx, id); err != nil {
		op.abort(types.CodeRuntimeError, err.Error())
	}

	return <-resultCh, nil
}

// abort is exposed on operation for the immediate-broadcast-failure path.
func (op *operation) abort(code types.ErrorCode, details string) {
	op.mu.Lock()
	if op.done {
		op.mu.Unlock()
		return
	}
	for t := range op.pending {
		op.failed[t] = struct{}{}
		delete(op.pending, t)
	}
	op.completeLocked(false, code, details)
}

// onDeviceReply is the DeviceTransport reply sink for state-changing
// commands (spec §4.1 "Fan-out"): it validates the arriving state against
// the transition's expected post-state, updates the topology handle, feeds
// any in-flight operation, and notifies state-change subscribers.
func (e *Engine) onDeviceReply(r types.DeviceReply) {
	dev, ok := e.handle.Get(r.TaskID)
	if !ok {
		return
	}

	e.handle.SetState(r.TaskID, r.State)

	expected, hasExpected := types.ExpectedPostState(r.Transition)
	success := r.OK && (!hasExpected || r.State == expected)

	e.notifySubscribers(r)

	opID, hasOp := e.taskOp.Load(r.TaskID)
	if !hasOp {
		return
	}
	op, ok := e.ops.Load(opID)
	if !ok {
		return
	}

	if !success && dev.Expendable {
		e.handle.SetIgnored(r.TaskID, true)
		op.ignore(r.TaskID)
		return
	}

	op.update(r.TaskID, success, nil)
}

// onPropertyReply is the DeviceTransport reply sink for
// GetProperties/SetProperties commands.
func (e *Engine) onPropertyReply(r types.PropertyReply) {
	opID, hasOp := e.taskOp.Load(r.TaskID)
	if !hasOp {
		return
	}
	op, ok := e.ops.Load(opID)
	if !ok {
		return
	}
	op.update(r.TaskID, r.OK, r.Properties)
}

func (e *Engine) notifySubscribers(r types.DeviceReply) {
	e.subsMu.Lock()
	subs := make([]func(types.DeviceReply), 0, len(e.subs))
	for _, cb := range e.subs {
		subs = append(subs, cb)
	}
	e.subsMu.Unlock()

	for _, cb := range subs {
		cb(r)
	}
}

// report snapshots the DeviceStatus of every task id in taskIDs.
func (e *Engine) report(taskIDs []string) []types.DeviceStatus {
	out := make([]types.DeviceStatus, 0, len(taskIDs))
	for _, id := range taskIDs {
		if d, ok := e.handle.Get(id); ok {
			out = append(out, d)
		}
	}
	return out
}

func formatFailed(failed []string) string {
	if len(failed) == 0 {
		return ""
	}
	return fmt.Sprintf("%d task(s) failed: %v", len(failed), failed)
}
