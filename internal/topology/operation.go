// Package topology implements the topology engine (spec §4.1): fan-out of
// device commands, in-flight operation bookkeeping, state aggregation, and
// deadline enforcement.
package topology

import (
	"sync"
	"time"

	"github.com/rbx/ODC/types"
)

// Result is what an operation passes to its completion callback once it
// finishes.
type Result struct {
	OK         bool
	Failed     []string // task ids that failed or timed out
	Code       types.ErrorCode
	Details    string
	Properties map[string]map[string]string // task id -> key/value, for GetProperties
}

// operation is the in-memory record for one outstanding collective command
// (spec §4.1 "Operation record"). Methods that mutate the record lock mu
// themselves; tryComplete and completeLocked expect it held and release it
// before invoking the completion callback.
type operation struct {
	mu sync.Mutex

	id         string
	pending    map[string]struct{}
	failed     map[string]struct{}
	properties map[string]map[string]string // task id -> key/value, for GetProperties
	timer      *time.Timer
	onComplete func(Result)
	failCode   types.ErrorCode
	done       bool
}

func newOperation(id string, taskIDs []string, deadline time.Duration, failCode types.ErrorCode, onComplete func(Result)) *operation {
	op := &operation{
		id:         id,
		pending:    make(map[string]struct{}, len(taskIDs)),
		failed:     make(map[string]struct{}),
		properties: make(map[string]map[string]string),
		onComplete: onComplete,
		failCode:   failCode,
	}
	for _, t := range taskIDs {
		op.pending[t] = struct{}{}
	}

	op.timer = time.AfterFunc(deadline, op.onTimeout)

	return op
}

// update records a task's reply. If the task is not pending (already
// completed, ignored, or the operation is done), the reply is discarded
// silently (spec §5 "subsequent late replies... are discarded silently").
func (op *operation) update(taskID string, ok bool, props map[string]string) {
	op.mu.Lock()
	if op.done {
		op.mu.Unlock()
		return
	}
	if _, pending := op.pending[taskID]; !pending {
		op.mu.Unlock()
		return
	}

	delete(op.pending, taskID)
	if ok {
		if props != nil {
			op.properties[taskID] = props
		}
	} else {
		op.failed[taskID] = struct{}{}
	}
	op.tryComplete()
}

// ignore removes taskID from the pending set without recording a result,
// used when a reply is reclassified as an ignored/expendable failure.
func (op *operation) ignore(taskID string) {
	op.mu.Lock()
	if op.done {
		op.mu.Unlock()
		return
	}
	delete(op.pending, taskID)
	op.tryComplete()
}

// onTimeout fires when the deadline elapses: every still-pending task id
// moves to the failed set and the operation completes with Timeout.
func (op *operation) onTimeout() {
	op.mu.Lock()
	if op.done {
		op.mu.Unlock()
		return
	}
	for t := range op.pending {
		op.failed[t] = struct{}{}
		delete(op.pending, t)
	}
	op.completeLocked(false, types.CodeRequestTimeout, "operation deadline exceeded")
}

// tryComplete completes the operation if the pending set is empty. Must be
// called with mu held; it unlocks before invoking the callback.
func (op *operation) tryComplete() {
	if len(op.pending) > 0 {
		op.mu.Unlock()
		return
	}
	if len(op.failed) == 0 {
		op.completeLocked(true, types.CodeNone, "")
		return
	}
	op.completeLocked(false, op.failCode, "")
}

// completeLocked marks the operation done and fires the callback outside
// the mutex (spec §4.1 "Each record's completion callback runs outside the
// mutex"). Caller must hold mu; completeLocked releases it.
func (op *operation) completeLocked(ok bool, code types.ErrorCode, details string) {
	op.done = true
	op.timer.Stop()

	failed := make([]string, 0, len(op.failed))
	for t := range op.failed {
		failed = append(failed, t)
	}
	props := op.properties
	cb := op.onComplete
	op.mu.Unlock()

	cb(Result{OK: ok, Failed: failed, Code: code, Details: details, Properties: props})
}
