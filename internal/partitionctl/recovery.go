package partitionctl

import (
	"context"
	"fmt"
	rand "math/rand/v2"
	"time"

	"github.com/rbx/ODC/internal/backoff"
	"github.com/rbx/ODC/internal/requirements"
	"github.com/rbx/ODC/types"
)

const (
	recoveryPollAttempts = 20
	recoveryPollBase     = 50 * time.Millisecond
	recoveryPollCap      = 500 * time.Millisecond
)

// attemptRecoveryLocked implements nMin-based recovery (spec §4.4) after a
// Configure-chain transition reports failedTasks. Caller holds c.mu.
func (c *Controller) attemptRecoveryLocked(ctx context.Context, budget *Budget, failedTasks []string, transitionErr error) error {
	if len(failedTasks) == 0 {
		return transitionErr
	}

	failedInstancesByGroup, failedCollectionNames, err := c.attributeFailuresLocked(failedTasks)
	if err != nil {
		return transitionErr
	}

	remainingByGroup, err := c.checkNMinLocked(failedCollectionNames, failedInstancesByGroup)
	if err != nil {
		return transitionErr
	}

	if err := c.shutdownFailedWorkersLocked(ctx, failedInstancesByGroup); err != nil {
		return enrich(transitionErr, err)
	}

	if err := c.reactivateReducedTopologyLocked(ctx, budget, remainingByGroup); err != nil {
		return enrich(transitionErr, err)
	}

	c.logger.Warn("nMin recovery succeeded", "partition_id", c.partitionID, "groups", remainingByGroup)
	return nil
}

// attributeFailuresLocked implements spec §4.4 step 1: attributes each
// failed task to its collection instance, then to that collection's parent
// agent group. Returns the set of failed collection instance ids per group
// and the set of distinct failed collection names (for the nMin
// applicability check).
func (c *Controller) attributeFailuresLocked(failedTasks []string) (map[string]map[string]struct{}, map[string]struct{}, error) {
	byGroup := make(map[string]map[string]struct{}) // agentGroup -> set of collection instance ids
	names := make(map[string]struct{})

	for _, taskID := range failedTasks {
		dev, ok := c.handle.Get(taskID)
		if !ok || dev.CollectionID == "" {
			return nil, nil, types.ErrRecoveryNotApplicable // standalone task failure: no collection to shrink
		}

		name := collectionNameOf(dev.CollectionID)
		info, ok := c.requirements.Collections[name]
		if !ok {
			return nil, nil, types.ErrRecoveryNotApplicable
		}

		names[name] = struct{}{}
		if byGroup[info.AgentGroup] == nil {
			byGroup[info.AgentGroup] = make(map[string]struct{})
		}
		byGroup[info.AgentGroup][dev.CollectionID] = struct{}{}
	}

	return byGroup, names, nil
}

// checkNMinLocked implements spec §4.4 steps 2-3: any affected collection
// without a declared nMin makes recovery inapplicable; any group whose
// surviving instance count would drop below its nMin makes recovery fail.
// Returns the surviving instance count per affected agent group.
func (c *Controller) checkNMinLocked(failedCollectionNames map[string]struct{}, failedInstancesByGroup map[string]map[string]struct{}) (map[string]int, error) {
	for name := range failedCollectionNames {
		if _, ok := c.requirements.NMin[name]; !ok {
			return nil, types.ErrRecoveryNotApplicable
		}
	}

	remaining := make(map[string]int, len(failedInstancesByGroup))
	for group, failedInstances := range failedInstancesByGroup {
		agentGroup, ok := c.requirements.AgentGroups[group]
		if !ok {
			return nil, types.ErrRecoveryNotApplicable
		}

		r := agentGroup.NumAgents - len(failedInstances)
		if r < agentGroup.MinAgents {
			return nil, types.ErrRecoveryInsufficient
		}
		remaining[group] = r
	}
	return remaining, nil
}

// shutdownFailedWorkersLocked implements spec §4.4 step 4's first half:
// shut down the workers owning the failed collection instances and poll
// until the worker count reflects it (bounded retry, small delay; give up
// but continue — the invariant is monitored, not enforced).
func (c *Controller) shutdownFailedWorkersLocked(ctx context.Context, failedInstancesByGroup map[string]map[string]struct{}) error {
	cache := c.adapter.Cache()
	if cache == nil {
		return nil
	}
	_, collections := cache.Snapshot()

	shutdown := make(map[string]struct{})
	for _, instances := range failedInstancesByGroup {
		for collectionID := range instances {
			if ci, ok := collections[collectionID]; ok && ci.WorkerID != "" {
				shutdown[ci.WorkerID] = struct{}{}
			}
		}
	}

	before, _ := c.adapter.ListWorkers(ctx, c.sessionID)
	expected := len(before) - len(shutdown)

	for workerID := range shutdown {
		if err := c.adapter.ShutdownWorker(ctx, c.sessionID, workerID); err != nil {
			c.logger.Warn("failed to shut down worker during nMin recovery", "worker_id", workerID, "error", err)
		}
	}

	var delay time.Duration
	rng := rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0)) //nolint:gosec
	for attempt := 0; attempt < recoveryPollAttempts; attempt++ {
		workers, err := c.adapter.ListWorkers(ctx, c.sessionID)
		if err == nil && len(workers) <= expected {
			return nil
		}

		delay = backoff.Jitter(delay, recoveryPollBase, 1.5, recoveryPollCap, rng)
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(delay):
		}
	}

	c.logger.Warn("worker count did not converge after nMin recovery shutdown", "partition_id", c.partitionID, "expected", expected)
	return nil
}

// reactivateReducedTopologyLocked implements spec §4.4 step 4's second
// half: synthesize a topology description with each affected group's n
// replaced by its surviving count, persist it, and activate it as an
// update.
func (c *Controller) reactivateReducedTopologyLocked(ctx context.Context, budget *Budget, remainingByGroup map[string]int) error {
	remaining, err := budget.Remaining()
	if err != nil {
		return err
	}
	stepCtx, cancel := context.WithTimeout(ctx, remaining)
	defer cancel()

	reduced, err := requirements.SynthesizeReducedTopology(c.rawTopology, remainingByGroup)
	if err != nil {
		return types.NewError(types.CodeTopologyFailed, fmt.Sprintf("synthesize reduced topology: %v", err))
	}

	path, err := c.writeReducedTopology(reduced)
	if err != nil {
		return err
	}

	return c.activateAndLoadLocked(stepCtx, path, reduced, types.ActivateModeUpdate)
}

func collectionNameOf(collectionID string) string {
	for i := len(collectionID) - 1; i >= 0; i-- {
		if collectionID[i] == '_' {
			return collectionID[:i]
		}
	}
	return collectionID
}

func enrich(original, recoveryErr error) error {
	oe := types.AsError(original)
	re := types.AsError(recoveryErr)
	return types.NewError(oe.Code, fmt.Sprintf("%s (nMin recovery also failed: %s)", oe.Details, re.Error()))
}
