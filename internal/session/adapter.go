package session

import (
	"context"
	"sync"

	"github.com/rbx/ODC/internal/logger"
	"github.com/rbx/ODC/types"
)

// Adapter wraps a types.DeploymentService with session-id claiming and the
// incremental task/collection cache (spec §4.3). Grounded on the teacher
// manager.go's "poll-with-deadline-then-event" style for the wait helpers
// that DeploymentService's async callbacks are built around.
type Adapter struct {
	svc     types.DeploymentService
	claimer *Claimer // nil when no cross-process claim coordination is configured
	logger  types.Logger

	mu    sync.Mutex
	cache *Cache
}

// New builds an Adapter. claimer may be nil to skip cross-process session
// ownership coordination (single-controller deployments).
func New(svc types.DeploymentService, claimer *Claimer, log types.Logger) *Adapter {
	if log == nil {
		log = logger.NewNop()
	}
	return &Adapter{svc: svc, claimer: claimer, logger: log}
}

// CreateOrAttach creates a fresh session, or attaches to requestedSessionID
// if non-empty (spec §4.2 Initialize). The returned session id is claimed
// via the Claimer, if configured, before being returned.
func (a *Adapter) CreateOrAttach(ctx context.Context, requestedSessionID string) (string, error) {
	var sessionID string
	var err error

	if requestedSessionID == "" {
		sessionID, err = a.svc.CreateSession(ctx)
	} else {
		sessionID = requestedSessionID
		err = a.svc.AttachSession(ctx, requestedSessionID)
	}
	if err != nil {
		return "", types.AsError(err)
	}

	if a.claimer != nil {
		if err := a.claimer.Claim(ctx, sessionID); err != nil {
			return "", types.AsError(err)
		}
	}

	a.mu.Lock()
	a.cache = NewCache(sessionID)
	a.mu.Unlock()

	a.logger.Info("session established", "session_id", sessionID)

	return sessionID, nil
}

// Cache returns the currently active session's task/collection cache, or
// nil if no session has been established.
func (a *Adapter) Cache() *Cache {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.cache
}

// SubmitWorkers submits one worker-host batch, reporting progress via onProgress.
func (a *Adapter) SubmitWorkers(ctx context.Context, sessionID string, batch types.WorkerBatchDescriptor, onProgress func(types.SubmitProgress)) error {
	if err := a.svc.SubmitWorkers(ctx, sessionID, batch, onProgress); err != nil {
		return types.AsError(err)
	}
	return nil
}

// WaitForWorkers blocks until count workers have joined the session.
func (a *Adapter) WaitForWorkers(ctx context.Context, sessionID string, count int) error {
	if err := a.svc.WaitForWorkers(ctx, sessionID, count); err != nil {
		return types.AsError(err)
	}
	return nil
}

// ActivateTopology activates or updates the topology for sessionID.
func (a *Adapter) ActivateTopology(ctx context.Context, sessionID, topologyFile string, mode types.ActivateMode, onMessage func(string)) error {
	if err := a.svc.ActivateTopology(ctx, sessionID, topologyFile, mode, onMessage); err != nil {
		return types.AsError(err)
	}
	return nil
}

// CommanderInfo returns the session's active-topology introspection.
func (a *Adapter) CommanderInfo(ctx context.Context, sessionID string) (types.CommanderInfo, error) {
	info, err := a.svc.CommanderInfo(ctx, sessionID)
	if err != nil {
		return types.CommanderInfo{}, types.AsError(err)
	}
	return info, nil
}

// ListWorkers returns the session's currently known workers.
func (a *Adapter) ListWorkers(ctx context.Context, sessionID string) ([]types.WorkerInfo, error) {
	workers, err := a.svc.ListWorkers(ctx, sessionID)
	if err != nil {
		return nil, types.AsError(err)
	}
	return workers, nil
}

// ShutdownWorker removes one worker from the session, used by nMin recovery
// to release the workers owning failed collection instances (spec §4.4).
func (a *Adapter) ShutdownWorker(ctx context.Context, sessionID, workerID string) error {
	if err := a.svc.ShutdownWorker(ctx, sessionID, workerID); err != nil {
		return types.AsError(err)
	}
	return nil
}

// Shutdown tears the session down and releases any session-id claim.
func (a *Adapter) Shutdown(ctx context.Context, sessionID string) error {
	err := a.svc.ShutdownSession(ctx, sessionID)

	if a.claimer != nil {
		if releaseErr := a.claimer.Release(ctx); releaseErr != nil {
			a.logger.Warn("failed to release session claim", "session_id", sessionID, "error", releaseErr)
		}
	}

	a.mu.Lock()
	a.cache = nil
	a.mu.Unlock()

	if err != nil {
		return types.AsError(err)
	}
	return nil
}
