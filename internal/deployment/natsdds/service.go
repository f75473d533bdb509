package natsdds

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/rbx/ODC/internal/logger"
	"github.com/rbx/ODC/types"
)

// Service is a reference types.DeploymentService over a JetStream KV
// bucket: sessions and worker slots are KV entries rather than requests
// to a real resource manager (spec §1 "explicitly out of scope: the
// deployment service itself"). It exists to give partitionctl and cmd/
// odc-agent a working default so the rest of the control plane is
// exercised end to end without an external DDS deployment.
type Service struct {
	kv     jetstream.KeyValue
	logger types.Logger

	mu          sync.Mutex
	publishers  map[string]*LivenessPublisher // worker id -> publisher
	heartbeatEvery time.Duration
}

var _ types.DeploymentService = (*Service)(nil)

// New builds a Service over kv. heartbeatEvery of 0 selects a 2s default.
func New(kv jetstream.KeyValue, heartbeatEvery time.Duration, log types.Logger) *Service {
	if log == nil {
		log = logger.NewNop()
	}
	if heartbeatEvery <= 0 {
		heartbeatEvery = 2 * time.Second
	}
	return &Service{
		kv:             kv,
		logger:         log,
		publishers:     make(map[string]*LivenessPublisher),
		heartbeatEvery: heartbeatEvery,
	}
}

// CreateSession implements types.DeploymentService.
func (s *Service) CreateSession(ctx context.Context) (string, error) {
	sessionID := fmt.Sprintf("session-%d", time.Now().UnixNano())
	if _, err := s.kv.Create(ctx, sessionID, []byte("active")); err != nil {
		return "", fmt.Errorf("create session: %w", err)
	}
	return sessionID, nil
}

// AttachSession implements types.DeploymentService.
func (s *Service) AttachSession(ctx context.Context, sessionID string) error {
	if _, err := s.kv.Get(ctx, sessionID); err != nil {
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			return fmt.Errorf("%w: session %s", types.ErrNoSession, sessionID)
		}
		return fmt.Errorf("attach session %s: %w", sessionID, err)
	}
	return nil
}

// ShutdownSession implements types.DeploymentService: it deletes the
// session key and every worker slot/liveness key under its namespace.
func (s *Service) ShutdownSession(ctx context.Context, sessionID string) error {
	keys, err := s.kv.Keys(ctx)
	if err != nil && !isNoKeysFound(err) {
		return fmt.Errorf("shutdown session %s: %w", sessionID, err)
	}

	prefix := sessionID + "."
	for _, k := range keys {
		if strings.HasPrefix(k, prefix) {
			_ = s.kv.Delete(ctx, k)
		}
	}

	s.stopPublishersForSession(sessionID)

	if err := s.kv.Delete(ctx, sessionID); err != nil && !errors.Is(err, jetstream.ErrKeyNotFound) {
		return fmt.Errorf("shutdown session %s: %w", sessionID, err)
	}
	return nil
}

// SubmitWorkers implements types.DeploymentService: it claims batch.Slots
// sequential worker slot ids and starts a liveness publisher for each.
func (s *Service) SubmitWorkers(ctx context.Context, sessionID string, batch types.WorkerBatchDescriptor, onProgress func(types.SubmitProgress)) error {
	pool := NewWorkerIDPool(s.kv, sessionID)
	progress := types.SubmitProgress{Total: batch.Slots}

	for i := 0; i < batch.Slots; i++ {
		workerID, err := pool.Claim(ctx, batch.Host)
		if err != nil {
			progress.Errors++
			if onProgress != nil {
				onProgress(progress)
			}
			return fmt.Errorf("submit worker %d/%d on %s: %w", i+1, batch.Slots, batch.Host, err)
		}

		pub := NewLivenessPublisher(s.kv, workerID, s.heartbeatEvery, s.logger)
		if err := pub.Start(ctx); err != nil {
			progress.Errors++
			if onProgress != nil {
				onProgress(progress)
			}
			return fmt.Errorf("start liveness for %s: %w", workerID, err)
		}

		s.mu.Lock()
		s.publishers[workerID] = pub
		s.mu.Unlock()

		progress.Completed++
		if onProgress != nil {
			onProgress(progress)
		}
	}

	return nil
}

// WaitForWorkers implements types.DeploymentService by polling ListWorkers.
func (s *Service) WaitForWorkers(ctx context.Context, sessionID string, count int) error {
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()

	for {
		workers, err := s.ListWorkers(ctx, sessionID)
		if err != nil {
			return err
		}
		if len(workers) >= count {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// ActivateTopology implements types.DeploymentService by recording the
// active topology file against the session.
func (s *Service) ActivateTopology(ctx context.Context, sessionID, topologyFile string, mode types.ActivateMode, onMessage func(string)) error {
	key := sessionID + ".topology"
	if _, err := s.kv.Put(ctx, key, []byte(topologyFile)); err != nil {
		return fmt.Errorf("activate topology for %s: %w", sessionID, err)
	}
	if onMessage != nil {
		verb := "activated"
		if mode == types.ActivateModeUpdate {
			verb = "updated"
		}
		onMessage(fmt.Sprintf("topology %s for session %s", verb, sessionID))
	}
	return nil
}

// CommanderInfo implements types.DeploymentService.
func (s *Service) CommanderInfo(ctx context.Context, sessionID string) (types.CommanderInfo, error) {
	entry, err := s.kv.Get(ctx, sessionID+".topology")
	if err != nil {
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			return types.CommanderInfo{}, nil
		}
		return types.CommanderInfo{}, fmt.Errorf("commander info for %s: %w", sessionID, err)
	}
	return types.CommanderInfo{ActiveTopologyFile: string(entry.Value())}, nil
}

// ListWorkers implements types.DeploymentService.
func (s *Service) ListWorkers(ctx context.Context, sessionID string) ([]types.WorkerInfo, error) {
	keys, err := s.kv.Keys(ctx)
	if err != nil {
		if isNoKeysFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("list workers for %s: %w", sessionID, err)
	}

	prefix := sessionID + ".worker."
	alive := make(map[string]struct{})
	for _, k := range keys {
		if strings.HasSuffix(k, ".alive") {
			alive[strings.TrimSuffix(k, ".alive")] = struct{}{}
		}
	}
	var workers []types.WorkerInfo
	for _, k := range keys {
		if !strings.HasPrefix(k, prefix) || strings.HasSuffix(k, ".alive") {
			continue
		}
		if _, ok := alive[k]; !ok {
			continue
		}
		entry, err := s.kv.Get(ctx, k)
		if err != nil {
			continue
		}
		slot, _ := strconv.Atoi(strings.TrimPrefix(k, prefix))
		workers = append(workers, types.WorkerInfo{ID: k, Host: string(entry.Value()), Slot: slot})
	}
	return workers, nil
}

// ShutdownWorker implements types.DeploymentService.
func (s *Service) ShutdownWorker(ctx context.Context, sessionID, workerID string) error {
	s.mu.Lock()
	pub, ok := s.publishers[workerID]
	delete(s.publishers, workerID)
	s.mu.Unlock()

	if ok {
		_ = pub.Stop()
	}

	pool := NewWorkerIDPool(s.kv, sessionID)
	return pool.Release(ctx, workerID)
}

// isNoKeysFound reports whether err is JetStream's "no keys found" result
// for an empty bucket. Mirrors the teacher's IsNoKeysFoundError string-match
// fallback (types/errors.go), needed because the condition surfaces as a
// message rather than a matchable sentinel.
func isNoKeysFound(err error) bool {
	return err != nil && strings.Contains(err.Error(), "no keys found")
}

func (s *Service) stopPublishersForSession(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	prefix := sessionID + "."
	for id, pub := range s.publishers {
		if strings.HasPrefix(id, prefix) {
			_ = pub.Stop()
			delete(s.publishers, id)
		}
	}
}
