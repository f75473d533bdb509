package natsdds

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/rbx/ODC/internal/logger"
	"github.com/rbx/ODC/types"
)

// LivenessPublisher periodically refreshes a worker's liveness key in a
// JetStream KV bucket so ListWorkers can distinguish a live worker slot
// from one whose process has died. Grounded on the teacher's
// internal/heartbeat.Publisher (ticker Put, Stop deletes the key),
// repurposed from "coordinator worker heartbeat" to "deployed worker
// liveness".
type LivenessPublisher struct {
	kv       jetstream.KeyValue
	workerID string
	interval time.Duration
	logger   types.Logger

	mu      sync.Mutex
	started bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// NewLivenessPublisher builds a publisher for one worker slot.
func NewLivenessPublisher(kv jetstream.KeyValue, workerID string, interval time.Duration, log types.Logger) *LivenessPublisher {
	if log == nil {
		log = logger.NewNop()
	}
	return &LivenessPublisher{
		kv:       kv,
		workerID: workerID,
		interval: interval,
		logger:   log,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Start begins publishing liveness heartbeats until Stop is called.
func (p *LivenessPublisher) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.started {
		return fmt.Errorf("liveness publisher for %s already started", p.workerID)
	}
	if err := p.publish(ctx); err != nil {
		return fmt.Errorf("publish initial liveness for %s: %w", p.workerID, err)
	}

	p.started = true
	go p.loop()

	return nil
}

// Stop halts publishing and deletes the liveness key immediately, so
// listeners see the worker gone without waiting for TTL expiry.
func (p *LivenessPublisher) Stop() error {
	p.mu.Lock()
	if !p.started {
		p.mu.Unlock()
		return nil
	}
	close(p.stopCh)
	p.started = false
	p.mu.Unlock()

	<-p.doneCh

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return p.kv.Delete(ctx, p.livenessKey())
}

func (p *LivenessPublisher) loop() {
	defer close(p.doneCh)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopCh:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if err := p.publish(ctx); err != nil {
				p.logger.Warn("liveness publish failed", "worker_id", p.workerID, "error", err)
			}
			cancel()
		}
	}
}

func (p *LivenessPublisher) publish(ctx context.Context) error {
	_, err := p.kv.Put(ctx, p.livenessKey(), []byte(time.Now().Format(time.RFC3339Nano)))
	return err
}

func (p *LivenessPublisher) livenessKey() string {
	return p.workerID + ".alive"
}
