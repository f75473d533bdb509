package natsdds

import (
	"context"
	"errors"
	"fmt"

	"github.com/nats-io/nats.go/jetstream"
)

// ErrPoolExhausted is returned when no worker slot id could be claimed
// within maxClaimAttempts tries.
var ErrPoolExhausted = errors.New("worker slot id pool exhausted")

const maxClaimAttempts = 100000

// WorkerIDPool claims stable, sequential worker slot ids within one
// session's namespace. Grounded on the teacher's internal/stableid.Claimer
// (sequential KV Create loop), repurposed from "claim a coordinator worker
// id from a fixed-size pool" to "claim the next free per-batch worker slot
// id in an open-ended session namespace".
type WorkerIDPool struct {
	kv        jetstream.KeyValue
	sessionID string
}

// NewWorkerIDPool builds a pool scoped to one session.
func NewWorkerIDPool(kv jetstream.KeyValue, sessionID string) *WorkerIDPool {
	return &WorkerIDPool{kv: kv, sessionID: sessionID}
}

// Claim atomically reserves the next unclaimed worker slot id and records
// value (typically the host) against it.
func (p *WorkerIDPool) Claim(ctx context.Context, value string) (string, error) {
	for n := 0; n < maxClaimAttempts; n++ {
		key := p.keyFor(n)

		_, err := p.kv.Create(ctx, key, []byte(value))
		if err == nil {
			return key, nil
		}
		if !errors.Is(err, jetstream.ErrKeyExists) {
			return "", fmt.Errorf("claim worker slot: %w", err)
		}
	}
	return "", ErrPoolExhausted
}

// Release deletes a previously claimed worker slot key.
func (p *WorkerIDPool) Release(ctx context.Context, workerID string) error {
	if err := p.kv.Delete(ctx, workerID); err != nil && !errors.Is(err, jetstream.ErrKeyNotFound) {
		return fmt.Errorf("release worker slot %s: %w", workerID, err)
	}
	return nil
}

func (p *WorkerIDPool) keyFor(n int) string {
	return fmt.Sprintf("%s.worker.%d", p.sessionID, n)
}
