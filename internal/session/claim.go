package session

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/nats-io/nats.go/jetstream"
)

// Common errors for session claim operations.
var (
	ErrAlreadyClaimed = errors.New("session id already claimed by another partition")
	ErrNotClaimed     = errors.New("no session claimed")
)

// Claimer records which partition owns a session id in a shared NATS KV
// bucket, guarding against two partition controllers racing to attach the
// same DDS session. Grounded on the teacher's NATSElection: Create for
// atomic first-claim and a revision-guarded Delete to release. A claim is
// not refreshed after it is made.
type Claimer struct {
	kv          jetstream.KeyValue
	partitionID string

	mu        sync.Mutex
	sessionID string
	revision  uint64
}

// NewClaimer builds a Claimer for one partition over a shared KV bucket.
func NewClaimer(kv jetstream.KeyValue, partitionID string) *Claimer {
	return &Claimer{kv: kv, partitionID: partitionID}
}

// Claim records sessionID as owned by this partition, failing if another
// partition already holds it.
func (c *Claimer) Claim(ctx context.Context, sessionID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	revision, err := c.kv.Create(ctx, sessionID, []byte(c.partitionID))
	if err != nil {
		if errors.Is(err, jetstream.ErrKeyExists) {
			entry, getErr := c.kv.Get(ctx, sessionID)
			if getErr == nil && string(entry.Value()) == c.partitionID {
				c.sessionID = sessionID
				c.revision = entry.Revision()
				return nil
			}
			return ErrAlreadyClaimed
		}
		return fmt.Errorf("claim session %s: %w", sessionID, err)
	}

	c.sessionID = sessionID
	c.revision = revision
	return nil
}

// Release drops this partition's claim on its current session, if any.
func (c *Claimer) Release(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.sessionID == "" {
		return nil
	}

	err := c.kv.Delete(ctx, c.sessionID, jetstream.LastRevision(c.revision))
	if err != nil && !errors.Is(err, jetstream.ErrKeyNotFound) {
		return fmt.Errorf("release session %s: %w", c.sessionID, err)
	}

	c.sessionID = ""
	c.revision = 0
	return nil
}

// SessionID returns the currently claimed session id, or "" if none.
func (c *Claimer) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}
