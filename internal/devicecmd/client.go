package devicecmd

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/nats-io/nats.go"

	"github.com/rbx/ODC/internal/hash"
	"github.com/rbx/ODC/internal/logger"
	"github.com/rbx/ODC/types"
)

const defaultShardCount = 8
const shardVirtualNodes = 64
const shardQueueSize = 256

type dispatchItem struct {
	isState bool
	msg     replyMsg
}

// Client is a types.DeviceTransport backed by NATS core publish/subscribe.
// Grounded on the teacher's subscription.Helper (conn.Subscribe with a
// per-entity subject) generalized from "one subscription per partition" to
// "one subject tree per partition, sharded by task id".
type Client struct {
	nc          *nats.Conn
	partitionID string
	logger      types.Logger

	ring   *hash.Ring
	shards []chan dispatchItem
	wg     sync.WaitGroup

	replySub *nats.Subscription
	stateSub *nats.Subscription

	cbMu            sync.RWMutex
	onDeviceReply   func(types.DeviceReply)
	onPropertyReply func(types.PropertyReply)

	stateSubsMu sync.Mutex
	stateSubs   map[int64]func(types.DeviceReply)
	stateSeq    atomic.Int64

	closed atomic.Bool
}

var _ types.DeviceTransport = (*Client)(nil)

// New builds a Client for partitionID over nc. shardCount controls how many
// reply-processing worker goroutines are used; 0 selects a sensible default.
func New(nc *nats.Conn, partitionID string, shardCount int, log types.Logger) (*Client, error) {
	if log == nil {
		log = logger.NewNop()
	}
	if shardCount <= 0 {
		shardCount = defaultShardCount
	}

	names := make([]string, shardCount)
	for i := range names {
		names[i] = fmt.Sprintf("shard-%d", i)
	}

	c := &Client{
		nc:          nc,
		partitionID: partitionID,
		logger:      log,
		ring:        hash.NewRing(names, shardVirtualNodes, 0),
		shards:      make([]chan dispatchItem, shardCount),
		stateSubs:   make(map[int64]func(types.DeviceReply)),
	}

	for i := range c.shards {
		c.shards[i] = make(chan dispatchItem, shardQueueSize)
		c.wg.Add(1)
		go c.shardLoop(c.shards[i])
	}

	replySub, err := nc.Subscribe(c.replyWildcard(), c.handleReply)
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("subscribe to device replies: %w", err)
	}
	c.replySub = replySub

	stateSub, err := nc.Subscribe(c.stateWildcard(), c.handleState)
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("subscribe to device state stream: %w", err)
	}
	c.stateSub = stateSub

	return c, nil
}

func (c *Client) cmdSubject(taskID string) string {
	return fmt.Sprintf("odc.%s.cmd.%s", c.partitionID, taskID)
}

func (c *Client) replyWildcard() string {
	return fmt.Sprintf("odc.%s.reply.*", c.partitionID)
}

func (c *Client) stateWildcard() string {
	return fmt.Sprintf("odc.%s.state.*", c.partitionID)
}

func (c *Client) publish(taskIDs []string, cmd commandMsg) error {
	payload, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("encode command: %w", err)
	}
	for _, id := range taskIDs {
		if err := c.nc.Publish(c.cmdSubject(id), payload); err != nil {
			return fmt.Errorf("publish command to %s: %w", id, err)
		}
	}
	return nil
}

// ChangeState implements types.DeviceTransport.
func (c *Client) ChangeState(_ context.Context, taskIDs []string, transition types.Transition) error {
	return c.publish(taskIDs, commandMsg{Kind: kindChangeState, Transition: transition})
}

// GetProperties implements types.DeviceTransport.
func (c *Client) GetProperties(_ context.Context, taskIDs []string, keys []string) error {
	return c.publish(taskIDs, commandMsg{Kind: kindGetProperties, Keys: keys})
}

// SetProperties implements types.DeviceTransport.
func (c *Client) SetProperties(_ context.Context, taskIDs []string, kv []types.PropertyKV) error {
	return c.publish(taskIDs, commandMsg{Kind: kindSetProperties, Properties: kv})
}

// SubscribeReplies implements types.DeviceTransport. Called once at engine
// construction time.
func (c *Client) SubscribeReplies(onDeviceReply func(types.DeviceReply), onPropertyReply func(types.PropertyReply)) {
	c.cbMu.Lock()
	c.onDeviceReply = onDeviceReply
	c.onPropertyReply = onPropertyReply
	c.cbMu.Unlock()
}

// SubscribeStateChanges implements types.DeviceTransport: it registers a
// callback for the spontaneous per-device state stream, independent of any
// command fan-out in flight.
func (c *Client) SubscribeStateChanges(onChange func(types.DeviceReply)) func() {
	id := c.stateSeq.Add(1)

	c.stateSubsMu.Lock()
	c.stateSubs[id] = onChange
	c.stateSubsMu.Unlock()

	return func() {
		c.stateSubsMu.Lock()
		delete(c.stateSubs, id)
		c.stateSubsMu.Unlock()
	}
}

// Close unsubscribes and drains the shard workers.
func (c *Client) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}

	if c.replySub != nil {
		_ = c.replySub.Unsubscribe()
	}
	if c.stateSub != nil {
		_ = c.stateSub.Unsubscribe()
	}

	for _, ch := range c.shards {
		close(ch)
	}
	c.wg.Wait()

	return nil
}

func (c *Client) handleReply(msg *nats.Msg) {
	var r replyMsg
	if err := json.Unmarshal(msg.Data, &r); err != nil {
		c.logger.Warn("discarding malformed device reply", "subject", msg.Subject, "error", err)
		return
	}

	idx := c.ring.GetNodeIndex(r.TaskID)
	if idx < 0 {
		return
	}

	select {
	case c.shards[idx] <- dispatchItem{isState: false, msg: r}:
	default:
		c.logger.Warn("dropping device reply, shard queue full", "task_id", r.TaskID)
	}
}

func (c *Client) handleState(msg *nats.Msg) {
	var r replyMsg
	if err := json.Unmarshal(msg.Data, &r); err != nil {
		c.logger.Warn("discarding malformed device state event", "subject", msg.Subject, "error", err)
		return
	}

	idx := c.ring.GetNodeIndex(r.TaskID)
	if idx < 0 {
		return
	}

	select {
	case c.shards[idx] <- dispatchItem{isState: true, msg: r}:
	default:
		c.logger.Warn("dropping device state event, shard queue full", "task_id", r.TaskID)
	}
}

func (c *Client) shardLoop(ch chan dispatchItem) {
	defer c.wg.Done()

	for item := range ch {
		if item.isState {
			c.dispatchState(item.msg)
			continue
		}
		c.dispatchReply(item.msg)
	}
}

func (c *Client) dispatchReply(r replyMsg) {
	c.cbMu.RLock()
	onDeviceReply := c.onDeviceReply
	onPropertyReply := c.onPropertyReply
	c.cbMu.RUnlock()

	switch r.Kind {
	case kindGetProperties, kindSetProperties:
		if onPropertyReply != nil {
			onPropertyReply(types.PropertyReply{TaskID: r.TaskID, OK: r.OK, Properties: r.Properties})
		}
	default:
		if onDeviceReply != nil {
			onDeviceReply(types.DeviceReply{TaskID: r.TaskID, OK: r.OK, Transition: r.Transition, State: r.State})
		}
	}
}

func (c *Client) dispatchState(r replyMsg) {
	c.stateSubsMu.Lock()
	subs := make([]func(types.DeviceReply), 0, len(c.stateSubs))
	for _, cb := range c.stateSubs {
		subs = append(subs, cb)
	}
	c.stateSubsMu.Unlock()

	reply := types.DeviceReply{TaskID: r.TaskID, OK: r.OK, Transition: r.Transition, State: r.State}
	for _, cb := range subs {
		cb(reply)
	}
}
