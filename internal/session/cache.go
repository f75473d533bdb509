package session

import (
	"sync"

	"github.com/rbx/ODC/types"
)

// Cache is a concurrency-safe wrapper over types.SessionHandle: submission
// and activation progress callbacks arrive from deployment-service
// goroutines and must not race the controller reading the handle for a
// StateReply.
type Cache struct {
	mu     sync.RWMutex
	handle *types.SessionHandle
}

// NewCache wraps a fresh SessionHandle for sessionID.
func NewCache(sessionID string) *Cache {
	return &Cache{handle: types.NewSessionHandle(sessionID)}
}

// AddTask appends a task under the write lock.
func (c *Cache) AddTask(t types.TaskInfo) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handle.AddTask(t)
}

// AddCollectionInstance appends a collection instance under the write lock.
func (c *Cache) AddCollectionInstance(ci types.CollectionInstanceInfo) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handle.AddCollectionInstance(ci)
}

// Snapshot returns a shallow copy of the cached task and collection maps,
// safe for the caller to range over without holding the cache's lock.
func (c *Cache) Snapshot() (tasks map[string]types.TaskInfo, collections map[string]types.CollectionInstanceInfo) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	tasks = make(map[string]types.TaskInfo, len(c.handle.Tasks))
	for k, v := range c.handle.Tasks {
		tasks[k] = v
	}
	collections = make(map[string]types.CollectionInstanceInfo, len(c.handle.Collections))
	for k, v := range c.handle.Collections {
		collections[k] = v
	}
	return tasks, collections
}

// TaskIDsForCollectionName delegates to the underlying handle under a read lock.
func (c *Cache) TaskIDsForCollectionName(collectionName string) []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.handle.TaskIDsForCollectionName(collectionName)
}

// SessionID returns the wrapped session id.
func (c *Cache) SessionID() string {
	return c.handle.SessionID
}

// TaskCount returns the number of cached tasks.
func (c *Cache) TaskCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.handle.Tasks)
}
