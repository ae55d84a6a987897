package gaze

import (
	"hash/fnv"
	"sync"
)

// shardedRegistry provides a session map with multiple shards to reduce lock
// contention when many sessions are ingesting concurrently.
type shardedRegistry struct {
	shards    []*registryShard
	shardMask uint32
}

// registryShard represents a single shard in the registry
type registryShard struct {
	items map[string]*Session
	mu    sync.RWMutex
}

// newShardedRegistry creates a new registry with the specified number of shards.
// shardCount must be a power of two for efficient shard selection.
func newShardedRegistry(shardCount int) *shardedRegistry {
	// Ensure shard count is a power of 2 for efficient masking
	if shardCount <= 0 || (shardCount&(shardCount-1)) != 0 {
		shardCount = 16
	}

	sr := &shardedRegistry{
		shards:    make([]*registryShard, shardCount),
		shardMask: uint32(shardCount - 1),
	}

	for i := 0; i < shardCount; i++ {
		sr.shards[i] = &registryShard{
			items: make(map[string]*Session),
		}
	}

	return sr
}

// getShard returns the appropriate shard for a given session id
func (sr *shardedRegistry) getShard(sessionID string) *registryShard {
	h := fnv.New32a()
	h.Write([]byte(sessionID))

	// Masking is a fast modulo for powers of 2
	return sr.shards[h.Sum32()&sr.shardMask]
}

// StoreIfAbsent adds a session only if the id is not already present,
// reporting whether the store happened
func (sr *shardedRegistry) StoreIfAbsent(sessionID string, session *Session) bool {
	shard := sr.getShard(sessionID)

	shard.mu.Lock()
	defer shard.mu.Unlock()

	if _, exists := shard.items[sessionID]; exists {
		return false
	}
	shard.items[sessionID] = session
	return true
}

// Load retrieves a session from the registry
func (sr *shardedRegistry) Load(sessionID string) (*Session, bool) {
	shard := sr.getShard(sessionID)

	shard.mu.RLock()
	defer shard.mu.RUnlock()

	session, ok := shard.items[sessionID]
	return session, ok
}

// Delete removes a session from the registry
func (sr *shardedRegistry) Delete(sessionID string) {
	shard := sr.getShard(sessionID)

	shard.mu.Lock()
	defer shard.mu.Unlock()

	delete(shard.items, sessionID)
}

// Range iterates over all sessions in the registry. If the function returns
// false, iteration stops.
func (sr *shardedRegistry) Range(f func(sessionID string, session *Session) bool) {
	for _, shard := range sr.shards {
		shard.mu.RLock()

		for k, v := range shard.items {
			if !f(k, v) {
				shard.mu.RUnlock()
				return
			}
		}

		shard.mu.RUnlock()
	}
}

// Count returns the total number of sessions across all shards
func (sr *shardedRegistry) Count() int {
	count := 0

	for _, shard := range sr.shards {
		shard.mu.RLock()
		count += len(shard.items)
		shard.mu.RUnlock()
	}

	return count
}
