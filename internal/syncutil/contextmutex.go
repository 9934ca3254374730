// Package syncutil provides keyed locking primitives for serializing
// work on shared resources.
package syncutil

import (
	"context"
	"hash/fnv"
)

const shardCount = 256

// ContextShardedMutex provides a fixed-size pool of channel-based mutexes
// keyed by string that support context cancellation. Callers can bail out
// if their context is cancelled while waiting to acquire a lock. Memory
// stays bounded regardless of how many keys are seen, at the cost of
// occasional false sharing between keys that hash to the same shard.
type ContextShardedMutex struct {
	shards []chan struct{}
}

// NewContextShardedMutex creates a new context-aware sharded mutex.
func NewContextShardedMutex() *ContextShardedMutex {
	m := &ContextShardedMutex{
		shards: make([]chan struct{}, shardCount),
	}
	for i := range m.shards {
		ch := make(chan struct{}, 1)
		ch <- struct{}{} // Start unlocked.
		m.shards[i] = ch
	}
	return m
}

// LockContext acquires the mutex for the given key, respecting context
// cancellation. On success, returns an unlock function and nil error; the
// caller MUST call the unlock function when done. On context cancellation,
// returns nil and the context error.
func (m *ContextShardedMutex) LockContext(ctx context.Context, key string) (func(), error) {
	ch := m.shards[shardIdx(key)]

	select {
	case <-ch:
		return func() { ch <- struct{}{} }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func shardIdx(key string) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return h.Sum32() % shardCount
}
