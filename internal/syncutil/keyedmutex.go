// Package syncutil provides per-key mutual exclusion for identity-scoped
// critical sections.
package syncutil

import (
	"context"
	"hash/fnv"
	"sync"
)

// KeyedMutex provides a fixed-size pool of channel-based mutexes keyed by
// string. Memory stays bounded regardless of how many identities are seen,
// at the cost of occasional false sharing between keys that hash to the
// same shard. Acquisition respects context cancellation; once a lock is
// held, the caller decides how long the critical section runs.
type KeyedMutex struct {
	shards [256]chanMutex
	once   sync.Once
}

// chanMutex is a mutex implemented via a buffered channel so acquisition
// can select{} against context cancellation.
type chanMutex struct {
	ch chan struct{}
}

// NewKeyedMutex creates a new keyed mutex.
func NewKeyedMutex() *KeyedMutex {
	m := &KeyedMutex{}
	m.init()
	return m
}

func (m *KeyedMutex) init() {
	m.once.Do(func() {
		for i := range m.shards {
			m.shards[i].ch = make(chan struct{}, 1)
			m.shards[i].ch <- struct{}{} // Start unlocked.
		}
	})
}

// Lock acquires the mutex for the given key, respecting context
// cancellation while waiting. On success it returns an unlock function the
// caller MUST invoke when the critical section ends. On cancellation it
// returns nil and the context error; the lock was not acquired.
func (m *KeyedMutex) Lock(ctx context.Context, key string) (func(), error) {
	m.init()
	shard := &m.shards[m.shardIdx(key)]

	select {
	case <-shard.ch:
		return func() { shard.ch <- struct{}{} }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (m *KeyedMutex) shardIdx(key string) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return h.Sum32() % 256
}
