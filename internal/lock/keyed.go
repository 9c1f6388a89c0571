// Package lock provides per-key mutual exclusion.
package lock

import (
	"context"
	"sync"
)

type entry struct {
	// ch holds one token while the key is free.
	ch   chan struct{}
	refs int
}

// Keyed serializes callers that share a key while letting distinct keys
// proceed in parallel. An entry exists only while some caller holds or waits
// for its key.
type Keyed[K comparable] struct {
	mu      sync.Mutex
	entries map[K]*entry
}

// NewKeyed creates an empty keyed lock set.
func NewKeyed[K comparable]() *Keyed[K] {
	return &Keyed[K]{entries: make(map[K]*entry)}
}

func (k *Keyed[K]) ref(key K) *entry {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.entries == nil {
		k.entries = make(map[K]*entry)
	}
	e, ok := k.entries[key]
	if !ok {
		e = &entry{ch: make(chan struct{}, 1)}
		e.ch <- struct{}{}
		k.entries[key] = e
	}
	e.refs++
	return e
}

func (k *Keyed[K]) unref(key K, e *entry) {
	k.mu.Lock()
	defer k.mu.Unlock()
	e.refs--
	if e.refs == 0 {
		delete(k.entries, key)
	}
}

// Lock blocks until key is free and returns the function that releases it.
func (k *Keyed[K]) Lock(key K) (unlock func()) {
	unlock, _ = k.LockContext(context.Background(), key)
	return unlock
}

// LockContext is Lock that gives up when ctx is done.
func (k *Keyed[K]) LockContext(ctx context.Context, key K) (func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	e := k.ref(key)
	select {
	case <-e.ch:
	case <-ctx.Done():
		k.unref(key, e)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			e.ch <- struct{}{}
			k.unref(key, e)
		})
	}, nil
}

// Len reports how many keys are currently held or awaited.
func (k *Keyed[K]) Len() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.entries)
}
