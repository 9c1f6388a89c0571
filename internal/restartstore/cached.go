package restartstore

import (
	"context"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/gridlink-project/gridlink/pkg/errclass"
	"github.com/gridlink-project/gridlink/pkg/model"
)

// Cached keeps the most recently used records of another store in memory.
// Writes go through to the backend before the cache is updated.
//
// A read miss fills the cache only when no write completed while the backend
// was being read, so a slow read never replaces a newer cached record.
type Cached struct {
	backend Store
	cache   *lru.Cache[model.RestartIdentifier, *model.RestartRecord]

	mu  sync.Mutex
	gen uint64 // bumped by every write
}

// NewCached wraps backend with an LRU cache of size entries.
func NewCached(backend Store, size int) (*Cached, error) {
	cache, err := lru.New[model.RestartIdentifier, *model.RestartRecord](size)
	if err != nil {
		return nil, errclass.ErrConfigInvalid.WithMessagef("restart cache: %v", err)
	}
	return &Cached{backend: backend, cache: cache}, nil
}

func (c *Cached) Retrieve(ctx context.Context, id model.RestartIdentifier) (*model.RestartRecord, error) {
	if rec, ok := c.cache.Get(id); ok {
		return rec.Clone(), nil
	}
	c.mu.Lock()
	gen := c.gen
	c.mu.Unlock()

	rec, err := c.backend.Retrieve(ctx, id)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	if c.gen == gen {
		c.cache.Add(id, rec.Clone())
	}
	c.mu.Unlock()
	return rec, nil
}

func (c *Cached) Store(ctx context.Context, rec *model.RestartRecord) error {
	err := c.backend.Store(ctx, rec)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.gen++
	if err != nil {
		c.cache.Remove(rec.Identifier())
		return err
	}
	c.cache.Add(rec.Identifier(), rec.Clone())
	return nil
}

func (c *Cached) Delete(ctx context.Context, id model.RestartIdentifier) error {
	err := c.backend.Delete(ctx, id)

	c.mu.Lock()
	c.gen++
	c.cache.Remove(id)
	c.mu.Unlock()
	return err
}

// List always reads the backend.
func (c *Cached) List(ctx context.Context) ([]*model.RestartRecord, error) {
	return c.backend.List(ctx)
}

func (c *Cached) MaxAttempts() int { return c.backend.MaxAttempts() }

// Len is the number of cached records.
func (c *Cached) Len() int { return c.cache.Len() }

// Close purges the cache and closes the backend.
func (c *Cached) Close() error {
	c.cache.Purge()
	return c.backend.Close()
}
