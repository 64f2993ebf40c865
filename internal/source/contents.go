package source

import (
	"context"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/dshills/retrace/internal/protocol"
)

// Contents serves source text through a two-level cache: an in-memory
// map backed by an optional on-disk store, falling back to the service.
// Concurrent fetches of the same source share one request.
type Contents struct {
	client *protocol.Client
	store  *Store

	mu     sync.RWMutex
	memory map[protocol.SourceID]*protocol.SourceContents
	sf     singleflight.Group
}

// NewContents creates a contents cache. store may be nil to disable the
// on-disk level.
func NewContents(client *protocol.Client, store *Store) *Contents {
	return &Contents{
		client: client,
		store:  store,
		memory: make(map[protocol.SourceID]*protocol.SourceContents),
	}
}

// Get returns the text of a source.
func (c *Contents) Get(ctx context.Context, id protocol.SourceID) (*protocol.SourceContents, error) {
	c.mu.RLock()
	sc, ok := c.memory[id]
	c.mu.RUnlock()
	if ok {
		return sc, nil
	}

	v, err, _ := c.sf.Do(string(id), func() (any, error) {
		c.mu.RLock()
		sc, ok := c.memory[id]
		c.mu.RUnlock()
		if ok {
			return sc, nil
		}

		if c.store != nil {
			if sc, ok := c.store.Get(id); ok {
				c.remember(id, sc)
				return sc, nil
			}
		}

		sc, err := c.client.GetSourceContents(ctx, id)
		if err != nil {
			return nil, err
		}
		c.remember(id, sc)
		if c.store != nil {
			// Best effort. A failed disk write only costs a refetch in
			// a later session.
			_ = c.store.Put(id, sc)
		}
		return sc, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*protocol.SourceContents), nil
}

// Cached reports whether a source's text is already in memory.
func (c *Contents) Cached(id protocol.SourceID) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.memory[id]
	return ok
}

func (c *Contents) remember(id protocol.SourceID, sc *protocol.SourceContents) {
	c.mu.Lock()
	c.memory[id] = sc
	c.mu.Unlock()
}
