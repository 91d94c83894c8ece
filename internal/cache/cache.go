// Package cache accumulates the integrated results of one query execution,
// keyed by entity identity.
package cache

import (
	"slices"
	"sync"

	"github.com/roach88/stitch/internal/ir"
)

// Cache maps entity identities to their integrated records. Entries are
// only ever appended to or wiped as a whole.
type Cache struct {
	mu     sync.Mutex
	models map[string][]ir.IRObject
}

// New creates an empty cache.
func New() *Cache {
	return &Cache{models: make(map[string][]ir.IRObject)}
}

// Wipe resets the records of entity to an empty sequence.
func (c *Cache) Wipe(entity string) *Cache {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.models[entity] = []ir.IRObject{}
	return c
}

// Push appends records to entity.
func (c *Cache) Push(entity string, records ...ir.IRObject) *Cache {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.models[entity] = append(c.models[entity], records...)
	return c
}

// Get returns the records of entity, or an empty slice.
func (c *Cache) Get(entity string) []ir.IRObject {
	c.mu.Lock()
	defer c.mu.Unlock()
	if recs, ok := c.models[entity]; ok {
		return slices.Clone(recs)
	}
	return []ir.IRObject{}
}

// Entities returns every entity with an entry, sorted.
func (c *Cache) Entities() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.models))
	for e := range c.models {
		out = append(out, e)
	}
	slices.Sort(out)
	return out
}
