// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package schema

import (
	"sort"
	"sync"
)

// Cache holds the committed indexes and constraints and answers which
// indexes are related to a changed token or property.
type Cache struct {
	mu          sync.RWMutex
	indexes     map[int64]IndexDescriptor
	constraints map[int64]ConstraintDescriptor
}

// NewCache returns an empty Cache.
func NewCache() *Cache {
	return &Cache{
		indexes:     make(map[int64]IndexDescriptor),
		constraints: make(map[int64]ConstraintDescriptor),
	}
}

func (c *Cache) AddIndex(d IndexDescriptor) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.indexes[d.ID] = d
}

func (c *Cache) RemoveIndex(id int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.indexes, id)
}

func (c *Cache) AddConstraint(d ConstraintDescriptor) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.constraints[d.ID] = d
}

func (c *Cache) RemoveConstraint(id int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.constraints, id)
}

// Index returns the index with the given id.
func (c *Cache) Index(id int64) (IndexDescriptor, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	d, ok := c.indexes[id]
	return d, ok
}

// IndexForName returns the index called name, or NoIndex.
func (c *Cache) IndexForName(name string) IndexDescriptor {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, d := range c.indexes {
		if d.Name == name {
			return d
		}
	}
	return NoIndex
}

// IndexesForSchema returns the indexes whose schema equals s.
func (c *Cache) IndexesForSchema(s Descriptor) []IndexDescriptor {
	return c.filter(func(d IndexDescriptor) bool { return d.Schema.Equal(s) })
}

// IndexesForToken returns the value indexes on token.
func (c *Cache) IndexesForToken(entityType EntityType, token int32) []IndexDescriptor {
	return c.filter(func(d IndexDescriptor) bool {
		return d.Type == IndexTypeRange && d.Schema.EntityType == entityType && d.Schema.CoversToken(token)
	})
}

// TokenLookupIndex returns the lookup index for entityType, or NoIndex.
func (c *Cache) TokenLookupIndex(entityType EntityType) IndexDescriptor {
	found := c.filter(func(d IndexDescriptor) bool {
		return d.Type == IndexTypeLookup && d.Schema.EntityType == entityType
	})
	if len(found) == 0 {
		return NoIndex
	}
	return found[0]
}

// RelatedToTokenChange returns the value indexes affected by adding or
// removing token on an entity: every index on that token.
func (c *Cache) RelatedToTokenChange(entityType EntityType, token int32) []IndexDescriptor {
	return c.IndexesForToken(entityType, token)
}

// RelatedToPropertyChange returns the value indexes on any of tokens that
// include key.
func (c *Cache) RelatedToPropertyChange(entityType EntityType, tokens []int32, key int32) []IndexDescriptor {
	return c.filter(func(d IndexDescriptor) bool {
		return d.Type == IndexTypeRange &&
			d.Schema.EntityType == entityType &&
			d.Schema.CoversAnyToken(tokens) &&
			d.Schema.PropertyOffset(key) >= 0
	})
}

// Indexes returns every index ordered by id.
func (c *Cache) Indexes() []IndexDescriptor {
	return c.filter(func(IndexDescriptor) bool { return true })
}

// Constraints returns every constraint ordered by id.
func (c *Cache) Constraints() []ConstraintDescriptor {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]ConstraintDescriptor, 0, len(c.constraints))
	for _, d := range c.constraints {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (c *Cache) filter(keep func(IndexDescriptor) bool) []IndexDescriptor {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []IndexDescriptor
	for _, d := range c.indexes {
		if keep(d) {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
