// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package kernel

import (
	"github.com/featurebasedb/graphkernel/storage"
	"github.com/featurebasedb/graphkernel/txstate"
	"github.com/featurebasedb/graphkernel/values"
)

// PropertyCursor reads the properties of one entity: the ones the
// transaction added or changed first, then the committed ones it did not
// touch. Properties the access mode does not allow reading are skipped.
type PropertyCursor struct {
	cursorBase

	entity       int64
	relationship bool
	labels       []int32
	relType      int32

	snap    txstate.PropertySnapshot
	txIt    *txstate.PropertyIterator
	storeIt storage.PropertyIterator
	cur     storage.Property
}

func (c *PropertyCursor) initNode(tx *Tx, id int64, labels []int32, inStore bool) error {
	if err := c.begin(tx); err != nil {
		return err
	}
	c.clear()
	c.entity, c.labels = id, labels
	c.snap = tx.state.NodeState(id).Properties().Snapshot()
	c.txIt = c.snap.Iterator()
	if inStore {
		c.storeIt = tx.reader.NodeProperties(id)
	}
	return nil
}

func (c *PropertyCursor) initRelationship(tx *Tx, id int64, relType int32, inStore bool) error {
	if err := c.begin(tx); err != nil {
		return err
	}
	c.clear()
	c.entity, c.relationship, c.relType = id, true, relType
	c.snap = tx.state.RelationshipState(id).Properties().Snapshot()
	c.txIt = c.snap.Iterator()
	if inStore {
		c.storeIt = tx.reader.RelationshipProperties(id)
	}
	return nil
}

func (c *PropertyCursor) clear() {
	if c.storeIt != nil {
		c.storeIt.Close()
	}
	c.entity, c.relationship, c.labels, c.relType = storage.NoID, false, nil, 0
	c.snap, c.txIt, c.storeIt = txstate.PropertySnapshot{}, nil, nil
	c.cur = storage.Property{}
}

func (c *PropertyCursor) allowed(key int32) bool {
	if c.relationship {
		return c.tx.allowsReadRelationshipProperty(c.relType, key)
	}
	return c.tx.allowsReadNodeProperty(c.labels, key)
}

// Next moves to the next readable property.
func (c *PropertyCursor) Next() bool {
	if !c.check() {
		return false
	}
	for c.txIt != nil {
		if !c.txIt.Next() {
			c.txIt = nil
			break
		}
		p := c.txIt.Property()
		if !c.allowed(p.Key) {
			continue
		}
		c.cur = p
		c.tx.tracer.OnProperty(p.Key)
		return true
	}
	for c.storeIt != nil {
		if !c.storeIt.Next() {
			err := c.storeIt.Err()
			c.storeIt.Close()
			c.storeIt = nil
			if err != nil {
				return c.fail(err)
			}
			break
		}
		p := c.storeIt.Property()
		if c.snap.Shadows(p.Key) || !c.allowed(p.Key) {
			continue
		}
		c.cur = p
		c.tx.tracer.OnProperty(p.Key)
		return true
	}
	return false
}

func (c *PropertyCursor) PropertyKey() int32              { return c.cur.Key }
func (c *PropertyCursor) PropertyValue() values.Value     { return c.cur.Value }
func (c *PropertyCursor) PropertyType() values.ValueGroup { return c.cur.Value.Group() }

// Close returns the cursor to its factory.
func (c *PropertyCursor) Close() {
	if !c.release() {
		return
	}
	c.clear()
	giveBack(c.factory, &c.factory.properties, c)
}
