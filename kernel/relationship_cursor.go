// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package kernel

import (
	"github.com/featurebasedb/graphkernel/errors"
	"github.com/featurebasedb/graphkernel/schema"
	"github.com/featurebasedb/graphkernel/storage"
)

// relationshipRecord is the current relationship of a relationship cursor.
type relationshipRecord struct {
	cur storage.RelationshipRecord
}

func (r *relationshipRecord) ID() int64     { return r.cur.ID }
func (r *relationshipRecord) Type() int32   { return r.cur.Type }
func (r *relationshipRecord) Source() int64 { return r.cur.Source }
func (r *relationshipRecord) Target() int64 { return r.cur.Target }

// RelationshipScanCursor reads relationships, either one by id or by
// scanning.
type RelationshipScanCursor struct {
	cursorBase
	relationshipRecord

	single   int64
	scanning bool
	// relType restricts a scan, or is schema.AnyToken.
	relType  int32
	storeIt  storage.RelationshipIterator
	added    []int64
	addedPos int
}

// SingleRelationship positions c to read relationship id.
func (tx *Tx) SingleRelationship(id int64, c *RelationshipScanCursor) error {
	if err := c.begin(tx); err != nil {
		return err
	}
	c.clear()
	c.single = id
	return nil
}

// AllRelationshipsScan positions c to read every relationship: committed
// relationships in id order, then the ones created by the transaction.
func (tx *Tx) AllRelationshipsScan(c *RelationshipScanCursor) error {
	return tx.relationshipScan(schema.AnyToken, c)
}

// relationshipScan is a full scan keeping the relationships of relType.
func (tx *Tx) relationshipScan(relType int32, c *RelationshipScanCursor) error {
	if err := c.begin(tx); err != nil {
		return err
	}
	c.clear()
	c.scanning = true
	c.relType = relType
	c.storeIt = tx.reader.ScanRelationships(0)
	c.added = tx.state.AddedRelationships()
	return nil
}

func (c *RelationshipScanCursor) clear() {
	if c.storeIt != nil {
		c.storeIt.Close()
	}
	c.single = storage.NoID
	c.scanning = false
	c.relType = schema.AnyToken
	c.storeIt = nil
	c.added, c.addedPos = nil, 0
	c.cur = storage.RelationshipRecord{ID: storage.NoID}
}

// Next moves to the next visible relationship.
func (c *RelationshipScanCursor) Next() bool {
	if !c.check() {
		return false
	}
	tx := c.tx
	if !c.scanning {
		id := c.single
		if id == storage.NoID {
			return false
		}
		c.single = storage.NoID
		rel, ok, err := tx.relationship(id)
		if err != nil {
			return c.fail(err)
		} else if !ok {
			return false
		}
		return c.accept(rel)
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
		rel := c.storeIt.Relationship()
		if tx.state.RelationshipIsDeletedInThisTx(rel.ID) {
			continue
		}
		if c.accept(rel) {
			return true
		} else if c.err != nil {
			return false
		}
	}
	for c.addedPos < len(c.added) {
		id := c.added[c.addedPos]
		c.addedPos++
		if c.accept(tx.state.RelationshipState(id).Record(id)) {
			return true
		} else if c.err != nil {
			return false
		}
	}
	return false
}

func (c *RelationshipScanCursor) accept(rel storage.RelationshipRecord) bool {
	if c.relType != schema.AnyToken && rel.Type != c.relType {
		return false
	}
	ok, err := c.tx.relationshipVisible(rel)
	if err != nil {
		return c.fail(err)
	} else if !ok {
		return false
	}
	c.cur = rel
	c.tx.tracer.OnRelationship(rel.ID)
	return true
}

// Properties positions pc on the properties of the current relationship.
func (c *RelationshipScanCursor) Properties(pc *PropertyCursor) error {
	if !c.check() {
		return c.err
	}
	return pc.initRelationship(c.tx, c.cur.ID, c.cur.Type, !c.tx.state.RelationshipIsAddedInThisTx(c.cur.ID))
}

// Close returns the cursor to its factory.
func (c *RelationshipScanCursor) Close() {
	if !c.release() {
		return
	}
	c.clear()
	giveBack(c.factory, &c.factory.relScans, c)
}

// Traversal selects how a RelationshipTraversalCursor walks the
// relationships of a node. It is one of Direct, GroupPositioned,
// FilterFromFirst, NoRelationships and Empty.
type Traversal interface {
	traversal()
}

// Direct walks the relationship chain of the node keeping the relationships
// of Type (schema.AnyToken for all) in Dir.
type Direct struct {
	Type int32
	Dir  storage.Direction
}

// GroupPositioned walks the group of a dense node holding the relationships
// of Type in Dir.
type GroupPositioned struct {
	Type int32
	Dir  storage.Direction
}

// FilterFromFirst walks the chain of a node from relationship First on,
// keeping the relationships with the type and direction First has. First
// decides the filter even if the transaction deleted it.
type FilterFromFirst struct {
	First int64
}

// NoRelationships says the store has no relationship of Type in Dir on the
// node, so only the relationships the transaction added are walked.
type NoRelationships struct {
	Type int32
	Dir  storage.Direction
}

// Empty walks nothing.
type Empty struct{}

func (Direct) traversal()          {}
func (GroupPositioned) traversal() {}
func (FilterFromFirst) traversal() {}
func (NoRelationships) traversal() {}
func (Empty) traversal()           {}

// RelationshipTraversalCursor walks the relationships of one node: the
// committed ones first, then the ones the transaction added.
type RelationshipTraversalCursor struct {
	cursorBase
	relationshipRecord

	node    int64
	relType int32
	dir     storage.Direction
	// infer is set until the first committed relationship has decided the
	// filter of a FilterFromFirst traversal.
	infer   bool
	empty   bool
	// from skips the added relationships before it when a FilterFromFirst
	// traversal starts at a relationship the transaction added.
	from int64

	storeIt     storage.RelationshipIterator
	added       []int64
	addedPos    int
	addedLoaded bool
}

// RelationshipTraversal positions c on the relationships of node as
// selected by t.
func (tx *Tx) RelationshipTraversal(node int64, t Traversal, c *RelationshipTraversalCursor) error {
	if err := c.begin(tx); err != nil {
		return err
	}
	c.clear()
	c.node = node
	if tx.state.NodeIsDeletedInThisTx(node) {
		t = Empty{}
	}
	inStore := !tx.state.NodeIsAddedInThisTx(node)

	switch t := t.(type) {
	case Direct:
		c.relType, c.dir = t.Type, t.Dir
		if inStore {
			c.storeIt = tx.reader.RelationshipChain(node, storage.NoID)
		}
	case GroupPositioned:
		c.relType, c.dir = t.Type, t.Dir
		switch {
		case !inStore:
		case t.Type == schema.AnyToken:
			c.storeIt = tx.reader.RelationshipChain(node, storage.NoID)
		default:
			c.storeIt = tx.reader.GroupChain(node, t.Type, t.Dir)
		}
	case FilterFromFirst:
		if tx.state.RelationshipIsAddedInThisTx(t.First) {
			rel := tx.state.RelationshipState(t.First).Record(t.First)
			c.relType = rel.Type
			c.dir = storage.DirectionOf(node, rel.Source, rel.Target)
			c.from = t.First
			break
		}
		c.relType, c.dir = schema.AnyToken, storage.Both
		c.infer = true
		if inStore {
			c.storeIt = tx.reader.RelationshipChain(node, t.First)
		}
	case NoRelationships:
		c.relType, c.dir = t.Type, t.Dir
	case Empty:
		c.empty = true
	default:
		return errors.Errorf("unknown traversal %T", t)
	}
	return nil
}

func (c *RelationshipTraversalCursor) clear() {
	if c.storeIt != nil {
		c.storeIt.Close()
	}
	c.node = storage.NoID
	c.relType, c.dir = schema.AnyToken, storage.Both
	c.infer, c.empty = false, false
	c.from = storage.NoID
	c.storeIt = nil
	c.added, c.addedPos, c.addedLoaded = nil, 0, false
	c.cur = storage.RelationshipRecord{ID: storage.NoID}
}

func (c *RelationshipTraversalCursor) matches(rel storage.RelationshipRecord) bool {
	return (c.relType == schema.AnyToken || rel.Type == c.relType) && c.dir.Matches(c.node, rel.Source, rel.Target)
}

// Next moves to the next visible relationship.
func (c *RelationshipTraversalCursor) Next() bool {
	if !c.check() || c.empty {
		return false
	}
	tx := c.tx
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
		rel := c.storeIt.Relationship()
		if c.infer {
			c.infer = false
			c.relType = rel.Type
			c.dir = storage.DirectionOf(c.node, rel.Source, rel.Target)
		}
		if !c.matches(rel) || tx.state.RelationshipIsDeletedInThisTx(rel.ID) {
			continue
		}
		if c.accept(rel) {
			return true
		} else if c.err != nil {
			return false
		}
	}
	if c.infer {
		// nothing in the store decided the filter
		return false
	}

	if !c.addedLoaded {
		c.added = tx.state.NodeState(c.node).AddedRelationships(c.relType, c.dir)
		c.addedLoaded = true
		for c.from != storage.NoID && c.addedPos < len(c.added) && c.added[c.addedPos] < c.from {
			c.addedPos++
		}
	}
	for c.addedPos < len(c.added) {
		id := c.added[c.addedPos]
		c.addedPos++
		if c.accept(tx.state.RelationshipState(id).Record(id)) {
			return true
		} else if c.err != nil {
			return false
		}
	}
	return false
}

func (c *RelationshipTraversalCursor) accept(rel storage.RelationshipRecord) bool {
	tx := c.tx
	if !tx.mode.AllowsTraverseRelType(rel.Type) {
		return false
	}
	if other := otherNode(c.node, rel); !tx.mode.AllowsTraverseAllLabels() && other != c.node {
		ok, err := tx.nodeVisibleByID(other)
		if err != nil {
			return c.fail(err)
		} else if !ok {
			return false
		}
	}
	c.cur = rel
	tx.tracer.OnRelationship(rel.ID)
	return true
}

func otherNode(origin int64, rel storage.RelationshipRecord) int64 {
	if rel.Source == origin {
		return rel.Target
	}
	return rel.Source
}

// OriginNode returns the node the traversal started from.
func (c *RelationshipTraversalCursor) OriginNode() int64 { return c.node }

// OtherNode returns the endpoint of the current relationship that is not
// the origin.
func (c *RelationshipTraversalCursor) OtherNode() int64 { return otherNode(c.node, c.cur) }

// Properties positions pc on the properties of the current relationship.
func (c *RelationshipTraversalCursor) Properties(pc *PropertyCursor) error {
	if !c.check() {
		return c.err
	}
	return pc.initRelationship(c.tx, c.cur.ID, c.cur.Type, !c.tx.state.RelationshipIsAddedInThisTx(c.cur.ID))
}

// Close returns the cursor to its factory.
func (c *RelationshipTraversalCursor) Close() {
	if !c.release() {
		return
	}
	c.clear()
	giveBack(c.factory, &c.factory.traversals, c)
}
