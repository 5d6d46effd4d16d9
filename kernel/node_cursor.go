// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package kernel

import (
	"github.com/featurebasedb/graphkernel/schema"
	"github.com/featurebasedb/graphkernel/storage"
)

// NodeCursor reads nodes, either one by id or by scanning.
type NodeCursor struct {
	cursorBase

	single   int64
	scanning bool
	// hi is the exclusive upper id of a partition scan, or zero.
	hi       int64
	storeIt  storage.NodeIterator
	added    []int64
	addedPos int

	id      int64
	labels  []int32
	dense   bool
	inStore bool
}

// SingleNode positions c to read node id.
func (tx *Tx) SingleNode(id int64, c *NodeCursor) error {
	if err := c.begin(tx); err != nil {
		return err
	}
	c.clear()
	c.single = id
	return nil
}

// AllNodesScan positions c to read every node: committed nodes in id order,
// then the nodes created by the transaction.
func (tx *Tx) AllNodesScan(c *NodeCursor) error {
	if err := c.begin(tx); err != nil {
		return err
	}
	c.clear()
	c.scanning = true
	c.storeIt = tx.reader.ScanNodes(0)
	c.added = tx.state.AddedNodes()
	return nil
}

// scanRange positions c to read committed nodes with from <= id < to.
func (tx *Tx) scanRange(from, to int64, c *NodeCursor) error {
	if err := c.begin(tx); err != nil {
		return err
	}
	c.clear()
	c.scanning = true
	c.hi = to
	c.storeIt = tx.reader.ScanNodes(from)
	return nil
}

func (c *NodeCursor) clear() {
	if c.storeIt != nil {
		c.storeIt.Close()
	}
	c.single = storage.NoID
	c.scanning = false
	c.hi = 0
	c.storeIt = nil
	c.added, c.addedPos = nil, 0
	c.id, c.labels, c.dense, c.inStore = storage.NoID, nil, false, false
}

// Next moves to the next visible node.
func (c *NodeCursor) Next() bool {
	if !c.check() {
		return false
	}
	if c.scanning {
		return c.nextScan()
	}
	return c.nextSingle()
}

func (c *NodeCursor) nextSingle() bool {
	id := c.single
	if id == storage.NoID {
		return false
	}
	c.single = storage.NoID
	tx := c.tx
	if tx.state.NodeIsDeletedInThisTx(id) {
		return false
	}
	if tx.state.NodeIsAddedInThisTx(id) {
		return c.accept(id, tx.state.NodeState(id).AddedLabels(), false, false)
	}
	rec, ok, err := tx.reader.Node(id)
	if err != nil {
		return c.fail(err)
	} else if !ok {
		return false
	}
	return c.accept(id, mergeLabels(rec.Labels, tx.state.NodeState(id)), rec.Dense, true)
}

func (c *NodeCursor) nextScan() bool {
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
		rec := c.storeIt.Node()
		if c.hi > 0 && rec.ID >= c.hi {
			c.storeIt.Close()
			c.storeIt = nil
			break
		}
		if tx.state.NodeIsDeletedInThisTx(rec.ID) {
			continue
		}
		if c.accept(rec.ID, mergeLabels(rec.Labels, tx.state.NodeState(rec.ID)), rec.Dense, true) {
			return true
		} else if c.err != nil {
			return false
		}
	}
	for c.addedPos < len(c.added) {
		id := c.added[c.addedPos]
		c.addedPos++
		if c.accept(id, tx.state.NodeState(id).AddedLabels(), false, false) {
			return true
		} else if c.err != nil {
			return false
		}
	}
	return false
}

// accept positions the cursor on a node if it is visible.
func (c *NodeCursor) accept(id int64, labels []int32, dense, inStore bool) bool {
	ok, err := c.tx.nodeVisible(id, labels)
	if err != nil {
		return c.fail(err)
	} else if !ok {
		return false
	}
	c.id, c.labels, c.dense, c.inStore = id, labels, dense, inStore
	c.tx.tracer.OnNode(id)
	return true
}

// ID returns the id of the current node.
func (c *NodeCursor) ID() int64 { return c.id }

// Labels returns the labels of the current node, ascending.
func (c *NodeCursor) Labels() []int32 {
	return append([]int32(nil), c.labels...)
}

func (c *NodeCursor) HasLabel(label int32) bool {
	for _, l := range c.labels {
		if l == label {
			return true
		}
	}
	return false
}

// Properties positions pc on the properties of the current node.
func (c *NodeCursor) Properties(pc *PropertyCursor) error {
	if !c.check() {
		return c.err
	}
	return pc.initNode(c.tx, c.id, c.labels, c.inStore)
}

// Relationships positions rc on the relationships of the current node of
// relType (schema.AnyToken for all) in dir.
func (c *NodeCursor) Relationships(rc *RelationshipTraversalCursor, relType int32, dir storage.Direction) error {
	if !c.check() {
		return c.err
	}
	var t Traversal
	switch {
	case !c.inStore:
		t = NoRelationships{Type: relType, Dir: dir}
	case c.dense && relType != schema.AnyToken:
		t = GroupPositioned{Type: relType, Dir: dir}
	default:
		t = Direct{Type: relType, Dir: dir}
	}
	return c.tx.RelationshipTraversal(c.id, t, rc)
}

// Groups positions gc on the relationship groups of the current node.
func (c *NodeCursor) Groups(gc *RelationshipGroupCursor) error {
	if !c.check() {
		return c.err
	}
	return gc.init(c.tx, c.id, c.dense, c.inStore)
}

// Degree returns the number of relationships of relType in dir the
// transaction sees on the current node.
func (c *NodeCursor) Degree(relType int32, dir storage.Direction) (int64, error) {
	if !c.check() {
		return 0, c.err
	}
	tx := c.tx
	if !tx.mode.AllowsTraverseAllRelTypes() || !tx.mode.AllowsTraverseAllLabels() {
		rc := c.factory.RelationshipTraversalCursor()
		defer rc.Close()
		if err := c.Relationships(rc, relType, dir); err != nil {
			return 0, err
		}
		var n int64
		for rc.Next() {
			n++
		}
		return n, rc.Err()
	}
	var n int64
	if c.inStore {
		var err error
		if n, err = storeDegree(tx.reader, c.id, c.dense, relType, dir); err != nil {
			return 0, err
		}
	}
	return n + tx.state.NodeState(c.id).DegreeDelta(relType, dir), nil
}

// storeDegree counts the committed relationships of node.
func storeDegree(r storage.Reader, node int64, dense bool, relType int32, dir storage.Direction) (int64, error) {
	var n int64
	if dense {
		groups, err := r.RelationshipGroups(node)
		if err != nil {
			return 0, err
		}
		for _, g := range groups {
			if relType == schema.AnyToken || g.Type == relType {
				n += g.Count(dir)
			}
		}
		return n, nil
	}
	it := r.RelationshipChain(node, storage.NoID)
	defer it.Close()
	for it.Next() {
		rel := it.Relationship()
		if (relType == schema.AnyToken || rel.Type == relType) && dir.Matches(node, rel.Source, rel.Target) {
			n++
		}
	}
	return n, it.Err()
}

// Close returns the cursor to its factory.
func (c *NodeCursor) Close() {
	if !c.release() {
		return
	}
	c.clear()
	giveBack(c.factory, &c.factory.nodes, c)
}
