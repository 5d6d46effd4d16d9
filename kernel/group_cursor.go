// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package kernel

import (
	"sort"

	"github.com/featurebasedb/graphkernel/storage"
)

// group is one relationship type of a node as the store has it.
type group struct {
	storage.Group
	// first holds, for sparse nodes, the first relationship of each
	// direction in the chain, or NoID.
	first [3]int64
}

// RelationshipGroupCursor walks the relationship types of a node: the
// committed groups first, then the types only the transaction added, each
// type exactly once.
type RelationshipGroupCursor struct {
	cursorBase

	node    int64
	dense   bool
	inStore bool

	groups []group
	pos    int
	cur    group
}

func (c *RelationshipGroupCursor) init(tx *Tx, node int64, dense, inStore bool) error {
	if err := c.begin(tx); err != nil {
		return err
	}
	c.clear()
	c.node, c.dense, c.inStore = node, dense, inStore

	var groups []group
	switch {
	case !inStore:
	case dense:
		stored, err := tx.reader.RelationshipGroups(node)
		if err != nil {
			return err
		}
		for _, g := range stored {
			groups = append(groups, group{Group: g, first: [3]int64{storage.NoID, storage.NoID, storage.NoID}})
		}
	default:
		var err error
		if groups, err = sparseGroups(tx.reader, node); err != nil {
			return err
		}
	}

	seen := make(map[int32]struct{}, len(groups))
	for _, g := range groups {
		seen[g.Type] = struct{}{}
	}
	for _, t := range tx.state.NodeState(node).AddedRelationshipTypes() {
		if _, ok := seen[t]; ok {
			continue
		}
		groups = append(groups, group{Group: storage.Group{Type: t}, first: [3]int64{storage.NoID, storage.NoID, storage.NoID}})
	}

	c.groups = groups[:0]
	for _, g := range groups {
		if tx.mode.AllowsTraverseRelType(g.Type) {
			c.groups = append(c.groups, g)
		}
	}
	return nil
}

// sparseGroups aggregates the chain of a sparse node per type.
func sparseGroups(r storage.Reader, node int64) ([]group, error) {
	byType := make(map[int32]*group)
	it := r.RelationshipChain(node, storage.NoID)
	defer it.Close()
	for it.Next() {
		rel := it.Relationship()
		g := byType[rel.Type]
		if g == nil {
			g = &group{Group: storage.Group{Type: rel.Type}, first: [3]int64{storage.NoID, storage.NoID, storage.NoID}}
			byType[rel.Type] = g
		}
		dir := storage.DirectionOf(node, rel.Source, rel.Target)
		switch dir {
		case storage.Outgoing:
			g.Outgoing++
		case storage.Incoming:
			g.Incoming++
		case storage.Loop:
			g.Loops++
		}
		if g.first[dir] == storage.NoID {
			g.first[dir] = rel.ID
		}
	}
	if err := it.Err(); err != nil {
		return nil, err
	}
	out := make([]group, 0, len(byType))
	for _, g := range byType {
		out = append(out, *g)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Type < out[j].Type })
	return out, nil
}

func (c *RelationshipGroupCursor) clear() {
	c.node, c.dense, c.inStore = storage.NoID, false, false
	c.groups, c.pos = nil, 0
	c.cur = group{}
}

// Next moves to the next relationship type.
func (c *RelationshipGroupCursor) Next() bool {
	if !c.check() || c.pos >= len(c.groups) {
		return false
	}
	c.cur = c.groups[c.pos]
	c.pos++
	return true
}

// Type returns the relationship type of the current group.
func (c *RelationshipGroupCursor) Type() int32 { return c.cur.Type }

// OutgoingCount, IncomingCount and LoopCount return the number of
// relationships of the current group the transaction sees in each
// direction.
func (c *RelationshipGroupCursor) OutgoingCount() (int64, error) { return c.count(storage.Outgoing) }
func (c *RelationshipGroupCursor) IncomingCount() (int64, error) { return c.count(storage.Incoming) }
func (c *RelationshipGroupCursor) LoopCount() (int64, error)     { return c.count(storage.Loop) }

// TotalCount returns the number of relationships of the current group.
func (c *RelationshipGroupCursor) TotalCount() (int64, error) { return c.count(storage.Both) }

func (c *RelationshipGroupCursor) count(dir storage.Direction) (int64, error) {
	if !c.check() {
		return 0, c.err
	}
	tx := c.tx
	if !tx.mode.AllowsTraverseAllLabels() {
		rc := c.factory.RelationshipTraversalCursor()
		defer rc.Close()
		if err := c.traverse(rc, dir); err != nil {
			return 0, err
		}
		var n int64
		for rc.Next() {
			n++
		}
		return n, rc.Err()
	}
	return c.cur.Count(dir) + tx.state.NodeState(c.node).DegreeDelta(c.cur.Type, dir), nil
}

// Outgoing, Incoming and Loops position rc on the relationships of the
// current group in each direction.
func (c *RelationshipGroupCursor) Outgoing(rc *RelationshipTraversalCursor) error {
	return c.traverse(rc, storage.Outgoing)
}

func (c *RelationshipGroupCursor) Incoming(rc *RelationshipTraversalCursor) error {
	return c.traverse(rc, storage.Incoming)
}

func (c *RelationshipGroupCursor) Loops(rc *RelationshipTraversalCursor) error {
	return c.traverse(rc, storage.Loop)
}

func (c *RelationshipGroupCursor) traverse(rc *RelationshipTraversalCursor, dir storage.Direction) error {
	if !c.check() {
		return c.err
	}
	var t Traversal
	switch {
	case !c.inStore || c.cur.Count(dir) == 0:
		t = NoRelationships{Type: c.cur.Type, Dir: dir}
	case c.dense || dir == storage.Both:
		t = GroupPositioned{Type: c.cur.Type, Dir: dir}
	default:
		t = FilterFromFirst{First: c.cur.first[dir]}
	}
	return c.tx.RelationshipTraversal(c.node, t, rc)
}

// Close returns the cursor to its factory.
func (c *RelationshipGroupCursor) Close() {
	if !c.release() {
		return
	}
	c.clear()
	giveBack(c.factory, &c.factory.groups, c)
}
