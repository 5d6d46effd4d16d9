// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package txstate

import (
	"github.com/featurebasedb/graphkernel/schema"
	"github.com/featurebasedb/graphkernel/storage"
	"golang.org/x/exp/slices"
)

// NodeState is the diff of one node.
type NodeState struct {
	labels *tokenDiff
	props  *PropertyState

	// adjacency holds relationships added to or removed from the node, per
	// type and per direction as seen from the node.
	adjacency map[int32]*[3]*DiffSet

	// storedLabels is set when a committed node is deleted.
	storedLabels []int32
}

func newNodeState() *NodeState {
	return &NodeState{
		labels: newTokenDiff(),
		props:  newPropertyState(),
	}
}

// AddedLabels returns the labels added in the transaction, ascending.
func (n *NodeState) AddedLabels() []int32 {
	if n == nil {
		return nil
	}
	return toTokens(n.labels.added.ToArray())
}

// RemovedLabels returns the labels removed in the transaction, ascending.
func (n *NodeState) RemovedLabels() []int32 {
	if n == nil {
		return nil
	}
	return toTokens(n.labels.removed.ToArray())
}

func (n *NodeState) IsLabelAdded(label int32) bool {
	return n != nil && n.labels.added.Contains(uint32(label))
}

func (n *NodeState) IsLabelRemoved(label int32) bool {
	return n != nil && n.labels.removed.Contains(uint32(label))
}

// Properties returns the property diff of the node, which may be nil.
func (n *NodeState) Properties() *PropertyState {
	if n == nil {
		return nil
	}
	return n.props
}

func (n *NodeState) adjacencyFor(relType int32, dir storage.Direction) *DiffSet {
	if n.adjacency == nil {
		n.adjacency = make(map[int32]*[3]*DiffSet)
	}
	a := n.adjacency[relType]
	if a == nil {
		a = &[3]*DiffSet{}
		n.adjacency[relType] = a
	}
	if a[dir] == nil {
		a[dir] = NewDiffSet()
	}
	return a[dir]
}

// eachAdjacency calls fn for every diff set matching relType and dir.
// relType may be schema.AnyToken and dir may be storage.Both.
func (n *NodeState) eachAdjacency(relType int32, dir storage.Direction, fn func(t int32, d storage.Direction, s *DiffSet)) {
	if n == nil {
		return
	}
	for t, a := range n.adjacency {
		if relType != schema.AnyToken && t != relType {
			continue
		}
		for d, s := range a {
			if s == nil || (dir != storage.Both && storage.Direction(d) != dir) {
				continue
			}
			fn(t, storage.Direction(d), s)
		}
	}
}

// AddedRelationships returns the relationships of relType and dir added to
// the node in the transaction, ascending.
func (n *NodeState) AddedRelationships(relType int32, dir storage.Direction) []int64 {
	var out []int64
	n.eachAdjacency(relType, dir, func(_ int32, _ storage.Direction, s *DiffSet) {
		out = append(out, s.Added()...)
	})
	slices.Sort(out)
	return out
}

// DegreeDelta returns the change in the node's degree for relType and dir.
func (n *NodeState) DegreeDelta(relType int32, dir storage.Direction) int64 {
	var delta int64
	n.eachAdjacency(relType, dir, func(_ int32, _ storage.Direction, s *DiffSet) {
		delta += s.Delta()
	})
	return delta
}

// AddedRelationshipTypes returns the types of which the transaction added
// at least one relationship to the node, ascending.
func (n *NodeState) AddedRelationshipTypes() []int32 {
	if n == nil {
		return nil
	}
	var out []int32
	for t, a := range n.adjacency {
		for _, s := range a {
			if s.AddedCount() > 0 {
				out = append(out, t)
				break
			}
		}
	}
	return schema.SortTokens(out)
}

// RelationshipState is the diff of one relationship. Type and endpoints are
// known for created relationships and for deleted committed ones.
type RelationshipState struct {
	Type   int32
	Source int64
	Target int64

	props *PropertyState
}

// Properties returns the property diff of the relationship, which may be
// nil.
func (r *RelationshipState) Properties() *PropertyState {
	if r == nil {
		return nil
	}
	return r.props
}

// Record returns r as a relationship record with the given id.
func (r *RelationshipState) Record(id int64) storage.RelationshipRecord {
	return storage.RelationshipRecord{ID: id, Type: r.Type, Source: r.Source, Target: r.Target}
}
