// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0

// Package txstate holds the pending changes of one open transaction: the
// overlay that cursors merge with the committed store.
//
// A TxState is owned by a single transaction and is not safe for
// concurrent use.
package txstate

import (
	"github.com/featurebasedb/graphkernel/schema"
	"github.com/featurebasedb/graphkernel/storage"
	"github.com/featurebasedb/graphkernel/values"
	"golang.org/x/exp/constraints"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

// TxState is the pending-change overlay of a transaction.
type TxState struct {
	nodes         *DiffSet
	relationships *DiffSet

	nodeStates map[int64]*NodeState
	relStates  map[int64]*RelationshipState

	// labelNodes and typeRelationships back token index lookups.
	labelNodes        map[int32]*DiffSet
	typeRelationships map[int32]*DiffSet

	indexUpdates map[string]*indexUpdates

	addedIndexes       map[int64]schema.IndexDescriptor
	removedIndexes     map[int64]schema.IndexDescriptor
	addedConstraints   map[int64]schema.ConstraintDescriptor
	removedConstraints map[int64]schema.ConstraintDescriptor

	dataChanges bool
}

// New returns an empty TxState.
func New() *TxState {
	return &TxState{
		nodes:              NewDiffSet(),
		relationships:      NewDiffSet(),
		nodeStates:         make(map[int64]*NodeState),
		relStates:          make(map[int64]*RelationshipState),
		labelNodes:         make(map[int32]*DiffSet),
		typeRelationships:  make(map[int32]*DiffSet),
		indexUpdates:       make(map[string]*indexUpdates),
		addedIndexes:       make(map[int64]schema.IndexDescriptor),
		removedIndexes:     make(map[int64]schema.IndexDescriptor),
		addedConstraints:   make(map[int64]schema.ConstraintDescriptor),
		removedConstraints: make(map[int64]schema.ConstraintDescriptor),
	}
}

// HasChanges reports whether the transaction changed anything.
func (s *TxState) HasChanges() bool {
	return s.HasDataChanges() || s.HasSchemaChanges()
}

// HasDataChanges reports whether the transaction changed entities.
func (s *TxState) HasDataChanges() bool {
	if !s.nodes.IsEmpty() || !s.relationships.IsEmpty() {
		return true
	}
	if s.dataChanges {
		return true
	}
	for _, n := range s.nodeStates {
		if !n.labels.isEmpty() || !n.props.IsEmpty() {
			return true
		}
	}
	for _, r := range s.relStates {
		if !r.props.IsEmpty() {
			return true
		}
	}
	return false
}

// HasSchemaChanges reports whether the transaction changed indexes or
// constraints.
func (s *TxState) HasSchemaChanges() bool {
	return len(s.addedIndexes)+len(s.removedIndexes)+len(s.addedConstraints)+len(s.removedConstraints) > 0
}

func (s *TxState) nodeState(id int64) *NodeState {
	n := s.nodeStates[id]
	if n == nil {
		n = newNodeState()
		s.nodeStates[id] = n
	}
	return n
}

// NodeState returns the diff of node id, or nil.
func (s *TxState) NodeState(id int64) *NodeState {
	return s.nodeStates[id]
}

func (s *TxState) relState(id int64) *RelationshipState {
	r := s.relStates[id]
	if r == nil {
		r = &RelationshipState{props: newPropertyState()}
		s.relStates[id] = r
	}
	return r
}

// RelationshipState returns the diff of relationship id, or nil.
func (s *TxState) RelationshipState(id int64) *RelationshipState {
	return s.relStates[id]
}

func (s *TxState) NodeIsAddedInThisTx(id int64) bool   { return s.nodes.IsAdded(id) }
func (s *TxState) NodeIsDeletedInThisTx(id int64) bool { return s.nodes.IsRemoved(id) }

func (s *TxState) RelationshipIsAddedInThisTx(id int64) bool {
	return s.relationships.IsAdded(id)
}

func (s *TxState) RelationshipIsDeletedInThisTx(id int64) bool {
	return s.relationships.IsRemoved(id)
}

// AddedNodes, DeletedNodes, AddedRelationships and DeletedRelationships
// list entity ids in ascending order.
func (s *TxState) AddedNodes() []int64           { return s.nodes.Added() }
func (s *TxState) DeletedNodes() []int64         { return s.nodes.Removed() }
func (s *TxState) AddedRelationships() []int64   { return s.relationships.Added() }
func (s *TxState) DeletedRelationships() []int64 { return s.relationships.Removed() }

// ChangedNodes returns the ids of nodes with any diff, ascending.
func (s *TxState) ChangedNodes() []int64 {
	return sortedKeys(s.nodeStates)
}

// ChangedRelationships returns the ids of relationships with any diff,
// ascending.
func (s *TxState) ChangedRelationships() []int64 {
	return sortedKeys(s.relStates)
}

func sortedKeys[K constraints.Ordered, V any](m map[K]V) []K {
	out := maps.Keys(m)
	slices.Sort(out)
	return out
}

// NodeDoCreate records the creation of node id.
func (s *TxState) NodeDoCreate(id int64) {
	s.nodes.Add(id)
	s.nodeState(id)
}

// NodeDoDelete records the deletion of node id. storedLabels are the labels
// of the committed node, or nil for a node created in the transaction, in
// which case every trace of it is dropped.
func (s *TxState) NodeDoDelete(id int64, storedLabels []int32) {
	n := s.nodeStates[id]
	for _, l := range n.AddedLabels() {
		s.labelDiff(l).Remove(id)
	}
	if s.nodes.Remove(id) {
		delete(s.nodeStates, id)
		return
	}
	for _, l := range storedLabels {
		if !n.IsLabelRemoved(l) {
			s.labelDiff(l).Remove(id)
		}
	}
	n = s.nodeState(id)
	n.labels = newTokenDiff()
	n.props = newPropertyState()
	n.storedLabels = storedLabels
}

func (s *TxState) labelDiff(label int32) *DiffSet {
	d := s.labelNodes[label]
	if d == nil {
		d = NewDiffSet()
		s.labelNodes[label] = d
	}
	return d
}

// NodeDoAddLabel records adding label to node id. The caller guarantees the
// node does not currently have label.
func (s *TxState) NodeDoAddLabel(label int32, id int64) {
	s.nodeState(id).labels.add(label)
	s.labelDiff(label).Add(id)
}

// NodeDoRemoveLabel records removing label from node id. The caller
// guarantees the node currently has label.
func (s *TxState) NodeDoRemoveLabel(label int32, id int64) {
	s.nodeState(id).labels.remove(label)
	s.labelDiff(label).Remove(id)
}

// NodesWithLabelChanged returns the nodes that gained or lost label, or nil.
func (s *TxState) NodesWithLabelChanged(label int32) *DiffSet {
	return s.labelNodes[label]
}

// NodeDoSetProperty records key=v on node id. inStore says whether the
// committed node has key.
func (s *TxState) NodeDoSetProperty(id int64, key int32, v values.Value, inStore bool) {
	s.nodeState(id).props.Set(key, v, inStore)
}

// NodeDoRemoveProperty records the removal of key from node id.
func (s *TxState) NodeDoRemoveProperty(id int64, key int32, inStore bool) {
	s.nodeState(id).props.Remove(key, inStore)
}

// RelationshipDoCreate records the creation of a relationship.
func (s *TxState) RelationshipDoCreate(id int64, relType int32, source, target int64) {
	s.relationships.Add(id)
	r := s.relState(id)
	r.Type, r.Source, r.Target = relType, source, target
	s.typeDiff(relType).Add(id)
	s.eachEndpoint(source, target, func(node int64, dir storage.Direction) {
		s.nodeState(node).adjacencyFor(relType, dir).Add(id)
	})
}

// RelationshipDoDelete records the deletion of a relationship. A
// relationship created in the transaction leaves no trace.
func (s *TxState) RelationshipDoDelete(id int64, relType int32, source, target int64) {
	s.typeDiff(relType).Remove(id)
	s.eachEndpoint(source, target, func(node int64, dir storage.Direction) {
		s.nodeState(node).adjacencyFor(relType, dir).Remove(id)
	})
	if s.relationships.Remove(id) {
		delete(s.relStates, id)
		return
	}
	r := s.relState(id)
	r.Type, r.Source, r.Target = relType, source, target
	r.props = newPropertyState()
}

func (s *TxState) eachEndpoint(source, target int64, fn func(node int64, dir storage.Direction)) {
	if source == target {
		fn(source, storage.Loop)
		return
	}
	fn(source, storage.Outgoing)
	fn(target, storage.Incoming)
}

func (s *TxState) typeDiff(relType int32) *DiffSet {
	d := s.typeRelationships[relType]
	if d == nil {
		d = NewDiffSet()
		s.typeRelationships[relType] = d
	}
	return d
}

// RelationshipsWithTypeChanged returns the relationships of relType added
// or deleted in the transaction, or nil.
func (s *TxState) RelationshipsWithTypeChanged(relType int32) *DiffSet {
	return s.typeRelationships[relType]
}

// RelationshipDoSetProperty records key=v on relationship id.
func (s *TxState) RelationshipDoSetProperty(id int64, key int32, v values.Value, inStore bool) {
	s.relState(id).props.Set(key, v, inStore)
}

// RelationshipDoRemoveProperty records the removal of key from relationship
// id.
func (s *TxState) RelationshipDoRemoveProperty(id int64, key int32, inStore bool) {
	s.relState(id).props.Remove(key, inStore)
}

// IndexDoAdd records the creation of an index.
func (s *TxState) IndexDoAdd(d schema.IndexDescriptor) {
	s.addedIndexes[d.ID] = d
}

// IndexDoDrop records dropping an index. Dropping an index created in the
// transaction leaves no trace.
func (s *TxState) IndexDoDrop(d schema.IndexDescriptor) {
	if _, ok := s.addedIndexes[d.ID]; ok {
		delete(s.addedIndexes, d.ID)
		return
	}
	s.removedIndexes[d.ID] = d
}

func (s *TxState) ConstraintDoAdd(d schema.ConstraintDescriptor) {
	s.addedConstraints[d.ID] = d
}

func (s *TxState) ConstraintDoDrop(d schema.ConstraintDescriptor) {
	if _, ok := s.addedConstraints[d.ID]; ok {
		delete(s.addedConstraints, d.ID)
		return
	}
	s.removedConstraints[d.ID] = d
}

// AddedIndexes and RemovedIndexes list the schema diff ordered by id.
func (s *TxState) AddedIndexes() []schema.IndexDescriptor   { return sortedIndexes(s.addedIndexes) }
func (s *TxState) RemovedIndexes() []schema.IndexDescriptor { return sortedIndexes(s.removedIndexes) }

func (s *TxState) IndexIsRemoved(id int64) bool {
	_, ok := s.removedIndexes[id]
	return ok
}

func (s *TxState) AddedConstraints() []schema.ConstraintDescriptor {
	return sortedConstraints(s.addedConstraints)
}

func (s *TxState) RemovedConstraints() []schema.ConstraintDescriptor {
	return sortedConstraints(s.removedConstraints)
}

func sortedIndexes(m map[int64]schema.IndexDescriptor) []schema.IndexDescriptor {
	out := make([]schema.IndexDescriptor, 0, len(m))
	for _, id := range sortedKeys(m) {
		out = append(out, m[id])
	}
	return out
}

func sortedConstraints(m map[int64]schema.ConstraintDescriptor) []schema.ConstraintDescriptor {
	out := make([]schema.ConstraintDescriptor, 0, len(m))
	for _, id := range sortedKeys(m) {
		out = append(out, m[id])
	}
	return out
}
