// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0

// Package storage defines the contract between the transaction overlay and
// the durable graph store: snapshot readers, lazy record iterators, and the
// visitor used to replay a transaction's changes into the store on commit.
package storage

import (
	"github.com/featurebasedb/graphkernel/schema"
	"github.com/featurebasedb/graphkernel/values"
)

// NoID is the reference of "no entity".
const NoID int64 = -1

// Direction of a relationship as seen from one of its endpoints.
type Direction uint8

const (
	Outgoing Direction = iota
	Incoming
	Loop
	// Both accepts every relationship regardless of direction.
	Both
)

func (d Direction) String() string {
	switch d {
	case Outgoing:
		return "OUTGOING"
	case Incoming:
		return "INCOMING"
	case Loop:
		return "LOOP"
	case Both:
		return "BOTH"
	}
	return "UNKNOWN"
}

// DirectionOf returns the direction of the relationship (source)->(target)
// as seen from origin. origin must be one of the endpoints.
func DirectionOf(origin, source, target int64) Direction {
	switch {
	case source == target:
		return Loop
	case origin == source:
		return Outgoing
	}
	return Incoming
}

// Matches reports whether the relationship (source)->(target), traversed
// from origin, is accepted by d.
func (d Direction) Matches(origin, source, target int64) bool {
	switch d {
	case Outgoing:
		return origin == source && source != target
	case Incoming:
		return origin == target && source != target
	case Loop:
		return source == target
	}
	return true
}

// NodeRecord is a node as stored durably.
type NodeRecord struct {
	ID     int64
	Labels []int32
	// Dense nodes keep their relationships grouped per type and direction.
	Dense bool
}

// RelationshipRecord is a relationship as stored durably.
type RelationshipRecord struct {
	ID     int64
	Type   int32
	Source int64
	Target int64
}

// Property is a single property key/value pair.
type Property struct {
	Key   int32
	Value values.Value
}

// Group summarizes the relationships of one type on a node.
type Group struct {
	Type     int32
	Outgoing int64
	Incoming int64
	Loops    int64
}

// Count returns the number of relationships in the group matching dir.
func (g Group) Count(dir Direction) int64 {
	switch dir {
	case Outgoing:
		return g.Outgoing
	case Incoming:
		return g.Incoming
	case Loop:
		return g.Loops
	}
	return g.Outgoing + g.Incoming + g.Loops
}

// NodeIterator lazily walks node records. Records are only valid until the
// next call to Next.
type NodeIterator interface {
	Next() bool
	Node() NodeRecord
	Err() error
	Close()
}

// RelationshipIterator lazily walks relationship records.
type RelationshipIterator interface {
	Next() bool
	Relationship() RelationshipRecord
	Err() error
	Close()
}

// PropertyIterator lazily walks a property chain.
type PropertyIterator interface {
	Next() bool
	Property() Property
	Err() error
	Close()
}

// Reader is a read-only, point-in-time view of the durable store. A Reader
// is used by one goroutine at a time and must be closed.
type Reader interface {
	NodeExists(id int64) bool
	Node(id int64) (NodeRecord, bool, error)
	RelationshipExists(id int64) bool
	Relationship(id int64) (RelationshipRecord, bool, error)

	// ScanNodes walks nodes with id >= from in ascending id order.
	ScanNodes(from int64) NodeIterator
	// ScanRelationships walks relationships with id >= from in ascending
	// id order.
	ScanRelationships(from int64) RelationshipIterator

	NodeProperties(id int64) PropertyIterator
	RelationshipProperties(id int64) PropertyIterator
	// NodeProperty is a one-shot lookup that does not involve any iterator.
	NodeProperty(id int64, key int32) (values.Value, bool, error)
	RelationshipProperty(id int64, key int32) (values.Value, bool, error)

	// RelationshipChain walks every relationship of node in chain order,
	// starting at relationship from (inclusive), or at the head if from is
	// NoID.
	RelationshipChain(node int64, from int64) RelationshipIterator
	// RelationshipGroups returns the per-type groups of a node.
	RelationshipGroups(node int64) ([]Group, error)
	// GroupChain walks the relationships of node with the given type and
	// direction.
	GroupChain(node int64, relType int32, dir Direction) RelationshipIterator

	CountNodes(label int32) int64
	CountRelationships(start, relType, end int32) int64

	HighNodeID() int64
	HighRelationshipID() int64

	Indexes() ([]schema.IndexDescriptor, error)
	Constraints() ([]schema.ConstraintDescriptor, error)

	Close() error
}

// Store is a durable graph store.
type Store interface {
	// Snapshot opens a Reader over the current committed state.
	Snapshot() (Reader, error)
	// Apply durably writes changes and count adjustments atomically.
	Apply(changes Changeset, counts CountsDelta) error

	NextNodeID() int64
	NextRelationshipID() int64
	NextSchemaID() int64

	Close() error
}

// CountsKey addresses one durable aggregate counter. Node counters use
// Start as the label; relationship counters use all three tokens. Any
// token may be schema.AnyToken.
type CountsKey struct {
	Relationship bool
	Start        int32
	Type         int32
	End          int32
}

// NodeCountsKey returns the key of the node counter for label.
func NodeCountsKey(label int32) CountsKey {
	return CountsKey{Start: label, Type: schema.AnyToken, End: schema.AnyToken}
}

// RelationshipCountsKey returns the key of a relationship counter.
func RelationshipCountsKey(start, relType, end int32) CountsKey {
	return CountsKey{Relationship: true, Start: start, Type: relType, End: end}
}

// CountsDelta holds counter adjustments produced by one transaction.
type CountsDelta map[CountsKey]int64

// Changeset is something that can replay itself through a Visitor.
type Changeset interface {
	Accept(v Visitor) error
}

// Visitor receives the changes of a transaction in a fixed order: schema,
// created nodes, label changes, node properties, created relationships,
// relationship properties, deleted relationships, deleted nodes, index
// entry updates.
type Visitor interface {
	VisitAddedIndex(d schema.IndexDescriptor) error
	VisitRemovedIndex(d schema.IndexDescriptor) error
	VisitAddedConstraint(d schema.ConstraintDescriptor) error
	VisitRemovedConstraint(d schema.ConstraintDescriptor) error

	VisitCreatedNode(id int64) error
	VisitNodeLabelChanges(id int64, added, removed []int32) error
	VisitNodePropertyChanges(id int64, added, changed []Property, removed []int32) error
	VisitCreatedRelationship(id int64, relType int32, source, target int64) error
	VisitRelationshipPropertyChanges(id int64, added, changed []Property, removed []int32) error
	VisitDeletedRelationship(id int64, relType int32, source, target int64) error
	// VisitDeletedNode gets the labels the node had in the store.
	VisitDeletedNode(id int64, labels []int32) error

	VisitValueIndexUpdate(s schema.Descriptor, tuple values.Tuple, added, removed []int64) error
}

// NopVisitor implements Visitor by doing nothing. Embed it to implement only
// the callbacks of interest.
type NopVisitor struct{}

func (NopVisitor) VisitAddedIndex(schema.IndexDescriptor) error           { return nil }
func (NopVisitor) VisitRemovedIndex(schema.IndexDescriptor) error         { return nil }
func (NopVisitor) VisitAddedConstraint(schema.ConstraintDescriptor) error { return nil }
func (NopVisitor) VisitRemovedConstraint(schema.ConstraintDescriptor) error {
	return nil
}
func (NopVisitor) VisitCreatedNode(int64) error                       { return nil }
func (NopVisitor) VisitNodeLabelChanges(int64, []int32, []int32) error { return nil }
func (NopVisitor) VisitNodePropertyChanges(int64, []Property, []Property, []int32) error {
	return nil
}
func (NopVisitor) VisitCreatedRelationship(int64, int32, int64, int64) error { return nil }
func (NopVisitor) VisitRelationshipPropertyChanges(int64, []Property, []Property, []int32) error {
	return nil
}
func (NopVisitor) VisitDeletedRelationship(int64, int32, int64, int64) error { return nil }
func (NopVisitor) VisitDeletedNode(int64, []int32) error                    { return nil }
func (NopVisitor) VisitValueIndexUpdate(schema.Descriptor, values.Tuple, []int64, []int64) error {
	return nil
}
