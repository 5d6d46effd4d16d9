// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0

// Package schema holds the immutable descriptors of indexes and constraints.
package schema

import (
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/exp/slices"
)

// AnyToken is the wildcard label or relationship type used by counts and
// token lookups.
const AnyToken int32 = -1

// EntityType says whether a schema covers nodes or relationships.
type EntityType uint8

const (
	Node EntityType = iota
	Relationship
)

func (e EntityType) String() string {
	if e == Relationship {
		return "RELATIONSHIP"
	}
	return "NODE"
}

// Descriptor identifies the entities and properties a schema rule covers.
// Token lookup schemas have no entity tokens and no properties: they cover
// every label (or relationship type).
type Descriptor struct {
	EntityType   EntityType
	EntityTokens []int32
	PropertyKeys []int32
}

// ForLabel returns a node schema on label over the given properties.
func ForLabel(label int32, properties ...int32) Descriptor {
	return Descriptor{EntityType: Node, EntityTokens: []int32{label}, PropertyKeys: properties}
}

// ForRelType returns a relationship schema on relType over the given properties.
func ForRelType(relType int32, properties ...int32) Descriptor {
	return Descriptor{EntityType: Relationship, EntityTokens: []int32{relType}, PropertyKeys: properties}
}

// ForAnyEntityTokens returns the schema of a token lookup index.
func ForAnyEntityTokens(entityType EntityType) Descriptor {
	return Descriptor{EntityType: entityType}
}

// IsAnyTokenSchema reports whether d is the schema of a token lookup index.
func (d Descriptor) IsAnyTokenSchema() bool {
	return len(d.EntityTokens) == 0 && len(d.PropertyKeys) == 0
}

// Key returns a string uniquely identifying the schema, usable as a map key.
func (d Descriptor) Key() string {
	var b strings.Builder
	b.WriteString(strconv.Itoa(int(d.EntityType)))
	b.WriteByte(':')
	writeTokens(&b, d.EntityTokens)
	b.WriteByte(':')
	writeTokens(&b, d.PropertyKeys)
	return b.String()
}

func writeTokens(b *strings.Builder, ts []int32) {
	for i, t := range ts {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.Itoa(int(t)))
	}
}

// Equal compares schemas structurally.
func (d Descriptor) Equal(o Descriptor) bool {
	return d.Key() == o.Key()
}

// CoversToken reports whether token is one of the schema's entity tokens.
func (d Descriptor) CoversToken(token int32) bool {
	for _, t := range d.EntityTokens {
		if t == token {
			return true
		}
	}
	return false
}

// CoversAnyToken reports whether any of tokens is covered.
func (d Descriptor) CoversAnyToken(tokens []int32) bool {
	for _, t := range tokens {
		if d.CoversToken(t) {
			return true
		}
	}
	return false
}

// PropertyOffset returns the slot of key in the schema, or -1.
func (d Descriptor) PropertyOffset(key int32) int {
	for i, k := range d.PropertyKeys {
		if k == key {
			return i
		}
	}
	return -1
}

func (d Descriptor) String() string {
	if d.IsAnyTokenSchema() {
		return fmt.Sprintf("%s(:*)", d.EntityType)
	}
	return fmt.Sprintf("%s(:%v %v)", d.EntityType, d.EntityTokens, d.PropertyKeys)
}

// IndexType is the kind of an index.
type IndexType uint8

const (
	// IndexTypeRange indexes property value tuples and supports seeks and
	// ordered scans.
	IndexTypeRange IndexType = iota + 1
	// IndexTypeLookup maps labels or relationship types to entities.
	IndexTypeLookup
)

func (t IndexType) String() string {
	switch t {
	case IndexTypeRange:
		return "RANGE"
	case IndexTypeLookup:
		return "LOOKUP"
	}
	return "invalid"
}

// IndexState is the population state of a committed index.
type IndexState uint8

const (
	IndexPopulating IndexState = iota
	IndexOnline
	IndexFailed
)

func (s IndexState) String() string {
	switch s {
	case IndexPopulating:
		return "POPULATING"
	case IndexOnline:
		return "ONLINE"
	case IndexFailed:
		return "FAILED"
	}
	return "UNKNOWN"
}

// IndexDescriptor is the immutable identity of an index.
type IndexDescriptor struct {
	ID     int64
	Name   string
	Schema Descriptor
	Type   IndexType
	// Unique is set on indexes backing a uniqueness constraint.
	Unique bool
	// OwningConstraint is the id of the constraint owning a unique index,
	// or zero.
	OwningConstraint int64
}

// NoIndex is the sentinel descriptor meaning "not found / not validated".
var NoIndex = IndexDescriptor{ID: -1, Name: "<no index>"}

// IsNoIndex reports whether d is the NoIndex sentinel.
func (d IndexDescriptor) IsNoIndex() bool {
	return d.ID == NoIndex.ID
}

// SupportsOrdering reports whether the index can return entries in value
// order. Relationship value indexes cannot.
func (d IndexDescriptor) SupportsOrdering() bool {
	return d.Type == IndexTypeRange && d.Schema.EntityType == Node
}

func (d IndexDescriptor) String() string {
	u := ""
	if d.Unique {
		u = " UNIQUE"
	}
	return fmt.Sprintf("Index(id=%d, name='%s', type=%s%s, schema=%s)", d.ID, d.Name, d.Type, u, d.Schema)
}

// ConstraintType is the kind of a constraint.
type ConstraintType uint8

const (
	ConstraintUniqueness ConstraintType = iota + 1
)

// ConstraintDescriptor is the immutable identity of a constraint.
type ConstraintDescriptor struct {
	ID     int64
	Name   string
	Schema Descriptor
	Type   ConstraintType
	// OwnedIndex is the id of the index enforcing the constraint.
	OwnedIndex int64
}

func (c ConstraintDescriptor) String() string {
	return fmt.Sprintf("Constraint(id=%d, name='%s', schema=%s)", c.ID, c.Name, c.Schema)
}

// SortTokens sorts tokens ascending in place and returns them.
func SortTokens(tokens []int32) []int32 {
	slices.Sort(tokens)
	return tokens
}
