// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0

// Package security decides what a principal may traverse, read, write and
// execute. Cursors consult an AccessMode per entity unless it allows blanket
// traversal, in which case the check is skipped.
package security

import (
	"fmt"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/featurebasedb/graphkernel/errors"
	"github.com/featurebasedb/graphkernel/schema"
	"github.com/featurebasedb/graphkernel/values"
)

// PropertyLookup is a one-shot property read used for security decisions.
// It must not disturb any cursor.
type PropertyLookup func(key int32) (values.Value, bool)

// AccessMode is the set of permissions of a principal.
type AccessMode interface {
	Name() string

	AllowsWrites() bool
	AllowsSchemaWrites() bool

	// AllowsTraverseAllLabels reports whether every node is visible.
	AllowsTraverseAllLabels() bool
	// AllowsTraverseAllNodesWithLabel reports whether every node carrying
	// label is visible. AnyToken means every node.
	AllowsTraverseAllNodesWithLabel(label int32) bool
	// DisallowsTraverseLabel reports whether no node carrying label is
	// visible.
	DisallowsTraverseLabel(label int32) bool
	// AllowsTraverseNode decides the visibility of one node. lookup is
	// only called for property based rules.
	AllowsTraverseNode(labels []int32, lookup PropertyLookup) bool

	AllowsTraverseAllRelTypes() bool
	AllowsTraverseRelType(relType int32) bool

	AllowsReadAllProperties() bool
	AllowsReadNodeProperty(labels []int32, key int32) bool
	AllowsReadRelationshipProperty(relType int32, key int32) bool

	AllowsExecuteProcedure(id int64) bool
	// ShouldBoostProcedure reports whether the procedure runs with full
	// access.
	ShouldBoostProcedure(id int64) bool
}

// CheckWrite returns an authorization error unless m allows writes.
func CheckWrite(m AccessMode) error {
	if !m.AllowsWrites() {
		return errors.NewAuthorizationError(m.Name(), "write")
	}
	return nil
}

// CheckSchemaWrite returns an authorization error unless m allows schema
// writes.
func CheckSchemaWrite(m AccessMode) error {
	if !m.AllowsSchemaWrites() {
		return errors.NewAuthorizationError(m.Name(), "schema write")
	}
	return nil
}

// static is a mode that either allows or denies everything of a kind.
type static struct {
	name   string
	write  bool
	schema bool
}

var (
	// Full allows everything.
	Full AccessMode = static{name: "full", write: true, schema: true}
	// ReadOnly allows every read but no writes.
	ReadOnly AccessMode = static{name: "read-only"}
	// WriteOnly allows reads and data writes but no schema writes.
	WriteOnly AccessMode = static{name: "write", write: true}
)

func (s static) Name() string                                   { return s.name }
func (s static) AllowsWrites() bool                             { return s.write }
func (s static) AllowsSchemaWrites() bool                       { return s.schema }
func (static) AllowsTraverseAllLabels() bool                    { return true }
func (static) AllowsTraverseAllNodesWithLabel(int32) bool       { return true }
func (static) DisallowsTraverseLabel(int32) bool                { return false }
func (static) AllowsTraverseNode([]int32, PropertyLookup) bool  { return true }
func (static) AllowsTraverseAllRelTypes() bool                  { return true }
func (static) AllowsTraverseRelType(int32) bool                 { return true }
func (static) AllowsReadAllProperties() bool                    { return true }
func (static) AllowsReadNodeProperty([]int32, int32) bool       { return true }
func (static) AllowsReadRelationshipProperty(int32, int32) bool { return true }
func (static) AllowsExecuteProcedure(int64) bool                { return true }
func (static) ShouldBoostProcedure(int64) bool                  { return false }

// tokenSet is a set of label, relationship type or property key ids.
type tokenSet struct{ bm *roaring.Bitmap }

func (s *tokenSet) add(ids ...int32) {
	if s.bm == nil {
		s.bm = roaring.New()
	}
	for _, id := range ids {
		s.bm.Add(uint32(id))
	}
}

func (s tokenSet) has(id int32) bool {
	return id >= 0 && s.bm != nil && s.bm.Contains(uint32(id))
}

func (s tokenSet) empty() bool { return s.bm == nil || s.bm.IsEmpty() }

func (s tokenSet) any(ids []int32) bool {
	for _, id := range ids {
		if s.has(id) {
			return true
		}
	}
	return false
}

// PropertyRule hides nodes with Label whose property Key equals Value.
type PropertyRule struct {
	Label int32
	Key   int32
	Value values.Value
}

func (r PropertyRule) String() string {
	return fmt.Sprintf("DENY TRAVERSE :%d WHERE %d = %s", r.Label, r.Key, r.Value)
}

// Restricted is a mode built from grants and denies. Denies win over grants.
// The zero value allows nothing.
type Restricted struct {
	principal string
	write     bool
	schema    bool

	traverseAllLabels bool
	traverseLabels    tokenSet
	denyLabels        tokenSet
	rules             []PropertyRule

	traverseAllTypes bool
	traverseTypes    tokenSet
	denyTypes        tokenSet

	readAll       bool
	readKeys      tokenSet
	denyReadKeys  tokenSet
	denyReadLabel map[[2]int32]struct{}

	execute tokenSet
	boost   tokenSet
}

// NewRestricted returns a mode for principal with no permissions.
func NewRestricted(principal string) *Restricted {
	return &Restricted{principal: principal}
}

func (r *Restricted) GrantWrite() *Restricted       { r.write = true; return r }
func (r *Restricted) GrantSchemaWrite() *Restricted { r.schema = true; return r }

func (r *Restricted) GrantTraverseAllLabels() *Restricted { r.traverseAllLabels = true; return r }
func (r *Restricted) GrantTraverseLabels(labels ...int32) *Restricted {
	r.traverseLabels.add(labels...)
	return r
}
func (r *Restricted) DenyTraverseLabels(labels ...int32) *Restricted {
	r.denyLabels.add(labels...)
	return r
}

// DenyTraverseWhere hides nodes with label whose property key equals v.
func (r *Restricted) DenyTraverseWhere(label, key int32, v values.Value) *Restricted {
	r.rules = append(r.rules, PropertyRule{Label: label, Key: key, Value: v})
	return r
}

func (r *Restricted) GrantTraverseAllRelTypes() *Restricted { r.traverseAllTypes = true; return r }
func (r *Restricted) GrantTraverseRelTypes(types ...int32) *Restricted {
	r.traverseTypes.add(types...)
	return r
}
func (r *Restricted) DenyTraverseRelTypes(types ...int32) *Restricted {
	r.denyTypes.add(types...)
	return r
}

func (r *Restricted) GrantReadAll() *Restricted { r.readAll = true; return r }
func (r *Restricted) GrantRead(keys ...int32) *Restricted {
	r.readKeys.add(keys...)
	return r
}
func (r *Restricted) DenyRead(keys ...int32) *Restricted {
	r.denyReadKeys.add(keys...)
	return r
}

// DenyReadOnLabel hides property key on nodes carrying label.
func (r *Restricted) DenyReadOnLabel(label, key int32) *Restricted {
	if r.denyReadLabel == nil {
		r.denyReadLabel = make(map[[2]int32]struct{})
	}
	r.denyReadLabel[[2]int32{label, key}] = struct{}{}
	return r
}

func (r *Restricted) GrantExecute(ids ...int64) *Restricted {
	for _, id := range ids {
		r.execute.add(int32(id))
	}
	return r
}

// GrantBoostedExecute lets the procedures run, and run with full access.
func (r *Restricted) GrantBoostedExecute(ids ...int64) *Restricted {
	for _, id := range ids {
		r.execute.add(int32(id))
		r.boost.add(int32(id))
	}
	return r
}

func (r *Restricted) Name() string             { return r.principal }
func (r *Restricted) AllowsWrites() bool       { return r.write }
func (r *Restricted) AllowsSchemaWrites() bool { return r.schema }

func (r *Restricted) AllowsTraverseAllLabels() bool {
	return r.traverseAllLabels && r.denyLabels.empty() && len(r.rules) == 0
}

func (r *Restricted) AllowsTraverseAllNodesWithLabel(label int32) bool {
	if label == schema.AnyToken {
		return r.AllowsTraverseAllLabels()
	}
	if !r.denyLabels.empty() || len(r.rules) > 0 {
		return false
	}
	return r.traverseAllLabels || r.traverseLabels.has(label)
}

func (r *Restricted) DisallowsTraverseLabel(label int32) bool {
	if label == schema.AnyToken {
		return !r.traverseAllLabels && r.traverseLabels.empty()
	}
	return r.denyLabels.has(label) || (!r.traverseAllLabels && !r.traverseLabels.has(label))
}

func (r *Restricted) AllowsTraverseNode(labels []int32, lookup PropertyLookup) bool {
	if r.denyLabels.any(labels) {
		return false
	}
	if !r.traverseAllLabels && !r.traverseLabels.any(labels) {
		return false
	}
	for _, rule := range r.rules {
		if !containsToken(labels, rule.Label) {
			continue
		}
		if v, ok := lookup(rule.Key); ok && values.Compare(v, rule.Value) == 0 {
			return false
		}
	}
	return true
}

func (r *Restricted) AllowsTraverseAllRelTypes() bool {
	return r.traverseAllTypes && r.denyTypes.empty()
}

func (r *Restricted) AllowsTraverseRelType(relType int32) bool {
	if relType == schema.AnyToken {
		return r.AllowsTraverseAllRelTypes()
	}
	return !r.denyTypes.has(relType) && (r.traverseAllTypes || r.traverseTypes.has(relType))
}

func (r *Restricted) AllowsReadAllProperties() bool {
	return r.readAll && r.denyReadKeys.empty() && len(r.denyReadLabel) == 0
}

func (r *Restricted) allowsRead(key int32) bool {
	return !r.denyReadKeys.has(key) && (r.readAll || r.readKeys.has(key))
}

func (r *Restricted) AllowsReadNodeProperty(labels []int32, key int32) bool {
	if !r.allowsRead(key) {
		return false
	}
	for _, l := range labels {
		if _, ok := r.denyReadLabel[[2]int32{l, key}]; ok {
			return false
		}
	}
	return true
}

func (r *Restricted) AllowsReadRelationshipProperty(_ int32, key int32) bool {
	return r.allowsRead(key)
}

func (r *Restricted) AllowsExecuteProcedure(id int64) bool { return r.execute.has(int32(id)) }
func (r *Restricted) ShouldBoostProcedure(id int64) bool   { return r.boost.has(int32(id)) }

func containsToken(tokens []int32, t int32) bool {
	for _, x := range tokens {
		if x == t {
			return true
		}
	}
	return false
}

// Overridden is the mode a boosted procedure runs with: the permissions of
// Override under the name of Original.
type Overridden struct {
	Original AccessMode
	Override AccessMode
}

// Override returns the mode used while executing procedure id under m.
func Override(m AccessMode, id int64) AccessMode {
	if !m.ShouldBoostProcedure(id) {
		return m
	}
	return &Overridden{Original: m, Override: Full}
}

func (o *Overridden) Name() string {
	return fmt.Sprintf("%s overridden by %s", o.Original.Name(), o.Override.Name())
}
func (o *Overridden) AllowsWrites() bool            { return o.Override.AllowsWrites() }
func (o *Overridden) AllowsSchemaWrites() bool      { return o.Override.AllowsSchemaWrites() }
func (o *Overridden) AllowsTraverseAllLabels() bool { return o.Override.AllowsTraverseAllLabels() }
func (o *Overridden) AllowsTraverseAllNodesWithLabel(label int32) bool {
	return o.Override.AllowsTraverseAllNodesWithLabel(label)
}
func (o *Overridden) DisallowsTraverseLabel(label int32) bool {
	return o.Override.DisallowsTraverseLabel(label)
}
func (o *Overridden) AllowsTraverseNode(labels []int32, lookup PropertyLookup) bool {
	return o.Override.AllowsTraverseNode(labels, lookup)
}
func (o *Overridden) AllowsTraverseAllRelTypes() bool { return o.Override.AllowsTraverseAllRelTypes() }
func (o *Overridden) AllowsTraverseRelType(relType int32) bool {
	return o.Override.AllowsTraverseRelType(relType)
}
func (o *Overridden) AllowsReadAllProperties() bool { return o.Override.AllowsReadAllProperties() }
func (o *Overridden) AllowsReadNodeProperty(labels []int32, key int32) bool {
	return o.Override.AllowsReadNodeProperty(labels, key)
}
func (o *Overridden) AllowsReadRelationshipProperty(relType, key int32) bool {
	return o.Override.AllowsReadRelationshipProperty(relType, key)
}
func (o *Overridden) AllowsExecuteProcedure(id int64) bool {
	return o.Override.AllowsExecuteProcedure(id)
}
func (o *Overridden) ShouldBoostProcedure(id int64) bool { return false }
