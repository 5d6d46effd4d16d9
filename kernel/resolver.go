// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package kernel

import (
	"github.com/featurebasedb/graphkernel/errors"
	"github.com/featurebasedb/graphkernel/security"
	"github.com/featurebasedb/graphkernel/storage"
	"github.com/featurebasedb/graphkernel/txstate"
	"github.com/featurebasedb/graphkernel/values"
	"golang.org/x/exp/slices"
)

// NodeExists reports whether node id is visible to the transaction.
func (tx *Tx) NodeExists(id int64) (bool, error) {
	if err := tx.assertOpen(); err != nil {
		return false, err
	}
	if tx.state.NodeIsDeletedInThisTx(id) {
		return false, nil
	}
	if tx.state.NodeIsAddedInThisTx(id) {
		return true, nil
	}
	if !tx.reader.NodeExists(id) {
		return false, nil
	}
	if tx.mode.AllowsTraverseAllLabels() {
		return true, nil
	}
	// The store knowing the node does not make it visible.
	labels, _, err := tx.nodeLabels(id)
	if err != nil {
		return false, err
	}
	return tx.nodeVisible(id, labels)
}

// NodeDeletedInTransaction reports whether the transaction deleted node id.
func (tx *Tx) NodeDeletedInTransaction(id int64) bool {
	return tx.state.NodeIsDeletedInThisTx(id)
}

// NodePropertyChangeInTransactionOrNull returns the value the transaction
// gave key on node id, NoValue if it removed key, or nil if it did not
// touch key.
func (tx *Tx) NodePropertyChangeInTransactionOrNull(id int64, key int32) values.Value {
	v, touched := tx.state.NodeState(id).Properties().Get(key)
	if !touched {
		return nil
	}
	return v
}

// RelationshipExists reports whether relationship id is visible to the
// transaction.
func (tx *Tx) RelationshipExists(id int64) (bool, error) {
	if err := tx.assertOpen(); err != nil {
		return false, err
	}
	rel, ok, err := tx.relationship(id)
	if err != nil || !ok {
		return false, err
	}
	return tx.relationshipVisible(rel)
}

func (tx *Tx) RelationshipDeletedInTransaction(id int64) bool {
	return tx.state.RelationshipIsDeletedInThisTx(id)
}

// RelationshipPropertyChangeInTransactionOrNull is the relationship
// counterpart of NodePropertyChangeInTransactionOrNull.
func (tx *Tx) RelationshipPropertyChangeInTransactionOrNull(id int64, key int32) values.Value {
	v, touched := tx.state.RelationshipState(id).Properties().Get(key)
	if !touched {
		return nil
	}
	return v
}

// nodeLabels returns the current labels of node id, ascending, ignoring
// security. ok is false if the node does not exist for the transaction.
func (tx *Tx) nodeLabels(id int64) (labels []int32, ok bool, err error) {
	if tx.state.NodeIsDeletedInThisTx(id) {
		return nil, false, nil
	}
	ns := tx.state.NodeState(id)
	if tx.state.NodeIsAddedInThisTx(id) {
		return ns.AddedLabels(), true, nil
	}
	rec, ok, err := tx.reader.Node(id)
	if err != nil || !ok {
		return nil, false, err
	}
	return mergeLabels(rec.Labels, ns), true, nil
}

// mergeLabels applies the label diff of ns to stored labels.
func mergeLabels(stored []int32, ns *txstate.NodeState) []int32 {
	added := ns.AddedLabels()
	out := make([]int32, 0, len(stored)+len(added))
	for _, l := range stored {
		if !ns.IsLabelRemoved(l) {
			out = append(out, l)
		}
	}
	if len(added) == 0 {
		return out
	}
	out = append(out, added...)
	slices.Sort(out)
	return out
}

// nodeProperty is the one-shot lookup of a node property for the
// transaction. It does not involve any cursor and ignores security.
func (tx *Tx) nodeProperty(id int64, key int32) (values.Value, bool, error) {
	if v, touched := tx.state.NodeState(id).Properties().Get(key); touched {
		return v, v.Group() != values.GroupNoValue, nil
	}
	if tx.state.NodeIsAddedInThisTx(id) {
		return values.NoValue, false, nil
	}
	return tx.reader.NodeProperty(id, key)
}

func (tx *Tx) relationshipProperty(id int64, key int32) (values.Value, bool, error) {
	if v, touched := tx.state.RelationshipState(id).Properties().Get(key); touched {
		return v, v.Group() != values.GroupNoValue, nil
	}
	if tx.state.RelationshipIsAddedInThisTx(id) {
		return values.NoValue, false, nil
	}
	return tx.reader.RelationshipProperty(id, key)
}

// nodeVisible reports whether a node with labels may be traversed under the
// transaction's access mode.
func (tx *Tx) nodeVisible(id int64, labels []int32) (bool, error) {
	if tx.mode.AllowsTraverseAllLabels() {
		return true, nil
	}
	var lookupErr error
	lookup := security.PropertyLookup(func(key int32) (values.Value, bool) {
		v, ok, err := tx.nodeProperty(id, key)
		if err != nil {
			lookupErr = err
			return values.NoValue, false
		}
		return v, ok
	})
	ok := tx.mode.AllowsTraverseNode(labels, lookup)
	if lookupErr != nil {
		return false, errors.Wrapf(lookupErr, "checking traversal of node %d", id)
	}
	return ok, nil
}

// nodeVisibleByID loads the labels of node id and checks its visibility.
func (tx *Tx) nodeVisibleByID(id int64) (bool, error) {
	if tx.mode.AllowsTraverseAllLabels() {
		return !tx.state.NodeIsDeletedInThisTx(id), nil
	}
	labels, ok, err := tx.nodeLabels(id)
	if err != nil || !ok {
		return false, err
	}
	return tx.nodeVisible(id, labels)
}

// relationship returns relationship id as the transaction sees it,
// ignoring security.
func (tx *Tx) relationship(id int64) (storage.RelationshipRecord, bool, error) {
	if tx.state.RelationshipIsDeletedInThisTx(id) {
		return storage.RelationshipRecord{}, false, nil
	}
	if tx.state.RelationshipIsAddedInThisTx(id) {
		return tx.state.RelationshipState(id).Record(id), true, nil
	}
	return tx.reader.Relationship(id)
}

// relationshipVisible reports whether rel may be traversed: its type must be
// allowed and both of its endpoints visible.
func (tx *Tx) relationshipVisible(rel storage.RelationshipRecord) (bool, error) {
	if !tx.mode.AllowsTraverseRelType(rel.Type) {
		return false, nil
	}
	if tx.mode.AllowsTraverseAllLabels() {
		return true, nil
	}
	ok, err := tx.nodeVisibleByID(rel.Source)
	if err != nil || !ok {
		return false, err
	}
	if rel.Target == rel.Source {
		return true, nil
	}
	return tx.nodeVisibleByID(rel.Target)
}

// allowsReadNodeProperty reports whether key may be read on a node with
// labels.
func (tx *Tx) allowsReadNodeProperty(labels []int32, key int32) bool {
	return tx.mode.AllowsReadAllProperties() || tx.mode.AllowsReadNodeProperty(labels, key)
}

func (tx *Tx) allowsReadRelationshipProperty(relType, key int32) bool {
	return tx.mode.AllowsReadAllProperties() || tx.mode.AllowsReadRelationshipProperty(relType, key)
}
