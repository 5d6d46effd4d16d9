// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package kernel

import (
	"github.com/featurebasedb/graphkernel/errors"
	"github.com/featurebasedb/graphkernel/locks"
	"github.com/featurebasedb/graphkernel/schema"
	"github.com/featurebasedb/graphkernel/security"
	"github.com/featurebasedb/graphkernel/storage"
	"github.com/featurebasedb/graphkernel/values"
	"golang.org/x/exp/slices"
)

// checkWrite verifies that the transaction may change data.
func (tx *Tx) checkWrite() error {
	if err := tx.assertOpen(); err != nil {
		return err
	}
	if err := security.CheckWrite(tx.mode); err != nil {
		return err
	}
	if tx.state.HasSchemaChanges() {
		return errors.New(errors.ErrSchemaAndDataMixed, "cannot change data in a transaction that changed the schema")
	}
	return nil
}

func entityNotFound(kind string, id int64) error {
	return errors.Newf(errors.ErrEntityNotFound, "%s %d does not exist", kind, id)
}

// NodeCreate creates a node without labels and returns its id.
func (tx *Tx) NodeCreate() (int64, error) {
	if err := tx.checkWrite(); err != nil {
		return 0, err
	}
	id := tx.engine.store.NextNodeID()
	if err := tx.acquire(locks.Exclusive, locks.Node, id); err != nil {
		return 0, err
	}
	tx.state.NodeDoCreate(id)
	return id, nil
}

// NodeCreateWithLabels creates a node carrying labels and returns its id.
func (tx *Tx) NodeCreateWithLabels(labels ...int32) (int64, error) {
	id, err := tx.NodeCreate()
	if err != nil {
		return 0, err
	}
	for _, l := range dedupTokens(labels) {
		if _, err := tx.NodeAddLabel(id, l); err != nil {
			return 0, err
		}
	}
	return id, nil
}

func dedupTokens(ts []int32) []int32 {
	out := append([]int32(nil), ts...)
	slices.Sort(out)
	n := 0
	for i, t := range out {
		if i > 0 && t == out[n-1] {
			continue
		}
		out[n] = t
		n++
	}
	return out[:n]
}

// lockNode takes the exclusive lock on node and returns its labels.
func (tx *Tx) lockNode(node int64) ([]int32, error) {
	if err := tx.acquire(locks.Exclusive, locks.Node, node); err != nil {
		return nil, err
	}
	labels, ok, err := tx.nodeLabels(node)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, entityNotFound("node", node)
	}
	return labels, nil
}

// NodeDelete deletes a node without relationships. It reports false if the
// node did not exist.
func (tx *Tx) NodeDelete(node int64) (bool, error) {
	if err := tx.checkWrite(); err != nil {
		return false, err
	}
	labels, err := tx.lockNode(node)
	if errors.Is(err, errors.ErrEntityNotFound) {
		return false, nil
	} else if err != nil {
		return false, err
	}
	degree, err := tx.rawDegree(node)
	if err != nil {
		return false, err
	}
	if degree > 0 {
		return false, errors.Newf(errors.ErrNodeHasRelationships, "node %d still has %d relationships", node, degree)
	}
	return true, tx.deleteNode(node, labels)
}

func (tx *Tx) deleteNode(node int64, labels []int32) error {
	if err := tx.indexNodeDeleted(node, labels); err != nil {
		return err
	}
	var stored []int32
	if !tx.state.NodeIsAddedInThisTx(node) {
		rec, ok, err := tx.reader.Node(node)
		if err != nil {
			return err
		}
		if !ok {
			return errors.Newf(errors.ErrInternalInconsistency, "committed node %d vanished", node)
		}
		stored = rec.Labels
	}
	tx.state.NodeDoDelete(node, stored)
	return nil
}

// rawDegree counts every relationship of node the transaction sees,
// ignoring the access mode.
func (tx *Tx) rawDegree(node int64) (int64, error) {
	var n int64
	if !tx.state.NodeIsAddedInThisTx(node) {
		rec, ok, err := tx.reader.Node(node)
		if err != nil {
			return 0, err
		}
		if ok {
			if n, err = storeDegree(tx.reader, node, rec.Dense, schema.AnyToken, storage.Both); err != nil {
				return 0, err
			}
		}
	}
	return n + tx.state.NodeState(node).DegreeDelta(schema.AnyToken, storage.Both), nil
}

// NodeDetachDelete deletes a node together with its relationships and
// returns the number of relationships deleted.
func (tx *Tx) NodeDetachDelete(node int64) (int, error) {
	if err := tx.checkWrite(); err != nil {
		return 0, err
	}
	labels, err := tx.lockNode(node)
	if errors.Is(err, errors.ErrEntityNotFound) {
		return 0, nil
	} else if err != nil {
		return 0, err
	}

	var rels []storage.RelationshipRecord
	if !tx.state.NodeIsAddedInThisTx(node) {
		it := tx.reader.RelationshipChain(node, storage.NoID)
		for it.Next() {
			if rel := it.Relationship(); !tx.state.RelationshipIsDeletedInThisTx(rel.ID) {
				rels = append(rels, rel)
			}
		}
		err := it.Err()
		it.Close()
		if err != nil {
			return 0, err
		}
	}
	for _, id := range tx.state.NodeState(node).AddedRelationships(schema.AnyToken, storage.Both) {
		rels = append(rels, tx.state.RelationshipState(id).Record(id))
	}
	for _, rel := range rels {
		if err := tx.deleteRelationship(rel); err != nil {
			return 0, err
		}
	}
	return len(rels), tx.deleteNode(node, labels)
}

// RelationshipCreate creates a relationship of relType from source to
// target and returns its id.
func (tx *Tx) RelationshipCreate(relType int32, source, target int64) (int64, error) {
	if err := tx.checkWrite(); err != nil {
		return 0, err
	}
	if err := tx.acquire(locks.Shared, locks.RelationshipType, int64(relType)); err != nil {
		return 0, err
	}
	// Endpoints are locked in ascending id order.
	if err := tx.acquire(locks.Exclusive, locks.Node, source, target); err != nil {
		return 0, err
	}
	for _, n := range []int64{source, target} {
		if _, ok, err := tx.nodeLabels(n); err != nil {
			return 0, err
		} else if !ok {
			return 0, entityNotFound("node", n)
		}
	}
	id := tx.engine.store.NextRelationshipID()
	if err := tx.acquire(locks.Exclusive, locks.Relationship, id); err != nil {
		return 0, err
	}
	tx.state.RelationshipDoCreate(id, relType, source, target)
	return id, nil
}

// RelationshipDelete deletes relationship id. It reports false if the
// relationship did not exist.
func (tx *Tx) RelationshipDelete(id int64) (bool, error) {
	if err := tx.checkWrite(); err != nil {
		return false, err
	}
	if err := tx.acquire(locks.Exclusive, locks.Relationship, id); err != nil {
		return false, err
	}
	rel, ok, err := tx.relationship(id)
	if err != nil || !ok {
		return false, err
	}
	return true, tx.deleteRelationship(rel)
}

func (tx *Tx) deleteRelationship(rel storage.RelationshipRecord) error {
	if err := tx.acquire(locks.Exclusive, locks.Relationship, rel.ID); err != nil {
		return err
	}
	if err := tx.acquire(locks.Exclusive, locks.Node, rel.Source, rel.Target); err != nil {
		return err
	}
	if err := tx.indexRelationshipDeleted(rel.ID, rel.Type); err != nil {
		return err
	}
	tx.state.RelationshipDoDelete(rel.ID, rel.Type, rel.Source, rel.Target)
	return nil
}

func hasToken(ts []int32, t int32) bool {
	for _, x := range ts {
		if x == t {
			return true
		}
	}
	return false
}

// NodeAddLabel adds label to node. It reports false if the node already
// had it.
func (tx *Tx) NodeAddLabel(node int64, label int32) (bool, error) {
	if err := tx.checkWrite(); err != nil {
		return false, err
	}
	if err := tx.acquire(locks.Shared, locks.Label, int64(label)); err != nil {
		return false, err
	}
	labels, err := tx.lockNode(node)
	if err != nil {
		return false, err
	}
	if hasToken(labels, label) {
		return false, nil
	}
	if err := tx.indexLabelAdded(node, label); err != nil {
		return false, err
	}
	tx.state.NodeDoAddLabel(label, node)
	return true, nil
}

// NodeRemoveLabel removes label from node. It reports false if the node
// did not have it.
func (tx *Tx) NodeRemoveLabel(node int64, label int32) (bool, error) {
	if err := tx.checkWrite(); err != nil {
		return false, err
	}
	if err := tx.acquire(locks.Shared, locks.Label, int64(label)); err != nil {
		return false, err
	}
	labels, err := tx.lockNode(node)
	if err != nil {
		return false, err
	}
	if !hasToken(labels, label) {
		return false, nil
	}
	if err := tx.indexLabelRemoved(node, label); err != nil {
		return false, err
	}
	tx.state.NodeDoRemoveLabel(label, node)
	return true, nil
}

// NodeSetProperty sets key to v on node and returns the previous value, or
// values.NoValue. Setting values.NoValue removes the property.
func (tx *Tx) NodeSetProperty(node int64, key int32, v values.Value) (values.Value, error) {
	if err := tx.checkWrite(); err != nil {
		return nil, err
	}
	if v == nil {
		v = values.NoValue
	}
	labels, err := tx.lockNode(node)
	if err != nil {
		return nil, err
	}
	before, _, err := tx.nodeProperty(node, key)
	if err != nil {
		return nil, err
	}
	if before.Equals(v) {
		return before, nil
	}
	if err := tx.indexNodePropertyChanged(node, labels, key, before, v); err != nil {
		return nil, err
	}
	inStore := false
	if !tx.state.NodeIsAddedInThisTx(node) {
		if _, inStore, err = tx.reader.NodeProperty(node, key); err != nil {
			return nil, err
		}
	}
	if v.Group() == values.GroupNoValue {
		tx.state.NodeDoRemoveProperty(node, key, inStore)
	} else {
		tx.state.NodeDoSetProperty(node, key, v, inStore)
	}
	return before, nil
}

// NodeRemoveProperty removes key from node and returns the removed value,
// or values.NoValue.
func (tx *Tx) NodeRemoveProperty(node int64, key int32) (values.Value, error) {
	return tx.NodeSetProperty(node, key, values.NoValue)
}

// RelationshipSetProperty sets key to v on relationship id and returns the
// previous value, or values.NoValue.
func (tx *Tx) RelationshipSetProperty(id int64, key int32, v values.Value) (values.Value, error) {
	if err := tx.checkWrite(); err != nil {
		return nil, err
	}
	if v == nil {
		v = values.NoValue
	}
	if err := tx.acquire(locks.Exclusive, locks.Relationship, id); err != nil {
		return nil, err
	}
	rel, ok, err := tx.relationship(id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, entityNotFound("relationship", id)
	}
	before, _, err := tx.relationshipProperty(id, key)
	if err != nil {
		return nil, err
	}
	if before.Equals(v) {
		return before, nil
	}
	if err := tx.indexRelationshipPropertyChanged(id, rel.Type, key, before, v); err != nil {
		return nil, err
	}
	inStore := false
	if !tx.state.RelationshipIsAddedInThisTx(id) {
		if _, inStore, err = tx.reader.RelationshipProperty(id, key); err != nil {
			return nil, err
		}
	}
	if v.Group() == values.GroupNoValue {
		tx.state.RelationshipDoRemoveProperty(id, key, inStore)
	} else {
		tx.state.RelationshipDoSetProperty(id, key, v, inStore)
	}
	return before, nil
}

// RelationshipRemoveProperty removes key from relationship id.
func (tx *Tx) RelationshipRemoveProperty(id int64, key int32) (values.Value, error) {
	return tx.RelationshipSetProperty(id, key, values.NoValue)
}
