// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package txstate

import (
	"github.com/featurebasedb/graphkernel/errors"
	"github.com/featurebasedb/graphkernel/storage"
)

// Ensure type implements interface.
var _ storage.Changeset = (*TxState)(nil)

// StoredLabels returns the committed labels of a node deleted in the
// transaction.
func (s *TxState) StoredLabels(id int64) []int32 {
	if n := s.nodeStates[id]; n != nil {
		return n.storedLabels
	}
	return nil
}

// Accept replays the transaction through v in the order documented on
// storage.Visitor. It stops at the first error.
func (s *TxState) Accept(v storage.Visitor) error {
	for _, d := range s.RemovedConstraints() {
		if err := v.VisitRemovedConstraint(d); err != nil {
			return err
		}
	}
	for _, d := range s.RemovedIndexes() {
		if err := v.VisitRemovedIndex(d); err != nil {
			return err
		}
	}
	for _, d := range s.AddedIndexes() {
		if err := v.VisitAddedIndex(d); err != nil {
			return err
		}
	}
	for _, d := range s.AddedConstraints() {
		if err := v.VisitAddedConstraint(d); err != nil {
			return err
		}
	}

	for _, id := range s.AddedNodes() {
		if err := v.VisitCreatedNode(id); err != nil {
			return err
		}
	}
	changedNodes := s.ChangedNodes()
	for _, id := range changedNodes {
		if s.nodes.IsRemoved(id) {
			continue
		}
		n := s.nodeStates[id]
		if !n.labels.isEmpty() {
			if err := v.VisitNodeLabelChanges(id, n.AddedLabels(), n.RemovedLabels()); err != nil {
				return err
			}
		}
	}
	for _, id := range changedNodes {
		if s.nodes.IsRemoved(id) {
			continue
		}
		if p := s.nodeStates[id].props; !p.IsEmpty() {
			if err := v.VisitNodePropertyChanges(id, p.Added(), p.Changed(), p.Removed()); err != nil {
				return err
			}
		}
	}

	for _, id := range s.AddedRelationships() {
		r := s.relStates[id]
		if r == nil {
			return errors.Newf(errors.ErrInternalInconsistency, "created relationship %d has no state", id)
		}
		if err := v.VisitCreatedRelationship(id, r.Type, r.Source, r.Target); err != nil {
			return err
		}
	}
	for _, id := range s.ChangedRelationships() {
		if s.relationships.IsRemoved(id) {
			continue
		}
		if p := s.relStates[id].props; !p.IsEmpty() {
			if err := v.VisitRelationshipPropertyChanges(id, p.Added(), p.Changed(), p.Removed()); err != nil {
				return err
			}
		}
	}
	for _, id := range s.DeletedRelationships() {
		r := s.relStates[id]
		if r == nil {
			return errors.Newf(errors.ErrInternalInconsistency, "deleted relationship %d has no state", id)
		}
		if err := v.VisitDeletedRelationship(id, r.Type, r.Source, r.Target); err != nil {
			return err
		}
	}
	for _, id := range s.DeletedNodes() {
		if err := v.VisitDeletedNode(id, s.StoredLabels(id)); err != nil {
			return err
		}
	}

	for _, key := range s.indexSchemaKeys() {
		u := s.indexUpdates[key]
		var err error
		u.entries.Scan(func(e *indexEntry) bool {
			if e.ids.IsEmpty() {
				return true
			}
			err = v.VisitValueIndexUpdate(u.schema, e.tuple, e.ids.Added(), e.ids.Removed())
			return err == nil
		})
		if err != nil {
			return err
		}
	}
	return nil
}
