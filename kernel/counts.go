// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package kernel

import (
	"github.com/featurebasedb/graphkernel/errors"
	"github.com/featurebasedb/graphkernel/metrics"
	"github.com/featurebasedb/graphkernel/schema"
	"github.com/featurebasedb/graphkernel/storage"
)

// Count strategies as reported in metrics.
const (
	strategyStore   = "store"
	strategyTxDelta = "tx_delta"
	strategyScan    = "scan"
)

// relationshipCountsKeys returns every counter a relationship of relType
// between nodes with the given labels contributes to.
func relationshipCountsKeys(start []int32, relType int32, end []int32) []storage.CountsKey {
	starts := append([]int32{schema.AnyToken}, start...)
	ends := append([]int32{schema.AnyToken}, end...)
	types := []int32{relType, schema.AnyToken}
	keys := make([]storage.CountsKey, 0, len(starts)*len(types)*len(ends))
	for _, s := range starts {
		for _, t := range types {
			for _, e := range ends {
				keys = append(keys, storage.RelationshipCountsKey(s, t, e))
			}
		}
	}
	return keys
}

// countsDelta computes the adjustments the transaction makes to the
// durable counters.
func (tx *Tx) countsDelta() (storage.CountsDelta, error) {
	delta := make(storage.CountsDelta)
	add := func(keys []storage.CountsKey, n int64) {
		for _, k := range keys {
			delta[k] += n
		}
	}
	anyNode := storage.NodeCountsKey(schema.AnyToken)

	for _, id := range tx.state.AddedNodes() {
		delta[anyNode]++
		for _, l := range tx.state.NodeState(id).AddedLabels() {
			delta[storage.NodeCountsKey(l)]++
		}
	}
	for _, id := range tx.state.DeletedNodes() {
		delta[anyNode]--
		for _, l := range tx.state.StoredLabels(id) {
			delta[storage.NodeCountsKey(l)]--
		}
	}

	// labelChanged holds the surviving committed nodes whose labels changed.
	var labelChanged []int64
	for _, id := range tx.state.ChangedNodes() {
		if tx.state.NodeIsAddedInThisTx(id) || tx.state.NodeIsDeletedInThisTx(id) {
			continue
		}
		ns := tx.state.NodeState(id)
		added, removed := ns.AddedLabels(), ns.RemovedLabels()
		if len(added) == 0 && len(removed) == 0 {
			continue
		}
		for _, l := range added {
			delta[storage.NodeCountsKey(l)]++
		}
		for _, l := range removed {
			delta[storage.NodeCountsKey(l)]--
		}
		labelChanged = append(labelChanged, id)
	}

	for _, id := range tx.state.AddedRelationships() {
		rel := tx.state.RelationshipState(id).Record(id)
		start, err := tx.currentLabels(rel.Source)
		if err != nil {
			return nil, err
		}
		end, err := tx.currentLabels(rel.Target)
		if err != nil {
			return nil, err
		}
		add(relationshipCountsKeys(start, rel.Type, end), 1)
	}
	for _, id := range tx.state.DeletedRelationships() {
		rel := tx.state.RelationshipState(id).Record(id)
		start, err := tx.storedLabels(rel.Source)
		if err != nil {
			return nil, err
		}
		end, err := tx.storedLabels(rel.Target)
		if err != nil {
			return nil, err
		}
		add(relationshipCountsKeys(start, rel.Type, end), -1)
	}

	// Committed relationships that survive move between counters when the
	// labels of an endpoint change.
	seen := make(map[int64]struct{})
	for _, node := range labelChanged {
		it := tx.reader.RelationshipChain(node, storage.NoID)
		for it.Next() {
			rel := it.Relationship()
			if _, ok := seen[rel.ID]; ok || tx.state.RelationshipIsDeletedInThisTx(rel.ID) {
				continue
			}
			seen[rel.ID] = struct{}{}
			if err := tx.moveRelationshipCounts(delta, rel); err != nil {
				it.Close()
				return nil, err
			}
		}
		err := it.Err()
		it.Close()
		if err != nil {
			return nil, err
		}
	}

	for k, n := range delta {
		if n == 0 {
			delete(delta, k)
		}
	}
	return delta, nil
}

func (tx *Tx) moveRelationshipCounts(delta storage.CountsDelta, rel storage.RelationshipRecord) error {
	storedStart, err := tx.storedLabels(rel.Source)
	if err != nil {
		return err
	}
	storedEnd, err := tx.storedLabels(rel.Target)
	if err != nil {
		return err
	}
	start, err := tx.currentLabels(rel.Source)
	if err != nil {
		return err
	}
	end, err := tx.currentLabels(rel.Target)
	if err != nil {
		return err
	}
	for _, k := range relationshipCountsKeys(storedStart, rel.Type, storedEnd) {
		delta[k]--
	}
	for _, k := range relationshipCountsKeys(start, rel.Type, end) {
		delta[k]++
	}
	return nil
}

// currentLabels returns the labels node has for the transaction.
func (tx *Tx) currentLabels(node int64) ([]int32, error) {
	labels, ok, err := tx.nodeLabels(node)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errors.Newf(errors.ErrInternalInconsistency, "relationship endpoint %d does not exist", node)
	}
	return labels, nil
}

// storedLabels returns the committed labels of node.
func (tx *Tx) storedLabels(node int64) ([]int32, error) {
	if tx.state.NodeIsAddedInThisTx(node) {
		return nil, errors.Newf(errors.ErrInternalInconsistency, "node %d created in this transaction has no committed labels", node)
	}
	if tx.state.NodeIsDeletedInThisTx(node) {
		return tx.state.StoredLabels(node), nil
	}
	rec, ok, err := tx.reader.Node(node)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errors.Newf(errors.ErrInternalInconsistency, "committed relationship endpoint %d does not exist", node)
	}
	return rec.Labels, nil
}

// CountsForNode returns the number of nodes with label (schema.AnyToken for
// all) the transaction sees.
func (tx *Tx) CountsForNode(label int32) (int64, error) {
	if err := tx.assertOpen(); err != nil {
		return 0, err
	}
	switch {
	case label != schema.AnyToken && tx.mode.DisallowsTraverseLabel(label):
		metrics.CountStrategy.WithLabelValues("node", strategyTxDelta).Inc()
		delta, err := tx.countsDelta()
		if err != nil {
			return 0, err
		}
		return delta[storage.NodeCountsKey(label)], nil
	case tx.mode.AllowsTraverseAllNodesWithLabel(label) && !tx.engine.cfg.Counts.ScanBased:
		metrics.CountStrategy.WithLabelValues("node", strategyStore).Inc()
		delta, err := tx.countsDelta()
		if err != nil {
			return 0, err
		}
		return tx.reader.CountNodes(label) + delta[storage.NodeCountsKey(label)], nil
	}
	metrics.CountStrategy.WithLabelValues("node", strategyScan).Inc()
	return tx.countNodesByScan(label)
}

func (tx *Tx) countNodesByScan(label int32) (int64, error) {
	f := tx.Cursors()
	var n int64
	if label != schema.AnyToken && tx.tokenIndexOnline(schema.Node) {
		c := f.NodeLabelIndexCursor()
		defer c.Close()
		if err := tx.NodeLabelScan(label, c, OrderNone); err != nil {
			return 0, err
		}
		for c.Next() {
			n++
		}
		return n, c.Err()
	}
	c := f.NodeCursor()
	defer c.Close()
	if err := tx.AllNodesScan(c); err != nil {
		return 0, err
	}
	for c.Next() {
		if label == schema.AnyToken || c.HasLabel(label) {
			n++
		}
	}
	return n, c.Err()
}

// CountsForRelationship returns the number of relationships of relType
// from a node with label start to a node with label end the transaction
// sees. Any of the three may be schema.AnyToken.
func (tx *Tx) CountsForRelationship(start, relType, end int32) (int64, error) {
	if err := tx.assertOpen(); err != nil {
		return 0, err
	}
	key := storage.RelationshipCountsKey(start, relType, end)
	disallowed := (relType != schema.AnyToken && !tx.mode.AllowsTraverseRelType(relType)) ||
		(start != schema.AnyToken && tx.mode.DisallowsTraverseLabel(start)) ||
		(end != schema.AnyToken && tx.mode.DisallowsTraverseLabel(end))
	switch {
	case disallowed:
		metrics.CountStrategy.WithLabelValues("relationship", strategyTxDelta).Inc()
		delta, err := tx.countsDelta()
		if err != nil {
			return 0, err
		}
		return delta[key], nil
	case tx.mode.AllowsTraverseAllLabels() && tx.mode.AllowsTraverseRelType(relType) && !tx.engine.cfg.Counts.ScanBased:
		metrics.CountStrategy.WithLabelValues("relationship", strategyStore).Inc()
		delta, err := tx.countsDelta()
		if err != nil {
			return 0, err
		}
		return tx.reader.CountRelationships(start, relType, end) + delta[key], nil
	}
	metrics.CountStrategy.WithLabelValues("relationship", strategyScan).Inc()
	return tx.countRelationshipsByScan(start, relType, end)
}

func (tx *Tx) countRelationshipsByScan(start, relType, end int32) (int64, error) {
	f := tx.Cursors()
	rc := f.RelationshipScanCursor()
	defer rc.Close()

	var n int64
	count := func(rel storage.RelationshipRecord) error {
		if ok, err := tx.endpointHasLabel(rel.Source, start); err != nil || !ok {
			return err
		}
		if ok, err := tx.endpointHasLabel(rel.Target, end); err != nil || !ok {
			return err
		}
		n++
		return nil
	}

	if relType != schema.AnyToken && tx.tokenIndexOnline(schema.Relationship) {
		c := f.RelationshipTypeIndexCursor()
		defer c.Close()
		if err := tx.RelationshipTypeScan(relType, c, OrderNone); err != nil {
			return 0, err
		}
		for c.Next() {
			rel, ok, err := tx.relationship(c.RelationshipID())
			if err != nil {
				return 0, err
			} else if !ok {
				continue
			}
			if err := count(rel); err != nil {
				return 0, err
			}
		}
		return n, c.Err()
	}

	if err := tx.relationshipScan(relType, rc); err != nil {
		return 0, err
	}
	for rc.Next() {
		if err := count(rc.cur); err != nil {
			return 0, err
		}
	}
	return n, rc.Err()
}

func (tx *Tx) endpointHasLabel(node int64, label int32) (bool, error) {
	if label == schema.AnyToken {
		return true, nil
	}
	labels, ok, err := tx.nodeLabels(node)
	if err != nil || !ok {
		return false, err
	}
	for _, l := range labels {
		if l == label {
			return true, nil
		}
	}
	return false, nil
}

// tokenIndexOnline reports whether the lookup index of entityType can be
// read by the transaction.
func (tx *Tx) tokenIndexOnline(entityType schema.EntityType) bool {
	d := tx.engine.indexes.Schema().TokenLookupIndex(entityType)
	if d.IsNoIndex() || tx.state.IndexIsRemoved(d.ID) {
		return false
	}
	state, err := tx.engine.indexes.State(d.ID)
	return err == nil && state == schema.IndexOnline
}
