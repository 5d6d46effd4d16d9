// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package kernel

import (
	"github.com/featurebasedb/graphkernel/errors"
	"github.com/featurebasedb/graphkernel/locks"
	"github.com/featurebasedb/graphkernel/schema"
	"github.com/featurebasedb/graphkernel/storage"
	"github.com/featurebasedb/graphkernel/txstate"
	"github.com/featurebasedb/graphkernel/values"
)

// entityValues materializes the properties of one entity for building the
// tuples of several indexes. The stored properties are read in one pass on
// the first key the transaction has not touched.
type entityValues struct {
	overlay func() *txstate.PropertyState
	// stored is nil for entities created in the transaction.
	stored func() storage.PropertyIterator
	cache  map[int32]values.Value
	loaded bool
}

func (v *entityValues) value(key int32) (values.Value, error) {
	if val, touched := v.overlay().Get(key); touched {
		return val, nil
	}
	if !v.loaded {
		if err := v.load(); err != nil {
			return nil, err
		}
	}
	if val, ok := v.cache[key]; ok {
		return val, nil
	}
	return values.NoValue, nil
}

func (v *entityValues) load() error {
	v.loaded = true
	if v.stored == nil {
		return nil
	}
	it := v.stored()
	defer it.Close()
	for it.Next() {
		p := it.Property()
		v.cache[p.Key] = p.Value
	}
	return errors.Wrap(it.Err(), "reading stored properties")
}

// tuple returns the values of sch's properties, or nil if any is missing.
// override, if set, replaces the value of one key.
func (v *entityValues) tuple(sch schema.Descriptor, key int32, override values.Value) (values.Tuple, error) {
	t := make(values.Tuple, len(sch.PropertyKeys))
	for i, k := range sch.PropertyKeys {
		var val values.Value
		if override != nil && k == key {
			val = override
		} else {
			var err error
			if val, err = v.value(k); err != nil {
				return nil, err
			}
		}
		if val == nil || val.Group() == values.GroupNoValue {
			return nil, nil
		}
		t[i] = val
	}
	return t, nil
}

func (tx *Tx) nodeValues(id int64) *entityValues {
	v := &entityValues{
		overlay: func() *txstate.PropertyState { return tx.state.NodeState(id).Properties() },
		cache:   make(map[int32]values.Value),
	}
	if !tx.state.NodeIsAddedInThisTx(id) {
		v.stored = func() storage.PropertyIterator { return tx.reader.NodeProperties(id) }
	}
	return v
}

func (tx *Tx) relationshipValues(id int64) *entityValues {
	v := &entityValues{
		overlay: func() *txstate.PropertyState { return tx.state.RelationshipState(id).Properties() },
		cache:   make(map[int32]values.Value),
	}
	if !tx.state.RelationshipIsAddedInThisTx(id) {
		v.stored = func() storage.PropertyIterator { return tx.reader.RelationshipProperties(id) }
	}
	return v
}

// liveIndexes drops the indexes the transaction dropped.
func (tx *Tx) liveIndexes(ds []schema.IndexDescriptor) []schema.IndexDescriptor {
	out := ds[:0]
	for _, d := range ds {
		if !tx.state.IndexIsRemoved(d.ID) {
			out = append(out, d)
		}
	}
	return out
}

// validateUnique checks that no entity other than id has tuple in the
// unique index d. It takes the exclusive lock on the entry, which is held
// until the transaction finishes.
func (tx *Tx) validateUnique(d schema.IndexDescriptor, id int64, tuple values.Tuple) error {
	lockID := locks.IndexEntryResourceID(d.Schema.EntityTokens[0], d.Schema.PropertyKeys, tuple)
	if err := tx.acquire(locks.Exclusive, locks.IndexEntry, lockID); err != nil {
		return err
	}
	other, found, err := tx.findEntry(d, tuple, id)
	if err != nil {
		return err
	}
	if found {
		return errors.NewUniquenessConflict(d.Name, other, tuple.String())
	}
	return nil
}

// updateEntry records one entry change of d for id, validating the new
// tuple of a unique index first.
func (tx *Tx) updateEntry(d schema.IndexDescriptor, id int64, before, after values.Tuple) error {
	if before == nil && after == nil {
		return nil
	}
	if before != nil && after != nil && before.Equals(after) {
		return nil
	}
	if d.Unique && after != nil {
		if err := tx.validateUnique(d, id, after); err != nil {
			return err
		}
	}
	tx.state.IndexDoUpdateEntry(d.Schema, id, before, after)
	return nil
}

// indexLabelAdded adds node to the indexes on label it now qualifies for.
func (tx *Tx) indexLabelAdded(node int64, label int32) error {
	related := tx.liveIndexes(tx.engine.indexes.Schema().RelatedToTokenChange(schema.Node, label))
	if len(related) == 0 {
		return nil
	}
	vals := tx.nodeValues(node)
	for _, d := range related {
		t, err := vals.tuple(d.Schema, 0, nil)
		if err != nil {
			return err
		}
		if err := tx.updateEntry(d, node, nil, t); err != nil {
			return err
		}
	}
	return nil
}

// indexLabelRemoved removes node from the indexes on label.
func (tx *Tx) indexLabelRemoved(node int64, label int32) error {
	related := tx.liveIndexes(tx.engine.indexes.Schema().RelatedToTokenChange(schema.Node, label))
	if len(related) == 0 {
		return nil
	}
	vals := tx.nodeValues(node)
	for _, d := range related {
		t, err := vals.tuple(d.Schema, 0, nil)
		if err != nil {
			return err
		}
		if err := tx.updateEntry(d, node, t, nil); err != nil {
			return err
		}
	}
	return nil
}

// indexNodePropertyChanged moves node between entries of the indexes on any
// of labels that include key. before and after are values.NoValue for an
// absent property. It must run before the change is recorded.
func (tx *Tx) indexNodePropertyChanged(node int64, labels []int32, key int32, before, after values.Value) error {
	related := tx.liveIndexes(tx.engine.indexes.Schema().RelatedToPropertyChange(schema.Node, labels, key))
	return tx.indexPropertyChanged(related, node, tx.nodeValues(node), key, before, after)
}

// indexRelationshipPropertyChanged is indexNodePropertyChanged for a
// relationship of relType.
func (tx *Tx) indexRelationshipPropertyChanged(rel int64, relType int32, key int32, before, after values.Value) error {
	related := tx.liveIndexes(tx.engine.indexes.Schema().RelatedToPropertyChange(schema.Relationship, []int32{relType}, key))
	return tx.indexPropertyChanged(related, rel, tx.relationshipValues(rel), key, before, after)
}

func (tx *Tx) indexPropertyChanged(related []schema.IndexDescriptor, id int64, vals *entityValues, key int32, before, after values.Value) error {
	for _, d := range related {
		bt, err := vals.tuple(d.Schema, key, before)
		if err != nil {
			return err
		}
		at, err := vals.tuple(d.Schema, key, after)
		if err != nil {
			return err
		}
		if err := tx.updateEntry(d, id, bt, at); err != nil {
			return err
		}
	}
	return nil
}

// indexNodeDeleted removes node from every index on its labels. It must
// run while the node's properties are still readable.
func (tx *Tx) indexNodeDeleted(node int64, labels []int32) error {
	c := tx.engine.indexes.Schema()
	vals := tx.nodeValues(node)
	seen := make(map[int64]struct{})
	for _, l := range labels {
		for _, d := range tx.liveIndexes(c.IndexesForToken(schema.Node, l)) {
			if _, ok := seen[d.ID]; ok {
				continue
			}
			seen[d.ID] = struct{}{}
			t, err := vals.tuple(d.Schema, 0, nil)
			if err != nil {
				return err
			}
			if err := tx.updateEntry(d, node, t, nil); err != nil {
				return err
			}
		}
	}
	return nil
}

// indexRelationshipDeleted removes rel from every index on relType.
func (tx *Tx) indexRelationshipDeleted(rel int64, relType int32) error {
	vals := tx.relationshipValues(rel)
	for _, d := range tx.liveIndexes(tx.engine.indexes.Schema().IndexesForToken(schema.Relationship, relType)) {
		t, err := vals.tuple(d.Schema, 0, nil)
		if err != nil {
			return err
		}
		if err := tx.updateEntry(d, rel, t, nil); err != nil {
			return err
		}
	}
	return nil
}
