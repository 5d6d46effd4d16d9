// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package txstate

import (
	"sort"

	"github.com/RoaringBitmap/roaring/v2/roaring64"
	"github.com/featurebasedb/graphkernel/schema"
	"github.com/featurebasedb/graphkernel/values"
	"github.com/tidwall/btree"
)

// indexEntry is one value tuple bucket of an index diff.
type indexEntry struct {
	tuple values.Tuple
	ids   *DiffSet
}

func lessEntry(a, b *indexEntry) bool {
	return values.CompareTuples(a.tuple, b.tuple) < 0
}

// indexUpdates holds the entry diffs of one schema ordered by value tuple.
type indexUpdates struct {
	schema  schema.Descriptor
	entries *btree.BTreeG[*indexEntry]
}

func newIndexUpdates(s schema.Descriptor) *indexUpdates {
	return &indexUpdates{
		schema:  s,
		entries: btree.NewBTreeGOptions(lessEntry, btree.Options{NoLocks: true}),
	}
}

func (u *indexUpdates) bucket(tuple values.Tuple) *indexEntry {
	if e, ok := u.entries.Get(&indexEntry{tuple: tuple}); ok {
		return e
	}
	e := &indexEntry{tuple: tuple, ids: NewDiffSet()}
	u.entries.Set(e)
	return e
}

// IndexEntry is an entity added to an index in the transaction, with the
// value tuple it was added under.
type IndexEntry struct {
	ID     int64
	Values values.Tuple
}

// IndexDoUpdateEntry records an index entry change for id. A nil before
// records an add only; a nil after records a removal only.
func (s *TxState) IndexDoUpdateEntry(sch schema.Descriptor, id int64, before, after values.Tuple) {
	key := sch.Key()
	u := s.indexUpdates[key]
	if u == nil {
		u = newIndexUpdates(sch)
		s.indexUpdates[key] = u
	}
	if before != nil {
		e := u.bucket(before)
		e.ids.Remove(id)
		if e.ids.IsEmpty() {
			u.entries.Delete(e)
		}
	}
	if after != nil {
		e := u.bucket(after)
		e.ids.Add(id)
		if e.ids.IsEmpty() {
			u.entries.Delete(e)
		}
	}
	s.dataChanges = true
}

// IndexUpdatesForSeek returns the diff for exactly tuple, or nil.
func (s *TxState) IndexUpdatesForSeek(sch schema.Descriptor, tuple values.Tuple) *DiffSet {
	u := s.indexUpdates[sch.Key()]
	if u == nil {
		return nil
	}
	if e, ok := u.entries.Get(&indexEntry{tuple: tuple}); ok {
		return e.ids
	}
	return nil
}

// IndexUpdatesMatching returns the entries added under tuples accepted by
// accept, ordered by tuple and then id, together with the ids removed from
// accepted tuples. A nil accept accepts everything.
func (s *TxState) IndexUpdatesMatching(sch schema.Descriptor, accept func(values.Tuple) bool) ([]IndexEntry, *roaring64.Bitmap) {
	removed := roaring64.New()
	u := s.indexUpdates[sch.Key()]
	if u == nil {
		return nil, removed
	}
	var added []IndexEntry
	u.entries.Scan(func(e *indexEntry) bool {
		if accept != nil && !accept(e.tuple) {
			return true
		}
		for _, id := range e.ids.Added() {
			added = append(added, IndexEntry{ID: id, Values: e.tuple})
		}
		removed.Or(e.ids.removed)
		return true
	})
	return added, removed
}

// IndexUpdatesRange is IndexUpdatesMatching restricted to tuples between
// from and to, either of which may be nil for an open bound.
func (s *TxState) IndexUpdatesRange(sch schema.Descriptor, from, to values.Tuple, accept func(values.Tuple) bool) ([]IndexEntry, *roaring64.Bitmap) {
	removed := roaring64.New()
	u := s.indexUpdates[sch.Key()]
	if u == nil {
		return nil, removed
	}
	var added []IndexEntry
	visit := func(e *indexEntry) bool {
		if to != nil && values.CompareTuples(e.tuple, to) > 0 {
			return false
		}
		if accept == nil || accept(e.tuple) {
			for _, id := range e.ids.Added() {
				added = append(added, IndexEntry{ID: id, Values: e.tuple})
			}
			removed.Or(e.ids.removed)
		}
		return true
	}
	if from == nil {
		u.entries.Scan(visit)
	} else {
		u.entries.Ascend(&indexEntry{tuple: from}, visit)
	}
	return added, removed
}

// indexSchemaKeys returns the keys of the schemas with entry diffs, sorted.
func (s *TxState) indexSchemaKeys() []string {
	keys := make([]string, 0, len(s.indexUpdates))
	for k := range s.indexUpdates {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
