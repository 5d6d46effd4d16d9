// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package txstate

import (
	"github.com/benbjohnson/immutable"
	"github.com/featurebasedb/graphkernel/storage"
	"github.com/featurebasedb/graphkernel/values"
)

// keyComparer orders property keys.
type keyComparer struct{}

func (keyComparer) Compare(a, b int32) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

type (
	valueMap = immutable.SortedMap[int32, values.Value]
	keySet   = immutable.SortedMap[int32, struct{}]
)

// PropertyState is the property diff of one entity. Its maps are
// persistent, so a Snapshot taken by a cursor is unaffected by later writes.
type PropertyState struct {
	added   *valueMap
	changed *valueMap
	removed *keySet
}

func newPropertyState() *PropertyState {
	return &PropertyState{
		added:   immutable.NewSortedMap[int32, values.Value](keyComparer{}),
		changed: immutable.NewSortedMap[int32, values.Value](keyComparer{}),
		removed: immutable.NewSortedMap[int32, struct{}](keyComparer{}),
	}
}

// Set records key=v. inStore says whether the committed entity has key.
func (p *PropertyState) Set(key int32, v values.Value, inStore bool) {
	if inStore {
		p.changed = p.changed.Set(key, v)
		p.removed = p.removed.Delete(key)
		return
	}
	p.added = p.added.Set(key, v)
}

// Remove records the removal of key.
func (p *PropertyState) Remove(key int32, inStore bool) {
	p.added = p.added.Delete(key)
	p.changed = p.changed.Delete(key)
	if inStore {
		p.removed = p.removed.Set(key, struct{}{})
	}
}

// Get returns the transaction's value for key. touched is false when the
// transaction never wrote key; a removed key returns NoValue and true.
func (p *PropertyState) Get(key int32) (v values.Value, touched bool) {
	if p == nil {
		return values.NoValue, false
	}
	if v, ok := p.added.Get(key); ok {
		return v, true
	}
	if v, ok := p.changed.Get(key); ok {
		return v, true
	}
	if _, ok := p.removed.Get(key); ok {
		return values.NoValue, true
	}
	return values.NoValue, false
}

func (p *PropertyState) IsEmpty() bool {
	return p == nil || (p.added.Len() == 0 && p.changed.Len() == 0 && p.removed.Len() == 0)
}

// Snapshot captures the current diff.
func (p *PropertyState) Snapshot() PropertySnapshot {
	if p == nil {
		return PropertySnapshot{}
	}
	return PropertySnapshot{added: p.added, changed: p.changed, removed: p.removed}
}

// Added, Changed and Removed list the diff in key order.
func (p *PropertyState) Added() []storage.Property   { return collect(p.added) }
func (p *PropertyState) Changed() []storage.Property { return collect(p.changed) }

func (p *PropertyState) Removed() []int32 {
	var out []int32
	itr := p.removed.Iterator()
	for !itr.Done() {
		k, _, _ := itr.Next()
		out = append(out, k)
	}
	return out
}

func collect(m *valueMap) []storage.Property {
	var out []storage.Property
	itr := m.Iterator()
	for !itr.Done() {
		k, v, _ := itr.Next()
		out = append(out, storage.Property{Key: k, Value: v})
	}
	return out
}

// PropertySnapshot is an immutable view of a PropertyState. The zero value
// is an empty diff.
type PropertySnapshot struct {
	added   *valueMap
	changed *valueMap
	removed *keySet
}

// Shadows reports whether the committed value of key must be skipped,
// either because it was already reported from the diff or because it was
// removed.
func (s PropertySnapshot) Shadows(key int32) bool {
	if s.added == nil {
		return false
	}
	if _, ok := s.changed.Get(key); ok {
		return true
	}
	if _, ok := s.removed.Get(key); ok {
		return true
	}
	_, ok := s.added.Get(key)
	return ok
}

// Iterator returns the added properties followed by the changed ones.
func (s PropertySnapshot) Iterator() *PropertyIterator {
	it := &PropertyIterator{}
	if s.added != nil {
		it.added = s.added.Iterator()
		it.changed = s.changed.Iterator()
	}
	return it
}

// PropertyIterator walks the added-or-changed half of a PropertySnapshot.
type PropertyIterator struct {
	added   *immutable.SortedMapIterator[int32, values.Value]
	changed *immutable.SortedMapIterator[int32, values.Value]
	cur     storage.Property
}

func (it *PropertyIterator) Next() bool {
	itr := it.added
	if itr == nil || itr.Done() {
		itr = it.changed
	}
	if itr == nil || itr.Done() {
		return false
	}
	k, v, _ := itr.Next()
	it.cur = storage.Property{Key: k, Value: v}
	return true
}

func (it *PropertyIterator) Property() storage.Property { return it.cur }
