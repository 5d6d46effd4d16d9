// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package index

import (
	"math"
	"sync"
	"unicode/utf8"

	"github.com/featurebasedb/graphkernel/errors"
	"github.com/featurebasedb/graphkernel/schema"
	"github.com/featurebasedb/graphkernel/values"
	"github.com/tidwall/btree"
)

// entry is one committed index entry.
type entry struct {
	tuple values.Tuple
	id    int64
}

// comparePhysical is the order entries are stored in. It agrees with
// values.Compare except for points, which are kept in Z-order so that
// spatially close points are close in the index.
func comparePhysical(a, b values.Tuple) int {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		_, atop := a[i].(top)
		_, btop := b[i].(top)
		switch {
		case atop && btop:
			continue
		case atop:
			return 1
		case btop:
			return -1
		}
		pa, aok := a[i].(values.Point)
		pb, bok := b[i].(values.Point)
		if aok && bok {
			if c := compareCRS(pa, pb); c != 0 {
				return c
			}
			za, zb := values.ZOrder(pa), values.ZOrder(pb)
			switch {
			case za < zb:
				return -1
			case za > zb:
				return 1
			}
		}
		if c := values.Compare(a[i], b[i]); c != 0 {
			return c
		}
	}
	switch {
	case len(a) < len(b):
		return -1
	case len(a) > len(b):
		return 1
	}
	return 0
}

func compareCRS(a, b values.Point) int {
	switch {
	case a.CRS < b.CRS:
		return -1
	case a.CRS > b.CRS:
		return 1
	}
	return 0
}

func lessEntry(a, b entry) bool {
	if c := comparePhysical(a.tuple, b.tuple); c != 0 {
		return c < 0
	}
	return a.id < b.id
}

// valueIndex is a committed value index.
type valueIndex struct {
	mu      sync.Mutex
	desc    schema.IndexDescriptor
	state   schema.IndexState
	failure error

	tree *btree.BTreeG[entry]

	// pending holds updates received while populating.
	pending []update
}

type update struct {
	tuple   values.Tuple
	added   []int64
	removed []int64
}

func newValueIndex(desc schema.IndexDescriptor) *valueIndex {
	return &valueIndex{
		desc:  desc,
		state: schema.IndexPopulating,
		tree:  btree.NewBTreeG(lessEntry),
	}
}

func (x *valueIndex) apply(u update) {
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.state == schema.IndexPopulating {
		x.pending = append(x.pending, u)
		return
	}
	x.applyLocked(u)
}

func (x *valueIndex) applyLocked(u update) {
	for _, id := range u.removed {
		x.tree.Delete(entry{tuple: u.tuple, id: id})
	}
	for _, id := range u.added {
		x.tree.Set(entry{tuple: u.tuple, id: id})
	}
}

// finishPopulation installs the populated entries and replays updates
// received in the meantime.
func (x *valueIndex) finishPopulation(entries []entry, err error) {
	x.mu.Lock()
	defer x.mu.Unlock()
	if err != nil {
		x.state, x.failure, x.pending = schema.IndexFailed, err, nil
		return
	}
	for _, e := range entries {
		x.tree.Set(e)
	}
	for _, u := range x.pending {
		x.applyLocked(u)
	}
	x.pending = nil
	x.state = schema.IndexOnline
}

// snapshot returns a copy-on-write snapshot of the tree if the index is
// online.
func (x *valueIndex) snapshot() (*btree.BTreeG[entry], error) {
	x.mu.Lock()
	defer x.mu.Unlock()
	switch x.state {
	case schema.IndexPopulating:
		return nil, errors.Newf(errors.ErrIndexNotOnline, "index '%s' is still populating", x.desc.Name)
	case schema.IndexFailed:
		return nil, errors.Wrapf(errors.New(errors.ErrIndexBroken, x.failure.Error()), "index '%s' failed", x.desc.Name)
	}
	return x.tree.Copy(), nil
}

// ValueReader executes queries against a snapshot of a value index.
type ValueReader struct {
	desc schema.IndexDescriptor
	tree *btree.BTreeG[entry]
}

// Descriptor returns the index the reader reads.
func (r *ValueReader) Descriptor() schema.IndexDescriptor { return r.desc }

// Query returns the entries matching queries, which must be given in
// schema property order. Entries come in physical order: value order,
// except that points are in Z-order.
func (r *ValueReader) Query(queries ...Query) (Progressor, error) {
	return r.QueryOrdered(false, queries...)
}

// QueryOrdered is Query walking the physical order forwards or backwards.
func (r *ValueReader) QueryOrdered(descending bool, queries ...Query) (Progressor, error) {
	props := r.desc.Schema.PropertyKeys
	if len(queries) == 0 || len(queries) > len(props) {
		return nil, errors.Newf(errors.ErrUnsupportedQuery, "index %s cannot answer %d predicates", r.desc.Name, len(queries))
	}
	for i, q := range queries {
		if q.Kind == QueryToken {
			return nil, errors.Newf(errors.ErrUnsupportedQuery, "value index %s cannot answer a token query", r.desc.Name)
		}
		if q.Kind != QueryAllEntries && q.PropertyKey != props[i] {
			return nil, errors.Newf(errors.ErrUnsupportedQuery, "predicate %s does not match slot %d of %s", q, i, r.desc.Schema)
		}
	}

	// prefix is the leading run of exact values every result starts with.
	var prefix values.Tuple
	for _, q := range queries {
		if q.Kind != QueryExact {
			break
		}
		prefix = append(prefix, q.Value)
	}
	fixed := len(prefix)

	p := &valueProgressor{iter: r.tree.Iter(), queries: queries, prefix: prefix, descending: descending}
	if fixed < len(queries) {
		p.bound = queries[fixed]
	}
	if descending {
		p.valid = p.seekLast(p.upperPivot())
	} else if pivot := p.lowerPivot(); len(pivot) == 0 {
		p.valid = p.iter.First()
	} else {
		p.valid = p.iter.Seek(entry{tuple: pivot, id: math.MinInt64})
	}
	return p, nil
}

// lowerPivot is the smallest tuple a result can have.
func (p *valueProgressor) lowerPivot() values.Tuple {
	pivot := append(values.Tuple(nil), p.prefix...)
	switch q := p.bound; q.Kind {
	case QueryRange:
		if q.From != nil && q.rangeGroup() != values.GroupPoint {
			pivot = append(pivot, q.From)
		}
	case QueryStringPrefix:
		pivot = append(pivot, values.Text(q.Text))
	}
	return pivot
}

// upperPivot sorts after every tuple a result can have.
func (p *valueProgressor) upperPivot() values.Tuple {
	pivot := append(values.Tuple(nil), p.prefix...)
	switch q := p.bound; q.Kind {
	case QueryRange:
		if q.To != nil && q.rangeGroup() != values.GroupPoint {
			pivot = append(pivot, q.To)
		}
	case QueryStringPrefix:
		pivot = append(pivot, values.Text(q.Text+string(utf8.MaxRune)))
	}
	return append(pivot, top{})
}

// seekLast positions the iterator on the last entry before pivot.
func (p *valueProgressor) seekLast(pivot values.Tuple) bool {
	if len(pivot) == 1 {
		return p.iter.Last()
	}
	if p.iter.Seek(entry{tuple: pivot, id: math.MaxInt64}) {
		return p.iter.Prev()
	}
	return p.iter.Last()
}

// top is a pivot value sorting after every stored value.
type top struct{}

func (top) Group() values.ValueGroup { return values.GroupNoValue }
func (top) Equals(values.Value) bool { return false }
func (top) String() string           { return "TOP" }

// Progressor walks index results.
type Progressor interface {
	Next() bool
	EntityID() int64
	// Values is only valid for value indexes.
	Values() values.Tuple
	Score() float32
	Close()
}

type valueProgressor struct {
	iter       btree.IterG[entry]
	valid      bool
	started    bool
	descending bool
	queries    []Query
	prefix     values.Tuple
	bound      Query
	cur        entry
	closed     bool
}

func (p *valueProgressor) Next() bool {
	if p.closed {
		return false
	}
	for {
		if p.started {
			if p.descending {
				p.valid = p.iter.Prev()
			} else {
				p.valid = p.iter.Next()
			}
		}
		p.started = true
		if !p.valid {
			p.Close()
			return false
		}
		e := p.iter.Item()
		if !p.inPrefix(e.tuple) || p.pastBound(e.tuple) {
			p.Close()
			return false
		}
		if AcceptsTuple(p.queries, e.tuple) {
			p.cur = e
			return true
		}
	}
}

func (p *valueProgressor) inPrefix(t values.Tuple) bool {
	for i, v := range p.prefix {
		if values.Compare(t[i], v) != 0 {
			return false
		}
	}
	return true
}

// pastBound reports whether t and everything after it in walk order is
// outside the trailing predicate. Only value ordered groups are bounded.
func (p *valueProgressor) pastBound(t values.Tuple) bool {
	if len(t) <= len(p.prefix) {
		return false
	}
	v := t[len(p.prefix)]
	switch q := p.bound; q.Kind {
	case QueryRange:
		if q.rangeGroup() == values.GroupPoint {
			return false
		}
		if p.descending {
			return q.From != nil && values.Compare(v, q.From) < 0
		}
		return q.To != nil && values.Compare(v, q.To) > 0
	case QueryStringPrefix:
		if p.descending {
			return values.Compare(v, values.Text(q.Text)) < 0
		}
		return values.Compare(v, values.Text(q.Text)) > 0 && !q.Accepts(v)
	}
	return false
}

func (p *valueProgressor) EntityID() int64      { return p.cur.id }
func (p *valueProgressor) Values() values.Tuple { return p.cur.tuple }
func (p *valueProgressor) Score() float32       { return 1 }

func (p *valueProgressor) Close() {
	if !p.closed {
		p.closed = true
		p.iter.Release()
	}
}
