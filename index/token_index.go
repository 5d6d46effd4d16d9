// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package index

import (
	"sync"

	"github.com/RoaringBitmap/roaring/v2/roaring64"
	"github.com/featurebasedb/graphkernel/errors"
	"github.com/featurebasedb/graphkernel/schema"
	"github.com/featurebasedb/graphkernel/values"
)

// tokenIndex maps each label (or relationship type) to the bitmap of
// entities carrying it.
type tokenIndex struct {
	mu      sync.Mutex
	desc    schema.IndexDescriptor
	state   schema.IndexState
	failure error

	tokens  map[int32]*roaring64.Bitmap
	pending []tokenUpdate
}

type tokenUpdate struct {
	id      int64
	added   []int32
	removed []int32
}

func newTokenIndex(desc schema.IndexDescriptor) *tokenIndex {
	return &tokenIndex{
		desc:   desc,
		state:  schema.IndexPopulating,
		tokens: make(map[int32]*roaring64.Bitmap),
	}
}

func (x *tokenIndex) apply(u tokenUpdate) {
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.state == schema.IndexPopulating {
		x.pending = append(x.pending, u)
		return
	}
	x.applyLocked(u)
}

func (x *tokenIndex) applyLocked(u tokenUpdate) {
	for _, t := range u.removed {
		if bm := x.tokens[t]; bm != nil {
			bm.Remove(uint64(u.id))
		}
	}
	for _, t := range u.added {
		bm := x.tokens[t]
		if bm == nil {
			bm = roaring64.New()
			x.tokens[t] = bm
		}
		bm.Add(uint64(u.id))
	}
}

func (x *tokenIndex) finishPopulation(tokens map[int32]*roaring64.Bitmap, err error) {
	x.mu.Lock()
	defer x.mu.Unlock()
	if err != nil {
		x.state, x.failure, x.pending = schema.IndexFailed, err, nil
		return
	}
	for t, bm := range tokens {
		if cur := x.tokens[t]; cur != nil {
			bm.Or(cur)
		}
		x.tokens[t] = bm
	}
	for _, u := range x.pending {
		x.applyLocked(u)
	}
	x.pending = nil
	x.state = schema.IndexOnline
}

// TokenReader reads a token index.
type TokenReader struct {
	x *tokenIndex
}

// Descriptor returns the index the reader reads.
func (r *TokenReader) Descriptor() schema.IndexDescriptor { return r.x.desc }

// Query returns the entities carrying q.Token in ascending, or descending,
// id order. The result is a copy taken at the time of the call.
func (r *TokenReader) Query(q Query, descending bool) (Progressor, error) {
	if q.Kind != QueryToken {
		return nil, errors.Newf(errors.ErrUnsupportedQuery, "token index %s cannot answer %s", r.x.desc.Name, q)
	}
	r.x.mu.Lock()
	defer r.x.mu.Unlock()
	switch r.x.state {
	case schema.IndexPopulating:
		return nil, errors.Newf(errors.ErrIndexNotOnline, "index '%s' is still populating", r.x.desc.Name)
	case schema.IndexFailed:
		return nil, errors.Wrapf(errors.New(errors.ErrIndexBroken, r.x.failure.Error()), "index '%s' failed", r.x.desc.Name)
	}
	bm := r.x.tokens[q.Token]
	if bm == nil {
		return &tokenProgressor{}, nil
	}
	bm = bm.Clone()
	p := &tokenProgressor{}
	if descending {
		p.it = bm.ReverseIterator()
	} else {
		p.it = bm.Iterator()
	}
	return p, nil
}

type tokenProgressor struct {
	it  roaring64.IntIterable64
	cur int64
}

func (p *tokenProgressor) Next() bool {
	if p.it == nil || !p.it.HasNext() {
		p.it = nil
		return false
	}
	p.cur = int64(p.it.Next())
	return true
}

func (p *tokenProgressor) EntityID() int64      { return p.cur }
func (p *tokenProgressor) Values() values.Tuple { return nil }
func (p *tokenProgressor) Score() float32       { return 1 }
func (p *tokenProgressor) Close()               { p.it = nil }
