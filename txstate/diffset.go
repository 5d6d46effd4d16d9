// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package txstate

import (
	"github.com/RoaringBitmap/roaring/v2"
	"github.com/RoaringBitmap/roaring/v2/roaring64"
)

// DiffSet records ids added to and removed from a committed set. An id is
// never in both halves: adding a removed id cancels the removal, and
// removing an added id cancels the addition, so that delete-of-created
// leaves no trace.
type DiffSet struct {
	added   *roaring64.Bitmap
	removed *roaring64.Bitmap
}

// NewDiffSet returns an empty DiffSet.
func NewDiffSet() *DiffSet {
	return &DiffSet{
		added:   roaring64.New(),
		removed: roaring64.New(),
	}
}

// Add records id as added, or cancels its removal.
func (d *DiffSet) Add(id int64) {
	if d.removed.CheckedRemove(uint64(id)) {
		return
	}
	d.added.Add(uint64(id))
}

// Remove records id as removed, or cancels its addition. It reports whether
// an addition was cancelled.
func (d *DiffSet) Remove(id int64) bool {
	if d.added.CheckedRemove(uint64(id)) {
		return true
	}
	d.removed.Add(uint64(id))
	return false
}

// Forget drops id from both halves.
func (d *DiffSet) Forget(id int64) {
	d.added.Remove(uint64(id))
	d.removed.Remove(uint64(id))
}

func (d *DiffSet) IsAdded(id int64) bool {
	return d != nil && d.added.Contains(uint64(id))
}

func (d *DiffSet) IsRemoved(id int64) bool {
	return d != nil && d.removed.Contains(uint64(id))
}

func (d *DiffSet) IsEmpty() bool {
	return d == nil || (d.added.IsEmpty() && d.removed.IsEmpty())
}

// AddedCount and RemovedCount return the size of each half.
func (d *DiffSet) AddedCount() int64 {
	if d == nil {
		return 0
	}
	return int64(d.added.GetCardinality())
}

func (d *DiffSet) RemovedCount() int64 {
	if d == nil {
		return 0
	}
	return int64(d.removed.GetCardinality())
}

// Delta is AddedCount minus RemovedCount.
func (d *DiffSet) Delta() int64 {
	return d.AddedCount() - d.RemovedCount()
}

// Added returns the added ids in ascending order. The slice is a copy.
func (d *DiffSet) Added() []int64 {
	if d == nil {
		return nil
	}
	return toIDs(d.added.ToArray())
}

// Removed returns the removed ids in ascending order. The slice is a copy.
func (d *DiffSet) Removed() []int64 {
	if d == nil {
		return nil
	}
	return toIDs(d.removed.ToArray())
}

// RemovedBitmap returns a copy of the removed half.
func (d *DiffSet) RemovedBitmap() *roaring64.Bitmap {
	if d == nil {
		return roaring64.New()
	}
	return d.removed.Clone()
}

func toIDs(a []uint64) []int64 {
	out := make([]int64, len(a))
	for i, v := range a {
		out[i] = int64(v)
	}
	return out
}

// tokenDiff is the 32-bit counterpart of DiffSet used for label sets.
type tokenDiff struct {
	added   *roaring.Bitmap
	removed *roaring.Bitmap
}

func newTokenDiff() *tokenDiff {
	return &tokenDiff{added: roaring.New(), removed: roaring.New()}
}

func (d *tokenDiff) add(t int32) {
	if d.removed.CheckedRemove(uint32(t)) {
		return
	}
	d.added.Add(uint32(t))
}

func (d *tokenDiff) remove(t int32) {
	if d.added.CheckedRemove(uint32(t)) {
		return
	}
	d.removed.Add(uint32(t))
}

func (d *tokenDiff) isEmpty() bool {
	return d.added.IsEmpty() && d.removed.IsEmpty()
}

func toTokens(a []uint32) []int32 {
	out := make([]int32, len(a))
	for i, v := range a {
		out[i] = int32(v)
	}
	return out
}
