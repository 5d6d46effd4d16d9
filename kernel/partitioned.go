// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package kernel

import (
	"sync"

	"github.com/featurebasedb/graphkernel/errors"
)

// PartitionedScan splits the committed nodes into disjoint id ranges, each
// read by its own cursor. Reserve may be called from several goroutines;
// the cursors, like every cursor of the transaction, read its snapshot one
// goroutine at a time.
type PartitionedScan struct {
	tx *Tx

	mu     sync.Mutex
	ranges [][2]int64
	next   int
}

// AllNodesScanPartitioned splits the node scan into at most n partitions.
// The partitions only cover committed nodes, so the transaction must not
// have changes.
func (tx *Tx) AllNodesScanPartitioned(n int) (*PartitionedScan, error) {
	if err := tx.assertOpen(); err != nil {
		return nil, err
	}
	if tx.state.HasChanges() {
		return nil, errors.New(errors.ErrTransactionHasChanges, "a partitioned scan cannot see the changes of its transaction")
	}
	if n < 1 {
		n = 1
	}
	high := tx.reader.HighNodeID()
	size := (high + int64(n) - 1) / int64(n)
	if size < 1 {
		size = 1
	}
	s := &PartitionedScan{tx: tx}
	for from := int64(0); from < high; from += size {
		to := from + size
		if to > high {
			to = high
		}
		s.ranges = append(s.ranges, [2]int64{from, to})
	}
	return s, nil
}

// Partitions returns the number of partitions.
func (s *PartitionedScan) Partitions() int { return len(s.ranges) }

// Reserve positions c on the next unread partition. It reports false once
// every partition has been handed out. The cursor must come from a factory
// of the scan's transaction.
func (s *PartitionedScan) Reserve(c *NodeCursor) (bool, error) {
	s.mu.Lock()
	if s.next >= len(s.ranges) {
		s.mu.Unlock()
		return false, nil
	}
	r := s.ranges[s.next]
	s.next++
	s.mu.Unlock()
	return true, s.tx.scanRange(r[0], r[1], c)
}
