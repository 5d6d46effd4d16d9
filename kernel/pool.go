// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package kernel

import (
	"github.com/featurebasedb/graphkernel/errors"
	"github.com/featurebasedb/graphkernel/metrics"
)

// Cursor kinds as reported in metrics.
const (
	kindNode               = "node"
	kindRelationshipScan   = "relationship_scan"
	kindTraversal          = "relationship_traversal"
	kindGroup              = "relationship_group"
	kindProperty           = "property"
	kindNodeValueIndex     = "node_value_index"
	kindRelValueIndex      = "relationship_value_index"
	kindNodeLabelIndex     = "node_label_index"
	kindRelationshipTypeIx = "relationship_type_index"
)

// CursorFactory hands out cursors bound to one transaction. With pooling on
// it keeps the last closed cursor of each kind and hands it out again.
type CursorFactory struct {
	tx      *Tx
	pooling bool

	nodes        *NodeCursor
	relScans     *RelationshipScanCursor
	traversals   *RelationshipTraversalCursor
	groups       *RelationshipGroupCursor
	properties   *PropertyCursor
	nodeIndexes  *NodeValueIndexCursor
	relIndexes   *RelationshipValueIndexCursor
	labelIndexes *NodeLabelIndexCursor
	typeIndexes  *RelationshipTypeIndexCursor
}

func newCursorFactory(tx *Tx, pooling bool) *CursorFactory {
	return &CursorFactory{tx: tx, pooling: pooling}
}

// pooledCursor is implemented by the pointer types of every cursor.
type pooledCursor[C any] interface {
	*C
	base() *cursorBase
}

// borrow takes the idle cursor out of slot, or builds one. A reused cursor
// is handed out under a new handle, so that a stale Close through the old
// handle cannot reach the new owner.
func borrow[C any, P pooledCursor[C]](f *CursorFactory, kind string, slot **C, build func() *C) *C {
	if f.pooling && *slot != nil {
		idle := *slot
		*slot = nil
		c := new(C)
		*c = *idle
		P(c).base().closed = false
		metrics.CursorAllocations.WithLabelValues(kind, "pooled").Inc()
		return c
	}
	metrics.CursorAllocations.WithLabelValues(kind, "fresh").Inc()
	return build()
}

// giveBack returns c to slot if the slot is free.
func giveBack[C any](f *CursorFactory, slot **C, c *C) {
	if f.pooling && *slot == nil {
		*slot = c
	}
}

func (f *CursorFactory) NodeCursor() *NodeCursor {
	return borrow(f, kindNode, &f.nodes, func() *NodeCursor {
		return &NodeCursor{cursorBase: cursorBase{factory: f}}
	})
}

func (f *CursorFactory) RelationshipScanCursor() *RelationshipScanCursor {
	return borrow(f, kindRelationshipScan, &f.relScans, func() *RelationshipScanCursor {
		return &RelationshipScanCursor{cursorBase: cursorBase{factory: f}}
	})
}

func (f *CursorFactory) RelationshipTraversalCursor() *RelationshipTraversalCursor {
	return borrow(f, kindTraversal, &f.traversals, func() *RelationshipTraversalCursor {
		return &RelationshipTraversalCursor{cursorBase: cursorBase{factory: f}}
	})
}

func (f *CursorFactory) RelationshipGroupCursor() *RelationshipGroupCursor {
	return borrow(f, kindGroup, &f.groups, func() *RelationshipGroupCursor {
		return &RelationshipGroupCursor{cursorBase: cursorBase{factory: f}}
	})
}

func (f *CursorFactory) PropertyCursor() *PropertyCursor {
	return borrow(f, kindProperty, &f.properties, func() *PropertyCursor {
		return &PropertyCursor{cursorBase: cursorBase{factory: f}}
	})
}

func (f *CursorFactory) NodeValueIndexCursor() *NodeValueIndexCursor {
	return borrow(f, kindNodeValueIndex, &f.nodeIndexes, func() *NodeValueIndexCursor {
		return &NodeValueIndexCursor{valueIndexCursor: valueIndexCursor{cursorBase: cursorBase{factory: f}}}
	})
}

func (f *CursorFactory) RelationshipValueIndexCursor() *RelationshipValueIndexCursor {
	return borrow(f, kindRelValueIndex, &f.relIndexes, func() *RelationshipValueIndexCursor {
		return &RelationshipValueIndexCursor{valueIndexCursor: valueIndexCursor{cursorBase: cursorBase{factory: f}}}
	})
}

func (f *CursorFactory) NodeLabelIndexCursor() *NodeLabelIndexCursor {
	return borrow(f, kindNodeLabelIndex, &f.labelIndexes, func() *NodeLabelIndexCursor {
		return &NodeLabelIndexCursor{tokenIndexCursor: tokenIndexCursor{cursorBase: cursorBase{factory: f}}}
	})
}

func (f *CursorFactory) RelationshipTypeIndexCursor() *RelationshipTypeIndexCursor {
	return borrow(f, kindRelationshipTypeIx, &f.typeIndexes, func() *RelationshipTypeIndexCursor {
		return &RelationshipTypeIndexCursor{tokenIndexCursor: tokenIndexCursor{cursorBase: cursorBase{factory: f}}}
	})
}

// cursorBase is the state shared by every cursor.
type cursorBase struct {
	factory *CursorFactory
	// tx is set while the cursor is initialized.
	tx  *Tx
	err error
	// closed is set by Close and makes further calls to it no-ops.
	closed bool
}

func (c *cursorBase) base() *cursorBase { return c }

// Err returns the error that stopped the cursor, if any.
func (c *cursorBase) Err() error { return c.err }

// begin binds the cursor to tx for a new use.
func (c *cursorBase) begin(tx *Tx) error {
	if c.closed {
		return errors.New(errors.ErrCursorClosed, "cursor is closed")
	}
	if tx != c.factory.tx {
		return errors.New(errors.ErrUncoded, "cursor belongs to another transaction")
	}
	c.tx = tx
	c.err = nil
	return tx.assertOpen()
}

// check fails the cursor if its transaction can no longer be used.
func (c *cursorBase) check() bool {
	if c.err != nil {
		return false
	}
	if c.tx == nil {
		return false
	}
	if err := c.tx.assertOpen(); err != nil {
		c.err = err
		return false
	}
	return true
}

func (c *cursorBase) fail(err error) bool {
	if c.err == nil {
		c.err = err
	}
	return false
}

// release marks the cursor closed and reports whether it was open.
func (c *cursorBase) release() bool {
	if c.closed {
		return false
	}
	c.closed = true
	c.tx = nil
	c.err = nil
	return true
}
