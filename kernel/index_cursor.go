// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package kernel

import (
	"github.com/RoaringBitmap/roaring/v2/roaring64"
	"github.com/featurebasedb/graphkernel/errors"
	"github.com/featurebasedb/graphkernel/index"
	"github.com/featurebasedb/graphkernel/locks"
	"github.com/featurebasedb/graphkernel/merge"
	"github.com/featurebasedb/graphkernel/metrics"
	"github.com/featurebasedb/graphkernel/schema"
	"github.com/featurebasedb/graphkernel/storage"
	"github.com/featurebasedb/graphkernel/txstate"
	"github.com/featurebasedb/graphkernel/values"
)

// indexItem is one entry of a value index as a cursor returns it.
type indexItem struct {
	id     int64
	values values.Tuple
	score  float32
}

func compareItems(a, b indexItem) int { return values.CompareTuples(a.values, b.values) }

// valueIndexCursor is the part of NodeValueIndexCursor and
// RelationshipValueIndexCursor that reconciles the committed index with the
// transaction's entry diffs.
type valueIndexCursor struct {
	cursorBase

	desc        schema.IndexDescriptor
	needsValues bool

	progressor index.Progressor
	stream     merge.Iterator[indexItem]
	cur        indexItem
}

func (c *valueIndexCursor) clear() {
	if c.progressor != nil {
		c.progressor.Close()
	}
	c.desc = schema.NoIndex
	c.needsValues = false
	c.progressor, c.stream = nil, nil
	c.cur = indexItem{id: storage.NoID}
}

// seek positions the cursor on the entries of d matching queries.
func (c *valueIndexCursor) seek(d schema.IndexDescriptor, entityType schema.EntityType, qc IndexQueryConstraints, queries []index.Query) error {
	tx := c.tx
	if err := tx.resolveValueIndex(d, entityType); err != nil {
		return err
	}
	kind, err := classify(d, queries)
	if err != nil {
		return err
	}
	if qc.Order != OrderNone && !d.SupportsOrdering() {
		return errors.Newf(errors.ErrUnsupportedQuery, "index '%s' cannot return %s results", d.Name, qc.Order)
	}
	metrics.IndexSeeks.WithLabelValues(string(kind)).Inc()

	r, err := tx.valueReader(d, false)
	if err != nil {
		return err
	}
	desc := qc.Order == OrderDescending
	p, err := r.QueryOrdered(desc, queries...)
	if err != nil {
		return err
	}
	ov := tx.overlayFor(d.Schema, kind, queries)
	c.desc = d
	c.needsValues = qc.needsValues()
	c.progressor = p
	c.stream = c.reconcile(p, ov, qc.Order)
	return nil
}

// reconcile combines the committed entries read from p with the ones the
// transaction added, dropping what the transaction removed.
func (c *valueIndexCursor) reconcile(p index.Progressor, ov overlay, order IndexOrder) merge.Iterator[indexItem] {
	committed := &committedEntries{c: c, p: p, removed: ov.removed}
	added := &addedEntries{c: c, entries: ov.added}
	switch order {
	case OrderAscending:
		return merge.New(compareItems,
			merge.Input[indexItem]{Iter: committed, Unordered: pointItem},
			merge.Input[indexItem]{Iter: added},
		)
	case OrderDescending:
		reverseEntries(added.entries)
		return merge.New(merge.Reverse(compareItems),
			merge.Input[indexItem]{Iter: committed, Unordered: pointItem},
			merge.Input[indexItem]{Iter: added},
		)
	}
	return &concat[indexItem]{iters: []merge.Iterator[indexItem]{committed, added}}
}

func pointItem(it indexItem) bool { return it.values.HasPoints() }

func reverseEntries(a []txstate.IndexEntry) {
	for i, j := 0, len(a)-1; i < j; i, j = i+1, j-1 {
		a[i], a[j] = a[j], a[i]
	}
}

// Next moves to the next entry.
func (c *valueIndexCursor) Next() bool {
	if !c.check() || c.stream == nil {
		return false
	}
	if !c.stream.Next() || c.err != nil {
		c.stream = nil
		return false
	}
	c.cur = c.stream.Item()
	c.tx.tracer.OnIndexEntry()
	return true
}

// EntityID returns the node or relationship id of the current entry.
func (c *valueIndexCursor) EntityID() int64 { return c.cur.id }

// Score returns the relevance of the current entry. Value indexes score
// every entry 1.
func (c *valueIndexCursor) Score() float32 { return c.cur.score }

// HasValues reports whether the cursor returns the indexed values.
func (c *valueIndexCursor) HasValues() bool { return c.needsValues }

// PropertyValue returns the value of the current entry at offset, or
// values.NoValue if values were not requested.
func (c *valueIndexCursor) PropertyValue(offset int) values.Value {
	if !c.needsValues || offset < 0 || offset >= len(c.cur.values) {
		return values.NoValue
	}
	return c.cur.values[offset]
}

// Values returns the value tuple of the current entry, or nil.
func (c *valueIndexCursor) Values() values.Tuple {
	if !c.needsValues {
		return nil
	}
	return append(values.Tuple(nil), c.cur.values...)
}

// committedEntries streams the committed entries of a query that the
// transaction did not remove and the access mode lets through.
type committedEntries struct {
	c       *valueIndexCursor
	p       index.Progressor
	removed *roaring64.Bitmap
	cur     indexItem
}

func (e *committedEntries) Next() bool {
	tx := e.c.tx
	for e.p.Next() {
		id := e.p.EntityID()
		if e.removed.Contains(uint64(id)) || tx.entityDeleted(e.c.desc, id) {
			continue
		}
		ok, err := tx.indexEntryVisible(e.c.desc, id)
		if err != nil {
			return e.c.fail(err)
		} else if !ok {
			continue
		}
		e.cur = indexItem{id: id, values: e.p.Values(), score: e.p.Score()}
		return true
	}
	return false
}

func (e *committedEntries) Item() indexItem { return e.cur }

// addedEntries streams the entries the transaction added.
type addedEntries struct {
	c       *valueIndexCursor
	entries []txstate.IndexEntry
	pos     int
	cur     indexItem
}

func (e *addedEntries) Next() bool {
	for e.pos < len(e.entries) {
		ent := e.entries[e.pos]
		e.pos++
		ok, err := e.c.tx.indexEntryVisible(e.c.desc, ent.ID)
		if err != nil {
			return e.c.fail(err)
		} else if !ok {
			continue
		}
		e.cur = indexItem{id: ent.ID, values: ent.Values, score: 1}
		return true
	}
	return false
}

func (e *addedEntries) Item() indexItem { return e.cur }

// concat reads its iterators one after the other.
type concat[T any] struct {
	iters []merge.Iterator[T]
}

func (c *concat[T]) Next() bool {
	for len(c.iters) > 0 {
		if c.iters[0].Next() {
			return true
		}
		c.iters = c.iters[1:]
	}
	return false
}

func (c *concat[T]) Item() T { return c.iters[0].Item() }

// NodeValueIndexCursor reads the entries of a node value index.
type NodeValueIndexCursor struct {
	valueIndexCursor
}

// NodeID returns the node of the current entry.
func (c *NodeValueIndexCursor) NodeID() int64 { return c.cur.id }

// Node positions nc on the node of the current entry.
func (c *NodeValueIndexCursor) Node(nc *NodeCursor) error {
	if !c.check() {
		return c.err
	}
	return c.tx.SingleNode(c.cur.id, nc)
}

// Close returns the cursor to its factory.
func (c *NodeValueIndexCursor) Close() {
	if !c.release() {
		return
	}
	c.clear()
	giveBack(c.factory, &c.factory.nodeIndexes, c)
}

// RelationshipValueIndexCursor reads the entries of a relationship value
// index.
type RelationshipValueIndexCursor struct {
	valueIndexCursor
}

func (c *RelationshipValueIndexCursor) RelationshipID() int64 { return c.cur.id }

// Relationship positions rc on the relationship of the current entry.
func (c *RelationshipValueIndexCursor) Relationship(rc *RelationshipScanCursor) error {
	if !c.check() {
		return c.err
	}
	return c.tx.SingleRelationship(c.cur.id, rc)
}

// Close returns the cursor to its factory.
func (c *RelationshipValueIndexCursor) Close() {
	if !c.release() {
		return
	}
	c.clear()
	giveBack(c.factory, &c.factory.relIndexes, c)
}

// LockingNodeUniqueIndexSeek looks up the node with exactly the values of
// queries in the unique index d, and locks the entry so that the outcome
// holds until the transaction finishes: a found entry stays, a missing one
// cannot be created by others. The committed index is read fresh.
func (tx *Tx) LockingNodeUniqueIndexSeek(d schema.IndexDescriptor, c *NodeValueIndexCursor, queries ...index.Query) error {
	if err := c.begin(tx); err != nil {
		return err
	}
	c.clear()
	if err := tx.resolveValueIndex(d, schema.Node); err != nil {
		return err
	}
	if !d.Unique {
		return errors.Newf(errors.ErrUnsupportedQuery, "index '%s' is not unique", d.Name)
	}
	tuple, err := exactTuple(d, queries)
	if err != nil {
		return err
	}
	metrics.IndexSeeks.WithLabelValues(string(seekExact)).Inc()

	lockID := locks.IndexEntryResourceID(d.Schema.EntityTokens[0], d.Schema.PropertyKeys, tuple)
	if err := tx.acquire(locks.Shared, locks.IndexEntry, lockID); err != nil {
		return err
	}
	id, found, err := tx.findEntry(d, tuple, storage.NoID)
	if err != nil {
		return err
	}
	if !found {
		// A missing entry needs the exclusive lock to keep it missing.
		tx.locks.Release(locks.Shared, locks.IndexEntry, lockID)
		metrics.LockUpgrades.Inc()
		if err := tx.acquire(locks.Exclusive, locks.IndexEntry, lockID); err != nil {
			return err
		}
		if id, found, err = tx.findEntry(d, tuple, storage.NoID); err != nil {
			return err
		}
		if found {
			tx.locks.Downgrade(locks.IndexEntry, lockID)
		}
	}

	c.desc = d
	c.needsValues = true
	var entries []txstate.IndexEntry
	if found {
		entries = []txstate.IndexEntry{{ID: id, Values: tuple}}
	}
	c.stream = &addedEntries{c: &c.valueIndexCursor, entries: entries}
	return nil
}

// tokenIndexCursor is the part of NodeLabelIndexCursor and
// RelationshipTypeIndexCursor that reconciles a token index with the
// transaction's label or type changes.
type tokenIndexCursor struct {
	cursorBase

	entityType schema.EntityType
	token      int32

	progressor index.Progressor
	stream     merge.Iterator[int64]
	cur        int64
}

func (c *tokenIndexCursor) clear() {
	if c.progressor != nil {
		c.progressor.Close()
	}
	c.entityType, c.token = schema.Node, schema.AnyToken
	c.progressor, c.stream = nil, nil
	c.cur = storage.NoID
}

func compareIDs(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

// scan positions the cursor on the entities with token. diff holds the
// transaction's changes to the entities having token.
func (c *tokenIndexCursor) scan(entityType schema.EntityType, token int32, order IndexOrder, diff *txstate.DiffSet) error {
	tx := c.tx
	c.entityType, c.token = entityType, token

	d := tx.engine.indexes.Schema().TokenLookupIndex(entityType)
	if d.IsNoIndex() || tx.state.IndexIsRemoved(d.ID) {
		return errors.Newf(errors.ErrIndexNotFound, "there is no %s lookup index", entityType)
	}
	r, err := tx.engine.indexes.TokenReader(d)
	if err != nil {
		return err
	}
	p, err := r.Query(index.Token(token), order == OrderDescending)
	if err != nil {
		return err
	}
	metrics.IndexSeeks.WithLabelValues(string(seekScan)).Inc()
	c.progressor = p

	committed := &committedTokens{c: c, p: p, removed: diff.RemovedBitmap()}
	added := c.visibleAdded(diff.Added())
	if c.err != nil {
		return c.err
	}
	switch order {
	case OrderAscending:
		c.stream = merge.New(compareIDs, merge.Input[int64]{Iter: committed}, merge.Input[int64]{Iter: merge.NewSlice(added)})
	case OrderDescending:
		for i, j := 0, len(added)-1; i < j; i, j = i+1, j-1 {
			added[i], added[j] = added[j], added[i]
		}
		c.stream = merge.New(merge.Reverse(compareIDs), merge.Input[int64]{Iter: committed}, merge.Input[int64]{Iter: merge.NewSlice(added)})
	default:
		c.stream = &concat[int64]{iters: []merge.Iterator[int64]{committed, merge.NewSlice(added)}}
	}
	return nil
}

func (c *tokenIndexCursor) visible(id int64) (bool, error) {
	if c.entityType == schema.Relationship {
		rel, ok, err := c.tx.relationship(id)
		if err != nil || !ok {
			return false, err
		}
		return c.tx.relationshipVisible(rel)
	}
	return c.tx.nodeVisibleByID(id)
}

// visibleAdded keeps the added ids the access mode lets through. Errors
// fail the cursor.
func (c *tokenIndexCursor) visibleAdded(ids []int64) []int64 {
	out := ids[:0]
	for _, id := range ids {
		ok, err := c.visible(id)
		if err != nil {
			c.fail(err)
			return nil
		}
		if ok {
			out = append(out, id)
		}
	}
	return out
}

// Next moves to the next entity.
func (c *tokenIndexCursor) Next() bool {
	if !c.check() || c.stream == nil {
		return false
	}
	if !c.stream.Next() || c.err != nil {
		c.stream = nil
		return false
	}
	c.cur = c.stream.Item()
	c.tx.tracer.OnIndexEntry()
	return true
}

// committedTokens streams the committed entities of a token the
// transaction did not remove or delete.
type committedTokens struct {
	c       *tokenIndexCursor
	p       index.Progressor
	removed *roaring64.Bitmap
	cur     int64
}

func (e *committedTokens) Next() bool {
	tx := e.c.tx
	for e.p.Next() {
		id := e.p.EntityID()
		if e.removed.Contains(uint64(id)) {
			continue
		}
		if e.c.entityType == schema.Relationship {
			if tx.state.RelationshipIsDeletedInThisTx(id) {
				continue
			}
		} else if tx.state.NodeIsDeletedInThisTx(id) {
			continue
		}
		ok, err := e.c.visible(id)
		if err != nil {
			return e.c.fail(err)
		} else if !ok {
			continue
		}
		e.cur = id
		return true
	}
	return false
}

func (e *committedTokens) Item() int64 { return e.cur }

// NodeLabelIndexCursor reads the nodes with a label from the label lookup
// index.
type NodeLabelIndexCursor struct {
	tokenIndexCursor
}

// NodeLabelScan positions c on the nodes with label, in id order unless
// order is OrderNone.
func (tx *Tx) NodeLabelScan(label int32, c *NodeLabelIndexCursor, order IndexOrder) error {
	if err := c.begin(tx); err != nil {
		return err
	}
	c.clear()
	return c.scan(schema.Node, label, order, tx.state.NodesWithLabelChanged(label))
}

// NodeID returns the current node.
func (c *NodeLabelIndexCursor) NodeID() int64 { return c.cur }

// Node positions nc on the current node.
func (c *NodeLabelIndexCursor) Node(nc *NodeCursor) error {
	if !c.check() {
		return c.err
	}
	return c.tx.SingleNode(c.cur, nc)
}

// Close returns the cursor to its factory.
func (c *NodeLabelIndexCursor) Close() {
	if !c.release() {
		return
	}
	c.clear()
	giveBack(c.factory, &c.factory.labelIndexes, c)
}

// RelationshipTypeIndexCursor reads the relationships of a type from the
// relationship type lookup index.
type RelationshipTypeIndexCursor struct {
	tokenIndexCursor
}

// RelationshipTypeScan positions c on the relationships of relType, in id
// order unless order is OrderNone.
func (tx *Tx) RelationshipTypeScan(relType int32, c *RelationshipTypeIndexCursor, order IndexOrder) error {
	if err := c.begin(tx); err != nil {
		return err
	}
	c.clear()
	return c.scan(schema.Relationship, relType, order, tx.state.RelationshipsWithTypeChanged(relType))
}

func (c *RelationshipTypeIndexCursor) RelationshipID() int64 { return c.cur }

// Relationship positions rc on the current relationship.
func (c *RelationshipTypeIndexCursor) Relationship(rc *RelationshipScanCursor) error {
	if !c.check() {
		return c.err
	}
	return c.tx.SingleRelationship(c.cur, rc)
}

// Close returns the cursor to its factory.
func (c *RelationshipTypeIndexCursor) Close() {
	if !c.release() {
		return
	}
	c.clear()
	giveBack(c.factory, &c.factory.typeIndexes, c)
}
