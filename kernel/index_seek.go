// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package kernel

import (
	"github.com/RoaringBitmap/roaring/v2/roaring64"
	"github.com/featurebasedb/graphkernel/errors"
	"github.com/featurebasedb/graphkernel/index"
	"github.com/featurebasedb/graphkernel/schema"
	"github.com/featurebasedb/graphkernel/txstate"
	"github.com/featurebasedb/graphkernel/values"
)

// IndexOrder is the order index results are requested in.
type IndexOrder uint8

const (
	OrderNone IndexOrder = iota
	OrderAscending
	OrderDescending
)

func (o IndexOrder) String() string {
	switch o {
	case OrderAscending:
		return "ASCENDING"
	case OrderDescending:
		return "DESCENDING"
	}
	return "NONE"
}

// IndexQueryConstraints are requirements on the results of an index query.
// Ordered results always carry values.
type IndexQueryConstraints struct {
	Order       IndexOrder
	NeedsValues bool
}

// Unconstrained returns constraints without order or values.
func Unconstrained() IndexQueryConstraints { return IndexQueryConstraints{} }

// Ordered returns constraints requesting order, and thereby values.
func Ordered(order IndexOrder) IndexQueryConstraints {
	return IndexQueryConstraints{Order: order, NeedsValues: order != OrderNone}
}

func (qc IndexQueryConstraints) needsValues() bool {
	return qc.NeedsValues || qc.Order != OrderNone
}

// seekKind is how a value index query is executed. The values are the
// labels of metrics.IndexSeeks.
type seekKind string

const (
	seekExact          seekKind = "exact"
	seekRange          seekKind = "range"
	seekPrefix         seekKind = "prefix"
	seekScan           seekKind = "scan"
	seekSuffixContains seekKind = "suffix_contains"
)

// classify checks that queries can be answered by d and picks how. Queries
// are a leading run of exact predicates followed by at most one range,
// prefix, exists, suffix or contains predicate, one per schema property in
// order. Composite indexes only take exists after the exact run.
func classify(d schema.IndexDescriptor, queries []index.Query) (seekKind, error) {
	props := d.Schema.PropertyKeys
	if len(queries) == 1 && queries[0].Kind == index.QueryAllEntries {
		return seekScan, nil
	}
	if len(queries) != len(props) {
		return "", errors.Newf(errors.ErrUnsupportedQuery, "index %s needs %d predicates, got %d", d.Name, len(props), len(queries))
	}
	for i, q := range queries {
		switch q.Kind {
		case index.QueryAllEntries, index.QueryToken:
			return "", errors.Newf(errors.ErrUnsupportedQuery, "predicate %s cannot be used in a value index seek", q)
		}
		if q.PropertyKey != props[i] {
			return "", errors.Newf(errors.ErrUnsupportedQuery, "predicate %s does not match property %d of index %s", q, props[i], d.Name)
		}
	}

	exact := 0
	for exact < len(queries) && queries[exact].Kind == index.QueryExact {
		exact++
	}
	if exact == len(queries) {
		return seekExact, nil
	}
	if exact < len(queries)-1 {
		return "", errors.Newf(errors.ErrUnsupportedQuery, "only the last predicate of a seek on %s may be other than exact", d.Name)
	}

	last := queries[exact]
	if len(props) > 1 {
		if last.Kind != index.QueryExists {
			return "", errors.Newf(errors.ErrUnsupportedQuery,
				"composite index %s only takes exists after exact predicates, got %s; rewrite it as exists and filter", d.Name, last)
		}
		return seekRange, nil
	}
	switch last.Kind {
	case index.QueryRange:
		if last.From == nil && last.To == nil {
			return "", errors.Newf(errors.ErrUnsupportedQuery, "range predicate on %s has no bound", d.Name)
		}
		if last.From != nil && last.To != nil && last.From.Group() != last.To.Group() {
			return "", errors.Newf(errors.ErrUnsupportedQuery, "range predicate %s mixes value groups", last)
		}
		return seekRange, nil
	case index.QueryStringPrefix:
		return seekPrefix, nil
	case index.QueryExists:
		return seekScan, nil
	case index.QueryStringSuffix, index.QueryStringContains:
		return seekSuffixContains, nil
	}
	return "", errors.Newf(errors.ErrUnsupportedQuery, "unsupported predicate %s", last)
}

// overlay is what the transaction changed in the part of an index a query
// reads.
type overlay struct {
	added   []txstate.IndexEntry
	removed *roaring64.Bitmap
}

// overlayFor queries the transaction's index entry diffs of sch.
func (tx *Tx) overlayFor(sch schema.Descriptor, kind seekKind, queries []index.Query) overlay {
	accept := func(t values.Tuple) bool { return index.AcceptsTuple(queries, t) }
	switch kind {
	case seekExact:
		tuple := make(values.Tuple, len(queries))
		for i, q := range queries {
			tuple[i] = q.Value
		}
		diff := tx.state.IndexUpdatesForSeek(sch, tuple)
		var added []txstate.IndexEntry
		for _, id := range diff.Added() {
			added = append(added, txstate.IndexEntry{ID: id, Values: tuple})
		}
		return overlay{added: added, removed: diff.RemovedBitmap()}
	case seekRange, seekPrefix:
		from, to := overlayBounds(queries)
		added, removed := tx.state.IndexUpdatesRange(sch, from, to, accept)
		return overlay{added: added, removed: removed}
	}
	if len(queries) == 1 && queries[0].Kind == index.QueryAllEntries {
		accept = nil
	}
	added, removed := tx.state.IndexUpdatesMatching(sch, accept)
	return overlay{added: added, removed: removed}
}

// overlayBounds returns the tuples bounding the diffs a range or prefix
// query can match, nil meaning open.
func overlayBounds(queries []index.Query) (from, to values.Tuple) {
	last := queries[len(queries)-1]
	for _, q := range queries[:len(queries)-1] {
		from = append(from, q.Value)
	}
	switch last.Kind {
	case index.QueryRange:
		if last.From != nil && last.From.Group() != values.GroupPoint {
			from = append(from, last.From)
		}
		if len(queries) == 1 && last.To != nil && last.To.Group() != values.GroupPoint {
			to = values.Tuple{last.To}
		}
	case index.QueryStringPrefix:
		from = append(from, values.Text(last.Text))
	}
	if len(from) == 0 {
		from = nil
	}
	return from, to
}

// resolveValueIndex checks that d can be read by the transaction as an
// index of entityType.
func (tx *Tx) resolveValueIndex(d schema.IndexDescriptor, entityType schema.EntityType) error {
	if d.IsNoIndex() {
		return errors.New(errors.ErrIndexNotFound, "cannot seek the NoIndex sentinel")
	}
	if tx.state.IndexIsRemoved(d.ID) {
		return errors.Newf(errors.ErrIndexNotFound, "index '%s' was dropped in this transaction", d.Name)
	}
	if d.Type != schema.IndexTypeRange {
		return errors.Newf(errors.ErrUnsupportedQuery, "index '%s' is not a value index", d.Name)
	}
	if d.Schema.EntityType != entityType {
		return errors.Newf(errors.ErrUnsupportedQuery, "index '%s' is a %s index", d.Name, d.Schema.EntityType)
	}
	return nil
}

// NodeIndexSeek positions c on the nodes of index d matching queries.
func (tx *Tx) NodeIndexSeek(d schema.IndexDescriptor, c *NodeValueIndexCursor, qc IndexQueryConstraints, queries ...index.Query) error {
	if err := c.begin(tx); err != nil {
		return err
	}
	c.clear()
	return c.seek(d, schema.Node, qc, queries)
}

// NodeIndexScan positions c on every node of index d.
func (tx *Tx) NodeIndexScan(d schema.IndexDescriptor, c *NodeValueIndexCursor, qc IndexQueryConstraints) error {
	return tx.NodeIndexSeek(d, c, qc, index.AllEntries())
}

// RelationshipIndexSeek positions c on the relationships of index d matching
// queries. Relationship indexes cannot order their results.
func (tx *Tx) RelationshipIndexSeek(d schema.IndexDescriptor, c *RelationshipValueIndexCursor, qc IndexQueryConstraints, queries ...index.Query) error {
	if err := c.begin(tx); err != nil {
		return err
	}
	c.clear()
	return c.seek(d, schema.Relationship, qc, queries)
}

// RelationshipIndexScan positions c on every relationship of index d.
func (tx *Tx) RelationshipIndexScan(d schema.IndexDescriptor, c *RelationshipValueIndexCursor, qc IndexQueryConstraints) error {
	return tx.RelationshipIndexSeek(d, c, qc, index.AllEntries())
}

// indexEntryVisible reports whether the entity of an index entry may be
// returned: it must be traversable and every indexed property readable.
func (tx *Tx) indexEntryVisible(d schema.IndexDescriptor, id int64) (bool, error) {
	if d.Schema.EntityType == schema.Relationship {
		if tx.mode.AllowsTraverseAllRelTypes() && tx.mode.AllowsTraverseAllLabels() && tx.mode.AllowsReadAllProperties() {
			return true, nil
		}
		rel, ok, err := tx.relationship(id)
		if err != nil || !ok {
			return false, err
		}
		if ok, err := tx.relationshipVisible(rel); err != nil || !ok {
			return false, err
		}
		for _, k := range d.Schema.PropertyKeys {
			if !tx.allowsReadRelationshipProperty(rel.Type, k) {
				return false, nil
			}
		}
		return true, nil
	}

	if tx.mode.AllowsTraverseAllLabels() && tx.mode.AllowsReadAllProperties() {
		return true, nil
	}
	labels, ok, err := tx.nodeLabels(id)
	if err != nil || !ok {
		return false, err
	}
	if ok, err := tx.nodeVisible(id, labels); err != nil || !ok {
		return false, err
	}
	for _, k := range d.Schema.PropertyKeys {
		if !tx.allowsReadNodeProperty(labels, k) {
			return false, nil
		}
	}
	return true, nil
}

// entityDeleted reports whether the transaction deleted the entity of an
// entry of d.
func (tx *Tx) entityDeleted(d schema.IndexDescriptor, id int64) bool {
	if d.Schema.EntityType == schema.Relationship {
		return tx.state.RelationshipIsDeletedInThisTx(id)
	}
	return tx.state.NodeIsDeletedInThisTx(id)
}

// exactTuple returns the values of an all-exact query list.
func exactTuple(d schema.IndexDescriptor, queries []index.Query) (values.Tuple, error) {
	kind, err := classify(d, queries)
	if err != nil {
		return nil, err
	}
	if kind != seekExact {
		return nil, errors.Newf(errors.ErrUnsupportedQuery, "unique seek on %s needs exact predicates only", d.Name)
	}
	tuple := make(values.Tuple, len(queries))
	for i, q := range queries {
		tuple[i] = q.Value
	}
	return tuple, nil
}

// findEntry returns an entity of d with exactly tuple as the transaction
// sees it, other than except. The committed index is read with a fresh
// reader, so entries committed since the transaction began are seen.
func (tx *Tx) findEntry(d schema.IndexDescriptor, tuple values.Tuple, except int64) (int64, bool, error) {
	diff := tx.state.IndexUpdatesForSeek(d.Schema, tuple)
	for _, id := range diff.Added() {
		if id != except {
			return id, true, nil
		}
	}

	r, err := tx.valueReader(d, true)
	if err != nil {
		return 0, false, err
	}
	queries := make([]index.Query, len(tuple))
	for i, v := range tuple {
		queries[i] = index.Exact(d.Schema.PropertyKeys[i], v)
	}
	p, err := r.Query(queries...)
	if err != nil {
		return 0, false, err
	}
	defer p.Close()
	for p.Next() {
		id := p.EntityID()
		if id == except || diff.IsRemoved(id) || tx.entityDeleted(d, id) {
			continue
		}
		return id, true, nil
	}
	return 0, false, nil
}
