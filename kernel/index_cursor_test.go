// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package kernel_test

import (
	"context"
	"testing"
	"time"

	"github.com/featurebasedb/graphkernel/config"
	"github.com/featurebasedb/graphkernel/errors"
	"github.com/featurebasedb/graphkernel/index"
	"github.com/featurebasedb/graphkernel/kernel"
	"github.com/featurebasedb/graphkernel/schema"
	"github.com/featurebasedb/graphkernel/security"
	"github.com/featurebasedb/graphkernel/toml"
	"github.com/featurebasedb/graphkernel/values"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type hit struct {
	ID    int64
	Value values.Value
}

// seek returns the entries a node index seek reads along with the first
// indexed value of each.
func seek(t *testing.T, tx *kernel.Tx, d schema.IndexDescriptor, qc kernel.IndexQueryConstraints, queries ...index.Query) []hit {
	t.Helper()
	c := tx.Cursors().NodeValueIndexCursor()
	defer c.Close()
	require.NoError(t, tx.NodeIndexSeek(d, c, qc, queries...))
	var hits []hit
	for c.Next() {
		hits = append(hits, hit{ID: c.NodeID(), Value: c.PropertyValue(0)})
	}
	require.NoError(t, c.Err())
	return hits
}

func seekIDs(t *testing.T, tx *kernel.Tx, d schema.IndexDescriptor, queries ...index.Query) []int64 {
	t.Helper()
	var ids []int64
	for _, h := range seek(t, tx, d, kernel.Unconstrained(), queries...) {
		ids = append(ids, h.ID)
	}
	return ids
}

func seekErr(tx *kernel.Tx, d schema.IndexDescriptor, qc kernel.IndexQueryConstraints, queries ...index.Query) error {
	c := tx.Cursors().NodeValueIndexCursor()
	defer c.Close()
	return tx.NodeIndexSeek(d, c, qc, queries...)
}

// ages is a committed set of people indexed by age.
type ages struct {
	idx                schema.IndexDescriptor
	p10, p20, p30, p40 int64
	company            int64
}

func mustAges(t *testing.T, e *kernel.Engine) ages {
	t.Helper()
	var a ages
	write(t, e, func(tx *kernel.Tx) {
		for _, p := range []struct {
			id  *int64
			age int64
		}{{&a.p10, 10}, {&a.p20, 20}, {&a.p30, 30}, {&a.p40, 40}} {
			*p.id = mustNode(t, tx, labelPerson)
			mustSet(t, tx, *p.id, keyAge, values.Int(p.age))
		}
		a.company = mustNode(t, tx, labelCompany)
		mustSet(t, tx, a.company, keyAge, values.Int(25))
	})
	// Created after the data so that it is populated from the store.
	a.idx = mustCreateIndex(t, e, "person_age", schema.ForLabel(labelPerson, keyAge))
	return a
}

func TestNodeIndexSeek_Committed(t *testing.T) {
	e := mustOpenEngine(t)
	a := mustAges(t, e)
	tx := mustBegin(t, e, security.ReadOnly)

	state, err := tx.IndexGetState(a.idx)
	require.NoError(t, err)
	assert.Equal(t, schema.IndexOnline, state)

	assert.Equal(t, []int64{a.p20}, seekIDs(t, tx, a.idx, index.Exact(keyAge, values.Int(20))))
	assert.Equal(t, []int64{a.p20}, seekIDs(t, tx, a.idx, index.Exact(keyAge, values.Float(20))), "numbers compare across types")
	assert.Empty(t, seekIDs(t, tx, a.idx, index.Exact(keyAge, values.Int(25))), "company is not indexed")
	assert.Equal(t, []hit{{a.p20, values.Int(20)}, {a.p30, values.Int(30)}},
		seek(t, tx, a.idx, kernel.Ordered(kernel.OrderAscending), index.Range(keyAge, values.Int(20), true, values.Int(40), false)))
	assert.Equal(t, []hit{{a.p40, values.Int(40)}, {a.p30, values.Int(30)}},
		seek(t, tx, a.idx, kernel.Ordered(kernel.OrderDescending), index.Range(keyAge, values.Int(30), true, nil, false)))
	assert.ElementsMatch(t, []int64{a.p10, a.p20, a.p30, a.p40}, seekIDs(t, tx, a.idx, index.Exists(keyAge)))
}

func TestNodeIndexSeek_TransactionOverlay(t *testing.T) {
	e := mustOpenEngine(t)
	a := mustAges(t, e)

	tx := mustBegin(t, e, security.Full)
	mustSet(t, tx, a.p20, keyAge, values.Int(35))
	p15 := mustNode(t, tx, labelPerson)
	mustSet(t, tx, p15, keyAge, values.Int(15))
	ok, err := tx.NodeDelete(a.p40)
	require.NoError(t, err)
	require.True(t, ok)
	// Gaining the label brings the company into the index.
	_, err = tx.NodeAddLabel(a.company, labelPerson)
	require.NoError(t, err)
	// Losing the label takes p30 out.
	_, err = tx.NodeRemoveLabel(a.p30, labelPerson)
	require.NoError(t, err)

	assert.Equal(t, []hit{{a.p10, values.Int(10)}, {p15, values.Int(15)}, {a.company, values.Int(25)}, {a.p20, values.Int(35)}},
		seek(t, tx, a.idx, kernel.Ordered(kernel.OrderAscending), index.Range(keyAge, values.Int(0), true, values.Int(100), true)))
	assert.Equal(t, []hit{{a.p20, values.Int(35)}, {a.company, values.Int(25)}, {p15, values.Int(15)}, {a.p10, values.Int(10)}},
		seek(t, tx, a.idx, kernel.Ordered(kernel.OrderDescending), index.Exists(keyAge)))
	assert.Equal(t, []int64{a.p20}, seekIDs(t, tx, a.idx, index.Exact(keyAge, values.Int(35))))
	assert.Empty(t, seekIDs(t, tx, a.idx, index.Exact(keyAge, values.Int(20))), "old value is gone")
	assert.ElementsMatch(t, []int64{a.p10, p15, a.company, a.p20}, seekIDs(t, tx, a.idx, index.AllEntries()))

	// Values are only returned when asked for.
	c := tx.Cursors().NodeValueIndexCursor()
	defer c.Close()
	require.NoError(t, tx.NodeIndexSeek(a.idx, c, kernel.Unconstrained(), index.Exact(keyAge, values.Int(15))))
	require.True(t, c.Next())
	assert.False(t, c.HasValues())
	assert.Nil(t, c.Values())
	assert.Equal(t, float32(1), c.Score())
	nc := tx.Cursors().NodeCursor()
	defer nc.Close()
	require.NoError(t, c.Node(nc))
	require.True(t, nc.Next())
	assert.Equal(t, p15, nc.ID())

	// Committing applies the same view to the index.
	require.NoError(t, tx.Commit())
	after := mustBegin(t, e, security.ReadOnly)
	assert.Equal(t, []hit{{a.p10, values.Int(10)}, {p15, values.Int(15)}, {a.company, values.Int(25)}, {a.p20, values.Int(35)}},
		seek(t, after, a.idx, kernel.Ordered(kernel.OrderAscending), index.Exists(keyAge)))
}

func TestNodeIndexSeek_Text(t *testing.T) {
	e := mustOpenEngine(t)
	idx := mustCreateIndex(t, e, "person_name", schema.ForLabel(labelPerson, keyName))

	names := map[string]int64{}
	write(t, e, func(tx *kernel.Tx) {
		for _, n := range []string{"alice", "alfred", "bob", "carla"} {
			id := mustNode(t, tx, labelPerson)
			mustSet(t, tx, id, keyName, values.Text(n))
			names[n] = id
		}
	})

	tx := mustBegin(t, e, security.Full)
	alan := mustNode(t, tx, labelPerson)
	mustSet(t, tx, alan, keyName, values.Text("alan"))
	mustSet(t, tx, names["alice"], keyName, values.Text("beatrice"))

	assert.Equal(t, []hit{{alan, values.Text("alan")}, {names["alfred"], values.Text("alfred")}},
		seek(t, tx, idx, kernel.Ordered(kernel.OrderAscending), index.StringPrefix(keyName, "al")))
	assert.ElementsMatch(t, []int64{names["alice"]}, seekIDs(t, tx, idx, index.StringSuffix(keyName, "ice")))
	assert.ElementsMatch(t, []int64{names["alfred"], names["carla"], names["alice"]}, seekIDs(t, tx, idx, index.StringContains(keyName, "r")))
	assert.Equal(t, []hit{{names["alice"], values.Text("beatrice")}, {names["bob"], values.Text("bob")}},
		seek(t, tx, idx, kernel.Ordered(kernel.OrderAscending), index.Range(keyName, values.Text("b"), true, values.Text("c"), false)))
}

func TestNodeIndexSeek_Composite(t *testing.T) {
	e := mustOpenEngine(t)
	idx := mustCreateIndex(t, e, "person_city_age", schema.ForLabel(labelPerson, keyCity, keyAge))

	var ldn30, ldn40, nyc30 int64
	write(t, e, func(tx *kernel.Tx) {
		ldn30 = mustNode(t, tx, labelPerson)
		mustSet(t, tx, ldn30, keyCity, values.Text("london"))
		mustSet(t, tx, ldn30, keyAge, values.Int(30))
		ldn40 = mustNode(t, tx, labelPerson)
		mustSet(t, tx, ldn40, keyCity, values.Text("london"))
		mustSet(t, tx, ldn40, keyAge, values.Int(40))
		nyc30 = mustNode(t, tx, labelPerson)
		mustSet(t, tx, nyc30, keyCity, values.Text("nyc"))
		mustSet(t, tx, nyc30, keyAge, values.Int(30))
		// Incomplete tuples are not indexed.
		partial := mustNode(t, tx, labelPerson)
		mustSet(t, tx, partial, keyCity, values.Text("london"))
	})

	tx := mustBegin(t, e, security.Full)
	ldn35 := mustNode(t, tx, labelPerson)
	mustSet(t, tx, ldn35, keyCity, values.Text("london"))
	mustSet(t, tx, ldn35, keyAge, values.Int(35))

	assert.Equal(t, []int64{nyc30}, seekIDs(t, tx, idx, index.Exact(keyCity, values.Text("nyc")), index.Exact(keyAge, values.Int(30))))

	c := tx.Cursors().NodeValueIndexCursor()
	defer c.Close()
	require.NoError(t, tx.NodeIndexSeek(idx, c, kernel.Ordered(kernel.OrderAscending), index.Exact(keyCity, values.Text("london")), index.Exists(keyAge)))
	var got []values.Tuple
	var ids []int64
	for c.Next() {
		ids = append(ids, c.NodeID())
		got = append(got, c.Values())
	}
	require.NoError(t, c.Err())
	assert.Equal(t, []int64{ldn30, ldn35, ldn40}, ids)
	assert.Equal(t, []values.Tuple{
		{values.Text("london"), values.Int(30)},
		{values.Text("london"), values.Int(35)},
		{values.Text("london"), values.Int(40)},
	}, got)

	err := seekErr(tx, idx, kernel.Unconstrained(), index.Exact(keyCity, values.Text("london")), index.Range(keyAge, values.Int(1), true, nil, false))
	assert.True(t, errors.Is(err, errors.ErrUnsupportedQuery), "composite range must be rewritten as exists")
	err = seekErr(tx, idx, kernel.Unconstrained(), index.Exists(keyCity), index.Exact(keyAge, values.Int(30)))
	assert.True(t, errors.Is(err, errors.ErrUnsupportedQuery), "exact after a non-exact predicate")
}

func TestNodeIndexSeek_Unsupported(t *testing.T) {
	e := mustOpenEngine(t)
	a := mustAges(t, e)
	relIdx := mustCreateIndex(t, e, "knows_since", schema.ForRelType(typeKnows, keyAge))
	tx := mustBegin(t, e, security.ReadOnly)

	for _, tt := range []struct {
		name    string
		d       schema.IndexDescriptor
		qc      kernel.IndexQueryConstraints
		queries []index.Query
		code    errors.Code
	}{
		{"NoIndex", schema.NoIndex, kernel.Unconstrained(), []index.Query{index.Exists(keyAge)}, errors.ErrIndexNotFound},
		{"WrongKey", a.idx, kernel.Unconstrained(), []index.Query{index.Exact(keyName, values.Int(1))}, errors.ErrUnsupportedQuery},
		{"TooMany", a.idx, kernel.Unconstrained(), []index.Query{index.Exists(keyAge), index.Exists(keyAge)}, errors.ErrUnsupportedQuery},
		{"Unbounded", a.idx, kernel.Unconstrained(), []index.Query{index.Range(keyAge, nil, false, nil, false)}, errors.ErrUnsupportedQuery},
		{"MixedGroups", a.idx, kernel.Unconstrained(), []index.Query{index.Range(keyAge, values.Int(1), true, values.Text("x"), true)}, errors.ErrUnsupportedQuery},
		{"TokenQuery", a.idx, kernel.Unconstrained(), []index.Query{index.Token(labelPerson)}, errors.ErrUnsupportedQuery},
		{"RelationshipIndex", relIdx, kernel.Unconstrained(), []index.Query{index.Exists(keyAge)}, errors.ErrUnsupportedQuery},
	} {
		t.Run(tt.name, func(t *testing.T) {
			err := seekErr(tx, tt.d, tt.qc, tt.queries...)
			assert.True(t, errors.Is(err, tt.code), "got %v", err)
		})
	}

	rc := tx.Cursors().RelationshipValueIndexCursor()
	defer rc.Close()
	err := tx.RelationshipIndexSeek(relIdx, rc, kernel.Ordered(kernel.OrderAscending), index.Exists(keyAge))
	assert.True(t, errors.Is(err, errors.ErrUnsupportedQuery), "relationship indexes cannot order")
}

func TestNodeIndexSeek_DroppedInTransaction(t *testing.T) {
	e := mustOpenEngine(t)
	a := mustAges(t, e)

	tx := mustBegin(t, e, security.Full)
	require.NoError(t, tx.IndexDrop(a.idx))
	err := seekErr(tx, a.idx, kernel.Unconstrained(), index.Exists(keyAge))
	assert.True(t, errors.Is(err, errors.ErrIndexNotFound))
	_, err = tx.IndexGetState(a.idx)
	assert.True(t, errors.Is(err, errors.ErrIndexNotFound))
	assert.True(t, tx.IndexGetForName("person_age").IsNoIndex())

	// Other transactions still use it until the drop commits.
	other := mustBegin(t, e, security.ReadOnly)
	assert.Len(t, seekIDs(t, other, a.idx, index.Exists(keyAge)), 4)

	require.NoError(t, tx.Commit())
	after := mustBegin(t, e, security.ReadOnly)
	assert.Empty(t, after.IndexesGetAll())
	err = seekErr(after, a.idx, kernel.Unconstrained(), index.Exists(keyAge))
	assert.True(t, errors.Is(err, errors.ErrIndexNotFound))
}

func TestNodeIndexSeek_Security(t *testing.T) {
	e := mustOpenEngine(t)
	a := mustAges(t, e)
	write(t, e, func(tx *kernel.Tx) {
		_, err := tx.NodeAddLabel(a.p30, labelSecret)
		require.NoError(t, err)
	})

	mode := security.NewRestricted("analyst").GrantTraverseAllLabels().DenyTraverseLabels(labelSecret).GrantReadAll()
	tx := mustBegin(t, e, mode)
	assert.ElementsMatch(t, []int64{a.p10, a.p20, a.p40}, seekIDs(t, tx, a.idx, index.Exists(keyAge)))

	mode = security.NewRestricted("no-age").GrantTraverseAllLabels().GrantReadAll().DenyRead(keyAge)
	tx = mustBegin(t, e, mode)
	assert.Empty(t, seekIDs(t, tx, a.idx, index.Exists(keyAge)), "entries of unreadable properties are hidden")
}

func TestRelationshipIndexSeek(t *testing.T) {
	e := mustOpenEngine(t)
	idx := mustCreateIndex(t, e, "knows_since", schema.ForRelType(typeKnows, keyAge))

	var r1, r2 int64
	write(t, e, func(tx *kernel.Tx) {
		a, b := mustNode(t, tx), mustNode(t, tx)
		r1 = mustRelate(t, tx, typeKnows, a, b)
		r2 = mustRelate(t, tx, typeKnows, b, a)
		other := mustRelate(t, tx, typeFollows, a, b)
		for id, v := range map[int64]int64{r1: 2001, r2: 2010, other: 2001} {
			_, err := tx.RelationshipSetProperty(id, keyAge, values.Int(v))
			require.NoError(t, err)
		}
	})

	tx := mustBegin(t, e, security.Full)
	_, err := tx.RelationshipRemoveProperty(r2, keyAge)
	require.NoError(t, err)

	f := tx.Cursors()
	c := f.RelationshipValueIndexCursor()
	defer c.Close()
	require.NoError(t, tx.RelationshipIndexScan(idx, c, kernel.Unconstrained()))
	var ids []int64
	for c.Next() {
		ids = append(ids, c.RelationshipID())
	}
	require.NoError(t, c.Err())
	assert.Equal(t, []int64{r1}, ids)

	require.NoError(t, tx.RelationshipIndexSeek(idx, c, kernel.IndexQueryConstraints{NeedsValues: true}, index.Exact(keyAge, values.Int(2001))))
	require.True(t, c.Next())
	assert.Equal(t, r1, c.RelationshipID())
	assert.Equal(t, values.Tuple{values.Int(2001)}, c.Values())
	rc := f.RelationshipScanCursor()
	defer rc.Close()
	require.NoError(t, c.Relationship(rc))
	require.True(t, rc.Next())
	assert.Equal(t, typeKnows, rc.Type())
	assert.False(t, c.Next())

	// Deleting the relationship removes its entries.
	_, err = tx.RelationshipDelete(r1)
	require.NoError(t, err)
	require.NoError(t, tx.RelationshipIndexScan(idx, c, kernel.Unconstrained()))
	assert.False(t, c.Next())
}

func TestTokenIndexScan(t *testing.T) {
	e := mustOpenEngine(t)

	var p1, p2, p3, c1 int64
	var r1, r2 int64
	write(t, e, func(tx *kernel.Tx) {
		p1 = mustNode(t, tx, labelPerson)
		c1 = mustNode(t, tx, labelCompany)
		p2 = mustNode(t, tx, labelPerson)
		p3 = mustNode(t, tx, labelPerson, labelSecret)
		r1 = mustRelate(t, tx, typeWorksAt, p1, c1)
		r2 = mustRelate(t, tx, typeWorksAt, p2, c1)
	})

	tx := mustBegin(t, e, security.Full)
	c := tx.Cursors().NodeLabelIndexCursor()
	defer c.Close()
	err := tx.NodeLabelScan(labelPerson, c, kernel.OrderNone)
	assert.True(t, errors.Is(err, errors.ErrIndexNotFound), "no lookup index yet")
	tx.Rollback()

	mustCreateIndex(t, e, "labels", schema.ForAnyEntityTokens(schema.Node))
	mustCreateIndex(t, e, "types", schema.ForAnyEntityTokens(schema.Relationship))

	tx = mustBegin(t, e, security.Full)
	p4 := mustNode(t, tx, labelPerson)
	_, err = tx.NodeAddLabel(c1, labelPerson)
	require.NoError(t, err)
	_, err = tx.NodeRemoveLabel(p2, labelPerson)
	require.NoError(t, err)
	r3 := mustRelate(t, tx, typeWorksAt, p4, c1)
	_, err = tx.RelationshipDelete(r1)
	require.NoError(t, err)

	labelScan := func(tx *kernel.Tx, order kernel.IndexOrder) []int64 {
		c := tx.Cursors().NodeLabelIndexCursor()
		defer c.Close()
		require.NoError(t, tx.NodeLabelScan(labelPerson, c, order))
		var ids []int64
		for c.Next() {
			ids = append(ids, c.NodeID())
		}
		require.NoError(t, c.Err())
		return ids
	}
	assert.Equal(t, []int64{p1, c1, p3, p4}, labelScan(tx, kernel.OrderAscending))
	assert.Equal(t, []int64{p4, p3, c1, p1}, labelScan(tx, kernel.OrderDescending))
	assert.ElementsMatch(t, []int64{p1, c1, p3, p4}, labelScan(tx, kernel.OrderNone))

	tc := tx.Cursors().RelationshipTypeIndexCursor()
	defer tc.Close()
	require.NoError(t, tx.RelationshipTypeScan(typeWorksAt, tc, kernel.OrderAscending))
	var rels []int64
	for tc.Next() {
		rels = append(rels, tc.RelationshipID())
	}
	require.NoError(t, tc.Err())
	assert.Equal(t, []int64{r2, r3}, rels)

	hidden := security.NewRestricted("no-secrets").GrantTraverseAllLabels().DenyTraverseLabels(labelSecret).GrantTraverseAllRelTypes()
	reader := mustBegin(t, e, hidden)
	assert.Equal(t, []int64{p1, p2}, labelScan(reader, kernel.OrderAscending))
}

func TestLockingNodeUniqueIndexSeek(t *testing.T) {
	e := mustOpenEngine(t)

	var ada int64
	write(t, e, func(tx *kernel.Tx) {
		ada = mustNode(t, tx, labelPerson)
		mustSet(t, tx, ada, keyName, values.Text("ada"))
	})
	var cons schema.ConstraintDescriptor
	write(t, e, func(tx *kernel.Tx) {
		var err error
		cons, err = tx.UniquenessConstraintCreate("unique_name", schema.ForLabel(labelPerson, keyName))
		require.NoError(t, err)
	})
	require.NoError(t, e.AwaitIndexes(context.Background()))

	tx := mustBegin(t, e, security.Full)
	idx := tx.IndexGetForName("unique_name")
	require.False(t, idx.IsNoIndex())
	assert.True(t, idx.Unique)
	assert.Equal(t, cons.ID, idx.OwningConstraint)
	assert.Equal(t, []schema.ConstraintDescriptor{cons}, tx.ConstraintsGetAll())

	lookup := func(name string) []int64 {
		c := tx.Cursors().NodeValueIndexCursor()
		defer c.Close()
		require.NoError(t, tx.LockingNodeUniqueIndexSeek(idx, c, index.Exact(keyName, values.Text(name))))
		var ids []int64
		for c.Next() {
			ids = append(ids, c.NodeID())
			assert.Equal(t, values.Text(name), c.PropertyValue(0))
		}
		require.NoError(t, c.Err())
		return ids
	}
	assert.Equal(t, []int64{ada}, lookup("ada"))
	assert.Empty(t, lookup("bob"))

	bob := mustNode(t, tx, labelPerson)
	mustSet(t, tx, bob, keyName, values.Text("bob"))
	assert.Equal(t, []int64{bob}, lookup("bob"))

	dup := mustNode(t, tx, labelPerson)
	_, err := tx.NodeSetProperty(dup, keyName, values.Text("ada"))
	assert.True(t, errors.Is(err, errors.ErrUniquenessConflict), "got %v", err)

	// The conflict is also found when the label arrives last.
	other := mustNode(t, tx)
	mustSet(t, tx, other, keyName, values.Text("bob"))
	_, err = tx.NodeAddLabel(other, labelPerson)
	assert.True(t, errors.Is(err, errors.ErrUniquenessConflict), "got %v", err)

	c := tx.Cursors().NodeValueIndexCursor()
	defer c.Close()
	err = tx.LockingNodeUniqueIndexSeek(idx, c, index.StringPrefix(keyName, "a"))
	assert.True(t, errors.Is(err, errors.ErrUnsupportedQuery))
}

func TestLockingNodeUniqueIndexSeek_MissingEntryIsLocked(t *testing.T) {
	e := mustOpenEngine(t, func(cfg *config.Config) { cfg.Locks.WaitTimeout = toml.Duration(50 * time.Millisecond) })
	write(t, e, func(tx *kernel.Tx) {
		_, err := tx.UniquenessConstraintCreate("unique_name", schema.ForLabel(labelPerson, keyName))
		require.NoError(t, err)
	})
	require.NoError(t, e.AwaitIndexes(context.Background()))

	a := mustBegin(t, e, security.Full)
	idx := a.IndexGetForName("unique_name")
	c := a.Cursors().NodeValueIndexCursor()
	defer c.Close()
	require.NoError(t, a.LockingNodeUniqueIndexSeek(idx, c, index.Exact(keyName, values.Text("zed"))))
	assert.False(t, c.Next())

	b := mustBegin(t, e, security.Full)
	n := mustNode(t, b, labelPerson)
	_, err := b.NodeSetProperty(n, keyName, values.Text("zed"))
	assert.True(t, errors.Is(err, errors.ErrLockTimeout), "a holds the entry, got %v", err)
}

func TestUniquenessConstraint_NumbersOfDifferentTypesContend(t *testing.T) {
	e := mustOpenEngine(t, func(cfg *config.Config) { cfg.Locks.WaitTimeout = toml.Duration(50 * time.Millisecond) })
	write(t, e, func(tx *kernel.Tx) {
		_, err := tx.UniquenessConstraintCreate("unique_age", schema.ForLabel(labelPerson, keyAge))
		require.NoError(t, err)
	})
	require.NoError(t, e.AwaitIndexes(context.Background()))

	a := mustBegin(t, e, security.Full)
	b := mustBegin(t, e, security.Full)
	na := mustNode(t, a, labelPerson)
	_, err := a.NodeSetProperty(na, keyAge, values.Int(1000000))
	require.NoError(t, err)

	nb := mustNode(t, b, labelPerson)
	_, err = b.NodeSetProperty(nb, keyAge, values.Float(1e6))
	assert.True(t, errors.Is(err, errors.ErrLockTimeout), "a holds the entry, got %v", err)
	b.Rollback()
	require.NoError(t, a.Commit())

	c := mustBegin(t, e, security.Full)
	nc := mustNode(t, c, labelPerson)
	_, err = c.NodeSetProperty(nc, keyAge, values.Float(1e6))
	assert.True(t, errors.Is(err, errors.ErrUniquenessConflict), "got %v", err)
	idx := c.IndexGetForName("unique_age")
	assert.Equal(t, []int64{na}, seekIDs(t, c, idx, index.Exact(keyAge, values.Float(1e6))))
	c.Rollback()
}
