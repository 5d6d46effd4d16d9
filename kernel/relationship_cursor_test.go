// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package kernel_test

import (
	"testing"

	"github.com/featurebasedb/graphkernel/config"
	"github.com/featurebasedb/graphkernel/errors"
	"github.com/featurebasedb/graphkernel/kernel"
	"github.com/featurebasedb/graphkernel/schema"
	"github.com/featurebasedb/graphkernel/security"
	"github.com/featurebasedb/graphkernel/storage"
	"github.com/featurebasedb/graphkernel/values"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// triangle is a small committed graph around node a:
//
//	r1: a -KNOWS-> b
//	r2: b -KNOWS-> a
//	r3: a -WORKS_AT-> c
//	r4: a -KNOWS-> a
type triangle struct {
	a, b, c        int64
	r1, r2, r3, r4 int64
}

func mustTriangle(t *testing.T, e *kernel.Engine) triangle {
	t.Helper()
	var g triangle
	write(t, e, func(tx *kernel.Tx) {
		g.a = mustNode(t, tx, labelPerson)
		g.b = mustNode(t, tx, labelPerson)
		g.c = mustNode(t, tx, labelCompany)
		g.r1 = mustRelate(t, tx, typeKnows, g.a, g.b)
		g.r2 = mustRelate(t, tx, typeKnows, g.b, g.a)
		g.r3 = mustRelate(t, tx, typeWorksAt, g.a, g.c)
		g.r4 = mustRelate(t, tx, typeKnows, g.a, g.a)
	})
	return g
}

type groupCounts struct {
	Out, In, Loops, Total int64
	Outgoing, Incoming    []int64
}

// groups reads every relationship group of node.
func groups(t *testing.T, tx *kernel.Tx, node int64) map[int32]groupCounts {
	t.Helper()
	f := tx.Cursors()
	nc := f.NodeCursor()
	defer nc.Close()
	require.NoError(t, tx.SingleNode(node, nc))
	require.True(t, nc.Next())
	gc := f.RelationshipGroupCursor()
	defer gc.Close()
	require.NoError(t, nc.Groups(gc))

	out := make(map[int32]groupCounts)
	for gc.Next() {
		var g groupCounts
		var err error
		g.Out, err = gc.OutgoingCount()
		require.NoError(t, err)
		g.In, err = gc.IncomingCount()
		require.NoError(t, err)
		g.Loops, err = gc.LoopCount()
		require.NoError(t, err)
		g.Total, err = gc.TotalCount()
		require.NoError(t, err)

		rc := f.RelationshipTraversalCursor()
		require.NoError(t, gc.Outgoing(rc))
		for rc.Next() {
			g.Outgoing = append(g.Outgoing, rc.ID())
		}
		require.NoError(t, gc.Incoming(rc))
		for rc.Next() {
			g.Incoming = append(g.Incoming, rc.ID())
		}
		require.NoError(t, rc.Err())
		rc.Close()
		out[gc.Type()] = g
	}
	require.NoError(t, gc.Err())
	return out
}

func degree(t *testing.T, tx *kernel.Tx, node int64, relType int32, dir storage.Direction) int64 {
	t.Helper()
	nc := tx.Cursors().NodeCursor()
	defer nc.Close()
	require.NoError(t, tx.SingleNode(node, nc))
	require.True(t, nc.Next())
	n, err := nc.Degree(relType, dir)
	require.NoError(t, err)
	return n
}

func TestRelationshipTraversal_Directions(t *testing.T) {
	e := mustOpenEngine(t)
	g := mustTriangle(t, e)
	tx := mustBegin(t, e, security.ReadOnly)

	for _, tt := range []struct {
		name string
		tr   kernel.Traversal
		want []int64
	}{
		{"All", kernel.Direct{Type: schema.AnyToken, Dir: storage.Both}, []int64{g.r1, g.r2, g.r3, g.r4}},
		{"KnowsOut", kernel.Direct{Type: typeKnows, Dir: storage.Outgoing}, []int64{g.r1}},
		{"KnowsIn", kernel.Direct{Type: typeKnows, Dir: storage.Incoming}, []int64{g.r2}},
		{"KnowsLoop", kernel.Direct{Type: typeKnows, Dir: storage.Loop}, []int64{g.r4}},
		{"AnyOut", kernel.Direct{Type: schema.AnyToken, Dir: storage.Outgoing}, []int64{g.r1, g.r3}},
		{"FromFirstIncoming", kernel.FilterFromFirst{First: g.r2}, []int64{g.r2}},
		{"Empty", kernel.Empty{}, nil},
		{"NoRelationships", kernel.NoRelationships{Type: typeKnows, Dir: storage.Both}, nil},
	} {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, traverse(t, tx, g.a, tt.tr))
		})
	}

	rc := tx.Cursors().RelationshipTraversalCursor()
	defer rc.Close()
	require.NoError(t, tx.RelationshipTraversal(g.b, kernel.Direct{Type: typeKnows, Dir: storage.Outgoing}, rc))
	require.True(t, rc.Next())
	assert.Equal(t, g.r2, rc.ID())
	assert.Equal(t, g.b, rc.OriginNode())
	assert.Equal(t, g.a, rc.OtherNode())
	assert.Equal(t, g.b, rc.Source())
	assert.Equal(t, g.a, rc.Target())
	assert.Equal(t, typeKnows, rc.Type())
	assert.False(t, rc.Next())
}

func TestRelationshipTraversal_FilterFromFirstAddedInTransaction(t *testing.T) {
	e := mustOpenEngine(t)
	g := mustTriangle(t, e)
	tx := mustBegin(t, e, security.Full)

	n := mustNode(t, tx, labelPerson)
	m := mustNode(t, tx, labelPerson)
	k1 := mustRelate(t, tx, typeKnows, n, m)
	w := mustRelate(t, tx, typeWorksAt, n, m)
	k2 := mustRelate(t, tx, typeKnows, n, m)

	assert.Equal(t, []int64{k1, k2}, traverse(t, tx, n, kernel.FilterFromFirst{First: k1}))
	assert.Equal(t, []int64{k2}, traverse(t, tx, n, kernel.FilterFromFirst{First: k2}))
	assert.Equal(t, []int64{w}, traverse(t, tx, n, kernel.FilterFromFirst{First: w}))
	assert.Equal(t, []int64{k1, k2}, traverse(t, tx, m, kernel.FilterFromFirst{First: k1}), "incoming on the other end")

	// A committed node starting from a relationship added to it.
	r := mustRelate(t, tx, typeKnows, g.a, g.b)
	assert.Equal(t, []int64{r}, traverse(t, tx, g.a, kernel.FilterFromFirst{First: r}))
	assert.Equal(t, []int64{r}, traverse(t, tx, g.b, kernel.FilterFromFirst{First: r}))
}

func TestRelationshipTraversal_Overlay(t *testing.T) {
	e := mustOpenEngine(t)
	g := mustTriangle(t, e)

	tx := mustBegin(t, e, security.Full)
	ok, err := tx.RelationshipDelete(g.r1)
	require.NoError(t, err)
	require.True(t, ok)
	r5 := mustRelate(t, tx, typeFollows, g.a, g.b)
	r6 := mustRelate(t, tx, typeWorksAt, g.c, g.a)

	assert.Equal(t, []int64{g.r2, g.r3, g.r4, r5, r6}, traverse(t, tx, g.a, kernel.Direct{Type: schema.AnyToken, Dir: storage.Both}))
	assert.Empty(t, traverse(t, tx, g.a, kernel.Direct{Type: typeKnows, Dir: storage.Outgoing}))
	assert.Equal(t, []int64{r6}, traverse(t, tx, g.a, kernel.Direct{Type: typeWorksAt, Dir: storage.Incoming}))
	assert.Equal(t, []int64{r5}, traverse(t, tx, g.a, kernel.NoRelationships{Type: typeFollows, Dir: storage.Outgoing}))
	assert.Empty(t, traverse(t, tx, g.a, kernel.FilterFromFirst{First: g.r1}), "r1 decides the filter even though it is deleted")

	assert.Equal(t, int64(5), degree(t, tx, g.a, schema.AnyToken, storage.Both))
	assert.Equal(t, int64(2), degree(t, tx, g.a, typeKnows, storage.Both))
	assert.Equal(t, int64(1), degree(t, tx, g.a, typeWorksAt, storage.Incoming))
	assert.Equal(t, int64(0), degree(t, tx, g.a, typeKnows, storage.Outgoing))

	want := map[int32]groupCounts{
		typeKnows:   {Out: 0, In: 1, Loops: 1, Total: 2, Incoming: []int64{g.r2}},
		typeWorksAt: {Out: 1, In: 1, Total: 2, Outgoing: []int64{g.r3}, Incoming: []int64{r6}},
		typeFollows: {Out: 1, Total: 1, Outgoing: []int64{r5}},
	}
	if diff := cmp.Diff(want, groups(t, tx, g.a)); diff != "" {
		t.Fatalf("groups mismatch (-want +got):\n%s", diff)
	}

	exists, err := tx.RelationshipExists(g.r1)
	require.NoError(t, err)
	assert.False(t, exists)
	assert.True(t, tx.RelationshipDeletedInTransaction(g.r1))
	exists, err = tx.RelationshipExists(r5)
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestRelationshipTraversal_NodeCreatedInTransaction(t *testing.T) {
	e := mustOpenEngine(t)
	g := mustTriangle(t, e)

	tx := mustBegin(t, e, security.Full)
	d := mustNode(t, tx)
	r := mustRelate(t, tx, typeKnows, d, g.a)

	f := tx.Cursors()
	nc := f.NodeCursor()
	defer nc.Close()
	require.NoError(t, tx.SingleNode(d, nc))
	require.True(t, nc.Next())
	rc := f.RelationshipTraversalCursor()
	defer rc.Close()
	require.NoError(t, nc.Relationships(rc, schema.AnyToken, storage.Both))
	require.True(t, rc.Next())
	assert.Equal(t, r, rc.ID())
	assert.Equal(t, g.a, rc.OtherNode())
	assert.False(t, rc.Next())

	assert.Equal(t, map[int32]groupCounts{typeKnows: {Out: 1, Total: 1, Outgoing: []int64{r}}}, groups(t, tx, d))
}

func TestRelationshipTraversal_DenseNode(t *testing.T) {
	e := mustOpenEngine(t, func(cfg *config.Config) { cfg.Store.DenseNodeThreshold = 3 })

	var hub int64
	var knows, works []int64
	write(t, e, func(tx *kernel.Tx) {
		hub = mustNode(t, tx, labelPerson)
		for i := 0; i < 3; i++ {
			knows = append(knows, mustRelate(t, tx, typeKnows, hub, mustNode(t, tx, labelPerson)))
		}
		works = append(works, mustRelate(t, tx, typeWorksAt, mustNode(t, tx, labelCompany), hub))
	})

	tx := mustBegin(t, e, security.Full)
	extra := mustRelate(t, tx, typeKnows, hub, hub)
	ok, err := tx.RelationshipDelete(knows[0])
	require.NoError(t, err)
	require.True(t, ok)

	f := tx.Cursors()
	nc := f.NodeCursor()
	defer nc.Close()
	require.NoError(t, tx.SingleNode(hub, nc))
	require.True(t, nc.Next())
	rc := f.RelationshipTraversalCursor()
	defer rc.Close()

	require.NoError(t, nc.Relationships(rc, typeKnows, storage.Outgoing))
	var got []int64
	for rc.Next() {
		got = append(got, rc.ID())
	}
	require.NoError(t, rc.Err())
	assert.Equal(t, knows[1:], got)

	n, err := nc.Degree(typeKnows, storage.Both)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
	n, err = nc.Degree(typeKnows, storage.Loop)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	want := map[int32]groupCounts{
		typeKnows:   {Out: 2, Loops: 1, Total: 3, Outgoing: knows[1:]},
		typeWorksAt: {In: 1, Total: 1, Incoming: works},
	}
	if diff := cmp.Diff(want, groups(t, tx, hub)); diff != "" {
		t.Fatalf("groups mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, []int64{extra}, traverse(t, tx, hub, kernel.GroupPositioned{Type: typeKnows, Dir: storage.Loop}))
}

func TestRelationshipScan(t *testing.T) {
	e := mustOpenEngine(t)
	g := mustTriangle(t, e)

	tx := mustBegin(t, e, security.Full)
	_, err := tx.RelationshipDelete(g.r3)
	require.NoError(t, err)
	r5 := mustRelate(t, tx, typeFollows, g.b, g.c)
	_, err = tx.RelationshipSetProperty(g.r1, keyAge, values.Int(3))
	require.NoError(t, err)

	f := tx.Cursors()
	c := f.RelationshipScanCursor()
	defer c.Close()
	require.NoError(t, tx.AllRelationshipsScan(c))
	var got []int64
	for c.Next() {
		got = append(got, c.ID())
	}
	require.NoError(t, c.Err())
	assert.Equal(t, []int64{g.r1, g.r2, g.r4, r5}, got)

	require.NoError(t, tx.SingleRelationship(g.r3, c))
	assert.False(t, c.Next())

	require.NoError(t, tx.SingleRelationship(g.r1, c))
	require.True(t, c.Next())
	pc := f.PropertyCursor()
	defer pc.Close()
	require.NoError(t, c.Properties(pc))
	require.True(t, pc.Next())
	assert.Equal(t, keyAge, pc.PropertyKey())
	assert.Equal(t, values.Int(3), pc.PropertyValue())
	assert.Equal(t, values.GroupNumber, pc.PropertyType())
	assert.False(t, pc.Next())
	assert.Equal(t, values.Int(3), tx.RelationshipPropertyChangeInTransactionOrNull(g.r1, keyAge))
}

func TestRelationshipTraversal_Security(t *testing.T) {
	e := mustOpenEngine(t)
	g := mustTriangle(t, e)

	t.Run("DeniedType", func(t *testing.T) {
		mode := security.NewRestricted("no-knows").GrantTraverseAllLabels().GrantTraverseAllRelTypes().DenyTraverseRelTypes(typeKnows).GrantReadAll()
		tx := mustBegin(t, e, mode)
		assert.Equal(t, []int64{g.r3}, traverse(t, tx, g.a, kernel.Direct{Type: schema.AnyToken, Dir: storage.Both}))
		assert.Equal(t, int64(1), degree(t, tx, g.a, schema.AnyToken, storage.Both))
		assert.Equal(t, map[int32]groupCounts{typeWorksAt: {Out: 1, Total: 1, Outgoing: []int64{g.r3}}}, groups(t, tx, g.a))
	})

	t.Run("HiddenEndpoint", func(t *testing.T) {
		mode := security.NewRestricted("people").GrantTraverseLabels(labelPerson).GrantTraverseAllRelTypes().GrantReadAll()
		tx := mustBegin(t, e, mode)
		assert.Equal(t, []int64{g.r1, g.r2, g.r4}, traverse(t, tx, g.a, kernel.Direct{Type: schema.AnyToken, Dir: storage.Both}))
		assert.Equal(t, int64(0), degree(t, tx, g.a, typeWorksAt, storage.Both))

		exists, err := tx.RelationshipExists(g.r3)
		require.NoError(t, err)
		assert.False(t, exists)
	})
}

func TestRelationshipCreate_MissingEndpoint(t *testing.T) {
	e := mustOpenEngine(t)
	tx := mustBegin(t, e, security.Full)
	a := mustNode(t, tx)
	_, err := tx.RelationshipCreate(typeKnows, a, a+100)
	assert.True(t, errors.Is(err, errors.ErrEntityNotFound))
}
