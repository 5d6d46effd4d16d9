// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package kernel_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/featurebasedb/graphkernel/errors"
	"github.com/featurebasedb/graphkernel/kernel"
	"github.com/featurebasedb/graphkernel/schema"
	"github.com/featurebasedb/graphkernel/security"
	"github.com/featurebasedb/graphkernel/storage"
	"github.com/featurebasedb/graphkernel/values"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNodeDelete_WithRelationships(t *testing.T) {
	e := mustOpenEngine(t)
	g := mustTriangle(t, e)

	tx := mustBegin(t, e, security.Full)
	_, err := tx.NodeDelete(g.a)
	assert.True(t, errors.Is(err, errors.ErrNodeHasRelationships), "got %v", err)

	n, err := tx.NodeDetachDelete(g.a)
	require.NoError(t, err)
	assert.Equal(t, 4, n, "the loop is deleted once")
	for _, r := range []int64{g.r1, g.r2, g.r3, g.r4} {
		ok, err := tx.RelationshipExists(r)
		require.NoError(t, err)
		assert.False(t, ok, "relationship %d", r)
	}

	// b has no relationships left once a is gone.
	ok, err := tx.NodeDelete(g.b)
	require.NoError(t, err)
	assert.True(t, ok)
	require.NoError(t, tx.Commit())

	assert.ElementsMatch(t, []int64{g.c}, scanNodes(t, mustBegin(t, e, security.ReadOnly)))
}

func TestNodeDetachDelete_RelationshipsCreatedInTransaction(t *testing.T) {
	e := mustOpenEngine(t)
	tx := mustBegin(t, e, security.Full)
	a := mustNode(t, tx)
	b := mustNode(t, tx)
	mustRelate(t, tx, typeKnows, a, b)
	mustRelate(t, tx, typeKnows, b, b)

	n, err := tx.NodeDetachDelete(b)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, int64(0), degree(t, tx, a, schema.AnyToken, storage.Both))
}

func TestRelationshipDelete(t *testing.T) {
	e := mustOpenEngine(t)
	g := mustTriangle(t, e)

	tx := mustBegin(t, e, security.Full)
	ok, err := tx.RelationshipDelete(g.r3)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = tx.RelationshipDelete(g.r3)
	require.NoError(t, err)
	assert.False(t, ok)
	ok, err = tx.RelationshipDelete(g.r4 + 100)
	require.NoError(t, err)
	assert.False(t, ok)

	// c is now free to go.
	ok, err = tx.NodeDelete(g.c)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestSchema_Indexes(t *testing.T) {
	e := mustOpenEngine(t)
	write(t, e, func(tx *kernel.Tx) { mustNode(t, tx, labelPerson) })

	tx := mustBegin(t, e, security.Full)
	d, err := tx.IndexCreate("", schema.ForLabel(labelPerson, keyAge))
	require.NoError(t, err)
	assert.Equal(t, fmt.Sprintf("index_%d", d.ID), d.Name)
	assert.Equal(t, schema.IndexTypeRange, d.Type)

	state, err := tx.IndexGetState(d)
	require.NoError(t, err)
	assert.Equal(t, schema.IndexPopulating, state, "an uncommitted index is populating")

	_, err = tx.IndexCreate("other", schema.ForLabel(labelPerson, keyAge))
	assert.True(t, errors.Is(err, errors.ErrSchemaRuleExists), "same schema: %v", err)
	_, err = tx.IndexCreate(d.Name, schema.ForLabel(labelPerson, keyName))
	assert.True(t, errors.Is(err, errors.ErrSchemaRuleExists), "same name: %v", err)

	rel, err := tx.IndexCreate("knows_since", schema.ForRelType(typeKnows, keyAge))
	require.NoError(t, err)
	lookup, err := tx.IndexCreate("labels", schema.ForAnyEntityTokens(schema.Node))
	require.NoError(t, err)
	assert.Equal(t, schema.IndexTypeLookup, lookup.Type)

	assert.Equal(t, []schema.IndexDescriptor{d}, tx.IndexesGetForLabel(labelPerson))
	assert.Equal(t, []schema.IndexDescriptor{rel}, tx.IndexesGetForRelType(typeKnows))
	assert.Empty(t, tx.IndexesGetForLabel(labelCompany))
	assert.Equal(t, rel, tx.IndexGetForName("knows_since"))
	assert.True(t, tx.IndexGetForName("missing").IsNoIndex())
	require.NoError(t, tx.Commit())
	require.NoError(t, e.AwaitIndexes(context.Background()))

	tx = mustBegin(t, e, security.Full)
	assert.Len(t, tx.IndexesGetAll(), 3)
	state, err = tx.IndexGetState(d)
	require.NoError(t, err)
	assert.Equal(t, schema.IndexOnline, state)
	msg, err := tx.IndexGetFailure(d)
	require.NoError(t, err)
	assert.Empty(t, msg)

	require.NoError(t, tx.IndexDrop(d))
	_, err = tx.IndexGetState(d)
	assert.True(t, errors.Is(err, errors.ErrIndexNotFound), "got %v", err)
	err = tx.IndexDrop(d)
	assert.True(t, errors.Is(err, errors.ErrSchemaRuleNotFound), "got %v", err)
	assert.True(t, tx.IndexGetForName(d.Name).IsNoIndex())
	require.NoError(t, tx.Commit())

	tx = mustBegin(t, e, security.ReadOnly)
	var names []string
	for _, x := range tx.IndexesGetAll() {
		names = append(names, x.Name)
	}
	assert.Equal(t, []string{rel.Name, lookup.Name}, names)
}

func TestSchema_UniquenessConstraint(t *testing.T) {
	e := mustOpenEngine(t)
	var dup int64
	write(t, e, func(tx *kernel.Tx) {
		a := mustNode(t, tx, labelPerson)
		mustSet(t, tx, a, keyName, values.Text("ada"))
		dup = mustNode(t, tx, labelPerson)
		mustSet(t, tx, dup, keyName, values.Text("ada"))
		b := mustNode(t, tx, labelPerson)
		mustSet(t, tx, b, keyCity, values.Text("paris"))
	})

	tx := mustBegin(t, e, security.Full)
	_, err := tx.UniquenessConstraintCreate("unique_name", schema.ForLabel(labelPerson, keyName))
	assert.True(t, errors.Is(err, errors.ErrUniquenessConflict), "got %v", err)
	_, err = tx.UniquenessConstraintCreate("", schema.ForRelType(typeKnows, keyName))
	assert.True(t, errors.Is(err, errors.ErrUnsupportedQuery), "got %v", err)
	tx.Rollback()

	write(t, e, func(tx *kernel.Tx) {
		_, err := tx.NodeRemoveProperty(dup, keyName)
		require.NoError(t, err)
	})

	var c schema.ConstraintDescriptor
	write(t, e, func(tx *kernel.Tx) {
		var err error
		c, err = tx.UniquenessConstraintCreate("", schema.ForLabel(labelPerson, keyName))
		require.NoError(t, err)
		assert.Equal(t, fmt.Sprintf("constraint_%d", c.ID), c.Name)
		assert.Equal(t, schema.ConstraintUniqueness, c.Type)

		_, err = tx.UniquenessConstraintCreate("again", schema.ForLabel(labelPerson, keyName))
		assert.True(t, errors.Is(err, errors.ErrSchemaRuleExists), "got %v", err)
	})
	require.NoError(t, e.AwaitIndexes(context.Background()))

	tx = mustBegin(t, e, security.Full)
	all := tx.ConstraintsGetAll()
	require.Len(t, all, 1)
	assert.Equal(t, c.ID, all[0].ID)
	assert.Equal(t, c.Name, all[0].Name)
	assert.Equal(t, c.OwnedIndex, all[0].OwnedIndex)
	d := tx.IndexGetForName(c.Name)
	require.False(t, d.IsNoIndex())
	assert.Equal(t, c.OwnedIndex, d.ID)
	assert.Equal(t, c.ID, d.OwningConstraint)
	assert.True(t, d.Unique)

	err = tx.IndexDrop(d)
	assert.True(t, errors.Is(err, errors.ErrUnsupportedQuery), "owned indexes go with their constraint: %v", err)
	require.NoError(t, tx.ConstraintDrop(c))
	assert.Empty(t, tx.ConstraintsGetAll())
	assert.True(t, tx.IndexGetForName(c.Name).IsNoIndex())
	err = tx.ConstraintDrop(c)
	assert.True(t, errors.Is(err, errors.ErrSchemaRuleNotFound), "got %v", err)
	require.NoError(t, tx.Commit())

	tx = mustBegin(t, e, security.ReadOnly)
	assert.Empty(t, tx.ConstraintsGetAll())
	assert.Empty(t, tx.IndexesGetAll())
}

func TestAllNodesScanPartitioned(t *testing.T) {
	e := mustOpenEngine(t)
	var want []int64
	write(t, e, func(tx *kernel.Tx) {
		for i := 0; i < 10; i++ {
			want = append(want, mustNode(t, tx, labelPerson))
		}
	})
	write(t, e, func(tx *kernel.Tx) {
		_, err := tx.NodeDelete(want[4])
		require.NoError(t, err)
	})
	want = append(want[:4], want[5:]...)

	tx := mustBegin(t, e, security.Full)
	mustNode(t, tx)
	_, err := tx.AllNodesScanPartitioned(3)
	assert.True(t, errors.Is(err, errors.ErrTransactionHasChanges), "got %v", err)
	tx.Rollback()

	for _, parts := range []int{1, 3, 20} {
		t.Run(fmt.Sprintf("Partitions%d", parts), func(t *testing.T) {
			tx := mustBegin(t, e, security.ReadOnly)
			scan, err := tx.AllNodesScanPartitioned(parts)
			require.NoError(t, err)
			assert.LessOrEqual(t, scan.Partitions(), parts)

			var got []int64
			reserved := 0
			for {
				c := tx.Cursors().NodeCursor()
				ok, err := scan.Reserve(c)
				require.NoError(t, err)
				if !ok {
					c.Close()
					break
				}
				reserved++
				for c.Next() {
					got = append(got, c.ID())
				}
				require.NoError(t, c.Err())
				c.Close()
			}
			assert.Equal(t, scan.Partitions(), reserved)
			assert.ElementsMatch(t, want, got)
		})
	}
}

func TestCallProcedure(t *testing.T) {
	e := mustOpenEngine(t)
	write(t, e, func(tx *kernel.Tx) {
		mustNode(t, tx, labelPerson)
		mustNode(t, tx, labelPerson)
		mustNode(t, tx, labelSecret)
	})
	d := mustCreateIndex(t, e, "person_age", schema.ForLabel(labelPerson, keyAge))
	ctx := context.Background()

	tx := mustBegin(t, e, security.Full)
	rows, err := tx.CallProcedure(ctx, "db.countNodes", values.Int(labelPerson))
	require.NoError(t, err)
	assert.Equal(t, []values.Tuple{{values.Int(2)}}, rows)
	rows, err = tx.CallProcedure(ctx, "DB.COUNTNODES")
	require.NoError(t, err)
	assert.Equal(t, []values.Tuple{{values.Int(3)}}, rows, "names are case insensitive")

	rows, err = tx.CallProcedure(ctx, "db.indexes")
	require.NoError(t, err)
	assert.Equal(t, []values.Tuple{{values.Int(d.ID), values.Text("person_age"), values.Text("ONLINE")}}, rows)

	_, err = tx.CallProcedure(ctx, "db.nope")
	assert.True(t, errors.Is(err, errors.ErrProcedureNotFound), "got %v", err)
	_, err = tx.CallProcedure(ctx, "db.countNodes", values.Text("person"))
	assert.Error(t, err)

	sig, err := e.Procedures().Resolve("db.countNodes")
	require.NoError(t, err)

	t.Run("NotExecutable", func(t *testing.T) {
		mode := security.NewRestricted("reader").GrantTraverseAllLabels()
		tx := mustBegin(t, e, mode)
		_, err := tx.CallProcedure(ctx, "db.countNodes")
		assert.True(t, errors.Is(err, errors.ErrAuthorizationViolation), "got %v", err)
	})

	t.Run("Executable", func(t *testing.T) {
		mode := security.NewRestricted("reader").GrantTraverseAllLabels().DenyTraverseLabels(labelSecret).GrantExecute(sig.ID)
		tx := mustBegin(t, e, mode)
		rows, err := tx.CallProcedure(ctx, "db.countNodes", values.Int(labelSecret))
		require.NoError(t, err)
		assert.Equal(t, []values.Tuple{{values.Int(0)}}, rows)
	})

	t.Run("Boosted", func(t *testing.T) {
		mode := security.NewRestricted("reader").GrantTraverseAllLabels().DenyTraverseLabels(labelSecret).
			GrantExecute(sig.ID).GrantBoostedExecute(sig.ID)
		tx := mustBegin(t, e, mode)
		rows, err := tx.CallProcedure(ctx, "db.countNodes", values.Int(labelSecret))
		require.NoError(t, err)
		assert.Equal(t, []values.Tuple{{values.Int(1)}}, rows)

		// The boost ends with the call.
		n, err := tx.CountsForNode(labelSecret)
		require.NoError(t, err)
		assert.Equal(t, int64(0), n)
	})
}
