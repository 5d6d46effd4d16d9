// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package boltdb_test

import (
	"testing"

	"github.com/featurebasedb/graphkernel/errors"
	"github.com/featurebasedb/graphkernel/schema"
	"github.com/featurebasedb/graphkernel/storage"
	"github.com/featurebasedb/graphkernel/storage/boltdb/test"
	"github.com/featurebasedb/graphkernel/values"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// changes adapts a function to storage.Changeset.
type changes func(v storage.Visitor) error

func (c changes) Accept(v storage.Visitor) error { return c(v) }

func TestStore_ApplyAndRead(t *testing.T) {
	s := test.MustOpenStore(t)

	a, b := s.NextNodeID(), s.NextNodeID()
	r1, r2 := s.NextRelationshipID(), s.NextRelationshipID()
	err := s.Apply(changes(func(v storage.Visitor) error {
		require.NoError(t, v.VisitCreatedNode(a))
		require.NoError(t, v.VisitCreatedNode(b))
		require.NoError(t, v.VisitNodeLabelChanges(a, []int32{2, 1}, nil))
		require.NoError(t, v.VisitNodePropertyChanges(a, []storage.Property{
			{Key: 1, Value: values.Int(1)},
			{Key: 2, Value: values.Text("x")},
		}, nil, nil))
		require.NoError(t, v.VisitCreatedRelationship(r1, 7, a, b))
		require.NoError(t, v.VisitCreatedRelationship(r2, 7, a, a))
		return nil
	}), storage.CountsDelta{
		storage.NodeCountsKey(schema.AnyToken): 2,
		storage.NodeCountsKey(1):               1,
	})
	require.NoError(t, err)

	r, err := s.Snapshot()
	require.NoError(t, err)
	defer r.Close()

	n, ok, err := r.Node(a)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []int32{1, 2}, n.Labels)
	assert.False(t, r.NodeExists(99))

	var props []storage.Property
	it := r.NodeProperties(a)
	for it.Next() {
		props = append(props, it.Property())
	}
	require.NoError(t, it.Err())
	if diff := cmp.Diff([]storage.Property{
		{Key: 1, Value: values.Int(1)},
		{Key: 2, Value: values.Text("x")},
	}, props); diff != "" {
		t.Fatalf("unexpected properties (-want +got):\n%s", diff)
	}

	v, ok, err := r.NodeProperty(a, 2)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.True(t, values.Text("x").Equals(v))

	var chain []int64
	ci := r.RelationshipChain(a, storage.NoID)
	for ci.Next() {
		chain = append(chain, ci.Relationship().ID)
	}
	assert.Equal(t, []int64{r1, r2}, chain)

	groups, err := r.RelationshipGroups(a)
	require.NoError(t, err)
	assert.Equal(t, []storage.Group{{Type: 7, Outgoing: 1, Loops: 1}}, groups)

	assert.Equal(t, int64(2), r.CountNodes(schema.AnyToken))
	assert.Equal(t, int64(1), r.CountNodes(1))
	assert.Equal(t, int64(2), r.HighNodeID())
}

func TestStore_DeleteNodeWithRelationships(t *testing.T) {
	s := test.MustOpenStore(t)
	a, b := s.NextNodeID(), s.NextNodeID()
	rel := s.NextRelationshipID()
	require.NoError(t, s.Apply(changes(func(v storage.Visitor) error {
		_ = v.VisitCreatedNode(a)
		_ = v.VisitCreatedNode(b)
		return v.VisitCreatedRelationship(rel, 1, a, b)
	}), nil))

	err := s.Apply(changes(func(v storage.Visitor) error {
		return v.VisitDeletedNode(a, nil)
	}), nil)
	assert.True(t, errors.Is(err, errors.ErrNodeHasRelationships))

	require.NoError(t, s.Apply(changes(func(v storage.Visitor) error {
		if err := v.VisitDeletedRelationship(rel, 1, a, b); err != nil {
			return err
		}
		return v.VisitDeletedNode(a, nil)
	}), nil))

	r, err := s.Snapshot()
	require.NoError(t, err)
	defer r.Close()
	assert.False(t, r.NodeExists(a))
	assert.False(t, r.RelationshipExists(rel))
	groups, err := r.RelationshipGroups(b)
	require.NoError(t, err)
	assert.Empty(t, groups)
}

func TestStore_DenseNodes(t *testing.T) {
	cfg := storage.NewDefaultConfig()
	cfg.DenseNodeThreshold = 3
	s := test.MustOpenStoreWithConfig(t, cfg)

	hub := s.NextNodeID()
	require.NoError(t, s.Apply(changes(func(v storage.Visitor) error {
		if err := v.VisitCreatedNode(hub); err != nil {
			return err
		}
		for i := 0; i < 3; i++ {
			other := s.NextNodeID()
			if err := v.VisitCreatedNode(other); err != nil {
				return err
			}
			if err := v.VisitCreatedRelationship(s.NextRelationshipID(), int32(i%2), hub, other); err != nil {
				return err
			}
		}
		return nil
	}), nil))

	r, err := s.Snapshot()
	require.NoError(t, err)
	defer r.Close()
	n, _, err := r.Node(hub)
	require.NoError(t, err)
	assert.True(t, n.Dense)

	var got int
	it := r.GroupChain(hub, 0, storage.Outgoing)
	for it.Next() {
		assert.Equal(t, int32(0), it.Relationship().Type)
		got++
	}
	assert.Equal(t, 2, got)
}

func TestStore_Schema(t *testing.T) {
	s := test.MustOpenStore(t)
	idx := schema.IndexDescriptor{ID: s.NextSchemaID(), Name: "by_name", Schema: schema.ForLabel(1, 2), Type: schema.IndexTypeRange}
	require.NoError(t, s.Apply(changes(func(v storage.Visitor) error {
		return v.VisitAddedIndex(idx)
	}), nil))

	r, err := s.Snapshot()
	require.NoError(t, err)
	got, err := r.Indexes()
	require.NoError(t, err)
	require.NoError(t, r.Close())
	if diff := cmp.Diff([]schema.IndexDescriptor{idx}, got); diff != "" {
		t.Fatalf("unexpected indexes (-want +got):\n%s", diff)
	}
}
