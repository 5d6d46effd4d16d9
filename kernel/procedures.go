// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package kernel

import (
	"context"

	"github.com/featurebasedb/graphkernel/procedures"
	"github.com/featurebasedb/graphkernel/security"
	"github.com/featurebasedb/graphkernel/values"
)

// CallProcedure runs the procedure or function registered as name with
// args. A boosted procedure reads the transaction with full access for the
// duration of the call only.
func (tx *Tx) CallProcedure(ctx context.Context, name string, args ...values.Value) ([]values.Tuple, error) {
	if err := tx.assertOpen(); err != nil {
		return nil, err
	}
	reg := tx.engine.procedures
	sig, err := reg.Resolve(name)
	if err != nil {
		return nil, err
	}
	original := tx.mode
	defer func() { tx.mode = original }()
	return reg.Call(ctx, original, sig.ID, args, func(m security.AccessMode) procedures.Graph {
		tx.mode = m
		return txGraph{tx: tx}
	})
}

// txGraph is the view of a transaction handed to procedures.
type txGraph struct {
	tx *Tx
}

func (g txGraph) AccessMode() security.AccessMode { return g.tx.mode }

func (g txGraph) NodeExists(id int64) (bool, error) { return g.tx.NodeExists(id) }

func (g txGraph) NodeLabels(id int64) ([]int32, error) {
	c := g.tx.Cursors().NodeCursor()
	defer c.Close()
	if err := g.tx.SingleNode(id, c); err != nil {
		return nil, err
	}
	if !c.Next() {
		return nil, c.Err()
	}
	return c.Labels(), nil
}

func (g txGraph) NodeProperty(id int64, key int32) (values.Value, error) {
	f := g.tx.Cursors()
	nc := f.NodeCursor()
	defer nc.Close()
	if err := g.tx.SingleNode(id, nc); err != nil {
		return nil, err
	}
	if !nc.Next() {
		return values.NoValue, nc.Err()
	}
	pc := f.PropertyCursor()
	defer pc.Close()
	if err := nc.Properties(pc); err != nil {
		return nil, err
	}
	for pc.Next() {
		if pc.PropertyKey() == key {
			return pc.PropertyValue(), nil
		}
	}
	return values.NoValue, pc.Err()
}

func (g txGraph) CountNodes(label int32) (int64, error) { return g.tx.CountsForNode(label) }
