// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package kernel_test

import (
	"testing"

	"github.com/featurebasedb/graphkernel/index"
	"github.com/featurebasedb/graphkernel/kernel"
	"github.com/featurebasedb/graphkernel/logger"
	"github.com/featurebasedb/graphkernel/schema"
	"github.com/featurebasedb/graphkernel/security"
	"github.com/featurebasedb/graphkernel/storage"
	"github.com/featurebasedb/graphkernel/storage/boltdb/test"
	"github.com/featurebasedb/graphkernel/values"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// propertyReads counts the node property reads that reach the store.
type propertyReads struct {
	lookups int
	chains  int
}

type countingStore struct {
	storage.Store
	reads *propertyReads
}

func (s countingStore) Snapshot() (storage.Reader, error) {
	r, err := s.Store.Snapshot()
	if err != nil {
		return nil, err
	}
	return countingReader{Reader: r, reads: s.reads}, nil
}

type countingReader struct {
	storage.Reader
	reads *propertyReads
}

func (r countingReader) NodeProperty(id int64, key int32) (values.Value, bool, error) {
	r.reads.lookups++
	return r.Reader.NodeProperty(id, key)
}

func (r countingReader) NodeProperties(id int64) storage.PropertyIterator {
	r.reads.chains++
	return r.Reader.NodeProperties(id)
}

func TestIndexUpdates_ReadStoredPropertiesOnce(t *testing.T) {
	reads := &propertyReads{}
	e, err := kernel.NewEngine(newConfig(t),
		kernel.OptEngineStore(countingStore{Store: test.MustOpenStore(t), reads: reads}),
		kernel.OptEngineLogger(logger.NewLogfLogger(t)))
	require.NoError(t, err)
	require.NoError(t, e.Open())
	t.Cleanup(func() { require.NoError(t, e.Close()) })

	var n int64
	write(t, e, func(tx *kernel.Tx) {
		n = mustNode(t, tx)
		mustSet(t, tx, n, keyName, values.Text("ada"))
		mustSet(t, tx, n, keyAge, values.Int(36))
		mustSet(t, tx, n, keyCity, values.Text("london"))
	})
	byNameAge := mustCreateIndex(t, e, "person_name_age", schema.ForLabel(labelPerson, keyName, keyAge))
	byCity := mustCreateIndex(t, e, "person_city", schema.ForLabel(labelPerson, keyCity))

	tx := mustBegin(t, e, security.Full)
	*reads = propertyReads{}
	_, err = tx.NodeAddLabel(n, labelPerson)
	require.NoError(t, err)
	assert.Equal(t, propertyReads{chains: 1}, *reads, "one pass over the stored properties serves every index")

	assert.Equal(t, []int64{n}, seekIDs(t, tx, byNameAge, index.Exact(keyName, values.Text("ada")), index.Exact(keyAge, values.Int(36))))
	assert.Equal(t, []int64{n}, seekIDs(t, tx, byCity, index.Exact(keyCity, values.Text("london"))))

	// A key the transaction changed is taken from the overlay.
	mustSet(t, tx, n, keyAge, values.Int(37))
	assert.Equal(t, []int64{n}, seekIDs(t, tx, byNameAge, index.Exact(keyName, values.Text("ada")), index.Exact(keyAge, values.Int(37))))
	assert.Empty(t, seekIDs(t, tx, byNameAge, index.Exact(keyName, values.Text("ada")), index.Exact(keyAge, values.Int(36))))
}
