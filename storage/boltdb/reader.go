// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package boltdb

import (
	"bytes"
	"encoding/binary"
	"sort"

	"github.com/featurebasedb/graphkernel/errors"
	"github.com/featurebasedb/graphkernel/schema"
	"github.com/featurebasedb/graphkernel/storage"
	"github.com/featurebasedb/graphkernel/values"
	"github.com/vmihailenco/msgpack/v5"
	bolt "go.etcd.io/bbolt"
)

// Ensure type implements interface.
var _ storage.Reader = (*Reader)(nil)

// Reader is a storage.Reader over one read-only bolt transaction.
type Reader struct {
	tx *bolt.Tx

	nodes         *bolt.Bucket
	relationships *bolt.Bucket
	nodeProps     *bolt.Bucket
	relProps      *bolt.Bucket
	chains        *bolt.Bucket
	groups        *bolt.Bucket
	groupCounts   *bolt.Bucket
	counts        *bolt.Bucket
	schema        *bolt.Bucket
	meta          *bolt.Bucket
}

func newReader(tx *bolt.Tx) (*Reader, error) {
	r := &Reader{tx: tx}
	for _, b := range []struct {
		name Bucket
		dst  **bolt.Bucket
	}{
		{bucketNodes, &r.nodes},
		{bucketRelationships, &r.relationships},
		{bucketNodeProperties, &r.nodeProps},
		{bucketRelationshipProperties, &r.relProps},
		{bucketChains, &r.chains},
		{bucketGroups, &r.groups},
		{bucketGroupCounts, &r.groupCounts},
		{bucketCounts, &r.counts},
		{bucketSchema, &r.schema},
		{bucketMeta, &r.meta},
	} {
		bkt := tx.Bucket(b.name)
		if bkt == nil {
			return nil, errors.Errorf(ErrFmtBucketNotFound, b.name)
		}
		*b.dst = bkt
	}
	return r, nil
}

func (r *Reader) NodeExists(id int64) bool {
	return id >= 0 && r.nodes.Get(idKey(id)) != nil
}

func (r *Reader) Node(id int64) (storage.NodeRecord, bool, error) {
	if id < 0 {
		return storage.NodeRecord{}, false, nil
	}
	buf := r.nodes.Get(idKey(id))
	if buf == nil {
		return storage.NodeRecord{}, false, nil
	}
	n, err := decodeNode(id, buf)
	return n, err == nil, err
}

func (r *Reader) RelationshipExists(id int64) bool {
	return id >= 0 && r.relationships.Get(idKey(id)) != nil
}

func (r *Reader) Relationship(id int64) (storage.RelationshipRecord, bool, error) {
	if id < 0 {
		return storage.RelationshipRecord{}, false, nil
	}
	buf := r.relationships.Get(idKey(id))
	if buf == nil {
		return storage.RelationshipRecord{}, false, nil
	}
	rel, err := decodeRelationship(id, buf)
	return rel, err == nil, err
}

func (r *Reader) ScanNodes(from int64) storage.NodeIterator {
	if from < 0 {
		from = 0
	}
	return &nodeIterator{c: r.nodes.Cursor(), seek: idKey(from)}
}

func (r *Reader) ScanRelationships(from int64) storage.RelationshipIterator {
	if from < 0 {
		from = 0
	}
	return &relationshipScanIterator{c: r.relationships.Cursor(), seek: idKey(from)}
}

func (r *Reader) NodeProperties(id int64) storage.PropertyIterator {
	return newPropertyIterator(r.nodeProps, id)
}

func (r *Reader) RelationshipProperties(id int64) storage.PropertyIterator {
	return newPropertyIterator(r.relProps, id)
}

func (r *Reader) NodeProperty(id int64, key int32) (values.Value, bool, error) {
	return getProperty(r.nodeProps, id, key)
}

func (r *Reader) RelationshipProperty(id int64, key int32) (values.Value, bool, error) {
	return getProperty(r.relProps, id, key)
}

func getProperty(bkt *bolt.Bucket, id int64, key int32) (values.Value, bool, error) {
	buf := bkt.Get(propertyKey(id, key))
	if buf == nil {
		return values.NoValue, false, nil
	}
	v, err := values.Unmarshal(buf)
	return v, err == nil, err
}

func (r *Reader) RelationshipChain(node int64, from int64) storage.RelationshipIterator {
	prefix := idKey(node)
	seek := prefix
	if from != storage.NoID {
		seek = chainKey(node, from)
	}
	return &linkIterator{c: r.chains.Cursor(), prefix: prefix, seek: seek, rels: r}
}

func (r *Reader) GroupChain(node int64, relType int32, dir storage.Direction) storage.RelationshipIterator {
	prefix := groupPrefix(node, relType)
	if dir != storage.Both {
		prefix = groupCountKey(node, relType, dir)
	}
	return &linkIterator{c: r.groups.Cursor(), prefix: prefix, seek: prefix, rels: r}
}

func (r *Reader) RelationshipGroups(node int64) ([]storage.Group, error) {
	prefix := idKey(node)
	var out []storage.Group
	c := r.groupCounts.Cursor()
	for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
		if len(k) != 13 {
			return nil, errors.Errorf("malformed group key %x", k)
		}
		relType := int32(binary.BigEndian.Uint32(k[8:]))
		if len(out) == 0 || out[len(out)-1].Type != relType {
			out = append(out, storage.Group{Type: relType})
		}
		g := &out[len(out)-1]
		n := decodeInt64(v)
		switch storage.Direction(k[12]) {
		case storage.Outgoing:
			g.Outgoing = n
		case storage.Incoming:
			g.Incoming = n
		case storage.Loop:
			g.Loops = n
		}
	}
	return out, nil
}

func (r *Reader) CountNodes(label int32) int64 {
	return decodeInt64(r.counts.Get(countsKey(storage.NodeCountsKey(label))))
}

func (r *Reader) CountRelationships(start, relType, end int32) int64 {
	return decodeInt64(r.counts.Get(countsKey(storage.RelationshipCountsKey(start, relType, end))))
}

// HighNodeID returns one past the highest node id ever allocated as of the
// snapshot.
func (r *Reader) HighNodeID() int64 {
	return decodeInt64(r.meta.Get(metaNextNode))
}

func (r *Reader) HighRelationshipID() int64 {
	return decodeInt64(r.meta.Get(metaNextRelationship))
}

func (r *Reader) Indexes() ([]schema.IndexDescriptor, error) {
	var out []schema.IndexDescriptor
	prefix := []byte{schemaIndexPrefix}
	c := r.schema.Cursor()
	for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
		var d schema.IndexDescriptor
		if err := msgpack.Unmarshal(v, &d); err != nil {
			return nil, errors.Wrap(err, "unmarshalling index descriptor")
		}
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *Reader) Constraints() ([]schema.ConstraintDescriptor, error) {
	var out []schema.ConstraintDescriptor
	prefix := []byte{schemaConstraintPrefix}
	c := r.schema.Cursor()
	for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
		var d schema.ConstraintDescriptor
		if err := msgpack.Unmarshal(v, &d); err != nil {
			return nil, errors.Wrap(err, "unmarshalling constraint descriptor")
		}
		out = append(out, d)
	}
	return out, nil
}

// Close releases the bolt transaction.
func (r *Reader) Close() error {
	if r.tx == nil {
		return nil
	}
	err := r.tx.Rollback()
	r.tx = nil
	return err
}

type nodeIterator struct {
	c       *bolt.Cursor
	seek    []byte
	started bool
	cur     storage.NodeRecord
	err     error
}

func (it *nodeIterator) Next() bool {
	if it.err != nil || it.c == nil {
		return false
	}
	var k, v []byte
	if !it.started {
		it.started = true
		k, v = it.c.Seek(it.seek)
	} else {
		k, v = it.c.Next()
	}
	if k == nil {
		it.c = nil
		return false
	}
	it.cur, it.err = decodeNode(decodeID(k), v)
	return it.err == nil
}

func (it *nodeIterator) Node() storage.NodeRecord { return it.cur }
func (it *nodeIterator) Err() error               { return it.err }
func (it *nodeIterator) Close()                   { it.c = nil }

type relationshipScanIterator struct {
	c       *bolt.Cursor
	seek    []byte
	started bool
	cur     storage.RelationshipRecord
	err     error
}

func (it *relationshipScanIterator) Next() bool {
	if it.err != nil || it.c == nil {
		return false
	}
	var k, v []byte
	if !it.started {
		it.started = true
		k, v = it.c.Seek(it.seek)
	} else {
		k, v = it.c.Next()
	}
	if k == nil {
		it.c = nil
		return false
	}
	it.cur, it.err = decodeRelationship(decodeID(k), v)
	return it.err == nil
}

func (it *relationshipScanIterator) Relationship() storage.RelationshipRecord { return it.cur }
func (it *relationshipScanIterator) Err() error                             { return it.err }
func (it *relationshipScanIterator) Close()                                 { it.c = nil }

// linkIterator walks chain or group keys, both of which end with the
// relationship id, and loads each relationship.
type linkIterator struct {
	c       *bolt.Cursor
	prefix  []byte
	seek    []byte
	started bool
	rels    *Reader
	cur     storage.RelationshipRecord
	err     error
}

func (it *linkIterator) Next() bool {
	if it.err != nil || it.c == nil {
		return false
	}
	var k []byte
	if !it.started {
		it.started = true
		k, _ = it.c.Seek(it.seek)
	} else {
		k, _ = it.c.Next()
	}
	if k == nil || !bytes.HasPrefix(k, it.prefix) {
		it.c = nil
		return false
	}
	id := decodeID(k[len(k)-8:])
	rel, ok, err := it.rels.Relationship(id)
	if err != nil {
		it.err = err
		return false
	} else if !ok {
		it.err = errors.Newf(errors.ErrInternalInconsistency, "relationship %d linked from chain but not stored", id)
		return false
	}
	it.cur = rel
	return true
}

func (it *linkIterator) Relationship() storage.RelationshipRecord { return it.cur }
func (it *linkIterator) Err() error                             { return it.err }
func (it *linkIterator) Close()                                 { it.c = nil }

type propertyIterator struct {
	c       *bolt.Cursor
	prefix  []byte
	started bool
	cur     storage.Property
	err     error
}

func newPropertyIterator(bkt *bolt.Bucket, id int64) *propertyIterator {
	return &propertyIterator{c: bkt.Cursor(), prefix: idKey(id)}
}

func (it *propertyIterator) Next() bool {
	if it.err != nil || it.c == nil {
		return false
	}
	var k, v []byte
	if !it.started {
		it.started = true
		k, v = it.c.Seek(it.prefix)
	} else {
		k, v = it.c.Next()
	}
	if k == nil || !bytes.HasPrefix(k, it.prefix) {
		it.c = nil
		return false
	}
	val, err := values.Unmarshal(v)
	if err != nil {
		it.err = err
		return false
	}
	it.cur = storage.Property{Key: int32(binary.BigEndian.Uint32(k[8:])), Value: val}
	return true
}

func (it *propertyIterator) Property() storage.Property { return it.cur }
func (it *propertyIterator) Err() error                 { return it.err }
func (it *propertyIterator) Close()                     { it.c = nil }
