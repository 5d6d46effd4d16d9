// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package boltdb

import (
	"encoding/binary"

	"github.com/featurebasedb/graphkernel/errors"
	"github.com/featurebasedb/graphkernel/storage"
	"github.com/vmihailenco/msgpack/v5"
)

var (
	bucketNodes                  = Bucket("nodes")
	bucketRelationships          = Bucket("relationships")
	bucketNodeProperties         = Bucket("nodeProperties")
	bucketRelationshipProperties = Bucket("relationshipProperties")
	bucketChains                 = Bucket("chains")
	bucketGroups                 = Bucket("groups")
	bucketGroupCounts            = Bucket("groupCounts")
	bucketCounts                 = Bucket("counts")
	bucketSchema                 = Bucket("schema")
	bucketMeta                   = Bucket("meta")
)

// StoreBuckets defines the buckets used by this package.
var StoreBuckets = []Bucket{
	bucketNodes,
	bucketRelationships,
	bucketNodeProperties,
	bucketRelationshipProperties,
	bucketChains,
	bucketGroups,
	bucketGroupCounts,
	bucketCounts,
	bucketSchema,
	bucketMeta,
}

var (
	metaNextNode         = []byte("nextNode")
	metaNextRelationship = []byte("nextRelationship")
	metaNextSchema       = []byte("nextSchema")
)

const (
	schemaIndexPrefix      byte = 'i'
	schemaConstraintPrefix byte = 'c'
)

// All ids and tokens are big endian so that bolt's byte order is numeric
// order for non-negative values.

func idKey(id int64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, uint64(id))
	return b
}

func decodeID(b []byte) int64 {
	return int64(binary.BigEndian.Uint64(b))
}

func propertyKey(id int64, key int32) []byte {
	b := make([]byte, 12)
	binary.BigEndian.PutUint64(b, uint64(id))
	binary.BigEndian.PutUint32(b[8:], uint32(key))
	return b
}

// chainKey is node+relationship. A loop has a single chain entry.
func chainKey(node, rel int64) []byte {
	b := make([]byte, 16)
	binary.BigEndian.PutUint64(b, uint64(node))
	binary.BigEndian.PutUint64(b[8:], uint64(rel))
	return b
}

func groupPrefix(node int64, relType int32) []byte {
	b := make([]byte, 12)
	binary.BigEndian.PutUint64(b, uint64(node))
	binary.BigEndian.PutUint32(b[8:], uint32(relType))
	return b
}

func groupCountKey(node int64, relType int32, dir storage.Direction) []byte {
	return append(groupPrefix(node, relType), byte(dir))
}

func groupKey(node int64, relType int32, dir storage.Direction, rel int64) []byte {
	b := make([]byte, 21)
	copy(b, groupCountKey(node, relType, dir))
	binary.BigEndian.PutUint64(b[13:], uint64(rel))
	return b
}

func countsKey(k storage.CountsKey) []byte {
	b := make([]byte, 13)
	if k.Relationship {
		b[0] = 'r'
	} else {
		b[0] = 'n'
	}
	binary.BigEndian.PutUint32(b[1:], uint32(k.Start))
	binary.BigEndian.PutUint32(b[5:], uint32(k.Type))
	binary.BigEndian.PutUint32(b[9:], uint32(k.End))
	return b
}

func schemaKey(prefix byte, id int64) []byte {
	return append([]byte{prefix}, idKey(id)...)
}

func encodeInt64(v int64) []byte { return idKey(v) }

func decodeInt64(b []byte) int64 {
	if len(b) != 8 {
		return 0
	}
	return decodeID(b)
}

// nodeRecord is the stored form of a node.
type nodeRecord struct {
	Labels []int32 `msgpack:"l"`
	Dense  bool    `msgpack:"d,omitempty"`
}

// relationshipRecord is the stored form of a relationship.
type relationshipRecord struct {
	Type   int32 `msgpack:"t"`
	Source int64 `msgpack:"s"`
	Target int64 `msgpack:"e"`
}

func encodeRecord(v interface{}) ([]byte, error) {
	buf, err := msgpack.Marshal(v)
	return buf, errors.Wrap(err, "marshalling record")
}

func decodeNode(id int64, buf []byte) (storage.NodeRecord, error) {
	var r nodeRecord
	if err := msgpack.Unmarshal(buf, &r); err != nil {
		return storage.NodeRecord{}, errors.Wrapf(err, "unmarshalling node %d", id)
	}
	return storage.NodeRecord{ID: id, Labels: r.Labels, Dense: r.Dense}, nil
}

func decodeRelationship(id int64, buf []byte) (storage.RelationshipRecord, error) {
	var r relationshipRecord
	if err := msgpack.Unmarshal(buf, &r); err != nil {
		return storage.RelationshipRecord{}, errors.Wrapf(err, "unmarshalling relationship %d", id)
	}
	return storage.RelationshipRecord{ID: id, Type: r.Type, Source: r.Source, Target: r.Target}, nil
}
