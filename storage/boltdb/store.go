// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package boltdb

import (
	"sync/atomic"
	"time"

	"github.com/featurebasedb/graphkernel/errors"
	"github.com/featurebasedb/graphkernel/logger"
	"github.com/featurebasedb/graphkernel/schema"
	"github.com/featurebasedb/graphkernel/storage"
	"github.com/featurebasedb/graphkernel/values"
	"github.com/vmihailenco/msgpack/v5"
	bolt "go.etcd.io/bbolt"
)

// Ensure type implements interface.
var _ storage.Store = (*Store)(nil)

// Store is a storage.Store kept in a single bolt file.
type Store struct {
	db  *DB
	cfg *storage.Config

	// Id allocation is not transactional: ids handed to transactions that
	// roll back are never reused.
	nextNode         atomic.Int64
	nextRelationship atomic.Int64
	nextSchema       atomic.Int64

	logger logger.Logger
}

// NewStore returns a Store for the bolt file at path. Open must be called
// before use.
func NewStore(path string, cfg *storage.Config, log logger.Logger) *Store {
	if cfg == nil {
		cfg = storage.NewDefaultConfig()
	}
	if log == nil {
		log = logger.NopLogger
	}
	db := NewDB("file:" + path)
	db.Timeout = time.Duration(cfg.OpenTimeout)
	db.NoSync = !cfg.FsyncEnabled
	db.InitialMmapSize = cfg.InitialMmapSize
	db.RegisterBuckets(StoreBuckets...)
	return &Store{
		db:     db,
		cfg:    cfg,
		logger: log,
	}
}

// Open opens the underlying bolt file and loads the id allocators.
func (s *Store) Open() error {
	if err := s.db.Open(); err != nil {
		return errors.Wrap(err, "opening bolt store")
	}
	err := s.db.View(func(tx *bolt.Tx) error {
		meta := tx.Bucket(bucketMeta)
		if meta == nil {
			return errors.Errorf(ErrFmtBucketNotFound, bucketMeta)
		}
		s.nextNode.Store(decodeInt64(meta.Get(metaNextNode)))
		s.nextRelationship.Store(decodeInt64(meta.Get(metaNextRelationship)))
		s.nextSchema.Store(decodeInt64(meta.Get(metaNextSchema)))
		return nil
	})
	if err != nil {
		return errors.Wrap(err, "loading id allocators")
	}
	s.logger.Debugf("opened bolt store %s (next node %d, next relationship %d)",
		s.db.Path(), s.nextNode.Load(), s.nextRelationship.Load())
	return nil
}

// Close closes the bolt file. Every Reader must be closed first.
func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the path of the bolt file.
func (s *Store) Path() string {
	return s.db.Path()
}

// Snapshot begins a read-only bolt transaction. Bolt write transactions wait
// for readers whenever the file has to be remapped, so a goroutine must
// close its own Reader before calling Apply.
func (s *Store) Snapshot() (storage.Reader, error) {
	tx, err := s.db.Begin(false)
	if err != nil {
		return nil, errors.Wrap(err, "beginning read transaction")
	}
	r, err := newReader(tx)
	if err != nil {
		_ = tx.Rollback()
		return nil, err
	}
	return r, nil
}

func (s *Store) NextNodeID() int64         { return s.nextNode.Add(1) - 1 }
func (s *Store) NextRelationshipID() int64 { return s.nextRelationship.Add(1) - 1 }
func (s *Store) NextSchemaID() int64       { return s.nextSchema.Add(1) }

// Apply replays changes and adds counts in a single bolt write transaction.
func (s *Store) Apply(changes storage.Changeset, counts storage.CountsDelta) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		r, err := newReader(tx)
		if err != nil {
			return err
		}
		w := &writer{Reader: r, denseThreshold: int64(s.cfg.DenseNodeThreshold)}
		if err := changes.Accept(w); err != nil {
			return errors.Wrap(err, "applying changes")
		}
		for k, delta := range counts {
			if delta == 0 {
				continue
			}
			key := countsKey(k)
			n := decodeInt64(r.counts.Get(key)) + delta
			if n < 0 {
				return errors.Newf(errors.ErrInternalInconsistency, "count %+v would become negative (%d)", k, n)
			}
			if err := r.counts.Put(key, encodeInt64(n)); err != nil {
				return errors.Wrap(err, "putting count")
			}
		}
		for _, m := range []struct {
			key []byte
			val int64
		}{
			{metaNextNode, s.nextNode.Load()},
			{metaNextRelationship, s.nextRelationship.Load()},
			{metaNextSchema, s.nextSchema.Load()},
		} {
			if err := r.meta.Put(m.key, encodeInt64(m.val)); err != nil {
				return errors.Wrap(err, "putting meta")
			}
		}
		return nil
	})
}

// writer writes a transaction's changes into an open bolt write transaction.
type writer struct {
	storage.NopVisitor
	*Reader

	denseThreshold int64
}

func (w *writer) VisitAddedIndex(d schema.IndexDescriptor) error {
	return w.putSchema(schemaKey(schemaIndexPrefix, d.ID), &d)
}

func (w *writer) VisitRemovedIndex(d schema.IndexDescriptor) error {
	return errors.Wrap(w.schema.Delete(schemaKey(schemaIndexPrefix, d.ID)), "deleting index")
}

func (w *writer) VisitAddedConstraint(d schema.ConstraintDescriptor) error {
	return w.putSchema(schemaKey(schemaConstraintPrefix, d.ID), &d)
}

func (w *writer) VisitRemovedConstraint(d schema.ConstraintDescriptor) error {
	return errors.Wrap(w.schema.Delete(schemaKey(schemaConstraintPrefix, d.ID)), "deleting constraint")
}

func (w *writer) putSchema(key []byte, d interface{}) error {
	buf, err := msgpack.Marshal(d)
	if err != nil {
		return errors.Wrap(err, "marshalling schema descriptor")
	}
	return errors.Wrap(w.schema.Put(key, buf), "putting schema descriptor")
}

func (w *writer) VisitCreatedNode(id int64) error {
	return w.putNode(id, nodeRecord{})
}

func (w *writer) putNode(id int64, r nodeRecord) error {
	buf, err := encodeRecord(&r)
	if err != nil {
		return err
	}
	return errors.Wrapf(w.nodes.Put(idKey(id), buf), "putting node %d", id)
}

func (w *writer) loadNode(id int64) (nodeRecord, error) {
	n, ok, err := w.Node(id)
	if err != nil {
		return nodeRecord{}, err
	} else if !ok {
		return nodeRecord{}, errors.Newf(errors.ErrEntityNotFound, "node %d not stored", id)
	}
	return nodeRecord{Labels: n.Labels, Dense: n.Dense}, nil
}

func (w *writer) VisitNodeLabelChanges(id int64, added, removed []int32) error {
	r, err := w.loadNode(id)
	if err != nil {
		return err
	}
	set := make(map[int32]struct{}, len(r.Labels)+len(added))
	for _, l := range r.Labels {
		set[l] = struct{}{}
	}
	for _, l := range added {
		set[l] = struct{}{}
	}
	for _, l := range removed {
		delete(set, l)
	}
	labels := make([]int32, 0, len(set))
	for l := range set {
		labels = append(labels, l)
	}
	r.Labels = schema.SortTokens(labels)
	return w.putNode(id, r)
}

func (w *writer) VisitNodePropertyChanges(id int64, added, changed []storage.Property, removed []int32) error {
	return writeProperties(w.nodeProps, id, added, changed, removed)
}

func (w *writer) VisitRelationshipPropertyChanges(id int64, added, changed []storage.Property, removed []int32) error {
	return writeProperties(w.relProps, id, added, changed, removed)
}

func writeProperties(bkt *bolt.Bucket, id int64, added, changed []storage.Property, removed []int32) error {
	for _, props := range [][]storage.Property{added, changed} {
		for _, p := range props {
			buf, err := values.Marshal(p.Value)
			if err != nil {
				return err
			}
			if err := bkt.Put(propertyKey(id, p.Key), buf); err != nil {
				return errors.Wrap(err, "putting property")
			}
		}
	}
	for _, k := range removed {
		if err := bkt.Delete(propertyKey(id, k)); err != nil {
			return errors.Wrap(err, "deleting property")
		}
	}
	return nil
}

func (w *writer) VisitCreatedRelationship(id int64, relType int32, source, target int64) error {
	buf, err := encodeRecord(&relationshipRecord{Type: relType, Source: source, Target: target})
	if err != nil {
		return err
	}
	if err := w.relationships.Put(idKey(id), buf); err != nil {
		return errors.Wrapf(err, "putting relationship %d", id)
	}
	return w.link(id, relType, source, target, true)
}

func (w *writer) VisitDeletedRelationship(id int64, relType int32, source, target int64) error {
	if err := w.relationships.Delete(idKey(id)); err != nil {
		return errors.Wrapf(err, "deleting relationship %d", id)
	}
	if err := deletePrefix(w.relProps, idKey(id)); err != nil {
		return err
	}
	return w.link(id, relType, source, target, false)
}

// link adds or removes the chain and group entries of a relationship on
// both of its endpoints.
func (w *writer) link(id int64, relType int32, source, target int64, add bool) error {
	endpoints := []int64{source, target}
	if source == target {
		endpoints = endpoints[:1]
	}
	for _, node := range endpoints {
		dir := storage.DirectionOf(node, source, target)
		var err error
		if add {
			err = w.chains.Put(chainKey(node, id), nil)
			if err == nil {
				err = w.groups.Put(groupKey(node, relType, dir, id), nil)
			}
		} else {
			err = w.chains.Delete(chainKey(node, id))
			if err == nil {
				err = w.groups.Delete(groupKey(node, relType, dir, id))
			}
		}
		if err != nil {
			return errors.Wrapf(err, "linking relationship %d on node %d", id, node)
		}

		delta := int64(1)
		if !add {
			delta = -1
		}
		gk := groupCountKey(node, relType, dir)
		n := decodeInt64(w.groupCounts.Get(gk)) + delta
		if n <= 0 {
			err = w.groupCounts.Delete(gk)
		} else {
			err = w.groupCounts.Put(gk, encodeInt64(n))
		}
		if err != nil {
			return errors.Wrap(err, "updating group count")
		}
		if add {
			if err := w.markDense(node); err != nil {
				return err
			}
		}
	}
	return nil
}

// markDense flags node as dense once its degree reaches the threshold.
// Nodes never become sparse again.
func (w *writer) markDense(node int64) error {
	if w.denseThreshold <= 0 {
		return nil
	}
	r, err := w.loadNode(node)
	if err != nil || r.Dense {
		return err
	}
	groups, err := w.RelationshipGroups(node)
	if err != nil {
		return err
	}
	var degree int64
	for _, g := range groups {
		degree += g.Count(storage.Both)
	}
	if degree < w.denseThreshold {
		return nil
	}
	r.Dense = true
	return w.putNode(node, r)
}

func (w *writer) VisitDeletedNode(id int64, _ []int32) error {
	if k, _ := w.chains.Cursor().Seek(idKey(id)); k != nil && len(k) == 16 && decodeID(k[:8]) == id {
		return errors.Newf(errors.ErrNodeHasRelationships, "node %d still has relationships", id)
	}
	if err := w.nodes.Delete(idKey(id)); err != nil {
		return errors.Wrapf(err, "deleting node %d", id)
	}
	return deletePrefix(w.nodeProps, idKey(id))
}

func deletePrefix(bkt *bolt.Bucket, prefix []byte) error {
	var keys [][]byte
	c := bkt.Cursor()
	for k, _ := c.Seek(prefix); k != nil && len(k) >= len(prefix) && string(k[:len(prefix)]) == string(prefix); k, _ = c.Next() {
		keys = append(keys, append([]byte(nil), k...))
	}
	for _, k := range keys {
		if err := bkt.Delete(k); err != nil {
			return errors.Wrap(err, "deleting by prefix")
		}
	}
	return nil
}
