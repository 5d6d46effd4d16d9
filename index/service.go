// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0

// Package index implements the committed value and token indexes that
// cursors seek into, and keeps them up to date as transactions commit.
package index

import (
	"context"
	"sync"
	"time"

	"github.com/RoaringBitmap/roaring/v2/roaring64"
	"github.com/featurebasedb/graphkernel/errors"
	"github.com/featurebasedb/graphkernel/logger"
	"github.com/featurebasedb/graphkernel/metrics"
	"github.com/featurebasedb/graphkernel/schema"
	"github.com/featurebasedb/graphkernel/storage"
	"github.com/featurebasedb/graphkernel/values"
	"golang.org/x/sync/errgroup"
)

// Service owns every committed index.
type Service struct {
	mu     sync.RWMutex
	values map[int64]*valueIndex
	tokens map[int64]*tokenIndex

	cache *schema.Cache
	store storage.Store

	population *errgroup.Group
	logger     logger.Logger
}

// NewService returns a Service populating indexes from store with at most
// workers concurrent populations.
func NewService(store storage.Store, workers int, log logger.Logger) *Service {
	if log == nil {
		log = logger.NopLogger
	}
	g := &errgroup.Group{}
	if workers > 0 {
		g.SetLimit(workers)
	}
	return &Service{
		values:     make(map[int64]*valueIndex),
		tokens:     make(map[int64]*tokenIndex),
		cache:      schema.NewCache(),
		store:      store,
		population: g,
		logger:     log,
	}
}

// Open loads and starts populating the indexes recorded in r.
func (s *Service) Open(r storage.Reader) error {
	idxs, err := r.Indexes()
	if err != nil {
		return errors.Wrap(err, "reading indexes")
	}
	cons, err := r.Constraints()
	if err != nil {
		return errors.Wrap(err, "reading constraints")
	}
	for _, c := range cons {
		s.cache.AddConstraint(c)
	}
	for _, d := range idxs {
		if err := s.create(d); err != nil {
			return err
		}
	}
	return nil
}

// Schema returns the cache of committed indexes and constraints.
func (s *Service) Schema() *schema.Cache { return s.cache }

// create registers d and starts populating it from a fresh store snapshot.
// The snapshot is taken before create returns, so updates applied after it
// are queued rather than lost.
func (s *Service) create(d schema.IndexDescriptor) error {
	snap, err := s.store.Snapshot()
	if err != nil {
		return errors.Wrap(err, "snapshotting store for population")
	}

	s.mu.Lock()
	s.cache.AddIndex(d)
	var populate func() error
	switch d.Type {
	case schema.IndexTypeLookup:
		x := newTokenIndex(d)
		s.tokens[d.ID] = x
		populate = func() error {
			tokens, err := populateTokens(snap, d.Schema.EntityType)
			x.finishPopulation(tokens, err)
			return err
		}
	default:
		x := newValueIndex(d)
		s.values[d.ID] = x
		populate = func() error {
			entries, err := populateValues(snap, d.Schema)
			x.finishPopulation(entries, err)
			return err
		}
	}
	s.mu.Unlock()

	s.population.Go(func() error {
		start := time.Now()
		err := populate()
		if cerr := snap.Close(); cerr != nil && err == nil {
			err = cerr
		}
		if err != nil {
			s.logger.Errorf("populating index %s: %v", d, err)
			metrics.IndexPopulations.WithLabelValues("failed").Inc()
			// a failed index is reported through its state, not here
			return nil
		}
		s.logger.Infof("index %s online after %s", d.Name, time.Since(start))
		metrics.IndexPopulations.WithLabelValues("online").Inc()
		return nil
	})
	return nil
}

func (s *Service) drop(d schema.IndexDescriptor) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.values, d.ID)
	delete(s.tokens, d.ID)
	s.cache.RemoveIndex(d.ID)
}

// Wait blocks until every population started so far has finished.
func (s *Service) Wait() error {
	return s.population.Wait()
}

// AwaitOnline polls until the index is no longer populating.
func (s *Service) AwaitOnline(ctx context.Context, id int64) (schema.IndexState, error) {
	for {
		st, err := s.State(id)
		if err != nil || st != schema.IndexPopulating {
			return st, err
		}
		select {
		case <-ctx.Done():
			return st, ctx.Err()
		case <-time.After(5 * time.Millisecond):
		}
	}
}

// State returns the population state of index id.
func (s *Service) State(id int64) (schema.IndexState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if x, ok := s.values[id]; ok {
		x.mu.Lock()
		defer x.mu.Unlock()
		return x.state, nil
	}
	if x, ok := s.tokens[id]; ok {
		x.mu.Lock()
		defer x.mu.Unlock()
		return x.state, nil
	}
	return schema.IndexFailed, errors.Newf(errors.ErrIndexNotFound, "index %d does not exist", id)
}

// FailureMessage returns why index id failed, or the empty string.
func (s *Service) FailureMessage(id int64) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if x, ok := s.values[id]; ok && x.failure != nil {
		return x.failure.Error()
	}
	if x, ok := s.tokens[id]; ok && x.failure != nil {
		return x.failure.Error()
	}
	return ""
}

// ValueReader returns a reader over a snapshot of the value index d taken
// now. Every call takes a new snapshot; callers wanting a cached reader
// keep the result.
func (s *Service) ValueReader(d schema.IndexDescriptor) (*ValueReader, error) {
	if d.IsNoIndex() {
		return nil, errors.New(errors.ErrIndexNotFound, "cannot read the NoIndex sentinel")
	}
	s.mu.RLock()
	x, ok := s.values[d.ID]
	s.mu.RUnlock()
	if !ok {
		return nil, errors.Newf(errors.ErrIndexNotFound, "value index '%s' does not exist", d.Name)
	}
	tree, err := x.snapshot()
	if err != nil {
		return nil, err
	}
	return &ValueReader{desc: x.desc, tree: tree}, nil
}

// TokenReader returns a reader of the token index d.
func (s *Service) TokenReader(d schema.IndexDescriptor) (*TokenReader, error) {
	if d.IsNoIndex() {
		return nil, errors.New(errors.ErrIndexNotFound, "cannot read the NoIndex sentinel")
	}
	s.mu.RLock()
	x, ok := s.tokens[d.ID]
	s.mu.RUnlock()
	if !ok {
		return nil, errors.Newf(errors.ErrIndexNotFound, "token index '%s' does not exist", d.Name)
	}
	return &TokenReader{x: x}, nil
}

// Apply updates the indexes with a committed changeset.
func (s *Service) Apply(changes storage.Changeset) error {
	return changes.Accept(&applier{s: s})
}

// applier routes committed changes to the affected indexes.
type applier struct {
	storage.NopVisitor
	s *Service
}

func (a *applier) VisitAddedIndex(d schema.IndexDescriptor) error {
	return a.s.create(d)
}

func (a *applier) VisitRemovedIndex(d schema.IndexDescriptor) error {
	a.s.drop(d)
	return nil
}

func (a *applier) VisitAddedConstraint(d schema.ConstraintDescriptor) error {
	a.s.cache.AddConstraint(d)
	return nil
}

func (a *applier) VisitRemovedConstraint(d schema.ConstraintDescriptor) error {
	a.s.cache.RemoveConstraint(d.ID)
	return nil
}

func (a *applier) tokenIndexes(entityType schema.EntityType) []*tokenIndex {
	a.s.mu.RLock()
	defer a.s.mu.RUnlock()
	var out []*tokenIndex
	for _, x := range a.s.tokens {
		if x.desc.Schema.EntityType == entityType {
			out = append(out, x)
		}
	}
	return out
}

func (a *applier) VisitNodeLabelChanges(id int64, added, removed []int32) error {
	for _, x := range a.tokenIndexes(schema.Node) {
		x.apply(tokenUpdate{id: id, added: added, removed: removed})
	}
	return nil
}

func (a *applier) VisitDeletedNode(id int64, labels []int32) error {
	for _, x := range a.tokenIndexes(schema.Node) {
		x.apply(tokenUpdate{id: id, removed: labels})
	}
	return nil
}

func (a *applier) VisitCreatedRelationship(id int64, relType int32, _, _ int64) error {
	for _, x := range a.tokenIndexes(schema.Relationship) {
		x.apply(tokenUpdate{id: id, added: []int32{relType}})
	}
	return nil
}

func (a *applier) VisitDeletedRelationship(id int64, relType int32, _, _ int64) error {
	for _, x := range a.tokenIndexes(schema.Relationship) {
		x.apply(tokenUpdate{id: id, removed: []int32{relType}})
	}
	return nil
}

func (a *applier) VisitValueIndexUpdate(sch schema.Descriptor, tuple values.Tuple, added, removed []int64) error {
	key := sch.Key()
	a.s.mu.RLock()
	var targets []*valueIndex
	for _, x := range a.s.values {
		if x.desc.Schema.Key() == key {
			targets = append(targets, x)
		}
	}
	a.s.mu.RUnlock()
	for _, x := range targets {
		x.apply(update{tuple: tuple, added: added, removed: removed})
	}
	return nil
}

// populateValues scans the store for entities covered by sch that have
// every property of the schema.
func populateValues(r storage.Reader, sch schema.Descriptor) ([]entry, error) {
	var out []entry
	collect := func(id int64, props storage.PropertyIterator) error {
		defer props.Close()
		tuple := make(values.Tuple, len(sch.PropertyKeys))
		found := 0
		for props.Next() {
			p := props.Property()
			if i := sch.PropertyOffset(p.Key); i >= 0 {
				tuple[i] = p.Value
				found++
			}
		}
		if err := props.Err(); err != nil {
			return err
		}
		if found == len(tuple) {
			out = append(out, entry{tuple: tuple, id: id})
		}
		return nil
	}

	if sch.EntityType == schema.Relationship {
		it := r.ScanRelationships(0)
		defer it.Close()
		for it.Next() {
			rel := it.Relationship()
			if !sch.CoversToken(rel.Type) {
				continue
			}
			if err := collect(rel.ID, r.RelationshipProperties(rel.ID)); err != nil {
				return nil, err
			}
		}
		return out, it.Err()
	}

	it := r.ScanNodes(0)
	defer it.Close()
	for it.Next() {
		n := it.Node()
		if !sch.CoversAnyToken(n.Labels) {
			continue
		}
		if err := collect(n.ID, r.NodeProperties(n.ID)); err != nil {
			return nil, err
		}
	}
	return out, it.Err()
}

func populateTokens(r storage.Reader, entityType schema.EntityType) (map[int32]*roaring64.Bitmap, error) {
	out := make(map[int32]*roaring64.Bitmap)
	add := func(token int32, id int64) {
		bm := out[token]
		if bm == nil {
			bm = roaring64.New()
			out[token] = bm
		}
		bm.Add(uint64(id))
	}
	if entityType == schema.Relationship {
		it := r.ScanRelationships(0)
		defer it.Close()
		for it.Next() {
			rel := it.Relationship()
			add(rel.Type, rel.ID)
		}
		return out, it.Err()
	}
	it := r.ScanNodes(0)
	defer it.Close()
	for it.Next() {
		n := it.Node()
		for _, l := range n.Labels {
			add(l, n.ID)
		}
	}
	return out, it.Err()
}
