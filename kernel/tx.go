// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package kernel

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/featurebasedb/graphkernel/errors"
	"github.com/featurebasedb/graphkernel/index"
	"github.com/featurebasedb/graphkernel/locks"
	"github.com/featurebasedb/graphkernel/logger"
	"github.com/featurebasedb/graphkernel/metrics"
	"github.com/featurebasedb/graphkernel/schema"
	"github.com/featurebasedb/graphkernel/security"
	"github.com/featurebasedb/graphkernel/storage"
	"github.com/featurebasedb/graphkernel/tracing"
	"github.com/featurebasedb/graphkernel/txstate"
	"github.com/google/uuid"
)

// Tx is a transaction. It reads a snapshot of the committed store taken at
// Begin merged with its own pending changes, and is used by one goroutine at
// a time. Terminate is the only method safe to call concurrently.
type Tx struct {
	id     uuid.UUID
	engine *Engine
	ctx    context.Context

	mode   security.AccessMode
	state  *txstate.TxState
	reader storage.Reader
	locks  *locks.Client
	tracer Tracer

	// valueReaders caches one committed value index reader per index for
	// general queries.
	valueReaders map[int64]*index.ValueReader

	open       atomic.Bool
	terminated atomic.Bool

	start  time.Time
	logger logger.Logger
}

func newTx(ctx context.Context, e *Engine, mode security.AccessMode) (*Tx, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	r, err := e.store.Snapshot()
	if err != nil {
		return nil, errors.Wrap(err, "snapshotting store")
	}
	id := uuid.New()
	tx := &Tx{
		id:           id,
		engine:       e,
		ctx:          ctx,
		mode:         mode,
		state:        txstate.New(),
		reader:       r,
		locks:        e.locks.NewClient(id.String()),
		tracer:       nopTracer{},
		valueReaders: make(map[int64]*index.ValueReader),
		start:        time.Now(),
		logger:       e.logger.WithPrefix("tx " + id.String() + " "),
	}
	tx.open.Store(true)
	return tx, nil
}

// ID returns the transaction id.
func (tx *Tx) ID() uuid.UUID { return tx.id }

// AccessMode returns the access mode reads and writes are checked against.
func (tx *Tx) AccessMode() security.AccessMode { return tx.mode }

// SetTracer installs a tracer notified of entities and properties read by
// the transaction's cursors. A nil tracer disables tracing.
func (tx *Tx) SetTracer(t Tracer) {
	if t == nil {
		t = nopTracer{}
	}
	tx.tracer = t
}

// HasChanges reports whether the transaction has pending changes.
func (tx *Tx) HasChanges() bool { return tx.state.HasChanges() }

// Cursors returns a new cursor factory. A transaction may use several
// factories; each pools at most one idle cursor per kind.
func (tx *Tx) Cursors() *CursorFactory {
	return newCursorFactory(tx, tx.engine.cfg.Cursors.Pooling)
}

// IsOpen reports whether the transaction can still be used.
func (tx *Tx) IsOpen() bool {
	return tx.open.Load() && !tx.terminated.Load()
}

// Terminate marks the transaction as terminated. Every following operation
// on it or its cursors fails. The owner must still call Rollback.
func (tx *Tx) Terminate() {
	if tx.terminated.CompareAndSwap(false, true) {
		tx.logger.Infof("terminated")
	}
}

func (tx *Tx) assertOpen() error {
	if tx.terminated.Load() {
		return errors.Newf(errors.ErrTransactionTerminated, "transaction %s has been terminated", tx.id)
	}
	if !tx.open.Load() {
		return errors.Newf(errors.ErrTransactionNotOpen, "transaction %s is not open", tx.id)
	}
	return nil
}

// Commit makes the pending changes durable and visible to transactions
// begun afterwards. The transaction is finished whatever the outcome.
func (tx *Tx) Commit() (err error) {
	if err := tx.assertOpen(); err != nil {
		return err
	}
	span, ctx := tracing.StartSpanFromContext(tx.ctx, "Tx.Commit")
	start := time.Now()
	outcome := "failed"
	defer func() {
		tx.finish()
		span.LogKV("tx", tx.id.String(), "outcome", outcome)
		span.Finish()
		metrics.Commits.WithLabelValues(outcome).Inc()
		if err != nil {
			tx.logger.Warnf("commit failed: %v", err)
		}
	}()

	if !tx.state.HasChanges() {
		outcome = "empty"
		return nil
	}
	if tx.state.HasSchemaChanges() && tx.state.HasDataChanges() {
		return errors.New(errors.ErrSchemaAndDataMixed, "a transaction cannot change both schema and data")
	}
	delta, err := tx.countsDelta()
	if err != nil {
		return errors.Wrap(err, "computing counts")
	}

	// The snapshot must be released before the store takes its write lock.
	tx.closeReader()

	e := tx.engine
	e.commitMu.Lock()
	defer e.commitMu.Unlock()
	storeSpan, _ := tracing.StartSpanFromContext(ctx, "Store.Apply")
	err = e.store.Apply(tx.state, delta)
	storeSpan.Finish()
	if err != nil {
		return errors.Wrap(err, "applying to store")
	}
	indexSpan, _ := tracing.StartSpanFromContext(ctx, "Index.Apply")
	err = e.indexes.Apply(tx.state)
	indexSpan.Finish()
	if err != nil {
		return errors.Wrap(err, "applying to indexes")
	}
	metrics.CommitDuration.Observe(time.Since(start).Seconds())
	outcome = "committed"
	tx.logger.Debugf("committed after %s", time.Since(tx.start))
	return nil
}

// Rollback discards the pending changes. It is a no-op on a finished
// transaction.
func (tx *Tx) Rollback() {
	if !tx.open.Load() {
		return
	}
	tx.finish()
	metrics.Commits.WithLabelValues("rolled_back").Inc()
}

func (tx *Tx) finish() {
	if !tx.open.CompareAndSwap(true, false) {
		return
	}
	tx.closeReader()
	tx.locks.ReleaseAll()
	tx.valueReaders = nil
	tx.engine.finished(tx)
}

func (tx *Tx) closeReader() {
	if tx.reader == nil {
		return
	}
	if err := tx.reader.Close(); err != nil {
		tx.logger.Errorf("closing store snapshot: %v", err)
	}
	tx.reader = nil
}

// valueReader returns a reader of the committed value index d. A fresh
// reader sees every update committed so far; otherwise the reader cached for
// the transaction is reused.
func (tx *Tx) valueReader(d schema.IndexDescriptor, fresh bool) (*index.ValueReader, error) {
	if fresh {
		return tx.engine.indexes.ValueReader(d)
	}
	if r, ok := tx.valueReaders[d.ID]; ok {
		return r, nil
	}
	r, err := tx.engine.indexes.ValueReader(d)
	if err != nil {
		return nil, err
	}
	tx.valueReaders[d.ID] = r
	return r, nil
}

// acquire takes locks on behalf of the transaction, bounded by its context.
func (tx *Tx) acquire(mode locks.Mode, typ locks.ResourceType, ids ...int64) error {
	return tx.locks.Acquire(tx.ctx, mode, typ, ids...)
}
