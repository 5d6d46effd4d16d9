// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0

// Package kernel is the read and transaction overlay engine of the graph
// kernel. A Tx sees the committed store merged with its own pending
// changes through cursors, and writes through the operations that take
// locks and keep the pending index entries up to date.
package kernel

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/featurebasedb/graphkernel/config"
	"github.com/featurebasedb/graphkernel/errors"
	"github.com/featurebasedb/graphkernel/index"
	"github.com/featurebasedb/graphkernel/locks"
	"github.com/featurebasedb/graphkernel/logger"
	"github.com/featurebasedb/graphkernel/procedures"
	"github.com/featurebasedb/graphkernel/security"
	"github.com/featurebasedb/graphkernel/storage"
	"github.com/featurebasedb/graphkernel/storage/boltdb"
	"github.com/featurebasedb/graphkernel/tracing"
	"github.com/featurebasedb/graphkernel/values"
)

// EngineOption is a functional option type for Engine.
type EngineOption func(e *Engine) error

// OptEngineLogger sets the logger.
func OptEngineLogger(l logger.Logger) EngineOption {
	return func(e *Engine) error {
		e.logger = l
		return nil
	}
}

// OptEngineStore makes the engine use an already open store instead of
// opening one in the data directory. The engine does not close it.
func OptEngineStore(s storage.Store) EngineOption {
	return func(e *Engine) error {
		e.store = s
		e.ownsStore = false
		return nil
	}
}

// OptEngineProcedures sets the procedure registry.
func OptEngineProcedures(r *procedures.Registry) EngineOption {
	return func(e *Engine) error {
		e.procedures = r
		return nil
	}
}

// Engine owns the store, the indexes and the lock manager shared by all
// transactions.
type Engine struct {
	cfg *config.Config

	store     storage.Store
	ownsStore bool
	indexes   *index.Service
	locks     *locks.Manager

	procedures *procedures.Registry

	// commitMu serializes applying transactions to the store and indexes.
	commitMu sync.Mutex

	mu     sync.Mutex
	open   map[*Tx]struct{}
	closed bool

	logger logger.Logger
}

// NewEngine returns an Engine configured by cfg. Open must be called before
// use.
func NewEngine(cfg *config.Config, opts ...EngineOption) (*Engine, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	e := &Engine{
		cfg:        cfg,
		ownsStore:  true,
		procedures: procedures.NewRegistry(),
		open:       make(map[*Tx]struct{}),
		logger:     logger.NopLogger,
	}
	for _, opt := range opts {
		if err := opt(e); err != nil {
			return nil, errors.Wrap(err, "applying option")
		}
	}
	e.locks = locks.NewManager(time.Duration(cfg.Locks.WaitTimeout), e.logger.WithPrefix("locks "))
	return e, nil
}

// Open opens the store, loads the schema and starts populating indexes.
func (e *Engine) Open() error {
	if err := e.cfg.Validate(); err != nil {
		return errors.Wrap(err, "validating config")
	}
	if e.store == nil {
		path, err := e.cfg.StorePath()
		if err != nil {
			return errors.Wrap(err, "expanding data dir")
		}
		if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
			return errors.Wrap(err, "creating data dir")
		}
		store := boltdb.NewStore(path, &e.cfg.Store, e.logger)
		if err := store.Open(); err != nil {
			return errors.Wrap(err, "opening store")
		}
		e.store = store
	}

	e.indexes = index.NewService(e.store, e.cfg.Index.PopulationWorkers, e.logger.WithPrefix("index "))
	r, err := e.store.Snapshot()
	if err != nil {
		return errors.Wrap(err, "snapshotting store")
	}
	err = e.indexes.Open(r)
	if cerr := r.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return errors.Wrap(err, "opening index service")
	}
	if err := e.registerBuiltins(); err != nil {
		return errors.Wrap(err, "registering built-in procedures")
	}
	e.logger.Infof("engine open with %d indexes", len(e.indexes.Schema().Indexes()))
	return nil
}

// Close waits for index populations and closes the store. Every
// transaction must have finished.
func (e *Engine) Close() error {
	e.mu.Lock()
	e.closed = true
	n := len(e.open)
	e.mu.Unlock()
	if n > 0 {
		e.logger.Warnf("closing engine with %d open transactions", n)
	}
	var err error
	if e.indexes != nil {
		err = e.indexes.Wait()
	}
	if e.ownsStore && e.store != nil {
		if cerr := e.store.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

// Indexes returns the index service.
func (e *Engine) Indexes() *index.Service { return e.indexes }

// Procedures returns the procedure registry.
func (e *Engine) Procedures() *procedures.Registry { return e.procedures }

// AwaitIndexes blocks until no index is populating.
func (e *Engine) AwaitIndexes(ctx context.Context) error {
	span, ctx := tracing.StartSpanFromContext(ctx, "Engine.AwaitIndexes")
	defer span.Finish()
	for _, d := range e.indexes.Schema().Indexes() {
		if _, err := e.indexes.AwaitOnline(ctx, d.ID); err != nil {
			return err
		}
	}
	return nil
}

// Begin starts a transaction reading the current committed state with the
// permissions of mode. ctx bounds the transaction's lock waits.
func (e *Engine) Begin(ctx context.Context, mode security.AccessMode) (*Tx, error) {
	if mode == nil {
		mode = security.Full
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil, errors.New(errors.ErrTransactionNotOpen, "engine is closed")
	}
	tx, err := newTx(ctx, e, mode)
	if err != nil {
		return nil, err
	}
	e.open[tx] = struct{}{}
	return tx, nil
}

func (e *Engine) finished(tx *Tx) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.open, tx)
}

func (e *Engine) registerBuiltins() error {
	if _, err := e.procedures.Resolve("db.countNodes"); err == nil {
		return nil
	}
	_, err := e.procedures.Register("db.countNodes", procedures.Function, procedures.Read,
		"Counts the nodes carrying a label, or every node for -1.",
		func(_ context.Context, g procedures.Graph, args []values.Value) ([]values.Tuple, error) {
			label := int64(-1)
			if len(args) > 0 {
				i, ok := args[0].(values.Int)
				if !ok {
					return nil, errors.Errorf("db.countNodes expects an integer label, got %s", args[0])
				}
				label = int64(i)
			}
			n, err := g.CountNodes(int32(label))
			if err != nil {
				return nil, err
			}
			return []values.Tuple{{values.Int(n)}}, nil
		})
	if err != nil {
		return err
	}
	_, err = e.procedures.Register("db.indexes", procedures.Procedure, procedures.Read,
		"Lists the committed indexes and their state.",
		func(context.Context, procedures.Graph, []values.Value) ([]values.Tuple, error) {
			var rows []values.Tuple
			for _, d := range e.indexes.Schema().Indexes() {
				st, err := e.indexes.State(d.ID)
				if err != nil {
					return nil, err
				}
				rows = append(rows, values.Tuple{values.Int(d.ID), values.Text(d.Name), values.Text(st.String())})
			}
			return rows, nil
		})
	return err
}
