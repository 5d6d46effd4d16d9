// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package test

import (
	"path/filepath"
	"testing"

	"github.com/featurebasedb/graphkernel/logger"
	"github.com/featurebasedb/graphkernel/storage"
	"github.com/featurebasedb/graphkernel/storage/boltdb"
)

// MustOpenStore returns a new, open Store in a temporary directory. The
// store is closed when the test ends. Fatal on error.
func MustOpenStore(tb testing.TB) *boltdb.Store {
	tb.Helper()
	return MustOpenStoreWithConfig(tb, storage.NewDefaultConfig())
}

// MustOpenStoreWithConfig is MustOpenStore with an explicit config.
func MustOpenStoreWithConfig(tb testing.TB, cfg *storage.Config) *boltdb.Store {
	tb.Helper()
	cfg.FsyncEnabled = false
	s := boltdb.NewStore(filepath.Join(tb.TempDir(), "graph.boltdb"), cfg, logger.NewLogfLogger(tb))
	if err := s.Open(); err != nil {
		tb.Fatal(err)
	}
	tb.Cleanup(func() { MustCloseStore(tb, s) })
	return s
}

// MustCloseStore closes the Store. Fatal on error.
func MustCloseStore(tb testing.TB, s *boltdb.Store) {
	tb.Helper()
	if err := s.Close(); err != nil {
		tb.Fatal(err)
	}
}
