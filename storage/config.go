// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package storage

import (
	"time"

	"github.com/featurebasedb/graphkernel/toml"
)

// public strings that config.go can reference
const (
	BoltBackend string = "bolt"
)

// DefaultBackend is the backend used when none is configured.
const DefaultBackend = BoltBackend

// DefaultDenseNodeThreshold is the degree at which a node's relationships
// start being traversed per type group instead of as one chain.
const DefaultDenseNodeThreshold = 50

// DefaultInitialMmapSize is 64MiB.
const DefaultInitialMmapSize = 1 << 26

// Config represents configuration which applies to durable stores.
type Config struct {
	Backend string `toml:"backend"`

	// Set before calling Open()
	FsyncEnabled bool `toml:"fsync"`

	DenseNodeThreshold int `toml:"dense-node-threshold"`

	// OpenTimeout bounds the wait for the store's file lock.
	OpenTimeout toml.Duration `toml:"open-timeout"`

	// InitialMmapSize is the size the data file is first mapped with. Write
	// transactions wait for open readers whenever the map has to grow.
	InitialMmapSize int `toml:"initial-mmap-size"`
}

// NewDefaultConfig returns a new Config with default values.
func NewDefaultConfig() *Config {
	return &Config{
		Backend:            DefaultBackend,
		FsyncEnabled:       true,
		DenseNodeThreshold: DefaultDenseNodeThreshold,
		OpenTimeout:        toml.Duration(time.Second),
		InitialMmapSize:    DefaultInitialMmapSize,
	}
}
