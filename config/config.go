// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0

// Package config holds the kernel configuration and its TOML encoding.
package config

import (
	"bytes"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/featurebasedb/graphkernel/errors"
	"github.com/featurebasedb/graphkernel/storage"
	"github.com/featurebasedb/graphkernel/toml"
	gotoml "github.com/pelletier/go-toml"
)

const (
	// DefaultDataDir is the directory the store file is created in.
	DefaultDataDir = "~/.graphkernel"

	// DefaultLockWaitTimeout bounds lock waits when no context deadline
	// applies.
	DefaultLockWaitTimeout = 30 * time.Second

	// StoreFileName is the name of the bolt file inside the data directory.
	StoreFileName = "graph.db"
)

// Config represents the configuration of an engine.
type Config struct {
	// DataDir is the directory the store is kept in.
	DataDir string `toml:"data-dir"`

	Store storage.Config `toml:"store"`

	Counts struct {
		// ScanBased disables the count store fast path, as required when
		// counts must reflect only what is visible to the transaction.
		ScanBased bool `toml:"scan-based"`
	} `toml:"counts"`

	Cursors struct {
		// Pooling keeps one idle cursor per kind in each cursor factory.
		Pooling bool `toml:"pooling"`
	} `toml:"cursors"`

	Index struct {
		PopulationWorkers int `toml:"population-workers"`
	} `toml:"index"`

	Locks struct {
		WaitTimeout toml.Duration `toml:"wait-timeout"`
	} `toml:"locks"`

	Log struct {
		Verbose bool   `toml:"verbose"`
		Path    string `toml:"path"`
	} `toml:"log"`
}

// Default returns a Config with default values.
func Default() *Config {
	c := &Config{
		DataDir: DefaultDataDir,
		Store:   *storage.NewDefaultConfig(),
	}
	c.Cursors.Pooling = true
	c.Index.PopulationWorkers = runtime.NumCPU()
	c.Locks.WaitTimeout = toml.Duration(DefaultLockWaitTimeout)
	return c
}

// Load reads a Config from the TOML file at path on top of the defaults.
func Load(path string) (*Config, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "reading config file '%s'", path)
	}
	return Parse(buf)
}

// Parse decodes TOML on top of the defaults and validates the result.
func Parse(buf []byte) (*Config, error) {
	c := Default()
	if err := gotoml.Unmarshal(buf, c); err != nil {
		return nil, errors.Wrap(err, "decoding config")
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return errors.New(errors.ErrUncoded, "data-dir is required")
	}
	if c.Store.Backend != storage.BoltBackend {
		return errors.Errorf("unsupported store backend '%s'", c.Store.Backend)
	}
	if c.Store.DenseNodeThreshold < 1 {
		return errors.Errorf("store.dense-node-threshold must be positive, got %d", c.Store.DenseNodeThreshold)
	}
	if c.Index.PopulationWorkers < 0 {
		return errors.Errorf("index.population-workers cannot be negative, got %d", c.Index.PopulationWorkers)
	}
	if c.Locks.WaitTimeout < 0 {
		return errors.Errorf("locks.wait-timeout cannot be negative, got %s", c.Locks.WaitTimeout)
	}
	return nil
}

// MarshalTOML encodes the config.
func (c *Config) MarshalTOML() ([]byte, error) {
	var buf bytes.Buffer
	enc := gotoml.NewEncoder(&buf)
	enc.Order(gotoml.OrderPreserve)
	if err := enc.Encode(c); err != nil {
		return nil, errors.Wrap(err, "encoding config")
	}
	return buf.Bytes(), nil
}

// StorePath returns the path of the store file, with a leading ~ in
// DataDir expanded to the home directory.
func (c *Config) StorePath() (string, error) {
	dir := c.DataDir
	if dir == "~" || strings.HasPrefix(dir, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", errors.Wrap(err, "finding home directory")
		}
		dir = filepath.Join(home, strings.TrimPrefix(dir, "~"))
	}
	return filepath.Join(dir, StoreFileName), nil
}
