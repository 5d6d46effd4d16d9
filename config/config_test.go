// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/featurebasedb/graphkernel/config"
	"github.com/featurebasedb/graphkernel/toml"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	c, err := config.Parse([]byte(`
data-dir = "/tmp/gk"

[store]
dense-node-threshold = 10
fsync = false

[counts]
scan-based = true

[index]
population-workers = 2

[locks]
wait-timeout = "250ms"

[log]
verbose = true
`))
	require.NoError(t, err)
	assert.Equal(t, "/tmp/gk", c.DataDir)
	assert.Equal(t, 10, c.Store.DenseNodeThreshold)
	assert.False(t, c.Store.FsyncEnabled)
	assert.True(t, c.Counts.ScanBased)
	assert.True(t, c.Cursors.Pooling, "defaults survive")
	assert.Equal(t, 2, c.Index.PopulationWorkers)
	assert.Equal(t, toml.Duration(250*time.Millisecond), c.Locks.WaitTimeout)
	assert.True(t, c.Log.Verbose)
}

func TestValidate(t *testing.T) {
	_, err := config.Parse([]byte(`data-dir = ""`))
	assert.Error(t, err)

	_, err = config.Parse([]byte("[store]\ndense-node-threshold = 0"))
	assert.Error(t, err)

	_, err = config.Parse([]byte("[store]\nbackend = \"rocks\""))
	assert.Error(t, err)
}

func TestLoad_RoundTrip(t *testing.T) {
	want := config.Default()
	want.DataDir = "/var/lib/gk"
	want.Counts.ScanBased = true
	buf, err := want.MarshalTOML()
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "graphkernel.toml")
	require.NoError(t, os.WriteFile(path, buf, 0600))
	got, err := config.Load(path)
	require.NoError(t, err)
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("config mismatch (-want +got):\n%s", diff)
	}
}

func TestStorePath(t *testing.T) {
	c := config.Default()
	c.DataDir = "/var/lib/gk"
	p, err := c.StorePath()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("/var/lib/gk", config.StoreFileName), p)

	home, err := os.UserHomeDir()
	require.NoError(t, err)
	c.DataDir = "~/graphs"
	p, err = c.StorePath()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, "graphs", config.StoreFileName), p)
}
