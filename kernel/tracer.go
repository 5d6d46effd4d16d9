// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package kernel

// Tracer is notified of what cursors read, for profiling.
type Tracer interface {
	OnNode(id int64)
	OnRelationship(id int64)
	OnProperty(key int32)
	OnIndexEntry()
}

type nopTracer struct{}

func (nopTracer) OnNode(int64)         {}
func (nopTracer) OnRelationship(int64) {}
func (nopTracer) OnProperty(int32)     {}
func (nopTracer) OnIndexEntry()        {}

// CountingTracer counts notifications.
type CountingTracer struct {
	Nodes         int
	Relationships int
	Properties    int
	IndexEntries  int
}

func (t *CountingTracer) OnNode(int64)         { t.Nodes++ }
func (t *CountingTracer) OnRelationship(int64) { t.Relationships++ }
func (t *CountingTracer) OnProperty(int32)     { t.Properties++ }
func (t *CountingTracer) OnIndexEntry()        { t.IndexEntries++ }
