// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0

// Package locks implements the in-memory lock manager transactions take
// entity, token, schema and index entry locks from.
//
// There is no deadlock detection: lock waits are bounded by the caller's
// context and by the manager's wait timeout.
package locks

import (
	"context"
	"encoding/binary"
	"fmt"
	"hash"
	"math"
	"sync"
	"time"

	"github.com/cespare/xxhash"
	"github.com/featurebasedb/graphkernel/errors"
	"github.com/featurebasedb/graphkernel/logger"
	"github.com/featurebasedb/graphkernel/metrics"
	"github.com/featurebasedb/graphkernel/values"
	"golang.org/x/exp/slices"
)

// ResourceType is the kind of resource a lock protects.
type ResourceType uint8

const (
	Node ResourceType = iota
	Relationship
	Label
	RelationshipType
	Schema
	SchemaName
	IndexEntry
)

func (t ResourceType) String() string {
	switch t {
	case Node:
		return "NODE"
	case Relationship:
		return "RELATIONSHIP"
	case Label:
		return "LABEL"
	case RelationshipType:
		return "RELATIONSHIP_TYPE"
	case Schema:
		return "SCHEMA"
	case SchemaName:
		return "SCHEMA_NAME"
	case IndexEntry:
		return "INDEX_ENTRY"
	}
	return "UNKNOWN"
}

// Mode is shared or exclusive.
type Mode uint8

const (
	Shared Mode = iota
	Exclusive
)

func (m Mode) String() string {
	if m == Exclusive {
		return "EXCLUSIVE"
	}
	return "SHARED"
}

type resource struct {
	typ ResourceType
	id  int64
}

func (r resource) String() string { return fmt.Sprintf("%s(%d)", r.typ, r.id) }

// lockState is who holds one resource.
type lockState struct {
	exclusive *Client
	shared    map[*Client]struct{}
}

// Manager grants locks to Clients.
type Manager struct {
	mu        sync.Mutex
	resources map[resource]*lockState
	// released is closed and replaced whenever a lock is released.
	released chan struct{}

	waitTimeout time.Duration
	logger      logger.Logger
}

// NewManager returns a Manager. A zero waitTimeout waits until the
// caller's context is done.
func NewManager(waitTimeout time.Duration, log logger.Logger) *Manager {
	if log == nil {
		log = logger.NopLogger
	}
	return &Manager{
		resources:   make(map[resource]*lockState),
		released:    make(chan struct{}),
		waitTimeout: waitTimeout,
		logger:      log,
	}
}

// NewClient returns a lock client for one transaction.
func (m *Manager) NewClient(name string) *Client {
	return &Client{
		m:    m,
		name: name,
		held: make(map[resource]*holding),
	}
}

func (m *Manager) notifyLocked() {
	close(m.released)
	m.released = make(chan struct{})
}

func (m *Manager) state(r resource) *lockState {
	st := m.resources[r]
	if st == nil {
		st = &lockState{shared: make(map[*Client]struct{})}
		m.resources[r] = st
	}
	return st
}

func (m *Manager) gcLocked(r resource) {
	if st := m.resources[r]; st != nil && st.exclusive == nil && len(st.shared) == 0 {
		delete(m.resources, r)
	}
}

// grantable reports whether c may take r in mode right now.
func (st *lockState) grantable(c *Client, mode Mode) bool {
	if st.exclusive != nil && st.exclusive != c {
		return false
	}
	if mode == Shared {
		return true
	}
	for holder := range st.shared {
		if holder != c {
			return false
		}
	}
	return true
}

// holding counts the re-entrant holds of a client on a resource.
type holding struct {
	shared    int
	exclusive int
}

// Client holds the locks of a single transaction. It must only be used by
// one goroutine at a time.
type Client struct {
	m    *Manager
	name string
	held map[resource]*holding
}

// Acquire takes mode locks on ids in ascending id order, waiting as needed.
// On error, locks taken by this call are released again.
func (c *Client) Acquire(ctx context.Context, mode Mode, typ ResourceType, ids ...int64) error {
	sorted := append([]int64(nil), ids...)
	slices.Sort(sorted)
	for i, id := range sorted {
		if i > 0 && id == sorted[i-1] {
			continue
		}
		if err := c.acquire(ctx, mode, resource{typ, id}); err != nil {
			for _, done := range sorted[:i] {
				c.release(mode, resource{typ, done})
			}
			return err
		}
	}
	return nil
}

func (c *Client) acquire(ctx context.Context, mode Mode, r resource) error {
	var deadline <-chan time.Time
	waited := false
	for {
		c.m.mu.Lock()
		st := c.m.state(r)
		if st.grantable(c, mode) {
			c.grantLocked(st, mode, r)
			c.m.mu.Unlock()
			if waited {
				metrics.LockWaits.WithLabelValues("granted").Inc()
			}
			return nil
		}
		wait := c.m.released
		c.m.mu.Unlock()

		if !waited {
			waited = true
			c.m.logger.Debugf("%s waiting for %s lock on %s", c.name, mode, r)
			if c.m.waitTimeout > 0 {
				timer := time.NewTimer(c.m.waitTimeout)
				defer timer.Stop()
				deadline = timer.C
			}
		}
		select {
		case <-wait:
		case <-deadline:
			metrics.LockWaits.WithLabelValues("timeout").Inc()
			return errors.Newf(errors.ErrLockTimeout, "%s timed out waiting for %s lock on %s", c.name, mode, r)
		case <-ctx.Done():
			metrics.LockWaits.WithLabelValues("cancelled").Inc()
			return errors.Wrapf(errors.New(errors.ErrLockTimeout, ctx.Err().Error()), "%s waiting for %s lock on %s", c.name, mode, r)
		}
	}
}

func (c *Client) grantLocked(st *lockState, mode Mode, r resource) {
	h := c.held[r]
	if h == nil {
		h = &holding{}
		c.held[r] = h
	}
	if mode == Exclusive {
		st.exclusive = c
		h.exclusive++
		return
	}
	st.shared[c] = struct{}{}
	h.shared++
}

// Release drops one mode hold on each of ids.
func (c *Client) Release(mode Mode, typ ResourceType, ids ...int64) {
	for _, id := range ids {
		c.release(mode, resource{typ, id})
	}
}

func (c *Client) release(mode Mode, r resource) {
	c.m.mu.Lock()
	defer c.m.mu.Unlock()
	h := c.held[r]
	if h == nil {
		return
	}
	st := c.m.state(r)
	switch mode {
	case Exclusive:
		if h.exclusive == 0 {
			return
		}
		h.exclusive--
		if h.exclusive == 0 {
			st.exclusive = nil
		}
	default:
		if h.shared == 0 {
			return
		}
		h.shared--
		if h.shared == 0 {
			delete(st.shared, c)
		}
	}
	if h.shared == 0 && h.exclusive == 0 {
		delete(c.held, r)
	}
	c.m.gcLocked(r)
	c.m.notifyLocked()
}

// Downgrade turns every exclusive hold on id into a shared hold without
// the resource becoming unlocked in between.
func (c *Client) Downgrade(typ ResourceType, id int64) {
	r := resource{typ, id}
	c.m.mu.Lock()
	defer c.m.mu.Unlock()
	h := c.held[r]
	if h == nil || h.exclusive == 0 {
		return
	}
	st := c.m.state(r)
	h.shared += h.exclusive
	h.exclusive = 0
	st.exclusive = nil
	st.shared[c] = struct{}{}
	c.m.notifyLocked()
}

// Holds reports whether the client holds id at least in mode.
func (c *Client) Holds(mode Mode, typ ResourceType, id int64) bool {
	c.m.mu.Lock()
	defer c.m.mu.Unlock()
	h := c.held[resource{typ, id}]
	if h == nil {
		return false
	}
	if mode == Exclusive {
		return h.exclusive > 0
	}
	return h.shared > 0 || h.exclusive > 0
}

// ReleaseAll drops every lock the client holds.
func (c *Client) ReleaseAll() {
	c.m.mu.Lock()
	defer c.m.mu.Unlock()
	for r := range c.held {
		st := c.m.state(r)
		if st.exclusive == c {
			st.exclusive = nil
		}
		delete(st.shared, c)
		c.m.gcLocked(r)
	}
	c.held = make(map[resource]*holding)
	c.m.notifyLocked()
}

// IndexEntryResourceID derives the lock id of an index entry from the
// entity token, the property keys and the value tuple. Values that compare
// equal hash the same: numbers hash by their float64 bits whether they are
// Int or Float, with -0 folded into 0 and every NaN hashing alike.
func IndexEntryResourceID(token int32, keys []int32, tuple values.Tuple) int64 {
	h := xxhash.New()
	var buf [8]byte
	binary.BigEndian.PutUint32(buf[:4], uint32(token))
	_, _ = h.Write(buf[:4])
	for _, k := range keys {
		binary.BigEndian.PutUint32(buf[:4], uint32(k))
		_, _ = h.Write(buf[:4])
	}
	for _, v := range tuple {
		writeValue(h, v)
	}
	return int64(h.Sum64())
}

func writeValue(h hash.Hash64, v values.Value) {
	if v == nil {
		v = values.NoValue
	}
	var buf [8]byte
	_, _ = h.Write([]byte{byte(v.Group())})
	switch x := v.(type) {
	case values.Int:
		binary.BigEndian.PutUint64(buf[:], canonicalBits(float64(x)))
		_, _ = h.Write(buf[:])
	case values.Float:
		binary.BigEndian.PutUint64(buf[:], canonicalBits(float64(x)))
		_, _ = h.Write(buf[:])
	case values.Bool:
		if x {
			_, _ = h.Write([]byte{1})
		} else {
			_, _ = h.Write([]byte{0})
		}
	case values.Text:
		binary.BigEndian.PutUint64(buf[:], uint64(len(x)))
		_, _ = h.Write(buf[:])
		_, _ = h.Write([]byte(x))
	case values.Point:
		binary.BigEndian.PutUint32(buf[:4], uint32(x.CRS))
		_, _ = h.Write(buf[:4])
		binary.BigEndian.PutUint64(buf[:], canonicalBits(x.X))
		_, _ = h.Write(buf[:])
		binary.BigEndian.PutUint64(buf[:], canonicalBits(x.Y))
		_, _ = h.Write(buf[:])
	}
}

// canonicalBits returns the IEEE bits of f with -0 mapped to 0 and all NaNs
// mapped to one pattern.
func canonicalBits(f float64) uint64 {
	switch {
	case math.IsNaN(f):
		return 0x7ff8000000000001
	case f == 0:
		return 0
	}
	return math.Float64bits(f)
}

// SchemaNameResourceID derives the lock id of an index or constraint name.
func SchemaNameResourceID(name string) int64 {
	return int64(xxhash.Sum64String(name))
}
