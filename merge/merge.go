// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0

// Package merge merges sorted streams into one sorted stream.
//
// Unordered runs
//
// An input may declare, through Input.Unordered, that some of its items are
// not in comparator order relative to each other even though the stream is
// otherwise sorted. The value indexes are such a stream: points are stored
// in Z-order, which is not the order the value comparator gives them. A
// contiguous run of such items is read ahead into a buffer, sorted, and then
// merged as usual. The buffer holds one run at a time; it never grows past
// the longest contiguous run.
package merge

import "sort"

// Iterator is a stream of items.
type Iterator[T any] interface {
	Next() bool
	Item() T
}

// Input is one sorted stream taking part in a merge.
type Input[T any] struct {
	Iter Iterator[T]
	// Unordered, if set, reports items whose relative order in Iter may
	// disagree with the comparator.
	Unordered func(T) bool
}

// Merger is a k-way merge of Inputs. Items comparing equal are returned in
// input order.
type Merger[T any] struct {
	cmp    func(a, b T) int
	inputs []*input[T]
	cur    T
	// last is advanced lazily so nothing is read ahead of the caller.
	last *input[T]
}

// New returns a Merger ordered by cmp.
func New[T any](cmp func(a, b T) int, inputs ...Input[T]) *Merger[T] {
	m := &Merger[T]{cmp: cmp}
	for _, in := range inputs {
		if in.Iter == nil {
			continue
		}
		m.inputs = append(m.inputs, &input[T]{Input: in, cmp: cmp})
	}
	for _, in := range m.inputs {
		in.advance()
	}
	return m
}

// Next moves to the smallest remaining item.
func (m *Merger[T]) Next() bool {
	if m.last != nil {
		m.last.advance()
		m.last = nil
	}
	var best *input[T]
	for _, in := range m.inputs {
		if !in.ok {
			continue
		}
		if best == nil || m.cmp(in.head, best.head) < 0 {
			best = in
		}
	}
	if best == nil {
		return false
	}
	m.cur = best.head
	m.last = best
	return true
}

// Item returns the current item.
func (m *Merger[T]) Item() T { return m.cur }

type input[T any] struct {
	Input[T]
	cmp func(a, b T) int

	head T
	ok   bool

	run []T
	pos int

	// lookahead is the item that ended the last run.
	lookahead    T
	hasLookahead bool
}

func (in *input[T]) pull() (T, bool) {
	if in.hasLookahead {
		in.hasLookahead = false
		return in.lookahead, true
	}
	if in.Iter.Next() {
		return in.Iter.Item(), true
	}
	var zero T
	return zero, false
}

func (in *input[T]) advance() {
	if in.pos < len(in.run) {
		in.head, in.ok = in.run[in.pos], true
		in.pos++
		return
	}
	in.run, in.pos = in.run[:0], 0

	item, ok := in.pull()
	if !ok || in.Unordered == nil || !in.Unordered(item) {
		in.head, in.ok = item, ok
		return
	}

	in.run = append(in.run, item)
	for in.Iter.Next() {
		next := in.Iter.Item()
		if !in.Unordered(next) {
			in.lookahead, in.hasLookahead = next, true
			break
		}
		in.run = append(in.run, next)
	}
	sort.SliceStable(in.run, func(i, j int) bool { return in.cmp(in.run[i], in.run[j]) < 0 })
	in.head, in.ok = in.run[0], true
	in.pos = 1
}

// Slice iterates over items.
type Slice[T any] struct {
	items []T
	i     int
}

// NewSlice returns an Iterator over items.
func NewSlice[T any](items []T) *Slice[T] {
	return &Slice[T]{items: items, i: -1}
}

func (s *Slice[T]) Next() bool {
	if s.i+1 >= len(s.items) {
		s.i = len(s.items)
		return false
	}
	s.i++
	return true
}

func (s *Slice[T]) Item() T { return s.items[s.i] }

// Reverse returns the comparator ordering the other way around.
func Reverse[T any](cmp func(a, b T) int) func(a, b T) int {
	return func(a, b T) int { return cmp(b, a) }
}
