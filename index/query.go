// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package index

import (
	"fmt"
	"strings"

	"github.com/featurebasedb/graphkernel/values"
)

// QueryKind is the shape of a single index predicate.
type QueryKind uint8

const (
	QueryAllEntries QueryKind = iota
	QueryExact
	QueryRange
	QueryStringPrefix
	QueryStringSuffix
	QueryStringContains
	QueryExists
	QueryToken
)

func (k QueryKind) String() string {
	switch k {
	case QueryAllEntries:
		return "allEntries"
	case QueryExact:
		return "exact"
	case QueryRange:
		return "range"
	case QueryStringPrefix:
		return "stringPrefix"
	case QueryStringSuffix:
		return "stringSuffix"
	case QueryStringContains:
		return "stringContains"
	case QueryExists:
		return "exists"
	case QueryToken:
		return "token"
	}
	return "unknown"
}

// Query is one predicate of an index seek. Property queries apply to the
// slot of PropertyKey; token queries match a label or relationship type.
type Query struct {
	Kind        QueryKind
	PropertyKey int32

	Value values.Value

	From          values.Value
	FromInclusive bool
	To            values.Value
	ToInclusive   bool

	Text string

	Token int32
}

func Exact(key int32, v values.Value) Query {
	return Query{Kind: QueryExact, PropertyKey: key, Value: v}
}

// Range matches values of the bounds' group between from and to. Either
// bound may be nil, but not both.
func Range(key int32, from values.Value, fromInclusive bool, to values.Value, toInclusive bool) Query {
	return Query{Kind: QueryRange, PropertyKey: key, From: from, FromInclusive: fromInclusive, To: to, ToInclusive: toInclusive}
}

func StringPrefix(key int32, prefix string) Query {
	return Query{Kind: QueryStringPrefix, PropertyKey: key, Text: prefix}
}

func StringSuffix(key int32, suffix string) Query {
	return Query{Kind: QueryStringSuffix, PropertyKey: key, Text: suffix}
}

func StringContains(key int32, substr string) Query {
	return Query{Kind: QueryStringContains, PropertyKey: key, Text: substr}
}

func Exists(key int32) Query {
	return Query{Kind: QueryExists, PropertyKey: key}
}

func Token(token int32) Query {
	return Query{Kind: QueryToken, Token: token}
}

func AllEntries() Query {
	return Query{Kind: QueryAllEntries}
}

// rangeGroup returns the value group a range query is restricted to.
func (q Query) rangeGroup() values.ValueGroup {
	if q.From != nil {
		return q.From.Group()
	}
	if q.To != nil {
		return q.To.Group()
	}
	return values.GroupNoValue
}

// Accepts reports whether v satisfies the predicate.
func (q Query) Accepts(v values.Value) bool {
	if v == nil || v.Group() == values.GroupNoValue {
		return q.Kind == QueryAllEntries
	}
	switch q.Kind {
	case QueryAllEntries, QueryExists:
		return true
	case QueryExact:
		return values.Compare(q.Value, v) == 0
	case QueryRange:
		if v.Group() != q.rangeGroup() {
			return false
		}
		if q.From != nil {
			c := values.Compare(v, q.From)
			if c < 0 || (c == 0 && !q.FromInclusive) {
				return false
			}
		}
		if q.To != nil {
			c := values.Compare(v, q.To)
			if c > 0 || (c == 0 && !q.ToInclusive) {
				return false
			}
		}
		return true
	case QueryStringPrefix, QueryStringSuffix, QueryStringContains:
		t, ok := v.(values.Text)
		if !ok {
			return false
		}
		switch q.Kind {
		case QueryStringPrefix:
			return strings.HasPrefix(string(t), q.Text)
		case QueryStringSuffix:
			return strings.HasSuffix(string(t), q.Text)
		}
		return strings.Contains(string(t), q.Text)
	}
	return false
}

func (q Query) String() string {
	switch q.Kind {
	case QueryExact:
		return fmt.Sprintf("exact(%d=%s)", q.PropertyKey, q.Value)
	case QueryRange:
		return fmt.Sprintf("range(%d, %v..%v)", q.PropertyKey, q.From, q.To)
	case QueryStringPrefix, QueryStringSuffix, QueryStringContains:
		return fmt.Sprintf("%s(%d, %q)", q.Kind, q.PropertyKey, q.Text)
	case QueryExists:
		return fmt.Sprintf("exists(%d)", q.PropertyKey)
	case QueryToken:
		return fmt.Sprintf("token(%d)", q.Token)
	}
	return q.Kind.String()
}

// AcceptsTuple reports whether every query accepts its slot of t. Queries
// are matched to slots by position.
func AcceptsTuple(queries []Query, t values.Tuple) bool {
	if len(queries) > len(t) {
		return false
	}
	for i, q := range queries {
		if !q.Accepts(t[i]) {
			return false
		}
	}
	return true
}
