// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0

// Package values defines the property values stored on nodes and
// relationships, the comparator indexes order them by, and their record
// encoding.
package values

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ValueGroup partitions values into mutually ordered groups. Values of
// different groups compare by group first.
type ValueGroup uint8

const (
	GroupNoValue ValueGroup = iota
	GroupPoint
	GroupText
	GroupBoolean
	GroupNumber
)

func (g ValueGroup) String() string {
	switch g {
	case GroupNoValue:
		return "NO_VALUE"
	case GroupPoint:
		return "POINT"
	case GroupText:
		return "TEXT"
	case GroupBoolean:
		return "BOOLEAN"
	case GroupNumber:
		return "NUMBER"
	}
	return "UNKNOWN"
}

// Value is a single property value.
type Value interface {
	Group() ValueGroup
	// Equals is strict: values of different concrete types are never equal,
	// so Int(1) does not equal Float(1).
	Equals(other Value) bool
	String() string
}

type noValue struct{}

// NoValue stands for "no property" wherever a Value is expected.
var NoValue Value = noValue{}

func (noValue) Group() ValueGroup { return GroupNoValue }
func (noValue) String() string    { return "NO_VALUE" }

func (noValue) Equals(other Value) bool {
	_, ok := other.(noValue)
	return ok
}

// Bool is a boolean value.
type Bool bool

func (Bool) Group() ValueGroup { return GroupBoolean }
func (b Bool) Equals(other Value) bool {
	o, ok := other.(Bool)
	return ok && o == b
}
func (b Bool) String() string { return strconv.FormatBool(bool(b)) }

// Int is a 64-bit integer value.
type Int int64

func (Int) Group() ValueGroup { return GroupNumber }
func (i Int) Equals(other Value) bool {
	o, ok := other.(Int)
	return ok && o == i
}
func (i Int) String() string { return strconv.FormatInt(int64(i), 10) }

// Float is a 64-bit floating point value.
type Float float64

func (Float) Group() ValueGroup { return GroupNumber }
func (f Float) Equals(other Value) bool {
	o, ok := other.(Float)
	return ok && (o == f || (math.IsNaN(float64(o)) && math.IsNaN(float64(f))))
}
func (f Float) String() string { return strconv.FormatFloat(float64(f), 'g', -1, 64) }

// Text is a string value.
type Text string

func (Text) Group() ValueGroup { return GroupText }
func (t Text) Equals(other Value) bool {
	o, ok := other.(Text)
	return ok && o == t
}
func (t Text) String() string { return strconv.Quote(string(t)) }

// Point is a two dimensional spatial value in a coordinate reference system.
type Point struct {
	CRS int32
	X   float64
	Y   float64
}

// Cartesian and WGS84 are the coordinate reference systems understood by
// the kernel. Other codes are accepted and ordered numerically.
const (
	Cartesian int32 = 7203
	WGS84     int32 = 4326
)

func (Point) Group() ValueGroup { return GroupPoint }
func (p Point) Equals(other Value) bool {
	o, ok := other.(Point)
	return ok && o == p
}
func (p Point) String() string {
	return fmt.Sprintf("point({crs:%d, x:%g, y:%g})", p.CRS, p.X, p.Y)
}

// Compare orders values by group and then within the group. Numbers compare
// numerically across Int and Float; points compare by CRS, X and Y.
func Compare(a, b Value) int {
	if a == nil {
		a = NoValue
	}
	if b == nil {
		b = NoValue
	}
	ga, gb := a.Group(), b.Group()
	if ga != gb {
		if ga < gb {
			return -1
		}
		return 1
	}
	switch ga {
	case GroupNoValue:
		return 0
	case GroupBoolean:
		x, y := a.(Bool), b.(Bool)
		switch {
		case x == y:
			return 0
		case !bool(x):
			return -1
		}
		return 1
	case GroupText:
		return strings.Compare(string(a.(Text)), string(b.(Text)))
	case GroupNumber:
		return compareNumbers(a, b)
	case GroupPoint:
		return comparePoints(a.(Point), b.(Point))
	}
	return 0
}

func compareNumbers(a, b Value) int {
	ai, aInt := a.(Int)
	bi, bInt := b.(Int)
	if aInt && bInt {
		return compareInt64(int64(ai), int64(bi))
	}
	return compareFloat64(asFloat(a), asFloat(b))
}

func asFloat(v Value) float64 {
	switch n := v.(type) {
	case Int:
		return float64(n)
	case Float:
		return float64(n)
	}
	return math.NaN()
}

func comparePoints(a, b Point) int {
	if c := compareInt64(int64(a.CRS), int64(b.CRS)); c != 0 {
		return c
	}
	if c := compareFloat64(a.X, b.X); c != 0 {
		return c
	}
	return compareFloat64(a.Y, b.Y)
}

func compareInt64(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

// compareFloat64 sorts NaN after every other number.
func compareFloat64(a, b float64) int {
	aNaN, bNaN := math.IsNaN(a), math.IsNaN(b)
	switch {
	case aNaN && bNaN:
		return 0
	case aNaN:
		return 1
	case bNaN:
		return -1
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

// Tuple is an ordered list of values, one per property of an index schema.
type Tuple []Value

// CompareTuples compares element-wise; shorter tuples sort first on a tie.
func CompareTuples(a, b Tuple) int {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		if c := Compare(a[i], b[i]); c != 0 {
			return c
		}
	}
	return compareInt64(int64(len(a)), int64(len(b)))
}

// Equals reports strict element-wise equality.
func (t Tuple) Equals(o Tuple) bool {
	if len(t) != len(o) {
		return false
	}
	for i := range t {
		if !t[i].Equals(o[i]) {
			return false
		}
	}
	return true
}

// HasPoints reports whether any element is a point.
func (t Tuple) HasPoints() bool {
	for _, v := range t {
		if v != nil && v.Group() == GroupPoint {
			return true
		}
	}
	return false
}

func (t Tuple) String() string {
	parts := make([]string, len(t))
	for i, v := range t {
		if v == nil {
			v = NoValue
		}
		parts[i] = v.String()
	}
	return "(" + strings.Join(parts, ", ") + ")"
}

// ZOrder returns the Morton code of the point's coordinates. Indexes store
// points in this order, which is not the order Compare defines.
func ZOrder(p Point) uint64 {
	x := sortableBits(p.X) >> 32
	y := sortableBits(p.Y) >> 32
	return spread(x) | spread(y)<<1
}

// sortableBits maps a float64 onto a uint64 preserving order.
func sortableBits(f float64) uint64 {
	b := math.Float64bits(f)
	if b&(1<<63) != 0 {
		return ^b
	}
	return b | 1<<63
}

// spread interleaves zeros between the low 32 bits of v.
func spread(v uint64) uint64 {
	v &= 0xFFFFFFFF
	v = (v | v<<16) & 0x0000FFFF0000FFFF
	v = (v | v<<8) & 0x00FF00FF00FF00FF
	v = (v | v<<4) & 0x0F0F0F0F0F0F0F0F
	v = (v | v<<2) & 0x3333333333333333
	v = (v | v<<1) & 0x5555555555555555
	return v
}
