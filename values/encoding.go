// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package values

import (
	"github.com/featurebasedb/graphkernel/errors"
	"github.com/vmihailenco/msgpack/v5"
)

const (
	kindNoValue uint8 = iota
	kindBool
	kindInt
	kindFloat
	kindText
	kindPoint
)

// record is the msgpack form of a Value. Only the field matching Kind is
// populated.
type record struct {
	Kind  uint8   `msgpack:"k"`
	Bool  bool    `msgpack:"b,omitempty"`
	Int   int64   `msgpack:"i,omitempty"`
	Float float64 `msgpack:"f,omitempty"`
	Text  string  `msgpack:"t,omitempty"`
	CRS   int32   `msgpack:"c,omitempty"`
	X     float64 `msgpack:"x,omitempty"`
	Y     float64 `msgpack:"y,omitempty"`
}

// Marshal encodes v for storage.
func Marshal(v Value) ([]byte, error) {
	var r record
	switch x := v.(type) {
	case nil, noValue:
		r.Kind = kindNoValue
	case Bool:
		r.Kind, r.Bool = kindBool, bool(x)
	case Int:
		r.Kind, r.Int = kindInt, int64(x)
	case Float:
		r.Kind, r.Float = kindFloat, float64(x)
	case Text:
		r.Kind, r.Text = kindText, string(x)
	case Point:
		r.Kind, r.CRS, r.X, r.Y = kindPoint, x.CRS, x.X, x.Y
	default:
		return nil, errors.Errorf("unsupported value type %T", v)
	}
	buf, err := msgpack.Marshal(&r)
	return buf, errors.Wrap(err, "marshalling value")
}

// Unmarshal decodes a value written by Marshal.
func Unmarshal(buf []byte) (Value, error) {
	var r record
	if err := msgpack.Unmarshal(buf, &r); err != nil {
		return nil, errors.Wrap(err, "unmarshalling value")
	}
	switch r.Kind {
	case kindNoValue:
		return NoValue, nil
	case kindBool:
		return Bool(r.Bool), nil
	case kindInt:
		return Int(r.Int), nil
	case kindFloat:
		return Float(r.Float), nil
	case kindText:
		return Text(r.Text), nil
	case kindPoint:
		return Point{CRS: r.CRS, X: r.X, Y: r.Y}, nil
	}
	return nil, errors.Errorf("unknown value kind %d", r.Kind)
}

// MarshalTuple encodes every element of t.
func MarshalTuple(t Tuple) ([]byte, error) {
	rs := make([][]byte, len(t))
	for i, v := range t {
		b, err := Marshal(v)
		if err != nil {
			return nil, err
		}
		rs[i] = b
	}
	buf, err := msgpack.Marshal(rs)
	return buf, errors.Wrap(err, "marshalling tuple")
}

// UnmarshalTuple decodes a tuple written by MarshalTuple.
func UnmarshalTuple(buf []byte) (Tuple, error) {
	var rs [][]byte
	if err := msgpack.Unmarshal(buf, &rs); err != nil {
		return nil, errors.Wrap(err, "unmarshalling tuple")
	}
	t := make(Tuple, len(rs))
	for i, b := range rs {
		v, err := Unmarshal(b)
		if err != nil {
			return nil, err
		}
		t[i] = v
	}
	return t, nil
}
