// Copyright 2026 The EntityKit Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package driver

import (
	"bytes"
	"fmt"
	"math"
	"math/big"
	"reflect"
	"strings"
	"time"

	"entitykit.dev/internal/gcerr"
	"github.com/golang/protobuf/jsonpb"
	"github.com/golang/protobuf/proto"
)

// A Kind identifies the type of a filter value. The set of kinds is closed:
// ValueOf rejects anything that does not map onto one of them.
type Kind int

// Values for Kind.
const (
	String Kind = iota + 1
	Int
	Float
	Bool
	Time
	Bytes
	Enum    // a protobuf enum, stored by its ordinal number
	Message // a protobuf message, stored as its JSON rendering
)

//go:generate stringer -type=Kind

// A Value is a filter comparison value: a member of the closed union of
// kinds the stores can represent natively. The zero Value is invalid.
// Values are immutable; create them with ValueOf or one of the typed
// constructors.
type Value struct {
	kind Kind
	s    string // String, Message
	i    int64  // Int, Enum
	f    float64
	b    bool
	t    time.Time
	bs   []byte
}

// Kind returns the kind of the value.
func (v Value) Kind() Kind { return v.kind }

// Typed constructors. Each produces a Value of the corresponding kind.

// StringValue returns a Value holding s.
func StringValue(s string) Value { return Value{kind: String, s: s} }

// IntValue returns a Value holding i.
func IntValue(i int64) Value { return Value{kind: Int, i: i} }

// FloatValue returns a Value holding f.
func FloatValue(f float64) Value { return Value{kind: Float, f: f} }

// BoolValue returns a Value holding b.
func BoolValue(b bool) Value { return Value{kind: Bool, b: b} }

// TimeValue returns a Value holding t.
func TimeValue(t time.Time) Value { return Value{kind: Time, t: t} }

// BytesValue returns a Value holding b.
func BytesValue(b []byte) Value { return Value{kind: Bytes, bs: b} }

// EnumValue returns a Value holding the ordinal number of a protobuf enum.
func EnumValue(ordinal int32) Value { return Value{kind: Enum, i: int64(ordinal)} }

// MessageValue returns a Value holding the JSON rendering of m.
func MessageValue(m proto.Message) (Value, error) {
	s, err := (&jsonpb.Marshaler{}).MarshalToString(m)
	if err != nil {
		return Value{}, gcerr.Newf(gcerr.InvalidArgument, err, "cannot encode message value of type %T", m)
	}
	return Value{kind: Message, s: s}, nil
}

// protoEnum is implemented by every enum type generated by the protobuf
// compiler.
type protoEnum interface {
	fmt.Stringer
	EnumDescriptor() ([]byte, []int)
}

// ValueOf converts a Go value into a Value. The mapping is a fixed table:
//
//	string                     String
//	signed and unsigned ints   Int
//	float32, float64           Float
//	bool                       Bool
//	time.Time                  Time
//	[]byte                     Bytes
//	generated protobuf enums   Enum (by ordinal)
//	proto.Message              Message (as JSON)
//
// Named types whose underlying type is one of the above are accepted.
// Anything else is rejected with an InvalidArgument error; unknown kinds
// surface at predicate construction, before any query is issued.
func ValueOf(x interface{}) (Value, error) {
	switch v := x.(type) {
	case Value:
		return v, nil
	case nil:
		return Value{}, gcerr.Newf(gcerr.InvalidArgument, nil, "nil is not a valid filter value")
	case time.Time:
		return TimeValue(v), nil
	case []byte:
		return BytesValue(v), nil
	case protoEnum:
		rv := reflect.ValueOf(x)
		if rv.Kind() != reflect.Int32 {
			return Value{}, gcerr.Newf(gcerr.InvalidArgument, nil, "enum value %v of type %[1]T is not an int32", x)
		}
		return EnumValue(int32(rv.Int())), nil
	case proto.Message:
		return MessageValue(v)
	}
	rv := reflect.ValueOf(x)
	switch rv.Kind() {
	case reflect.String:
		return StringValue(rv.String()), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return IntValue(rv.Int()), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		u := rv.Uint()
		if u > math.MaxInt64 {
			return Value{}, gcerr.Newf(gcerr.InvalidArgument, nil, "unsigned value %d overflows int64", u)
		}
		return IntValue(int64(u)), nil
	case reflect.Float32, reflect.Float64:
		return FloatValue(rv.Float()), nil
	case reflect.Bool:
		return BoolValue(rv.Bool()), nil
	default:
		return Value{}, gcerr.Newf(gcerr.InvalidArgument, nil, "value %v of type %[1]T is not a supported filter value", x)
	}
}

// Interface returns the Go value held by v: string, int64, float64, bool,
// time.Time or []byte. Enum values are returned as int64 ordinals and
// Message values as their JSON string.
func (v Value) Interface() interface{} {
	switch v.kind {
	case String, Message:
		return v.s
	case Int, Enum:
		return v.i
	case Float:
		return v.f
	case Bool:
		return v.b
	case Time:
		return v.t
	case Bytes:
		return v.bs
	default:
		return nil
	}
}

func (v Value) String() string {
	return fmt.Sprintf("%v[%v]", v.kind, v.Interface())
}

// CompareValues returns -1, 1 or 0 depending on whether v1 is less than,
// greater than or equal to v2. Int and Float values compare with each other
// by mathematical value; Enum compares with Int by ordinal; Message compares
// with String by its JSON text; all other cross-kind comparisons are errors.
func CompareValues(v1, v2 Value) (int, error) {
	switch {
	case isNumeric(v1) && isNumeric(v2):
		switch {
		case v1.kind != Float && v2.kind != Float:
			return compareInt64(v1.i, v2.i), nil
		case v1.kind == Float && v2.kind == Float:
			return compareFloat64(v1.f, v2.f), nil
		case v1.kind == Float:
			return -compareIntFloat(v2.i, v1.f), nil
		default:
			return compareIntFloat(v1.i, v2.f), nil
		}
	case isText(v1) && isText(v2):
		return strings.Compare(v1.s, v2.s), nil
	case v1.kind == Bool && v2.kind == Bool:
		switch {
		case !v1.b && v2.b:
			return -1, nil
		case v1.b && !v2.b:
			return 1, nil
		default:
			return 0, nil
		}
	case v1.kind == Time && v2.kind == Time:
		switch {
		case v1.t.Before(v2.t):
			return -1, nil
		case v1.t.After(v2.t):
			return 1, nil
		default:
			return 0, nil
		}
	case v1.kind == Bytes && v2.kind == Bytes:
		return bytes.Compare(v1.bs, v2.bs), nil
	default:
		return 0, gcerr.Newf(gcerr.InvalidArgument, nil, "cannot compare %v with %v", v1.kind, v2.kind)
	}
}

func isNumeric(v Value) bool { return v.kind == Int || v.kind == Float || v.kind == Enum }

func isText(v Value) bool { return v.kind == String || v.kind == Message }

func compareInt64(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func compareFloat64(a, b float64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// compareIntFloat compares the mathematical values of an int64 and a float64.
// Converting the int to float64 first would round above 2^53, so both operands
// go through big.Float, which represents either exactly.
func compareIntFloat(i int64, f float64) int {
	if math.IsNaN(f) {
		// Matches Go float comparison, where NaN is neither less nor greater.
		return 0
	}
	var bi, bf big.Float
	bi.SetInt64(i)
	bf.SetFloat64(f)
	return bi.Cmp(&bf)
}
