// Package value implements the closed dynamic value system documents are
// built from (spec §3): a tagged sum type over {bool, i64, u64, f32, f64,
// string, bytes, vector<f32>, array<T>, map<string,Value>, null}. No open
// polymorphism is needed, so Value is a small struct with a Kind
// discriminant rather than an interface{} bag.
package value

import "fmt"

// Kind discriminates the closed set of value shapes.
type Kind uint8

const (
	KindNull Kind = iota
	KindBool
	KindI64
	KindU64
	KindF32
	KindF64
	KindString
	KindBytes
	KindVector
	KindArray
	KindMap
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindBool:
		return "bool"
	case KindI64:
		return "i64"
	case KindU64:
		return "u64"
	case KindF32:
		return "f32"
	case KindF64:
		return "f64"
	case KindString:
		return "string"
	case KindBytes:
		return "bytes"
	case KindVector:
		return "vector"
	case KindArray:
		return "array"
	case KindMap:
		return "map"
	default:
		return "unknown"
	}
}

// Value is a tagged union over the document field types of spec §3.
// Only the fields relevant to Kind are populated; zero values elsewhere
// are never observed by callers that switch on Kind first.
type Value struct {
	Kind   Kind
	Bool   bool
	I64    int64
	U64    uint64
	F32    float32
	F64    float64
	Str    string
	Bytes  []byte
	Vector []float32
	Array  []Value
	Map    map[string]Value
}

// Null is the singular null value.
var Null = Value{Kind: KindNull}

func Bool(b bool) Value        { return Value{Kind: KindBool, Bool: b} }
func I64(v int64) Value        { return Value{Kind: KindI64, I64: v} }
func U64(v uint64) Value        { return Value{Kind: KindU64, U64: v} }
func F32(v float32) Value      { return Value{Kind: KindF32, F32: v} }
func F64(v float64) Value      { return Value{Kind: KindF64, F64: v} }
func String(s string) Value    { return Value{Kind: KindString, Str: s} }
func Bytes(b []byte) Value     { return Value{Kind: KindBytes, Bytes: b} }
func Vector(v []float32) Value { return Value{Kind: KindVector, Vector: v} }
func Array(a []Value) Value    { return Value{Kind: KindArray, Array: a} }
func Map(m map[string]Value) Value { return Value{Kind: KindMap, Map: m} }

// IsNumber reports whether the value is one of the numeric kinds.
func (v Value) IsNumber() bool {
	switch v.Kind {
	case KindI64, KindU64, KindF32, KindF64:
		return true
	default:
		return false
	}
}

// AsFloat64 widens any numeric kind to float64 for comparisons. It panics
// if the value is not numeric; callers must check IsNumber first.
func (v Value) AsFloat64() float64 {
	switch v.Kind {
	case KindI64:
		return float64(v.I64)
	case KindU64:
		return float64(v.U64)
	case KindF32:
		return float64(v.F32)
	case KindF64:
		return v.F64
	default:
		panic(fmt.Sprintf("value: AsFloat64 on non-numeric kind %s", v.Kind))
	}
}

// Equal reports deep equality between two values.
func Equal(a, b Value) bool {
	if a.Kind != b.Kind {
		if a.IsNumber() && b.IsNumber() {
			return a.AsFloat64() == b.AsFloat64()
		}
		return false
	}
	switch a.Kind {
	case KindNull:
		return true
	case KindBool:
		return a.Bool == b.Bool
	case KindI64:
		return a.I64 == b.I64
	case KindU64:
		return a.U64 == b.U64
	case KindF32:
		return a.F32 == b.F32
	case KindF64:
		return a.F64 == b.F64
	case KindString:
		return a.Str == b.Str
	case KindBytes:
		return string(a.Bytes) == string(b.Bytes)
	case KindVector:
		if len(a.Vector) != len(b.Vector) {
			return false
		}
		for i := range a.Vector {
			if a.Vector[i] != b.Vector[i] {
				return false
			}
		}
		return true
	case KindArray:
		if len(a.Array) != len(b.Array) {
			return false
		}
		for i := range a.Array {
			if !Equal(a.Array[i], b.Array[i]) {
				return false
			}
		}
		return true
	case KindMap:
		if len(a.Map) != len(b.Map) {
			return false
		}
		for k, av := range a.Map {
			bv, ok := b.Map[k]
			if !ok || !Equal(av, bv) {
				return false
			}
		}
		return true
	default:
		return false
	}
}

// Less orders two values for ORDER BY: numeric kinds compare by widened
// float64, strings lexically, bools false-before-true. Kinds with no
// natural order (vectors, arrays, maps, null) compare equal to each
// other under Less, so ORDER BY on such a field is a stable no-op rather
// than an error.
func Less(a, b Value) bool {
	if a.IsNumber() && b.IsNumber() {
		return a.AsFloat64() < b.AsFloat64()
	}
	if a.Kind != b.Kind {
		return a.Kind < b.Kind
	}
	switch a.Kind {
	case KindBool:
		return !a.Bool && b.Bool
	case KindString:
		return a.Str < b.Str
	case KindBytes:
		return string(a.Bytes) < string(b.Bytes)
	default:
		return false
	}
}
