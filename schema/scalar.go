package schema

import (
	"math"
	"strconv"

	"github.com/blastbao/gomem/float16"
)

// Scalar is a typed scalar value held as the little-endian bit pattern it
// has in a buffer. The zero Scalar has kind Invalid and stands for "no
// explicit default": the field defaults to the zero value of its kind.
type Scalar struct {
	kind Kind
	bits uint64
}

// ScalarFromBits wraps a raw bit pattern of kind k, keeping only the low
// k.Size() bytes.
func ScalarFromBits(k Kind, bits uint64) Scalar {
	if n := k.bits(); n > 0 && n < 64 {
		bits &= 1<<n - 1
	}
	return Scalar{kind: k, bits: bits}
}

func BoolScalar(v bool) Scalar {
	if v {
		return Scalar{kind: Bool, bits: 1}
	}
	return Scalar{kind: Bool}
}

// IntScalar converts v to integer kind k, truncating like a Go conversion.
func IntScalar(k Kind, v int64) Scalar { return ScalarFromBits(k, uint64(v)) }

// UintScalar converts v to integer kind k, truncating like a Go conversion.
func UintScalar(k Kind, v uint64) Scalar { return ScalarFromBits(k, v) }

// FloatScalar rounds v to the precision of float kind k.
func FloatScalar(k Kind, v float64) Scalar {
	switch k {
	case Float16:
		return Scalar{kind: k, bits: uint64(float16.New(float32(v)).Uint16())}
	case Float32:
		return Scalar{kind: k, bits: uint64(math.Float32bits(float32(v)))}
	default:
		return Scalar{kind: k, bits: math.Float64bits(v)}
	}
}

func (s Scalar) Kind() Kind { return s.kind }

// Bits returns the stored bit pattern.
func (s Scalar) Bits() uint64 { return s.bits }

func (s Scalar) Bool() bool { return s.bits != 0 }

// Int returns the value as a signed integer, sign-extending signed kinds.
// Float kinds are truncated towards zero.
func (s Scalar) Int() int64 {
	switch {
	case s.kind.IsFloat():
		return int64(s.Float())
	case s.kind.IsSigned():
		shift := 64 - s.kind.bits()
		return int64(s.bits<<shift) >> shift
	}
	return int64(s.bits)
}

// Uint returns the value as an unsigned integer.
func (s Scalar) Uint() uint64 {
	switch {
	case s.kind.IsFloat():
		return uint64(s.Float())
	case s.kind.IsSigned():
		return uint64(s.Int())
	}
	return s.bits
}

// Float returns the value as a float64. Integer kinds are converted.
func (s Scalar) Float() float64 {
	switch s.kind {
	case Float16:
		return float64(float16.FromBits(uint16(s.bits)).Float32())
	case Float32:
		return float64(math.Float32frombits(uint32(s.bits)))
	case Float64:
		return math.Float64frombits(s.bits)
	}
	if s.kind.IsSigned() {
		return float64(s.Int())
	}
	return float64(s.bits)
}

// Equal reports whether s and o have the same kind and bit pattern.
func (s Scalar) Equal(o Scalar) bool { return s == o }

func (s Scalar) String() string {
	switch {
	case s.kind == Bool:
		return strconv.FormatBool(s.Bool())
	case s.kind == Float16:
		return float16.FromBits(uint16(s.bits)).String()
	case s.kind == Float32:
		return strconv.FormatFloat(s.Float(), 'g', -1, 32)
	case s.kind == Float64:
		return strconv.FormatFloat(s.Float(), 'g', -1, 64)
	case s.kind.IsSigned():
		return strconv.FormatInt(s.Int(), 10)
	case s.kind.IsInteger():
		return strconv.FormatUint(s.bits, 10)
	}
	return "<none>"
}
