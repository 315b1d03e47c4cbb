package schema

import "github.com/blastbao/gomem/flatbuffers"

// Kind is the storage kind of a field or vector element.
type Kind uint8

const (
	Invalid Kind = iota
	Bool
	Int8
	Uint8
	Int16
	Uint16
	Int32
	Uint32
	Int64
	Uint64
	Float16
	Float32
	Float64
	String
	Vector
	TableKind
)

var kindNames = [...]string{
	Invalid:   "invalid",
	Bool:      "bool",
	Int8:      "int8",
	Uint8:     "uint8",
	Int16:     "int16",
	Uint16:    "uint16",
	Int32:     "int32",
	Uint32:    "uint32",
	Int64:     "int64",
	Uint64:    "uint64",
	Float16:   "float16",
	Float32:   "float32",
	Float64:   "float64",
	String:    "string",
	Vector:    "vector",
	TableKind: "table",
}

// kindAliases are the IDL spellings accepted by ParseKind besides the
// canonical names.
var kindAliases = map[string]Kind{
	"byte":   Int8,
	"ubyte":  Uint8,
	"short":  Int16,
	"ushort": Uint16,
	"int":    Int32,
	"uint":   Uint32,
	"long":   Int64,
	"ulong":  Uint64,
	"half":   Float16,
	"float":  Float32,
	"double": Float64,
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "invalid"
}

// ParseKind resolves a scalar or string kind name. Vector and table kinds
// are spelled by the descriptor syntax and are not returned.
func ParseKind(name string) (Kind, bool) {
	if k, ok := kindAliases[name]; ok {
		return k, true
	}
	for k := Bool; k <= String; k++ {
		if kindNames[k] == name {
			return k, true
		}
	}
	return Invalid, false
}

// Size is the number of bytes a value of kind k occupies inline in a table
// or vector: the scalar width, or the width of an offset for strings,
// vectors and tables.
func (k Kind) Size() int {
	switch k {
	case Bool:
		return flatbuffers.SizeBool
	case Int8, Uint8:
		return flatbuffers.SizeInt8
	case Int16, Uint16, Float16:
		return flatbuffers.SizeInt16
	case Int32, Uint32, Float32:
		return flatbuffers.SizeInt32
	case Int64, Uint64, Float64:
		return flatbuffers.SizeInt64
	case String, Vector, TableKind:
		return flatbuffers.SizeUOffsetT
	}
	return 0
}

func (k Kind) IsScalar() bool { return k >= Bool && k <= Float64 }
func (k Kind) IsFloat() bool { return k >= Float16 && k <= Float64 }
func (k Kind) IsOffset() bool { return k >= String && k <= TableKind }

func (k Kind) IsSigned() bool {
	switch k {
	case Int8, Int16, Int32, Int64:
		return true
	}
	return k.IsFloat()
}

// IsInteger reports whether k is a signed or unsigned integer kind.
func (k Kind) IsInteger() bool { return k >= Int8 && k <= Uint64 }

// bits returns the value width in bits.
func (k Kind) bits() uint { return uint(k.Size()) * 8 }

// intRange is the representable range of a signed integer kind.
func (k Kind) intRange() (lo, hi int64) {
	n := k.bits()
	return -1 << (n - 1), 1<<(n-1) - 1
}

// uintMax is the largest value of an unsigned integer kind.
func (k Kind) uintMax() uint64 {
	if k.bits() == 64 {
		return ^uint64(0)
	}
	return 1<<k.bits() - 1
}
