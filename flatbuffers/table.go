package flatbuffers

import "math"

// Table wraps a byte slice and provides read access to its data.
//
// The variable `Pos` indicates the position of the table within Bytes: the
// 4-byte signed offset to its vtable is stored there, followed by the inline
// field data.
//
// Table performs no bounds checking. Bytes must either have been produced by
// a Builder in this process or have passed a Verifier.
type Table struct {
	Bytes []byte
	Pos   UOffsetT // Always < 1<<31.
}

//	vtable:
//	+-------------------+-------------------+-------------------+-------------------+-----+
//	| vtable size (2B)  | object size (2B)  | field0 offset (2B)| field1 offset (2B)| ... |
//	+-------------------+-------------------+-------------------+-------------------+-----+
//
//	object:
//	+-------------------+-------------------+-------------------+-----+
//	| vtable soffset(4B)| data for field0   | data for field1   | ... |
//	+-------------------+-------------------+-------------------+-----+

// GetRootAs returns the root table of a finished buffer whose root offset is
// stored at `offset` (0 for a plain buffer).
func GetRootAs(buf []byte, offset UOffsetT) Table {
	n := GetUOffsetT(buf[offset:])
	return Table{Bytes: buf, Pos: n + offset}
}

// BufferHasIdentifier reports whether buf carries the 4-byte file identifier
// fid right after its root offset.
func BufferHasIdentifier(buf []byte, fid string) bool {
	if len(fid) != fileIdentifierLength || len(buf) < SizeUOffsetT+fileIdentifierLength {
		return false
	}
	return string(buf[SizeUOffsetT:SizeUOffsetT+fileIdentifierLength]) == fid
}

// Offset provides access into the Table's vtable.
//
// Fields beyond the vtable's length were unknown to the writer and read as
// absent (0).
func (t *Table) Offset(vtableOffset VOffsetT) VOffsetT {
	// t.Pos 开始 4B 存储着 vtable 的相对偏移（有符号），这里计算出 vtable 的位置
	vtable := UOffsetT(SOffsetT(t.Pos) - t.GetSOffsetT(t.Pos))
	// vtable 的开始 2B 存储着 vtable 的大小，越界意味着写入方不认识该字段，返回 0 使用默认值
	if vtableOffset < t.GetVOffsetT(vtable) {
		return t.GetVOffsetT(vtable + UOffsetT(vtableOffset))
	}
	return 0
}

// FieldPos returns the absolute position of the field stored in slot
// `vtableOffset`, and whether the field is present.
func (t *Table) FieldPos(vtableOffset VOffsetT) (UOffsetT, bool) {
	off := t.Offset(vtableOffset)
	if off == 0 {
		return 0, false
	}
	return t.Pos + UOffsetT(off), true
}

// Indirect retrieves the relative offset stored at `off`.
// 间接寻址：off 处存储了相对于 off 自身的偏移量(4B)
func (t *Table) Indirect(off UOffsetT) UOffsetT {
	return off + GetUOffsetT(t.Bytes[off:])
}

// String gets a string from data stored inside the buffer. `off` is the
// absolute position of the field holding the offset to the string.
// The result aliases Bytes.
func (t *Table) String(off UOffsetT) string {
	return byteSliceToString(t.ByteVector(off))
}

// ByteVector gets a byte slice from data stored inside the buffer. `off` is
// the absolute position of the field holding the offset to the vector.
func (t *Table) ByteVector(off UOffsetT) []byte {
	// 两跳定位：先读出相对偏移找到 vector ，vector = length(4B) + content
	return t.BytesAt(off + GetUOffsetT(t.Bytes[off:]))
}

// BytesAt returns the payload of the string or vector whose length prefix
// is at `pos`.
func (t *Table) BytesAt(pos UOffsetT) []byte {
	length := GetUOffsetT(t.Bytes[pos:])
	start := pos + UOffsetT(SizeUOffsetT)
	return t.Bytes[start : start+length : start+length]
}

// StringAt is BytesAt for strings. The result aliases Bytes.
func (t *Table) StringAt(pos UOffsetT) string {
	return byteSliceToString(t.BytesAt(pos))
}

// VectorLen retrieves the length of the vector whose offset is stored at
// "off" in this object. `off` is relative to Pos.
func (t *Table) VectorLen(off UOffsetT) int {
	off += t.Pos
	off += GetUOffsetT(t.Bytes[off:])
	return int(GetUOffsetT(t.Bytes[off:]))
}

// Vector retrieves the start of data of the vector whose offset is stored
// at "off" in this object. `off` is relative to Pos.
func (t *Table) Vector(off UOffsetT) UOffsetT {
	off += t.Pos
	x := off + GetUOffsetT(t.Bytes[off:])
	// data starts after metadata containing the vector length
	return x + UOffsetT(SizeUOffsetT)
}

// Nested returns the table whose offset is stored at absolute position `off`.
func (t *Table) Nested(off UOffsetT) Table {
	return Table{Bytes: t.Bytes, Pos: t.Indirect(off)}
}

// GetBits retrieves a `width`-byte unsigned scalar at the given offset.
func (t *Table) GetBits(off UOffsetT, width int) uint64 {
	return GetBits(t.Bytes[off:], width)
}

func (t *Table) GetBool(off UOffsetT) bool { return GetBool(t.Bytes[off:]) }
func (t *Table) GetByte(off UOffsetT) byte { return GetByte(t.Bytes[off:]) }
func (t *Table) GetUint8(off UOffsetT) uint8 { return GetUint8(t.Bytes[off:]) }
func (t *Table) GetUint16(off UOffsetT) uint16 { return GetUint16(t.Bytes[off:]) }
func (t *Table) GetUint32(off UOffsetT) uint32 { return GetUint32(t.Bytes[off:]) }
func (t *Table) GetUint64(off UOffsetT) uint64 { return GetUint64(t.Bytes[off:]) }
func (t *Table) GetInt8(off UOffsetT) int8 { return GetInt8(t.Bytes[off:]) }
func (t *Table) GetInt16(off UOffsetT) int16 { return GetInt16(t.Bytes[off:]) }
func (t *Table) GetInt32(off UOffsetT) int32 { return GetInt32(t.Bytes[off:]) }
func (t *Table) GetInt64(off UOffsetT) int64 { return GetInt64(t.Bytes[off:]) }
func (t *Table) GetFloat32(off UOffsetT) float32 { return GetFloat32(t.Bytes[off:]) }
func (t *Table) GetFloat64(off UOffsetT) float64 { return GetFloat64(t.Bytes[off:]) }

// GetUOffsetT retrieves a UOffsetT at the given offset.
func (t *Table) GetUOffsetT(off UOffsetT) UOffsetT { return GetUOffsetT(t.Bytes[off:]) }

// GetVOffsetT retrieves a VOffsetT at the given offset.
func (t *Table) GetVOffsetT(off UOffsetT) VOffsetT { return GetVOffsetT(t.Bytes[off:]) }

// GetSOffsetT retrieves a SOffsetT at the given offset.
func (t *Table) GetSOffsetT(off UOffsetT) SOffsetT { return GetSOffsetT(t.Bytes[off:]) }

// GetBitsSlot retrieves the `width`-byte scalar that the given vtable location
// points to. If the vtable value is zero, the default bit pattern `d` is
// returned.
func (t *Table) GetBitsSlot(slot VOffsetT, width int, d uint64) uint64 {
	// 1. 根据 t.Pos 定位到 vtable
	// 2. 根据 slot 读取字段相对 t.Pos 的偏移，为 0 表示字段缺省
	// 3. 按宽度读取字段数据
	if off := t.Offset(slot); off != 0 {
		return t.GetBits(t.Pos+UOffsetT(off), width)
	}
	return d
}

func (t *Table) GetBoolSlot(slot VOffsetT, d bool) bool {
	return t.GetBitsSlot(slot, SizeBool, boolBits(d)) != 0
}

func (t *Table) GetByteSlot(slot VOffsetT, d byte) byte {
	return byte(t.GetBitsSlot(slot, SizeByte, uint64(d)))
}

func (t *Table) GetInt8Slot(slot VOffsetT, d int8) int8 {
	return int8(t.GetBitsSlot(slot, SizeInt8, uint64(uint8(d))))
}

func (t *Table) GetUint8Slot(slot VOffsetT, d uint8) uint8 {
	return uint8(t.GetBitsSlot(slot, SizeUint8, uint64(d)))
}

func (t *Table) GetInt16Slot(slot VOffsetT, d int16) int16 {
	return int16(t.GetBitsSlot(slot, SizeInt16, uint64(uint16(d))))
}

func (t *Table) GetUint16Slot(slot VOffsetT, d uint16) uint16 {
	return uint16(t.GetBitsSlot(slot, SizeUint16, uint64(d)))
}

func (t *Table) GetInt32Slot(slot VOffsetT, d int32) int32 {
	return int32(t.GetBitsSlot(slot, SizeInt32, uint64(uint32(d))))
}

func (t *Table) GetUint32Slot(slot VOffsetT, d uint32) uint32 {
	return uint32(t.GetBitsSlot(slot, SizeUint32, uint64(d)))
}

func (t *Table) GetInt64Slot(slot VOffsetT, d int64) int64 {
	return int64(t.GetBitsSlot(slot, SizeInt64, uint64(d)))
}

func (t *Table) GetUint64Slot(slot VOffsetT, d uint64) uint64 {
	return t.GetBitsSlot(slot, SizeUint64, d)
}

func (t *Table) GetFloat32Slot(slot VOffsetT, d float32) float32 {
	bits := t.GetBitsSlot(slot, SizeFloat32, uint64(math.Float32bits(d)))
	return math.Float32frombits(uint32(bits))
}

func (t *Table) GetFloat64Slot(slot VOffsetT, d float64) float64 {
	return math.Float64frombits(t.GetBitsSlot(slot, SizeFloat64, math.Float64bits(d)))
}
