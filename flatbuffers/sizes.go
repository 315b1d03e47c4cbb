package flatbuffers

import "unsafe"

type (
	// UOffsetT is an unsigned offset, always pointing forward from the
	// position that stores it.
	UOffsetT uint32
	// SOffsetT is a signed offset. A table uses it to locate its vtable,
	// which may sit on either side of the table.
	SOffsetT int32
	// VOffsetT is an entry of a vtable: a byte offset relative to the
	// start of the table, or 0 when the field is absent.
	VOffsetT uint16
)

const (
	SizeUint8   = 1
	SizeUint16  = 2
	SizeUint32  = 4
	SizeUint64  = 8
	SizeInt8    = 1
	SizeInt16   = 2
	SizeInt32   = 4
	SizeInt64   = 8
	SizeFloat32 = 4
	SizeFloat64 = 8
	SizeByte    = 1
	SizeBool    = 1

	SizeSOffsetT = 4
	SizeUOffsetT = 4
	SizeVOffsetT = 2
)

const (
	// VtableMetadataFields is the number of leading vtable entries that are
	// not field slots: the vtable size and the inline object size.
	VtableMetadataFields = 2

	// MaxBufferSize is the largest buffer addressable with 32-bit offsets
	// that the Builder will produce.
	MaxBufferSize = 1<<31 - 1

	fileIdentifierLength = 4
)

// SlotOffset returns the vtable byte offset holding field `index`.
//
// 字段 i 在 vtable 中的位置：跳过 2 个 meta field（vtable size, object size），每项 2B 。
func SlotOffset(index int) VOffsetT {
	return VOffsetT((index + VtableMetadataFields) * SizeVOffsetT)
}

// SlotIndex is the inverse of SlotOffset.
func SlotIndex(slot VOffsetT) int {
	return int(slot)/SizeVOffsetT - VtableMetadataFields
}

// byteSliceToString converts a []byte to string without a heap allocation.
// The string aliases the buffer; it is only valid while the buffer is.
func byteSliceToString(b []byte) string {
	if len(b) == 0 {
		return ""
	}
	return unsafe.String(unsafe.SliceData(b), len(b))
}
