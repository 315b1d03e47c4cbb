package flatbuffers

import (
	"encoding/binary"
	"math"
)

// 所有数据均以小端序存储，与大部分处理器一致，读写无需字节交换。
var le = binary.LittleEndian

// GetBool decodes a little-endian bool from a byte slice.
func GetBool(buf []byte) bool { return buf[0] != 0 }

// GetByte decodes a byte from a byte slice.
func GetByte(buf []byte) byte { return buf[0] }

// GetUint8 decodes a uint8 from a byte slice.
func GetUint8(buf []byte) uint8 { return buf[0] }

// GetUint16 decodes a little-endian uint16 from a byte slice.
func GetUint16(buf []byte) uint16 { return le.Uint16(buf) }

// GetUint32 decodes a little-endian uint32 from a byte slice.
func GetUint32(buf []byte) uint32 { return le.Uint32(buf) }

// GetUint64 decodes a little-endian uint64 from a byte slice.
func GetUint64(buf []byte) uint64 { return le.Uint64(buf) }

// GetInt8 decodes a int8 from a byte slice.
func GetInt8(buf []byte) int8 { return int8(buf[0]) }

// GetInt16 decodes a little-endian int16 from a byte slice.
func GetInt16(buf []byte) int16 { return int16(le.Uint16(buf)) }

// GetInt32 decodes a little-endian int32 from a byte slice.
func GetInt32(buf []byte) int32 { return int32(le.Uint32(buf)) }

// GetInt64 decodes a little-endian int64 from a byte slice.
func GetInt64(buf []byte) int64 { return int64(le.Uint64(buf)) }

// GetFloat32 decodes a little-endian float32 from a byte slice.
func GetFloat32(buf []byte) float32 { return math.Float32frombits(le.Uint32(buf)) }

// GetFloat64 decodes a little-endian float64 from a byte slice.
func GetFloat64(buf []byte) float64 { return math.Float64frombits(le.Uint64(buf)) }

// GetUOffsetT decodes a little-endian UOffsetT from a byte slice.
func GetUOffsetT(buf []byte) UOffsetT { return UOffsetT(le.Uint32(buf)) }

// GetSOffsetT decodes a little-endian SOffsetT from a byte slice.
func GetSOffsetT(buf []byte) SOffsetT { return SOffsetT(le.Uint32(buf)) }

// GetVOffsetT decodes a little-endian VOffsetT from a byte slice.
func GetVOffsetT(buf []byte) VOffsetT { return VOffsetT(le.Uint16(buf)) }

// GetBits decodes an unsigned little-endian integer of the given width
// (1, 2, 4 or 8 bytes) and zero-extends it to 64 bits.
func GetBits(buf []byte, width int) uint64 {
	switch width {
	case 1:
		return uint64(buf[0])
	case 2:
		return uint64(le.Uint16(buf))
	case 4:
		return uint64(le.Uint32(buf))
	case 8:
		return le.Uint64(buf)
	}
	panic("unsupported scalar width")
}

// WriteBits encodes the low `width` bytes of x in little-endian order.
func WriteBits(buf []byte, width int, x uint64) {
	switch width {
	case 1:
		buf[0] = byte(x)
	case 2:
		le.PutUint16(buf, uint16(x))
	case 4:
		le.PutUint32(buf, uint32(x))
	case 8:
		le.PutUint64(buf, x)
	default:
		panic("unsupported scalar width")
	}
}

// WriteBool encodes a bool as a single byte.
func WriteBool(buf []byte, b bool) {
	buf[0] = 0
	if b {
		buf[0] = 1
	}
}

// WriteByte encodes a byte.
func WriteByte(buf []byte, n byte) { buf[0] = n }

// WriteUint16 encodes a little-endian uint16 into a byte slice.
func WriteUint16(buf []byte, n uint16) { le.PutUint16(buf, n) }

// WriteUint32 encodes a little-endian uint32 into a byte slice.
func WriteUint32(buf []byte, n uint32) { le.PutUint32(buf, n) }

// WriteUint64 encodes a little-endian uint64 into a byte slice.
func WriteUint64(buf []byte, n uint64) { le.PutUint64(buf, n) }

// WriteUOffsetT encodes a little-endian UOffsetT into a byte slice.
func WriteUOffsetT(buf []byte, n UOffsetT) { le.PutUint32(buf, uint32(n)) }

// WriteSOffsetT encodes a little-endian SOffsetT into a byte slice.
func WriteSOffsetT(buf []byte, n SOffsetT) { le.PutUint32(buf, uint32(n)) }

// WriteVOffsetT encodes a little-endian VOffsetT into a byte slice.
func WriteVOffsetT(buf []byte, n VOffsetT) { le.PutUint16(buf, uint16(n)) }
