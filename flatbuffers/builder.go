package flatbuffers

import (
	"math"

	"github.com/blastbao/gomem/memory"
)

// vtable 的元素都是 VOffsetT 类型（uint16）：
//	第一个元素是 vtable 的大小（以字节为单位），包括自身；
//	第二个元素是 object 的大小（包括开头 4B 的 vtable 偏移），可用于流式读取 inline 字段；
//	之后是 N 个字段偏移，N 为写入方 schema 中声明的字段数（包括已废弃的字段），末尾连续的缺省字段会被裁掉。

// Builder is a state machine for creating table buffers.
// Use a Builder to construct objects starting from leaf nodes: a child
// (string, vector or table) must be complete before the offset to it is
// stored in its parent.
//
// A Builder constructs byte buffers in a last-first manner: data is written
// from the tail of Bytes towards its head, and positions are tracked as
// distances from the tail, so nothing already written ever has to move
// relative to what follows it.
type Builder struct {
	// `Bytes` gives raw access to the buffer. Most users will want to use
	// FinishedBytes() instead.
	Bytes []byte

	mem       memory.Allocator
	minalign  int
	vtable    []UOffsetT // 当前 table 各字段写入后的 Offset()，0 表示字段缺省
	objectEnd UOffsetT   // 当前 table 开始时的 Offset()，用于计算 object 大小
	vtables   []UOffsetT // 已写入的 vtable 位置，用于 vtable 去重
	head      UOffsetT   // 有效数据的起始位置，向低地址增长
	nested    bool
	finished  bool
}

// NewBuilder initializes a Builder of size `initialSize` backed by the
// default allocator. The internal buffer is grown as needed.
func NewBuilder(initialSize int) *Builder {
	return NewBuilderWithAllocator(initialSize, memory.DefaultAllocator)
}

// NewBuilderWithAllocator is like NewBuilder but draws the backing storage
// from mem.
func NewBuilderWithAllocator(initialSize int, mem memory.Allocator) *Builder {
	if initialSize < 0 {
		initialSize = 0
	}
	b := &Builder{mem: mem}
	b.Bytes = mem.Allocate(initialSize)
	b.head = UOffsetT(initialSize)
	b.minalign = 1
	b.vtables = make([]UOffsetT, 0, 16)
	return b
}

// Reset truncates the underlying Builder buffer, facilitating alloc-free
// reuse of a Builder. It also resets bookkeeping data.
func (b *Builder) Reset() {
	if b.Bytes != nil {
		b.Bytes = b.Bytes[:cap(b.Bytes)]
	}
	b.vtables = b.vtables[:0]
	b.vtable = b.vtable[:0]
	b.head = UOffsetT(len(b.Bytes))
	b.minalign = 1
	b.nested = false
	b.finished = false
}

// Release returns the backing storage to the allocator. Slices obtained from
// FinishedBytes alias that storage and must not be used afterwards.
func (b *Builder) Release() {
	if b.Bytes != nil {
		b.mem.Free(b.Bytes)
		b.Bytes = nil
	}
	b.Reset()
}

// FinishedBytes returns a pointer to the written data in the byte buffer.
// Panics if the builder is not in a finished state (which is caused by calling
// `Finish()`).
func (b *Builder) FinishedBytes() []byte {
	b.assertFinished()
	return b.Bytes[b.Head():]
}

// StartTable initializes bookkeeping for writing a new table with room for
// `numfields` field slots.
func (b *Builder) StartTable(numfields int) {
	b.assertBuilding()
	b.nested = true

	if cap(b.vtable) < numfields || b.vtable == nil {
		b.vtable = make([]UOffsetT, numfields)
	} else {
		b.vtable = b.vtable[:numfields]
		clear(b.vtable)
	}

	b.objectEnd = b.Offset()
}

// EndTable writes the vtable of the table being built and returns the
// table's offset.
func (b *Builder) EndTable() UOffsetT {
	b.assertNested()
	n := b.writeVtable()
	b.vtable = b.vtable[:0]
	b.nested = false
	return n
}

// writeVtable serializes the vtable for the current table, if applicable.
//
// Before writing out the vtable, this checks pre-existing vtables for equality
// to this one. If an equal vtable is found, point the table to the existing
// vtable and return.
//
// Because vtable values are sensitive to alignment of table data, not all
// logically-equal vtables will be deduplicated.
//
// A vtable has the following format:
//
//	<VOffsetT: size of the vtable in bytes, including this value>
//	<VOffsetT: size of the table in bytes, including the vtable offset>
//	<VOffsetT: offset for a field> * N, where N is the number of fields in
//	           the schema for this type. Includes deprecated fields.
//
// Thus, a vtable is made of 2 + N elements, each SizeVOffsetT bytes wide.
//
// A table has the following format:
//
//	<SOffsetT: offset to this table's vtable (can be negative)>
//	<byte: encoding of field 1 (if present)>
//	<byte: encoding of field 2 (if present)>
//	...
//
// The 4-byte vtable offset is the only byte range of the table that is filled
// in after the fields; it is patched before EndTable returns.
func (b *Builder) writeVtable() UOffsetT {
	// 先写入 4B 的占位符，等确定 vtable 的位置后再回填
	b.PrependSOffsetT(0)

	objectOffset := b.Offset()
	existingVtable := UOffsetT(0)

	// 裁掉末尾的缺省字段，缩短 vtable
	i := len(b.vtable) - 1
	for ; i >= 0 && b.vtable[i] == 0; i-- {
	}
	b.vtable = b.vtable[:i+1]

	// 从最近写入的 vtable 开始查找是否存在相同的 vtable ，近期写入的 table 更可能结构相同
	for i := len(b.vtables) - 1; i >= 0; i-- {
		vt2Offset := b.vtables[i]
		vt2Start := len(b.Bytes) - int(vt2Offset)
		vt2Len := GetVOffsetT(b.Bytes[vt2Start:])

		metadata := VtableMetadataFields * SizeVOffsetT
		vt2End := vt2Start + int(vt2Len)
		vt2 := b.Bytes[vt2Start+metadata : vt2End]

		if vtableEqual(b.vtable, objectOffset, vt2) {
			existingVtable = vt2Offset
			break
		}
	}

	if existingVtable == 0 {
		// 逆序写入各字段相对 object 起始位置的偏移
		for i := len(b.vtable) - 1; i >= 0; i-- {
			var off UOffsetT
			if b.vtable[i] != 0 {
				off = objectOffset - b.vtable[i]
			}
			b.PrependVOffsetT(VOffsetT(off))
		}

		objectSize := objectOffset - b.objectEnd
		if objectSize > math.MaxUint16 {
			panic("table inline data exceeds 64 KiB")
		}
		b.PrependVOffsetT(VOffsetT(objectSize))

		vBytes := (len(b.vtable) + VtableMetadataFields) * SizeVOffsetT
		b.PrependVOffsetT(VOffsetT(vBytes))

		// vtable 位于 object 之前（低地址），回填的 soffset 为正数
		objectStart := SOffsetT(len(b.Bytes)) - SOffsetT(objectOffset)
		WriteSOffsetT(b.Bytes[objectStart:], SOffsetT(b.Offset())-SOffsetT(objectOffset))

		b.vtables = append(b.vtables, b.Offset())
	} else {
		// 复用已有 vtable：它位于 object 之后（高地址），回填的 soffset 为负数
		objectStart := SOffsetT(len(b.Bytes)) - SOffsetT(objectOffset)
		b.head = UOffsetT(objectStart)

		WriteSOffsetT(b.Bytes[b.head:], SOffsetT(existingVtable)-SOffsetT(objectOffset))
	}

	b.vtable = b.vtable[:0]
	return objectOffset
}

// vtableEqual compares an unwritten vtable to a written vtable.
func vtableEqual(a []UOffsetT, objectStart UOffsetT, b []byte) bool {
	if len(a)*SizeVOffsetT != len(b) {
		return false
	}

	for i := 0; i < len(a); i++ {
		x := GetVOffsetT(b[i*SizeVOffsetT : (i+1)*SizeVOffsetT])

		// Skip vtable entries that indicate a default value.
		if x == 0 && a[i] == 0 {
			continue
		}

		y := SOffsetT(objectStart) - SOffsetT(a[i])
		if SOffsetT(x) != y {
			return false
		}
	}
	return true
}

// growByteBuffer doubles the size of the byte slice, and copies the old data
// towards the end of the new buffer (since we build the buffer backwards).
func (b *Builder) growByteBuffer() {
	if (int64(len(b.Bytes)) & int64(0xC0000000)) != 0 {
		panic("cannot grow buffer beyond 2 gigabytes")
	}
	newLen := len(b.Bytes) * 2
	if newLen == 0 {
		newLen = 1
	}

	b.Bytes = b.mem.Reallocate(newLen, b.Bytes)

	middle := newLen / 2
	copy(b.Bytes[middle:], b.Bytes[:middle])
}

// Head gives the start of useful data in the underlying byte buffer.
// Note: unlike other functions, this value is interpreted as from the left.
func (b *Builder) Head() UOffsetT {
	return b.head
}

// Offset relative to the end of the buffer.
func (b *Builder) Offset() UOffsetT {
	return UOffsetT(len(b.Bytes)) - b.head
}

// Pad places zeros at the current offset.
func (b *Builder) Pad(n int) {
	for i := 0; i < n; i++ {
		b.PlaceBits(SizeByte, 0)
	}
}

// Prep prepares to write an element of `size` after `additionalBytes`
// have been written, e.g. if you write a string, you need to align such
// the int length field is aligned to SizeInt32, and the string data follows it
// directly.
// If all you need to do is align, `additionalBytes` will be 0.
func (b *Builder) Prep(size, additionalBytes int) {
	// 记录出现过的最大对齐值，Finish 时整个 buffer 按它对齐
	if size > b.minalign {
		b.minalign = size
	}
	// 写入 additionalBytes 之后，还需补多少 0 才能使下一个 size 宽度的元素对齐
	alignSize := (^(len(b.Bytes) - int(b.Head()) + additionalBytes)) + 1
	alignSize &= (size - 1)

	// Reallocate the buffer if needed:
	for int(b.head) <= alignSize+size+additionalBytes {
		oldBufSize := len(b.Bytes)
		b.growByteBuffer()
		b.head += UOffsetT(len(b.Bytes) - oldBufSize)
	}
	b.Pad(alignSize)
}

// PrependSOffsetT prepends an SOffsetT, relative to where it will be written.
func (b *Builder) PrependSOffsetT(off SOffsetT) {
	b.Prep(SizeSOffsetT, 0)
	if !(UOffsetT(off) <= b.Offset()) {
		panic("Incorrect creation order: offset refers to data not yet written.")
	}
	off2 := SOffsetT(b.Offset()) - off + SOffsetT(SizeSOffsetT)
	b.PlaceSOffsetT(off2)
}

// PrependUOffsetT prepends an UOffsetT, relative to where it will be written.
func (b *Builder) PrependUOffsetT(off UOffsetT) {
	b.Prep(SizeUOffsetT, 0)
	// 只能引用已经写入的数据：子对象必须先于父对象构建
	if !(off <= b.Offset()) {
		panic("Incorrect creation order: offset refers to data not yet written.")
	}
	off2 := b.Offset() - off + UOffsetT(SizeUOffsetT)
	b.PlaceUOffsetT(off2)
}

// StartVector initializes bookkeeping for writing a new vector.
//
// A vector has the following format:
//
//	<UOffsetT: number of elements in this vector>
//	<T: data>+, where T is the type of elements of this vector.
func (b *Builder) StartVector(elemSize, numElems, alignment int) UOffsetT {
	b.assertBuilding()
	b.nested = true
	b.Prep(SizeUint32, elemSize*numElems)
	b.Prep(alignment, elemSize*numElems) // Just in case alignment > int.
	return b.Offset()
}

// EndVector writes data necessary to finish vector construction.
func (b *Builder) EndVector(vectorNumElems int) UOffsetT {
	b.assertNested()
	// 存储的是元素个数而不是字节数
	b.PlaceUOffsetT(UOffsetT(vectorNumElems))
	b.nested = false
	return b.Offset()
}

// CreateString writes a null-terminated string as a vector.
func (b *Builder) CreateString(s string) UOffsetT {
	b.startBytes(len(s), true)
	b.head -= UOffsetT(len(s))
	copy(b.Bytes[b.head:], s)
	return b.EndVector(len(s))
}

// CreateByteString writes a byte slice as a string (null-terminated).
func (b *Builder) CreateByteString(s []byte) UOffsetT {
	b.startBytes(len(s), true)
	b.head -= UOffsetT(len(s))
	copy(b.Bytes[b.head:], s)
	return b.EndVector(len(s))
}

// CreateByteVector writes a ubyte vector.
func (b *Builder) CreateByteVector(v []byte) UOffsetT {
	b.startBytes(len(v), false)
	b.head -= UOffsetT(len(v))
	copy(b.Bytes[b.head:], v)
	return b.EndVector(len(v))
}

// startBytes reserves room for an n-byte payload preceded by its length.
// Strings carry a trailing 0 that is not counted in the length.
func (b *Builder) startBytes(n int, terminate bool) {
	b.assertBuilding()
	b.nested = true

	extra := 0
	if terminate {
		extra = 1
	}
	b.Prep(SizeUOffsetT, (n+extra)*SizeByte)
	if terminate {
		b.PlaceBits(SizeByte, 0)
	}
}

// CreateOffsetVector writes a vector of offsets to already built strings,
// vectors or tables. offs[0] becomes element 0.
func (b *Builder) CreateOffsetVector(offs []UOffsetT) UOffsetT {
	b.StartVector(SizeUOffsetT, len(offs), SizeUOffsetT)
	for i := len(offs) - 1; i >= 0; i-- {
		b.PrependUOffsetT(offs[i])
	}
	return b.EndVector(len(offs))
}

// CreateScalarVector writes a vector of `width`-byte scalars given as raw
// little-endian bit patterns. elems[0] becomes element 0.
func (b *Builder) CreateScalarVector(width int, elems []uint64) UOffsetT {
	b.StartVector(width, len(elems), width)
	for i := len(elems) - 1; i >= 0; i-- {
		b.PrependBits(width, elems[i])
	}
	return b.EndVector(len(elems))
}

func (b *Builder) assertNested() {
	// If you get this assert, you're in an object while trying to write
	// data that belongs outside of an object.
	// To fix this, write non-inline data (like vectors) before creating
	// objects.
	if !b.nested {
		panic("Incorrect creation order: must be inside object.")
	}
}

func (b *Builder) assertNotNested() {
	// If you hit this, you're trying to construct a Table/Vector/String
	// during the construction of its parent table (between the StartTable
	// and EndTable calls).
	// Move the creation of these sub-objects to before the StartTable call.
	if b.nested {
		panic("Incorrect creation order: object must not be nested.")
	}
}

func (b *Builder) assertBuilding() {
	b.assertNotNested()
	if b.finished {
		panic("Incorrect creation order: buffer already finished, call Reset first.")
	}
}

func (b *Builder) assertFinished() {
	// If you get this assert, you're attempting to get access a buffer
	// which hasn't been finished yet. Be sure to call builder.Finish()
	// with your root table.
	if !b.finished {
		panic("Incorrect use of FinishedBytes(): must call 'Finish' first.")
	}
}

// AddScalarSlot stores the low `width` bytes of x as field `index` of the
// table being built. Nothing is written when x equals the default d: a
// defaulted field costs no bytes, readers substitute d for the absent slot.
// x and d are compared as bit patterns; see AddFloat32Slot for floats.
func (b *Builder) AddScalarSlot(index, width int, x, d uint64) {
	b.checkSlot(index)
	mask := ^uint64(0)
	if width < SizeUint64 {
		mask = 1<<(8*uint(width)) - 1
	}
	if x&mask == d&mask {
		return
	}
	b.PrependBits(width, x)
	b.Slot(index)
}

func (b *Builder) AddBoolSlot(index int, x, d bool) {
	b.AddScalarSlot(index, SizeBool, boolBits(x), boolBits(d))
}

func (b *Builder) AddInt8Slot(index int, x, d int8) {
	b.AddScalarSlot(index, SizeInt8, uint64(x), uint64(d))
}

func (b *Builder) AddUint8Slot(index int, x, d uint8) {
	b.AddScalarSlot(index, SizeUint8, uint64(x), uint64(d))
}

func (b *Builder) AddInt16Slot(index int, x, d int16) {
	b.AddScalarSlot(index, SizeInt16, uint64(x), uint64(d))
}

func (b *Builder) AddUint16Slot(index int, x, d uint16) {
	b.AddScalarSlot(index, SizeUint16, uint64(x), uint64(d))
}

func (b *Builder) AddInt32Slot(index int, x, d int32) {
	b.AddScalarSlot(index, SizeInt32, uint64(x), uint64(d))
}

func (b *Builder) AddUint32Slot(index int, x, d uint32) {
	b.AddScalarSlot(index, SizeUint32, uint64(x), uint64(d))
}

func (b *Builder) AddInt64Slot(index int, x, d int64) {
	b.AddScalarSlot(index, SizeInt64, uint64(x), uint64(d))
}

func (b *Builder) AddUint64Slot(index int, x, d uint64) {
	b.AddScalarSlot(index, SizeUint64, x, d)
}

// AddFloat32Slot compares x with the default by value, not by bits: -0
// is elided against a 0 default (and reads back as 0), and NaN is always
// stored.
func (b *Builder) AddFloat32Slot(index int, x, d float32) {
	b.checkSlot(index)
	if x == d {
		return
	}
	b.PrependFloat32(x)
	b.Slot(index)
}

// AddFloat64Slot is AddFloat32Slot for 8-byte floats.
func (b *Builder) AddFloat64Slot(index int, x, d float64) {
	b.checkSlot(index)
	if x == d {
		return
	}
	b.PrependFloat64(x)
	b.Slot(index)
}

// AddOffsetSlot stores an offset to an already built string, vector or
// table as field `index`. A zero offset leaves the field absent.
func (b *Builder) AddOffsetSlot(index int, off UOffsetT) {
	b.checkSlot(index)
	if off == 0 {
		return
	}
	b.PrependUOffsetT(off)
	b.Slot(index)
}

// checkSlot panics unless a table is being built with room for field
// `index`. The Add*Slot methods call it before eliding anything.
func (b *Builder) checkSlot(index int) {
	b.assertNested()
	if index < 0 || index >= len(b.vtable) {
		panic("field index out of range for the table being built")
	}
}

// Slot sets the vtable key `index` to the current location in the buffer.
func (b *Builder) Slot(index int) {
	b.checkSlot(index)
	if b.vtable[index] != 0 {
		panic("field already set in the table being built")
	}
	b.vtable[index] = b.Offset()
}

// FinishWithFileIdentifier finalizes a buffer, pointing to the given `rootTable`
// and tagging it with a 4-byte file identifier placed right after the root
// offset.
func (b *Builder) FinishWithFileIdentifier(rootTable UOffsetT, fid []byte) {
	if len(fid) != fileIdentifierLength {
		panic("incorrect file identifier length")
	}
	b.assertBuilding()
	// 预留 root offset(4B) + 文件标识(4B)，并按 minalign 对齐
	b.Prep(b.minalign, SizeInt32+fileIdentifierLength)
	for i := fileIdentifierLength - 1; i >= 0; i-- {
		b.PlaceBits(SizeByte, uint64(fid[i]))
	}
	b.Finish(rootTable)
}

// Finish finalizes a buffer, pointing to the given `rootTable`.
func (b *Builder) Finish(rootTable UOffsetT) {
	b.assertBuilding()
	b.Prep(b.minalign, SizeUOffsetT)
	b.PrependUOffsetT(rootTable)
	b.finished = true
}

// PrependBits prepends a `width`-byte little-endian scalar, aligned to its width.
func (b *Builder) PrependBits(width int, x uint64) {
	b.Prep(width, 0)
	b.PlaceBits(width, x)
}

func (b *Builder) PrependBool(x bool) { b.PrependBits(SizeBool, boolBits(x)) }
func (b *Builder) PrependByte(x byte) { b.PrependBits(SizeByte, uint64(x)) }
func (b *Builder) PrependUint8(x uint8) { b.PrependBits(SizeUint8, uint64(x)) }
func (b *Builder) PrependUint16(x uint16) { b.PrependBits(SizeUint16, uint64(x)) }
func (b *Builder) PrependUint32(x uint32) { b.PrependBits(SizeUint32, uint64(x)) }
func (b *Builder) PrependUint64(x uint64) { b.PrependBits(SizeUint64, x) }
func (b *Builder) PrependInt8(x int8) { b.PrependBits(SizeInt8, uint64(x)) }
func (b *Builder) PrependInt16(x int16) { b.PrependBits(SizeInt16, uint64(x)) }
func (b *Builder) PrependInt32(x int32) { b.PrependBits(SizeInt32, uint64(x)) }
func (b *Builder) PrependInt64(x int64) { b.PrependBits(SizeInt64, uint64(x)) }
func (b *Builder) PrependVOffsetT(x VOffsetT) { b.PrependBits(SizeVOffsetT, uint64(x)) }

func (b *Builder) PrependFloat32(x float32) {
	b.PrependBits(SizeFloat32, uint64(math.Float32bits(x)))
}

func (b *Builder) PrependFloat64(x float64) {
	b.PrependBits(SizeFloat64, math.Float64bits(x))
}

// PlaceBits prepends a `width`-byte scalar without checking alignment or
// space. 向前挪动 width 个位置，腾出空间后写入 x 。
func (b *Builder) PlaceBits(width int, x uint64) {
	b.head -= UOffsetT(width)
	WriteBits(b.Bytes[b.head:], width, x)
}

// PlaceSOffsetT prepends a SOffsetT to the Builder, without checking for space.
func (b *Builder) PlaceSOffsetT(x SOffsetT) {
	b.head -= UOffsetT(SizeSOffsetT)
	WriteSOffsetT(b.Bytes[b.head:], x)
}

// PlaceUOffsetT prepends a UOffsetT to the Builder, without checking for space.
func (b *Builder) PlaceUOffsetT(x UOffsetT) {
	b.head -= UOffsetT(SizeUOffsetT)
	WriteUOffsetT(b.Bytes[b.head:], x)
}

func boolBits(x bool) uint64 {
	if x {
		return 1
	}
	return 0
}
