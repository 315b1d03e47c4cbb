// Package flatbuffers reads and writes schema-described tables stored in a
// single byte buffer that is read in place, without a decoding step.
//
// 简单来说就是把对象数据保存在一个一维的字节数组中，每个对象在数组中被分为两部分：
//
//	元数据部分：负责存放索引（vtable）。
//	真实数据部分：存放实际的值（inline 标量，以及指向 string/vector/table 的相对偏移）。
//
// # Layout
//
// All integers are little-endian. A finished buffer starts with a UOffsetT
// pointing at the root table, optionally followed by a 4-byte file identifier.
//
// Offsets are relative to the position that stores them, never absolute, so a
// buffer can be copied, mapped or sent over the wire as an opaque blob. A
// UOffsetT always points forward (to a higher position); the only backward
// reference is the SOffsetT from a table to its vtable.
//
// A table at position p starts with an SOffsetT s; its vtable is at p-s:
//
//	vtable: [vtable size][object size][slot 0][slot 1]...   (VOffsetT each)
//	table:  [SOffsetT to vtable][inline field data...]
//
// Slot i holds the offset of field i relative to p, or 0 when the field is
// absent. A slot past the end of the vtable was unknown to the writer and is
// also absent. Readers return the field's default for an absent scalar, which
// is how fields are added to a schema without breaking old buffers or old
// readers: field indices are the only identity that must stay stable.
//
// Strings and vectors are a UOffsetT element count followed by the elements;
// strings carry a trailing 0 that is not counted. Vector elements that are
// strings or tables are UOffsetTs, each relative to its own position.
//
// Every scalar is aligned to its width within the buffer.
//
// # Writing
//
// 写入方向和读取方向不同：Builder 从 buffer 的尾部向头部填充，
// 而读取时按正常顺序从头部开始，最先读到的是 root offset 与 vtable 等概要信息。
//
// A Builder writes children before parents, so every offset it records points
// at data that is already complete. Scalars equal to their default are not
// written at all, and structurally identical vtables are shared.
//
// # Reading
//
// Table reads fields with O(1) work per access and performs no bounds checks.
// Buffers from untrusted sources must first pass a Verifier, which proves
// that everything reachable from the root lies inside the buffer.
package flatbuffers
