package flatbuffers

import (
	"fmt"

	"golang.org/x/xerrors"
)

// Reasons a buffer can fail verification. A *VerifyError wraps one of them.
var (
	ErrBufferSize   = xerrors.New("buffer size out of range")
	ErrIdentifier   = xerrors.New("file identifier mismatch")
	ErrOutOfBounds  = xerrors.New("out of bounds")
	ErrMisaligned   = xerrors.New("misaligned")
	ErrBadVtable    = xerrors.New("malformed vtable")
	ErrBadOffset    = xerrors.New("invalid offset")
	ErrUnterminated = xerrors.New("string not null-terminated")
	ErrMissingField = xerrors.New("required field missing")
	ErrDepthLimit   = xerrors.New("table nesting too deep")
	ErrTableLimit   = xerrors.New("too many tables")
)

// VerifyError describes the check that rejected a buffer.
type VerifyError struct {
	Op     string // "buffer", "table", "vtable", "field", "offset", "string" or "vector"
	Offset uint64 // position the check was applied to
	Err    error

	frame xerrors.Frame
}

func (e *VerifyError) Error() string { return fmt.Sprint(e) }

func (e *VerifyError) Format(s fmt.State, v rune) { xerrors.FormatError(e, s, v) }

func (e *VerifyError) FormatError(p xerrors.Printer) error {
	p.Printf("verify %s at offset %d", e.Op, e.Offset)
	e.frame.Format(p)
	return e.Err
}

func (e *VerifyError) Unwrap() error { return e.Err }

// VerifierOptions bounds the work a Verifier is willing to do.
type VerifierOptions struct {
	// MaxDepth is the deepest table nesting accepted, the root being depth 1.
	MaxDepth int
	// MaxTables caps the number of VerifyTableStart calls. A table reached
	// through several offsets counts each time it is entered; callers walking
	// shared structure should skip tables they have already verified.
	MaxTables int
	// CheckAlignment rejects scalars and offsets not aligned to their width.
	CheckAlignment bool
	// StringTerminator requires the 0 byte the Builder writes after string data.
	StringTerminator bool
}

// DefaultVerifierOptions are used by NewVerifier callers that have no
// reason to choose otherwise.
var DefaultVerifierOptions = VerifierOptions{
	MaxDepth:         64,
	MaxTables:        1 << 20,
	CheckAlignment:   true,
	StringTerminator: true,
}

// Verifier checks that the structures of an untrusted buffer lie within its
// bounds, one structure at a time. It reads only bytes it has already
// proved to be inside the buffer, so it is safe on arbitrary input; every
// offset and length it meets is treated as hostile.
//
// The Verifier does not know the schema. Callers walk the buffer from the
// root, calling VerifyTableStart/EndTable around each table and checking each
// field they will later read through a Table.
type Verifier struct {
	buf       []byte
	size      uint64
	opts      VerifierOptions
	depth     int
	numTables int
}

func NewVerifier(buf []byte, opts VerifierOptions) *Verifier {
	if opts.MaxDepth <= 0 {
		opts.MaxDepth = DefaultVerifierOptions.MaxDepth
	}
	if opts.MaxTables <= 0 {
		opts.MaxTables = DefaultVerifierOptions.MaxTables
	}
	return &Verifier{buf: buf, size: uint64(len(buf)), opts: opts}
}

// Depth returns the current table nesting depth.
func (v *Verifier) Depth() int { return v.depth }

// TablesVisited returns how many VerifyTableStart calls were made.
func (v *Verifier) TablesVisited() int { return v.numTables }

func (v *Verifier) fail(op string, pos uint64, err error) error {
	return &VerifyError{Op: op, Offset: pos, Err: err, frame: xerrors.Caller(1)}
}

// within reports whether [pos, pos+n) lies inside the buffer.
// 所有运算都在 uint64 上进行，攻击者构造的 offset/length 无法造成回绕。
func (v *Verifier) within(pos, n uint64) bool {
	return pos <= v.size && n <= v.size-pos
}

func (v *Verifier) aligned(pos uint64, align int) bool {
	return !v.opts.CheckAlignment || align <= 1 || pos&uint64(align-1) == 0
}

func (v *Verifier) check(op string, pos, n uint64, align int) error {
	if !v.within(pos, n) {
		return v.fail(op, pos, ErrOutOfBounds)
	}
	if !v.aligned(pos, align) {
		return v.fail(op, pos, ErrMisaligned)
	}
	return nil
}

// VerifyBufferHeader checks the buffer size and the root offset, and the file
// identifier when fid is not empty. It returns the position of the root table.
func (v *Verifier) VerifyBufferHeader(fid string) (UOffsetT, error) {
	if v.size < SizeUOffsetT || v.size > MaxBufferSize {
		return 0, v.fail("buffer", 0, ErrBufferSize)
	}
	if fid != "" && !BufferHasIdentifier(v.buf, fid) {
		return 0, v.fail("buffer", SizeUOffsetT, ErrIdentifier)
	}
	return v.VerifyIndirect(0)
}

// VerifyIndirect checks the UOffsetT stored at pos and returns its target.
// Offsets point strictly forward, so following them can not loop.
func (v *Verifier) VerifyIndirect(pos UOffsetT) (UOffsetT, error) {
	p := uint64(pos)
	if err := v.check("offset", p, SizeUOffsetT, SizeUOffsetT); err != nil {
		return 0, err
	}
	o := uint64(GetUOffsetT(v.buf[p:]))
	if o == 0 {
		return 0, v.fail("offset", p, ErrBadOffset)
	}
	target := p + o
	if !v.within(target, 1) {
		return 0, v.fail("offset", p, ErrOutOfBounds)
	}
	return UOffsetT(target), nil
}

// VerifyTableStart checks the table at pos and its vtable, and enters one
// level of nesting. Every successful call must be paired with EndTable.
func (v *Verifier) VerifyTableStart(pos UOffsetT) error {
	v.depth++
	v.numTables++
	if v.depth > v.opts.MaxDepth {
		return v.fail("table", uint64(pos), ErrDepthLimit)
	}
	if v.numTables > v.opts.MaxTables {
		return v.fail("table", uint64(pos), ErrTableLimit)
	}

	p := uint64(pos)
	if err := v.check("table", p, SizeSOffsetT, SizeSOffsetT); err != nil {
		return err
	}
	// vtable 可以位于 table 的任意一侧，soffset 有符号
	vt := int64(p) - int64(GetSOffsetT(v.buf[p:]))
	if vt < 0 {
		return v.fail("vtable", p, ErrOutOfBounds)
	}
	vtable := uint64(vt)
	if err := v.check("vtable", vtable, VtableMetadataFields*SizeVOffsetT, SizeVOffsetT); err != nil {
		return err
	}
	vsize := uint64(GetVOffsetT(v.buf[vtable:]))
	if vsize < VtableMetadataFields*SizeVOffsetT || vsize%SizeVOffsetT != 0 {
		return v.fail("vtable", vtable, ErrBadVtable)
	}
	if !v.within(vtable, vsize) {
		return v.fail("vtable", vtable, ErrOutOfBounds)
	}
	return nil
}

// EndTable leaves the nesting level entered by VerifyTableStart.
func (v *Verifier) EndTable() {
	v.depth--
}

// fieldOffset reads a vtable entry of a table that passed VerifyTableStart.
func (v *Verifier) fieldOffset(table UOffsetT, slot VOffsetT) VOffsetT {
	vtable := uint64(int64(table) - int64(GetSOffsetT(v.buf[table:])))
	if uint64(slot)+SizeVOffsetT > uint64(GetVOffsetT(v.buf[vtable:])) {
		return 0
	}
	return GetVOffsetT(v.buf[vtable+uint64(slot):])
}

// VerifyField checks that an inline scalar of `size` bytes in slot `slot` of
// the table at `table` lies within the buffer. Absent fields pass.
func (v *Verifier) VerifyField(table UOffsetT, slot VOffsetT, size int) error {
	off := v.fieldOffset(table, slot)
	if off == 0 {
		return nil
	}
	return v.check("field", uint64(table)+uint64(off), uint64(size), size)
}

// VerifyOffsetField checks the offset stored in slot `slot` of the table at
// `table` and returns its target. ok is false when the field is absent,
// which is an error only if required is set.
func (v *Verifier) VerifyOffsetField(table UOffsetT, slot VOffsetT, required bool) (target UOffsetT, ok bool, err error) {
	off := v.fieldOffset(table, slot)
	if off == 0 {
		if required {
			return 0, false, v.fail("field", uint64(table), ErrMissingField)
		}
		return 0, false, nil
	}
	target, err = v.VerifyIndirect(table + UOffsetT(off))
	if err != nil {
		return 0, false, err
	}
	return target, true, nil
}

// vectorLen checks the length prefix at pos and that n elements of elemSize
// bytes (plus `extra` trailing bytes) follow it.
func (v *Verifier) vectorLen(op string, pos UOffsetT, elemSize int, extra uint64) (uint64, error) {
	p := uint64(pos)
	if err := v.check(op, p, SizeUOffsetT, SizeUOffsetT); err != nil {
		return 0, err
	}
	n := uint64(GetUOffsetT(v.buf[p:]))
	// n < 2^32 且 elemSize <= 8 ，乘积不会溢出 uint64
	if !v.within(p+SizeUOffsetT, n*uint64(elemSize)+extra) {
		return 0, v.fail(op, p, ErrOutOfBounds)
	}
	if n > 0 && !v.aligned(p+SizeUOffsetT, elemSize) {
		return 0, v.fail(op, p+SizeUOffsetT, ErrMisaligned)
	}
	return n, nil
}

// VerifyString checks the string whose length prefix is at pos.
func (v *Verifier) VerifyString(pos UOffsetT) error {
	var extra uint64
	if v.opts.StringTerminator {
		extra = 1
	}
	n, err := v.vectorLen("string", pos, SizeByte, extra)
	if err != nil {
		return err
	}
	if end := uint64(pos) + SizeUOffsetT + n; v.opts.StringTerminator && v.buf[end] != 0 {
		return v.fail("string", end, ErrUnterminated)
	}
	return nil
}

// VerifyVector checks the vector whose length prefix is at pos, holding
// elements of elemSize bytes, and returns its length. Elements that are
// offsets still have to be followed with VerifyIndirect.
func (v *Verifier) VerifyVector(pos UOffsetT, elemSize int) (int, error) {
	n, err := v.vectorLen("vector", pos, elemSize, 0)
	return int(n), err
}
