package record

import (
	"github.com/blastbao/gomem/flatbuffers"
	"github.com/blastbao/gomem/schema"
)

// TableView reads the fields of one table in place. It borrows the buffer:
// it must not be used after the buffer is released or modified.
//
// A TableView does no bounds checking. The buffer must have passed Verify
// against the same schema, or have been produced by a Builder in this
// process.
type TableView struct {
	tab    flatbuffers.Table
	table  *schema.Table
	schema *schema.Schema
}

// Root returns a view of the root table of buf.
func Root(buf []byte, s *schema.Schema) TableView {
	return RootAt(buf, 0, s)
}

// RootAt returns a view of the root table whose root offset is stored at
// offset, for buffers embedded after a prefix.
func RootAt(buf []byte, offset flatbuffers.UOffsetT, s *schema.Schema) TableView {
	return TableView{tab: flatbuffers.GetRootAs(buf, offset), table: s.RootTable(), schema: s}
}

// Type returns the table type of the view.
func (v TableView) Type() *schema.Table { return v.table }

// Present reports whether the table exists in the buffer. Fields of a view
// that is not present read as absent or default.
func (v TableView) Present() bool { return v.tab.Bytes != nil }

// Table returns the underlying low-level table.
func (v TableView) Table() flatbuffers.Table { return v.tab }

// Get reads field index.
//
// A scalar field reads as its stored value, or as its default when the
// buffer does not store it. A string, vector or table field that is not
// stored reads as absent. An index the schema does not declare, or has
// deprecated, reads as absent without touching the buffer.
func (v TableView) Get(index int) Value {
	if v.table == nil {
		return Value{}
	}
	f := v.table.Field(index)
	if f == nil || f.Deprecated {
		return Value{}
	}

	val := Value{field: f, schema: v.schema, buf: v.tab.Bytes}
	var off flatbuffers.VOffsetT
	if v.Present() {
		off = v.tab.Offset(f.Slot())
	}
	if f.Kind.IsScalar() {
		if off == 0 {
			val.scalar = f.DefaultValue()
			return val
		}
		pos := v.tab.Pos + flatbuffers.UOffsetT(off)
		val.scalar = schema.ScalarFromBits(f.Kind, v.tab.GetBits(pos, f.Kind.Size()))
		val.present = true
		return val
	}
	if off == 0 {
		return val
	}
	val.pos = v.tab.Indirect(v.tab.Pos + flatbuffers.UOffsetT(off))
	val.present = true
	return val
}

// GetByName reads the field called name.
func (v TableView) GetByName(name string) Value {
	if v.table == nil {
		return Value{}
	}
	f := v.table.FieldByName(name)
	if f == nil {
		return Value{}
	}
	return v.Get(f.Index)
}

func (v TableView) Bool(index int) bool { return v.Get(index).Bool() }
func (v TableView) Int(index int) int64 { return v.Get(index).Int() }
func (v TableView) Uint(index int) uint64 { return v.Get(index).Uint() }
func (v TableView) Float(index int) float64 { return v.Get(index).Float() }
func (v TableView) String(index int) string { return v.Get(index).String() }
func (v TableView) Bytes(index int) []byte { return v.Get(index).Bytes() }
func (v TableView) Vector(index int) Vector { return v.Get(index).Vector() }
func (v TableView) Nested(index int) TableView { return v.Get(index).Table() }
func (v TableView) Scalar(index int) schema.Scalar { return v.Get(index).Scalar() }
