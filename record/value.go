package record

import (
	"fmt"

	"github.com/blastbao/gomem/flatbuffers"
	"github.com/blastbao/gomem/schema"
)

// Value is the result of reading one field. For a scalar field it holds the
// stored or default value. For a string, vector or table field it refers to
// the object in the buffer, unless the field is absent.
type Value struct {
	field   *schema.Field
	schema  *schema.Schema
	buf     []byte
	present bool
	scalar  schema.Scalar
	pos     flatbuffers.UOffsetT // position of the referenced string, vector or table
}

// Field returns the schema field the value was read from, nil for an
// undeclared or deprecated index.
func (v Value) Field() *schema.Field { return v.field }

func (v Value) Kind() schema.Kind {
	if v.field == nil {
		return schema.Invalid
	}
	return v.field.Kind
}

// Present reports whether the buffer stores the field.
func (v Value) Present() bool { return v.present }

// Defaulted reports whether the value is a scalar default substituted for
// a field the buffer does not store.
func (v Value) Defaulted() bool {
	return v.field != nil && v.field.Kind.IsScalar() && !v.present
}

// Absent reports whether the value has no content: an offset field the
// buffer does not store, or an index the schema does not declare.
func (v Value) Absent() bool {
	return v.field == nil || (!v.field.Kind.IsScalar() && !v.present)
}

// Scalar returns the scalar value, or the zero Scalar for other kinds.
func (v Value) Scalar() schema.Scalar { return v.scalar }

func (v Value) Bool() bool { return v.scalar.Bool() }
func (v Value) Int() int64 { return v.scalar.Int() }
func (v Value) Uint() uint64 { return v.scalar.Uint() }
func (v Value) Float() float64 { return v.scalar.Float() }

// String returns the contents of a string field, aliasing the buffer, or
// the formatted value of a scalar. It is empty when the value is absent.
func (v Value) String() string {
	switch {
	case v.field == nil:
		return ""
	case v.field.Kind.IsScalar():
		return v.scalar.String()
	case v.field.Kind == schema.String && v.present:
		return stringAt(v.buf, v.pos)
	}
	return ""
}

// Bytes returns the contents of a string or a vector of 1-byte scalars,
// aliasing the buffer.
func (v Value) Bytes() []byte {
	if !v.present {
		return nil
	}
	switch {
	case v.field.Kind == schema.String:
		return bytesAt(v.buf, v.pos)
	case v.field.Kind == schema.Vector && v.field.Elem.Size() == 1:
		return bytesAt(v.buf, v.pos)
	}
	return nil
}

// Vector returns a vector field. An absent vector has length 0.
func (v Value) Vector() Vector {
	if !v.present || v.field.Kind != schema.Vector {
		return Vector{}
	}
	vec := Vector{
		buf:   v.buf,
		start: v.pos + flatbuffers.SizeUOffsetT,
		n:     int(flatbuffers.GetUOffsetT(v.buf[v.pos:])),
		elem:  v.field.Elem,
	}
	if vec.elem == schema.TableKind {
		vec.table = v.schema.Table(v.field.Table)
		vec.schema = v.schema
	}
	return vec
}

// Table returns a table field. An absent table gives a view that is not
// Present, whose fields all read as absent or default.
func (v Value) Table() TableView {
	if v.field == nil || v.field.Kind != schema.TableKind {
		return TableView{}
	}
	view := TableView{table: v.schema.Table(v.field.Table), schema: v.schema}
	if v.present {
		view.tab = flatbuffers.Table{Bytes: v.buf, Pos: v.pos}
	}
	return view
}

// Vector reads the elements of a vector field in place.
type Vector struct {
	buf    []byte
	start  flatbuffers.UOffsetT // position of element 0
	n      int
	elem   schema.Kind
	table  *schema.Table
	schema *schema.Schema
}

func (v Vector) Len() int { return v.n }

// Elem returns the element kind, Invalid for an absent vector.
func (v Vector) Elem() schema.Kind { return v.elem }

func (v Vector) at(i int) flatbuffers.UOffsetT {
	if i < 0 || i >= v.n {
		panic(fmt.Sprintf("record: vector index %d out of range [0, %d)", i, v.n))
	}
	return v.start + flatbuffers.UOffsetT(i*v.elem.Size())
}

// Scalar returns element i of a vector of scalars.
func (v Vector) Scalar(i int) schema.Scalar {
	if !v.elem.IsScalar() {
		panic(fmt.Sprintf("record: vector of %s has no scalar elements", v.elem))
	}
	pos := v.at(i)
	return schema.ScalarFromBits(v.elem, flatbuffers.GetBits(v.buf[pos:], v.elem.Size()))
}

// String returns element i of a vector of strings, aliasing the buffer.
func (v Vector) String(i int) string {
	if v.elem != schema.String {
		panic(fmt.Sprintf("record: vector of %s has no string elements", v.elem))
	}
	pos := v.at(i)
	return stringAt(v.buf, pos+flatbuffers.GetUOffsetT(v.buf[pos:]))
}

// Strings returns every element of a vector of strings. The strings alias
// the buffer.
func (v Vector) Strings() []string {
	out := make([]string, v.n)
	for i := range out {
		out[i] = v.String(i)
	}
	return out
}

// Table returns element i of a vector of tables.
func (v Vector) Table(i int) TableView {
	if v.elem != schema.TableKind {
		panic(fmt.Sprintf("record: vector of %s has no table elements", v.elem))
	}
	pos := v.at(i)
	return TableView{
		tab:    flatbuffers.Table{Bytes: v.buf, Pos: pos + flatbuffers.GetUOffsetT(v.buf[pos:])},
		table:  v.table,
		schema: v.schema,
	}
}

func bytesAt(buf []byte, pos flatbuffers.UOffsetT) []byte {
	t := flatbuffers.Table{Bytes: buf}
	return t.BytesAt(pos)
}

func stringAt(buf []byte, pos flatbuffers.UOffsetT) string {
	t := flatbuffers.Table{Bytes: buf}
	return t.StringAt(pos)
}
