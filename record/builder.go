// Package record reads, writes and verifies table buffers through a
// schema.Schema, without generated code.
//
// A Builder checks every field it is given against the schema and elides
// scalars equal to their declared default. Verify walks an untrusted buffer
// along the schema and proves every structure a TableView may touch lies
// inside it. Root then reads fields in place; absent scalars read as their
// default.
package record

import (
	"fmt"

	"github.com/blastbao/gomem/flatbuffers"
	"github.com/blastbao/gomem/memory"
	"github.com/blastbao/gomem/schema"
)

// Builder writes buffers of one schema. Contract violations (a field the
// table does not declare, a value of the wrong kind, a missing required
// field) panic, like the underlying flatbuffers.Builder does for misuse.
type Builder struct {
	fb     *flatbuffers.Builder
	schema *schema.Schema

	table *schema.Table // table being built, nil between tables
	set   []bool        // which slots of table were written

	// made records the type of each object this builder created, by
	// offset, so parents only accept children of the declared type.
	made map[flatbuffers.UOffsetT]string
}

func NewBuilder(s *schema.Schema, initialSize int) *Builder {
	return NewBuilderWithAllocator(s, initialSize, memory.DefaultAllocator)
}

func NewBuilderWithAllocator(s *schema.Schema, initialSize int, mem memory.Allocator) *Builder {
	return &Builder{
		fb:     flatbuffers.NewBuilderWithAllocator(initialSize, mem),
		schema: s,
		made:   make(map[flatbuffers.UOffsetT]string),
	}
}

// Raw returns the low-level builder. Objects created through it are not
// type checked when attached to a table.
func (b *Builder) Raw() *flatbuffers.Builder { return b.fb }

// Reset prepares the builder for a new buffer, keeping its memory.
func (b *Builder) Reset() {
	b.fb.Reset()
	b.table = nil
	b.made = make(map[flatbuffers.UOffsetT]string)
}

// Release returns the builder memory to its allocator.
func (b *Builder) Release() {
	b.fb.Release()
	b.table = nil
	b.made = make(map[flatbuffers.UOffsetT]string)
}

// StartTable begins a table of type t, which must belong to the schema.
func (b *Builder) StartTable(t *schema.Table) {
	if b.schema.Table(t.Name) != t {
		panic(fmt.Sprintf("record: table %q is not part of the schema", t.Name))
	}
	b.fb.StartTable(t.NumSlots())
	b.table = t
	if n := t.NumSlots(); cap(b.set) >= n {
		b.set = b.set[:n]
		clear(b.set)
	} else {
		b.set = make([]bool, n)
	}
}

// StartTableNamed is StartTable for the table called name.
func (b *Builder) StartTableNamed(name string) {
	t := b.schema.Table(name)
	if t == nil {
		panic(fmt.Sprintf("record: unknown table %q", name))
	}
	b.StartTable(t)
}

// EndTable finishes the current table and returns its offset.
func (b *Builder) EndTable() flatbuffers.UOffsetT {
	t := b.table
	if t == nil {
		panic("Incorrect creation order: must be inside object.")
	}
	for _, f := range t.Fields {
		if f.Required && !b.set[f.Index] {
			panic(fmt.Sprintf("record: required field %s.%s not set", t.Name, f.Name))
		}
	}
	off := b.fb.EndTable()
	b.table = nil
	b.made[off] = t.Name
	return off
}

// field returns the declared, live field at index of the current table.
func (b *Builder) field(index int) *schema.Field {
	t := b.table
	if t == nil {
		panic("Incorrect creation order: must be inside object.")
	}
	f := t.Field(index)
	switch {
	case f == nil:
		panic(fmt.Sprintf("record: table %s has no field %d", t.Name, index))
	case f.Deprecated:
		panic(fmt.Sprintf("record: field %s.%s is deprecated", t.Name, f.Name))
	}
	return f
}

// AddScalar sets scalar field index to v, whose kind must match the field.
// Nothing is stored when v equals the field's default. Floats are compared
// by value, as flatbuffers.Builder.AddFloat64Slot does.
func (b *Builder) AddScalar(index int, v schema.Scalar) {
	f := b.field(index)
	if f.Kind != v.Kind() {
		panic(fmt.Sprintf("record: field %s.%s is %s, not %s", b.table.Name, f.Name, f.Kind, v.Kind()))
	}
	d := f.DefaultValue()
	switch {
	case !f.Kind.IsFloat():
		b.fb.AddScalarSlot(index, f.Kind.Size(), v.Bits(), d.Bits())
	case v.Float() == d.Float():
		b.fb.AddScalarSlot(index, f.Kind.Size(), d.Bits(), d.Bits())
	default:
		b.fb.PrependBits(f.Kind.Size(), v.Bits())
		b.fb.Slot(index)
	}
	b.set[index] = true
}

func (b *Builder) AddBool(index int, v bool) { b.AddScalar(index, schema.BoolScalar(v)) }

// AddInt sets a signed or unsigned integer field, converting v to its kind.
func (b *Builder) AddInt(index int, v int64) {
	f := b.field(index)
	if !f.Kind.IsInteger() {
		panic(fmt.Sprintf("record: field %s.%s is %s, not an integer", b.table.Name, f.Name, f.Kind))
	}
	b.AddScalar(index, schema.IntScalar(f.Kind, v))
}

// AddUint is AddInt for unsigned values.
func (b *Builder) AddUint(index int, v uint64) {
	f := b.field(index)
	if !f.Kind.IsInteger() {
		panic(fmt.Sprintf("record: field %s.%s is %s, not an integer", b.table.Name, f.Name, f.Kind))
	}
	b.AddScalar(index, schema.UintScalar(f.Kind, v))
}

// AddFloat sets a float field, rounding v to its precision.
func (b *Builder) AddFloat(index int, v float64) {
	f := b.field(index)
	if !f.Kind.IsFloat() {
		panic(fmt.Sprintf("record: field %s.%s is %s, not a float", b.table.Name, f.Name, f.Kind))
	}
	b.AddScalar(index, schema.FloatScalar(f.Kind, v))
}

// addOffset attaches an object created earlier. A zero offset leaves the
// field absent.
func (b *Builder) addOffset(index int, kind schema.Kind, off flatbuffers.UOffsetT) {
	f := b.field(index)
	if f.Kind != kind {
		panic(fmt.Sprintf("record: field %s.%s is %s, not %s", b.table.Name, f.Name, f.Kind, kind))
	}
	if off == 0 {
		return
	}
	if got, ok := b.made[off]; ok && got != f.TypeName() {
		panic(fmt.Sprintf("record: field %s.%s is %s, got %s", b.table.Name, f.Name, f.TypeName(), got))
	}
	b.fb.AddOffsetSlot(index, off)
	b.set[index] = true
}

func (b *Builder) AddString(index int, off flatbuffers.UOffsetT) { b.addOffset(index, schema.String, off) }
func (b *Builder) AddVector(index int, off flatbuffers.UOffsetT) { b.addOffset(index, schema.Vector, off) }
func (b *Builder) AddTable(index int, off flatbuffers.UOffsetT) { b.addOffset(index, schema.TableKind, off) }

func (b *Builder) CreateString(s string) flatbuffers.UOffsetT {
	off := b.fb.CreateString(s)
	b.made[off] = schema.String.String()
	return off
}

// CreateScalarVector writes a vector of kind-k scalars.
func (b *Builder) CreateScalarVector(k schema.Kind, elems []schema.Scalar) flatbuffers.UOffsetT {
	if !k.IsScalar() {
		panic(fmt.Sprintf("record: %s is not a scalar kind", k))
	}
	bits := make([]uint64, len(elems))
	for i, e := range elems {
		if e.Kind() != k {
			panic(fmt.Sprintf("record: element %d is %s, not %s", i, e.Kind(), k))
		}
		bits[i] = e.Bits()
	}
	off := b.fb.CreateScalarVector(k.Size(), bits)
	b.made[off] = "[" + k.String() + "]"
	return off
}

// CreateStringVector writes the strings and a vector referring to them.
func (b *Builder) CreateStringVector(elems []string) flatbuffers.UOffsetT {
	offs := make([]flatbuffers.UOffsetT, len(elems))
	for i, s := range elems {
		offs[i] = b.fb.CreateString(s)
	}
	off := b.fb.CreateOffsetVector(offs)
	b.made[off] = "[string]"
	return off
}

// CreateTableVector writes a vector of tables of type t, all built earlier.
func (b *Builder) CreateTableVector(t *schema.Table, offs []flatbuffers.UOffsetT) flatbuffers.UOffsetT {
	for i, o := range offs {
		if got, ok := b.made[o]; ok && got != t.Name {
			panic(fmt.Sprintf("record: element %d is %s, not %s", i, got, t.Name))
		}
	}
	off := b.fb.CreateOffsetVector(offs)
	b.made[off] = "[" + t.Name + "]"
	return off
}

// Finish seals the buffer with root as its root table, which must be of the
// schema's root type.
func (b *Builder) Finish(root flatbuffers.UOffsetT) {
	b.checkRoot(root)
	b.fb.Finish(root)
}

// FinishWithFileIdentifier is Finish with a 4-byte identifier after the
// root offset.
func (b *Builder) FinishWithFileIdentifier(root flatbuffers.UOffsetT, fid string) {
	b.checkRoot(root)
	b.fb.FinishWithFileIdentifier(root, []byte(fid))
}

func (b *Builder) checkRoot(root flatbuffers.UOffsetT) {
	if got, ok := b.made[root]; ok && got != b.schema.Root {
		panic(fmt.Sprintf("record: root is %s, not %s", got, b.schema.Root))
	}
}

// FinishedBytes returns the finished buffer. It aliases builder memory and
// is only valid until the next Reset or Release.
func (b *Builder) FinishedBytes() []byte { return b.fb.FinishedBytes() }
