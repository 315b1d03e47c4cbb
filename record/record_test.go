package record

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	"golang.org/x/xerrors"

	"github.com/blastbao/gomem/flatbuffers"
	"github.com/blastbao/gomem/schema"
)

var testSchema = schema.MustParse([]byte(`
root: Record
tables:
  - name: Point
    fields:
      - {name: x, id: 0, type: int32}
      - {name: y, id: 1, type: int32, default: -1}
  - name: Record
    fields:
      - {name: b, id: 0, type: bool, default: true}
      - {name: i8, id: 1, type: int8, default: -3}
      - {name: u8, id: 2, type: uint8, default: 7}
      - {name: i16, id: 3, type: int16, default: -300}
      - {name: u16, id: 4, type: uint16, default: 100}
      - {name: i32, id: 5, type: int32, default: -70000}
      - {name: u32, id: 6, type: uint32, default: 5000}
      - {name: i64, id: 7, type: int64, default: -5000000000}
      - {name: u64, id: 8, type: uint64, default: 10000000000}
      - {name: f16, id: 9, type: float16, default: 1.5}
      - {name: f32, id: 10, type: float32, default: 0.25}
      - {name: f64, id: 11, type: float64, default: 3.5}
      - {name: name, id: 12, type: string}
      - {name: origin, id: 13, type: Point}
      - {name: tags, id: 14, type: "[string]"}
      - {name: samples, id: 15, type: "[uint16]"}
      - {name: path, id: 16, type: "[Point]"}
      - {name: old, id: 17, type: uint32, deprecated: true}
      - {name: blob, id: 18, type: "[ubyte]"}
`))

// nonDefaults holds a value different from the default for every scalar
// field of Record, by index.
var nonDefaults = map[int]schema.Scalar{
	0:  schema.BoolScalar(false),
	1:  schema.IntScalar(schema.Int8, math.MinInt8),
	2:  schema.UintScalar(schema.Uint8, math.MaxUint8),
	3:  schema.IntScalar(schema.Int16, math.MaxInt16),
	4:  schema.UintScalar(schema.Uint16, 0),
	5:  schema.IntScalar(schema.Int32, 1),
	6:  schema.UintScalar(schema.Uint32, math.MaxUint32),
	7:  schema.IntScalar(schema.Int64, -1),
	8:  schema.UintScalar(schema.Uint64, 0),
	9:  schema.FloatScalar(schema.Float16, -2),
	10: schema.FloatScalar(schema.Float32, 1e-3),
	11: schema.FloatScalar(schema.Float64, math.Pi),
}

func buildScalars(values map[int]schema.Scalar) []byte {
	b := NewBuilder(testSchema, 0)
	b.StartTable(testSchema.RootTable())
	for i, v := range values {
		b.AddScalar(i, v)
	}
	b.Finish(b.EndTable())
	return b.FinishedBytes()
}

func point(b *Builder, x, y int64) flatbuffers.UOffsetT {
	b.StartTableNamed("Point")
	b.AddInt(0, x)
	b.AddInt(1, y)
	return b.EndTable()
}

// buildFull sets every live field of Record.
func buildFull() []byte {
	b := NewBuilder(testSchema, 0)
	// Created first, so its terminator is the last byte of the buffer.
	name := b.CreateString("TestApp")
	origin := point(b, 3, 4)
	tags := b.CreateStringVector([]string{"a", "bc", ""})
	samples := b.CreateScalarVector(schema.Uint16, []schema.Scalar{
		schema.UintScalar(schema.Uint16, 1),
		schema.UintScalar(schema.Uint16, 65535),
	})
	p1 := point(b, 1, -1)
	p2 := point(b, 0, 9)
	path := b.CreateTableVector(testSchema.Table("Point"), []flatbuffers.UOffsetT{p1, p2})
	blob := b.CreateScalarVector(schema.Uint8, []schema.Scalar{
		schema.UintScalar(schema.Uint8, 0xde),
		schema.UintScalar(schema.Uint8, 0xad),
	})

	b.StartTable(testSchema.RootTable())
	for i, v := range nonDefaults {
		b.AddScalar(i, v)
	}
	b.AddString(12, name)
	b.AddTable(13, origin)
	b.AddVector(14, tags)
	b.AddVector(15, samples)
	b.AddVector(16, path)
	b.AddVector(18, blob)
	b.Finish(b.EndTable())
	return b.FinishedBytes()
}

// readAll touches every field a reader of Record can reach.
func readAll(v TableView) {
	for _, f := range v.Type().Fields {
		val := v.Get(f.Index)
		switch f.Kind {
		case schema.String:
			_ = val.String()
		case schema.TableKind:
			readAll(val.Table())
		case schema.Vector:
			vec := val.Vector()
			for i := 0; i < vec.Len(); i++ {
				switch vec.Elem() {
				case schema.String:
					_ = vec.String(i)
				case schema.TableKind:
					readAll(vec.Table(i))
				default:
					_ = vec.Scalar(i)
				}
			}
			_ = val.Bytes()
		default:
			_ = val.Scalar()
		}
	}
}

func TestDefaultsAreElided(t *testing.T) {
	defaults := make(map[int]schema.Scalar)
	for i := range nonDefaults {
		defaults[i] = testSchema.RootTable().Field(i).DefaultValue()
	}
	buf := buildScalars(defaults)
	assert.Equal(t, buildScalars(nil), buf, "defaulted fields must not be stored")
	require.NoError(t, Verify(buf, testSchema))

	view := Root(buf, testSchema)
	for i, d := range defaults {
		val := view.Get(i)
		assert.True(t, val.Defaulted(), "field %d", i)
		assert.False(t, val.Present(), "field %d", i)
		assert.True(t, d.Equal(val.Scalar()), "field %d: %v != %v", i, d, val.Scalar())
	}
	assert.True(t, view.Bool(0))
	assert.Equal(t, int64(-3), view.Int(1))
	assert.Equal(t, uint64(10000000000), view.Uint(8))
	assert.Equal(t, 1.5, view.Float(9))
	assert.Equal(t, 0.25, view.Float(10))
}

func TestFloatDefaultsCompareByValue(t *testing.T) {
	s := schema.MustParse([]byte(`
root: F
tables:
  - name: F
    fields:
      - {name: z, id: 0, type: float64}
      - {name: h, id: 1, type: float16}
      - {name: n, id: 2, type: float32}
`))
	b := NewBuilder(s, 0)
	b.StartTableNamed("F")
	b.AddFloat(0, math.Copysign(0, -1))
	b.AddFloat(1, math.Copysign(0, -1))
	b.AddFloat(2, math.NaN())
	b.Finish(b.EndTable())
	buf := b.FinishedBytes()
	require.NoError(t, Verify(buf, s))

	view := Root(buf, s)
	assert.True(t, view.Get(0).Defaulted())
	assert.True(t, view.Get(1).Defaulted())
	assert.True(t, view.Get(2).Present())
	assert.True(t, math.IsNaN(view.Float(2)))
}

func TestStoredValuesRoundTrip(t *testing.T) {
	buf := buildScalars(nonDefaults)
	require.NoError(t, Verify(buf, testSchema))

	view := Root(buf, testSchema)
	for i, want := range nonDefaults {
		val := view.Get(i)
		assert.True(t, val.Present(), "field %d", i)
		assert.True(t, want.Equal(val.Scalar()), "field %d: %v != %v", i, want, val.Scalar())
	}
	assert.False(t, view.Bool(0))
	assert.Equal(t, int64(math.MinInt8), view.Int(1))
	assert.Equal(t, uint64(math.MaxUint32), view.Uint(6))
	assert.Equal(t, int64(-1), view.Int(7))
	assert.Equal(t, -2.0, view.Float(9))
	assert.Equal(t, math.Pi, view.Float(11))
	assert.Equal(t, "255", view.String(2))
}

func TestOffsetFields(t *testing.T) {
	buf := buildFull()
	require.NoError(t, Verify(buf, testSchema))
	view := Root(buf, testSchema)

	assert.Equal(t, "TestApp", view.String(12))
	assert.Equal(t, []byte("TestApp"), view.Bytes(12))
	assert.Equal(t, "TestApp", view.GetByName("name").String())

	origin := view.Nested(13)
	require.True(t, origin.Present())
	assert.Equal(t, int64(3), origin.Int(0))
	assert.Equal(t, int64(4), origin.Int(1))

	tags := view.Vector(14)
	assert.Equal(t, schema.String, tags.Elem())
	assert.Equal(t, []string{"a", "bc", ""}, tags.Strings())

	samples := view.Vector(15)
	require.Equal(t, 2, samples.Len())
	assert.Equal(t, uint64(65535), samples.Scalar(1).Uint())
	assert.Panics(t, func() { samples.Scalar(2) })
	assert.Panics(t, func() { samples.String(0) })

	path := view.Vector(16)
	require.Equal(t, 2, path.Len())
	assert.Equal(t, int64(1), path.Table(0).Int(0))
	assert.Equal(t, int64(-1), path.Table(0).Int(1), "stored value equal to default reads back")
	assert.Equal(t, int64(9), path.Table(1).Int(1))

	assert.Equal(t, []byte{0xde, 0xad}, view.Bytes(18))

	// Deprecated and undeclared indices are absent.
	assert.True(t, view.Get(17).Absent())
	assert.True(t, view.Get(19).Absent())
	assert.True(t, view.Get(-1).Absent())
	assert.True(t, view.GetByName("nope").Absent())
}

func TestAbsentOffsetFields(t *testing.T) {
	buf := buildScalars(nil)
	view := Root(buf, testSchema)

	name := view.Get(12)
	assert.True(t, name.Absent())
	assert.Equal(t, "", name.String())
	assert.Nil(t, name.Bytes())
	assert.Equal(t, 0, view.Vector(14).Len())

	origin := view.Nested(13)
	assert.False(t, origin.Present())
	assert.Equal(t, int64(-1), origin.Int(1), "fields of an absent table read as defaults")
	assert.True(t, origin.Get(0).Defaulted())
}

func TestBuilderContract(t *testing.T) {
	rec := testSchema.RootTable()
	cases := map[string]func(b *Builder){
		"undeclared":  func(b *Builder) { b.StartTable(rec); b.AddInt(19, 1) },
		"deprecated":  func(b *Builder) { b.StartTable(rec); b.AddUint(17, 1) },
		"kind":        func(b *Builder) { b.StartTable(rec); b.AddScalar(1, schema.UintScalar(schema.Uint8, 1)) },
		"not float":   func(b *Builder) { b.StartTable(rec); b.AddFloat(1, 1) },
		"not integer": func(b *Builder) { b.StartTable(rec); b.AddInt(11, 1) },
		"string slot": func(b *Builder) { s := b.CreateString("x"); b.StartTable(rec); b.AddTable(12, s) },
		"child type": func(b *Builder) {
			s := b.CreateString("x")
			b.StartTable(rec)
			b.AddTable(13, s)
		},
		"vector type": func(b *Builder) {
			v := b.CreateStringVector([]string{"x"})
			b.StartTable(rec)
			b.AddVector(15, v)
		},
		"table vector": func(b *Builder) {
			b.StartTable(rec)
			r := b.EndTable()
			b.CreateTableVector(testSchema.Table("Point"), []flatbuffers.UOffsetT{r})
		},
		"root type": func(b *Builder) { b.Finish(point(b, 1, 2)) },
		"no table":  func(b *Builder) { b.AddBool(0, true) },
		"end":       func(b *Builder) { b.EndTable() },
		"foreign": func(b *Builder) {
			b.StartTable(&schema.Table{Name: "Record"})
		},
		"unknown name": func(b *Builder) { b.StartTableNamed("Nope") },
		"vector kind": func(b *Builder) {
			b.CreateScalarVector(schema.Uint8, []schema.Scalar{schema.BoolScalar(true)})
		},
	}
	for name, f := range cases {
		assert.Panics(t, func() { f(NewBuilder(testSchema, 0)) }, name)
	}
}

func TestRequiredFields(t *testing.T) {
	s := schema.MustParse([]byte(`
root: T
tables:
  - name: T
    fields:
      - {name: id, id: 0, type: string, required: true}
      - {name: n, id: 1, type: int32}
`))
	b := NewBuilder(s, 0)
	b.StartTableNamed("T")
	b.AddInt(1, 5)
	assert.PanicsWithValue(t, "record: required field T.id not set", func() { b.EndTable() })

	// A buffer missing the field, written without the schema, is rejected.
	raw := flatbuffers.NewBuilder(0)
	raw.StartTable(2)
	raw.AddInt32Slot(1, 5, 0)
	raw.Finish(raw.EndTable())
	err := Verify(raw.FinishedBytes(), s)
	assert.ErrorIs(t, err, flatbuffers.ErrMissingField)

	var rerr *Error
	require.True(t, xerrors.As(err, &rerr))
	assert.Equal(t, "T.id", rerr.Path)
}

func TestVerifyReportsPath(t *testing.T) {
	buf := buildFull()
	tab := Root(buf, testSchema).Table()
	pos, ok := tab.FieldPos(flatbuffers.SlotOffset(14))
	require.True(t, ok)
	vec := tab.Indirect(pos)
	elem := vec + flatbuffers.SizeUOffsetT + flatbuffers.SizeUOffsetT
	str := elem + flatbuffers.GetUOffsetT(buf[elem:])
	flatbuffers.WriteUint32(buf[str:], 1<<30)

	core, logs := observer.New(zapcore.DebugLevel)
	err := Verify(buf, testSchema, WithLogger(zap.New(core)))
	require.Error(t, err)
	assert.ErrorIs(t, err, flatbuffers.ErrOutOfBounds)

	var rerr *Error
	require.True(t, xerrors.As(err, &rerr))
	assert.Equal(t, "Record.tags[1]", rerr.Path)
	var verr *flatbuffers.VerifyError
	require.True(t, xerrors.As(err, &verr))
	assert.Equal(t, "string", verr.Op)
	assert.Equal(t, uint64(str), verr.Offset)
	assert.Contains(t, err.Error(), "record: Record.tags[1]: verify string at offset")

	entries := logs.FilterMessage("buffer rejected").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "Record", entries[0].ContextMap()["root"])
}

func TestVerifyTruncated(t *testing.T) {
	buf := buildFull()
	require.Equal(t, byte(0), buf[len(buf)-1])
	for n := 0; n < len(buf); n++ {
		assert.Error(t, VerifyLength(buf, n, testSchema), "length %d", n)
	}
	assert.NoError(t, VerifyLength(buf, len(buf), testSchema))
	assert.ErrorIs(t, VerifyLength(buf, len(buf)+1, testSchema), ErrLength)
	assert.ErrorIs(t, VerifyLength(buf, -1, testSchema), ErrLength)
}

func TestVerifyMutations(t *testing.T) {
	orig := buildFull()
	rejected := 0
	for i := range orig {
		for _, flip := range []byte{0x01, 0x80, 0xff} {
			buf := append([]byte(nil), orig...)
			buf[i] ^= flip
			if Verify(buf, testSchema) != nil {
				rejected++
				continue
			}
			require.NotPanics(t, func() { readAll(Root(buf, testSchema)) }, "byte %d ^ %#x", i, flip)
		}
	}
	assert.NotZero(t, rejected)
}

func TestVerifyGarbage(t *testing.T) {
	garbage := make([]byte, 1024)
	for i := range garbage {
		garbage[i] = byte(i*0x5a + 0xaa)
	}
	assert.Error(t, Verify(garbage, testSchema))
	assert.Error(t, Verify(nil, testSchema))
	assert.ErrorIs(t, Verify([]byte{0, 0, 0, 0}, testSchema), flatbuffers.ErrBadOffset)
}

func TestVerifyDepthLimit(t *testing.T) {
	s := schema.MustParse([]byte(`
root: Node
tables:
  - name: Node
    fields:
      - {name: next, id: 0, type: Node}
      - {name: v, id: 1, type: int32}
`))
	b := NewBuilder(s, 0)
	var next flatbuffers.UOffsetT
	for i := 0; i < 70; i++ {
		b.StartTableNamed("Node")
		b.AddTable(0, next)
		b.AddInt(1, int64(i))
		next = b.EndTable()
	}
	b.Finish(next)
	buf := b.FinishedBytes()

	assert.ErrorIs(t, Verify(buf, s), flatbuffers.ErrDepthLimit)
	assert.NoError(t, Verify(buf, s, WithMaxDepth(70)))
	assert.ErrorIs(t, Verify(buf, s, WithMaxDepth(70), WithMaxTables(10)), flatbuffers.ErrTableLimit)

	v := Root(buf, s)
	for i := 69; i >= 0; i-- {
		require.True(t, v.Present())
		assert.Equal(t, int64(i), v.Int(1))
		v = v.Nested(0)
	}
	assert.False(t, v.Present())
}

var dagSchema = schema.MustParse([]byte(`
root: Node
tables:
  - name: Node
    fields:
      - {name: kids, id: 0, type: "[Node]"}
      - {name: tags, id: 1, type: "[string]"}
`))

// chain builds n nodes above tail, each holding the one below twice.
func chain(b *Builder, n int, tail flatbuffers.UOffsetT) flatbuffers.UOffsetT {
	node := dagSchema.Table("Node")
	for i := 0; i < n; i++ {
		var kids flatbuffers.UOffsetT
		if tail != 0 {
			kids = b.CreateTableVector(node, []flatbuffers.UOffsetT{tail, tail})
		}
		b.StartTable(node)
		b.AddVector(0, kids)
		tail = b.EndTable()
	}
	return tail
}

func TestVerifySharedTables(t *testing.T) {
	b := NewBuilder(dagSchema, 0)
	tags := make([]string, 500)
	for i := range tags {
		tags[i] = "t"
	}
	tagv := b.CreateStringVector(tags)
	b.StartTableNamed("Node")
	b.AddVector(1, tagv)
	leaf := b.EndTable()
	// 2^40 条路径，但只有 41 张不同的表
	b.Finish(chain(b, 40, leaf))
	buf := b.FinishedBytes()

	assert.NoError(t, Verify(buf, dagSchema, WithMaxTables(41)))
	assert.ErrorIs(t, Verify(buf, dagSchema, WithMaxTables(40)), flatbuffers.ErrTableLimit)

	v := Root(buf, dagSchema)
	for v.Vector(0).Len() > 0 {
		require.Equal(t, 2, v.Vector(0).Len())
		v = v.Vector(0).Table(1)
	}
	assert.Equal(t, 500, v.Vector(1).Len())
}

func TestVerifySharedTableReachedDeeper(t *testing.T) {
	b := NewBuilder(dagSchema, 0)
	shared := chain(b, 5, 0)
	deep := chain(b, 5, shared)
	kids := b.CreateTableVector(dagSchema.Table("Node"), []flatbuffers.UOffsetT{shared, deep})
	b.StartTableNamed("Node")
	b.AddVector(0, kids)
	b.Finish(b.EndTable())
	buf := b.FinishedBytes()

	// shared 先在第 2 层通过验证，经由 deep 再次到达时位于第 7 层
	err := Verify(buf, dagSchema, WithMaxDepth(10))
	assert.ErrorIs(t, err, flatbuffers.ErrDepthLimit)
	var rerr *Error
	require.True(t, xerrors.As(err, &rerr))
	assert.Equal(t, "Node.kids[1].kids[0].kids[0].kids[0].kids[0].kids[0].kids[0].kids[0].kids[0].kids[0]", rerr.Path)
	assert.NoError(t, Verify(buf, dagSchema, WithMaxDepth(11)))
}

func TestFileIdentifier(t *testing.T) {
	b := NewBuilder(testSchema, 0)
	b.StartTable(testSchema.RootTable())
	b.FinishWithFileIdentifier(b.EndTable(), "REC1")
	buf := b.FinishedBytes()

	assert.NoError(t, Verify(buf, testSchema, WithFileIdentifier("REC1")))
	assert.ErrorIs(t, Verify(buf, testSchema, WithFileIdentifier("REC2")), flatbuffers.ErrIdentifier)
}

func TestVerifyCache(t *testing.T) {
	c, err := NewVerifyCache(8, testSchema)
	require.NoError(t, err)

	buf := buildFull()
	require.NoError(t, c.Verify(buf))
	require.NoError(t, c.Verify(append([]byte(nil), buf...)))

	garbage := make([]byte, 64)
	for i := range garbage {
		garbage[i] = 0xff
	}
	first := c.Verify(garbage)
	require.Error(t, first)
	assert.Equal(t, first, c.Verify(garbage))

	hits, misses := c.Stats()
	assert.Equal(t, int64(2), hits)
	assert.Equal(t, int64(2), misses)
	assert.Equal(t, 2, c.Len())

	c.Purge()
	assert.Equal(t, 0, c.Len())

	_, err = NewVerifyCache(0, testSchema)
	assert.Error(t, err)
}

func TestBuilderReuse(t *testing.T) {
	b := NewBuilder(testSchema, 0)
	build := func() []byte {
		name := b.CreateString("again")
		b.StartTable(testSchema.RootTable())
		b.AddString(12, name)
		b.AddUint(6, 1)
		b.Finish(b.EndTable())
		return append([]byte(nil), b.FinishedBytes()...)
	}
	first := build()
	b.Reset()
	assert.Equal(t, first, build())
	b.Release()
	assert.Equal(t, "again", Root(first, testSchema).String(12))
}
