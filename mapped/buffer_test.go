package mapped

import (
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/blastbao/gomem/flatbuffers"
	"github.com/blastbao/gomem/record"
	"github.com/blastbao/gomem/schema"
)

var testSchema = schema.MustParse([]byte(`
root: Entry
tables:
  - name: Entry
    fields:
      - {name: key, id: 0, type: string, required: true}
      - {name: value, id: 1, type: uint32, default: 1}
`))

func buildEntry(t *testing.T, key string, value uint64) []byte {
	t.Helper()
	b := record.NewBuilder(testSchema, 0)
	k := b.CreateString(key)
	b.StartTableNamed("Entry")
	b.AddString(0, k)
	b.AddUint(1, value)
	b.FinishWithFileIdentifier(b.EndTable(), "ENT1")
	return append([]byte(nil), b.FinishedBytes()...)
}

func writeFile(t *testing.T, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "entry.bin")
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func TestOpen(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	path := writeFile(t, buildEntry(t, "answer", 42))

	b, err := Open(path, testSchema,
		WithLogger(zap.New(core)),
		WithVerifyOptions(record.WithFileIdentifier("ENT1")),
	)
	require.NoError(t, err)

	root := b.Root()
	assert.Equal(t, "answer", root.String(0))
	assert.Equal(t, uint64(42), root.Uint(1))
	assert.True(t, flatbuffers.BufferHasIdentifier(b.Bytes(), "ENT1"))
	assert.Same(t, testSchema, b.Schema())
	assert.Equal(t, int64(1), b.RefCount())

	b.Release()
	assert.Equal(t, 1, logs.FilterMessage("mapped").Len())
	assert.Equal(t, 1, logs.FilterMessage("unmapped").Len())
	assert.PanicsWithValue(t, ErrReleased, func() { b.Root() })
	assert.Panics(t, func() { b.Release() })
}

func TestOpenRejects(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "missing.bin"), testSchema)
	assert.ErrorIs(t, err, os.ErrNotExist)

	_, err = Open(writeFile(t, nil), testSchema)
	assert.ErrorIs(t, err, ErrEmpty)

	data := buildEntry(t, "answer", 42)
	_, err = Open(writeFile(t, data), testSchema, WithVerifyOptions(record.WithFileIdentifier("ENT2")))
	assert.ErrorIs(t, err, flatbuffers.ErrIdentifier)

	core, logs := observer.New(zapcore.WarnLevel)
	_, err = Open(writeFile(t, data[:len(data)-3]), testSchema, WithLogger(zap.New(core)))
	assert.ErrorIs(t, err, flatbuffers.ErrOutOfBounds)
	assert.Equal(t, 1, logs.FilterMessage("rejected buffer").Len())
}

func TestFromBytes(t *testing.T) {
	_, err := FromBytes(nil, testSchema)
	assert.ErrorIs(t, err, ErrEmpty)

	_, err = FromBytes([]byte{0xff, 0xff, 0xff, 0x7f}, testSchema)
	assert.Error(t, err)

	b, err := FromBytes(buildEntry(t, "k", 1), testSchema)
	require.NoError(t, err)
	defer b.Release()
	assert.Equal(t, "k", b.Root().String(0))
	assert.True(t, b.Root().Get(1).Defaulted())
}

func TestRetainRelease(t *testing.T) {
	b, err := Open(writeFile(t, buildEntry(t, "shared", 7)), testSchema)
	require.NoError(t, err)

	const readers = 8
	var wg sync.WaitGroup
	for i := 0; i < readers; i++ {
		b.Retain()
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer b.Release()
			assert.Equal(t, "shared", b.Root().String(0))
			assert.Equal(t, uint64(7), b.Root().Uint(1))
		}()
	}
	b.Release()
	wg.Wait()

	assert.Equal(t, int64(0), b.RefCount())
	assert.PanicsWithValue(t, ErrReleased, func() { b.Retain() })
}

func TestOpenWithCache(t *testing.T) {
	cache, err := record.NewVerifyCache(4, testSchema)
	require.NoError(t, err)
	path := writeFile(t, buildEntry(t, "cached", 3))

	for i := 0; i < 3; i++ {
		b, err := Open(path, testSchema, WithCache(cache))
		require.NoError(t, err)
		assert.Equal(t, "cached", b.Root().String(0))
		b.Release()
	}
	hits, misses := cache.Stats()
	assert.Equal(t, int64(2), hits)
	assert.Equal(t, int64(1), misses)
}
