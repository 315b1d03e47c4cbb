package memory_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blastbao/gomem/memory"
)

func TestGoAllocatorAllocateAligned(t *testing.T) {
	a := memory.NewGoAllocator()
	for _, sz := range []int{1, 3, 63, 64, 65, 1024, 4097} {
		buf := a.Allocate(sz)
		require.Len(t, buf, sz)
		assert.Equal(t, sz, cap(buf))
		assert.True(t, memory.IsAligned(buf), "size %d", sz)
	}
	assert.Len(t, a.Allocate(0), 0)
}

func TestGoAllocatorReallocate(t *testing.T) {
	a := memory.NewGoAllocator()
	buf := a.Allocate(8)
	copy(buf, "abcdefgh")

	same := a.Reallocate(8, buf)
	assert.Equal(t, &buf[0], &same[0])

	grown := a.Reallocate(32, buf)
	require.Len(t, grown, 32)
	assert.Equal(t, "abcdefgh", string(grown[:8]))
	assert.True(t, memory.IsAligned(grown))
}

func TestCheckedAllocator(t *testing.T) {
	mem := memory.NewCheckedAllocator(memory.NewGoAllocator())
	buf := mem.Allocate(16)
	assert.Equal(t, 16, mem.CurrentAlloc())
	buf = mem.Reallocate(64, buf)
	assert.Equal(t, 64, mem.CurrentAlloc())
	mem.Free(buf)
	assert.Equal(t, 0, mem.CurrentAlloc())
	assert.Equal(t, 1, mem.Allocations())
}
