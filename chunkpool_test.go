package loom

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChunkAllocatorAllocateAndGetBytes(t *testing.T) {
	a := NewChunkAllocator()

	h, err := a.Allocate()
	require.NoError(t, err)
	assert.True(t, h.Valid())

	bytes := a.GetBytes(h)
	require.NotNil(t, bytes)
	assert.Len(t, bytes, chunkSizeBytes)
	for _, b := range bytes {
		assert.Zero(t, b)
	}
}

func TestChunkAllocatorFreeAndReuse(t *testing.T) {
	a := NewChunkAllocator()

	h1, err := a.Allocate()
	require.NoError(t, err)

	require.NoError(t, a.Free(h1))

	// The freed slot is stale: its old handle no longer resolves.
	assert.Nil(t, a.GetBytes(h1))

	h2, err := a.Allocate()
	require.NoError(t, err)

	assert.Equal(t, h1.SlotID(), h2.SlotID(), "freed slot id should be reused")
	assert.NotEqual(t, h1.Version(), h2.Version(), "reused slot must get a fresh version")
}

func TestChunkAllocatorFreeRefusesWhileAcquired(t *testing.T) {
	a := NewChunkAllocator()
	h, err := a.Allocate()
	require.NoError(t, err)

	require.True(t, a.Acquire(h))

	err = a.Free(h)
	assert.Error(t, err, "Free should refuse while a share is outstanding")

	a.Release(h)
	require.NoError(t, a.Free(h))
}

func TestChunkAllocatorFreeOfStaleHandleIsNoop(t *testing.T) {
	a := NewChunkAllocator()
	h, err := a.Allocate()
	require.NoError(t, err)
	require.NoError(t, a.Free(h))

	// Freeing an already-stale handle is a no-op, not an error.
	assert.NoError(t, a.Free(h))
}

func TestChunkAllocatorDataIsZeroedOnReuse(t *testing.T) {
	a := NewChunkAllocator()

	h1, err := a.Allocate()
	require.NoError(t, err)
	bytes := a.GetBytes(h1)
	bytes[0] = 0xFF
	require.NoError(t, a.Free(h1))

	h2, err := a.Allocate()
	require.NoError(t, err)
	require.Equal(t, h1.SlotID(), h2.SlotID())

	reused := a.GetBytes(h2)
	assert.Zero(t, reused[0], "reused chunk bytes must be zeroed")
}

func TestChunkAllocatorDisposed(t *testing.T) {
	a := NewChunkAllocator()
	a.Dispose()

	_, err := a.Allocate()
	assert.Error(t, err)
}

// TestChunkAllocatorConcurrentAllocate exercises concurrent growth of the
// two-level meta-block directory: every goroutine's allocation must
// return a unique, live slot.
func TestChunkAllocatorConcurrentAllocate(t *testing.T) {
	const goroutines = 8
	const perGoroutine = 2000

	a := NewChunkAllocator()
	handles := make([][]ChunkHandle, goroutines)
	var wg sync.WaitGroup
	wg.Add(goroutines)

	for g := 0; g < goroutines; g++ {
		g := g
		go func() {
			defer wg.Done()
			local := make([]ChunkHandle, perGoroutine)
			for i := 0; i < perGoroutine; i++ {
				h, err := a.Allocate()
				require.NoError(t, err)
				local[i] = h
			}
			handles[g] = local
		}()
	}
	wg.Wait()

	seen := make(map[uint32]bool)
	for _, local := range handles {
		for _, h := range local {
			require.False(t, seen[h.SlotID()], "slot id %d allocated twice concurrently", h.SlotID())
			seen[h.SlotID()] = true
			require.NotNil(t, a.GetBytes(h))
		}
	}
}
