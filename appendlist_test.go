package loom

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppendListAddAndGet(t *testing.T) {
	l := NewAppendListDefault[int]()

	for i := 0; i < 10; i++ {
		idx := l.Add(i * 10)
		assert.Equal(t, i, idx)
	}

	assert.Equal(t, 10, l.CommittedCount())

	for i := 0; i < 10; i++ {
		v, err := l.Get(i)
		require.NoError(t, err)
		assert.Equal(t, i*10, v)
	}

	_, err := l.Get(10)
	assert.Error(t, err)
}

func TestAppendListSlotAllowsInPlaceMutation(t *testing.T) {
	l := NewAppendListDefault[int]()
	idx := l.Add(1)

	ptr := l.Slot(idx)
	*ptr = 42

	v, err := l.Get(idx)
	require.NoError(t, err)
	assert.Equal(t, 42, v)
}

func TestAppendListAddRange(t *testing.T) {
	l := NewAppendListDefault[int]()
	first := l.AddRange([]int{1, 2, 3, 4, 5})
	assert.Equal(t, 0, first)
	assert.Equal(t, 5, l.CommittedCount())

	for i := 0; i < 5; i++ {
		v, err := l.Get(i)
		require.NoError(t, err)
		assert.Equal(t, i+1, v)
	}
}

// TestAppendListConcurrentAdd exercises the reservation/commit protocol
// under real concurrency: every producer's Add must observe a distinct,
// stable index, and the committed prefix must contain every written
// value with no gaps once all producers finish.
func TestAppendListConcurrentAdd(t *testing.T) {
	const goroutines = 8
	const perGoroutine = 10000

	l := NewAppendListDefault[int]()
	var wg sync.WaitGroup
	wg.Add(goroutines)

	for g := 0; g < goroutines; g++ {
		g := g
		go func() {
			defer wg.Done()
			for i := 0; i < perGoroutine; i++ {
				l.Add(g*perGoroutine + i)
			}
		}()
	}
	wg.Wait()

	total := goroutines * perGoroutine
	require.Equal(t, total, l.CommittedCount())

	seen := make([]bool, total)
	for i := 0; i < total; i++ {
		v, err := l.Get(i)
		require.NoError(t, err)
		require.False(t, seen[v], "value %d observed twice", v)
		seen[v] = true
	}
	for v, ok := range seen {
		assert.True(t, ok, "value %d never observed", v)
	}
}

func TestAppendListChunkBoundary(t *testing.T) {
	l, err := NewAppendList[int](appendListMinChunkShift) // 4 elements per chunk
	require.NoError(t, err)

	const n = 4*3 + 1 // spans four chunks
	for i := 0; i < n; i++ {
		idx := l.Add(i)
		assert.Equal(t, i, idx)
	}
	for i := 0; i < n; i++ {
		v, err := l.Get(i)
		require.NoError(t, err)
		assert.Equal(t, i, v)
	}
}

func TestNewAppendListRejectsBadShift(t *testing.T) {
	_, err := NewAppendList[int](0)
	assert.Error(t, err)

	_, err = NewAppendList[int](appendListMaxChunkShift + 1)
	assert.Error(t, err)
}
