package loom

import (
	"runtime"
	"sync"
	"sync/atomic"
)

// AppendList implements the append-only concurrent vector of spec §4.3: a
// single-producer-safe, multi-reader vector where a successful Add returns
// a stable index that never moves, and CommittedCount() is a safe upper
// bound any number of readers can use without further synchronization.
//
// Storage is a vector of meta-blocks, each holding a fixed number of
// chunk pointers; both meta-blocks and chunks, once allocated, live for
// the AppendList's lifetime at a fixed address, so a pointer returned to
// index i is valid forever. The directory of meta-block pointers is
// guarded by growMu, and every chunk lookup (Add, AddRange, Get, Slot)
// takes that lock briefly to find its meta-block, even when the
// directory does not grow, so the Add/Read path is not lock-free.
// Installing a chunk within a meta-block and publishing slots use
// atomics only.
type AppendList[T any] struct {
	chunkShift uint
	chunkSize  int

	growMu     sync.Mutex
	metaBlocks []*appendListMetaBlock[T] // guarded by growMu for reads and writes

	reserved  atomic.Int64
	committed atomic.Int64
}

const (
	appendListMinChunkShift = 2
	appendListMaxChunkShift = 20
	appendListDefaultShift  = 10 // 1024 elements per chunk
	metaBlockChunkCount     = 1024
)

type appendListMetaBlock[T any] struct {
	chunks [metaBlockChunkCount]atomic.Pointer[appendListChunk[T]]
}

type appendListChunk[T any] struct {
	data  []T
	ready []atomic.Uint64 // one bit per slot; publish() advances committed_count only past slots whose bit is set here
}

// NewAppendList creates an AppendList whose chunks hold 1<<chunkShift
// elements. chunkShift must be in [2, 20]; anything else is a
// configuration error.
func NewAppendList[T any](chunkShift uint) (*AppendList[T], error) {
	if chunkShift < appendListMinChunkShift || chunkShift > appendListMaxChunkShift {
		return nil, OutOfRangeError{Index: int(chunkShift), Bound: appendListMaxChunkShift + 1}
	}
	return &AppendList[T]{
		chunkShift: chunkShift,
		chunkSize:  1 << chunkShift,
	}, nil
}

// NewAppendListDefault creates an AppendList with the default chunk size
// (1024 elements).
func NewAppendListDefault[T any]() *AppendList[T] {
	l, _ := NewAppendList[T](appendListDefaultShift)
	return l
}

func (l *AppendList[T]) locate(i int) (metaIdx, chunkIdx, localIdx int) {
	chunkOrdinal := i / l.chunkSize
	localIdx = i % l.chunkSize
	metaIdx = chunkOrdinal / metaBlockChunkCount
	chunkIdx = chunkOrdinal % metaBlockChunkCount
	return
}

func (l *AppendList[T]) metaBlockFor(metaIdx int) *appendListMetaBlock[T] {
	l.growMu.Lock()
	defer l.growMu.Unlock()
	for len(l.metaBlocks) <= metaIdx {
		l.metaBlocks = append(l.metaBlocks, &appendListMetaBlock[T]{})
	}
	return l.metaBlocks[metaIdx]
}

// chunkFor returns (allocating if necessary) the chunk holding index i.
// Allocation races are resolved with a CAS on the meta-block's chunk
// pointer slot; the loser discards its allocation and uses the winner's.
func (l *AppendList[T]) chunkFor(i int) *appendListChunk[T] {
	metaIdx, chunkIdx, _ := l.locate(i)
	mb := l.metaBlockFor(metaIdx)

	slot := &mb.chunks[chunkIdx]
	if c := slot.Load(); c != nil {
		return c
	}

	readyWords := (l.chunkSize + 63) / 64
	candidate := &appendListChunk[T]{
		data:  make([]T, l.chunkSize),
		ready: make([]atomic.Uint64, readyWords),
	}
	if slot.CompareAndSwap(nil, candidate) {
		return candidate
	}
	return slot.Load()
}

// Add reserves the next index, writes v into it, and publishes it. The
// returned index is stable: it never moves and is safe to store for
// later random-access reads once CommittedCount() exceeds it.
func (l *AppendList[T]) Add(v T) int {
	i := int(l.reserved.Add(1) - 1)
	chunk := l.chunkFor(i)
	_, _, localIdx := l.locate(i)

	chunk.data[localIdx] = v
	chunk.ready[localIdx/64].Or(1 << uint(localIdx%64))

	l.publish(i)
	return i
}

// AddRange reserves k contiguous indices, writes vs (len(vs) == k) into
// them, and publishes them. Returns the first reserved index. Ready bits
// are set with one word-level OR per chunk word the range touches, where
// the range's slots are contiguous within that word, rather than one
// atomic op per index.
func (l *AppendList[T]) AddRange(vs []T) int {
	k := len(vs)
	if k == 0 {
		return int(l.reserved.Load())
	}
	first := int(l.reserved.Add(int64(k)) - int64(k))

	var curChunk *appendListChunk[T]
	curWord := -1
	var mask uint64
	flush := func() {
		if curChunk != nil && mask != 0 {
			curChunk.ready[curWord].Or(mask)
		}
	}

	for j, v := range vs {
		i := first + j
		chunk := l.chunkFor(i)
		_, _, localIdx := l.locate(i)
		chunk.data[localIdx] = v

		word := localIdx / 64
		if chunk != curChunk || word != curWord {
			flush()
			curChunk, curWord, mask = chunk, word, 0
		}
		mask |= 1 << uint(localIdx%64)
	}
	flush()

	l.publish(first + k - 1)
	return first
}

// isReady reports whether the slot at index i has had its ready bit set
// by the producer that wrote it.
func (l *AppendList[T]) isReady(i int) bool {
	chunk := l.chunkFor(i)
	_, _, localIdx := l.locate(i)
	return chunk.ready[localIdx/64].Load()&(1<<uint(localIdx%64)) != 0
}

// publish advances committed_count past every contiguously-ready slot up
// to and including upTo, consulting the per-slot ready bitmap (spec §4.3
// steps 4-5) rather than trusting that the caller's own slots are the
// only ones outstanding: any producer's publish call can advance the
// counter past a slot once that slot's own writer has marked it ready,
// so a multi-slot AddRange is published by repeatedly draining one ready
// slot at a time instead of waiting for a single index to match exactly.
// This spins while the next slot is reserved but not yet marked ready;
// it is a progress mechanism, not a retry, and producers must not hold
// other locks while spinning here.
func (l *AppendList[T]) publish(upTo int) {
	spins := 0
	for {
		cur := l.committed.Load()
		if cur > int64(upTo) {
			return
		}
		if !l.isReady(int(cur)) {
			spins++
			if spins > 64 {
				runtime.Gosched()
			}
			continue
		}
		l.committed.CompareAndSwap(cur, cur+1)
	}
}

// CommittedCount returns the number of elements safely visible to
// readers. Reads at index < CommittedCount() never observe a partial or
// zero value, because the commit protocol orders the producer's write
// before this load (acquire) is observed.
func (l *AppendList[T]) CommittedCount() int {
	return int(l.committed.Load())
}

// Reserved returns the number of slots that have been claimed by Add/
// AddRange so far, including ones not yet committed. It is mostly useful
// for diagnostics; callers iterating data should use CommittedCount.
func (l *AppendList[T]) Reserved() int {
	return int(l.reserved.Load())
}

// Get returns the element at index i. i must be < CommittedCount(); any
// other value fails with OutOfRangeError.
func (l *AppendList[T]) Get(i int) (T, error) {
	var zero T
	count := l.CommittedCount()
	if i < 0 || i >= count {
		return zero, OutOfRangeError{Index: i, Bound: count}
	}
	chunk := l.chunkFor(i)
	_, _, localIdx := l.locate(i)
	return chunk.data[localIdx], nil
}

// Slot returns a pointer into the backing chunk storage for index i,
// valid for the AppendList's lifetime (chunks never move once
// allocated). Callers that need to mutate a published element in place
// (rather than only ever appending) use this to get a stable address;
// ordinary read/append users should prefer Get/Add.
func (l *AppendList[T]) Slot(i int) *T {
	chunk := l.chunkFor(i)
	_, _, localIdx := l.locate(i)
	return &chunk.data[localIdx]
}
