package loom

import (
	"sync"
	"sync/atomic"

	"github.com/TheBitDrifter/bark"
)

// chunkSizeBytes is the fixed size of every chunk the allocator hands
// out. Spec §6 fixes this at build time; a different chunk size is a
// build-time parameter, not a runtime one, so it stays an untyped
// constant rather than a Config field callers can change after startup.
const chunkSizeBytes = 16384

const chunkSlotsPerMetaBlock = 4096

// ChunkHandle is the only reference form the ChunkAllocator exposes: a
// 64-bit (slot id, version) token. Version 0 is never issued to a live
// chunk, so the zero ChunkHandle is always invalid.
type ChunkHandle uint64

// NewChunkHandle packs a slot id and version into a ChunkHandle.
func NewChunkHandle(slotID, version uint32) ChunkHandle {
	return ChunkHandle(uint64(slotID) | uint64(version)<<32)
}

// SlotID returns the handle's slot id.
func (h ChunkHandle) SlotID() uint32 { return uint32(h) }

// Version returns the handle's version.
func (h ChunkHandle) Version() uint32 { return uint32(h >> 32) }

// Valid reports whether h could ever reference a live chunk (version != 0).
// It says nothing about whether the chunk is live *now*; use
// ChunkAllocator.GetBytes for that.
func (h ChunkHandle) Valid() bool { return h.Version() != 0 }

// chunkSlot packs a slot's version and share-count into one atomic word
// so Acquire/Release/Free can test-and-update both together without a
// separate lock: bits [32:64) are the version, bits [0:32) the
// share-count. An odd version means the slot is live; even means free.
type chunkSlot struct {
	state   atomic.Uint64
	data    atomic.Pointer[[chunkSizeBytes]byte]
	allocMu sync.Mutex
}

func packSlotState(version, share uint32) uint64 {
	return uint64(version)<<32 | uint64(share)
}

func unpackSlotState(s uint64) (version, share uint32) {
	return uint32(s >> 32), uint32(s)
}

type chunkMetaBlock struct {
	slots [chunkSlotsPerMetaBlock]chunkSlot
}

// ChunkAllocator hands out fixed-size chunks from a versioned, two-level
// slot table (spec §4.2). Slot records, once reachable from a
// metaBlocks entry, never move: the table is addressable from any slot
// id without invalidating outstanding pointers, even while the
// directory of meta-blocks itself grows.
type ChunkAllocator struct {
	growMu     sync.Mutex
	metaBlocks []*chunkMetaBlock

	watermark atomic.Int64

	freeMu    sync.Mutex
	freeStack []uint32

	disposed atomic.Bool
}

// NewChunkAllocator creates an empty ChunkAllocator.
func NewChunkAllocator() *ChunkAllocator {
	return &ChunkAllocator{}
}

func (a *ChunkAllocator) metaBlockFor(metaIdx int) *chunkMetaBlock {
	a.growMu.Lock()
	defer a.growMu.Unlock()
	for len(a.metaBlocks) <= metaIdx {
		a.metaBlocks = append(a.metaBlocks, &chunkMetaBlock{})
		log.WithField("meta_blocks", len(a.metaBlocks)).Debug("chunk allocator grew meta-block table")
	}
	return a.metaBlocks[metaIdx]
}

func (a *ChunkAllocator) slotFor(id uint32) *chunkSlot {
	metaIdx := int(id) / chunkSlotsPerMetaBlock
	local := int(id) % chunkSlotsPerMetaBlock
	return &a.metaBlockFor(metaIdx).slots[local]
}

func nextOddVersion(v uint32) uint32 {
	if v%2 == 0 {
		return v + 1
	}
	return v + 2
}

// Allocate hands out a fresh chunk: a free slot id (reused from the
// free-stack, or a newly watermarked one), its version bumped to the
// next odd value, and its data block lazily allocated and zeroed.
func (a *ChunkAllocator) Allocate() (ChunkHandle, error) {
	if a.disposed.Load() {
		return 0, bark.AddTrace(DisposedError{Subsystem: "ChunkAllocator"})
	}

	id := a.popFreeOrGrow()
	slot := a.slotFor(id)

	for {
		old := slot.state.Load()
		version, _ := unpackSlotState(old)
		newVersion := nextOddVersion(version)
		newState := packSlotState(newVersion, 0)
		if slot.state.CompareAndSwap(old, newState) {
			slot.ensureZeroedData()
			return NewChunkHandle(id, newVersion), nil
		}
	}
}

func (a *ChunkAllocator) popFreeOrGrow() uint32 {
	a.freeMu.Lock()
	if n := len(a.freeStack); n > 0 {
		id := a.freeStack[n-1]
		a.freeStack = a.freeStack[:n-1]
		a.freeMu.Unlock()
		return id
	}
	a.freeMu.Unlock()
	return uint32(a.watermark.Add(1) - 1)
}

func (s *chunkSlot) ensureZeroedData() {
	block := s.data.Load()
	if block == nil {
		s.allocMu.Lock()
		if s.data.Load() == nil {
			s.data.Store(new([chunkSizeBytes]byte))
		}
		s.allocMu.Unlock()
		block = s.data.Load()
	}
	clear(block[:])
}

// GetBytes returns a read-only borrow of h's chunk bytes, or nil if h is
// stale. This is validated optimistically: callers must pair a mutating
// use with Acquire/Release, not rely on GetBytes alone.
func (a *ChunkAllocator) GetBytes(h ChunkHandle) []byte {
	slot := a.slotFor(h.SlotID())
	version, _ := unpackSlotState(slot.state.Load())
	if version != h.Version() {
		return nil
	}
	block := slot.data.Load()
	if block == nil {
		return nil
	}
	return block[:]
}

// Acquire increments h's slot share-count iff the slot's version still
// matches h, returning whether the borrow was granted. A successful
// Acquire happens-before any read through the bytes it guards, and must
// be paired with exactly one Release.
func (a *ChunkAllocator) Acquire(h ChunkHandle) bool {
	slot := a.slotFor(h.SlotID())
	for {
		old := slot.state.Load()
		version, share := unpackSlotState(old)
		if version != h.Version() {
			return false
		}
		newState := packSlotState(version, share+1)
		if slot.state.CompareAndSwap(old, newState) {
			return true
		}
	}
}

// Release decrements h's slot share-count. It must not be called without
// a matching successful Acquire.
func (a *ChunkAllocator) Release(h ChunkHandle) {
	slot := a.slotFor(h.SlotID())
	for {
		old := slot.state.Load()
		version, share := unpackSlotState(old)
		if share == 0 {
			return
		}
		newState := packSlotState(version, share-1)
		if slot.state.CompareAndSwap(old, newState) {
			return
		}
	}
}

// Free revokes h: if h is already stale, Free is a no-op. If h is live
// but still has outstanding acquires, Free fails with InUseError — a
// programmer error — and changes nothing. Otherwise it bumps the slot's
// version to the next even value (revoking every outstanding handle in
// O(1)) and returns the slot id to the free-stack for reuse.
func (a *ChunkAllocator) Free(h ChunkHandle) error {
	slot := a.slotFor(h.SlotID())
	for {
		old := slot.state.Load()
		version, share := unpackSlotState(old)
		if version != h.Version() {
			return nil
		}
		if share != 0 {
			return bark.AddTrace(InUseError{Handle: h})
		}
		newState := packSlotState(version+1, 0)
		if slot.state.CompareAndSwap(old, newState) {
			a.freeMu.Lock()
			a.freeStack = append(a.freeStack, h.SlotID())
			a.freeMu.Unlock()
			return nil
		}
	}
}

// Dispose marks the allocator disposed; subsequent Allocate calls fail
// with DisposedError. Handles issued before Dispose remain valid for
// GetBytes/Acquire/Release/Free.
func (a *ChunkAllocator) Dispose() {
	a.disposed.Store(true)
	log.Debug("chunk allocator disposed")
}
