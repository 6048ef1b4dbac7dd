package loom

import (
	"encoding/binary"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/TheBitDrifter/bark"
)

// Archetype is the runtime owner of every entity sharing one exact
// component mask (spec §4.5): an ordered sequence of fixed-size chunks
// backing its entities in SoA form, a live count, and cached one-hop
// add/remove edges to neighboring archetypes in the graph.
type Archetype struct {
	id        uint32
	mask      Mask
	layout    *ArchetypeLayout
	allocator *ChunkAllocator

	chunks    *AppendList[ChunkHandle]
	liveCount atomic.Int64
	growMu    sync.Mutex // guards the chunk-boundary double-allocate race

	edgesMu     sync.RWMutex
	edgesAdd    map[ComponentID]uint32
	edgesRemove map[ComponentID]uint32
}

func newArchetype(id uint32, mask Mask, layout *ArchetypeLayout, allocator *ChunkAllocator) *Archetype {
	return &Archetype{
		id:        id,
		mask:      mask,
		layout:    layout,
		allocator: allocator,
		chunks:    NewAppendListDefault[ChunkHandle](),
	}
}

// ID returns the archetype's dense id.
func (a *Archetype) ID() uint32 { return a.id }

// Mask returns the archetype's component mask.
func (a *Archetype) Mask() Mask { return a.mask }

// Layout returns the archetype's immutable SoA byte layout.
func (a *Archetype) Layout() *ArchetypeLayout { return a.layout }

// LiveCount returns the number of entities currently held.
func (a *Archetype) LiveCount() int { return int(a.liveCount.Load()) }

// ChunkCount returns the number of chunks currently backing this
// archetype.
func (a *Archetype) ChunkCount() int { return a.chunks.CommittedCount() }

// Chunk returns the i'th chunk handle.
func (a *Archetype) Chunk(i int) (ChunkHandle, error) { return a.chunks.Get(i) }

// Allocate reserves the next global slot for entityID, growing the chunk
// list if the new slot crosses a chunk boundary, and writes entityID
// into the entity-id strip. It returns the slot's global index. A slot
// index above MaxChunkSlot cannot be packed into an EntityLocation, so
// reaching it panics with OutOfRangeError.
func (a *Archetype) Allocate(entityID uint32) uint32 {
	epc := uint32(a.layout.EntriesPerChunk)
	g := uint32(a.liveCount.Add(1) - 1)
	if g > MaxChunkSlot {
		panic(bark.AddTrace(OutOfRangeError{Index: int(g), Bound: MaxChunkSlot + 1}))
	}
	chunkIdx := g / epc
	local := g % epc

	if local == 0 {
		a.growMu.Lock()
		if uint32(a.chunks.CommittedCount()) <= chunkIdx {
			h, err := a.allocator.Allocate()
			if err != nil {
				a.growMu.Unlock()
				panic(err)
			}
			a.chunks.Add(h)
		}
		a.growMu.Unlock()
	} else {
		// A slot past the boundary can be reserved slightly before the
		// boundary-crossing goroutine finishes installing the chunk;
		// wait for it to land rather than racing the allocator.
		for uint32(a.chunks.CommittedCount()) <= chunkIdx {
			runtime.Gosched()
		}
	}

	handle, _ := a.chunks.Get(int(chunkIdx))
	bytes := a.allocator.GetBytes(handle)
	binary.LittleEndian.PutUint32(bytes[local*entityIDSize:], entityID)

	return g
}

// EntityAt reads the entity id stored at global slot g.
func (a *Archetype) EntityAt(g uint32) uint32 {
	epc := uint32(a.layout.EntriesPerChunk)
	handle, _ := a.chunks.Get(int(g / epc))
	bytes := a.allocator.GetBytes(handle)
	local := g % epc
	return binary.LittleEndian.Uint32(bytes[local*entityIDSize:])
}

// ComponentBytes returns the sub-slice of the chunk backing component id
// at global slot g, or nil if id is a tag component or not part of this
// archetype's mask.
func (a *Archetype) ComponentBytes(g uint32, id ComponentID) []byte {
	size := a.layout.ComponentSize(id)
	if size == 0 || !a.layout.Has(id) {
		return nil
	}
	epc := uint32(a.layout.EntriesPerChunk)
	handle, _ := a.chunks.Get(int(g / epc))
	bytes := a.allocator.GetBytes(handle)
	local := int(g % epc)
	off := a.layout.OffsetOf(id, local)
	return bytes[off : off+size]
}

// Remove performs swap-and-pop removal of global slot g (spec §4.5): the
// last live slot's component bytes are copied into g and the live count
// is decremented. It returns the entity id that was moved into g and
// true, so the caller (the world façade) can retarget that entity's
// EntityIndex; if g was already the last slot, moved is false and
// nothing needs retargeting.
func (a *Archetype) Remove(g uint32) (movedEntityID uint32, moved bool) {
	newCount := uint32(a.liveCount.Add(-1))
	gLast := newCount
	if g == gLast {
		return 0, false
	}
	return a.copySlot(gLast, g), true
}

// copySlot byte-copies every component (and the entity-id strip) from
// global slot src to global slot dst and returns the entity id that was
// moved.
func (a *Archetype) copySlot(src, dst uint32) uint32 {
	epc := uint32(a.layout.EntriesPerChunk)

	srcHandle, _ := a.chunks.Get(int(src / epc))
	dstHandle, _ := a.chunks.Get(int(dst / epc))
	srcBytes := a.allocator.GetBytes(srcHandle)
	dstBytes := a.allocator.GetBytes(dstHandle)
	srcLocal := int(src % epc)
	dstLocal := int(dst % epc)

	movedID := binary.LittleEndian.Uint32(srcBytes[srcLocal*entityIDSize:])
	binary.LittleEndian.PutUint32(dstBytes[dstLocal*entityIDSize:], movedID)

	for _, id := range a.layout.order {
		size := a.layout.ComponentSize(id)
		if size == 0 {
			continue
		}
		srcOff := a.layout.OffsetOf(id, srcLocal)
		dstOff := a.layout.OffsetOf(id, dstLocal)
		copy(dstBytes[dstOff:dstOff+size], srcBytes[srcOff:srcOff+size])
	}
	return movedID
}

// EdgeAdd returns the cached target archetype id reached by adding
// component id to this archetype, if one has been recorded.
func (a *Archetype) EdgeAdd(id ComponentID) (uint32, bool) {
	a.edgesMu.RLock()
	defer a.edgesMu.RUnlock()
	target, ok := a.edgesAdd[id]
	return target, ok
}

// EdgeRemove returns the cached target archetype id reached by removing
// component id from this archetype, if one has been recorded.
func (a *Archetype) EdgeRemove(id ComponentID) (uint32, bool) {
	a.edgesMu.RLock()
	defer a.edgesMu.RUnlock()
	target, ok := a.edgesRemove[id]
	return target, ok
}

// SetEdgeAdd records the target archetype id reached by adding id. Edges
// are hints: a second lookup through the registry on a cache miss is
// authoritative, so races here just mean a redundant registry lookup,
// never an incorrect one.
func (a *Archetype) SetEdgeAdd(id ComponentID, target uint32) {
	a.edgesMu.Lock()
	defer a.edgesMu.Unlock()
	if a.edgesAdd == nil {
		a.edgesAdd = make(map[ComponentID]uint32)
	}
	a.edgesAdd[id] = target
}

// SetEdgeRemove records the target archetype id reached by removing id.
func (a *Archetype) SetEdgeRemove(id ComponentID, target uint32) {
	a.edgesMu.Lock()
	defer a.edgesMu.Unlock()
	if a.edgesRemove == nil {
		a.edgesRemove = make(map[ComponentID]uint32)
	}
	a.edgesRemove[id] = target
}
