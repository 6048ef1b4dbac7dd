package loom

import (
	"fmt"
	"sync"
	"sync/atomic"
)

// Handle is a 64-bit entity handle: a 32-bit id packed with a 32-bit
// version. Version 0 denotes "never alive"; every Spawn starts an id at
// version 1. Equality is bitwise, so Handle is cheaply comparable and
// copyable, and becomes valueless (IsAlive returns false) the moment the
// referenced slot is destroyed and its version diverges.
type Handle uint64

// NewHandle packs an id and version into a Handle.
func NewHandle(id, version uint32) Handle {
	return Handle(uint64(id) | uint64(version)<<32)
}

// ID returns the entity id component of the handle.
func (h Handle) ID() uint32 { return uint32(h) }

// Version returns the version component of the handle.
func (h Handle) Version() uint32 { return uint32(h >> 32) }

// EntityLocation is the decoded form of the packed 64-bit value the
// EntityIndex stores per entity id: a 24-bit version plus a +1-biased
// archetype id and slot index, so the zero value means "not placed" and
// a single CAS can retarget an entity between archetypes.
type EntityLocation struct {
	Version     uint32
	ArchetypeID uint32
	Slot        uint32
	Placed      bool
}

const (
	locSlotBits = 20
	locArchBits = 20
	locVersBits = 24

	locSlotMask = 1<<locSlotBits - 1
	locArchMask = 1<<locArchBits - 1
	locVersMask = 1<<locVersBits - 1

	locArchShift = locSlotBits
	locVersShift = locSlotBits + locArchBits

	// MaxArchetypeID and MaxChunkSlot are the packed-location's addressing
	// ceiling (spec §9 "packed EntityLocation boundary" open question).
	// Exceeding either requires widening the packed layout to 128 bits.
	MaxArchetypeID = 1<<locArchBits - 2
	MaxChunkSlot   = 1<<locSlotBits - 2
)

func packLocation(version, archPlus1, slotPlus1 uint32) uint64 {
	return uint64(version&locVersMask)<<locVersShift |
		uint64(archPlus1&locArchMask)<<locArchShift |
		uint64(slotPlus1&locSlotMask)
}

func unpackLocation(raw uint64) (version, archPlus1, slotPlus1 uint32) {
	slotPlus1 = uint32(raw & locSlotMask)
	archPlus1 = uint32((raw >> locArchShift) & locArchMask)
	version = uint32((raw >> locVersShift) & locVersMask)
	return
}

func decodeLocation(raw uint64) EntityLocation {
	version, archPlus1, slotPlus1 := unpackLocation(raw)
	loc := EntityLocation{Version: version}
	if archPlus1 != 0 && slotPlus1 != 0 {
		loc.ArchetypeID = archPlus1 - 1
		loc.Slot = slotPlus1 - 1
		loc.Placed = true
	}
	return loc
}

// bumpVersion24 advances a 24-bit version, wrapping modulo 2^24 while
// skipping zero, which is permanently reserved for "never alive".
func bumpVersion24(v uint32) uint32 {
	v = (v + 1) & locVersMask
	if v == 0 {
		v = 1
	}
	return v
}

// EntityIndex is the packed (version, archetype, slot) table keyed by
// entity id, backed by an AppendList<uint64> per spec §4.7. Every method
// is safe for concurrent use; mutation goes through a CAS loop on the
// element's own address (stable for the AppendList's lifetime, so no
// lock is needed per id).
type EntityIndex struct {
	locations *AppendList[uint64]

	freeMu sync.Mutex
	free   []uint32
}

// NewEntityIndex creates an empty EntityIndex.
func NewEntityIndex() *EntityIndex {
	return &EntityIndex{locations: NewAppendListDefault[uint64]()}
}

// Spawn allocates a new entity id — reusing a destroyed id from the free
// stack when one is available — and returns its handle at version 1 (or
// the next version after a reuse). The entity is not yet placed in any
// archetype; callers place it with Retarget.
func (ei *EntityIndex) Spawn() Handle {
	ei.freeMu.Lock()
	if n := len(ei.free); n > 0 {
		id := ei.free[n-1]
		ei.free = ei.free[:n-1]
		ei.freeMu.Unlock()

		ptr := ei.locations.Slot(int(id))
		for {
			old := atomic.LoadUint64(ptr)
			version, _, _ := unpackLocation(old)
			newVersion := bumpVersion24(version)
			newRaw := packLocation(newVersion, 0, 0)
			if atomic.CompareAndSwapUint64(ptr, old, newRaw) {
				return NewHandle(id, newVersion)
			}
		}
	}
	ei.freeMu.Unlock()

	id := ei.locations.Add(packLocation(1, 0, 0))
	return NewHandle(uint32(id), 1)
}

// IsAlive reports whether h's version matches the current EntityIndex
// entry for h's id. A stale handle (destroyed, or superseded by a reuse)
// answers false rather than failing — one of the three graceful
// stale-handle contracts.
func (ei *EntityIndex) IsAlive(h Handle) bool {
	id := h.ID()
	if int(id) >= ei.locations.CommittedCount() {
		return false
	}
	raw := atomic.LoadUint64(ei.locations.Slot(int(id)))
	version, _, _ := unpackLocation(raw)
	return version == h.Version()
}

// Location returns the current archetype placement for h. It fails with
// StaleEntityError if h's version no longer matches, and with an error
// if h is alive but has not been placed in an archetype by Retarget yet.
func (ei *EntityIndex) Location(h Handle) (EntityLocation, error) {
	if !ei.IsAlive(h) {
		return EntityLocation{}, StaleEntityError{Handle: h}
	}
	raw := atomic.LoadUint64(ei.locations.Slot(int(h.ID())))
	loc := decodeLocation(raw)
	if !loc.Placed {
		return EntityLocation{}, fmt.Errorf("loom: entity %v is not placed in any archetype", h)
	}
	return loc, nil
}

// Retarget atomically moves h to (archetypeID, slot). It is used both to
// place a freshly spawned entity into the empty archetype and to record
// a migration's destination after Archetype.Allocate has reserved the
// new slot. Retarget does not itself validate h's version — callers
// that need staleness checking call IsAlive/Location first, matching
// spec §4.5 step 4's single unconditional CAS on the packed location.
func (ei *EntityIndex) Retarget(id uint32, archetypeID, slot uint32) {
	ptr := ei.locations.Slot(int(id))
	for {
		old := atomic.LoadUint64(ptr)
		version, _, _ := unpackLocation(old)
		newRaw := packLocation(version, archetypeID+1, slot+1)
		if atomic.CompareAndSwapUint64(ptr, old, newRaw) {
			return
		}
	}
}

// Destroy bumps h's version (invalidating it and every future read
// through it) and returns the id to the free stack for reuse by a later
// Spawn. Destroying an already-stale handle fails with StaleEntityError
// and has no effect.
func (ei *EntityIndex) Destroy(h Handle) error {
	ptr := ei.locations.Slot(int(h.ID()))
	for {
		old := atomic.LoadUint64(ptr)
		version, _, _ := unpackLocation(old)
		if version != h.Version() {
			return StaleEntityError{Handle: h}
		}
		newVersion := bumpVersion24(version)
		newRaw := packLocation(newVersion, 0, 0)
		if atomic.CompareAndSwapUint64(ptr, old, newRaw) {
			ei.freeMu.Lock()
			ei.free = append(ei.free, h.ID())
			ei.freeMu.Unlock()
			return nil
		}
	}
}
