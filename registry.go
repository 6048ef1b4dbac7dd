package loom

import (
	"sync"

	"github.com/TheBitDrifter/bark"
	"github.com/dgraph-io/ristretto"
)

// registryShardCount is the number of independent interning shards the
// ArchetypeRegistry splits its mask table across, keeping lock
// contention local to whichever masks hash together (teacher's single
// idsGroupedByMask map under one implicit lock does not scale past a
// handful of goroutines registering new compositions concurrently).
const registryShardCount = 32

type registryShard struct {
	mu     sync.RWMutex
	byMask map[Mask]*Archetype
}

// ArchetypeRegistry interns component masks into Archetypes (spec §4.6):
// at most one Archetype exists per distinct mask, a lookup for an
// existing mask takes only its shard's read lock, and add/remove edges
// between archetypes are cached after their first discovery. It also
// owns the compiled-query cache, since a Query's result is only ever a
// cheap-to-recompute function of the registry's current archetype set.
type ArchetypeRegistry struct {
	allocator *ChunkAllocator
	shards    [registryShardCount]registryShard

	idsMu sync.RWMutex
	byID  []*Archetype

	queryCache *ristretto.Cache
}

// NewArchetypeRegistry creates an empty ArchetypeRegistry backed by
// allocator for all of its archetypes' chunk storage.
func NewArchetypeRegistry(allocator *ChunkAllocator) (*ArchetypeRegistry, error) {
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: 10000,
		MaxCost:     1 << 20,
		BufferItems: 64,
	})
	if err != nil {
		return nil, err
	}
	r := &ArchetypeRegistry{allocator: allocator, queryCache: cache}
	for i := range r.shards {
		r.shards[i].byMask = make(map[Mask]*Archetype)
	}
	return r, nil
}

func (r *ArchetypeRegistry) shardFor(mask Mask) *registryShard {
	return &r.shards[mask.Hash()%registryShardCount]
}

// GetOrCreate returns the Archetype for mask, interning a new one (and
// building its ArchetypeLayout) on first use. Concurrent first-uses of
// the same mask are resolved by a per-shard double-checked lock: exactly
// one caller builds the archetype, the rest observe it.
func (r *ArchetypeRegistry) GetOrCreate(mask Mask) (*Archetype, error) {
	shard := r.shardFor(mask)

	shard.mu.RLock()
	if a, ok := shard.byMask[mask]; ok {
		shard.mu.RUnlock()
		return a, nil
	}
	shard.mu.RUnlock()

	shard.mu.Lock()
	defer shard.mu.Unlock()
	if a, ok := shard.byMask[mask]; ok {
		return a, nil
	}

	layout, err := BuildLayout(mask)
	if err != nil {
		return nil, err
	}

	r.idsMu.Lock()
	id := uint32(len(r.byID))
	if id > MaxArchetypeID {
		r.idsMu.Unlock()
		return nil, bark.AddTrace(OutOfRangeError{Index: int(id), Bound: MaxArchetypeID + 1})
	}
	a := newArchetype(id, mask, layout, r.allocator)
	r.byID = append(r.byID, a)
	r.idsMu.Unlock()

	shard.byMask[mask] = a

	log.WithField("archetype_id", id).WithField("components", mask.PopCount()).
		Debug("archetype registry interned new composition")
	if Config.events.OnArchetypeCreated != nil {
		Config.events.OnArchetypeCreated(a)
	}
	return a, nil
}

// GetOrCreateWithAdd resolves the archetype reached from "from" by adding
// component id, using and populating from's cached add-edge.
func (r *ArchetypeRegistry) GetOrCreateWithAdd(from *Archetype, id ComponentID) (*Archetype, error) {
	if from.Mask().Get(int(id)) {
		return from, nil
	}
	if targetID, ok := from.EdgeAdd(id); ok {
		return r.ByID(targetID)
	}
	newMask := from.Mask()
	newMask.Set(int(id))
	target, err := r.GetOrCreate(newMask)
	if err != nil {
		return nil, err
	}
	from.SetEdgeAdd(id, target.ID())
	target.SetEdgeRemove(id, from.ID())
	return target, nil
}

// GetOrCreateWithRemove resolves the archetype reached from "from" by
// removing component id, using and populating from's cached
// remove-edge.
func (r *ArchetypeRegistry) GetOrCreateWithRemove(from *Archetype, id ComponentID) (*Archetype, error) {
	if !from.Mask().Get(int(id)) {
		return from, nil
	}
	if targetID, ok := from.EdgeRemove(id); ok {
		return r.ByID(targetID)
	}
	newMask := from.Mask()
	newMask.Clear(int(id))
	target, err := r.GetOrCreate(newMask)
	if err != nil {
		return nil, err
	}
	from.SetEdgeRemove(id, target.ID())
	target.SetEdgeAdd(id, from.ID())
	return target, nil
}

// ByID returns the archetype with the given dense id.
func (r *ArchetypeRegistry) ByID(id uint32) (*Archetype, error) {
	r.idsMu.RLock()
	defer r.idsMu.RUnlock()
	if int(id) >= len(r.byID) {
		return nil, OutOfRangeError{Index: int(id), Bound: len(r.byID)}
	}
	return r.byID[id], nil
}

// Snapshot returns a point-in-time copy of every interned archetype, in
// id order. Callers that need to scan archetypes matching a query use
// this rather than holding the registry locked across the scan.
func (r *ArchetypeRegistry) Snapshot() []*Archetype {
	r.idsMu.RLock()
	defer r.idsMu.RUnlock()
	out := make([]*Archetype, len(r.byID))
	copy(out, r.byID)
	return out
}

// Count returns the number of interned archetypes.
func (r *ArchetypeRegistry) Count() int {
	r.idsMu.RLock()
	defer r.idsMu.RUnlock()
	return len(r.byID)
}
