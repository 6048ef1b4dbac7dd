package loom

import (
	"sync"
	"sync/atomic"
)

// EntityDestroyCallback is invoked when an entity with a registered
// parent relationship is destroyed, mirroring the teacher's
// entity.go-level parent/destroy-callback wiring but keyed against this
// engine's Handle/EntityIndex instead of a table.Entry.
type EntityDestroyCallback func(Handle)

type entityRelationship struct {
	hasParent bool
	parent    Handle
	onDestroy EntityDestroyCallback
}

// World is the thin façade tying together a ChunkAllocator, an
// ArchetypeRegistry, and an EntityIndex: the minimum glue needed to
// spawn, migrate, and destroy entities through the core engine. It is
// intentionally small — the core storage engine above it is the
// deliverable, not the façade.
type World struct {
	allocator *ChunkAllocator
	Registry  *ArchetypeRegistry
	entities  *EntityIndex

	lockDepth atomic.Int32
	queue     worldOperationQueue

	relMu         sync.Mutex
	relationships map[uint32]*entityRelationship

	// Presets is a capacity-bounded, string-keyed cache of named
	// QueryDescription presets (e.g. "renderable"), so a host application
	// can register a query once by name and compile it on demand rather
	// than threading the QueryDescription value through its own code.
	Presets *SimpleCache[QueryDescription]
}

// NewWorld creates an empty World with its own ChunkAllocator and
// ArchetypeRegistry.
func NewWorld() (*World, error) {
	allocator := NewChunkAllocator()
	registry, err := NewArchetypeRegistry(allocator)
	if err != nil {
		return nil, err
	}
	return &World{
		allocator:     allocator,
		Registry:      registry,
		entities:      NewEntityIndex(),
		relationships: make(map[uint32]*entityRelationship),
		Presets:       FactoryNewCache[QueryDescription](256),
	}, nil
}

// Locked reports whether the world is currently locked (mutation calls
// fail or, via the Enqueue* variants, are deferred).
func (w *World) Locked() bool { return w.lockDepth.Load() > 0 }

// Lock increments the world's lock depth. Mutations made while locked
// through Spawn/Destroy/AddComponent/RemoveComponent fail with
// LockedStorageError; their Enqueue* counterparts defer instead.
func (w *World) Lock() { w.lockDepth.Add(1) }

// Unlock decrements the world's lock depth, draining the queued
// operations in order once the depth returns to zero. Draining stops at
// the first operation that fails; Unlock returns that error and the
// operations after it are discarded.
func (w *World) Unlock() error {
	if w.lockDepth.Add(-1) > 0 {
		return nil
	}
	return w.queue.drain(w)
}

// Query compiles (or returns the cached compilation of) desc against
// this world's registry.
func (w *World) Query(desc QueryDescription) *Query {
	return w.Registry.Compile(desc)
}

// Entity returns a façade value for h. Entity itself carries no state
// beyond the handle and a World pointer; every method call re-resolves
// h's current location.
func (w *World) Entity(h Handle) Entity {
	return Entity{handle: h, world: w}
}

func (w *World) spawnNow(ids ...ComponentID) (Handle, error) {
	mask := MaskOf(ids...)
	arch, err := w.Registry.GetOrCreate(mask)
	if err != nil {
		return 0, err
	}
	h := w.entities.Spawn()
	slot := arch.Allocate(h.ID())
	w.entities.Retarget(h.ID(), arch.ID(), slot)
	return h, nil
}

// Spawn creates a new entity with exactly the given components and
// places it in the matching archetype, creating that archetype if this
// is its first use.
func (w *World) Spawn(ids ...ComponentID) (Handle, error) {
	if w.Locked() {
		return 0, LockedStorageError{}
	}
	return w.spawnNow(ids...)
}

// EnqueueSpawn spawns immediately if the world is unlocked, or defers
// the spawn until Unlock drains the queue.
func (w *World) EnqueueSpawn(ids ...ComponentID) error {
	if !w.Locked() {
		_, err := w.spawnNow(ids...)
		return err
	}
	w.queue.enqueue(spawnOp{ids: ids})
	return nil
}

func (w *World) destroyNow(h Handle) error {
	loc, err := w.entities.Location(h)
	if err != nil {
		return err
	}
	arch, err := w.Registry.ByID(loc.ArchetypeID)
	if err != nil {
		return err
	}
	movedID, moved := arch.Remove(loc.Slot)
	if moved {
		w.entities.Retarget(movedID, loc.ArchetypeID, loc.Slot)
	}
	if err := w.entities.Destroy(h); err != nil {
		return err
	}

	w.relMu.Lock()
	rel, ok := w.relationships[h.ID()]
	delete(w.relationships, h.ID())
	w.relMu.Unlock()

	if ok && rel.onDestroy != nil {
		rel.onDestroy(h)
	}
	return nil
}

// Destroy removes h from its archetype (swap-and-pop) and invalidates
// its handle.
func (w *World) Destroy(h Handle) error {
	if w.Locked() {
		return LockedStorageError{}
	}
	return w.destroyNow(h)
}

// EnqueueDestroy destroys immediately if the world is unlocked, or
// defers the destroy until Unlock drains the queue.
func (w *World) EnqueueDestroy(h Handle) error {
	if !w.Locked() {
		return w.destroyNow(h)
	}
	w.queue.enqueue(destroyOp{handle: h})
	return nil
}

// migrate moves h from its current archetype to target, byte-copying
// every component the two archetypes share (spec §4.5) and retargeting
// both h and whichever entity swap-and-pop moved into h's old slot.
func (w *World) migrate(h Handle, target *Archetype) error {
	loc, err := w.entities.Location(h)
	if err != nil {
		return err
	}
	source, err := w.Registry.ByID(loc.ArchetypeID)
	if err != nil {
		return err
	}
	if source.ID() == target.ID() {
		return nil
	}

	newSlot := target.Allocate(h.ID())
	for _, id := range source.Layout().Components() {
		if !target.Layout().Has(id) {
			continue
		}
		src := source.ComponentBytes(loc.Slot, id)
		if src == nil {
			continue
		}
		dst := target.ComponentBytes(newSlot, id)
		copy(dst, src)
	}

	movedID, moved := source.Remove(loc.Slot)
	if moved {
		w.entities.Retarget(movedID, loc.ArchetypeID, loc.Slot)
	}
	w.entities.Retarget(h.ID(), target.ID(), newSlot)

	if Config.events.OnEntityMigrated != nil {
		Config.events.OnEntityMigrated(h, source, target)
	}
	return nil
}

func (w *World) addComponentNow(h Handle, c Component) error {
	loc, err := w.entities.Location(h)
	if err != nil {
		return err
	}
	source, err := w.Registry.ByID(loc.ArchetypeID)
	if err != nil {
		return err
	}
	if source.Mask().Get(int(c.ComponentID())) {
		return ComponentExistsError{Component: c}
	}
	target, err := w.Registry.GetOrCreateWithAdd(source, c.ComponentID())
	if err != nil {
		return err
	}
	return w.migrate(h, target)
}

// AddComponent migrates h to the archetype reached by adding c,
// byte-copying every component h already had. It fails with
// ComponentExistsError if h's archetype already has c.
func (w *World) AddComponent(h Handle, c Component) error {
	if w.Locked() {
		return LockedStorageError{}
	}
	return w.addComponentNow(h, c)
}

// EnqueueAddComponent adds immediately if the world is unlocked, or
// defers the add until Unlock drains the queue.
func (w *World) EnqueueAddComponent(h Handle, c Component) error {
	if !w.Locked() {
		return w.addComponentNow(h, c)
	}
	w.queue.enqueue(addComponentOp{handle: h, component: c})
	return nil
}

func (w *World) removeComponentNow(h Handle, c Component) error {
	loc, err := w.entities.Location(h)
	if err != nil {
		return err
	}
	source, err := w.Registry.ByID(loc.ArchetypeID)
	if err != nil {
		return err
	}
	if !source.Mask().Get(int(c.ComponentID())) {
		return ComponentNotFoundError{Component: c}
	}
	target, err := w.Registry.GetOrCreateWithRemove(source, c.ComponentID())
	if err != nil {
		return err
	}
	return w.migrate(h, target)
}

// RemoveComponent migrates h to the archetype reached by removing c. It
// fails with ComponentNotFoundError if h's archetype doesn't have c.
func (w *World) RemoveComponent(h Handle, c Component) error {
	if w.Locked() {
		return LockedStorageError{}
	}
	return w.removeComponentNow(h, c)
}

// EnqueueRemoveComponent removes immediately if the world is unlocked,
// or defers the removal until Unlock drains the queue.
func (w *World) EnqueueRemoveComponent(h Handle, c Component) error {
	if !w.Locked() {
		return w.removeComponentNow(h, c)
	}
	w.queue.enqueue(removeComponentOp{handle: h, component: c})
	return nil
}

func (w *World) relationshipFor(h Handle) *entityRelationship {
	rel, ok := w.relationships[h.ID()]
	if !ok {
		rel = &entityRelationship{}
		w.relationships[h.ID()] = rel
	}
	return rel
}

// SetParent records that child's parent is parent, installing cb to run
// when parent is destroyed. It fails with EntityRelationError if child
// already has a parent, matching the teacher's one-parent-only
// contract.
func (w *World) SetParent(child, parent Handle, cb EntityDestroyCallback) error {
	w.relMu.Lock()
	defer w.relMu.Unlock()

	childRel := w.relationshipFor(child)
	if childRel.hasParent {
		return EntityRelationError{child: w.Entity(child), parent: w.Entity(childRel.parent)}
	}
	childRel.hasParent = true
	childRel.parent = parent

	parentRel := w.relationshipFor(parent)
	parentRel.onDestroy = cb
	return nil
}

// Parent returns child's parent entity, if one is set and still alive.
func (w *World) Parent(child Handle) (Entity, bool) {
	w.relMu.Lock()
	rel, ok := w.relationships[child.ID()]
	w.relMu.Unlock()
	if !ok || !rel.hasParent || !w.entities.IsAlive(rel.parent) {
		return Entity{}, false
	}
	return w.Entity(rel.parent), true
}

// Entity is a lightweight façade value over a Handle and the World that
// owns it (the teacher's `entity` wrapped a table.Entry the same way).
// It carries no storage of its own; every method re-resolves the
// entity's current location through the World.
type Entity struct {
	handle Handle
	world  *World
}

// Handle returns the underlying entity handle.
func (e Entity) Handle() Handle { return e.handle }

// Valid reports whether e's handle is still alive.
func (e Entity) Valid() bool { return e.world.entities.IsAlive(e.handle) }

// Components returns the component ids of e's current archetype.
func (e Entity) Components() []ComponentID {
	loc, err := e.world.entities.Location(e.handle)
	if err != nil {
		return nil
	}
	arch, err := e.world.Registry.ByID(loc.ArchetypeID)
	if err != nil {
		return nil
	}
	return arch.Layout().Components()
}

// AddComponent migrates e to the archetype reached by adding c.
func (e Entity) AddComponent(c Component) error { return e.world.AddComponent(e.handle, c) }

// RemoveComponent migrates e to the archetype reached by removing c.
func (e Entity) RemoveComponent(c Component) error { return e.world.RemoveComponent(e.handle, c) }

// EnqueueAddComponent defers AddComponent if the world is locked.
func (e Entity) EnqueueAddComponent(c Component) error {
	return e.world.EnqueueAddComponent(e.handle, c)
}

// EnqueueRemoveComponent defers RemoveComponent if the world is locked.
func (e Entity) EnqueueRemoveComponent(c Component) error {
	return e.world.EnqueueRemoveComponent(e.handle, c)
}

// SetParent establishes a parent-child relationship with cb fired when
// parent is destroyed.
func (e Entity) SetParent(parent Entity, cb EntityDestroyCallback) error {
	return e.world.SetParent(e.handle, parent.handle, cb)
}

// Parent returns e's parent, if any.
func (e Entity) Parent() (Entity, bool) { return e.world.Parent(e.handle) }

// Destroy removes e from its archetype and invalidates its handle.
func (e Entity) Destroy() error { return e.world.Destroy(e.handle) }

// EnqueueDestroy defers Destroy if the world is locked.
func (e Entity) EnqueueDestroy() error { return e.world.EnqueueDestroy(e.handle) }
