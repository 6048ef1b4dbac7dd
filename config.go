package loom

// Config holds process-wide, startup-time configuration for the storage
// engine. Unlike the reference implementation's template parameters,
// ChunkSize and BitMaskWidth are Go constants fixed at compile time (see
// chunkSizeBytes and maskWidthBits); Config exposes them read-only for
// callers that need to size their own buffers, plus the one genuinely
// runtime-configurable knob: the archetype event hooks.
var Config config = config{
	ChunkSize:    chunkSizeBytes,
	BitMaskWidth: maskWidthBits,
}

type config struct {
	// ChunkSize is the fixed size, in bytes, of every chunk handed out by
	// the ChunkAllocator. Fixed at 16384 per spec; exposed for layout math
	// performed outside this package.
	ChunkSize int

	// BitMaskWidth is the bit width of the Mask type this build was
	// compiled with. Component ids must satisfy id < BitMaskWidth; a
	// registration past that width fails with MaskOverflowError.
	BitMaskWidth int

	events ArchetypeEvents
}

// ArchetypeEvents are optional hooks fired on archetype-graph and
// migration activity. They are never called from a hot iteration path;
// they exist for host applications wiring up diagnostics or editor
// tooling, mirroring the teacher's table.TableEvents hook.
type ArchetypeEvents struct {
	// OnArchetypeCreated fires once, synchronously, the first time a given
	// component mask is interned into a new Archetype.
	OnArchetypeCreated func(a *Archetype)

	// OnEntityMigrated fires whenever an entity moves between two
	// archetypes because of AddComponent/RemoveComponent.
	OnEntityMigrated func(e Handle, from, to *Archetype)
}

// SetArchetypeEvents installs the event hooks used by the registry and
// archetype migration path. Passing the zero value disables all hooks.
func (c *config) SetArchetypeEvents(ev ArchetypeEvents) {
	c.events = ev
}
