package loom

import "unsafe"

// AccessibleComponent extends a ComponentType[T] with direct access into
// an archetype's SoA storage (the teacher's AccessibleComponent[T] over
// table.Accessor[T], rewired against ArchetypeLayout.OffsetOf instead of
// a table.Table column).
type AccessibleComponent[T any] struct {
	ComponentType[T]
}

// NewAccessibleComponent registers T (if needed) and returns a typed
// accessor for it.
func NewAccessibleComponent[T any]() AccessibleComponent[T] {
	return AccessibleComponent[T]{ComponentType: NewComponentType[T]()}
}

// Get returns a pointer to this component's value for the entity at the
// given archetype slot, or nil if the archetype doesn't carry T or T is
// a zero-size tag component (tags have no stored bytes). The
// returned pointer aliases the chunk's backing array directly: it is
// valid until the next migration or destroy touches that slot.
func (c AccessibleComponent[T]) Get(archetype *Archetype, slot uint32) *T {
	bytes := archetype.ComponentBytes(slot, c.ComponentID())
	if bytes == nil {
		return nil
	}
	return (*T)(unsafe.Pointer(&bytes[0]))
}

// Has reports whether archetype carries T.
func (c AccessibleComponent[T]) Has(archetype *Archetype) bool {
	return archetype.Layout().Has(c.ComponentID())
}

// GetFromEntity resolves h's current archetype and slot and returns a
// pointer to its T value, or ComponentNotFoundError if h's archetype
// doesn't carry T or T is a zero-size tag component.
func (c AccessibleComponent[T]) GetFromEntity(w *World, h Handle) (*T, error) {
	loc, err := w.entities.Location(h)
	if err != nil {
		return nil, err
	}
	arch, err := w.Registry.ByID(loc.ArchetypeID)
	if err != nil {
		return nil, err
	}
	val := c.Get(arch, loc.Slot)
	if val == nil {
		return nil, ComponentNotFoundError{Component: c}
	}
	return val, nil
}
