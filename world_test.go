package loom

import "testing"

type worldTestTag struct{}

func TestWorldEnqueueDestroyAndAddComponentDeferred(t *testing.T) {
	w, err := NewWorld()
	if err != nil {
		t.Fatalf("NewWorld: %v", err)
	}
	posComp := NewAccessibleComponent[Position]()
	velComp := NewAccessibleComponent[Velocity]()

	h, err := w.Spawn(posComp.ComponentID())
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}

	w.Lock()
	if err := w.Entity(h).EnqueueAddComponent(velComp); err != nil {
		t.Fatalf("EnqueueAddComponent: %v", err)
	}
	// While locked, the entity must still report its pre-migration shape.
	if got := len(w.Entity(h).Components()); got != 1 {
		t.Errorf("components while locked = %d, want 1", got)
	}
	if err := w.Unlock(); err != nil {
		t.Fatalf("Unlock: %v", err)
	}

	if got := len(w.Entity(h).Components()); got != 2 {
		t.Errorf("components after unlock = %d, want 2", got)
	}
}

func TestWorldEnqueueOrderingPreserved(t *testing.T) {
	w, err := NewWorld()
	if err != nil {
		t.Fatalf("NewWorld: %v", err)
	}
	tag := NewAccessibleComponent[worldTestTag]()

	h, err := w.Spawn(tag.ComponentID())
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}

	w.Lock()
	if err := w.Entity(h).EnqueueRemoveComponent(tag); err != nil {
		t.Fatalf("EnqueueRemoveComponent: %v", err)
	}
	if err := w.Entity(h).EnqueueAddComponent(tag); err != nil {
		t.Fatalf("EnqueueAddComponent: %v", err)
	}
	if err := w.Unlock(); err != nil {
		t.Fatalf("Unlock: %v", err)
	}

	if !w.Entity(h).Valid() {
		t.Fatal("entity should still be valid")
	}
	if got := len(w.Entity(h).Components()); got != 1 {
		t.Errorf("components after remove-then-add = %d, want 1 (operations must drain in enqueue order)", got)
	}
}

func TestWorldSpawnWhileLockedFails(t *testing.T) {
	w, err := NewWorld()
	if err != nil {
		t.Fatalf("NewWorld: %v", err)
	}
	w.Lock()
	defer w.Unlock()

	if _, err := w.Spawn(); err == nil {
		t.Fatal("Spawn while locked should fail with LockedStorageError")
	}
}

func TestWorldAddComponentExistingFails(t *testing.T) {
	w, err := NewWorld()
	if err != nil {
		t.Fatalf("NewWorld: %v", err)
	}
	posComp := NewAccessibleComponent[Position]()

	h, err := w.Spawn(posComp.ComponentID())
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	if err := w.Entity(h).AddComponent(posComp); err == nil {
		t.Fatal("adding an already-present component should fail")
	}
}

func TestWorldRemoveComponentMissingFails(t *testing.T) {
	w, err := NewWorld()
	if err != nil {
		t.Fatalf("NewWorld: %v", err)
	}
	posComp := NewAccessibleComponent[Position]()
	velComp := NewAccessibleComponent[Velocity]()

	h, err := w.Spawn(posComp.ComponentID())
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	if err := w.Entity(h).RemoveComponent(velComp); err == nil {
		t.Fatal("removing an absent component should fail")
	}
}

func TestWorldDestroyStaleHandleFails(t *testing.T) {
	w, err := NewWorld()
	if err != nil {
		t.Fatalf("NewWorld: %v", err)
	}
	h, err := w.Spawn()
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	if err := w.Destroy(h); err != nil {
		t.Fatalf("Destroy: %v", err)
	}
	if err := w.Destroy(h); err == nil {
		t.Fatal("destroying an already-destroyed handle should fail")
	}
}

func TestWorldPresets(t *testing.T) {
	w, err := NewWorld()
	if err != nil {
		t.Fatalf("NewWorld: %v", err)
	}
	posComp := NewAccessibleComponent[Position]()
	velComp := NewAccessibleComponent[Velocity]()

	desc := All(posComp.ComponentID(), velComp.ComponentID())
	if _, err := w.Presets.Register("renderable", desc); err != nil {
		t.Fatalf("Presets.Register: %v", err)
	}

	idx, ok := w.Presets.GetIndex("renderable")
	if !ok {
		t.Fatal("preset should be registered under its name")
	}
	got := *w.Presets.GetItem(idx)
	if got != desc {
		t.Errorf("stored preset = %+v, want %+v", got, desc)
	}

	if _, err := w.Spawn(posComp.ComponentID(), velComp.ComponentID()); err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	q := w.Query(got)
	if q.Count() != 1 {
		t.Errorf("query compiled from preset matched %d, want 1", q.Count())
	}
}
