package loom

import "testing"

// TestArchetypeCreation tests the interning and reuse of archetypes for a
// given component set, regardless of the order components were named in.
func TestArchetypeCreation(t *testing.T) {
	posComp := NewAccessibleComponent[Position]()
	velComp := NewAccessibleComponent[Velocity]()
	healthComp := NewAccessibleComponent[Health]()

	tests := []struct {
		name                string
		firstIDs            []ComponentID
		secondIDs           []ComponentID
		expectSameArchetype bool
	}{
		{
			name:                "Identical components",
			firstIDs:            []ComponentID{posComp.ComponentID(), velComp.ComponentID()},
			secondIDs:           []ComponentID{posComp.ComponentID(), velComp.ComponentID()},
			expectSameArchetype: true,
		},
		{
			name:                "Different order",
			firstIDs:            []ComponentID{posComp.ComponentID(), velComp.ComponentID()},
			secondIDs:           []ComponentID{velComp.ComponentID(), posComp.ComponentID()},
			expectSameArchetype: true,
		},
		{
			name:                "Different components",
			firstIDs:            []ComponentID{posComp.ComponentID()},
			secondIDs:           []ComponentID{velComp.ComponentID()},
			expectSameArchetype: false,
		},
		{
			name:                "Subset components",
			firstIDs:            []ComponentID{posComp.ComponentID(), velComp.ComponentID()},
			secondIDs:           []ComponentID{posComp.ComponentID()},
			expectSameArchetype: false,
		},
		{
			name:                "Superset components",
			firstIDs:            []ComponentID{posComp.ComponentID()},
			secondIDs:           []ComponentID{posComp.ComponentID(), velComp.ComponentID(), healthComp.ComponentID()},
			expectSameArchetype: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, err := NewWorld()
			if err != nil {
				t.Fatalf("NewWorld: %v", err)
			}

			a1, err := w.Registry.GetOrCreate(MaskOf(tt.firstIDs...))
			if err != nil {
				t.Fatalf("GetOrCreate(first): %v", err)
			}
			a2, err := w.Registry.GetOrCreate(MaskOf(tt.secondIDs...))
			if err != nil {
				t.Fatalf("GetOrCreate(second): %v", err)
			}

			sameArchetype := a1.ID() == a2.ID()
			if sameArchetype != tt.expectSameArchetype {
				t.Errorf("archetypes same: %v, want %v", sameArchetype, tt.expectSameArchetype)
			}
		})
	}
}

// TestEntityDestruction tests swap-and-pop removal via World.Destroy.
func TestEntityDestruction(t *testing.T) {
	w, err := NewWorld()
	if err != nil {
		t.Fatalf("NewWorld: %v", err)
	}

	posComp := NewAccessibleComponent[Position]()

	handles := make([]Handle, 10)
	for i := range handles {
		h, err := w.Spawn(posComp.ComponentID())
		if err != nil {
			t.Fatalf("Spawn: %v", err)
		}
		handles[i] = h
	}

	for _, i := range []int{0, 2, 4, 6, 8} {
		if err := w.Destroy(handles[i]); err != nil {
			t.Fatalf("Destroy: %v", err)
		}
	}

	q := w.Query(All(posComp.ComponentID()))
	if got := q.Count(); got != 5 {
		t.Errorf("entity count after destruction: %d, want 5", got)
	}

	for _, i := range []int{1, 3, 5, 7, 9} {
		if !w.Entity(handles[i]).Valid() {
			t.Errorf("entity %d should still be valid", i)
		}
	}
	for _, i := range []int{0, 2, 4, 6, 8} {
		if w.Entity(handles[i]).Valid() {
			t.Errorf("entity %d should be destroyed", i)
		}
	}
}

// TestWorldLocking tests that mutations while the world is locked are
// deferred until Unlock drains the queue.
func TestWorldLocking(t *testing.T) {
	tests := []struct {
		name      string
		lockCount int
	}{
		{name: "Single lock", lockCount: 1},
		{name: "Nested locks", lockCount: 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, err := NewWorld()
			if err != nil {
				t.Fatalf("NewWorld: %v", err)
			}
			posComp := NewAccessibleComponent[Position]()

			for i := 0; i < tt.lockCount; i++ {
				w.Lock()
			}
			if !w.Locked() {
				t.Fatal("world should report locked")
			}

			for i := 0; i < 5; i++ {
				if err := w.EnqueueSpawn(posComp.ComponentID()); err != nil {
					t.Fatalf("EnqueueSpawn: %v", err)
				}
			}

			q := w.Query(All(posComp.ComponentID()))
			if got := q.Count(); got != 0 {
				t.Errorf("entities should not exist yet while locked, got %d", got)
			}

			for i := 0; i < tt.lockCount-1; i++ {
				if err := w.Unlock(); err != nil {
					t.Fatalf("Unlock: %v", err)
				}
				if !w.Locked() {
					t.Fatal("world should still be locked")
				}
			}

			if err := w.Unlock(); err != nil {
				t.Fatalf("final Unlock: %v", err)
			}
			if w.Locked() {
				t.Fatal("world should be unlocked")
			}

			if got := q.Count(); got != 5 {
				t.Errorf("entity count after unlock: %d, want 5", got)
			}
		})
	}
}

// TestMigrationPreservesComponentValues tests that AddComponent/
// RemoveComponent migration byte-copies every shared component.
func TestMigrationPreservesComponentValues(t *testing.T) {
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

	pos, _ := posComp.GetFromEntity(w, h)
	*pos = Position{X: 10.0, Y: 20.0}

	vel := Velocity{X: 1.0, Y: 2.0}
	if err := w.Entity(h).AddComponent(velComp); err != nil {
		t.Fatalf("AddComponent: %v", err)
	}
	velPtr, _ := velComp.GetFromEntity(w, h)
	*velPtr = vel

	posAfter, err := posComp.GetFromEntity(w, h)
	if err != nil {
		t.Fatalf("GetFromEntity(position) after migration: %v", err)
	}
	if posAfter.X != 10.0 || posAfter.Y != 20.0 {
		t.Errorf("position after add-migration = %+v, want {10 20}", *posAfter)
	}

	posAfter.X, posAfter.Y = 30.0, 40.0

	if err := w.Entity(h).RemoveComponent(velComp); err != nil {
		t.Fatalf("RemoveComponent: %v", err)
	}

	posFinal, err := posComp.GetFromEntity(w, h)
	if err != nil {
		t.Fatalf("GetFromEntity(position) after remove-migration: %v", err)
	}
	if posFinal.X != 30.0 || posFinal.Y != 40.0 {
		t.Errorf("position after remove-migration = %+v, want {30 40}", *posFinal)
	}

	if _, err := velComp.GetFromEntity(w, h); err == nil {
		t.Error("velocity should no longer be present after RemoveComponent")
	}
}
