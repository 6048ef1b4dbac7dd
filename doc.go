/*
Package loom provides a concurrent, archetype-based Entity-Component-System
storage engine.

Loom groups entities by their exact component composition ("archetype"),
stores component data in fixed-size structure-of-arrays chunks, and answers
set-oriented queries over that storage. It targets simulation and serving
workloads that create millions of small, strongly-typed records and need to
iterate over subsets of them at close to memory-bandwidth speed.

Core Concepts:

  - Entity: a (id, version) handle into the EntityIndex.
  - Component: a plain data type registered once at startup.
  - Archetype: the set of entities sharing one exact component mask.
  - Query: a compiled (all, none, any) mask constraint matched against the
    set of archetypes.

Basic Usage:

	world, _ := loom.NewWorld()

	position := loom.NewAccessibleComponent[Position]()
	velocity := loom.NewAccessibleComponent[Velocity]()

	for i := 0; i < 100; i++ {
		world.Spawn(position.ComponentID(), velocity.ComponentID())
	}

	query := world.Query(loom.All(position.ComponentID(), velocity.ComponentID()))
	query.Each(func(a *loom.Archetype, slot uint32) {
		pos := position.Get(a, slot)
		vel := velocity.Get(a, slot)
		pos.X += vel.X
		pos.Y += vel.Y
	})

The chunk allocator, archetype registry, append-only entity index, layout
engine, and query compiler underneath this façade are the parts of the
engine specified to be correct under concurrent access; everything above
them (the World/Entity/Query façade in this package) is glue over that
core.
*/
package loom
