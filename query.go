package loom

import (
	"fmt"
	"sync"
)

// QueryDescription is the declarative shape of a query over archetypes
// (spec §4.8): match every archetype whose mask contains every bit in
// All, none of the bits in None, and — if Any is non-empty — at least
// one bit in Any. An empty All, None, or Any imposes no constraint from
// that clause.
type QueryDescription struct {
	All  Mask
	None Mask
	Any  Mask
}

// All builds a QueryDescription requiring every listed component.
func All(ids ...ComponentID) QueryDescription {
	return QueryDescription{All: MaskOf(ids...)}
}

// WithNone returns a copy of qd additionally excluding every listed
// component, merged with any components already excluded. Like the rest
// of the builder, it never mutates qd, so calling it more than once (or
// discarding the result) is always safe.
func (qd QueryDescription) WithNone(ids ...ComponentID) QueryDescription {
	qd.None = qd.None.Or(MaskOf(ids...))
	return qd
}

// WithAny returns a copy of qd additionally requiring at least one of
// the listed components, merged with any components already listed.
func (qd QueryDescription) WithAny(ids ...ComponentID) QueryDescription {
	qd.Any = qd.Any.Or(MaskOf(ids...))
	return qd
}

// isContradictory reports whether All and None share a bit, which makes
// the query unsatisfiable by any mask: matches would need to both
// contain and exclude the same component.
func (qd QueryDescription) isContradictory() bool {
	return !qd.All.And(qd.None).IsEmpty()
}

func (qd QueryDescription) matches(mask Mask) bool {
	if !mask.ContainsAll(qd.All) {
		return false
	}
	if !qd.None.IsEmpty() && mask.ContainsAny(qd.None) {
		return false
	}
	if !qd.Any.IsEmpty() && !mask.ContainsAny(qd.Any) {
		return false
	}
	return true
}

func queryCacheKey(qd QueryDescription) string {
	return fmt.Sprintf("%v|%v|%v", qd.All, qd.None, qd.Any)
}

// Query is a compiled QueryDescription (spec §4.8): a cursor over the
// registry's archetype set that only ever scans archetypes it hasn't
// seen yet, so repeated calls after new compositions are interned stay
// cheap instead of rescanning from scratch.
type Query struct {
	desc          QueryDescription
	registry      *ArchetypeRegistry
	contradictory bool

	mu      sync.Mutex
	matched []*Archetype
	scanned int
}

// Compile returns the (possibly cached) compiled Query for desc. While
// the cache holds desc's entry, every caller asking for that description
// gets the same Query instance and shares its scan cursor; the
// ristretto-backed cache may decline or evict an entry, and a miss
// compiles a fresh Query.
func (r *ArchetypeRegistry) Compile(desc QueryDescription) *Query {
	key := queryCacheKey(desc)
	if v, ok := r.queryCache.Get(key); ok {
		return v.(*Query)
	}
	q := &Query{
		desc:          desc,
		registry:      r,
		contradictory: desc.isContradictory(),
	}
	r.queryCache.Set(key, q, 1)
	r.queryCache.Wait()
	return q
}

// refresh extends the cursor over any archetypes interned since the last
// call, appending the ones that match.
func (q *Query) refresh() {
	if q.contradictory {
		return
	}
	snapshot := q.registry.Snapshot()

	q.mu.Lock()
	defer q.mu.Unlock()
	for i := q.scanned; i < len(snapshot); i++ {
		a := snapshot[i]
		if q.desc.matches(a.Mask()) {
			q.matched = append(q.matched, a)
		}
	}
	q.scanned = len(snapshot)
}

// Archetypes returns every archetype currently matching the query.
func (q *Query) Archetypes() []*Archetype {
	q.refresh()
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]*Archetype, len(q.matched))
	copy(out, q.matched)
	return out
}

// Each calls fn once for every live (archetype, slot) pair currently
// matching the query. fn must not mutate the archetype's live count
// (spawn/destroy) while iterating; callers that need to do so should
// buffer the operations and apply them after Each returns, the same
// deferred-mutation discipline the operation queue uses elsewhere.
func (q *Query) Each(fn func(archetype *Archetype, slot uint32)) {
	for _, a := range q.Archetypes() {
		n := uint32(a.LiveCount())
		for s := uint32(0); s < n; s++ {
			fn(a, s)
		}
	}
}

// Count returns the total number of live entities across every
// currently matching archetype.
func (q *Query) Count() int {
	total := 0
	for _, a := range q.Archetypes() {
		total += a.LiveCount()
	}
	return total
}
