package loom

import "sync"

// worldOperation is a deferred mutation against a World, queued while the
// world is locked (spec's migration/mutation-during-iteration concern,
// generalized from the teacher's EntityOperation/entityOperationsQueue).
type worldOperation interface {
	apply(w *World) error
}

// worldOperationQueue buffers operations issued while a World is locked
// and drains them, in order, the moment the lock depth returns to zero.
type worldOperationQueue struct {
	mu  sync.Mutex
	ops []worldOperation
}

func (q *worldOperationQueue) enqueue(op worldOperation) {
	q.mu.Lock()
	q.ops = append(q.ops, op)
	q.mu.Unlock()
}

// drain applies every queued operation against w and clears the queue.
// It stops at the first error, leaving any remaining operations
// discarded rather than retried — the same "best effort, not
// transactional" contract the teacher's ProcessAll has.
func (q *worldOperationQueue) drain(w *World) error {
	q.mu.Lock()
	ops := q.ops
	q.ops = nil
	q.mu.Unlock()

	for _, op := range ops {
		if err := op.apply(w); err != nil {
			return err
		}
	}
	return nil
}

type spawnOp struct {
	ids []ComponentID
}

func (op spawnOp) apply(w *World) error {
	_, err := w.spawnNow(op.ids...)
	return err
}

type destroyOp struct {
	handle Handle
}

func (op destroyOp) apply(w *World) error {
	return w.destroyNow(op.handle)
}

type addComponentOp struct {
	handle    Handle
	component Component
}

func (op addComponentOp) apply(w *World) error {
	return w.addComponentNow(op.handle, op.component)
}

type removeComponentOp struct {
	handle    Handle
	component Component
}

func (op removeComponentOp) apply(w *World) error {
	return w.removeComponentNow(op.handle, op.component)
}
