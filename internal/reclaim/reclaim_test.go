package reclaim

import "testing"

func TestGCIsNoOp(t *testing.T) {
	var c Collaborator = GC{}
	obj := &struct{ x int }{x: 1}
	c.Free(obj)
	c.Retire(obj)
	// Nothing to assert beyond "did not panic": GC defers the real work to
	// the garbage collector, which needs no bookkeeping here.
}

func TestEpochRetireUnderPin(t *testing.T) {
	e := NewEpoch()
	g := e.Pin()
	e.Retire(&struct{ x int }{x: 1})
	g.Unpin()

	g2 := e.Pin()
	e.Retire(&struct{ x int }{x: 2})
	g2.Unpin()
}

func TestEpochPendingDrainsAfterUnpin(t *testing.T) {
	e := NewEpoch()
	g := e.Pin()
	obj := &struct{ x int }{x: 7}
	e.Retire(obj)

	e.mu.Lock()
	_, stillPending := e.pending[g.epoch]
	e.mu.Unlock()
	if !stillPending {
		t.Fatal("object retired while its own epoch's guard is pinned should still be pending")
	}

	g.Unpin()
	e.Retire(&struct{ x int }{x: 8})

	e.mu.Lock()
	_, stillThere := e.pending[g.epoch]
	e.mu.Unlock()
	if stillThere {
		t.Fatal("pending retirement should have been dropped once its guard unpinned")
	}
}
