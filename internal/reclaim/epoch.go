package reclaim

import "sync"

// Epoch is a minimal epoch-based reclaimer: every in-flight operation pins
// itself to the current global epoch via Pin, retired objects are filed
// under the epoch they were retired in, and a retirement list is only
// dropped once no pinned guard can still be observing that epoch. It trades
// the GC's automatic-but-unbounded deferral for an explicit, boundable one,
// grounded on the EpochManager/Retire split sketched around cowbtree in the
// retrieval pack.
type Epoch struct {
	mu      sync.Mutex
	current uint64
	active  map[*Guard]uint64
	pending map[uint64][]any
}

// NewEpoch returns a ready-to-use epoch-based collaborator.
func NewEpoch() *Epoch {
	return &Epoch{
		active:  make(map[*Guard]uint64),
		pending: make(map[uint64][]any),
	}
}

// Guard pins the calling goroutine to the epoch observed at Pin time. Call
// Unpin when the operation that obtained it has finished touching any node
// reachable from the structure.
type Guard struct {
	owner *Epoch
	epoch uint64
}

// Pin registers the caller as an observer of the current epoch.
func (e *Epoch) Pin() *Guard {
	e.mu.Lock()
	defer e.mu.Unlock()
	g := &Guard{owner: e, epoch: e.current}
	e.active[g] = g.epoch
	return g
}

// Unpin releases the guard, potentially unblocking reclamation of objects
// retired at or after the pinned epoch.
func (g *Guard) Unpin() {
	e := g.owner
	e.mu.Lock()
	delete(e.active, g)
	e.mu.Unlock()
}

// Retire defers disposal of obj until every guard active at retire time has
// unpinned.
func (e *Epoch) Retire(obj any) {
	e.mu.Lock()
	e.pending[e.current] = append(e.pending[e.current], obj)
	e.advanceLocked()
	e.mu.Unlock()
}

// Free disposes of obj immediately; callers only use it for allocations that
// were never published, so no observer can hold a reference.
func (e *Epoch) Free(obj any) {}

// advanceLocked drops every pending retirement list whose epoch predates the
// oldest active guard (or the current epoch when no guard is pinned), then
// bumps the global epoch unconditionally.
func (e *Epoch) advanceLocked() {
	oldest := e.current
	for _, ep := range e.active {
		if ep < oldest {
			oldest = ep
		}
	}
	for ep := range e.pending {
		if ep < oldest {
			delete(e.pending, ep)
		}
	}
	e.current++
}
