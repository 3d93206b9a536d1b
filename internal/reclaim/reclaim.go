// Package reclaim is the deferred-reclamation collaborator every structure
// in this module treats as an external service: unlink a node from a
// structure, hand it to the collaborator, and trust it to defer actual
// disposal until no concurrent observer can still dereference it. The
// algorithms never implement reclamation themselves.
package reclaim

// Collaborator is the contract spec.md §6 describes: Free is for an
// allocation that was never published to another goroutine (a failed CAS on
// a freshly built node) and may be disposed of immediately; Retire is for a
// node that was live and has just been unlinked, and must not be reused or
// inspected again until every goroutine that might still hold a stale
// reference to it has quiesced. Implementations must tolerate at most one
// Retire call per node — callers only retire a node once, on the thread
// whose unlink CAS won.
type Collaborator interface {
	Retire(obj any)
	Free(obj any)
}

// GC defers to the Go garbage collector: Free and Retire both simply drop
// the caller's reference. This is correct because the GC already refuses to
// collect a node for as long as any goroutine holds a reachable pointer to
// it, which is precisely the guarantee spec.md §5 asks an external
// collaborator to provide — no epoch or hazard-pointer bookkeeping is
// needed on top of it.
type GC struct{}

func (GC) Retire(obj any) {}
func (GC) Free(obj any)   {}

// Default is the collaborator every structure's parameterless constructor
// uses.
var Default Collaborator = GC{}
