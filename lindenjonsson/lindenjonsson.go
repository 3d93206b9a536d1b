// Package lindenjonsson is the Linden-Jonsson relaxed priority queue: a
// skip list where PopMin claims the lowest-keyed live node it can find by
// fetch-or'ing a dedicated claimed bit rather than by unlinking first, and
// where Add tracks an insert-state per node (pending vs. fully threaded)
// so PopMin can recognise a node whose insert is still in flight and pass
// over it without claiming it. A background-style restructure call compacts
// the head's forward pointers once enough claimed nodes accumulate in the
// prefix, bounding how far a future scan has to walk. Grounded on
// c_lj_pq.c.
package lindenjonsson

import (
	"math"
	"sync/atomic"

	"github.com/gaarutyunov/lockfree/internal/markref"
	"github.com/gaarutyunov/lockfree/internal/reclaim"
	"github.com/gaarutyunov/lockfree/internal/xorshift"
)

// Height is the fixed tower height every node is allocated with.
const Height = 20

type insertState int32

const (
	insertPending insertState = iota
	inserted
)

type node struct {
	key      int64
	toplevel int
	next     []*markref.Ref[node]
	state    atomic.Int32 // insertState
	claimed  atomic.Bool
}

func newNode(key int64, toplevel int) *node {
	n := &node{key: key, toplevel: toplevel, next: make([]*markref.Ref[node], toplevel+1)}
	for i := range n.next {
		n.next[i] = markref.New[node](nil, 0)
	}
	n.state.Store(int32(insertPending))
	return n
}

// Queue is a relaxed lock-free priority queue: PopMin may skip over a node
// that is concurrently being inserted below the point it has already
// scanned past, trading strict minimum-first ordering for far less
// contention among poppers.
type Queue struct {
	head, tail  *node
	boundoffset uint32
	reclaim     reclaim.Collaborator
}

// Option configures a Queue at construction time.
type Option func(*Queue)

// WithReclaimer overrides the default GC-backed reclamation collaborator.
func WithReclaimer(c reclaim.Collaborator) Option {
	return func(p *Queue) { p.reclaim = c }
}

// WithBoundOffset sets how many already-claimed nodes PopMin will step over
// at level 0 before it forces a restructure of the head's forward pointers.
// Zero means "use the default," spec.md's suggested value of 2*Height.
func WithBoundOffset(n uint32) Option {
	return func(p *Queue) { p.boundoffset = n }
}

// New returns an empty priority queue.
func New(opts ...Option) *Queue {
	p := &Queue{reclaim: reclaim.Default, boundoffset: uint32(2 * Height)}
	for _, opt := range opts {
		opt(p)
	}
	if p.boundoffset == 0 {
		p.boundoffset = uint32(2 * Height)
	}
	p.head = newNode(math.MinInt64, Height-1)
	p.head.state.Store(int32(inserted))
	p.tail = newNode(math.MaxInt64, Height-1)
	p.tail.state.Store(int32(inserted))
	for i := 0; i < Height; i++ {
		p.head.next[i].Store(p.tail, 0)
	}
	return p
}

// locatePreds fills preds/succs per level exactly like a plain skip list
// find, physically splicing marked successors, but does not itself inspect
// insert state; that is PopMin's concern.
func (p *Queue) locatePreds(key int64, preds, succs *[Height]*node) bool {
retry:
	for {
		pred := p.head
		for level := Height - 1; level >= 0; level-- {
			curr := pred.next[level].Address()
			for {
				succ, flags := curr.next[level].Unpack()
				for flags&markref.Mark != 0 {
					if !pred.next[level].CompareAndSwap(curr, 0, succ, 0) {
						continue retry
					}
					curr = pred.next[level].Address()
					succ, flags = curr.next[level].Unpack()
				}
				if curr.key < key {
					pred = curr
					curr = succ
				} else {
					break
				}
			}
			preds[level] = pred
			succs[level] = curr
		}
		return succs[0].key == key
	}
}

// Add inserts key with a random tower height derived from seed. The node is
// published level by level bottom-up and marked inserted only once its
// entire tower is threaded; a concurrent PopMin that meets a pending node
// passes over it without claiming it.
func (p *Queue) Add(seed *uint64, key int64) bool {
	var preds, succs [Height]*node
	toplevel := xorshift.Level(seed, Height)
	var n *node

	for {
		if p.locatePreds(key, &preds, &succs) {
			if n != nil {
				p.reclaim.Free(n)
			}
			return false
		}
		if n == nil {
			n = newNode(key, toplevel)
		}
		for i := 0; i <= toplevel; i++ {
			n.next[i].Store(succs[i], 0)
		}

		pred, succ := preds[0], succs[0]
		if !pred.next[0].CompareAndSwap(succ, 0, n, 0) {
			continue
		}

		for i := 1; i <= toplevel; i++ {
			for {
				pred, succ = preds[i], succs[i]
				if pred.next[i].CompareAndSwap(succ, 0, n, 0) {
					break
				}
				p.locatePreds(key, &preds, &succs)
			}
		}
		n.state.Store(int32(inserted))
		return true
	}
}

// PopMin walks level 0 from head, skipping already-claimed nodes, and
// fetch-or's the claimed bit of the first unclaimed node it can fully
// observe as inserted. A pending node never stops the walk: its key may
// yet sort lower than anything already claimed, so it bounds how far a
// future restructure is allowed to advance the head (restructure only ever
// skips runs of claimed nodes whose forward pointer is already marked, never
// a live pending one), but the scan itself keeps going past it to claim any
// unclaimed, already-inserted key further down the chain. Only reaching tail
// means the queue is observably empty. When a single call steps over more
// than boundoffset claimed nodes, it calls restructure once so the next scan
// starts closer to the real frontier.
func (p *Queue) PopMin() (int64, bool) {
	for {
		pred := p.head
		curr := pred.next[0].Address()
		offsets := uint32(0)

		for curr != p.tail {
			if curr.state.Load() == int32(insertPending) {
				pred = curr
				curr = pred.next[0].Address()
				continue
			}
			if !curr.claimed.Load() {
				if curr.claimed.CompareAndSwap(false, true) {
					key := curr.key
					p.unlink(curr)
					if offsets > p.boundoffset {
						p.restructure()
					}
					return key, true
				}
				// lost the claim race; the winner will unlink it, keep scanning.
			}
			offsets++
			pred = curr
			curr = pred.next[0].Address()
		}
		if offsets > p.boundoffset {
			p.restructure()
		}
		return 0, false
	}
}

// unlink physically splices a claimed node out top-down, same mark-then-CAS
// protocol the plain skip list uses, and retires it once level 0 succeeds.
func (p *Queue) unlink(victim *node) {
	for level := victim.toplevel; level >= 1; level-- {
		for !victim.next[level].Is(markref.Mark) {
			victim.next[level].SetBit(markref.Mark)
		}
	}
	succ, _ := victim.next[0].Unpack()
	if victim.next[0].CompareAndSwap(succ, 0, succ, markref.Mark) {
		var preds, succs [Height]*node
		p.locatePreds(victim.key, &preds, &succs)
		p.reclaim.Retire(victim)
	}
}

// restructure relinks head's forward pointers, from the top level down to
// level 1, past the leading run of claimed nodes whose forward pointer at
// that level is already marked, with a single CAS per level, so the next
// PopMin scan doesn't have to re-walk a prefix every popper has already
// drained.
func (p *Queue) restructure() {
	for level := Height - 1; level >= 1; level-- {
		h := p.head.next[level].Address()
		curr := h
		for {
			next, flags := curr.next[level].Unpack()
			if flags&markref.Mark == 0 {
				break
			}
			curr = next
		}
		if curr == h {
			continue
		}
		p.head.next[level].CompareAndSwap(h, 0, curr, 0)
	}
}
