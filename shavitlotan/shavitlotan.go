// Package shavitlotan is the Shavit-Lotan skip-list priority queue: an
// ordinary fixed-height lock-free skip list (see this module's skiplist
// package for the shared shape) augmented with a PopMin that scans from the
// head at level 0 and CAS-claims the first unmarked node it finds, racing
// other poppers on the same prefix of the list. Grounded on c_sl_pq.c, which
// itself layers pop_min over the same find/add/remove skeleton as
// c_fhsl_lf.c.
package shavitlotan

import (
	"math"

	"github.com/gaarutyunov/lockfree/internal/markref"
	"github.com/gaarutyunov/lockfree/internal/reclaim"
	"github.com/gaarutyunov/lockfree/internal/xorshift"
)

// Height is the fixed tower height every node is allocated with.
const Height = 20

type node struct {
	key      int64
	toplevel int
	next     []*markref.Ref[node]
}

func newNode(key int64, toplevel int) *node {
	n := &node{key: key, toplevel: toplevel, next: make([]*markref.Ref[node], toplevel+1)}
	for i := range n.next {
		n.next[i] = markref.New[node](nil, 0)
	}
	return n
}

// Queue is a lock-free priority queue ordered on int64 key.
type Queue struct {
	head, tail *node
	reclaim    reclaim.Collaborator
}

// Option configures a Queue at construction time.
type Option func(*Queue)

// WithReclaimer overrides the default GC-backed reclamation collaborator.
func WithReclaimer(c reclaim.Collaborator) Option {
	return func(p *Queue) { p.reclaim = c }
}

// New returns an empty priority queue.
func New(opts ...Option) *Queue {
	p := &Queue{reclaim: reclaim.Default}
	for _, opt := range opts {
		opt(p)
	}
	p.head = newNode(math.MinInt64, Height-1)
	p.tail = newNode(math.MaxInt64, Height-1)
	for i := 0; i < Height; i++ {
		p.head.next[i].Store(p.tail, 0)
	}
	return p
}

func (p *Queue) find(key int64, preds, succs *[Height]*node) bool {
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

// Add inserts key with a random tower height derived from seed, returning
// true iff it was not already present. seed is mutated in place.
func (p *Queue) Add(seed *uint64, key int64) bool {
	var preds, succs [Height]*node
	toplevel := xorshift.Level(seed, Height)
	var n *node

	for {
		if p.find(key, &preds, &succs) {
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
				p.find(key, &preds, &succs)
			}
		}
		return true
	}
}

// Remove deletes key outright, same semantics as the set variant's Remove.
func (p *Queue) Remove(key int64) bool {
	var preds, succs [Height]*node
	if !p.find(key, &preds, &succs) {
		return false
	}
	victim := succs[0]
	return p.markAndSplice(victim, &preds, &succs)
}

func (p *Queue) markAndSplice(victim *node, preds, succs *[Height]*node) bool {
	for level := victim.toplevel; level >= 1; level-- {
		for !victim.next[level].Is(markref.Mark) {
			victim.next[level].SetBit(markref.Mark)
		}
	}

	succ, flags := victim.next[0].Unpack()
	for {
		iMarkedIt := victim.next[0].CompareAndSwap(succ, 0, succ, markref.Mark)
		succ, flags = victim.next[0].Unpack()
		if iMarkedIt {
			p.find(victim.key, preds, succs)
			p.reclaim.Retire(victim)
			return true
		}
		if flags&markref.Mark != 0 {
			return false
		}
	}
}

// PopMin scans the bottom level from head for the first unmarked node and
// races to claim it by marking it, same protocol Remove uses on a node it
// already knows exists, trying the next candidate on a lost race. Returns
// false when the queue observably has no unmarked nodes left.
func (p *Queue) PopMin() (int64, bool) {
	var preds, succs [Height]*node
	for {
		pred := p.head
		curr := pred.next[0].Address()
		for curr != p.tail {
			_, flags := curr.next[0].Unpack()
			if flags&markref.Mark == 0 {
				key := curr.key
				if !p.find(key, &preds, &succs) {
					// someone already fully unlinked it; move on from head.
					curr = p.head.next[0].Address()
					continue
				}
				victim := succs[0]
				if victim.key != key {
					curr = p.head.next[0].Address()
					continue
				}
				if p.markAndSplice(victim, &preds, &succs) {
					return key, true
				}
				curr = p.head.next[0].Address()
				continue
			}
			curr = curr.next[0].Address()
		}
		return 0, false
	}
}
