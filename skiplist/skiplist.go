// Package skiplist is a fixed-height lock-free skip list set, Herlihy-Shavit
// style: every node is allocated with a fixed-size array of per-level
// forward pointers, and the mark bit that signals logical deletion of a node
// rides on that node's own level-0..toplevel pointers rather than on a
// separate flag field. The priority queue packages shavitlotan,
// lindenjonsson, and spraylist each carry their own copy of this skip-list
// shape rather than importing this package. Grounded on c_fhsl_lf.c.
package skiplist

import (
	"math"

	"github.com/gaarutyunov/lockfree/internal/markref"
	"github.com/gaarutyunov/lockfree/internal/reclaim"
	"github.com/gaarutyunov/lockfree/internal/xorshift"
)

// Height is the fixed number of levels every node's forward-pointer array
// is sized against, N in spec.md §4.2.
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

// Set is a lock-free ordered set of int64 keys.
type Set struct {
	head, tail *node
	reclaim    reclaim.Collaborator
}

// Option configures a Set at construction time.
type Option func(*Set)

// WithReclaimer overrides the default GC-backed reclamation collaborator.
func WithReclaimer(c reclaim.Collaborator) Option {
	return func(s *Set) { s.reclaim = c }
}

// New returns an empty set with head/tail sentinels at ±∞.
func New(opts ...Option) *Set {
	s := &Set{reclaim: reclaim.Default}
	for _, opt := range opts {
		opt(s)
	}
	s.head = newNode(math.MinInt64, Height-1)
	s.tail = newNode(math.MaxInt64, Height-1)
	for i := 0; i < Height; i++ {
		s.head.next[i].Store(s.tail, 0)
	}
	return s
}

// find locates, per level, the last unmarked node with key < target and its
// successor, physically splicing out any logically-deleted node it crosses.
// Returns whether succs[0] is exactly target.
func (s *Set) find(key int64, preds, succs *[Height]*node) bool {
retry:
	for {
		pred := s.head
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

// Contains reports whether key is present. Wait-free: a single read-only
// traversal that steps over marked nodes without splicing them out.
func (s *Set) Contains(key int64) bool {
	pred := s.head
	for level := Height - 1; level >= 0; level-- {
		curr := pred.next[level].Address()
		for curr.key <= key {
			pred = curr
			curr = pred.next[level].Address()
		}
		if pred.key == key {
			return !pred.next[0].Is(markref.Mark)
		}
	}
	return false
}

// Add inserts key with a random tower height derived from seed, returning
// true iff it was not already present. seed is mutated in place.
func (s *Set) Add(seed *uint64, key int64) bool {
	var preds, succs [Height]*node
	toplevel := xorshift.Level(seed, Height)
	var n *node

	for {
		if s.find(key, &preds, &succs) {
			if n != nil {
				s.reclaim.Free(n)
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
				s.find(key, &preds, &succs)
			}
		}
		return true
	}
}

// Remove deletes key, marking it top-down then splicing at level 0, and
// returns true iff key was present and this call (or a racing helper acting
// on our mark) observed the removal.
func (s *Set) Remove(key int64) bool {
	var preds, succs [Height]*node
	if !s.find(key, &preds, &succs) {
		return false
	}
	victim := succs[0]

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
			s.find(key, &preds, &succs)
			s.reclaim.Retire(victim)
			return true
		}
		if flags&markref.Mark != 0 {
			return false
		}
	}
}
