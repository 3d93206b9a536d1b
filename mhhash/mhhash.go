// Package mhhash is a fixed-size bucketed hash set: each bucket is a
// Michael-Harris sorted lock-free linked list keyed on the same int64, so a
// find within a bucket can stop as soon as it passes the target instead of
// scanning the whole chain. No resizing: the bucket count is fixed at
// construction (this module's spec explicitly leaves growth out of scope).
// Grounded on c_mm_ht.c.
package mhhash

import (
	"github.com/gaarutyunov/lockfree/internal/markref"
	"github.com/gaarutyunov/lockfree/internal/reclaim"
)

type node struct {
	key  int64
	next markref.Ref[node]
}

// Set is a lock-free hash set of int64 keys over a fixed bucket table.
type Set struct {
	buckets []markref.Ref[node]
	reclaim reclaim.Collaborator
}

// Option configures a Set at construction time.
type Option func(*Set)

// WithReclaimer overrides the default GC-backed reclamation collaborator.
func WithReclaimer(c reclaim.Collaborator) Option {
	return func(s *Set) { s.reclaim = c }
}

// New returns an empty set with size buckets. size must be at least 1.
func New(size uint64, opts ...Option) *Set {
	s := &Set{buckets: make([]markref.Ref[node], size), reclaim: reclaim.Default}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func hash(key int64) uint64 { return uint64(key) }

func (s *Set) bucketFor(key int64) *markref.Ref[node] {
	return &s.buckets[hash(key)%uint64(len(s.buckets))]
}

// view is the three-pointer window find() hands back: previous is the edge
// that led to current (either a bucket head slot or a node's next field),
// current is the first node at or past key, next is current's raw (unmarked)
// successor pointer as observed at the moment of the check.
type view struct {
	previous      *markref.Ref[node]
	current, next *node
}

// find walks the bucket's chain starting at head, physically unlinking any
// node it finds marked for deletion along the way, stopping at the first
// node whose key is >= target (the list is kept sorted by key). Returns
// whether that node's key is an exact match.
func find(head *markref.Ref[node], key int64) (view, bool) {
tryAgain:
	for {
		v := view{previous: head}
		v.current = head.Address()
		for {
			if v.current == nil {
				return v, false
			}
			next, flags := v.current.next.Unpack()
			v.next = next

			if v.previous.Address() != v.current {
				continue tryAgain
			}

			if flags&markref.Mark == 0 {
				if v.current.key >= key {
					return v, v.current.key == key
				}
				v.previous = &v.current.next
			} else {
				if !v.previous.CompareAndSwap(v.current, 0, v.next, 0) {
					continue tryAgain
				}
			}
			v.current = v.next
		}
	}
}

// Contains reports whether key is present.
func (s *Set) Contains(key int64) bool {
	_, found := find(s.bucketFor(key), key)
	return found
}

// Add inserts key into its bucket's sorted chain, returning true iff it was
// not already present.
func (s *Set) Add(key int64) bool {
	head := s.bucketFor(key)
	var n *node

	for {
		v, found := find(head, key)
		if found {
			if n != nil {
				s.reclaim.Free(n)
			}
			return false
		}
		if n == nil {
			n = &node{key: key}
		}
		n.next.Store(v.current, 0)
		if v.previous.CompareAndSwap(v.current, 0, n, 0) {
			return true
		}
	}
}

// Remove deletes key, marking it then splicing it out of its bucket's
// chain, returning true iff key was present.
func (s *Set) Remove(key int64) bool {
	head := s.bucketFor(key)
	for {
		v, found := find(head, key)
		if !found {
			return false
		}
		if !v.current.next.CompareAndSwap(v.next, 0, v.next, markref.Mark) {
			continue
		}
		if !v.previous.CompareAndSwap(v.current, 0, v.next, 0) {
			find(head, key)
		}
		s.reclaim.Retire(v.current)
		return true
	}
}
