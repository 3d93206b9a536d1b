// Package splitorder is a split-ordered hash set: keys are bit-reversed and
// tagged with a low "real" bit, so that every bucket's dummy anchor node
// (key with the low bit clear) sorts to exactly the position a recursive,
// lazily-initialised chain of parent buckets would put it, letting every
// bucket share one implicit sorted list without any data ever moving when a
// bucket is first touched. The bucket table itself is fixed-size: resizing
// is out of scope, so a rising load factor is only ever observed, never
// acted on. Grounded on c_so_ht.c.
package splitorder

import (
	"math/bits"
	"sync/atomic"

	"github.com/gaarutyunov/lockfree/internal/markref"
	"github.com/gaarutyunov/lockfree/internal/reclaim"
)

type node struct {
	key  uint64
	next markref.Ref[node]
}

// Set is a lock-free hash set of int64 keys over a fixed bucket table, with
// a running count exposed so callers can watch the load factor.
type Set struct {
	table   []markref.Ref[node]
	maxLoad uint64
	count   atomic.Uint64
	reclaim reclaim.Collaborator
}

// Option configures a Set at construction time.
type Option func(*Set)

// WithReclaimer overrides the default GC-backed reclamation collaborator.
func WithReclaimer(c reclaim.Collaborator) Option {
	return func(s *Set) { s.reclaim = c }
}

// New returns an empty set with size buckets and bucket 0 pre-seeded with
// its dummy anchor, and maxLoad as the per-bucket average chain length past
// which Count's caller should consider the table undersized.
func New(size uint64, maxLoad uint64, opts ...Option) *Set {
	s := &Set{table: make([]markref.Ref[node], size), maxLoad: maxLoad, reclaim: reclaim.Default}
	for _, opt := range opts {
		opt(s)
	}
	s.table[0].Store(&node{key: dummyKey(0)}, 0)
	return s
}

// Count reports the current number of real (non-dummy) elements.
func (s *Set) Count() uint64 { return s.count.Load() }

// LoadFactor reports count divided by bucket count, for callers that want
// to decide for themselves whether to build a bigger set and migrate.
func (s *Set) LoadFactor() float64 {
	return float64(s.count.Load()) / float64(len(s.table))
}

func reverseBits(key uint64) uint64 { return bits.Reverse64(key) }

func regularKey(key uint64) uint64 { return reverseBits(key) | 1 }

func dummyKey(key uint64) uint64 { return reverseBits(key) }

func isDummy(key uint64) bool { return key&1 == 0 }

// getParent returns the index of the bucket whose dummy node must already
// be linked in before bucket's own dummy can be inserted: the bit-reversed
// bucket number with its lowest set bit cleared, reversed back.
func getParent(bucket uint64) uint64 {
	copyBucket := reverseBits(bucket)
	for mask := uint64(1); mask <= copyBucket; mask <<= 1 {
		if copyBucket&mask == mask {
			copyBucket &^= mask
			break
		}
	}
	return reverseBits(copyBucket)
}

type view struct {
	previous      *markref.Ref[node]
	current, next *node
}

// find walks a bucket's sorted chain (dummy and regular keys interleaved by
// split-order), splicing out marked nodes, stopping at the first node whose
// key is >= target.
func find(head *markref.Ref[node], key uint64) (view, bool) {
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
			curKey := v.current.key

			if v.previous.Address() != v.current {
				continue tryAgain
			}

			if flags&markref.Mark == 0 {
				if curKey >= key {
					return v, curKey == key
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

// listAdd inserts n (keyed by n.key) into the sorted chain anchored at head,
// returning false (and the pre-existing view) without publishing n if an
// equal key is already present.
func listAdd(head *markref.Ref[node], n *node) (view, bool) {
	for {
		v, found := find(head, n.key)
		if found {
			return v, false
		}
		n.next.Store(v.current, 0)
		if v.previous.CompareAndSwap(v.current, 0, n, 0) {
			return v, true
		}
	}
}

// initializeBucket lazily threads bucket's dummy node into its parent's
// chain, recursively initialising the parent first if needed, per the
// split-order invariant that every bucket's anchor must already be
// reachable before buckets that descend from it can be.
func (s *Set) initializeBucket(bucket uint64) {
	parent := getParent(bucket)
	if bucket != 0 && s.table[parent].Address() == nil {
		s.initializeBucket(parent)
	}

	dummy := &node{key: dummyKey(bucket)}
	if v, added := listAdd(&s.table[parent], dummy); !added {
		dummy = v.current
	}
	s.table[bucket].Store(dummy, 0)
}

func (s *Set) bucketFor(key int64) uint64 {
	return uint64(key) % uint64(len(s.table))
}

func (s *Set) ensureBucket(bucket uint64) {
	if s.table[bucket].Address() == nil {
		s.initializeBucket(bucket)
	}
}

// Contains reports whether key is present.
func (s *Set) Contains(key int64) bool {
	bucket := s.bucketFor(key)
	s.ensureBucket(bucket)
	_, found := find(&s.table[bucket], regularKey(uint64(key)))
	return found
}

// Add inserts key, returning true iff it was not already present.
func (s *Set) Add(key int64) bool {
	bucket := s.bucketFor(key)
	s.ensureBucket(bucket)

	n := &node{key: regularKey(uint64(key))}
	if _, added := listAdd(&s.table[bucket], n); !added {
		s.reclaim.Free(n)
		return false
	}
	s.count.Add(1)
	return true
}

// Remove deletes key, returning true iff it was present.
func (s *Set) Remove(key int64) bool {
	bucket := s.bucketFor(key)
	s.ensureBucket(bucket)
	target := regularKey(uint64(key))
	head := &s.table[bucket]

	for {
		v, found := find(head, target)
		if !found {
			return false
		}
		if !v.current.next.CompareAndSwap(v.next, 0, v.next, markref.Mark) {
			continue
		}
		if !v.previous.CompareAndSwap(v.current, 0, v.next, 0) {
			find(head, target)
		}
		s.reclaim.Retire(v.current)
		s.count.Add(^uint64(0)) // count--
		return true
	}
}
