// Package bst is a lock-free external binary search tree: live keys live
// only in leaves, internal nodes carry a duplicated routing key and exist
// solely to pick a descent direction. Updates are lock-free with cooperative
// helping; contains is wait-free. Grounded on the seek-record protocol in
// c_bt_lf.c, translated to Go with markref.Ref standing in for the source's
// low-bit flag/tag pointer tagging.
package bst

import (
	"math"

	"github.com/gaarutyunov/lockfree/internal/markref"
	"github.com/gaarutyunov/lockfree/internal/reclaim"
)

type nodeState int

const (
	stateLeaf nodeState = iota
	stateRouting
	stateSpecial
)

type node struct {
	key   int64
	state nodeState
	left  markref.Ref[node]
	right markref.Ref[node]
}

// Tree is a lock-free external BST of int64 keys. The zero value is not
// usable; construct with New.
type Tree struct {
	r, s    *node
	reclaim reclaim.Collaborator
}

// Option configures a Tree at construction time.
type Option func(*Tree)

// WithReclaimer overrides the default GC-backed reclamation collaborator.
func WithReclaimer(c reclaim.Collaborator) Option {
	return func(t *Tree) { t.reclaim = c }
}

// New returns an empty tree, set up with the two sentinel routing nodes
// (R, S) and the pair of dummy leaves the seek protocol needs to always see
// a parent/leaf pair, exactly as c_bt_lf_create sets up.
func New(opts ...Option) *Tree {
	t := &Tree{reclaim: reclaim.Default}
	for _, opt := range opts {
		opt(t)
	}
	t.r = &node{key: math.MaxInt64, state: stateSpecial}
	t.s = &node{key: math.MaxInt64 - 1, state: stateSpecial}
	leaf2 := &node{key: math.MaxInt64 - 2, state: stateSpecial}
	leaf1 := &node{key: math.MaxInt64 - 1, state: stateSpecial}
	t.r.left.Store(t.s, 0)
	t.s.left.Store(leaf2, 0)
	t.s.right.Store(leaf1, 0)
	return t
}

type seekRecord struct {
	ancestor, successor, parent, leaf *node
}

// edgeToward returns the outgoing edge of n that a descent for key follows.
func edgeToward(n *node, key int64) *markref.Ref[node] {
	if key < n.key {
		return &n.left
	}
	return &n.right
}

// seek descends from the fixed sentinel prefix, snapshotting the deepest
// ancestor/successor pair whose edge was observed untagged.
func (t *Tree) seek(key int64) seekRecord {
	sr := seekRecord{ancestor: t.r, successor: t.s, parent: t.s}
	sr.leaf = t.s.left.Address()

	parentEdge := &t.s.left
	leafEdge := edgeToward(sr.leaf, key)
	current := leafEdge.Address()

	for current != nil {
		if !parentEdge.Is(markref.Tag) {
			sr.ancestor = sr.parent
			sr.successor = sr.leaf
		}
		sr.parent = sr.leaf
		sr.leaf = current
		parentEdge = leafEdge
		leafEdge = edgeToward(current, key)
		current = leafEdge.Address()
	}
	return sr
}

// Contains reports whether key is present. Wait-free: a single descent with
// no CAS.
func (t *Tree) Contains(key int64) bool {
	sr := t.seek(key)
	return sr.leaf.key == key
}

// nodeSetup builds the pair of nodes Add installs atomically: a new leaf for
// key, and a routing node whose key is max(key, siblingKey) and whose
// children are the new leaf and the existing sibling, ordered by key.
func nodeSetup(key, siblingKey int64, sibling *node) *node {
	leaf := &node{key: key, state: stateLeaf}
	routing := &node{state: stateRouting}
	if key < siblingKey {
		routing.key = siblingKey
		routing.left.Store(leaf, 0)
		routing.right.Store(sibling, 0)
	} else {
		routing.key = key
		routing.left.Store(sibling, 0)
		routing.right.Store(leaf, 0)
	}
	return routing
}

// Add inserts key, returning true iff it was not already present.
func (t *Tree) Add(key int64) bool {
	for {
		sr := t.seek(key)
		leafKey := sr.leaf.key
		if leafKey == key {
			return false
		}

		childEdge := edgeToward(sr.parent, key)
		routing := nodeSetup(key, leafKey, sr.leaf)

		if childEdge.CompareAndSwap(sr.leaf, 0, routing, 0) {
			return true
		}

		// routing and its fresh leaf were never published; the GC reclaims
		// them once this local goes out of scope, matching the source's
		// forkscan_free of an unpublished allocation.
		addr, flags := childEdge.Unpack()
		if addr == sr.leaf && flags&(markref.Flag|markref.Tag) != 0 {
			t.cleanup(sr, key, true)
		}
	}
}

// cleanup attempts to splice the doomed parent out by linking ancestor
// directly to leaf's sibling. Tags the sibling edge first so a concurrent
// insert under the dying parent is rejected, then CASes the ancestor's edge.
// On success, retires the unlinked parent and leaf unless retire is false —
// the leaky path exists only for removeLeaky's benchmark-style test.
func (t *Tree) cleanup(sr seekRecord, key int64, retire bool) bool {
	successorEdge := edgeToward(sr.ancestor, key)

	var childEdge, siblingEdge *markref.Ref[node]
	if key < sr.parent.key {
		childEdge, siblingEdge = &sr.parent.left, &sr.parent.right
	} else {
		childEdge, siblingEdge = &sr.parent.right, &sr.parent.left
	}

	if !childEdge.Is(markref.Flag) {
		siblingEdge = childEdge
	}

	siblingEdge.SetBit(markref.Tag)
	siblingAddr, siblingFlags := siblingEdge.Unpack()

	ok := successorEdge.CompareAndSwap(sr.successor, 0, siblingAddr, siblingFlags&markref.Flag)
	if ok && retire {
		t.reclaim.Retire(sr.leaf)
		t.reclaim.Retire(sr.parent)
	}
	return ok
}

type removeMode int

const (
	modeInjection removeMode = iota
	modeCleanup
)

// Remove deletes key, returning true iff it was present and we observed its
// removal (by us, or by a helper completing a removal we injected).
func (t *Tree) Remove(key int64) bool {
	return t.remove(key, true)
}

// removeLeaky is the leaky production-predecessor variant spec.md §9 Open
// Question (c) describes: identical protocol, but the cleanup CAS's winner
// never retires parent/leaf. Kept as an unexported test helper only — the
// package's production contract is Remove, which always retires.
func (t *Tree) removeLeaky(key int64) bool {
	return t.remove(key, false)
}

func (t *Tree) remove(key int64, retire bool) bool {
	mode := modeInjection
	var leaf *node

	for {
		sr := t.seek(key)
		childEdge := edgeToward(sr.parent, key)

		switch mode {
		case modeInjection:
			leaf = sr.leaf
			if leaf.key != key {
				return false
			}
			if childEdge.CompareAndSwap(leaf, 0, leaf, markref.Flag) {
				mode = modeCleanup
				if t.cleanup(sr, key, retire) {
					return true
				}
				continue
			}
			addr, flags := childEdge.Unpack()
			if addr == leaf && flags&(markref.Flag|markref.Tag) != 0 {
				t.cleanup(sr, key, retire)
			}
		case modeCleanup:
			if sr.leaf != leaf {
				return true
			}
			if t.cleanup(sr, key, retire) {
				return true
			}
		}
	}
}
