// Package spraylist is the spray-list relaxed priority queue: an ordinary
// skip list carries the live elements, and PopMin does not scan from head at
// all. Instead it "sprays" — a randomized descent starting from a chain of
// padding nodes in front of head (each padding node points at the one built
// before it, the first at head itself), taking random jumps at each level on
// the way down — landing close to, but not exactly at, the true minimum. The
// node it lands on is claimed by flipping its state from active to deleted
// before the usual skip-list remove actually unlinks it; nodes have three
// states (padding, active, deleted) and no separate removing state.
// Grounded on c_spray_pq.c.
package spraylist

import (
	"math"
	"sync/atomic"

	"github.com/gaarutyunov/lockfree/internal/markref"
	"github.com/gaarutyunov/lockfree/internal/reclaim"
	"github.com/gaarutyunov/lockfree/internal/xorshift"
)

// Height is the fixed tower height every node is allocated with.
const Height = 20

type nodeState int32

const (
	statePadding nodeState = iota
	stateActive
	stateDeleted
)

type node struct {
	key      int64
	toplevel int
	state    atomic.Int32 // nodeState, padding/head/tail nodes never transition
	next     []*markref.Ref[node]
}

func newNode(key int64, toplevel int, state nodeState) *node {
	n := &node{key: key, toplevel: toplevel, next: make([]*markref.Ref[node], toplevel+1)}
	for i := range n.next {
		n.next[i] = markref.New[node](nil, 0)
	}
	n.state.Store(int32(state))
	return n
}

// config holds the spray walk's tuning, derived once from the expected
// thread count per the paper's recommended formulas.
type config struct {
	startHeight   int
	maxJump       int64
	descendAmount int
	paddingAmount int64
}

func configForThreads(threads int64) config {
	logArg := threads
	if threads == 1 {
		logArg = 2
	}
	logThreads := math.Log2(float64(threads))
	return config{
		startHeight:   int(logThreads) + 1,
		maxJump:       int64(logThreads) + 1,
		descendAmount: 1,
		paddingAmount: threads * int64(math.Log2(float64(logArg))) / 2,
	}
}

// Queue is a relaxed lock-free priority queue: PopMin returns some element near
// the minimum, not necessarily the exact minimum, in exchange for far less
// contention among concurrent poppers than a strict pop would need.
type Queue struct {
	cfg         config
	paddingHead *node
	head, tail  *node
	reclaim     reclaim.Collaborator
}

// Option configures a Queue at construction time.
type Option func(*Queue)

// WithReclaimer overrides the default GC-backed reclamation collaborator.
func WithReclaimer(c reclaim.Collaborator) Option {
	return func(p *Queue) { p.reclaim = c }
}

// New returns an empty priority queue tuned for the given expected
// concurrent thread count, per spec.md's spray configuration formula.
func New(threads int64, opts ...Option) *Queue {
	p := &Queue{cfg: configForThreads(threads), reclaim: reclaim.Default}
	for _, opt := range opts {
		opt(p)
	}
	p.head = newNode(math.MinInt64, Height-1, statePadding)
	p.tail = newNode(math.MaxInt64, Height-1, statePadding)
	for i := 0; i < Height; i++ {
		p.head.next[i].Store(p.tail, 0)
	}

	p.paddingHead = p.head
	for i := int64(1); i < p.cfg.paddingAmount; i++ {
		padNode := newNode(0, Height-1, statePadding)
		for j := 0; j < Height; j++ {
			padNode.next[j].Store(p.paddingHead, 0)
		}
		p.paddingHead = padNode
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
// true iff it was not already present.
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
			n = newNode(key, toplevel, stateActive)
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

// Remove deletes key outright via the plain skip-list splice protocol,
// independent of the padding/active/deleted lifecycle PopMin uses.
func (p *Queue) Remove(key int64) bool {
	for {
		var preds, succs [Height]*node
		if !p.find(key, &preds, &succs) {
			return false
		}
		victim := succs[0]

		for level := victim.toplevel; level >= 1; level-- {
			for !victim.next[level].Is(markref.Mark) {
				victim.next[level].SetBit(markref.Mark)
			}
		}

		succ, _ := victim.next[0].Unpack()
		for {
			iMarkedIt := victim.next[0].CompareAndSwap(succ, 0, succ, markref.Mark)
			var flags uint8
			succ, flags = victim.next[0].Unpack()
			if iMarkedIt {
				p.find(key, &preds, &succs)
				p.reclaim.Retire(victim)
				return true
			} else if flags&markref.Mark != 0 {
				return false
			}
		}
	}
}

// spray performs the randomized descent that picks PopMin's starting
// candidate: starting from the deepest padding node, at each level it takes
// a random number of hops (0..maxJump) forward before stepping down by
// descendAmount levels, landing near, but not exactly at, the frontier.
func (p *Queue) spray(seed *uint64) *node {
	curr := p.paddingHead
	for h := p.cfg.startHeight; h >= 0; h -= p.cfg.descendAmount {
		jump := int64(xorshift.Next(seed) % uint64(p.cfg.maxJump+1))
		for ; jump > 0; jump-- {
			next := curr.next[h].Address()
			if next == nil {
				break
			}
			curr = next
		}
	}
	return curr
}

// PopMin sprays to find a candidate near the minimum, then walks forward at
// level 0 from there until it finds a node it can flip from active to
// deleted, at which point it hands off to Remove for the actual unlink.
// Returns false only once the walk reaches the tail with nothing claimable.
func (p *Queue) PopMin(seed *uint64) (int64, bool) {
	node := p.spray(seed)
	for node != p.tail {
		state := nodeState(node.state.Load())
		if state == statePadding || state == stateDeleted {
			node = node.next[0].Address()
			continue
		}
		if node.state.CompareAndSwap(int32(stateActive), int32(stateDeleted)) {
			key := node.key
			p.Remove(key)
			return key, true
		}
		node = node.next[0].Address()
	}
	return 0, false
}
