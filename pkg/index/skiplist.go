// Package index implements a concurrent ordered key-value index backed by a
// probabilistic skip list.
//
// Every traversal descends the towers top-down using hand-over-hand lock
// coupling: the lock of the next node on the path is taken before the current
// one is released, so a walk never loses its place under concurrent splices.
// Searches hold at most two node locks at any moment; mutating operations
// additionally retain the per-level predecessor frontier whose forward
// pointers they are about to rewrite. Locks are only ever acquired in key
// order along the list and top-down across levels, which totally orders them
// and rules out deadlock.
//
// Properties
// - Expected time complexity for Search/Insert/Delete: O(log n)
// - Keys are unique; Insert never updates in place (first writer wins)
// - Writers on disjoint key ranges proceed in parallel
package index

import (
	"errors"
	"fmt"
	"math/rand"
	"sync/atomic"
	"time"

	"github.com/nobletooth/loquat/pkg/utils"
)

var (
	// ErrKeyNotFound is returned by Search when the key is absent.
	ErrKeyNotFound = errors.New("key was not found")
	// ErrKeyExists is returned by Insert when the key is already present.
	ErrKeyExists = errors.New("key already exists")
)

// Index is a concurrent ordered map over keys compared with a three-way
// comparison function. All methods are safe to call from any goroutine
// between construction and teardown.
type Index[K any, V any] struct {
	maxLevel int
	compare  utils.CompareFn[K]
	levels   *levelGenerator
	filter   *presenceFilter[K]

	// header is the entry point of every traversal; its key and value are
	// never read. Its mutex also serializes all topLevel writes.
	header   *node[K, V]
	topLevel atomic.Int32
	count    atomic.Int64
}

type options struct {
	src      rand.Source
	filterN  uint
	filterFp float64
}

// Option configures an Index at construction time.
type Option func(*options)

// WithRandomSource injects the entropy source used to draw tower heights.
// Sources are not required to be safe for concurrent use; draws are
// serialized by the generator.
func WithRandomSource(src rand.Source) Option {
	return func(o *options) { o.src = src }
}

// WithBloomFilter places a negative-lookup prefilter in front of Search,
// sized for n expected keys at false-positive rate fp. Inserted keys feed the
// filter and deleted keys stay in it, so a stale positive only costs the
// regular traversal.
func WithBloomFilter(n uint, fp float64) Option {
	return func(o *options) {
		o.filterN = n
		o.filterFp = fp
	}
}

// New creates an empty index whose towers are capped at maxLevel slots above
// the bottom level. maxLevel must be at least 1; with 1 the index degenerates
// to a sorted linked list.
func New[K any, V any](maxLevel int, compare utils.CompareFn[K], opts ...Option) (*Index[K, V], error) {
	if maxLevel < 1 {
		return nil, fmt.Errorf("expected maxLevel >= 1, got %d", maxLevel)
	}
	if compare == nil {
		return nil, errors.New("expected a non-nil comparison function")
	}

	o := options{src: rand.NewSource(time.Now().UnixNano())}
	for _, opt := range opts {
		opt(&o)
	}

	var zeroKey K
	var zeroValue V
	ix := &Index[K, V]{
		maxLevel: maxLevel,
		compare:  compare,
		levels:   newLevelGenerator(o.src, maxLevel),
		header:   newNode(zeroKey, zeroValue, maxLevel),
	}
	if o.filterN > 0 {
		ix.filter = newPresenceFilter[K](o.filterN, o.filterFp)
	}
	return ix, nil
}

// Len reports the number of stored pairs. The value is a snapshot of a shared
// counter and may trail concurrent mutations.
func (ix *Index[K, V]) Len() int {
	return int(ix.count.Load())
}

// Search returns a copy of the value stored under key, or ErrKeyNotFound.
// The traversal holds at most two node locks at a time and locks exactly the
// node it is about to inspect.
func (ix *Index[K, V]) Search(key K) (V, error) {
	var zero V
	if ix.filter != nil && !ix.filter.mayContain(key) {
		operationsMetric.WithLabelValues("search", "missing").Inc()
		return zero, ErrKeyNotFound
	}

	ix.header.mtx.Lock()
	cur := ix.header
	for lvl := int(ix.topLevel.Load()); lvl >= 0; lvl-- {
		for next := cur.forward[lvl]; next != nil && ix.compare(next.key, key) < 0; next = cur.forward[lvl] {
			next.mtx.Lock()
			cur.mtx.Unlock()
			cur = next
		}
	}

	candidate := cur.forward[0]
	if candidate == nil {
		cur.mtx.Unlock()
		operationsMetric.WithLabelValues("search", "missing").Inc()
		return zero, ErrKeyNotFound
	}
	candidate.mtx.Lock()
	cur.mtx.Unlock()
	if ix.compare(candidate.key, key) != 0 {
		candidate.mtx.Unlock()
		operationsMetric.WithLabelValues("search", "missing").Inc()
		return zero, ErrKeyNotFound
	}
	value := candidate.value
	candidate.mtx.Unlock()
	operationsMetric.WithLabelValues("search", "found").Inc()
	return value, nil
}

// Insert stores value under key. If the key is already present the stored
// value is kept and ErrKeyExists is returned; the first writer wins.
func (ix *Index[K, V]) Insert(key K, value V) error {
	height := ix.levels.draw()

	ix.header.mtx.Lock()
	top := int(ix.topLevel.Load())
	update := make([]*node[K, V], ix.maxLevel+1)
	// A tower taller than the current top splices into header slots above
	// top, so the header lock must survive the whole descent.
	holdPredecessor := height > top
	if holdPredecessor {
		for lvl := top + 1; lvl <= height; lvl++ {
			update[lvl] = ix.header
		}
	}

	cur := ix.header
	for lvl := top; lvl >= 0; lvl-- {
		for next := cur.forward[lvl]; next != nil && ix.compare(next.key, key) < 0; next = cur.forward[lvl] {
			next.mtx.Lock()
			if holdPredecessor {
				holdPredecessor = false
			} else {
				cur.mtx.Unlock()
			}
			cur = next
		}
		// cur's forward pointer at lvl may be rewritten below; its lock is
		// retained until the splice is done.
		update[lvl] = cur
		holdPredecessor = true
	}

	frontierTop := max(height, top)
	// update[0] is locked, so its successor cannot be unlinked under us and
	// its key is stable without taking another lock.
	if candidate := update[0].forward[0]; candidate != nil && ix.compare(candidate.key, key) == 0 {
		ix.unlockFrontier(update, frontierTop)
		operationsMetric.WithLabelValues("insert", "exists").Inc()
		return ErrKeyExists
	}

	if height > top {
		ix.topLevel.Store(int32(height)) // The header lock is held here.
	}
	fresh := newNode(key, value, height)
	for lvl := 0; lvl <= height; lvl++ {
		fresh.forward[lvl] = update[lvl].forward[lvl]
		update[lvl].forward[lvl] = fresh
	}
	ix.count.Add(1)
	if ix.filter != nil {
		ix.filter.add(key)
	}
	ix.unlockFrontier(update, frontierTop)
	operationsMetric.WithLabelValues("insert", "inserted").Inc()
	return nil
}

// Delete unlinks the node stored under key at every level where it appears.
// Missing keys are a silent no-op.
func (ix *Index[K, V]) Delete(key K) {
	ix.header.mtx.Lock()
	top := int(ix.topLevel.Load())
	update := make([]*node[K, V], ix.maxLevel+1)

	cur := ix.header
	holdPredecessor := false
	for lvl := top; lvl >= 0; lvl-- {
		for next := cur.forward[lvl]; next != nil && ix.compare(next.key, key) < 0; next = cur.forward[lvl] {
			next.mtx.Lock()
			if holdPredecessor {
				holdPredecessor = false
			} else {
				cur.mtx.Unlock()
			}
			cur = next
		}
		// The victim, if present, is the direct successor of every node on
		// this frontier, so every per-level predecessor lock is retained.
		update[lvl] = cur
		holdPredecessor = true
	}

	victim := update[0].forward[0]
	if victim == nil || ix.compare(victim.key, key) != 0 {
		ix.unlockFrontier(update, top)
		operationsMetric.WithLabelValues("delete", "missing").Inc()
		return
	}

	// The victim's forward slots are read during the splice; holding its lock
	// keeps them stable against writers using the victim as their frontier.
	victim.mtx.Lock()
	for lvl := 0; lvl <= top; lvl++ {
		if update[lvl].forward[lvl] != victim {
			break // The first mismatch bounds the victim's height.
		}
		update[lvl].forward[lvl] = victim.forward[lvl]
	}
	victim.mtx.Unlock()

	// Trim empty top levels. A header slot can only have emptied if the
	// header was the victim's predecessor on that level, so the header lock
	// is held for every slot this loop reads.
	for lvl := int(ix.topLevel.Load()); lvl > 0 && update[lvl] == ix.header && ix.header.forward[lvl] == nil; lvl-- {
		ix.topLevel.Store(int32(lvl - 1))
	}

	if ix.count.Add(-1) < 0 {
		utils.RaiseInvariant("index", "negative_count", "Element count dropped below zero after a delete.")
	}
	ix.unlockFrontier(update, top)
	operationsMetric.WithLabelValues("delete", "deleted").Inc()
}

// Clear detaches every node by emptying the header's forward slots. A
// traversal already past the header finishes on the detached chain; the nodes
// are reclaimed once the last walker leaves them.
func (ix *Index[K, V]) Clear() {
	ix.header.mtx.Lock()
	for lvl := range ix.header.forward {
		ix.header.forward[lvl] = nil
	}
	ix.topLevel.Store(0)
	ix.count.Store(0)
	if ix.filter != nil {
		ix.filter.reset()
	}
	ix.header.mtx.Unlock()
}

// unlockFrontier releases every lock retained in update[0..top]. Duplicate
// slots are adjacent, since update[i-1] is either update[i] itself or a node
// reached from it by forward traversal, so deduplication only has to compare
// neighbors.
func (ix *Index[K, V]) unlockFrontier(update []*node[K, V], top int) {
	if update[top] == nil {
		utils.RaiseInvariant("index", "broken_frontier",
			"The locked predecessor frontier has an empty top slot.", "top", top)
		return
	}
	update[top].mtx.Unlock()
	for lvl := top; lvl > 0; lvl-- {
		if update[lvl-1] != update[lvl] {
			update[lvl-1].mtx.Unlock()
		}
	}
}
