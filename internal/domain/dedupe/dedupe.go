// Package dedupe tracks producer event ids so a retried reading is answered
// with the prediction it already produced.
package dedupe

import (
	"context"
	"sync"
	"sync/atomic"
)

const defaultMaxSize = 50000

// Deduper records seen event ids and the prediction each one produced.
type Deduper interface {
	// SeenAndRecord atomically checks if id was seen and claims it if not.
	// seen is true when the id was already claimed; predictionID is empty
	// while the claiming ingest is still in flight.
	SeenAndRecord(ctx context.Context, id string) (predictionID string, seen bool)

	// Complete attaches the committed prediction to a claimed id.
	Complete(ctx context.Context, id, predictionID string)

	// Unrecord releases a claim whose ingest failed, so a retry is processed.
	Unrecord(ctx context.Context, id string)

	Size() int64
}

// node is one entry of the recency list.
type node struct {
	id           string
	predictionID string
	prev, next   *node
}

func (n *node) reset() {
	n.id = ""
	n.predictionID = ""
	n.prev = nil
	n.next = nil
}

// inMemoryDeduper implements Deduper with a map plus a doubly linked list.
// Bounded mode (maxSize > 0) evicts the oldest claim first.
// Unbounded mode (maxSize <= 0) never evicts.
type inMemoryDeduper struct {
	mu       sync.Mutex
	seen     map[string]*node
	head     *node // newest
	tail     *node // oldest
	maxSize  int
	size     atomic.Int64
	nodePool sync.Pool
}

// NewInMemoryDeduper creates a new in-memory deduper with configuration options.
func NewInMemoryDeduper(opts ...Option) Deduper {
	d := &inMemoryDeduper{
		maxSize: defaultMaxSize,
	}

	for _, opt := range opts {
		opt(d)
	}

	d.seen = make(map[string]*node)
	d.nodePool = sync.Pool{
		New: func() interface{} {
			return &node{}
		},
	}

	return d
}

func (d *inMemoryDeduper) SeenAndRecord(_ context.Context, id string) (string, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if n, exists := d.seen[id]; exists {
		return n.predictionID, true
	}

	if d.maxSize > 0 && len(d.seen) >= d.maxSize {
		d.evictOldest()
	}

	n := d.nodePool.Get().(*node)
	n.id = id
	n.next = d.head
	if d.head != nil {
		d.head.prev = n
	}
	d.head = n
	if d.tail == nil {
		d.tail = n
	}
	d.seen[id] = n
	d.size.Add(1)
	return "", false
}

func (d *inMemoryDeduper) Complete(_ context.Context, id, predictionID string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if n, exists := d.seen[id]; exists {
		n.predictionID = predictionID
	}
}

func (d *inMemoryDeduper) Unrecord(_ context.Context, id string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if n, exists := d.seen[id]; exists {
		d.remove(n)
	}
}

// evictOldest drops the tail. Must be called with d.mu held.
func (d *inMemoryDeduper) evictOldest() {
	if d.tail != nil {
		d.remove(d.tail)
	}
}

// remove unlinks n and returns it to the pool. Must be called with d.mu held.
func (d *inMemoryDeduper) remove(n *node) {
	if n.prev != nil {
		n.prev.next = n.next
	} else {
		d.head = n.next
	}
	if n.next != nil {
		n.next.prev = n.prev
	} else {
		d.tail = n.prev
	}
	delete(d.seen, n.id)
	n.reset()
	d.nodePool.Put(n)
	d.size.Add(-1)
}

// Size returns the current number of entries in the deduper.
func (d *inMemoryDeduper) Size() int64 {
	return d.size.Load()
}
