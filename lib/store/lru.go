package store

import (
	"container/heap"
	"strconv"
)

// item is an entry of the eviction queue, keyed by the raw key bytes with the
// last-touched time as priority
type item struct {
	Key      string // Raw key bytes
	Priority int64  // Last touched (unix nanos), oldest first
	index    int    // Index in the heap, maintained by heap package
}

func (i *item) String() string {
	return "{Key: " + strconv.Quote(i.Key) + ", Priority: " + strconv.FormatInt(i.Priority, 10) + "}"
}

// evictionQueue is a min-heap over last-touched times with key-based access. The
// cleaner fills it with the candidates of one run and pops the oldest first.
//
// Not thread-safe, it is only used by the cleaner goroutine.
type evictionQueue struct {
	items    []*item          // The actual heap slice
	itemsMap map[string]*item // Map for O(1) access by key
}

func newEvictionQueue() *evictionQueue {
	return &evictionQueue{
		items:    make([]*item, 0),
		itemsMap: make(map[string]*item),
	}
}

// Len returns the number of items in the queue (part of heap.Interface)
func (q *evictionQueue) Len() int { return len(q.items) }

// Less orders items by last-touched time (part of heap.Interface)
func (q *evictionQueue) Less(i, j int) bool {
	return q.items[i].Priority < q.items[j].Priority
}

// Swap exchanges items at positions i and j (part of heap.Interface)
func (q *evictionQueue) Swap(i, j int) {
	q.items[i], q.items[j] = q.items[j], q.items[i]
	q.items[i].index = i
	q.items[j].index = j
}

// Push adds an item to the heap (part of heap.Interface)
func (q *evictionQueue) Push(x interface{}) {
	it := x.(*item)
	it.index = len(q.items)
	q.items = append(q.items, it)
	q.itemsMap[it.Key] = it
}

// Pop removes and returns the oldest item (part of heap.Interface)
func (q *evictionQueue) Pop() interface{} {
	old := q.items
	n := len(old)
	it := old[n-1]
	old[n-1] = nil // Avoid memory leak
	it.index = -1
	q.items = old[:n-1]
	delete(q.itemsMap, it.Key)
	return it
}

// AddItem adds a key or updates the priority of an existing one
func (q *evictionQueue) AddItem(key string, priority int64) {
	if it, exists := q.itemsMap[key]; exists {
		it.Priority = priority
		heap.Fix(q, it.index)
		return
	}
	heap.Push(q, &item{Key: key, Priority: priority})
}

// PopOldest removes and returns the least recently touched key
func (q *evictionQueue) PopOldest() (string, bool) {
	if q.Len() == 0 {
		return "", false
	}
	return heap.Pop(q).(*item).Key, true
}
