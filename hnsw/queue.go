package hnsw

import "github.com/ldclabs/anda-db/core"

// item pairs a node with its distance to the current query, the unit the
// candidate and result heaps of the search algorithm are built from
// (spec §4.1).
type item struct {
	node core.DocID
	dist float32
}

// queue is a binary heap over items, usable as either a min-heap (beam
// search candidates: explore nearest first) or a max-heap (result set:
// evict farthest first once full), mirroring the teacher's
// internal/queue.PriorityQueue.
type queue struct {
	isMax bool
	items []item
}

func newMinQueue(capacity int) *queue { return &queue{items: make([]item, 0, capacity)} }
func newMaxQueue(capacity int) *queue { return &queue{isMax: true, items: make([]item, 0, capacity)} }

func (q *queue) Len() int { return len(q.items) }

func (q *queue) Reset() { q.items = q.items[:0] }

func (q *queue) less(i, j int) bool {
	if q.isMax {
		return q.items[i].dist > q.items[j].dist
	}
	return q.items[i].dist < q.items[j].dist
}

func (q *queue) Push(it item) {
	q.items = append(q.items, it)
	i := len(q.items) - 1
	for i > 0 {
		p := (i - 1) / 2
		if !q.less(i, p) {
			break
		}
		q.items[i], q.items[p] = q.items[p], q.items[i]
		i = p
	}
}

func (q *queue) Pop() (item, bool) {
	n := len(q.items)
	if n == 0 {
		return item{}, false
	}
	root := q.items[0]
	last := q.items[n-1]
	q.items = q.items[:n-1]
	if n-1 > 0 {
		q.items[0] = last
		q.siftDown(0)
	}
	return root, true
}

func (q *queue) siftDown(i int) {
	n := len(q.items)
	for {
		l := 2*i + 1
		if l >= n {
			return
		}
		best := l
		if r := l + 1; r < n && q.less(r, l) {
			best = r
		}
		if !q.less(best, i) {
			return
		}
		q.items[i], q.items[best] = q.items[best], q.items[i]
		i = best
	}
}

func (q *queue) Top() (item, bool) {
	if len(q.items) == 0 {
		return item{}, false
	}
	return q.items[0], true
}

// Min returns the smallest-distance item, regardless of heap orientation.
func (q *queue) Min() (item, bool) {
	if len(q.items) == 0 {
		return item{}, false
	}
	if !q.isMax {
		return q.items[0], true
	}
	min := q.items[0]
	for _, it := range q.items[1:] {
		if it.dist < min.dist {
			min = it
		}
	}
	return min, true
}
