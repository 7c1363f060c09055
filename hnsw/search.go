package hnsw

import (
	"context"

	"github.com/ldclabs/anda-db/core"
)

// searchLayer runs a beam search of width ef at one layer, returning a
// max-heap of the best candidates found. When filter is non-nil, nodes
// are filtered during traversal (not after), so a capped result set still
// returns ef_search results if enough pass the filter (spec §4.1).
func (idx *Index) searchLayer(query []float32, epID core.DocID, epDist float32, level, ef int, filter func(core.DocID) bool) *queue {
	visited := make(map[core.DocID]struct{}, ef*2)
	candidates := newMinQueue(ef)
	results := newMaxQueue(ef)

	visited[epID] = struct{}{}
	candidates.Push(item{node: epID, dist: epDist})
	if (filter == nil || filter(epID)) && !idx.isTombstoned(epID) {
		results.Push(item{node: epID, dist: epDist})
	}

	for candidates.Len() > 0 {
		curr, _ := candidates.Pop()

		if results.Len() > 0 {
			worst, _ := results.Top()
			if curr.dist > worst.dist && results.Len() >= ef {
				break
			}
		}

		for _, nextID := range idx.connections(curr.node, level) {
			if _, seen := visited[nextID]; seen {
				continue
			}
			visited[nextID] = struct{}{}

			nextDist := idx.distTo(query, nextID)

			shouldExplore := true
			if filter == nil && results.Len() >= ef {
				worst, _ := results.Top()
				if nextDist > worst.dist {
					shouldExplore = false
				}
			}
			if !shouldExplore {
				continue
			}

			candidates.Push(item{node: nextID, dist: nextDist})
			if (filter == nil || filter(nextID)) && !idx.isTombstoned(nextID) {
				results.Push(item{node: nextID, dist: nextDist})
				if results.Len() > ef {
					results.Pop()
				}
			}
		}
	}

	return results
}

// KNNSearch returns the top-k nearest neighbors of q (spec §4.1).
func (idx *Index) KNNSearch(ctx context.Context, q []float32, k int, opts *SearchOptions) ([]SearchResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(q) != idx.opts.Dimension {
		return nil, &ErrDimensionMismatch{Expected: idx.opts.Dimension, Actual: len(q)}
	}

	query := q
	if idx.opts.NormalizeVector {
		qc := make([]float32, len(q))
		copy(qc, q)
		if !normalizeL2(qc) {
			return nil, errZeroQuery
		}
		query = qc
	}

	idx.epMu.RLock()
	epID, maxLevel, hasEntry := idx.entryPoint, idx.maxLevel, idx.hasEntry
	idx.epMu.RUnlock()
	if !hasEntry {
		return nil, nil
	}

	ef := idx.opts.EFConstruction
	var filter func(core.DocID) bool
	if opts != nil {
		if opts.EFSearch > 0 {
			ef = opts.EFSearch
		}
		filter = opts.Filter
	}
	if ef < k {
		ef = k
	}

	currID := epID
	currDist := idx.distTo(query, currID)
	for level := maxLevel; level > 0; level-- {
		currID, currDist = idx.greedyDescend(query, currID, currDist, level)
	}

	results := idx.searchLayer(query, currID, currDist, 0, ef, filter)

	for results.Len() > k {
		results.Pop()
	}
	out := make([]SearchResult, results.Len())
	for i := len(out) - 1; i >= 0; i-- {
		it, _ := results.Pop()
		out[i] = SearchResult{ID: it.node, Distance: it.dist}
	}
	return out, nil
}

// BruteSearch scans every live node, used as the recall ground truth in
// tests (spec §8 property 2) and as a correctness fallback.
func (idx *Index) BruteSearch(ctx context.Context, query []float32, k int, filter func(core.DocID) bool) ([]SearchResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	pq := newMaxQueue(k)

	idx.mu.RLock()
	ids := make([]core.DocID, 0, len(idx.nodes))
	for id := range idx.nodes {
		ids = append(ids, id)
	}
	idx.mu.RUnlock()

	for _, id := range ids {
		if idx.isTombstoned(id) {
			continue
		}
		if filter != nil && !filter(id) {
			continue
		}
		d := idx.distTo(query, id)
		if pq.Len() < k {
			pq.Push(item{node: id, dist: d})
			continue
		}
		top, _ := pq.Top()
		if d < top.dist {
			pq.Pop()
			pq.Push(item{node: id, dist: d})
		}
	}

	out := make([]SearchResult, pq.Len())
	for i := len(out) - 1; i >= 0; i-- {
		it, _ := pq.Pop()
		out[i] = SearchResult{ID: it.node, Distance: it.dist}
	}
	return out, nil
}

var errZeroQuery = &zeroQueryError{}

type zeroQueryError struct{}

func (e *zeroQueryError) Error() string { return "hnsw: zero query vector cannot be normalized" }

// VectorByID returns the stored vector for id.
func (idx *Index) VectorByID(id core.DocID) ([]float32, error) {
	n, ok := idx.getNode(id)
	if !ok {
		return nil, &ErrNotFound{ID: id}
	}
	return n.vector, nil
}

// ContainsID reports whether id is live (present and not tombstoned).
func (idx *Index) ContainsID(id core.DocID) bool {
	if idx.isTombstoned(id) {
		return false
	}
	_, ok := idx.getNode(id)
	return ok
}
