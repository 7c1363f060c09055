package hnsw

import (
	"context"
	"fmt"

	"github.com/ldclabs/anda-db/core"
)

// ErrDimensionMismatch is returned when an inserted or queried vector's
// length does not match the index's configured dimension.
type ErrDimensionMismatch struct {
	Expected, Actual int
}

func (e *ErrDimensionMismatch) Error() string {
	return fmt.Sprintf("hnsw: dimension mismatch: expected %d, got %d", e.Expected, e.Actual)
}

// ErrDuplicateID is returned by ApplyInsert when asked to reuse a live id.
type ErrDuplicateID struct{ ID core.DocID }

func (e *ErrDuplicateID) Error() string { return fmt.Sprintf("hnsw: duplicate id %d", e.ID) }

// ErrNotFound is returned by Delete/VectorByID for an unknown id.
type ErrNotFound struct{ ID core.DocID }

func (e *ErrNotFound) Error() string { return fmt.Sprintf("hnsw: id %d not found", e.ID) }

// Insert assigns a new id and adds v to the graph (spec §4.1).
func (idx *Index) Insert(ctx context.Context, v []float32) (core.DocID, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	id := core.DocID(idx.nextID.Add(1) - 1)
	if err := idx.insertWithID(id, v); err != nil {
		return 0, err
	}
	return id, nil
}

// ApplyInsert inserts v at a caller-specified id, used to replay the WAL
// tail log over a snapshot.
func (idx *Index) ApplyInsert(ctx context.Context, id core.DocID, v []float32) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	for {
		cur := idx.nextID.Load()
		if cur > uint64(id) {
			break
		}
		if idx.nextID.CompareAndSwap(cur, uint64(id)+1) {
			break
		}
	}
	return idx.insertWithID(id, v)
}

func (idx *Index) insertWithID(id core.DocID, v []float32) error {
	if len(v) != idx.opts.Dimension {
		return &ErrDimensionMismatch{Expected: idx.opts.Dimension, Actual: len(v)}
	}
	idx.mu.Lock()
	if _, exists := idx.nodes[id]; exists && !idx.isTombstoned(id) {
		idx.mu.Unlock()
		return &ErrDuplicateID{ID: id}
	}
	idx.mu.Unlock()

	vec := make([]float32, len(v))
	copy(vec, v)
	if idx.opts.NormalizeVector {
		if !normalizeL2(vec) {
			return fmt.Errorf("hnsw: cannot normalize zero vector")
		}
	}

	layer := idx.randomLayer()
	n := &node{id: id, vector: vec, layer: layer, neighbors: make([][]core.DocID, layer+1)}

	idx.mu.Lock()
	idx.nodes[id] = n
	idx.mu.Unlock()
	idx.tombstoneMu.Lock()
	idx.tombstones.Clear(uint(id))
	idx.tombstoneMu.Unlock()
	idx.count.Add(1)

	idx.epMu.Lock()
	if !idx.hasEntry {
		idx.entryPoint = id
		idx.maxLevel = layer
		idx.hasEntry = true
		idx.epMu.Unlock()
		return nil
	}
	epID, maxLevel := idx.entryPoint, idx.maxLevel
	idx.epMu.Unlock()

	idx.insertIntoGraph(n, epID, maxLevel)

	idx.epMu.Lock()
	if layer > idx.maxLevel {
		idx.maxLevel = layer
		idx.entryPoint = id
	}
	idx.epMu.Unlock()

	return nil
}

// insertIntoGraph runs the greedy-descent + beam-search-and-link
// algorithm of spec §4.1.
func (idx *Index) insertIntoGraph(n *node, epID core.DocID, maxLevel int) {
	currID := epID
	currDist := idx.distTo(n.vector, currID)

	for level := maxLevel; level > n.layer; level-- {
		currID, currDist = idx.greedyDescend(n.vector, currID, currDist, level)
	}

	for level := min(n.layer, maxLevel); level >= 0; level-- {
		candidates := idx.searchLayer(n.vector, currID, currDist, level, idx.opts.EFConstruction, nil)

		if best, ok := candidates.Min(); ok {
			currID, currDist = best.node, best.dist
		}

		maxConns := idx.maxConnPerLayer
		if level == 0 {
			maxConns = idx.maxConnLayer0
		}
		neighbors := idx.selectNeighbors(candidates, maxConns)

		idx.shardLock(n.id).Lock()
		idx.setConnections(n.id, level, neighbors)
		idx.shardLock(n.id).Unlock()

		for _, neighborID := range neighbors {
			idx.addConnection(neighborID, n.id, level)
		}
	}
}

func (idx *Index) greedyDescend(query []float32, startID core.DocID, startDist float32, level int) (core.DocID, float32) {
	currID, currDist := startID, startDist
	changed := true
	for changed {
		changed = false
		for _, nextID := range idx.connections(currID, level) {
			d := idx.distTo(query, nextID)
			if d < currDist {
				currID, currDist = nextID, d
				changed = true
			}
		}
	}
	return currID, currDist
}

// addConnection installs a reverse edge sourceID->targetID, pruning with
// the heuristic if the degree cap is exceeded (spec §4.1).
func (idx *Index) addConnection(sourceID, targetID core.DocID, level int) {
	lock := idx.shardLock(sourceID)
	lock.Lock()
	defer lock.Unlock()

	n, ok := idx.getNode(sourceID)
	if !ok || level >= len(n.neighbors) {
		return
	}
	conns := idx.connections(sourceID, level)
	for _, c := range conns {
		if c == targetID {
			return
		}
	}

	maxM := idx.maxConnPerLayer
	if level == 0 {
		maxM = idx.maxConnLayer0
	}

	if len(conns) < maxM {
		idx.setConnections(sourceID, level, append(conns, targetID))
		return
	}

	cand := newMaxQueue(maxM + 1)
	srcNode, _ := idx.getNode(sourceID)
	for _, c := range conns {
		cand.Push(item{node: c, dist: idx.dist(srcNode.vector, mustVector(idx, c))})
	}
	cand.Push(item{node: targetID, dist: idx.dist(srcNode.vector, mustVector(idx, targetID))})

	newNeighbors := idx.selectNeighbors(cand, maxM)
	idx.setConnections(sourceID, level, newNeighbors)
}

func mustVector(idx *Index, id core.DocID) []float32 {
	n, ok := idx.getNode(id)
	if !ok {
		return nil
	}
	return n.vector
}

// selectNeighbors dispatches to the heuristic or simple top-M selection.
func (idx *Index) selectNeighbors(candidates *queue, m int) []core.DocID {
	if idx.opts.Heuristic {
		return idx.selectNeighborsHeuristic(candidates, m)
	}
	return selectNeighborsSimple(candidates, m)
}

func selectNeighborsSimple(candidates *queue, m int) []core.DocID {
	for candidates.Len() > m {
		candidates.Pop()
	}
	res := make([]core.DocID, 0, candidates.Len())
	for candidates.Len() > 0 {
		it, _ := candidates.Pop()
		res = append(res, it.node)
	}
	for i, j := 0, len(res)-1; i < j; i, j = i+1, j-1 {
		res[i], res[j] = res[j], res[i]
	}
	return res
}

// selectNeighborsHeuristic implements the relative-neighborhood pruning
// rule of spec §4.1: a candidate c passes only if no already-selected
// neighbor is closer to c than the query is. Candidates that fail the
// rule are not discarded: when fewer than m pass, the nearest failing
// candidates fill the remaining slots.
func (idx *Index) selectNeighborsHeuristic(candidates *queue, m int) []core.DocID {
	if candidates.Len() <= m {
		return selectNeighborsSimple(candidates, m)
	}

	temp := make([]item, candidates.Len())
	for i := len(temp) - 1; i >= 0; i-- {
		temp[i], _ = candidates.Pop()
	}

	result := make([]core.DocID, 0, m)
	resultVecs := make([][]float32, 0, m)

	for _, c := range temp {
		if len(result) >= m {
			break
		}
		candVec := mustVector(idx, c.node)
		if candVec == nil {
			continue
		}
		good := true
		for _, rv := range resultVecs {
			if idx.dist(candVec, rv) < c.dist {
				good = false
				break
			}
		}
		if good {
			result = append(result, c.node)
			resultVecs = append(resultVecs, candVec)
		}
	}

	if len(result) < m {
		for _, c := range temp {
			if len(result) >= m {
				break
			}
			found := false
			for _, r := range result {
				if r == c.node {
					found = true
					break
				}
			}
			if !found {
				result = append(result, c.node)
			}
		}
	}
	return result
}
