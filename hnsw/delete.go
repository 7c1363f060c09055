package hnsw

import (
	"context"

	"github.com/ldclabs/anda-db/core"
)

// Delete logically tombstones id: O(1), and avoids the graph-instability
// cost of physically unlinking edges (spec §4.1). Edges are removed only
// during Compact.
func (idx *Index) Delete(ctx context.Context, id core.DocID) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, ok := idx.getNode(id); !ok {
		return &ErrNotFound{ID: id}
	}
	if idx.isTombstoned(id) {
		return &ErrNotFound{ID: id}
	}

	idx.tombstoneMu.Lock()
	idx.tombstones.Set(uint(id))
	idx.tombstoneMu.Unlock()

	idx.epMu.Lock()
	if idx.hasEntry && idx.entryPoint == id {
		idx.promoteEntryPointLocked(id)
	}
	idx.epMu.Unlock()

	idx.count.Add(-1)
	return nil
}

// promoteEntryPointLocked replaces a tombstoned entry point with the
// highest-layer non-tombstoned node (spec §4.1). Caller holds epMu.
func (idx *Index) promoteEntryPointLocked(deleted core.DocID) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	best := core.DocID(0)
	bestLayer := -1
	found := false
	for id, n := range idx.nodes {
		if id == deleted {
			continue
		}
		if idx.tombstones.Test(uint(id)) {
			continue
		}
		if n.layer > bestLayer {
			best, bestLayer, found = id, n.layer, true
		}
	}
	if found {
		idx.entryPoint = best
		idx.maxLevel = bestLayer
	} else {
		idx.hasEntry = false
	}
}

// ApplyDelete replays a WAL-logged delete.
func (idx *Index) ApplyDelete(ctx context.Context, id core.DocID) error {
	return idx.Delete(ctx, id)
}

// Update replaces id's vector: a tombstone-then-reinsert at the same id
// and layer (spec §3 lifecycle: "insert-then-delete... to keep indexes
// append-friendly").
func (idx *Index) Update(ctx context.Context, id core.DocID, v []float32) error {
	n, ok := idx.getNode(id)
	if !ok {
		return &ErrNotFound{ID: id}
	}
	layer := n.layer
	if err := idx.Delete(ctx, id); err != nil {
		return err
	}
	idx.mu.Lock()
	delete(idx.nodes, id)
	idx.mu.Unlock()

	return idx.reinsertWithLayer(id, v, layer)
}

// ApplyUpdate replays a WAL-logged update.
func (idx *Index) ApplyUpdate(ctx context.Context, id core.DocID, v []float32) error {
	return idx.Update(ctx, id, v)
}

func (idx *Index) reinsertWithLayer(id core.DocID, v []float32, layer int) error {
	if len(v) != idx.opts.Dimension {
		return &ErrDimensionMismatch{Expected: idx.opts.Dimension, Actual: len(v)}
	}
	vec := make([]float32, len(v))
	copy(vec, v)
	if idx.opts.NormalizeVector {
		if !normalizeL2(vec) {
			return errZeroQuery
		}
	}

	n := &node{id: id, vector: vec, layer: layer, neighbors: make([][]core.DocID, layer+1)}
	idx.mu.Lock()
	idx.nodes[id] = n
	idx.mu.Unlock()
	idx.count.Add(1)

	idx.tombstoneMu.Lock()
	idx.tombstones.Clear(uint(id))
	idx.tombstoneMu.Unlock()

	idx.epMu.Lock()
	if !idx.hasEntry {
		idx.entryPoint, idx.maxLevel, idx.hasEntry = id, layer, true
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

// Compact physically drops tombstoned nodes and strips dangling edges
// from survivors, requiring exclusive access (spec §4.1, §5: "A single
// compaction operation requires the exclusive lock").
func (idx *Index) Compact(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	idx.mu.Lock()
	defer idx.mu.Unlock()

	idx.tombstoneMu.RLock()
	dead := make(map[core.DocID]struct{})
	for id := range idx.nodes {
		if idx.tombstones.Test(uint(id)) {
			dead[id] = struct{}{}
		}
	}
	idx.tombstoneMu.RUnlock()

	for id := range dead {
		delete(idx.nodes, id)
	}
	for _, n := range idx.nodes {
		n.mu.Lock()
		for l := range n.neighbors {
			kept := n.neighbors[l][:0]
			for _, c := range n.neighbors[l] {
				if _, isDead := dead[c]; !isDead {
					kept = append(kept, c)
				}
			}
			n.neighbors[l] = kept
		}
		n.mu.Unlock()
	}

	idx.tombstoneMu.Lock()
	idx.tombstones = idx.tombstones.ClearAll()
	idx.tombstoneMu.Unlock()

	return nil
}

// Close releases resources. HNSW holds none beyond process memory.
func (idx *Index) Close() error { return nil }
