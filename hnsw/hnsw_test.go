package hnsw

import (
	"bytes"
	"context"
	"math/rand"
	"testing"

	"github.com/ldclabs/anda-db/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestIndex(t *testing.T, dim int) *Index {
	seed := int64(42)
	idx, err := New(func(o *Options) {
		o.Dimension = dim
		o.RandomSeed = &seed
	})
	require.NoError(t, err)
	return idx
}

func randomVector(r *rand.Rand, dim int) []float32 {
	v := make([]float32, dim)
	for i := range v {
		v[i] = r.Float32()
	}
	return v
}

func TestInsertSearchFindsExactMatch(t *testing.T) {
	ctx := context.Background()
	idx := newTestIndex(t, 4)

	id, err := idx.Insert(ctx, []float32{1, 0, 0, 0})
	require.NoError(t, err)
	_, err = idx.Insert(ctx, []float32{0, 1, 0, 0})
	require.NoError(t, err)

	results, err := idx.KNNSearch(ctx, []float32{1, 0, 0, 0}, 1, nil)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, id, results[0].ID)
	assert.InDelta(t, 0, results[0].Distance, 1e-6)
}

func TestInsertDimensionMismatch(t *testing.T) {
	idx := newTestIndex(t, 4)
	_, err := idx.Insert(context.Background(), []float32{1, 2, 3})
	var dm *ErrDimensionMismatch
	require.ErrorAs(t, err, &dm)
}

func TestSearchDimensionMismatch(t *testing.T) {
	idx := newTestIndex(t, 4)
	_, err := idx.Insert(context.Background(), []float32{1, 2, 3, 4})
	require.NoError(t, err)
	_, err = idx.KNNSearch(context.Background(), []float32{1, 2}, 1, nil)
	var dm *ErrDimensionMismatch
	require.ErrorAs(t, err, &dm)
}

func TestDeleteRemovesFromResults(t *testing.T) {
	ctx := context.Background()
	idx := newTestIndex(t, 2)
	id1, err := idx.Insert(ctx, []float32{1, 1})
	require.NoError(t, err)
	id2, err := idx.Insert(ctx, []float32{2, 2})
	require.NoError(t, err)

	require.NoError(t, idx.Delete(ctx, id1))

	results, err := idx.KNNSearch(ctx, []float32{1, 1}, 2, nil)
	require.NoError(t, err)
	for _, r := range results {
		assert.NotEqual(t, id1, r.ID)
	}
	assert.Equal(t, 1, idx.Count())
	assert.False(t, idx.ContainsID(id1))
	assert.True(t, idx.ContainsID(id2))
}

func TestDeleteUnknownIsNotFound(t *testing.T) {
	idx := newTestIndex(t, 2)
	err := idx.Delete(context.Background(), core.DocID(999))
	var nf *ErrNotFound
	require.ErrorAs(t, err, &nf)
}

func TestUpdateChangesVector(t *testing.T) {
	ctx := context.Background()
	idx := newTestIndex(t, 2)
	id, err := idx.Insert(ctx, []float32{0, 0})
	require.NoError(t, err)

	require.NoError(t, idx.Update(ctx, id, []float32{5, 5}))

	v, err := idx.VectorByID(id)
	require.NoError(t, err)
	assert.Equal(t, []float32{5, 5}, v)
	assert.True(t, idx.ContainsID(id))
}

func TestCompactDropsTombstonedNodes(t *testing.T) {
	ctx := context.Background()
	idx := newTestIndex(t, 2)
	id1, err := idx.Insert(ctx, []float32{0, 0})
	require.NoError(t, err)
	id2, err := idx.Insert(ctx, []float32{1, 1})
	require.NoError(t, err)

	require.NoError(t, idx.Delete(ctx, id1))
	require.NoError(t, idx.Compact(ctx))

	_, err = idx.VectorByID(id1)
	var nf *ErrNotFound
	require.ErrorAs(t, err, &nf)
	assert.True(t, idx.ContainsID(id2))
}

func TestEntryPointPromotedOnDelete(t *testing.T) {
	ctx := context.Background()
	idx := newTestIndex(t, 2)
	id1, err := idx.Insert(ctx, []float32{0, 0})
	require.NoError(t, err)
	_, err = idx.Insert(ctx, []float32{1, 1})
	require.NoError(t, err)

	idx.epMu.RLock()
	firstEP := idx.entryPoint
	idx.epMu.RUnlock()

	if firstEP == id1 {
		require.NoError(t, idx.Delete(ctx, id1))
		idx.epMu.RLock()
		hasEntry := idx.hasEntry
		newEP := idx.entryPoint
		idx.epMu.RUnlock()
		assert.True(t, hasEntry)
		assert.NotEqual(t, id1, newEP)
	}
}

// TestRecallAgainstBruteForce checks that KNN search recovers the large
// majority of true nearest neighbors found by exhaustive search, the
// approximate-but-bounded recall property of HNSW.
func TestRecallAgainstBruteForce(t *testing.T) {
	ctx := context.Background()
	const dim = 16
	const n = 300
	const k = 10

	idx, err := New(func(o *Options) {
		o.Dimension = dim
		o.EFConstruction = 100
		seed := int64(7)
		o.RandomSeed = &seed
	})
	require.NoError(t, err)

	r := rand.New(rand.NewSource(1))
	for i := 0; i < n; i++ {
		_, err := idx.Insert(ctx, randomVector(r, dim))
		require.NoError(t, err)
	}

	query := randomVector(r, dim)
	approx, err := idx.KNNSearch(ctx, query, k, &SearchOptions{EFSearch: 100})
	require.NoError(t, err)
	exact, err := idx.BruteSearch(ctx, query, k, nil)
	require.NoError(t, err)

	exactSet := make(map[core.DocID]struct{}, len(exact))
	for _, r := range exact {
		exactSet[r.ID] = struct{}{}
	}
	hits := 0
	for _, r := range approx {
		if _, ok := exactSet[r.ID]; ok {
			hits++
		}
	}
	recall := float64(hits) / float64(len(exact))
	assert.GreaterOrEqual(t, recall, 0.7, "recall too low: %d/%d", hits, len(exact))
}

func TestSearchRespectsFilter(t *testing.T) {
	ctx := context.Background()
	idx := newTestIndex(t, 2)
	id1, err := idx.Insert(ctx, []float32{0, 0})
	require.NoError(t, err)
	id2, err := idx.Insert(ctx, []float32{0.1, 0.1})
	require.NoError(t, err)

	results, err := idx.KNNSearch(ctx, []float32{0, 0}, 2, &SearchOptions{
		Filter: func(id core.DocID) bool { return id == id2 },
	})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, id2, results[0].ID)
	_ = id1
}

func TestSnapshotLoadRoundTrip(t *testing.T) {
	ctx := context.Background()
	idx := newTestIndex(t, 3)
	ids := make([]core.DocID, 0, 5)
	for i := 0; i < 5; i++ {
		id, err := idx.Insert(ctx, []float32{float32(i), float32(i) * 2, float32(i) * 3})
		require.NoError(t, err)
		ids = append(ids, id)
	}
	require.NoError(t, idx.Delete(ctx, ids[0]))

	var buf bytes.Buffer
	require.NoError(t, idx.Snapshot(&buf))

	loaded, err := Load(&buf, "")
	require.NoError(t, err)

	assert.Equal(t, idx.Count(), loaded.Count())
	assert.False(t, loaded.ContainsID(ids[0]))
	for _, id := range ids[1:] {
		assert.True(t, loaded.ContainsID(id))
		v, err := loaded.VectorByID(id)
		require.NoError(t, err)
		orig, err := idx.VectorByID(id)
		require.NoError(t, err)
		assert.Equal(t, orig, v)
	}

	results, err := loaded.KNNSearch(ctx, []float32{4, 8, 12}, 1, nil)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, ids[4], results[0].ID)
}

func TestConcurrentInsertSearch(t *testing.T) {
	ctx := context.Background()
	idx := newTestIndex(t, 8)

	done := make(chan struct{})
	go func() {
		defer close(done)
		r := rand.New(rand.NewSource(2))
		for i := 0; i < 50; i++ {
			_, _ = idx.Insert(ctx, randomVector(r, 8))
		}
	}()

	r := rand.New(rand.NewSource(3))
	for i := 0; i < 50; i++ {
		_, _ = idx.KNNSearch(ctx, randomVector(r, 8), 5, nil)
	}
	<-done
}
