package tfs

import (
	"bytes"
	"context"
	"testing"

	"github.com/ldclabs/anda-db/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInsertSearchRanksByRelevance(t *testing.T) {
	idx := New()
	ctx := context.Background()

	require.NoError(t, idx.Insert(ctx, core.DocID(1), "the quick brown fox"))
	require.NoError(t, idx.Insert(ctx, core.DocID(2), "the quick fox jumps over the lazy fox"))
	require.NoError(t, idx.Insert(ctx, core.DocID(3), "completely unrelated text about cats"))

	results, err := idx.Search(ctx, "fox", 10, nil)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.ElementsMatch(t, []core.DocID{1, 2}, []core.DocID{results[0].ID, results[1].ID})
	for _, r := range results {
		assert.Greater(t, r.Score, 0.0)
	}
}

func TestInsertDuplicateRejected(t *testing.T) {
	idx := New()
	ctx := context.Background()
	require.NoError(t, idx.Insert(ctx, core.DocID(1), "hello world"))
	err := idx.Insert(ctx, core.DocID(1), "again")
	var dup *ErrDuplicateID
	require.ErrorAs(t, err, &dup)
}

func TestEmptyDocumentAccepted(t *testing.T) {
	idx := New()
	ctx := context.Background()
	require.NoError(t, idx.Insert(ctx, core.DocID(1), ""))
	assert.Equal(t, 1, idx.Count())

	results, err := idx.Search(ctx, "anything", 10, nil)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestRemoveExcludesFromSearch(t *testing.T) {
	idx := New()
	ctx := context.Background()
	require.NoError(t, idx.Insert(ctx, core.DocID(1), "apple banana"))
	require.NoError(t, idx.Insert(ctx, core.DocID(2), "apple cherry"))

	require.NoError(t, idx.Remove(ctx, core.DocID(1)))

	results, err := idx.Search(ctx, "apple", 10, nil)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, core.DocID(2), results[0].ID)
}

func TestRemoveUnknownIsNotFound(t *testing.T) {
	idx := New()
	err := idx.Remove(context.Background(), core.DocID(99))
	var nf *ErrNotFound
	require.ErrorAs(t, err, &nf)
}

func TestSearchDeterministicAcrossRuns(t *testing.T) {
	ctx := context.Background()
	build := func() *Index {
		idx := New()
		docs := map[core.DocID]string{
			1: "alpha beta gamma",
			2: "beta gamma delta",
			3: "gamma delta epsilon",
			4: "alpha delta epsilon",
		}
		for id, text := range docs {
			_ = idx.Insert(ctx, id, text)
		}
		_ = idx.Remove(ctx, core.DocID(2))
		return idx
	}

	first, err := build().Search(ctx, "alpha delta", 10, nil)
	require.NoError(t, err)
	second, err := build().Search(ctx, "alpha delta", 10, nil)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestSnapshotLoadRoundTrip(t *testing.T) {
	idx := New()
	ctx := context.Background()
	require.NoError(t, idx.Insert(ctx, core.DocID(1), "the quick brown fox"))
	require.NoError(t, idx.Insert(ctx, core.DocID(2), "the lazy dog sleeps"))
	require.NoError(t, idx.Remove(ctx, core.DocID(2)))

	var buf bytes.Buffer
	require.NoError(t, idx.Snapshot(&buf))

	loaded, err := Load(&buf)
	require.NoError(t, err)
	assert.Equal(t, 1, loaded.Count())

	results, err := loaded.Search(ctx, "fox", 10, nil)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, core.DocID(1), results[0].ID)
}

func TestCompactDropsTombstones(t *testing.T) {
	idx := New()
	ctx := context.Background()
	require.NoError(t, idx.Insert(ctx, core.DocID(1), "foo bar"))
	require.NoError(t, idx.Insert(ctx, core.DocID(2), "foo baz"))
	require.NoError(t, idx.Remove(ctx, core.DocID(1)))

	require.NoError(t, idx.Compact(ctx))
	assert.Equal(t, 1, idx.Count())

	results, err := idx.Search(ctx, "foo", 10, nil)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, core.DocID(2), results[0].ID)
}

func TestCJKTokenizerSegmentsPerCharacter(t *testing.T) {
	tok := CJKTokenizer{}
	tokens := tok.Tokenize("你好world")
	assert.Equal(t, []string{"你", "好", "world"}, tokens)
}
