package btree

import (
	"bytes"
	"context"
	"testing"

	"github.com/ldclabs/anda-db/core"
	"github.com/ldclabs/anda-db/value"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustKey(t *testing.T, v value.Value) []byte {
	t.Helper()
	k, err := EncodeKey(v)
	require.NoError(t, err)
	return k
}

func TestEqualLookup(t *testing.T) {
	ctx := context.Background()
	tr := New()

	kAlice := mustKey(t, value.String("alice"))
	kBob := mustKey(t, value.String("bob"))
	require.NoError(t, tr.Insert(ctx, kAlice, core.DocID(1)))
	require.NoError(t, tr.Insert(ctx, kAlice, core.DocID(2)))
	require.NoError(t, tr.Insert(ctx, kBob, core.DocID(3)))

	bm, err := tr.Equal(ctx, kAlice)
	require.NoError(t, err)
	assert.ElementsMatch(t, []uint32{1, 2}, bm.ToArray())

	bm, err = tr.Equal(ctx, mustKey(t, value.String("carol")))
	require.NoError(t, err)
	assert.True(t, bm.IsEmpty())
}

func TestNumericOrdering(t *testing.T) {
	ctx := context.Background()
	tr := New()

	for i := -5; i <= 5; i++ {
		require.NoError(t, tr.Insert(ctx, mustKey(t, value.I64(int64(i))), core.DocID(i+100)))
	}

	lo := mustKey(t, value.I64(0))
	hi := mustKey(t, value.I64(3))
	bm, err := tr.Range(ctx, lo, hi)
	require.NoError(t, err)
	assert.ElementsMatch(t, []uint32{100, 101, 102}, bm.ToArray())
}

func TestPrefixQuery(t *testing.T) {
	ctx := context.Background()
	tr := New()

	require.NoError(t, tr.Insert(ctx, mustKey(t, value.String("app")), core.DocID(1)))
	require.NoError(t, tr.Insert(ctx, mustKey(t, value.String("apple")), core.DocID(2)))
	require.NoError(t, tr.Insert(ctx, mustKey(t, value.String("application")), core.DocID(3)))
	require.NoError(t, tr.Insert(ctx, mustKey(t, value.String("banana")), core.DocID(4)))

	bm, err := tr.Prefix(ctx, mustKey(t, value.String("app")))
	require.NoError(t, err)
	assert.ElementsMatch(t, []uint32{1, 2, 3}, bm.ToArray())
}

func TestRemoveClearsPosting(t *testing.T) {
	ctx := context.Background()
	tr := New()
	k := mustKey(t, value.String("x"))
	require.NoError(t, tr.Insert(ctx, k, core.DocID(1)))
	require.NoError(t, tr.Insert(ctx, k, core.DocID(2)))

	require.NoError(t, tr.Remove(ctx, k, core.DocID(1)))

	bm, err := tr.Equal(ctx, k)
	require.NoError(t, err)
	assert.ElementsMatch(t, []uint32{2}, bm.ToArray())
}

func TestSplitsPreserveOrdering(t *testing.T) {
	ctx := context.Background()
	tr := New(func(o *Options) { o.Order = 4 })

	const n = 500
	for i := 0; i < n; i++ {
		require.NoError(t, tr.Insert(ctx, mustKey(t, value.I64(int64(i))), core.DocID(i)))
	}
	assert.Equal(t, n, tr.Count())

	bm, err := tr.Range(ctx, mustKey(t, value.I64(100)), mustKey(t, value.I64(110)))
	require.NoError(t, err)
	expect := make([]uint32, 0, 10)
	for i := 100; i < 110; i++ {
		expect = append(expect, uint32(i))
	}
	assert.ElementsMatch(t, expect, bm.ToArray())
}

func TestSnapshotLoadRoundTrip(t *testing.T) {
	ctx := context.Background()
	tr := New(func(o *Options) { o.Order = 4 })
	for i := 0; i < 50; i++ {
		require.NoError(t, tr.Insert(ctx, mustKey(t, value.I64(int64(i))), core.DocID(i)))
	}

	var buf bytes.Buffer
	require.NoError(t, tr.Snapshot(&buf))

	loaded, err := Load(&buf, "")
	require.NoError(t, err)
	assert.Equal(t, tr.Count(), loaded.Count())

	bm, err := loaded.Range(ctx, mustKey(t, value.I64(10)), mustKey(t, value.I64(20)))
	require.NoError(t, err)
	expect := make([]uint32, 0, 10)
	for i := 10; i < 20; i++ {
		expect = append(expect, uint32(i))
	}
	assert.ElementsMatch(t, expect, bm.ToArray())
}

func TestEncodeKeyOrderingMatchesValueOrdering(t *testing.T) {
	neg := mustKey(t, value.F64(-3.5))
	zero := mustKey(t, value.F64(0))
	pos := mustKey(t, value.F64(3.5))
	assert.True(t, bytes.Compare(neg, zero) < 0)
	assert.True(t, bytes.Compare(zero, pos) < 0)
}
