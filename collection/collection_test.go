package collection

import (
	"context"
	"testing"

	"github.com/ldclabs/anda-db/blobstore"
	"github.com/ldclabs/anda-db/value"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSchema() value.Schema {
	return value.Schema{
		Fields: []value.FieldSpec{
			{Name: "name", Type: value.FieldTypeString, Index: value.IndexScalar},
			{Name: "body", Type: value.FieldTypeString, Index: value.IndexText},
			{Name: "embedding", Type: value.FieldTypeVector, Index: value.IndexVector, Dimension: 4},
		},
	}
}

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	m, err := New(context.Background(), Options{Schema: testSchema()})
	require.NoError(t, err)
	return m
}

func doc(name, body string, vec []float32) value.Document {
	d := value.New()
	d.Set("name", value.String(name))
	d.Set("body", value.String(body))
	d.Set("embedding", value.Vector(vec))
	return d
}

func TestInsertGetRemove(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)

	id, err := m.Insert(ctx, doc("alice", "alice likes cats", []float32{1, 0, 0, 0}))
	require.NoError(t, err)

	got, ok := m.Get(id)
	require.True(t, ok)
	name, _ := got.Get("name")
	assert.Equal(t, "alice", name.Str)

	require.NoError(t, m.Remove(ctx, id))
	_, ok = m.Get(id)
	assert.False(t, ok)

	err = m.Remove(ctx, id)
	assert.Error(t, err)
}

func TestUpdateReindexesChangedFields(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)

	id, err := m.Insert(ctx, doc("alice", "alice likes cats", []float32{1, 0, 0, 0}))
	require.NoError(t, err)

	err = m.Update(ctx, id, map[string]value.Value{
		"name": value.String("alicia"),
	})
	require.NoError(t, err)

	bm, err := m.Query(ctx, AttrEqual{Field: "name", Value: value.String("alicia")})
	require.NoError(t, err)
	assert.Contains(t, bm, id)

	bm, err = m.Query(ctx, AttrEqual{Field: "name", Value: value.String("alice")})
	require.NoError(t, err)
	assert.NotContains(t, bm, id)
}

func TestQueryBooleanComposition(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)

	id1, err := m.Insert(ctx, doc("alice", "alice likes cats", []float32{1, 0, 0, 0}))
	require.NoError(t, err)
	id2, err := m.Insert(ctx, doc("bob", "bob likes dogs", []float32{0, 1, 0, 0}))
	require.NoError(t, err)

	and, err := m.Query(ctx, And{Children: []PlanNode{
		AttrEqual{Field: "name", Value: value.String("alice")},
		TextProbe{Field: "body", Query: "cats", K: 10},
	}})
	require.NoError(t, err)
	require.Len(t, and, 1)
	assert.Equal(t, id1, and[0])

	or, err := m.Query(ctx, Or{Children: []PlanNode{
		AttrEqual{Field: "name", Value: value.String("alice")},
		AttrEqual{Field: "name", Value: value.String("bob")},
	}})
	require.NoError(t, err)
	assert.Len(t, or, 2)

	andNot, err := m.Query(ctx, AndNot{
		Left:  Or{Children: []PlanNode{AttrEqual{Field: "name", Value: value.String("alice")}, AttrEqual{Field: "name", Value: value.String("bob")}}},
		Right: AttrEqual{Field: "name", Value: value.String("bob")},
	})
	require.NoError(t, err)
	require.Len(t, andNot, 1)
	assert.Equal(t, id1, andNot[0])

	_ = id2
}

func TestVectorAndTextSearch(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)

	id1, err := m.Insert(ctx, doc("alice", "alice likes cats very much", []float32{1, 0, 0, 0}))
	require.NoError(t, err)
	_, err = m.Insert(ctx, doc("bob", "bob likes dogs", []float32{0, 1, 0, 0}))
	require.NoError(t, err)

	vhits, err := m.VectorSearch(ctx, "embedding", []float32{1, 0, 0, 0}, 1, 0, nil)
	require.NoError(t, err)
	require.Len(t, vhits, 1)
	assert.Equal(t, id1, vhits[0].ID)

	thits, err := m.TextSearch(ctx, "body", "cats", 10, nil)
	require.NoError(t, err)
	require.NotEmpty(t, thits)
	assert.Equal(t, id1, thits[0].ID)

	fused := FuseRanks(vhits, thits, 0.5, 0.5)
	require.NotEmpty(t, fused)
	assert.Equal(t, id1, fused[0].ID)
}

func TestCheckpointAndReopenRecoversState(t *testing.T) {
	ctx := context.Background()
	blobs := blobstore.NewMemoryStore()

	m, err := New(ctx, Options{Schema: testSchema(), Blobs: blobs})
	require.NoError(t, err)

	id1, err := m.Insert(ctx, doc("alice", "alice likes cats", []float32{1, 0, 0, 0}))
	require.NoError(t, err)
	require.NoError(t, m.Checkpoint(ctx))

	id2, err := m.Insert(ctx, doc("bob", "bob likes dogs", []float32{0, 1, 0, 0}))
	require.NoError(t, err)

	reopened, err := Open(ctx, Options{Schema: testSchema(), Blobs: blobs})
	require.NoError(t, err)

	_, ok := reopened.Get(id1)
	assert.True(t, ok)
	// id2 was never checkpointed and there is no WAL attached, so it is
	// lost on reopen: only the checkpointed state survives without a WAL.
	_, ok = reopened.Get(id2)
	assert.False(t, ok)
}

func TestCheckpointWithWALReplaysUncommittedTail(t *testing.T) {
	ctx := context.Background()
	blobs := blobstore.NewMemoryStore()
	walDir := t.TempDir()

	m, err := New(ctx, Options{Schema: testSchema(), Blobs: blobs, WALDir: walDir})
	require.NoError(t, err)

	id1, err := m.Insert(ctx, doc("alice", "alice likes cats", []float32{1, 0, 0, 0}))
	require.NoError(t, err)
	require.NoError(t, m.Checkpoint(ctx))

	id2, err := m.Insert(ctx, doc("bob", "bob likes dogs", []float32{0, 1, 0, 0}))
	require.NoError(t, err)
	require.NoError(t, m.Close())

	reopened, err := Open(ctx, Options{Schema: testSchema(), Blobs: blobs, WALDir: walDir})
	require.NoError(t, err)

	_, ok := reopened.Get(id1)
	assert.True(t, ok)
	_, ok = reopened.Get(id2)
	assert.True(t, ok)
}
