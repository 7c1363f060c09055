package andadb

import (
	"context"
	"testing"

	"github.com/ldclabs/anda-db/value"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background())
	require.NoError(t, err)
	return s
}

func TestExecuteFindReturnsBootstrapConceptTypes(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	resp, err := s.Execute(ctx, Request{
		Command: `FIND(?t.name) WHERE { ?t {type:"$ConceptType"} }`,
	})
	require.NoError(t, err)
	require.True(t, resp.OK)
	require.Len(t, resp.Rows, 3)
}

func TestExecuteWithParameterSubstitution(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	resp, err := s.Execute(ctx, Request{
		Command:    `FIND(?t.name) WHERE { ?t {type:$typ} }`,
		Parameters: map[string]value.Value{"typ": value.String("$ConceptType")},
	})
	require.NoError(t, err)
	require.True(t, resp.OK)
	require.Len(t, resp.Rows, 3)
}

func TestExecuteUpsertThenQuery(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	resp, err := s.Execute(ctx, Request{
		Command: `UPSERT {
			CONCEPT ?t { {type:"$ConceptType", name:"Person"} }
		} WITH METADATA {source:"test"}`,
	})
	require.NoError(t, err)
	require.True(t, resp.OK)

	resp, err = s.Execute(ctx, Request{
		Command: `UPSERT {
			CONCEPT ?p { {type:"Person", name:"Alice"} SET ATTRIBUTES {age: 30} }
		} WITH METADATA {source:"test"}`,
	})
	require.NoError(t, err)
	require.True(t, resp.OK)

	resp, err = s.Execute(ctx, Request{
		Command: `FIND(?p.name) WHERE { ?p {type:"Person"} }`,
	})
	require.NoError(t, err)
	require.Len(t, resp.Rows, 1)
	assert.Equal(t, "Alice", resp.Rows[0]["p.name"].Str)
}

func TestExecuteDryRunUnknownTypeReturnsStructuredError(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	resp, err := s.Execute(ctx, Request{
		Command: `DELETE CONCEPT ?x WHERE { ?x {type:"Nonexistent", name:"X"} }`,
		DryRun:  true,
	})
	require.NoError(t, err)
	assert.False(t, resp.OK)
	require.Len(t, resp.Errors, 1)
	assert.Equal(t, "Validation", resp.Errors[0].Kind)
	assert.Equal(t, "type", resp.Errors[0].Path)
}

func TestExecuteDescribePrimer(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	resp, err := s.Execute(ctx, Request{Command: `DESCRIBE { PRIMER }`})
	require.NoError(t, err)
	require.True(t, resp.OK)
	require.Contains(t, resp.Status, "primer")
}
