package kip

import (
	"testing"

	"github.com/ldclabs/anda-db/value"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFindQuery(t *testing.T) {
	cmd, err := Parse(`FIND(?drug.name) WHERE { ?drug {type:"Drug"} (?drug,"treats",{name:"Headache"}) } LIMIT 10`)
	require.NoError(t, err)
	fq, ok := cmd.(*FindQuery)
	require.True(t, ok)
	require.Len(t, fq.Projections, 1)
	assert.Equal(t, "drug", fq.Projections[0].Var)
	assert.Equal(t, "name", fq.Projections[0].Field)
	require.Len(t, fq.Patterns, 2)

	cp, ok := fq.Patterns[0].(ConceptPattern)
	require.True(t, ok)
	assert.Equal(t, "drug", cp.Var)
	assert.Equal(t, "Drug", cp.Fields["type"].Str)

	tp, ok := fq.Patterns[1].(TriplePattern)
	require.True(t, ok)
	assert.Equal(t, "drug", tp.Subj.Var)
	assert.Equal(t, "treats", tp.Pred)
	assert.Equal(t, "Headache", tp.Obj.Fields["name"].Str)

	require.NotNil(t, fq.Limit)
	assert.Equal(t, 10, *fq.Limit)
}

func TestParseFindQueryOrderBy(t *testing.T) {
	cmd, err := Parse(`FIND(?drug.name) WHERE { ?drug {type:"Drug"} } ORDER BY ?drug.name DESC, ?drug.dose LIMIT 5`)
	require.NoError(t, err)
	fq, ok := cmd.(*FindQuery)
	require.True(t, ok)
	require.Len(t, fq.OrderBy, 2)
	assert.Equal(t, "drug", fq.OrderBy[0].Var)
	assert.Equal(t, "name", fq.OrderBy[0].Field)
	assert.True(t, fq.OrderBy[0].Desc)
	assert.Equal(t, "drug", fq.OrderBy[1].Var)
	assert.Equal(t, "dose", fq.OrderBy[1].Field)
	assert.False(t, fq.OrderBy[1].Desc)
}

func TestParseUpsert(t *testing.T) {
	src := `UPSERT {
		CONCEPT ?x {
			{type:"Person", name:"Alice"}
			SET ATTRIBUTES {age: 30}
			SET PROPOSITIONS { ("knows", ?y) }
		}
	} WITH METADATA {source:"test"}`
	cmd, err := Parse(src)
	require.NoError(t, err)
	up, ok := cmd.(*UpsertCommand)
	require.True(t, ok)
	require.Len(t, up.Blocks, 1)
	block := up.Blocks[0]
	assert.Equal(t, "Person", block.Head["type"].Str)
	assert.Equal(t, "Alice", block.Head["name"].Str)
	assert.Equal(t, int64(30), block.Attributes["age"].I64)
	require.Len(t, block.Propositions, 1)
	assert.Equal(t, "knows", block.Propositions[0].Pred)
	assert.Equal(t, "y", block.Propositions[0].Target.Var)
	assert.Equal(t, "test", up.Metadata["source"].Str)
}

func TestParseDeleteConceptDetach(t *testing.T) {
	cmd, err := Parse(`DELETE CONCEPT ?x DETACH WHERE { ?x {type:"Drug", name:"Aspirin"} }`)
	require.NoError(t, err)
	del, ok := cmd.(*DeleteConceptCommand)
	require.True(t, ok)
	assert.True(t, del.Detach)
	require.Len(t, del.Patterns, 1)
}

func TestParseDeleteProposition(t *testing.T) {
	cmd, err := Parse(`DELETE PROPOSITION (?drug,"treats",?sym) WHERE { ?drug {type:"Drug"} }`)
	require.NoError(t, err)
	del, ok := cmd.(*DeletePropositionCommand)
	require.True(t, ok)
	assert.Equal(t, "treats", del.Triple.Pred)
	require.Len(t, del.Patterns, 1)
}

func TestParseDescribeVariants(t *testing.T) {
	cases := []struct {
		src  string
		kind DescribeKind
	}{
		{`DESCRIBE { PRIMER }`, DescribePrimerKind},
		{`DESCRIBE { CONCEPT TYPES }`, DescribeConceptTypes},
		{`DESCRIBE { CONCEPT TYPE "Drug" }`, DescribeConceptType},
		{`DESCRIBE { PROPOSITION TYPES }`, DescribePropositionTypes},
	}
	for _, c := range cases {
		cmd, err := Parse(c.src)
		require.NoError(t, err, c.src)
		d, ok := cmd.(*DescribeCommand)
		require.True(t, ok)
		assert.Equal(t, c.kind, d.Kind)
	}
	cmd, err := Parse(`DESCRIBE { CONCEPT TYPE "Drug" }`)
	require.NoError(t, err)
	assert.Equal(t, "Drug", cmd.(*DescribeCommand).TypeName)
}

func TestParseErrorReportsLocation(t *testing.T) {
	_, err := Parse(`FIND(?x WHERE { ?x {type:"T"} }`)
	require.Error(t, err)
	var perr *ParseError
	require.ErrorAs(t, err, &perr)
	assert.Greater(t, perr.Line, 0)
}

func TestSubstituteTypesParameters(t *testing.T) {
	out, err := Substitute(`FIND(?x.name) WHERE { ?x {type:$t, count:$n} }`, map[string]value.Value{
		"t": value.String("Drug"),
		"n": value.I64(5),
	})
	require.NoError(t, err)
	assert.Equal(t, `FIND(?x.name) WHERE { ?x {type:"Drug", count:5} }`, out)

	cmd, err := Parse(out)
	require.NoError(t, err)
	fq := cmd.(*FindQuery)
	cp := fq.Patterns[0].(ConceptPattern)
	assert.Equal(t, "Drug", cp.Fields["type"].Str)
	assert.Equal(t, int64(5), cp.Fields["count"].I64)
}

func TestSubstituteUnresolvedParameterErrors(t *testing.T) {
	_, err := Substitute(`FIND(?x.name) WHERE { ?x {type:$missing} }`, nil)
	assert.Error(t, err)
}
