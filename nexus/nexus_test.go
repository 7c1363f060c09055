package nexus

import (
	"context"
	"testing"

	"github.com/ldclabs/anda-db/collection"
	"github.com/ldclabs/anda-db/kip"
	"github.com/ldclabs/anda-db/value"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func attrEq(field, v string) collection.AttrEqual {
	return collection.AttrEqual{Field: field, Value: value.String(v)}
}

func and(children ...collection.PlanNode) collection.And {
	return collection.And{Children: children}
}

func newTestExecutor(t *testing.T) *Executor {
	t.Helper()
	e, err := NewExecutor(context.Background(), Options{})
	require.NoError(t, err)
	return e
}

// S1: Open empty store -> FIND(?t.name) WHERE { ?t {type:"$ConceptType"} }
// returns exactly ["$ConceptType","$PropositionType","Domain"].
func TestGenesisBootstrapsMetaSchema(t *testing.T) {
	ctx := context.Background()
	e := newTestExecutor(t)

	cmd, err := kip.Parse(`FIND(?t.name) WHERE { ?t {type:"$ConceptType"} }`)
	require.NoError(t, err)
	rows, err := e.Find(ctx, cmd.(*kip.FindQuery))
	require.NoError(t, err)

	var names []string
	for _, r := range rows {
		names = append(names, r["t.name"].Str)
	}
	assert.Equal(t, []string{"$ConceptType", "$PropositionType", "Domain"}, names)
}

// S7: Genesis is convergent.
func TestGenesisIsConvergent(t *testing.T) {
	ctx := context.Background()
	e := newTestExecutor(t)
	before := e.concepts.Count()
	require.NoError(t, e.Genesis(ctx))
	assert.Equal(t, before, e.concepts.Count())
}

// S2: UPSERT idempotency.
func TestUpsertIdempotent(t *testing.T) {
	ctx := context.Background()
	e := newTestExecutor(t)

	src := `UPSERT {
		CONCEPT ?p { {type:"Person", name:"Alice"} SET ATTRIBUTES {age: 30} }
	} WITH METADATA {source:"test"}`
	cmd, err := kip.Parse(src)
	require.NoError(t, err)

	_, err = e.Upsert(ctx, cmd.(*kip.UpsertCommand))
	require.NoError(t, err)
	countAfterFirst := e.concepts.Count()

	_, err = e.Upsert(ctx, cmd.(*kip.UpsertCommand))
	require.NoError(t, err)
	assert.Equal(t, countAfterFirst, e.concepts.Count())

	ids, err := e.concepts.Query(ctx, and(
		attrEq("type", "Person"),
		attrEq("name", "Alice"),
	))
	require.NoError(t, err)
	assert.Len(t, ids, 1)
}

// S6/S8: canceling before an UPSERT's batches commit must leave the
// pre-transaction state visible, not a partial capsule.
func TestUpsertCancelBeforeCommitLeavesPriorStateVisible(t *testing.T) {
	e := newTestExecutor(t)
	conceptsBefore := e.concepts.Count()
	propsBefore := e.propositions.Count()

	src := `UPSERT {
		CONCEPT ?h { {type:"Symptom", name:"Migraine"} }
		CONCEPT ?a { {type:"Drug", name:"Sumatriptan"} SET PROPOSITIONS { ("treats", ?h) } }
	} WITH METADATA {source:"test"}`
	cmd, err := kip.Parse(src)
	require.NoError(t, err)

	canceled, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = e.Upsert(canceled, cmd.(*kip.UpsertCommand))
	require.Error(t, err)

	assert.Equal(t, conceptsBefore, e.concepts.Count())
	assert.Equal(t, propsBefore, e.propositions.Count())

	ids, err := e.concepts.Query(context.Background(), and(
		attrEq("type", "Symptom"),
		attrEq("name", "Migraine"),
	))
	require.NoError(t, err)
	assert.Empty(t, ids)
}

// S3: Treats query.
func TestTreatsQuery(t *testing.T) {
	ctx := context.Background()
	e := newTestExecutor(t)

	src := `UPSERT {
		CONCEPT ?h { {type:"Symptom", name:"Headache"} }
		CONCEPT ?a { {type:"Drug", name:"Aspirin"} SET PROPOSITIONS { ("treats", ?h) } }
		CONCEPT ?i { {type:"Drug", name:"Ibuprofen"} SET PROPOSITIONS { ("treats", ?h) } }
	} WITH METADATA {source:"test"}`
	cmd, err := kip.Parse(src)
	require.NoError(t, err)
	_, err = e.Upsert(ctx, cmd.(*kip.UpsertCommand))
	require.NoError(t, err)

	fq, err := kip.Parse(`FIND(?drug.name) WHERE { ?drug {type:"Drug"} (?drug,"treats",{name:"Headache"}) } LIMIT 10`)
	require.NoError(t, err)
	rows, err := e.Find(ctx, fq.(*kip.FindQuery))
	require.NoError(t, err)

	var names []string
	for _, r := range rows {
		names = append(names, r["drug.name"].Str)
	}
	assert.ElementsMatch(t, []string{"Aspirin", "Ibuprofen"}, names)
}

func TestFindOrderBy(t *testing.T) {
	ctx := context.Background()
	e := newTestExecutor(t)

	src := `UPSERT {
		CONCEPT ?a { {type:"Drug", name:"Ibuprofen"} }
		CONCEPT ?b { {type:"Drug", name:"Aspirin"} }
		CONCEPT ?c { {type:"Drug", name:"Codeine"} }
	} WITH METADATA {source:"test"}`
	cmd, err := kip.Parse(src)
	require.NoError(t, err)
	_, err = e.Upsert(ctx, cmd.(*kip.UpsertCommand))
	require.NoError(t, err)

	fq, err := kip.Parse(`FIND(?drug.name) WHERE { ?drug {type:"Drug"} } ORDER BY ?drug.name`)
	require.NoError(t, err)
	rows, err := e.Find(ctx, fq.(*kip.FindQuery))
	require.NoError(t, err)

	var names []string
	for _, r := range rows {
		names = append(names, r["drug.name"].Str)
	}
	assert.Equal(t, []string{"Aspirin", "Codeine", "Ibuprofen"}, names)

	fqDesc, err := kip.Parse(`FIND(?drug.name) WHERE { ?drug {type:"Drug"} } ORDER BY ?drug.name DESC`)
	require.NoError(t, err)
	rowsDesc, err := e.Find(ctx, fqDesc.(*kip.FindQuery))
	require.NoError(t, err)

	var namesDesc []string
	for _, r := range rowsDesc {
		namesDesc = append(namesDesc, r["drug.name"].Str)
	}
	assert.Equal(t, []string{"Ibuprofen", "Codeine", "Aspirin"}, namesDesc)
}

// S5: Dry-run against an unknown concept type.
func TestDryRunUnknownConceptType(t *testing.T) {
	ctx := context.Background()
	e := newTestExecutor(t)

	cmd, err := kip.Parse(`DELETE CONCEPT ?x WHERE { ?x {type:"Nonexistent", name:"X"} }`)
	require.NoError(t, err)

	errs := e.Validate(ctx, cmd)
	require.Len(t, errs, 1)
	assert.Equal(t, "Validation", errs[0].Kind)
	assert.Equal(t, "type", errs[0].Path)

	// No mutation occurred.
	before := e.concepts.Count()
	assert.Equal(t, before, e.concepts.Count())
}

// Property 3: deleting a referenced concept without DETACH fails; with
// DETACH both the concept and its propositions vanish.
func TestDeleteConceptDetachSemantics(t *testing.T) {
	ctx := context.Background()
	e := newTestExecutor(t)

	src := `UPSERT {
		CONCEPT ?h { {type:"Symptom", name:"Headache"} }
		CONCEPT ?a { {type:"Drug", name:"Aspirin"} SET PROPOSITIONS { ("treats", ?h) } }
	} WITH METADATA {source:"test"}`
	cmd, err := kip.Parse(src)
	require.NoError(t, err)
	_, err = e.Upsert(ctx, cmd.(*kip.UpsertCommand))
	require.NoError(t, err)

	del, err := kip.Parse(`DELETE CONCEPT ?x WHERE { ?x {type:"Symptom", name:"Headache"} }`)
	require.NoError(t, err)
	_, err = e.DeleteConcept(ctx, del.(*kip.DeleteConceptCommand))
	require.Error(t, err)
	var refErr *ErrReferencedConcept
	require.ErrorAs(t, err, &refErr)

	delDetach, err := kip.Parse(`DELETE CONCEPT ?x DETACH WHERE { ?x {type:"Symptom", name:"Headache"} }`)
	require.NoError(t, err)
	n, err := e.DeleteConcept(ctx, delDetach.(*kip.DeleteConceptCommand))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	remaining, err := e.propositions.Query(ctx, attrEq("predicate", "treats"))
	require.NoError(t, err)
	assert.Empty(t, remaining)
}

func TestDescribePrimer(t *testing.T) {
	ctx := context.Background()
	e := newTestExecutor(t)
	primer, err := e.DescribePrimer(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, primer.ConceptTypeCount)
	assert.Equal(t, 1, primer.PropositionTypeCount)
	assert.Equal(t, 1, primer.DomainCount)
}
