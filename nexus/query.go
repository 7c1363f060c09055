package nexus

import (
	"context"
	"fmt"
	"sort"

	"github.com/ldclabs/anda-db/collection"
	"github.com/ldclabs/anda-db/core"
	"github.com/ldclabs/anda-db/kip"
	"github.com/ldclabs/anda-db/value"
)

// Row is one FIND result: a binding from projected "?var.field" to value.
type Row map[string]value.Value

// bindingSet maps a pattern variable to the set of concept ids it may
// be bound to, narrowed by each pattern that mentions the variable.
type bindingSet map[string]map[core.DocID]struct{}

func newBindingSet() bindingSet { return make(bindingSet) }

func idsToSet(ids []core.DocID) map[core.DocID]struct{} {
	s := make(map[core.DocID]struct{}, len(ids))
	for _, id := range ids {
		s[id] = struct{}{}
	}
	return s
}

func intersectSet(a, b map[core.DocID]struct{}) map[core.DocID]struct{} {
	if a == nil {
		return b
	}
	out := make(map[core.DocID]struct{})
	for id := range a {
		if _, ok := b[id]; ok {
			out[id] = struct{}{}
		}
	}
	return out
}

func (b bindingSet) narrow(v string, ids map[core.DocID]struct{}) {
	b[v] = intersectSet(b[v], ids)
}

// resolveConceptFields runs the bitmap-narrowing field lookups an
// equality filter implies, then verifies every requested field
// (including ones with no attribute index) against the live document, so
// a pattern on a non-indexed attribute still filters correctly (spec
// §4.5: "equality on (type,name) -> BTI unique lookup").
func (e *Executor) resolveConceptFields(ctx context.Context, fields map[string]value.Value) ([]core.DocID, error) {
	var indexed []collection.PlanNode
	for _, k := range []string{"type", "name"} {
		if v, ok := fields[k]; ok {
			indexed = append(indexed, collection.AttrEqual{Field: k, Value: v})
		}
	}
	var candidates []core.DocID
	var err error
	if len(indexed) > 0 {
		candidates, err = e.concepts.Query(ctx, collection.And{Children: indexed})
	} else {
		candidates, err = e.concepts.Query(ctx, collection.AttrRange{Field: "type"})
	}
	if err != nil {
		return nil, err
	}

	out := candidates[:0]
	for _, id := range candidates {
		doc, ok := e.concepts.Get(id)
		if !ok {
			continue
		}
		if conceptMatchesFields(doc, fields) {
			out = append(out, id)
		}
	}
	return out, nil
}

func conceptMatchesFields(doc value.Document, fields map[string]value.Value) bool {
	for k, want := range fields {
		got, ok := doc.Get(k)
		if !ok || !value.Equal(got, want) {
			return false
		}
	}
	return true
}

func (e *Executor) resolveTerm(ctx context.Context, t kip.Term, bindings bindingSet) (map[core.DocID]struct{}, error) {
	if t.IsVar() {
		return bindings[t.Var], nil
	}
	ids, err := e.resolveConceptFields(ctx, t.Fields)
	if err != nil {
		return nil, err
	}
	return idsToSet(ids), nil
}

// resolveTriple narrows bindings for Subj/Obj based on the set of live
// propositions matching Pred and any already-known constraint on either
// end. It brute-force-filters over propositions carrying Pred, which is
// simple and correct for the scale this executor targets; a production
// planner would instead intersect subject_id/object_id/predicate posting
// bitmaps directly (spec §4.5).
func (e *Executor) resolveTriple(ctx context.Context, tp kip.TriplePattern, bindings bindingSet) error {
	subjConstraint, err := e.resolveTerm(ctx, tp.Subj, bindings)
	if err != nil {
		return err
	}
	objConstraint, err := e.resolveTerm(ctx, tp.Obj, bindings)
	if err != nil {
		return err
	}

	propIDs, err := e.propositions.Query(ctx, collection.AttrEqual{Field: "predicate", Value: value.String(tp.Pred)})
	if err != nil {
		return err
	}

	subjFound := make(map[core.DocID]struct{})
	objFound := make(map[core.DocID]struct{})
	for _, pid := range propIDs {
		doc, ok := e.propositions.Get(pid)
		if !ok {
			continue
		}
		subjVal, _ := doc.Get("subject_id")
		objVal, _ := doc.Get("object_id")
		subjID := core.DocID(subjVal.I64)
		objID := core.DocID(objVal.I64)

		if subjConstraint != nil {
			if _, ok := subjConstraint[subjID]; !ok {
				continue
			}
		}
		if objConstraint != nil {
			if _, ok := objConstraint[objID]; !ok {
				continue
			}
		}
		subjFound[subjID] = struct{}{}
		objFound[objID] = struct{}{}
	}

	if tp.Subj.IsVar() {
		bindings.narrow(tp.Subj.Var, subjFound)
	}
	if tp.Obj.IsVar() {
		bindings.narrow(tp.Obj.Var, objFound)
	}
	return nil
}

// evalPatterns narrows one bindingSet across every pattern, in order.
func (e *Executor) evalPatterns(ctx context.Context, patterns []kip.Pattern) (bindingSet, error) {
	bindings := newBindingSet()
	for _, p := range patterns {
		switch pat := p.(type) {
		case kip.ConceptPattern:
			ids, err := e.resolveConceptFields(ctx, pat.Fields)
			if err != nil {
				return nil, err
			}
			bindings.narrow(pat.Var, idsToSet(ids))
		case kip.TriplePattern:
			if err := e.resolveTriple(ctx, pat, bindings); err != nil {
				return nil, err
			}
		default:
			return nil, fmt.Errorf("nexus: unsupported pattern type %T", p)
		}
	}
	return bindings, nil
}

// Find executes a parsed KQL FIND query (spec §4.5).
func (e *Executor) Find(ctx context.Context, fq *kip.FindQuery) ([]Row, error) {
	bindings, err := e.evalPatterns(ctx, fq.Patterns)
	if err != nil {
		return nil, err
	}

	// All projected variables must be bound by some pattern; the
	// smallest-cardinality bound variable anchors the result order
	// (ascending doc_id, which matches insertion order for this
	// executor since ids are assigned sequentially). Projecting more
	// than one distinct variable in a single FIND is not yet supported.
	var anchorVar string
	for _, proj := range fq.Projections {
		ids, ok := bindings[proj.Var]
		if !ok {
			return nil, fmt.Errorf("nexus: variable ?%s is never bound by a pattern", proj.Var)
		}
		if anchorVar == "" || len(ids) < len(bindings[anchorVar]) {
			anchorVar = proj.Var
		}
	}
	if anchorVar == "" {
		return nil, nil
	}
	ordered := setToSortedSlice(bindings[anchorVar])

	if len(fq.OrderBy) > 0 {
		ordered = e.sortByOrderBy(ordered, anchorVar, fq.OrderBy)
	}

	rows := make([]Row, 0, len(ordered))
	for _, id := range ordered {
		doc, ok := e.concepts.Get(id)
		if !ok {
			continue
		}
		row := Row{}
		for _, proj := range fq.Projections {
			if proj.Var != anchorVar {
				continue
			}
			if proj.Field == "" {
				row[proj.Var] = value.I64(int64(id))
				continue
			}
			fv, _ := doc.Get(proj.Field)
			row[proj.Var+"."+proj.Field] = fv
		}
		rows = append(rows, row)
	}

	if fq.Offset != nil && *fq.Offset < len(rows) {
		rows = rows[*fq.Offset:]
	} else if fq.Offset != nil {
		rows = nil
	}
	if fq.Limit != nil && *fq.Limit < len(rows) {
		rows = rows[:*fq.Limit]
	}
	return rows, nil
}

func setToSortedSlice(s map[core.DocID]struct{}) []core.DocID {
	out := make([]core.DocID, 0, len(s))
	for id := range s {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// sortByOrderBy reorders ids by fq.OrderBy (spec §4.5's FIND grammar),
// applying each term left-to-right as a tiebreaker for the ones before
// it, the way a SQL ORDER BY list does. Terms naming a variable other
// than anchorVar are skipped: Find only resolves anchorVar's concept
// document, so there is no field value to order by for any other
// variable. ids keeps its original ascending doc_id order as the final
// tiebreaker, via sort.SliceStable.
func (e *Executor) sortByOrderBy(ids []core.DocID, anchorVar string, terms []kip.OrderTerm) []core.DocID {
	docs := make(map[core.DocID]value.Document, len(ids))
	for _, id := range ids {
		if doc, ok := e.concepts.Get(id); ok {
			docs[id] = doc
		}
	}

	out := make([]core.DocID, len(ids))
	copy(out, ids)

	for i := len(terms) - 1; i >= 0; i-- {
		term := terms[i]
		if term.Var != anchorVar {
			continue
		}
		t := term
		sort.SliceStable(out, func(a, b int) bool {
			av, aok := docs[out[a]].Get(t.Field)
			bv, bok := docs[out[b]].Get(t.Field)
			if !aok || !bok {
				return false
			}
			if t.Desc {
				return value.Less(bv, av)
			}
			return value.Less(av, bv)
		})
	}
	return out
}
