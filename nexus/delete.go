package nexus

import (
	"context"
	"fmt"

	"github.com/ldclabs/anda-db/collection"
	"github.com/ldclabs/anda-db/core"
	"github.com/ldclabs/anda-db/kip"
	"github.com/ldclabs/anda-db/value"
)

// ErrReferencedConcept is returned by DeleteConcept without DETACH when
// a live proposition still references the target concept.
type ErrReferencedConcept struct{ ID core.DocID }

func (e *ErrReferencedConcept) Error() string {
	return fmt.Sprintf("nexus: concept %d is still referenced by a proposition; use DETACH", e.ID)
}

func (e *Executor) conceptPatternOf(cmd *kip.DeleteConceptCommand) (kip.ConceptPattern, error) {
	for _, p := range cmd.Patterns {
		if cp, ok := p.(kip.ConceptPattern); ok && cp.Var == cmd.Var {
			return cp, nil
		}
	}
	return kip.ConceptPattern{}, fmt.Errorf("nexus: DELETE CONCEPT ?%s has no matching WHERE pattern", cmd.Var)
}

// referencingPropositions returns the ids of propositions mentioning id
// either as subject or object.
func (e *Executor) referencingPropositions(ctx context.Context, id core.DocID) ([]core.DocID, error) {
	return e.propositions.Query(ctx, collection.Or{Children: []collection.PlanNode{
		collection.AttrEqual{Field: "subject_id", Value: value.I64(int64(id))},
		collection.AttrEqual{Field: "object_id", Value: value.I64(int64(id))},
	}})
}

// DeleteConcept applies a parsed `DELETE CONCEPT ?x [DETACH] WHERE {...}`
// (spec §4.6): without DETACH, deletion fails if any proposition
// references the concept; with DETACH, referencing propositions are
// removed first.
func (e *Executor) DeleteConcept(ctx context.Context, cmd *kip.DeleteConceptCommand) (int, error) {
	pattern, err := e.conceptPatternOf(cmd)
	if err != nil {
		return 0, err
	}
	ids, err := e.resolveConceptFields(ctx, pattern.Fields)
	if err != nil {
		return 0, err
	}

	deleted := 0
	for _, id := range ids {
		refs, err := e.referencingPropositions(ctx, id)
		if err != nil {
			return deleted, err
		}
		if len(refs) > 0 && !cmd.Detach {
			return deleted, &ErrReferencedConcept{ID: id}
		}
		for _, pid := range refs {
			if err := e.propositions.Remove(ctx, pid); err != nil {
				return deleted, err
			}
		}
		if err := e.concepts.Remove(ctx, id); err != nil {
			return deleted, err
		}
		deleted++
	}
	return deleted, nil
}

// DeleteProposition applies a parsed
// `DELETE PROPOSITION (...) WHERE {...}`.
func (e *Executor) DeleteProposition(ctx context.Context, cmd *kip.DeletePropositionCommand) (int, error) {
	bindings, err := e.evalPatterns(ctx, cmd.Patterns)
	if err != nil {
		return 0, err
	}

	subjConstraint, err := e.resolveTerm(ctx, cmd.Triple.Subj, bindings)
	if err != nil {
		return 0, err
	}
	objConstraint, err := e.resolveTerm(ctx, cmd.Triple.Obj, bindings)
	if err != nil {
		return 0, err
	}

	propIDs, err := e.propositions.Query(ctx, collection.AttrEqual{Field: "predicate", Value: value.String(cmd.Triple.Pred)})
	if err != nil {
		return 0, err
	}

	deleted := 0
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
		if err := e.propositions.Remove(ctx, pid); err != nil {
			return deleted, err
		}
		deleted++
	}
	return deleted, nil
}
