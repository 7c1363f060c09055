package nexus

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/ldclabs/anda-db/core"
	"github.com/ldclabs/anda-db/kip"
	"github.com/ldclabs/anda-db/value"
)

// UpsertResult reports the doc_ids assigned or reused by one UPSERT
// capsule, keyed by each concept block's pattern variable, plus a fresh
// id for the capsule's metadata envelope. The envelope id is generated
// per call and never embedded in a concept/proposition document, so
// running the same capsule twice still produces byte-identical concept
// and proposition blobs (spec §8 S2's idempotency).
type UpsertResult struct {
	ConceptIDs map[string]core.DocID
	MetadataID string
}

type conceptKey struct{ typ, name string }

type propKey struct {
	subj, obj core.DocID
	pred      string
}

// Upsert applies a parsed KML UPSERT command (spec §4.6): each concept
// block is merged by (type, name), propositions are upserted by
// (subject_id, predicate, object_id). Every concept write is staged into
// one collection.Batch and every proposition write into another, so each
// collection publishes exactly one combined version swap for the whole
// capsule (spec §4.6: "all writes within one UPSERT...share one
// transaction"; spec §8 S6/S8: canceling before commit must leave the
// pre-transaction state visible). The concept batch commits, then the
// proposition batch commits: a cancellation between the two leaves the
// concept half durable and the proposition half absent rather than
// rolling back the concepts, since a true two-phase commit across two
// independent collections is out of scope here (see DESIGN.md).
func (e *Executor) Upsert(ctx context.Context, cmd *kip.UpsertCommand) (*UpsertResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	varIDs := make(map[string]core.DocID, len(cmd.Blocks))
	conceptBatch := e.concepts.NewBatch()
	staged := make(map[conceptKey]core.DocID, len(cmd.Blocks))

	for _, block := range cmd.Blocks {
		typ, ok := stringField(block.Head, "type")
		if !ok {
			return nil, fmt.Errorf("nexus: concept block %s missing required 'type'", block.Var)
		}
		name, ok := stringField(block.Head, "name")
		if !ok {
			return nil, fmt.Errorf("nexus: concept block %s missing required 'name'", block.Var)
		}
		key := conceptKey{typ: typ, name: name}

		// A (type, name) pair named by an earlier block in this same
		// capsule is already staged (possibly still uncommitted, so the
		// live index lookup below would not see it): merge into it
		// instead of starting a second pending write for the same key.
		if id, ok := staged[key]; ok {
			if len(block.Attributes) > 0 {
				conceptBatch.MergeStaged(id, block.Attributes)
			}
			varIDs[block.Var] = id
			continue
		}

		existingID, existing, found, err := e.findConceptByKey(ctx, typ, name)
		if err != nil {
			return nil, fmt.Errorf("nexus: upsert concept %s: %w", block.Var, err)
		}
		if found {
			merged := mergeAttributes(conceptAttributes(existing), block.Attributes)
			if !attributesEqual(conceptAttributes(existing), merged) {
				if err := conceptBatch.Update(existingID, map[string]value.Value{"attributes": value.Map(merged)}); err != nil {
					return nil, fmt.Errorf("nexus: upsert concept %s: %w", block.Var, err)
				}
			}
			staged[key] = existingID
			varIDs[block.Var] = existingID
			continue
		}

		doc := value.New()
		doc.Set("type", value.String(typ))
		doc.Set("name", value.String(name))
		if len(block.Attributes) > 0 {
			doc.Set("attributes", value.Map(block.Attributes))
		}
		id := conceptBatch.Insert(doc)
		staged[key] = id
		varIDs[block.Var] = id
	}

	propBatch := e.propositions.NewBatch()
	stagedProp := make(map[propKey]struct{})

	for _, block := range cmd.Blocks {
		subjID := varIDs[block.Var]
		for _, pair := range block.Propositions {
			objID, err := e.resolvePropositionTarget(ctx, pair.Target, varIDs)
			if err != nil {
				return nil, fmt.Errorf("nexus: resolve proposition target for %s: %w", block.Var, err)
			}
			pk := propKey{subj: subjID, obj: objID, pred: pair.Pred}
			if _, ok := stagedProp[pk]; ok {
				continue
			}
			if _, found, err := e.findProposition(ctx, subjID, pair.Pred, objID); err != nil {
				return nil, fmt.Errorf("nexus: upsert proposition (%s,%s): %w", block.Var, pair.Pred, err)
			} else if found {
				stagedProp[pk] = struct{}{}
				continue
			}

			doc := value.New()
			doc.Set("subject_id", value.I64(int64(subjID)))
			doc.Set("predicate", value.String(pair.Pred))
			doc.Set("object_id", value.I64(int64(objID)))
			propBatch.Insert(doc)
			stagedProp[pk] = struct{}{}
		}
	}

	if err := conceptBatch.Commit(ctx); err != nil {
		return nil, fmt.Errorf("nexus: commit concepts: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := propBatch.Commit(ctx); err != nil {
		return nil, fmt.Errorf("nexus: commit propositions: %w", err)
	}

	return &UpsertResult{ConceptIDs: varIDs, MetadataID: uuid.NewString()}, nil
}

// resolvePropositionTarget resolves a proposition's object term: a
// variable bound by an earlier block in this same capsule, or an inline
// concept reference looked up (not created) by (type, name) against the
// live index — so it only ever resolves concepts that existed before
// this capsule started, never one a sibling block is staging now.
func (e *Executor) resolvePropositionTarget(ctx context.Context, t kip.Term, varIDs map[string]core.DocID) (core.DocID, error) {
	if t.IsVar() {
		id, ok := varIDs[t.Var]
		if !ok {
			return 0, fmt.Errorf("nexus: proposition target ?%s is not bound by any concept block in this capsule", t.Var)
		}
		return id, nil
	}
	typ, _ := stringField(t.Fields, "type")
	name, ok := stringField(t.Fields, "name")
	if !ok {
		return 0, fmt.Errorf("nexus: inline proposition target must specify at least 'name'")
	}
	ids, err := e.resolveConceptFields(ctx, map[string]value.Value{"name": value.String(name)})
	if err != nil {
		return 0, err
	}
	if typ != "" {
		ids, err = e.resolveConceptFields(ctx, t.Fields)
		if err != nil {
			return 0, err
		}
	}
	if len(ids) == 0 {
		return 0, fmt.Errorf("nexus: no concept matches inline proposition target %v", t.Fields)
	}
	return ids[0], nil
}

func stringField(fields map[string]value.Value, key string) (string, bool) {
	v, ok := fields[key]
	if !ok || v.Kind != value.KindString {
		return "", false
	}
	return v.Str, true
}
