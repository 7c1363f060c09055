// Package nexus implements the Cognitive Nexus (spec §4.6): it executes
// planned KIP requests against the concept and proposition collections,
// layering genesis bootstrap, UPSERT merge-by-key semantics, DETACH-aware
// deletion, and META introspection on top of the Collection Manager.
package nexus

import (
	"context"
	"fmt"

	anda "github.com/ldclabs/anda-db"
	"github.com/ldclabs/anda-db/blobstore"
	"github.com/ldclabs/anda-db/collection"
	"github.com/ldclabs/anda-db/core"
	"github.com/ldclabs/anda-db/resource"
	"github.com/ldclabs/anda-db/value"
	"golang.org/x/sync/errgroup"
)

// Concept type and field names fixed by the bootstrap capsule (spec
// §4.6).
const (
	TypeConceptType     = "$ConceptType"
	TypePropositionType = "$PropositionType"
	TypeDomain          = "Domain"
	PredBelongsToDomain = "belongs_to_domain"
	CoreSchemaDomain    = "CoreSchema"
)

// Options configures a new Executor.
type Options struct {
	Blobs     blobstore.Store
	WALDir    string
	Logger    *anda.Logger
	Resources *resource.Controller
}

// Executor coordinates the concept collection and the proposition
// collection behind one Cognitive Nexus.
type Executor struct {
	concepts     *collection.Manager
	propositions *collection.Manager
	logger       *anda.Logger
}

func conceptSchema() value.Schema {
	return value.Schema{Fields: []value.FieldSpec{
		{Name: "type", Type: value.FieldTypeString, Index: value.IndexScalar, Required: true},
		{Name: "name", Type: value.FieldTypeString, Index: value.IndexScalar, Required: true},
		{Name: "attributes", Type: value.FieldTypeMap, Index: value.IndexNone},
	}}
}

func propositionSchema() value.Schema {
	return value.Schema{Fields: []value.FieldSpec{
		{Name: "subject_id", Type: value.FieldTypeInt, Index: value.IndexScalar, Required: true},
		{Name: "predicate", Type: value.FieldTypeString, Index: value.IndexScalar, Required: true},
		{Name: "object_id", Type: value.FieldTypeInt, Index: value.IndexScalar, Required: true},
	}}
}

// NewExecutor wires the concept/proposition collections and runs genesis
// if the meta-schema has not yet been bootstrapped (spec §4.6: "on first
// open, if $ConceptType is absent, the executor atomically UPSERTs the
// bootstrap capsule").
func NewExecutor(ctx context.Context, opts Options) (*Executor, error) {
	if opts.Blobs == nil {
		opts.Blobs = blobstore.NewMemoryStore()
	}
	if opts.Logger == nil {
		opts.Logger = anda.NoopLogger()
	}

	conceptOpts := collection.Options{
		Schema:    conceptSchema(),
		Blobs:     newPrefixedStore(opts.Blobs, "concepts"),
		Logger:    opts.Logger,
		Resources: opts.Resources,
	}
	propOpts := collection.Options{
		Schema:    propositionSchema(),
		Blobs:     newPrefixedStore(opts.Blobs, "propositions"),
		Logger:    opts.Logger,
		Resources: opts.Resources,
	}
	if opts.WALDir != "" {
		conceptOpts.WALDir = opts.WALDir + "/concepts"
		propOpts.WALDir = opts.WALDir + "/propositions"
	}

	// The concept and proposition collections are independent stores
	// under distinct blob prefixes, so opening (and, in Checkpoint,
	// flushing) them is a genuine fan-out rather than serialized work.
	var concepts, propositions *collection.Manager
	eg, egCtx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		var err error
		concepts, err = collection.Open(egCtx, conceptOpts)
		if err != nil {
			return fmt.Errorf("nexus: open concepts: %w", err)
		}
		return nil
	})
	eg.Go(func() error {
		var err error
		propositions, err = collection.Open(egCtx, propOpts)
		if err != nil {
			return fmt.Errorf("nexus: open propositions: %w", err)
		}
		return nil
	})
	if err := eg.Wait(); err != nil {
		return nil, err
	}

	e := &Executor{concepts: concepts, propositions: propositions, logger: opts.Logger}
	if err := e.Genesis(ctx); err != nil {
		return nil, fmt.Errorf("nexus: genesis: %w", err)
	}
	return e, nil
}

// Close releases the executor's underlying collections.
func (e *Executor) Close() error {
	if err := e.concepts.Close(); err != nil {
		return err
	}
	return e.propositions.Close()
}

// Checkpoint flushes both collections to durable storage concurrently.
func (e *Executor) Checkpoint(ctx context.Context) error {
	eg, egCtx := errgroup.WithContext(ctx)
	eg.Go(func() error { return e.concepts.Checkpoint(egCtx) })
	eg.Go(func() error { return e.propositions.Checkpoint(egCtx) })
	return eg.Wait()
}

func conceptAttributes(doc value.Document) map[string]value.Value {
	if fv, ok := doc.Get("attributes"); ok && fv.Kind == value.KindMap {
		return fv.Map
	}
	return nil
}

// findConceptByKey looks up the unique concept with (type, name), if any.
func (e *Executor) findConceptByKey(ctx context.Context, typ, name string) (core.DocID, value.Document, bool, error) {
	ids, err := e.concepts.Query(ctx, collection.And{Children: []collection.PlanNode{
		collection.AttrEqual{Field: "type", Value: value.String(typ)},
		collection.AttrEqual{Field: "name", Value: value.String(name)},
	}})
	if err != nil {
		return 0, value.Document{}, false, err
	}
	if len(ids) == 0 {
		return 0, value.Document{}, false, nil
	}
	doc, ok := e.concepts.Get(ids[0])
	if !ok {
		return 0, value.Document{}, false, nil
	}
	return ids[0], doc, true, nil
}

// upsertConcept merges-by-(type, name): an existing concept's attributes
// are merged (new keys added, existing keys overwritten), reusing its
// doc_id; otherwise a new concept is created (spec §4.6).
func (e *Executor) upsertConcept(ctx context.Context, typ, name string, attrs map[string]value.Value) (core.DocID, error) {
	id, existing, found, err := e.findConceptByKey(ctx, typ, name)
	if err != nil {
		return 0, err
	}
	if !found {
		doc := value.New()
		doc.Set("type", value.String(typ))
		doc.Set("name", value.String(name))
		if attrs != nil {
			doc.Set("attributes", value.Map(attrs))
		}
		return e.concepts.Insert(ctx, doc)
	}

	merged := mergeAttributes(conceptAttributes(existing), attrs)
	if attributesEqual(conceptAttributes(existing), merged) {
		return id, nil
	}
	patch := map[string]value.Value{"attributes": value.Map(merged)}
	if err := e.concepts.Update(ctx, id, patch); err != nil {
		return 0, err
	}
	return id, nil
}

func mergeAttributes(existing, patch map[string]value.Value) map[string]value.Value {
	merged := make(map[string]value.Value, len(existing)+len(patch))
	for k, v := range existing {
		merged[k] = v
	}
	for k, v := range patch {
		merged[k] = v
	}
	return merged
}

func attributesEqual(a, b map[string]value.Value) bool {
	if len(a) != len(b) {
		return false
	}
	for k, av := range a {
		bv, ok := b[k]
		if !ok || !value.Equal(av, bv) {
			return false
		}
	}
	return true
}

// findProposition looks up an existing proposition by its (subject_id,
// predicate, object_id) key.
func (e *Executor) findProposition(ctx context.Context, subj core.DocID, pred string, obj core.DocID) (core.DocID, bool, error) {
	ids, err := e.propositions.Query(ctx, collection.And{Children: []collection.PlanNode{
		collection.AttrEqual{Field: "subject_id", Value: value.I64(int64(subj))},
		collection.AttrEqual{Field: "predicate", Value: value.String(pred)},
		collection.AttrEqual{Field: "object_id", Value: value.I64(int64(obj))},
	}})
	if err != nil {
		return 0, false, err
	}
	if len(ids) == 0 {
		return 0, false, nil
	}
	return ids[0], true, nil
}

// upsertProposition is idempotent on the (subject_id, predicate,
// object_id) key (spec §4.6).
func (e *Executor) upsertProposition(ctx context.Context, subj core.DocID, pred string, obj core.DocID) (core.DocID, error) {
	if id, found, err := e.findProposition(ctx, subj, pred, obj); err != nil {
		return 0, err
	} else if found {
		return id, nil
	}
	doc := value.New()
	doc.Set("subject_id", value.I64(int64(subj)))
	doc.Set("predicate", value.String(pred))
	doc.Set("object_id", value.I64(int64(obj)))
	return e.propositions.Insert(ctx, doc)
}
