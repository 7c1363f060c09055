package collection

import (
	"context"
	"fmt"

	anda "github.com/ldclabs/anda-db"
	"github.com/ldclabs/anda-db/core"
	"github.com/ldclabs/anda-db/value"
)

// pendingDoc is one document staged into a Batch: its final content,
// and (for an update) the previously-committed content it replaces, so
// Commit can unindex the old field values before indexing the new ones.
type pendingDoc struct {
	id  core.DocID
	doc value.Document
	old *value.Document
}

// Batch stages document inserts/updates against one Manager without
// touching its indexes, blobs, or version pointer, so the whole group
// commits as a single MVCC version swap (spec §4.6: "all writes within
// one ... share one transaction"; spec §8: a canceled transaction must
// leave the pre-transaction state fully visible). Nothing staged in a
// Batch is observable through the Manager until Commit succeeds.
type Batch struct {
	m    *Manager
	docs []pendingDoc
}

// NewBatch creates an empty Batch against m.
func (m *Manager) NewBatch() *Batch { return &Batch{m: m} }

// Insert stages a new document and reserves its id immediately, so a
// later staged write in the same batch (e.g. a proposition referencing
// this concept) can use the id before Commit runs.
func (b *Batch) Insert(doc value.Document) core.DocID {
	id := core.DocID(b.m.nextID.Add(1) - 1)
	doc.ID = id
	b.docs = append(b.docs, pendingDoc{id: id, doc: doc})
	return id
}

// Update stages a patch against id's currently-committed document. The
// patch is resolved against live state at staging time, not against any
// other write staged earlier in the same batch.
func (b *Batch) Update(id core.DocID, patch map[string]value.Value) error {
	cur := b.m.version.Load()
	old, ok := cur.get(id)
	if !ok {
		return anda.NotFoundf("collection: document %d not found", id)
	}
	oldCopy := *old
	updated := old.Clone().Merge(value.Document{Fields: patch})
	b.docs = append(b.docs, pendingDoc{id: id, doc: updated, old: &oldCopy})
	return nil
}

// Len reports how many writes are staged.
func (b *Batch) Len() int { return len(b.docs) }

// MergeStaged merges patch into id's "attributes" field for a document
// this same Batch already staged via Insert, without starting a second
// pending write for id. It is a no-op if id was never staged in this
// batch (callers only call it after confirming a same-capsule Insert
// already reserved id).
func (b *Batch) MergeStaged(id core.DocID, patch map[string]value.Value) {
	for i := range b.docs {
		if b.docs[i].id != id {
			continue
		}
		existing := map[string]value.Value{}
		if fv, ok := b.docs[i].doc.Get("attributes"); ok && fv.Kind == value.KindMap {
			existing = fv.Map
		}
		merged := make(map[string]value.Value, len(existing)+len(patch))
		for k, v := range existing {
			merged[k] = v
		}
		for k, v := range patch {
			merged[k] = v
		}
		b.docs[i].doc.Set("attributes", value.Map(merged))
		return
	}
}

// Commit indexes, persists, and WAL-logs every staged document, then
// publishes them as one combined version swap. If ctx is already
// canceled, Commit returns immediately without mutating anything, so a
// cancellation observed before Commit is called (including by the
// caller choosing not to call it) leaves the Manager exactly as it was
// (spec §8: "cancel before commit -> post-cancel query returns the
// pre-transaction count").
func (b *Batch) Commit(ctx context.Context) error {
	if len(b.docs) == 0 {
		return nil
	}
	m := b.m
	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	next := m.version.Load().clone()
	for _, pd := range b.docs {
		for _, f := range m.schema.Fields {
			if f.Index == value.IndexNone {
				continue
			}
			if pd.old != nil {
				if oldVal, ok := pd.old.Get(f.Name); ok {
					if err := m.unindexField(ctx, pd.id, f, oldVal); err != nil {
						return err
					}
				}
			}
			if fv, ok := pd.doc.Get(f.Name); ok {
				if err := m.indexField(ctx, pd.id, f, fv); err != nil {
					return err
				}
			}
		}

		data, err := value.Marshal(pd.doc)
		if err != nil {
			return fmt.Errorf("collection: marshal doc: %w", err)
		}
		if err := m.blobs.Put(ctx, docBlobKey(pd.id), data); err != nil {
			return fmt.Errorf("collection: persist doc: %w", err)
		}
		op := opDocInsert
		if pd.old != nil {
			op = opDocUpdate
		}
		if m.txWAL != nil {
			if _, err := m.txWAL.Append(op, uint64(pd.id), data); err != nil {
				return fmt.Errorf("collection: wal append: %w", err)
			}
		}

		doc := pd.doc
		next.docs[pd.id] = &doc
	}

	if err := ctx.Err(); err != nil {
		return err
	}
	m.version.Store(next)
	return nil
}
