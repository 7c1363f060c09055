// Package collection implements the collection manager (COLL, spec
// §4.4): it coordinates the HNSW, BM25, and B-tree indexes for one
// document collection according to the collection's schema, persists
// document blobs, and publishes a new MVCC version pointer on commit.
package collection

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	anda "github.com/ldclabs/anda-db"
	"github.com/ldclabs/anda-db/blobstore"
	"github.com/ldclabs/anda-db/btree"
	"github.com/ldclabs/anda-db/core"
	"github.com/ldclabs/anda-db/hnsw"
	"github.com/ldclabs/anda-db/resource"
	"github.com/ldclabs/anda-db/tfs"
	"github.com/ldclabs/anda-db/value"
	"github.com/ldclabs/anda-db/wal"
)

// Options configures a new Manager.
type Options struct {
	Schema      value.Schema
	Blobs       blobstore.Store
	WALDir      string
	Logger      *anda.Logger
	Resources   *resource.Controller
	HNSWOptions func(*hnsw.Options)
	TFSOptions  func(*tfs.Options)
	BTIOptions  func(*btree.Options)
}

// Version is an immutable, atomically-published snapshot of live
// documents, giving readers a consistent view regardless of concurrent
// writers (spec §4.4: "MVCC via the version pointer").
type Version struct {
	docs map[core.DocID]*value.Document
}

func (v *Version) get(id core.DocID) (*value.Document, bool) {
	d, ok := v.docs[id]
	return d, ok
}

func (v *Version) clone() *Version {
	nd := make(map[core.DocID]*value.Document, len(v.docs)+1)
	for k, val := range v.docs {
		nd[k] = val
	}
	return &Version{docs: nd}
}

// Manager coordinates BTI/HNSW/TFS for one collection (spec §4.4).
type Manager struct {
	schema value.Schema
	blobs  blobstore.Store
	logger *anda.Logger

	hnsw map[string]*hnsw.Index
	tfs  map[string]*tfs.Index
	bti  map[string]*btree.Tree

	writeMu sync.Mutex // per-collection single writer lock (spec §5)
	txWAL   *wal.WAL
	res     *resource.Controller

	version atomic.Pointer[Version]
	nextID  atomic.Uint64
}

// New creates a Manager for schema, wiring one index per indexed field.
func New(ctx context.Context, opts Options) (*Manager, error) {
	if opts.Blobs == nil {
		opts.Blobs = blobstore.NewMemoryStore()
	}
	if opts.Logger == nil {
		opts.Logger = anda.NoopLogger()
	}

	m := &Manager{
		schema: opts.Schema,
		blobs:  opts.Blobs,
		logger: opts.Logger,
		res:    opts.Resources,
		hnsw:   make(map[string]*hnsw.Index),
		tfs:    make(map[string]*tfs.Index),
		bti:    make(map[string]*btree.Tree),
	}
	m.version.Store(&Version{docs: make(map[core.DocID]*value.Document)})
	m.nextID.Store(1)

	for _, f := range opts.Schema.Fields {
		switch f.Index {
		case value.IndexVector:
			idx, err := hnsw.New(func(o *hnsw.Options) {
				o.Dimension = f.Dimension
				if opts.HNSWOptions != nil {
					opts.HNSWOptions(o)
				}
			})
			if err != nil {
				return nil, fmt.Errorf("collection: hnsw field %q: %w", f.Name, err)
			}
			m.hnsw[f.Name] = idx
		case value.IndexText:
			m.tfs[f.Name] = tfs.New(func(o *tfs.Options) {
				if opts.TFSOptions != nil {
					opts.TFSOptions(o)
				}
			})
		case value.IndexScalar:
			m.bti[f.Name] = btree.New(func(o *btree.Options) {
				if opts.BTIOptions != nil {
					opts.BTIOptions(o)
				}
			})
		}
	}

	if opts.WALDir != "" {
		w, err := wal.Open(func(o *wal.Options) {
			o.Path = opts.WALDir
			o.FileName = "collection.wal"
		})
		if err != nil {
			return nil, fmt.Errorf("collection: open wal: %w", err)
		}
		m.txWAL = w
	}

	return m, nil
}

// Schema returns the collection's field schema.
func (m *Manager) Schema() value.Schema { return m.schema }

func attrKey(v value.Value) ([]byte, error) { return btree.EncodeKey(v) }

// indexField writes fv into the appropriate index for field f, if it
// is indexed at all.
func (m *Manager) indexField(ctx context.Context, id core.DocID, f value.FieldSpec, fv value.Value) error {
	switch f.Index {
	case value.IndexVector:
		if fv.Kind != value.KindVector {
			return fmt.Errorf("collection: field %q requires a vector value", f.Name)
		}
		return m.hnsw[f.Name].ApplyInsert(ctx, id, fv.Vector)
	case value.IndexText:
		if fv.Kind != value.KindString {
			return fmt.Errorf("collection: field %q requires a string value", f.Name)
		}
		return m.tfs[f.Name].Insert(ctx, id, fv.Str)
	case value.IndexScalar:
		key, err := attrKey(fv)
		if err != nil {
			return err
		}
		return m.bti[f.Name].Insert(ctx, key, id)
	}
	return nil
}

// unindexField removes id's contribution to field f's index.
func (m *Manager) unindexField(ctx context.Context, id core.DocID, f value.FieldSpec, fv value.Value) error {
	switch f.Index {
	case value.IndexVector:
		return m.hnsw[f.Name].Delete(ctx, id)
	case value.IndexText:
		return m.tfs[f.Name].Remove(ctx, id)
	case value.IndexScalar:
		key, err := attrKey(fv)
		if err != nil {
			return err
		}
		return m.bti[f.Name].Remove(ctx, key, id)
	}
	return nil
}

const (
	opDocInsert uint8 = iota + 1
	opDocRemove
	opDocUpdate
)

// Insert assigns doc a new id, indexes its fields per schema, and
// persists the document blob (spec §4.4).
func (m *Manager) Insert(ctx context.Context, doc value.Document) (core.DocID, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if missing := m.schema.MissingRequired(doc); len(missing) > 0 {
		m.logger.WarnContext(ctx, "document missing advisory required fields", "fields", missing)
	}

	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	id := core.DocID(m.nextID.Add(1) - 1)
	doc.ID = id

	for _, f := range m.schema.Fields {
		fv, ok := doc.Get(f.Name)
		if !ok || f.Index == value.IndexNone {
			continue
		}
		if err := m.indexField(ctx, id, f, fv); err != nil {
			return 0, err
		}
	}

	data, err := value.Marshal(doc)
	if err != nil {
		return 0, fmt.Errorf("collection: marshal doc: %w", err)
	}
	if err := m.blobs.Put(ctx, docBlobKey(id), data); err != nil {
		return 0, fmt.Errorf("collection: persist doc: %w", err)
	}
	if m.txWAL != nil {
		if _, err := m.txWAL.Append(opDocInsert, uint64(id), data); err != nil {
			return 0, fmt.Errorf("collection: wal append: %w", err)
		}
	}

	next := m.version.Load().clone()
	stored := doc
	next.docs[id] = &stored
	m.version.Store(next)

	m.logger.LogCommit(ctx, uint64(id), int64(len(data)), nil)
	return id, nil
}

// Update applies patch to doc_id's fields, reindexing any field the
// patch touches (spec §4.4: "applies a delete-then-insert at the index
// level for any reindexed field").
func (m *Manager) Update(ctx context.Context, id core.DocID, patch map[string]value.Value) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	cur := m.version.Load()
	old, ok := cur.get(id)
	if !ok {
		return anda.NotFoundf("collection: document %d not found", id)
	}

	updated := old.Clone().Merge(value.Document{Fields: patch})

	for _, f := range m.schema.Fields {
		if f.Index == value.IndexNone {
			continue
		}
		newVal, changed := patch[f.Name]
		if !changed {
			continue
		}
		if oldVal, ok := old.Get(f.Name); ok {
			if err := m.unindexField(ctx, id, f, oldVal); err != nil {
				return err
			}
		}
		if err := m.indexField(ctx, id, f, newVal); err != nil {
			return err
		}
	}

	data, err := value.Marshal(updated)
	if err != nil {
		return fmt.Errorf("collection: marshal doc: %w", err)
	}
	if err := m.blobs.Put(ctx, docBlobKey(id), data); err != nil {
		return fmt.Errorf("collection: persist doc: %w", err)
	}
	if m.txWAL != nil {
		if _, err := m.txWAL.Append(opDocUpdate, uint64(id), data); err != nil {
			return fmt.Errorf("collection: wal append: %w", err)
		}
	}

	next := cur.clone()
	next.docs[id] = &updated
	m.version.Store(next)
	return nil
}

// Remove tombstones doc_id in every index that referenced it and drops
// its blob (spec §4.4: "tombstones in all indexes").
func (m *Manager) Remove(ctx context.Context, id core.DocID) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	cur := m.version.Load()
	doc, ok := cur.get(id)
	if !ok {
		return anda.NotFoundf("collection: document %d not found", id)
	}

	for _, f := range m.schema.Fields {
		if f.Index == value.IndexNone {
			continue
		}
		fv, ok := doc.Get(f.Name)
		if !ok {
			continue
		}
		if err := m.unindexField(ctx, id, f, fv); err != nil {
			return err
		}
	}

	if err := m.blobs.Delete(ctx, docBlobKey(id)); err != nil {
		return fmt.Errorf("collection: delete doc blob: %w", err)
	}
	if m.txWAL != nil {
		if _, err := m.txWAL.Append(opDocRemove, uint64(id), nil); err != nil {
			return fmt.Errorf("collection: wal append: %w", err)
		}
	}

	next := cur.clone()
	delete(next.docs, id)
	m.version.Store(next)
	return nil
}

// Get returns the current live document for id, from the version
// pointer visible at call time.
func (m *Manager) Get(id core.DocID) (value.Document, bool) {
	v := m.version.Load()
	doc, ok := v.get(id)
	if !ok {
		return value.Document{}, false
	}
	return *doc, true
}

// Count returns the number of live documents.
func (m *Manager) Count() int {
	return len(m.version.Load().docs)
}

// Close releases the manager's WAL handle.
func (m *Manager) Close() error {
	if m.txWAL != nil {
		return m.txWAL.Close()
	}
	return nil
}

func docBlobKey(id core.DocID) string {
	return fmt.Sprintf("docs/%d.cbor.zst", id)
}
