package collection

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/fxamacker/cbor/v2"
	anda "github.com/ldclabs/anda-db"
	"github.com/ldclabs/anda-db/blobstore"
	"github.com/ldclabs/anda-db/btree"
	"github.com/ldclabs/anda-db/core"
	"github.com/ldclabs/anda-db/hnsw"
	"github.com/ldclabs/anda-db/tfs"
	"github.com/ldclabs/anda-db/value"
	"github.com/ldclabs/anda-db/wal"
	"golang.org/x/sync/errgroup"
)

// manifest records what a snapshot needs to reconstruct a Manager: the
// schema, the next-id counter, and the blob paths of each field index's
// own snapshot (spec §4.4: "a commit flushes all mutated segments + WAL
// fsync, then atomically publishes the new index version pointer").
type manifest struct {
	Schema      value.Schema      `cbor:"schema"`
	NextID      uint64            `cbor:"next_id"`
	DocIDs      []uint64          `cbor:"doc_ids"`
	HNSWBlobs   map[string]string `cbor:"hnsw_blobs"`
	TFSBlobs    map[string]string `cbor:"tfs_blobs"`
	BTIBlobs    map[string]string `cbor:"bti_blobs"`
}

const manifestPath = "manifest.cbor"

// Checkpoint flushes every field index to its own blob, writes the
// manifest, and (if a WAL is attached) truncates it, since the manifest
// now durably captures everything the WAL was protecting.
func (m *Manager) Checkpoint(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	man := manifest{
		Schema:    m.schema,
		NextID:    m.nextID.Load(),
		HNSWBlobs: make(map[string]string),
		TFSBlobs:  make(map[string]string),
		BTIBlobs:  make(map[string]string),
	}

	v := m.version.Load()
	for id := range v.docs {
		man.DocIDs = append(man.DocIDs, uint64(id))
	}

	var mu sync.Mutex
	eg, egCtx := errgroup.WithContext(ctx)
	snapshot := func(path string, snap func(io.Writer) error, record func(path string)) {
		eg.Go(func() error {
			if err := m.res.AcquireBackground(egCtx); err != nil {
				return err
			}
			defer m.res.ReleaseBackground()

			var buf bytes.Buffer
			if err := snap(&buf); err != nil {
				return fmt.Errorf("collection: snapshot %s: %w", path, err)
			}
			if err := m.res.AcquireIO(egCtx, buf.Len()); err != nil {
				return err
			}
			if err := m.blobs.Put(egCtx, path, buf.Bytes()); err != nil {
				return err
			}
			mu.Lock()
			record(path)
			mu.Unlock()
			return nil
		})
	}

	for field, idx := range m.hnsw {
		snapshot(fmt.Sprintf("indexes/hnsw/%s.snap", field), idx.Snapshot, func(path string) { man.HNSWBlobs[field] = path })
	}
	for field, idx := range m.tfs {
		snapshot(fmt.Sprintf("indexes/tfs/%s.snap", field), idx.Snapshot, func(path string) { man.TFSBlobs[field] = path })
	}
	for field, tree := range m.bti {
		snapshot(fmt.Sprintf("indexes/bti/%s.snap", field), tree.Snapshot, func(path string) { man.BTIBlobs[field] = path })
	}
	if err := eg.Wait(); err != nil {
		return err
	}

	data, err := cbor.Marshal(man)
	if err != nil {
		return fmt.Errorf("collection: marshal manifest: %w", err)
	}
	if err := m.blobs.Put(ctx, manifestPath, data); err != nil {
		return fmt.Errorf("collection: persist manifest: %w", err)
	}
	if m.txWAL != nil {
		if err := m.txWAL.Checkpoint(); err != nil {
			return fmt.Errorf("collection: checkpoint wal: %w", err)
		}
	}
	return nil
}

// Open reconstructs a Manager from a prior Checkpoint, then replays any
// WAL records appended since (spec §4.4/§9's recovery model: "recovery
// replays unflushed tail").
func Open(ctx context.Context, opts Options) (*Manager, error) {
	if opts.Blobs == nil {
		return nil, fmt.Errorf("collection: Open requires a blob store")
	}
	raw, err := opts.Blobs.Get(ctx, manifestPath)
	if err != nil {
		if err == blobstore.ErrNotFound {
			return New(ctx, opts)
		}
		return nil, fmt.Errorf("collection: read manifest: %w", err)
	}

	var man manifest
	if err := cbor.Unmarshal(raw, &man); err != nil {
		return nil, anda.Corruptionf(err, "collection: decode manifest")
	}

	opts.Schema = man.Schema
	m, err := New(ctx, opts)
	if err != nil {
		return nil, err
	}
	m.nextID.Store(man.NextID)

	for field, path := range man.HNSWBlobs {
		data, err := m.blobs.Get(ctx, path)
		if err != nil {
			return nil, fmt.Errorf("collection: read hnsw snapshot %q: %w", field, err)
		}
		idx, err := hnsw.Load(bytes.NewReader(data), "")
		if err != nil {
			return nil, fmt.Errorf("collection: load hnsw field %q: %w", field, err)
		}
		m.hnsw[field] = idx
	}
	for field, path := range man.TFSBlobs {
		data, err := m.blobs.Get(ctx, path)
		if err != nil {
			return nil, fmt.Errorf("collection: read tfs snapshot %q: %w", field, err)
		}
		idx, err := tfs.Load(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("collection: load tfs field %q: %w", field, err)
		}
		m.tfs[field] = idx
	}
	for field, path := range man.BTIBlobs {
		data, err := m.blobs.Get(ctx, path)
		if err != nil {
			return nil, fmt.Errorf("collection: read bti snapshot %q: %w", field, err)
		}
		tree, err := btree.Load(bytes.NewReader(data), "")
		if err != nil {
			return nil, fmt.Errorf("collection: load bti field %q: %w", field, err)
		}
		m.bti[field] = tree
	}

	v := &Version{docs: make(map[core.DocID]*value.Document, len(man.DocIDs))}
	for _, rawID := range man.DocIDs {
		id := core.DocID(rawID)
		data, err := m.blobs.Get(ctx, docBlobKey(id))
		if err != nil {
			return nil, fmt.Errorf("collection: read doc blob %d: %w", id, err)
		}
		doc, err := value.Unmarshal(data)
		if err != nil {
			return nil, fmt.Errorf("collection: decode doc blob %d: %w", id, err)
		}
		v.docs[id] = &doc
	}
	m.version.Store(v)

	if opts.WALDir != "" && m.txWAL != nil {
		replayed, err := wal.Replay(m.txWAL.FilePath(), false, func(rec wal.Record) error {
			return m.applyWALRecord(ctx, rec)
		})
		if err != nil {
			return nil, fmt.Errorf("collection: replay wal: %w", err)
		}
		m.logger.LogRecovery(ctx, replayed, nil)
	}

	return m, nil
}

// applyWALRecord re-applies one committed mutation record to the
// in-memory version pointer during recovery. Index-level state (HNSW,
// TFS, BTI) was already rebuilt from their own snapshots in Open;
// documents inserted/updated/removed after the last Checkpoint still
// need their index contributions replayed too, since only the doc blob
// and manifest doc_ids list reflect the checkpoint, not the mutation
// tail.
func (m *Manager) applyWALRecord(ctx context.Context, rec wal.Record) error {
	id := core.DocID(rec.TxID)
	switch rec.Op {
	case opDocInsert, opDocUpdate:
		doc, err := value.Unmarshal(rec.Payload)
		if err != nil {
			return anda.Corruptionf(err, "collection: decode wal doc record")
		}
		v := m.version.Load()
		old, hadOld := v.get(id)
		for _, f := range m.schema.Fields {
			if f.Index == value.IndexNone {
				continue
			}
			if hadOld {
				if oldVal, ok := old.Get(f.Name); ok {
					if err := m.unindexField(ctx, id, f, oldVal); err != nil {
						return err
					}
				}
			}
			if fv, ok := doc.Get(f.Name); ok {
				if err := m.indexField(ctx, id, f, fv); err != nil {
					return err
				}
			}
		}
		next := v.clone()
		next.docs[id] = &doc
		m.version.Store(next)
		if id >= core.DocID(m.nextID.Load()) {
			m.nextID.Store(uint64(id) + 1)
		}
	case opDocRemove:
		v := m.version.Load()
		if old, ok := v.get(id); ok {
			for _, f := range m.schema.Fields {
				if f.Index == value.IndexNone {
					continue
				}
				if oldVal, ok := old.Get(f.Name); ok {
					if err := m.unindexField(ctx, id, f, oldVal); err != nil {
						return err
					}
				}
			}
		}
		next := v.clone()
		delete(next.docs, id)
		m.version.Store(next)
	}
	return nil
}
