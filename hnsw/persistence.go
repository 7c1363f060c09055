package hnsw

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"math"

	"github.com/klauspost/compress/zstd"
	"github.com/ldclabs/anda-db/core"
	"github.com/ldclabs/anda-db/format"
	"github.com/ldclabs/anda-db/wal"
)

// Snapshot serializes the full graph in the deterministic binary layout
// of spec §4.1: header, metric, params, per-node record keyed by doc_id,
// neighbor ids per layer as varints.
func (idx *Index) Snapshot(w io.Writer) error {
	cw := format.NewChecksumWriter(w)
	if err := format.WriteHeader(cw, format.KindHNSWSnapshot); err != nil {
		return err
	}

	enc, err := zstd.NewWriter(cw)
	if err != nil {
		return fmt.Errorf("hnsw: zstd writer: %w", err)
	}

	if err := writeUvarint(enc, uint64(idx.opts.Dimension)); err != nil {
		return err
	}
	if _, err := enc.Write([]byte{byte(idx.opts.Metric)}); err != nil {
		return err
	}
	boolByte := byte(0)
	if idx.opts.NormalizeVector {
		boolByte = 1
	}
	if _, err := enc.Write([]byte{boolByte}); err != nil {
		return err
	}
	if err := writeUvarint(enc, uint64(idx.opts.M)); err != nil {
		return err
	}
	if err := writeUvarint(enc, uint64(idx.opts.EFConstruction)); err != nil {
		return err
	}

	idx.epMu.RLock()
	epID, maxLevel, hasEntry := idx.entryPoint, idx.maxLevel, idx.hasEntry
	idx.epMu.RUnlock()
	hasEntryByte := byte(0)
	if hasEntry {
		hasEntryByte = 1
	}
	if _, err := enc.Write([]byte{hasEntryByte}); err != nil {
		return err
	}
	if err := writeUvarint(enc, uint64(epID)); err != nil {
		return err
	}
	if err := writeUvarint(enc, uint64(maxLevel)); err != nil {
		return err
	}
	if err := writeUvarint(enc, idx.nextID.Load()); err != nil {
		return err
	}

	idx.mu.RLock()
	idx.tombstoneMu.RLock()
	if err := writeUvarint(enc, uint64(len(idx.nodes))); err != nil {
		idx.tombstoneMu.RUnlock()
		idx.mu.RUnlock()
		return err
	}
	for id, n := range idx.nodes {
		n.mu.RLock()
		tomb := byte(0)
		if idx.tombstones.Test(uint(id)) {
			tomb = 1
		}
		if err := writeNode(enc, id, n, tomb); err != nil {
			n.mu.RUnlock()
			idx.tombstoneMu.RUnlock()
			idx.mu.RUnlock()
			return err
		}
		n.mu.RUnlock()
	}
	idx.tombstoneMu.RUnlock()
	idx.mu.RUnlock()

	if err := enc.Close(); err != nil {
		return err
	}
	return cw.WriteFooter()
}

func writeNode(w io.Writer, id core.DocID, n *node, tombstone byte) error {
	if err := writeUvarint(w, uint64(id)); err != nil {
		return err
	}
	if err := writeUvarint(w, uint64(n.layer)); err != nil {
		return err
	}
	if _, err := w.Write([]byte{tombstone}); err != nil {
		return err
	}
	if err := writeUvarint(w, uint64(len(n.vector))); err != nil {
		return err
	}
	var fbuf [4]byte
	for _, f := range n.vector {
		binary.LittleEndian.PutUint32(fbuf[:], float32bits(f))
		if _, err := w.Write(fbuf[:]); err != nil {
			return err
		}
	}
	for l := 0; l <= n.layer; l++ {
		conns := n.neighbors[l]
		if err := writeUvarint(w, uint64(len(conns))); err != nil {
			return err
		}
		for _, c := range conns {
			if err := writeUvarint(w, uint64(c)); err != nil {
				return err
			}
		}
	}
	return nil
}

func readNode(r io.Reader) (core.DocID, *node, bool, error) {
	id, err := readUvarint(r)
	if err != nil {
		return 0, nil, false, err
	}
	layer, err := readUvarint(r)
	if err != nil {
		return 0, nil, false, err
	}
	var tombByte [1]byte
	if _, err := io.ReadFull(r, tombByte[:]); err != nil {
		return 0, nil, false, err
	}
	vecLen, err := readUvarint(r)
	if err != nil {
		return 0, nil, false, err
	}
	vec := make([]float32, vecLen)
	var fbuf [4]byte
	for i := range vec {
		if _, err := io.ReadFull(r, fbuf[:]); err != nil {
			return 0, nil, false, err
		}
		vec[i] = float32frombits(binary.LittleEndian.Uint32(fbuf[:]))
	}
	n := &node{id: core.DocID(id), vector: vec, layer: int(layer), neighbors: make([][]core.DocID, layer+1)}
	for l := 0; l <= int(layer); l++ {
		cnt, err := readUvarint(r)
		if err != nil {
			return 0, nil, false, err
		}
		conns := make([]core.DocID, cnt)
		for i := range conns {
			c, err := readUvarint(r)
			if err != nil {
				return 0, nil, false, err
			}
			conns[i] = core.DocID(c)
		}
		n.neighbors[l] = conns
	}
	return core.DocID(id), n, tombByte[0] == 1, nil
}

// Load reconstructs an Index from a snapshot plus an optional tail log of
// subsequent insert/delete operations (spec §4.1: "load(snapshot,
// tail_log)").
func Load(snapshot io.Reader, tailLogPath string) (*Index, error) {
	data, err := io.ReadAll(snapshot)
	if err != nil {
		return nil, fmt.Errorf("hnsw: read snapshot: %w", err)
	}
	if err := format.VerifyFooter(data); err != nil {
		return nil, fmt.Errorf("hnsw: %w", err)
	}
	body := data[:len(data)-format.FooterSize]
	r := bytes.NewReader(body)
	if err := format.ReadHeader(r, format.KindHNSWSnapshot); err != nil {
		return nil, fmt.Errorf("hnsw: %w", err)
	}

	dec, err := zstd.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("hnsw: zstd reader: %w", err)
	}
	defer dec.Close()

	dim, err := readUvarint(dec)
	if err != nil {
		return nil, err
	}
	var metricByte, normByte [1]byte
	if _, err := io.ReadFull(dec, metricByte[:]); err != nil {
		return nil, err
	}
	if _, err := io.ReadFull(dec, normByte[:]); err != nil {
		return nil, err
	}
	m, err := readUvarint(dec)
	if err != nil {
		return nil, err
	}
	efc, err := readUvarint(dec)
	if err != nil {
		return nil, err
	}

	idx, err := New(func(o *Options) {
		o.Dimension = int(dim)
		o.Metric = Metric(metricByte[0])
		o.NormalizeVector = normByte[0] == 1
		o.M = int(m)
		o.EFConstruction = int(efc)
	})
	if err != nil {
		return nil, err
	}

	var hasEntryByte [1]byte
	if _, err := io.ReadFull(dec, hasEntryByte[:]); err != nil {
		return nil, err
	}
	epID, err := readUvarint(dec)
	if err != nil {
		return nil, err
	}
	maxLevel, err := readUvarint(dec)
	if err != nil {
		return nil, err
	}
	nextID, err := readUvarint(dec)
	if err != nil {
		return nil, err
	}
	idx.entryPoint = core.DocID(epID)
	idx.maxLevel = int(maxLevel)
	idx.hasEntry = hasEntryByte[0] == 1
	idx.nextID.Store(nextID)

	count, err := readUvarint(dec)
	if err != nil {
		return nil, err
	}
	for i := uint64(0); i < count; i++ {
		id, n, tomb, err := readNode(dec)
		if err != nil {
			return nil, fmt.Errorf("hnsw: read node: %w", err)
		}
		idx.nodes[id] = n
		if !tomb {
			idx.count.Add(1)
		} else {
			idx.tombstones.Set(uint(id))
		}
	}

	if tailLogPath != "" {
		if err := idx.replayTailLog(tailLogPath); err != nil {
			return nil, fmt.Errorf("hnsw: replay tail log: %w", err)
		}
	}

	return idx, nil
}

const (
	opTailInsert uint8 = iota + 1
	opTailDelete
)

func (idx *Index) replayTailLog(path string) error {
	ctx := context.Background()
	n, err := wal.Replay(path, false, func(rec wal.Record) error {
		switch rec.Op {
		case opTailInsert:
			id, vec, err := decodeTailInsert(rec.Payload)
			if err != nil {
				return err
			}
			return idx.ApplyInsert(ctx, id, vec)
		case opTailDelete:
			id, err := readUvarint(bytes.NewReader(rec.Payload))
			if err != nil {
				return err
			}
			return idx.ApplyDelete(ctx, core.DocID(id))
		default:
			return fmt.Errorf("hnsw: unknown tail log op %d", rec.Op)
		}
	})
	_ = n
	return err
}

// TailLogInsert encodes an insert for appending to the tail log via
// wal.WAL.Append(opTailInsert, txID, payload).
func TailLogInsert(id core.DocID, vec []float32) []byte {
	var buf bytes.Buffer
	_ = writeUvarint(&buf, uint64(id))
	_ = writeUvarint(&buf, uint64(len(vec)))
	var fbuf [4]byte
	for _, f := range vec {
		binary.LittleEndian.PutUint32(fbuf[:], float32bits(f))
		buf.Write(fbuf[:])
	}
	return buf.Bytes()
}

// TailLogDelete encodes a delete for the tail log.
func TailLogDelete(id core.DocID) []byte {
	var buf bytes.Buffer
	_ = writeUvarint(&buf, uint64(id))
	return buf.Bytes()
}

// TailOpInsert and TailOpDelete are the wal.WAL op codes used for HNSW
// tail-log records.
const (
	TailOpInsert = opTailInsert
	TailOpDelete = opTailDelete
)

func decodeTailInsert(payload []byte) (core.DocID, []float32, error) {
	r := bytes.NewReader(payload)
	id, err := readUvarint(r)
	if err != nil {
		return 0, nil, err
	}
	n, err := readUvarint(r)
	if err != nil {
		return 0, nil, err
	}
	vec := make([]float32, n)
	var fbuf [4]byte
	for i := range vec {
		if _, err := io.ReadFull(r, fbuf[:]); err != nil {
			return 0, nil, err
		}
		vec[i] = float32frombits(binary.LittleEndian.Uint32(fbuf[:]))
	}
	return core.DocID(id), vec, nil
}

func writeUvarint(w io.Writer, v uint64) error {
	var buf [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(buf[:], v)
	_, err := w.Write(buf[:n])
	return err
}

func readUvarint(r io.Reader) (uint64, error) {
	var buf [1]byte
	var result uint64
	var shift uint
	for {
		if _, err := io.ReadFull(r, buf[:]); err != nil {
			return 0, err
		}
		b := buf[0]
		result |= uint64(b&0x7f) << shift
		if b < 0x80 {
			return result, nil
		}
		shift += 7
	}
}

func float32bits(f float32) uint32 {
	return math.Float32bits(f)
}

func float32frombits(b uint32) float32 {
	return math.Float32frombits(b)
}
