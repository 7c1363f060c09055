package btree

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/klauspost/compress/zstd"
	"github.com/ldclabs/anda-db/core"
	"github.com/ldclabs/anda-db/format"
	"github.com/ldclabs/anda-db/wal"
)

// Snapshot serializes every (key, postings) pair in ascending key order.
// The B+tree's internal fan-out is a lookup accelerator, not persisted
// state; Load rebuilds it by re-inserting sorted entries, which never
// triggers unnecessary rebalancing because insert order matches leaf
// order (spec §4.3 describes fixed-size pages; this in-memory tree
// keeps that layout only as its runtime index structure).
func (t *Tree) Snapshot(w io.Writer) error {
	t.mu.RLock()
	defer t.mu.RUnlock()

	cw := format.NewChecksumWriter(w)
	if err := format.WriteHeader(cw, format.KindBTreePage); err != nil {
		return err
	}
	enc, err := zstd.NewWriter(cw)
	if err != nil {
		return fmt.Errorf("btree: zstd writer: %w", err)
	}

	if err := writeUvarint(enc, uint64(t.Count())); err != nil {
		return err
	}
	for leaf := t.leftmostLeaf(); leaf != nil; leaf = leaf.next {
		for _, e := range leaf.entries {
			if err := writeUvarint(enc, uint64(len(e.key))); err != nil {
				return err
			}
			if _, err := enc.Write(e.key); err != nil {
				return err
			}
			bmBytes, err := e.postings.ToBytes()
			if err != nil {
				return fmt.Errorf("btree: encode postings: %w", err)
			}
			if err := writeUvarint(enc, uint64(len(bmBytes))); err != nil {
				return err
			}
			if _, err := enc.Write(bmBytes); err != nil {
				return err
			}
		}
	}

	if err := enc.Close(); err != nil {
		return err
	}
	return cw.WriteFooter()
}

// Load reconstructs a Tree from a snapshot written by Snapshot, then
// replays walLogPath (if non-empty) for inserts/removes committed after
// that snapshot (spec §4.3: "A write-ahead log records page mutations;
// recovery replays unflushed tail").
func Load(r io.Reader, walLogPath string, optFns ...func(*Options)) (*Tree, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("btree: read snapshot: %w", err)
	}
	if err := format.VerifyFooter(data); err != nil {
		return nil, fmt.Errorf("btree: %w", err)
	}
	body := data[:len(data)-format.FooterSize]
	br := bytes.NewReader(body)
	if err := format.ReadHeader(br, format.KindBTreePage); err != nil {
		return nil, fmt.Errorf("btree: %w", err)
	}
	dec, err := zstd.NewReader(br)
	if err != nil {
		return nil, fmt.Errorf("btree: zstd reader: %w", err)
	}
	defer dec.Close()

	t := New(optFns...)
	count, err := readUvarint(dec)
	if err != nil {
		return nil, err
	}
	for i := uint64(0); i < count; i++ {
		keyLen, err := readUvarint(dec)
		if err != nil {
			return nil, err
		}
		key := make([]byte, keyLen)
		if _, err := io.ReadFull(dec, key); err != nil {
			return nil, err
		}
		bmLen, err := readUvarint(dec)
		if err != nil {
			return nil, err
		}
		bmBytes := make([]byte, bmLen)
		if _, err := io.ReadFull(dec, bmBytes); err != nil {
			return nil, err
		}
		bm := roaring.New()
		if _, err := bm.FromBuffer(bmBytes); err != nil {
			return nil, fmt.Errorf("btree: decode postings: %w", err)
		}
		leaf := t.findLeaf(key)
		leaf.entries = append(leaf.entries, entry{key: key, postings: bm})
		if len(leaf.entries) > t.opts.Order {
			t.splitLeaf(leaf)
		}
	}

	if walLogPath != "" {
		if err := t.replayWAL(walLogPath); err != nil {
			return nil, fmt.Errorf("btree: replay wal: %w", err)
		}
	}
	return t, nil
}

const (
	opInsert uint8 = iota + 1
	opRemove
)

func (t *Tree) replayWAL(path string) error {
	ctx := context.TODO()
	_, err := wal.Replay(path, false, func(rec wal.Record) error {
		key, doc, err := decodeMutation(rec.Payload)
		if err != nil {
			return err
		}
		switch rec.Op {
		case opInsert:
			return t.Insert(ctx, key, doc)
		case opRemove:
			return t.Remove(ctx, key, doc)
		default:
			return fmt.Errorf("btree: unknown wal op %d", rec.Op)
		}
	})
	return err
}

// EncodeMutation packs a (key, doc_id) pair for a WAL record payload.
func EncodeMutation(key []byte, doc core.DocID) []byte {
	var buf bytes.Buffer
	_ = writeUvarint(&buf, uint64(len(key)))
	buf.Write(key)
	_ = writeUvarint(&buf, uint64(doc))
	return buf.Bytes()
}

func decodeMutation(payload []byte) ([]byte, core.DocID, error) {
	r := bytes.NewReader(payload)
	keyLen, err := readUvarint(r)
	if err != nil {
		return nil, 0, err
	}
	key := make([]byte, keyLen)
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, 0, err
	}
	doc, err := readUvarint(r)
	if err != nil {
		return nil, 0, err
	}
	return key, core.DocID(doc), nil
}

// WAL op codes for btree mutation records.
const (
	OpInsert = opInsert
	OpRemove = opRemove
)

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
