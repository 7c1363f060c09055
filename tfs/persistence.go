package tfs

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"sort"

	"github.com/klauspost/compress/zstd"
	"github.com/ldclabs/anda-db/core"
	"github.com/ldclabs/anda-db/format"
)

// Snapshot persists the index as one immutable segment (the mutable
// segment is sealed first), in the delta-varint posting layout spec
// §4.2 describes.
func (idx *Index) Snapshot(w io.Writer) error {
	idx.mu.Lock()
	idx.mutable.seal()
	idx.immutable = append(idx.immutable, idx.mutable)
	for doc, loc := range idx.locations {
		if loc == 0 {
			idx.locations[doc] = len(idx.immutable)
		}
	}
	idx.mutable = newSegment()
	all := append(append([]*segment{}, idx.immutable...), idx.mutable)
	merged := newSegment()
	for _, seg := range all {
		for doc, length := range seg.docLengths {
			if seg.tombstones.Test(uint(doc)) {
				continue
			}
			if _, already := merged.docLengths[doc]; already {
				continue
			}
			merged.docLengths[doc] = length
			merged.docCount++
			merged.totalLength += uint64(length)
		}
	}
	for _, seg := range all {
		for term, list := range seg.postings {
			for _, p := range list {
				if _, live := merged.docLengths[p.doc]; !live {
					continue
				}
				merged.postings[term] = append(merged.postings[term], p)
			}
		}
	}
	merged.seal()
	idx.mu.Unlock()

	cw := format.NewChecksumWriter(w)
	if err := format.WriteHeader(cw, format.KindTextSegment); err != nil {
		return err
	}
	enc, err := zstd.NewWriter(cw)
	if err != nil {
		return fmt.Errorf("tfs: zstd writer: %w", err)
	}

	if err := writeUvarint(enc, uint64(merged.docCount)); err != nil {
		return err
	}
	if err := writeUvarint(enc, merged.totalLength); err != nil {
		return err
	}
	docs := make([]core.DocID, 0, len(merged.docLengths))
	for doc := range merged.docLengths {
		docs = append(docs, doc)
	}
	sort.Slice(docs, func(i, j int) bool { return docs[i] < docs[j] })
	for _, doc := range docs {
		if err := writeUvarint(enc, uint64(doc)); err != nil {
			return err
		}
		if err := writeUvarint(enc, uint64(merged.docLengths[doc])); err != nil {
			return err
		}
	}

	terms := make([]string, 0, len(merged.postings))
	for t := range merged.postings {
		terms = append(terms, t)
	}
	sort.Strings(terms)
	if err := writeUvarint(enc, uint64(len(terms))); err != nil {
		return err
	}
	for _, term := range terms {
		list := merged.postings[term]
		if err := writeString(enc, term); err != nil {
			return err
		}
		if err := writeUvarint(enc, uint64(len(list))); err != nil {
			return err
		}
		var prev core.DocID
		for _, p := range list {
			delta := uint64(p.doc - prev)
			if err := writeUvarint(enc, delta); err != nil {
				return err
			}
			if err := writeUvarint(enc, uint64(p.tf)); err != nil {
				return err
			}
			prev = p.doc
		}
	}

	if err := enc.Close(); err != nil {
		return err
	}
	return cw.WriteFooter()
}

// Load reconstructs an Index from a snapshot written by Snapshot.
func Load(r io.Reader, optFns ...func(*Options)) (*Index, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("tfs: read snapshot: %w", err)
	}
	if err := format.VerifyFooter(data); err != nil {
		return nil, fmt.Errorf("tfs: %w", err)
	}
	body := data[:len(data)-format.FooterSize]
	br := bytes.NewReader(body)
	if err := format.ReadHeader(br, format.KindTextSegment); err != nil {
		return nil, fmt.Errorf("tfs: %w", err)
	}
	dec, err := zstd.NewReader(br)
	if err != nil {
		return nil, fmt.Errorf("tfs: zstd reader: %w", err)
	}
	defer dec.Close()

	docCount, err := readUvarint(dec)
	if err != nil {
		return nil, err
	}
	totalLength, err := readUvarint(dec)
	if err != nil {
		return nil, err
	}

	seg := newSegment()
	seg.docCount = int(docCount)
	seg.totalLength = totalLength

	idx := New(optFns...)

	for i := uint64(0); i < docCount; i++ {
		doc, err := readUvarint(dec)
		if err != nil {
			return nil, err
		}
		length, err := readUvarint(dec)
		if err != nil {
			return nil, err
		}
		seg.docLengths[core.DocID(doc)] = uint32(length)
		idx.locations[core.DocID(doc)] = 1
	}

	termCount, err := readUvarint(dec)
	if err != nil {
		return nil, err
	}
	for i := uint64(0); i < termCount; i++ {
		term, err := readString(dec)
		if err != nil {
			return nil, err
		}
		listLen, err := readUvarint(dec)
		if err != nil {
			return nil, err
		}
		list := make([]posting, listLen)
		var prev core.DocID
		for j := range list {
			delta, err := readUvarint(dec)
			if err != nil {
				return nil, err
			}
			tf, err := readUvarint(dec)
			if err != nil {
				return nil, err
			}
			doc := prev + core.DocID(delta)
			list[j] = posting{doc: doc, tf: uint32(tf)}
			prev = doc
		}
		seg.postings[term] = list
	}
	seg.sealed = true

	idx.immutable = []*segment{seg}
	idx.docCount.Store(int64(seg.liveDocCount()))
	return idx, nil
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

func writeString(w io.Writer, s string) error {
	if err := writeUvarint(w, uint64(len(s))); err != nil {
		return err
	}
	_, err := io.WriteString(w, s)
	return err
}

func readString(r io.Reader) (string, error) {
	n, err := readUvarint(r)
	if err != nil {
		return "", err
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", err
	}
	return string(buf), nil
}
