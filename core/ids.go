// Package core defines the identifier types shared across every index and
// the collection manager.
package core

// DocID is the monotonically assigned identifier of a document within a
// collection. It is dense enough to index directly into HNSW node-offset
// segments and roaring bitmaps.
type DocID uint64

// NilDocID is the zero value, never assigned to a live document.
const NilDocID DocID = 0

// SegmentID names an immutable on-disk segment (text index or B-tree page
// file) within a collection's directory.
type SegmentID uint64

// TxID identifies a single commit within a collection. Readers capture the
// TxID of the version pointer they observed at query start.
type TxID uint64
