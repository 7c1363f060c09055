package tfs

import (
	"sort"

	"github.com/bits-and-blooms/bitset"
	"github.com/ldclabs/anda-db/core"
)

// posting is one (doc_id, term_frequency) entry in a term's list.
type posting struct {
	doc core.DocID
	tf  uint32
}

// segment holds postings for a batch of documents (spec §4.2 layout:
// "postings: term → vec<(doc_id, tf)>, doc_lengths, doc_count,
// total_length, tombstones"). A mutable segment accepts inserts; once
// sealed (by Compact or snapshot), it is treated as immutable.
type segment struct {
	postings    map[string][]posting
	docLengths  map[core.DocID]uint32
	docCount    int
	totalLength uint64
	tombstones  *bitset.BitSet
	sealed      bool
}

func newSegment() *segment {
	return &segment{
		postings:   make(map[string][]posting),
		docLengths: make(map[core.DocID]uint32),
		tombstones: bitset.New(1024),
	}
}

// insert adds doc's term frequencies. Caller guarantees doc is not
// already present in this segment (duplicate detection is the Index's
// job, across all segments).
func (s *segment) insert(doc core.DocID, tokens []string) {
	if s.sealed {
		panic("tfs: insert into sealed segment")
	}
	tf := make(map[string]uint32, len(tokens))
	for _, t := range tokens {
		tf[t]++
	}
	for term, count := range tf {
		s.postings[term] = append(s.postings[term], posting{doc: doc, tf: count})
	}
	s.docLengths[doc] = uint32(len(tokens))
	s.docCount++
	s.totalLength += uint64(len(tokens))
}

func (s *segment) tombstone(doc core.DocID) bool {
	if _, ok := s.docLengths[doc]; !ok {
		return false
	}
	s.tombstones.Set(uint(doc))
	return true
}

func (s *segment) isLive(doc core.DocID) bool {
	if _, ok := s.docLengths[doc]; !ok {
		return false
	}
	return !s.tombstones.Test(uint(doc))
}

// liveDocCount excludes tombstoned docs.
func (s *segment) liveDocCount() int {
	return s.docCount - int(s.tombstones.Count())
}

// seal finalizes postings into sorted-by-doc-id order for deterministic,
// delta-friendly iteration (spec §4.2: "Posting lists are sorted").
func (s *segment) seal() {
	for term, list := range s.postings {
		sort.Slice(list, func(i, j int) bool { return list[i].doc < list[j].doc })
		s.postings[term] = list
	}
	s.sealed = true
}
