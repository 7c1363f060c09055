package tfs

import (
	"context"
	"math"
	"sort"

	"github.com/ldclabs/anda-db/core"
)

// Search scores queryText against every live document containing at
// least one query term, using Okapi BM25 with the index's configured k1
// and b (spec §4.2). Results are returned best-first; ties break on
// ascending doc_id for determinism.
func (idx *Index) Search(ctx context.Context, queryText string, topK int, filter func(core.DocID) bool) ([]SearchResult, error) {
	return idx.SearchTokens(ctx, idx.opts.Tokenizer.Tokenize(queryText), topK, filter)
}

// SearchTokens scores a pre-tokenized query, deduplicating repeated
// terms (BM25 weights a term once by its IDF regardless of query-side
// repetition, per the classical formula in spec §4.2).
func (idx *Index) SearchTokens(ctx context.Context, tokens []string, topK int, filter func(core.DocID) bool) ([]SearchResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(tokens) == 0 || topK <= 0 {
		return nil, nil
	}

	seen := make(map[string]struct{}, len(tokens))
	terms := make([]string, 0, len(tokens))
	for _, t := range tokens {
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		terms = append(terms, t)
	}

	segs := idx.snapshotSegments()

	var totalDocs int
	var totalLength uint64
	df := make(map[string]int, len(terms))
	for _, seg := range segs {
		totalDocs += seg.liveDocCount()
		totalLength += seg.totalLength - tombstonedLength(seg)
		for _, t := range terms {
			df[t] += liveDocumentFrequency(seg, t)
		}
	}
	if totalDocs == 0 {
		return nil, nil
	}
	avgDL := float64(totalLength) / float64(totalDocs)
	if avgDL == 0 {
		avgDL = 1
	}

	idf := make(map[string]float64, len(terms))
	for _, t := range terms {
		n := float64(totalDocs)
		d := float64(df[t])
		idf[t] = math.Log(1 + (n-d+0.5)/(d+0.5))
	}

	scores := make(map[core.DocID]float64)
	k1, b := idx.opts.K1, idx.opts.B

	for _, seg := range segs {
		for _, t := range terms {
			list := seg.postings[t]
			if len(list) == 0 {
				continue
			}
			termIDF := idf[t]
			for _, p := range list {
				if seg.tombstones.Test(uint(p.doc)) {
					continue
				}
				if filter != nil && !filter(p.doc) {
					continue
				}
				dl := float64(seg.docLengths[p.doc])
				tf := float64(p.tf)
				num := tf * (k1 + 1)
				den := tf + k1*(1-b+b*dl/avgDL)
				scores[p.doc] += termIDF * (num / den)
			}
		}
	}

	results := make([]SearchResult, 0, len(scores))
	for doc, score := range scores {
		results = append(results, SearchResult{ID: doc, Score: score})
	}
	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].ID < results[j].ID
	})
	if len(results) > topK {
		results = results[:topK]
	}
	return results, nil
}

func liveDocumentFrequency(seg *segment, term string) int {
	list := seg.postings[term]
	if len(list) == 0 {
		return 0
	}
	n := 0
	for _, p := range list {
		if !seg.tombstones.Test(uint(p.doc)) {
			n++
		}
	}
	return n
}

func tombstonedLength(seg *segment) uint64 {
	if seg.tombstones.Count() == 0 {
		return 0
	}
	var sum uint64
	for doc, l := range seg.docLengths {
		if seg.tombstones.Test(uint(doc)) {
			sum += uint64(l)
		}
	}
	return sum
}
