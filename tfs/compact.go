package tfs

import "context"

// ShouldCompact reports whether the index's tombstone ratio or segment
// count has crossed the configured threshold (spec §4.2).
func (idx *Index) ShouldCompact() bool {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	if len(idx.immutable)+1 > idx.opts.MaxSegments {
		return true
	}
	var total, dead int
	for _, seg := range append(append([]*segment{}, idx.immutable...), idx.mutable) {
		total += seg.docCount
		dead += int(seg.tombstones.Count())
	}
	if total == 0 {
		return false
	}
	return float64(dead)/float64(total) > idx.opts.TombstoneRatio
}

// Seal freezes the current mutable segment and starts a fresh one,
// moving the frozen segment into the immutable list. Subsequent
// inserts land in the new mutable segment.
func (idx *Index) Seal() {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	idx.mutable.seal()
	idx.immutable = append(idx.immutable, idx.mutable)
	sealedIdx := len(idx.immutable)
	for doc, loc := range idx.locations {
		if loc == 0 {
			idx.locations[doc] = sealedIdx
		}
	}
	idx.mutable = newSegment()
}

// Compact merges all segments into one, dropping tombstoned documents,
// streaming postings term-by-term to bound memory (spec §4.2: "merge is
// stream-based to bound memory").
func (idx *Index) Compact(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	idx.mu.Lock()
	defer idx.mu.Unlock()

	idx.mutable.seal()
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

	idx.immutable = []*segment{merged}
	idx.mutable = newSegment()
	for doc := range merged.docLengths {
		idx.locations[doc] = 1
	}
	return nil
}
