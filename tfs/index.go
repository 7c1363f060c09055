package tfs

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/ldclabs/anda-db/core"
)

const (
	// DefaultK1 and DefaultB are the classical Okapi BM25 defaults (spec
	// §4.2).
	DefaultK1 = 1.2
	DefaultB  = 0.75

	// DefaultTombstoneRatio triggers compaction once the fraction of
	// tombstoned docs across all segments exceeds it.
	DefaultTombstoneRatio = 0.25
	// DefaultMaxSegments triggers compaction once the total segment
	// count (immutable segments plus the mutable one) exceeds it,
	// bounding per-query merge fan-in.
	DefaultMaxSegments = 8
)

// Options configures a new Index.
type Options struct {
	Tokenizer      Tokenizer
	K1             float64
	B              float64
	TombstoneRatio float64
	MaxSegments    int
}

// DefaultOptions mirrors the spec's documented BM25 defaults.
var DefaultOptions = Options{
	Tokenizer:      UnicodeWordTokenizer{},
	K1:             DefaultK1,
	B:              DefaultB,
	TombstoneRatio: DefaultTombstoneRatio,
	MaxSegments:    DefaultMaxSegments,
}

// ErrDuplicateID is returned by Insert when doc_id already has a live
// entry in any segment.
type ErrDuplicateID struct{ ID core.DocID }

func (e *ErrDuplicateID) Error() string { return fmt.Sprintf("tfs: duplicate id %d", e.ID) }

// ErrNotFound is returned by Remove for an unknown doc_id.
type ErrNotFound struct{ ID core.DocID }

func (e *ErrNotFound) Error() string { return fmt.Sprintf("tfs: id %d not found", e.ID) }

// SearchResult is one ranked hit.
type SearchResult struct {
	ID    core.DocID
	Score float64
}

// Index is the BM25 full-text index (spec §4.2): a set of immutable
// segments plus one mutable segment accepting new inserts.
type Index struct {
	opts Options

	mu        sync.RWMutex // guards segments slice and mutable swap
	mutable   *segment
	immutable []*segment

	locations map[core.DocID]int // doc_id -> index into segments (0 = mutable, i>0 = immutable[i-1])

	docCount atomic.Int64
}

// New creates an empty Index.
func New(optFns ...func(*Options)) *Index {
	opts := DefaultOptions
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Tokenizer == nil {
		opts.Tokenizer = UnicodeWordTokenizer{}
	}
	if opts.K1 <= 0 {
		opts.K1 = DefaultK1
	}
	if opts.TombstoneRatio <= 0 {
		opts.TombstoneRatio = DefaultTombstoneRatio
	}
	if opts.MaxSegments <= 0 {
		opts.MaxSegments = DefaultMaxSegments
	}
	return &Index{
		opts:      opts,
		mutable:   newSegment(),
		locations: make(map[core.DocID]int),
	}
}

// Insert tokenizes text and adds doc's postings to the mutable segment.
// An empty token list is accepted and contributes no postings (spec
// §4.2: "EmptyDocument... is accepted but contributes no postings").
func (idx *Index) Insert(ctx context.Context, doc core.DocID, text string) error {
	return idx.InsertTokens(ctx, doc, idx.opts.Tokenizer.Tokenize(text))
}

// InsertTokens adds doc with pre-tokenized content, bypassing the
// configured tokenizer.
func (idx *Index) InsertTokens(ctx context.Context, doc core.DocID, tokens []string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	idx.mu.Lock()
	defer idx.mu.Unlock()

	if _, exists := idx.locations[doc]; exists {
		return &ErrDuplicateID{ID: doc}
	}
	idx.mutable.insert(doc, tokens)
	idx.locations[doc] = 0
	idx.docCount.Add(1)
	return nil
}

// Remove tombstones doc across whichever segment holds it.
func (idx *Index) Remove(ctx context.Context, doc core.DocID) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	idx.mu.Lock()
	defer idx.mu.Unlock()

	loc, exists := idx.locations[doc]
	if !exists {
		return &ErrNotFound{ID: doc}
	}
	var seg *segment
	if loc == 0 {
		seg = idx.mutable
	} else {
		seg = idx.immutable[loc-1]
	}
	seg.tombstone(doc)
	delete(idx.locations, doc)
	idx.docCount.Add(-1)
	return nil
}

// Count returns the number of live documents.
func (idx *Index) Count() int { return int(idx.docCount.Load()) }

// snapshotSegments returns a stable view of all segments for a query,
// cheap since it only copies slice headers (spec §4.2: "readers
// snapshot the current segment list... and operate lock-free").
func (idx *Index) snapshotSegments() []*segment {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	segs := make([]*segment, 0, len(idx.immutable)+1)
	segs = append(segs, idx.immutable...)
	segs = append(segs, idx.mutable)
	return segs
}
