package collection

import (
	"context"
	"fmt"

	"github.com/ldclabs/anda-db/core"
	"github.com/ldclabs/anda-db/hnsw"
)

// VectorHit is one ranked hit from VectorSearch, ordered nearest first.
type VectorHit struct {
	ID       core.DocID
	Distance float32
}

// TextHit is one ranked hit from TextSearch, ordered best-scoring first.
type TextHit struct {
	ID    core.DocID
	Score float64
}

// VectorSearch runs a KNN search against an HNSW-indexed field.
func (m *Manager) VectorSearch(ctx context.Context, field string, query []float32, k, efSearch int, filter func(core.DocID) bool) ([]VectorHit, error) {
	idx, ok := m.hnsw[field]
	if !ok {
		return nil, fmt.Errorf("collection: field %q has no vector index", field)
	}
	results, err := idx.KNNSearch(ctx, query, k, &hnsw.SearchOptions{EFSearch: efSearch, Filter: filter})
	if err != nil {
		return nil, err
	}
	out := make([]VectorHit, len(results))
	for i, r := range results {
		out[i] = VectorHit{ID: r.ID, Distance: r.Distance}
	}
	return out, nil
}

// TextSearch runs a BM25 search against a TFS-indexed field.
func (m *Manager) TextSearch(ctx context.Context, field string, query string, k int, filter func(core.DocID) bool) ([]TextHit, error) {
	idx, ok := m.tfs[field]
	if !ok {
		return nil, fmt.Errorf("collection: field %q has no text index", field)
	}
	results, err := idx.Search(ctx, query, k, filter)
	if err != nil {
		return nil, err
	}
	out := make([]TextHit, len(results))
	for i, r := range results {
		out[i] = TextHit{ID: r.ID, Score: r.Score}
	}
	return out, nil
}
