package collection

import (
	"context"
	"fmt"
	"sort"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/ldclabs/anda-db/core"
	"github.com/ldclabs/anda-db/value"
)

// PlanNode is one node of a query plan tree (spec §4.4): leaves are
// index probes, interior nodes are bitmap AND/OR/AND_NOT composition.
type PlanNode interface {
	eval(ctx context.Context, m *Manager) (*roaring.Bitmap, error)
}

// And intersects all children.
type And struct{ Children []PlanNode }

func (n And) eval(ctx context.Context, m *Manager) (*roaring.Bitmap, error) {
	if len(n.Children) == 0 {
		return roaring.New(), nil
	}
	result, err := n.Children[0].eval(ctx, m)
	if err != nil {
		return nil, err
	}
	result = result.Clone()
	for _, c := range n.Children[1:] {
		bm, err := c.eval(ctx, m)
		if err != nil {
			return nil, err
		}
		result.And(bm)
	}
	return result, nil
}

// Or unions all children.
type Or struct{ Children []PlanNode }

func (n Or) eval(ctx context.Context, m *Manager) (*roaring.Bitmap, error) {
	result := roaring.New()
	for _, c := range n.Children {
		bm, err := c.eval(ctx, m)
		if err != nil {
			return nil, err
		}
		result.Or(bm)
	}
	return result, nil
}

// AndNot subtracts Right from Left.
type AndNot struct{ Left, Right PlanNode }

func (n AndNot) eval(ctx context.Context, m *Manager) (*roaring.Bitmap, error) {
	left, err := n.Left.eval(ctx, m)
	if err != nil {
		return nil, err
	}
	right, err := n.Right.eval(ctx, m)
	if err != nil {
		return nil, err
	}
	result := left.Clone()
	result.AndNot(right)
	return result, nil
}

// AttrEqual probes a BTI field for an exact value match.
type AttrEqual struct {
	Field string
	Value value.Value
}

func (n AttrEqual) eval(ctx context.Context, m *Manager) (*roaring.Bitmap, error) {
	tr, ok := m.bti[n.Field]
	if !ok {
		return nil, fmt.Errorf("collection: field %q has no attribute index", n.Field)
	}
	key, err := attrKey(n.Value)
	if err != nil {
		return nil, err
	}
	return tr.Equal(ctx, key)
}

// AttrRange probes a BTI field for a [lo, hi) range.
type AttrRange struct {
	Field  string
	Lo, Hi *value.Value
}

func (n AttrRange) eval(ctx context.Context, m *Manager) (*roaring.Bitmap, error) {
	tr, ok := m.bti[n.Field]
	if !ok {
		return nil, fmt.Errorf("collection: field %q has no attribute index", n.Field)
	}
	var lo, hi []byte
	var err error
	if n.Lo != nil {
		if lo, err = attrKey(*n.Lo); err != nil {
			return nil, err
		}
	}
	if n.Hi != nil {
		if hi, err = attrKey(*n.Hi); err != nil {
			return nil, err
		}
	}
	return tr.Range(ctx, lo, hi)
}

// AttrPrefix probes a BTI string field for a shared prefix.
type AttrPrefix struct {
	Field  string
	Prefix string
}

func (n AttrPrefix) eval(ctx context.Context, m *Manager) (*roaring.Bitmap, error) {
	tr, ok := m.bti[n.Field]
	if !ok {
		return nil, fmt.Errorf("collection: field %q has no attribute index", n.Field)
	}
	key, err := attrKey(value.String(n.Prefix))
	if err != nil {
		return nil, err
	}
	return tr.Prefix(ctx, key)
}

// VectorProbe runs a KNN search on an HNSW field and returns the hit
// ids as a bitmap, discarding ranking for use in boolean composition.
// Scored results are obtained separately via Manager.VectorSearch.
type VectorProbe struct {
	Field    string
	Query    []float32
	K        int
	EFSearch int
}

func (n VectorProbe) eval(ctx context.Context, m *Manager) (*roaring.Bitmap, error) {
	results, err := m.VectorSearch(ctx, n.Field, n.Query, n.K, n.EFSearch, nil)
	if err != nil {
		return nil, err
	}
	bm := roaring.New()
	for _, r := range results {
		bm.Add(uint32(r.ID))
	}
	return bm, nil
}

// TextProbe runs a BM25 search on a TFS field and returns the hit ids
// as a bitmap. Scored results are obtained via Manager.TextSearch.
type TextProbe struct {
	Field string
	Query string
	K     int
}

func (n TextProbe) eval(ctx context.Context, m *Manager) (*roaring.Bitmap, error) {
	results, err := m.TextSearch(ctx, n.Field, n.Query, n.K, nil)
	if err != nil {
		return nil, err
	}
	bm := roaring.New()
	for _, r := range results {
		bm.Add(uint32(r.ID))
	}
	return bm, nil
}

// Query executes plan and returns the matching doc_ids (spec §4.4:
// "query(plan) → stream of doc_ids").
func (m *Manager) Query(ctx context.Context, plan PlanNode) ([]core.DocID, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	bm, err := plan.eval(ctx, m)
	if err != nil {
		return nil, err
	}
	out := make([]core.DocID, 0, bm.GetCardinality())
	it := bm.Iterator()
	for it.HasNext() {
		out = append(out, core.DocID(it.Next()))
	}
	return out, nil
}

// RankedHit is one fused ranked result from a hybrid vector+text query.
type RankedHit struct {
	ID    core.DocID
	Score float64
}

// FuseRanks merges two ranked result lists by normalized-rank fusion
// (spec §4.4: "ranking re-merge... via normalized-rank fusion"): each
// list contributes 1 - rank/len to a doc's fused score, so a doc's
// position (not its raw, differently-scaled score) drives the merge.
func FuseRanks(vector []VectorHit, text []TextHit, weightVector, weightText float64) []RankedHit {
	scores := make(map[core.DocID]float64)
	n := len(vector)
	for i, h := range vector {
		scores[h.ID] += weightVector * (1 - float64(i)/float64(n))
	}
	n = len(text)
	for i, h := range text {
		scores[h.ID] += weightText * (1 - float64(i)/float64(n))
	}
	out := make([]RankedHit, 0, len(scores))
	for id, s := range scores {
		out = append(out, RankedHit{ID: id, Score: s})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].ID < out[j].ID
	})
	return out
}
