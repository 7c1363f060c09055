// Package hnsw implements the Hierarchical Navigable Small World graph
// (spec §4.1): insert/search/remove, heuristic pruning, and snapshot +
// tail-log persistence. The algorithm follows the teacher's
// index/hnsw/hnsw.go; this port trades the teacher's arena/mmap storage
// for a plain node map, since this spec's budget favors breadth over the
// teacher's zero-allocation optimizations.
package hnsw

import (
	"fmt"
	"math"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bits-and-blooms/bitset"
	"github.com/ldclabs/anda-db/core"
)

// Metric selects the distance function used throughout one index. A
// query must be searched with the index's own metric (spec §4.1).
type Metric uint8

const (
	MetricL2Squared Metric = iota
	MetricCosine
	MetricInnerProduct
)

func distanceFunc(m Metric) func(a, b []float32) float32 {
	switch m {
	case MetricCosine, MetricInnerProduct:
		return negDot
	default:
		return squaredL2
	}
}

func squaredL2(a, b []float32) float32 {
	var sum float32
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return sum
}

func negDot(a, b []float32) float32 {
	var sum float32
	for i := range a {
		sum += a[i] * b[i]
	}
	return -sum
}

// normalizeL2 normalizes v in place; returns false for a zero vector.
func normalizeL2(v []float32) bool {
	var norm2 float32
	for _, x := range v {
		norm2 += x * x
	}
	if norm2 == 0 {
		return false
	}
	inv := float32(1 / math.Sqrt(float64(norm2)))
	for i := range v {
		v[i] *= inv
	}
	return true
}

const (
	// DefaultM is the default bidirectional link count per layer.
	DefaultM = 16
	// DefaultEFConstruction is the default beam width used while
	// inserting.
	DefaultEFConstruction = 200
	mMax0Multiplier       = 2
	minM                  = 2
	numShardedLocks       = 1024
)

// Options configures a new Index.
type Options struct {
	Dimension       int
	M               int
	EFConstruction  int
	Heuristic       bool
	Metric          Metric
	NormalizeVector bool
	RandomSeed      *int64
}

// DefaultOptions mirrors the teacher's hnsw.DefaultOptions.
var DefaultOptions = Options{
	M:              DefaultM,
	EFConstruction: DefaultEFConstruction,
	Heuristic:      true,
	Metric:         MetricL2Squared,
}

// SearchOptions tunes one KNNSearch call.
type SearchOptions struct {
	EFSearch int
	Filter   func(core.DocID) bool
}

// SearchResult is one ranked hit.
type SearchResult struct {
	ID       core.DocID
	Distance float32
}

// node is one graph vertex: its vector, its layer, and its per-layer
// neighbor lists. mu protects Neighbors only; Vector and Layer are
// immutable after construction.
type node struct {
	mu        sync.RWMutex
	id        core.DocID
	vector    []float32
	layer     int
	neighbors [][]core.DocID // neighbors[l] for layer l
}

// Index is the HNSW proximity graph over float32 vectors (spec §4.1).
type Index struct {
	opts Options
	dist func(a, b []float32) float32

	mu    sync.RWMutex // protects nodes map structure (add/delete keys)
	nodes map[core.DocID]*node

	shardLocks []sync.Mutex // guards bidirectional-edge installation, keyed by id

	epMu        sync.RWMutex
	entryPoint  core.DocID
	hasEntry    bool
	maxLevel    int

	tombstoneMu sync.RWMutex
	tombstones  *bitset.BitSet

	nextID atomic.Uint64
	count  atomic.Int64

	maxConnPerLayer int
	maxConnLayer0   int
	layerMult       float64

	rngMu sync.Mutex
	rng   *rand.Rand
}

// New creates an empty Index.
func New(optFns ...func(*Options)) (*Index, error) {
	opts := DefaultOptions
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Dimension <= 0 {
		return nil, fmt.Errorf("hnsw: dimension must be positive")
	}
	if opts.Metric == MetricCosine {
		opts.NormalizeVector = true
	}
	if opts.M < minM {
		opts.M = minM
	}
	if opts.EFConstruction <= 0 {
		opts.EFConstruction = DefaultEFConstruction
	}

	var seed int64
	if opts.RandomSeed != nil {
		seed = *opts.RandomSeed
	} else {
		seed = time.Now().UnixNano()
	}

	idx := &Index{
		opts:            opts,
		dist:            distanceFunc(opts.Metric),
		nodes:           make(map[core.DocID]*node),
		shardLocks:      make([]sync.Mutex, numShardedLocks),
		tombstones:      bitset.New(1024),
		maxConnPerLayer: opts.M,
		maxConnLayer0:   mMax0Multiplier * opts.M,
		layerMult:       1.0 / math.Log(float64(opts.M)),
		rng:             rand.New(rand.NewSource(seed)),
	}
	idx.nextID.Store(1)
	return idx, nil
}

// Dimension returns the configured vector width.
func (idx *Index) Dimension() int { return idx.opts.Dimension }

// Count returns the number of live (non-tombstoned) vectors.
func (idx *Index) Count() int { return int(idx.count.Load()) }

func (idx *Index) shardLock(id core.DocID) *sync.Mutex {
	return &idx.shardLocks[uint64(id)%uint64(len(idx.shardLocks))]
}

func (idx *Index) randomLayer() int {
	idx.rngMu.Lock()
	r := idx.rng.Float64()
	idx.rngMu.Unlock()
	if r <= 0 {
		r = 1e-300
	}
	return int(math.Floor(-math.Log(r) * idx.layerMult))
}

func (idx *Index) isTombstoned(id core.DocID) bool {
	idx.tombstoneMu.RLock()
	defer idx.tombstoneMu.RUnlock()
	return idx.tombstones.Test(uint(id))
}

func (idx *Index) getNode(id core.DocID) (*node, bool) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	n, ok := idx.nodes[id]
	return n, ok
}

func (idx *Index) distTo(query []float32, id core.DocID) float32 {
	n, ok := idx.getNode(id)
	if !ok {
		return float32(math.Inf(1))
	}
	return idx.dist(query, n.vector)
}

func (idx *Index) connections(id core.DocID, layer int) []core.DocID {
	n, ok := idx.getNode(id)
	if !ok {
		return nil
	}
	n.mu.RLock()
	defer n.mu.RUnlock()
	if layer >= len(n.neighbors) {
		return nil
	}
	out := make([]core.DocID, len(n.neighbors[layer]))
	copy(out, n.neighbors[layer])
	return out
}

func (idx *Index) setConnections(id core.DocID, layer int, conns []core.DocID) {
	n, ok := idx.getNode(id)
	if !ok {
		return
	}
	n.mu.Lock()
	n.neighbors[layer] = conns
	n.mu.Unlock()
}
