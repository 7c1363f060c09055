package btree

import (
	"bytes"
	"context"
	"sort"
	"sync"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/ldclabs/anda-db/core"
)

const (
	// DefaultOrder is the maximum number of keys per page before a split
	// (spec §4.3: "Nodes are fixed-size pages").
	DefaultOrder = 128
)

// Options configures a new Tree.
type Options struct {
	Order int
}

var DefaultOptions = Options{Order: DefaultOrder}

// entry is one (key, postings) pair stored at a leaf.
type entry struct {
	key      []byte
	postings *roaring.Bitmap
}

// pageNode is one B+tree node. Leaves hold entries directly; internal
// nodes hold separator keys and child pointers. Splits propagate
// upward in the standard B+-tree manner (spec §4.3).
type pageNode struct {
	leaf     bool
	entries  []entry       // leaf: sorted key->postings
	keys     [][]byte      // internal: len(children)-1 separator keys
	children []*pageNode   // internal
	next     *pageNode     // leaf sibling chain, for ordered range scans
}

// Tree is an in-memory B+Tree over encoded attribute keys, mapping each
// key to a roaring bitmap of doc_ids (spec §4.3). Snapshot and Load in
// persistence.go write and read the tree as sorted (key, postings) pairs.
type Tree struct {
	mu    sync.RWMutex
	opts  Options
	root  *pageNode
}

// New creates an empty Tree.
func New(optFns ...func(*Options)) *Tree {
	opts := DefaultOptions
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Order < 4 {
		opts.Order = DefaultOrder
	}
	return &Tree{
		opts: opts,
		root: &pageNode{leaf: true},
	}
}

// Insert adds doc to the postings list for key, creating the entry if
// absent.
func (t *Tree) Insert(ctx context.Context, key []byte, doc core.DocID) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	leaf := t.findLeaf(key)
	idx, found := leafSearch(leaf, key)
	if found {
		leaf.entries[idx].postings.Add(uint32(doc))
		return nil
	}
	bm := roaring.New()
	bm.Add(uint32(doc))
	insertAt(leaf, idx, entry{key: append([]byte{}, key...), postings: bm})

	if len(leaf.entries) > t.opts.Order {
		t.splitLeaf(leaf)
	}
	return nil
}

// Remove clears doc from key's postings list. It is not an error for
// doc to already be absent.
func (t *Tree) Remove(ctx context.Context, key []byte, doc core.DocID) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	leaf := t.findLeaf(key)
	idx, found := leafSearch(leaf, key)
	if !found {
		return nil
	}
	leaf.entries[idx].postings.Remove(uint32(doc))
	return nil
}

// Equal returns the postings bitmap for an exact key match, or an empty
// bitmap if the key is absent.
func (t *Tree) Equal(ctx context.Context, key []byte) (*roaring.Bitmap, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	t.mu.RLock()
	defer t.mu.RUnlock()

	leaf := t.findLeaf(key)
	idx, found := leafSearch(leaf, key)
	if !found {
		return roaring.New(), nil
	}
	return leaf.entries[idx].postings.Clone(), nil
}

// Range returns the union of postings for all keys in [lo, hi). A nil
// lo means "from the beginning"; a nil hi means "to the end".
func (t *Tree) Range(ctx context.Context, lo, hi []byte) (*roaring.Bitmap, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	t.mu.RLock()
	defer t.mu.RUnlock()

	result := roaring.New()
	var leaf *pageNode
	if lo == nil {
		leaf = t.leftmostLeaf()
	} else {
		leaf = t.findLeaf(lo)
	}

	for leaf != nil {
		for _, e := range leaf.entries {
			if lo != nil && bytes.Compare(e.key, lo) < 0 {
				continue
			}
			if hi != nil && bytes.Compare(e.key, hi) >= 0 {
				return result, nil
			}
			result.Or(e.postings)
		}
		leaf = leaf.next
	}
	return result, nil
}

// Prefix returns the union of postings for all keys sharing prefix p.
func (t *Tree) Prefix(ctx context.Context, p []byte) (*roaring.Bitmap, error) {
	hi := PrefixUpperBound(p)
	return t.Range(ctx, p, hi)
}

func (t *Tree) findLeaf(key []byte) *pageNode {
	n := t.root
	for !n.leaf {
		i := sort.Search(len(n.keys), func(i int) bool { return bytes.Compare(key, n.keys[i]) < 0 })
		n = n.children[i]
	}
	return n
}

func (t *Tree) leftmostLeaf() *pageNode {
	n := t.root
	for !n.leaf {
		n = n.children[0]
	}
	return n
}

func leafSearch(leaf *pageNode, key []byte) (int, bool) {
	i := sort.Search(len(leaf.entries), func(i int) bool { return bytes.Compare(leaf.entries[i].key, key) >= 0 })
	if i < len(leaf.entries) && bytes.Equal(leaf.entries[i].key, key) {
		return i, true
	}
	return i, false
}

func insertAt(leaf *pageNode, idx int, e entry) {
	leaf.entries = append(leaf.entries, entry{})
	copy(leaf.entries[idx+1:], leaf.entries[idx:])
	leaf.entries[idx] = e
}

// splitLeaf splits an overfull leaf and propagates the new separator
// upward, growing the tree height when the root itself splits (spec
// §4.3: "Splits propagate upward in the standard B+-tree manner").
func (t *Tree) splitLeaf(leaf *pageNode) {
	mid := len(leaf.entries) / 2
	right := &pageNode{leaf: true, entries: append([]entry{}, leaf.entries[mid:]...), next: leaf.next}
	leaf.entries = leaf.entries[:mid]
	leaf.next = right
	sepKey := right.entries[0].key

	t.insertIntoParent(leaf, sepKey, right)
}

// insertIntoParent finds left's parent (or creates a new root if left
// was the root) and inserts (sepKey, right) after left.
func (t *Tree) insertIntoParent(left *pageNode, sepKey []byte, right *pageNode) {
	if left == t.root {
		t.root = &pageNode{
			leaf:     false,
			keys:     [][]byte{sepKey},
			children: []*pageNode{left, right},
		}
		return
	}

	parent := t.findParent(t.root, left)
	i := 0
	for i < len(parent.children) && parent.children[i] != left {
		i++
	}

	parent.keys = append(parent.keys, nil)
	copy(parent.keys[i+1:], parent.keys[i:])
	parent.keys[i] = sepKey

	parent.children = append(parent.children, nil)
	copy(parent.children[i+2:], parent.children[i+1:])
	parent.children[i+1] = right

	if len(parent.keys) > t.opts.Order {
		t.splitInternal(parent)
	}
}

func (t *Tree) splitInternal(n *pageNode) {
	mid := len(n.keys) / 2
	sepKey := n.keys[mid]

	right := &pageNode{
		leaf:     false,
		keys:     append([][]byte{}, n.keys[mid+1:]...),
		children: append([]*pageNode{}, n.children[mid+1:]...),
	}
	n.keys = n.keys[:mid]
	n.children = n.children[:mid+1]

	t.insertIntoParent(n, sepKey, right)
}

func (t *Tree) findParent(node, child *pageNode) *pageNode {
	if node.leaf {
		return nil
	}
	for _, c := range node.children {
		if c == child {
			return node
		}
	}
	for _, c := range node.children {
		if !c.leaf {
			if p := t.findParent(c, child); p != nil {
				return p
			}
		}
	}
	return nil
}

// Count returns the number of distinct keys in the tree.
func (t *Tree) Count() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	n := 0
	for leaf := t.leftmostLeaf(); leaf != nil; leaf = leaf.next {
		n += len(leaf.entries)
	}
	return n
}
