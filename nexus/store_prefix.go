package nexus

import (
	"context"
	"strings"

	"github.com/ldclabs/anda-db/blobstore"
)

// prefixedStore namespaces every path under a fixed prefix, so the
// concept and proposition collections can share one underlying blob
// store without key collisions (each collection otherwise addresses
// blobs by its own relative paths, e.g. "docs/<id>.cbor.zst").
type prefixedStore struct {
	inner  blobstore.Store
	prefix string
}

func newPrefixedStore(inner blobstore.Store, prefix string) *prefixedStore {
	return &prefixedStore{inner: inner, prefix: prefix}
}

func (s *prefixedStore) path(p string) string { return s.prefix + "/" + p }

func (s *prefixedStore) Put(ctx context.Context, path string, data []byte) error {
	return s.inner.Put(ctx, s.path(path), data)
}

func (s *prefixedStore) Get(ctx context.Context, path string) ([]byte, error) {
	return s.inner.Get(ctx, s.path(path))
}

func (s *prefixedStore) List(ctx context.Context, prefix string) ([]string, error) {
	paths, err := s.inner.List(ctx, s.path(prefix))
	if err != nil {
		return nil, err
	}
	trimmed := make([]string, len(paths))
	for i, p := range paths {
		trimmed[i] = strings.TrimPrefix(p, s.prefix+"/")
	}
	return trimmed, nil
}

func (s *prefixedStore) Delete(ctx context.Context, path string) error {
	return s.inner.Delete(ctx, s.path(path))
}

func (s *prefixedStore) Rename(ctx context.Context, from, to string) error {
	return s.inner.Rename(ctx, s.path(from), s.path(to))
}
