// Package blobstore is the Object Store Abstraction (OSA, spec §2, §6):
// an append/read/list/delete byte-blob KV keyed by slash-delimited logical
// path. Every index and the collection manager persists through this
// interface only; concrete cloud backends (S3, MinIO, DynamoDB — the
// teacher's blobstore/s3 and blobstore/minio packages) are the external
// collaborator spec.md §1 places out of scope for this core, so only a
// local-filesystem and an in-memory reference implementation live here.
package blobstore

import (
	"context"
	"errors"
)

// ErrNotFound is returned when a blob does not exist. Implementations
// must return an error satisfying errors.Is(err, ErrNotFound).
var ErrNotFound = errors.New("blobstore: not found")

// Store is the OSA contract consumed by every index and by the
// collection manager's manifest/WAL (spec §6): put, get, list, delete,
// rename. Operations are atomic per object but not across objects.
type Store interface {
	// Put writes a blob, replacing any existing content at path.
	Put(ctx context.Context, path string, data []byte) error

	// Get reads the full contents of path.
	Get(ctx context.Context, path string) ([]byte, error)

	// List returns every path with the given prefix, in no particular
	// order.
	List(ctx context.Context, prefix string) ([]string, error)

	// Delete removes path. Deleting a missing path is not an error.
	Delete(ctx context.Context, path string) error

	// Rename atomically renames a path, when the backend can do so (the
	// local filesystem backend uses os.Rename; backends without an
	// atomic rename primitive may fall back to copy+delete, which is
	// outside the "atomic per object" guarantee and such backends must
	// document the gap).
	Rename(ctx context.Context, from, to string) error
}
