// Package store defines the object store client used by the coordination
// primitives: single-key get/head/put/delete/list with version tokens and
// conditional writes. It is the only shared mutable resource in the system.
package store

import (
	"context"
	"errors"
)

// Store error types.
var (
	// ErrNotFound is returned when no record exists at the requested key.
	ErrNotFound = errors.New("record not found")

	// ErrPreconditionFailed is returned when a conditional put's version
	// condition does not hold at write time. A write conditioned on a stale
	// version must fail with this error, never silently overwrite.
	ErrPreconditionFailed = errors.New("precondition failed")

	// ErrUnavailable wraps transport-level failures (network, permission).
	// These are never retried by the coordination layer.
	ErrUnavailable = errors.New("store unavailable")
)

// Record is a versioned object read from or written to the store.
// Version is the opaque token ("etag") returned by the store on every read;
// it is empty when the record does not exist.
type Record struct {
	Key      string
	Body     []byte
	Metadata map[string]string
	Version  string
}

// Exists reports whether the record was present in the store when read.
func (r *Record) Exists() bool {
	return r != nil && r.Version != ""
}

// PutOptions control a write. At most one of IfMatch and IfNoneMatch may be
// set; a put with neither is unconditional.
type PutOptions struct {
	Metadata map[string]string

	// IfMatch conditions the write on the record's current version token
	// matching exactly. Mismatch fails with ErrPreconditionFailed.
	IfMatch string

	// IfNoneMatch conditions the write on no record existing at the key
	// (create-if-absent). An existing record fails with ErrPreconditionFailed.
	IfNoneMatch bool
}

// ListPage is one page of a prefix listing.
type ListPage struct {
	Records    []Record
	NextCursor string
	Truncated  bool
}

// Client is the object store interface. Every call is a suspension point;
// implementations must be safe for concurrent use.
//
// The coordination layer assumes the store provides linearizable
// compare-and-swap per key: of N concurrent writers conditioned on the same
// version, at most one succeeds. An eventually consistent store cannot back
// these primitives.
type Client interface {
	// Get reads a record. Returns ErrNotFound when absent.
	Get(ctx context.Context, key string) (*Record, error)

	// Head reads metadata and version only, without the body.
	// Returns ErrNotFound when absent.
	Head(ctx context.Context, key string) (*Record, error)

	// Put writes a record, honoring any condition in opts, and returns the
	// stored record with its new version token.
	Put(ctx context.Context, key string, body []byte, opts PutOptions) (*Record, error)

	// Delete removes a record. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error

	// DeleteMany removes multiple records in one call where the backend
	// supports it.
	DeleteMany(ctx context.Context, keys []string) error

	// List returns records under prefix, paginated by cursor.
	List(ctx context.Context, prefix, cursor string, limit int) (*ListPage, error)
}
