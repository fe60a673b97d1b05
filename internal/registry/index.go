package registry

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/shopmesh/shopmesh/internal/store"
)

// ErrIndexExists is returned when creating an index whose path is already
// registered or whose object already exists.
var ErrIndexExists = errors.New("index already exists")

// ErrIndexNotFound is returned when dropping an index that does not exist.
var ErrIndexNotFound = errors.New("index not found")

// Indexes manages index objects together with their registry entries. The
// registry is advisory: the authoritative existence check is always whether
// the index object itself exists.
type Indexes struct {
	client   store.Client
	registry *Registry
	prefix   string // key prefix for index objects
}

// NewIndexes creates an index manager storing objects under prefix and
// tracking them in the given registry.
func NewIndexes(client store.Client, registry *Registry, prefix string) *Indexes {
	return &Indexes{
		client:   client,
		registry: registry,
		prefix:   strings.TrimSuffix(prefix, "/"),
	}
}

func (ix *Indexes) objectKey(path string) string {
	return ix.prefix + "/" + strings.TrimPrefix(path, "/")
}

// Create registers path and writes the index object body.
//
// Order: registry entry first, then a create-if-absent write of the object.
// If the object write fails the just-added entry is rolled back best-effort,
// conditioned on the entry still holding the value added here so a
// legitimately re-added entry is not lost. Rollback failures are logged,
// not escalated: the registry is advisory.
func (ix *Indexes) Create(ctx context.Context, path string, meta Entry, body []byte) error {
	added, err := ix.registry.AddEntry(ctx, path, meta)
	if err != nil {
		return fmt.Errorf("register index %s: %w", path, err)
	}
	if !added {
		return fmt.Errorf("index %s: %w", path, ErrIndexExists)
	}

	_, err = ix.client.Put(ctx, ix.objectKey(path), body, store.PutOptions{IfNoneMatch: true})
	if err == nil {
		return nil
	}

	m.RegistryRollbacks.Inc()
	if rbErr := ix.registry.removeEntryIf(ctx, path, meta); rbErr != nil {
		log.Warn().Err(rbErr).Str("path", path).Msg("Failed to roll back registry entry")
	}

	if errors.Is(err, store.ErrPreconditionFailed) {
		return fmt.Errorf("index %s: %w", path, ErrIndexExists)
	}
	return fmt.Errorf("create index object %s: %w", path, err)
}

// Drop removes the index object and then its registry entry. The object
// delete is authoritative; a failure there aborts before touching the
// registry.
func (ix *Indexes) Drop(ctx context.Context, path string) error {
	if _, err := ix.client.Head(ctx, ix.objectKey(path)); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			// Object already gone; still clear any stale registry entry.
			if rmErr := ix.registry.RemoveEntry(ctx, path); rmErr != nil {
				return rmErr
			}
			return fmt.Errorf("index %s: %w", path, ErrIndexNotFound)
		}
		return fmt.Errorf("head index object %s: %w", path, err)
	}

	if err := ix.client.Delete(ctx, ix.objectKey(path)); err != nil {
		return fmt.Errorf("delete index object %s: %w", path, err)
	}

	return ix.registry.RemoveEntry(ctx, path)
}

// Get reads an index object body. The object is authoritative, so this
// bypasses the registry entirely.
func (ix *Indexes) Get(ctx context.Context, path string) ([]byte, error) {
	rec, err := ix.client.Get(ctx, ix.objectKey(path))
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("index %s: %w", path, ErrIndexNotFound)
	}
	if err != nil {
		return nil, err
	}
	return rec.Body, nil
}
