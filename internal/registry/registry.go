// Package registry maintains a single JSON document holding a set of index
// entries, mutated one entry at a time by concurrent requests. The whole
// document is rewritten on every mutation through the conditional-write
// primitive, with a retry policy tuned for low-frequency, document-sized
// contention.
package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/shopmesh/shopmesh/internal/cas"
	"github.com/shopmesh/shopmesh/internal/metrics"
	"github.com/shopmesh/shopmesh/internal/store"
)

// ErrUpdateFailed is returned when a registry mutation exhausted its retries
// under contention. Callers must surface it as retryable by the client,
// never as success.
var ErrUpdateFailed = errors.New("registry update failed")

var m = metrics.Init(nil)

// Entry is the metadata stored per registered path.
type Entry map[string]string

// document is the stored shape of the registry.
type document struct {
	Entries map[string]Entry `json:"entries"`
}

// Registry mutates one registry document identified by its store key.
type Registry struct {
	client     store.Client
	key        string
	maxRetries int
	backoff    cas.BackoffFunc
}

// Option customizes a registry's retry policy.
type Option func(*Registry)

// WithRetries overrides the retry bound.
func WithRetries(n int) Option {
	return func(r *Registry) { r.maxRetries = n }
}

// WithBackoff overrides the backoff schedule.
func WithBackoff(fn cas.BackoffFunc) Option {
	return func(r *Registry) { r.backoff = fn }
}

// New creates a registry over the document at key.
//
// The default retry policy is linear (100ms per attempt, 3 attempts),
// distinct from the exponential default: registry contention is
// lower-frequency but each attempt rewrites the whole document, so fewer,
// longer-spaced retries trade off better.
func New(client store.Client, key string, opts ...Option) *Registry {
	r := &Registry{
		client:     client,
		key:        key,
		maxRetries: 3,
		backoff:    cas.LinearBackoff(100 * time.Millisecond),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// sentinel aborts used inside the CAS loop.
var (
	errAlreadyPresent = errors.New("entry already present")
	errAbsent         = errors.New("entry absent")
	errValueChanged   = errors.New("entry value changed")
)

// update runs one read-mutate-write cycle over the document with the
// registry retry policy. fn returns false to abort without writing.
func (r *Registry) update(ctx context.Context, abort error, fn func(doc *document) bool) error {
	_, err := cas.Update(ctx, r.client, r.key, func(current *store.Record) ([]byte, map[string]string, error) {
		doc := document{Entries: make(map[string]Entry)}
		if current.Exists() {
			if err := json.Unmarshal(current.Body, &doc); err != nil {
				return nil, nil, fmt.Errorf("decode registry %s: %w", r.key, err)
			}
			if doc.Entries == nil {
				doc.Entries = make(map[string]Entry)
			}
		}

		if !fn(&doc) {
			return nil, nil, cas.Abort(abort)
		}

		body, err := json.Marshal(doc)
		return body, nil, err
	},
		cas.WithMaxRetries(r.maxRetries),
		cas.WithBackoff(func(attempt int) time.Duration {
			m.RegistryRetries.Inc()
			return r.backoff(attempt)
		}),
	)

	if errors.Is(err, cas.ErrExhausted) {
		m.RegistryFailures.Inc()
		return fmt.Errorf("registry %s: %w", r.key, ErrUpdateFailed)
	}
	return err
}

// AddEntry inserts path with its metadata. It returns added=false without
// writing when the path is already registered.
func (r *Registry) AddEntry(ctx context.Context, path string, meta Entry) (added bool, err error) {
	err = r.update(ctx, errAlreadyPresent, func(doc *document) bool {
		if _, ok := doc.Entries[path]; ok {
			return false
		}
		doc.Entries[path] = meta
		return true
	})
	if errors.Is(err, errAlreadyPresent) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// RemoveEntry deletes path from the registry. Removing an absent path is a
// no-op returning success.
func (r *Registry) RemoveEntry(ctx context.Context, path string) error {
	err := r.update(ctx, errAbsent, func(doc *document) bool {
		if _, ok := doc.Entries[path]; !ok {
			return false
		}
		delete(doc.Entries, path)
		return true
	})
	if errors.Is(err, errAbsent) {
		return nil
	}
	return err
}

// removeEntryIf deletes path only while its stored metadata still equals
// expected. Used by the create-index rollback so a concurrently re-added
// entry for the same path is left alone.
func (r *Registry) removeEntryIf(ctx context.Context, path string, expected Entry) error {
	err := r.update(ctx, errValueChanged, func(doc *document) bool {
		current, ok := doc.Entries[path]
		if !ok || !entriesEqual(current, expected) {
			return false
		}
		delete(doc.Entries, path)
		return true
	})
	if errors.Is(err, errValueChanged) {
		log.Debug().Str("path", path).Msg("Skipping rollback, registry entry was replaced")
		return nil
	}
	return err
}

// Entries returns a snapshot of the registry document. A missing document
// reads as empty.
func (r *Registry) Entries(ctx context.Context) (map[string]Entry, error) {
	rec, err := r.client.Get(ctx, r.key)
	if errors.Is(err, store.ErrNotFound) {
		return map[string]Entry{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read registry %s: %w", r.key, err)
	}

	var doc document
	if err := json.Unmarshal(rec.Body, &doc); err != nil {
		return nil, fmt.Errorf("decode registry %s: %w", r.key, err)
	}
	if doc.Entries == nil {
		doc.Entries = map[string]Entry{}
	}
	return doc.Entries, nil
}

func entriesEqual(a, b Entry) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		if b[k] != v {
			return false
		}
	}
	return true
}
