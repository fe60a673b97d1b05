// Package batch processes arbitrary-size collections of independent store
// writes or deletes: fixed-size chunks run sequentially, items within a
// chunk run concurrently, and one item's failure never aborts its siblings.
package batch

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/shopmesh/shopmesh/internal/metrics"
)

// DefaultChunkSize bounds both the in-flight concurrency and the chunk
// boundary for invalidation notifications.
const DefaultChunkSize = 50

// Status classifies one item's outcome.
type Status string

// Item outcome statuses.
const (
	StatusSuccess  Status = "success"
	StatusNotFound Status = "not_found"
	StatusError    Status = "error"
)

// Result is the per-item outcome. The result set is always 1:1 with the
// input items, though not necessarily in input order.
type Result struct {
	Key     string `json:"key"`
	Status  Status `json:"status"`
	Message string `json:"message,omitempty"`
}

// Item is one unit of work, identified by the store key it affects.
type Item struct {
	Key   string
	Value []byte
}

// Handler performs the per-item operation. Returning ErrNotFound from the
// store marks the item not_found; any other error marks it error.
type Handler func(ctx context.Context, item Item) error

// NotFoundClassifier reports whether an error should be recorded as
// not_found rather than error.
type NotFoundClassifier func(error) bool

// Invalidator receives the keys of successfully processed items after each
// chunk, typically to purge an external cache. Failures are logged and never
// escalated: the writes already succeeded.
type Invalidator interface {
	Notify(ctx context.Context, keys []string) error
}

var m = metrics.Init(nil)

// Processor runs batches with bounded concurrency.
type Processor struct {
	chunkSize   int
	invalidator Invalidator
	notFound    NotFoundClassifier
}

// Option customizes a Processor.
type Option func(*Processor)

// WithChunkSize overrides the chunk size.
func WithChunkSize(n int) Option {
	return func(p *Processor) {
		if n > 0 {
			p.chunkSize = n
		}
	}
}

// WithInvalidator sets the cache-invalidation collaborator.
func WithInvalidator(inv Invalidator) Option {
	return func(p *Processor) { p.invalidator = inv }
}

// WithNotFoundClassifier sets the predicate that maps handler errors to the
// not_found status.
func WithNotFoundClassifier(fn NotFoundClassifier) Option {
	return func(p *Processor) { p.notFound = fn }
}

// New creates a processor.
func New(opts ...Option) *Processor {
	p := &Processor{chunkSize: DefaultChunkSize}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Process runs handler over every item: sequential chunks of chunkSize,
// concurrent items within a chunk. Item failures (including panics) are
// captured as per-item results; the returned slice always has one result
// per input item. The caller decides the partial-failure policy.
func (p *Processor) Process(ctx context.Context, items []Item, handler Handler) []Result {
	results := make([]Result, 0, len(items))

	for start := 0; start < len(items); start += p.chunkSize {
		end := start + p.chunkSize
		if end > len(items) {
			end = len(items)
		}
		chunk := items[start:end]

		chunkResults := make([]Result, len(chunk))
		g, gctx := errgroup.WithContext(ctx)
		for i, item := range chunk {
			g.Go(func() error {
				chunkResults[i] = p.runOne(gctx, item, handler)
				return nil
			})
		}
		_ = g.Wait() // item errors are captured in results, never returned

		m.BatchChunks.Inc()

		var written []string
		for _, res := range chunkResults {
			m.BatchItems.WithLabelValues(string(res.Status)).Inc()
			if res.Status == StatusSuccess {
				written = append(written, res.Key)
			}
		}
		results = append(results, chunkResults...)

		if p.invalidator != nil && len(written) > 0 {
			if err := p.invalidator.Notify(ctx, written); err != nil {
				log.Warn().Err(err).Int("keys", len(written)).Msg("Cache invalidation failed")
			}
		}
	}

	return results
}

// runOne executes the handler for a single item, converting errors and
// panics into a Result.
func (p *Processor) runOne(ctx context.Context, item Item, handler Handler) (res Result) {
	res = Result{Key: item.Key, Status: StatusSuccess}

	defer func() {
		if r := recover(); r != nil {
			res.Status = StatusError
			res.Message = fmt.Sprintf("panic: %v", r)
			log.Error().Str("key", item.Key).Interface("panic", r).Msg("Batch item handler panicked")
		}
	}()

	if err := handler(ctx, item); err != nil {
		if p.notFound != nil && p.notFound(err) {
			res.Status = StatusNotFound
		} else {
			res.Status = StatusError
		}
		res.Message = err.Error()
	}
	return res
}
