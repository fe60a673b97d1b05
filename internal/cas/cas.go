// Package cas implements the conditional-write retry primitive: a generic
// read-modify-write loop with bounded retries and exponential backoff over
// the object store's compare-and-swap puts. It is the single place that
// encodes optimistic concurrency, so every higher-level guard shares
// identical retry semantics.
package cas

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/shopmesh/shopmesh/internal/metrics"
	"github.com/shopmesh/shopmesh/internal/store"
)

// CAS error types.
var (
	// ErrExhausted is returned when all retries failed on the version
	// condition. The update was never applied; callers should surface this
	// as retryable by the client.
	ErrExhausted = errors.New("concurrency retries exhausted")

	// ErrAborted wraps an abort signaled by a ModifyFunc: the precondition
	// was already false when read, and nothing was written.
	ErrAborted = errors.New("update aborted")
)

// Abort signals from inside a ModifyFunc that the update should stop without
// writing. The cause is preserved and can be recovered with errors.Is/As;
// Update reports the whole chain under ErrAborted.
func Abort(cause error) error {
	return fmt.Errorf("%w: %w", ErrAborted, cause)
}

// ModifyFunc computes the next state from the current record. current is nil
// when no record exists. Returning an error aborts the update; wrap it with
// Abort to mark it as an expected early reject rather than a failure.
type ModifyFunc func(current *store.Record) (body []byte, meta map[string]string, err error)

// BackoffFunc returns the wait before retry number attempt (starting at 1).
// It must be strictly increasing.
type BackoffFunc func(attempt int) time.Duration

// ExponentialBackoff is the default backoff: 10ms doubling per attempt.
func ExponentialBackoff(attempt int) time.Duration {
	return 10 * time.Millisecond << attempt
}

// LinearBackoff returns a backoff growing by step per attempt.
func LinearBackoff(step time.Duration) BackoffFunc {
	return func(attempt int) time.Duration {
		return step * time.Duration(attempt)
	}
}

const (
	// DefaultMaxRetries bounds the retry loop after the initial attempt.
	DefaultMaxRetries = 3

	// DefaultTimeout is the wall-clock bound around one whole Update call,
	// limiting worst-case latency under heavy contention.
	DefaultTimeout = 10 * time.Second
)

type options struct {
	maxRetries int
	backoff    BackoffFunc
	timeout    time.Duration
}

// Option customizes a single Update call.
type Option func(*options)

// WithMaxRetries overrides the retry bound.
func WithMaxRetries(n int) Option {
	return func(o *options) { o.maxRetries = n }
}

// WithBackoff overrides the backoff schedule.
func WithBackoff(fn BackoffFunc) Option {
	return func(o *options) { o.backoff = fn }
}

// WithTimeout overrides the wall-clock bound.
func WithTimeout(d time.Duration) Option {
	return func(o *options) { o.timeout = d }
}

var m = metrics.Init(nil)

// Update performs an optimistic read-modify-write of key.
//
// The current record is read (absent treated as nil), fn computes the new
// body and metadata, and the write is conditioned on the version that was
// read (or on non-existence when the record was absent). On a version
// mismatch the loop backs off and retries up to the retry bound; exhausting
// it returns ErrExhausted, never a silent drop. Non-condition errors from
// the store propagate immediately without retry.
func Update(ctx context.Context, client store.Client, key string, fn ModifyFunc, opts ...Option) (*store.Record, error) {
	o := options{
		maxRetries: DefaultMaxRetries,
		backoff:    ExponentialBackoff,
		timeout:    DefaultTimeout,
	}
	for _, opt := range opts {
		opt(&o)
	}

	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	for attempt := 0; ; attempt++ {
		current, err := client.Get(ctx, key)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("read %s: %w", key, err)
		}

		body, meta, err := fn(current)
		if err != nil {
			if errors.Is(err, ErrAborted) {
				m.CASAborts.Inc()
			}
			return nil, err
		}

		putOpts := store.PutOptions{Metadata: meta}
		if current.Exists() {
			putOpts.IfMatch = current.Version
		} else {
			putOpts.IfNoneMatch = true
		}

		rec, err := client.Put(ctx, key, body, putOpts)
		if err == nil {
			return rec, nil
		}
		if !errors.Is(err, store.ErrPreconditionFailed) {
			return nil, fmt.Errorf("write %s: %w", key, err)
		}

		if attempt >= o.maxRetries {
			m.CASExhausted.WithLabelValues(keyPrefix(key)).Inc()
			log.Warn().Str("key", key).Int("attempts", attempt+1).Msg("Conditional write exhausted retries")
			return nil, fmt.Errorf("update %s after %d attempts: %w", key, attempt+1, ErrExhausted)
		}

		m.CASRetries.WithLabelValues(keyPrefix(key)).Inc()
		log.Debug().Str("key", key).Int("attempt", attempt+1).Msg("Conditional write conflict, retrying")

		select {
		case <-time.After(o.backoff(attempt + 1)):
		case <-ctx.Done():
			return nil, fmt.Errorf("update %s: %w", key, ctx.Err())
		}
	}
}

// keyPrefix reduces a key to its first path segment to keep metric
// cardinality bounded.
func keyPrefix(key string) string {
	if i := strings.IndexByte(key, '/'); i > 0 {
		return key[:i]
	}
	return key
}
