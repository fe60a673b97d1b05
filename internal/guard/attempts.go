// Package guard builds the single-key coordination guards on top of the
// conditional-write retry primitive: monotonic attempt counters with a hard
// ceiling, single-use token revocation, and create-once link records.
package guard

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

var m = metrics.Init(nil)

// errCeiling marks a modify-time early reject inside the CAS loop.
var errCeiling = errors.New("attempt ceiling reached")

// counterRecord is the stored shape of an attempt counter. The expiry is
// advisory metadata for external cleanup, not enforced here.
type counterRecord struct {
	Count         int       `json:"count"`
	LastAttemptAt time.Time `json:"last_attempt_at"`
	ExpiresAt     time.Time `json:"expires_at"`
}

// AttemptResult reports the outcome of one counted attempt.
type AttemptResult struct {
	// Accepted is true when the attempt is within the ceiling.
	Accepted bool

	// Exceeded is true once the counter has passed the ceiling.
	Exceeded bool

	// EarlyReject distinguishes a rejection before any write (the counter
	// was already over the ceiling) from one where the tipping increment
	// was still written. Used for logging and metrics only.
	EarlyReject bool

	// Count is the durable count after this call.
	Count int
}

// Limiter counts failed verification attempts per subject with a hard
// ceiling. Counts are monotonic: they are never decremented, only deleted
// wholesale by Reset after a successful verification.
type Limiter struct {
	client  store.Client
	ceiling int
	ttl     time.Duration
	prefix  string
	casOpts []cas.Option
}

// NewLimiter creates a limiter with the given ceiling. ttl sets the advisory
// expires_at annotation on counter records. casOpts tune the underlying
// conditional-write retry loop.
func NewLimiter(client store.Client, ceiling int, ttl time.Duration, casOpts ...cas.Option) *Limiter {
	return &Limiter{
		client:  client,
		ceiling: ceiling,
		ttl:     ttl,
		prefix:  "attempts/",
		casOpts: casOpts,
	}
}

func (l *Limiter) key(subject string) string {
	return l.prefix + hashKey(subject)
}

// Increment records one failed attempt for subject.
//
// A fast-path read rejects without writing once the subject is already at
// the ceiling, avoiding write contention on blocked subjects. Otherwise the
// counter is incremented through the CAS primitive; if the new count tips
// over the ceiling the caller is still rejected, but the increment remains
// durable so the ceiling stays monotonic against races.
func (l *Limiter) Increment(ctx context.Context, subject string) (AttemptResult, error) {
	key := l.key(subject)

	var after counterRecord
	blockedAt := 0
	_, err := cas.Update(ctx, l.client, key, func(current *store.Record) ([]byte, map[string]string, error) {
		var c counterRecord
		if current.Exists() {
			if err := json.Unmarshal(current.Body, &c); err != nil {
				return nil, nil, fmt.Errorf("decode counter %s: %w", key, err)
			}
		}
		// The count that tipped over the ceiling is itself written, so a
		// blocked subject sits at ceiling+1 and everything past that is
		// rejected before writing.
		if c.Count > l.ceiling {
			blockedAt = c.Count
			return nil, nil, cas.Abort(errCeiling)
		}

		now := time.Now().UTC()
		c.Count++
		c.LastAttemptAt = now
		c.ExpiresAt = now.Add(l.ttl)
		after = c

		body, err := json.Marshal(c)
		return body, nil, err
	}, l.casOpts...)

	switch {
	case err == nil:
	case errors.Is(err, errCeiling):
		m.LimiterRejections.WithLabelValues("early").Inc()
		log.Debug().Str("subject_key", key).Msg("Attempt rejected, ceiling already reached")
		return AttemptResult{Exceeded: true, EarlyReject: true, Count: blockedAt}, nil
	default:
		return AttemptResult{}, err
	}

	if after.Count > l.ceiling {
		// The tipping increment was written on purpose: the count must be
		// durable even though the caller is rejected, to keep the ceiling
		// monotonic against races.
		m.LimiterRejections.WithLabelValues("post_write").Inc()
		log.Debug().Str("subject_key", key).Int("count", after.Count).Msg("Attempt rejected after write")
		return AttemptResult{Exceeded: true, Count: after.Count}, nil
	}

	return AttemptResult{Accepted: true, Count: after.Count}, nil
}

// Blocked reports whether subject is already past the ceiling, without
// writing. Used as a cheap pre-check before attempting verification at all.
func (l *Limiter) Blocked(ctx context.Context, subject string) (bool, error) {
	rec, err := l.client.Get(ctx, l.key(subject))
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("read attempts for subject: %w", err)
	}

	var c counterRecord
	if err := json.Unmarshal(rec.Body, &c); err != nil {
		return false, fmt.Errorf("decode counter: %w", err)
	}
	return c.Count > l.ceiling, nil
}

// Reset deletes the counter for subject. Called after a successful
// verification; a plain unconditional delete is safe because only the
// verifying party resets.
func (l *Limiter) Reset(ctx context.Context, subject string) error {
	if err := l.client.Delete(ctx, l.key(subject)); err != nil {
		return fmt.Errorf("reset attempts for subject: %w", err)
	}
	return nil
}
