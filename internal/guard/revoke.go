package guard

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/shopmesh/shopmesh/internal/store"
)

// Revoker consumes single-use tokens exactly once. Verification and
// revocation happen in one create-if-absent write, eliminating the
// check-then-act race: of N concurrent consumers of a token, exactly one
// observes it as fresh.
type Revoker struct {
	client store.Client
	ttl    time.Duration
	prefix string
}

// NewRevoker creates a revoker. ttl sets the advisory expiry annotation on
// revocation markers so expired ones can be swept externally.
func NewRevoker(client store.Client, ttl time.Duration) *Revoker {
	return &Revoker{
		client: client,
		ttl:    ttl,
		prefix: "revoked/",
	}
}

// Revoke marks token as consumed. It returns alreadyRevoked=true when the
// token was consumed before; that is an expected outcome, not an error.
func (r *Revoker) Revoke(ctx context.Context, token string) (alreadyRevoked bool, err error) {
	key := r.prefix + hashKey(token)

	_, err = r.client.Put(ctx, key, nil, store.PutOptions{
		IfNoneMatch: true,
		Metadata: map[string]string{
			"revoked_at": time.Now().UTC().Format(time.RFC3339),
			"expires_at": time.Now().UTC().Add(r.ttl).Format(time.RFC3339),
		},
	})
	if errors.Is(err, store.ErrPreconditionFailed) {
		m.RevocationHits.Inc()
		log.Debug().Str("marker_key", key).Msg("Token already revoked")
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("write revocation marker: %w", err)
	}

	return false, nil
}
