package guard

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/shopmesh/shopmesh/internal/store"
)

// ErrLinkExists is returned when a create-once link already exists. Unlike
// the other guard conflicts this is an error, because callers never expect
// to link the same pair twice.
var ErrLinkExists = errors.New("link already exists")

// ErrLinkNotFound is returned by UpdateLink when no link exists to update.
var ErrLinkNotFound = errors.New("link not found")

const createdAtMeta = "created_at"

// Linker manages create-once link records between an owner and a resource,
// such as an order attached to a customer.
type Linker struct {
	client store.Client
	prefix string
}

// NewLinker creates a linker writing under the given key prefix, e.g.
// "links/orders/".
func NewLinker(client store.Client, prefix string) *Linker {
	return &Linker{client: client, prefix: prefix}
}

func (l *Linker) key(ownerID, resourceID string) string {
	return l.prefix + ownerID + "/" + resourceID
}

// LinkOnce creates the link record if and only if it does not exist yet.
func (l *Linker) LinkOnce(ctx context.Context, ownerID, resourceID string, meta map[string]string) error {
	key := l.key(ownerID, resourceID)

	full := make(map[string]string, len(meta)+1)
	for k, v := range meta {
		full[k] = v
	}
	full[createdAtMeta] = time.Now().UTC().Format(time.RFC3339)

	_, err := l.client.Put(ctx, key, nil, store.PutOptions{
		IfNoneMatch: true,
		Metadata:    full,
	})
	if errors.Is(err, store.ErrPreconditionFailed) {
		m.LinkConflicts.Inc()
		log.Debug().Str("link_key", key).Msg("Link already exists")
		return fmt.Errorf("link %s: %w", key, ErrLinkExists)
	}
	if err != nil {
		return fmt.Errorf("create link %s: %w", key, err)
	}

	return nil
}

// UpdateLink merges partial metadata into an existing link, preserving the
// original creation timestamp. The link must already exist. The write is
// unconditional: after creation each link has a single owner-scoped writer.
func (l *Linker) UpdateLink(ctx context.Context, ownerID, resourceID string, partial map[string]string) error {
	key := l.key(ownerID, resourceID)

	current, err := l.client.Head(ctx, key)
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("update link %s: %w", key, ErrLinkNotFound)
	}
	if err != nil {
		return fmt.Errorf("head link %s: %w", key, err)
	}

	merged := make(map[string]string, len(current.Metadata)+len(partial))
	for k, v := range current.Metadata {
		merged[k] = v
	}
	for k, v := range partial {
		if k == createdAtMeta {
			continue
		}
		merged[k] = v
	}

	if _, err := l.client.Put(ctx, key, nil, store.PutOptions{Metadata: merged}); err != nil {
		return fmt.Errorf("update link %s: %w", key, err)
	}
	return nil
}

// GetLink reads a link's metadata. Returns ErrLinkNotFound when absent.
func (l *Linker) GetLink(ctx context.Context, ownerID, resourceID string) (map[string]string, error) {
	rec, err := l.client.Head(ctx, l.key(ownerID, resourceID))
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrLinkNotFound
	}
	if err != nil {
		return nil, err
	}
	return rec.Metadata, nil
}
