package catalog

import (
	"context"
	"errors"
	"fmt"

	"github.com/klauspost/compress/zstd"

	"github.com/shopmesh/shopmesh/internal/store"
)

// ErrPageNotFound is returned when no snapshot exists for a product.
var ErrPageNotFound = errors.New("page snapshot not found")

// Pages stores rendered product page bodies zstd-compressed. Rendering
// itself happens upstream; this layer only persists and serves snapshots.
type Pages struct {
	client  store.Client
	encoder *zstd.Encoder
	decoder *zstd.Decoder
}

// NewPages creates the page snapshot store.
func NewPages(client store.Client) (*Pages, error) {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("create zstd encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("create zstd decoder: %w", err)
	}
	return &Pages{client: client, encoder: enc, decoder: dec}, nil
}

// Save compresses and stores a rendered page body for a product.
func (p *Pages) Save(ctx context.Context, productID, contentType string, body []byte) error {
	compressed := p.encoder.EncodeAll(body, nil)

	_, err := p.client.Put(ctx, PageKey(productID), compressed, store.PutOptions{
		Metadata: map[string]string{
			"content-type":     contentType,
			"content-encoding": "zstd",
		},
	})
	if err != nil {
		return fmt.Errorf("save page %s: %w", productID, err)
	}
	return nil
}

// Load returns the decompressed page body and its content type.
func (p *Pages) Load(ctx context.Context, productID string) ([]byte, string, error) {
	rec, err := p.client.Get(ctx, PageKey(productID))
	if errors.Is(err, store.ErrNotFound) {
		return nil, "", ErrPageNotFound
	}
	if err != nil {
		return nil, "", err
	}

	body, err := p.decoder.DecodeAll(rec.Body, nil)
	if err != nil {
		return nil, "", fmt.Errorf("decompress page %s: %w", productID, err)
	}
	return body, rec.Metadata["content-type"], nil
}

// Delete removes a snapshot. Absent snapshots are ignored.
func (p *Pages) Delete(ctx context.Context, productID string) error {
	return p.client.Delete(ctx, PageKey(productID))
}
