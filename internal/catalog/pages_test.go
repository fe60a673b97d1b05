package catalog

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shopmesh/shopmesh/internal/store"
)

func TestPagesRoundtrip(t *testing.T) {
	mem := store.NewMemory()
	pages, err := NewPages(mem)
	require.NoError(t, err)
	ctx := context.Background()

	html := bytes.Repeat([]byte("<li>widget</li>"), 200)
	require.NoError(t, pages.Save(ctx, "p1", "text/html", html))

	// Stored body is compressed.
	rec, err := mem.Get(ctx, PageKey("p1"))
	require.NoError(t, err)
	assert.Less(t, len(rec.Body), len(html))
	assert.Equal(t, "zstd", rec.Metadata["content-encoding"])

	body, contentType, err := pages.Load(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, html, body)
	assert.Equal(t, "text/html", contentType)
}

func TestPagesLoadMissing(t *testing.T) {
	mem := store.NewMemory()
	pages, err := NewPages(mem)
	require.NoError(t, err)

	_, _, err = pages.Load(context.Background(), "ghost")
	assert.ErrorIs(t, err, ErrPageNotFound)
}

func TestPagesDeleteIdempotent(t *testing.T) {
	mem := store.NewMemory()
	pages, err := NewPages(mem)
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, pages.Save(ctx, "p1", "text/html", []byte("<p>hi</p>")))
	require.NoError(t, pages.Delete(ctx, "p1"))
	require.NoError(t, pages.Delete(ctx, "p1"))
}
