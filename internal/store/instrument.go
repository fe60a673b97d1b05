package store

import (
	"context"
	"time"

	"github.com/shopmesh/shopmesh/internal/metrics"
)

var m = metrics.Init(nil)

// Instrumented wraps a Client with per-operation call counters and latency
// histograms.
type Instrumented struct {
	inner Client
}

// Instrument wraps client with metrics instrumentation.
func Instrument(client Client) *Instrumented {
	return &Instrumented{inner: client}
}

func observe(op string, start time.Time, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.StoreCalls.WithLabelValues(op, status).Inc()
	m.StoreDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

func (c *Instrumented) Get(ctx context.Context, key string) (*Record, error) {
	start := time.Now()
	rec, err := c.inner.Get(ctx, key)
	observe("get", start, err)
	return rec, err
}

func (c *Instrumented) Head(ctx context.Context, key string) (*Record, error) {
	start := time.Now()
	rec, err := c.inner.Head(ctx, key)
	observe("head", start, err)
	return rec, err
}

func (c *Instrumented) Put(ctx context.Context, key string, body []byte, opts PutOptions) (*Record, error) {
	start := time.Now()
	rec, err := c.inner.Put(ctx, key, body, opts)
	observe("put", start, err)
	return rec, err
}

func (c *Instrumented) Delete(ctx context.Context, key string) error {
	start := time.Now()
	err := c.inner.Delete(ctx, key)
	observe("delete", start, err)
	return err
}

func (c *Instrumented) DeleteMany(ctx context.Context, keys []string) error {
	start := time.Now()
	err := c.inner.DeleteMany(ctx, keys)
	observe("delete_many", start, err)
	return err
}

func (c *Instrumented) List(ctx context.Context, prefix, cursor string, limit int) (*ListPage, error) {
	start := time.Now()
	page, err := c.inner.List(ctx, prefix, cursor, limit)
	observe("list", start, err)
	return page, err
}
