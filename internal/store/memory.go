package store

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// Memory is an in-process Client backed by a map. Version tokens are fresh
// UUIDs per write, and conditional puts are checked under the store mutex,
// which makes it a linearizable CAS store suitable for tests and local
// development.
type Memory struct {
	mu      sync.Mutex
	records map[string]memRecord
}

type memRecord struct {
	body     []byte
	metadata map[string]string
	version  string
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{records: make(map[string]memRecord)}
}

// Get reads a record. Returns ErrNotFound when absent.
func (m *Memory) Get(ctx context.Context, key string) (*Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.records[key]
	if !ok {
		return nil, ErrNotFound
	}
	return rec.toRecord(key, true), nil
}

// Head reads metadata and version only.
func (m *Memory) Head(ctx context.Context, key string) (*Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.records[key]
	if !ok {
		return nil, ErrNotFound
	}
	return rec.toRecord(key, false), nil
}

// Put writes a record, enforcing any version condition atomically.
func (m *Memory) Put(ctx context.Context, key string, body []byte, opts PutOptions) (*Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	current, exists := m.records[key]
	if opts.IfNoneMatch && exists {
		return nil, ErrPreconditionFailed
	}
	if opts.IfMatch != "" && (!exists || current.version != opts.IfMatch) {
		return nil, ErrPreconditionFailed
	}

	rec := memRecord{
		body:     append([]byte(nil), body...),
		metadata: copyMeta(opts.Metadata),
		version:  uuid.NewString(),
	}
	m.records[key] = rec

	return rec.toRecord(key, true), nil
}

// Delete removes a record. Absent keys are ignored.
func (m *Memory) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.records, key)
	return nil
}

// DeleteMany removes multiple records.
func (m *Memory) DeleteMany(ctx context.Context, keys []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, key := range keys {
		delete(m.records, key)
	}
	return nil
}

// List returns records under prefix in key order, paginated by cursor.
// The cursor is the last key returned on the previous page (exclusive).
func (m *Memory) List(ctx context.Context, prefix, cursor string, limit int) (*ListPage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var keys []string
	for key := range m.records {
		if strings.HasPrefix(key, prefix) && key > cursor {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)

	page := &ListPage{}
	for _, key := range keys {
		if limit > 0 && len(page.Records) == limit {
			page.Truncated = true
			page.NextCursor = page.Records[len(page.Records)-1].Key
			break
		}
		page.Records = append(page.Records, *m.records[key].toRecord(key, true))
	}

	return page, nil
}

// Len returns the number of stored records.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.records)
}

func (r memRecord) toRecord(key string, withBody bool) *Record {
	rec := &Record{
		Key:      key,
		Metadata: copyMeta(r.metadata),
		Version:  r.version,
	}
	if withBody {
		rec.Body = append([]byte(nil), r.body...)
	}
	return rec
}

func copyMeta(meta map[string]string) map[string]string {
	if meta == nil {
		return nil
	}
	out := make(map[string]string, len(meta))
	for k, v := range meta {
		out[k] = v
	}
	return out
}
