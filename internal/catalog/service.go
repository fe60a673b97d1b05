package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/shopmesh/shopmesh/internal/batch"
	"github.com/shopmesh/shopmesh/internal/guard"
	"github.com/shopmesh/shopmesh/internal/registry"
	"github.com/shopmesh/shopmesh/internal/store"
)

// Catalog error types.
var (
	ErrProductNotFound  = errors.New("product not found")
	ErrOrderNotFound    = errors.New("order not found")
	ErrCustomerNotFound = errors.New("customer not found")
)

// Service coordinates catalog records in the object store.
type Service struct {
	client    store.Client
	processor *batch.Processor
	linker    *guard.Linker
	indexes   *registry.Indexes
}

// NewService creates a catalog service. processor handles multi-record
// saves/deletes, linker guards order-to-customer links, indexes maintains
// collection index documents.
func NewService(client store.Client, processor *batch.Processor, linker *guard.Linker, indexes *registry.Indexes) *Service {
	return &Service{
		client:    client,
		processor: processor,
		linker:    linker,
		indexes:   indexes,
	}
}

// GetProduct reads one product.
func (s *Service) GetProduct(ctx context.Context, id string) (*Product, error) {
	rec, err := s.client.Get(ctx, ProductKey(id))
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrProductNotFound
	}
	if err != nil {
		return nil, err
	}

	var p Product
	if err := json.Unmarshal(rec.Body, &p); err != nil {
		return nil, fmt.Errorf("decode product %s: %w", id, err)
	}
	return &p, nil
}

// SaveProduct writes one product unconditionally. Independent products need
// no CAS; last write wins per key.
func (s *Service) SaveProduct(ctx context.Context, p *Product) error {
	p.UpdatedAt = time.Now().UTC()
	body, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encode product %s: %w", p.ID, err)
	}
	if _, err := s.client.Put(ctx, ProductKey(p.ID), body, store.PutOptions{
		Metadata: map[string]string{"content-type": "application/json"},
	}); err != nil {
		return fmt.Errorf("save product %s: %w", p.ID, err)
	}
	return nil
}

// DeleteProduct removes one product and its page snapshot.
func (s *Service) DeleteProduct(ctx context.Context, id string) error {
	if _, err := s.client.Head(ctx, ProductKey(id)); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrProductNotFound
		}
		return err
	}
	return s.client.DeleteMany(ctx, []string{ProductKey(id), PageKey(id)})
}

// SaveProducts writes many products through the batch processor: one store
// put per item, chunked with bounded concurrency, per-item outcomes.
func (s *Service) SaveProducts(ctx context.Context, products []*Product) []batch.Result {
	now := time.Now().UTC()
	items := make([]batch.Item, 0, len(products))
	encodeErrs := make(map[string]error)

	for _, p := range products {
		p.UpdatedAt = now
		body, err := json.Marshal(p)
		if err != nil {
			encodeErrs[ProductKey(p.ID)] = err
			body = nil
		}
		items = append(items, batch.Item{Key: ProductKey(p.ID), Value: body})
	}

	return s.processor.Process(ctx, items, func(ctx context.Context, item batch.Item) error {
		if err, ok := encodeErrs[item.Key]; ok {
			return fmt.Errorf("encode: %w", err)
		}
		_, err := s.client.Put(ctx, item.Key, item.Value, store.PutOptions{
			Metadata: map[string]string{"content-type": "application/json"},
		})
		return err
	})
}

// DeleteProducts removes many products through the batch processor. Missing
// products are reported not_found without failing their siblings.
func (s *Service) DeleteProducts(ctx context.Context, ids []string) []batch.Result {
	items := make([]batch.Item, 0, len(ids))
	for _, id := range ids {
		items = append(items, batch.Item{Key: ProductKey(id)})
	}

	return s.processor.Process(ctx, items, func(ctx context.Context, item batch.Item) error {
		if _, err := s.client.Head(ctx, item.Key); err != nil {
			return fmt.Errorf("delete %s: %w", item.Key, err)
		}
		return s.client.Delete(ctx, item.Key)
	})
}

// ListProducts pages through the product namespace.
func (s *Service) ListProducts(ctx context.Context, cursor string, limit int) ([]*Product, string, error) {
	page, err := s.client.List(ctx, productPrefix, cursor, limit)
	if err != nil {
		return nil, "", fmt.Errorf("list products: %w", err)
	}

	products := make([]*Product, 0, len(page.Records))
	for _, rec := range page.Records {
		body := rec.Body
		if body == nil {
			// Backends that list keys only need a follow-up read.
			full, err := s.client.Get(ctx, rec.Key)
			if errors.Is(err, store.ErrNotFound) {
				continue // deleted between list and get
			}
			if err != nil {
				return nil, "", err
			}
			body = full.Body
		}

		var p Product
		if err := json.Unmarshal(body, &p); err != nil {
			return nil, "", fmt.Errorf("decode product %s: %w", rec.Key, err)
		}
		products = append(products, &p)
	}

	next := ""
	if page.Truncated {
		next = page.NextCursor
	}
	return products, next, nil
}

// PlaceOrder writes the order record and links it to its customer exactly
// once. A duplicate order ID for the same customer is a conflict, surfaced
// as guard.ErrLinkExists.
func (s *Service) PlaceOrder(ctx context.Context, o *Order) error {
	o.PlacedAt = time.Now().UTC()
	if o.Status == "" {
		o.Status = "pending"
	}

	if err := s.linker.LinkOnce(ctx, o.CustomerID, o.ID, map[string]string{
		"status": o.Status,
		"total":  fmt.Sprintf("%d", o.TotalCents),
	}); err != nil {
		return err
	}

	body, err := json.Marshal(o)
	if err != nil {
		return fmt.Errorf("encode order %s: %w", o.ID, err)
	}
	if _, err := s.client.Put(ctx, OrderKey(o.ID), body, store.PutOptions{
		Metadata: map[string]string{"content-type": "application/json"},
	}); err != nil {
		return fmt.Errorf("save order %s: %w", o.ID, err)
	}
	return nil
}

// UpdateOrderStatus updates the order record and its link metadata.
func (s *Service) UpdateOrderStatus(ctx context.Context, id, status string) error {
	o, err := s.GetOrder(ctx, id)
	if err != nil {
		return err
	}

	o.Status = status
	if status == "fulfilled" {
		now := time.Now().UTC()
		o.FulfilledAt = &now
	}

	body, err := json.Marshal(o)
	if err != nil {
		return fmt.Errorf("encode order %s: %w", id, err)
	}
	if _, err := s.client.Put(ctx, OrderKey(id), body, store.PutOptions{
		Metadata: map[string]string{"content-type": "application/json"},
	}); err != nil {
		return fmt.Errorf("save order %s: %w", id, err)
	}

	return s.linker.UpdateLink(ctx, o.CustomerID, o.ID, map[string]string{"status": status})
}

// GetOrder reads one order.
func (s *Service) GetOrder(ctx context.Context, id string) (*Order, error) {
	rec, err := s.client.Get(ctx, OrderKey(id))
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrOrderNotFound
	}
	if err != nil {
		return nil, err
	}

	var o Order
	if err := json.Unmarshal(rec.Body, &o); err != nil {
		return nil, fmt.Errorf("decode order %s: %w", id, err)
	}
	return &o, nil
}

// GetCustomer reads one customer by email.
func (s *Service) GetCustomer(ctx context.Context, email string) (*Customer, error) {
	rec, err := s.client.Get(ctx, CustomerKey(email))
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrCustomerNotFound
	}
	if err != nil {
		return nil, err
	}

	var c Customer
	if err := json.Unmarshal(rec.Body, &c); err != nil {
		return nil, fmt.Errorf("decode customer: %w", err)
	}
	return &c, nil
}

// SaveCustomer writes one customer record.
func (s *Service) SaveCustomer(ctx context.Context, c *Customer) error {
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	body, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("encode customer: %w", err)
	}
	if _, err := s.client.Put(ctx, CustomerKey(c.Email), body, store.PutOptions{
		Metadata: map[string]string{"content-type": "application/json"},
	}); err != nil {
		return fmt.Errorf("save customer: %w", err)
	}
	return nil
}
