// Package catalog stores product, order, and customer records in the object
// store and coordinates multi-record operations through the batch processor,
// guards, and index registry.
package catalog

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"
)

// Product is a catalog entry rendered on product pages.
type Product struct {
	ID          string            `json:"id"`
	Title       string            `json:"title"`
	Handle      string            `json:"handle"`
	Description string            `json:"description,omitempty"`
	PriceCents  int64             `json:"price_cents"`
	Currency    string            `json:"currency"`
	Tags        []string          `json:"tags,omitempty"`
	Attributes  map[string]string `json:"attributes,omitempty"`
	UpdatedAt   time.Time         `json:"updated_at"`
}

// OrderLine is one purchased product within an order.
type OrderLine struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
	UnitCents int64  `json:"unit_cents"`
}

// Order is a customer purchase.
type Order struct {
	ID          string      `json:"id"`
	CustomerID  string      `json:"customer_id"`
	Lines       []OrderLine `json:"lines"`
	TotalCents  int64       `json:"total_cents"`
	Currency    string      `json:"currency"`
	Status      string      `json:"status"`
	PlacedAt    time.Time   `json:"placed_at"`
	FulfilledAt *time.Time  `json:"fulfilled_at,omitempty"`
}

// Customer is an account record keyed by a hash of its email.
type Customer struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	Name      string    `json:"name,omitempty"`
	PassHash  string    `json:"pass_hash,omitempty"` // bcrypt, opaque to this layer
	CreatedAt time.Time `json:"created_at"`
}

// Key schemes. All records live under a shared flat namespace in the store.
const (
	productPrefix  = "products/"
	orderPrefix    = "orders/"
	customerPrefix = "customers/"
	pagePrefix     = "pages/"
)

// ProductKey returns the store key for a product ID.
func ProductKey(id string) string { return productPrefix + id + ".json" }

// OrderKey returns the store key for an order ID.
func OrderKey(id string) string { return orderPrefix + id + ".json" }

// CustomerKey returns the store key for a customer email. The email is
// hashed so addresses never appear in key listings.
func CustomerKey(email string) string {
	sum := sha256.Sum256([]byte(strings.ToLower(strings.TrimSpace(email))))
	return customerPrefix + hex.EncodeToString(sum[:]) + ".json"
}

// PageKey returns the store key for a rendered product page snapshot.
func PageKey(productID string) string { return pagePrefix + productID }
