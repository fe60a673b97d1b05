package catalog

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shopmesh/shopmesh/internal/batch"
	"github.com/shopmesh/shopmesh/internal/guard"
	"github.com/shopmesh/shopmesh/internal/registry"
	"github.com/shopmesh/shopmesh/internal/store"
)

func newTestService(t *testing.T) (*Service, *store.Memory) {
	t.Helper()
	mem := store.NewMemory()
	processor := batch.New(batch.WithNotFoundClassifier(func(err error) bool {
		return errors.Is(err, store.ErrNotFound)
	}))
	linker := guard.NewLinker(mem, "links/orders/")
	reg := registry.New(mem, "indexes/registry.json")
	indexes := registry.NewIndexes(mem, reg, "indexes")
	return NewService(mem, processor, linker, indexes), mem
}

func TestSaveGetProduct(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	p := &Product{ID: "p1", Title: "Widget", Handle: "widget", PriceCents: 1999, Currency: "USD"}
	require.NoError(t, svc.SaveProduct(ctx, p))

	got, err := svc.GetProduct(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, "Widget", got.Title)
	assert.False(t, got.UpdatedAt.IsZero())
}

func TestGetProductNotFound(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.GetProduct(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrProductNotFound)
}

func TestSaveProductsBatch(t *testing.T) {
	svc, mem := newTestService(t)
	ctx := context.Background()

	products := make([]*Product, 60) // spans two chunks at the default size
	for i := range products {
		products[i] = &Product{ID: fmt.Sprintf("p%d", i), Title: fmt.Sprintf("Product %d", i)}
	}

	results := svc.SaveProducts(ctx, products)
	require.Len(t, results, 60)
	for _, res := range results {
		assert.Equal(t, batch.StatusSuccess, res.Status)
	}
	assert.Equal(t, 60, mem.Len())
}

func TestDeleteProductsReportsMissing(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	require.NoError(t, svc.SaveProduct(ctx, &Product{ID: "p1"}))

	results := svc.DeleteProducts(ctx, []string{"p1", "ghost"})
	require.Len(t, results, 2)

	byKey := map[string]batch.Result{}
	for _, res := range results {
		byKey[res.Key] = res
	}
	assert.Equal(t, batch.StatusSuccess, byKey[ProductKey("p1")].Status)
	assert.Equal(t, batch.StatusNotFound, byKey[ProductKey("ghost")].Status)
}

func TestListProductsPaginates(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, svc.SaveProduct(ctx, &Product{ID: fmt.Sprintf("p%d", i)}))
	}

	page1, cursor, err := svc.ListProducts(ctx, "", 3)
	require.NoError(t, err)
	assert.Len(t, page1, 3)
	require.NotEmpty(t, cursor)

	page2, cursor, err := svc.ListProducts(ctx, cursor, 3)
	require.NoError(t, err)
	assert.Len(t, page2, 2)
	assert.Empty(t, cursor)
}

func TestPlaceOrderLinksOnce(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	order := &Order{ID: "o1", CustomerID: "c1", TotalCents: 5000, Currency: "USD"}
	require.NoError(t, svc.PlaceOrder(ctx, order))

	got, err := svc.GetOrder(ctx, "o1")
	require.NoError(t, err)
	assert.Equal(t, "pending", got.Status)

	// Replaying the same order is a conflict, not a silent overwrite.
	err = svc.PlaceOrder(ctx, &Order{ID: "o1", CustomerID: "c1", TotalCents: 9999})
	assert.ErrorIs(t, err, guard.ErrLinkExists)

	got, err = svc.GetOrder(ctx, "o1")
	require.NoError(t, err)
	assert.Equal(t, int64(5000), got.TotalCents)
}

func TestUpdateOrderStatus(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	require.NoError(t, svc.PlaceOrder(ctx, &Order{ID: "o1", CustomerID: "c1"}))
	require.NoError(t, svc.UpdateOrderStatus(ctx, "o1", "fulfilled"))

	got, err := svc.GetOrder(ctx, "o1")
	require.NoError(t, err)
	assert.Equal(t, "fulfilled", got.Status)
	require.NotNil(t, got.FulfilledAt)
}

func TestCustomerRoundtrip(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	c := &Customer{ID: "c1", Email: "A@X.com", Name: "Ada"}
	require.NoError(t, svc.SaveCustomer(ctx, c))

	// Lookup is case-insensitive on the email.
	got, err := svc.GetCustomer(ctx, "a@x.com")
	require.NoError(t, err)
	assert.Equal(t, "Ada", got.Name)
	assert.False(t, got.CreatedAt.IsZero())

	_, err = svc.GetCustomer(ctx, "missing@x.com")
	assert.ErrorIs(t, err, ErrCustomerNotFound)
}
