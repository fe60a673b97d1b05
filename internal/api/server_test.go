package api

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/shopmesh/shopmesh/internal/batch"
	"github.com/shopmesh/shopmesh/internal/catalog"
	"github.com/shopmesh/shopmesh/internal/config"
	"github.com/shopmesh/shopmesh/internal/guard"
	"github.com/shopmesh/shopmesh/internal/registry"
	"github.com/shopmesh/shopmesh/internal/store"
	"github.com/shopmesh/shopmesh/pkg/bytesize"
)

const testAdminKey = "admin-secret"

func newTestServer(t *testing.T) (*Server, *store.Memory) {
	t.Helper()

	adminHash := sha256.Sum256([]byte(testAdminKey))
	cfg := config.Default()
	cfg.Auth.AdminKeyHashes = []string{hex.EncodeToString(adminHash[:])}
	cfg.Login.AttemptCeiling = 3

	mem := store.NewMemory()
	processor := batch.New(batch.WithNotFoundClassifier(func(err error) bool {
		return errors.Is(err, store.ErrNotFound)
	}))
	linker := guard.NewLinker(mem, "links/orders/")
	reg := registry.New(mem, "indexes/registry.json")
	indexes := registry.NewIndexes(mem, reg, "indexes")
	svc := catalog.NewService(mem, processor, linker, indexes)
	pages, err := catalog.NewPages(mem)
	require.NoError(t, err)
	limiter := guard.NewLimiter(mem, cfg.Login.AttemptCeiling, 15*time.Minute)
	revoker := guard.NewRevoker(mem, time.Hour)

	return NewServer(cfg, svc, pages, limiter, revoker, reg, indexes, []byte("test-secret")), mem
}

func doJSON(t *testing.T, h http.Handler, method, path string, body any, hdr map[string]string) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	for k, v := range hdr {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func adminHeaders() map[string]string {
	return map[string]string{"X-Admin-Key": testAdminKey}
}

func seedCustomer(t *testing.T, srv *Server, email, password string) {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	require.NoError(t, err)
	rec := doJSON(t, srv.Handler(), http.MethodPut, "/v1/customers", catalog.Customer{
		Email:    email,
		PassHash: string(hash),
	}, adminHeaders())
	require.Equal(t, http.StatusOK, rec.Code)
}

func login(t *testing.T, srv *Server, email, password string) string {
	t.Helper()
	rec := doJSON(t, srv.Handler(), http.MethodPost, "/v1/login", loginRequest{
		Email:    email,
		Password: password,
	}, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotEmpty(t, resp["token"])
	return resp["token"]
}

func TestHealthz(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := doJSON(t, srv.Handler(), http.MethodGet, "/healthz", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Request-Id"))
}

func TestProductCRUD(t *testing.T) {
	srv, _ := newTestServer(t)
	h := srv.Handler()

	rec := doJSON(t, h, http.MethodPut, "/v1/products/p1", catalog.Product{
		Title: "Widget", Handle: "widget", PriceCents: 1999, Currency: "USD",
	}, adminHeaders())
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = doJSON(t, h, http.MethodGet, "/v1/products/p1", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var p catalog.Product
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &p))
	assert.Equal(t, "Widget", p.Title)

	rec = doJSON(t, h, http.MethodDelete, "/v1/products/p1", nil, adminHeaders())
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = doJSON(t, h, http.MethodGet, "/v1/products/p1", nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAdminRoutesRequireKey(t *testing.T) {
	srv, _ := newTestServer(t)
	h := srv.Handler()

	rec := doJSON(t, h, http.MethodPut, "/v1/products/p1", catalog.Product{Title: "X"}, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = doJSON(t, h, http.MethodPut, "/v1/products/p1", catalog.Product{Title: "X"},
		map[string]string{"X-Admin-Key": "wrong"})
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestBatchSaveAndList(t *testing.T) {
	srv, _ := newTestServer(t)
	h := srv.Handler()

	products := make([]*catalog.Product, 5)
	for i := range products {
		products[i] = &catalog.Product{ID: fmt.Sprintf("p%d", i), Title: fmt.Sprintf("P%d", i)}
	}
	rec := doJSON(t, h, http.MethodPost, "/v1/products/batch",
		map[string]any{"products": products}, adminHeaders())
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var batchResp struct {
		Results []batch.Result `json:"results"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &batchResp))
	require.Len(t, batchResp.Results, 5)
	for _, r := range batchResp.Results {
		assert.Equal(t, batch.StatusSuccess, r.Status)
	}

	rec = doJSON(t, h, http.MethodGet, "/v1/products?limit=3", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var listResp struct {
		Products   []*catalog.Product `json:"products"`
		NextCursor string             `json:"next_cursor"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &listResp))
	assert.Len(t, listResp.Products, 3)
	assert.NotEmpty(t, listResp.NextCursor)
}

func TestLoginIssuesSession(t *testing.T) {
	srv, _ := newTestServer(t)
	seedCustomer(t, srv, "jo@example.com", "hunter2")

	token := login(t, srv, "jo@example.com", "hunter2")

	rec := doJSON(t, srv.Handler(), http.MethodGet, "/v1/me", nil,
		map[string]string{"Authorization": "Bearer " + token})
	require.Equal(t, http.StatusOK, rec.Code)
	var c catalog.Customer
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &c))
	assert.Equal(t, "jo@example.com", c.Email)
	assert.Empty(t, c.PassHash)
}

func TestLoginBadPassword(t *testing.T) {
	srv, _ := newTestServer(t)
	seedCustomer(t, srv, "jo@example.com", "hunter2")

	rec := doJSON(t, srv.Handler(), http.MethodPost, "/v1/login", loginRequest{
		Email:    "jo@example.com",
		Password: "wrong",
	}, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestLoginLockout(t *testing.T) {
	srv, _ := newTestServer(t)
	seedCustomer(t, srv, "jo@example.com", "hunter2")
	h := srv.Handler()

	bad := loginRequest{Email: "jo@example.com", Password: "wrong"}
	for i := 0; i < 3; i++ {
		rec := doJSON(t, h, http.MethodPost, "/v1/login", bad, nil)
		require.Equal(t, http.StatusUnauthorized, rec.Code, "attempt %d", i+1)
	}

	// The attempt crossing the ceiling is surfaced as a rate limit.
	rec := doJSON(t, h, http.MethodPost, "/v1/login", bad, nil)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)

	// Even the correct password stays rejected: the pre-check short-circuits.
	rec = doJSON(t, h, http.MethodPost, "/v1/login", loginRequest{
		Email:    "jo@example.com",
		Password: "hunter2",
	}, nil)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
}

func TestLoginResetsCounterOnSuccess(t *testing.T) {
	srv, _ := newTestServer(t)
	seedCustomer(t, srv, "jo@example.com", "hunter2")
	h := srv.Handler()

	bad := loginRequest{Email: "jo@example.com", Password: "wrong"}
	for i := 0; i < 2; i++ {
		rec := doJSON(t, h, http.MethodPost, "/v1/login", bad, nil)
		require.Equal(t, http.StatusUnauthorized, rec.Code)
	}

	login(t, srv, "jo@example.com", "hunter2")

	// Counter was reset, so the subject has full headroom again.
	for i := 0; i < 3; i++ {
		rec := doJSON(t, h, http.MethodPost, "/v1/login", bad, nil)
		require.Equal(t, http.StatusUnauthorized, rec.Code, "attempt %d", i+1)
	}
}

func TestLoginSingleUseCode(t *testing.T) {
	srv, _ := newTestServer(t)
	seedCustomer(t, srv, "jo@example.com", "hunter2")
	h := srv.Handler()

	withCode := loginRequest{Email: "jo@example.com", Password: "hunter2", Code: "otp-123"}
	rec := doJSON(t, h, http.MethodPost, "/v1/login", withCode, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	// Replaying the same code fails even with the right password.
	rec = doJSON(t, h, http.MethodPost, "/v1/login", withCode, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestOrderFlow(t *testing.T) {
	srv, _ := newTestServer(t)
	seedCustomer(t, srv, "jo@example.com", "hunter2")
	token := login(t, srv, "jo@example.com", "hunter2")
	h := srv.Handler()
	auth := map[string]string{"Authorization": "Bearer " + token}

	order := catalog.Order{
		ID:         "ord-1",
		Lines:      []catalog.OrderLine{{ProductID: "p1", Quantity: 2, UnitCents: 500}},
		TotalCents: 1000,
		Currency:   "USD",
	}
	rec := doJSON(t, h, http.MethodPost, "/v1/orders", order, auth)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	// Replaying the same order ID is a conflict, not a duplicate order.
	rec = doJSON(t, h, http.MethodPost, "/v1/orders", order, auth)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = doJSON(t, h, http.MethodGet, "/v1/orders/ord-1", nil, auth)
	require.Equal(t, http.StatusOK, rec.Code)
	var got catalog.Order
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "pending", got.Status)
	assert.Equal(t, "jo@example.com", got.CustomerID)

	rec = doJSON(t, h, http.MethodPatch, "/v1/orders/ord-1/status",
		map[string]string{"status": "fulfilled"}, adminHeaders())
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = doJSON(t, h, http.MethodGet, "/v1/orders/ord-1", nil, auth)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "fulfilled", got.Status)
	assert.NotNil(t, got.FulfilledAt)
}

func TestOrderHiddenFromOtherCustomers(t *testing.T) {
	srv, _ := newTestServer(t)
	seedCustomer(t, srv, "jo@example.com", "hunter2")
	seedCustomer(t, srv, "sam@example.com", "hunter2")
	h := srv.Handler()

	joToken := login(t, srv, "jo@example.com", "hunter2")
	rec := doJSON(t, h, http.MethodPost, "/v1/orders", catalog.Order{
		ID:    "ord-1",
		Lines: []catalog.OrderLine{{ProductID: "p1", Quantity: 1, UnitCents: 100}},
	}, map[string]string{"Authorization": "Bearer " + joToken})
	require.Equal(t, http.StatusCreated, rec.Code)

	samToken := login(t, srv, "sam@example.com", "hunter2")
	rec = doJSON(t, h, http.MethodGet, "/v1/orders/ord-1", nil,
		map[string]string{"Authorization": "Bearer " + samToken})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestLogoutClearsCounter(t *testing.T) {
	srv, _ := newTestServer(t)
	seedCustomer(t, srv, "jo@example.com", "hunter2")
	h := srv.Handler()

	bad := loginRequest{Email: "jo@example.com", Password: "wrong"}
	for i := 0; i < 2; i++ {
		rec := doJSON(t, h, http.MethodPost, "/v1/login", bad, nil)
		require.Equal(t, http.StatusUnauthorized, rec.Code)
	}
	token := login(t, srv, "jo@example.com", "hunter2")

	rec := doJSON(t, h, http.MethodPost, "/v1/logout", nil,
		map[string]string{"Authorization": "Bearer " + token})
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestSessionRequired(t *testing.T) {
	srv, _ := newTestServer(t)
	h := srv.Handler()

	rec := doJSON(t, h, http.MethodGet, "/v1/me", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = doJSON(t, h, http.MethodGet, "/v1/me", nil,
		map[string]string{"Authorization": "Bearer not-a-token"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestPageRoundTrip(t *testing.T) {
	srv, _ := newTestServer(t)
	h := srv.Handler()

	body := bytes.NewBufferString("<html><body>Widget</body></html>")
	req := httptest.NewRequest(http.MethodPut, "/v1/pages/p1", body)
	req.Header.Set("X-Admin-Key", testAdminKey)
	req.Header.Set("Content-Type", "text/html")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec2 := doJSON(t, h, http.MethodGet, "/v1/pages/p1", nil, nil)
	require.Equal(t, http.StatusOK, rec2.Code)
	assert.Equal(t, "text/html", rec2.Header().Get("Content-Type"))
	assert.Contains(t, rec2.Body.String(), "Widget")

	rec2 = doJSON(t, h, http.MethodGet, "/v1/pages/missing", nil, nil)
	assert.Equal(t, http.StatusNotFound, rec2.Code)
}

func TestIndexAdmin(t *testing.T) {
	srv, _ := newTestServer(t)
	h := srv.Handler()

	create := map[string]any{
		"path": "by-tag/sale",
		"meta": registry.Entry{"kind": "tag"},
		"body": json.RawMessage(`{"ids":["p1","p2"]}`),
	}
	rec := doJSON(t, h, http.MethodPost, "/v1/admin/indexes", create, adminHeaders())
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = doJSON(t, h, http.MethodPost, "/v1/admin/indexes", create, adminHeaders())
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = doJSON(t, h, http.MethodGet, "/v1/admin/indexes", nil, adminHeaders())
	require.Equal(t, http.StatusOK, rec.Code)
	var listResp struct {
		Indexes map[string]registry.Entry `json:"indexes"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &listResp))
	assert.Contains(t, listResp.Indexes, "by-tag/sale")

	rec = doJSON(t, h, http.MethodDelete, "/v1/admin/indexes?path=by-tag/sale", nil, adminHeaders())
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = doJSON(t, h, http.MethodDelete, "/v1/admin/indexes?path=by-tag/sale", nil, adminHeaders())
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestBodySizeLimit(t *testing.T) {
	srv, _ := newTestServer(t)
	srv.cfg.MaxBodySize = bytesize.Size(bytesize.KB)
	h := srv.Handler()

	big := bytes.Repeat([]byte("x"), 4096)
	req := httptest.NewRequest(http.MethodPut, "/v1/pages/p1", bytes.NewReader(big))
	req.Header.Set("X-Admin-Key", testAdminKey)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.NotEqual(t, http.StatusNoContent, rec.Code)
}
