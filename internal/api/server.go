// Package api exposes the CRUD HTTP routes over the catalog and the
// coordination primitives. The handlers are thin request/response plumbing;
// every correctness guarantee lives in the layers below.
package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/shopmesh/shopmesh/internal/cas"
	"github.com/shopmesh/shopmesh/internal/catalog"
	"github.com/shopmesh/shopmesh/internal/config"
	"github.com/shopmesh/shopmesh/internal/guard"
	"github.com/shopmesh/shopmesh/internal/metrics"
	"github.com/shopmesh/shopmesh/internal/registry"
	"github.com/shopmesh/shopmesh/internal/store"
)

// Server wires the route handlers to the catalog and guards.
type Server struct {
	cfg       *config.Config
	catalog   *catalog.Service
	pages     *catalog.Pages
	limiter   *guard.Limiter
	revoker   *guard.Revoker
	registry  *registry.Registry
	indexes   *registry.Indexes
	jwtSecret []byte
	mux       *http.ServeMux
}

// NewServer builds the HTTP surface.
func NewServer(cfg *config.Config, svc *catalog.Service, pages *catalog.Pages,
	limiter *guard.Limiter, revoker *guard.Revoker,
	reg *registry.Registry, indexes *registry.Indexes, jwtSecret []byte) *Server {

	s := &Server{
		cfg:       cfg,
		catalog:   svc,
		pages:     pages,
		limiter:   limiter,
		revoker:   revoker,
		registry:  reg,
		indexes:   indexes,
		jwtSecret: jwtSecret,
		mux:       http.NewServeMux(),
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /healthz", s.handleHealth)
	s.mux.Handle("GET /metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))

	// Public storefront routes
	s.mux.HandleFunc("GET /v1/products", s.handleListProducts)
	s.mux.HandleFunc("GET /v1/products/{id}", s.handleGetProduct)
	s.mux.HandleFunc("GET /v1/pages/{id}", s.handleGetPage)
	s.mux.HandleFunc("POST /v1/login", s.handleLogin)

	// Authenticated customer routes
	s.mux.Handle("GET /v1/me", s.requireSession(s.handleGetMe))
	s.mux.Handle("POST /v1/logout", s.requireSession(s.handleLogout))
	s.mux.Handle("POST /v1/orders", s.requireSession(s.handlePlaceOrder))
	s.mux.Handle("GET /v1/orders/{id}", s.requireSession(s.handleGetOrder))

	// Admin catalog management
	s.mux.Handle("PUT /v1/products/{id}", s.requireAdmin(s.handlePutProduct))
	s.mux.Handle("DELETE /v1/products/{id}", s.requireAdmin(s.handleDeleteProduct))
	s.mux.Handle("POST /v1/products/batch", s.requireAdmin(s.handleBatchSave))
	s.mux.Handle("POST /v1/products/batch-delete", s.requireAdmin(s.handleBatchDelete))
	s.mux.Handle("PUT /v1/pages/{id}", s.requireAdmin(s.handlePutPage))
	s.mux.Handle("PATCH /v1/orders/{id}/status", s.requireAdmin(s.handleOrderStatus))
	s.mux.Handle("PUT /v1/customers", s.requireAdmin(s.handlePutCustomer))

	// Admin index registry
	s.mux.Handle("GET /v1/admin/indexes", s.requireAdmin(s.handleListIndexes))
	s.mux.Handle("POST /v1/admin/indexes", s.requireAdmin(s.handleCreateIndex))
	s.mux.Handle("DELETE /v1/admin/indexes", s.requireAdmin(s.handleDropIndex))
}

// Handler returns the fully wrapped HTTP handler.
func (s *Server) Handler() http.Handler {
	var h http.Handler = s.mux
	h = http.MaxBytesHandler(h, s.cfg.MaxBodyBytes())
	h = s.withMetrics(h)
	h = s.withLogging(h)
	return h
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// httpStatus maps the error taxonomy to response codes: business conflicts
// to 4xx, infrastructure failures to 5xx, contention to 409.
func httpStatus(err error) int {
	switch {
	case errors.Is(err, catalog.ErrProductNotFound),
		errors.Is(err, catalog.ErrOrderNotFound),
		errors.Is(err, catalog.ErrCustomerNotFound),
		errors.Is(err, catalog.ErrPageNotFound),
		errors.Is(err, registry.ErrIndexNotFound),
		errors.Is(err, guard.ErrLinkNotFound),
		errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, guard.ErrLinkExists),
		errors.Is(err, registry.ErrIndexExists):
		return http.StatusConflict
	case errors.Is(err, cas.ErrExhausted),
		errors.Is(err, registry.ErrUpdateFailed):
		// Retryable by the client: contention, not failure.
		return http.StatusConflict
	case errors.Is(err, store.ErrUnavailable):
		return http.StatusBadGateway
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
