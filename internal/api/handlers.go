package api

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"github.com/shopmesh/shopmesh/internal/catalog"
	"github.com/shopmesh/shopmesh/internal/registry"
)

const defaultPageSize = 50

func (s *Server) handleListProducts(w http.ResponseWriter, r *http.Request) {
	limit := defaultPageSize
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 500 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}

	products, next, err := s.catalog.ListProducts(r.Context(), r.URL.Query().Get("cursor"), limit)
	if err != nil {
		writeError(w, httpStatus(err), "failed to list products")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"products":    products,
		"next_cursor": next,
	})
}

func (s *Server) handleGetProduct(w http.ResponseWriter, r *http.Request) {
	p, err := s.catalog.GetProduct(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, httpStatus(err), "product not found")
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handlePutProduct(w http.ResponseWriter, r *http.Request) {
	var p catalog.Product
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		writeError(w, http.StatusBadRequest, "invalid product payload")
		return
	}
	p.ID = r.PathValue("id")
	if p.ID == "" || p.Title == "" {
		writeError(w, http.StatusBadRequest, "product id and title are required")
		return
	}

	if err := s.catalog.SaveProduct(r.Context(), &p); err != nil {
		writeError(w, httpStatus(err), "failed to save product")
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleDeleteProduct(w http.ResponseWriter, r *http.Request) {
	if err := s.catalog.DeleteProduct(r.Context(), r.PathValue("id")); err != nil {
		writeError(w, httpStatus(err), "failed to delete product")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleBatchSave(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Products []*catalog.Product `json:"products"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.Products) == 0 {
		writeError(w, http.StatusBadRequest, "invalid batch payload")
		return
	}

	results := s.catalog.SaveProducts(r.Context(), req.Products)
	writeJSON(w, http.StatusOK, map[string]any{"results": results})
}

func (s *Server) handleBatchDelete(w http.ResponseWriter, r *http.Request) {
	var req struct {
		IDs []string `json:"ids"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.IDs) == 0 {
		writeError(w, http.StatusBadRequest, "invalid batch payload")
		return
	}

	results := s.catalog.DeleteProducts(r.Context(), req.IDs)
	writeJSON(w, http.StatusOK, map[string]any{"results": results})
}

func (s *Server) handleGetPage(w http.ResponseWriter, r *http.Request) {
	body, contentType, err := s.pages.Load(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, httpStatus(err), "page not found")
		return
	}
	if contentType == "" {
		contentType = "text/html; charset=utf-8"
	}
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(http.StatusOK)
	w.Write(body)
}

func (s *Server) handlePutPage(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil || len(body) == 0 {
		writeError(w, http.StatusBadRequest, "empty page body")
		return
	}

	contentType := r.Header.Get("Content-Type")
	if err := s.pages.Save(r.Context(), r.PathValue("id"), contentType, body); err != nil {
		writeError(w, httpStatus(err), "failed to save page")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleGetMe(w http.ResponseWriter, r *http.Request, email string) {
	c, err := s.catalog.GetCustomer(r.Context(), email)
	if err != nil {
		writeError(w, httpStatus(err), "customer not found")
		return
	}
	c.PassHash = ""
	writeJSON(w, http.StatusOK, c)
}

func (s *Server) handlePlaceOrder(w http.ResponseWriter, r *http.Request, email string) {
	var o catalog.Order
	if err := json.NewDecoder(r.Body).Decode(&o); err != nil || len(o.Lines) == 0 {
		writeError(w, http.StatusBadRequest, "invalid order payload")
		return
	}
	if o.ID == "" {
		o.ID = uuid.NewString()
	}
	o.CustomerID = email

	if err := s.catalog.PlaceOrder(r.Context(), &o); err != nil {
		writeError(w, httpStatus(err), "failed to place order")
		return
	}
	writeJSON(w, http.StatusCreated, o)
}

func (s *Server) handleGetOrder(w http.ResponseWriter, r *http.Request, email string) {
	o, err := s.catalog.GetOrder(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, httpStatus(err), "order not found")
		return
	}
	if o.CustomerID != email {
		writeError(w, http.StatusNotFound, "order not found")
		return
	}
	writeJSON(w, http.StatusOK, o)
}

func (s *Server) handleOrderStatus(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Status == "" {
		writeError(w, http.StatusBadRequest, "status is required")
		return
	}

	if err := s.catalog.UpdateOrderStatus(r.Context(), r.PathValue("id"), req.Status); err != nil {
		writeError(w, httpStatus(err), "failed to update order")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handlePutCustomer(w http.ResponseWriter, r *http.Request) {
	var c catalog.Customer
	if err := json.NewDecoder(r.Body).Decode(&c); err != nil || c.Email == "" {
		writeError(w, http.StatusBadRequest, "invalid customer payload")
		return
	}
	if c.ID == "" {
		c.ID = uuid.NewString()
	}

	if err := s.catalog.SaveCustomer(r.Context(), &c); err != nil {
		writeError(w, httpStatus(err), "failed to save customer")
		return
	}
	c.PassHash = ""
	writeJSON(w, http.StatusOK, c)
}

func (s *Server) handleListIndexes(w http.ResponseWriter, r *http.Request) {
	entries, err := s.registry.Entries(r.Context())
	if err != nil {
		writeError(w, httpStatus(err), "failed to read registry")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"indexes": entries})
}

func (s *Server) handleCreateIndex(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Path string          `json:"path"`
		Meta registry.Entry  `json:"meta"`
		Body json.RawMessage `json:"body"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Path == "" {
		writeError(w, http.StatusBadRequest, "index path is required")
		return
	}

	if err := s.indexes.Create(r.Context(), req.Path, req.Meta, req.Body); err != nil {
		writeError(w, httpStatus(err), "failed to create index")
		return
	}
	w.WriteHeader(http.StatusCreated)
}

func (s *Server) handleDropIndex(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Query().Get("path")
	if path == "" {
		writeError(w, http.StatusBadRequest, "index path is required")
		return
	}

	if err := s.indexes.Drop(r.Context(), path); err != nil {
		writeError(w, httpStatus(err), "failed to drop index")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
