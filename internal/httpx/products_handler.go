package httpx

import (
	"context"
	"net/http"
	"time"

	"github.com/ariefcatur/go-saga-orders/internal/inventory"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type InventoryService interface {
	Product(ctx context.Context, id uuid.UUID) (inventory.Product, bool, error)
	Products(ctx context.Context) ([]inventory.Product, error)
	Reservations(ctx context.Context, orderID uuid.UUID) ([]inventory.Reservation, error)
}

type ProductsHandler struct {
	Svc InventoryService
	Log *zap.Logger
}

func (h *ProductsHandler) Register(r chi.Router) {
	r.Get("/products", h.listProducts)
	r.Get("/products/{id}", h.getProduct)
	r.Get("/reservations/order/{orderId}", h.listReservations)
}

func (h *ProductsHandler) log() *zap.Logger {
	if h.Log == nil {
		return zap.NewNop()
	}
	return h.Log
}

func (h *ProductsHandler) listProducts(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	ps, err := h.Svc.Products(ctx)
	if err != nil {
		internalError(w, r, h.log(), err)
		return
	}
	if ps == nil {
		ps = []inventory.Product{}
	}
	writeJSON(w, http.StatusOK, ps)
}

func (h *ProductsHandler) getProduct(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid product id")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	p, ok, err := h.Svc.Product(ctx, id)
	if err != nil {
		internalError(w, r, h.log(), err)
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *ProductsHandler) listReservations(w http.ResponseWriter, r *http.Request) {
	orderID, err := uuid.Parse(chi.URLParam(r, "orderId"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid order id")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	rs, err := h.Svc.Reservations(ctx, orderID)
	if err != nil {
		internalError(w, r, h.log(), err)
		return
	}
	if rs == nil {
		rs = []inventory.Reservation{}
	}
	writeJSON(w, http.StatusOK, rs)
}
