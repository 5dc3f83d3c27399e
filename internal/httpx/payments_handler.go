package httpx

import (
	"context"
	"net/http"
	"time"

	"github.com/ariefcatur/go-saga-orders/internal/payment"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type PaymentService interface {
	ByOrderID(ctx context.Context, orderID uuid.UUID) (payment.Payment, bool, error)
}

type PaymentsHandler struct {
	Svc PaymentService
	Log *zap.Logger
}

func (h *PaymentsHandler) Register(r chi.Router) {
	r.Get("/payments/order/{orderId}", h.getByOrder)
}

func (h *PaymentsHandler) getByOrder(w http.ResponseWriter, r *http.Request) {
	orderID, err := uuid.Parse(chi.URLParam(r, "orderId"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid order id")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	p, ok, err := h.Svc.ByOrderID(ctx, orderID)
	if err != nil {
		log := h.Log
		if log == nil {
			log = zap.NewNop()
		}
		internalError(w, r, log, err)
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	writeJSON(w, http.StatusOK, p)
}
