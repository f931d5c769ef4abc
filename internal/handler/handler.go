// Package handler exposes the settlement engine over HTTP.
package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/xenking/beanhouse/internal/domain/loyalty"
	"github.com/xenking/beanhouse/internal/domain/order"
)

// Settlement is implemented by *order.Service.
type Settlement interface {
	CreateOrder(ctx context.Context, req order.CreateRequest) (*order.Order, error)
	ValidateDiscountCode(ctx context.Context, code string, subtotal, shippingFee decimal.Decimal) (order.CodeCheck, error)
	UpdateOrderStatus(ctx context.Context, id string, upd order.StatusUpdate) (*order.Order, error)
	GetOrder(ctx context.Context, id string) (*order.Order, error)
	GetOrderByDisplayCode(ctx context.Context, code string) (*order.Order, error)
}

// Loyalty is implemented by *loyalty.Ledger.
type Loyalty interface {
	Account(ctx context.Context, email string) (*loyalty.Account, error)
	Rules() loyalty.Rules
}

// Handler serves the /api routes.
type Handler struct {
	orders  Settlement
	loyalty Loyalty
}

// NewHandler creates a Handler.
func NewHandler(orders Settlement, ledger Loyalty) *Handler {
	return &Handler{orders: orders, loyalty: ledger}
}

// Register mounts the API routes on r.
func (h *Handler) Register(r chi.Router) {
	r.Post("/orders", h.createOrder)
	r.Get("/orders/{id}", h.getOrder)
	r.Patch("/orders/{id}/status", h.updateOrderStatus)
	r.Get("/orders/display/{code}", h.getOrderByDisplayCode)

	r.Post("/discount-codes/validate", h.validateDiscountCode)

	r.Get("/loyalty/preview", h.previewPoints)
	r.Get("/loyalty/{email}", h.getLoyaltyAccount)
}

// Router builds the complete HTTP surface: the probes and the API under /api.
// middlewares run inside chi, so they see the matched route.
func Router(h *Handler, livez, readyz http.HandlerFunc, middlewares ...func(http.Handler) http.Handler) chi.Router {
	r := chi.NewRouter()
	r.Use(middlewares...)
	r.Get("/livez", livez)
	r.Get("/readyz", readyz)
	r.Route("/api", h.Register)
	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeMessage(w, http.StatusNotFound, "route not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeMessage(w, http.StatusMethodNotAllowed, "method not allowed")
	})
	return r
}
