package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

func (h *Handler) createOrder(w http.ResponseWriter, r *http.Request) {
	req, err := decodeCreateOrder(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	o, err := h.orders.CreateOrder(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeOrder(w, http.StatusCreated, o)
}

func (h *Handler) getOrder(w http.ResponseWriter, r *http.Request) {
	o, err := h.orders.GetOrder(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeOrder(w, http.StatusOK, o)
}

func (h *Handler) getOrderByDisplayCode(w http.ResponseWriter, r *http.Request) {
	o, err := h.orders.GetOrderByDisplayCode(r.Context(), chi.URLParam(r, "code"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeOrder(w, http.StatusOK, o)
}

func (h *Handler) updateOrderStatus(w http.ResponseWriter, r *http.Request) {
	upd, err := decodeStatusUpdate(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	o, err := h.orders.UpdateOrderStatus(r.Context(), chi.URLParam(r, "id"), upd)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeOrder(w, http.StatusOK, o)
}

// validateDiscountCode answers 200 for every business outcome; the body's
// valid flag carries the verdict.
func (h *Handler) validateDiscountCode(w http.ResponseWriter, r *http.Request) {
	req, err := decodeValidateCode(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	res, err := h.orders.ValidateDiscountCode(r.Context(), req.code, req.subtotal, req.shippingFee)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeCodeCheck(w, res)
}
