package handler

import (
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/beanhouse/internal/domain/errs"
	"github.com/xenking/beanhouse/internal/domain/loyalty"
)

func (h *Handler) getLoyaltyAccount(w http.ResponseWriter, r *http.Request) {
	email, err := url.PathUnescape(chi.URLParam(r, "email"))
	if err != nil || email == "" {
		writeError(w, r, errs.Validation("email", "invalid email"))
		return
	}

	acc, err := h.loyalty.Account(r.Context(), email)
	if err != nil {
		if errors.Is(err, loyalty.ErrCustomerNotFound) {
			err = errs.NotFound("customer", email)
		}
		writeError(w, r, err)
		return
	}
	writeAccount(w, acc)
}

// previewPoints reports what an order total would earn, using the same rules
// as crediting.
func (h *Handler) previewPoints(w http.ResponseWriter, r *http.Request) {
	total, err := decimal.NewFromString(r.URL.Query().Get("total"))
	if err != nil {
		writeError(w, r, errs.Validation("total", "total must be a number"))
		return
	}
	writePreview(w, total, h.loyalty.Rules().PointsEarned(total))
}
