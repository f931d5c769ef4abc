package handler

import (
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/xenking/beanhouse/internal/domain/errs"
	"github.com/xenking/beanhouse/internal/domain/loyalty"
	"github.com/xenking/beanhouse/internal/domain/order"
)

func write(w http.ResponseWriter, status int, fn func(e *jx.Encoder)) {
	e := jx.GetEncoder()
	defer jx.PutEncoder(e)
	fn(e)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(e.Bytes())
}

// money writes an exact decimal as a JSON number.
func money(e *jx.Encoder, name string, v decimal.Decimal) {
	e.FieldStart(name)
	e.Raw([]byte(v.String()))
}

func str(e *jx.Encoder, name, v string) {
	e.FieldStart(name)
	e.Str(v)
}

func timestamp(e *jx.Encoder, name string, t time.Time) {
	e.FieldStart(name)
	e.Str(t.UTC().Format(time.RFC3339))
}

func encodeOrder(e *jx.Encoder, o *order.Order) {
	e.ObjStart()
	str(e, "id", o.ID)
	str(e, "displayCode", o.DisplayCode)

	e.FieldStart("items")
	e.ArrStart()
	for _, l := range o.Items {
		e.ObjStart()
		str(e, "productId", l.ProductID)
		str(e, "name", l.Name)
		money(e, "price", l.Price)
		e.FieldStart("quantity")
		e.Int(l.Quantity)
		e.ObjEnd()
	}
	e.ArrEnd()

	str(e, "customerEmail", o.Customer.Email)
	str(e, "customerName", o.Customer.Name)
	str(e, "customerPhone", o.Customer.Phone)
	str(e, "shippingAddress", o.Customer.Address)
	str(e, "note", o.Note)
	str(e, "paymentMethod", o.PaymentMethod)

	money(e, "subtotal", o.Subtotal)
	money(e, "shippingFee", o.ShippingFee)
	money(e, "discount", o.Discount)
	money(e, "total", o.Total)

	e.FieldStart("discountCode")
	if o.DiscountCode != nil {
		e.Str(*o.DiscountCode)
	} else {
		e.Null()
	}
	e.FieldStart("pointsUsed")
	e.Int64(o.PointsUsed)
	e.FieldStart("pointsEarned")
	e.Int64(o.PointsEarned)

	str(e, "status", string(o.Status))
	str(e, "paymentStatus", string(o.PaymentStatus))
	timestamp(e, "createdAt", o.CreatedAt)
	timestamp(e, "updatedAt", o.UpdatedAt)
	e.ObjEnd()
}

func writeOrder(w http.ResponseWriter, status int, o *order.Order) {
	write(w, status, func(e *jx.Encoder) { encodeOrder(e, o) })
}

func writeCodeCheck(w http.ResponseWriter, c order.CodeCheck) {
	write(w, http.StatusOK, func(e *jx.Encoder) {
		e.ObjStart()
		e.FieldStart("valid")
		e.Bool(c.Valid)
		money(e, "discountAmount", c.DiscountAmount)
		str(e, "message", c.Message)
		e.ObjEnd()
	})
}

func writeAccount(w http.ResponseWriter, acc *loyalty.Account) {
	write(w, http.StatusOK, func(e *jx.Encoder) {
		e.ObjStart()
		str(e, "customerId", acc.CustomerID)
		str(e, "email", acc.Email)
		e.FieldStart("currentPoints")
		e.Int64(acc.CurrentPoints)
		e.FieldStart("totalEarned")
		e.Int64(acc.TotalEarned)
		e.FieldStart("history")
		e.ArrStart()
		for _, h := range acc.History {
			e.ObjStart()
			str(e, "orderId", h.OrderID)
			timestamp(e, "orderDate", h.OrderDate)
			str(e, "type", string(h.Type))
			e.FieldStart("points")
			e.Int64(h.Points)
			str(e, "description", h.Description)
			timestamp(e, "createdAt", h.CreatedAt)
			e.ObjEnd()
		}
		e.ArrEnd()
		e.ObjEnd()
	})
}

func writePreview(w http.ResponseWriter, total decimal.Decimal, points int64) {
	write(w, http.StatusOK, func(e *jx.Encoder) {
		e.ObjStart()
		money(e, "total", total)
		e.FieldStart("pointsEarned")
		e.Int64(points)
		e.ObjEnd()
	})
}

func writeMessage(w http.ResponseWriter, status int, msg string) {
	write(w, status, func(e *jx.Encoder) {
		e.ObjStart()
		e.FieldStart("code")
		e.Int(status)
		str(e, "message", msg)
		e.ObjEnd()
	})
}

// statusOf maps the domain error taxonomy to HTTP.
func statusOf(err error) int {
	var (
		ve *errs.ValidationError
		nf *errs.NotFoundError
		lr *errs.LimitReachedError
	)
	switch {
	case errors.As(err, &ve):
		return http.StatusBadRequest
	case errors.As(err, &nf):
		return http.StatusNotFound
	case errors.As(err, &lr):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// writeError responds with the user-facing message for err. Internal
// failures are logged and reported generically.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusOf(err)
	if status == http.StatusInternalServerError {
		zctx.From(r.Context()).Error("Request failed",
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
	}
	writeMessage(w, status, errs.UserMessage(err))
}
