package handler

import (
	"bytes"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"

	"github.com/xenking/beanhouse/internal/domain/errs"
	"github.com/xenking/beanhouse/internal/domain/order"
	"github.com/xenking/beanhouse/internal/domain/pricing"
)

const maxBodyBytes = 1 << 20

func readBody(r *http.Request) (*jx.Decoder, error) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return nil, errs.Validation("body", "unreadable request body")
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, errs.Validation("body", "request body is required")
	}
	return jx.DecodeBytes(body), nil
}

// malformed reports a JSON syntax or type error on field.
func malformed(field string, err error) error {
	var ve *errs.ValidationError
	if errors.As(err, &ve) {
		return err
	}
	if field == "" {
		return errs.Validation("body", "malformed JSON")
	}
	return errs.Validation(field, "invalid value for "+field)
}

// readDecimal accepts a JSON number or a numeric string. Storefront clients
// send prices both ways.
func readDecimal(d *jx.Decoder, field string) (decimal.Decimal, error) {
	var raw string
	switch d.Next() {
	case jx.Number:
		n, err := d.Num()
		if err != nil {
			return decimal.Zero, malformed(field, err)
		}
		raw = n.String()
	case jx.String:
		s, err := d.Str()
		if err != nil {
			return decimal.Zero, malformed(field, err)
		}
		raw = strings.TrimSpace(s)
	case jx.Null:
		return decimal.Zero, d.Null()
	default:
		return decimal.Zero, malformed(field, d.Skip())
	}
	v, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, errs.Validation(field, field+" must be a number")
	}
	return v, nil
}

// readInt accepts a JSON integer or an integer string.
func readInt(d *jx.Decoder, field string) (int64, error) {
	v, err := readDecimal(d, field)
	if err != nil {
		return 0, err
	}
	if !v.IsInteger() {
		return 0, errs.Validation(field, field+" must be a whole number")
	}
	return v.IntPart(), nil
}

// readString accepts a string, a number rendered as text, or null.
func readString(d *jx.Decoder, field string) (string, error) {
	switch d.Next() {
	case jx.String:
		s, err := d.Str()
		return s, malformedOrNil(field, err)
	case jx.Number:
		n, err := d.Num()
		return n.String(), malformedOrNil(field, err)
	case jx.Null:
		return "", d.Null()
	default:
		return "", malformed(field, d.Skip())
	}
}

func malformedOrNil(field string, err error) error {
	if err == nil {
		return nil
	}
	return malformed(field, err)
}

// lenientDecimal reads a cart line number. Values that are not numeric
// coerce to zero; only JSON syntax errors are reported.
func lenientDecimal(d *jx.Decoder) (decimal.Decimal, error) {
	var raw string
	switch d.Next() {
	case jx.Number:
		n, err := d.Num()
		if err != nil {
			return decimal.Zero, err
		}
		raw = n.String()
	case jx.String:
		s, err := d.Str()
		if err != nil {
			return decimal.Zero, err
		}
		raw = strings.TrimSpace(s)
	default:
		return decimal.Zero, d.Skip()
	}
	v, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, nil
	}
	return v, nil
}

// decodeLine coerces price and quantity instead of rejecting them: an
// unusable price becomes 0 and an unusable quantity becomes 1.
func decodeLine(d *jx.Decoder, idx int) (pricing.Line, error) {
	var l pricing.Line
	prefix := "items[" + strconv.Itoa(idx) + "]."
	err := d.Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "productId", "id":
			l.ProductID, err = readString(d, prefix+"productId")
		case "name":
			l.Name, err = readString(d, prefix+"name")
		case "price":
			l.Price, err = lenientDecimal(d)
		case "quantity":
			var q decimal.Decimal
			if q, err = lenientDecimal(d); err == nil && q.IsInteger() {
				l.Quantity = int(q.IntPart())
			}
		default:
			err = d.Skip()
		}
		return err
	})
	return pricing.Normalize(l), err
}

func decodeCreateOrder(r *http.Request) (order.CreateRequest, error) {
	var req order.CreateRequest
	d, err := readBody(r)
	if err != nil {
		return req, err
	}

	err = d.Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "items":
			err = d.Arr(func(d *jx.Decoder) error {
				l, err := decodeLine(d, len(req.Items))
				if err != nil {
					return err
				}
				req.Items = append(req.Items, l)
				return nil
			})
		case "customerEmail":
			req.Customer.Email, err = readString(d, key)
		case "customerName":
			req.Customer.Name, err = readString(d, key)
		case "customerPhone":
			req.Customer.Phone, err = readString(d, key)
		case "shippingAddress":
			req.Customer.Address, err = readString(d, key)
		case "note":
			req.Note, err = readString(d, key)
		case "paymentMethod":
			req.PaymentMethod, err = readString(d, key)
		case "discountCode":
			req.DiscountCode, err = readString(d, key)
		case "pointsToUse":
			req.PointsToUse, err = readInt(d, key)
		case "shippingFee":
			if d.Next() == jx.Null {
				return d.Null()
			}
			var fee decimal.Decimal
			if fee, err = readDecimal(d, key); err == nil {
				req.ShippingFee = &fee
			}
		default:
			err = d.Skip()
		}
		return err
	})
	if err != nil {
		return req, malformed("", err)
	}
	if req.PointsToUse < 0 {
		return req, errs.Validation("pointsToUse", "points to use must not be negative")
	}
	return req, nil
}

type validateCodeRequest struct {
	code        string
	subtotal    decimal.Decimal
	shippingFee decimal.Decimal
}

func decodeValidateCode(r *http.Request) (validateCodeRequest, error) {
	var req validateCodeRequest
	d, err := readBody(r)
	if err != nil {
		return req, err
	}

	err = d.Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "code":
			req.code, err = readString(d, key)
		case "subtotal":
			req.subtotal, err = readDecimal(d, key)
		case "shippingFee":
			req.shippingFee, err = readDecimal(d, key)
		default:
			err = d.Skip()
		}
		return err
	})
	if err != nil {
		return req, malformed("", err)
	}
	return req, nil
}

func decodeStatusUpdate(r *http.Request) (order.StatusUpdate, error) {
	var upd order.StatusUpdate
	d, err := readBody(r)
	if err != nil {
		return upd, err
	}

	err = d.Obj(func(d *jx.Decoder, key string) error {
		switch key {
		case "status":
			raw, err := readString(d, key)
			if err != nil || raw == "" {
				return err
			}
			s, err := order.ParseStatus(raw)
			upd.Status = &s
			return err
		case "paymentStatus":
			raw, err := readString(d, key)
			if err != nil || raw == "" {
				return err
			}
			s, err := order.ParsePaymentStatus(raw)
			upd.PaymentStatus = &s
			return err
		case "pointsUsed":
			if d.Next() == jx.Null {
				return d.Null()
			}
			n, err := readInt(d, key)
			upd.PointsUsed = &n
			return err
		default:
			return d.Skip()
		}
	})
	if err != nil {
		return upd, malformed("", err)
	}
	return upd, nil
}
