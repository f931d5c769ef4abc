// Package pricing turns cart lines into a subtotal and a shipping fee.
package pricing

import (
	"github.com/shopspring/decimal"

	"github.com/xenking/beanhouse/internal/domain/errs"
)

// ErrEmptyCart is the validation failure for a cart without lines.
var ErrEmptyCart = errs.Validation("items", "cart is empty")

// Line is a single cart line. Price is the unit price captured when the
// product was added to the cart.
type Line struct {
	ProductID string          `json:"productId"`
	Name      string          `json:"name"`
	Price     decimal.Decimal `json:"price"`
	Quantity  int             `json:"quantity"`
}

// Config holds the shipping rules.
type Config struct {
	// FreeShippingThreshold is the subtotal above which shipping is free.
	FreeShippingThreshold decimal.Decimal
	// FlatShippingFee is charged when the subtotal is at or below the threshold.
	FlatShippingFee decimal.Decimal
}

// DefaultConfig returns the storefront shipping rules.
func DefaultConfig() Config {
	return Config{
		FreeShippingThreshold: decimal.NewFromInt(300_000),
		FlatShippingFee:       decimal.NewFromInt(30_000),
	}
}

// Quote is the priced form of a cart.
type Quote struct {
	Lines       []Line
	Subtotal    decimal.Decimal
	ShippingFee decimal.Decimal
}

// Base returns subtotal + shipping, the amount discount codes apply to.
func (q Quote) Base() decimal.Decimal {
	return q.Subtotal.Add(q.ShippingFee)
}

// Calculator prices carts.
type Calculator struct {
	cfg Config
}

// NewCalculator creates a Calculator with the given shipping rules.
func NewCalculator(cfg Config) *Calculator {
	return &Calculator{cfg: cfg}
}

// Quote normalizes lines and computes the subtotal and shipping fee. A non-nil
// shippingOverride replaces the computed fee, zero included.
func (c *Calculator) Quote(lines []Line, shippingOverride *decimal.Decimal) (Quote, error) {
	if len(lines) == 0 {
		return Quote{}, ErrEmptyCart
	}
	if shippingOverride != nil && shippingOverride.IsNegative() {
		return Quote{}, errs.Validation("shippingFee", "shipping fee must not be negative")
	}

	normalized := make([]Line, len(lines))
	for i, l := range lines {
		normalized[i] = Normalize(l)
	}

	subtotal := Subtotal(normalized)
	return Quote{
		Lines:       normalized,
		Subtotal:    subtotal,
		ShippingFee: c.ShippingFee(subtotal, shippingOverride),
	}, nil
}

// ShippingFee returns the override when present, otherwise zero above the
// free-shipping threshold and the flat fee at or below it.
func (c *Calculator) ShippingFee(subtotal decimal.Decimal, override *decimal.Decimal) decimal.Decimal {
	if override != nil {
		return *override
	}
	if subtotal.GreaterThan(c.cfg.FreeShippingThreshold) {
		return decimal.Zero
	}
	return c.cfg.FlatShippingFee
}

// Normalize coerces a line to non-negative values: quantity defaults to 1 and
// price to 0 when missing or invalid.
func Normalize(l Line) Line {
	if l.Quantity <= 0 {
		l.Quantity = 1
	}
	if l.Price.IsNegative() {
		l.Price = decimal.Zero
	}
	return l
}

// Subtotal returns Σ price × quantity over normalized lines.
func Subtotal(lines []Line) decimal.Decimal {
	sum := decimal.Zero
	for _, l := range lines {
		l = Normalize(l)
		sum = sum.Add(l.Price.Mul(decimal.NewFromInt(int64(l.Quantity))))
	}
	return sum
}

// Total returns max(0, subtotal + shipping − discount).
func Total(subtotal, shipping, discount decimal.Decimal) decimal.Decimal {
	total := subtotal.Add(shipping).Sub(discount)
	if total.IsNegative() {
		return decimal.Zero
	}
	return total
}
