package order

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/beanhouse/internal/domain/pricing"
)

var (
	// ErrNotFound is returned by repositories when no order matches.
	ErrNotFound = errors.New("order not found")
	// ErrDuplicate is returned by Create when the id or display code is taken.
	ErrDuplicate = errors.New("order identity already exists")
)

// Customer is the contact data captured at checkout. Email identifies whose
// loyalty account the order credits.
type Customer struct {
	Email   string
	Name    string
	Phone   string
	Address string
}

// Order is a priced checkout.
type Order struct {
	ID            string
	DisplayCode   string
	Items         []pricing.Line
	Customer      Customer
	Note          string
	PaymentMethod string

	Subtotal    decimal.Decimal
	ShippingFee decimal.Decimal
	Discount    decimal.Decimal
	Total       decimal.Decimal

	DiscountCode *string
	PointsUsed   int64
	PointsEarned int64

	Status        Status
	PaymentStatus PaymentStatus

	CreatedAt time.Time
	UpdatedAt time.Time
}

// State returns the order's position on both status axes.
func (o *Order) State() State {
	return State{Status: o.Status, PaymentStatus: o.PaymentStatus}
}

// Patch is a partial update. Nil fields are left unchanged.
type Patch struct {
	Status        *Status
	PaymentStatus *PaymentStatus
	PointsUsed    *int64
	Discount      *decimal.Decimal
	Total         *decimal.Decimal
	PointsEarned  *int64
	UpdatedAt     time.Time
}

// Repository persists orders under their canonical id.
type Repository interface {
	// NextSequence returns one more than the highest sequence used in year.
	NextSequence(ctx context.Context, year int) (int, error)
	DisplayCodeExists(ctx context.Context, code string) (bool, error)
	// Create returns ErrDuplicate on an id or display code collision.
	Create(ctx context.Context, o *Order) error
	FindByID(ctx context.Context, id string) (*Order, error)
	FindByDisplayCode(ctx context.Context, code string) (*Order, error)
	// Update applies p and returns the stored order.
	Update(ctx context.Context, id string, p Patch) (*Order, error)
}

// Notifier delivers order confirmations. The service calls it off the
// request path and only logs failures.
type Notifier interface {
	Send(ctx context.Context, o *Order) error
}
