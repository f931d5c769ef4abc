package order

import (
	"strings"

	"github.com/xenking/beanhouse/internal/domain/errs"
)

// Status is the fulfillment axis.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusShipped    Status = "shipped"
	StatusDelivered  Status = "delivered"
	StatusCancelled  Status = "cancelled"
	StatusReturned   Status = "returned"
)

// Valid reports whether s is a known fulfillment status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusShipped, StatusDelivered, StatusCancelled, StatusReturned:
		return true
	}
	return false
}

// PaymentStatus is the settlement axis.
type PaymentStatus string

const (
	PaymentPending  PaymentStatus = "pending"
	PaymentPaid     PaymentStatus = "paid"
	PaymentFailed   PaymentStatus = "failed"
	PaymentRefunded PaymentStatus = "refunded"
)

// Valid reports whether s is a known payment status.
func (s PaymentStatus) Valid() bool {
	switch s {
	case PaymentPending, PaymentPaid, PaymentFailed, PaymentRefunded:
		return true
	}
	return false
}

// ParseStatus normalizes and validates a fulfillment status.
func ParseStatus(raw string) (Status, error) {
	s := Status(strings.ToLower(strings.TrimSpace(raw)))
	if !s.Valid() {
		return "", errs.Validation("status", "unknown order status "+raw)
	}
	return s, nil
}

// ParsePaymentStatus normalizes and validates a payment status.
func ParsePaymentStatus(raw string) (PaymentStatus, error) {
	s := PaymentStatus(strings.ToLower(strings.TrimSpace(raw)))
	if !s.Valid() {
		return "", errs.Validation("paymentStatus", "unknown payment status "+raw)
	}
	return s, nil
}

// State is an order's position on both axes. There is no combined state; the
// axes move independently.
type State struct {
	Status        Status
	PaymentStatus PaymentStatus
}

// Apply returns s with the non-nil fields replaced.
func (s State) Apply(status *Status, payment *PaymentStatus) State {
	if status != nil {
		s.Status = *status
	}
	if payment != nil {
		s.PaymentStatus = *payment
	}
	return s
}

// IsCOD reports whether a payment method collects cash at delivery.
func IsCOD(method string) bool {
	m := strings.ToLower(strings.TrimSpace(method))
	m = strings.NewReplacer("-", "_", " ", "_").Replace(m)
	switch m {
	case "cod", "cash", "cash_on_delivery":
		return true
	}
	return false
}

// Qualifies reports whether moving from prev to next is the transition that
// earns loyalty points: into delivered for cash on delivery, into paid
// otherwise. It is edge-triggered; staying in the qualifying state is false.
func Qualifies(cod bool, prev, next State) bool {
	if cod {
		return next.Status == StatusDelivered && prev.Status != StatusDelivered
	}
	return next.PaymentStatus == PaymentPaid && prev.PaymentStatus != PaymentPaid
}
