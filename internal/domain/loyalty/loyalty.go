// Package loyalty tracks customer point balances: how many points an order
// earns, how many a customer may redeem, and the append-only history of both.
package loyalty

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// EntryType distinguishes accrual from redemption in the history.
type EntryType string

const (
	EntryEarned EntryType = "earned"
	EntryUsed   EntryType = "used"
)

var (
	// ErrCustomerNotFound is returned when no customer has the given email.
	ErrCustomerNotFound = errors.New("customer not found")
	// ErrInsufficientPoints is returned when a redemption exceeds the balance.
	ErrInsufficientPoints = errors.New("insufficient loyalty points")
)

// Entry is one line of a customer's loyalty history.
type Entry struct {
	OrderID     string
	OrderDate   time.Time
	Type        EntryType
	Points      int64
	Description string
	CreatedAt   time.Time
}

// Account is a customer's loyalty state.
type Account struct {
	CustomerID    string
	Email         string
	CurrentPoints int64
	TotalEarned   int64
	History       []Entry
}

// Repository persists loyalty accounts. Earn and Redeem must change the
// balance with a single atomic increment or decrement and append the entry in
// the same transaction.
type Repository interface {
	FindAccount(ctx context.Context, email string) (*Account, error)
	// Earn adds e.Points to currentPoints and totalEarned.
	Earn(ctx context.Context, email string, e Entry) error
	// Redeem subtracts e.Points from currentPoints. It returns
	// ErrInsufficientPoints instead of letting the balance go negative.
	Redeem(ctx context.Context, email string, e Entry) error
}

// Config holds the point conversion rates.
type Config struct {
	// EarnUnit is the amount of payable total that earns one point.
	EarnUnit decimal.Decimal
	// PointValue is the monetary value of one redeemed point.
	PointValue decimal.Decimal
}

// DefaultConfig returns one point per 10,000 spent and 1,000 per point redeemed.
func DefaultConfig() Config {
	return Config{
		EarnUnit:   decimal.NewFromInt(10_000),
		PointValue: decimal.NewFromInt(1_000),
	}
}

// Rules applies a Config. It is pure; the same Rules value backs the earn
// preview and the actual credit so customers can predict their reward.
type Rules struct {
	cfg Config
}

// NewRules creates Rules for cfg.
func NewRules(cfg Config) Rules {
	return Rules{cfg: cfg}
}

// PointsEarned returns floor(total / EarnUnit), or 0 for a non-positive total.
func (r Rules) PointsEarned(total decimal.Decimal) int64 {
	if !total.IsPositive() || !r.cfg.EarnUnit.IsPositive() {
		return 0
	}
	return total.Div(r.cfg.EarnUnit).Floor().IntPart()
}

// Value returns the discount worth of points.
func (r Rules) Value(points int64) decimal.Decimal {
	if points <= 0 {
		return decimal.Zero
	}
	return decimal.NewFromInt(points).Mul(r.cfg.PointValue)
}

// Usage is the outcome of ValidateUsage.
type Usage struct {
	OK       bool
	Points   int64
	Discount decimal.Decimal
}

// ValidateUsage caps a redemption request. Points never exceed available and
// never exceed ceil(orderTotal / PointValue), the fewest points that cover the
// order; the discount never exceeds orderTotal.
func (r Rules) ValidateUsage(available, requested int64, orderTotal decimal.Decimal) Usage {
	if requested <= 0 || available <= 0 {
		return Usage{Discount: decimal.Zero}
	}

	points := min(requested, available)
	if r.cfg.PointValue.IsPositive() && orderTotal.IsPositive() {
		needed := orderTotal.Div(r.cfg.PointValue).Ceil().IntPart()
		points = min(points, needed)
	} else {
		points = 0
	}

	discount := decimal.Min(r.Value(points), decimal.Max(orderTotal, decimal.Zero))
	return Usage{OK: true, Points: points, Discount: discount}
}
