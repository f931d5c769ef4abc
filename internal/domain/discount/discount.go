package discount

import (
	"context"
	"regexp"
	"strings"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/beanhouse/internal/domain/errs"
)

// Type enumerates the supported discount strategies.
type Type string

const (
	// TypePercent takes a percentage of the base amount, rounded down.
	TypePercent Type = "percent"
	// TypeAmount takes a fixed amount capped at the base amount.
	TypeAmount Type = "amount"
)

const resource = "discount code"

var (
	hundred        = decimal.NewFromInt(100)
	defaultPercent = decimal.NewFromInt(10)
	codePattern    = regexp.MustCompile(`^[A-Z0-9]{5}$`)
)

// ErrNotFound is returned by repositories when no code matches.
var ErrNotFound = errors.New("discount code not found")

// Code is a reusable promotional code.
type Code struct {
	Code string
	Type Type
	// Percent is NULL for legacy rows; Compute falls back to 10%.
	Percent   decimal.NullDecimal
	Amount    decimal.Decimal
	MaxUses   int
	UsedCount int
	IsActive  bool
}

// Redeemable reports whether the code is active and has uses left.
func (c *Code) Redeemable() bool {
	return c.IsActive && c.UsedCount < c.MaxUses
}

// Compute returns the discount the code yields for base. The result is never
// negative and never exceeds base.
func (c *Code) Compute(base decimal.Decimal) decimal.Decimal {
	if !base.IsPositive() {
		return decimal.Zero
	}

	switch c.Type {
	case TypeAmount:
		amount := decimal.Min(c.Amount, base)
		if amount.IsNegative() {
			return decimal.Zero
		}
		return amount
	default:
		pct := defaultPercent
		if c.Percent.Valid {
			pct = c.Percent.Decimal
		}
		pct = decimal.Max(decimal.Zero, decimal.Min(pct, hundred))
		return base.Mul(pct).Div(hundred).Floor()
	}
}

// Repository provides lookup and usage tracking for discount codes.
type Repository interface {
	// FindByCode returns ErrNotFound when the code does not exist.
	FindByCode(ctx context.Context, code string) (*Code, error)
	IncrementUsage(ctx context.Context, code string) error
}

// Normalize trims and upper-cases raw and checks it is exactly five
// alphanumeric characters.
func Normalize(raw string) (string, error) {
	code := strings.ToUpper(strings.TrimSpace(raw))
	if !codePattern.MatchString(code) {
		return "", &errs.ValidationError{
			Field:   "discountCode",
			Message: "discount code must be exactly 5 letters or digits",
		}
	}
	return code, nil
}

func notFound(code string) error {
	return &errs.NotFoundError{
		Resource: resource,
		ID:       code,
		Message:  "discount code does not exist or is no longer active",
	}
}

func limitReached(code string) error {
	return &errs.LimitReachedError{
		Resource: resource,
		ID:       code,
		Message:  "discount code has reached its usage limit",
	}
}
