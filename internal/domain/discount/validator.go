// Package discount validates promotional codes and computes the discount
// they yield.
package discount

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/beanhouse/internal/domain/errs"
)

// Result is the outcome of a successful validation.
type Result struct {
	Code   string
	Amount decimal.Decimal
}

// Validator checks codes against a Repository.
type Validator struct {
	repo Repository
}

// NewValidator creates a Validator backed by repo.
func NewValidator(repo Repository) *Validator {
	return &Validator{repo: repo}
}

// Preview validates raw and computes its discount for base without consuming
// a use.
func (v *Validator) Preview(ctx context.Context, raw string, base decimal.Decimal) (*Result, error) {
	code, err := Normalize(raw)
	if err != nil {
		return nil, err
	}

	c, err := v.lookup(ctx, code)
	if err != nil {
		return nil, err
	}

	return &Result{Code: c.Code, Amount: c.Compute(base)}, nil
}

// Apply validates raw, computes its discount for base, and records one use.
//
// The usage check and the increment are separate statements. Two concurrent
// checkouts can both pass the check and push usedCount past maxUses.
func (v *Validator) Apply(ctx context.Context, raw string, base decimal.Decimal) (*Result, error) {
	res, err := v.Preview(ctx, raw, base)
	if err != nil {
		return nil, err
	}

	if err := v.repo.IncrementUsage(ctx, res.Code); err != nil {
		return nil, errs.Persistence("increment discount code usage", err)
	}

	return res, nil
}

func (v *Validator) lookup(ctx context.Context, code string) (*Code, error) {
	c, err := v.repo.FindByCode(ctx, code)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, notFound(code)
		}
		return nil, errs.Persistence("lookup discount code", err)
	}

	if !c.IsActive {
		return nil, notFound(code)
	}
	if c.UsedCount >= c.MaxUses {
		return nil, limitReached(code)
	}

	return c, nil
}
