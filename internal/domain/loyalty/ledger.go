package loyalty

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
)

// Ledger records accruals and redemptions against customer accounts.
type Ledger struct {
	repo  Repository
	rules Rules
	now   func() time.Time
}

// NewLedger creates a Ledger backed by repo.
func NewLedger(repo Repository, rules Rules) *Ledger {
	return &Ledger{repo: repo, rules: rules, now: time.Now}
}

// Rules returns the conversion rules the ledger credits with.
func (l *Ledger) Rules() Rules { return l.rules }

// Account returns the customer's balance and history.
func (l *Ledger) Account(ctx context.Context, email string) (*Account, error) {
	acc, err := l.repo.FindAccount(ctx, email)
	if err != nil {
		return nil, errors.Wrap(err, "find loyalty account")
	}
	return acc, nil
}

// Credit appends an earned entry for the order. Non-positive points are a
// no-op so the history never holds zero-value entries.
func (l *Ledger) Credit(ctx context.Context, email, orderID string, orderDate time.Time, points int64) error {
	if points <= 0 {
		return nil
	}
	e := Entry{
		OrderID:     orderID,
		OrderDate:   orderDate,
		Type:        EntryEarned,
		Points:      points,
		Description: fmt.Sprintf("Earned %d points from order %s", points, orderID),
		CreatedAt:   l.now(),
	}
	if err := l.repo.Earn(ctx, email, e); err != nil {
		return errors.Wrapf(err, "credit %d points", points)
	}
	return nil
}

// Debit appends a used entry for the order.
func (l *Ledger) Debit(ctx context.Context, email, orderID string, orderDate time.Time, points int64) error {
	if points <= 0 {
		return nil
	}
	e := Entry{
		OrderID:     orderID,
		OrderDate:   orderDate,
		Type:        EntryUsed,
		Points:      points,
		Description: fmt.Sprintf("Redeemed %d points on order %s", points, orderID),
		CreatedAt:   l.now(),
	}
	if err := l.repo.Redeem(ctx, email, e); err != nil {
		return errors.Wrapf(err, "debit %d points", points)
	}
	return nil
}
