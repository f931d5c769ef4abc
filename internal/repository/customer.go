package repository

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/beanhouse/internal/domain/loyalty"
)

const (
	getCustomerSQL = `SELECT id, email, current_points, total_earned
		FROM customers WHERE LOWER(email) = LOWER($1)`

	listLoyaltyHistorySQL = `SELECT order_id, order_date, type, points, description, created_at
		FROM loyalty_history WHERE customer_id = $1 ORDER BY id`

	earnPointsSQL = `UPDATE customers
		SET current_points = current_points + $2, total_earned = total_earned + $2
		WHERE LOWER(email) = LOWER($1)
		RETURNING id`

	// The balance guard makes the decrement conditional so it never goes
	// negative.
	redeemPointsSQL = `UPDATE customers
		SET current_points = current_points - $2
		WHERE LOWER(email) = LOWER($1) AND current_points >= $2
		RETURNING id`

	customerExistsSQL = `SELECT EXISTS (SELECT 1 FROM customers WHERE LOWER(email) = LOWER($1))`

	insertLoyaltyEntrySQL = `INSERT INTO loyalty_history
		(customer_id, order_id, order_date, type, points, description, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	upsertCustomerSQL = `INSERT INTO customers (id, email, name, current_points, total_earned)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET email = EXCLUDED.email, name = EXCLUDED.name`
)

var _ loyalty.Repository = (*CustomerRepository)(nil)

// CustomerRepository implements loyalty.Repository backed by PostgreSQL.
// Emails match case-insensitively.
type CustomerRepository struct {
	pool *pgxpool.Pool
}

// NewCustomerRepository returns a CustomerRepository that uses the given pool.
func NewCustomerRepository(pool *pgxpool.Pool) *CustomerRepository {
	return &CustomerRepository{pool: pool}
}

// FindAccount returns the customer's balance with the full history, oldest
// entry first.
func (r *CustomerRepository) FindAccount(ctx context.Context, email string) (*loyalty.Account, error) {
	var acc loyalty.Account
	err := r.pool.QueryRow(ctx, getCustomerSQL, email).
		Scan(&acc.CustomerID, &acc.Email, &acc.CurrentPoints, &acc.TotalEarned)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, loyalty.ErrCustomerNotFound
		}
		return nil, fmt.Errorf("finding customer %q: %w", email, err)
	}

	rows, err := r.pool.Query(ctx, listLoyaltyHistorySQL, acc.CustomerID)
	if err != nil {
		return nil, fmt.Errorf("listing loyalty history for %q: %w", acc.CustomerID, err)
	}
	acc.History, err = pgx.CollectRows(rows, scanLoyaltyEntry)
	if err != nil {
		return nil, fmt.Errorf("listing loyalty history for %q: %w", acc.CustomerID, err)
	}
	return &acc, nil
}

// Earn credits e.Points and appends e in one transaction.
func (r *CustomerRepository) Earn(ctx context.Context, email string, e loyalty.Entry) error {
	return r.apply(ctx, earnPointsSQL, email, e)
}

// Redeem debits e.Points and appends e in one transaction. It returns
// loyalty.ErrInsufficientPoints when the balance is too low.
func (r *CustomerRepository) Redeem(ctx context.Context, email string, e loyalty.Entry) error {
	return r.apply(ctx, redeemPointsSQL, email, e)
}

func (r *CustomerRepository) apply(ctx context.Context, sql, email string, e loyalty.Entry) error {
	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		var customerID string
		err := tx.QueryRow(ctx, sql, email, e.Points).Scan(&customerID)
		if errors.Is(err, pgx.ErrNoRows) {
			return r.missReason(ctx, tx, email)
		}
		if err != nil {
			return fmt.Errorf("updating balance for %q: %w", email, err)
		}

		_, err = tx.Exec(ctx, insertLoyaltyEntrySQL,
			customerID, e.OrderID, e.OrderDate, string(e.Type), e.Points, e.Description, e.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("appending loyalty entry for %q: %w", email, err)
		}
		return nil
	})
}

// missReason tells an unknown customer from a balance that is too low.
func (r *CustomerRepository) missReason(ctx context.Context, tx pgx.Tx, email string) error {
	var exists bool
	if err := tx.QueryRow(ctx, customerExistsSQL, email).Scan(&exists); err != nil {
		return fmt.Errorf("checking customer %q: %w", email, err)
	}
	if !exists {
		return loyalty.ErrCustomerNotFound
	}
	return loyalty.ErrInsufficientPoints
}

// UpsertCustomer inserts a customer with an opening balance or updates the
// contact fields of an existing one. Balances of existing customers are kept.
func (r *CustomerRepository) UpsertCustomer(ctx context.Context, acc loyalty.Account, name string) error {
	_, err := r.pool.Exec(ctx, upsertCustomerSQL,
		acc.CustomerID, acc.Email, name, acc.CurrentPoints, acc.TotalEarned,
	)
	if err != nil {
		return fmt.Errorf("upserting customer %q: %w", acc.CustomerID, err)
	}
	return nil
}

func scanLoyaltyEntry(row pgx.CollectableRow) (loyalty.Entry, error) {
	var (
		e   loyalty.Entry
		typ string
	)
	err := row.Scan(&e.OrderID, &e.OrderDate, &typ, &e.Points, &e.Description, &e.CreatedAt)
	e.Type = loyalty.EntryType(typ)
	return e, err
}
