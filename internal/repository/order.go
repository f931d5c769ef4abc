package repository

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/beanhouse/internal/domain/order"
	"github.com/xenking/beanhouse/internal/domain/pricing"
)

const (
	orderColumns = `id, display_code, items, customer_email, customer_name, customer_phone,
		shipping_address, note, payment_method, subtotal, shipping_fee, discount, total,
		discount_code, points_used, points_earned, status, payment_status, created_at, updated_at`

	nextOrderSequenceSQL = `SELECT COALESCE(MAX(split_part(id, '-', 3)::INTEGER), 0) + 1
		FROM orders WHERE id LIKE $1 AND split_part(id, '-', 3) ~ '^[0-9]+$'`

	displayCodeExistsSQL = `SELECT EXISTS (SELECT 1 FROM orders WHERE display_code = $1)`

	createOrderSQL = `INSERT INTO orders (` + orderColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)`

	getOrderByIDSQL = `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`

	getOrderByDisplayCodeSQL = `SELECT ` + orderColumns + ` FROM orders WHERE display_code = $1`

	updateOrderSQL = `UPDATE orders SET
		status         = COALESCE($2, status),
		payment_status = COALESCE($3, payment_status),
		points_used    = COALESCE($4, points_used),
		discount       = COALESCE($5, discount),
		total          = COALESCE($6, total),
		points_earned  = COALESCE($7, points_earned),
		updated_at     = $8
		WHERE id = $1
		RETURNING ` + orderColumns
)

var _ order.Repository = (*OrderRepository)(nil)

// OrderRepository implements order.Repository backed by PostgreSQL.
type OrderRepository struct {
	pool *pgxpool.Pool
}

// NewOrderRepository returns an OrderRepository that uses the given pool.
func NewOrderRepository(pool *pgxpool.Pool) *OrderRepository {
	return &OrderRepository{pool: pool}
}

// NextSequence returns one past the highest sequence among the year's ids.
// Ids that do not end in digits are ignored.
func (r *OrderRepository) NextSequence(ctx context.Context, year int) (int, error) {
	var next int
	prefix := fmt.Sprintf("ORD-%d-%%", year)
	if err := r.pool.QueryRow(ctx, nextOrderSequenceSQL, prefix).Scan(&next); err != nil {
		return 0, fmt.Errorf("next order sequence for %d: %w", year, err)
	}
	return next, nil
}

// DisplayCodeExists reports whether an order already uses code.
func (r *OrderRepository) DisplayCodeExists(ctx context.Context, code string) (bool, error) {
	var exists bool
	if err := r.pool.QueryRow(ctx, displayCodeExistsSQL, code).Scan(&exists); err != nil {
		return false, fmt.Errorf("checking display code %q: %w", code, err)
	}
	return exists, nil
}

// Create persists a new order. Items are stored as JSONB.
func (r *OrderRepository) Create(ctx context.Context, o *order.Order) error {
	_, err := r.pool.Exec(ctx, createOrderSQL,
		o.ID, o.DisplayCode, o.Items,
		o.Customer.Email, o.Customer.Name, o.Customer.Phone, o.Customer.Address,
		o.Note, o.PaymentMethod,
		o.Subtotal, o.ShippingFee, o.Discount, o.Total,
		o.DiscountCode, o.PointsUsed, o.PointsEarned,
		string(o.Status), string(o.PaymentStatus),
		o.CreatedAt, o.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return order.ErrDuplicate
		}
		return fmt.Errorf("creating order %q: %w", o.ID, err)
	}
	return nil
}

// FindByID returns the order with the given id or order.ErrNotFound.
func (r *OrderRepository) FindByID(ctx context.Context, id string) (*order.Order, error) {
	return r.findOne(ctx, getOrderByIDSQL, id)
}

// FindByDisplayCode returns the order with the given display code or
// order.ErrNotFound.
func (r *OrderRepository) FindByDisplayCode(ctx context.Context, code string) (*order.Order, error) {
	return r.findOne(ctx, getOrderByDisplayCodeSQL, strings.ToUpper(code))
}

// Update applies the non-nil fields of p and returns the stored row.
func (r *OrderRepository) Update(ctx context.Context, id string, p order.Patch) (*order.Order, error) {
	var status, payment *string
	if p.Status != nil {
		s := string(*p.Status)
		status = &s
	}
	if p.PaymentStatus != nil {
		s := string(*p.PaymentStatus)
		payment = &s
	}
	return r.findOne(ctx, updateOrderSQL,
		id, status, payment, p.PointsUsed, p.Discount, p.Total, p.PointsEarned, p.UpdatedAt,
	)
}

func (r *OrderRepository) findOne(ctx context.Context, sql string, args ...any) (*order.Order, error) {
	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("querying order %v: %w", args[0], err)
	}

	o, err := pgx.CollectExactlyOneRow(rows, scanOrder)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, order.ErrNotFound
		}
		return nil, fmt.Errorf("querying order %v: %w", args[0], err)
	}
	return &o, nil
}

func scanOrder(row pgx.CollectableRow) (order.Order, error) {
	var (
		o             order.Order
		items         []pricing.Line
		status        string
		paymentStatus string
	)
	err := row.Scan(
		&o.ID, &o.DisplayCode, &items,
		&o.Customer.Email, &o.Customer.Name, &o.Customer.Phone, &o.Customer.Address,
		&o.Note, &o.PaymentMethod,
		&o.Subtotal, &o.ShippingFee, &o.Discount, &o.Total,
		&o.DiscountCode, &o.PointsUsed, &o.PointsEarned,
		&status, &paymentStatus,
		&o.CreatedAt, &o.UpdatedAt,
	)
	o.Items = items
	o.Status = order.Status(status)
	o.PaymentStatus = order.PaymentStatus(paymentStatus)
	return o, err
}
