package repository

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/beanhouse/internal/domain/discount"
)

const (
	getDiscountCodeSQL = `SELECT code, type, percent, amount, max_uses, used_count, is_active
		FROM discount_codes WHERE code = $1`

	// The increment is unconditional; the limit is checked by the caller
	// beforehand.
	incrementDiscountUsageSQL = `UPDATE discount_codes SET used_count = used_count + 1 WHERE code = $1`

	upsertDiscountCodeSQL = `INSERT INTO discount_codes (code, type, percent, amount, max_uses, used_count, is_active)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (code) DO UPDATE SET
			type = EXCLUDED.type,
			percent = EXCLUDED.percent,
			amount = EXCLUDED.amount,
			max_uses = EXCLUDED.max_uses,
			is_active = EXCLUDED.is_active`
)

var _ discount.Repository = (*DiscountRepository)(nil)

// DiscountRepository implements discount.Repository backed by PostgreSQL.
type DiscountRepository struct {
	pool *pgxpool.Pool
}

// NewDiscountRepository returns a DiscountRepository that uses the given pool.
func NewDiscountRepository(pool *pgxpool.Pool) *DiscountRepository {
	return &DiscountRepository{pool: pool}
}

// FindByCode returns the code regardless of its active flag, or
// discount.ErrNotFound. code must already be normalized.
func (r *DiscountRepository) FindByCode(ctx context.Context, code string) (*discount.Code, error) {
	rows, err := r.pool.Query(ctx, getDiscountCodeSQL, code)
	if err != nil {
		return nil, fmt.Errorf("finding discount code %q: %w", code, err)
	}

	c, err := pgx.CollectExactlyOneRow(rows, scanDiscountCode)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, discount.ErrNotFound
		}
		return nil, fmt.Errorf("finding discount code %q: %w", code, err)
	}
	return &c, nil
}

// IncrementUsage adds one to the code's usage counter.
func (r *DiscountRepository) IncrementUsage(ctx context.Context, code string) error {
	tag, err := r.pool.Exec(ctx, incrementDiscountUsageSQL, code)
	if err != nil {
		return fmt.Errorf("incrementing usage for discount code %q: %w", code, err)
	}
	if tag.RowsAffected() == 0 {
		return discount.ErrNotFound
	}
	return nil
}

// Upsert inserts c or replaces its terms. The usage counter of an existing
// code is kept.
func (r *DiscountRepository) Upsert(ctx context.Context, c discount.Code) error {
	_, err := r.pool.Exec(ctx, upsertDiscountCodeSQL,
		c.Code, string(c.Type), c.Percent, c.Amount, c.MaxUses, c.UsedCount, c.IsActive,
	)
	if err != nil {
		return fmt.Errorf("upserting discount code %q: %w", c.Code, err)
	}
	return nil
}

func scanDiscountCode(row pgx.CollectableRow) (discount.Code, error) {
	var (
		c       discount.Code
		typ     string
		maxUses int32
		used    int32
	)
	err := row.Scan(&c.Code, &typ, &c.Percent, &c.Amount, &maxUses, &used, &c.IsActive)
	c.Type = discount.Type(typ)
	c.MaxUses = int(maxUses)
	c.UsedCount = int(used)
	return c, err
}
