//go:build integration

package repository

import (
	"context"
	"fmt"
	"log"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/xenking/beanhouse/internal/domain/discount"
	"github.com/xenking/beanhouse/internal/domain/loyalty"
	"github.com/xenking/beanhouse/internal/domain/order"
	"github.com/xenking/beanhouse/internal/domain/pricing"
)

var testPool *pgxpool.Pool

func TestMain(m *testing.M) {
	os.Exit(testMain(m))
}

func testMain(m *testing.M) int {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	pg, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "postgres:17-alpine",
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_USER":     "bean",
				"POSTGRES_PASSWORD": "bean",
				"POSTGRES_DB":       "beanhouse",
			},
			WaitingFor: wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(time.Minute),
		},
		Started: true,
	})
	if err != nil {
		log.Fatalf("start postgres: %v", err)
	}
	defer func() {
		if err := testcontainers.TerminateContainer(pg); err != nil {
			log.Printf("terminate postgres: %v", err)
		}
	}()

	host, err := pg.Host(ctx)
	if err != nil {
		log.Fatalf("host: %v", err)
	}
	port, err := pg.MappedPort(ctx, "5432/tcp")
	if err != nil {
		log.Fatalf("mapped port: %v", err)
	}

	dsn := fmt.Sprintf("postgres://bean:bean@%s:%s/beanhouse?sslmode=disable", host, port.Port())
	testPool, err = NewPool(ctx, dsn)
	if err != nil {
		log.Fatalf("pool: %v", err)
	}
	defer testPool.Close()

	if err := RunMigrations(ctx, testPool); err != nil {
		log.Fatalf("migrate: %v", err)
	}
	// Applying twice must be harmless.
	if err := RunMigrations(ctx, testPool); err != nil {
		log.Fatalf("migrate again: %v", err)
	}

	return m.Run()
}

func truncate(t *testing.T) {
	t.Helper()
	_, err := testPool.Exec(context.Background(),
		`TRUNCATE orders, discount_codes, loyalty_history, customers`)
	require.NoError(t, err)
}

func newOrder(id, display string) *order.Order {
	now := time.Date(2026, 5, 4, 10, 30, 0, 0, time.UTC)
	code := "SAVE1"
	return &order.Order{
		ID:          id,
		DisplayCode: display,
		Items: []pricing.Line{
			{ProductID: "espresso-blend", Name: "Espresso Blend 1kg", Price: decimal.NewFromInt(100000), Quantity: 2},
		},
		Customer:      order.Customer{Email: "ann@example.com", Name: "Ann", Phone: "555-0101", Address: "1 Roast St"},
		PaymentMethod: "cod",
		Subtotal:      decimal.NewFromInt(200000),
		ShippingFee:   decimal.NewFromInt(30000),
		Discount:      decimal.NewFromInt(23000),
		Total:         decimal.NewFromInt(207000),
		DiscountCode:  &code,
		Status:        order.StatusPending,
		PaymentStatus: order.PaymentPending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

func TestOrderRepository(t *testing.T) {
	truncate(t)
	ctx := context.Background()
	repo := NewOrderRepository(testPool)

	seq, err := repo.NextSequence(ctx, 2026)
	require.NoError(t, err)
	assert.Equal(t, 1, seq)

	o := newOrder(order.FormatID(2026, 1), "AB12")
	require.NoError(t, repo.Create(ctx, o))
	require.NoError(t, repo.Create(ctx, newOrder(order.FormatID(2026, 9), "CD34")))
	require.NoError(t, repo.Create(ctx, newOrder(order.FormatID(2025, 40), "EF56")))

	seq, err = repo.NextSequence(ctx, 2026)
	require.NoError(t, err)
	assert.Equal(t, 10, seq)

	err = repo.Create(ctx, newOrder(order.FormatID(2026, 1), "ZZ99"))
	require.ErrorIs(t, err, order.ErrDuplicate)
	err = repo.Create(ctx, newOrder(order.FormatID(2026, 11), "AB12"))
	require.ErrorIs(t, err, order.ErrDuplicate)

	exists, err := repo.DisplayCodeExists(ctx, "AB12")
	require.NoError(t, err)
	assert.True(t, exists)

	got, err := repo.FindByDisplayCode(ctx, "ab12")
	require.NoError(t, err)
	assert.Equal(t, o.ID, got.ID)
	assert.Equal(t, o.Customer, got.Customer)
	require.Len(t, got.Items, 1)
	assert.True(t, o.Items[0].Price.Equal(got.Items[0].Price))
	assert.True(t, o.Total.Equal(got.Total))
	require.NotNil(t, got.DiscountCode)
	assert.Equal(t, "SAVE1", *got.DiscountCode)

	delivered := order.StatusDelivered
	earned := int64(20)
	updated, err := repo.Update(ctx, o.ID, order.Patch{
		Status:       &delivered,
		PointsEarned: &earned,
		UpdatedAt:    o.UpdatedAt.Add(time.Hour),
	})
	require.NoError(t, err)
	assert.Equal(t, order.StatusDelivered, updated.Status)
	assert.Equal(t, order.PaymentPending, updated.PaymentStatus)
	assert.Equal(t, int64(20), updated.PointsEarned)
	assert.True(t, o.Discount.Equal(updated.Discount))

	_, err = repo.FindByID(ctx, "ORD-2026-0404")
	require.ErrorIs(t, err, order.ErrNotFound)
	_, err = repo.Update(ctx, "ORD-2026-0404", order.Patch{UpdatedAt: time.Now()})
	require.ErrorIs(t, err, order.ErrNotFound)
}

func TestDiscountRepository(t *testing.T) {
	truncate(t)
	ctx := context.Background()
	repo := NewDiscountRepository(testPool)

	require.NoError(t, repo.Upsert(ctx, discount.Code{
		Code:     "SAVE1",
		Type:     discount.TypePercent,
		Percent:  decimal.NewNullDecimal(decimal.NewFromInt(10)),
		MaxUses:  2,
		IsActive: true,
	}))

	require.NoError(t, repo.IncrementUsage(ctx, "SAVE1"))
	require.NoError(t, repo.IncrementUsage(ctx, "SAVE1"))
	// The counter is not capped in storage.
	require.NoError(t, repo.IncrementUsage(ctx, "SAVE1"))

	c, err := repo.FindByCode(ctx, "SAVE1")
	require.NoError(t, err)
	assert.Equal(t, discount.TypePercent, c.Type)
	assert.True(t, c.Percent.Valid)
	assert.True(t, decimal.NewFromInt(10).Equal(c.Percent.Decimal))
	assert.Equal(t, 3, c.UsedCount)

	require.NoError(t, repo.Upsert(ctx, discount.Code{Code: "SAVE1", Type: discount.TypeAmount, Amount: decimal.NewFromInt(5000), MaxUses: 5}))
	c, err = repo.FindByCode(ctx, "SAVE1")
	require.NoError(t, err)
	assert.Equal(t, 3, c.UsedCount)
	assert.False(t, c.IsActive)

	_, err = repo.FindByCode(ctx, "NOPE1")
	require.ErrorIs(t, err, discount.ErrNotFound)
	require.ErrorIs(t, repo.IncrementUsage(ctx, "NOPE1"), discount.ErrNotFound)
}

func TestCustomerRepository(t *testing.T) {
	truncate(t)
	ctx := context.Background()
	repo := NewCustomerRepository(testPool)

	require.NoError(t, repo.UpsertCustomer(ctx, loyalty.Account{
		CustomerID: "c1", Email: "Ann@Example.com", CurrentPoints: 10, TotalEarned: 10,
	}, "Ann"))

	now := time.Date(2026, 5, 4, 10, 30, 0, 0, time.UTC)
	entry := func(typ loyalty.EntryType, points int64) loyalty.Entry {
		return loyalty.Entry{OrderID: "ORD-2026-0001", OrderDate: now, Type: typ, Points: points, Description: "test", CreatedAt: now}
	}

	require.NoError(t, repo.Earn(ctx, "ann@example.com", entry(loyalty.EntryEarned, 23)))
	require.NoError(t, repo.Redeem(ctx, "ANN@example.com", entry(loyalty.EntryUsed, 30)))

	err := repo.Redeem(ctx, "ann@example.com", entry(loyalty.EntryUsed, 4))
	require.ErrorIs(t, err, loyalty.ErrInsufficientPoints)
	err = repo.Earn(ctx, "ghost@example.com", entry(loyalty.EntryEarned, 1))
	require.ErrorIs(t, err, loyalty.ErrCustomerNotFound)

	acc, err := repo.FindAccount(ctx, "ann@example.com")
	require.NoError(t, err)
	assert.Equal(t, "c1", acc.CustomerID)
	assert.Equal(t, int64(3), acc.CurrentPoints)
	assert.Equal(t, int64(33), acc.TotalEarned)
	require.Len(t, acc.History, 2)
	assert.Equal(t, loyalty.EntryEarned, acc.History[0].Type)
	assert.Equal(t, loyalty.EntryUsed, acc.History[1].Type)

	_, err = repo.FindAccount(ctx, "ghost@example.com")
	require.ErrorIs(t, err, loyalty.ErrCustomerNotFound)
}

// Concurrent credits must not lose updates: each one is a single increment.
func TestCustomerRepository_ConcurrentEarn(t *testing.T) {
	truncate(t)
	ctx := context.Background()
	repo := NewCustomerRepository(testPool)
	require.NoError(t, repo.UpsertCustomer(ctx, loyalty.Account{CustomerID: "c1", Email: "ann@example.com"}, "Ann"))

	const workers = 20
	var wg sync.WaitGroup
	for i := range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			e := loyalty.Entry{
				OrderID:   order.FormatID(2026, i+1),
				OrderDate: time.Now(),
				Type:      loyalty.EntryEarned,
				Points:    5,
				CreatedAt: time.Now(),
			}
			assert.NoError(t, repo.Earn(ctx, "ann@example.com", e))
		}()
	}
	wg.Wait()

	acc, err := repo.FindAccount(ctx, "ann@example.com")
	require.NoError(t, err)
	assert.Equal(t, int64(workers*5), acc.CurrentPoints)
	assert.Len(t, acc.History, workers)
}
