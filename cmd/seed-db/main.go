// Command seed-db loads discount codes and loyalty customers into the database.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"log/slog"
	"os"
	"os/signal"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/beanhouse/internal/domain/discount"
	"github.com/xenking/beanhouse/internal/domain/loyalty"
	"github.com/xenking/beanhouse/internal/repository"
)

type discountCodeJSON struct {
	Code    string           `json:"code"`
	Type    discount.Type    `json:"type"`
	Percent *decimal.Decimal `json:"percent"`
	Amount  decimal.Decimal  `json:"amount"`
	MaxUses int              `json:"maxUses"`
	Active  bool             `json:"active"`
}

type customerJSON struct {
	ID     string `json:"id"`
	Email  string `json:"email"`
	Name   string `json:"name"`
	Points int64  `json:"points"`
}

type seedFile struct {
	DiscountCodes []discountCodeJSON `json:"discountCodes"`
	Customers     []customerJSON     `json:"customers"`
}

func main() {
	var (
		databaseURL string
		seedPath    string
	)

	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&seedPath, "seed-file", "db/seed/seed.json", "path to seed JSON file")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, databaseURL, seedPath); err != nil {
		slog.Error("seed failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("seed completed successfully")
}

func run(ctx context.Context, databaseURL, seedPath string) error {
	slog.Info("reading seed file", slog.String("path", seedPath))

	data, err := os.ReadFile(seedPath)
	if err != nil {
		return errors.Wrap(err, "read seed file")
	}

	var seed seedFile
	if err := json.Unmarshal(data, &seed); err != nil {
		return errors.Wrap(err, "parse seed JSON")
	}

	slog.Info("connecting to database")

	pool, err := repository.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	slog.Info("running migrations")

	if err := repository.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	if err := seedDiscountCodes(ctx, repository.NewDiscountRepository(pool), seed.DiscountCodes); err != nil {
		return errors.Wrap(err, "seed discount codes")
	}

	if err := seedCustomers(ctx, repository.NewCustomerRepository(pool), seed.Customers); err != nil {
		return errors.Wrap(err, "seed customers")
	}

	return nil
}

func seedDiscountCodes(ctx context.Context, repo *repository.DiscountRepository, codes []discountCodeJSON) error {
	slog.Info("upserting discount codes", slog.Int("count", len(codes)))

	for _, c := range codes {
		code, err := discount.Normalize(c.Code)
		if err != nil {
			return errors.Wrapf(err, "discount code %q", c.Code)
		}

		var percent decimal.NullDecimal
		if c.Percent != nil {
			percent = decimal.NewNullDecimal(*c.Percent)
		}

		if err := repo.Upsert(ctx, discount.Code{
			Code:     code,
			Type:     c.Type,
			Percent:  percent,
			Amount:   c.Amount,
			MaxUses:  c.MaxUses,
			IsActive: c.Active,
		}); err != nil {
			return errors.Wrapf(err, "upsert discount code %s", code)
		}

		slog.Info("upserted discount code", slog.String("code", code), slog.String("type", string(c.Type)))
	}

	return nil
}

func seedCustomers(ctx context.Context, repo *repository.CustomerRepository, customers []customerJSON) error {
	slog.Info("upserting customers", slog.Int("count", len(customers)))

	for _, c := range customers {
		if err := repo.UpsertCustomer(ctx, loyalty.Account{
			CustomerID:    c.ID,
			Email:         c.Email,
			CurrentPoints: c.Points,
			TotalEarned:   c.Points,
		}, c.Name); err != nil {
			return errors.Wrapf(err, "upsert customer %s", c.ID)
		}

		slog.Info("upserted customer", slog.String("id", c.ID), slog.String("email", c.Email))
	}

	return nil
}
