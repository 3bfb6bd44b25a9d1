// Command seed-db loads demo orders from a JSON file into the database, for
// local development against the Stripe test mode.
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

	"github.com/xenking/checkout-bridge/internal/domain/order"
	"github.com/xenking/checkout-bridge/internal/repository"
)

type orderJSON struct {
	ID            string          `json:"id"`
	Total         decimal.Decimal `json:"total"`
	Currency      string          `json:"currency"`
	CustomerEmail string          `json:"customer_email"`
}

func main() {
	var (
		databaseURL string
		ordersFile  string
	)

	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&ordersFile, "orders-file", "db/seed/orders.json", "path to orders JSON file")
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

	if err := run(ctx, databaseURL, ordersFile); err != nil {
		slog.Error("seed failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("seed completed successfully")
}

func run(ctx context.Context, databaseURL, ordersFile string) error {
	data, err := os.ReadFile(ordersFile)
	if err != nil {
		return errors.Wrap(err, "read orders file")
	}

	var seeds []orderJSON
	if err := json.Unmarshal(data, &seeds); err != nil {
		return errors.Wrap(err, "parse orders file")
	}

	pool, err := repository.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "create db pool")
	}
	defer pool.Close()

	if err := repository.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	orders := repository.NewOrderRepository(pool)
	for _, s := range seeds {
		o := &order.Order{
			ID:            s.ID,
			Total:         s.Total,
			Currency:      s.Currency,
			Status:        order.StatusPending,
			CustomerEmail: s.CustomerEmail,
		}
		if err := orders.Create(ctx, o); err != nil {
			return errors.Wrapf(err, "seed order %s", s.ID)
		}
		slog.Info("seeded order", slog.String("id", s.ID), slog.String("total", s.Total.StringFixed(2)))
	}
	return nil
}
