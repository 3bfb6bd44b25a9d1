// Command event-backfill replays a provider event export against the local
// reconciliation state machine. Use it to catch up orders after webhook
// delivery outages: the dispatcher is idempotent, so replaying events that
// were already applied is harmless.
//
// Export files are JSON lines (one event per line), optionally gzipped. A
// bloom filter over the known order ids skips events that definitely do not
// reference a local order without touching the database; the filter has no
// false negatives, so nothing applicable is skipped.
package main

import (
	"bufio"
	"context"
	"flag"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5/pgxpool"
	pgzip "github.com/klauspost/pgzip"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/checkout-bridge/internal/domain/reconcile"
	"github.com/xenking/checkout-bridge/internal/repository"
	"github.com/xenking/checkout-bridge/internal/stripe"
)

const bloomFPR = 0.001

type counters struct {
	applied  atomic.Int64
	noop     atomic.Int64
	skipped  atomic.Int64
	ignored  atomic.Int64
	failures atomic.Int64
}

func main() {
	var (
		databaseURL   string
		webhookSecret string
	)

	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&webhookSecret, "webhook-secret", "", "webhook signing secret (or BRIDGE_STRIPE_WEBHOOK_SECRET env)")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}
	if webhookSecret == "" {
		webhookSecret = os.Getenv("BRIDGE_STRIPE_WEBHOOK_SECRET")
	}
	if webhookSecret == "" {
		slog.Error("webhook secret is required: set --webhook-secret or BRIDGE_STRIPE_WEBHOOK_SECRET")
		os.Exit(1)
	}

	files := flag.Args()
	if len(files) == 0 {
		slog.Error("no export files given")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, databaseURL, webhookSecret, files); err != nil {
		slog.Error("backfill failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run(ctx context.Context, databaseURL, webhookSecret string, files []string) error {
	pool, err := repository.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "create db pool")
	}
	defer pool.Close()

	filter, err := buildOrderFilter(ctx, pool)
	if err != nil {
		return errors.Wrap(err, "build order id filter")
	}

	orders := repository.NewOrderRepository(pool)
	dispatcher := reconcile.NewDispatcher(orders, 10*time.Second)

	var c counters
	g, ctx := errgroup.WithContext(ctx)
	for _, file := range files {
		g.Go(func() error {
			return replayFile(ctx, file, webhookSecret, filter, dispatcher, &c)
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	slog.Info("backfill completed",
		slog.Int64("applied", c.applied.Load()),
		slog.Int64("noop", c.noop.Load()),
		slog.Int64("skipped", c.skipped.Load()),
		slog.Int64("ignored", c.ignored.Load()),
		slog.Int64("failures", c.failures.Load()),
	)
	return nil
}

// buildOrderFilter loads every order id into a bloom filter sized for the
// current table.
func buildOrderFilter(ctx context.Context, pool *pgxpool.Pool) (*bloom.BloomFilter, error) {
	var count uint
	if err := pool.QueryRow(ctx, `SELECT count(*) FROM orders`).Scan(&count); err != nil {
		return nil, errors.Wrap(err, "count orders")
	}
	if count == 0 {
		count = 1
	}
	filter := bloom.NewWithEstimates(count, bloomFPR)

	rows, err := pool.Query(ctx, `SELECT id FROM orders`)
	if err != nil {
		return nil, errors.Wrap(err, "list order ids")
	}
	defer rows.Close()
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, errors.Wrap(err, "scan order id")
		}
		filter.AddString(id)
	}
	return filter, rows.Err()
}

// replayFile streams one export file line by line and dispatches every event
// that may reference a local order. Each line is re-signed with the webhook
// secret so it goes through the exact verification and parsing path of a live
// delivery.
func replayFile(
	ctx context.Context,
	file, webhookSecret string,
	filter *bloom.BloomFilter,
	dispatcher *reconcile.Dispatcher,
	c *counters,
) error {
	f, err := os.Open(file)
	if err != nil {
		return errors.Wrapf(err, "open %s", file)
	}
	defer f.Close()

	var r io.Reader = f
	if strings.EqualFold(filepath.Ext(file), ".gz") {
		gz, err := pgzip.NewReader(f)
		if err != nil {
			return errors.Wrapf(err, "gzip %s", file)
		}
		defer gz.Close()
		r = gz
	}

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 1<<20), 16<<20)
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		sig := stripe.SignPayload(line, webhookSecret, time.Now())
		ev, err := stripe.ConstructEvent(line, sig, webhookSecret, 0)
		if err != nil {
			c.failures.Add(1)
			slog.Warn("unparseable event line", slog.String("file", file), slog.String("error", err.Error()))
			continue
		}

		orderID, ok := eventOrderID(ev)
		if ok && !filter.TestString(orderID) {
			c.skipped.Add(1)
			continue
		}

		outcome, err := dispatcher.Dispatch(ctx, ev)
		if err != nil {
			return errors.Wrapf(err, "dispatch event %s", ev.ID)
		}
		switch outcome {
		case reconcile.OutcomeApplied:
			c.applied.Add(1)
		case reconcile.OutcomeAlreadyApplied:
			c.noop.Add(1)
		case reconcile.OutcomeOrderNotFound:
			c.skipped.Add(1)
		default:
			c.ignored.Add(1)
		}
	}
	return scanner.Err()
}

// eventOrderID extracts the correlation key without applying the event.
func eventOrderID(ev stripe.Event) (string, bool) {
	switch ev.Type {
	case stripe.EventCheckoutSessionCompleted:
		if s, err := ev.CheckoutSession(); err == nil && s.Metadata.OrderID != "" {
			return string(s.Metadata.OrderID), true
		}
	case stripe.EventChargeRefunded:
		if c, err := ev.Charge(); err == nil && c.Metadata.OrderID != "" {
			return string(c.Metadata.OrderID), true
		}
	case stripe.EventPaymentIntentFailed:
		if p, err := ev.PaymentIntent(); err == nil && p.Metadata.OrderID != "" {
			return string(p.Metadata.OrderID), true
		}
	}
	return "", false
}
