// Package app wires the service together: config, storage, provider client,
// dispatcher, HTTP server, and graceful shutdown.
package app

import (
	"context"
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"github.com/go-faster/sdk/zctx"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"

	"github.com/xenking/checkout-bridge/internal/domain/payment"
	"github.com/xenking/checkout-bridge/internal/domain/reconcile"
	"github.com/xenking/checkout-bridge/internal/handler"
	"github.com/xenking/checkout-bridge/internal/repository"
	"github.com/xenking/checkout-bridge/internal/stripe"
	"github.com/xenking/checkout-bridge/pkg/health"
	"github.com/xenking/checkout-bridge/pkg/httpmiddleware"
)

// Run creates all dependencies, starts the HTTP server, and handles graceful
// shutdown. It is the single wiring point for the application.
func Run(ctx context.Context, lg *zap.Logger, m *app.Telemetry, cfg *Config) error {
	lg.Info("Initializing", zap.String("addr", cfg.Addr), zap.Bool("test_mode", cfg.Stripe.TestMode))

	// PostgreSQL pool + migrations.
	pool, err := repository.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return errors.Wrap(err, "create db pool")
	}
	defer pool.Close()

	if err := repository.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	// Health probes.
	healthSvc := health.NewTracker()
	healthSvc.Readiness("postgres", 5*time.Second, health.PingCheck(pool))
	healthSvc.Liveness("goroutines", time.Second, health.GoroutineCountCheck(10000))
	healthSvc.Run(ctx, 10*time.Second)
	healthSvc.SetReady(true)

	// Order store, provider client, domain services.
	orders := repository.NewOrderRepository(pool)
	client := stripe.NewClient(stripe.ClientConfig{
		SecretKey: cfg.Stripe.SecretKey(),
		BaseURL:   cfg.Stripe.APIBaseURL,
	})
	payments := payment.NewService(orders, client, payment.Config{
		SuccessURL:                cfg.Stripe.SuccessURL,
		CancelURL:                 cfg.Stripe.CancelURL,
		StatementDescriptorSuffix: cfg.Stripe.StatementDescriptorSuffix,
		StoreTimeout:              cfg.StoreTimeout,
	})
	dispatcher := reconcile.NewDispatcher(orders, cfg.StoreTimeout)

	// HTTP handlers.
	h := handler.New(handler.Config{
		WebhookSecret: cfg.Stripe.WebhookSecret,
		Tolerance:     cfg.Stripe.WebhookTolerance,
	}, payments, dispatcher, orders)

	// The order-facing API is rate limited; the webhook endpoint is not,
	// since throttling provider deliveries only converts them into retries.
	apiMux := http.NewServeMux()
	h.Register(apiMux)
	api := httpmiddleware.Wrap(apiMux,
		httpmiddleware.RateLimit(ctx, httpmiddleware.RateLimitConfig{
			Max:    cfg.RateLimit.Max,
			Window: cfg.RateLimit.Window,
			Skip: func(r *http.Request) bool {
				return r.URL.Path == "/webhooks/stripe"
			},
		}),
	)

	mux := http.NewServeMux()
	mux.HandleFunc("/livez", healthSvc.LiveEndpoint)
	mux.HandleFunc("/readyz", healthSvc.ReadyEndpoint)
	mux.Handle("/", api)

	root := httpmiddleware.Wrap(mux,
		httpmiddleware.Recovery(),
		httpmiddleware.CORS(httpmiddleware.CORSConfig{
			AllowOrigins:     cfg.CORS.Origins,
			AllowHeaders:     []string{"Content-Type", "Authorization", "Stripe-Signature"},
			AllowCredentials: cfg.CORS.AllowCredentials,
			MaxAge:           86400,
		}),
		httpmiddleware.RequestID(),
		httpmiddleware.InjectLogger(zctx.From(ctx)),
		httpmiddleware.LogRequests(),
	)

	server := &http.Server{
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
		Addr:              cfg.Addr,
		Handler: otelhttp.NewHandler(root, "checkout-bridge",
			otelhttp.WithTracerProvider(m.TracerProvider()),
			otelhttp.WithMeterProvider(m.MeterProvider()),
		),
	}

	// Graceful shutdown: wait for context cancellation, drain, then stop.
	shutdownDone := make(chan struct{})
	go func() {
		<-ctx.Done()
		healthSvc.SetReady(false)
		lg.Info("Readiness set to false, draining", zap.Duration("delay", cfg.Graceful.ReadinessDelay))
		time.Sleep(cfg.Graceful.ReadinessDelay)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Graceful.ShutdownTimeout)
		defer cancel()

		lg.Info("Shutting down server", zap.Duration("timeout", cfg.Graceful.ShutdownTimeout))
		if err := server.Shutdown(shutdownCtx); err != nil {
			lg.Error("Server shutdown error", zap.Error(err))
		}
		healthSvc.Stop()
		close(shutdownDone)
	}()

	lg.Info("Server listening", zap.String("addr", cfg.Addr))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "server")
	}
	<-shutdownDone
	return nil
}
