package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/ortegalabs/fieldkeep/internal"
	"github.com/ortegalabs/fieldkeep/internal/auth"
	"github.com/ortegalabs/fieldkeep/internal/domain"
	"github.com/ortegalabs/fieldkeep/internal/geo"
	"github.com/ortegalabs/fieldkeep/internal/handler"
	"github.com/ortegalabs/fieldkeep/internal/middleware"
	"github.com/ortegalabs/fieldkeep/internal/payment"
	"github.com/ortegalabs/fieldkeep/internal/queue"
	"github.com/ortegalabs/fieldkeep/internal/router"
	"github.com/ortegalabs/fieldkeep/internal/routes"
	"github.com/ortegalabs/fieldkeep/internal/service"
	"github.com/ortegalabs/fieldkeep/internal/store"
	"github.com/ortegalabs/fieldkeep/internal/telemetry"
	"github.com/ortegalabs/fieldkeep/internal/webhook"
	"github.com/ortegalabs/fieldkeep/internal/worker"
)

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Load configuration
	cfg, err := internal.NewConfig()
	if err != nil {
		return fmt.Errorf("config initialization failed: %w", err)
	}

	// Configure logger
	logger := internal.NewLogger(os.Stdout, cfg.Env, cfg.LogLevel)

	// Initialize database/sql connection for migrations
	logger.Info("Connecting to database...")
	sqlDB, err := sql.Open("pgx", cfg.DatabaseUrl)
	if err != nil {
		return fmt.Errorf("database connection failed: %w", err)
	}
	defer sqlDB.Close()

	// Verify database connection
	if err := sqlDB.Ping(); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}
	logger.Info("Database connection established")

	// Run migrations
	logger.Info("Running database migrations...")
	if err := internal.RunMigrations(sqlDB); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}
	logger.Info("Database migrations completed successfully")

	// Initialize pgx connection pool for application
	pool, err := pgxpool.New(ctx, cfg.DatabaseUrl)
	if err != nil {
		return fmt.Errorf("failed to create connection pool: %w", err)
	}
	defer pool.Close()

	// Initialize stores
	subscriptions := store.NewPostgresSubscriptionRepository(pool)
	tenants := store.NewPostgresTenantStore(pool)
	deadLetters := store.NewPostgresDeadLetterStore(pool)

	idempotency, err := newIdempotencyStore(cfg, pool)
	if err != nil {
		return err
	}
	logger.Info("Idempotency store initialized", "backend", cfg.Idempotency.Backend)

	// Initialize event queue
	events, err := newEventQueue(cfg)
	if err != nil {
		return err
	}
	defer events.Close()
	logger.Info("Event queue initialized", "backend", cfg.Queue.Backend)

	// Initialize payment processor clients
	clients := map[domain.Processor]payment.Client{
		domain.ProcessorStripe: payment.NewStripeClient(payment.StripeConfig{
			APIKey: cfg.Payments.Stripe.SecretKey,
		}),
		domain.ProcessorMercadoPago: payment.NewMercadoPagoClient(payment.MercadoPagoConfig{
			AccessToken: cfg.Payments.MercadoPago.AccessToken,
		}),
	}

	// Initialize country detection and processor routing
	var locator geo.Locator
	if cfg.Payments.GeoIPEndpoint != "" {
		locator = geo.NewIPAPILocator(cfg.Payments.GeoIPEndpoint, 3*time.Second)
	}
	detector := geo.NewDetector(locator, cfg.Payments.DefaultCountry, logger)
	selector := payment.NewSelector(cfg.Payments.DomesticCountries)
	catalog := buildPlanCatalog(cfg.Payments.Stripe.Prices)

	// Initialize services
	entitlements := service.NewEntitlementUpdater(tenants, logger)
	locks := service.NewKeyedLock()
	lockTimeout := time.Duration(cfg.Payments.LockTimeoutSeconds) * time.Second
	reconciler := service.NewReconciler(subscriptions, idempotency, entitlements, locks, lockTimeout, logger)

	checkoutService := service.NewCheckoutService(
		detector,
		selector,
		clients,
		catalog,
		cfg.Payments.SuccessURL,
		cfg.Payments.CancelURL,
		logger,
	)
	subscriptionService := service.NewSubscriptionService(clients, reconciler, logger)

	// Initialize webhook ingestion
	ingestor := webhook.NewIngestor(map[domain.Processor]webhook.Normalizer{
		domain.ProcessorStripe: webhook.NewStripeNormalizer(cfg.Payments.Stripe.WebhookSecret),
		domain.ProcessorMercadoPago: webhook.NewMercadoPagoNormalizer(
			cfg.Payments.MercadoPago.WebhookSecret,
			cfg.Payments.MercadoPago.AllowUnsigned,
		),
	}, events, logger)

	// Initialize reconciliation worker
	reconcileWorker := worker.New(events, reconciler, deadLetters, worker.Config{
		Concurrency: int(cfg.Worker.Concurrency),
		MaxAttempts: int(cfg.Worker.MaxAttempts),
		BaseBackoff: time.Duration(cfg.Worker.BaseBackoffMs) * time.Millisecond,
		MaxBackoff:  time.Duration(cfg.Worker.MaxBackoffMs) * time.Millisecond,
	}, logger)

	// Initialize token verification
	verifier := auth.NewIntrospectionClient(auth.IntrospectionConfig{
		Endpoint: cfg.Auth.IntrospectionURL,
		APIKey:   cfg.Auth.APIKey,
	})

	paymentHandler := handler.NewPaymentHandler(checkoutService, subscriptionService, ingestor, logger)

	// ==========================================================================
	// Initialize middleware
	// ==========================================================================

	// Initialize Prometheus metrics
	telemetry.InitPaymentMetrics("fieldkeep")
	metrics := middleware.NewMetrics("fieldkeep")

	// Configure security headers
	securityConfig := middleware.DefaultSecurityHeadersConfig()
	if cfg.Env == "dev" {
		securityConfig.ContentSecurityPolicy = ""
		securityConfig.HSTSMaxAge = 0 // Disable HSTS in development
	}

	// Configure rate limiting
	defaultRateLimiter := middleware.NewRateLimiter(middleware.DefaultRateLimiterConfig())
	defer defaultRateLimiter.Stop()

	// ==========================================================================
	// Create router and register routes
	// ==========================================================================

	r := router.New(
		router.Recovery(logger),
		middleware.RequestID,
		metrics.Middleware,
		middleware.SecurityHeaders(securityConfig),
		middleware.MaxBodySize(middleware.DefaultMaxBodySize),
		middleware.Timeout(),
		defaultRateLimiter.Middleware,
		router.Logger(logger),
		middleware.WithClientIP(),
		middleware.WithRequestLogger(logger),
	)

	// Metrics endpoint (no auth required, but should be protected in production via firewall)
	r.Get("/metrics", func(w http.ResponseWriter, req *http.Request) {
		metrics.Handler().ServeHTTP(w, req)
	})

	// Health check endpoint
	r.Get("/health", func(w http.ResponseWriter, req *http.Request) {
		if err := pool.Ping(req.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte("database unreachable"))
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	routes.RegisterPaymentRoutes(r, routes.PaymentDeps{
		Handler:  paymentHandler,
		Verifier: verifier,
	})

	// ==========================================================================
	// Start server and worker
	// ==========================================================================

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("Starting reconciliation worker", "concurrency", cfg.Worker.Concurrency)
		return reconcileWorker.Run(ctx)
	})

	g.Go(func() error {
		logger.Info("Starting server", "address", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		logger.Info("Shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// newIdempotencyStore selects the applied-event store backend.
func newIdempotencyStore(cfg *internal.Config, pool *pgxpool.Pool) (store.IdempotencyStore, error) {
	switch cfg.Idempotency.Backend {
	case "redis":
		opts, err := redis.ParseURL(cfg.Idempotency.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("invalid REDIS_URL: %w", err)
		}
		ttl := time.Duration(cfg.Idempotency.RedisTTLHours) * time.Hour
		return store.NewRedisIdempotencyStore(redis.NewClient(opts), ttl), nil
	case "memory":
		return store.NewMemoryIdempotencyStore(), nil
	default:
		return store.NewPostgresIdempotencyStore(pool), nil
	}
}

// newEventQueue selects the event queue backend.
func newEventQueue(cfg *internal.Config) (queue.EventQueue, error) {
	switch cfg.Queue.Backend {
	case "nats":
		nc, err := nats.Connect(cfg.Queue.NATSURL, nats.Name("fieldkeep-payments"))
		if err != nil {
			return nil, fmt.Errorf("nats connection failed: %w", err)
		}
		q, err := queue.NewNATS(nc, queue.NATSConfig{
			Stream:  cfg.Queue.Stream,
			Subject: cfg.Queue.Subject,
			Durable: cfg.Queue.Durable,
		})
		if err != nil {
			return nil, fmt.Errorf("nats queue setup failed: %w", err)
		}
		return q, nil
	default:
		return queue.NewMemory(int(cfg.Queue.MemoryCapacity)), nil
	}
}

// buildPlanCatalog wires each plan/cycle pair to its processor-specific
// price. Stripe amounts are USD cents; Mercado Pago bills in ARS and
// creates the preapproval from the amount directly, so it carries no
// price reference.
func buildPlanCatalog(prices internal.StripePriceConfig) *service.PlanCatalog {
	catalog := service.NewPlanCatalog()

	catalog.Set(domain.ProcessorStripe, domain.PlanStarter, domain.BillingMonthly,
		service.PlanPricing{PriceRef: prices.StarterMonthly, AmountCents: 2900, Currency: "USD"})
	catalog.Set(domain.ProcessorStripe, domain.PlanStarter, domain.BillingYearly,
		service.PlanPricing{PriceRef: prices.StarterYearly, AmountCents: 29000, Currency: "USD"})
	catalog.Set(domain.ProcessorStripe, domain.PlanProfessional, domain.BillingMonthly,
		service.PlanPricing{PriceRef: prices.ProfessionalMonthly, AmountCents: 7900, Currency: "USD"})
	catalog.Set(domain.ProcessorStripe, domain.PlanProfessional, domain.BillingYearly,
		service.PlanPricing{PriceRef: prices.ProfessionalYearly, AmountCents: 79000, Currency: "USD"})
	catalog.Set(domain.ProcessorStripe, domain.PlanEnterprise, domain.BillingMonthly,
		service.PlanPricing{PriceRef: prices.EnterpriseMonthly, AmountCents: 19900, Currency: "USD"})
	catalog.Set(domain.ProcessorStripe, domain.PlanEnterprise, domain.BillingYearly,
		service.PlanPricing{PriceRef: prices.EnterpriseYearly, AmountCents: 199000, Currency: "USD"})

	catalog.Set(domain.ProcessorMercadoPago, domain.PlanStarter, domain.BillingMonthly,
		service.PlanPricing{AmountCents: 2900000, Currency: "ARS"})
	catalog.Set(domain.ProcessorMercadoPago, domain.PlanStarter, domain.BillingYearly,
		service.PlanPricing{AmountCents: 29000000, Currency: "ARS"})
	catalog.Set(domain.ProcessorMercadoPago, domain.PlanProfessional, domain.BillingMonthly,
		service.PlanPricing{AmountCents: 7900000, Currency: "ARS"})
	catalog.Set(domain.ProcessorMercadoPago, domain.PlanProfessional, domain.BillingYearly,
		service.PlanPricing{AmountCents: 79000000, Currency: "ARS"})
	catalog.Set(domain.ProcessorMercadoPago, domain.PlanEnterprise, domain.BillingMonthly,
		service.PlanPricing{AmountCents: 19900000, Currency: "ARS"})
	catalog.Set(domain.ProcessorMercadoPago, domain.PlanEnterprise, domain.BillingYearly,
		service.PlanPricing{AmountCents: 199000000, Currency: "ARS"})

	return catalog
}

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}
