package di

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/pubsub"
	gcs "cloud.google.com/go/storage"
	firebase "firebase.google.com/go/v4"
	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	"github.com/itamarnascimento/shop-dash-catalogue/internal/payments"
	"github.com/itamarnascimento/shop-dash-catalogue/internal/platform/config"
	pfirestore "github.com/itamarnascimento/shop-dash-catalogue/internal/platform/firestore"
	"github.com/itamarnascimento/shop-dash-catalogue/internal/platform/jobs"
	"github.com/itamarnascimento/shop-dash-catalogue/internal/platform/observability"
	"github.com/itamarnascimento/shop-dash-catalogue/internal/platform/storage"
	"github.com/itamarnascimento/shop-dash-catalogue/internal/repositories"
	firestoreRepo "github.com/itamarnascimento/shop-dash-catalogue/internal/repositories/firestore"
	"github.com/itamarnascimento/shop-dash-catalogue/internal/repositories/postgres"
	"github.com/itamarnascimento/shop-dash-catalogue/internal/repositories/rediscache"
	"github.com/itamarnascimento/shop-dash-catalogue/internal/services"
)

const (
	firestoreCheckTimeout = 1500 * time.Millisecond
	postgresCheckTimeout  = time.Second
	redisCheckTimeout     = 500 * time.Millisecond
	redisCheckName        = "redis"
)

// Services bundles the service-layer contracts that handlers rely upon. Checkout and Reconciler
// stay nil when no payment processor is configured.
type Services struct {
	Carts      services.CartSessions
	Coupons    services.CouponService
	Checkout   services.CheckoutService
	Reconciler services.PaymentReconciler
	Orders     services.OrderService
	System     services.SystemService
}

// Container wires repositories, services, and background infrastructure for runtime use.
type Container struct {
	Config       config.Config
	Repositories repositories.Registry
	Services     Services
	// Webhooks is nil when no webhook signing secret is configured.
	Webhooks *payments.StripeWebhookVerifier

	cartSync *services.CartSyncAdapter
	closers  []func(context.Context) error
}

// Option customises container construction.
type Option func(*containerOptions)

type containerOptions struct {
	logger   *zap.Logger
	firebase *firebase.App
	clock    func() time.Time
	idGen    func() string
}

// WithLogger sets the base logger services log through.
func WithLogger(logger *zap.Logger) Option {
	return func(o *containerOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithFirebaseApp shares an initialised Firebase app, used for FCM notifications.
func WithFirebaseApp(app *firebase.App) Option {
	return func(o *containerOptions) {
		o.firebase = app
	}
}

// WithClock overrides the clock handed to services.
func WithClock(clock func() time.Time) Option {
	return func(o *containerOptions) {
		if clock != nil {
			o.clock = clock
		}
	}
}

// NewContainer constructs the runtime dependencies on top of reg. The container takes ownership
// of reg and closes it on Close.
func NewContainer(ctx context.Context, cfg config.Config, reg repositories.Registry, opts ...Option) (*Container, error) {
	if reg == nil {
		return nil, errors.New("repositories registry is required")
	}
	options := containerOptions{
		logger: zap.NewNop(),
		clock:  time.Now,
		idGen:  func() string { return ulid.Make().String() },
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&options)
		}
	}

	c := &Container{Config: cfg, Repositories: reg}
	if err := c.buildServices(ctx, options); err != nil {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = c.Close(closeCtx)
		return nil, err
	}
	return c, nil
}

// Close drains the cart write-behind queue, then releases notification, storage and repository clients.
func (c *Container) Close(ctx context.Context) error {
	if c == nil {
		return nil
	}
	var errs []error
	if c.cartSync != nil {
		if err := c.cartSync.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("close cart sync: %w", err))
		}
	}
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if c.Repositories != nil {
		if err := c.Repositories.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("close repositories: %w", err))
		}
	}
	return errors.Join(errs...)
}

func (c *Container) buildServices(ctx context.Context, opts containerOptions) error {
	cfg := c.Config
	reg := c.Repositories
	logger := opts.logger

	system, err := services.NewSystemService(services.SystemServiceDeps{
		HealthRepository: reg.Health(),
		Clock:            opts.clock,
		OptionalChecks:   []string{redisCheckName},
	})
	if err != nil {
		return fmt.Errorf("build system service: %w", err)
	}
	c.Services.System = system

	coupons, err := services.NewCouponService(services.CouponServiceDeps{
		Coupons: reg.Coupons(),
		Clock:   opts.clock,
		IDGen:   opts.idGen,
		Logger:  observability.ServiceLogger(logger, "coupons"),
	})
	if err != nil {
		return fmt.Errorf("build coupon service: %w", err)
	}
	c.Services.Coupons = coupons

	cartSync, err := services.NewCartSyncAdapter(services.CartSyncDeps{
		Carts:     reg.Carts(),
		Workers:   cfg.Cart.SyncWorkers,
		QueueSize: cfg.Cart.SyncQueueSize,
		Timeout:   cfg.Cart.SyncTimeout,
		Logger:    observability.ServiceLogger(logger, "cart_sync"),
	})
	if err != nil {
		return fmt.Errorf("build cart sync adapter: %w", err)
	}
	c.cartSync = cartSync

	carts, err := services.NewCartService(services.CartServiceDeps{
		Sync:       cartSync,
		Coupons:    coupons,
		SessionTTL: cfg.Cart.SessionTTL,
		Clock:      opts.clock,
		Logger:     observability.ServiceLogger(logger, "cart"),
	})
	if err != nil {
		return fmt.Errorf("build cart service: %w", err)
	}
	c.Services.Carts = carts

	notifier, err := c.buildNotifier(ctx, opts)
	if err != nil {
		return err
	}
	reports, err := c.buildReportStore(ctx)
	if err != nil {
		return err
	}
	orderDeps := services.OrderServiceDeps{
		Orders:        reg.Orders(),
		NotifyTimeout: cfg.Notifications.Timeout,
		Clock:         opts.clock,
		IDGen:         opts.idGen,
		Logger:        observability.ServiceLogger(logger, "orders"),
	}
	if notifier != nil {
		orderDeps.Notifier = notifier
	}
	if reports != nil {
		orderDeps.Reports = reports
	}
	orders, err := services.NewOrderService(orderDeps)
	if err != nil {
		return fmt.Errorf("build order service: %w", err)
	}
	c.Services.Orders = orders

	if secret := strings.TrimSpace(cfg.PSP.StripeWebhookSecret); secret != "" {
		verifier, err := payments.NewStripeWebhookVerifier(secret)
		if err != nil {
			return fmt.Errorf("build webhook verifier: %w", err)
		}
		c.Webhooks = verifier
	}

	if strings.TrimSpace(cfg.PSP.StripeAPIKey) == "" {
		logger.Warn("payments: stripe api key not configured; checkout disabled")
		return nil
	}
	manager, err := buildPaymentManager(cfg.PSP, logger, opts.clock)
	if err != nil {
		return err
	}

	checkout, err := services.NewCheckoutService(services.CheckoutServiceDeps{
		Orders:     reg.Orders(),
		Coupons:    coupons,
		Redeemer:   reg.Coupons(),
		Carts:      carts,
		Payments:   manager,
		Currency:   cfg.PSP.Currency,
		SuccessURL: cfg.PSP.SuccessURL,
		CancelURL:  cfg.PSP.CancelURL,
		Clock:      opts.clock,
		IDGen:      opts.idGen,
		Logger:     observability.ServiceLogger(logger, "checkout"),
	})
	if err != nil {
		return fmt.Errorf("build checkout service: %w", err)
	}
	c.Services.Checkout = checkout

	reconciler, err := services.NewPaymentReconciler(services.PaymentReconcilerDeps{
		Orders:         reg.Orders(),
		Coupons:        reg.Coupons(),
		Carts:          carts,
		Payments:       manager,
		Currency:       cfg.PSP.Currency,
		Timeout:        cfg.Checkout.ReconcileTimeout,
		SweepBatchSize: cfg.Checkout.SweepBatchSize,
		Clock:          opts.clock,
		IDGen:          opts.idGen,
		Logger:         observability.ServiceLogger(logger, "reconciler"),
	})
	if err != nil {
		return fmt.Errorf("build payment reconciler: %w", err)
	}
	c.Services.Reconciler = reconciler
	return nil
}

func (c *Container) buildNotifier(ctx context.Context, opts containerOptions) (services.Notifier, error) {
	cfg := c.Config
	switch cfg.Notifications.Transport {
	case config.NotifyTransportPubSub:
		projectID := strings.TrimSpace(cfg.Firebase.ProjectID)
		client, err := pubsub.NewClient(ctx, projectID)
		if err != nil {
			return nil, fmt.Errorf("build pubsub client: %w", err)
		}
		topic := client.Topic(cfg.Notifications.Topic)
		c.closers = append(c.closers, func(context.Context) error {
			topic.Stop()
			return client.Close()
		})
		notifier, err := jobs.NewPubSubNotifier(topic)
		if err != nil {
			return nil, fmt.Errorf("build pubsub notifier: %w", err)
		}
		return notifier, nil
	case config.NotifyTransportFCM:
		if opts.firebase == nil {
			return nil, errors.New("fcm notifications require a firebase app")
		}
		messagingClient, err := opts.firebase.Messaging(ctx)
		if err != nil {
			return nil, fmt.Errorf("build fcm client: %w", err)
		}
		notifier, err := jobs.NewFCMNotifier(messagingClient)
		if err != nil {
			return nil, fmt.Errorf("build fcm notifier: %w", err)
		}
		return notifier, nil
	default:
		return nil, nil
	}
}

func (c *Container) buildReportStore(ctx context.Context) (*storage.GCSStore, error) {
	bucket := strings.TrimSpace(c.Config.Storage.ExportsBucket)
	if bucket == "" {
		return nil, nil
	}
	client, err := gcs.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("build storage client: %w", err)
	}
	c.closers = append(c.closers, func(context.Context) error { return client.Close() })
	store, err := storage.NewGCSStore(client, bucket)
	if err != nil {
		return nil, fmt.Errorf("build report store: %w", err)
	}
	return store, nil
}

func buildPaymentManager(cfg config.PSPConfig, logger *zap.Logger, clock func() time.Time) (*payments.Manager, error) {
	stripeProvider, err := payments.NewStripeProvider(payments.StripeProviderConfig{
		APIKey:             cfg.StripeAPIKey,
		Logger:             payments.StripeLogger(observability.ServiceLogger(logger, "payments")),
		Clock:              clock,
		BreakerFailures:    cfg.BreakerFailures,
		BreakerOpenTimeout: cfg.BreakerOpenTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("build stripe provider: %w", err)
	}
	manager, err := payments.NewManager(map[string]payments.Provider{
		"stripe": stripeProvider,
	}, payments.WithCurrencyRoutes(map[string]string{cfg.Currency: "stripe"}))
	if err != nil {
		return nil, fmt.Errorf("build payment manager: %w", err)
	}
	return manager, nil
}

// OpenRegistry connects the configured store backend, fronts cart reads with Redis when an
// address is configured, and registers a readiness probe per dependency.
func OpenRegistry(ctx context.Context, cfg config.Config, logger *zap.Logger) (repositories.Registry, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	var (
		parts  repositories.RegistryParts
		checks []repositories.DependencyCheck
	)
	fail := func(err error) (repositories.Registry, error) {
		for i := len(parts.Closers) - 1; i >= 0; i-- {
			_ = parts.Closers[i](ctx)
		}
		return nil, err
	}

	switch cfg.Store.Backend {
	case config.StoreBackendPostgres:
		db, err := postgres.Open(ctx, cfg.Store)
		if err != nil {
			return fail(err)
		}
		parts.Closers = append(parts.Closers, func(context.Context) error { return db.Close() })
		if cfg.Store.AutoMigrate {
			if err := postgres.Migrate(db, observability.NewPrintfAdapter(logger.Named("migrate"))); err != nil {
				return fail(err)
			}
		}
		carts, err := postgres.NewCartRepository(db)
		if err != nil {
			return fail(err)
		}
		coupons, err := postgres.NewCouponRepository(db)
		if err != nil {
			return fail(err)
		}
		orders, err := postgres.NewOrderRepository(db)
		if err != nil {
			return fail(err)
		}
		parts.Carts, parts.Coupons, parts.Orders = carts, coupons, orders
		checks = append(checks, repositories.DependencyCheck{
			Name:    "postgres",
			Timeout: postgresCheckTimeout,
			Check:   db.PingContext,
		})
	default:
		provider := pfirestore.NewProvider(cfg.Firestore)
		parts.Closers = append(parts.Closers, provider.Close)
		carts, err := firestoreRepo.NewCartRepository(provider)
		if err != nil {
			return fail(err)
		}
		coupons, err := firestoreRepo.NewCouponRepository(provider)
		if err != nil {
			return fail(err)
		}
		orders, err := firestoreRepo.NewOrderRepository(provider)
		if err != nil {
			return fail(err)
		}
		parts.Carts, parts.Coupons, parts.Orders = carts, coupons, orders
		checks = append(checks, repositories.DependencyCheck{
			Name:    "firestore",
			Timeout: firestoreCheckTimeout,
			Check:   provider.Ping,
		})
	}

	if strings.TrimSpace(cfg.Redis.Addr) != "" {
		client := rediscache.NewClient(cfg.Redis)
		parts.Closers = append(parts.Closers, func(context.Context) error { return client.Close() })
		cached, err := rediscache.NewCartRepository(parts.Carts, client,
			rediscache.WithTTL(cfg.Redis.CartTTL),
			rediscache.WithLogger(observability.ServiceLogger(logger, "cart_cache")),
		)
		if err != nil {
			return fail(err)
		}
		parts.Carts = cached
		checks = append(checks, repositories.DependencyCheck{
			Name:    redisCheckName,
			Timeout: redisCheckTimeout,
			Check: func(ctx context.Context) error {
				return client.Ping(ctx).Err()
			},
		})
	}

	health, err := repositories.NewDependencyHealthRepository(checks)
	if err != nil {
		return fail(err)
	}
	parts.Health = health

	reg, err := repositories.NewRegistry(parts)
	if err != nil {
		return fail(err)
	}
	return reg, nil
}
