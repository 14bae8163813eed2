package app

import (
	"context"
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/xenking/merch-checkout/internal/domain/auth"
	"github.com/xenking/merch-checkout/internal/domain/catalog"
	"github.com/xenking/merch-checkout/internal/domain/order"
	"github.com/xenking/merch-checkout/internal/handler"
	"github.com/xenking/merch-checkout/internal/notify"
	"github.com/xenking/merch-checkout/internal/printify"
	"github.com/xenking/merch-checkout/internal/storage/filestore"
	"github.com/xenking/merch-checkout/internal/storage/postgres"
	"github.com/xenking/merch-checkout/internal/storage/redis"
	"github.com/xenking/merch-checkout/pkg/health"
	"github.com/xenking/merch-checkout/pkg/httpmiddleware"
)

const serviceName = "merch-checkout"

// Run creates all dependencies, starts the HTTP server, and handles graceful
// shutdown. It is the single wiring point for the application.
func Run(ctx context.Context, lg *zap.Logger, m *app.Telemetry, cfg *Config) error {
	lg.Info("Initializing",
		zap.String("addr", cfg.Addr),
		zap.String("storage", cfg.Storage.Driver),
		zap.Bool("fulfillment", cfg.Printify.Enabled()),
		zap.Bool("safe_mode", cfg.SafeMode),
	)

	svc, err := newService(ctx, lg, cfg, m.MeterProvider(), m.TracerProvider())
	if err != nil {
		return err
	}
	defer svc.close()

	svc.health.Start(ctx, 10*time.Second)
	svc.health.SetReady(true)

	server := &http.Server{
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      cfg.Timeouts.External + cfg.Timeouts.Store + 10*time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
		Addr:              cfg.Addr,
		Handler:           svc.handler,
	}

	// Graceful shutdown: wait for context cancellation, drain, then stop.
	shutdownDone := make(chan struct{})
	go func() {
		<-ctx.Done()
		svc.health.SetReady(false)
		lg.Info("Readiness set to false, draining", zap.Duration("delay", cfg.Graceful.ReadinessDelay))
		time.Sleep(cfg.Graceful.ReadinessDelay)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Graceful.ShutdownTimeout)
		defer cancel()

		lg.Info("Shutting down server", zap.Duration("timeout", cfg.Graceful.ShutdownTimeout))
		if err := server.Shutdown(shutdownCtx); err != nil {
			lg.Error("Server shutdown error", zap.Error(err))
		}
		svc.health.Stop()
		close(shutdownDone)
	}()

	lg.Info("Server listening", zap.String("addr", cfg.Addr))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "server")
	}
	<-shutdownDone
	lg.Info("Waiting for pending notifications")
	return nil
}

// service is the assembled application without its listener.
type service struct {
	handler http.Handler
	health  *health.Health
	orders  *order.Service
	closers []func()
}

// close waits for pending notifications and releases resources in reverse
// order of acquisition.
func (s *service) close() {
	if s.orders != nil {
		s.orders.Wait()
	}
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
}

func newService(
	ctx context.Context,
	lg *zap.Logger,
	cfg *Config,
	mp metric.MeterProvider,
	tp trace.TracerProvider,
) (_ *service, rerr error) {
	shipping, rates, err := LoadPricing(cfg.PricingFile)
	if err != nil {
		return nil, errors.Wrap(err, "load pricing")
	}

	svc := &service{health: health.New()}
	defer func() {
		if rerr != nil {
			svc.close()
		}
	}()
	svc.health.AddLivenessCheck("goroutines", time.Second, health.GoroutineCountCheck(10000))

	store, err := openStorage(ctx, cfg, svc.health)
	if err != nil {
		return nil, err
	}
	svc.closers = append(svc.closers, store.close)

	var (
		orderOpts   = []order.Option{order.WithMeterProvider(mp)}
		catalogOpts []catalog.Option
		pinger      handler.Pinger
	)

	if cfg.Printify.Enabled() {
		client, err := printify.New(printify.Config{
			BaseURL:  cfg.Printify.BaseURL,
			Token:    cfg.Printify.Token,
			ShopID:   cfg.Printify.ShopID,
			Timeout:  cfg.Printify.Timeout,
			MaxTries: cfg.Printify.MaxTries,
		})
		if err != nil {
			return nil, errors.Wrap(err, "create printify client")
		}
		orderOpts = append(orderOpts, order.WithFulfillment(client))
		catalogOpts = append(catalogOpts, catalog.WithPrimary(client), catalog.WithDetails(client))
		pinger = client
		svc.health.AddReadinessCheck("printify", 10*time.Second, health.PingCheck(client),
			health.Informational(), health.WithThresholds(2, 1))
	}

	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(cfg.Redis.Addr)
		svc.closers = append(svc.closers, func() { _ = rdb.Close() })
		cache := redis.NewCatalogCache(rdb, serviceName)
		catalogOpts = append(catalogOpts, catalog.WithCache(cache, cfg.Redis.CatalogTTL))
		svc.health.AddReadinessCheck("redis", 2*time.Second, health.PingCheck(cache), health.Informational())
	}

	if cfg.SMTP.Host != "" {
		notifier, err := notify.NewSMTPNotifier(notify.SMTPConfig{
			Host:     cfg.SMTP.Host,
			Port:     cfg.SMTP.Port,
			Username: cfg.SMTP.Username,
			Password: cfg.SMTP.Password,
			From:     cfg.SMTP.From,
			ShopName: cfg.SMTP.ShopName,
		})
		if err != nil {
			return nil, errors.Wrap(err, "create smtp notifier")
		}
		orderOpts = append(orderOpts, order.WithNotifier(notifier))
	}

	svc.orders, err = order.NewService(order.Config{
		Shipping:        shipping,
		Rates:           rates,
		SafeMode:        cfg.SafeMode,
		ExternalTimeout: cfg.Timeouts.External,
		StoreTimeout:    cfg.Timeouts.Store,
		NotifyTimeout:   cfg.Timeouts.Notify,
	}, store.orders, orderOpts...)
	if err != nil {
		return nil, errors.Wrap(err, "create order service")
	}

	h := handler.NewHandler(
		handler.Config{BackgroundImage: cfg.BackgroundImage},
		svc.orders,
		catalog.NewService(catalogOpts...),
		pinger,
	)
	securityHandler := handler.NewSecurityHandler(adminKeys(lg, cfg, store), []byte(cfg.APIKeyPepper))

	router := handler.NewRouter(handler.RouterConfig{
		Handler:  h,
		Security: securityHandler,
		Middleware: []httpmiddleware.Middleware{
			httpmiddleware.LogRequests(httpmiddleware.ChiRoute),
			httpmiddleware.Recovery(),
			httpmiddleware.Labeler(httpmiddleware.ChiRoute),
			httpmiddleware.CORS(httpmiddleware.CORSConfig{
				AllowOrigins: cfg.CORS.Origins,
				AllowHeaders: []string{
					"Content-Type", "Authorization",
					handler.APIKeyHeader, httpmiddleware.MaintenanceBypassHeader,
				},
				ExposeHeaders:    []string{httpmiddleware.RequestIDHeader},
				AllowCredentials: cfg.CORS.AllowCredentials,
				MaxAge:           86400,
			}),
		},
		APIMiddleware: []httpmiddleware.Middleware{
			httpmiddleware.Maintenance(httpmiddleware.MaintenanceConfig{
				Enabled:     cfg.Maintenance.Enabled,
				RetryAfter:  cfg.Maintenance.RetryAfter,
				BypassToken: cfg.Maintenance.BypassToken,
			}),
			httpmiddleware.RateLimitWithCleanup(ctx, httpmiddleware.RateLimitConfig{
				Max:        cfg.RateLimit.Max,
				Window:     cfg.RateLimit.Window,
				TrustProxy: cfg.RateLimit.TrustProxy,
			}),
		},
		Live:  svc.health.LiveEndpoint,
		Ready: svc.health.ReadyEndpoint,
	})

	// Route-aware middleware runs inside chi; the rest wraps the router.
	svc.handler = otelhttp.NewHandler(
		httpmiddleware.Wrap(router,
			httpmiddleware.InjectLogger(lg),
			httpmiddleware.RequestID(),
		),
		serviceName,
		otelhttp.WithTracerProvider(tp),
		otelhttp.WithMeterProvider(mp),
	)
	return svc, nil
}

// adminKeys returns the API key lookup for admin routes. The configured
// admin token is consulted before stored keys.
func adminKeys(lg *zap.Logger, cfg *Config, store *storage) auth.Repository {
	var chain auth.Chain
	if cfg.AdminToken != "" {
		chain = append(chain, auth.NewStaticRepository(auth.APIKeyInfo{
			ID:      "admin-token",
			Name:    "configured admin token",
			KeyHash: auth.HashKey([]byte(cfg.APIKeyPepper), cfg.AdminToken),
			Scopes:  []string{auth.ScopeOrdersRead},
		}))
	}
	if store.apikeys != nil {
		chain = append(chain, store.apikeys)
	}
	if len(chain) == 0 {
		lg.Warn("No admin credentials configured, admin endpoints will reject all requests")
	}
	return chain
}

// storage is the opened order store and its optional key repository.
type storage struct {
	orders  order.Repository
	apikeys auth.Repository
	close   func()
}

func openStorage(ctx context.Context, cfg *Config, healthSvc *health.Health) (*storage, error) {
	switch cfg.Storage.Driver {
	case DriverPostgres:
		pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, errors.Wrap(err, "create db pool")
		}
		if err := postgres.RunMigrations(ctx, pool); err != nil {
			pool.Close()
			return nil, errors.Wrap(err, "run migrations")
		}
		healthSvc.AddReadinessCheck("postgres", 5*time.Second, health.PingCheck(pool))
		return &storage{
			orders:  postgres.NewOrderRepository(pool),
			apikeys: postgres.NewAPIKeyRepository(pool),
			close:   pool.Close,
		}, nil
	default:
		repo, err := filestore.NewOrderRepository(cfg.Storage.Dir)
		if err != nil {
			return nil, errors.Wrap(err, "open order dir")
		}
		healthSvc.AddReadinessCheck("orders-dir", 2*time.Second, health.PingCheck(repo))
		return &storage{orders: repo, close: func() {}}, nil
	}
}
