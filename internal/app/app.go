package app

import (
	"context"
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"github.com/go-faster/sdk/zctx"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/beanhouse/internal/domain/discount"
	"github.com/xenking/beanhouse/internal/domain/loyalty"
	"github.com/xenking/beanhouse/internal/domain/order"
	"github.com/xenking/beanhouse/internal/domain/pricing"
	"github.com/xenking/beanhouse/internal/handler"
	"github.com/xenking/beanhouse/internal/notify"
	"github.com/xenking/beanhouse/internal/repository"
	"github.com/xenking/beanhouse/pkg/health"
	"github.com/xenking/beanhouse/pkg/httpmiddleware"
)

const serviceName = "beanhouse-api"

// Server is the assembled application: the HTTP handler plus the resources
// it owns.
type Server struct {
	Handler http.Handler
	Health  *health.Health

	pool *pgxpool.Pool
	rdb  *redis.Client
}

// Close releases the database and Redis connections.
func (s *Server) Close() {
	s.Health.Stop()
	if s.rdb != nil {
		_ = s.rdb.Close()
	}
	s.pool.Close()
}

// New connects to the backing stores, applies migrations, and assembles the
// HTTP handler. Health probes start running on ctx.
func New(ctx context.Context, lg *zap.Logger, tp trace.TracerProvider, mp metric.MeterProvider, cfg *Config) (_ *Server, rerr error) {
	// PostgreSQL pool + migrations.
	pool, err := repository.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, errors.Wrap(err, "create db pool")
	}
	rdb, err := newRedis(cfg.Redis)
	if err != nil {
		pool.Close()
		return nil, errors.Wrap(err, "create redis client")
	}
	defer func() {
		if rerr == nil {
			return
		}
		if rdb != nil {
			_ = rdb.Close()
		}
		pool.Close()
	}()

	if err := checkDependencies(ctx, pool, rdb); err != nil {
		return nil, err
	}
	if err := repository.RunMigrations(ctx, pool); err != nil {
		return nil, errors.Wrap(err, "run migrations")
	}

	// Health check service.
	healthSvc := health.New()
	healthSvc.AddReadinessCheck("postgres", 5*time.Second, health.PingCheck(pool))
	if rdb != nil {
		healthSvc.AddReadinessCheck("redis", 2*time.Second, func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		})
	}
	healthSvc.AddLivenessCheck("goroutines", time.Second, health.GoroutineCountCheck(10000))

	// Repositories.
	orderRepo := repository.NewOrderRepository(pool)
	discountRepo := repository.NewDiscountRepository(pool)
	customerRepo := repository.NewCustomerRepository(pool)

	// Domain services.
	ledger := loyalty.NewLedger(customerRepo, loyalty.NewRules(cfg.LoyaltyRules()))
	orderService, err := order.NewService(
		orderRepo,
		discount.NewValidator(discountRepo),
		ledger,
		pricing.NewCalculator(cfg.PricingRules()),
		newNotifier(lg, rdb, cfg.Redis.Channel),
		order.WithTracerProvider(tp),
		order.WithMeterProvider(mp),
		order.WithNotifyTimeout(cfg.Notify.Timeout),
	)
	if err != nil {
		return nil, errors.Wrap(err, "create order service")
	}

	// HTTP: probes + API routes on one chi router.
	router := handler.Router(
		handler.NewHandler(orderService, ledger),
		healthSvc.LiveEndpoint,
		healthSvc.ReadyEndpoint,
		httpmiddleware.LogRequests(),
	)

	healthSvc.Start(ctx, 10*time.Second)
	healthSvc.SetReady(true)

	return &Server{
		Handler: httpmiddleware.Wrap(router,
			httpmiddleware.Recovery(),
			httpmiddleware.CORS(httpmiddleware.CORSConfig{
				Origins: cfg.CORS.Origins,
				Headers: []string{"Content-Type", httpmiddleware.HeaderRequestID},
				Expose:  []string{httpmiddleware.HeaderRequestID},
				MaxAge:  cfg.CORS.MaxAge,
			}),
			httpmiddleware.RateLimit(ctx, httpmiddleware.RateLimitConfig{
				Max:    cfg.RateLimit.Max,
				Window: cfg.RateLimit.Window,
			}),
			httpmiddleware.RequestID(),
			httpmiddleware.InjectLogger(lg),
			httpmiddleware.Instrument(serviceName, tp, mp),
		),
		Health: healthSvc,
		pool:   pool,
		rdb:    rdb,
	}, nil
}

// Run creates all dependencies, starts the HTTP server, and handles graceful
// shutdown. It is the single wiring point for the application.
func Run(ctx context.Context, lg *zap.Logger, m *app.Telemetry, cfg *Config) error {
	lg.Info("Initializing", zap.String("addr", cfg.Addr))

	srv, err := New(ctx, zctx.From(ctx), m.TracerProvider(), m.MeterProvider(), cfg)
	if err != nil {
		return err
	}
	defer srv.Close()

	server := &http.Server{
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
		Addr:              cfg.Addr,
		Handler:           srv.Handler,
	}

	// Graceful shutdown: wait for context cancellation, drain, then stop.
	shutdownDone := make(chan struct{})
	go func() {
		<-ctx.Done()
		srv.Health.SetReady(false)
		lg.Info("Readiness set to false, draining", zap.Duration("delay", cfg.Graceful.ReadinessDelay))
		time.Sleep(cfg.Graceful.ReadinessDelay)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Graceful.ShutdownTimeout)
		defer cancel()

		lg.Info("Shutting down server", zap.Duration("timeout", cfg.Graceful.ShutdownTimeout))
		if err := server.Shutdown(shutdownCtx); err != nil {
			lg.Error("Server shutdown error", zap.Error(err))
		}
		close(shutdownDone)
	}()

	lg.Info("Server listening", zap.String("addr", cfg.Addr))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "server")
	}
	<-shutdownDone
	return nil
}

// newRedis returns nil when no URL is configured.
func newRedis(cfg RedisConfig) (*redis.Client, error) {
	if cfg.URL == "" {
		return nil, nil
	}
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, errors.Wrap(err, "parse redis url")
	}
	return redis.NewClient(opts), nil
}

func newNotifier(lg *zap.Logger, rdb *redis.Client, channel string) order.Notifier {
	if rdb == nil {
		lg.Info("Redis not configured, order confirmations are logged only")
		return notify.NewLogNotifier(lg)
	}
	return notify.NewRedisNotifier(rdb, channel)
}

// checkDependencies pings the backing stores concurrently so startup fails
// fast on a bad URL.
func checkDependencies(ctx context.Context, pool *pgxpool.Pool, rdb *redis.Client) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return errors.Wrap(pool.Ping(ctx), "ping postgres")
	})
	if rdb != nil {
		g.Go(func() error {
			return errors.Wrap(rdb.Ping(ctx).Err(), "ping redis")
		})
	}
	return g.Wait()
}
