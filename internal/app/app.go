package app

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/xenking/orderflow/internal/domain/auth"
	"github.com/xenking/orderflow/internal/domain/coupon"
	"github.com/xenking/orderflow/internal/domain/order"
	"github.com/xenking/orderflow/internal/events"
	"github.com/xenking/orderflow/internal/handler"
	"github.com/xenking/orderflow/internal/storage/postgres"
	"github.com/xenking/orderflow/internal/storage/redis"
	"github.com/xenking/orderflow/pkg/health"
	"github.com/xenking/orderflow/pkg/httpmiddleware"
)

const serviceName = "orderflow"

// Run creates all dependencies, starts the HTTP server, and handles graceful
// shutdown. It is the single wiring point for the application.
func Run(ctx context.Context, lg *zap.Logger, m *app.Telemetry, cfg *Config) error {
	lg.Info("Initializing",
		zap.String("addr", cfg.Addr),
		zap.String("events", cfg.Events.Backend),
	)

	// PostgreSQL pool + migrations.
	pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return errors.Wrap(err, "create db pool")
	}
	defer pool.Close()

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	healthSvc := health.New()
	healthSvc.Register(health.Liveness, health.Check{
		Name: "goroutines",
		Func: health.GoroutineCountCheck(10000),
	})

	// Idempotency keys are optional; without Redis every create is new.
	var idem order.IdempotencyStore
	if cfg.Redis.Addr != "" {
		rdb, err := redis.NewClient(ctx, redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err != nil {
			return errors.Wrap(err, "connect redis")
		}
		defer func() { _ = rdb.Close() }()

		idem = redis.NewIdempotencyStore(rdb, cfg.Redis.IdempotencyTTL, cfg.Redis.PendingTTL)
		healthSvc.Register(health.Readiness, health.Check{
			Name:    "redis",
			Timeout: 2 * time.Second,
			Func: func(ctx context.Context) error {
				return rdb.Ping(ctx).Err()
			},
		})
	}

	publisher, err := newPublisher(cfg.Events)
	if err != nil {
		return errors.Wrap(err, "create event publisher")
	}
	if c, ok := publisher.(io.Closer); ok {
		defer func() {
			if err := c.Close(); err != nil {
				lg.Warn("Close event publisher", zap.Error(err))
			}
		}()
	}

	srv, err := NewServer(cfg, Options{
		Pool:           pool,
		Idempotency:    idem,
		Publisher:      publisher,
		Health:         healthSvc,
		Logger:         lg,
		TracerProvider: m.TracerProvider(),
		MeterProvider:  m.MeterProvider(),
		Registerer:     prometheus.DefaultRegisterer,
		Gatherer:       prometheus.DefaultGatherer,
	})
	if err != nil {
		return err
	}
	go srv.Limiter.Run(ctx)

	server := &http.Server{
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
		Addr:              cfg.Addr,
		Handler:           srv.Handler,
	}

	healthSvc.Start(ctx, 10*time.Second)
	healthSvc.SetReady(true)

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

// newPublisher returns the configured event publisher, or nil when events
// are disabled.
func newPublisher(cfg EventsConfig) (order.Publisher, error) {
	switch cfg.Backend {
	case EventsKafka:
		return events.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic, serviceName), nil
	case EventsAMQP:
		p, err := events.NewAMQPPublisher(cfg.AMQP.URL, cfg.AMQP.Exchange, serviceName)
		if err != nil {
			return nil, errors.Wrap(err, "amqp")
		}
		return p, nil
	default:
		return nil, nil
	}
}

// Options are the connections and telemetry NewServer builds on.
type Options struct {
	Pool        *pgxpool.Pool
	Idempotency order.IdempotencyStore
	Publisher   order.Publisher
	// Health receives the postgres readiness check. A new one is created
	// when nil.
	Health *health.Health

	Logger         *zap.Logger
	TracerProvider trace.TracerProvider
	MeterProvider  metric.MeterProvider
	Registerer     prometheus.Registerer
	Gatherer       prometheus.Gatherer
}

// Server is the assembled HTTP surface.
type Server struct {
	Handler http.Handler
	Health  *health.Health
	Limiter *httpmiddleware.RateLimiter
}

// NewServer wires repositories, the order service and the HTTP stack:
// probes, /metrics and the /api routes.
func NewServer(cfg *Config, opts Options) (*Server, error) {
	healthSvc := opts.Health
	if healthSvc == nil {
		healthSvc = health.New()
	}
	healthSvc.Register(health.Readiness, health.Check{
		Name:    "postgres",
		Timeout: 5 * time.Second,
		Func:    health.PingCheck("postgres", opts.Pool),
	})

	// Repositories.
	pool := opts.Pool
	productRepo := postgres.NewProductRepository(pool)
	couponRepo := postgres.NewCouponRepository(pool)

	// Domain services.
	orderService, err := order.NewService(order.Deps{
		Ledger:         postgres.NewLedger(pool),
		Orders:         postgres.NewOrderRepository(pool),
		History:        postgres.NewHistoryRepository(pool),
		Payments:       postgres.NewPaymentRepository(pool),
		Numbers:        postgres.NewNumberSequence(pool, cfg.OrderNumberPrefix),
		Publisher:      opts.Publisher,
		Idempotency:    opts.Idempotency,
		PlaceTimeout:   cfg.WriteTimeout,
		TracerProvider: opts.TracerProvider,
		MeterProvider:  opts.MeterProvider,
	})
	if err != nil {
		return nil, errors.Wrap(err, "create order service")
	}

	// HTTP handlers.
	h := handler.NewHandler(orderService, coupon.NewRepoValidator(couponRepo), productRepo)
	security := handler.NewSecurityHandler(auth.NewVerifier([]byte(cfg.Auth.JWTSecret), cfg.Auth.Issuer))

	limiter := httpmiddleware.NewRateLimiter(httpmiddleware.RateLimitConfig{
		Max:    cfg.RateLimit.Max,
		Window: cfg.RateLimit.Window,
		Key:    handler.RateLimitKey,
	})
	httpMetrics := httpmiddleware.NewMetrics(opts.Registerer)

	api := h.Router(
		httpmiddleware.LogRequests(),
		httpMetrics.Middleware(),
		security.Authenticate,
		limiter.Middleware(),
	)

	// Mux: probes, metrics and the API on one server.
	mux := http.NewServeMux()
	mux.HandleFunc("/livez", healthSvc.LiveEndpoint)
	mux.HandleFunc("/readyz", healthSvc.ReadyEndpoint)
	mux.Handle("/metrics", promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{}))
	mux.Handle("/api/", api)

	var otelOpts []otelhttp.Option
	if opts.TracerProvider != nil {
		otelOpts = append(otelOpts, otelhttp.WithTracerProvider(opts.TracerProvider))
	}
	if opts.MeterProvider != nil {
		otelOpts = append(otelOpts, otelhttp.WithMeterProvider(opts.MeterProvider))
	}

	lg := opts.Logger
	if lg == nil {
		lg = zap.NewNop()
	}

	return &Server{
		Handler: httpmiddleware.Wrap(
			otelhttp.NewHandler(mux, serviceName, otelOpts...),
			httpmiddleware.Recovery(),
			httpmiddleware.RequestID(),
			httpmiddleware.InjectLogger(lg),
			httpmiddleware.CORS(httpmiddleware.CORSConfig{
				Origins:          cfg.CORS.Origins,
				AllowCredentials: cfg.CORS.AllowCredentials,
				MaxAge:           86400,
			}),
		),
		Health:  healthSvc,
		Limiter: limiter,
	}, nil
}
