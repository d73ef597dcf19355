package main

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"golang.org/x/time/rate"

	"github.com/platinummonkey/rebill/pkg/async"
	"github.com/platinummonkey/rebill/pkg/billing"
	"github.com/platinummonkey/rebill/pkg/config"
	"github.com/platinummonkey/rebill/pkg/cycle"
	"github.com/platinummonkey/rebill/pkg/gateway"
	"github.com/platinummonkey/rebill/pkg/httputil"
	"github.com/platinummonkey/rebill/pkg/notify"
	"github.com/platinummonkey/rebill/pkg/observability"
	"github.com/platinummonkey/rebill/pkg/report"
	"github.com/platinummonkey/rebill/pkg/storage/postgres"
	"github.com/platinummonkey/rebill/pkg/storefront"
)

// app holds the wired billing service
type app struct {
	cfg      *config.Config
	logger   *logrus.Logger
	loc      *time.Location
	runner   *billing.Runner
	health   *observability.HealthChecker
	metrics  *observability.Metrics
	registry *prometheus.Registry
}

// newApp connects every dependency and registers its cleanup with sm
func newApp(ctx context.Context, cfg *config.Config, logger *logrus.Logger, sm *observability.ShutdownManager) (*app, error) {
	loc, err := cfg.Billing.Location()
	if err != nil {
		return nil, fmt.Errorf("invalid billing timezone: %w", err)
	}

	providers, err := observability.InitOTel(ctx, observability.OTelConfig{
		Enabled:        cfg.Observability.OTelEnabled,
		Endpoint:       cfg.Observability.OTelEndpoint,
		ServiceName:    cfg.Observability.OTelServiceName,
		ServiceVersion: cfg.Observability.OTelServiceVersion,
		Insecure:       cfg.Observability.OTelInsecure,
		SampleRatio:    cfg.Observability.OTelSampleRatio,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize OpenTelemetry: %w", err)
	}
	if providers != nil {
		sm.Register("opentelemetry", func(ctx context.Context) error {
			return observability.ShutdownOTel(ctx, providers, logger)
		})
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := observability.NewMetrics(registry)
	otelMetrics, err := observability.NewOTelMetrics(otel.Meter(observability.MeterName))
	if err != nil {
		return nil, fmt.Errorf("failed to create OpenTelemetry instruments: %w", err)
	}
	observers := observability.Observers{metrics, otelMetrics}
	health := observability.NewHealthChecker(cfg.Observability.OTelServiceVersion)

	db, err := postgres.NewConnectionManager(postgres.ConnectionConfig{
		PrimaryURL:  cfg.Database.PrimaryURL,
		ReplicaURLs: cfg.Database.ReplicaURLs,
		MaxConns:    cfg.Database.MaxConns,
		MinConns:    cfg.Database.MinConns,
		Timeout:     cfg.Database.Timeout,
		MaxLifetime: cfg.Database.MaxLifetime,
		MaxIdleTime: cfg.Database.MaxIdleTime,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	sm.Register("database", func(context.Context) error { return db.Close() })
	if cfg.Database.Migrate {
		if err := postgres.Migrate(ctx, db.Primary()); err != nil {
			return nil, fmt.Errorf("failed to migrate database: %w", err)
		}
	}
	health.AddCheck("database", true, db.HealthCheck)

	var redisClient *postgres.RedisClient
	if cfg.Redis.Enabled() {
		redisClient, err = postgres.NewRedisClient(postgres.RedisConfig{
			URL:        cfg.Redis.URL,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			MaxRetries: cfg.Redis.MaxRetries,
			PoolSize:   cfg.Redis.PoolSize,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		sm.Register("redis", func(context.Context) error { return redisClient.Close() })
		health.AddCheck("redis", false, redisClient.Ping)
	}

	gw, err := newGateway(ctx, cfg.Gateway, redisClient, observers, logger)
	if err != nil {
		return nil, err
	}

	shop := storefront.NewClient(ctx, storefront.Config{
		BaseURL:               cfg.Storefront.BaseURL,
		ClientID:              cfg.Storefront.ClientID,
		ClientSecret:          cfg.Storefront.ClientSecret,
		TokenURL:              cfg.Storefront.TokenURL,
		Timeout:               cfg.Storefront.Timeout,
		PaymentPlanCategories: categoryIDs(cfg.Billing.PaymentPlanCategories),
	}, logger)

	notifier, err := newNotifier(cfg.Notify, logger, sm)
	if err != nil {
		return nil, err
	}

	sink, err := newReportSink(ctx, cfg.Report, logger)
	if err != nil {
		return nil, err
	}

	store := postgres.NewSubscriptionStore(db.Primary(), logger)
	cards := postgres.NewCachedCards(postgres.NewCardStore(db, logger), cfg.Database.CardCacheSize, cfg.Database.CardCacheTTL)

	engine := billing.NewEngine(billing.Dependencies{
		Store:    store,
		Gateway:  gw,
		Orders:   shop,
		Pricing:  shop,
		Cards:    cards,
		Groups:   shop,
		Notifier: notifier,
		Logger:   logger,
	})

	opts := []billing.RunnerOption{
		billing.WithObserver(observers),
		billing.WithObserver(health),
	}
	if redisClient != nil && cfg.Billing.LockEnabled {
		opts = append(opts, billing.WithLocker(postgres.NewRunLock(redisClient), cfg.Billing.LockTTL))
	} else if cfg.Billing.LockEnabled {
		logger.Warn("Run lock disabled: no Redis configured")
	}
	runner := billing.NewRunner(store, engine, billing.FixedDelay(cfg.Billing.ChargeDelay), sink, logger, opts...)

	interval := cfg.Database.HealthCheckInterval
	if interval > 0 {
		db.StartHealthCheckRoutine(ctx, interval)
		async.SafeGoNoError(ctx, 0, logger, "db-stats", func(ctx context.Context) {
			ticker := time.NewTicker(interval)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					metrics.ObserveDBStats(db.Stats().Primary)
					if redisClient != nil {
						metrics.ObserveRedisPoolStats(redisClient.GetPoolStats())
					}
				}
			}
		})
	}

	return &app{
		cfg:      cfg,
		logger:   logger,
		loc:      loc,
		runner:   runner,
		health:   health,
		metrics:  metrics,
		registry: registry,
	}, nil
}

// today is the current billing date in the configured time zone
func (a *app) today() time.Time {
	return cycle.Date(time.Now().In(a.loc))
}

// run processes everything due on date
func (a *app) run(ctx context.Context, date time.Time, dryRun bool) (*billing.RunResult, error) {
	rc := billing.NewRunContext(date, a.cfg.Billing.MaxFailuresAllowed)
	rc.DryRun = dryRun
	return a.runner.Run(ctx, rc)
}

// handler serves health and metrics
func (a *app) handler() http.Handler {
	router := mux.NewRouter()
	router.Use(observability.HTTPMetricsMiddleware(a.metrics))
	observability.RegisterHealthRoutes(router, a.health)
	if a.cfg.Observability.MetricsEnabled {
		observability.RegisterMetricsEndpoint(router, a.registry)
	}

	h := httputil.Chain(
		httputil.RecoveryMiddleware(a.logger),
		httputil.LoggingMiddleware(a.logger),
	)(router)
	return otelhttp.NewHandler(h, "rebill")
}

// newGateway builds the configured provider behind the rate limiters and instrumentation
func newGateway(ctx context.Context, cfg config.GatewayConfig, redisClient *postgres.RedisClient, observer gateway.ChargeObserver, logger *logrus.Logger) (billing.PaymentGateway, error) {
	var gw billing.PaymentGateway
	switch cfg.Provider {
	case "stripe":
		gw = gateway.NewStripeGateway(gateway.StripeConfig{
			APIKey:            cfg.StripeAPIKey,
			BaseURL:           cfg.StripeBaseURL,
			HTTPClient:        httputil.NewClient(ctx, nil, cfg.Timeout, nil),
			MaxNetworkRetries: cfg.StripeMaxRetries,
		}, logger)
	case "rest":
		gw = gateway.NewRESTGateway(ctx, gateway.RESTConfig{
			BaseURL:      cfg.RESTBaseURL,
			ClientID:     cfg.RESTClientID,
			ClientSecret: cfg.RESTClientSecret,
			TokenURL:     cfg.RESTTokenURL,
			Scopes:       cfg.RESTScopes,
			Timeout:      cfg.Timeout,
		}, logger)
	default:
		return nil, fmt.Errorf("unknown gateway provider %q", cfg.Provider)
	}

	local := rate.NewLimiter(rate.Limit(cfg.RatePerSecond), cfg.Burst)
	var shared *gateway.WindowLimiter
	if redisClient != nil && cfg.SharedRequests > 0 {
		shared = gateway.NewWindowLimiter(redisClient.GetClient(), gateway.WindowConfig{
			Requests: cfg.SharedRequests,
			Window:   cfg.SharedWindow,
		}, "")
	}
	throttled := gateway.NewThrottled(gw, local, shared, cfg.Provider, logger).WithMaxWait(cfg.MaxThrottleWait)

	return gateway.NewInstrumented(throttled, cfg.Provider, observer, logger), nil
}

// newNotifier fans notifications out to every enabled channel
func newNotifier(cfg config.NotifyConfig, logger *logrus.Logger, sm *observability.ShutdownManager) (billing.Notifier, error) {
	var notifiers []billing.Notifier
	for _, channel := range cfg.Channels {
		switch channel {
		case "log":
			notifiers = append(notifiers, notify.NewLogNotifier(logger))
		case "webhook":
			wh, err := notify.NewWebhookNotifier(notify.WebhookConfig{
				URL:     cfg.WebhookURL,
				Secret:  cfg.WebhookSecret,
				Timeout: cfg.WebhookTimeout,
				Retry:   notify.RetryConfig{MaxAttempts: cfg.WebhookMaxAttempts},
				Async:   cfg.WebhookAsync,
			}, logger)
			if err != nil {
				return nil, fmt.Errorf("failed to create webhook notifier: %w", err)
			}
			sm.Register("webhook deliveries", wh.Wait)
			notifiers = append(notifiers, wh)
		case "nats":
			conn, err := notify.ConnectNATS(cfg.NATSURL, "rebill", logger)
			if err != nil {
				return nil, err
			}
			sm.Register("nats", func(context.Context) error { return conn.Drain() })
			notifiers = append(notifiers, notify.NewNATSNotifier(conn, cfg.NATSSubjectPrefix, logger))
		default:
			return nil, fmt.Errorf("unknown notification channel %q", channel)
		}
	}
	return notify.NewMulti(cfg.Timeout, notifiers...), nil
}

// newReportSink always logs run reports and archives them to S3 when enabled
func newReportSink(ctx context.Context, cfg config.ReportConfig, logger *logrus.Logger) (billing.ReportSink, error) {
	sinks := report.Multi{report.NewLogSink(logger)}
	if !cfg.S3Enabled {
		return sinks, nil
	}

	client, err := report.NewS3Client(ctx, report.S3Config{
		Bucket:       cfg.S3Bucket,
		Region:       cfg.S3Region,
		Prefix:       cfg.S3Prefix,
		Endpoint:     cfg.S3Endpoint,
		AccessKey:    cfg.S3AccessKey,
		SecretKey:    cfg.S3SecretKey,
		UsePathStyle: cfg.S3UsePathStyle,
	})
	if err != nil {
		return nil, err
	}
	s3Sink := report.NewS3Sink(client, cfg.S3Bucket, cfg.S3Prefix, logger)
	if cfg.S3CreateBucket {
		if err := s3Sink.EnsureBucket(ctx); err != nil {
			return nil, err
		}
	}
	return append(sinks, s3Sink), nil
}

func categoryIDs(ids []int64) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		out = append(out, strconv.FormatInt(id, 10))
	}
	return out
}
