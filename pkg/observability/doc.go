// Package observability provides logging, Prometheus and OpenTelemetry metrics,
// tracing setup, health probes and graceful shutdown for the billing service.
//
// # Logging
//
//	logger, err := observability.NewLogger("info", observability.FormatJSON, os.Stdout)
//
// # Metrics
//
// Metrics implements billing.RunObserver and the gateway charge observer:
//
//	registry := prometheus.NewRegistry()
//	metrics := observability.NewMetrics(registry)
//	runner := billing.NewRunner(store, engine, pacer, sink, logger, billing.WithObserver(metrics))
//	observability.RegisterMetricsEndpoint(router, registry)
//
// OTelMetrics records the same measurements through OpenTelemetry; Observers
// combines several recorders.
//
// # Health Checks
//
//	checker := observability.NewHealthChecker(version)
//	checker.AddCheck("database", true, connections.HealthCheck)
//	checker.AddCheck("redis", false, redisClient.Ping)
//	observability.RegisterHealthRoutes(router, checker)
//
// # OpenTelemetry
//
//	providers, err := observability.InitOTel(ctx, cfg, logger)
//	defer observability.ShutdownOTel(ctx, providers, logger)
package observability
