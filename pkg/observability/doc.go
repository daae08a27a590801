// Package observability provides structured logging, Prometheus metrics,
// health checks, graceful shutdown and OpenTelemetry tracing for beacon.
//
// Logging:
//
//	logger := observability.NewLogger(observability.InfoLevel, os.Stdout)
//	logger.WithComponent("capture").WithField("path", "/pricing").Info("page view")
//
// Request-scoped loggers travel through the context:
//
//	ctx = observability.WithLogger(ctx, logger)
//	observability.FromContext(ctx).Warn("insert failed")
//
// Metrics are registered against an explicit registry:
//
//	registry := prometheus.NewRegistry()
//	metrics := observability.NewMetrics(registry)
//	metrics.EventsIngestedTotal.WithLabelValues("visit").Inc()
//
// Health checks probe Postgres and Redis plus any registered extras:
//
//	checker := observability.NewHealthChecker(db, redisClient, version)
//	checker.AddCheck("kafka", false, producer.Ping)
package observability
