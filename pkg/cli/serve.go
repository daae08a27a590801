package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/platinummonkey/beacon/pkg/analytics"
	"github.com/platinummonkey/beacon/pkg/api"
	"github.com/platinummonkey/beacon/pkg/archive"
	"github.com/platinummonkey/beacon/pkg/config"
	"github.com/platinummonkey/beacon/pkg/middleware"
	"github.com/platinummonkey/beacon/pkg/observability"
	"github.com/platinummonkey/beacon/pkg/presence"
	"github.com/platinummonkey/beacon/pkg/storage/postgres"
	"github.com/platinummonkey/beacon/pkg/stream"
)

func newServeCommand(version string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, realtime presence and scheduled jobs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			return a.serve(cmd.Context(), version)
		},
	}
}

func (a *app) serve(parent context.Context, version string) error {
	ctx, stop := observability.SignalContext(parent)
	defer stop()

	cfg := a.cfg
	log := a.logger.WithComponent("serve")

	providers, err := observability.InitOTel(ctx, observability.OTelConfig{
		Enabled:        cfg.Observability.OTelEnabled,
		Endpoint:       cfg.Observability.OTelEndpoint,
		ServiceName:    cfg.Observability.OTelServiceName,
		ServiceVersion: version,
		Insecure:       cfg.Observability.OTelInsecure,
		SampleRatio:    cfg.Observability.OTelSampleRatio,
	}, a.logger)
	if err != nil {
		return err
	}
	a.shutdown.Register("otel", func(ctx context.Context) error {
		return observability.ShutdownOTel(ctx, providers, a.logger)
	})

	cm, err := a.openDatabase(ctx)
	if err != nil {
		a.shutdown.Shutdown()
		return err
	}
	cm.StartHealthCheckRoutine(ctx, 0)

	redisClient, err := a.openRedis(ctx)
	if err != nil {
		a.shutdown.Shutdown()
		return err
	}

	health := observability.NewHealthChecker(cm.Primary(), redisClient, version)

	ingest, err := a.ingestor(cm)
	if err != nil {
		a.shutdown.Shutdown()
		return err
	}

	hub, mirror := a.presenceHub(redisClient)
	a.shutdown.Register("presence", hub.Close)
	hub.StartMirrorRefresh(ctx, cfg.Redis.PresenceTTL/2)
	observer := presence.NewObserver(hub, cfg.Presence.ObserverKey, a.logger)

	repo := analytics.NewRepository(cm, a.metrics)
	service := analytics.NewService(repo, analytics.ServiceConfig{
		CacheTTL:  cfg.Analytics.CacheTTL,
		CacheSize: cfg.Analytics.CacheSize,
	}, a.metrics)

	jobs := newScheduler(a.logger, a.metrics)
	aggregator := analytics.NewAggregator(cm.Primary())
	if err := jobs.add(ctx, dailyJob{name: "rollup", schedule: cfg.Analytics.RollupSchedule, run: aggregator.RollupDaily}); err != nil {
		a.shutdown.Shutdown()
		return err
	}
	if cfg.Archive.Enabled() {
		s3, err := a.openArchive(ctx)
		if err != nil {
			a.shutdown.Shutdown()
			return err
		}
		health.AddCheck("s3", false, s3.HealthCheck)

		exporter := archive.NewExporter(repo, s3, cfg.Archive.Prefix, a.logger, a.metrics)
		if err := jobs.add(ctx, archiveJob(exporter, cfg.Archive.Schedule)); err != nil {
			a.shutdown.Shutdown()
			return err
		}
	}
	jobs.start()
	a.shutdown.Register("scheduler", jobs.stop)

	server := api.NewServer(api.Options{
		Ingest:          ingest,
		Summaries:       service,
		Observer:        observer,
		Cluster:         clusterSource(mirror),
		ObserverKey:     cfg.Presence.ObserverKey,
		Realtime:        presence.NewHandler(hub, cfg.Server.CORSOrigins, a.logger, a.metrics),
		IngestLimit:     a.ingestLimit(ctx, redisClient),
		Health:          health,
		Registry:        a.metricsRegistry(),
		VisitorDays:     cfg.Analytics.VisitorDays,
		InteractionDays: cfg.Analytics.InteractionDays,
		CORSOrigins:     cfg.Server.CORSOrigins,
		MaxBodyBytes:    cfg.Server.MaxBodyBytes,
		Tracing:         cfg.Observability.OTelEnabled,
		Logger:          a.logger,
		Metrics:         a.metrics,
	})

	httpServer := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      server.Handler(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}
	a.shutdown.Register("http", httpServer.Shutdown)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.WithField("addr", httpServer.Addr).WithField("ingest_mode", cfg.Server.IngestMode).Info("Beacon server starting")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		err := observer.Run(gctx)
		if gctx.Err() != nil {
			return nil
		}
		return err
	})

	g.Go(func() error {
		<-gctx.Done()
		log.Info("Shutting down")
		return a.shutdown.Shutdown()
	})

	if err := g.Wait(); err != nil {
		return err
	}
	log.Info("Beacon server stopped")
	return nil
}

// ingestor picks the write path for the ingest API
func (a *app) ingestor(cm *postgres.ConnectionManager) (api.Ingestor, error) {
	switch a.cfg.Server.IngestMode {
	case config.IngestKafka:
		k := a.cfg.Kafka
		sink := stream.NewKafkaSink(stream.NewWriter(k.Brokers, k.Topic, k.BatchTimeout), a.metrics)
		a.shutdown.Register("kafka", func(context.Context) error { return sink.Close() })
		return sink, nil
	case config.IngestDirect:
		return analytics.NewEventTracker(cm.Primary(), a.metrics), nil
	default:
		return nil, fmt.Errorf("invalid ingest mode: %s", a.cfg.Server.IngestMode)
	}
}

// ingestLimit shares limits through Redis when it is configured
func (a *app) ingestLimit(ctx context.Context, client *redis.Client) func(http.Handler) http.Handler {
	perMinute := a.cfg.Server.IngestRateLimit
	if perMinute == 0 {
		return nil
	}
	limits := middleware.IngestRateLimitConfig(perMinute)
	limits.TrustProxyHeaders = a.cfg.Server.TrustProxyHeaders

	var limiter middleware.Limiter
	if client != nil {
		limiter = middleware.NewDistributedRateLimiter(client, limits, "")
	} else {
		local := middleware.NewRateLimiter(limits)
		local.StartCleanup(ctx, a.logger)
		limiter = local
	}
	return middleware.RateLimit(limiter, limits, a.logger)
}

func (a *app) presenceHub(client *redis.Client) (*presence.Hub, *presence.RedisMirror) {
	opts := presence.HubOptions{Logger: a.logger, Metrics: a.metrics}

	var mirror *presence.RedisMirror
	if client != nil {
		mirror = presence.NewRedisMirror(client, a.cfg.Redis.PresenceKey, a.cfg.Redis.PresenceTTL)
		opts.Mirror = mirror
	}
	return presence.NewHub(a.cfg.Presence.Channel, opts), mirror
}

func (a *app) metricsRegistry() *prometheus.Registry {
	if !a.cfg.Observability.MetricsEnabled {
		return nil
	}
	return a.registry
}

// clusterSource avoids handing the API a typed nil
func clusterSource(mirror *presence.RedisMirror) api.ClusterSource {
	if mirror == nil {
		return nil
	}
	return mirror
}
