package cli

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/platinummonkey/beacon/pkg/archive"
	"github.com/platinummonkey/beacon/pkg/config"
	"github.com/platinummonkey/beacon/pkg/observability"
	"github.com/platinummonkey/beacon/pkg/storage/postgres"
)

// DateLayout is the format of --date flags
const DateLayout = "2006-01-02"

// app holds what every command needs
type app struct {
	cfg      *config.Config
	logger   *observability.Logger
	registry *prometheus.Registry
	metrics  *observability.Metrics
	shutdown *observability.ShutdownManager
}

func newApp() (*app, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	logger := observability.NewLogger(cfg.Observability.Level(), os.Stderr)

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return &app{
		cfg:      cfg,
		logger:   logger,
		registry: registry,
		metrics:  observability.NewMetrics(registry),
		shutdown: observability.NewShutdownManager(logger, cfg.Server.ShutdownTimeout),
	}, nil
}

// openDatabase connects to PostgreSQL and registers the pool for shutdown
func (a *app) openDatabase(ctx context.Context) (*postgres.ConnectionManager, error) {
	db := a.cfg.Database
	cm, err := postgres.NewConnectionManager(ctx, postgres.ConnectionConfig{
		PrimaryURL:  db.URL,
		ReplicaURLs: db.ReplicaURLs,
		MaxConns:    db.MaxConns,
		MinConns:    db.MinConns,
		Timeout:     db.Timeout,
		MaxLifetime: db.MaxLifetime,
		MaxIdleTime: db.MaxIdleTime,
	}, a.logger)
	if err != nil {
		return nil, err
	}
	a.shutdown.Register("postgres", func(context.Context) error { return cm.Close() })

	if db.AutoMigrate {
		if err := postgres.EnsureSchema(ctx, cm.Primary()); err != nil {
			return nil, err
		}
		a.logger.Info("Schema ensured")
	}
	return cm, nil
}

// openRedis returns nil when no Redis URL is configured
func (a *app) openRedis(ctx context.Context) (*redis.Client, error) {
	r := a.cfg.Redis
	if r.URL == "" {
		return nil, nil
	}
	client, err := postgres.NewRedisClient(ctx, postgres.RedisOptions{
		URL:      r.URL,
		Password: r.Password,
		DB:       r.DB,
		PoolSize: r.PoolSize,
	})
	if err != nil {
		return nil, err
	}
	a.shutdown.Register("redis", func(context.Context) error { return client.Close() })
	return client, nil
}

func (a *app) openArchive(ctx context.Context) (*archive.S3Client, error) {
	c := a.cfg.Archive
	if !c.Enabled() {
		return nil, fmt.Errorf("archive is not configured: set BEACON_S3_BUCKET")
	}
	return archive.NewS3Client(ctx, archive.S3Config{
		Endpoint:     c.Endpoint,
		Region:       c.Region,
		Bucket:       c.Bucket,
		AccessKey:    c.AccessKey,
		SecretKey:    c.SecretKey,
		UsePathStyle: c.UsePathStyle,
	})
}

// parseDay reads a --date value, defaulting to yesterday in UTC
func parseDay(value string, now time.Time) (time.Time, error) {
	if value == "" {
		return now.UTC().AddDate(0, 0, -1).Truncate(24 * time.Hour), nil
	}
	day, err := time.Parse(DateLayout, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: expected YYYY-MM-DD", value)
	}
	return day, nil
}
