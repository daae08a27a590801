package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/beacon/pkg/analytics"
	"github.com/platinummonkey/beacon/pkg/archive"
	"github.com/platinummonkey/beacon/pkg/config"
	"github.com/platinummonkey/beacon/pkg/observability"
	"github.com/platinummonkey/beacon/pkg/storage/postgres"
	"github.com/platinummonkey/beacon/pkg/stream"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := NewRootCommand("1.2.3")
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestNewRootCommand(t *testing.T) {
	root := NewRootCommand("1.2.3")

	names := map[string]bool{}
	for _, c := range root.Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"serve", "consume", "rollup", "archive", "summary"} {
		assert.True(t, names[want], "missing %s command", want)
	}

	assert.NotNil(t, root.PersistentFlags().Lookup("config"))
	assert.NotNil(t, root.PersistentFlags().Lookup("log-level"))

	out, err := execute(t, "--version")
	require.NoError(t, err)
	assert.Equal(t, "beacon version 1.2.3\n", out)
}

func TestCommandFlagErrors(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		wantErr string
	}{
		{"bad rollup date", []string{"rollup", "--date", "03/01/2026"}, "expected YYYY-MM-DD"},
		{"rollup range reversed", []string{"rollup", "--date", "2026-03-02", "--through", "2026-03-01"}, "--through must not be before --date"},
		{"bad archive date", []string{"archive", "--date", "yesterday"}, "invalid date"},
		{"unknown summary kind", []string{"summary", "--kind", "sessions"}, "--kind must be visitors or interactions"},
		{"serve takes no args", []string{"serve", "now"}, "unknown command"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := execute(t, tt.args...)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestParseDay(t *testing.T) {
	now := time.Date(2026, 3, 1, 0, 30, 0, 0, time.UTC)

	day, err := parseDay("", now)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 2, 28, 0, 0, 0, 0, time.UTC), day)

	day, err = parseDay("2025-12-31", now)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 12, 31, 0, 0, 0, 0, time.UTC), day)

	_, err = parseDay("2025-13-01", now)
	assert.Error(t, err)
}

type fakeSummarizer struct {
	days int
	err  error
}

func (f *fakeSummarizer) VisitorSummary(_ context.Context, days int) (analytics.VisitorSummary, error) {
	f.days = days
	return analytics.VisitorSummary{TotalVisits: 12, UniqueSessions: 4}, f.err
}

func (f *fakeSummarizer) InteractionSummary(_ context.Context, days int) (analytics.InteractionSummary, error) {
	f.days = days
	return analytics.InteractionSummary{TotalEvents: 9, TotalClicks: 6}, f.err
}

func TestPrintSummary(t *testing.T) {
	s := &fakeSummarizer{}

	var out bytes.Buffer
	require.NoError(t, printSummary(context.Background(), &out, s, KindVisitors, 30))
	assert.Equal(t, 30, s.days)

	var visitors analytics.VisitorSummary
	require.NoError(t, json.Unmarshal(out.Bytes(), &visitors))
	assert.Equal(t, 12, visitors.TotalVisits)

	out.Reset()
	require.NoError(t, printSummary(context.Background(), &out, s, KindInteractions, 7))
	var interactions analytics.InteractionSummary
	require.NoError(t, json.Unmarshal(out.Bytes(), &interactions))
	assert.Equal(t, 6, interactions.TotalClicks)

	assert.Error(t, printSummary(context.Background(), &out, s, "pages", 7))

	s.err = errors.New("replica down")
	assert.ErrorContains(t, printSummary(context.Background(), &out, s, KindVisitors, 30), "replica down")
}

func TestScheduler(t *testing.T) {
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	s := newScheduler(observability.NopLogger(), metrics)
	s.now = func() time.Time { return time.Date(2026, 3, 1, 0, 5, 0, 0, time.UTC) }

	require.NoError(t, s.add(context.Background(), dailyJob{name: "disabled"}))
	assert.Empty(t, s.cron.Entries())

	err := s.add(context.Background(), dailyJob{name: "rollup", schedule: "every day"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to schedule rollup")

	require.NoError(t, s.add(context.Background(), dailyJob{name: "rollup", schedule: "5 0 * * *", run: func(context.Context, time.Time) error { return nil }}))
	assert.Len(t, s.cron.Entries(), 1)

	var got time.Time
	s.runJob(context.Background(), dailyJob{name: "rollup", run: func(_ context.Context, day time.Time) error {
		got = day
		return nil
	}})
	assert.Equal(t, "2026-02-28", got.Format(DateLayout), "jobs process the previous UTC day")
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.JobRunsTotal.WithLabelValues("rollup", "success")))

	s.runJob(context.Background(), dailyJob{name: "archive", run: func(context.Context, time.Time) error { return errors.New("s3 down") }})
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.JobRunsTotal.WithLabelValues("archive", "error")))

	s.runJob(context.Background(), dailyJob{name: "panics", run: func(context.Context, time.Time) error { panic("boom") }})

	s.start()
	require.NoError(t, s.stop(context.Background()))
}

func testApp(t *testing.T, mutate func(*config.Config)) *app {
	t.Helper()
	cfg := config.Default()
	if mutate != nil {
		mutate(cfg)
	}
	logger := observability.NopLogger()
	registry := prometheus.NewRegistry()
	return &app{
		cfg:      cfg,
		logger:   logger,
		registry: registry,
		metrics:  observability.NewMetrics(registry),
		shutdown: observability.NewShutdownManager(logger, time.Second),
	}
}

func TestIngestor(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	cm := postgres.NewConnectionManagerFromDB(nil, db)

	direct, err := testApp(t, nil).ingestor(cm)
	require.NoError(t, err)
	assert.IsType(t, &analytics.EventTracker{}, direct)

	a := testApp(t, func(c *config.Config) {
		c.Server.IngestMode = config.IngestKafka
		c.Kafka.Brokers = []string{"localhost:9092"}
	})
	viaKafka, err := a.ingestor(cm)
	require.NoError(t, err)
	assert.IsType(t, &stream.KafkaSink{}, viaKafka)
	require.NoError(t, a.shutdown.Shutdown(), "the kafka writer is closed on shutdown")

	_, err = testApp(t, func(c *config.Config) { c.Server.IngestMode = "pigeon" }).ingestor(cm)
	assert.Error(t, err)
}

func TestPresenceHub(t *testing.T) {
	a := testApp(t, nil)

	hub, mirror := a.presenceHub(nil)
	assert.Equal(t, "online-users", hub.Name())
	assert.Nil(t, mirror)
	assert.Nil(t, clusterSource(mirror), "no typed nil reaches the API")

	a.cfg.Observability.MetricsEnabled = false
	assert.Nil(t, a.metricsRegistry())
}

func TestIngestLimit(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a := testApp(t, nil)
	assert.NotNil(t, a.ingestLimit(ctx, nil))

	a.cfg.Server.IngestRateLimit = 0
	assert.Nil(t, a.ingestLimit(ctx, nil))
}

func TestOpenArchive_Disabled(t *testing.T) {
	_, err := testApp(t, nil).openArchive(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "BEACON_S3_BUCKET")
}

type emptyDays struct{}

func (emptyDays) ListVisitsBetween(context.Context, time.Time, time.Time) ([]analytics.VisitRecord, error) {
	return nil, nil
}

func (emptyDays) ListInteractionsBetween(context.Context, time.Time, time.Time) ([]analytics.InteractionEvent, error) {
	return nil, nil
}

type discardUploader struct {
	mu   sync.Mutex
	keys []string
}

func (d *discardUploader) PutObject(_ context.Context, key string, content io.Reader, _ string) error {
	d.mu.Lock()
	d.keys = append(d.keys, key)
	d.mu.Unlock()
	_, err := io.Copy(io.Discard, content)
	return err
}

func TestArchiveJob_CountsOneRun(t *testing.T) {
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	s := newScheduler(observability.NopLogger(), metrics)
	s.now = func() time.Time { return time.Date(2026, 3, 2, 1, 0, 0, 0, time.UTC) }

	uploads := &discardUploader{}
	exporter := archive.NewExporter(emptyDays{}, uploads, "", nil, metrics)
	s.runJob(context.Background(), archiveJob(exporter, "30 1 * * *"))

	assert.ElementsMatch(t, []string{"visits/2026/03/01.ndjson", "interactions/2026/03/01.ndjson"}, uploads.keys)
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.JobRunsTotal.WithLabelValues("archive", "success")))
}
