package archive

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/beacon/pkg/analytics"
	"github.com/platinummonkey/beacon/pkg/observability"
)

type fakeSource struct {
	visits       []analytics.VisitRecord
	interactions []analytics.InteractionEvent
	err          error
	from, to     time.Time
}

func (s *fakeSource) ListVisitsBetween(_ context.Context, from, to time.Time) ([]analytics.VisitRecord, error) {
	s.from, s.to = from, to
	return s.visits, s.err
}

func (s *fakeSource) ListInteractionsBetween(_ context.Context, _, _ time.Time) ([]analytics.InteractionEvent, error) {
	return s.interactions, nil
}

type memoryBucket struct {
	mu      sync.Mutex
	objects map[string][]byte
	types   map[string]string
	err     error
}

func newMemoryBucket() *memoryBucket {
	return &memoryBucket{objects: map[string][]byte{}, types: map[string]string{}}
}

func (b *memoryBucket) PutObject(_ context.Context, key string, content io.Reader, contentType string) error {
	if b.err != nil {
		return b.err
	}
	data, err := io.ReadAll(content)
	if err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.objects[key] = data
	b.types[key] = contentType
	return nil
}

func lines(t *testing.T, data []byte) []map[string]interface{} {
	t.Helper()
	var out []map[string]interface{}
	sc := bufio.NewScanner(bytes.NewReader(data))
	for sc.Scan() {
		var row map[string]interface{}
		require.NoError(t, json.Unmarshal(sc.Bytes(), &row))
		out = append(out, row)
	}
	return out
}

var day = time.Date(2026, 3, 1, 15, 4, 5, 0, time.UTC)

func TestExporter_Key(t *testing.T) {
	assert.Equal(t, "visits/2026/03/01.ndjson", NewExporter(nil, nil, "", nil, nil).Key("visits", day))
	assert.Equal(t, "beacon/interactions/2026/03/01.ndjson", NewExporter(nil, nil, "beacon/", nil, nil).Key("interactions", day))
}

func TestExporter_ExportDay(t *testing.T) {
	source := &fakeSource{
		visits: []analytics.VisitRecord{
			{ID: 1, SessionID: "s1", PagePath: "/"},
			{ID: 2, SessionID: "s2", PagePath: "/pricing", Referrer: analytics.StringPtr("https://news.example")},
		},
		interactions: []analytics.InteractionEvent{
			{ID: 9, SessionID: "s1", PagePath: "/", EventType: analytics.EventScroll, ScrollDepth: analytics.IntPtr(50)},
		},
	}
	bucket := newMemoryBucket()
	metrics := observability.NewMetrics(prometheus.NewRegistry())

	results, err := NewExporter(source, bucket, "archive", nil, metrics).ExportDay(context.Background(), day)
	require.NoError(t, err)

	assert.Equal(t, []Result{
		{Kind: "visits", Key: "archive/visits/2026/03/01.ndjson", Rows: 2},
		{Kind: "interactions", Key: "archive/interactions/2026/03/01.ndjson", Rows: 1},
	}, results)

	assert.Equal(t, time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC), source.from)
	assert.Equal(t, time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC), source.to)

	visits := lines(t, bucket.objects["archive/visits/2026/03/01.ndjson"])
	require.Len(t, visits, 2)
	assert.Equal(t, "/pricing", visits[1]["page_path"])
	assert.Equal(t, ContentType, bucket.types["archive/visits/2026/03/01.ndjson"])

	scrolls := lines(t, bucket.objects["archive/interactions/2026/03/01.ndjson"])
	require.Len(t, scrolls, 1)
	assert.Equal(t, 50.0, scrolls[0]["scroll_depth"])

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.StorageOperationsTotal.WithLabelValues("put_visits", "s3", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.StorageOperationsTotal.WithLabelValues("put_interactions", "s3", "success")))
	assert.Zero(t, testutil.ToFloat64(metrics.JobRunsTotal.WithLabelValues("archive", "success")), "job runs are counted by the caller")
}

func TestExporter_EmptyDayStillUploads(t *testing.T) {
	bucket := newMemoryBucket()
	results, err := NewExporter(&fakeSource{}, bucket, "", nil, nil).ExportDay(context.Background(), day)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Zero(t, results[0].Rows)
	assert.Empty(t, bucket.objects["visits/2026/03/01.ndjson"])
	assert.Contains(t, bucket.objects, "visits/2026/03/01.ndjson")
}

func TestExporter_Errors(t *testing.T) {
	t.Run("source", func(t *testing.T) {
		bucket := newMemoryBucket()
		_, err := NewExporter(&fakeSource{err: errors.New("replica down")}, bucket, "", nil, nil).ExportDay(context.Background(), day)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "archive 2026-03-01")
		assert.Contains(t, err.Error(), "failed to load visits")
		assert.Contains(t, bucket.objects, "interactions/2026/03/01.ndjson", "other kind is still exported")
	})

	t.Run("upload", func(t *testing.T) {
		bucket := newMemoryBucket()
		bucket.err = errors.New("access denied")
		metrics := observability.NewMetrics(prometheus.NewRegistry())
		_, err := NewExporter(&fakeSource{}, bucket, "", nil, metrics).ExportDay(context.Background(), day)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "access denied")
		assert.Equal(t, 1.0, testutil.ToFloat64(metrics.StorageOperationsTotal.WithLabelValues("put_visits", "s3", "error")))
	})
}

func TestIsBucketAlreadyExists(t *testing.T) {
	assert.True(t, isBucketAlreadyExists(errors.New("BucketAlreadyOwnedByYou: bucket exists")))
	assert.False(t, isBucketAlreadyExists(errors.New("AccessDenied")))
}

func TestNewS3Client_RequiresBucket(t *testing.T) {
	_, err := NewS3Client(context.Background(), S3Config{Region: "us-east-1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bucket is required")
}

func TestChecksum(t *testing.T) {
	assert.Equal(t, "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855", checksum(nil))
}
