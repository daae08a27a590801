package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path"
	"time"

	"github.com/platinummonkey/beacon/pkg/analytics"
	"github.com/platinummonkey/beacon/pkg/async"
	"github.com/platinummonkey/beacon/pkg/observability"
)

// ContentType of every exported object
const ContentType = "application/x-ndjson"

// Uploader stores one object
type Uploader interface {
	PutObject(ctx context.Context, key string, content io.Reader, contentType string) error
}

// Source reads the rows of a time range
type Source interface {
	ListVisitsBetween(ctx context.Context, from, to time.Time) ([]analytics.VisitRecord, error)
	ListInteractionsBetween(ctx context.Context, from, to time.Time) ([]analytics.InteractionEvent, error)
}

// Result describes one uploaded object
type Result struct {
	Kind string `json:"kind"`
	Key  string `json:"key"`
	Rows int    `json:"rows"`
}

// Exporter writes one NDJSON object per kind per UTC day
type Exporter struct {
	source   Source
	uploader Uploader
	prefix   string
	logger   *observability.Logger
	metrics  *observability.Metrics
	timeout  time.Duration
}

// NewExporter creates an exporter. Keys are placed under prefix.
func NewExporter(source Source, uploader Uploader, prefix string, logger *observability.Logger, metrics *observability.Metrics) *Exporter {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &Exporter{
		source:   source,
		uploader: uploader,
		prefix:   prefix,
		logger:   logger.WithComponent("archive"),
		metrics:  metrics,
		timeout:  5 * time.Minute,
	}
}

// Key returns the object key for kind on day, e.g. visits/2026/03/01.ndjson
func (e *Exporter) Key(kind string, day time.Time) string {
	return path.Join(e.prefix, kind, day.UTC().Format("2006/01/02")+".ndjson")
}

// ExportDay uploads the visits and interactions of day. Both kinds are
// attempted even when one fails.
func (e *Exporter) ExportDay(ctx context.Context, day time.Time) ([]Result, error) {
	from, to := analytics.DayBounds(day)

	results := make([]Result, 2)
	kinds := []int{0, 1}
	errs := async.Batch(ctx, e.logger, kinds, len(kinds), e.timeout, "archive export", func(ctx context.Context, i int) error {
		var (
			res Result
			err error
		)
		if i == 0 {
			res, err = e.exportVisits(ctx, from, to)
		} else {
			res, err = e.exportInteractions(ctx, from, to)
		}
		results[i] = res
		return err
	})

	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("archive %s: %w", from.Format("2006-01-02"), err)
	}

	for _, r := range results {
		e.logger.WithField("key", r.Key).WithField("rows", r.Rows).Info("Archived day")
	}
	return results, nil
}

func (e *Exporter) exportVisits(ctx context.Context, from, to time.Time) (Result, error) {
	visits, err := e.source.ListVisitsBetween(ctx, from, to)
	if err != nil {
		return Result{}, fmt.Errorf("failed to load visits: %w", err)
	}
	body, err := encodeNDJSON(visits)
	if err != nil {
		return Result{}, err
	}
	return e.upload(ctx, "visits", from, body, len(visits))
}

func (e *Exporter) exportInteractions(ctx context.Context, from, to time.Time) (Result, error) {
	events, err := e.source.ListInteractionsBetween(ctx, from, to)
	if err != nil {
		return Result{}, fmt.Errorf("failed to load interactions: %w", err)
	}
	body, err := encodeNDJSON(events)
	if err != nil {
		return Result{}, err
	}
	return e.upload(ctx, "interactions", from, body, len(events))
}

func (e *Exporter) upload(ctx context.Context, kind string, day time.Time, body io.Reader, rows int) (Result, error) {
	key := e.Key(kind, day)
	start := time.Now()
	err := e.uploader.PutObject(ctx, key, body, ContentType)
	e.metrics.ObserveStorage("put_"+kind, "s3", start, err)
	if err != nil {
		return Result{}, err
	}
	return Result{Kind: kind, Key: key, Rows: rows}, nil
}

// encodeNDJSON writes one JSON document per line
func encodeNDJSON[T any](rows []T) (*bytes.Buffer, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for i := range rows {
		if err := enc.Encode(rows[i]); err != nil {
			return nil, fmt.Errorf("failed to encode row %d: %w", i, err)
		}
	}
	return &buf, nil
}
