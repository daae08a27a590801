package analytics

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/platinummonkey/beacon/pkg/observability"
)

// Kinds used as metric labels
const (
	KindVisit       = "visit"
	KindInteraction = "interaction"
)

// EventTracker writes visits and interactions to the event log
type EventTracker struct {
	db      *sql.DB
	metrics *observability.Metrics
}

// NewEventTracker creates a new event tracker. metrics may be nil.
func NewEventTracker(db *sql.DB, metrics *observability.Metrics) *EventTracker {
	return &EventTracker{db: db, metrics: metrics}
}

const insertVisitQuery = `
	INSERT INTO visitors (
		session_id, page_path, referrer, user_agent, country, city
	) VALUES ($1, $2, $3, $4, $5, $6)
`

const insertInteractionQuery = `
	INSERT INTO visitor_events (
		session_id, page_path, event_type,
		element_tag, element_text, element_id, element_class,
		x_position, y_position, viewport_width, viewport_height, scroll_depth
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
`

// RecordVisit validates and inserts a visit
func (t *EventTracker) RecordVisit(ctx context.Context, visit VisitRecord) error {
	if err := visit.Validate(); err != nil {
		t.rejected(KindVisit)
		return err
	}

	start := time.Now()
	_, err := t.db.ExecContext(ctx, insertVisitQuery,
		visit.SessionID, visit.PagePath, nullString(deref(visit.Referrer)),
		visit.UserAgent, nullString(deref(visit.Country)), nullString(deref(visit.City)),
	)
	t.metrics.ObserveStorage("insert_visit", "postgres", start, err)
	if err != nil {
		t.writeFailed(KindVisit)
		return fmt.Errorf("failed to insert visit: %w", err)
	}
	t.ingested(KindVisit, 1)
	return nil
}

// RecordInteraction validates and inserts one interaction
func (t *EventTracker) RecordInteraction(ctx context.Context, event InteractionEvent) error {
	if err := event.Validate(); err != nil {
		t.rejected(KindInteraction)
		return err
	}

	start := time.Now()
	_, err := t.db.ExecContext(ctx, insertInteractionQuery, interactionArgs(event)...)
	t.metrics.ObserveStorage("insert_interaction", "postgres", start, err)
	if err != nil {
		t.writeFailed(KindInteraction)
		return fmt.Errorf("failed to insert interaction: %w", err)
	}
	t.ingested(KindInteraction, 1)
	return nil
}

// RecordInteractions inserts a batch in one transaction. The whole batch is
// validated first; one invalid event rejects the batch.
func (t *EventTracker) RecordInteractions(ctx context.Context, events []InteractionEvent) error {
	if len(events) == 0 {
		return nil
	}
	for i, event := range events {
		if err := event.Validate(); err != nil {
			t.rejected(KindInteraction)
			return fmt.Errorf("event %d: %w", i, err)
		}
	}

	start := time.Now()
	err := t.insertBatch(ctx, events)
	t.metrics.ObserveStorage("insert_interaction_batch", "postgres", start, err)
	if err != nil {
		t.writeFailed(KindInteraction)
		return err
	}
	t.ingested(KindInteraction, len(events))
	return nil
}

func (t *EventTracker) insertBatch(ctx context.Context, events []InteractionEvent) error {
	tx, err := t.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, insertInteractionQuery)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, event := range events {
		if _, err := stmt.ExecContext(ctx, interactionArgs(event)...); err != nil {
			return fmt.Errorf("failed to insert interaction: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit batch: %w", err)
	}
	return nil
}

func interactionArgs(e InteractionEvent) []interface{} {
	return []interface{}{
		e.SessionID, e.PagePath, string(e.EventType),
		nullString(deref(e.ElementTag)), nullString(deref(e.ElementText)),
		nullString(deref(e.ElementID)), nullString(deref(e.ElementClass)),
		nullInt(e.XPosition), nullInt(e.YPosition),
		e.ViewportWidth, e.ViewportHeight, nullInt(e.ScrollDepth),
	}
}

func (t *EventTracker) ingested(kind string, n int) {
	if t.metrics != nil {
		t.metrics.EventsIngestedTotal.WithLabelValues(kind).Add(float64(n))
	}
}

func (t *EventTracker) rejected(kind string) {
	if t.metrics != nil {
		t.metrics.EventsRejectedTotal.WithLabelValues(kind).Inc()
	}
}

func (t *EventTracker) writeFailed(kind string) {
	if t.metrics != nil {
		t.metrics.EventWriteErrors.WithLabelValues(kind, "postgres").Inc()
	}
}

// nullString converts empty string to NULL
func nullString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func nullInt(i *int) interface{} {
	if i == nil {
		return nil
	}
	return int64(*i)
}
