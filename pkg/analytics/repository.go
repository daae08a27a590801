package analytics

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/platinummonkey/beacon/pkg/observability"
)

// Reader hands out a connection for read queries
type Reader interface {
	Replica() *sql.DB
}

// Repository reads windows of the event log
type Repository struct {
	reader  Reader
	metrics *observability.Metrics
}

// NewRepository creates a repository over reader. metrics may be nil.
func NewRepository(reader Reader, metrics *observability.Metrics) *Repository {
	return &Repository{reader: reader, metrics: metrics}
}

const visitColumns = `id, session_id, page_path, referrer, user_agent, country, city, created_at`

const interactionColumns = `id, session_id, page_path, event_type,
	element_tag, element_text, element_id, element_class,
	x_position, y_position, viewport_width, viewport_height, scroll_depth, created_at`

// ListVisitsSince returns visits with created_at >= since, newest first
func (r *Repository) ListVisitsSince(ctx context.Context, since time.Time) ([]VisitRecord, error) {
	query := `SELECT ` + visitColumns + ` FROM visitors WHERE created_at >= $1 ORDER BY created_at DESC`
	return r.queryVisits(ctx, "list_visits", query, since)
}

// ListVisitsBetween returns visits in [from, to), oldest first
func (r *Repository) ListVisitsBetween(ctx context.Context, from, to time.Time) ([]VisitRecord, error) {
	query := `SELECT ` + visitColumns + ` FROM visitors WHERE created_at >= $1 AND created_at < $2 ORDER BY created_at ASC, id ASC`
	return r.queryVisits(ctx, "list_visits_between", query, from, to)
}

// ListInteractionsSince returns interactions with created_at >= since, newest first
func (r *Repository) ListInteractionsSince(ctx context.Context, since time.Time) ([]InteractionEvent, error) {
	query := `SELECT ` + interactionColumns + ` FROM visitor_events WHERE created_at >= $1 ORDER BY created_at DESC`
	return r.queryInteractions(ctx, "list_interactions", query, since)
}

// ListInteractionsBetween returns interactions in [from, to), oldest first
func (r *Repository) ListInteractionsBetween(ctx context.Context, from, to time.Time) ([]InteractionEvent, error) {
	query := `SELECT ` + interactionColumns + ` FROM visitor_events WHERE created_at >= $1 AND created_at < $2 ORDER BY created_at ASC, id ASC`
	return r.queryInteractions(ctx, "list_interactions_between", query, from, to)
}

func (r *Repository) queryVisits(ctx context.Context, op, query string, args ...interface{}) (visits []VisitRecord, err error) {
	start := time.Now()
	defer func() { r.metrics.ObserveStorage(op, "postgres", start, err) }()

	rows, err := r.reader.Replica().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query visits: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var v VisitRecord
		var referrer, country, city sql.NullString
		if err := rows.Scan(&v.ID, &v.SessionID, &v.PagePath, &referrer, &v.UserAgent, &country, &city, &v.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan visit: %w", err)
		}
		v.Referrer = fromNullString(referrer)
		v.Country = fromNullString(country)
		v.City = fromNullString(city)
		visits = append(visits, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read visits: %w", err)
	}
	return visits, nil
}

func (r *Repository) queryInteractions(ctx context.Context, op, query string, args ...interface{}) (events []InteractionEvent, err error) {
	start := time.Now()
	defer func() { r.metrics.ObserveStorage(op, "postgres", start, err) }()

	rows, err := r.reader.Replica().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query interactions: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var e InteractionEvent
		var eventType string
		var tag, text, id, class sql.NullString
		var x, y, depth sql.NullInt64
		if err := rows.Scan(
			&e.ID, &e.SessionID, &e.PagePath, &eventType,
			&tag, &text, &id, &class,
			&x, &y, &e.ViewportWidth, &e.ViewportHeight, &depth, &e.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan interaction: %w", err)
		}
		e.EventType = EventType(eventType)
		e.ElementTag = fromNullString(tag)
		e.ElementText = fromNullString(text)
		e.ElementID = fromNullString(id)
		e.ElementClass = fromNullString(class)
		e.XPosition = fromNullInt(x)
		e.YPosition = fromNullInt(y)
		e.ScrollDepth = fromNullInt(depth)
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read interactions: %w", err)
	}
	return events, nil
}

func fromNullString(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}

func fromNullInt(ni sql.NullInt64) *int {
	if !ni.Valid {
		return nil
	}
	i := int(ni.Int64)
	return &i
}
