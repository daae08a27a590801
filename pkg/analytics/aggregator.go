package analytics

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Aggregator rolls the event log up into per-day, per-page statistics
type Aggregator struct {
	db *sql.DB
}

// NewAggregator creates a new aggregator
func NewAggregator(db *sql.DB) *Aggregator {
	return &Aggregator{db: db}
}

const rollupVisitorsQuery = `
	INSERT INTO visitor_stats_daily (
		day, page_path, visits, unique_sessions, updated_at
	)
	SELECT
		$1::date AS day,
		page_path,
		COUNT(*) AS visits,
		COUNT(DISTINCT session_id) AS unique_sessions,
		NOW()
	FROM visitors
	WHERE created_at >= $1
	  AND created_at < $2
	GROUP BY page_path
	ON CONFLICT (day, page_path) DO UPDATE SET
		visits = EXCLUDED.visits,
		unique_sessions = EXCLUDED.unique_sessions,
		updated_at = EXCLUDED.updated_at
`

const rollupInteractionsQuery = `
	INSERT INTO interaction_stats_daily (
		day, page_path, clicks, scrolls, form_submits, unique_sessions, updated_at
	)
	SELECT
		$1::date AS day,
		page_path,
		COUNT(*) FILTER (WHERE event_type = 'click') AS clicks,
		COUNT(*) FILTER (WHERE event_type = 'scroll') AS scrolls,
		COUNT(*) FILTER (WHERE event_type = 'form_submit') AS form_submits,
		COUNT(DISTINCT session_id) AS unique_sessions,
		NOW()
	FROM visitor_events
	WHERE created_at >= $1
	  AND created_at < $2
	GROUP BY page_path
	ON CONFLICT (day, page_path) DO UPDATE SET
		clicks = EXCLUDED.clicks,
		scrolls = EXCLUDED.scrolls,
		form_submits = EXCLUDED.form_submits,
		unique_sessions = EXCLUDED.unique_sessions,
		updated_at = EXCLUDED.updated_at
`

// DayBounds returns the UTC midnight starting day and the following midnight
func DayBounds(day time.Time) (time.Time, time.Time) {
	d := day.UTC()
	start := time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, time.UTC)
	return start, start.AddDate(0, 0, 1)
}

// RollupDaily recomputes both daily tables for the UTC day containing day.
// Re-running a day overwrites its rows.
func (a *Aggregator) RollupDaily(ctx context.Context, day time.Time) error {
	start, end := DayBounds(day)

	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin rollup: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, rollupVisitorsQuery, start, end); err != nil {
		return fmt.Errorf("failed to roll up visitors: %w", err)
	}
	if _, err := tx.ExecContext(ctx, rollupInteractionsQuery, start, end); err != nil {
		return fmt.Errorf("failed to roll up interactions: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit rollup: %w", err)
	}
	return nil
}

// RollupRange runs RollupDaily for every day from from through to, inclusive
func (a *Aggregator) RollupRange(ctx context.Context, from, to time.Time) error {
	day, _ := DayBounds(from)
	last, _ := DayBounds(to)
	for !day.After(last) {
		if err := a.RollupDaily(ctx, day); err != nil {
			return fmt.Errorf("%s: %w", day.Format(dayLayout), err)
		}
		day = day.AddDate(0, 0, 1)
	}
	return nil
}
