package postgres

import (
	"context"
	"database/sql"
	"fmt"
)

// Schema is the DDL for the event log and the daily rollup tables
const Schema = `
CREATE TABLE IF NOT EXISTS visitors (
	id BIGSERIAL PRIMARY KEY,
	session_id VARCHAR(64) NOT NULL,
	page_path TEXT NOT NULL,
	referrer TEXT,
	user_agent TEXT NOT NULL DEFAULT '',
	country VARCHAR(64),
	city VARCHAR(128),
	created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_visitors_created_at ON visitors(created_at DESC);
CREATE INDEX IF NOT EXISTS idx_visitors_session_id ON visitors(session_id);

CREATE TABLE IF NOT EXISTS visitor_events (
	id BIGSERIAL PRIMARY KEY,
	session_id VARCHAR(64) NOT NULL,
	page_path TEXT NOT NULL,
	event_type VARCHAR(20) NOT NULL CHECK (event_type IN ('click', 'scroll', 'form_submit')),
	element_tag VARCHAR(32),
	element_text VARCHAR(100),
	element_id VARCHAR(255),
	element_class VARCHAR(200),
	x_position INTEGER,
	y_position INTEGER,
	viewport_width INTEGER NOT NULL DEFAULT 0,
	viewport_height INTEGER NOT NULL DEFAULT 0,
	scroll_depth SMALLINT CHECK (scroll_depth IN (25, 50, 75, 100)),
	created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_visitor_events_created_at ON visitor_events(created_at DESC);
CREATE INDEX IF NOT EXISTS idx_visitor_events_type ON visitor_events(event_type);

CREATE TABLE IF NOT EXISTS visitor_stats_daily (
	day DATE NOT NULL,
	page_path TEXT NOT NULL,
	visits BIGINT NOT NULL DEFAULT 0,
	unique_sessions BIGINT NOT NULL DEFAULT 0,
	updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
	PRIMARY KEY (day, page_path)
);

CREATE TABLE IF NOT EXISTS interaction_stats_daily (
	day DATE NOT NULL,
	page_path TEXT NOT NULL,
	clicks BIGINT NOT NULL DEFAULT 0,
	scrolls BIGINT NOT NULL DEFAULT 0,
	form_submits BIGINT NOT NULL DEFAULT 0,
	unique_sessions BIGINT NOT NULL DEFAULT 0,
	updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
	PRIMARY KEY (day, page_path)
);
`

// EnsureSchema creates the tables and indexes when they do not exist
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("failed to ensure schema: %w", err)
	}
	return nil
}
