package analytics

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type dbReader struct{ db *sql.DB }

func (r dbReader) Replica() *sql.DB { return r.db }

func newRepository(t *testing.T) (*Repository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewRepository(dbReader{db}, nil), mock
}

func TestListVisitsSince(t *testing.T) {
	repo, mock := newRepository(t)
	since := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	t1 := since.Add(48 * time.Hour)
	t2 := since.Add(24 * time.Hour)

	rows := sqlmock.NewRows([]string{"id", "session_id", "page_path", "referrer", "user_agent", "country", "city", "created_at"}).
		AddRow(2, "s2", "/buy", "https://google.com", "UA", "NG", "Lagos", t1).
		AddRow(1, "s1", "/", nil, "UA", nil, nil, t2)
	mock.ExpectQuery("SELECT .+ FROM visitors WHERE created_at >= \\$1 ORDER BY created_at DESC").
		WithArgs(since).
		WillReturnRows(rows)

	visits, err := repo.ListVisitsSince(context.Background(), since)
	require.NoError(t, err)
	require.Len(t, visits, 2)

	assert.Equal(t, int64(2), visits[0].ID)
	assert.Equal(t, "https://google.com", *visits[0].Referrer)
	assert.Equal(t, "Lagos", *visits[0].City)
	assert.Nil(t, visits[1].Referrer)
	assert.Nil(t, visits[1].Country)
	assert.Equal(t, t2, visits[1].CreatedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListInteractionsSince(t *testing.T) {
	repo, mock := newRepository(t)
	since := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)

	rows := sqlmock.NewRows([]string{"id", "session_id", "page_path", "event_type",
		"element_tag", "element_text", "element_id", "element_class",
		"x_position", "y_position", "viewport_width", "viewport_height", "scroll_depth", "created_at"}).
		AddRow(5, "s1", "/buy", "click", "button", "Buy", "buy-btn", "btn primary", 10, 20, 1280, 720, nil, since).
		AddRow(4, "s1", "/buy", "scroll", nil, nil, nil, nil, nil, nil, 1280, 720, 50, since)
	mock.ExpectQuery("SELECT .+ FROM visitor_events WHERE created_at >= \\$1").
		WithArgs(since).
		WillReturnRows(rows)

	events, err := repo.ListInteractionsSince(context.Background(), since)
	require.NoError(t, err)
	require.Len(t, events, 2)

	click := events[0]
	assert.Equal(t, EventClick, click.EventType)
	assert.Equal(t, "buy-btn", *click.ElementID)
	assert.Equal(t, 20, *click.YPosition)
	assert.Nil(t, click.ScrollDepth)
	assert.NoError(t, click.Validate())

	scroll := events[1]
	assert.Equal(t, EventScroll, scroll.EventType)
	assert.Equal(t, 50, *scroll.ScrollDepth)
	assert.Nil(t, scroll.ElementTag)
	assert.NoError(t, scroll.Validate())
}

func TestListBetween(t *testing.T) {
	repo, mock := newRepository(t)
	from, to := DayBounds(time.Date(2026, 2, 3, 12, 0, 0, 0, time.UTC))

	mock.ExpectQuery("FROM visitors WHERE created_at >= \\$1 AND created_at < \\$2 ORDER BY created_at ASC").
		WithArgs(from, to).
		WillReturnRows(sqlmock.NewRows([]string{"id", "session_id", "page_path", "referrer", "user_agent", "country", "city", "created_at"}))
	mock.ExpectQuery("FROM visitor_events WHERE created_at >= \\$1 AND created_at < \\$2 ORDER BY created_at ASC").
		WithArgs(from, to).
		WillReturnRows(sqlmock.NewRows([]string{"id", "session_id", "page_path", "event_type",
			"element_tag", "element_text", "element_id", "element_class",
			"x_position", "y_position", "viewport_width", "viewport_height", "scroll_depth", "created_at"}))

	visits, err := repo.ListVisitsBetween(context.Background(), from, to)
	require.NoError(t, err)
	assert.Empty(t, visits)

	events, err := repo.ListInteractionsBetween(context.Background(), from, to)
	require.NoError(t, err)
	assert.Empty(t, events)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListVisitsSince_QueryError(t *testing.T) {
	repo, mock := newRepository(t)
	mock.ExpectQuery("FROM visitors").WillReturnError(errors.New("replica down"))

	_, err := repo.ListVisitsSince(context.Background(), time.Now())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "replica down")
}
