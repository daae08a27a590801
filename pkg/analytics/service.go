package analytics

import (
	"context"
	"errors"
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/platinummonkey/beacon/pkg/observability"
)

// ErrInvalidWindow is returned for a non-positive day window
var ErrInvalidWindow = errors.New("window must be at least one day")

// Source reads windows of the event log
type Source interface {
	ListVisitsSince(ctx context.Context, since time.Time) ([]VisitRecord, error)
	ListInteractionsSince(ctx context.Context, since time.Time) ([]InteractionEvent, error)
}

// ServiceConfig configures summary caching
type ServiceConfig struct {
	CacheTTL  time.Duration
	CacheSize int
}

// Service serves dashboard summaries, cached per window for CacheTTL
type Service struct {
	source       Source
	metrics      *observability.Metrics
	visitors     *lru.LRU[int, VisitorSummary]
	interactions *lru.LRU[int, InteractionSummary]
	now          func() time.Time
}

// NewService creates a new analytics service. A zero CacheTTL disables caching.
func NewService(source Source, config ServiceConfig, metrics *observability.Metrics) *Service {
	s := &Service{
		source:  source,
		metrics: metrics,
		now:     time.Now,
	}
	if config.CacheTTL > 0 {
		size := config.CacheSize
		if size < 1 {
			size = 16
		}
		s.visitors = lru.NewLRU[int, VisitorSummary](size, nil, config.CacheTTL)
		s.interactions = lru.NewLRU[int, InteractionSummary](size, nil, config.CacheTTL)
	}
	return s
}

// VisitorSummary summarizes visits from the last days days
func (s *Service) VisitorSummary(ctx context.Context, days int) (VisitorSummary, error) {
	if days < 1 {
		return VisitorSummary{}, ErrInvalidWindow
	}
	if s.visitors != nil {
		if cached, ok := s.visitors.Get(days); ok {
			s.cacheHit("visitors")
			return cached, nil
		}
		s.cacheMiss("visitors")
	}

	now := s.now()
	visits, err := s.source.ListVisitsSince(ctx, now.AddDate(0, 0, -days))
	if err != nil {
		return VisitorSummary{}, fmt.Errorf("failed to load visits: %w", err)
	}

	summary := SummarizeVisitors(visits, now)
	if s.visitors != nil {
		s.visitors.Add(days, summary)
	}
	return summary, nil
}

// InteractionSummary summarizes interactions from the last days days
func (s *Service) InteractionSummary(ctx context.Context, days int) (InteractionSummary, error) {
	if days < 1 {
		return InteractionSummary{}, ErrInvalidWindow
	}
	if s.interactions != nil {
		if cached, ok := s.interactions.Get(days); ok {
			s.cacheHit("interactions")
			return cached, nil
		}
		s.cacheMiss("interactions")
	}

	events, err := s.source.ListInteractionsSince(ctx, s.now().AddDate(0, 0, -days))
	if err != nil {
		return InteractionSummary{}, fmt.Errorf("failed to load interactions: %w", err)
	}

	summary := SummarizeInteractions(events)
	if s.interactions != nil {
		s.interactions.Add(days, summary)
	}
	return summary, nil
}

// Invalidate drops all cached summaries
func (s *Service) Invalidate() {
	if s.visitors != nil {
		s.visitors.Purge()
		s.interactions.Purge()
	}
}

func (s *Service) cacheHit(kind string) {
	if s.metrics != nil {
		s.metrics.CacheHitsTotal.WithLabelValues(kind).Inc()
	}
}

func (s *Service) cacheMiss(kind string) {
	if s.metrics != nil {
		s.metrics.CacheMissesTotal.WithLabelValues(kind).Inc()
	}
}
