package capture

import (
	"math"
	"sync"

	"github.com/platinummonkey/beacon/pkg/analytics"
)

// ScrollMetrics is a snapshot of the document scroll position
type ScrollMetrics struct {
	ScrollTop      float64 `json:"scroll_top"`
	DocumentHeight float64 `json:"document_height"`
	ViewportHeight float64 `json:"viewport_height"`
}

// Depth returns the scrolled percentage, 0 when the document does not
// scroll, clamped to [0, 100].
func (m ScrollMetrics) Depth() int {
	scrollable := m.DocumentHeight - m.ViewportHeight
	if scrollable <= 0 {
		return 0
	}
	depth := int(math.Round(m.ScrollTop / scrollable * 100))
	if depth < 0 {
		return 0
	}
	if depth > 100 {
		return 100
	}
	return depth
}

// ScrollTracker keeps the per-route high-water mark and the highest
// threshold already emitted.
type ScrollTracker struct {
	mu        sync.Mutex
	highWater int
	lastSent  int
}

// NewScrollTracker creates a tracker in its initial state
func NewScrollTracker() *ScrollTracker {
	return &ScrollTracker{}
}

// Observe records depth and returns the thresholds it newly crosses, ascending
func (s *ScrollTracker) Observe(depth int) []int {
	s.mu.Lock()
	defer s.mu.Unlock()

	if depth > s.highWater {
		s.highWater = depth
	}

	var crossed []int
	for _, t := range analytics.ScrollThresholds {
		if t <= s.lastSent {
			continue
		}
		if t > s.highWater {
			break
		}
		crossed = append(crossed, t)
		s.lastSent = t
	}
	return crossed
}

// State returns the high-water mark and the last threshold sent
func (s *ScrollTracker) State() (highWater, lastSent int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.highWater, s.lastSent
}

// Reset returns the tracker to its initial state
func (s *ScrollTracker) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.highWater = 0
	s.lastSent = 0
}
