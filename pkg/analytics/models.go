package analytics

import "time"

// EventType enumerates interaction kinds
type EventType string

const (
	EventClick      EventType = "click"
	EventScroll     EventType = "scroll"
	EventFormSubmit EventType = "form_submit"
)

// ScrollThresholds are the only depths a scroll event may carry, ascending
var ScrollThresholds = [...]int{25, 50, 75, 100}

// IsScrollThreshold reports whether depth is one of ScrollThresholds
func IsScrollThreshold(depth int) bool {
	for _, t := range ScrollThresholds {
		if t == depth {
			return true
		}
	}
	return false
}

// VisitRecord is one page navigation. Rows are immutable once written.
type VisitRecord struct {
	ID        int64     `json:"id,omitempty"`
	SessionID string    `json:"session_id"`
	PagePath  string    `json:"page_path"`
	Referrer  *string   `json:"referrer"`
	UserAgent string    `json:"user_agent"`
	Country   *string   `json:"country"`
	City      *string   `json:"city"`
	// CreatedAt is assigned by the store; ingest payloads leave it zero
	CreatedAt time.Time `json:"created_at"`
}

// InteractionEvent is one click, scroll threshold or form submission.
// Only the optional group matching EventType is populated.
type InteractionEvent struct {
	ID             int64     `json:"id,omitempty"`
	SessionID      string    `json:"session_id"`
	PagePath       string    `json:"page_path"`
	EventType      EventType `json:"event_type"`
	ElementTag     *string   `json:"element_tag,omitempty"`
	ElementText    *string   `json:"element_text,omitempty"`
	ElementID      *string   `json:"element_id,omitempty"`
	ElementClass   *string   `json:"element_class,omitempty"`
	XPosition      *int      `json:"x_position,omitempty"`
	YPosition      *int      `json:"y_position,omitempty"`
	ViewportWidth  int       `json:"viewport_width"`
	ViewportHeight int       `json:"viewport_height"`
	ScrollDepth    *int      `json:"scroll_depth,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// StringPtr returns nil for the empty string
func StringPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// IntPtr returns a pointer to i
func IntPtr(i int) *int {
	return &i
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
