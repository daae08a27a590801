package analytics

import (
	"math"
	"sort"
	"strings"
	"time"
)

// Summary limits
const (
	TopPagesLimit      = 10
	TopReferrersLimit  = 10
	HotspotLimit       = 15
	PageActionsLimit   = 10
	RecentLimit        = 50
	HotspotKeyLength   = 30
	HotspotLabelLength = 50
)

// DirectReferrer labels visits without a referrer
const DirectReferrer = "Direct"

// UnknownElement keys clicks with no id, text or tag
const UnknownElement = "unknown"

const dayLayout = "2006-01-02"

// DailyVisits is one calendar day (UTC) of visits
type DailyVisits struct {
	Date           string `json:"date"`
	Visits         int    `json:"visits"`
	UniqueSessions int    `json:"unique_sessions"`
}

// PageCount is a page and its visit count
type PageCount struct {
	Page  string `json:"page"`
	Count int    `json:"count"`
}

// ReferrerCount is a referrer and its visit count
type ReferrerCount struct {
	Referrer string `json:"referrer"`
	Count    int    `json:"count"`
}

// VisitorSummary is the visitor dashboard
type VisitorSummary struct {
	TotalVisits    int             `json:"total_visits"`
	UniqueSessions int             `json:"unique_sessions"`
	Today          DailyVisits     `json:"today"`
	Daily          []DailyVisits   `json:"daily"`
	TopPages       []PageCount     `json:"top_pages"`
	TopReferrers   []ReferrerCount `json:"top_referrers"`
	Recent         []VisitRecord   `json:"recent"`
}

// Hotspot is a clicked element and how often it was clicked
type Hotspot struct {
	Element string `json:"element"`
	Label   string `json:"label"`
	Count   int    `json:"count"`
}

// PageActions counts interactions on one page
type PageActions struct {
	Page        string `json:"page"`
	Clicks      int    `json:"clicks"`
	Scrolls     int    `json:"scrolls"`
	FormSubmits int    `json:"form_submits"`
}

// ScrollBucket is the share of scroll events at one threshold
type ScrollBucket struct {
	Depth      int `json:"depth"`
	Count      int `json:"count"`
	Percentage int `json:"percentage"`
}

// InteractionSummary is the interaction dashboard
type InteractionSummary struct {
	TotalEvents      int                `json:"total_events"`
	TotalClicks      int                `json:"total_clicks"`
	TotalScrolls     int                `json:"total_scrolls"`
	TotalFormSubmits int                `json:"total_form_submits"`
	UniqueSessions   int                `json:"unique_sessions"`
	Hotspots         []Hotspot          `json:"hotspots"`
	Pages            []PageActions      `json:"pages"`
	ScrollDepth      []ScrollBucket     `json:"scroll_depth"`
	Recent           []InteractionEvent `json:"recent"`
}

// SummarizeVisitors folds visits, newest first, into a VisitorSummary.
// Days are UTC dates of created_at; today is taken from now.
func SummarizeVisitors(visits []VisitRecord, now time.Time) VisitorSummary {
	sessions := make(map[string]struct{})
	days := make(map[string]map[string]struct{})
	dayVisits := make(map[string]int)
	pages := newCounter()
	referrers := newCounter()

	for _, v := range visits {
		sessions[v.SessionID] = struct{}{}

		day := v.CreatedAt.UTC().Format(dayLayout)
		if days[day] == nil {
			days[day] = make(map[string]struct{})
		}
		days[day][v.SessionID] = struct{}{}
		dayVisits[day]++

		pages.add(v.PagePath)

		ref := strings.TrimSpace(deref(v.Referrer))
		if ref == "" {
			ref = DirectReferrer
		}
		referrers.add(ref)
	}

	daily := make([]DailyVisits, 0, len(days))
	for day, s := range days {
		daily = append(daily, DailyVisits{Date: day, Visits: dayVisits[day], UniqueSessions: len(s)})
	}
	sort.Slice(daily, func(i, j int) bool { return daily[i].Date < daily[j].Date })

	today := DailyVisits{Date: now.UTC().Format(dayLayout)}
	for _, d := range daily {
		if d.Date == today.Date {
			today = d
			break
		}
	}

	summary := VisitorSummary{
		TotalVisits:    len(visits),
		UniqueSessions: len(sessions),
		Today:          today,
		Daily:          daily,
		TopPages:       make([]PageCount, 0, TopPagesLimit),
		TopReferrers:   make([]ReferrerCount, 0, TopReferrersLimit),
		Recent:         recent(visits),
	}
	for _, e := range pages.top(TopPagesLimit) {
		summary.TopPages = append(summary.TopPages, PageCount{Page: e.key, Count: e.count})
	}
	for _, e := range referrers.top(TopReferrersLimit) {
		summary.TopReferrers = append(summary.TopReferrers, ReferrerCount{Referrer: e.key, Count: e.count})
	}
	return summary
}

// SummarizeInteractions folds interactions, newest first, into an InteractionSummary
func SummarizeInteractions(events []InteractionEvent) InteractionSummary {
	summary := InteractionSummary{TotalEvents: len(events)}

	sessions := make(map[string]struct{})
	hotspots := newCounter()
	labels := make(map[string]string)
	pageIndex := make(map[string]int)
	var pages []PageActions
	depths := make(map[int]int)

	for _, e := range events {
		sessions[e.SessionID] = struct{}{}

		i, ok := pageIndex[e.PagePath]
		if !ok {
			i = len(pages)
			pageIndex[e.PagePath] = i
			pages = append(pages, PageActions{Page: e.PagePath})
		}

		switch e.EventType {
		case EventClick:
			summary.TotalClicks++
			pages[i].Clicks++
			key := hotspotKey(e)
			if hotspots.add(key) {
				labels[key] = hotspotLabel(e, key)
			}
		case EventScroll:
			summary.TotalScrolls++
			pages[i].Scrolls++
			if e.ScrollDepth != nil {
				depths[*e.ScrollDepth]++
			}
		case EventFormSubmit:
			summary.TotalFormSubmits++
			pages[i].FormSubmits++
		}
	}
	summary.UniqueSessions = len(sessions)

	summary.Hotspots = make([]Hotspot, 0, HotspotLimit)
	for _, h := range hotspots.top(HotspotLimit) {
		summary.Hotspots = append(summary.Hotspots, Hotspot{Element: h.key, Label: labels[h.key], Count: h.count})
	}

	sort.SliceStable(pages, func(i, j int) bool {
		return pages[i].Clicks+pages[i].Scrolls > pages[j].Clicks+pages[j].Scrolls
	})
	if len(pages) > PageActionsLimit {
		pages = pages[:PageActionsLimit]
	}
	if pages == nil {
		pages = []PageActions{}
	}
	summary.Pages = pages

	summary.ScrollDepth = make([]ScrollBucket, 0, len(ScrollThresholds))
	for _, t := range ScrollThresholds {
		bucket := ScrollBucket{Depth: t, Count: depths[t]}
		if summary.TotalScrolls > 0 {
			bucket.Percentage = int(math.Round(float64(bucket.Count) / float64(summary.TotalScrolls) * 100))
		}
		summary.ScrollDepth = append(summary.ScrollDepth, bucket)
	}

	summary.Recent = recent(events)
	return summary
}

func hotspotKey(e InteractionEvent) string {
	if id := deref(e.ElementID); id != "" {
		return id
	}
	if text := deref(e.ElementText); text != "" {
		return Truncate(text, HotspotKeyLength)
	}
	if tag := deref(e.ElementTag); tag != "" {
		return tag
	}
	return UnknownElement
}

func hotspotLabel(e InteractionEvent, key string) string {
	if text := deref(e.ElementText); text != "" {
		return Truncate(text, HotspotLabelLength)
	}
	return key
}

// Truncate cuts s to at most n runes
func Truncate(s string, n int) string {
	if n <= 0 {
		return ""
	}
	count := 0
	for i := range s {
		if count == n {
			return s[:i]
		}
		count++
	}
	return s
}

func recent[T any](rows []T) []T {
	n := len(rows)
	if n > RecentLimit {
		n = RecentLimit
	}
	out := make([]T, n)
	copy(out, rows[:n])
	return out
}

type counted struct {
	key   string
	count int
}

// counter counts keys and ranks them by count, ties in first-seen order
type counter struct {
	index   map[string]int
	entries []counted
}

func newCounter() *counter {
	return &counter{index: make(map[string]int)}
}

// add increments key and reports whether it was seen for the first time
func (c *counter) add(key string) bool {
	if i, ok := c.index[key]; ok {
		c.entries[i].count++
		return false
	}
	c.index[key] = len(c.entries)
	c.entries = append(c.entries, counted{key: key, count: 1})
	return true
}

func (c *counter) top(n int) []counted {
	ranked := make([]counted, len(c.entries))
	copy(ranked, c.entries)
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].count > ranked[j].count })
	if len(ranked) > n {
		ranked = ranked[:n]
	}
	return ranked
}
