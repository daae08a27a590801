package capture

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/platinummonkey/beacon/pkg/analytics"
	"github.com/platinummonkey/beacon/pkg/async"
	"github.com/platinummonkey/beacon/pkg/observability"
	"github.com/platinummonkey/beacon/pkg/session"
)

// Sink receives captured rows
type Sink interface {
	RecordVisit(ctx context.Context, visit analytics.VisitRecord) error
	RecordInteraction(ctx context.Context, event analytics.InteractionEvent) error
}

// Viewport is the visible area in CSS pixels
type Viewport struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Options configures a Tracker
type Options struct {
	// Referrer is the page-load-time referrer. It is read once.
	Referrer       string
	UserAgent      string
	Viewport       Viewport
	DebounceWindow time.Duration
	WriteTimeout   time.Duration
	Logger         *observability.Logger
}

// Tracker turns interaction signals for one tab into rows written to a Sink.
// Writes are fire-and-forget: failures are logged and dropped.
type Tracker struct {
	ctx      context.Context
	session  session.Context
	sink     Sink
	referrer *string
	agent    string
	logger   *observability.Logger
	writes   *async.Group

	mu       sync.Mutex
	route    string
	gen      uint64
	viewport Viewport
	closed   bool

	scroll    *ScrollTracker
	debouncer *Debouncer[scrollSample]
}

type scrollSample struct {
	metrics ScrollMetrics
	gen     uint64
}

// NewTracker creates the listeners for one mount. ctx bounds every write.
func NewTracker(ctx context.Context, sess session.Context, sink Sink, opts Options) *Tracker {
	logger := opts.Logger
	if logger == nil {
		logger = observability.NopLogger()
	}
	logger = logger.WithComponent("capture").WithField("session_id", sess.ID)

	t := &Tracker{
		ctx:      ctx,
		session:  sess,
		sink:     sink,
		referrer: analytics.StringPtr(opts.Referrer),
		agent:    opts.UserAgent,
		logger:   logger,
		writes:   async.NewGroup(logger, opts.WriteTimeout),
		viewport: opts.Viewport,
		scroll:   NewScrollTracker(),
	}
	t.debouncer = NewDebouncer(opts.DebounceWindow, t.evaluateScroll)
	return t
}

// Route returns the current page path
func (t *Tracker) Route() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.route
}

// SetViewport updates the viewport recorded with later events
func (t *Tracker) SetViewport(v Viewport) {
	t.mu.Lock()
	t.viewport = v
	t.mu.Unlock()
}

// Navigate records a visit to path and resets all scroll state for the new route
func (t *Tracker) Navigate(path string) {
	t.debouncer.Cancel()

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.route = path
	t.gen++
	t.scroll.Reset()
	t.mu.Unlock()

	visit := analytics.VisitRecord{
		SessionID: t.session.ID,
		PagePath:  path,
		Referrer:  t.referrer,
		UserAgent: t.agent,
	}
	t.writes.Go(t.ctx, "record visit", func(ctx context.Context) error {
		return t.sink.RecordVisit(ctx, visit)
	})
}

// Click records a click on target, attributed to its nearest interactive
// element. It reports whether anything was recorded.
func (t *Tracker) Click(target Element) bool {
	event, ok := ClickEvent(target)
	if !ok {
		return false
	}
	return t.record(event)
}

// ClickEvent builds the element and position fields of a click on target.
// Session, route and viewport are left for the caller. ok is false when
// target has no interactive ancestor.
func ClickEvent(target Element) (event analytics.InteractionEvent, ok bool) {
	el := ResolveTarget(target)
	if el == nil {
		return analytics.InteractionEvent{}, false
	}

	x, y := el.Bounds().Midpoint()
	return analytics.InteractionEvent{
		EventType:    analytics.EventClick,
		ElementTag:   analytics.StringPtr(strings.ToLower(el.TagName())),
		ElementText:  analytics.StringPtr(analytics.Truncate(strings.TrimSpace(el.Text()), MaxTextLength)),
		ElementID:    analytics.StringPtr(el.ID()),
		ElementClass: analytics.StringPtr(analytics.Truncate(el.ClassName(), MaxClassLength)),
		XPosition:    analytics.IntPtr(x),
		YPosition:    analytics.IntPtr(y),
	}, true
}

// Submit records a form submission
func (t *Tracker) Submit(form Element) bool {
	event := analytics.InteractionEvent{
		EventType:  analytics.EventFormSubmit,
		ElementTag: analytics.StringPtr("form"),
	}
	if form != nil {
		event.ElementID = analytics.StringPtr(form.ID())
		event.ElementClass = analytics.StringPtr(analytics.Truncate(form.ClassName(), MaxClassLength))
	}
	return t.record(event)
}

// Scroll feeds a scroll signal. Evaluation happens once the window has been
// quiet for the debounce window.
func (t *Tracker) Scroll(m ScrollMetrics) {
	t.mu.Lock()
	gen, closed := t.gen, t.closed
	t.mu.Unlock()
	if closed {
		return
	}
	t.debouncer.Feed(scrollSample{metrics: m, gen: gen})
}

func (t *Tracker) evaluateScroll(s scrollSample) {
	t.mu.Lock()
	if s.gen != t.gen || t.route == "" {
		// the route changed after this sample was taken
		t.mu.Unlock()
		return
	}
	crossed := t.scroll.Observe(s.metrics.Depth())
	route := t.route
	t.mu.Unlock()

	if len(crossed) == 0 {
		return
	}
	events := make([]analytics.InteractionEvent, 0, len(crossed))
	for _, threshold := range crossed {
		events = append(events, analytics.InteractionEvent{
			PagePath:    route,
			EventType:   analytics.EventScroll,
			ScrollDepth: analytics.IntPtr(threshold),
		})
	}
	// scroll evaluations flushed by Close still go out
	t.dispatch(events, true)
}

// record stamps event with the session, route and viewport and writes it in the background
func (t *Tracker) record(event analytics.InteractionEvent) bool {
	return t.dispatch([]analytics.InteractionEvent{event}, false)
}

// dispatch writes events in order from a single background task
func (t *Tracker) dispatch(events []analytics.InteractionEvent, afterClose bool) bool {
	t.mu.Lock()
	route, viewport, closed := t.route, t.viewport, t.closed
	t.mu.Unlock()

	if route == "" {
		t.logger.WithField("event_type", events[0].EventType).Debug("Dropping event captured before the first navigation")
		return false
	}
	if closed && !afterClose {
		return false
	}

	for i := range events {
		events[i].SessionID = t.session.ID
		if events[i].PagePath == "" {
			events[i].PagePath = route
		}
		events[i].ViewportWidth = viewport.Width
		events[i].ViewportHeight = viewport.Height
	}

	t.writes.Go(t.ctx, "record "+string(events[0].EventType), func(ctx context.Context) error {
		for _, event := range events {
			if err := t.sink.RecordInteraction(ctx, event); err != nil {
				return err
			}
		}
		return nil
	})
	return true
}

// Close evaluates the final resting scroll position, then waits for
// in-flight writes until ctx is done.
func (t *Tracker) Close(ctx context.Context) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	t.mu.Unlock()

	t.debouncer.Flush()
	return t.writes.Wait(ctx)
}
