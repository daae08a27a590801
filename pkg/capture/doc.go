// Package capture converts page-level signals into visit and interaction rows.
//
// A Tracker is created once per mount with the tab's session.Context and a
// Sink. Navigate records a visit and resets scroll state for the new route.
// Click attributes a click to its nearest interactive element. Scroll
// signals pass through a trailing-edge Debouncer, so only the resting
// position after 500ms of quiet is evaluated; each of the 25/50/75/100
// thresholds is emitted at most once per route.
//
// Every write runs in the background. Sink failures are logged and dropped.
//
//	t := capture.NewTracker(ctx, sess, capture.NewHTTPSink("https://beacon.example", nil), capture.Options{
//		Referrer:  referrer,
//		UserAgent: userAgent,
//	})
//	defer t.Close(ctx)
//	t.Navigate("/sell")
package capture
