// Package analytics owns the visitor and interaction event log.
//
// # Writes
//
// EventTracker validates and appends rows to the visitors and visitor_events
// tables. Every InteractionEvent carries exactly the optional field group of
// its EventType; anything else fails with ErrInvalidEvent.
//
//	tracker := analytics.NewEventTracker(db, metrics)
//	err := tracker.RecordVisit(ctx, analytics.VisitRecord{
//		SessionID: sessionID,
//		PagePath:  "/sell",
//	})
//
// # Reads
//
// Repository fetches a window of rows newest first. SummarizeVisitors and
// SummarizeInteractions fold a window into dashboard summaries in one pass;
// both are deterministic and leave their input untouched. Service combines
// the two and keeps each (kind, days) summary in an expirable LRU.
//
// # Rollups
//
// Aggregator.RollupDaily recomputes visitor_stats_daily and
// interaction_stats_daily for one UTC day. Re-running a day is idempotent.
package analytics
