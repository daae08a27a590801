// Package api exposes the beacon HTTP API: event ingest, dashboard
// summaries, presence and the realtime websocket, plus health and metrics.
//
// Routes:
//
//	POST /api/v1/visits                   record a page visit (204)
//	POST /api/v1/events                   record one interaction (204)
//	POST /api/v1/events/batch             record {"events":[...]} (204)
//	POST /api/v1/events/click             resolve a raw click target and record it (204)
//	GET  /api/v1/analytics/visitors       visitor summary, ?days=30
//	GET  /api/v1/analytics/interactions   interaction summary, ?days=7
//	GET  /api/v1/presence/active          active users, ?scope=local|cluster
//	GET  /api/v1/realtime/online-users    presence websocket, ?key=<session id>
//	GET  /health/live, /health/ready, /metrics
//
// Validation failures answer 400 and read or write failures 500, both with
// a {"error": "..."} body.
package api
