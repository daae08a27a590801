// Package middleware rate limits the public ingest routes.
//
// RateLimiter keeps token buckets in process; DistributedRateLimiter
// shares a fixed-window counter per client through Redis. Either plugs into
// RateLimit:
//
//	limit := middleware.RateLimit(limiter, middleware.IngestRateLimitConfig(600), logger)
//	ingest.Use(limit)
package middleware
