// Package stream carries captured events through Kafka.
//
// KafkaSink is a capture sink: the ingest API validates each row and
// publishes it as an Envelope keyed by session id. Consumer reads the
// topic with a pool of workers and writes every envelope to a Store,
// normally analytics.EventTracker. Messages are committed after handling
// whether or not the write succeeded.
package stream
