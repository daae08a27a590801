// Package archive exports each UTC day of captured events to S3 as
// newline-delimited JSON, one object per kind:
//
//	<prefix>/visits/2026/03/01.ndjson
//	<prefix>/interactions/2026/03/01.ndjson
//
// Re-exporting a day overwrites its objects.
package archive
