// Package cli implements the beacon command line.
//
//	beacon serve                          HTTP API, presence, scheduled rollup and archive
//	beacon consume [--workers N]          Kafka topic to PostgreSQL
//	beacon rollup [--date D] [--through D]
//	beacon archive [--date D]
//	beacon summary --kind visitors|interactions [--days N]
//
// Configuration comes from BEACON_* environment variables, optionally
// layered over the YAML file given by --config.
package cli
