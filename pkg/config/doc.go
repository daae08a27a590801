// Package config loads beacon configuration.
//
// Values start from Default, are overlaid by the YAML file named in
// BEACON_CONFIG_FILE, and finally by BEACON_* environment variables:
//
//	BEACON_PORT="8080"
//	BEACON_POSTGRES_URL="postgres://beacon@localhost/beacon?sslmode=disable"
//	BEACON_POSTGRES_REPLICA_URLS="postgres://replica-1/beacon,postgres://replica-2/beacon"
//	BEACON_REDIS_URL="redis://localhost:6379/0"
//	BEACON_INGEST_MODE="kafka"
//	BEACON_KAFKA_BROKERS="kafka-1:9092,kafka-2:9092"
//	BEACON_S3_BUCKET="beacon-archive"
//	BEACON_LOG_LEVEL="debug"
//
// The same settings in YAML:
//
//	server:
//	  port: "8080"
//	  ingest_mode: kafka
//	kafka:
//	  brokers: ["kafka-1:9092"]
//	analytics:
//	  cache_ttl: 30s
package config
