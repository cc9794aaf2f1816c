// Package datumflow merges two streams of timestamped datum into one ordered,
// deduplicated stream. Datum are either offered directly by the code that
// sampled them, which also asks for them to be persisted, or arrive as
// "captured" broadcasts from other producers on a Watermill topic. Both paths
// feed a DatumQueue that holds every datum for a short reordering window,
// drops the broadcast twin of an offered datum, runs an optional Transformer
// and persists and fans out what is left.
//
// Service wires the pieces: it reads the broadcast transport (Go channels,
// NATS, Kafka, RabbitMQ, AWS SNS/SQS or HTTP webhooks) from Config, binds the
// queue's Notify handler to the captured topic on a Watermill router and
// starts the queue worker. A minimal setup fills Config starting from
// DefaultConfig, creates a Service with Open or NewService, registers
// consumers and calls Start.
//
// # Ordering and duplicates
//
// Each datum gets an effective time of its timestamp (clamped to now) plus
// Config.QueueDelay. The worker takes every datum sharing the earliest due
// effective time as one batch, ordered by source id with offered datum first.
// A captured datum directly following its offered twin from the same source
// is counted as a duplicate and skipped. The in-process channel transport
// preserves datum identity; other transports deliver copies, which are
// matched by Fingerprint instead.
//
// # Failures
//
// A failing transform or store aborts the batch and ends the worker; a
// supervisor starts a replacement immediately and reports the failure through
// ServiceDependencies.OnWorkerError. Consumer and hook failures are counted
// and logged but never stop the pipeline.
//
// # Stores
//
// OpenStores opens the SQLite or PostgreSQL store named by
// Config.StoreSystem. Any StoreResolver can be passed instead through
// ServiceDependencies.Stores.
package datumflow
