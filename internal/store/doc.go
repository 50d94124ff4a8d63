// Package store provides durable SQLite-backed storage for per-entity
// violation state and the cycle audit trail. It implements the
// engine's StateStore and Auditor contracts.
package store
