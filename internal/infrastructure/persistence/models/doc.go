// Package models contains GORM-specific persistence models that map to database tables.
// These models are separate from domain entities to keep the domain layer free
// from ORM concerns.
//
// Structure:
// - base.go: shared columns and JSON column helpers
// - integration.go: connected third-party accounts
// - sync_log.go: delivery audit records
// - delivery_job.go: dispatch queue rows
package models
