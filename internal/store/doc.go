// Package store persists call records and conversation turns in SQLite.
// The schema is managed through embedded goose migrations and all access
// is serialized over a single connection.
package store
