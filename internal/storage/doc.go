// Package storage persists Relying Party records.
//
// Store is implemented by four interchangeable backends, selected by the
// storage setting of the configuration:
//
//   - memory: process local map, lost on restart
//   - file: one JSON document per RP in a directory, guarded by a lock file
//   - sqlite: a SQLite database with goose managed migrations
//   - redis: JSON strings in Redis, shared between daemon instances
//
// All backends serialize writers to the same oxd_id and never expose a
// partially written record to readers.
package storage
