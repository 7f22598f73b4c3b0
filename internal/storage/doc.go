// Package storage persists the destination registry.
//
// Two drivers are available:
//   - file: one JSON document, rewritten atomically (temp file, fsync, rename)
//   - sqlite: a destinations table, rewritten in a single transaction
//
// Both replace the whole set on every save, so a reader of the persisted form
// always sees either the previous or the next complete state.
package storage
