// Package pattern persists the allocation usage pattern between runs.
//
// File stores the pattern as a small checksummed binary file written
// atomically through a temp file and rename. Pebble keeps one key per
// size class in a pebble database, for deployments that already run
// the event outbox on pebble.
package pattern
