// Package storage is the append-only drawing result log.
//
// Drivers:
//   - "file": one text line per result, "<prize> winner is <winner>"
//   - "sqlite": a results table in a SQLite database (modernc.org/sqlite)
package storage
