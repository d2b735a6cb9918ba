// Package storage is the optional write-only sink for execution outcomes and
// operator audit entries.
//
// Nothing here is read back by the scheduler: schedules only consult the
// in-memory history. The sink exists for operators and external tooling.
//
// Drivers:
//   - file: JSON Lines files next to the configured path
//   - sqlite: a SQLite database (modernc.org/sqlite, no cgo)
package storage
