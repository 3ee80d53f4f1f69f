// Package storage provides the persistence layer shared by the alert pipeline.
//
// It provides:
//   - Keyed state documents with transactional read-modify-write (debounce
//     map, alert queue, per-channel failure counters)
//   - The capped delivery audit log
//
// Every driver guards each key with an exclusive lock that is acquired with a
// bounded wait. A wait that runs out returns ErrLockTimeout and the caller
// denies the guarded action.
package storage
