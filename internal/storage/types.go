package storage

import (
	"context"
	"errors"
	"time"
)

var (
	ErrDisabled    = errors.New("storage disabled")
	ErrClosed      = errors.New("storage closed")
	ErrLockTimeout = errors.New("storage lock wait timed out")
)

// Config configures storage.
//
// Driver values:
//   - "memory": process-local, used by tests and dry runs
//   - "file": JSON documents + JSON Lines audit under Path
//   - "sqlite": SQLite database file at Path
//   - "postgres": PostgreSQL database at DSN
//   - "redis": Redis server at DSN (redis:// URL)
type Config struct {
	Driver string
	Path   string
	DSN    string

	// LockTimeout bounds how long Update waits for a key lock. 0 means 5s.
	LockTimeout time.Duration
	// BusyTimeout is passed to SQLite; 0 keeps the driver default.
	BusyTimeout time.Duration

	// AuditMax is the record count that triggers rotation; AuditKeep is
	// how many of the newest records survive it. Defaults 100 / 50.
	AuditMax  int
	AuditKeep int
}

func (c Config) withDefaults() Config {
	if c.LockTimeout <= 0 {
		c.LockTimeout = 5 * time.Second
	}
	if c.AuditMax <= 0 {
		c.AuditMax = 100
	}
	if c.AuditKeep <= 0 || c.AuditKeep > c.AuditMax {
		c.AuditKeep = c.AuditMax / 2
	}
	return c
}

// UpdateFunc receives the current document (nil when absent) and returns the
// replacement. Returning a nil slice leaves the stored value unchanged.
// A non-nil error aborts the update and is returned from Update.
type UpdateFunc func(cur []byte) (next []byte, err error)

// Store is the persistence API used by the pipeline.
type Store interface {
	// Update runs fn under the exclusive lock for key.
	Update(ctx context.Context, key string, fn UpdateFunc) error
	// Get reads key without taking the lock.
	Get(ctx context.Context, key string) ([]byte, bool, error)

	AppendAudit(ctx context.Context, e AuditEntry) error
	// RecentAudit returns up to n newest records, oldest first. n <= 0 means all.
	RecentAudit(ctx context.Context, n int) ([]AuditEntry, error)

	Close() error
}

// Audit statuses.
const (
	AuditDelivered   = "delivered"
	AuditDryRun      = "dry_run"
	AuditFailed      = "failed"
	AuditConfigError = "config_error"
	AuditCircuitOpen = "circuit_open"
	AuditDebounced   = "debounced"
)

// AuditEntry records one delivery attempt (or suppression) of a queued alert.
// Keep it compact and schema-stable.
type AuditEntry struct {
	At       time.Time `json:"at"`
	EntryID  string    `json:"entry_id"`
	Type     string    `json:"type"`
	Priority string    `json:"priority"`
	ServerID string    `json:"server_id,omitempty"`
	Channel  string    `json:"channel,omitempty"`
	Status   string    `json:"status"`
	Attempts int       `json:"attempts,omitempty"`
	Error    string    `json:"error,omitempty"`
	Context  string    `json:"context,omitempty"`
	TookMS   int64     `json:"took_ms,omitempty"`
}
