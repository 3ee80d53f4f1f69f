package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	logx "alertrelay/pkg/logx"
)

// dialect captures the few places sqlite and postgres differ.
type dialect struct {
	name string
	// bind rewrites "?" placeholders for the driver.
	bind func(q string) string
	// lockKey runs inside the transaction before the read, for drivers
	// that need an explicit cross-process lock.
	lockKey func(ctx context.Context, tx *sql.Tx, key string, timeout time.Duration) error
}

// sqlStore is shared by the sqlite and postgres drivers.
type sqlStore struct {
	db    *sql.DB
	log   logx.Logger
	cfg   Config
	d     dialect
	locks keyLocks
}

func (s *sqlStore) q(query string) string {
	if s.d.bind == nil {
		return query
	}
	return s.d.bind(query)
}

func (s *sqlStore) migrate(ctx context.Context, schema string) error {
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

func (s *sqlStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqlStore) Update(ctx context.Context, key string, fn UpdateFunc) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	unlock, err := s.locks.acquire(ctx, key, s.cfg.LockTimeout)
	if err != nil {
		return err
	}
	defer unlock()

	lctx, cancel := context.WithTimeout(ctx, s.cfg.LockTimeout)
	defer cancel()

	tx, err := s.db.BeginTx(lctx, nil)
	if err != nil {
		return s.lockErr(ctx, err)
	}
	defer func() { _ = tx.Rollback() }()

	if s.d.lockKey != nil {
		if err := s.d.lockKey(lctx, tx, key, s.cfg.LockTimeout); err != nil {
			return s.lockErr(ctx, err)
		}
	}

	var cur []byte
	err = tx.QueryRowContext(lctx, s.q(`SELECT value FROM state WHERE key = ?`), key).Scan(&cur)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return s.lockErr(ctx, err)
	}

	next, err := fn(cur)
	if err != nil {
		return err
	}
	if next == nil {
		return nil
	}

	_, err = tx.ExecContext(lctx, s.q(
		`INSERT INTO state(key, value, updated_at) VALUES(?,?,?)
		 ON CONFLICT(key) DO UPDATE SET value=excluded.value, updated_at=excluded.updated_at`),
		key, next, time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return s.lockErr(ctx, err)
	}
	return s.lockErr(ctx, tx.Commit())
}

// lockErr reports a deadline that came from the lock wait (not the caller)
// as ErrLockTimeout.
func (s *sqlStore) lockErr(parent context.Context, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) && parent.Err() == nil {
		return ErrLockTimeout
	}
	return err
}

func (s *sqlStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if s == nil || s.db == nil {
		return nil, false, ErrDisabled
	}
	var b []byte
	err := s.db.QueryRowContext(ctx, s.q(`SELECT value FROM state WHERE key = ?`), key).Scan(&b)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return b, true, nil
}

func (s *sqlStore) AppendAudit(ctx context.Context, e AuditEntry) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	if e.At.IsZero() {
		e.At = time.Now()
	}
	_, err := s.db.ExecContext(ctx, s.q(
		`INSERT INTO audit(at, entry_id, type, priority, server_id, channel, status, attempts, err, context, took_ms)
		 VALUES(?,?,?,?,?,?,?,?,?,?,?)`),
		e.At.UTC().Format(time.RFC3339Nano), e.EntryID, e.Type, e.Priority, nullStr(e.ServerID),
		nullStr(e.Channel), e.Status, e.Attempts, nullStr(e.Error), nullStr(e.Context), e.TookMS,
	)
	if err != nil {
		return err
	}

	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM audit`).Scan(&n); err != nil {
		return err
	}
	if n < s.cfg.AuditMax {
		return nil
	}
	_, err = s.db.ExecContext(ctx, s.q(
		`DELETE FROM audit WHERE id NOT IN (SELECT id FROM audit ORDER BY id DESC LIMIT ?)`),
		s.cfg.AuditKeep,
	)
	if err != nil {
		s.log.Warn("audit rotate failed", logx.String("driver", s.d.name), logx.Err(err))
	}
	return err
}

func (s *sqlStore) RecentAudit(ctx context.Context, n int) ([]AuditEntry, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	limit := n
	if limit <= 0 {
		limit = s.cfg.AuditMax
	}
	rows, err := s.db.QueryContext(ctx, s.q(
		`SELECT at, entry_id, type, priority, server_id, channel, status, attempts, err, context, took_ms
		 FROM audit ORDER BY id DESC LIMIT ?`), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []AuditEntry
	for rows.Next() {
		var (
			e                                    AuditEntry
			at                                   string
			serverID, channel, errText, ctxLabel sql.NullString
		)
		if err := rows.Scan(&at, &e.EntryID, &e.Type, &e.Priority, &serverID, &channel, &e.Status,
			&e.Attempts, &errText, &ctxLabel, &e.TookMS); err != nil {
			return nil, err
		}
		e.At, _ = time.Parse(time.RFC3339Nano, at)
		e.ServerID, e.Channel, e.Error, e.Context = serverID.String, channel.String, errText.String, ctxLabel.String
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	// Newest first from the query; callers want oldest first.
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}

// dollarBind turns "?" placeholders into $1..$n.
func dollarBind(q string) string {
	var b strings.Builder
	n := 0
	for _, r := range q {
		if r == '?' {
			n++
			fmt.Fprintf(&b, "$%d", n)
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
