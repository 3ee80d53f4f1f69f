package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	logx "alertrelay/pkg/logx"

	_ "github.com/lib/pq"
)

//go:embed postgres_schema.sql
var postgresSchema string

func openPostgres(cfg Config, log logx.Logger) (Store, error) {
	dsn := strings.TrimSpace(cfg.DSN)
	if dsn == "" {
		return nil, errors.New("postgres dsn is required")
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(8)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("postgres ping: %w", err)
	}

	st := &sqlStore{
		db:  db,
		log: log,
		cfg: cfg,
		d: dialect{
			name:    "postgres",
			bind:    dollarBind,
			lockKey: pgAdvisoryLock,
		},
	}
	if err := st.migrate(ctx, postgresSchema); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

// pgAdvisoryLock serializes writers of one key across processes for the
// lifetime of the transaction.
func pgAdvisoryLock(ctx context.Context, tx *sql.Tx, key string, timeout time.Duration) error {
	if _, err := tx.ExecContext(ctx, fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", timeout.Milliseconds())); err != nil {
		return err
	}
	_, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, key)
	if err != nil && strings.Contains(err.Error(), "lock timeout") {
		return ErrLockTimeout
	}
	return err
}
