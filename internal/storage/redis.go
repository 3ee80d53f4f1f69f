package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	logx "alertrelay/pkg/logx"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const redisPrefix = "alertrelay:"

// releaseScript deletes the lock only if we still own it.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0`)

// redisStore keeps state documents as plain string keys and the audit log
// as a list. Locks are SET NX PX leases so several processes can share one
// server.
type redisStore struct {
	rdb *redis.Client
	log logx.Logger
	cfg Config

	pollEvery time.Duration
}

func openRedis(cfg Config, log logx.Logger) (Store, error) {
	dsn := strings.TrimSpace(cfg.DSN)
	if dsn == "" {
		return nil, errors.New("redis dsn is required")
	}
	opt, err := redis.ParseURL(dsn)
	if err != nil {
		return nil, fmt.Errorf("redis dsn: %w", err)
	}
	rdb := redis.NewClient(opt)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return newRedisStore(rdb, cfg, log), nil
}

func newRedisStore(rdb *redis.Client, cfg Config, log logx.Logger) *redisStore {
	return &redisStore{rdb: rdb, log: log, cfg: cfg.withDefaults(), pollEvery: 20 * time.Millisecond}
}

func (s *redisStore) stateKey(key string) string { return redisPrefix + "state:" + key }
func (s *redisStore) lockKey(key string) string  { return redisPrefix + "lock:" + key }
func (s *redisStore) auditKey() string           { return redisPrefix + "audit" }

func (s *redisStore) acquire(ctx context.Context, key string) (func(), error) {
	token := uuid.NewString()
	lk := s.lockKey(key)
	// The lease outlives the wait so a stuck holder cannot keep the key forever.
	lease := 2 * s.cfg.LockTimeout
	deadline := time.Now().Add(s.cfg.LockTimeout)

	for {
		ok, err := s.rdb.SetNX(ctx, lk, token, lease).Result()
		if err != nil {
			return nil, err
		}
		if ok {
			return func() {
				rctx, cancel := context.WithTimeout(context.Background(), time.Second)
				defer cancel()
				if err := releaseScript.Run(rctx, s.rdb, []string{lk}, token).Err(); err != nil {
					s.log.Debug("redis lock release failed", logx.String("key", key), logx.Err(err))
				}
			}, nil
		}
		if time.Now().After(deadline) {
			return nil, ErrLockTimeout
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(s.pollEvery):
		}
	}
}

func (s *redisStore) Update(ctx context.Context, key string, fn UpdateFunc) error {
	release, err := s.acquire(ctx, key)
	if err != nil {
		return err
	}
	defer release()

	cur, err := s.rdb.Get(ctx, s.stateKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		cur, err = nil, nil
	}
	if err != nil {
		return err
	}

	next, err := fn(cur)
	if err != nil {
		return err
	}
	if next == nil {
		return nil
	}
	return s.rdb.Set(ctx, s.stateKey(key), next, 0).Err()
}

func (s *redisStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	b, err := s.rdb.Get(ctx, s.stateKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return b, true, nil
}

func (s *redisStore) AppendAudit(ctx context.Context, e AuditEntry) error {
	if e.At.IsZero() {
		e.At = time.Now()
	}
	b, err := json.Marshal(e)
	if err != nil {
		return err
	}
	n, err := s.rdb.RPush(ctx, s.auditKey(), b).Result()
	if err != nil {
		return err
	}
	if int(n) >= s.cfg.AuditMax {
		return s.rdb.LTrim(ctx, s.auditKey(), int64(-s.cfg.AuditKeep), -1).Err()
	}
	return nil
}

func (s *redisStore) RecentAudit(ctx context.Context, n int) ([]AuditEntry, error) {
	start := int64(0)
	if n > 0 {
		start = int64(-n)
	}
	raw, err := s.rdb.LRange(ctx, s.auditKey(), start, -1).Result()
	if err != nil {
		return nil, err
	}
	out := make([]AuditEntry, 0, len(raw))
	for _, r := range raw {
		var e AuditEntry
		if err := json.Unmarshal([]byte(r), &e); err != nil {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

func (s *redisStore) Close() error { return s.rdb.Close() }
