package storage

import (
	"context"
	"strings"
	"sync"
	"time"
)

// memoryStore keeps everything in process memory.
type memoryStore struct {
	cfg   Config
	locks keyLocks

	mu     sync.Mutex
	docs   map[string][]byte
	audit  []AuditEntry
	closed bool
}

// NewMemory returns an in-memory Store.
func NewMemory(cfg Config) Store {
	return &memoryStore{cfg: cfg.withDefaults(), docs: map[string][]byte{}}
}

func (s *memoryStore) Update(ctx context.Context, key string, fn UpdateFunc) error {
	key = strings.TrimSpace(key)
	unlock, err := s.locks.acquire(ctx, key, s.cfg.LockTimeout)
	if err != nil {
		return err
	}
	defer unlock()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	cur := cloneBytes(s.docs[key])
	s.mu.Unlock()

	next, err := fn(cur)
	if err != nil {
		return err
	}
	if next == nil {
		return nil
	}

	s.mu.Lock()
	s.docs[key] = cloneBytes(next)
	s.mu.Unlock()
	return nil
}

func (s *memoryStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, false, ErrClosed
	}
	b, ok := s.docs[strings.TrimSpace(key)]
	return cloneBytes(b), ok, nil
}

func (s *memoryStore) AppendAudit(ctx context.Context, e AuditEntry) error {
	_ = ctx
	if e.At.IsZero() {
		e.At = time.Now()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.audit = append(s.audit, e)
	if len(s.audit) >= s.cfg.AuditMax {
		s.audit = append([]AuditEntry(nil), s.audit[len(s.audit)-s.cfg.AuditKeep:]...)
	}
	return nil
}

func (s *memoryStore) RecentAudit(ctx context.Context, n int) ([]AuditEntry, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	return tail(s.audit, n), nil
}

func (s *memoryStore) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

func tail(in []AuditEntry, n int) []AuditEntry {
	if n <= 0 || n >= len(in) {
		return append([]AuditEntry(nil), in...)
	}
	return append([]AuditEntry(nil), in[len(in)-n:]...)
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	return append([]byte(nil), b...)
}
