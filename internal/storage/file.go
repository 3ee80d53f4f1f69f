package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	logx "alertrelay/pkg/logx"
)

// fileStore keeps state as files under Path.
//
// Files:
//   - <prefix>.audit.jsonl      (JSON Lines, rotated by record count)
//   - <prefix>.audit.lock
//   - <prefix>.state/<key>.json (one document per key, replaced atomically)
//   - <prefix>.state/<key>.lock
//
// The .lock files carry an advisory flock, so processes sharing Path
// exclude each other as well as goroutines in this one.
type fileStore struct {
	cfg   Config
	log   logx.Logger
	locks keyLocks

	stateDir  string
	auditPath string
	auditLock string

	mu     sync.Mutex
	closed bool
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage path is required for file driver")
	}

	dir := filepath.Dir(path)
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	prefix := filepath.Join(dir, base)

	stateDir := prefix + ".state"
	if err := os.MkdirAll(stateDir, 0o755); err != nil {
		return nil, err
	}
	return &fileStore{
		cfg:       cfg,
		log:       log,
		stateDir:  stateDir,
		auditPath: prefix + ".audit.jsonl",
		auditLock: prefix + ".audit.lock",
	}, nil
}

func (s *fileStore) keyName(key string) string {
	return strings.NewReplacer("/", "_", "\\", "_", "..", "_").Replace(strings.TrimSpace(key))
}

func (s *fileStore) docPath(key string) string {
	return filepath.Join(s.stateDir, s.keyName(key)+".json")
}

// lock takes the in-process key lock, then the file lock at path, both
// within one LockTimeout.
func (s *fileStore) lock(ctx context.Context, key, path string) (func(), error) {
	if s.isClosed() {
		return nil, ErrClosed
	}
	deadline := time.Now().Add(s.cfg.LockTimeout)
	unlock, err := s.locks.acquire(ctx, key, s.cfg.LockTimeout)
	if err != nil {
		return nil, err
	}
	unlockFile, err := lockFile(ctx, path, time.Until(deadline))
	if err != nil {
		unlock()
		return nil, err
	}
	return func() {
		unlockFile()
		unlock()
	}, nil
}

func (s *fileStore) Update(ctx context.Context, key string, fn UpdateFunc) error {
	unlock, err := s.lock(ctx, key, filepath.Join(s.stateDir, s.keyName(key)+".lock"))
	if err != nil {
		return err
	}
	defer unlock()

	path := s.docPath(key)
	cur, err := os.ReadFile(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return err
		}
		cur = nil
	}

	next, err := fn(cur)
	if err != nil {
		return err
	}
	if next == nil {
		return nil
	}
	return writeAtomic(path, next)
}

func (s *fileStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	_ = ctx
	b, err := os.ReadFile(s.docPath(key))
	if errors.Is(err, os.ErrNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return b, true, nil
}

// AppendAudit reopens the log on every call so a rotation done by another
// process is never written past.
func (s *fileStore) AppendAudit(ctx context.Context, e AuditEntry) error {
	if e.At.IsZero() {
		e.At = time.Now()
	}
	unlock, err := s.lock(ctx, auditLockKey, s.auditLock)
	if err != nil {
		return err
	}
	defer unlock()

	af, err := os.OpenFile(s.auditPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	werr := json.NewEncoder(af).Encode(e)
	if cerr := af.Close(); werr == nil {
		werr = cerr
	}
	if werr != nil {
		return werr
	}

	n, err := countLines(s.auditPath)
	if err != nil {
		return err
	}
	if n >= s.cfg.AuditMax {
		if err := s.rotateAudit(); err != nil {
			s.log.Warn("audit rotate failed", logx.Err(err))
			return err
		}
	}
	return nil
}

const auditLockKey = "\x00audit"

// rotateAudit keeps the newest AuditKeep records. Callers hold the audit lock.
func (s *fileStore) rotateAudit() error {
	all, err := readAudit(s.auditPath)
	if err != nil {
		return err
	}
	keep := tail(all, s.cfg.AuditKeep)

	var b strings.Builder
	enc := json.NewEncoder(&b)
	for _, e := range keep {
		if err := enc.Encode(e); err != nil {
			return err
		}
	}
	return writeAtomic(s.auditPath, []byte(b.String()))
}

func (s *fileStore) RecentAudit(ctx context.Context, n int) ([]AuditEntry, error) {
	_ = ctx
	if s.isClosed() {
		return nil, ErrClosed
	}
	all, err := readAudit(s.auditPath)
	if err != nil {
		return nil, err
	}
	return tail(all, n), nil
}

func (s *fileStore) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// writeAtomic writes through a temp file unique to this call, so concurrent
// writers never share one.
func writeAtomic(path string, data []byte) error {
	f, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	tmp := f.Name()
	fail := func(err error) error {
		_ = f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if _, err := f.Write(data); err != nil {
		return fail(err)
	}
	if err := f.Sync(); err != nil {
		return fail(err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return nil
}

func readAudit(path string) ([]AuditEntry, error) {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()
	var out []AuditEntry
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var e AuditEntry
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil {
			continue
		}
		out = append(out, e)
	}
	return out, sc.Err()
}

func countLines(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	n := 0
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		if len(sc.Bytes()) > 0 {
			n++
		}
	}
	return n, sc.Err()
}
