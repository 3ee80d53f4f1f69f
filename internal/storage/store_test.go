package storage

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"sync"
	"testing"
	"time"

	logx "alertrelay/pkg/logx"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

type driverCase struct {
	name string
	open func(t *testing.T, cfg Config) Store
}

func drivers() []driverCase {
	return []driverCase{
		{name: "memory", open: func(t *testing.T, cfg Config) Store {
			return NewMemory(cfg)
		}},
		{name: "file", open: func(t *testing.T, cfg Config) Store {
			cfg.Driver = "file"
			cfg.Path = filepath.Join(t.TempDir(), "relay")
			st, err := Open(cfg, logx.Nop())
			if err != nil {
				t.Fatalf("open file: %v", err)
			}
			return st
		}},
		{name: "sqlite", open: func(t *testing.T, cfg Config) Store {
			cfg.Driver = "sqlite"
			cfg.Path = filepath.Join(t.TempDir(), "relay.db")
			st, err := Open(cfg, logx.Nop())
			if err != nil {
				t.Fatalf("open sqlite: %v", err)
			}
			return st
		}},
		{name: "redis", open: func(t *testing.T, cfg Config) Store {
			mr := miniredis.RunT(t)
			rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
			return newRedisStore(rdb, cfg, logx.Nop())
		}},
	}
}

func TestStoreUpdateRoundTrip(t *testing.T) {
	for _, d := range drivers() {
		d := d
		t.Run(d.name, func(t *testing.T) {
			st := d.open(t, Config{})
			defer st.Close()
			ctx := context.Background()

			if _, ok, err := st.Get(ctx, "breaker/slack"); err != nil || ok {
				t.Fatalf("Get on empty store = ok:%v err:%v", ok, err)
			}

			err := st.Update(ctx, "breaker/slack", func(cur []byte) ([]byte, error) {
				if cur != nil {
					t.Fatalf("expected nil current doc, got %q", cur)
				}
				return []byte("1"), nil
			})
			if err != nil {
				t.Fatalf("Update: %v", err)
			}

			// nil leaves the value alone
			if err := st.Update(ctx, "breaker/slack", func(cur []byte) ([]byte, error) { return nil, nil }); err != nil {
				t.Fatalf("Update(nil): %v", err)
			}

			boom := errors.New("boom")
			if err := st.Update(ctx, "breaker/slack", func(cur []byte) ([]byte, error) { return []byte("x"), boom }); !errors.Is(err, boom) {
				t.Fatalf("Update error = %v, want boom", err)
			}

			b, ok, err := st.Get(ctx, "breaker/slack")
			if err != nil || !ok || string(b) != "1" {
				t.Fatalf("Get = %q ok:%v err:%v, want 1", b, ok, err)
			}
		})
	}
}

func TestStoreConcurrentIncrements(t *testing.T) {
	for _, d := range drivers() {
		d := d
		t.Run(d.name, func(t *testing.T) {
			st := d.open(t, Config{LockTimeout: 10 * time.Second})
			defer st.Close()
			ctx := context.Background()

			const n = 20
			var wg sync.WaitGroup
			errs := make(chan error, n)
			for i := 0; i < n; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					errs <- st.Update(ctx, "counter", func(cur []byte) ([]byte, error) {
						v, _ := strconv.Atoi(string(cur))
						return []byte(strconv.Itoa(v + 1)), nil
					})
				}()
			}
			wg.Wait()
			close(errs)
			for err := range errs {
				if err != nil {
					t.Fatalf("Update: %v", err)
				}
			}
			b, _, _ := st.Get(ctx, "counter")
			if string(b) != strconv.Itoa(n) {
				t.Fatalf("counter = %s, want %d", b, n)
			}
		})
	}
}

func TestStoreLockTimeoutFailsClosed(t *testing.T) {
	for _, d := range drivers() {
		d := d
		t.Run(d.name, func(t *testing.T) {
			st := d.open(t, Config{LockTimeout: 100 * time.Millisecond})
			defer st.Close()
			ctx := context.Background()

			held := make(chan struct{})
			release := make(chan struct{})
			done := make(chan error, 1)
			go func() {
				done <- st.Update(ctx, "debounce", func(cur []byte) ([]byte, error) {
					close(held)
					<-release
					return []byte("{}"), nil
				})
			}()
			<-held

			called := false
			err := st.Update(ctx, "debounce", func(cur []byte) ([]byte, error) {
				called = true
				return nil, nil
			})
			close(release)
			if !errors.Is(err, ErrLockTimeout) {
				t.Fatalf("second Update err = %v, want ErrLockTimeout", err)
			}
			if called {
				t.Fatal("update func ran without the lock")
			}
			if err := <-done; err != nil {
				t.Fatalf("holder Update: %v", err)
			}
		})
	}
}

func TestAuditRotationKeepsNewest(t *testing.T) {
	for _, d := range drivers() {
		d := d
		t.Run(d.name, func(t *testing.T) {
			st := d.open(t, Config{})
			defer st.Close()
			ctx := context.Background()

			for i := 1; i <= 99; i++ {
				if err := st.AppendAudit(ctx, AuditEntry{EntryID: fmt.Sprint(i), Type: "disk", Priority: "high", Status: AuditDelivered}); err != nil {
					t.Fatalf("AppendAudit(%d): %v", i, err)
				}
			}
			all, err := st.RecentAudit(ctx, 0)
			if err != nil {
				t.Fatalf("RecentAudit: %v", err)
			}
			if len(all) != 99 {
				t.Fatalf("audit len before rotation = %d, want 99", len(all))
			}

			if err := st.AppendAudit(ctx, AuditEntry{EntryID: "100", Type: "disk", Priority: "high", Status: AuditDelivered}); err != nil {
				t.Fatalf("AppendAudit(100): %v", err)
			}
			all, err = st.RecentAudit(ctx, 0)
			if err != nil {
				t.Fatalf("RecentAudit: %v", err)
			}
			if len(all) != 50 {
				t.Fatalf("audit len after rotation = %d, want 50", len(all))
			}
			if all[0].EntryID != "51" || all[len(all)-1].EntryID != "100" {
				t.Fatalf("kept range = %s..%s, want 51..100", all[0].EntryID, all[len(all)-1].EntryID)
			}

			last, err := st.RecentAudit(ctx, 2)
			if err != nil || len(last) != 2 || last[1].EntryID != "100" {
				t.Fatalf("RecentAudit(2) = %+v err:%v", last, err)
			}
		})
	}
}

func TestOpenUnknownDriver(t *testing.T) {
	t.Parallel()
	if _, err := Open(Config{Driver: "floppy"}, logx.Nop()); err == nil {
		t.Fatal("expected error for unknown driver")
	}
	if _, err := Open(Config{}, logx.Nop()); !errors.Is(err, ErrDisabled) {
		t.Fatalf("empty driver err = %v, want ErrDisabled", err)
	}
}

func TestDollarBind(t *testing.T) {
	t.Parallel()
	got := dollarBind("INSERT INTO t(a,b) VALUES(?,?)")
	if got != "INSERT INTO t(a,b) VALUES($1,$2)" {
		t.Fatalf("dollarBind = %q", got)
	}
}

func openSharedFile(t *testing.T, path string, timeout time.Duration) Store {
	t.Helper()
	st, err := Open(Config{Driver: "file", Path: path, LockTimeout: timeout, AuditMax: 1000, AuditKeep: 500}, logx.Nop())
	if err != nil {
		t.Fatalf("open file: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestFileStoresSharingPathExcludeEachOther(t *testing.T) {
	path := filepath.Join(t.TempDir(), "relay")
	stores := []Store{
		openSharedFile(t, path, 10*time.Second),
		openSharedFile(t, path, 10*time.Second),
	}
	ctx := context.Background()

	const perStore = 50
	var wg sync.WaitGroup
	errs := make(chan error, 2*perStore*2)
	for _, st := range stores {
		for i := 0; i < perStore; i++ {
			wg.Add(1)
			go func(st Store) {
				defer wg.Done()
				errs <- st.Update(ctx, "counter", func(cur []byte) ([]byte, error) {
					v, _ := strconv.Atoi(string(cur))
					return []byte(strconv.Itoa(v + 1)), nil
				})
				errs <- st.AppendAudit(ctx, AuditEntry{Type: "cpu", Status: AuditDelivered})
			}(st)
		}
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("concurrent op: %v", err)
		}
	}

	b, _, _ := stores[0].Get(ctx, "counter")
	if string(b) != strconv.Itoa(2*perStore) {
		t.Fatalf("counter = %s, want %d", b, 2*perStore)
	}
	recs, err := stores[1].RecentAudit(ctx, 0)
	if err != nil || len(recs) != 2*perStore {
		t.Fatalf("audit records = %d %v, want %d", len(recs), err, 2*perStore)
	}
	leftovers, _ := filepath.Glob(filepath.Join(path+".state", "*.tmp"))
	if len(leftovers) != 0 {
		t.Fatalf("temp files left behind: %v", leftovers)
	}
}

func TestFileLockTimeoutAcrossStores(t *testing.T) {
	path := filepath.Join(t.TempDir(), "relay")
	holder := openSharedFile(t, path, time.Second)
	other := openSharedFile(t, path, 100*time.Millisecond)
	ctx := context.Background()

	held := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- holder.Update(ctx, "queue", func(cur []byte) ([]byte, error) {
			close(held)
			<-release
			return []byte("{}"), nil
		})
	}()
	<-held

	err := other.Update(ctx, "queue", func(cur []byte) ([]byte, error) {
		t.Error("update ran while another store held the file lock")
		return nil, nil
	})
	close(release)
	if !errors.Is(err, ErrLockTimeout) {
		t.Fatalf("Update err = %v, want ErrLockTimeout", err)
	}
	if err := <-done; err != nil {
		t.Fatalf("holder Update: %v", err)
	}
}
