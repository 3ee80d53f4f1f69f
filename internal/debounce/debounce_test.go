package debounce

import (
	"context"
	"testing"
	"time"

	"alertrelay/internal/storage"
	logx "alertrelay/pkg/logx"
)

type fakeClock struct{ t time.Time }

func (f *fakeClock) Now() time.Time          { return f.t }
func (f *fakeClock) Advance(d time.Duration) { f.t = f.t.Add(d) }

func TestCanSendWindow(t *testing.T) {
	t.Parallel()

	clk := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	c := New(storage.NewMemory(storage.Config{}), Config{Now: clk.Now}, logx.Nop())
	ctx := context.Background()

	if d := c.CanSend(ctx, "disk"); !d.Allowed {
		t.Fatal("first call should be allowed")
	}
	clk.Advance(100 * time.Second)
	d := c.CanSend(ctx, "disk")
	if d.Allowed {
		t.Fatal("second call inside window should be denied")
	}
	if d.Remaining != 200*time.Second {
		t.Fatalf("remaining = %s, want 200s", d.Remaining)
	}
	if d := c.CanSend(ctx, "cpu"); !d.Allowed {
		t.Fatal("other types have their own window")
	}

	clk.Advance(200 * time.Second)
	if d := c.CanSend(ctx, "disk"); !d.Allowed {
		t.Fatal("call after window should be allowed")
	}
}

func TestDeniedCallDoesNotExtendWindow(t *testing.T) {
	t.Parallel()

	clk := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	c := New(storage.NewMemory(storage.Config{}), Config{Window: 60 * time.Second, Now: clk.Now}, logx.Nop())
	ctx := context.Background()

	c.CanSend(ctx, "memory")
	for i := 0; i < 5; i++ {
		clk.Advance(10 * time.Second)
		c.CanSend(ctx, "memory")
	}
	clk.Advance(10 * time.Second)
	if d := c.CanSend(ctx, "memory"); !d.Allowed {
		t.Fatal("window should be measured from the last allowed send")
	}
}

func TestCorruptStateSelfHeals(t *testing.T) {
	t.Parallel()

	st := storage.NewMemory(storage.Config{})
	ctx := context.Background()
	_ = st.Update(ctx, StoreKey, func([]byte) ([]byte, error) { return []byte("{not json"), nil })

	c := New(st, Config{}, logx.Nop())
	if d := c.CanSend(ctx, "disk"); !d.Allowed {
		t.Fatal("corrupt state should reset and allow")
	}
	b, _, _ := st.Get(ctx, StoreKey)
	if string(b) == "{not json" {
		t.Fatal("state was not rewritten")
	}
}

func TestLockTimeoutDenies(t *testing.T) {
	t.Parallel()

	st := storage.NewMemory(storage.Config{LockTimeout: 50 * time.Millisecond})
	c := New(st, Config{}, logx.Nop())
	ctx := context.Background()

	held := make(chan struct{})
	release := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = st.Update(ctx, StoreKey, func(cur []byte) ([]byte, error) {
			close(held)
			<-release
			return nil, nil
		})
	}()
	<-held

	d := c.CanSend(ctx, "disk")
	close(release)
	<-done
	if d.Allowed {
		t.Fatal("lock timeout must deny")
	}
}

func TestKeyModes(t *testing.T) {
	t.Parallel()

	byType := New(storage.NewMemory(storage.Config{}), Config{}, logx.Nop())
	if k := byType.Key("disk", "svr01"); k != "disk" {
		t.Fatalf("type key = %q", k)
	}
	byServer := New(storage.NewMemory(storage.Config{}), Config{KeyMode: "type_server"}, logx.Nop())
	if k := byServer.Key("disk", "svr01"); k != "disk|svr01" {
		t.Fatalf("type_server key = %q", k)
	}

	ctx := context.Background()
	if !byServer.CanSend(ctx, byServer.Key("disk", "a")).Allowed || !byServer.CanSend(ctx, byServer.Key("disk", "b")).Allowed {
		t.Fatal("different servers should not share a window in type_server mode")
	}
}
