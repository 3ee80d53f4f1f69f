package queue

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

const DefaultBackupKeep = 7

// Backups receives the previous queue document before a destructive rewrite.
// Implementations keep only the newest Keep snapshots.
type Backups interface {
	Save(ctx context.Context, at time.Time, doc []byte) error
}

// Snapshot is one saved document.
type Snapshot struct {
	At   time.Time
	Name string
	Data []byte
}

// MemBackups keeps snapshots in memory.
type MemBackups struct {
	keep int

	mu    sync.Mutex
	snaps []Snapshot
}

func NewMemBackups(keep int) *MemBackups {
	if keep <= 0 {
		keep = DefaultBackupKeep
	}
	return &MemBackups{keep: keep}
}

func (m *MemBackups) Save(_ context.Context, at time.Time, doc []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snaps = append(m.snaps, Snapshot{At: at, Name: backupName(at), Data: append([]byte(nil), doc...)})
	if over := len(m.snaps) - m.keep; over > 0 {
		m.snaps = append([]Snapshot(nil), m.snaps[over:]...)
	}
	return nil
}

// Snapshots returns the retained snapshots, oldest first.
func (m *MemBackups) Snapshots() []Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Snapshot(nil), m.snaps...)
}

// DirBackups writes queue-<ts>.json files into a directory.
type DirBackups struct {
	dir  string
	keep int

	mu sync.Mutex
}

func NewDirBackups(dir string, keep int) (*DirBackups, error) {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return nil, fmt.Errorf("backup dir is required")
	}
	if keep <= 0 {
		keep = DefaultBackupKeep
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &DirBackups{dir: dir, keep: keep}, nil
}

func (d *DirBackups) Save(_ context.Context, at time.Time, doc []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	path := filepath.Join(d.dir, backupName(at))
	for {
		if _, err := os.Stat(path); os.IsNotExist(err) {
			break
		}
		at = at.Add(time.Nanosecond)
		path = filepath.Join(d.dir, backupName(at))
	}
	if err := os.WriteFile(path, doc, 0o600); err != nil {
		return err
	}
	return d.pruneLocked()
}

// List returns retained backup file names, oldest first.
func (d *DirBackups) List() ([]string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.listLocked()
}

func (d *DirBackups) listLocked() ([]string, error) {
	ents, err := os.ReadDir(d.dir)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, e := range ents {
		n := e.Name()
		if e.IsDir() || !strings.HasPrefix(n, "queue-") || !strings.HasSuffix(n, ".json") {
			continue
		}
		out = append(out, n)
	}
	sort.Strings(out)
	return out, nil
}

func (d *DirBackups) pruneLocked() error {
	names, err := d.listLocked()
	if err != nil {
		return err
	}
	for len(names) > d.keep {
		if err := os.Remove(filepath.Join(d.dir, names[0])); err != nil && !os.IsNotExist(err) {
			return err
		}
		names = names[1:]
	}
	return nil
}

// backupName sorts lexically in time order.
func backupName(at time.Time) string {
	return "queue-" + at.UTC().Format("20060102T150405.000000000Z") + ".json"
}
