package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"alertrelay/internal/storage"
	logx "alertrelay/pkg/logx"

	"github.com/google/uuid"
)

const DefaultPromoteAfter = time.Hour

type Config struct {
	// PromoteAfter is the age past which a low entry becomes medium.
	PromoteAfter time.Duration
	// Backups defaults to an in-memory sink keeping DefaultBackupKeep.
	Backups Backups
	Now     func() time.Time
}

type Queue struct {
	st           storage.Store
	log          logx.Logger
	promoteAfter time.Duration
	backups      Backups
	now          func() time.Time
}

func New(st storage.Store, cfg Config, log logx.Logger) *Queue {
	if cfg.PromoteAfter <= 0 {
		cfg.PromoteAfter = DefaultPromoteAfter
	}
	if cfg.Backups == nil {
		cfg.Backups = NewMemBackups(DefaultBackupKeep)
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Queue{
		st:           st,
		log:          log.With(logx.Component("queue")),
		promoteAfter: cfg.PromoteAfter,
		backups:      cfg.Backups,
		now:          cfg.Now,
	}
}

// Enqueue appends a new entry at the tail of its tier.
func (q *Queue) Enqueue(ctx context.Context, p Priority, alertType, message string, metadata map[string]any) (Entry, error) {
	if !p.Valid() {
		return Entry{}, fmt.Errorf("%w: %q", ErrBadPriority, p)
	}
	alertType = strings.TrimSpace(alertType)
	if alertType == "" {
		return Entry{}, fmt.Errorf("alert type is required")
	}
	e := Entry{
		ID:        uuid.NewString(),
		Priority:  p,
		Type:      alertType,
		Message:   message,
		Timestamp: q.now().Unix(),
		Metadata:  metadata,
	}
	err := q.st.Update(ctx, StoreKey, func(cur []byte) ([]byte, error) {
		doc, _ := q.decode(ctx, cur)
		doc.Alerts = append(doc.Alerts, e)
		return encode(doc)
	})
	if err != nil {
		return Entry{}, fmt.Errorf("enqueue: %w", err)
	}
	return e, nil
}

// Drain removes every pending entry and returns them high to low, FIFO
// within a tier. Aging promotion is applied first.
func (q *Queue) Drain(ctx context.Context) ([]Entry, error) {
	var out []Entry
	err := q.st.Update(ctx, StoreKey, func(cur []byte) ([]byte, error) {
		doc, reset := q.decode(ctx, cur)
		if len(doc.Alerts) == 0 {
			out = nil
			if reset {
				return encode(doc)
			}
			return nil, nil
		}
		n := q.promote(doc.Alerts)
		if n > 0 {
			q.log.Info("promoted aged entries", logx.Int("count", n))
		}
		q.backup(ctx, cur)
		out = ordered(doc.Alerts)
		return encode(&document{Version: FormatVersion, Alerts: []Entry{}})
	})
	if err != nil {
		return nil, fmt.Errorf("drain: %w", err)
	}
	return out, nil
}

// Scan applies aging promotion without draining and reports how many
// entries changed tier.
func (q *Queue) Scan(ctx context.Context) (int, error) {
	promoted := 0
	err := q.st.Update(ctx, StoreKey, func(cur []byte) ([]byte, error) {
		doc, reset := q.decode(ctx, cur)
		promoted = q.promote(doc.Alerts)
		if reset {
			return encode(doc)
		}
		if promoted == 0 {
			return nil, nil
		}
		q.backup(ctx, cur)
		return encode(doc)
	})
	if err != nil {
		return 0, fmt.Errorf("scan: %w", err)
	}
	if promoted > 0 {
		q.log.Info("promoted aged entries", logx.Int("count", promoted))
	}
	return promoted, nil
}

func (q *Queue) Size(ctx context.Context) (int, error) {
	doc, err := q.read(ctx)
	if err != nil {
		return 0, err
	}
	return len(doc.Alerts), nil
}

// PeekPending returns the pending entries in drain order without removing
// or promoting them.
func (q *Queue) PeekPending(ctx context.Context) ([]Entry, error) {
	doc, err := q.read(ctx)
	if err != nil {
		return nil, err
	}
	return ordered(doc.Alerts), nil
}

func (q *Queue) read(ctx context.Context) (*document, error) {
	b, ok, err := q.st.Get(ctx, StoreKey)
	if err != nil {
		return nil, fmt.Errorf("read queue: %w", err)
	}
	if !ok {
		return &document{Version: FormatVersion}, nil
	}
	doc, err := parse(b)
	if err != nil {
		// Reset happens on the next mutation.
		q.log.Warn("queue document unreadable", logx.Err(err))
		return &document{Version: FormatVersion}, nil
	}
	return doc, nil
}

// decode runs inside Update. A corrupt document is backed up and replaced
// by an empty one; reset reports that case so the caller writes it back.
func (q *Queue) decode(ctx context.Context, cur []byte) (doc *document, reset bool) {
	if len(cur) == 0 {
		return &document{Version: FormatVersion}, false
	}
	doc, err := parse(cur)
	if err != nil {
		q.log.Warn("queue document corrupt, resetting", logx.Err(err))
		q.backup(ctx, cur)
		return &document{Version: FormatVersion}, true
	}
	return doc, false
}

func (q *Queue) backup(ctx context.Context, cur []byte) {
	if len(cur) == 0 {
		return
	}
	if err := q.backups.Save(ctx, q.now(), cur); err != nil {
		q.log.Warn("queue backup failed", logx.Err(err))
	}
}

// promote moves low entries older than promoteAfter to medium. It never
// promotes past medium.
func (q *Queue) promote(entries []Entry) int {
	cutoff := q.now().Add(-q.promoteAfter).Unix()
	n := 0
	for i := range entries {
		if entries[i].Priority == Low && entries[i].Timestamp < cutoff {
			entries[i].Priority = Medium
			n++
		}
	}
	return n
}

func ordered(in []Entry) []Entry {
	out := append([]Entry(nil), in...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Priority.rank() > out[j].Priority.rank() })
	return out
}

func parse(b []byte) (*document, error) {
	var doc document
	if err := json.Unmarshal(b, &doc); err != nil {
		return nil, err
	}
	for i, e := range doc.Alerts {
		if !e.Priority.Valid() {
			return nil, fmt.Errorf("alerts[%d]: %w: %q", i, ErrBadPriority, e.Priority)
		}
	}
	if doc.Version == "" {
		doc.Version = FormatVersion
	}
	return &doc, nil
}

func encode(doc *document) ([]byte, error) {
	doc.Version = FormatVersion
	if doc.Alerts == nil {
		doc.Alerts = []Entry{}
	}
	return json.Marshal(doc)
}
