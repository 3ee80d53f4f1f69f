package config

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"path/filepath"
	"strings"
	"sync"
	"time"

	logx "alertrelay/pkg/logx"

	"github.com/fsnotify/fsnotify"
)

const (
	reloadDelay        = 250 * time.Millisecond
	restartBackoffBase = 250 * time.Millisecond
	restartBackoffMax  = 5 * time.Second
)

// RulesWatcher holds the current Rules and republishes them when the file
// changes on disk. Rejected edits keep the previous rules in place.
type RulesWatcher struct {
	path string
	log  logx.Logger

	mu       sync.RWMutex
	rules    *Rules
	lastHash uint64

	// subsMu guards the subscriber list and ensures we never send on a
	// channel that is concurrently being closed in Unsubscribe().
	subsMu sync.Mutex
	subs   []chan *Rules
}

func NewRulesWatcher(path string, log logx.Logger) *RulesWatcher {
	return &RulesWatcher{path: path, log: log}
}

// Load reads the file and commits it.
func (w *RulesWatcher) Load() (*Rules, error) {
	r, err := LoadRules(w.path)
	if err != nil {
		return nil, err
	}
	w.commit(r)
	return r, nil
}

func (w *RulesWatcher) Get() *Rules {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.rules
}

func (w *RulesWatcher) commit(r *Rules) {
	w.mu.Lock()
	w.rules = r
	w.lastHash = hashRules(r)
	w.mu.Unlock()
}

func hashRules(r *Rules) uint64 {
	if r == nil {
		return 0
	}
	b, err := json.Marshal(r)
	if err != nil {
		return 0
	}
	return hashBytes(b)
}

func (w *RulesWatcher) Subscribe(buffer int) chan *Rules {
	ch := make(chan *Rules, buffer)
	w.subsMu.Lock()
	w.subs = append(w.subs, ch)
	w.subsMu.Unlock()
	return ch
}

func (w *RulesWatcher) Unsubscribe(ch chan *Rules) {
	if ch == nil {
		return
	}
	w.subsMu.Lock()
	defer w.subsMu.Unlock()
	for i, s := range w.subs {
		if s == ch {
			last := len(w.subs) - 1
			w.subs[i] = w.subs[last]
			w.subs[last] = nil
			w.subs = w.subs[:last]
			close(ch)
			return
		}
	}
}

func (w *RulesWatcher) publish(r *Rules) {
	w.subsMu.Lock()
	defer w.subsMu.Unlock()
	for _, ch := range w.subs {
		// Slow subscriber with a full buffer: drop the oldest, push the newest.
		select {
		case ch <- r:
			continue
		default:
		}
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- r:
		default:
			w.log.Debug("rules update dropped (subscriber slow)", logx.Int("queue_cap", cap(ch)))
		}
	}
}

// reload parses the file and publishes it if it changed and validates.
func (w *RulesWatcher) reload() {
	r, err := LoadRules(w.path)
	if err != nil {
		w.log.Warn("rules rejected", logx.String("path", w.path), logx.Err(err))
		return
	}
	h := hashRules(r)
	w.mu.RLock()
	unchanged := h != 0 && h == w.lastHash
	prev := w.rules
	w.mu.RUnlock()
	if unchanged {
		w.log.Debug("rules unchanged; skipping publish", logx.String("path", w.path))
		return
	}

	changed, attrs := SummarizeRulesChange(prev, r)
	w.commit(r)
	w.publish(r)
	w.log.Info("rules reloaded", append([]logx.Field{
		logx.String("path", w.path),
		logx.Strs("changed", changed),
		logx.String("hash", fmt.Sprintf("%x", h)),
	}, attrs...)...)
}

// Watch blocks until ctx is done. The parent directory is watched so
// editors that replace the file by rename are still seen. A watcher that
// breaks is recreated with jittered backoff.
func (w *RulesWatcher) Watch(ctx context.Context) error {
	dir := filepath.Dir(w.path)
	file := filepath.Base(w.path)

	backoff := restartBackoffBase
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	nextWait := func() time.Duration {
		wait := backoff + time.Duration(rng.Int63n(int64(backoff/2)+1))
		backoff = min(backoff*2, restartBackoffMax)
		return wait
	}

	var (
		timerMu sync.Mutex
		timer   *time.Timer
	)
	schedule := func() {
		timerMu.Lock()
		defer timerMu.Unlock()
		if timer != nil {
			timer.Stop()
		}
		timer = time.AfterFunc(reloadDelay, w.reload)
	}
	defer func() {
		timerMu.Lock()
		if timer != nil {
			timer.Stop()
		}
		timerMu.Unlock()
	}()

	for {
		if ctx.Err() != nil {
			return nil
		}

		fw, err := fsnotify.NewWatcher()
		if err == nil {
			if err = fw.Add(dir); err != nil {
				_ = fw.Close()
			}
		}
		if err != nil {
			w.log.Warn("rules watch init failed", logx.String("dir", dir), logx.Err(err))
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(nextWait()):
				continue
			}
		}

		backoff = restartBackoffBase
		w.log.Debug("rules watcher started", logx.String("dir", dir), logx.String("file", file))

		broken := false
		for !broken {
			select {
			case <-ctx.Done():
				_ = fw.Close()
				return nil
			case ev, ok := <-fw.Events:
				if !ok {
					broken = true
					break
				}
				if strings.EqualFold(filepath.Base(ev.Name), file) &&
					ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Chmod) != 0 {
					schedule()
				}
			case err, ok := <-fw.Errors:
				if !ok {
					broken = true
					break
				}
				if err == nil {
					continue
				}
				// Overflow means events were missed; reload once and keep going.
				if strings.Contains(strings.ToLower(err.Error()), "overflow") {
					w.log.Warn("rules watch overflow; forcing reload", logx.Err(err))
					schedule()
					continue
				}
				w.log.Warn("rules watch error", logx.String("dir", dir), logx.Err(err))
			}
		}

		_ = fw.Close()
		if ctx.Err() != nil {
			return nil
		}
		wait := nextWait()
		w.log.Warn("rules watcher stopped; restarting", logx.String("dir", dir), logx.Duration("backoff", wait))
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(wait):
		}
	}
}
