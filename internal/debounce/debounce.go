// Package debounce suppresses repeated alerts of one kind inside a window.
package debounce

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"alertrelay/internal/storage"
	logx "alertrelay/pkg/logx"
)

// StoreKey is the state-store document holding last-sent times.
const StoreKey = "debounce"

// Key modes.
const (
	KeyType       = "type"
	KeyTypeServer = "type_server"
)

const DefaultWindow = 300 * time.Second

type Config struct {
	Window time.Duration
	// KeyMode is KeyType (default) or KeyTypeServer.
	KeyMode string
	// Now overrides the clock; tests only.
	Now func() time.Time
}

// Decision is the outcome of one CanSend call. Remaining is set on deny
// when the window is still running.
type Decision struct {
	Allowed   bool
	Remaining time.Duration
}

type Controller struct {
	st     storage.Store
	log    logx.Logger
	window time.Duration
	mode   string
	now    func() time.Time
}

func New(st storage.Store, cfg Config, log logx.Logger) *Controller {
	if cfg.Window <= 0 {
		cfg.Window = DefaultWindow
	}
	mode := strings.ToLower(strings.TrimSpace(cfg.KeyMode))
	if mode != KeyTypeServer {
		mode = KeyType
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Controller{st: st, log: log.With(logx.Component("debounce")), window: cfg.Window, mode: mode, now: cfg.Now}
}

func (c *Controller) Window() time.Duration { return c.window }

// Key returns the debounce key for an alert under the configured mode.
func (c *Controller) Key(alertType, serverID string) string {
	if c.mode == KeyTypeServer && serverID != "" {
		return alertType + "|" + serverID
	}
	return alertType
}

// CanSend reports whether an alert under key may go out now and, if so,
// records the send. Storage trouble never surfaces as an error: the
// controller denies instead.
func (c *Controller) CanSend(ctx context.Context, key string) Decision {
	var d Decision
	err := c.st.Update(ctx, StoreKey, func(cur []byte) ([]byte, error) {
		last := map[string]int64{}
		if len(cur) > 0 {
			if err := json.Unmarshal(cur, &last); err != nil || last == nil {
				c.log.Warn("debounce state unreadable, resetting", logx.Err(err))
				last = map[string]int64{}
			}
		}

		now := c.now().Unix()
		win := int64(c.window / time.Second)
		if elapsed := now - last[key]; elapsed < win {
			d = Decision{Remaining: time.Duration(win-elapsed) * time.Second}
			return nil, nil
		}
		last[key] = now
		d = Decision{Allowed: true}
		return json.Marshal(last)
	})
	if err != nil {
		if errors.Is(err, storage.ErrLockTimeout) {
			c.log.Debug("debounce lock timeout, denying", logx.String("key", key))
		} else {
			c.log.Warn("debounce store error, denying", logx.String("key", key), logx.Err(err))
		}
		return Decision{}
	}
	return d
}
