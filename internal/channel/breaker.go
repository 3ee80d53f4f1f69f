package channel

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"alertrelay/internal/storage"
)

const DefaultThreshold = 3

// BreakerState is the persisted per-channel counter, stored under
// "breaker/<channel>".
type BreakerState struct {
	ConsecutiveFailures int   `json:"consecutive_failures"`
	LastFailure         int64 `json:"last_failure,omitempty"`
}

// Open reports whether the breaker blocks the next attempt.
func (s BreakerState) Open(threshold int) bool {
	return threshold > 0 && s.ConsecutiveFailures >= threshold
}

// Breaker is a consecutive-failure circuit breaker whose counters live in
// the state store, so they survive restarts and are shared between
// processes using the same store.
//
//   - Failure increments the counter.
//   - Success resets it to 0.
//   - While counter >= threshold the channel is open. With a cooldown, one
//     trial attempt is let through once cooldown has passed since the last
//     failure.
type Breaker struct {
	st        storage.Store
	threshold int
	cooldown  time.Duration
	now       func() time.Time
}

// BreakerConfig tunes a Breaker. Threshold 0 means DefaultThreshold; a
// negative threshold disables the breaker.
type BreakerConfig struct {
	Threshold int
	Cooldown  time.Duration
	Now       func() time.Time
}

func NewBreaker(st storage.Store, cfg BreakerConfig) *Breaker {
	if cfg.Threshold == 0 {
		cfg.Threshold = DefaultThreshold
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Breaker{st: st, threshold: cfg.Threshold, cooldown: cfg.Cooldown, now: cfg.Now}
}

func breakerKey(name string) string { return "breaker/" + strings.ToLower(strings.TrimSpace(name)) }

func (b *Breaker) Threshold() int { return b.threshold }

// State reads the counter without taking the lock.
func (b *Breaker) State(ctx context.Context, name string) (BreakerState, error) {
	raw, ok, err := b.st.Get(ctx, breakerKey(name))
	if err != nil || !ok {
		return BreakerState{}, err
	}
	return decodeBreaker(raw), nil
}

// Allow reports whether an attempt may proceed and the current state.
func (b *Breaker) Allow(ctx context.Context, name string) (bool, BreakerState, error) {
	s, err := b.State(ctx, name)
	if err != nil {
		return false, s, err
	}
	if !s.Open(b.threshold) {
		return true, s, nil
	}
	if b.cooldown > 0 && s.LastFailure > 0 && b.now().Sub(time.Unix(s.LastFailure, 0)) >= b.cooldown {
		return true, s, nil
	}
	return false, s, nil
}

// Failure increments the counter and returns the new value.
func (b *Breaker) Failure(ctx context.Context, name string) (int, error) {
	n := 0
	err := b.st.Update(ctx, breakerKey(name), func(cur []byte) ([]byte, error) {
		s := decodeBreaker(cur)
		s.ConsecutiveFailures++
		s.LastFailure = b.now().Unix()
		n = s.ConsecutiveFailures
		return json.Marshal(s)
	})
	return n, err
}

// Success resets the counter.
func (b *Breaker) Success(ctx context.Context, name string) error {
	return b.st.Update(ctx, breakerKey(name), func(cur []byte) ([]byte, error) {
		if cur != nil && decodeBreaker(cur).ConsecutiveFailures == 0 {
			return nil, nil
		}
		return json.Marshal(BreakerState{})
	})
}

// decodeBreaker treats unreadable state as closed.
func decodeBreaker(raw []byte) BreakerState {
	var s BreakerState
	if len(raw) == 0 {
		return s
	}
	if err := json.Unmarshal(raw, &s); err != nil || s.ConsecutiveFailures < 0 {
		return BreakerState{}
	}
	return s
}
