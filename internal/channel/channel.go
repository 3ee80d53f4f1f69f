package channel

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// Channel names.
const (
	Email    = "email"
	Slack    = "slack"
	Discord  = "discord"
	Telegram = "telegram"
	SMS      = "sms"
	Webhook  = "webhook"
)

// Known lists every backend this package can build.
var Known = []string{Discord, Email, SMS, Slack, Telegram, Webhook}

// Message is one alert ready for delivery.
type Message struct {
	EntryID  string         `json:"id,omitempty"`
	Type     string         `json:"type"`
	Priority string         `json:"priority"`
	ServerID string         `json:"server_id,omitempty"`
	Text     string         `json:"message"`
	At       time.Time      `json:"timestamp"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Channel is the uniform send contract.
type Channel interface {
	Name() string
	// Send delivers msg. It returns *ConfigError for missing configuration
	// and *TransportError for anything that went wrong on the wire.
	Send(ctx context.Context, msg Message) error
	// Validate checks configuration without network I/O.
	Validate() error
}

// Timeouter is implemented by channels that bound their own calls.
type Timeouter interface {
	Timeout() time.Duration
}

// DefaultTimeout applies to channels that do not implement Timeouter.
const DefaultTimeout = 10 * time.Second

func timeoutOf(ch Channel) time.Duration {
	if t, ok := ch.(Timeouter); ok && t.Timeout() > 0 {
		return t.Timeout()
	}
	return DefaultTimeout
}

// Registry maps channel names to implementations.
type Registry struct {
	mu sync.RWMutex
	m  map[string]Channel
}

func NewRegistry() *Registry {
	return &Registry{m: map[string]Channel{}}
}

// Register adds ch. Names are unique.
func (r *Registry) Register(ch Channel) error {
	name := strings.ToLower(strings.TrimSpace(ch.Name()))
	if name == "" {
		return fmt.Errorf("channel name is empty")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.m[name]; dup {
		return fmt.Errorf("channel %q already registered", name)
	}
	r.m[name] = ch
	return nil
}

// Replace swaps in ch for an already registered name, or adds it.
func (r *Registry) Replace(ch Channel) {
	name := strings.ToLower(strings.TrimSpace(ch.Name()))
	if name == "" {
		return
	}
	r.mu.Lock()
	r.m[name] = ch
	r.mu.Unlock()
}

func (r *Registry) Get(name string) (Channel, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ch, ok := r.m[strings.ToLower(strings.TrimSpace(name))]
	return ch, ok
}

// Names returns registered names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.m))
	for n := range r.m {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.m)
}
