package queue

import (
	"errors"
	"fmt"
	"strings"
)

const (
	StoreKey      = "queue"
	FormatVersion = "1.0.0"
)

var ErrBadPriority = errors.New("unknown priority")

type Priority string

const (
	Low    Priority = "low"
	Medium Priority = "medium"
	High   Priority = "high"
)

func (p Priority) rank() int {
	switch p {
	case High:
		return 3
	case Medium:
		return 2
	case Low:
		return 1
	default:
		return 0
	}
}

func (p Priority) Valid() bool { return p.rank() > 0 }

// ParsePriority accepts low, medium or high in any case.
func ParsePriority(s string) (Priority, error) {
	p := Priority(strings.ToLower(strings.TrimSpace(s)))
	if !p.Valid() {
		return "", fmt.Errorf("%w: %q", ErrBadPriority, s)
	}
	return p, nil
}

// Entry is one pending alert. Timestamp is the enqueue time in unix seconds.
type Entry struct {
	ID        string         `json:"id"`
	Priority  Priority       `json:"priority"`
	Type      string         `json:"type"`
	Message   string         `json:"message"`
	Timestamp int64          `json:"timestamp"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// ServerID returns metadata["host"] when it is a string.
func (e Entry) ServerID() string {
	s, _ := e.Metadata["host"].(string)
	return s
}

type document struct {
	Version string  `json:"version"`
	Alerts  []Entry `json:"alerts"`
}
