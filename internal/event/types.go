package event

import (
	"fmt"
	"time"
)

// Usage is a percentage reading in [0,100].
type Usage struct {
	Usage float64 `json:"usage"`
}

// Disk is one mounted filesystem reading.
type Disk struct {
	Mount string  `json:"mount"`
	Usage float64 `json:"usage"`
}

// Event is a validated monitoring snapshot for one host.
type Event struct {
	Timestamp time.Time `json:"timestamp"`
	ServerID  string    `json:"server_id"`
	CPU       *Usage    `json:"cpu,omitempty"`
	Memory    *Usage    `json:"memory,omitempty"`
	Disks     []Disk    `json:"disks,omitempty"`
}

// Kind classifies a validation failure.
type Kind string

const (
	KindMalformed    Kind = "Malformed"
	KindMissing      Kind = "Missing"
	KindBadType      Kind = "BadType"
	KindBadTimestamp Kind = "BadTimestamp"
	KindOutOfRange   Kind = "OutOfRange"
	KindEmpty        Kind = "Empty"
)

// ValidationError is returned for any rejected event. The event is never
// partially processed.
type ValidationError struct {
	Kind  Kind
	Field string
	Msg   string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("invalid event: %s: %s", e.Kind, e.Msg)
	}
	return fmt.Sprintf("invalid event: %s: %s: %s", e.Field, e.Kind, e.Msg)
}

func invalid(kind Kind, field, format string, args ...any) *ValidationError {
	return &ValidationError{Kind: kind, Field: field, Msg: fmt.Sprintf(format, args...)}
}
