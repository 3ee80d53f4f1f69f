package channel

import (
	"errors"
	"fmt"
)

var ErrCircuitOpen = errors.New("circuit breaker open")

// ConfigError reports missing or invalid channel configuration. It is
// terminal for the channel and never counts against the breaker.
type ConfigError struct {
	Channel string
	Field   string
	Msg     string
}

func (e *ConfigError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s: config %s: %s", e.Channel, e.Field, e.Msg)
	}
	return fmt.Sprintf("%s: config: %s", e.Channel, e.Msg)
}

func missing(channel, field string) *ConfigError {
	return &ConfigError{Channel: channel, Field: field, Msg: "not set"}
}

// TransportError is a failed network call. Body is already truncated.
type TransportError struct {
	Channel  string
	Status   int
	Body     string
	Attempts int
	Err      error
}

func (e *TransportError) Error() string {
	switch {
	case e.Status != 0 && e.Body != "":
		return fmt.Sprintf("%s: http %d: %s", e.Channel, e.Status, e.Body)
	case e.Status != 0:
		return fmt.Sprintf("%s: http %d", e.Channel, e.Status)
	case e.Body != "":
		return fmt.Sprintf("%s: %s", e.Channel, e.Body)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Channel, e.Err)
	default:
		return e.Channel + ": transport failure"
	}
}

func (e *TransportError) Unwrap() error { return e.Err }

// CircuitOpenError is returned without any network call while the
// channel's breaker is open.
type CircuitOpenError struct {
	Channel  string
	Failures int
}

func (e *CircuitOpenError) Error() string {
	return fmt.Sprintf("%s: circuit open after %d consecutive failures", e.Channel, e.Failures)
}

func (e *CircuitOpenError) Unwrap() error { return ErrCircuitOpen }

// IsConfigError reports whether err carries a *ConfigError.
func IsConfigError(err error) bool {
	var ce *ConfigError
	return errors.As(err, &ce)
}
