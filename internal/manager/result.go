package manager

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"alertrelay/internal/channel"
	"alertrelay/internal/processor"
	"alertrelay/internal/queue"
)

var ErrNoChannels = errors.New("no delivery channels configured")

// EntryResult is the delivery record for one drained entry.
type EntryResult struct {
	Entry     queue.Entry       `json:"entry"`
	Debounced bool              `json:"debounced,omitempty"`
	Remaining time.Duration     `json:"remaining,omitempty"`
	Outcomes  []channel.Outcome `json:"outcomes,omitempty"`
}

// Result summarizes one Manage or Deliver call.
type Result struct {
	Label      string             `json:"context,omitempty"`
	ServerID   string             `json:"server_id,omitempty"`
	Processors []processor.Result `json:"processors,omitempty"`
	Entries    []EntryResult      `json:"entries"`
}

// ChannelSummary lists channels with at least one success and channels
// with at least one failure.
func (r *Result) ChannelSummary() (succeeded, failed []string) {
	ok, bad := map[string]bool{}, map[string]bool{}
	for _, e := range r.Entries {
		for _, o := range e.Outcomes {
			if o.OK() {
				ok[o.Channel] = true
			} else {
				bad[o.Channel] = true
			}
		}
	}
	return keys(ok), keys(bad)
}

func keys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Failure is one undelivered (entry, channel) pair.
type Failure struct {
	EntryID string
	Type    string
	Channel string
	Status  string
	Err     error
}

func (f Failure) MarshalJSON() ([]byte, error) {
	out := struct {
		EntryID string `json:"entry_id"`
		Type    string `json:"type"`
		Channel string `json:"channel,omitempty"`
		Status  string `json:"status"`
		Error   string `json:"error,omitempty"`
	}{EntryID: f.EntryID, Type: f.Type, Channel: f.Channel, Status: f.Status}
	if f.Err != nil {
		out.Error = f.Err.Error()
	}
	return json.Marshal(out)
}

// PartialDeliveryError reports that at least one delivery failed. Other
// entries and channels were still attempted.
type PartialDeliveryError struct {
	Delivered int
	Failures  []Failure
}

func (e *PartialDeliveryError) Error() string {
	chans := map[string]bool{}
	for _, f := range e.Failures {
		if f.Channel != "" {
			chans[f.Channel] = true
		}
	}
	names := keys(chans)
	if len(e.Failures) == 0 {
		return "delivery failed"
	}
	if len(names) == 0 {
		return fmt.Sprintf("delivery failed for %d alert(s): %v", len(e.Failures), e.Failures[0].Err)
	}
	return fmt.Sprintf("partial delivery: %d failed, %d delivered (failing: %s)", len(e.Failures), e.Delivered, strings.Join(names, ", "))
}

// Unwrap exposes the per-channel causes to errors.Is / errors.As.
func (e *PartialDeliveryError) Unwrap() []error {
	out := make([]error, 0, len(e.Failures))
	for _, f := range e.Failures {
		if f.Err != nil {
			out = append(out, f.Err)
		}
	}
	return out
}
