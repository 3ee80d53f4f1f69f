package event

import (
	"errors"
	"testing"
	"time"
)

func TestValidateRejects(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name  string
		raw   string
		opts  Options
		kind  Kind
		field string
	}{
		{name: "not json", raw: `{"timestamp":`, kind: KindMalformed},
		{name: "array root", raw: `[1,2]`, kind: KindMalformed},
		{name: "missing timestamp", raw: `{"server_id":"s","disks":[{"mount":"/","usage":1}]}`, kind: KindMissing, field: "timestamp"},
		{name: "bad timestamp", raw: `{"timestamp":"yesterday","server_id":"s","disks":[{"mount":"/","usage":1}]}`, kind: KindBadTimestamp, field: "timestamp"},
		{name: "numeric timestamp", raw: `{"timestamp":1700000000,"server_id":"s","disks":[{"mount":"/","usage":1}]}`, kind: KindBadType, field: "timestamp"},
		{name: "missing server", raw: `{"timestamp":"2025-01-01T00:00:00Z","disks":[{"mount":"/","usage":1}]}`, kind: KindMissing, field: "server_id"},
		{name: "missing disks", raw: `{"timestamp":"2025-01-01T00:00:00Z","server_id":"s"}`, kind: KindMissing, field: "disks"},
		{name: "empty disks", raw: `{"timestamp":"2025-01-01T00:00:00Z","server_id":"s","disks":[]}`, kind: KindEmpty, field: "disks"},
		{name: "cpu out of range", raw: `{"timestamp":"2025-01-01T00:00:00Z","server_id":"s","cpu":{"usage":150},"disks":[{"mount":"/","usage":1}]}`, kind: KindOutOfRange, field: "cpu.usage"},
		{name: "memory not number", raw: `{"timestamp":"2025-01-01T00:00:00Z","server_id":"s","memory":{"usage":"high"},"disks":[{"mount":"/","usage":1}]}`, kind: KindBadType, field: "memory.usage"},
		{name: "second disk bad", raw: `{"timestamp":"2025-01-01T00:00:00Z","server_id":"s","disks":[{"mount":"/","usage":1},{"mount":"/var","usage":-3}]}`, kind: KindOutOfRange, field: "disks[1].usage"},
		{name: "disk mount wrong type", raw: `{"timestamp":"2025-01-01T00:00:00Z","server_id":"s","disks":[{"mount":7,"usage":1}]}`, kind: KindBadType, field: "disks[0].mount"},
		{name: "required cpu", raw: `{"timestamp":"2025-01-01T00:00:00Z","server_id":"s"}`, opts: Options{Require: []string{"cpu"}}, kind: KindMissing, field: "cpu"},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			ev, err := Validate([]byte(tc.raw), tc.opts)
			if ev != nil {
				t.Fatalf("expected nil event, got %+v", ev)
			}
			var ve *ValidationError
			if !errors.As(err, &ve) {
				t.Fatalf("expected *ValidationError, got %v", err)
			}
			if ve.Kind != tc.kind || ve.Field != tc.field {
				t.Fatalf("got kind=%s field=%q, want kind=%s field=%q", ve.Kind, ve.Field, tc.kind, tc.field)
			}
		})
	}
}

func TestValidateMinimalEvent(t *testing.T) {
	t.Parallel()

	raw := `{"timestamp":"2025-01-01T00:00:00Z","server_id":"svr01","disks":[{"mount":"/","usage":50}]}`
	ev, err := Validate([]byte(raw), Options{})
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if ev.ServerID != "svr01" || len(ev.Disks) != 1 || ev.Disks[0].Usage != 50 {
		t.Fatalf("unexpected event: %+v", ev)
	}
	if ev.CPU != nil || ev.Memory != nil {
		t.Fatalf("absent metrics should stay nil: %+v", ev)
	}
	if !ev.Timestamp.Equal(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("timestamp = %s", ev.Timestamp)
	}
}

func TestValidateNoRequiredMetrics(t *testing.T) {
	t.Parallel()

	raw := `{"timestamp":"2025-01-01T00:00:00Z","server_id":"svr01","cpu":{"usage":12.5}}`
	ev, err := Validate([]byte(raw), Options{Require: []string{}})
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if ev.CPU == nil || ev.CPU.Usage != 12.5 {
		t.Fatalf("cpu = %+v", ev.CPU)
	}
}

func TestParseTimestamp(t *testing.T) {
	t.Parallel()

	cases := map[string]time.Time{
		"2025-01-01T00:00:00Z":          time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
		"2025-01-01T02:00:00+02:00":     time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
		"2025-01-01T02:00:00.5+0200":    time.Date(2025, 1, 1, 0, 0, 0, 5e8, time.UTC),
		"2025-01-01T00:00:00":           time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
		"2025-01-01T00:00:00.123456789": time.Date(2025, 1, 1, 0, 0, 0, 123456789, time.UTC),
	}
	for in, want := range cases {
		got, err := ParseTimestamp(in)
		if err != nil {
			t.Fatalf("ParseTimestamp(%q): %v", in, err)
		}
		if !got.Equal(want) {
			t.Fatalf("ParseTimestamp(%q) = %s, want %s", in, got, want)
		}
	}
	for _, bad := range []string{"", "2025-13-01T00:00:00Z", "01/01/2025"} {
		if _, err := ParseTimestamp(bad); err == nil {
			t.Fatalf("ParseTimestamp(%q) should fail", bad)
		}
	}
}
