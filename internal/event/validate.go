package event

import (
	"fmt"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

// DefaultRequire lists the metric fields required when Options.Require is nil.
var DefaultRequire = []string{"disks"}

// Options tunes validation.
type Options struct {
	// Require names metric fields that must be present in addition to
	// timestamp and server_id. nil means DefaultRequire; an empty non-nil
	// slice requires none.
	Require []string
}

func (o Options) require() []string {
	if o.Require == nil {
		return DefaultRequire
	}
	return o.Require
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999Z0700",
	"2006-01-02T15:04:05.999999999-07",
}

// Offset-less forms are read as UTC.
var naiveLayouts = []string{
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04",
}

// ParseTimestamp accepts ISO-8601 date-times with an optional zone offset or Z.
func ParseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, l := range timestampLayouts {
		if t, err := time.Parse(l, s); err == nil {
			return t, nil
		}
	}
	for _, l := range naiveLayouts {
		if t, err := time.ParseInLocation(l, s, time.UTC); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("not an ISO-8601 timestamp: %q", s)
}

// Validate checks raw and returns the decoded event, or a *ValidationError.
func Validate(raw []byte, opts Options) (*Event, error) {
	if !gjson.ValidBytes(raw) {
		return nil, invalid(KindMalformed, "", "not valid JSON")
	}
	doc := gjson.ParseBytes(raw)
	if !doc.IsObject() {
		return nil, invalid(KindMalformed, "", "expected a JSON object")
	}

	ev := &Event{}

	ts := doc.Get("timestamp")
	switch {
	case !ts.Exists():
		return nil, invalid(KindMissing, "timestamp", "required field is absent")
	case ts.Type != gjson.String:
		return nil, invalid(KindBadType, "timestamp", "want string, got %s", ts.Type)
	}
	t, err := ParseTimestamp(ts.Str)
	if err != nil {
		return nil, invalid(KindBadTimestamp, "timestamp", "%v", err)
	}
	ev.Timestamp = t

	sid := doc.Get("server_id")
	switch {
	case !sid.Exists():
		return nil, invalid(KindMissing, "server_id", "required field is absent")
	case sid.Type != gjson.String:
		return nil, invalid(KindBadType, "server_id", "want string, got %s", sid.Type)
	case strings.TrimSpace(sid.Str) == "":
		return nil, invalid(KindEmpty, "server_id", "must not be empty")
	}
	ev.ServerID = sid.Str

	for _, f := range opts.require() {
		f = strings.TrimSpace(f)
		if f == "" {
			continue
		}
		if !doc.Get(f).Exists() {
			return nil, invalid(KindMissing, f, "required field is absent")
		}
	}

	if ev.CPU, err = usageObject(doc, "cpu"); err != nil {
		return nil, err
	}
	if ev.Memory, err = usageObject(doc, "memory"); err != nil {
		return nil, err
	}
	if ev.Disks, err = disks(doc); err != nil {
		return nil, err
	}
	return ev, nil
}

func usageObject(doc gjson.Result, name string) (*Usage, error) {
	obj := doc.Get(name)
	if !obj.Exists() {
		return nil, nil
	}
	if !obj.IsObject() {
		return nil, invalid(KindBadType, name, "want object, got %s", obj.Type)
	}
	v, err := percent(obj.Get("usage"), name+".usage")
	if err != nil {
		return nil, err
	}
	return &Usage{Usage: v}, nil
}

func disks(doc gjson.Result) ([]Disk, error) {
	arr := doc.Get("disks")
	if !arr.Exists() {
		return nil, nil
	}
	if !arr.IsArray() {
		return nil, invalid(KindBadType, "disks", "want array, got %s", arr.Type)
	}
	items := arr.Array()
	if len(items) == 0 {
		return nil, invalid(KindEmpty, "disks", "must contain at least one disk")
	}

	out := make([]Disk, 0, len(items))
	for i, it := range items {
		field := fmt.Sprintf("disks[%d]", i)
		if !it.IsObject() {
			return nil, invalid(KindBadType, field, "want object, got %s", it.Type)
		}
		m := it.Get("mount")
		switch {
		case !m.Exists():
			return nil, invalid(KindMissing, field+".mount", "required field is absent")
		case m.Type != gjson.String:
			return nil, invalid(KindBadType, field+".mount", "want string, got %s", m.Type)
		}
		u, err := percent(it.Get("usage"), field+".usage")
		if err != nil {
			return nil, err
		}
		out = append(out, Disk{Mount: m.Str, Usage: u})
	}
	return out, nil
}

func percent(v gjson.Result, field string) (float64, error) {
	if !v.Exists() {
		return 0, invalid(KindMissing, field, "required field is absent")
	}
	if v.Type != gjson.Number {
		return 0, invalid(KindBadType, field, "want number, got %s", v.Type)
	}
	if v.Num < 0 || v.Num > 100 {
		return 0, invalid(KindOutOfRange, field, "%g is outside [0,100]", v.Num)
	}
	return v.Num, nil
}
