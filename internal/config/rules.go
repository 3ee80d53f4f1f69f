package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"alertrelay/internal/channel"
	"alertrelay/internal/processor"

	yaml "go.yaml.in/yaml/v3"
)

// Rules is the optional overrides file. Thresholds are merged per domain
// over the environment values; Templates replace the per-channel message
// templates (keys are channel names and "email.subject").
type Rules struct {
	Thresholds map[string]processor.Threshold `json:"thresholds"`
	Templates  map[string]string              `json:"templates"`
}

// ParseRules decodes a rules file. YAML and JSON are both accepted and
// unknown fields are rejected.
func ParseRules(path string, data []byte) (*Rules, error) {
	jb, err := coerceToJSONBytes(path, data)
	if err != nil {
		return nil, err
	}
	var r Rules
	if len(bytes.TrimSpace(jb)) == 0 || bytes.Equal(bytes.TrimSpace(jb), []byte("null")) {
		return &r, nil
	}
	dec := json.NewDecoder(bytes.NewReader(jb))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&r); err != nil {
		return nil, err
	}
	// reject trailing tokens (e.g. concatenated JSON)
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		if err == nil {
			return nil, errors.New("invalid rules: trailing data")
		}
		return nil, err
	}
	return &r, nil
}

// LoadRules reads and validates path.
func LoadRules(path string) (*Rules, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	r, err := ParseRules(path, b)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if err := r.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return r, nil
}

// Validate checks threshold bounds and that every template parses.
func (r *Rules) Validate() error {
	if r == nil {
		return nil
	}
	var errs []error
	for _, d := range slices.Sorted(maps.Keys(r.Thresholds)) {
		t := r.Thresholds[d]
		if t.Critical < 0 || t.Critical > 100 || t.Warning < 0 || t.Warning > 100 {
			errs = append(errs, fmt.Errorf("thresholds.%s: values must be within 0..100", d))
			continue
		}
		if t.Critical > 0 && t.Warning > 0 && t.Warning >= t.Critical {
			errs = append(errs, fmt.Errorf("thresholds.%s: warning must be below critical", d))
		}
	}
	for _, k := range slices.Sorted(maps.Keys(r.Templates)) {
		if k != "email.subject" && !slices.Contains(channel.Known, k) {
			errs = append(errs, fmt.Errorf("templates.%s: unknown channel", k))
			continue
		}
		if _, err := channel.ParseTemplate(r.Templates[k]); err != nil {
			errs = append(errs, fmt.Errorf("templates.%s: %w", k, err))
		}
	}
	return errors.Join(errs...)
}

// Merge returns base with r's non-zero threshold fields applied.
func (r *Rules) Merge(base map[string]processor.Threshold) map[string]processor.Threshold {
	out := maps.Clone(base)
	if out == nil {
		out = map[string]processor.Threshold{}
	}
	if r == nil {
		return out
	}
	for d, t := range r.Thresholds {
		d = strings.ToLower(strings.TrimSpace(d))
		cur := out[d]
		if t.Critical > 0 {
			cur.Critical = t.Critical
		}
		if t.Warning > 0 {
			cur.Warning = t.Warning
		}
		out[d] = cur
	}
	return out
}

// Evaluator builds the threshold evaluator for cfg with r applied.
func (c *Config) Evaluator(r *Rules) *processor.ThresholdEvaluator {
	return processor.NewThresholdEvaluator(r.Merge(c.Thresholds))
}

// ChannelSettings returns the backend settings with r's templates applied.
func (c *Config) ChannelSettings(r *Rules) channel.Settings {
	if r == nil {
		return c.Channels
	}
	return c.Channels.WithTemplates(r.Templates)
}

// coerceToJSONBytes converts YAML to JSON bytes so both formats go through
// the strict JSON decoder. Files without a .yaml/.yml extension pass through.
func coerceToJSONBytes(path string, data []byte) ([]byte, error) {
	ext := strings.ToLower(filepath.Ext(path))
	if ext != ".yaml" && ext != ".yml" {
		return data, nil
	}

	var v any
	if err := yaml.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("yaml unmarshal: %w", err)
	}
	j, err := json.Marshal(normalizeYAML(v))
	if err != nil {
		return nil, fmt.Errorf("yaml->json marshal: %w", err)
	}
	return j, nil
}

// normalizeYAML ensures all map keys are strings so the result can be JSON-marshaled.
func normalizeYAML(in any) any {
	switch x := in.(type) {
	case map[any]any:
		m := make(map[string]any, len(x))
		for k, v := range x {
			m[fmt.Sprint(k)] = normalizeYAML(v)
		}
		return m
	case map[string]any:
		for k, v := range x {
			x[k] = normalizeYAML(v)
		}
		return x
	case []any:
		for i := range x {
			x[i] = normalizeYAML(x[i])
		}
		return x
	default:
		return in
	}
}
