package config

import (
	"maps"
	"slices"

	logx "alertrelay/pkg/logx"
)

// SummarizeRulesChange lists the sections that differ between two rules
// sets and returns log attrs describing the new values. Template bodies
// are not logged, only which keys changed.
func SummarizeRulesChange(oldR, newR *Rules) ([]string, []logx.Field) {
	if oldR == nil {
		oldR = &Rules{}
	}
	if newR == nil {
		newR = &Rules{}
	}

	changed := make([]string, 0, 2)
	var attrs []logx.Field

	var domains []string
	for _, d := range union(oldR.Thresholds, newR.Thresholds) {
		if oldR.Thresholds[d] != newR.Thresholds[d] {
			domains = append(domains, d)
			t := newR.Thresholds[d]
			attrs = append(attrs,
				logx.Float64("thresholds."+d+".critical", t.Critical),
				logx.Float64("thresholds."+d+".warning", t.Warning),
			)
		}
	}
	if len(domains) > 0 {
		changed = append(changed, "thresholds")
	}

	var keys []string
	for _, k := range union(oldR.Templates, newR.Templates) {
		if oldR.Templates[k] != newR.Templates[k] {
			keys = append(keys, k)
		}
	}
	if len(keys) > 0 {
		changed = append(changed, "templates")
		attrs = append(attrs, logx.Strs("templates.changed", keys))
	}
	return changed, attrs
}

func union[V any](a, b map[string]V) []string {
	seen := make(map[string]struct{}, len(a)+len(b))
	for k := range a {
		seen[k] = struct{}{}
	}
	for k := range b {
		seen[k] = struct{}{}
	}
	return slices.Sorted(maps.Keys(seen))
}
