package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// parseDuration accepts Go durations ("90s", "1h") and bare integers,
// which are read in unit. Empty input yields 0.
func parseDuration(key, raw string, unit time.Duration) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		if n < 0 {
			return 0, fmt.Errorf("%s: duration must be >= 0", key)
		}
		return time.Duration(n) * unit, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q", key, raw)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: duration must be >= 0", key)
	}
	return d, nil
}
