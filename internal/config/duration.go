package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// parseDuration reads a duration setting. A bare number counts as seconds,
// so "600" and "10m" are the same drawing length.
func parseDuration(key, raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	var d time.Duration
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		d = time.Duration(n) * time.Second
	} else if d, err = time.ParseDuration(s); err != nil {
		return 0, fmt.Errorf("%s: %q is neither seconds nor a duration like 90s or 10m", key, raw)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: must not be negative", key)
	}
	return d, nil
}

// durationOr is parseDuration with def standing in for unset or zero.
func durationOr(key, raw string, def time.Duration) (time.Duration, error) {
	d, err := parseDuration(key, raw)
	if err != nil || d > 0 {
		return d, err
	}
	return def, nil
}
