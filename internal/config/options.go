package config

import (
	"fmt"
	"time"
)

// OptString returns opts[key] when it is a string, or "".
func OptString(opts map[string]any, key string) string {
	s, _ := opts[key].(string)
	return s
}

// OptInt returns opts[key] as an int. YAML integers decode as int; floats
// with no fractional part are accepted too. Missing keys return def.
func OptInt(opts map[string]any, key string, def int) (int, error) {
	v, ok := opts[key]
	if !ok {
		return def, nil
	}
	switch n := v.(type) {
	case int:
		return n, nil
	case float64:
		if n == float64(int(n)) {
			return int(n), nil
		}
	}
	return def, fmt.Errorf("config: option %q: want integer, got %v", key, v)
}

// OptFloat returns opts[key] as a float64. Missing keys return def.
func OptFloat(opts map[string]any, key string, def float64) (float64, error) {
	v, ok := opts[key]
	if !ok {
		return def, nil
	}
	switch n := v.(type) {
	case float64:
		return n, nil
	case int:
		return float64(n), nil
	}
	return def, fmt.Errorf("config: option %q: want number, got %v", key, v)
}

// OptDuration parses opts[key] with [time.ParseDuration]. Missing keys
// return def.
func OptDuration(opts map[string]any, key string, def time.Duration) (time.Duration, error) {
	v, ok := opts[key]
	if !ok {
		return def, nil
	}
	s, ok := v.(string)
	if !ok {
		return def, fmt.Errorf("config: option %q: want duration string, got %v", key, v)
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return def, fmt.Errorf("config: option %q: %w", key, err)
	}
	return d, nil
}
