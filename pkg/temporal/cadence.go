package temporal

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ErrInvalidCadence is returned when a cadence string cannot be parsed
var ErrInvalidCadence = errors.New("invalid cadence")

// ParseCadence parses a fixed-step duration string such as "30s", "10m",
// "1h" or "1d". The "min" suffix is accepted as an alias for minutes.
func ParseCadence(cadence string) (time.Duration, error) {
	s := strings.TrimSpace(strings.ToLower(cadence))
	if s == "" {
		return 0, fmt.Errorf("%w: empty string", ErrInvalidCadence)
	}

	unit := time.Duration(0)
	digits := s
	switch {
	case strings.HasSuffix(s, "min"):
		unit = time.Minute
		digits = strings.TrimSuffix(s, "min")
	case strings.HasSuffix(s, "ms"):
		unit = time.Millisecond
		digits = strings.TrimSuffix(s, "ms")
	case strings.HasSuffix(s, "s"):
		unit = time.Second
		digits = strings.TrimSuffix(s, "s")
	case strings.HasSuffix(s, "m"):
		unit = time.Minute
		digits = strings.TrimSuffix(s, "m")
	case strings.HasSuffix(s, "h"):
		unit = time.Hour
		digits = strings.TrimSuffix(s, "h")
	case strings.HasSuffix(s, "d"):
		unit = 24 * time.Hour
		digits = strings.TrimSuffix(s, "d")
	default:
		return 0, fmt.Errorf("%w: %q has no recognized unit", ErrInvalidCadence, cadence)
	}

	n, err := strconv.Atoi(digits)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("%w: %q must have a positive integer count", ErrInvalidCadence, cadence)
	}

	return time.Duration(n) * unit, nil
}

// Floor truncates a timestamp down to the nearest cadence bucket boundary.
func Floor(t time.Time, step time.Duration) time.Time {
	return t.UTC().Truncate(step)
}
