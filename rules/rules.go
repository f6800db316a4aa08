// Package rules holds the rate-limit rule table: named scopes mapped to a
// maximum hit count per window. The table is parsed once at startup from
// "<count>/<unit>" rate strings and is read-only afterwards.
package rules

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ErrInvalidLimitFormat is returned when a rate string cannot be parsed.
// It is a configuration-time error: callers should abort startup on it.
var ErrInvalidLimitFormat = errors.New("rules: invalid limit format")

// windowUnits maps the accepted rate-string units to their durations.
var windowUnits = map[string]time.Duration{
	"second": time.Second,
	"minute": time.Minute,
	"hour":   time.Hour,
	"day":    24 * time.Hour,
}

// Limit is one parsed rate-limit rule. Immutable after parsing.
type Limit struct {
	Scope  string        // name of the rule table row this limit came from
	Max    uint64        // maximum hits per window, always >= 1
	Window time.Duration // window duration, always > 0
}

// String implements fmt.Stringer for log output.
func (l Limit) String() string {
	return fmt.Sprintf("%s:%d/%s", l.Scope, l.Max, l.Window)
}

// ParseRate parses a rate string of the form "<count>/<unit>" where unit is
// one of second, minute, hour or day. The count must be a positive integer.
func ParseRate(rate string) (uint64, time.Duration, error) {
	count, unit, ok := strings.Cut(rate, "/")
	if !ok {
		return 0, 0, fmt.Errorf("%w: %q is not of the form <count>/<unit>", ErrInvalidLimitFormat, rate)
	}

	max, err := strconv.ParseUint(strings.TrimSpace(count), 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: count %q is not an unsigned integer", ErrInvalidLimitFormat, count)
	}
	if max == 0 {
		return 0, 0, fmt.Errorf("%w: count must be positive, got 0 in %q", ErrInvalidLimitFormat, rate)
	}

	window, exists := windowUnits[strings.TrimSpace(unit)]
	if !exists {
		return 0, 0, fmt.Errorf("%w: unknown unit %q (want second, minute, hour or day)", ErrInvalidLimitFormat, unit)
	}

	return max, window, nil
}
