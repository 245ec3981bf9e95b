package scheduler

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// cronField is one of the five positions of a cron expression, with its
// value drawn from the evaluation time and its allowed range.
type cronField struct {
	value int
	min   int
	max   int
}

// IsDue reports whether a five-field cron expression matches the given
// instant, evaluated in the named IANA timezone. Day-of-month and
// day-of-week are both restrictions: when both are specified the minute
// is due only if both match. A malformed expression or unknown timezone
// is an error, never a match.
func IsDue(expr, timezone string, now time.Time) (bool, error) {
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return false, fmt.Errorf("invalid timezone %q: %w", timezone, err)
	}
	local := now.In(loc)

	fields := strings.Fields(expr)
	if len(fields) != 5 {
		return false, fmt.Errorf("invalid cron expression %q: expected 5 fields, got %d", expr, len(fields))
	}

	checks := []cronField{
		{local.Minute(), 0, 59},
		{local.Hour(), 0, 23},
		{local.Day(), 1, 31},
		{int(local.Month()), 1, 12},
		{int(local.Weekday()), 0, 6},
	}

	for i, field := range checks {
		match, err := matchesField(fields[i], field)
		if err != nil {
			return false, fmt.Errorf("invalid cron expression %q: %w", expr, err)
		}
		if !match {
			return false, nil
		}
	}
	return true, nil
}

// matchesField evaluates one cron field against the current value.
// Supported forms: "*", "*/n", "start/n", "a-b", comma lists of any of
// these, and bare literals.
func matchesField(spec string, field cronField) (bool, error) {
	for _, part := range strings.Split(spec, ",") {
		match, err := matchesPart(part, field)
		if err != nil {
			return false, err
		}
		if match {
			return true, nil
		}
	}
	return false, nil
}

func matchesPart(part string, field cronField) (bool, error) {
	if part == "*" {
		return true, nil
	}

	if base, stepStr, found := strings.Cut(part, "/"); found {
		step, err := strconv.Atoi(stepStr)
		if err != nil || step <= 0 {
			return false, fmt.Errorf("bad step %q", part)
		}
		start := field.min
		if base != "*" {
			if start, err = parseValue(base, field); err != nil {
				return false, err
			}
		}
		return field.value >= start && (field.value-start)%step == 0, nil
	}

	if lowStr, highStr, found := strings.Cut(part, "-"); found {
		low, err := parseValue(lowStr, field)
		if err != nil {
			return false, err
		}
		high, err := parseValue(highStr, field)
		if err != nil {
			return false, err
		}
		if low > high {
			return false, fmt.Errorf("bad range %q", part)
		}
		return field.value >= low && field.value <= high, nil
	}

	literal, err := parseValue(part, field)
	if err != nil {
		return false, err
	}
	return field.value == literal, nil
}

func parseValue(s string, field cronField) (int, error) {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("bad value %q", s)
	}
	if n < field.min || n > field.max {
		return 0, fmt.Errorf("value %d out of range %d-%d", n, field.min, field.max)
	}
	return n, nil
}
