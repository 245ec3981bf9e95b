package scheduler

import (
	"testing"
	"time"
)

func mustTime(t *testing.T, value, timezone string) time.Time {
	t.Helper()
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		t.Fatalf("load location: %v", err)
	}
	parsed, err := time.ParseInLocation("2006-01-02 15:04", value, loc)
	if err != nil {
		t.Fatalf("parse time: %v", err)
	}
	return parsed
}

func TestIsDue(t *testing.T) {
	cases := []struct {
		name     string
		expr     string
		timezone string
		at       string
		atTZ     string
		want     bool
	}{
		{"every minute", "* * * * *", "UTC", "2026-03-04 12:31", "UTC", true},
		{"exact minute hit", "30 9 * * *", "UTC", "2026-03-04 09:30", "UTC", true},
		{"exact minute miss", "30 9 * * *", "UTC", "2026-03-04 09:31", "UTC", false},
		{"step from zero", "*/15 * * * *", "UTC", "2026-03-04 09:45", "UTC", true},
		{"step from zero miss", "*/15 * * * *", "UTC", "2026-03-04 09:44", "UTC", false},
		{"step with start", "10/20 * * * *", "UTC", "2026-03-04 09:50", "UTC", true},
		{"step before start", "10/20 * * * *", "UTC", "2026-03-04 09:00", "UTC", false},
		{"range hit", "0 9-17 * * *", "UTC", "2026-03-04 13:00", "UTC", true},
		{"range miss", "0 9-17 * * *", "UTC", "2026-03-04 18:00", "UTC", false},
		{"comma list", "0 8,12,18 * * *", "UTC", "2026-03-04 12:00", "UTC", true},
		{"comma list miss", "0 8,12,18 * * *", "UTC", "2026-03-04 13:00", "UTC", false},
		{"weekday literal", "0 9 * * 1", "UTC", "2026-03-02 09:00", "UTC", true}, // a Monday
		{"weekday miss", "0 9 * * 1", "UTC", "2026-03-03 09:00", "UTC", false},
		{"day of month", "0 0 1 * *", "UTC", "2026-04-01 00:00", "UTC", true},
		{"month literal", "0 0 * 6 *", "UTC", "2026-06-15 00:00", "UTC", true},
		{"month miss", "0 0 * 6 *", "UTC", "2026-07-15 00:00", "UTC", false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := IsDue(tc.expr, tc.timezone, mustTime(t, tc.at, tc.atTZ))
			if err != nil {
				t.Fatalf("IsDue failed: %v", err)
			}
			if got != tc.want {
				t.Errorf("IsDue(%q, %q) = %v, want %v", tc.expr, tc.timezone, got, tc.want)
			}
		})
	}
}

func TestIsDueEvaluatesInScheduleTimezone(t *testing.T) {
	// 9:00 Monday in New York is 14:00 UTC (March, EST still in effect on
	// 2026-03-02). The schedule's timezone decides, not the server's.
	expr := "0 9 * * 1"
	at := mustTime(t, "2026-03-02 14:00", "UTC")

	due, err := IsDue(expr, "America/New_York", at)
	if err != nil {
		t.Fatalf("IsDue failed: %v", err)
	}
	if !due {
		t.Error("expected 14:00 UTC to be due for a 9am New York schedule")
	}

	due, err = IsDue(expr, "UTC", at)
	if err != nil {
		t.Fatalf("IsDue failed: %v", err)
	}
	if due {
		t.Error("14:00 UTC must not match a 9am UTC schedule")
	}
}

func TestIsDueRejectsMalformedExpressions(t *testing.T) {
	at := mustTime(t, "2026-03-04 09:00", "UTC")

	for _, expr := range []string{
		"",
		"* * * *",
		"* * * * * *",
		"61 * * * *",
		"* 25 * * *",
		"* * * * 7",
		"*/0 * * * *",
		"30-10 * * * *",
		"abc * * * *",
	} {
		if due, err := IsDue(expr, "UTC", at); err == nil || due {
			t.Errorf("IsDue(%q) = (%v, %v), want error and not due", expr, due, err)
		}
	}

	if _, err := IsDue("* * * * *", "Mars/Olympus", at); err == nil {
		t.Error("expected error for unknown timezone")
	}
}
