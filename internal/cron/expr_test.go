package cron

import (
	"errors"
	"testing"
	"time"
)

func TestValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		expr    string
		wantErr error
	}{
		{"*/5 * * * *", nil},
		{"0 9 * * 1-5", nil},
		{"30 8 1,15 * *", nil},
		{"5/15 */2 * 1-6 0", nil},
		{"0,30 * * * *", nil},
		{"*/6 * * * *", nil},
		{"0,55 * * * *", nil},
		{"0 0 29 2 *", nil},
		{"  0   12  *  *  * ", nil},
		{"* * * * *", ErrTooFrequent},
		{"*/4 * * * *", ErrTooFrequent},
		{"*/1 0 * * *", ErrTooFrequent},
		{"0,1 * * * *", ErrTooFrequent},
		{"10-14 * * * *", ErrTooFrequent},
		{"0,58 * * * *", ErrTooFrequent},
		{"2,59 * * * *", ErrTooFrequent},
		{"*/7 * * * *", ErrTooFrequent},
		{"0 * * *", ErrFieldCount},
		{"0 * * * * *", ErrFieldCount},
		{"", ErrFieldCount},
		{"60 * * * *", ErrSyntax},
		{"0 24 * * *", ErrSyntax},
		{"0 0 0 * *", ErrSyntax},
		{"0 0 32 * *", ErrSyntax},
		{"0 0 * 13 *", ErrSyntax},
		{"0 0 * * 7", ErrSyntax},
		{"*/0 * * * *", ErrSyntax},
		{"5-1 * * * *", ErrSyntax},
		{"a * * * *", ErrSyntax},
		{"0,,5 * * * *", ErrSyntax},
		{"0 */x * * *", ErrSyntax},
		{"-5 * * * *", ErrSyntax},
	}

	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			t.Parallel()
			_, err := Validate(tt.expr)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Validate(%q) = %v, want %v", tt.expr, err, tt.wantErr)
			}
			if got := Valid(tt.expr); got != (tt.wantErr == nil) {
				t.Errorf("Valid(%q) = %v", tt.expr, got)
			}
		})
	}
}

func TestParse_Normalizes(t *testing.T) {
	t.Parallel()

	e, err := Parse("  0   12  *  *  * ")
	if err != nil {
		t.Fatal(err)
	}
	if e.String() != "0 12 * * *" {
		t.Errorf("String() = %q", e.String())
	}
}

func TestMatchesNow(t *testing.T) {
	t.Parallel()

	// 2026-03-02 is a Monday.
	mon0930 := time.Date(2026, 3, 2, 9, 30, 45, 0, time.UTC)

	tests := []struct {
		expr string
		at   time.Time
		want bool
	}{
		{"30 9 * * 1", mon0930, true},
		{"30 9 * * 2", mon0930, false},
		{"*/15 9 * * *", mon0930, true},
		{"*/15 10 * * *", mon0930, false},
		{"30 9 2 3 *", mon0930, true},
		{"30 9 2 4 *", mon0930, false},
		// Both day fields must match.
		{"30 9 2 * 0", mon0930, false},
		// Evaluated in UTC regardless of the input zone.
		{"30 9 * * *", mon0930.In(time.FixedZone("UTC+2", 2*3600)), true},
		{"bogus", mon0930, false},
	}

	for _, tt := range tests {
		if got := MatchesNow(tt.expr, tt.at); got != tt.want {
			t.Errorf("MatchesNow(%q, %v) = %v, want %v", tt.expr, tt.at, got, tt.want)
		}
	}
}

func TestNextRun(t *testing.T) {
	t.Parallel()

	base := time.Date(2026, 3, 2, 9, 30, 0, 0, time.UTC) // Monday

	tests := []struct {
		name  string
		expr  string
		after time.Time
		want  time.Time
	}{
		{"strictly after exact match", "30 9 * * *", base, time.Date(2026, 3, 3, 9, 30, 0, 0, time.UTC)},
		{"next five minutes", "*/5 * * * *", base.Add(10 * time.Second), time.Date(2026, 3, 2, 9, 35, 0, 0, time.UTC)},
		{"later today", "0 18 * * *", base, time.Date(2026, 3, 2, 18, 0, 0, 0, time.UTC)},
		{"weekday skip", "0 8 * * 6", base, time.Date(2026, 3, 7, 8, 0, 0, 0, time.UTC)},
		{"month rollover", "0 0 1 * *", base, time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)},
		{"year rollover", "15 6 1 1 *", base, time.Date(2027, 1, 1, 6, 15, 0, 0, time.UTC)},
		{"stepped base", "5/20 10 * * *", base, time.Date(2026, 3, 2, 10, 5, 0, 0, time.UTC)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, ok := NextRun(tt.expr, tt.after)
			if !ok {
				t.Fatalf("NextRun(%q) returned none", tt.expr)
			}
			if !got.Equal(tt.want) {
				t.Errorf("NextRun(%q) = %v, want %v", tt.expr, got, tt.want)
			}
		})
	}
}

func TestNextRun_Unsatisfiable(t *testing.T) {
	t.Parallel()

	got, ok := NextRun("0 0 30 2 *", time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	if ok || !got.IsZero() {
		t.Fatalf("NextRun = %v, %v; want zero, false", got, ok)
	}

	// The next Feb 29 after March 2026 is in 2028, past the horizon.
	if got, ok := NextRun("0 0 29 2 *", time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)); ok {
		t.Fatalf("NextRun = %v, want none within horizon", got)
	}

	e, _ := Parse("0 0 30 2 *")
	if !e.Next(time.Now()).IsZero() {
		t.Error("Next should return the zero time past the horizon")
	}
}

func TestNextRun_InvalidExpression(t *testing.T) {
	t.Parallel()

	if _, ok := NextRun("nope", time.Now()); ok {
		t.Error("invalid expression should have no next run")
	}
}

// The first result must be the earliest matching minute: scan every minute
// between the start and the result and check none matches.
func TestNextRun_NoEarlierMatch(t *testing.T) {
	t.Parallel()

	exprs := []string{
		"*/5 * * * *",
		"7,37 */3 * * *",
		"0 12 * * 1-5",
		"45 23 31 * *",
		"0 6 13 * 5",
	}
	start := time.Date(2026, 1, 30, 22, 17, 31, 0, time.UTC)

	for _, expr := range exprs {
		e, err := Validate(expr)
		if err != nil {
			t.Fatalf("Validate(%q): %v", expr, err)
		}
		next, ok := e.NextAfter(start)
		if !ok {
			t.Fatalf("NextAfter(%q) returned none", expr)
		}
		if !next.After(start) || !e.Matches(next) || next.Second() != 0 {
			t.Fatalf("NextAfter(%q) = %v is not a matching minute after %v", expr, next, start)
		}
		for m := start.Truncate(time.Minute).Add(time.Minute); m.Before(next); m = m.Add(time.Minute) {
			if e.Matches(m) {
				t.Fatalf("NextAfter(%q) = %v skipped earlier match %v", expr, next, m)
			}
		}
	}
}

func TestExpression_NextRuns(t *testing.T) {
	t.Parallel()

	e, _ := Validate("0 */6 * * *")
	runs := e.NextRuns(time.Date(2026, 5, 1, 1, 0, 0, 0, time.UTC), 3)
	want := []time.Time{
		time.Date(2026, 5, 1, 6, 0, 0, 0, time.UTC),
		time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC),
		time.Date(2026, 5, 1, 18, 0, 0, 0, time.UTC),
	}
	if len(runs) != len(want) {
		t.Fatalf("len = %d, want %d", len(runs), len(want))
	}
	for i := range want {
		if !runs[i].Equal(want[i]) {
			t.Errorf("runs[%d] = %v, want %v", i, runs[i], want[i])
		}
	}
}
