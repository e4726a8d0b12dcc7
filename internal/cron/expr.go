package cron

import (
	"errors"
	"fmt"
	"math/bits"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// Horizon bounds the next-run search. An expression with no match inside
// the horizon (e.g. day 30 of February) has no next run.
const Horizon = 366 * 24 * time.Hour

// MinInterval is the smallest allowed gap, in minutes, between two
// consecutive minute values of an expression.
const MinInterval = 5

// Expression errors.
var (
	ErrFieldCount  = errors.New("cron: expression must have exactly 5 fields")
	ErrSyntax      = errors.New("cron: invalid field syntax")
	ErrTooFrequent = errors.New("cron: schedule fires more often than every 5 minutes")
)

// fieldSet is a bitmask of allowed values for one field.
type fieldSet uint64

func (f fieldSet) has(v int) bool { return f&(1<<uint(v)) != 0 }

type bounds struct {
	name     string
	min, max int
}

var fieldBounds = [5]bounds{
	{"minute", 0, 59},
	{"hour", 0, 23},
	{"day-of-month", 1, 31},
	{"month", 1, 12},
	{"day-of-week", 0, 6},
}

// Expression is a parsed 5-field cron expression evaluated in UTC. All
// five fields must match for a time to match; day-of-month and day-of-week
// are not ORed as in POSIX cron.
type Expression struct {
	src    string
	minute fieldSet
	hour   fieldSet
	dom    fieldSet
	month  fieldSet
	dow    fieldSet
}

var _ cron.Schedule = (*Expression)(nil)

// Parse parses expr without applying the frequency floor.
func Parse(expr string) (*Expression, error) {
	parts := strings.Fields(expr)
	if len(parts) != 5 {
		return nil, fmt.Errorf("%w: got %d in %q", ErrFieldCount, len(parts), expr)
	}

	var sets [5]fieldSet
	for i, part := range parts {
		set, err := parseField(part, fieldBounds[i])
		if err != nil {
			return nil, err
		}
		sets[i] = set
	}

	return &Expression{
		src:    strings.Join(parts, " "),
		minute: sets[0],
		hour:   sets[1],
		dom:    sets[2],
		month:  sets[3],
		dow:    sets[4],
	}, nil
}

// parseField parses one comma-separated field: "*", "n", "lo-hi",
// "*/step", "n/step" and "lo-hi/step".
func parseField(field string, b bounds) (fieldSet, error) {
	var set fieldSet
	for _, token := range strings.Split(field, ",") {
		lo, hi, step := b.min, b.max, 1

		base, stepStr, hasStep := strings.Cut(token, "/")
		if hasStep {
			s, err := strconv.Atoi(stepStr)
			if err != nil || s <= 0 {
				return 0, fmt.Errorf("%w: %s step %q", ErrSyntax, b.name, token)
			}
			step = s
		}

		switch {
		case base == "*":
		case strings.Contains(base, "-"):
			l, h, _ := strings.Cut(base, "-")
			var err1, err2 error
			lo, err1 = strconv.Atoi(l)
			hi, err2 = strconv.Atoi(h)
			if err1 != nil || err2 != nil || lo > hi {
				return 0, fmt.Errorf("%w: %s range %q", ErrSyntax, b.name, token)
			}
		default:
			n, err := strconv.Atoi(base)
			if err != nil {
				return 0, fmt.Errorf("%w: %s value %q", ErrSyntax, b.name, token)
			}
			lo = n
			if !hasStep {
				hi = n
			}
		}

		if lo < b.min || hi > b.max {
			return 0, fmt.Errorf("%w: %s %q out of range %d-%d", ErrSyntax, b.name, token, b.min, b.max)
		}
		for v := lo; v <= hi; v += step {
			set |= 1 << uint(v)
		}
	}
	return set, nil
}

// String returns the normalized expression.
func (e *Expression) String() string { return e.src }

// Matches reports whether t, truncated to the minute in UTC, satisfies
// every field.
func (e *Expression) Matches(t time.Time) bool {
	t = t.UTC()
	return e.minute.has(t.Minute()) &&
		e.hour.has(t.Hour()) &&
		e.dom.has(t.Day()) &&
		e.month.has(int(t.Month())) &&
		e.dow.has(int(t.Weekday()))
}

// NextAfter returns the first matching minute strictly after t, or false
// when none exists within Horizon.
func (e *Expression) NextAfter(after time.Time) (time.Time, bool) {
	after = after.UTC()
	limit := after.Add(Horizon)
	t := after.Truncate(time.Minute).Add(time.Minute)

	for !t.After(limit) {
		if !e.month.has(int(t.Month())) {
			t = time.Date(t.Year(), t.Month()+1, 1, 0, 0, 0, 0, time.UTC)
			continue
		}
		if !e.dom.has(t.Day()) || !e.dow.has(int(t.Weekday())) {
			t = time.Date(t.Year(), t.Month(), t.Day()+1, 0, 0, 0, 0, time.UTC)
			continue
		}
		if !e.hour.has(t.Hour()) {
			t = t.Truncate(time.Hour).Add(time.Hour)
			continue
		}
		if e.minute.has(t.Minute()) {
			return t, true
		}
		t = t.Add(time.Minute)
	}
	return time.Time{}, false
}

// Next implements cron.Schedule. It returns the zero time when no run
// exists within Horizon, which parks the entry.
func (e *Expression) Next(t time.Time) time.Time {
	next, _ := e.NextAfter(t)
	return next
}

// minGap returns the smallest distance between consecutive allowed
// minutes, including the wrap from the last minute of an hour to the first
// of the next, or 60 when a single minute is allowed.
func (e *Expression) minGap() int {
	gap, first, prev := 60, -1, -1
	for set := uint64(e.minute); set != 0; set &= set - 1 {
		v := bits.TrailingZeros64(set)
		if prev >= 0 && v-prev < gap {
			gap = v - prev
		}
		if first < 0 {
			first = v
		}
		prev = v
	}
	if prev > first && first+60-prev < gap {
		gap = first + 60 - prev
	}
	return gap
}

// Validate parses expr and enforces the frequency floor.
func Validate(expr string) (*Expression, error) {
	e, err := Parse(expr)
	if err != nil {
		return nil, err
	}
	if gap := e.minGap(); gap < MinInterval {
		return nil, fmt.Errorf("%w: %q has minutes %d apart", ErrTooFrequent, expr, gap)
	}
	return e, nil
}

// Valid reports whether expr passes Validate.
func Valid(expr string) bool {
	_, err := Validate(expr)
	return err == nil
}

// MatchesNow reports whether expr matches instant. Unparseable expressions
// never match.
func MatchesNow(expr string, instant time.Time) bool {
	e, err := Parse(expr)
	if err != nil {
		return false
	}
	return e.Matches(instant)
}

// NextRun computes the next run of expr strictly after the given instant.
func NextRun(expr string, after time.Time) (time.Time, bool) {
	e, err := Parse(expr)
	if err != nil {
		return time.Time{}, false
	}
	return e.NextAfter(after)
}

// NextRuns returns up to n upcoming runs of e after t.
func (e *Expression) NextRuns(after time.Time, n int) []time.Time {
	var out []time.Time
	for range n {
		next, ok := e.NextAfter(after)
		if !ok {
			break
		}
		out = append(out, next)
		after = next
	}
	return out
}
