// Package aggregate computes statistics over a trailing window of numeric
// data points.
package aggregate

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/flemzord/appcraft/internal/store"
)

// Op is an aggregation operation.
type Op string

// Supported operations.
const (
	OpAvg   Op = "avg"
	OpSum   Op = "sum"
	OpCount Op = "count"
	OpMax   Op = "max"
	OpMin   Op = "min"
)

// Window bounds, in days.
const (
	DefaultWindowDays = 7
	MinWindowDays     = 1
	MaxWindowDays     = 365
)

// Valid reports whether op is supported.
func (op Op) Valid() bool {
	switch op {
	case OpAvg, OpSum, OpCount, OpMax, OpMin:
		return true
	}
	return false
}

// Aggregator reads windows of data points from a DataStore.
type Aggregator struct {
	data store.DataStore
	now  func() time.Time
}

// New creates an Aggregator over data.
func New(data store.DataStore) *Aggregator {
	return &Aggregator{data: data, now: time.Now}
}

// ClampWindow bounds days to [MinWindowDays, MaxWindowDays]; zero or
// negative selects DefaultWindowDays.
func ClampWindow(days int) int {
	switch {
	case days <= 0:
		return DefaultWindowDays
	case days > MaxWindowDays:
		return MaxWindowDays
	default:
		return days
	}
}

// Aggregate computes op over the numeric values of (appID, key) created in
// the trailing windowDays. ok is false when op is unknown or no numeric
// sample exists; callers must not store anything in that case.
func (a *Aggregator) Aggregate(ctx context.Context, appID int64, key string, op Op, windowDays int) (value float64, ok bool, err error) {
	if !op.Valid() {
		return 0, false, nil
	}

	since := a.now().UTC().Add(-time.Duration(ClampWindow(windowDays)) * 24 * time.Hour)
	points, err := a.data.Since(ctx, appID, key, since)
	if err != nil {
		return 0, false, fmt.Errorf("aggregate: reading %q: %w", key, err)
	}

	samples := make([]float64, 0, len(points))
	for _, dp := range points {
		if v, ok := Numeric(dp.Value, key); ok {
			samples = append(samples, v)
		}
	}
	if len(samples) == 0 {
		return 0, false, nil
	}
	return Compute(op, samples), true, nil
}

// Compute applies op to a non-empty sample set.
func Compute(op Op, samples []float64) float64 {
	switch op {
	case OpSum, OpAvg:
		var sum float64
		for _, v := range samples {
			sum += v
		}
		if op == OpAvg {
			return sum / float64(len(samples))
		}
		return sum
	case OpCount:
		return float64(len(samples))
	case OpMax:
		return slices.Max(samples)
	case OpMin:
		return slices.Min(samples)
	}
	return 0
}

// Numeric extracts a number from a stored value: a bare number, a numeric
// string, or an object field named after key, then "value", then "result".
func Numeric(raw json.RawMessage, key string) (float64, bool) {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return 0, false
	}
	if obj, isObj := v.(map[string]any); isObj {
		for _, field := range []string{key, "value", "result"} {
			if f, ok := toFloat(obj[field]); ok {
				return f, true
			}
		}
		return 0, false
	}
	return toFloat(v)
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
			return 0, false
		}
		return f, true
	}
	return 0, false
}
