package hydro

import (
	"math"
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// Statistics summarises discharge over a day-bounded window of a timeline.
// NoData is set instead of failing when no non-null discharge exists.
type Statistics struct {
	Count  int
	Min    decimal.Decimal
	Max    decimal.Decimal
	Mean   decimal.Decimal
	P25    decimal.Decimal
	Median decimal.Decimal
	P75    decimal.Decimal
	Start  time.Time
	End    time.Time
	NoData bool
}

// Summarize computes statistics over the most recent dayCount distinct
// calendar days present in the timeline. Percentiles use nearest-rank with
// the index truncated: floor(count × p), 0-based, on discharge sorted
// ascending. That truncation is a fixed contract; do not "fix" it to
// interpolation.
func Summarize(t Timeline, dayCount int) Statistics {
	window := sliceRecentDays(t.Samples, dayCount)

	values := make([]decimal.Decimal, 0, len(window))
	for _, s := range window {
		if s.Discharge != nil {
			values = append(values, *s.Discharge)
		}
	}
	if len(values) == 0 {
		return Statistics{NoData: true}
	}

	sort.Slice(values, func(i, j int) bool {
		return values[i].LessThan(values[j])
	})

	sum := decimal.Zero
	for _, v := range values {
		sum = sum.Add(v)
	}

	stats := Statistics{
		Count:  len(values),
		Min:    values[0],
		Max:    values[len(values)-1],
		Mean:   sum.Div(decimal.NewFromInt(int64(len(values)))),
		P25:    nearestRank(values, 0.25),
		Median: nearestRank(values, 0.50),
		P75:    nearestRank(values, 0.75),
	}
	stats.Start = window[0].Timestamp
	stats.End = window[len(window)-1].Timestamp
	return stats
}

// nearestRank picks values[floor(count × p)], clamped to the last element.
func nearestRank(sorted []decimal.Decimal, p float64) decimal.Decimal {
	idx := int(math.Floor(float64(len(sorted)) * p))
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

// sliceRecentDays keeps samples belonging to the most recent dayCount
// distinct UTC calendar days, preserving ascending order. dayCount <= 0
// keeps everything.
func sliceRecentDays(samples []FlowSample, dayCount int) []FlowSample {
	if dayCount <= 0 || len(samples) == 0 {
		return samples
	}

	seen := make(map[time.Time]struct{})
	days := make([]time.Time, 0)
	for _, s := range samples {
		day := s.Timestamp.UTC().Truncate(24 * time.Hour)
		if _, ok := seen[day]; !ok {
			seen[day] = struct{}{}
			days = append(days, day)
		}
	}
	if len(days) <= dayCount {
		return samples
	}

	sort.Slice(days, func(i, j int) bool { return days[i].After(days[j]) })
	keep := make(map[time.Time]struct{}, dayCount)
	for _, day := range days[:dayCount] {
		keep[day] = struct{}{}
	}

	out := make([]FlowSample, 0, len(samples))
	for _, s := range samples {
		day := s.Timestamp.UTC().Truncate(24 * time.Hour)
		if _, ok := keep[day]; ok {
			out = append(out, s)
		}
	}
	return out
}
