package hydro

import (
	"time"

	"github.com/shopspring/decimal"
)

// Authority identifies which operator publishes a gauge.
type Authority string

const (
	AuthorityGovernment Authority = "government"
	AuthorityUtility    Authority = "utility"
)

// Station is immutable reference data describing a physical gauge.
type Station struct {
	ID        string
	Name      string
	Latitude  float64
	Longitude float64
	Authority Authority
}

// Source tags where a sample came from.
type Source string

const (
	SourceLive       Source = "live"
	SourceHistorical Source = "historical"
)

// FlowSample is a single gauge observation. Discharge (m³/s) and level (m)
// are independently nullable; a sample with both null carries no information.
type FlowSample struct {
	Timestamp time.Time
	Discharge *decimal.Decimal
	Level     *decimal.Decimal
	Source    Source
}

// Empty reports whether the sample carries neither discharge nor level.
func (s FlowSample) Empty() bool {
	return s.Discharge == nil && s.Level == nil
}

// Timeline is an ordered, deduplicated sequence of samples for one station,
// ascending by timestamp. Timelines are value objects: merges produce new
// timelines, existing ones are never mutated.
type Timeline struct {
	StationID string
	Samples   []FlowSample
}

// Len returns the number of samples.
func (t Timeline) Len() int {
	return len(t.Samples)
}

// Range returns the first and last timestamps covered. Zero times when empty.
func (t Timeline) Range() (time.Time, time.Time) {
	if len(t.Samples) == 0 {
		return time.Time{}, time.Time{}
	}
	return t.Samples[0].Timestamp, t.Samples[len(t.Samples)-1].Timestamp
}

// Latest returns the most recent sample.
func (t Timeline) Latest() (FlowSample, bool) {
	if len(t.Samples) == 0 {
		return FlowSample{}, false
	}
	return t.Samples[len(t.Samples)-1], true
}

// Gap describes a span of calendar days with no data between the archive's
// last daily mean and the first realtime-derived sample. The government
// daily-mean collection lags realtime by a processing window, so current
// timelines commonly carry one.
type Gap struct {
	Start time.Time
	End   time.Time
	Days  int
}
