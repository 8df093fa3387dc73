package hydro

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// Merge combines an optional live reading with historical samples into one
// canonical timeline: union keyed by timestamp, live samples overwrite
// historical samples on collision, ascending order, samples carrying neither
// discharge nor level dropped. Deterministic for identical inputs.
func Merge(stationID string, live *FlowSample, historical []FlowSample) Timeline {
	byTime := make(map[int64]FlowSample, len(historical)+1)

	// Historical first; later entries of the same source win among themselves.
	for _, s := range historical {
		if s.Source == SourceLive {
			continue
		}
		byTime[s.Timestamp.UnixNano()] = s
	}

	// Live samples overwrite whatever historical reported for the instant.
	for _, s := range historical {
		if s.Source == SourceLive {
			byTime[s.Timestamp.UnixNano()] = s
		}
	}
	if live != nil {
		s := *live
		s.Source = SourceLive
		byTime[s.Timestamp.UnixNano()] = s
	}

	merged := make([]FlowSample, 0, len(byTime))
	for _, s := range byTime {
		if s.Empty() {
			continue
		}
		merged = append(merged, s)
	}

	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].Timestamp.Before(merged[j].Timestamp)
	})

	return Timeline{StationID: stationID, Samples: merged}
}

// DailyMeans collapses sub-daily samples into one sample per UTC calendar
// day, averaging discharge and level independently over their non-null
// values. The returned samples are stamped at midnight UTC and tagged with
// the given source.
func DailyMeans(samples []FlowSample, source Source) []FlowSample {
	type acc struct {
		dischargeSum decimal.Decimal
		dischargeN   int64
		levelSum     decimal.Decimal
		levelN       int64
	}

	days := make(map[time.Time]*acc)
	for _, s := range samples {
		day := s.Timestamp.UTC().Truncate(24 * time.Hour)
		a, ok := days[day]
		if !ok {
			a = &acc{}
			days[day] = a
		}
		if s.Discharge != nil {
			a.dischargeSum = a.dischargeSum.Add(*s.Discharge)
			a.dischargeN++
		}
		if s.Level != nil {
			a.levelSum = a.levelSum.Add(*s.Level)
			a.levelN++
		}
	}

	out := make([]FlowSample, 0, len(days))
	for day, a := range days {
		sample := FlowSample{Timestamp: day, Source: source}
		if a.dischargeN > 0 {
			mean := a.dischargeSum.Div(decimal.NewFromInt(a.dischargeN))
			sample.Discharge = &mean
		}
		if a.levelN > 0 {
			mean := a.levelSum.Div(decimal.NewFromInt(a.levelN))
			sample.Level = &mean
		}
		if !sample.Empty() {
			out = append(out, sample)
		}
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	return out
}

// DetectGap reports the span of whole days between the last historical
// sample and the first live-derived sample, or nil when the sources overlap
// or either side is absent.
func DetectGap(t Timeline) *Gap {
	var lastHistorical, firstLive time.Time
	for _, s := range t.Samples {
		switch s.Source {
		case SourceHistorical:
			if s.Timestamp.After(lastHistorical) {
				lastHistorical = s.Timestamp
			}
		case SourceLive:
			if firstLive.IsZero() || s.Timestamp.Before(firstLive) {
				firstLive = s.Timestamp
			}
		}
	}
	if lastHistorical.IsZero() || firstLive.IsZero() {
		return nil
	}

	const day = 24 * time.Hour
	histDay := lastHistorical.UTC().Truncate(day)
	liveDay := firstLive.UTC().Truncate(day)
	gapDays := int(liveDay.Sub(histDay)/day) - 1
	if gapDays <= 0 {
		return nil
	}

	return &Gap{
		Start: histDay.Add(day),
		End:   liveDay.Add(-day),
		Days:  gapDays,
	}
}
