package hydro

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func dec(v float64) *decimal.Decimal {
	d := decimal.NewFromFloat(v)
	return &d
}

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestMergeLiveWinsOnCollision(t *testing.T) {
	ts := day(2025, 6, 1)
	historical := []FlowSample{
		{Timestamp: ts, Discharge: dec(10), Source: SourceHistorical},
	}
	live := &FlowSample{Timestamp: ts, Discharge: dec(12.5), Source: SourceLive}

	merged := Merge("08GA072", live, historical)
	if merged.Len() != 1 {
		t.Fatalf("expected 1 sample, got %d", merged.Len())
	}
	if got := merged.Samples[0].Discharge; !got.Equal(decimal.NewFromFloat(12.5)) {
		t.Fatalf("expected live discharge 12.5 to win, got %s", got)
	}
	if merged.Samples[0].Source != SourceLive {
		t.Fatalf("expected live source tag, got %s", merged.Samples[0].Source)
	}
}

func TestMergeIdempotent(t *testing.T) {
	historical := []FlowSample{
		{Timestamp: day(2025, 6, 3), Discharge: dec(3), Source: SourceHistorical},
		{Timestamp: day(2025, 6, 1), Discharge: dec(1), Source: SourceHistorical},
		{Timestamp: day(2025, 6, 2), Level: dec(0.8), Source: SourceHistorical},
	}
	live := &FlowSample{Timestamp: day(2025, 6, 4), Discharge: dec(4), Source: SourceLive}

	first := Merge("08GA072", live, historical)
	second := Merge("08GA072", live, historical)

	if first.Len() != second.Len() {
		t.Fatalf("merge not idempotent: %d vs %d samples", first.Len(), second.Len())
	}
	for i := range first.Samples {
		a, b := first.Samples[i], second.Samples[i]
		if !a.Timestamp.Equal(b.Timestamp) || a.Source != b.Source {
			t.Fatalf("sample %d differs between merges: %+v vs %+v", i, a, b)
		}
	}
	for i := 1; i < first.Len(); i++ {
		if !first.Samples[i-1].Timestamp.Before(first.Samples[i].Timestamp) {
			t.Fatalf("samples not strictly ascending at %d", i)
		}
	}
}

func TestMergeDropsEmptySamples(t *testing.T) {
	historical := []FlowSample{
		{Timestamp: day(2025, 6, 1), Source: SourceHistorical},
		{Timestamp: day(2025, 6, 2), Discharge: dec(2), Source: SourceHistorical},
	}

	merged := Merge("08GA072", nil, historical)
	if merged.Len() != 1 {
		t.Fatalf("sample with neither discharge nor level should be dropped, got %d samples", merged.Len())
	}
	if !merged.Samples[0].Timestamp.Equal(day(2025, 6, 2)) {
		t.Fatalf("wrong surviving sample: %+v", merged.Samples[0])
	}
}

func TestDailyMeans(t *testing.T) {
	base := time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)
	samples := []FlowSample{
		{Timestamp: base, Discharge: dec(10), Level: dec(1.0)},
		{Timestamp: base.Add(time.Hour), Discharge: dec(20)},
		{Timestamp: base.Add(26 * time.Hour), Discharge: dec(5), Level: dec(0.5)},
	}

	daily := DailyMeans(samples, SourceLive)
	if len(daily) != 2 {
		t.Fatalf("expected 2 daily samples, got %d", len(daily))
	}

	first := daily[0]
	if !first.Timestamp.Equal(day(2025, 6, 1)) {
		t.Fatalf("expected midnight UTC stamp, got %s", first.Timestamp)
	}
	if !first.Discharge.Equal(decimal.NewFromInt(15)) {
		t.Fatalf("expected mean discharge 15, got %s", first.Discharge)
	}
	if !first.Level.Equal(decimal.NewFromFloat(1.0)) {
		t.Fatalf("level mean should ignore null levels, got %s", first.Level)
	}
	if first.Source != SourceLive {
		t.Fatalf("expected live source tag, got %s", first.Source)
	}
}

func TestDetectGap(t *testing.T) {
	timeline := Timeline{
		StationID: "08GA072",
		Samples: []FlowSample{
			{Timestamp: day(2025, 5, 28), Discharge: dec(1), Source: SourceHistorical},
			{Timestamp: day(2025, 6, 2), Discharge: dec(2), Source: SourceLive},
		},
	}

	gap := DetectGap(timeline)
	if gap == nil {
		t.Fatal("expected a gap")
	}
	if gap.Days != 4 {
		t.Fatalf("expected 4 gap days, got %d", gap.Days)
	}
	if !gap.Start.Equal(day(2025, 5, 29)) || !gap.End.Equal(day(2025, 6, 1)) {
		t.Fatalf("unexpected gap bounds: %s .. %s", gap.Start, gap.End)
	}
}

func TestDetectGapNoneWhenContiguous(t *testing.T) {
	timeline := Timeline{
		Samples: []FlowSample{
			{Timestamp: day(2025, 6, 1), Discharge: dec(1), Source: SourceHistorical},
			{Timestamp: day(2025, 6, 2), Discharge: dec(2), Source: SourceLive},
		},
	}
	if gap := DetectGap(timeline); gap != nil {
		t.Fatalf("contiguous sources should have no gap, got %+v", gap)
	}

	liveOnly := Timeline{
		Samples: []FlowSample{{Timestamp: day(2025, 6, 2), Discharge: dec(2), Source: SourceLive}},
	}
	if gap := DetectGap(liveOnly); gap != nil {
		t.Fatalf("single-source timeline should have no gap, got %+v", gap)
	}
}
