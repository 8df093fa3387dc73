package hydro

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestSummarizePercentileExactness(t *testing.T) {
	samples := make([]FlowSample, 0, 10)
	for i := 1; i <= 10; i++ {
		samples = append(samples, FlowSample{
			Timestamp: day(2025, 6, i),
			Discharge: dec(float64(i)),
			Source:    SourceHistorical,
		})
	}

	stats := Summarize(Timeline{StationID: "08GA072", Samples: samples}, 10)
	if stats.NoData {
		t.Fatal("expected data")
	}
	if stats.Count != 10 {
		t.Fatalf("expected count 10, got %d", stats.Count)
	}
	// Nearest-rank with floored index: p25 -> idx 2, p50 -> idx 5, p75 -> idx 7.
	if !stats.P25.Equal(decimal.NewFromInt(3)) {
		t.Fatalf("expected p25 = 3, got %s", stats.P25)
	}
	if !stats.Median.Equal(decimal.NewFromInt(6)) {
		t.Fatalf("expected median = 6, got %s", stats.Median)
	}
	if !stats.P75.Equal(decimal.NewFromInt(8)) {
		t.Fatalf("expected p75 = 8, got %s", stats.P75)
	}
	if !stats.Min.Equal(decimal.NewFromInt(1)) || !stats.Max.Equal(decimal.NewFromInt(10)) {
		t.Fatalf("unexpected min/max: %s/%s", stats.Min, stats.Max)
	}
	if !stats.Mean.Equal(decimal.NewFromFloat(5.5)) {
		t.Fatalf("expected mean 5.5, got %s", stats.Mean)
	}
}

func TestSummarizeEmptyTimeline(t *testing.T) {
	stats := Summarize(Timeline{StationID: "Z9Y8X7A"}, 7)
	if !stats.NoData {
		t.Fatal("empty timeline must report no data")
	}
	if stats.Count != 0 {
		t.Fatalf("expected zero count, got %d", stats.Count)
	}
}

func TestSummarizeLevelOnlySamples(t *testing.T) {
	samples := []FlowSample{
		{Timestamp: day(2025, 6, 1), Level: dec(0.4), Source: SourceHistorical},
		{Timestamp: day(2025, 6, 2), Level: dec(0.5), Source: SourceHistorical},
	}
	stats := Summarize(Timeline{Samples: samples}, 7)
	if !stats.NoData {
		t.Fatal("samples without discharge must yield a no-data result")
	}
}

func TestSummarizeRecentDayWindow(t *testing.T) {
	samples := make([]FlowSample, 0, 14)
	for i := 1; i <= 14; i++ {
		samples = append(samples, FlowSample{
			Timestamp: day(2025, 6, i),
			Discharge: dec(float64(i)),
			Source:    SourceHistorical,
		})
	}

	stats := Summarize(Timeline{Samples: samples}, 7)
	if stats.Count != 7 {
		t.Fatalf("expected 7 samples in window, got %d", stats.Count)
	}
	// Most recent 7 distinct days are June 8..14.
	if !stats.Min.Equal(decimal.NewFromInt(8)) {
		t.Fatalf("window should start at discharge 8, got min %s", stats.Min)
	}
	if !stats.Start.Equal(day(2025, 6, 8)) || !stats.End.Equal(day(2025, 6, 14)) {
		t.Fatalf("unexpected window range: %s .. %s", stats.Start, stats.End)
	}
}

func TestSummarizeCountsSubDailySamplesOnce(t *testing.T) {
	ts := time.Date(2025, 6, 1, 6, 0, 0, 0, time.UTC)
	samples := []FlowSample{
		{Timestamp: ts, Discharge: dec(1), Source: SourceLive},
		{Timestamp: ts.Add(time.Hour), Discharge: dec(3), Source: SourceLive},
		{Timestamp: ts.Add(24 * time.Hour), Discharge: dec(5), Source: SourceLive},
	}

	stats := Summarize(Timeline{Samples: samples}, 1)
	// Only the most recent calendar day survives the slice.
	if stats.Count != 1 {
		t.Fatalf("expected 1 sample from most recent day, got %d", stats.Count)
	}
	if !stats.Min.Equal(decimal.NewFromInt(5)) {
		t.Fatalf("expected the June 2 sample, got min %s", stats.Min)
	}
}
