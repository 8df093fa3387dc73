package fetcher

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"riverflow/internal/hydro"
)

func utilityFeedPayload() map[string]any {
	return map[string]any{
		"elements": []map[string]any{
			{
				"entry": []map[string]any{
					{"period": "HE 1", "barrier": 10.0, "pocaterra": 2.0},
					{"period": "HE 2", "barrier": "12.5", "pocaterra": 2.0},
					{"period": "HE 20", "barrier": 30.0, "pocaterra": 2.0},
				},
			},
			{
				"entry": []map[string]any{
					{"period": "HE 1", "barrier": 5.0, "pocaterra": nil},
				},
			},
		},
	}
}

func newUtilityServer(t *testing.T) (*httptest.Server, *Utility) {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("get-riverflow-data") != "1" {
			t.Errorf("missing feed query flag: %s", r.URL.RawQuery)
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(utilityFeedPayload())
	}))

	u := NewUtility(UtilityOptions{BaseURL: srv.URL, Timeout: time.Second}, noopLogger())
	u.now = func() time.Time {
		return time.Date(2025, 6, 1, 10, 30, 0, 0, time.UTC)
	}
	return srv, u
}

func TestUtilityFetchLivePicksCurrentHour(t *testing.T) {
	srv, u := newUtilityServer(t)
	defer srv.Close()

	sample, err := u.FetchLive(context.Background(), "transalta_barrier")
	if err != nil {
		t.Fatalf("FetchLive failed: %v", err)
	}
	if sample == nil {
		t.Fatal("expected a sample")
	}
	// At 10:30 the most recent completed hour row is HE 2 (02:00); HE 20 is
	// still schedule, not observation.
	if !sample.Discharge.Equal(decimal.NewFromFloat(12.5)) {
		t.Fatalf("expected string-typed HE 2 value 12.5, got %s", sample.Discharge)
	}
	if sample.Source != hydro.SourceLive {
		t.Fatalf("expected live source, got %s", sample.Source)
	}
}

func TestUtilityFetchHistoricalWindow(t *testing.T) {
	srv, u := newUtilityServer(t)
	defer srv.Close()

	samples, err := u.FetchHistorical(context.Background(), "transalta_barrier", nil)
	if err != nil {
		t.Fatalf("FetchHistorical failed: %v", err)
	}
	if len(samples) != 4 {
		t.Fatalf("expected 4 hourly samples across both days, got %d", len(samples))
	}

	// Day 1 row lands on June 2 at hour-ending 1.
	last := samples[len(samples)-1]
	if !last.Timestamp.Equal(time.Date(2025, 6, 2, 1, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected forecast-day timestamp: %s", last.Timestamp)
	}
}

func TestUtilityFetchHistoricalYearIsEmpty(t *testing.T) {
	srv, u := newUtilityServer(t)
	defer srv.Close()

	year := 2023
	samples, err := u.FetchHistorical(context.Background(), "transalta_barrier", &year)
	if err != nil {
		t.Fatalf("missing archive year must not error: %v", err)
	}
	if len(samples) != 0 {
		t.Fatalf("utility source has no archive; got %d samples", len(samples))
	}
}

func TestUtilityRejectsGovernmentID(t *testing.T) {
	srv, u := newUtilityServer(t)
	defer srv.Close()

	if _, err := u.FetchLive(context.Background(), "08GA072"); !errors.Is(err, ErrInvalidStation) {
		t.Fatalf("expected ErrInvalidStation, got %v", err)
	}
}

func TestUtilityFeedUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	u := NewUtility(UtilityOptions{BaseURL: srv.URL, Timeout: time.Second}, noopLogger())
	if _, err := u.FetchLive(context.Background(), "transalta_barrier"); !errors.Is(err, ErrSourceUnavailable) {
		t.Fatalf("expected ErrSourceUnavailable, got %v", err)
	}
}
