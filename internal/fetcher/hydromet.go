package fetcher

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"riverflow/internal/hydro"
)

const (
	realtimeCollectionPath  = "/collections/hydrometric-realtime/items"
	dailyMeanCollectionPath = "/collections/hydrometric-daily-mean/items"

	dailyDateLayout = "2006-01-02"
)

// HydrometOptions parameterise the government hydrometric API client.
type HydrometOptions struct {
	BaseURL       string
	Timeout       time.Duration
	UserAgent     string
	WindowDays    int
	RealtimeLimit int
}

// Hydromet fetches gauge readings from the government hydrometric GeoJSON
// API: the realtime collection for live 5-minute readings and the daily-mean
// collection for the archive.
type Hydromet struct {
	opts    HydrometOptions
	logger  zerolog.Logger
	client  *http.Client
	baseURL string
	now     func() time.Time
}

// NewHydromet constructs a government-source client.
func NewHydromet(opts HydrometOptions, logger zerolog.Logger) *Hydromet {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.weather.gc.ca"
	}

	if opts.WindowDays <= 0 {
		opts.WindowDays = 90
	}
	if opts.RealtimeLimit <= 0 {
		opts.RealtimeLimit = 1000
	}

	return &Hydromet{
		opts:    opts,
		logger:  logger.With().Str("component", "hydromet_fetcher").Logger(),
		client:  &http.Client{Timeout: timeout},
		baseURL: baseURL,
		now:     time.Now,
	}
}

// FetchLive retrieves the most recent realtime reading for a station. A nil
// sample means the station has no current reading.
func (h *Hydromet) FetchLive(ctx context.Context, stationID string) (*hydro.FlowSample, error) {
	if !governmentIDPattern.MatchString(stationID) {
		return nil, fmt.Errorf("%w: %q is not a government station number", ErrInvalidStation, stationID)
	}

	params := url.Values{}
	params.Set("STATION_NUMBER", stationID)
	params.Set("limit", "1")
	params.Set("sortby", "-DATETIME")
	params.Set("f", "json")

	collection, err := h.fetchCollection(ctx, realtimeCollectionPath, params)
	if err != nil {
		return nil, err
	}
	if len(collection.Features) == 0 {
		return nil, nil
	}

	sample, err := collection.Features[0].Properties.toSample(hydro.SourceLive)
	if err != nil {
		h.logger.Warn().Err(err).Str("station", stationID).Msg("discarding malformed realtime reading")
		return nil, nil
	}
	if sample == nil || sample.Empty() {
		return nil, nil
	}
	return sample, nil
}

// FetchHistorical retrieves daily records. With a year it reads that
// calendar year from the daily-mean archive; with nil it combines the
// archive's rolling window with realtime readings collapsed to daily means,
// so the archive's processing lag is covered by live-tagged days.
func (h *Hydromet) FetchHistorical(ctx context.Context, stationID string, year *int) ([]hydro.FlowSample, error) {
	if !governmentIDPattern.MatchString(stationID) {
		return nil, fmt.Errorf("%w: %q is not a government station number", ErrInvalidStation, stationID)
	}

	if year != nil {
		return h.fetchDailyMeans(ctx, stationID, fmt.Sprintf("%04d-01-01/%04d-12-31", *year, *year), 366)
	}

	now := h.now().UTC()
	from := now.AddDate(0, 0, -h.opts.WindowDays)
	window := fmt.Sprintf("%s/%s", from.Format(dailyDateLayout), now.Format(dailyDateLayout))

	daily, err := h.fetchDailyMeans(ctx, stationID, window, h.opts.WindowDays+1)
	if err != nil {
		return nil, err
	}

	realtime, err := h.fetchRealtimeWindow(ctx, stationID)
	if err != nil {
		// The archive alone is still a usable window; realtime outage only
		// widens the gap at the recent end.
		h.logger.Warn().Err(err).Str("station", stationID).Msg("realtime window unavailable; serving archive only")
		return daily, nil
	}

	return append(daily, hydro.DailyMeans(realtime, hydro.SourceLive)...), nil
}

func (h *Hydromet) fetchDailyMeans(ctx context.Context, stationID, dateRange string, limit int) ([]hydro.FlowSample, error) {
	params := url.Values{}
	params.Set("STATION_NUMBER", stationID)
	params.Set("datetime", dateRange)
	params.Set("sortby", "DATE")
	params.Set("limit", fmt.Sprintf("%d", limit))
	params.Set("f", "json")

	collection, err := h.fetchCollection(ctx, dailyMeanCollectionPath, params)
	if err != nil {
		return nil, err
	}

	samples := make([]hydro.FlowSample, 0, len(collection.Features))
	for _, feature := range collection.Features {
		sample, err := feature.Properties.toSample(hydro.SourceHistorical)
		if err != nil {
			h.logger.Warn().Err(err).Str("station", stationID).Msg("discarding malformed daily record")
			continue
		}
		if sample != nil {
			samples = append(samples, *sample)
		}
	}
	return samples, nil
}

func (h *Hydromet) fetchRealtimeWindow(ctx context.Context, stationID string) ([]hydro.FlowSample, error) {
	params := url.Values{}
	params.Set("STATION_NUMBER", stationID)
	params.Set("sortby", "DATETIME")
	params.Set("limit", fmt.Sprintf("%d", h.opts.RealtimeLimit))
	params.Set("f", "json")

	collection, err := h.fetchCollection(ctx, realtimeCollectionPath, params)
	if err != nil {
		return nil, err
	}

	samples := make([]hydro.FlowSample, 0, len(collection.Features))
	for _, feature := range collection.Features {
		sample, err := feature.Properties.toSample(hydro.SourceLive)
		if err != nil {
			continue
		}
		if sample != nil {
			samples = append(samples, *sample)
		}
	}
	return samples, nil
}

func (h *Hydromet) fetchCollection(ctx context.Context, path string, params url.Values) (*featureCollection, error) {
	endpoint := h.baseURL + path + "?" + params.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if ua := strings.TrimSpace(h.opts.UserAgent); ua != "" {
		req.Header.Set("User-Agent", ua)
	} else {
		req.Header.Set("User-Agent", "riverflow/1.0")
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSourceUnavailable, err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %v", ErrSourceUnavailable, err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, parseAPIError(resp.StatusCode, payload)
	}

	var collection featureCollection
	if err := json.Unmarshal(payload, &collection); err != nil {
		return nil, fmt.Errorf("%w: decode payload: %v", ErrSourceUnavailable, err)
	}
	return &collection, nil
}

type featureCollection struct {
	Features []struct {
		Properties featureProperties `json:"properties"`
	} `json:"features"`
}

type featureProperties struct {
	StationNumber string   `json:"STATION_NUMBER"`
	Date          string   `json:"DATE"`
	Datetime      string   `json:"DATETIME"`
	Discharge     *float64 `json:"DISCHARGE"`
	Level         *float64 `json:"LEVEL"`
}

func (p featureProperties) toSample(source hydro.Source) (*hydro.FlowSample, error) {
	var ts time.Time
	var err error
	switch {
	case p.Datetime != "":
		ts, err = time.Parse(time.RFC3339, p.Datetime)
	case p.Date != "":
		ts, err = time.Parse(dailyDateLayout, p.Date)
	default:
		return nil, fmt.Errorf("record has neither DATETIME nor DATE")
	}
	if err != nil {
		return nil, fmt.Errorf("parse record timestamp: %w", err)
	}

	sample := &hydro.FlowSample{Timestamp: ts.UTC(), Source: source}
	if p.Discharge != nil {
		d := decimal.NewFromFloat(*p.Discharge)
		sample.Discharge = &d
	}
	if p.Level != nil {
		l := decimal.NewFromFloat(*p.Level)
		sample.Level = &l
	}
	if sample.Empty() {
		return nil, nil
	}
	return sample, nil
}

type apiErrorResponse struct {
	Code        string `json:"code"`
	Description string `json:"description"`
}

func parseAPIError(status int, payload []byte) error {
	var apiErr apiErrorResponse
	if err := json.Unmarshal(payload, &apiErr); err == nil {
		if apiErr.Description != "" {
			return fmt.Errorf("%w: api error (%d): %s", ErrSourceUnavailable, status, apiErr.Description)
		}
		if apiErr.Code != "" {
			return fmt.Errorf("%w: api error (%d): %s", ErrSourceUnavailable, status, apiErr.Code)
		}
	}
	if len(payload) > 0 {
		return fmt.Errorf("%w: api error (%d): %s", ErrSourceUnavailable, status, strings.TrimSpace(string(payload)))
	}
	return fmt.Errorf("%w: api error (%d)", ErrSourceUnavailable, status)
}

var _ SourceClient = (*Hydromet)(nil)
