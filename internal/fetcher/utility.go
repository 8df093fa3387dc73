package fetcher

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"riverflow/internal/hydro"
)

const utilityFeedPath = "/river-flows/?get-riverflow-data=1"

// UtilityOptions parameterise the utility operator's river-flows client.
type UtilityOptions struct {
	BaseURL   string
	Timeout   time.Duration
	UserAgent string
}

// Utility fetches flows from the dam operator's river-flows feed. The feed
// publishes hourly rows per facility for today plus a few forecast days;
// there is no long-term archive behind it.
type Utility struct {
	opts    UtilityOptions
	logger  zerolog.Logger
	client  *http.Client
	baseURL string
	now     func() time.Time
}

// NewUtility constructs a utility-source client.
func NewUtility(opts UtilityOptions, logger zerolog.Logger) *Utility {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://transalta.com"
	}

	return &Utility{
		opts:    opts,
		logger:  logger.With().Str("component", "utility_fetcher").Logger(),
		client:  &http.Client{Timeout: timeout},
		baseURL: baseURL,
		now:     time.Now,
	}
}

// FetchLive returns the facility's reading for the hour covering now.
func (u *Utility) FetchLive(ctx context.Context, stationID string) (*hydro.FlowSample, error) {
	facility, err := facilityKey(stationID)
	if err != nil {
		return nil, err
	}

	feed, err := u.fetchFeed(ctx)
	if err != nil {
		return nil, err
	}

	now := u.now().UTC()
	samples := u.feedSamples(feed, facility, hydro.SourceLive)

	// Most recent hour at or before now; the remainder of the feed is
	// operating schedule, not observation.
	var current *hydro.FlowSample
	for i := range samples {
		if samples[i].Timestamp.After(now) {
			break
		}
		current = &samples[i]
	}
	return current, nil
}

// FetchHistorical returns the operator's published hourly rows. The feed
// carries no archive, so a specific past year is always empty.
func (u *Utility) FetchHistorical(ctx context.Context, stationID string, year *int) ([]hydro.FlowSample, error) {
	facility, err := facilityKey(stationID)
	if err != nil {
		return nil, err
	}
	if year != nil {
		return nil, nil
	}

	feed, err := u.fetchFeed(ctx)
	if err != nil {
		return nil, err
	}
	return u.feedSamples(feed, facility, hydro.SourceHistorical), nil
}

// facilityKey extracts the facility token from a utility station id:
// transalta_barrier -> barrier.
func facilityKey(stationID string) (string, error) {
	if !utilityIDPattern.MatchString(stationID) {
		return "", fmt.Errorf("%w: %q is not a utility station id", ErrInvalidStation, stationID)
	}
	parts := strings.Split(stationID, "_")
	return parts[len(parts)-1], nil
}

func (u *Utility) fetchFeed(ctx context.Context) (*utilityFeed, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.baseURL+utilityFeedPath, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json, text/javascript, */*; q=0.01")
	req.Header.Set("X-Requested-With", "XMLHttpRequest")
	if ua := strings.TrimSpace(u.opts.UserAgent); ua != "" {
		req.Header.Set("User-Agent", ua)
	} else {
		req.Header.Set("User-Agent", "riverflow/1.0")
	}

	resp, err := u.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSourceUnavailable, err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %v", ErrSourceUnavailable, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: feed error (%d)", ErrSourceUnavailable, resp.StatusCode)
	}

	var feed utilityFeed
	if err := json.Unmarshal(payload, &feed); err != nil {
		return nil, fmt.Errorf("%w: decode feed: %v", ErrSourceUnavailable, err)
	}
	return &feed, nil
}

// feedSamples flattens the feed into hourly samples for one facility. Day 0
// is today; "HE n" is the hour-ending label, so the row is stamped at the
// end of its hour.
func (u *Utility) feedSamples(feed *utilityFeed, facility string, source hydro.Source) []hydro.FlowSample {
	dayStart := u.now().UTC().Truncate(24 * time.Hour)

	samples := make([]hydro.FlowSample, 0)
	for dayIdx, element := range feed.Elements {
		for _, entry := range element.Entries {
			hour, ok := parseHourEnding(entry.period())
			if !ok {
				continue
			}
			flow, ok := entry.flowFor(facility)
			if !ok {
				continue
			}
			d := decimal.NewFromFloat(flow)
			samples = append(samples, hydro.FlowSample{
				Timestamp: dayStart.AddDate(0, 0, dayIdx).Add(time.Duration(hour) * time.Hour),
				Discharge: &d,
				Source:    source,
			})
		}
	}
	return samples
}

// parseHourEnding reads labels of the form "HE 7" (1..24).
func parseHourEnding(period string) (int, bool) {
	fields := strings.Fields(period)
	if len(fields) != 2 || !strings.EqualFold(fields[0], "HE") {
		return 0, false
	}
	hour, err := strconv.Atoi(fields[1])
	if err != nil || hour < 1 || hour > 24 {
		return 0, false
	}
	return hour, true
}

type utilityFeed struct {
	Elements []struct {
		Entries []utilityEntry `json:"entry"`
	} `json:"elements"`
}

// utilityEntry is a loosely typed feed row: a "period" label plus one column
// per facility, where values arrive as numbers or numeric strings.
type utilityEntry map[string]any

func (e utilityEntry) period() string {
	if v, ok := e["period"].(string); ok {
		return v
	}
	return ""
}

func (e utilityEntry) flowFor(facility string) (float64, bool) {
	raw, ok := e[facility]
	if !ok || raw == nil {
		return 0, false
	}
	switch v := raw.(type) {
	case float64:
		return v, true
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return 0, false
		}
		return parsed, true
	default:
		return 0, false
	}
}

var _ SourceClient = (*Utility)(nil)
