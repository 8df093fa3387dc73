package fetcher

import (
	"context"
	"errors"
	"fmt"
	"regexp"

	"riverflow/internal/hydro"
)

var (
	// ErrSourceUnavailable marks transport failures and timeouts against a
	// gauge endpoint. Callers fall back to the last cached timeline.
	ErrSourceUnavailable = errors.New("fetcher: source unavailable")

	// ErrInvalidStation marks a malformed or unrecognized station
	// identifier, raised before any network I/O.
	ErrInvalidStation = errors.New("fetcher: invalid station id")
)

// LiveFetcher retrieves the single most recent reading for a station. A nil
// sample with nil error means the station legitimately has no current
// reading.
type LiveFetcher interface {
	FetchLive(ctx context.Context, stationID string) (*hydro.FlowSample, error)
}

// HistoricalFetcher retrieves daily-or-better records: the current rolling
// window when year is nil, otherwise one specific past calendar year. An
// empty slice with nil error means the archive has nothing for the range.
type HistoricalFetcher interface {
	FetchHistorical(ctx context.Context, stationID string, year *int) ([]hydro.FlowSample, error)
}

// SourceClient bundles both fetch directions for one source authority.
type SourceClient interface {
	LiveFetcher
	HistoricalFetcher
}

// Government station numbers look like 08GA072; utility-operated stations
// use underscore-delimited identifiers like transalta_barrier.
var (
	governmentIDPattern = regexp.MustCompile(`^[0-9]{2}[A-Z]{2}[0-9]{3}$`)
	utilityIDPattern    = regexp.MustCompile(`^[a-z0-9]+(?:_[a-z0-9]+)+$`)
)

// ValidateStationID rejects identifiers matching neither family.
func ValidateStationID(id string) error {
	if governmentIDPattern.MatchString(id) || utilityIDPattern.MatchString(id) {
		return nil
	}
	return fmt.Errorf("%w: %q", ErrInvalidStation, id)
}

// IsUtilityID reports whether the id belongs to a utility-operated station.
func IsUtilityID(id string) bool {
	return utilityIDPattern.MatchString(id)
}

// Router dispatches fetches to the client owning the station's ID family.
type Router struct {
	government SourceClient
	utility    SourceClient
}

// NewRouter wires the two source clients. Either may be nil; stations of a
// missing authority then report the source as unavailable.
func NewRouter(government, utility SourceClient) *Router {
	return &Router{government: government, utility: utility}
}

func (r *Router) pick(stationID string) (SourceClient, error) {
	if err := ValidateStationID(stationID); err != nil {
		return nil, err
	}
	client := r.government
	if IsUtilityID(stationID) {
		client = r.utility
	}
	if client == nil {
		return nil, fmt.Errorf("%w: no client configured for station %s", ErrSourceUnavailable, stationID)
	}
	return client, nil
}

// FetchLive dispatches a live fetch by station-ID family.
func (r *Router) FetchLive(ctx context.Context, stationID string) (*hydro.FlowSample, error) {
	client, err := r.pick(stationID)
	if err != nil {
		return nil, err
	}
	return client.FetchLive(ctx, stationID)
}

// FetchHistorical dispatches a historical fetch by station-ID family.
func (r *Router) FetchHistorical(ctx context.Context, stationID string, year *int) ([]hydro.FlowSample, error) {
	client, err := r.pick(stationID)
	if err != nil {
		return nil, err
	}
	return client.FetchHistorical(ctx, stationID, year)
}

var _ SourceClient = (*Router)(nil)
