// Package service orchestrates the flow engine: fetch coordination, cache
// policy, statistics, and update propagation live here.
package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"riverflow/internal/alerting"
	"riverflow/internal/broker"
	"riverflow/internal/cache"
	"riverflow/internal/fetcher"
	"riverflow/internal/hydro"
	"riverflow/internal/metrics"
)

// ErrPremiumRequired marks a historical-year query past the free window for
// a user without a premium entitlement.
var ErrPremiumRequired = errors.New("service: premium subscription required")

// Query describes one timeline request.
type Query struct {
	StationID string
	Days      int
	Year      *int
	UserID    string
}

// Entitlements answers whether a user may read a given archive year.
type Entitlements interface {
	AllowHistorical(userID string, year int) bool
}

// StaticEntitlements gates archive years from configuration: recent years are
// free for everyone, older years require a listed premium user.
type StaticEntitlements struct {
	FreeYears    int
	PremiumUsers map[string]bool
	now          func() time.Time
}

// NewStaticEntitlements builds the config-backed entitlement check.
func NewStaticEntitlements(freeYears int, premiumUsers []string) *StaticEntitlements {
	users := make(map[string]bool, len(premiumUsers))
	for _, u := range premiumUsers {
		users[u] = true
	}
	return &StaticEntitlements{FreeYears: freeYears, PremiumUsers: users, now: time.Now}
}

// AllowHistorical reports whether the user may read the year.
func (e *StaticEntitlements) AllowHistorical(userID string, year int) bool {
	if year >= e.now().UTC().Year()-e.FreeYears {
		return true
	}
	return e.PremiumUsers[userID]
}

// Archive persists fetched samples for offline queries and exports.
type Archive interface {
	UpsertSamples(ctx context.Context, stationID string, samples []hydro.FlowSample) (int64, error)
}

// Band is the runnable discharge range for a station, inclusive at the edges.
type Band struct {
	Min decimal.Decimal
	Max decimal.Decimal
}

// Options tune service behaviour.
type Options struct {
	// DefaultDays is the window used when a query does not say.
	DefaultDays int
	// RefreshConcurrency bounds parallel stations in RefreshAll.
	RefreshConcurrency int
	// AlertCooldown suppresses repeat notifications per station.
	AlertCooldown time.Duration
}

func (o Options) withDefaults() Options {
	if o.DefaultDays <= 0 {
		o.DefaultDays = 7
	}
	if o.RefreshConcurrency <= 0 {
		o.RefreshConcurrency = 4
	}
	if o.AlertCooldown <= 0 {
		o.AlertCooldown = 6 * time.Hour
	}
	return o
}

// Deps are the service's collaborators. Archive, Entitlements and Notifier
// are optional; nil disables the corresponding behaviour.
type Deps struct {
	Source       fetcher.SourceClient
	Cache        *cache.Cache
	Broker       *broker.Broker
	Archive      Archive
	Entitlements Entitlements
	Notifier     alerting.Notifier
	Bands        map[string]Band
}

type alertRecord struct {
	state      alerting.State
	notifiedAt time.Time
}

// Service is the engine facade used by the HTTP API, the poller and the CLI.
type Service struct {
	logger zerolog.Logger
	deps   Deps
	opts   Options

	flights singleflight.Group

	mu          sync.Mutex
	alertStates map[string]alertRecord

	now func() time.Time
}

// New wires a service from its collaborators.
func New(deps Deps, opts Options, logger zerolog.Logger) *Service {
	return &Service{
		logger:      logger.With().Str("component", "service").Logger(),
		deps:        deps,
		opts:        opts.withDefaults(),
		alertStates: make(map[string]alertRecord),
		now:         time.Now,
	}
}

// Timeline returns the merged timeline for a query. The bool result reports
// whether the data is stale, i.e. served from an expired cache entry because
// the upstream source is unavailable.
func (s *Service) Timeline(ctx context.Context, q Query) (hydro.Timeline, bool, error) {
	if err := fetcher.ValidateStationID(q.StationID); err != nil {
		return hydro.Timeline{}, false, err
	}
	if q.Year != nil && s.deps.Entitlements != nil && !s.deps.Entitlements.AllowHistorical(q.UserID, *q.Year) {
		return hydro.Timeline{}, false, fmt.Errorf("%w: year %d", ErrPremiumRequired, *q.Year)
	}

	key := cache.KeyFor(q.StationID, s.days(q), q.Year)
	if timeline, ok := s.deps.Cache.Get(key); ok {
		metrics.CacheHits.Inc()
		return timeline, false, nil
	}
	metrics.CacheMisses.Inc()

	// Stale-while-revalidate: an expired entry is served immediately and the
	// refetch runs in the background. Subscribers receive the fresh timeline
	// when it lands; during an outage the stale entry is all there is.
	if stale, age, ok := s.deps.Cache.GetStale(key); ok {
		metrics.StaleServes.Inc()
		s.logger.Debug().
			Str("station_id", q.StationID).
			Dur("age", age).
			Msg("serving stale timeline, revalidating in background")
		go s.revalidate(key, q.StationID, q.Year)
		return stale, true, nil
	}

	timeline, err := s.fetch(ctx, key, q.StationID, q.Year)
	if err != nil {
		return hydro.Timeline{}, false, err
	}
	return timeline, false, nil
}

// revalidate refreshes an expired cache entry off the request path. Failures
// surface to subscribers as a per-station error state.
func (s *Service) revalidate(key cache.Key, stationID string, year *int) {
	if _, err := s.fetch(context.Background(), key, stationID, year); err != nil {
		s.logger.Warn().Err(err).
			Str("station_id", stationID).
			Msg("background revalidation failed")
		s.publish(broker.Update{StationID: stationID, Err: err, At: s.now()})
	}
}

// Summarize computes discharge statistics over the query's day window.
func (s *Service) Summarize(ctx context.Context, q Query) (hydro.Statistics, bool, error) {
	timeline, stale, err := s.Timeline(ctx, q)
	if err != nil {
		return hydro.Statistics{}, false, err
	}
	return hydro.Summarize(timeline, s.days(q)), stale, nil
}

// Refresh drops a station's cache entries and re-fetches its current window.
// Exactly one update is published: the fresh timeline on success, an error
// state on failure.
func (s *Service) Refresh(ctx context.Context, stationID string) error {
	if err := fetcher.ValidateStationID(stationID); err != nil {
		return err
	}

	dropped := s.deps.Cache.Invalidate(stationID)
	s.logger.Debug().
		Str("station_id", stationID).
		Int("dropped_entries", dropped).
		Msg("cache invalidated for refresh")

	key := cache.KeyFor(stationID, s.opts.DefaultDays, nil)
	if _, err := s.fetch(ctx, key, stationID, nil); err != nil {
		s.publish(broker.Update{StationID: stationID, Err: err, At: s.now()})
		return err
	}
	return nil
}

// RefreshAll refreshes stations concurrently. A failing station is logged
// and does not stop the sweep.
func (s *Service) RefreshAll(ctx context.Context, stationIDs []string) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.RefreshConcurrency)

	for _, stationID := range stationIDs {
		stationID := stationID
		g.Go(func() error {
			if err := s.Refresh(gctx, stationID); err != nil {
				s.logger.Error().Err(err).
					Str("station_id", stationID).
					Msg("station refresh failed")
			}
			return nil
		})
	}
	return g.Wait()
}

// Subscribe registers a consumer for a station's updates.
func (s *Service) Subscribe(stationID string, buffer int) *broker.Subscription {
	return s.deps.Broker.Subscribe(stationID, buffer)
}

func (s *Service) days(q Query) int {
	if q.Days > 0 {
		return q.Days
	}
	return s.opts.DefaultDays
}

// fetch deduplicates concurrent fetches per cache key. The flight runs on a
// detached context: callers that give up must not cancel the fetch out from
// under the others, and the completed result still lands in the cache.
func (s *Service) fetch(ctx context.Context, key cache.Key, stationID string, year *int) (hydro.Timeline, error) {
	v, err, _ := s.flights.Do(key.String(), func() (any, error) {
		return s.fetchAndStore(context.WithoutCancel(ctx), key, stationID, year)
	})
	if err != nil {
		return hydro.Timeline{}, err
	}
	return v.(hydro.Timeline), nil
}

func (s *Service) fetchAndStore(ctx context.Context, key cache.Key, stationID string, year *int) (hydro.Timeline, error) {
	start := s.now()

	var (
		live       *hydro.FlowSample
		historical []hydro.FlowSample
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		samples, err := s.deps.Source.FetchHistorical(gctx, stationID, year)
		if err != nil {
			return err
		}
		historical = samples
		return nil
	})
	if year == nil {
		g.Go(func() error {
			sample, err := s.deps.Source.FetchLive(gctx, stationID)
			if err != nil {
				// Historical data alone still renders a timeline.
				s.logger.Warn().Err(err).
					Str("station_id", stationID).
					Msg("live fetch failed, continuing with archive only")
				return nil
			}
			live = sample
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		metrics.FetchesTotal.WithLabelValues(metrics.OutcomeError).Inc()
		return hydro.Timeline{}, err
	}

	timeline := hydro.Merge(stationID, live, historical)
	if timeline.Len() == 0 {
		metrics.FetchesTotal.WithLabelValues(metrics.OutcomeEmpty).Inc()
	} else {
		metrics.FetchesTotal.WithLabelValues(metrics.OutcomeOK).Inc()
	}

	s.deps.Cache.Put(key, timeline)
	s.publish(broker.Update{StationID: stationID, Timeline: timeline, At: s.now()})
	s.archiveSamples(ctx, timeline)
	s.evaluateAlerts(ctx, timeline)

	metrics.RefreshDuration.Observe(s.now().Sub(start).Seconds())
	return timeline, nil
}

func (s *Service) publish(u broker.Update) {
	s.deps.Broker.Publish(u)
	metrics.UpdatesPublished.Inc()
}

func (s *Service) archiveSamples(ctx context.Context, t hydro.Timeline) {
	if s.deps.Archive == nil || t.Len() == 0 {
		return
	}
	stored, err := s.deps.Archive.UpsertSamples(ctx, t.StationID, t.Samples)
	if err != nil {
		s.logger.Error().Err(err).
			Str("station_id", t.StationID).
			Msg("sample archive write failed")
		return
	}
	s.logger.Debug().
		Str("station_id", t.StationID).
		Int64("stored", stored).
		Msg("samples archived")
}

// evaluateAlerts tracks the station's runnable-band state and notifies on
// transitions. The first observation seeds the state silently; a transition
// inside the cooldown updates state without notifying.
func (s *Service) evaluateAlerts(ctx context.Context, t hydro.Timeline) {
	if s.deps.Notifier == nil {
		return
	}
	band, ok := s.deps.Bands[t.StationID]
	if !ok {
		return
	}
	latest, ok := t.Latest()
	if !ok || latest.Discharge == nil {
		return
	}

	state := alerting.Classify(*latest.Discharge, band.Min, band.Max)

	s.mu.Lock()
	rec, seen := s.alertStates[t.StationID]
	if !seen {
		s.alertStates[t.StationID] = alertRecord{state: state}
		s.mu.Unlock()
		return
	}
	if rec.state == state {
		s.mu.Unlock()
		return
	}
	now := s.now()
	if now.Sub(rec.notifiedAt) < s.opts.AlertCooldown {
		s.alertStates[t.StationID] = alertRecord{state: state, notifiedAt: rec.notifiedAt}
		s.mu.Unlock()
		return
	}
	s.alertStates[t.StationID] = alertRecord{state: state, notifiedAt: now}
	s.mu.Unlock()

	n := alerting.Notification{
		StationID:  t.StationID,
		Discharge:  *latest.Discharge,
		BandMin:    band.Min,
		BandMax:    band.Max,
		State:      state,
		Previous:   rec.state,
		ObservedAt: latest.Timestamp,
	}
	if err := s.deps.Notifier.Notify(ctx, n); err != nil {
		s.logger.Error().Err(err).
			Str("station_id", t.StationID).
			Msg("band transition notification failed")
	}
}
