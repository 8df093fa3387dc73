package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"

	"riverflow/internal/fetcher"
	"riverflow/internal/hydro"
	"riverflow/internal/metrics"
	"riverflow/internal/service"
)

// userHeader carries the caller identity used for entitlement checks.
const userHeader = "X-User-ID"

type samplePayload struct {
	Timestamp time.Time        `json:"timestamp"`
	Discharge *decimal.Decimal `json:"discharge"`
	Level     *decimal.Decimal `json:"level"`
	Source    string           `json:"source"`
}

type gapPayload struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
	Days  int       `json:"days"`
}

type timelineResponse struct {
	StationID string          `json:"station_id"`
	Stale     bool            `json:"stale"`
	Samples   []samplePayload `json:"samples"`
	Gap       *gapPayload     `json:"gap,omitempty"`
}

type statsResponse struct {
	StationID string           `json:"station_id"`
	Stale     bool             `json:"stale"`
	NoData    bool             `json:"no_data"`
	Count     int              `json:"count"`
	Min       *decimal.Decimal `json:"min,omitempty"`
	Max       *decimal.Decimal `json:"max,omitempty"`
	Mean      *decimal.Decimal `json:"mean,omitempty"`
	P25       *decimal.Decimal `json:"p25,omitempty"`
	Median    *decimal.Decimal `json:"median,omitempty"`
	P75       *decimal.Decimal `json:"p75,omitempty"`
	Start     *time.Time       `json:"start,omitempty"`
	End       *time.Time       `json:"end,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) handleTimeline(w http.ResponseWriter, r *http.Request) {
	const endpoint = "/api/v1/stations/{id}/timeline"
	timer := prometheus.NewTimer(metrics.RequestDuration.WithLabelValues(endpoint, r.Method))
	defer timer.ObserveDuration()

	query, err := queryFromRequest(r)
	if err != nil {
		s.respondError(w, r, endpoint, http.StatusBadRequest, err.Error())
		return
	}

	timeline, stale, err := s.svc.Timeline(r.Context(), query)
	if err != nil {
		s.respondServiceError(w, r, endpoint, err)
		return
	}

	resp := timelineResponse{
		StationID: timeline.StationID,
		Stale:     stale,
		Samples:   make([]samplePayload, 0, timeline.Len()),
	}
	for _, sample := range timeline.Samples {
		resp.Samples = append(resp.Samples, samplePayload{
			Timestamp: sample.Timestamp,
			Discharge: sample.Discharge,
			Level:     sample.Level,
			Source:    string(sample.Source),
		})
	}
	if gap := hydro.DetectGap(timeline); gap != nil {
		resp.Gap = &gapPayload{Start: gap.Start, End: gap.End, Days: gap.Days}
	}

	s.respondJSON(w, r, endpoint, http.StatusOK, resp)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	const endpoint = "/api/v1/stations/{id}/stats"
	timer := prometheus.NewTimer(metrics.RequestDuration.WithLabelValues(endpoint, r.Method))
	defer timer.ObserveDuration()

	query, err := queryFromRequest(r)
	if err != nil {
		s.respondError(w, r, endpoint, http.StatusBadRequest, err.Error())
		return
	}

	stats, stale, err := s.svc.Summarize(r.Context(), query)
	if err != nil {
		s.respondServiceError(w, r, endpoint, err)
		return
	}

	resp := statsResponse{
		StationID: query.StationID,
		Stale:     stale,
		NoData:    stats.NoData,
		Count:     stats.Count,
	}
	if !stats.NoData {
		resp.Min = &stats.Min
		resp.Max = &stats.Max
		resp.Mean = &stats.Mean
		resp.P25 = &stats.P25
		resp.Median = &stats.Median
		resp.P75 = &stats.P75
		resp.Start = &stats.Start
		resp.End = &stats.End
	}

	s.respondJSON(w, r, endpoint, http.StatusOK, resp)
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	const endpoint = "/api/v1/stations/{id}/refresh"
	timer := prometheus.NewTimer(metrics.RequestDuration.WithLabelValues(endpoint, r.Method))
	defer timer.ObserveDuration()

	stationID := mux.Vars(r)["id"]
	if err := s.svc.Refresh(r.Context(), stationID); err != nil {
		s.respondServiceError(w, r, endpoint, err)
		return
	}

	s.respondJSON(w, r, endpoint, http.StatusAccepted, map[string]string{
		"status":     "refreshed",
		"station_id": stationID,
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	const endpoint = "/healthz"
	s.respondJSON(w, r, endpoint, http.StatusOK, map[string]string{"status": "ok"})
}

func queryFromRequest(r *http.Request) (service.Query, error) {
	q := service.Query{
		StationID: mux.Vars(r)["id"],
		UserID:    r.Header.Get(userHeader),
	}

	if raw := r.URL.Query().Get("days"); raw != "" {
		days, err := strconv.Atoi(raw)
		if err != nil || days <= 0 {
			return service.Query{}, errors.New("days must be a positive integer")
		}
		q.Days = days
	}
	if raw := r.URL.Query().Get("year"); raw != "" {
		year, err := strconv.Atoi(raw)
		if err != nil || year < 1800 {
			return service.Query{}, errors.New("year must be a plausible calendar year")
		}
		q.Year = &year
	}
	return q, nil
}

func (s *Server) respondServiceError(w http.ResponseWriter, r *http.Request, endpoint string, err error) {
	switch {
	case errors.Is(err, fetcher.ErrInvalidStation):
		s.respondError(w, r, endpoint, http.StatusBadRequest, err.Error())
	case errors.Is(err, service.ErrPremiumRequired):
		s.respondError(w, r, endpoint, http.StatusPaymentRequired, err.Error())
	case errors.Is(err, fetcher.ErrSourceUnavailable):
		s.respondError(w, r, endpoint, http.StatusServiceUnavailable, err.Error())
	default:
		s.logger.Error().Err(err).Str("endpoint", endpoint).Msg("request failed")
		s.respondError(w, r, endpoint, http.StatusInternalServerError, "internal error")
	}
}

func (s *Server) respondJSON(w http.ResponseWriter, r *http.Request, endpoint string, status int, payload any) {
	metrics.RequestsTotal.WithLabelValues(endpoint, r.Method, strconv.Itoa(status)).Inc()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error().Err(err).Str("endpoint", endpoint).Msg("response encoding failed")
	}
}

func (s *Server) respondError(w http.ResponseWriter, r *http.Request, endpoint string, status int, msg string) {
	metrics.RequestsTotal.WithLabelValues(endpoint, r.Method, strconv.Itoa(status)).Inc()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorResponse{Error: msg})
}
