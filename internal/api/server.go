// Package api exposes the flow engine over HTTP.
package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"riverflow/internal/service"
)

// Server routes HTTP requests to the flow service.
type Server struct {
	logger zerolog.Logger
	svc    *service.Service
	router *mux.Router
}

// NewServer builds the HTTP router around a service.
func NewServer(svc *service.Service, logger zerolog.Logger) *Server {
	s := &Server{
		logger: logger.With().Str("component", "api").Logger(),
		svc:    svc,
	}

	r := mux.NewRouter()
	v1 := r.PathPrefix("/api/v1").Subrouter()
	v1.HandleFunc("/stations/{id}/timeline", s.handleTimeline).Methods(http.MethodGet)
	v1.HandleFunc("/stations/{id}/stats", s.handleStats).Methods(http.MethodGet)
	v1.HandleFunc("/stations/{id}/refresh", s.handleRefresh).Methods(http.MethodPost)

	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler())

	s.router = r
	return s
}

// Handler returns the root handler for an http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}
