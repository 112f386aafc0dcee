// Package api serves the JSON HTTP interface used by the web front end.
package api

import (
	"context"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"github.com/rs/zerolog"

	"FundTracker/internal/fund"
	"FundTracker/internal/metrics"
)

// Poller triggers an immediate poll of every holding.
type Poller interface {
	RunPollNow(ctx context.Context) (fund.PollReport, error)
}

// Server holds the dependencies of the HTTP handlers.
type Server struct {
	fund    *fund.Manager
	poller  Poller
	metrics *metrics.Metrics
	log     zerolog.Logger
}

// NewServer creates a Server. poller and m may be nil.
func NewServer(fm *fund.Manager, poller Poller, m *metrics.Metrics, log zerolog.Logger) *Server {
	return &Server{fund: fm, poller: poller, metrics: m, log: log}
}

// Routes builds the router with CORS for allowedOrigins.
func (s *Server) Routes(allowedOrigins []string) http.Handler {
	router := mux.NewRouter()
	router.Use(s.recoverer)
	router.Use(s.instrument)

	router.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	if s.metrics != nil {
		router.Handle("/metrics", s.metrics.Handler()).Methods(http.MethodGet)
	}

	api := router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/users", s.handleListUsers).Methods(http.MethodGet)
	api.HandleFunc("/users", s.handleCreateUser).Methods(http.MethodPost)
	api.HandleFunc("/users", s.handleDeleteUser).Methods(http.MethodDelete)

	api.HandleFunc("/funds", s.handleListFunds).Methods(http.MethodGet)
	api.HandleFunc("/funds", s.handleAddFund).Methods(http.MethodPost)
	api.HandleFunc("/funds", s.handleUpdateFund).Methods(http.MethodPatch)
	api.HandleFunc("/funds", s.handleDeleteFund).Methods(http.MethodDelete)

	api.HandleFunc("/history", s.handleGetHistory).Methods(http.MethodGet)
	api.HandleFunc("/history", s.handleRecordHistory).Methods(http.MethodPost)
	api.HandleFunc("/history", s.handleClearHistory).Methods(http.MethodDelete)

	api.HandleFunc("/fund/estimate", s.handleEstimate).Methods(http.MethodGet)
	api.HandleFunc("/portfolio", s.handlePortfolio).Methods(http.MethodGet)
	api.HandleFunc("/poll", s.handlePoll).Methods(http.MethodPost)

	c := cors.New(cors.Options{
		AllowedOrigins: allowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type"},
	})
	return c.Handler(router)
}
