package service

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

// StatsProvider is what the service reports on: an experiment or a
// coordinator.
type StatsProvider interface {
	GetStats() map[string]string
}

// Service ...
type Service struct {
	sync.Mutex

	bindAddress string
	provider    StatsProvider
	gatherer    prometheus.Gatherer
	mux         *http.ServeMux
	server      *http.Server
	logger      *logrus.Entry
}

// NewService ...
func NewService(bindAddress string, provider StatsProvider, gatherer prometheus.Gatherer, logger *logrus.Entry) *Service {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	service := Service{
		bindAddress: bindAddress,
		provider:    provider,
		gatherer:    gatherer,
		mux:         http.NewServeMux(),
		logger:      logger,
	}

	service.registerHandlers()

	return &service
}

// registerHandlers registers the API handlers with the service's own mux, so
// that several services can live in one process.
func (s *Service) registerHandlers() {
	s.logger.Debug("Registering peernet API handlers")
	s.mux.HandleFunc("/stats", s.makeHandler(s.GetStats))
	s.mux.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
}

func (s *Service) makeHandler(fn func(http.ResponseWriter, *http.Request)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.Lock()
		defer s.Unlock()

		// enable CORS
		w.Header().Set("Access-Control-Allow-Origin", "*")

		fn(w, r)
	}
}

// Handler returns the handler serving the API.
func (s *Service) Handler() http.Handler {
	return s.mux
}

// Serve calls ListenAndServe. This is a blocking call that returns when Close
// is called.
func (s *Service) Serve() {
	s.logger.WithField("bind_address", s.bindAddress).Debug("Serving peernet API")

	s.Lock()
	s.server = &http.Server{Addr: s.bindAddress, Handler: s.mux}
	server := s.server
	s.Unlock()

	err := server.ListenAndServe()
	if err != nil && err != http.ErrServerClosed {
		s.logger.Error(err)
	}
}

// Close stops Serve.
func (s *Service) Close() error {
	s.Lock()
	defer s.Unlock()
	if s.server == nil {
		return nil
	}
	return s.server.Close()
}

// GetStats ...
func (s *Service) GetStats(w http.ResponseWriter, r *http.Request) {
	stats := s.provider.GetStats()

	w.Header().Set("Content-Type", "application/json")

	json.NewEncoder(w).Encode(stats)
}
