package metrics

import (
	"net"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

var (
	// Session metrics
	SessionTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ktrack_session_transitions_total",
			Help: "Total tracking session phase transitions",
		},
		[]string{"from", "to"},
	)

	SessionRejectedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ktrack_session_rejected_operations_total",
			Help: "Session operations rejected without side effects",
		},
		[]string{"operation", "reason"},
	)

	SessionPhase = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "ktrack_session_phase",
			Help: "Current tracking session phase (1 for the active phase)",
		},
		[]string{"phase"},
	)

	// Clock metrics
	ElapsedSeconds = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "ktrack_elapsed_seconds",
			Help: "Displayed elapsed active seconds of the current session",
		},
	)

	ReconciliationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ktrack_reconciliations_total",
			Help: "Descriptor reconciliations, labelled by whether a fallback was applied",
		},
		[]string{"result"},
	)

	// Activity metrics
	ActivityLevel = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "ktrack_activity_level",
			Help: "Latest sampled activity level (0-100)",
		},
		[]string{"kind"},
	)

	ActivitySamplesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "ktrack_activity_samples_total",
			Help: "Total activity samples taken",
		},
	)

	// Checkpoint metrics
	CheckpointsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ktrack_checkpoints_total",
			Help: "Total checkpoints fired",
		},
		[]string{"result"},
	)

	// Collaborator API metrics
	APIRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ktrack_api_request_duration_seconds",
			Help:    "Collaborator API round-trip duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	APIErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ktrack_api_errors_total",
			Help: "Collaborator API round-trip failures",
		},
		[]string{"operation"},
	)

	// Consent metrics
	ConsentChangesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ktrack_consent_changes_total",
			Help: "Consent gate changes",
		},
		[]string{"state"},
	)

	// Live stream metrics
	LiveClients = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "ktrack_live_clients",
			Help: "Number of connected live stream clients",
		},
	)
)

func init() {
	// Register all metrics
	prometheus.MustRegister(
		SessionTransitionsTotal,
		SessionRejectedTotal,
		SessionPhase,
		ElapsedSeconds,
		ReconciliationsTotal,
		ActivityLevel,
		ActivitySamplesTotal,
		CheckpointsTotal,
		APIRequestDuration,
		APIErrorsTotal,
		ConsentChangesTotal,
		LiveClients,
	)
}

// Server is the metrics HTTP server
type Server struct {
	server   *http.Server
	logger   zerolog.Logger
	listener net.Listener // Optional pre-created listener (for systemd socket activation)
}

// NewServer creates a new metrics server
func NewServer(addr string, logger zerolog.Logger) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	return &Server{
		server: &http.Server{
			Addr:    addr,
			Handler: mux,
		},
		logger: logger.With().Str("component", "metrics").Logger(),
	}
}

// SetListener sets a pre-created listener for systemd socket activation
func (s *Server) SetListener(ln net.Listener) {
	s.listener = ln
}

// Start starts the metrics server
func (s *Server) Start() error {
	s.logger.Info().Str("addr", s.server.Addr).Msg("Starting metrics server")
	go func() {
		var err error
		if s.listener != nil {
			s.logger.Debug().Msg("Using systemd socket-activated metrics listener")
			err = s.server.Serve(s.listener)
		} else {
			err = s.server.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			s.logger.Error().Err(err).Msg("Metrics server error")
		}
	}()
	return nil
}

// Stop stops the metrics server
func (s *Server) Stop() error {
	s.logger.Info().Msg("Stopping metrics server")
	return s.server.Close()
}
