package metrics

import (
	"net"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

var (
	// Event metrics
	EventsReceived = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tabnova_events_received_total",
			Help: "Total threshold events appended to the event log",
		},
		[]string{"kind"},
	)

	EventsDuplicate = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tabnova_events_duplicate_total",
			Help: "Threshold events skipped as already processed",
		},
	)

	DrainCycles = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tabnova_drain_cycles_total",
			Help: "Total event log drain cycles",
		},
	)

	// Usage metrics
	UsageMinutes = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "tabnova_usage_minutes",
			Help: "Cumulative usage minutes recorded today",
		},
		[]string{"package"},
	)

	UsageRecordsPurged = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tabnova_usage_records_purged_total",
			Help: "Usage records removed by retention",
		},
	)

	// Report metrics
	ReportsSent = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tabnova_reports_sent_total",
			Help: "Usage reports accepted by the backend",
		},
		[]string{"mode"},
	)

	ReportsFailed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tabnova_reports_failed_total",
			Help: "Usage reports that failed",
		},
		[]string{"mode"},
	)

	ReportDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tabnova_report_duration_seconds",
			Help:    "Backend request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"endpoint"},
	)

	// Shield metrics
	ShieldsApplied = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tabnova_shields_applied_total",
			Help: "Total shields applied",
		},
	)

	ShieldsCleared = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tabnova_shields_cleared_total",
			Help: "Total shields removed",
		},
		[]string{"reason"},
	)

	// Monitoring metrics
	MonitoredApps = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "tabnova_monitored_apps",
			Help: "Number of monitored applications",
		},
	)
)

func init() {
	// Register all metrics
	prometheus.MustRegister(
		EventsReceived,
		EventsDuplicate,
		DrainCycles,
		UsageMinutes,
		UsageRecordsPurged,
		ReportsSent,
		ReportsFailed,
		ReportDuration,
		ShieldsApplied,
		ShieldsCleared,
		MonitoredApps,
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

// Handler returns the HTTP handler serving /metrics and /health
func (s *Server) Handler() http.Handler {
	return s.server.Handler
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
			// Use systemd socket-activated listener
			s.logger.Debug().Msg("Using systemd socket-activated metrics listener")
			err = s.server.Serve(s.listener)
		} else {
			// Create and bind listener ourselves
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
