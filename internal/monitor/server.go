package monitor

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/regimeflow/regimeflow/pkg/types"
)

// ServerConfig holds the HTTP server settings.
type ServerConfig struct {
	Host          string
	Port          int
	ReadTimeout   time.Duration
	WriteTimeout  time.Duration
	WebSocketPath string
}

// DefaultServerConfig returns sensible defaults for local use.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Host:          "127.0.0.1",
		Port:          8090,
		ReadTimeout:   15 * time.Second,
		WriteTimeout:  15 * time.Second,
		WebSocketPath: "/ws",
	}
}

// RegimeStatus is the snapshot served by the regime endpoint.
type RegimeStatus struct {
	ActiveRegimes  []string             `json:"active_regimes"`
	StrategySetID  string               `json:"strategy_set_id,omitempty"`
	StabilityScore float64              `json:"stability_score"`
	Oscillating    bool                 `json:"oscillating"`
	LastChange     *types.RegimeChange  `json:"last_change,omitempty"`
	RecentChanges  []types.RegimeChange `json:"recent_changes,omitempty"`
	UpdatedAt      time.Time            `json:"updated_at"`
}

// Server exposes the live monitoring surface over HTTP and WebSocket.
type Server struct {
	mu         sync.RWMutex
	logger     *zap.Logger
	config     ServerConfig
	router     *mux.Router
	httpServer *http.Server
	hub        *Hub
	metrics    *Metrics
	registry   *prometheus.Registry
	status     RegimeStatus
	started    time.Time
}

// NewServer creates a monitor server with its own metrics registry and hub.
func NewServer(logger *zap.Logger, config ServerConfig) *Server {
	registry := prometheus.NewRegistry()
	s := &Server{
		logger:   logger,
		config:   config,
		router:   mux.NewRouter(),
		hub:      NewHub(logger),
		metrics:  NewMetrics(registry),
		registry: registry,
		started:  time.Now(),
	}
	s.setupRoutes()
	return s
}

// Hub returns the websocket hub for publishing events.
func (s *Server) Hub() *Hub { return s.hub }

// Metrics returns the Prometheus instruments.
func (s *Server) Metrics() *Metrics { return s.metrics }

func (s *Server) setupRoutes() {
	s.router.HandleFunc("/healthz", s.handleHealth).Methods("GET")
	s.router.HandleFunc("/api/v1/regime", s.handleRegime).Methods("GET")
	s.router.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
	s.router.HandleFunc(s.config.WebSocketPath, s.hub.ServeWS)
}

// Start runs the hub and serves HTTP until the listener fails.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	handler := cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	}).Handler(s.router)

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
	}

	go s.hub.Run()

	s.logger.Info("Starting monitor server", zap.String("addr", addr))
	return s.httpServer.ListenAndServe()
}

// Stop gracefully stops the HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// UpdateStatus replaces the served regime snapshot and refreshes the gauges.
func (s *Server) UpdateStatus(status RegimeStatus) {
	status.UpdatedAt = time.Now()

	s.mu.Lock()
	prev := s.status
	s.status = status
	s.mu.Unlock()

	s.metrics.StabilityScore.Set(status.StabilityScore)
	s.metrics.ActiveRegimes.Set(float64(len(status.ActiveRegimes)))
	if status.Oscillating {
		s.metrics.Oscillating.Set(1)
		if !prev.Oscillating {
			s.hub.Publish(MsgTypeOscillation, status)
		}
	} else {
		s.metrics.Oscillating.Set(0)
	}

	if status.LastChange != nil && (prev.LastChange == nil || !prev.LastChange.Timestamp.Equal(status.LastChange.Timestamp)) {
		s.metrics.RegimeChanges.WithLabelValues(status.LastChange.ToRegime).Inc()
		s.hub.Publish(MsgTypeRegimeChange, status.LastChange)
	}
	if status.StrategySetID != "" && status.StrategySetID != prev.StrategySetID {
		s.metrics.RoutedSets.WithLabelValues(status.StrategySetID).Inc()
		s.hub.Publish(MsgTypeExecutionContext, map[string]string{
			"strategy_set_id": status.StrategySetID,
		})
	}
}

// RecordReload notes a strategy document reload outcome.
func (s *Server) RecordReload(err error) {
	if err != nil {
		s.metrics.ReloadFailures.Inc()
		s.hub.Publish(MsgTypeReloadError, map[string]string{"error": err.Error()})
		return
	}
	s.metrics.ReloadTotal.Inc()
	s.hub.Publish(MsgTypeReload, nil)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status": "healthy",
		"uptime": time.Since(s.started).String(),
		"time":   time.Now().Unix(),
	})
}

func (s *Server) handleRegime(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	status := s.status
	s.mu.RUnlock()

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(status)
}
