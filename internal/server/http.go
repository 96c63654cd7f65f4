package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/RoyGeagea/udpchatroom/internal/config"
	"github.com/RoyGeagea/udpchatroom/internal/metrics"
	"github.com/RoyGeagea/udpchatroom/internal/relay"
	"github.com/RoyGeagea/udpchatroom/internal/session"
)

const requestTimeout = 2 * time.Second

// Relay is the part of relay.Hub the HTTP API drives
type Relay interface {
	Snapshot(ctx context.Context) ([]session.SessionInfo, error)
	Stats(ctx context.Context) (relay.Stats, error)
	Kill(ctx context.Context, name string) (bool, error)
}

// HTTPServer provides HTTP API endpoints for monitoring and management
type HTTPServer struct {
	server    *http.Server
	logger    *slog.Logger
	config    *config.Config
	relay     Relay
	udpServer *UDPServer
	metrics   *metrics.Metrics
	gatherer  prometheus.Gatherer

	startTime time.Time
}

// NewHTTPServer creates a new HTTP API server
func NewHTTPServer(logger *slog.Logger, appConfig *config.Config, r Relay, udpServer *UDPServer,
	m *metrics.Metrics, gatherer prometheus.Gatherer) *HTTPServer {

	h := &HTTPServer{
		logger:    logger.With("component", "http"),
		config:    appConfig,
		relay:     r,
		udpServer: udpServer,
		metrics:   m,
		gatherer:  gatherer,
		startTime: time.Now(),
	}

	h.server = &http.Server{
		Addr:         net.JoinHostPort(appConfig.HTTP.Address, strconv.Itoa(appConfig.HTTP.Port)),
		Handler:      h.Routes(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return h
}

// Routes returns the API router
func (h *HTTPServer) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/health", h.withMetrics("/health", h.handleHealth))
	r.Get("/sessions", h.withMetrics("/sessions", h.handleSessions))
	r.Get("/sessions/{slot}", h.withMetrics("/sessions/{slot}", h.handleSessionDetail))
	r.Post("/sessions/{name}/kill", h.withMetrics("/sessions/{name}/kill", h.handleKill))
	r.Get("/config", h.withMetrics("/config", h.handleConfig))
	r.Get("/stats", h.withMetrics("/stats", h.handleStats))

	// no request metrics for the metrics endpoint itself
	r.Handle("/metrics", promhttp.HandlerFor(h.gatherer, promhttp.HandlerOpts{}))

	r.Get("/", h.withMetrics("/", h.handleRoot))

	return r
}

// withMetrics wraps an HTTP handler with metrics collection
func (h *HTTPServer) withMetrics(endpoint string, handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		startTime := time.Now()

		ww := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		handler(ww, r)

		duration := time.Since(startTime).Seconds()
		h.metrics.RecordHTTPRequest(r.Method, endpoint, strconv.Itoa(ww.statusCode), duration)

		if ww.statusCode >= 400 {
			errorType := "client_error"
			if ww.statusCode >= 500 {
				errorType = "server_error"
			}
			h.metrics.RecordHTTPError(r.Method, endpoint, errorType)
		}
	}
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Start starts the HTTP server
func (h *HTTPServer) Start() error {
	ln, err := net.Listen("tcp", h.server.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", h.server.Addr, err)
	}

	h.logger.Info("Starting HTTP API server", slog.String("address", ln.Addr().String()))

	go func() {
		if err := h.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			h.logger.Error("HTTP server error", slog.String("error", err.Error()))
		}
	}()

	return nil
}

// Stop gracefully stops the HTTP server
func (h *HTTPServer) Stop(ctx context.Context) error {
	h.logger.Info("Stopping HTTP API server...")
	return h.server.Shutdown(ctx)
}

func (h *HTTPServer) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Warn("Failed to encode response", slog.String("error", err.Error()))
	}
}

// relayError maps a failed hub request to a response
func (h *HTTPServer) relayError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	if errors.Is(err, relay.ErrStopped) {
		status = http.StatusServiceUnavailable
	} else if errors.Is(err, context.DeadlineExceeded) {
		status = http.StatusGatewayTimeout
	}
	http.Error(w, err.Error(), status)
}

// handleHealth implements the /health endpoint
func (h *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	status := "healthy"
	code := http.StatusOK
	stats, err := h.relay.Stats(ctx)
	if err != nil {
		status = "unhealthy"
		code = http.StatusServiceUnavailable
	}
	udpStats := h.udpServer.GetStatistics()

	health := map[string]interface{}{
		"status":    status,
		"timestamp": time.Now().UTC(),
		"uptime":    time.Since(h.startTime).String(),
		"service": map[string]interface{}{
			"name":    "udpchatroom",
			"version": "1.0.0",
		},
		"components": map[string]interface{}{
			"udp_server": map[string]interface{}{
				"packets_received": udpStats.PacketsReceived,
				"packets_dropped":  udpStats.PacketsDropped,
				"send_errors":      udpStats.SendErrors,
			},
			"relay": map[string]interface{}{
				"active_sessions": stats.Active,
				"capacity":        stats.Capacity,
			},
		},
	}

	h.writeJSON(w, code, health)
}

// handleSessions implements the /sessions endpoint
func (h *HTTPServer) handleSessions(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	infos, err := h.relay.Snapshot(ctx)
	if err != nil {
		h.relayError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"total_sessions": len(infos),
		"timestamp":      time.Now().UTC(),
		"sessions":       infos,
	})
}

// handleSessionDetail implements the /sessions/{slot} endpoint
func (h *HTTPServer) handleSessionDetail(w http.ResponseWriter, r *http.Request) {
	slot, err := strconv.Atoi(chi.URLParam(r, "slot"))
	if err != nil || slot < 0 {
		http.Error(w, "Invalid slot", http.StatusBadRequest)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	infos, err := h.relay.Snapshot(ctx)
	if err != nil {
		h.relayError(w, err)
		return
	}

	for _, info := range infos {
		if info.Slot == slot {
			h.writeJSON(w, http.StatusOK, info)
			return
		}
	}
	http.Error(w, "Session not found", http.StatusNotFound)
}

// handleKill implements the /sessions/{name}/kill endpoint
func (h *HTTPServer) handleKill(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if name == "" {
		http.Error(w, "Name required", http.StatusBadRequest)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	found, err := h.relay.Kill(ctx, name)
	if err != nil {
		h.relayError(w, err)
		return
	}
	if !found {
		http.Error(w, "This username does not exist", http.StatusNotFound)
		return
	}

	h.logger.Info("Session killed via HTTP API",
		slog.String("name", name),
		slog.String("remote_addr", r.RemoteAddr),
	)
	h.writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"name":   name,
		"status": "logout requested",
	})
}

// handleConfig implements the /config endpoint
func (h *HTTPServer) handleConfig(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"server": map[string]interface{}{
			"udp_port":     h.config.Server.UDPPort,
			"bind_address": h.config.Server.BindAddress,
			"buffer_size":  h.config.Server.BufferSize,
			"max_sessions": h.config.Server.MaxSessions,
		},
		"liveness": map[string]interface{}{
			"ping_interval":    h.config.Liveness.PingInterval,
			"eviction_timeout": h.config.Liveness.EvictionTimeout,
		},
		"logging": map[string]interface{}{
			"level":  h.config.Logging.Level,
			"format": h.config.Logging.Format,
			"output": h.config.Logging.Output,
		},
	})
}

// handleStats implements the /stats endpoint
func (h *HTTPServer) handleStats(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	stats, err := h.relay.Stats(ctx)
	if err != nil {
		h.relayError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"uptime":    time.Since(h.startTime).String(),
		"timestamp": time.Now().UTC(),
		"udp":       h.udpServer.GetStatistics(),
		"relay":     stats,
	})
}

// handleRoot implements the / endpoint with API documentation
func (h *HTTPServer) handleRoot(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"service": "UDP Chat Relay",
		"version": "1.0.0",
		"endpoints": map[string]interface{}{
			"GET /":                      "API documentation",
			"GET /health":                "Service health check",
			"GET /sessions":              "List occupied session slots",
			"GET /sessions/{slot}":       "Get one session by slot",
			"POST /sessions/{name}/kill": "Ask the named session to log out",
			"GET /config":                "Get service configuration",
			"GET /stats":                 "Get relay and transport statistics",
			"GET /metrics":               "Prometheus metrics",
		},
		"timestamp": time.Now().UTC(),
	})
}
