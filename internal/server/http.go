package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/deepakchaudharigit/NPCL-Asterisk-ARI-Assistant-sub002/internal/config"
	"github.com/deepakchaudharigit/NPCL-Asterisk-ARI-Assistant-sub002/internal/language"
	"github.com/deepakchaudharigit/NPCL-Asterisk-ARI-Assistant-sub002/internal/llm"
	"github.com/deepakchaudharigit/NPCL-Asterisk-ARI-Assistant-sub002/internal/metrics"
	"github.com/deepakchaudharigit/NPCL-Asterisk-ARI-Assistant-sub002/internal/session"
	"github.com/deepakchaudharigit/NPCL-Asterisk-ARI-Assistant-sub002/internal/store"
	"github.com/deepakchaudharigit/NPCL-Asterisk-ARI-Assistant-sub002/internal/stt"
	"github.com/deepakchaudharigit/NPCL-Asterisk-ARI-Assistant-sub002/internal/tts"
)

// HTTPServer provides HTTP API endpoints for monitoring and management
type HTTPServer struct {
	server  *http.Server
	logger  *slog.Logger
	config  *config.Config
	deps    HTTPDeps
	metrics *metrics.Metrics

	startTime time.Time
}

// HTTPDeps collects the components the monitoring API reads from. The
// store and the model clients may be nil in reduced deployments.
type HTTPDeps struct {
	Sessions *session.Manager
	Media    *MediaServer
	Store    *store.Store
	STT      *stt.Client
	TTS      *tts.Client
	LLM      *llm.Client
}

// NewHTTPServer creates a new HTTP API server
func NewHTTPServer(cfg config.HTTPConfig, logger *slog.Logger, appConfig *config.Config, deps HTTPDeps, m *metrics.Metrics) *HTTPServer {
	h := &HTTPServer{
		logger:    logger,
		config:    appConfig,
		deps:      deps,
		metrics:   m,
		startTime: time.Now(),
	}

	mux := http.NewServeMux()
	h.setupRoutes(mux)

	h.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Address, cfg.Port),
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return h
}

// setupRoutes configures HTTP API routes
func (h *HTTPServer) setupRoutes(mux *http.ServeMux) {
	// Health check endpoint
	mux.HandleFunc("/health", h.withMetrics("/health", h.handleHealth))

	// Live session monitoring endpoints
	mux.HandleFunc("/sessions", h.withMetrics("/sessions", h.handleSessions))
	mux.HandleFunc("/sessions/", h.withMetrics("/sessions/{id}", h.handleSessionDetail))

	// Persisted call history endpoints
	mux.HandleFunc("/calls", h.withMetrics("/calls", h.handleCalls))
	mux.HandleFunc("/calls/", h.withMetrics("/calls/{id}", h.handleCallDetail))

	// Supported conversation languages
	mux.HandleFunc("/languages", h.withMetrics("/languages", h.handleLanguages))

	// Configuration endpoint
	mux.HandleFunc("/config", h.withMetrics("/config", h.handleConfig))

	// Statistics endpoints
	mux.HandleFunc("/stats", h.withMetrics("/stats", h.handleStats))
	mux.HandleFunc("/stats/llm", h.withMetrics("/stats/llm", h.handleLLMStats))

	// Prometheus metrics endpoint (no metrics needed for metrics endpoint)
	mux.Handle("/metrics", promhttp.Handler())

	// Root endpoint with API documentation
	mux.HandleFunc("/", h.withMetrics("/", h.handleRoot))
}

// withMetrics wraps an HTTP handler with metrics collection
func (h *HTTPServer) withMetrics(endpoint string, handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		startTime := time.Now()

		// Wrap the response writer to capture the status code
		ww := &responseWriter{ResponseWriter: w, statusCode: 200}

		handler(ww, r)

		duration := time.Since(startTime).Seconds()
		statusCode := strconv.Itoa(ww.statusCode)

		h.metrics.RecordHTTPRequest(r.Method, endpoint, statusCode, duration)

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
	h.logger.Info("Starting HTTP API server",
		slog.String("address", h.server.Addr),
	)

	go func() {
		if err := h.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
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

func writeJSON(w http.ResponseWriter, payload any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(payload)
}

// handleHealth implements the /health endpoint
func (h *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	sessionStats := h.deps.Sessions.Stats()
	mediaStats := h.deps.Media.GetStatistics()

	components := map[string]any{
		"media_server": map[string]any{
			"status":             "running",
			"active_connections": mediaStats.ActiveConnections,
			"frames_received":    mediaStats.FramesReceived,
			"control_errors":     mediaStats.ControlErrors,
		},
		"session_manager": map[string]any{
			"status":          "running",
			"active_sessions": sessionStats.ActiveSessions,
			"total_sessions":  sessionStats.TotalSessions,
		},
	}

	if h.deps.STT != nil {
		sttStats := h.deps.STT.GetStats()
		components["stt"] = map[string]any{
			"status":          "running",
			"total_requests":  sttStats.TotalRequests,
			"success_rate":    sttStats.SuccessRate,
			"active_requests": sttStats.ActiveRequests,
		}
	}

	if h.deps.TTS != nil {
		ttsStats := h.deps.TTS.GetStats()
		components["tts"] = map[string]any{
			"status":         "running",
			"total_requests": ttsStats.TotalRequests,
			"cache_hits":     ttsStats.CacheHits,
		}
	}

	if h.deps.LLM != nil {
		llmStats := h.deps.LLM.GetStats()
		components["llm"] = map[string]any{
			"status":         "running",
			"total_requests": llmStats.TotalRequests,
			"success_rate":   llmStats.SuccessRate,
		}
	}

	if h.deps.Store != nil {
		if storeStats, err := h.deps.Store.GetStats(r.Context()); err == nil {
			components["store"] = map[string]any{
				"status":      "running",
				"total_calls": storeStats.TotalCalls,
				"total_turns": storeStats.TotalTurns,
			}
		} else {
			components["store"] = map[string]any{
				"status": "error",
				"error":  err.Error(),
			}
		}
	}

	health := map[string]any{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
		"uptime":    time.Since(h.startTime).String(),
		"service": map[string]any{
			"name":    "npcl-ari-assistant",
			"version": "1.0.0",
		},
		"components": components,
	}

	writeJSON(w, health)
}

// handleSessions implements the /sessions endpoint
func (h *HTTPServer) handleSessions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	infos := h.deps.Sessions.Infos()

	writeJSON(w, map[string]any{
		"total_sessions": len(infos),
		"timestamp":      time.Now().UTC(),
		"sessions":       infos,
	})
}

// handleSessionDetail implements the /sessions/{session_id} endpoint
func (h *HTTPServer) handleSessionDetail(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	sessionID := strings.TrimPrefix(r.URL.Path, "/sessions/")
	if sessionID == "" {
		http.Error(w, "Session ID required", http.StatusBadRequest)
		return
	}

	sess, exists := h.deps.Sessions.Get(sessionID)
	if !exists {
		http.Error(w, "Session not found", http.StatusNotFound)
		return
	}

	writeJSON(w, map[string]any{
		"session": sess.Info(),
		"turns":   sess.History(0),
	})
}

// handleCalls implements the /calls endpoint backed by the call store
func (h *HTTPServer) handleCalls(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if h.deps.Store == nil {
		http.Error(w, "Call store not configured", http.StatusServiceUnavailable)
		return
	}

	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 || parsed > 500 {
			http.Error(w, "Invalid limit", http.StatusBadRequest)
			return
		}
		limit = parsed
	}

	calls, err := h.deps.Store.ListRecentCalls(r.Context(), limit)
	if err != nil {
		h.logger.Error("Failed to list calls", slog.String("error", err.Error()))
		http.Error(w, "Failed to list calls", http.StatusInternalServerError)
		return
	}

	writeJSON(w, map[string]any{
		"total_calls": len(calls),
		"timestamp":   time.Now().UTC(),
		"calls":       calls,
	})
}

// handleCallDetail implements the /calls/{call_id} endpoint, returning
// the call record together with its full transcript
func (h *HTTPServer) handleCallDetail(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if h.deps.Store == nil {
		http.Error(w, "Call store not configured", http.StatusServiceUnavailable)
		return
	}

	callID := strings.TrimPrefix(r.URL.Path, "/calls/")
	if callID == "" {
		http.Error(w, "Call ID required", http.StatusBadRequest)
		return
	}

	call, err := h.deps.Store.GetCall(r.Context(), callID)
	if err != nil {
		if strings.Contains(err.Error(), "not found") {
			http.Error(w, "Call not found", http.StatusNotFound)
		} else {
			h.logger.Error("Failed to get call", slog.String("error", err.Error()))
			http.Error(w, "Failed to get call", http.StatusInternalServerError)
		}
		return
	}

	turns, err := h.deps.Store.GetTurns(r.Context(), callID)
	if err != nil {
		h.logger.Error("Failed to get turns", slog.String("error", err.Error()))
		http.Error(w, "Failed to get turns", http.StatusInternalServerError)
		return
	}

	writeJSON(w, map[string]any{
		"call":  call,
		"turns": turns,
	})
}

// handleLanguages implements the /languages endpoint
func (h *HTTPServer) handleLanguages(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	writeJSON(w, map[string]any{
		"default":   h.config.Assistant.DefaultLanguage,
		"languages": language.Supported(),
	})
}

// handleConfig implements the /config endpoint
func (h *HTTPServer) handleConfig(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	// Return sanitized configuration (credentials omitted)
	sanitizedConfig := map[string]any{
		"ari": map[string]any{
			"url":         h.config.ARI.URL,
			"application": h.config.ARI.Application,
		},
		"media": map[string]any{
			"bind_address":  h.config.Media.BindAddress,
			"port":          h.config.Media.Port,
			"path":          h.config.Media.Path,
			"max_calls":     h.config.Media.MaxCalls,
			"start_timeout": h.config.Media.StartTimeout,
		},
		"vad": map[string]any{
			"frame_ms":       h.config.VAD.FrameMs,
			"min_speech_ms":  h.config.VAD.MinSpeechMs,
			"min_silence_ms": h.config.VAD.MinSilenceMs,
			"noise_lr":       h.config.VAD.NoiseLR,
			"on_margin_db":   h.config.VAD.OnMarginDB,
			"off_margin_db":  h.config.VAD.OffMarginDB,
			"hangover_ms":    h.config.VAD.HangoverMs,
			"min_floor_db":   h.config.VAD.MinFloorDB,
		},
		"chunking": map[string]any{
			"min_utterance_ms": h.config.Chunking.MinUtteranceMs,
			"max_utterance_ms": h.config.Chunking.MaxUtteranceMs,
			"preroll_ms":       h.config.Chunking.PrerollMs,
		},
		"stt": map[string]any{
			"model":          h.config.STT.Model,
			"timeout":        h.config.STT.Timeout,
			"max_retries":    h.config.STT.MaxRetries,
			"max_concurrent": h.config.STT.MaxConcurrent,
			// Note: API key is intentionally omitted for security
		},
		"tts": map[string]any{
			"model":      h.config.TTS.Model,
			"voice":      h.config.TTS.Voice,
			"sounds_dir": h.config.TTS.SoundsDir,
		},
		"llm": map[string]any{
			"model":       h.config.LLM.Model,
			"max_tokens":  h.config.LLM.MaxTokens,
			"temperature": h.config.LLM.Temperature,
		},
		"assistant": map[string]any{
			"default_language":     h.config.Assistant.DefaultLanguage,
			"auto_detect_language": h.config.Assistant.AutoDetectLanguage,
			"interruptible":        h.config.Assistant.Interruptible,
			"no_input_timeout":     h.config.Assistant.NoInputTimeout,
			"max_call_duration":    h.config.Assistant.MaxCallDuration,
		},
		"logging": map[string]any{
			"level":  h.config.Logging.Level,
			"format": h.config.Logging.Format,
			"output": h.config.Logging.Output,
		},
	}

	writeJSON(w, sanitizedConfig)
}

// handleStats implements the /stats endpoint
func (h *HTTPServer) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	stats := map[string]any{
		"uptime":    time.Since(h.startTime).String(),
		"timestamp": time.Now().UTC(),
		"media":     h.deps.Media.GetStatistics(),
		"sessions":  h.deps.Sessions.Stats(),
	}

	if h.deps.STT != nil {
		stats["stt"] = h.deps.STT.GetStats()
	}
	if h.deps.TTS != nil {
		stats["tts"] = h.deps.TTS.GetStats()
	}
	if h.deps.LLM != nil {
		stats["llm"] = h.deps.LLM.GetStats()
	}
	if h.deps.Store != nil {
		if storeStats, err := h.deps.Store.GetStats(r.Context()); err == nil {
			stats["store"] = storeStats
		}
	}

	writeJSON(w, stats)
}

// handleLLMStats implements the /stats/llm endpoint
func (h *HTTPServer) handleLLMStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if h.deps.LLM == nil {
		http.Error(w, "LLM client not configured", http.StatusServiceUnavailable)
		return
	}

	writeJSON(w, h.deps.LLM.GetStats())
}

// handleRoot implements the / endpoint with API documentation
func (h *HTTPServer) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	apiDoc := map[string]any{
		"service": "NPCL Asterisk ARI Assistant",
		"version": "1.0.0",
		"endpoints": map[string]any{
			"GET /":                      "API documentation",
			"GET /health":                "Service health check",
			"GET /sessions":              "List live call sessions",
			"GET /sessions/{session_id}": "Get live session detail with transcript",
			"GET /calls":                 "List persisted calls, newest first",
			"GET /calls/{call_id}":       "Get a persisted call with its transcript",
			"GET /languages":             "List supported conversation languages",
			"GET /config":                "Get service configuration",
			"GET /stats":                 "Get service statistics",
			"GET /stats/llm":             "Get language model statistics",
			"GET /metrics":               "Prometheus metrics",
		},
		"timestamp": time.Now().UTC(),
	}

	writeJSON(w, apiDoc)
}
